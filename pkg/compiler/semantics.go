package compiler

import (
	"strings"
)

// Validate checks the optimized instruction stream against the declaration
// table and function signatures, returning the first violation. Nothing is
// repaired or aggregated.
//
// Validation is scope-aware and runs in two phases. Writes to undeclared
// names create inferred mutable declarations (a plain MOV to a fresh name
// is how top-level storage comes into being), and because function bodies
// execute at call time rather than in textual order, inference over the
// whole stream happens before any read is checked.
func Validate(prog *Program) error {
	view := newDeclView(prog.Decls)
	inferDecls(prog, view)
	v := &validator{prog: prog, view: view, lastClosed: DEDENT}
	return v.run()
}

// inferDecls walks every write target and records a declaration for names
// that do not resolve. The first write wins; later conflicting writes are
// the checking phase's problem.
func inferDecls(prog *Program, view *declView) {
	var w scopeWalker
	for _, in := range prog.Instrs {
		w.step(in)
		scope := w.fn
		switch in.Op {
		case MOV:
			if _, typed := sourceTypes[in.Operands[0]]; typed {
				continue // declared at lex time
			}
			inferWrite(view, scope, in.Operands[0], inferExprType(view, scope, in.Operands[1]), in.Line)
		case ADD, SUB, MUL, DIV, MOD:
			ta := view.operandType(scope, in.Operands[0])
			tb := view.operandType(scope, in.Operands[1])
			inferWrite(view, scope, in.Operands[2], arithResult(in.Op, ta, tb), in.Line)
		case CALL:
			ret := in.Operands[len(in.Operands)-1]
			if ret == "_" {
				continue
			}
			sig, ok := prog.Funcs[in.Operands[0]]
			if !ok || sig.Ret == TypeUnknown {
				continue
			}
			inferWrite(view, scope, ret, sig.Ret, in.Line)
		case READ:
			inferWrite(view, scope, in.Operands[2], sourceTypes[in.Operands[0]], in.Line)
		case POP:
			d, ok := view.resolve(scope, in.Operands[0])
			if !ok || d.Type != TypeArray {
				continue
			}
			inferWrite(view, scope, in.Operands[1], d.Elem, in.Line)
		case LEN:
			inferWrite(view, scope, in.Operands[1], TypeInt, in.Line)
		case PTR:
			inferWrite(view, scope, in.Operands[0], TypePtr, in.Line)
		case FOR:
			inferWrite(view, scope, in.Operands[0], TypeInt, in.Line)
		}
	}
}

// inferWrite records a declaration for a write target that is storage
// shaped and does not already resolve.
func inferWrite(view *declView, scope, dest string, t Type, line int) {
	name, ok := storageName(dest)
	if !ok || name != dest {
		return
	}
	if _, ok := view.resolve(scope, name); !ok {
		view.infer(scope, name, t, TypeUnknown, line)
	}
}

// inferExprType classifies the right-hand side of a plain MOV. Anything
// not inferable from a single token defaults to double.
func inferExprType(view *declView, scope, expr string) Type {
	fields := tokenize(expr)
	if len(fields) != 1 {
		return TypeDouble
	}
	if t := view.operandType(scope, fields[0]); t != TypeUnknown {
		return t
	}
	return TypeDouble
}

type validator struct {
	prog *Program
	view *declView
	w    scopeWalker

	sig     *FuncSig // function being walked, nil at top level
	retSeen bool

	blocks     []Opcode // opener kinds of the open blocks
	lastOp     Opcode
	lastClosed Opcode // opener of the block a DEDENT just closed; DEDENT when none
	labels     map[string]map[string]bool
}

func (v *validator) fail(code Code, line int, format string, args ...any) error {
	return errorf(code, v.prog.Path, line, format, args...)
}

func (v *validator) run() error {
	v.labels = make(map[string]map[string]bool)
	for _, in := range v.prog.Instrs {
		prevFn := v.w.fn
		v.w.step(in)
		if err := v.check(in, prevFn); err != nil {
			return err
		}
		if in.Op != DEDENT {
			v.lastClosed = DEDENT
		}
		v.lastOp = in.Op
	}
	return nil
}

func (v *validator) check(in Instr, prevFn string) error {
	scope := v.w.fn
	switch in.Op {
	case INDENT:
		v.blocks = append(v.blocks, v.lastOp)
	case DEDENT:
		if n := len(v.blocks); n > 0 {
			v.lastClosed = v.blocks[n-1]
			v.blocks = v.blocks[:n-1]
		}
		if prevFn != "" && v.w.fn == "" {
			sig := v.prog.Funcs[prevFn]
			if sig != nil && sig.Ret != TypeUnknown && !v.retSeen {
				return v.fail(MissingReturn, sig.Line, "function %q declares a %s return but never returns a value", sig.Name, sig.Ret)
			}
			v.sig = nil
		}
	case FNDEF:
		v.sig = v.prog.Funcs[in.Operands[0]]
		v.retSeen = false
		if v.sig != nil && v.sig.Name == "main" {
			if len(v.sig.Params) > 0 {
				return v.fail(InvalidSyntax, in.Line, "main takes no parameters")
			}
			if v.sig.Ret != TypeUnknown && v.sig.Ret != TypeInt {
				return v.fail(InvalidSyntax, in.Line, "main must return int or nothing")
			}
		}
	case MOV:
		return v.checkMov(scope, in)
	case CONST:
		return v.checkInit(scope, in, sourceTypes[in.Operands[0]], in.Operands[2])
	case ADD, SUB, MUL, DIV, MOD:
		return v.checkArith(scope, in)
	case INC, DEC:
		target := in.Operands[0]
		d, ok := v.view.resolve(scope, target)
		if !ok {
			return v.fail(UndefinedSymbol, in.Line, "undefined variable %q", target)
		}
		if d.Const {
			return v.fail(InvalidOperation, in.Line, "cannot modify constant %q (declared at line %d)", target, d.Line)
		}
		if !d.Type.numeric() {
			return v.fail(TypeError, in.Line, "%s requires a numeric variable, %q is %s", in.Op, target, d.Type)
		}
	case IF, WHILE:
		return v.checkCondition(scope, in)
	case ELIF:
		if v.lastClosed != IF && v.lastClosed != ELIF {
			return v.fail(InvalidSyntax, in.Line, "ELIF without a preceding IF block")
		}
		return v.checkCondition(scope, in)
	case ELSE:
		if v.lastClosed != IF && v.lastClosed != ELIF {
			return v.fail(InvalidSyntax, in.Line, "ELSE without a preceding IF block")
		}
	case FOR:
		return v.checkFor(scope, in)
	case CALL:
		return v.checkCall(scope, in)
	case RET:
		return v.checkRet(scope, in)
	case PRINT:
		return v.checkPrint(scope, in)
	case PRINTSTR:
		tok := in.Operands[0]
		if isQuoted(tok) {
			return nil
		}
		if t := literalType(tok); t != TypeUnknown && t != TypeString {
			return v.fail(TypeError, in.Line, "PRINTSTR expects a string, got %q", tok)
		}
		d, ok := v.view.resolve(scope, tok)
		if !ok {
			return v.fail(UndefinedSymbol, in.Line, "undefined variable %q", tok)
		}
		if d.Type != TypeString {
			return v.fail(TypeError, in.Line, "PRINTSTR expects a string, %q is %s", tok, d.Type)
		}
	case READ:
		return v.checkWrite(scope, in.Operands[2], sourceTypes[in.Operands[0]], in.Line, "READ")
	case ARR:
		elem := sourceTypes[in.Operands[0]]
		for _, e := range in.Operands[2:] {
			if err := v.checkValue(scope, e, elem, in.Line); err != nil {
				return err
			}
		}
	case PUSH:
		d, err := v.checkArray(scope, in.Operands[0], in.Line, "PUSH")
		if err != nil {
			return err
		}
		return v.checkValue(scope, in.Operands[1], d.Elem, in.Line)
	case POP:
		d, err := v.checkArray(scope, in.Operands[0], in.Line, "POP")
		if err != nil {
			return err
		}
		return v.checkWrite(scope, in.Operands[1], d.Elem, in.Line, "POP")
	case LEN:
		if _, err := v.checkArray(scope, in.Operands[0], in.Line, "LEN"); err != nil {
			return err
		}
		return v.checkWrite(scope, in.Operands[1], TypeInt, in.Line, "LEN")
	case PTR:
		src := in.Operands[1]
		if _, ok := v.view.resolve(scope, src); !ok {
			return v.fail(UndefinedSymbol, in.Line, "undefined variable %q", src)
		}
		return v.checkWrite(scope, in.Operands[0], TypePtr, in.Line, "PTR")
	case LABEL:
		name := in.Operands[0]
		if v.labels[scope] == nil {
			v.labels[scope] = make(map[string]bool)
		}
		if v.labels[scope][name] {
			return v.fail(RedefinedSymbol, in.Line, "label %q already defined", name)
		}
		v.labels[scope][name] = true
	case ERROR:
		// message and optional code carry no names to resolve
	}
	return nil
}

// checkRead requires every storage identifier in expr to resolve,
// including names inside glued comparison tokens like "x>5".
func (v *validator) checkRead(scope, expr string, line int) error {
	for _, f := range tokenize(expr) {
		f = strings.TrimSuffix(f, ":")
		if isQuoted(f) {
			continue
		}
		for _, frag := range splitGlued(f) {
			name, ok := storageName(frag)
			if !ok {
				continue
			}
			if _, ok := v.view.resolve(scope, name); !ok {
				return v.fail(UndefinedSymbol, line, "undefined variable %q", name)
			}
		}
	}
	return nil
}

// checkWrite enforces const immutability and type agreement on a write
// target receiving a value of type src.
func (v *validator) checkWrite(scope, dest string, src Type, line int, op string) error {
	if !isIdent(dest) {
		return v.fail(InvalidOperand, line, "invalid %s destination %q", op, dest)
	}
	d, ok := v.view.resolve(scope, dest)
	if !ok {
		return v.fail(UndefinedSymbol, line, "undefined variable %q", dest)
	}
	if d.Const {
		return v.fail(InvalidOperation, line, "cannot assign to constant %q (declared at line %d)", dest, d.Line)
	}
	if src != TypeUnknown && !assignable(src, d.Type) {
		return v.fail(TypeMismatch, line, "cannot assign %s to %s variable %q", src, d.Type, dest)
	}
	return nil
}

// checkValue requires a single value token to resolve and to be
// assignable to want. The null literal is accepted for string and ptr.
func (v *validator) checkValue(scope, tok string, want Type, line int) error {
	if tok == "null" {
		if want == TypeString || want == TypePtr {
			return nil
		}
		return v.fail(TypeMismatch, line, "cannot assign null to %s", want)
	}
	if name, ok := storageName(tok); ok {
		if _, ok := v.view.resolve(scope, name); !ok {
			return v.fail(UndefinedSymbol, line, "undefined variable %q", name)
		}
	}
	if literalNarrows(tok, want) {
		return nil
	}
	if t := v.view.operandType(scope, tok); t != TypeUnknown && !assignable(t, want) {
		return v.fail(TypeMismatch, line, "cannot assign %s to %s", t, want)
	}
	return nil
}

func (v *validator) checkMov(scope string, in Instr) error {
	if t, typed := sourceTypes[in.Operands[0]]; typed {
		if len(in.Operands) == 3 {
			return v.checkInit(scope, in, t, in.Operands[2])
		}
		return nil // uninitialized declaration defaults by type
	}
	dest, expr := in.Operands[0], in.Operands[1]
	if err := v.checkRead(scope, expr, in.Line); err != nil {
		return err
	}
	d, ok := v.view.resolve(scope, dest)
	if !ok {
		// inference covers every plain-MOV target up front
		return v.fail(UndefinedSymbol, in.Line, "undefined variable %q", dest)
	}
	if d.Const {
		return v.fail(InvalidOperation, in.Line, "cannot assign to constant %q (declared at line %d)", dest, d.Line)
	}
	return v.checkExprAssign(scope, expr, d.Type, in.Line)
}

// checkInit validates a typed MOV or CONST initializer against the
// declared type.
func (v *validator) checkInit(scope string, in Instr, t Type, expr string) error {
	if err := v.checkRead(scope, expr, in.Line); err != nil {
		return err
	}
	return v.checkExprAssign(scope, expr, t, in.Line)
}

// checkExprAssign type-checks expr against the destination type when the
// expression is a single inferable token. Multi-token expressions are
// rendered as-is by the generator and only get identifier resolution.
func (v *validator) checkExprAssign(scope, expr string, dst Type, line int) error {
	fields := tokenize(expr)
	if len(fields) != 1 {
		return nil
	}
	tok := fields[0]
	if tok == "null" {
		if dst == TypeString || dst == TypePtr {
			return nil
		}
		return v.fail(TypeMismatch, line, "cannot assign null to %s", dst)
	}
	if literalNarrows(tok, dst) {
		return nil
	}
	src := v.view.operandType(scope, tok)
	if src == TypeUnknown {
		return nil
	}
	if src == TypeArray || dst == TypeArray {
		if src != dst {
			return v.fail(TypeMismatch, line, "cannot assign %s to %s", src, dst)
		}
		return nil
	}
	if !assignable(src, dst) {
		return v.fail(TypeMismatch, line, "cannot assign %s to %s", src, dst)
	}
	return nil
}

func (v *validator) checkArith(scope string, in Instr) error {
	for _, tok := range in.Operands[:2] {
		if !isNumber(tok) && !isIdent(tok) {
			return v.fail(InvalidOperand, in.Line, "invalid %s operand %q", in.Op, tok)
		}
		if name, ok := storageName(tok); ok {
			if _, ok := v.view.resolve(scope, name); !ok {
				return v.fail(UndefinedSymbol, in.Line, "undefined variable %q", name)
			}
		}
		t := v.view.operandType(scope, tok)
		if t == TypeArray {
			return v.fail(TypeError, in.Line, "array %q cannot be used in arithmetic", tok)
		}
		if t != TypeUnknown && !t.numeric() {
			return v.fail(TypeError, in.Line, "%s requires numeric operands, %q is %s", in.Op, tok, t)
		}
	}
	dest := in.Operands[2]
	ta := v.view.operandType(scope, in.Operands[0])
	tb := v.view.operandType(scope, in.Operands[1])
	return v.checkWrite(scope, dest, arithResult(in.Op, ta, tb), in.Line, in.Op.String())
}

func (v *validator) checkCondition(scope string, in Instr) error {
	for _, tok := range in.Operands {
		if err := v.checkRead(scope, tok, in.Line); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) checkFor(scope string, in Instr) error {
	for _, bound := range []string{in.Operands[1], in.Operands[3]} {
		if name, ok := storageName(bound); ok {
			d, ok := v.view.resolve(scope, name)
			if !ok {
				return v.fail(UndefinedSymbol, in.Line, "undefined variable %q", name)
			}
			if d.Type != TypeInt {
				return v.fail(TypeMismatch, in.Line, "FOR bounds must be int, %q is %s", name, d.Type)
			}
			continue
		}
		if !isIntShaped(bound) {
			return v.fail(TypeMismatch, in.Line, "FOR bounds must be int, got %q", bound)
		}
	}
	return v.checkWrite(scope, in.Operands[0], TypeInt, in.Line, "FOR")
}

func (v *validator) checkCall(scope string, in Instr) error {
	fname := in.Operands[0]
	args := in.Operands[1 : len(in.Operands)-1]
	ret := in.Operands[len(in.Operands)-1]

	sig, ok := v.prog.Funcs[fname]
	if !ok {
		return v.fail(UndefinedSymbol, in.Line, "undefined function %q", fname)
	}
	if len(args) != len(sig.Params) {
		return v.fail(InvalidOperand, in.Line, "function %q expects %d arguments, got %d", fname, len(sig.Params), len(args))
	}
	for i, arg := range args {
		if err := v.checkValue(scope, arg, sig.Params[i].Type, in.Line); err != nil {
			return err
		}
	}
	if ret == "_" {
		return nil
	}
	if sig.Ret == TypeUnknown {
		return v.fail(TypeError, in.Line, "function %q returns no value", fname)
	}
	return v.checkWrite(scope, ret, sig.Ret, in.Line, "CALL")
}

func (v *validator) checkRet(scope string, in Instr) error {
	if v.sig == nil {
		return v.fail(InvalidSyntax, in.Line, "RET outside of a function")
	}
	if len(in.Operands) == 0 {
		if v.sig.Ret != TypeUnknown {
			return v.fail(TypeError, in.Line, "function %q must return a %s value", v.sig.Name, v.sig.Ret)
		}
		return nil
	}
	if v.sig.Ret == TypeUnknown {
		return v.fail(TypeError, in.Line, "function %q does not return a value", v.sig.Name)
	}
	expr := in.Operands[0]
	if err := v.checkRead(scope, expr, in.Line); err != nil {
		return err
	}
	if err := v.checkExprAssign(scope, expr, v.sig.Ret, in.Line); err != nil {
		return err
	}
	v.retSeen = true
	return nil
}

// checkArray resolves an array operand, rejecting const mutation and
// non-array names.
func (v *validator) checkArray(scope, name string, line int, op string) (Decl, error) {
	if !isIdent(name) {
		return Decl{}, v.fail(InvalidOperand, line, "invalid %s target %q", op, name)
	}
	d, ok := v.view.resolve(scope, name)
	if !ok {
		return Decl{}, v.fail(UndefinedSymbol, line, "undefined variable %q", name)
	}
	if d.Type != TypeArray {
		return Decl{}, v.fail(TypeError, line, "%s target %q is not an array", op, name)
	}
	if (op == "PUSH" || op == "POP") && d.Const {
		return Decl{}, v.fail(InvalidOperation, line, "cannot modify constant %q (declared at line %d)", name, d.Line)
	}
	return d, nil
}

func (v *validator) checkPrint(scope string, in Instr) error {
	tok := in.Operands[0]
	if literalType(tok) != TypeUnknown {
		return nil
	}
	name, ok := storageName(tok)
	if !ok {
		return v.fail(InvalidOperand, in.Line, "PRINT expects a variable or literal, got %q", tok)
	}
	if _, ok := v.view.resolve(scope, name); !ok {
		return v.fail(UndefinedSymbol, in.Line, "undefined variable %q", name)
	}
	return nil
}
