package compiler

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed rt/runtime.c
var runtimePreamble string

// Generate renders a validated program as one C translation unit.
func Generate(prog *Program) (string, error) {
	return newCodeGen(prog).generate()
}

// CodeGen walks the instruction stream and emits C source text. Function
// bodies are emitted as they are walked; executable statements at the top
// level are collected and replayed inside a synthesized C main so nothing
// runnable ends up at file scope.
type CodeGen struct {
	prog  *Program
	view  *declView
	names *sanitizer

	funcs      strings.Builder
	prelude    []string // global array setup, runs before the main body
	body       []string // remaining top-level statements
	fnIndent   int
	mainIndent int
	w          scopeWalker
	constInit  map[string]string // const globals carrying a literal inline
}

func newCodeGen(prog *Program) *CodeGen {
	cg := &CodeGen{
		prog:      prog,
		view:      newDeclView(prog.Decls),
		names:     newSanitizer(),
		constInit: make(map[string]string),
	}
	inferDecls(prog, cg.view)
	return cg
}

func (cg *CodeGen) generate() (string, error) {
	cg.collectConstInits()
	for _, in := range cg.prog.Instrs {
		prevFn := cg.w.fn
		cg.w.step(in)
		if err := cg.emit(in, prevFn); err != nil {
			return "", err
		}
	}
	var out strings.Builder
	out.WriteString(runtimePreamble)
	out.WriteByte('\n')
	cg.writePrototypes(&out)
	cg.writeGlobals(&out)
	out.WriteString(cg.funcs.String())
	cg.writeMain(&out)
	return out.String(), nil
}

func (cg *CodeGen) bug(line int, format string, args ...any) error {
	return errorf(InternalError, cg.prog.Path, line, "generator: "+format, args...)
}

// stmt appends one C statement line to the current emission context: the
// open function body, or the synthesized main when at top level.
func (cg *CodeGen) stmt(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if cg.w.fn != "" {
		cg.funcs.WriteString(strings.Repeat("    ", cg.fnIndent))
		cg.funcs.WriteString(line)
		cg.funcs.WriteByte('\n')
		return
	}
	cg.body = append(cg.body, strings.Repeat("    ", cg.mainIndent)+line)
}

func (cg *CodeGen) openBlock() {
	if cg.w.fn != "" {
		cg.fnIndent++
	} else {
		cg.mainIndent++
	}
}

// collectConstInits records top-level consts whose initializer is a single
// literal; those carry the value on the global declaration itself.
func (cg *CodeGen) collectConstInits() {
	var w scopeWalker
	depth := 0
	for _, in := range cg.prog.Instrs {
		prevFn := w.fn
		w.step(in)
		switch in.Op {
		case INDENT:
			if w.fn == "" {
				depth++
			}
		case DEDENT:
			if prevFn == "" {
				depth--
			}
		case CONST:
			if w.fn != "" || depth != 0 {
				continue // conditional or local init happens in place
			}
			toks := tokenize(in.Operands[2])
			if len(toks) != 1 || literalType(toks[0]) == TypeUnknown {
				continue
			}
			lit := toks[0]
			if lit == "null" {
				lit = "NULL"
			}
			cg.constInit[in.Operands[1]] = lit
		}
	}
}

func (cg *CodeGen) writePrototypes(out *strings.Builder) {
	sigs := make([]*FuncSig, 0, len(cg.prog.Funcs))
	for _, s := range cg.prog.Funcs {
		sigs = append(sigs, s)
	}
	if len(sigs) == 0 {
		return
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Line < sigs[j].Line })
	for _, s := range sigs {
		out.WriteString(cg.signature(s))
		out.WriteString(";\n")
	}
	out.WriteByte('\n')
}

func (cg *CodeGen) writeGlobals(out *strings.Builder) {
	names := cg.view.globalNames()
	wrote := false
	for _, name := range names {
		if _, isFn := cg.prog.Funcs[name]; isFn {
			continue // the function owns the symbol
		}
		d, ok := cg.view.resolve("", name)
		if !ok {
			continue
		}
		cn := cg.names.clean(name)
		if lit, inline := cg.constInit[name]; inline && d.Const {
			if d.Type == TypeFloat && isNumber(lit) && !isIntShaped(lit) {
				lit += "f"
			}
			if d.Type == TypeString {
				fmt.Fprintf(out, "const char *const %s = %s;\n", cn, lit)
			} else {
				fmt.Fprintf(out, "const %s = %s;\n", cdecl(d.Type, cn), lit)
			}
			wrote = true
			continue
		}
		fmt.Fprintf(out, "%s = %s;\n", cdecl(d.Type, cn), czero(d.Type))
		wrote = true
	}
	if wrote {
		out.WriteByte('\n')
	}
}

func (cg *CodeGen) writeMain(out *strings.Builder) {
	out.WriteString("int main(void) {\n")
	for _, l := range cg.prelude {
		out.WriteString("    ")
		out.WriteString(l)
		out.WriteByte('\n')
	}
	for _, l := range cg.body {
		out.WriteString("    ")
		out.WriteString(l)
		out.WriteByte('\n')
	}
	if sig, ok := cg.prog.Funcs["main"]; ok && sig.Ret == TypeInt {
		out.WriteString("    return z_main();\n")
	} else if ok {
		out.WriteString("    z_main();\n")
		out.WriteString("    return 0;\n")
	} else {
		out.WriteString("    return 0;\n")
	}
	out.WriteString("}\n")
}

func (cg *CodeGen) emit(in Instr, prevFn string) error {
	scope := cg.w.fn
	switch in.Op {
	case INDENT:
		// braces come from the opener
	case DEDENT:
		switch {
		case prevFn != "" && cg.w.fn == "":
			cg.funcs.WriteString("}\n\n")
			cg.fnIndent = 0
		case prevFn != "":
			cg.fnIndent--
			cg.stmt("}")
		default:
			cg.mainIndent--
			cg.stmt("}")
		}
	case FNDEF:
		sig := cg.prog.Funcs[in.Operands[0]]
		if sig == nil {
			return cg.bug(in.Line, "unknown function %q", in.Operands[0])
		}
		cg.fnIndent = 0
		cg.stmt("%s {", cg.signature(sig))
		cg.fnIndent = 1
		cg.emitLocals(sig)
	case MOV:
		if _, typed := sourceTypes[in.Operands[0]]; typed {
			if len(in.Operands) == 3 {
				cg.stmt("%s = %s;", cg.names.clean(in.Operands[1]), cg.expr(in.Operands[2]))
			}
			// uninitialized declarations keep their zero value
		} else {
			cg.stmt("%s = %s;", cg.names.clean(in.Operands[0]), cg.expr(in.Operands[1]))
		}
	case CONST:
		name := in.Operands[1]
		if scope == "" {
			if _, inline := cg.constInit[name]; inline {
				return nil // initializer already on the declaration
			}
		}
		cg.stmt("%s = %s;", cg.names.clean(name), cg.expr(in.Operands[2]))
	case ADD, SUB, MUL, DIV, MOD:
		return cg.emitArith(scope, in)
	case INC:
		cg.stmt("%s++;", cg.names.clean(in.Operands[0]))
	case DEC:
		cg.stmt("%s--;", cg.names.clean(in.Operands[0]))
	case IF:
		cg.stmt("if (%s) {", cg.condition(in.Operands))
		cg.openBlock()
	case ELIF:
		cg.stmt("else if (%s) {", cg.condition(in.Operands))
		cg.openBlock()
	case ELSE:
		cg.stmt("else {")
		cg.openBlock()
	case WHILE:
		cg.stmt("while (%s) {", cg.condition(in.Operands))
		cg.openBlock()
	case FOR:
		v := cg.names.clean(in.Operands[0])
		cg.stmt("for (%s = %s; %s <= %s; %s++) {", v, cg.rvalue(in.Operands[1]), v, cg.rvalue(in.Operands[3]), v)
		cg.openBlock()
	case CALL:
		args := in.Operands[1 : len(in.Operands)-1]
		ret := in.Operands[len(in.Operands)-1]
		rendered := make([]string, len(args))
		for i, a := range args {
			rendered[i] = cg.rvalue(a)
		}
		call := fmt.Sprintf("%s(%s)", cg.fnName(in.Operands[0]), strings.Join(rendered, ", "))
		if ret == "_" {
			cg.stmt("%s;", call)
		} else {
			cg.stmt("%s = %s;", cg.names.clean(ret), call)
		}
	case RET:
		if len(in.Operands) == 0 {
			cg.stmt("return;")
		} else {
			cg.stmt("return %s;", cg.expr(in.Operands[0]))
		}
	case PRINT:
		return cg.emitPrint(scope, in)
	case PRINTSTR:
		cg.stmt("print_str(%s);", cg.rvalue(in.Operands[0]))
	case READ:
		dest := cg.names.clean(in.Operands[2])
		prompt := in.Operands[1]
		switch sourceTypes[in.Operands[0]] {
		case TypeInt:
			cg.stmt("%s = read_int(%s);", dest, prompt)
		case TypeFloat:
			cg.stmt("%s = (float)read_double(%s);", dest, prompt)
		case TypeDouble:
			cg.stmt("%s = read_double(%s);", dest, prompt)
		case TypeString:
			cg.stmt("%s = read_str(%s);", dest, prompt)
		}
	case ARR:
		return cg.emitArr(scope, in)
	case PUSH:
		d, ok := cg.view.resolve(scope, in.Operands[0])
		if !ok || d.Type != TypeArray {
			return cg.bug(in.Line, "PUSH target %q is not an array", in.Operands[0])
		}
		for _, l := range pushLines(d.Elem, cg.names.clean(in.Operands[0]), cg.rvalue(in.Operands[1]), in.Line) {
			cg.stmt("%s", l)
		}
	case POP:
		d, ok := cg.view.resolve(scope, in.Operands[0])
		if !ok || d.Type != TypeArray {
			return cg.bug(in.Line, "POP target %q is not an array", in.Operands[0])
		}
		arr := cg.names.clean(in.Operands[0])
		tmp := fmt.Sprintf("z_elem_%d", in.Line)
		cg.stmt("{")
		cg.stmt("    %s;", cdecl(d.Elem, tmp))
		cg.stmt("    z_arr_pop(&%s, &%s);", arr, tmp)
		cg.stmt("    %s = %s;", cg.names.clean(in.Operands[1]), tmp)
		cg.stmt("}")
	case LEN:
		cg.stmt("%s = (int)z_arr_len(&%s);", cg.names.clean(in.Operands[1]), cg.names.clean(in.Operands[0]))
	case PTR:
		cg.stmt("%s = (void *)&%s;", cg.names.clean(in.Operands[0]), cg.names.clean(in.Operands[1]))
	case LABEL:
		cg.stmt("%s:;", cg.names.clean(in.Operands[0]))
	case ERROR:
		cg.emitError(in)
	}
	return nil
}

// emitLocals pre-declares every declared and inferred local zero-valued at
// function entry, so later statements only ever assign.
func (cg *CodeGen) emitLocals(sig *FuncSig) {
	params := make(map[string]bool, len(sig.Params))
	for _, p := range sig.Params {
		params[p.Name] = true
	}
	wrote := false
	for _, n := range cg.view.scopeNames(sig.Name) {
		if params[n] {
			continue
		}
		d, ok := cg.view.resolve(sig.Name, n)
		if !ok {
			continue
		}
		cg.stmt("%s = %s;", cdecl(d.Type, cg.names.clean(n)), czero(d.Type))
		wrote = true
	}
	if wrote {
		cg.funcs.WriteByte('\n')
	}
}

func (cg *CodeGen) emitArith(scope string, in Instr) error {
	a, b := cg.rvalue(in.Operands[0]), cg.rvalue(in.Operands[1])
	d, ok := cg.view.resolve(scope, in.Operands[2])
	if !ok {
		return cg.bug(in.Line, "unresolved %s destination %q", in.Op, in.Operands[2])
	}
	dest := cg.names.clean(in.Operands[2])
	switch in.Op {
	case DIV:
		cg.stmt("%s = (double)%s / %s;", dest, a, b)
	case MOD:
		if d.Type == TypeInt {
			cg.stmt("%s = %s %% %s;", dest, a, b)
		} else {
			cg.stmt("%s = fmod(%s, %s);", dest, a, b)
		}
	default:
		if d.Type == TypeInt {
			acc := fmt.Sprintf("z_acc_%d", in.Line)
			cg.stmt("{")
			cg.stmt("    long long %s = (long long)%s %s (long long)%s;", acc, a, cOp(in.Op), b)
			cg.stmt("    if (%s > INT_MAX || %s < INT_MIN) {", acc, acc)
			cg.stmt(`        error_exit(45, "integer overflow in %s at line %d");`, in.Op, in.Line)
			cg.stmt("    }")
			cg.stmt("    %s = (int)%s;", dest, acc)
			cg.stmt("}")
		} else {
			cg.stmt("%s = %s %s %s;", dest, a, cOp(in.Op), b)
		}
	}
	return nil
}

func (cg *CodeGen) emitPrint(scope string, in Instr) error {
	tok := in.Operands[0]
	switch {
	case isQuoted(tok):
		cg.stmt("print_str(%s);", tok)
		return nil
	case tok == "true" || tok == "false":
		cg.stmt("print_bool(%s);", tok)
		return nil
	case tok == "null":
		cg.stmt("print_ptr(NULL);")
		return nil
	case isNumber(tok):
		if isIntShaped(tok) {
			cg.stmt("print_int(%s);", tok)
		} else {
			cg.stmt("print_double(%s);", tok)
		}
		return nil
	}
	d, ok := cg.view.resolve(scope, tok)
	if !ok {
		return cg.bug(in.Line, "unresolved PRINT operand %q", tok)
	}
	name := cg.names.clean(tok)
	switch d.Type {
	case TypeInt:
		cg.stmt("print_int(%s);", name)
	case TypeBool:
		cg.stmt("print_bool(%s);", name)
	case TypeString:
		cg.stmt("print_str(%s);", name)
	case TypePtr:
		cg.stmt("print_ptr(%s);", name)
	case TypeArray:
		cg.stmt("z_arr_print(&%s);", name)
	default:
		cg.stmt("print_double(%s);", name)
	}
	return nil
}

func (cg *CodeGen) emitArr(scope string, in Instr) error {
	elem := sourceTypes[in.Operands[0]]
	name := cg.names.clean(in.Operands[1])
	create := fmt.Sprintf("%s = z_arr_create(sizeof(%s), %s);", name, ctype(elem), ckind(elem))
	// Only the create call is hoisted: it reads no variables, while initial
	// elements may, so the pushes keep their statement order.
	if scope == "" && cg.mainIndent == 0 {
		cg.prelude = append(cg.prelude, create)
	} else {
		cg.stmt("%s", create)
	}
	for _, e := range in.Operands[2:] {
		for _, l := range pushLines(elem, name, cg.rvalue(e), in.Line) {
			cg.stmt("%s", l)
		}
	}
	return nil
}

// pushLines renders one braced element push; the temporary gives the value
// an addressable slot of the element type.
func pushLines(elem Type, arr, val string, line int) []string {
	tmp := fmt.Sprintf("z_elem_%d", line)
	return []string{
		"{",
		fmt.Sprintf("    %s = %s;", cdecl(elem, tmp), val),
		fmt.Sprintf("    z_arr_push(&%s, &%s);", arr, tmp),
		"}",
	}
}

func (cg *CodeGen) emitError(in Instr) {
	code := int(RuntimeError)
	toks := in.Operands
	if len(toks) > 0 && isIntShaped(toks[0]) {
		if n, err := strconv.Atoi(toks[0]); err == nil {
			code = n
			toks = toks[1:]
		}
	}
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		parts = append(parts, strings.Trim(t, `"`))
	}
	cg.stmt("error_exit(%d, %s);", code, strconv.Quote(strings.Join(parts, " ")))
}

// signature renders a C function signature; the entry point becomes z_main
// so the synthesized C main owns the entry symbol.
func (cg *CodeGen) signature(sig *FuncSig) string {
	ret := "void"
	if sig.Ret != TypeUnknown {
		ret = ctype(sig.Ret)
	}
	params := "void"
	if len(sig.Params) > 0 {
		parts := make([]string, len(sig.Params))
		for i, p := range sig.Params {
			parts[i] = cdecl(p.Type, cg.names.clean(p.Name))
		}
		params = strings.Join(parts, ", ")
	}
	name := cg.fnName(sig.Name)
	if strings.HasSuffix(ret, "*") {
		return fmt.Sprintf("%s%s(%s)", ret, name, params)
	}
	return fmt.Sprintf("%s %s(%s)", ret, name, params)
}

func (cg *CodeGen) fnName(name string) string {
	if name == "main" {
		return "z_main"
	}
	return cg.names.clean(name)
}

// rvalue renders one operand token as C: literals pass through, logical
// keywords map to C operators, identifiers are sanitized.
func (cg *CodeGen) rvalue(tok string) string {
	switch {
	case tok == "AND":
		return "&&"
	case tok == "OR":
		return "||"
	case tok == "NOT":
		return "!"
	case tok == "null":
		return "NULL"
	case tok == "true" || tok == "false":
		return tok
	case isQuoted(tok):
		return tok
	case isNumber(tok):
		return tok
	case isIdent(tok):
		return cg.names.clean(tok)
	}
	if parts := splitGlued(tok); len(parts) > 1 {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(cg.rvalue(p))
		}
		return b.String()
	}
	return tok
}

// expr renders a joined expression operand token-wise.
func (cg *CodeGen) expr(raw string) string {
	toks := tokenize(raw)
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = cg.rvalue(t)
	}
	return strings.Join(parts, " ")
}

// condition renders IF/ELIF/WHILE operand tokens, dropping the trailing
// colon the lexer leaves in place.
func (cg *CodeGen) condition(operands []string) string {
	toks := append([]string(nil), operands...)
	if n := len(toks); n > 0 {
		toks[n-1] = strings.TrimSuffix(toks[n-1], ":")
		if toks[n-1] == "" {
			toks = toks[:n-1]
		}
	}
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = cg.rvalue(t)
	}
	return strings.Join(parts, " ")
}

func cOp(op Opcode) string {
	switch op {
	case ADD:
		return "+"
	case SUB:
		return "-"
	case MUL:
		return "*"
	case DIV:
		return "/"
	case MOD:
		return "%"
	}
	return "+"
}

func ctype(t Type) string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeBool:
		return "bool"
	case TypeString:
		return "const char *"
	case TypePtr:
		return "void *"
	case TypeArray:
		return "ZArray"
	}
	return "double"
}

func czero(t Type) string {
	switch t {
	case TypeInt:
		return "0"
	case TypeFloat:
		return "0.0f"
	case TypeDouble:
		return "0.0"
	case TypeBool:
		return "false"
	case TypeString, TypePtr:
		return "NULL"
	case TypeArray:
		return "{NULL, 0, 0, 0, 0}"
	}
	return "0.0"
}

func ckind(t Type) string {
	switch t {
	case TypeFloat:
		return "Z_KIND_FLOAT"
	case TypeDouble:
		return "Z_KIND_DOUBLE"
	case TypeBool:
		return "Z_KIND_BOOL"
	case TypeString:
		return "Z_KIND_STRING"
	}
	return "Z_KIND_INT"
}

// cdecl joins a C type and a name, keeping pointer stars attached.
func cdecl(t Type, name string) string {
	ct := ctype(t)
	if strings.HasSuffix(ct, "*") {
		return ct + name
	}
	return ct + " " + name
}
