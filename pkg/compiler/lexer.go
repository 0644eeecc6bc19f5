package compiler

import (
	"strings"
	"unicode/utf8"
)

// Program is the lexer's complete output, consumed by every later stage.
// Instrs and Decls are immutable once Lex returns; the optimizer builds a
// fresh Program rather than mutating this one.
type Program struct {
	Instrs []Instr
	Vars   map[string]bool // identifiers requiring storage
	Decls  *DeclTable
	Funcs  map[string]*FuncSig
	Labels map[string]bool
	Path   string
}

// registrationSkip lists operand tokens that never denote storage.
var registrationSkip = map[string]bool{
	"int": true, "float": true, "double": true, "string": true, "bool": true,
	"from": true, "to": true, "..": true, "mut": true, "const": true,
	"true": true, "false": true, "null": true,
	"AND": true, "OR": true, "NOT": true,
}

type lexer struct {
	path    string
	prog    *Program
	indents []int
	scope   scopeWalker
	// set after a block opener; the next significant line must indent
	wantBlock bool
	lastLine  int
}

// Lex parses ZLang source text into the flattened instruction stream plus
// the variable set and declaration table. It halts at the first error.
func Lex(src, path string) (*Program, error) {
	if !utf8.ValidString(src) {
		return nil, errorf(InvalidFileFormat, path, 0, "only UTF-8 sources are supported")
	}
	l := &lexer{
		path: path,
		prog: &Program{
			Vars:   make(map[string]bool),
			Decls:  NewDeclTable(),
			Funcs:  make(map[string]*FuncSig),
			Labels: make(map[string]bool),
			Path:   path,
		},
		indents: []int{0},
	}
	for i, raw := range strings.Split(src, "\n") {
		if err := l.scanLine(strings.TrimSuffix(raw, "\r"), i+1); err != nil {
			return nil, err
		}
	}
	if l.wantBlock {
		return nil, errorf(SyntaxError, path, l.lastLine, "expected an indented block")
	}
	// Close every block still open at end of file.
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(Instr{Op: DEDENT, Line: l.lastLine})
	}
	return l.prog, nil
}

func (l *lexer) emit(in Instr) {
	l.scope.step(in)
	l.prog.Instrs = append(l.prog.Instrs, in)
}

func (l *lexer) fail(code Code, line int, format string, args ...any) error {
	return errorf(code, l.path, line, format, args...)
}

func (l *lexer) scanLine(raw string, line int) error {
	// Tabs count as 4 spaces for indentation purposes.
	normalized := strings.ReplaceAll(raw, "\t", "    ")
	trimmed := strings.TrimSpace(normalized)
	if trimmed == "" || strings.HasPrefix(trimmed, "//") {
		return nil
	}
	l.lastLine = line

	indent := len(normalized) - len(strings.TrimLeft(normalized, " "))
	if err := l.applyIndent(indent, line); err != nil {
		return err
	}

	stripped := stripComment(trimmed)
	tokens := tokenize(stripped)
	if len(tokens) == 0 {
		return nil
	}

	opTok := strings.ToUpper(tokens[0])
	// A block keyword may carry the trailing colon itself ("ELSE:").
	if base := strings.TrimSuffix(opTok, ":"); base != opTok {
		if bop, ok := opcodes[base]; ok && bop.opensBlock() {
			opTok = base
			tokens[0] = tokens[0][:len(tokens[0])-1]
		}
	}

	if opTok == "FN" {
		return l.scanFunction(stripped, line)
	}

	op, known := opcodes[opTok]
	if !known {
		if len(tokens) == 1 && strings.HasSuffix(tokens[0], ":") {
			return l.scanLabel(tokens[0], line)
		}
		return l.fail(UnknownOpcode, line, "unknown opcode %q", tokens[0])
	}

	operands := tokens[1:]
	for _, t := range operands {
		if t == "True" || t == "False" {
			return l.fail(SyntaxError, line, "invalid boolean literal %q, use lowercase true or false", t)
		}
	}

	switch op {
	case MOV:
		return l.scanMov(operands, line)
	case CONST:
		return l.scanConst(operands, line)
	case ARR:
		return l.scanArr(operands, line)
	case CALL:
		return l.scanCall(operands, line)
	case FOR:
		return l.scanFor(operands, line)
	case IF, ELIF, WHILE:
		if len(operands) == 0 {
			return l.fail(InvalidCondition, line, "%s requires a condition", op)
		}
		l.emitStmt(op, operands, line)
		l.wantBlock = true
		return nil
	case ELSE:
		if len(operands) > 0 {
			return l.fail(InvalidCondition, line, "ELSE takes no condition")
		}
		l.emit(Instr{Op: ELSE, Line: line})
		l.wantBlock = true
		return nil
	case ADD, SUB, MUL, DIV, MOD:
		if len(operands) != 3 {
			return l.fail(InvalidOperand, line, "%s expects three operands: %s a b dest", op, op)
		}
	case INC, DEC, PRINT, PRINTSTR:
		if len(operands) != 1 {
			return l.fail(InvalidOperand, line, "%s expects one operand", op)
		}
	case PUSH, POP, LEN, PTR:
		if len(operands) != 2 {
			return l.fail(InvalidOperand, line, "%s expects two operands", op)
		}
	case RET:
		if len(operands) > 1 {
			return l.fail(InvalidOperand, line, "RET takes at most one value")
		}
	case READ:
		return l.scanRead(operands, line)
	case ERROR:
		if len(operands) == 0 {
			return l.fail(MissingToken, line, "ERROR requires a message")
		}
		l.emit(Instr{Op: ERROR, Operands: operands, Line: line})
		return nil
	}

	l.emitStmt(op, operands, line)
	return nil
}

// applyIndent emits INDENT/DEDENT markers for the change from the previous
// line's level, enforcing block structure.
func (l *lexer) applyIndent(indent, line int) error {
	top := l.indents[len(l.indents)-1]
	opened := l.wantBlock
	if l.wantBlock {
		if indent <= top {
			return l.fail(SyntaxError, line, "expected an indented block")
		}
		l.wantBlock = false
	}
	switch {
	case indent > top:
		if !opened {
			return l.fail(SyntaxError, line, "unexpected indent")
		}
		l.indents = append(l.indents, indent)
		l.emit(Instr{Op: INDENT, Line: line})
	case indent < top:
		for indent < l.indents[len(l.indents)-1] {
			l.indents = l.indents[:len(l.indents)-1]
			l.emit(Instr{Op: DEDENT, Line: line})
		}
		if indent != l.indents[len(l.indents)-1] {
			return l.fail(SyntaxError, line, "inconsistent indentation")
		}
	}
	return nil
}

// emitStmt appends a normalized instruction and registers its storage
// identifiers.
func (l *lexer) emitStmt(op Opcode, operands []string, line int) {
	for _, operand := range operands {
		// Joined expressions carry spaces; register each field.
		for _, tok := range strings.Fields(operand) {
			l.registerVar(tok)
		}
	}
	l.emit(Instr{Op: op, Operands: operands, Line: line})
}

// registerVar adds tok to the variable set when it denotes storage.
func (l *lexer) registerVar(tok string) {
	if name, ok := storageName(tok); ok {
		l.prog.Vars[name] = true
	}
}

// storageName reports whether tok is an identifier-shaped storage
// reference, as opposed to a literal, keyword, label, or parenthesized
// fragment, and returns the bare name.
func storageName(tok string) (string, bool) {
	if i := strings.IndexByte(tok, '['); i >= 0 && strings.Contains(tok, "]") {
		tok = tok[:i]
	}
	switch {
	case tok == "" || strings.HasSuffix(tok, ":"):
	case registrationSkip[tok]:
	case isQuoted(tok):
	case strings.ContainsAny(tok, "()"):
	case isNumber(tok):
	case tok == "main":
	case isIdent(tok):
		return tok, true
	}
	return "", false
}

func (l *lexer) scanLabel(tok string, line int) error {
	name := strings.TrimSuffix(tok, ":")
	if !isIdent(name) {
		return l.fail(UnknownOpcode, line, "unknown opcode %q", tok)
	}
	l.prog.Labels[name] = true
	l.emit(Instr{Op: LABEL, Operands: []string{name}, Line: line})
	return nil
}

// scanFunction parses "FN name(params) [-> type]:" headers. Functions may
// only be defined at the top level.
func (l *lexer) scanFunction(stripped string, line int) error {
	if len(l.indents) > 1 || l.scope.fn != "" {
		return l.fail(InvalidSyntax, line, "function definitions must be at top level")
	}
	header := strings.TrimSpace(stripped[len("FN"):])
	header = strings.TrimSuffix(header, ":")

	ret := TypeUnknown
	retName := ""
	if at := strings.Index(header, "->"); at >= 0 {
		retName = strings.TrimSpace(header[at+2:])
		header = strings.TrimSpace(header[:at])
		t, ok := sourceTypes[retName]
		if !ok {
			return l.fail(InvalidType, line, "unknown return type %q", retName)
		}
		ret = t
	}

	name := strings.TrimSpace(header)
	var params []Param
	if open := strings.IndexByte(header, '('); open >= 0 {
		closing := strings.LastIndexByte(header, ')')
		if closing < open {
			return l.fail(SyntaxError, line, "unbalanced parentheses in function definition")
		}
		name = strings.TrimSpace(header[:open])
		for _, p := range strings.Split(header[open+1:closing], ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			parts := strings.Fields(p)
			if len(parts) != 2 {
				return l.fail(SyntaxError, line, "function parameter %q requires an explicit type (e.g. int n)", p)
			}
			ptype, ok := sourceTypes[parts[0]]
			if !ok || !isIdent(parts[1]) {
				return l.fail(SyntaxError, line, "function parameter %q requires an explicit type (e.g. int n)", p)
			}
			params = append(params, Param{Type: ptype, Name: parts[1]})
		}
	}
	if !isIdent(name) {
		return l.fail(SyntaxError, line, "invalid function name %q", name)
	}
	if _, dup := l.prog.Funcs[name]; dup {
		return l.fail(RedefinedSymbol, line, "function %q already defined", name)
	}

	l.prog.Funcs[name] = &FuncSig{Name: name, Params: params, Ret: ret, Line: line}
	operands := []string{name}
	for _, p := range params {
		if !l.prog.Decls.Declare(name, p.Name, Decl{Type: p.Type, Line: line}) {
			return l.fail(RedefinedSymbol, line, "duplicate parameter %q in function %q", p.Name, name)
		}
		operands = append(operands, p.Type.String(), p.Name)
	}
	if ret != TypeUnknown {
		operands = append(operands, retName)
	}
	l.emit(Instr{Op: FNDEF, Operands: operands, Line: line})
	l.wantBlock = true
	return nil
}

// scanCall normalizes "CALL f(args) [-> dest | dest]" into one CALL whose
// final operand is the destination, "_" when the return is discarded.
func (l *lexer) scanCall(operands []string, line int) error {
	joined := strings.Join(operands, " ")

	depth := 0
	for _, r := range joined {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return l.fail(SyntaxError, line, "unbalanced parentheses in CALL")
			}
		}
	}
	if depth != 0 {
		return l.fail(SyntaxError, line, "unbalanced parentheses in CALL")
	}

	callExpr := joined
	retVar := ""
	if at := strings.Index(joined, "->"); at >= 0 {
		callExpr = strings.TrimSpace(joined[:at])
		retVar = strings.TrimSpace(joined[at+2:])
	} else if closing := strings.IndexByte(joined, ')'); closing >= 0 {
		callExpr = joined[:closing+1]
		retVar = strings.TrimSpace(joined[closing+1:])
	}
	if retVar == "" {
		retVar = "_"
	}
	if retVar != "_" && !isIdent(retVar) {
		return l.fail(InvalidOperand, line, "invalid CALL destination %q", retVar)
	}

	fname := strings.TrimSpace(callExpr)
	var args []string
	if open := strings.IndexByte(callExpr, '('); open >= 0 {
		if !strings.HasSuffix(strings.TrimSpace(callExpr), ")") {
			return l.fail(SyntaxError, line, "malformed CALL expression %q", callExpr)
		}
		fname = strings.TrimSpace(callExpr[:open])
		inner := strings.TrimSpace(callExpr[open+1 : strings.LastIndexByte(callExpr, ')')])
		if inner != "" {
			for _, a := range strings.Split(inner, ",") {
				args = append(args, strings.TrimSpace(a))
			}
		}
	}
	if !isIdent(fname) {
		return l.fail(SyntaxError, line, "invalid CALL target %q", fname)
	}

	for _, a := range args {
		l.registerVar(a)
	}
	if retVar != "_" {
		l.registerVar(retVar)
	}
	normalized := append([]string{fname}, args...)
	normalized = append(normalized, retVar)
	l.emit(Instr{Op: CALL, Operands: normalized, Line: line})
	return nil
}

// scanFor normalizes both "FOR i 0..9:" and "FOR i 0 .. 9:" to four
// operands [var, start, "..", end].
func (l *lexer) scanFor(operands []string, line int) error {
	if len(operands) > 0 {
		last := operands[len(operands)-1]
		operands[len(operands)-1] = strings.TrimSuffix(last, ":")
	}
	if len(operands) == 2 && strings.Contains(operands[1], "..") {
		parts := strings.SplitN(operands[1], "..", 2)
		operands = []string{operands[0], parts[0], "..", parts[1]}
	}
	if len(operands) != 4 || operands[2] != ".." || operands[1] == "" || operands[3] == "" {
		return l.fail(InvalidSyntax, line, "FOR expects a range: FOR var start..end")
	}
	if !isIdent(operands[0]) {
		return l.fail(InvalidOperand, line, "invalid FOR counter %q", operands[0])
	}
	l.emitStmt(FOR, operands, line)
	l.wantBlock = true
	return nil
}

// scanMov handles both declaration ("MOV type dest [expr]") and plain
// reassignment ("MOV dest expr") forms.
func (l *lexer) scanMov(operands []string, line int) error {
	if len(operands) > 0 {
		if t, typed := sourceTypes[operands[0]]; typed {
			if len(operands) < 2 {
				return l.fail(MissingToken, line, "missing destination for MOV")
			}
			dest := operands[1]
			if !isIdent(dest) {
				return l.fail(InvalidOperand, line, "invalid MOV destination %q", dest)
			}
			if dest == "main" {
				return l.fail(InvalidOperand, line, "%q is reserved for the entry point", dest)
			}
			if !l.prog.Decls.Declare(l.scope.fn, dest, Decl{Type: t, Line: line}) {
				return l.fail(RedefinedSymbol, line, "variable %q already declared in this scope", dest)
			}
			normalized := []string{operands[0], dest}
			if expr := strings.Join(operands[2:], " "); expr != "" {
				normalized = append(normalized, expr)
			}
			l.emitStmt(MOV, normalized, line)
			return nil
		}
	}
	if len(operands) >= 2 {
		dest := operands[0]
		if !isIdent(dest) {
			return l.fail(InvalidOperand, line, "invalid MOV destination %q", dest)
		}
		l.emitStmt(MOV, []string{dest, strings.Join(operands[1:], " ")}, line)
		return nil
	}
	return l.fail(SyntaxError, line, "MOV requires an explicit type declaration (e.g. MOV int x 5)")
}

// scanConst handles "CONST type dest expr"; the initializer is mandatory.
func (l *lexer) scanConst(operands []string, line int) error {
	if len(operands) == 0 {
		return l.fail(SyntaxError, line, "CONST requires an explicit type declaration (e.g. CONST int x 5)")
	}
	t, typed := sourceTypes[operands[0]]
	if !typed {
		return l.fail(SyntaxError, line, "CONST requires an explicit type declaration (e.g. CONST int x 5)")
	}
	if len(operands) < 2 {
		return l.fail(MissingToken, line, "missing destination for CONST")
	}
	dest := operands[1]
	if !isIdent(dest) {
		return l.fail(InvalidOperand, line, "invalid CONST destination %q", dest)
	}
	if dest == "main" {
		return l.fail(InvalidOperand, line, "%q is reserved for the entry point", dest)
	}
	expr := strings.Join(operands[2:], " ")
	if expr == "" {
		return l.fail(MissingToken, line, "CONST %q requires an initializer", dest)
	}
	if !l.prog.Decls.Declare(l.scope.fn, dest, Decl{Const: true, Type: t, Line: line}) {
		return l.fail(RedefinedSymbol, line, "variable %q already declared in this scope", dest)
	}
	l.emitStmt(CONST, []string{operands[0], dest, expr}, line)
	return nil
}

// scanArr handles "ARR elemtype name [elems...]".
func (l *lexer) scanArr(operands []string, line int) error {
	if len(operands) < 2 {
		return l.fail(SyntaxError, line, "ARR expects: ARR elemtype name [elements...]")
	}
	elem, typed := sourceTypes[operands[0]]
	if !typed {
		return l.fail(InvalidType, line, "unknown array element type %q", operands[0])
	}
	name := operands[1]
	if !isIdent(name) {
		return l.fail(InvalidOperand, line, "invalid array name %q", name)
	}
	if name == "main" {
		return l.fail(InvalidOperand, line, "%q is reserved for the entry point", name)
	}
	if !l.prog.Decls.Declare(l.scope.fn, name, Decl{Type: TypeArray, Elem: elem, Line: line}) {
		return l.fail(RedefinedSymbol, line, "variable %q already declared in this scope", name)
	}
	l.emitStmt(ARR, operands, line)
	return nil
}

// scanRead handles "READ type "prompt" dest". bool is not readable.
func (l *lexer) scanRead(operands []string, line int) error {
	if len(operands) != 3 {
		return l.fail(InvalidOperand, line, "READ expects: READ type \"prompt\" dest")
	}
	t, ok := sourceTypes[operands[0]]
	if !ok || t == TypeBool {
		return l.fail(InvalidType, line, "READ type must be int, float, double or string")
	}
	if !isQuoted(operands[1]) {
		return l.fail(MissingToken, line, "READ requires a quoted prompt")
	}
	if !isIdent(operands[2]) {
		return l.fail(InvalidOperand, line, "invalid READ destination %q", operands[2])
	}
	l.emitStmt(READ, operands, line)
	return nil
}

// stripComment removes a trailing // comment, ignoring any // inside a
// double-quoted string.
func stripComment(line string) string {
	inStr := false
	for i := 0; i+1 < len(line); i++ {
		switch line[i] {
		case '"':
			inStr = !inStr
		case '/':
			if !inStr && line[i+1] == '/' {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return line
}

// tokenize splits a line into tokens, keeping double-quoted strings whole.
func tokenize(line string) []string {
	var toks []string
	i := 0
	for i < len(line) {
		switch {
		case line[i] == ' ' || line[i] == '\t':
			i++
		case line[i] == '"':
			j := i + 1
			for j < len(line) && line[j] != '"' {
				j++
			}
			if j < len(line) {
				j++
			}
			toks = append(toks, line[i:j])
			i = j
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' && line[j] != '"' {
				j++
			}
			toks = append(toks, line[i:j])
			i = j
		}
	}
	return toks
}
