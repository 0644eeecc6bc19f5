package compiler

import "sort"

// Decl describes one declared storage location.
type Decl struct {
	Const bool
	Type  Type
	Elem  Type // element type when Type == TypeArray
	Line  int
}

// DeclTable holds declarations keyed by (scope, name) as a two-level map:
// one global table plus one table per function. It is built once by the
// lexer and never mutated afterward; later stages layer transient inferred
// declarations on top via declView.
type DeclTable struct {
	globals map[string]Decl
	funcs   map[string]map[string]Decl
}

func NewDeclTable() *DeclTable {
	return &DeclTable{
		globals: make(map[string]Decl),
		funcs:   make(map[string]map[string]Decl),
	}
}

// Declare records a declaration in scope ("" is global). It reports false
// when the name is already declared in that exact scope.
func (t *DeclTable) Declare(scope, name string, d Decl) bool {
	if scope == "" {
		if _, dup := t.globals[name]; dup {
			return false
		}
		t.globals[name] = d
		return true
	}
	m := t.funcs[scope]
	if m == nil {
		m = make(map[string]Decl)
		t.funcs[scope] = m
	}
	if _, dup := m[name]; dup {
		return false
	}
	m[name] = d
	return true
}

// Lookup resolves name from scope: the enclosing function first, then the
// global table.
func (t *DeclTable) Lookup(scope, name string) (Decl, bool) {
	if scope != "" {
		if d, ok := t.funcs[scope][name]; ok {
			return d, true
		}
	}
	d, ok := t.globals[name]
	return d, ok
}

// LookupExact resolves name in scope only, with no global fallback.
func (t *DeclTable) LookupExact(scope, name string) (Decl, bool) {
	if scope == "" {
		d, ok := t.globals[name]
		return d, ok
	}
	d, ok := t.funcs[scope][name]
	return d, ok
}

// GlobalNames returns the globally declared names in sorted order.
func (t *DeclTable) GlobalNames() []string {
	names := make([]string, 0, len(t.globals))
	for name := range t.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScopeNames returns the names declared in a function scope, sorted.
func (t *DeclTable) ScopeNames(fn string) []string {
	names := make([]string, 0, len(t.funcs[fn]))
	for name := range t.funcs[fn] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Param is one typed function parameter.
type Param struct {
	Type Type
	Name string
}

// FuncSig is a function signature. Ret is TypeUnknown for functions that
// return nothing.
type FuncSig struct {
	Name   string
	Params []Param
	Ret    Type
	Line   int
}

// scopeWalker tracks the enclosing function while iterating an instruction
// stream. FNDEF switches scope and resets nesting; the scope ends when
// nesting returns to depth 0. Call step before handling each instruction.
type scopeWalker struct {
	fn    string // "" at global scope
	depth int
}

func (w *scopeWalker) step(in Instr) {
	switch in.Op {
	case FNDEF:
		if len(in.Operands) > 0 {
			w.fn = in.Operands[0]
		}
		w.depth = 0
	case INDENT:
		if w.fn != "" {
			w.depth++
		}
	case DEDENT:
		if w.fn != "" {
			w.depth--
			if w.depth <= 0 {
				w.fn = ""
				w.depth = 0
			}
		}
	}
}

// declView layers run-scoped inferred declarations over the immutable
// lexer table. The validator and the generator each own one view; the
// underlying DeclTable is shared and never written.
type declView struct {
	base *DeclTable
	inf  *DeclTable
}

func newDeclView(base *DeclTable) *declView {
	return &declView{base: base, inf: NewDeclTable()}
}

// resolve looks name up from scope: local declared, local inferred, global
// declared, global inferred.
func (v *declView) resolve(scope, name string) (Decl, bool) {
	if scope != "" {
		if d, ok := v.base.LookupExact(scope, name); ok {
			return d, true
		}
		if d, ok := v.inf.LookupExact(scope, name); ok {
			return d, true
		}
	}
	if d, ok := v.base.LookupExact("", name); ok {
		return d, true
	}
	d, ok := v.inf.LookupExact("", name)
	return d, ok
}

// infer records an inferred mutable declaration for a write target that
// did not resolve. Inferred declarations land in the writing scope.
func (v *declView) infer(scope, name string, t, elem Type, line int) {
	v.inf.Declare(scope, name, Decl{Type: t, Elem: elem, Line: line})
}

// scopeNames returns declared-plus-inferred names for a scope, sorted.
func (v *declView) scopeNames(fn string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range v.base.ScopeNames(fn) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, n := range v.inf.ScopeNames(fn) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// globalNames returns declared-plus-inferred global names, sorted.
func (v *declView) globalNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range v.base.GlobalNames() {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, n := range v.inf.GlobalNames() {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// operandType types a single operand token: literals by shape, identifiers
// by resolution, TypeUnknown otherwise.
func (v *declView) operandType(scope, tok string) Type {
	if t := literalType(tok); t != TypeUnknown {
		return t
	}
	if d, ok := v.resolve(scope, tok); ok {
		return d.Type
	}
	return TypeUnknown
}

// arithResult infers the destination type of an arithmetic instruction.
// Division always produces double; bool operands arithmetize as int;
// unknown operands default to double.
func arithResult(op Opcode, a, b Type) Type {
	if op == DIV {
		return TypeDouble
	}
	if a == TypeBool {
		a = TypeInt
	}
	if b == TypeBool {
		b = TypeInt
	}
	switch {
	case a == TypeDouble || b == TypeDouble:
		return TypeDouble
	case a == TypeFloat || b == TypeFloat:
		return TypeFloat
	case a == TypeInt && b == TypeInt:
		return TypeInt
	}
	return TypeDouble
}

// assignable reports whether a value of type src may be stored in a
// destination of type dst: exact match or numeric widening. The null
// sentinel is handled at the check sites, not here.
func assignable(src, dst Type) bool {
	if src == dst {
		return true
	}
	switch {
	case src == TypeInt && (dst == TypeFloat || dst == TypeDouble):
		return true
	case src == TypeFloat && dst == TypeDouble:
		return true
	}
	return false
}

// literalNarrows reports whether tok is an unsuffixed fractional literal
// feeding a float destination. Such literals classify as double by shape
// but carry no precision commitment, so they initialize floats too.
func literalNarrows(tok string, dst Type) bool {
	return dst == TypeFloat && literalType(tok) == TypeDouble
}

// cKeywords lists C reserved words that source identifiers may not map to
// verbatim.
var cKeywords = map[string]bool{
	"auto": true, "break": true, "case": true, "char": true, "const": true,
	"continue": true, "default": true, "do": true, "double": true,
	"else": true, "enum": true, "extern": true, "float": true, "for": true,
	"goto": true, "if": true, "inline": true, "int": true, "long": true,
	"register": true, "restrict": true, "return": true, "short": true,
	"signed": true, "sizeof": true, "static": true, "struct": true,
	"switch": true, "typedef": true, "union": true, "unsigned": true,
	"void": true, "volatile": true, "while": true,
}

// sanitizer rewrites source identifiers into valid, non-reserved C
// identifiers. Results are memoized for the lifetime of one generator run.
type sanitizer struct {
	cache map[string]string
}

func newSanitizer() *sanitizer {
	return &sanitizer{cache: make(map[string]string)}
}

func (s *sanitizer) clean(name string) string {
	if c, ok := s.cache[name]; ok {
		return c
	}
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch == '_',
			ch >= 'a' && ch <= 'z',
			ch >= 'A' && ch <= 'Z',
			ch >= '0' && ch <= '9':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	cleaned := string(out)
	if cKeywords[cleaned] {
		cleaned = "z_" + cleaned
	}
	s.cache[name] = cleaned
	return cleaned
}
