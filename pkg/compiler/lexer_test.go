package compiler

import (
	"errors"
	"reflect"
	"testing"
)

func TestLex(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Instr
	}{
		{
			name:     "Empty",
			input:    "",
			expected: nil,
		},
		{
			name:  "Typed Declaration",
			input: "MOV int x 5",
			expected: []Instr{
				{Op: MOV, Operands: []string{"int", "x", "5"}, Line: 1},
			},
		},
		{
			name:  "Typed Declaration Without Initializer",
			input: "MOV double d",
			expected: []Instr{
				{Op: MOV, Operands: []string{"double", "d"}, Line: 1},
			},
		},
		{
			name:  "Plain Reassignment Joins Expression",
			input: "MOV int x 1\nMOV x x + 2",
			expected: []Instr{
				{Op: MOV, Operands: []string{"int", "x", "1"}, Line: 1},
				{Op: MOV, Operands: []string{"x", "x + 2"}, Line: 2},
			},
		},
		{
			name:  "Lowercase Mnemonics",
			input: "mov int x 5\nprint x",
			expected: []Instr{
				{Op: MOV, Operands: []string{"int", "x", "5"}, Line: 1},
				{Op: PRINT, Operands: []string{"x"}, Line: 2},
			},
		},
		{
			name:  "Const Declaration",
			input: "CONST int limit 10",
			expected: []Instr{
				{Op: CONST, Operands: []string{"int", "limit", "10"}, Line: 1},
			},
		},
		{
			name:  "Arithmetic",
			input: "MOV int a 1\nMOV int b 2\nADD a b c",
			expected: []Instr{
				{Op: MOV, Operands: []string{"int", "a", "1"}, Line: 1},
				{Op: MOV, Operands: []string{"int", "b", "2"}, Line: 2},
				{Op: ADD, Operands: []string{"a", "b", "c"}, Line: 3},
			},
		},
		{
			name:  "Block Structure",
			input: "MOV int x 5\nIF x > 1:\n    PRINT x\nPRINT x",
			expected: []Instr{
				{Op: MOV, Operands: []string{"int", "x", "5"}, Line: 1},
				{Op: IF, Operands: []string{"x", ">", "1:"}, Line: 2},
				{Op: INDENT, Line: 3},
				{Op: PRINT, Operands: []string{"x"}, Line: 3},
				{Op: DEDENT, Line: 4},
				{Op: PRINT, Operands: []string{"x"}, Line: 4},
			},
		},
		{
			name:  "Blocks Closed At EOF",
			input: "MOV int x 3\nWHILE x > 0:\n    DEC x",
			expected: []Instr{
				{Op: MOV, Operands: []string{"int", "x", "3"}, Line: 1},
				{Op: WHILE, Operands: []string{"x", ">", "0:"}, Line: 2},
				{Op: INDENT, Line: 3},
				{Op: DEC, Operands: []string{"x"}, Line: 3},
				{Op: DEDENT, Line: 3},
			},
		},
		{
			name:  "Tabs Count As Four Spaces",
			input: "IF x:\n\tPRINT x",
			expected: []Instr{
				{Op: IF, Operands: []string{"x:"}, Line: 1},
				{Op: INDENT, Line: 2},
				{Op: PRINT, Operands: []string{"x"}, Line: 2},
				{Op: DEDENT, Line: 2},
			},
		},
		{
			name:  "Function Definition",
			input: "FN add(int a, int b) -> int:\n    ADD a b sum\n    RET sum",
			expected: []Instr{
				{Op: FNDEF, Operands: []string{"add", "int", "a", "int", "b", "int"}, Line: 1},
				{Op: INDENT, Line: 2},
				{Op: ADD, Operands: []string{"a", "b", "sum"}, Line: 2},
				{Op: RET, Operands: []string{"sum"}, Line: 3},
				{Op: DEDENT, Line: 3},
			},
		},
		{
			name:  "Void Function Without Parens",
			input: "FN greet:\n    PRINTSTR \"hi\"",
			expected: []Instr{
				{Op: FNDEF, Operands: []string{"greet"}, Line: 1},
				{Op: INDENT, Line: 2},
				{Op: PRINTSTR, Operands: []string{"\"hi\""}, Line: 2},
				{Op: DEDENT, Line: 2},
			},
		},
		{
			name:  "Call With Arrow Destination",
			input: "FN f -> int:\n    RET 1\nCALL f() -> r",
			expected: []Instr{
				{Op: FNDEF, Operands: []string{"f", "int"}, Line: 1},
				{Op: INDENT, Line: 2},
				{Op: RET, Operands: []string{"1"}, Line: 2},
				{Op: DEDENT, Line: 3},
				{Op: CALL, Operands: []string{"f", "r"}, Line: 3},
			},
		},
		{
			name:  "Call With Trailing Destination",
			input: "FN f(int n) -> int:\n    RET n\nCALL f(4) r",
			expected: []Instr{
				{Op: FNDEF, Operands: []string{"f", "int", "n", "int"}, Line: 1},
				{Op: INDENT, Line: 2},
				{Op: RET, Operands: []string{"n"}, Line: 2},
				{Op: DEDENT, Line: 3},
				{Op: CALL, Operands: []string{"f", "4", "r"}, Line: 3},
			},
		},
		{
			name:  "Call Discarding Return",
			input: "FN ping:\n    PRINT 1\nCALL ping()",
			expected: []Instr{
				{Op: FNDEF, Operands: []string{"ping"}, Line: 1},
				{Op: INDENT, Line: 2},
				{Op: PRINT, Operands: []string{"1"}, Line: 2},
				{Op: DEDENT, Line: 3},
				{Op: CALL, Operands: []string{"ping", "_"}, Line: 3},
			},
		},
		{
			name:  "For Range Compact",
			input: "FOR i 0..9:\n    PRINT i",
			expected: []Instr{
				{Op: FOR, Operands: []string{"i", "0", "..", "9"}, Line: 1},
				{Op: INDENT, Line: 2},
				{Op: PRINT, Operands: []string{"i"}, Line: 2},
				{Op: DEDENT, Line: 2},
			},
		},
		{
			name:  "For Range Spaced",
			input: "FOR i 1 .. 3:\n    PRINT i",
			expected: []Instr{
				{Op: FOR, Operands: []string{"i", "1", "..", "3"}, Line: 1},
				{Op: INDENT, Line: 2},
				{Op: PRINT, Operands: []string{"i"}, Line: 2},
				{Op: DEDENT, Line: 2},
			},
		},
		{
			name:  "Array Declaration",
			input: "ARR int nums 1 2 3",
			expected: []Instr{
				{Op: ARR, Operands: []string{"int", "nums", "1", "2", "3"}, Line: 1},
			},
		},
		{
			name:  "Label",
			input: "loop_start:\nMOV int x 1",
			expected: []Instr{
				{Op: LABEL, Operands: []string{"loop_start"}, Line: 1},
				{Op: MOV, Operands: []string{"int", "x", "1"}, Line: 2},
			},
		},
		{
			name:  "Comments And Blank Lines",
			input: "// header\nMOV int x 5 // trailing\n\nPRINT x",
			expected: []Instr{
				{Op: MOV, Operands: []string{"int", "x", "5"}, Line: 2},
				{Op: PRINT, Operands: []string{"x"}, Line: 4},
			},
		},
		{
			name:  "Slashes Inside Strings Are Not Comments",
			input: "PRINTSTR \"http://example\"",
			expected: []Instr{
				{Op: PRINTSTR, Operands: []string{"\"http://example\""}, Line: 1},
			},
		},
		{
			name:  "Read With Spaced Prompt",
			input: "READ int \"Enter n: \" n",
			expected: []Instr{
				{Op: READ, Operands: []string{"int", "\"Enter n: \"", "n"}, Line: 1},
			},
		},
		{
			name:  "Error Statement With Code",
			input: "ERROR 45 \"sensor failure\"",
			expected: []Instr{
				{Op: ERROR, Operands: []string{"45", "\"sensor failure\""}, Line: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Lex(tt.input, "test.z")
			if err != nil {
				t.Fatalf("Lex() error = %v", err)
			}
			if !reflect.DeepEqual(prog.Instrs, tt.expected) {
				t.Errorf("Lex() = %v, want %v", prog.Instrs, tt.expected)
			}
		})
	}
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  Code
	}{
		{"Unknown Opcode", "FROBNICATE x", UnknownOpcode},
		{"Invalid UTF8", "MOV int x 5\xff", InvalidFileFormat},
		{"Missing Block", "IF x > 1:\nPRINT x", SyntaxError},
		{"Missing Block At EOF", "WHILE x > 0:", SyntaxError},
		{"Unexpected Indent", "MOV int x 5\n    PRINT x", SyntaxError},
		{"Inconsistent Dedent", "IF x:\n        PRINT x\n    PRINT x", SyntaxError},
		{"Mov Without Type", "MOV x", SyntaxError},
		{"Mov Redeclaration", "MOV int x 1\nMOV int x 2", RedefinedSymbol},
		{"Mov Reserved Main", "MOV int main 1", InvalidOperand},
		{"Const Without Initializer", "CONST int x", MissingToken},
		{"Const Without Type", "CONST x 5", SyntaxError},
		{"Capitalized Boolean", "MOV bool b True", SyntaxError},
		{"Arith Arity", "ADD a b", InvalidOperand},
		{"If Without Condition", "IF:", InvalidCondition},
		{"Else With Condition", "IF x:\n    PRINT x\nELSE x:", InvalidCondition},
		{"For Without Range", "FOR i:", InvalidSyntax},
		{"For Bad Counter", "FOR 1 0..9:", InvalidOperand},
		{"Function Not Top Level", "IF x:\n    FN f:\n        RET", InvalidSyntax},
		{"Function Untyped Parameter", "FN f(n):\n    RET", SyntaxError},
		{"Function Unknown Return Type", "FN f -> quux:\n    RET", InvalidType},
		{"Function Redefined", "FN f:\n    RET\nFN f:\n    RET", RedefinedSymbol},
		{"Function Duplicate Parameter", "FN f(int n, int n):\n    RET", RedefinedSymbol},
		{"Call Unbalanced Parens", "CALL f(1", SyntaxError},
		{"Call Invalid Destination", "CALL f() -> 9", InvalidOperand},
		{"Read Bool", "READ bool \"p\" b", InvalidType},
		{"Read Unquoted Prompt", "READ int prompt n", MissingToken},
		{"Error Without Message", "ERROR", MissingToken},
		{"Arr Unknown Element Type", "ARR quux xs", InvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Lex(tt.input, "test.z")
			if err == nil {
				t.Fatalf("Lex() succeeded, want error code %v", tt.code)
			}
			var ce *Error
			if !errors.As(err, &ce) {
				t.Fatalf("Lex() error = %v, want *Error", err)
			}
			if ce.Code != tt.code {
				t.Errorf("Lex() error code = %v, want %v (%v)", ce.Code, tt.code, err)
			}
		})
	}
}

func TestLexProgramTables(t *testing.T) {
	src := `CONST int limit 10
MOV int x 1
ARR int nums 1 2
FN add(int a, int b) -> int:
    ADD a b sum
    RET sum
start:
CALL add(x, 2) -> r`

	prog, err := Lex(src, "test.z")
	if err != nil {
		t.Fatalf("Lex() error = %v", err)
	}

	if sig := prog.Funcs["add"]; sig == nil || sig.Ret != TypeInt || len(sig.Params) != 2 {
		t.Errorf("Funcs[add] = %+v, want 2 int params returning int", prog.Funcs["add"])
	}
	if d, ok := prog.Decls.Lookup("", "limit"); !ok || !d.Const || d.Type != TypeInt {
		t.Errorf("limit decl = %+v, %v, want const int", d, ok)
	}
	if d, ok := prog.Decls.Lookup("", "nums"); !ok || d.Type != TypeArray || d.Elem != TypeInt {
		t.Errorf("nums decl = %+v, %v, want int array", d, ok)
	}
	if d, ok := prog.Decls.Lookup("add", "a"); !ok || d.Type != TypeInt {
		t.Errorf("param a decl = %+v, %v, want int", d, ok)
	}
	if !prog.Labels["start"] {
		t.Errorf("Labels = %v, want start", prog.Labels)
	}
	for _, name := range []string{"x", "sum", "r"} {
		if !prog.Vars[name] {
			t.Errorf("Vars missing %q: %v", name, prog.Vars)
		}
	}
	if prog.Vars["limit"] == false {
		// consts are storage too
		t.Errorf("Vars missing limit: %v", prog.Vars)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{`MOV string s "hello world"`, []string{"MOV", "string", "s", `"hello world"`}},
		{`PRINT x`, []string{"PRINT", "x"}},
		{`IF x > 1:`, []string{"IF", "x", ">", "1:"}},
		{`  spaced   out  `, []string{"spaced", "out"}},
		{`READ int "Enter: " n`, []string{"READ", "int", `"Enter: "`, "n"}},
	}
	for _, tt := range tests {
		if got := tokenize(tt.input); !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("tokenize(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestStorageName(t *testing.T) {
	tests := []struct {
		tok  string
		name string
		ok   bool
	}{
		{"x", "x", true},
		{"nums[3]", "nums", true},
		{"_tmp9", "_tmp9", true},
		{"42", "", false},
		{"-1.5", "", false},
		{`"str"`, "", false},
		{"true", "", false},
		{"null", "", false},
		{"int", "", false},
		{"AND", "", false},
		{"label:", "", false},
		{"f(x)", "", false},
		{"main", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		name, ok := storageName(tt.tok)
		if name != tt.name || ok != tt.ok {
			t.Errorf("storageName(%q) = %q, %v, want %q, %v", tt.tok, name, ok, tt.name, tt.ok)
		}
	}
}
