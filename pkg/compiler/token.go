package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Opcode identifies one instruction of the flattened stream.
type Opcode int

const (
	MOV Opcode = iota // declaration (typed) or plain reassignment
	CONST             // immutable declaration, initializer required

	// Arithmetic: a b dest
	ADD
	SUB
	MUL
	DIV
	MOD
	INC // x
	DEC // x

	// Control flow
	IF
	ELIF
	ELSE
	WHILE
	FOR // var a .. b (inclusive)

	CALL // f arg... dest ("_" discards)
	RET

	PRINT
	PRINTSTR
	READ // type "prompt" dest

	// Dynamic arrays
	ARR  // elemtype name [elems...]
	PUSH // arr value
	POP  // arr dest
	LEN  // arr dest

	PTR   // dest src: dest = &src
	ERROR // [code] "message..."

	FNDEF // name type1 name1 ... [rettype]; synthesized from FN headers

	// Structural markers, no operands
	INDENT
	DEDENT

	LABEL // name
)

var opcodeNames = [...]string{
	MOV:      "MOV",
	CONST:    "CONST",
	ADD:      "ADD",
	SUB:      "SUB",
	MUL:      "MUL",
	DIV:      "DIV",
	MOD:      "MOD",
	INC:      "INC",
	DEC:      "DEC",
	IF:       "IF",
	ELIF:     "ELIF",
	ELSE:     "ELSE",
	WHILE:    "WHILE",
	FOR:      "FOR",
	CALL:     "CALL",
	RET:      "RET",
	PRINT:    "PRINT",
	PRINTSTR: "PRINTSTR",
	READ:     "READ",
	ARR:      "ARR",
	PUSH:     "PUSH",
	POP:      "POP",
	LEN:      "LEN",
	PTR:      "PTR",
	ERROR:    "ERROR",
	FNDEF:    "FNDEF",
	INDENT:   "INDENT",
	DEDENT:   "DEDENT",
	LABEL:    "LABEL",
}

func (op Opcode) String() string {
	if int(op) >= 0 && int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// opcodes maps source mnemonics to their Opcode. FN, INDENT, DEDENT and
// LABEL never appear here: FN is structural syntax handled by the lexer,
// the rest are synthesized.
var opcodes = map[string]Opcode{
	"MOV":      MOV,
	"CONST":    CONST,
	"ADD":      ADD,
	"SUB":      SUB,
	"MUL":      MUL,
	"DIV":      DIV,
	"MOD":      MOD,
	"INC":      INC,
	"DEC":      DEC,
	"IF":       IF,
	"ELIF":     ELIF,
	"ELSE":     ELSE,
	"WHILE":    WHILE,
	"FOR":      FOR,
	"CALL":     CALL,
	"RET":      RET,
	"PRINT":    PRINT,
	"PRINTSTR": PRINTSTR,
	"READ":     READ,
	"ARR":      ARR,
	"PUSH":     PUSH,
	"POP":      POP,
	"LEN":      LEN,
	"PTR":      PTR,
	"ERROR":    ERROR,
}

// opensBlock reports whether op must be followed by an indented block.
func (op Opcode) opensBlock() bool {
	switch op {
	case IF, ELIF, ELSE, WHILE, FOR, FNDEF:
		return true
	}
	return false
}

// Instr is one (opcode, operands, source line) triple of the instruction
// stream. INDENT/DEDENT carry no operands and exist solely to delimit
// nesting.
type Instr struct {
	Op       Opcode
	Operands []string
	Line     int
}

func (in Instr) String() string {
	if len(in.Operands) == 0 {
		return fmt.Sprintf("%-8s  line %d", in.Op, in.Line)
	}
	return fmt.Sprintf("%-8s %-30s  line %d", in.Op, strings.Join(in.Operands, " "), in.Line)
}

// Type is the declared or inferred type of a storage location.
type Type int

const (
	TypeUnknown Type = iota
	TypeInt
	TypeFloat
	TypeDouble
	TypeBool
	TypeString
	TypeArray // element type carried separately in the declaration
	TypePtr   // inference-only, never written in source
)

var typeNames = [...]string{
	TypeUnknown: "unknown",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeDouble:  "double",
	TypeBool:    "bool",
	TypeString:  "string",
	TypeArray:   "array",
	TypePtr:     "ptr",
}

func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// numeric reports whether t participates in arithmetic.
func (t Type) numeric() bool {
	return t == TypeInt || t == TypeFloat || t == TypeDouble
}

// sourceTypes maps the type keywords writable in source.
var sourceTypes = map[string]Type{
	"int":    TypeInt,
	"float":  TypeFloat,
	"double": TypeDouble,
	"bool":   TypeBool,
	"string": TypeString,
}

// isNumber reports whether tok parses as a number (sign included).
func isNumber(tok string) bool {
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}

// isIntShaped reports whether tok is a numeric literal with no fractional
// or exponent syntax. "3" is int-shaped; "3.0" and "3e0" are not.
func isIntShaped(tok string) bool {
	if !isNumber(tok) {
		return false
	}
	return !strings.ContainsAny(tok, ".eE")
}

// isIdent reports whether tok is identifier-shaped: a letter or underscore
// followed by letters, digits or underscores.
func isIdent(tok string) bool {
	if tok == "" {
		return false
	}
	for i, r := range tok {
		alpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if i == 0 {
			if !alpha {
				return false
			}
			continue
		}
		if !alpha && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// isQuoted reports whether tok is a double-quoted string literal.
func isQuoted(tok string) bool {
	return len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"'
}

// splitGlued breaks a token written without spaces, such as "x>5", into
// identifier/number fragments and operator fragments. Tokens with no
// operator characters come back whole.
func splitGlued(tok string) []string {
	wordish := func(c byte) bool {
		return c == '_' || c == '.' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
	}
	var parts []string
	for i := 0; i < len(tok); {
		j := i
		for j < len(tok) && wordish(tok[j]) == wordish(tok[i]) {
			j++
		}
		parts = append(parts, tok[i:j])
		i = j
	}
	return parts
}

// literalType classifies a literal token, TypeUnknown for identifiers and
// anything else that is not a literal.
func literalType(tok string) Type {
	switch {
	case isQuoted(tok):
		return TypeString
	case tok == "true" || tok == "false":
		return TypeBool
	case isIntShaped(tok):
		return TypeInt
	case isNumber(tok):
		return TypeDouble
	case tok == "null":
		return TypePtr
	}
	return TypeUnknown
}
