package compiler

import (
	"errors"
	"fmt"
)

// Code categorizes a compiler failure. The numeric value doubles as the
// process exit status, so values are stable and grouped in bands.
type Code int

const (
	// I/O and file handling
	FileNotFound      Code = 1
	FileReadError     Code = 2
	FileWriteError    Code = 3
	InvalidFileFormat Code = 4
	IOError           Code = 5

	// Syntax and structure
	SyntaxError      Code = 11
	UnexpectedToken  Code = 12
	MissingToken     Code = 13
	InvalidSyntax    Code = 14
	UnknownOpcode    Code = 15
	InvalidCondition Code = 16

	// Symbols and types
	UndefinedSymbol  Code = 21
	RedefinedSymbol  Code = 22
	TypeMismatch     Code = 23
	InvalidOperation Code = 24
	InvalidType      Code = 25
	InvalidOperand   Code = 26
	TypeError        Code = 27
	MissingReturn    Code = 28

	// Code generation
	CodeGenError  Code = 31
	InternalError Code = 32

	// Runtime failures raised by generated programs
	RuntimeError   Code = 41
	DivisionByZero Code = 42
	OutOfBounds    Code = 43
	Overflow       Code = 45

	// System
	SystemError Code = 51
	CompilerBug Code = 52

	// External toolchain
	ExternalToolError Code = 61
	CompilationError  Code = 62

	// Configuration and dependencies
	ConfigurationError Code = 71
	MissingDependency  Code = 72

	// Catch-all
	CustomError Code = 99
)

func (c Code) String() string {
	return fmt.Sprintf("E%02d", int(c))
}

// Error is the single failure value used by every stage. Line and Path are
// optional; the rendered form degrades as context shrinks.
type Error struct {
	Message string
	Line    int // 1-based source line, 0 when unknown
	Path    string
	Code    Code
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: error: [%s] %s", e.Path, e.Line, e.Code, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: error: [%s] %s", e.Path, e.Code, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("line %d: error: [%s] %s", e.Line, e.Code, e.Message)
	default:
		return fmt.Sprintf("error: [%s] %s", e.Code, e.Message)
	}
}

// errorf builds a located Error. A zero line means the failure is not tied
// to a specific source line.
func errorf(code Code, path string, line int, format string, args ...any) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Path:    path,
		Code:    code,
	}
}

// ExitCode extracts the process exit status for err: the categorized code
// when err is an *Error, 1 otherwise, 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *Error
	if errors.As(err, &ce) {
		return int(ce.Code)
	}
	return 1
}
