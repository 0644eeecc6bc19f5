package compiler

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"path and line",
			&Error{Message: "bad token", Line: 3, Path: "app.zl", Code: SyntaxError},
			"app.zl:3: error: [E11] bad token",
		},
		{
			"path only",
			&Error{Message: "unreadable", Path: "app.zl", Code: FileReadError},
			"app.zl: error: [E02] unreadable",
		},
		{
			"line only",
			&Error{Message: "cannot assign double to int", Line: 7, Code: TypeMismatch},
			"line 7: error: [E23] cannot assign double to int",
		},
		{
			"bare",
			&Error{Message: "generator: walked off the stream", Code: InternalError},
			"error: [E32] generator: walked off the stream",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeString(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{FileNotFound, "E01"},
		{SyntaxError, "E11"},
		{UndefinedSymbol, "E21"},
		{DivisionByZero, "E42"},
		{CustomError, "E99"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("Code(%d).String() = %q, want %q", int(tt.code), got, tt.want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
	if got := ExitCode(&Error{Code: DivisionByZero}); got != 42 {
		t.Errorf("ExitCode = %d, want 42", got)
	}
	wrapped := fmt.Errorf("compile: %w", &Error{Code: TypeMismatch})
	if got := ExitCode(wrapped); got != 23 {
		t.Errorf("ExitCode(wrapped) = %d, want 23", got)
	}
	if got := ExitCode(errors.New("plain")); got != 1 {
		t.Errorf("ExitCode(plain) = %d, want 1", got)
	}
}
