package compiler

import "strings"

// Options tune the pipeline. The zero value runs every stage.
type Options struct {
	SkipOptimize bool // emit C from the unoptimized instruction stream
}

// Compile translates ZLang source text into one C translation unit.
func Compile(src, path string) (string, error) {
	return CompileWith(src, path, Options{})
}

// CompileWith runs the staged pipeline: lex into the instruction stream,
// optimize, validate, generate. The first failing stage wins.
func CompileWith(src, path string, opts Options) (string, error) {
	prog, err := Lex(src, path)
	if err != nil {
		return "", err
	}
	if !opts.SkipOptimize {
		if prog, err = Optimize(prog); err != nil {
			return "", err
		}
	}
	if err := Validate(prog); err != nil {
		return "", err
	}
	return Generate(prog)
}

// Dump renders the instruction stream one instruction per line, after the
// same optimization the compile pipeline would apply.
func Dump(src, path string, opts Options) (string, error) {
	prog, err := Lex(src, path)
	if err != nil {
		return "", err
	}
	if !opts.SkipOptimize {
		if prog, err = Optimize(prog); err != nil {
			return "", err
		}
	}
	var b strings.Builder
	for _, in := range prog.Instrs {
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String(), nil
}
