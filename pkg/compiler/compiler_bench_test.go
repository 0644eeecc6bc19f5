package compiler

import "testing"

// simpleBenchSource is a minimal program used for benchmarking the fast path.
const simpleBenchSource = `FN add(int a, int b) -> int:
    ADD a b sum
    RET sum

CALL add(3, 4) -> x
PRINT x
`

// complexBenchSource is a larger program exercising functions, recursion,
// loops, branch chains, arrays, and labels.
const complexBenchSource = `CONST int limit 8

FN fib(int n) -> int:
    IF n < 2:
        RET n
    SUB n 1 a
    CALL fib(a) -> x
    SUB n 2 b
    CALL fib(b) -> y
    ADD x y r
    RET r

FN sum_to(int n) -> int:
    MOV int total 0
    FOR i 0 .. n:
        ADD total i total
    RET total

FN classify(double v) -> string:
    IF v > 100:
        RET "large"
    ELIF v > 10:
        RET "medium"
    ELSE:
        RET "small"
    RET "small"

ARR int data 3 1 4 1 5
PUSH data 9
LEN data count
CALL fib(count) -> f
CALL sum_to(limit) -> s
ADD f s combined
PRINT combined
DIV combined 2 half
PRINT half
CALL classify(12.5) -> label
PRINTSTR label
MOV int t 0
WHILE t < 3:
    INC t
top:
PRINT t
`

// --- Lex benchmarks ---

func BenchmarkLex_Simple(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, err := Lex(simpleBenchSource, "bench.zl")
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLex_Complex(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, err := Lex(complexBenchSource, "bench.zl")
		if err != nil {
			b.Fatal(err)
		}
	}
}

// --- Optimize benchmarks ---
// The instruction stream is pre-computed outside the timed region; the
// optimizer never mutates its input.

func BenchmarkOptimize_Simple(b *testing.B) {
	prog, err := Lex(simpleBenchSource, "bench.zl")
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Optimize(prog); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOptimize_Complex(b *testing.B) {
	prog, err := Lex(complexBenchSource, "bench.zl")
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Optimize(prog); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Validate benchmarks ---

func BenchmarkValidate_Complex(b *testing.B) {
	prog, err := Lex(complexBenchSource, "bench.zl")
	if err != nil {
		b.Fatal(err)
	}
	if prog, err = Optimize(prog); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := Validate(prog); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Generate benchmarks ---
// Earlier stages run outside the timed region.

func BenchmarkGenerate_Simple(b *testing.B) {
	prog, err := Lex(simpleBenchSource, "bench.zl")
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Generate(prog); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGenerate_Complex(b *testing.B) {
	prog, err := Lex(complexBenchSource, "bench.zl")
	if err != nil {
		b.Fatal(err)
	}
	if prog, err = Optimize(prog); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Generate(prog); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Full pipeline benchmarks ---

func BenchmarkCompile_Simple(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Compile(simpleBenchSource, "bench.zl"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCompile_Complex(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Compile(complexBenchSource, "bench.zl"); err != nil {
			b.Fatal(err)
		}
	}
}
