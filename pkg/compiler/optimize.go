package compiler

import (
	"math"
	"strconv"
	"strings"
)

// maxOptimizeRounds bounds the pass pipeline so crafted cyclic inputs
// still terminate. Real programs settle in one or two rounds.
const maxOptimizeRounds = 3

// Optimize runs constant propagation, dead-store elimination, strength
// reduction and constant folding over the instruction stream until a round
// changes nothing. The input Program is left untouched; a literal-zero
// division or modulo found while folding is a fatal compile error.
func Optimize(prog *Program) (*Program, error) {
	out := &Program{
		Instrs: append([]Instr(nil), prog.Instrs...),
		Vars:   prog.Vars,
		Decls:  prog.Decls,
		Funcs:  prog.Funcs,
		Labels: prog.Labels,
		Path:   prog.Path,
	}
	for round := 0; round < maxOptimizeRounds; round++ {
		changed := false

		next, c := propagateConstants(out, out.Instrs)
		out.Instrs, changed = next, changed || c

		next, c = eliminateDeadStores(out, out.Instrs)
		out.Instrs, changed = next, changed || c

		next, c = reduceStrength(out.Instrs)
		out.Instrs, changed = next, changed || c

		next, c, err := foldConstants(out, out.Instrs)
		if err != nil {
			return nil, err
		}
		out.Instrs, changed = next, changed || c

		if !changed {
			break
		}
	}
	return out, nil
}

// boundary reports whether an opcode ends the straight-line region that
// constant propagation may reason about.
func boundary(op Opcode) bool {
	switch op {
	case FNDEF, IF, ELIF, ELSE, WHILE, FOR, INDENT, DEDENT, LABEL:
		return true
	}
	return false
}

// propagatable reports whether a literal token is safe to substitute for a
// variable read. Quoted strings containing whitespace would no longer
// tokenize as one operand, so they stay put.
func propagatable(tok string) bool {
	switch {
	case isNumber(tok):
		return true
	case tok == "true" || tok == "false" || tok == "null":
		return true
	case isQuoted(tok):
		return !strings.ContainsAny(tok, " \t")
	}
	return false
}

// propagateConstants tracks variable→literal bindings through each
// straight-line region and substitutes them into read positions. Loop
// heads, PRINT operands, INC/DEC targets, PTR sources and destinations are
// never rewritten. A CALL drops every binding not declared in the current
// function, since callees may write globals.
func propagateConstants(prog *Program, instrs []Instr) ([]Instr, bool) {
	consts := make(map[string]string)
	out := make([]Instr, 0, len(instrs))
	changed := false
	var w scopeWalker

	substTok := func(tok string) (string, bool) {
		base, colon := tok, false
		if strings.HasSuffix(base, ":") {
			base, colon = base[:len(base)-1], true
		}
		lit, ok := consts[base]
		if !ok {
			return tok, false
		}
		if colon {
			lit += ":"
		}
		return lit, true
	}
	substExpr := func(expr string) (string, bool) {
		fields := tokenize(expr)
		hit := false
		for i, f := range fields {
			if lit, ok := substTok(f); ok {
				fields[i], hit = lit, true
			}
		}
		if !hit {
			return expr, false
		}
		return strings.Join(fields, " "), true
	}
	// substitute rewrites the operand slots named by idx, copying the
	// instruction's operands before the first change.
	substitute := func(in *Instr, exprSlots bool, idx ...int) {
		copied := false
		for _, i := range idx {
			var repl string
			var hit bool
			if exprSlots {
				repl, hit = substExpr(in.Operands[i])
			} else {
				repl, hit = substTok(in.Operands[i])
			}
			if !hit {
				continue
			}
			if !copied {
				in.Operands = append([]string(nil), in.Operands...)
				copied = true
			}
			in.Operands[i] = repl
			changed = true
		}
	}

	for _, in := range instrs {
		w.step(in)

		// 1. Substitute into this instruction's read positions.
		switch in.Op {
		case MOV:
			if _, typed := sourceTypes[in.Operands[0]]; typed {
				if len(in.Operands) == 3 {
					substitute(&in, true, 2)
				}
			} else {
				substitute(&in, true, 1)
			}
		case CONST:
			substitute(&in, true, 2)
		case ADD, SUB, MUL, DIV, MOD:
			substitute(&in, false, 0, 1)
		case IF, ELIF:
			idx := make([]int, len(in.Operands))
			for i := range idx {
				idx[i] = i
			}
			substitute(&in, false, idx...)
		case CALL:
			if n := len(in.Operands); n > 2 {
				idx := make([]int, 0, n-2)
				for i := 1; i < n-1; i++ {
					idx = append(idx, i)
				}
				substitute(&in, false, idx...)
			}
		case RET:
			if len(in.Operands) == 1 {
				substitute(&in, true, 0)
			}
		case PUSH:
			substitute(&in, false, 1)
		}

		// 2. Update bindings for this instruction's writes.
		switch in.Op {
		case MOV:
			if _, typed := sourceTypes[in.Operands[0]]; typed {
				if len(in.Operands) == 3 && propagatable(in.Operands[2]) {
					consts[in.Operands[1]] = in.Operands[2]
				} else {
					delete(consts, in.Operands[1])
				}
			} else {
				if propagatable(in.Operands[1]) {
					consts[in.Operands[0]] = in.Operands[1]
				} else {
					delete(consts, in.Operands[0])
				}
			}
		case CONST:
			if propagatable(in.Operands[2]) {
				consts[in.Operands[1]] = in.Operands[2]
			} else {
				delete(consts, in.Operands[1])
			}
		case ADD, SUB, MUL, DIV, MOD:
			delete(consts, in.Operands[2])
		case INC, DEC:
			delete(consts, in.Operands[0])
		case READ:
			delete(consts, in.Operands[2])
		case POP, LEN:
			delete(consts, in.Operands[1])
		case PTR:
			delete(consts, in.Operands[0])
		case ARR:
			delete(consts, in.Operands[1])
		case CALL:
			if ret := in.Operands[len(in.Operands)-1]; ret != "_" {
				delete(consts, ret)
			}
			for name := range consts {
				if w.fn == "" {
					delete(consts, name)
					continue
				}
				if _, local := prog.Decls.LookupExact(w.fn, name); !local {
					delete(consts, name)
				}
			}
		}

		// 3. Bindings do not survive control-flow boundaries.
		if boundary(in.Op) {
			consts = make(map[string]string)
		}

		out = append(out, in)
	}
	return out, changed
}

// instrReads lists the storage identifiers an instruction reads.
func instrReads(in Instr) []string {
	var names []string
	add := func(tok string) {
		for _, f := range strings.Fields(tok) {
			f = strings.TrimSuffix(f, ":")
			if isQuoted(f) {
				continue
			}
			for _, frag := range splitGlued(f) {
				if n, ok := storageName(frag); ok {
					names = append(names, n)
				}
			}
		}
	}
	switch in.Op {
	case MOV:
		if _, typed := sourceTypes[in.Operands[0]]; typed {
			if len(in.Operands) == 3 {
				add(in.Operands[2])
			}
		} else {
			add(in.Operands[1])
		}
	case CONST:
		add(in.Operands[2])
	case ADD, SUB, MUL, DIV, MOD:
		add(in.Operands[0])
		add(in.Operands[1])
	case INC, DEC:
		add(in.Operands[0])
	case IF, ELIF, WHILE:
		for _, t := range in.Operands {
			add(t)
		}
	case FOR:
		add(in.Operands[1])
		add(in.Operands[3])
	case CALL:
		for _, a := range in.Operands[1 : len(in.Operands)-1] {
			add(a)
		}
	case RET:
		if len(in.Operands) == 1 {
			add(in.Operands[0])
		}
	case PRINT, PRINTSTR:
		add(in.Operands[0])
	case ARR:
		for _, e := range in.Operands[2:] {
			add(e)
		}
	case PUSH:
		add(in.Operands[0])
		add(in.Operands[1])
	case POP, LEN:
		add(in.Operands[0])
	case PTR:
		add(in.Operands[1])
	}
	return names
}

// eliminateDeadStores drops plain MOVs whose destination is never read
// afterwards. Reads inside function bodies execute at call time rather
// than in textual order, so they seed the live set up front; reads inside
// a loop re-occur on the next iteration, so the loop region's reads are
// unioned in when the backward scan crosses its closing DEDENT. Stores to
// const names are kept for the validator to reject.
func eliminateDeadStores(prog *Program, instrs []Instr) ([]Instr, bool) {
	// 1. Record the enclosing function per instruction.
	scopes := make([]string, len(instrs))
	var w scopeWalker
	for i, in := range instrs {
		w.step(in)
		scopes[i] = w.fn
	}

	// 2. Seed liveness with function-body reads and address-taken names.
	live := make(map[string]bool)
	for i, in := range instrs {
		if scopes[i] != "" {
			for _, n := range instrReads(in) {
				live[n] = true
			}
		}
		if in.Op == PTR {
			if n, ok := storageName(in.Operands[1]); ok {
				live[n] = true
			}
		}
	}

	// 3. Map each loop's closing DEDENT to the reads of its whole region,
	//    loop head included.
	type region struct {
		start int
		loop  bool
	}
	var stack []region
	loopReads := make(map[int]map[string]bool)
	for i, in := range instrs {
		switch in.Op {
		case INDENT:
			r := region{start: i}
			if i > 0 && (instrs[i-1].Op == WHILE || instrs[i-1].Op == FOR) {
				r = region{start: i - 1, loop: true}
			}
			stack = append(stack, r)
		case DEDENT:
			if len(stack) == 0 {
				break
			}
			r := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !r.loop {
				break
			}
			set := make(map[string]bool)
			for j := r.start; j < i; j++ {
				for _, n := range instrReads(instrs[j]) {
					set[n] = true
				}
			}
			loopReads[i] = set
		}
	}

	// 4. Backward scan: drop a plain MOV when its destination is dead.
	keep := make([]bool, len(instrs))
	changed := false
	for i := len(instrs) - 1; i >= 0; i-- {
		in := instrs[i]
		if lr, ok := loopReads[i]; ok {
			for n := range lr {
				live[n] = true
			}
		}
		if in.Op == MOV && len(in.Operands) == 2 {
			if _, typed := sourceTypes[in.Operands[0]]; !typed {
				dest := in.Operands[0]
				d, resolved := prog.Decls.Lookup(scopes[i], dest)
				if !live[dest] && !(resolved && d.Const) {
					changed = true
					continue // dropped; its source stays dead too
				}
			}
		}
		keep[i] = true
		for _, n := range instrReads(in) {
			live[n] = true
		}
	}
	if !changed {
		return instrs, false
	}
	out := make([]Instr, 0, len(instrs))
	for i, in := range instrs {
		if keep[i] {
			out = append(out, in)
		}
	}
	return out, true
}

// reduceStrength rewrites multiplications by 2 as self-additions and
// drops multiplicative/additive identities, preserving the destination.
func reduceStrength(instrs []Instr) ([]Instr, bool) {
	out := make([]Instr, 0, len(instrs))
	changed := false
	for _, in := range instrs {
		a, b := "", ""
		if len(in.Operands) == 3 {
			a, b = in.Operands[0], in.Operands[1]
		}
		switch {
		case in.Op == MUL && b == "2":
			in = Instr{Op: ADD, Operands: []string{a, a, in.Operands[2]}, Line: in.Line}
			changed = true
		case in.Op == MUL && a == "2":
			in = Instr{Op: ADD, Operands: []string{b, b, in.Operands[2]}, Line: in.Line}
			changed = true
		case in.Op == MUL && b == "1":
			in = Instr{Op: MOV, Operands: []string{in.Operands[2], a}, Line: in.Line}
			changed = true
		case in.Op == MUL && a == "1":
			in = Instr{Op: MOV, Operands: []string{in.Operands[2], b}, Line: in.Line}
			changed = true
		case in.Op == ADD && b == "0":
			in = Instr{Op: MOV, Operands: []string{in.Operands[2], a}, Line: in.Line}
			changed = true
		case in.Op == ADD && a == "0":
			in = Instr{Op: MOV, Operands: []string{in.Operands[2], b}, Line: in.Line}
			changed = true
		}
		out = append(out, in)
	}
	return out, changed
}

// foldConstants replaces arithmetic on two literals with a literal move.
// Division and modulo by a literal zero fail compilation here. Integer
// folds that leave the int32 range are kept as-is so the generated
// overflow guard still fires at runtime.
func foldConstants(prog *Program, instrs []Instr) ([]Instr, bool, error) {
	out := make([]Instr, 0, len(instrs))
	changed := false
	for _, in := range instrs {
		switch in.Op {
		case ADD, SUB, MUL, DIV, MOD:
		default:
			out = append(out, in)
			continue
		}
		a, b := in.Operands[0], in.Operands[1]
		if !isNumber(a) || !isNumber(b) {
			out = append(out, in)
			continue
		}
		x, errA := strconv.ParseFloat(a, 64)
		y, errB := strconv.ParseFloat(b, 64)
		if errA != nil || errB != nil {
			out = append(out, in)
			continue
		}
		var v float64
		switch in.Op {
		case ADD:
			v = x + y
		case SUB:
			v = x - y
		case MUL:
			v = x * y
		case DIV:
			if y == 0 {
				return nil, false, errorf(DivisionByZero, prog.Path, in.Line, "division by zero")
			}
			v = x / y
		case MOD:
			if y == 0 {
				return nil, false, errorf(DivisionByZero, prog.Path, in.Line, "modulo by zero")
			}
			v = math.Mod(x, y)
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			out = append(out, in)
			continue
		}
		var lit string
		if isIntShaped(a) && isIntShaped(b) && in.Op != DIV {
			if v > math.MaxInt32 || v < math.MinInt32 {
				out = append(out, in) // overflow surfaces at runtime
				continue
			}
			lit = strconv.FormatInt(int64(v), 10)
		} else {
			lit = strconv.FormatFloat(v, 'g', -1, 64)
			if !strings.ContainsAny(lit, ".eE") {
				lit += ".0" // keep the fold double-shaped
			}
		}
		out = append(out, Instr{Op: MOV, Operands: []string{in.Operands[2], lit}, Line: in.Line})
		changed = true
	}
	return out, changed, nil
}
