package lsh

import (
	"strings"
	"testing"

	"github.com/thingsshell/tshd/internal/platform/sim"
)

func newTestGlobals(t *testing.T, clock *sim.Clock) *GlobalTable {
	t.Helper()
	g := NewGlobalTable()
	if err := RegisterBuiltins(g, clock); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return g
}

func TestArithmeticAssignAndPrint(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)

	prog, err := Compile(g, `# x := 3 + 4 * 2; print(x);`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	var printed []string
	ec := &EvalContext{Clock: clock, Globals: g, PrintFn: func(s string) { printed = append(printed, s) }}
	if err := Eval(prog, ec); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(printed) != 1 || printed[0] != "11" {
		t.Fatalf("print(x) = %v, want [\"11\"]", printed)
	}
}

func TestPrecedenceClimbing(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)

	cases := []struct {
		src  string
		want string
	}{
		{`# r := 2 + 3 * 4; print(r);`, "14"},
		{`# r := (2 + 3) * 4; print(r);`, "20"},
		{`# r := 10 - 2 - 3; print(r);`, "5"},
		{`# r := 1 < 2 && 3 > 2; print(r);`, "1"},
		{`# r := !(1 == 1); print(r);`, "0"},
	}
	for _, tc := range cases {
		prog, err := Compile(g, tc.src)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tc.src, err)
		}
		var printed []string
		ec := &EvalContext{Clock: clock, Globals: g, PrintFn: func(s string) { printed = append(printed, s) }}
		if err := Eval(prog, ec); err != nil {
			t.Fatalf("Eval(%q): %v", tc.src, err)
		}
		if len(printed) != 1 || printed[0] != tc.want {
			t.Fatalf("%q => %v, want [%q]", tc.src, printed, tc.want)
		}
	}
}

func TestIfElse(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)

	prog, err := Compile(g, `
		# x := 5;
		? (x > 3) {
			print("big");
		} : {
			print("small");
		}
	`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var printed []string
	ec := &EvalContext{Clock: clock, Globals: g, PrintFn: func(s string) { printed = append(printed, s) }}
	if err := Eval(prog, ec); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(printed) != 1 || printed[0] != "big" {
		t.Fatalf("printed = %v, want [\"big\"]", printed)
	}

	prog2, err := Compile(g, `
		# y := 1;
		? (y > 3) {
			print("big");
		} : {
			print("small");
		}
	`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	printed = nil
	ec2 := &EvalContext{Clock: clock, Globals: g, PrintFn: func(s string) { printed = append(printed, s) }}
	if err := Eval(prog2, ec2); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(printed) != 1 || printed[0] != "small" {
		t.Fatalf("printed = %v, want [\"small\"]", printed)
	}
}

func TestIfWithoutElseFallthrough(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)

	prog, err := Compile(g, `
		# x := 1;
		? (x > 3) {
			print("unreached");
		}
		print("after");
	`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var printed []string
	ec := &EvalContext{Clock: clock, Globals: g, PrintFn: func(s string) { printed = append(printed, s) }}
	if err := Eval(prog, ec); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(printed) != 1 || printed[0] != "after" {
		t.Fatalf("printed = %v, want [\"after\"]", printed)
	}
}

func TestGlobalPersistsAcrossPrograms(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)

	p1, err := Compile(g, `## counter := 41; counter := counter + 1;`)
	if err != nil {
		t.Fatalf("Compile p1: %v", err)
	}
	ec1 := &EvalContext{Clock: clock, Globals: g}
	if err := Eval(p1, ec1); err != nil {
		t.Fatalf("Eval p1: %v", err)
	}

	p2, err := Compile(g, `print(counter);`)
	if err != nil {
		t.Fatalf("Compile p2: %v", err)
	}
	var printed []string
	ec2 := &EvalContext{Clock: clock, Globals: g, PrintFn: func(s string) { printed = append(printed, s) }}
	if err := Eval(p2, ec2); err != nil {
		t.Fatalf("Eval p2: %v", err)
	}
	if len(printed) != 1 || printed[0] != "42" {
		t.Fatalf("printed = %v, want [\"42\"]", printed)
	}
}

func TestStringBuiltins(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)

	prog, err := Compile(g, `print(concat("foo", "bar"));`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var printed []string
	ec := &EvalContext{Clock: clock, Globals: g, PrintFn: func(s string) { printed = append(printed, s) }}
	if err := Eval(prog, ec); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(printed) != 1 || printed[0] != "foobar" {
		t.Fatalf("printed = %v, want [\"foobar\"]", printed)
	}
}

func TestMinMaxAbs(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)
	prog, err := Compile(g, `print(min(5, 2, 9)); print(max(5, 2, 9)); print(abs(3 - 10));`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var printed []string
	ec := &EvalContext{Clock: clock, Globals: g, PrintFn: func(s string) { printed = append(printed, s) }}
	if err := Eval(prog, ec); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	want := []string{"2", "9", "7"}
	if len(printed) != len(want) {
		t.Fatalf("printed = %v, want %v", printed, want)
	}
	for i := range want {
		if printed[i] != want[i] {
			t.Fatalf("printed[%d] = %q, want %q", i, printed[i], want[i])
		}
	}
}

func TestForeachRejectedAtEval(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)
	prog, err := Compile(g, `@ (n) { print(n); }`)
	if err != nil {
		t.Fatalf("Compile should succeed (foreach parses, just never evaluates): %v", err)
	}
	ec := &EvalContext{Clock: clock, Globals: g}
	err = Eval(prog, ec)
	if err != ErrForeachUnsupported {
		t.Fatalf("Eval(foreach) = %v, want ErrForeachUnsupported", err)
	}
}

func TestDuplicateLocalDeclaration(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)
	_, err := Compile(g, `# x := 1; # x := 2;`)
	if err != ErrCodeVariableExists {
		t.Fatalf("Compile = %v, want ErrCodeVariableExists", err)
	}
}

func TestUndeclaredVariable(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)
	_, err := Compile(g, `print(nope);`)
	if err != ErrCodeVariableUndef {
		t.Fatalf("Compile = %v, want ErrCodeVariableUndef", err)
	}
}

func TestDisassembleDoesNotPanic(t *testing.T) {
	clock := sim.NewClock()
	g := newTestGlobals(t, clock)
	prog, err := Compile(g, `# x := 3 + 4 * 2; print(x);`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	dump := Disassemble(prog)
	if !strings.Contains(dump, "FUNC") || !strings.Contains(dump, "VAR") {
		t.Fatalf("Disassemble output missing expected mnemonics:\n%s", dump)
	}
}
