// Package test provides black-box integration tests exercising the
// full pipeline — lexer/parser, bytecode compiler, bytecode VM, the
// tree-walking AST interpreter, and bytecode serialization — the way
// the teacher's own test package exercises smog end to end.
package test

import (
	"bytes"
	"testing"

	"taglang/internal/astinterp"
	"taglang/internal/bcformat"
	"taglang/internal/compiler"
	"taglang/internal/heap"
	"taglang/internal/vm"
	"taglang/pkg/ast"
	"taglang/pkg/parser"
)

func parseSource(t *testing.T, src string) *ast.Top {
	t.Helper()
	p := parser.New(src)
	top, err := p.Parse()
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return top
}

// runAstInterpret parses and tree-walks src, returning captured stdout.
func runAstInterpret(t *testing.T, src string, heapSize uint32) (string, error) {
	t.Helper()
	top := parseSource(t, src)
	h := heap.New(heapSize)
	it, err := astinterp.New(h)
	if err != nil {
		t.Fatalf("new interpreter: %v", err)
	}
	var out bytes.Buffer
	it.Stdout = &out
	_, err = it.Run(top)
	return out.String(), err
}

// runInMemory parses, compiles, and runs src on the bytecode VM without
// going through serialization — the `run` CLI mode.
func runInMemory(t *testing.T, src string, heapSize uint32) (string, error) {
	t.Helper()
	top := parseSource(t, src)
	c := compiler.New()
	prog, err := c.Compile(top)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return runProgram(t, prog, heapSize)
}

// runRoundTripped parses, compiles, serializes to an in-memory buffer,
// deserializes it back, and runs the resulting Program — the
// `bc_compile | bc_interpret` pipeline.
func runRoundTripped(t *testing.T, src string, heapSize uint32) (string, error) {
	t.Helper()
	top := parseSource(t, src)
	c := compiler.New()
	prog, err := c.Compile(top)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}

	var wire bytes.Buffer
	if err := bcformat.Encode(&wire, prog); err != nil {
		t.Fatalf("encode %q: %v", src, err)
	}
	decoded, err := bcformat.Decode(&wire)
	if err != nil {
		t.Fatalf("decode %q: %v", src, err)
	}
	return runProgram(t, decoded, heapSize)
}

func runProgram(t *testing.T, prog *bcformat.Program, heapSize uint32) (string, error) {
	t.Helper()
	h := heap.New(heapSize)
	m, err := vm.New(h, prog.Constants, prog.Globals)
	if err != nil {
		t.Fatalf("new vm: %v", err)
	}
	var out bytes.Buffer
	m.Stdout = &out
	err = m.Run(prog.EntryPoint)
	return out.String(), err
}

// TestScenariosProduceExpectedOutput runs spec §8's six literal
// scenarios against all three execution paths and checks each against
// the documented expected standard output.
func TestScenariosProduceExpectedOutput(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "dotted addition",
			src:  `print("~\n", 1.+(2))`,
			want: "3\n",
		},
		{
			name: "while loop counts down",
			src:  `let x = 10; while x > 0 do x = x.-(1); print("done ~\n", x)`,
			want: "done 0\n",
		},
		{
			name: "array default then set",
			src:  `let a = [3; 0]; a[1] = 7; print("~ ~ ~\n", a[0], a[1], a[2])`,
			want: "0 7 0\n",
		},
		{
			name: "object method reads own field via this",
			src:  `let o = object extends null { let v = 5; function get() -> this.v }; print("~\n", o.get())`,
			want: "5\n",
		},
		{
			name: "inherited method",
			src:  `let p = object { function m() -> 1 }; let c = object extends p {}; print("~\n", c.m())`,
			want: "1\n",
		},
		{
			name: "forward global reference",
			src:  `function f() -> g(); let g = function() -> 42; print("~\n", f())`,
			want: "42\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			astOut, err := runAstInterpret(t, tc.src, 1<<16)
			if err != nil {
				t.Fatalf("ast_interpret: %v", err)
			}
			if astOut != tc.want {
				t.Errorf("ast_interpret: got %q, want %q", astOut, tc.want)
			}

			runOut, err := runInMemory(t, tc.src, 1<<16)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if runOut != tc.want {
				t.Errorf("run: got %q, want %q", runOut, tc.want)
			}

			rtOut, err := runRoundTripped(t, tc.src, 1<<16)
			if err != nil {
				t.Fatalf("bc_compile|bc_interpret: %v", err)
			}
			if rtOut != tc.want {
				t.Errorf("bc_compile|bc_interpret: got %q, want %q", rtOut, tc.want)
			}
		})
	}
}

// TestRoundTripPropertyAgreesAcrossAllThreePaths is spec §8 invariant 7
// in general form: for an arbitrary program (not just the six literal
// scenarios), ast_interpret, run, and bc_compile->serialize->deserialize
// ->bc_interpret must all agree on standard output.
func TestRoundTripPropertyAgreesAcrossAllThreePaths(t *testing.T) {
	programs := []string{
		`let fact = null; fact = function(n) -> if n <= 1 then 1 else n * fact(n - 1); print("~\n", fact(6))`,
		`let base = object { let tag = 1; function describe() -> this.tag }; let child = object extends base { let tag = 2 }; print("~ ~\n", base.describe(), child.describe())`,
		`let sum = 0; let i = 0; while i < 50 do { sum = sum + i; i = i + 1 }; print("~\n", sum)`,
		`let a = [5; 0]; let i = 0; while i < 5 do { a[i] = i * i; i = i + 1 }; print("~ ~ ~ ~ ~\n", a[0], a[1], a[2], a[3], a[4])`,
	}

	for _, src := range programs {
		astOut, err := runAstInterpret(t, src, 1<<18)
		if err != nil {
			t.Fatalf("ast_interpret %q: %v", src, err)
		}
		runOut, err := runInMemory(t, src, 1<<18)
		if err != nil {
			t.Fatalf("run %q: %v", src, err)
		}
		rtOut, err := runRoundTripped(t, src, 1<<18)
		if err != nil {
			t.Fatalf("bc_compile|bc_interpret %q: %v", src, err)
		}
		if astOut != runOut || runOut != rtOut {
			t.Errorf("output diverged for %q:\n  ast_interpret = %q\n  run           = %q\n  round-tripped = %q", src, astOut, runOut, rtOut)
		}
	}
}

// TestGCStressArraysExceedingHeapSizeStillComplete is spec §8's first
// GC stress test: allocate far more transient array bytes than the
// heap can hold at once, relying on unreachable arrays being reclaimed
// between allocations so the program still runs to completion on both
// backends.
func TestGCStressArraysExceedingHeapSizeStillComplete(t *testing.T) {
	src := `
		let last = 0;
		let i = 0;
		while i < 5000 do {
			let a = [8; i];
			last = a[0];
			i = i + 1
		};
		print("~\n", last)
	`
	const want = "4999\n"

	astOut, err := runAstInterpret(t, src, 4096)
	if err != nil {
		t.Fatalf("ast_interpret: %v", err)
	}
	if astOut != want {
		t.Errorf("ast_interpret: got %q, want %q", astOut, want)
	}

	runOut, err := runInMemory(t, src, 4096)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if runOut != want {
		t.Errorf("run: got %q, want %q", runOut, want)
	}
}

// TestGCStressObjectsExceedingHeapSizeStillComplete mirrors the array
// stress test with transient Objects instead, so the collector's
// Object-marking path (own fields plus parent chain) is exercised under
// the same pressure.
func TestGCStressObjectsExceedingHeapSizeStillComplete(t *testing.T) {
	src := `
		let last = 0;
		let i = 0;
		while i < 3000 do {
			let o = object { let v = i };
			last = o.v;
			i = i + 1
		};
		print("~\n", last)
	`
	const want = "2999\n"

	astOut, err := runAstInterpret(t, src, 4096)
	if err != nil {
		t.Fatalf("ast_interpret: %v", err)
	}
	if astOut != want {
		t.Errorf("ast_interpret: got %q, want %q", astOut, want)
	}

	runOut, err := runInMemory(t, src, 4096)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if runOut != want {
		t.Errorf("run: got %q, want %q", runOut, want)
	}
}
