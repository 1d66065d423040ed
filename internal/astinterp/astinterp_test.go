package astinterp

import (
	"bytes"
	"strings"
	"testing"

	"taglang/internal/heap"
	"taglang/internal/value"
	"taglang/pkg/parser"
)

// run parses and tree-walks src over a fresh heap, returning the
// program's result, its captured standard output, and any error.
func run(t *testing.T, heapSize uint32, src string) (value.Value, string, *Interpreter, error) {
	t.Helper()
	p := parser.New(src)
	top, err := p.Parse()
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	h := heap.New(heapSize)
	it, err := New(h)
	if err != nil {
		t.Fatalf("new interpreter: %v", err)
	}
	var out bytes.Buffer
	it.Stdout = &out
	v, err := it.Run(top)
	return v, out.String(), it, err
}

func mustRun(t *testing.T, src string) (value.Value, string, *Interpreter) {
	t.Helper()
	v, out, it, err := run(t, 1<<16, src)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return v, out, it
}

func asInt(t *testing.T, it *Interpreter, v value.Value) int32 {
	t.Helper()
	mem := it.regionBytes(v)
	if value.TagAt(mem, v.Off) != value.KindInteger {
		t.Fatalf("expected Integer, got kind %v", value.TagAt(mem, v.Off))
	}
	return value.GetInteger(mem, v.Off)
}

func asBool(t *testing.T, it *Interpreter, v value.Value) bool {
	t.Helper()
	mem := it.regionBytes(v)
	if value.TagAt(mem, v.Off) != value.KindBoolean {
		t.Fatalf("expected Boolean, got kind %v", value.TagAt(mem, v.Off))
	}
	return value.GetBoolean(mem, v.Off)
}

func TestRunIntegerLiteral(t *testing.T) {
	v, _, it := mustRun(t, "42")
	if got := asInt(t, it, v); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestRunArithmeticInfixAndDottedAgree(t *testing.T) {
	v1, _, it1 := mustRun(t, "1 + 2 * 3")
	if got := asInt(t, it1, v1); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	v2, _, it2 := mustRun(t, "1.+(2.*(3))")
	if got := asInt(t, it2, v2); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestRunDivisionByZeroIsFatal(t *testing.T) {
	_, _, _, err := run(t, 1<<16, "1 / 0")
	if err == nil {
		t.Fatalf("expected a fault for division by zero")
	}
}

func TestRunEqualityAcrossDifferentTagsIsFalse(t *testing.T) {
	v, _, it := mustRun(t, "1 == true")
	if got := asBool(t, it, v); got != false {
		t.Errorf("expected false comparing an Integer and a Boolean, got %v", got)
	}
	v2, _, it2 := mustRun(t, "1 != true")
	if got := asBool(t, it2, v2); got != true {
		t.Errorf("expected true for != across tags, got %v", got)
	}
}

func TestRunGlobalDefinitionAndAccess(t *testing.T) {
	v, _, it := mustRun(t, "let x = 5; x")
	if got := asInt(t, it, v); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

// TestRunUndefinedAccessCreatesNullLocalBinding exercises spec §9 Open
// Question (a): accessing a never-defined name in the AST interpreter
// silently binds it to Null in the current scope rather than faulting
// (the bytecode compiler instead treats it as a forward global
// reference — a deliberate, documented divergence between backends).
func TestRunUndefinedAccessCreatesNullLocalBinding(t *testing.T) {
	v, _, it := mustRun(t, "undefinedName")
	mem := it.regionBytes(v)
	if value.TagAt(mem, v.Off) != value.KindNull {
		t.Errorf("expected undefined access to yield Null, got kind %v", value.TagAt(mem, v.Off))
	}
	// A second access should now see the same (still-Null) binding rather
	// than faulting or re-creating it, confirming the fallback actually
	// defines the name rather than just returning a throwaway Null.
	v2, _, it2 := mustRun(t, "undefinedName; undefinedName")
	mem2 := it2.regionBytes(v2)
	if value.TagAt(mem2, v2.Off) != value.KindNull {
		t.Errorf("expected second access to still be Null, got kind %v", value.TagAt(mem2, v2.Off))
	}
	var bindings int
	for _, b := range it2.envs[0].scopes[0] {
		if b.name == "undefinedName" {
			bindings++
		}
	}
	if bindings != 1 {
		t.Errorf("expected exactly one binding for undefinedName after two accesses, got %d", bindings)
	}
}

// TestRunUndefinedAssignmentCreatesLocalBinding covers the assignment
// half of the same Open Question: assigning to a never-defined name
// creates it bound to the assigned value, in the current scope, rather
// than faulting.
func TestRunUndefinedAssignmentCreatesLocalBinding(t *testing.T) {
	v, _, it := mustRun(t, "undefinedName = 7; undefinedName")
	if got := asInt(t, it, v); got != 7 {
		t.Errorf("expected assignment to a new name to define it, got %d", got)
	}
}

func TestRunBlockScopingShadowsOuterBinding(t *testing.T) {
	v, _, it := mustRun(t, "let x = 1; { let x = 2; x }; x")
	if got := asInt(t, it, v); got != 1 {
		t.Errorf("expected outer x to be unaffected by the inner shadow, got %d", got)
	}
}

func TestRunFunctionDoesNotCloseOverDefiningScope(t *testing.T) {
	// f is defined while y is in scope as a local of the enclosing block,
	// but f's own body can only ever see globals plus its own locals — it
	// must NOT see y, so referencing y inside f() creates a brand new Null
	// binding in f's own call environment rather than reading the
	// outer 9.
	v, _, it := mustRun(t, `
		let f = null;
		{
			let y = 9;
			f = function () -> y;
		};
		f()
	`)
	mem := it.regionBytes(v)
	if value.TagAt(mem, v.Off) != value.KindNull {
		t.Errorf("expected f() to see an unbound y (Null), got kind %v", value.TagAt(mem, v.Off))
	}
}

func TestRunFunctionCallBindsParametersFresh(t *testing.T) {
	v, _, it := mustRun(t, "function double(x) -> x * 2; double(21)")
	if got := asInt(t, it, v); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestRunRecursiveFunctionViaGlobal(t *testing.T) {
	v, _, it := mustRun(t, `
		function fact(n) -> if n <= 1 then 1 else n * fact(n - 1);
		fact(5)
	`)
	if got := asInt(t, it, v); got != 120 {
		t.Errorf("expected 120, got %d", got)
	}
}

func TestRunConditional(t *testing.T) {
	v, _, it := mustRun(t, "if 1 < 2 then 10 else 20")
	if got := asInt(t, it, v); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
}

func TestRunLoopAccumulates(t *testing.T) {
	v, _, it := mustRun(t, `
		let i = 0;
		let sum = 0;
		while i < 5 do {
			sum = sum + i;
			i = i + 1
		};
		sum
	`)
	if got := asInt(t, it, v); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
}

func TestRunArrayGetSet(t *testing.T) {
	v, _, it := mustRun(t, `
		let a = [3; 0];
		a[0] = 10;
		a[1] = 20;
		a[0] + a[1] + a[2]
	`)
	if got := asInt(t, it, v); got != 30 {
		t.Errorf("expected 30, got %d", got)
	}
}

func TestRunArrayIndexOutOfRangeIsFatal(t *testing.T) {
	_, _, _, err := run(t, 1<<16, "let a = [1; 0]; a[5]")
	if err == nil {
		t.Fatalf("expected a fault for an out-of-range array index")
	}
}

func TestRunArrayInitializerReEvaluatesPerIndex(t *testing.T) {
	v, _, it := mustRun(t, `
		let n = 0;
		let a = [3; { n = n + 1; n }];
		a[0] + a[1] + a[2]
	`)
	if got := asInt(t, it, v); got != 6 {
		t.Errorf("expected 1+2+3=6 from a fresh initializer per index, got %d", got)
	}
}

func TestRunObjectFieldAccessAndAssignment(t *testing.T) {
	v, _, it := mustRun(t, `
		let o = object { let x = 1 };
		o.x = o.x + 41;
		o.x
	`)
	if got := asInt(t, it, v); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestRunObjectMethodCallBindsThis(t *testing.T) {
	v, _, it := mustRun(t, `
		let o = object {
			let value = 10;
			let getValue = function () -> this.value
		};
		o.getValue()
	`)
	if got := asInt(t, it, v); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
}

func TestRunObjectInheritsFieldFromParent(t *testing.T) {
	v, _, it := mustRun(t, `
		let base = object { let greeting = 1 };
		let child = object extends base { let own = 2 };
		child.greeting + child.own
	`)
	if got := asInt(t, it, v); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestRunObjectInheritsMethodFromParentWithThisBoundToReceiver(t *testing.T) {
	v, _, it := mustRun(t, `
		let base = object {
			let value = 1;
			let describe = function () -> this.value
		};
		let child = object extends base { let value = 99 };
		child.describe()
	`)
	if got := asInt(t, it, v); got != 99 {
		t.Errorf("expected this inside an inherited method to bind to the receiver (99), got %d", got)
	}
}

func TestRunFieldAccessOnUndefinedFieldFaults(t *testing.T) {
	_, _, _, err := run(t, 1<<16, "let o = object { let x = 1 }; o.missing")
	if err == nil {
		t.Fatalf("expected a fault accessing an undefined field")
	}
}

func TestRunPrintFormatsValuesAndEscapes(t *testing.T) {
	_, out, _ := mustRun(t, `print("~ plus ~ is ~\n", 1, 2, 3)`)
	if out != "1 plus 2 is 3\n" {
		t.Errorf("unexpected print output: %q", out)
	}
}

func TestRunPrintFormatsObjectsAndArraysLikeTheCompiledBackend(t *testing.T) {
	_, out, _ := mustRun(t, `print("~", [2; 0])`)
	if out != "[0, 0]" {
		t.Errorf("unexpected array print output: %q", out)
	}
	_, out2, _ := mustRun(t, `print("~", object { let x = 1 })`)
	if out2 != "object(x=1)" {
		t.Errorf("unexpected object print output: %q", out2)
	}
}

func TestRunBooleanShortCircuitOperatorsAreStrict(t *testing.T) {
	v, _, it := mustRun(t, "true | false")
	if got := asBool(t, it, v); got != true {
		t.Errorf("expected true, got %v", got)
	}
	v2, _, it2 := mustRun(t, "true & false")
	if got := asBool(t, it2, v2); got != false {
		t.Errorf("expected false, got %v", got)
	}
	// Strict: the right operand runs even when the left already decides
	// the result.
	v3, _, it3 := mustRun(t, "let n = 0; false & { n = 1; true }; n")
	if got := asInt(t, it3, v3); got != 1 {
		t.Errorf("expected the right operand of & to be evaluated, n = %d", got)
	}
}

func TestRunGCReclaimsUnreachableTransientAllocations(t *testing.T) {
	// A tiny heap forces repeated collections across many short-lived
	// Integer allocations; only the final accumulator value needs to
	// survive, so this would exhaust the heap without a working
	// mark-and-sweep pass.
	src := `
		let sum = 0;
		let i = 0;
		while i < 2000 do {
			sum = sum + i * 2 - i;
			i = i + 1
		};
		sum
	`
	v, _, it, err := run(t, 4096, src)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := asInt(t, it, v); got != 1999000 {
		t.Errorf("expected 1999000, got %d", got)
	}
}

func TestRunGCReclaimsTransientArraysAndObjects(t *testing.T) {
	src := `
		let last = 0;
		let i = 0;
		while i < 200 do {
			let a = [4; i];
			let o = object { let v = a[0] };
			last = o.v;
			i = i + 1
		};
		last
	`
	v, _, it, err := run(t, 4096, src)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := asInt(t, it, v); got != 199 {
		t.Errorf("expected 199, got %d", got)
	}
}

func TestRunHeapExhaustionWithNoReclaimableGarbageFails(t *testing.T) {
	// Every array stays reachable via a growing chain, so collection can
	// never free enough to satisfy the next allocation.
	src := `
		let head = null;
		let i = 0;
		while i < 10000 do {
			let node = [2; 0];
			node[1] = head;
			head = node;
			i = i + 1
		};
		head
	`
	_, _, _, err := run(t, 4096, src)
	if err == nil {
		t.Fatalf("expected heap exhaustion once all live data outgrows the heap")
	}
	if !strings.Contains(err.Error(), "heap") {
		t.Logf("got non-heap-exhaustion error (acceptable if it is still a fault): %v", err)
	}
}

func TestRunWrongArgumentCountFaults(t *testing.T) {
	_, _, _, err := run(t, 1<<16, "function f(a, b) -> a + b; f(1)")
	if err == nil {
		t.Fatalf("expected a fault for a wrong argument count")
	}
}

func TestRunFunctionLiteralInLoopReusesRegistrySlot(t *testing.T) {
	// Re-evaluating the same *ast.Function node on every iteration must
	// not grow the interpreter's function registry without bound.
	_, _, it := mustRun(t, `
		let last = null;
		let i = 0;
		while i < 50 do {
			last = function (x) -> x;
			i = i + 1
		};
		last
	`)
	if len(it.funcs) != 1 {
		t.Errorf("expected the function registry to have exactly 1 entry, got %d", len(it.funcs))
	}
}
