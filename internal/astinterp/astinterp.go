// Package astinterp implements the tree-walking reference interpreter:
// it evaluates an *ast.Top directly against the same managed heap the
// bytecode backend uses, through a lexical environment chain instead of
// compiled locals/globals tables.
//
// It exists to give spec's round-trip property (ast_interpret, run, and
// the deserialize-then-bc_interpret path must agree on standard output)
// real, checkable behavior, grounded in original_source's
// src/ast/ast_interpreter.c. Functions here do not close over their
// defining environment: a call always starts a brand new environment
// whose only visibility into the outside world is the global scope,
// exactly mirroring the bytecode backend's local-or-global split (spec
// §4.3) and the original's push_env/get_var_ptr fallback.
package astinterp

import (
	"io"
	"os"

	"taglang/internal/constpool"
	"taglang/internal/gc"
	"taglang/internal/heap"
	"taglang/internal/value"
	"taglang/pkg/ast"
)

// binding is one (name, value) pair in a lexical scope. Later bindings of
// the same name in the same scope shadow earlier ones during lookup,
// since lookup always scans from the most recently added entry.
type binding struct {
	name string
	val  value.Value
}

// environment is one call's scope stack. A plain function or method call
// starts a fresh environment with a single empty scope; push/popScope
// grow and shrink it for nested blocks, loop bodies and branches.
type environment struct {
	scopes [][]binding
}

// Interpreter holds all state for one tree-walking run: the shared heap,
// a private constant pool used only to intern object field names (the
// heap's Object record layout addresses field names by constant-pool
// index regardless of which backend built the object, see
// internal/value's PutObjectField), and the environment-chain stack.
type Interpreter struct {
	Heap *heap.Heap

	pool      *constpool.Pool
	stringIdx map[string]uint16

	funcIdx map[*ast.Function]uint16
	funcs   []*ast.Function

	envs []*environment
	aux  []value.Value

	null value.Value

	Stdout io.Writer
}

// New constructs an Interpreter over the given heap h.
// Collection is wired exactly as the VM wires it: Heap.Alloc triggers
// gc.Collect against this Interpreter's own root set when no free span
// fits.
func New(h *heap.Heap) (*Interpreter, error) {
	it := &Interpreter{
		Heap:      h,
		pool:      constpool.New(),
		stringIdx: make(map[string]uint16),
		funcIdx:   make(map[*ast.Function]uint16),
		envs:      []*environment{{scopes: [][]binding{nil}}},
		Stdout:    os.Stdout,
	}
	nullOff, err := h.ConstructNull()
	if err != nil {
		return nil, err
	}
	it.null = value.Value{Region: value.RegionHeap, Off: nullOff}
	it.pushAux(it.null)

	h.Collect = func() {
		gc.Collect(h, it.roots())
	}
	return it, nil
}

// Run evaluates every top-level expression in order against the global
// environment (env 0's sole initial scope) and returns the value of the
// last one (Null for an empty program).
func (it *Interpreter) Run(top *ast.Top) (value.Value, error) {
	result := it.null
	for _, expr := range top.Expressions {
		v, err := it.eval(expr)
		if err != nil {
			return value.Value{}, err
		}
		result = v
	}
	return result, nil
}

// --- environment chain ---

func (it *Interpreter) curEnv() *environment { return it.envs[len(it.envs)-1] }

func (it *Interpreter) pushEnv() {
	it.envs = append(it.envs, &environment{scopes: [][]binding{nil}})
}

func (it *Interpreter) popEnv() {
	it.envs = it.envs[:len(it.envs)-1]
}

func (it *Interpreter) pushScope() {
	e := it.curEnv()
	e.scopes = append(e.scopes, nil)
}

func (it *Interpreter) popScope() {
	e := it.curEnv()
	e.scopes = e.scopes[:len(e.scopes)-1]
}

// define adds name as a brand new binding in the current environment's
// innermost scope, shadowing any existing binding of the same name
// visible from here. Used by `let`, by parameter/receiver binding at
// call entry, and by the undefined-assignment fallback (spec §9 Open
// Question (a)).
func (it *Interpreter) define(name string, v value.Value) {
	e := it.curEnv()
	last := len(e.scopes) - 1
	e.scopes[last] = append(e.scopes[last], binding{name: name, val: v})
}

// findInEnv searches one environment's scopes from innermost to
// outermost, and within a scope from most to least recently added,
// mirroring the original's find_in_env. It returns the scope slice and
// index of the match rather than a pointer, since a later `define` on
// the same scope (appending to its backing slice) could otherwise leave
// a raw pointer stale.
func findInEnv(e *environment, name string) (scopeIdx, bindIdx int, ok bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		scope := e.scopes[i]
		for j := len(scope) - 1; j >= 0; j-- {
			if scope[j].name == name {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// lookupVar reads name's current value, searching the current
// environment first and falling back to the global environment's
// outermost scope only — never the global environment's nested scopes —
// matching the original's get_var_ptr/find_in_env(&envs[GLOBAL_ENV_
// INDEX], 0) pairing and this project's "global iff resolved in the
// entry point's outermost scope" rule from spec §4.3.
func (it *Interpreter) lookupVar(name string) (value.Value, bool) {
	if si, bi, ok := findInEnv(it.curEnv(), name); ok {
		return it.curEnv().scopes[si][bi].val, true
	}
	global := it.envs[0]
	for j := len(global.scopes[0]) - 1; j >= 0; j-- {
		if global.scopes[0][j].name == name {
			return global.scopes[0][j].val, true
		}
	}
	return value.Value{}, false
}

// assignVar overwrites name's existing binding in place (current
// environment first, then the global environment's outermost scope) and
// reports whether a binding was found at all.
func (it *Interpreter) assignVar(name string, v value.Value) bool {
	if si, bi, ok := findInEnv(it.curEnv(), name); ok {
		it.curEnv().scopes[si][bi].val = v
		return true
	}
	global := it.envs[0]
	for j := len(global.scopes[0]) - 1; j >= 0; j-- {
		if global.scopes[0][j].name == name {
			global.scopes[0][j].val = v
			return true
		}
	}
	return false
}

// --- GC rooting ---

func (it *Interpreter) pushAux(vs ...value.Value) { it.aux = append(it.aux, vs...) }
func (it *Interpreter) popAux(n int)              { it.aux = it.aux[:len(it.aux)-n] }

// roots reports every value reachable from the environment chain plus
// the auxiliary stack as a single flat root set, the tree-walker's
// analogue of the VM's frame locals and operand stack.
func (it *Interpreter) roots() *gc.Roots {
	var frames []gc.Frame
	for _, e := range it.envs {
		for _, scope := range e.scopes {
			if len(scope) == 0 {
				continue
			}
			vals := make([]value.Value, len(scope))
			for i, b := range scope {
				vals[i] = b.val
			}
			frames = append(frames, gc.Frame{Locals: vals})
		}
	}
	return &gc.Roots{Frames: frames, Aux: it.aux}
}

// --- string interning (object field names only) ---

func (it *Interpreter) internString(s string) uint16 {
	if idx, ok := it.stringIdx[s]; ok {
		return idx
	}
	idx := it.pool.AddString(s)
	it.stringIdx[s] = idx
	return idx
}

// --- function values ---

// internFunc assigns fn a stable registry slot, reusing the same slot on
// every subsequent evaluation of the same *ast.Function node (e.g. a
// function literal re-evaluated on each iteration of a loop) so the
// registry only grows once per distinct function literal in the source.
func (it *Interpreter) internFunc(fn *ast.Function) uint16 {
	if idx, ok := it.funcIdx[fn]; ok {
		return idx
	}
	idx := uint16(len(it.funcs))
	it.funcs = append(it.funcs, fn)
	it.funcIdx[fn] = idx
	return idx
}

// constructFunction allocates a fresh heap Function record wrapping fn.
// The record carries no bytecode body (bodyLen 0, params 0 — both fields
// are meaningless for this backend); the registry slot is smuggled
// through the locals field, the only other place a Function header has
// room for a 16-bit number. This mirrors the original's construct_ast_
// function, which likewise stores nothing but a raw pointer to the
// AstFunction node inside an otherwise-unused heap record.
func (it *Interpreter) constructFunction(fn *ast.Function) (value.Value, error) {
	idx := it.internFunc(fn)
	off, err := it.Heap.Alloc(value.FunctionSize(0))
	if err != nil {
		return value.Value{}, err
	}
	value.PutFunctionHeader(it.Heap.Bytes(), off, 0, idx, 0)
	return value.Value{Region: value.RegionHeap, Off: off}, nil
}

func (it *Interpreter) funcNodeOf(fn value.Value) *ast.Function {
	mem := it.regionBytes(fn)
	idx := value.FunctionLocals(mem, fn.Off)
	return it.funcs[idx]
}

// callFunction starts a brand new environment (this language has no
// closures: a call sees only its own locals and the global scope),
// binds `this` and the parameters, evaluates the body, and tears the
// environment down again.
func (it *Interpreter) callFunction(fn *ast.Function, receiver value.Value, args []value.Value) (value.Value, error) {
	if len(args) != len(fn.Parameters) {
		return value.Value{}, newFault("wrong argument count: function %q expects %d params, got %d", fn.Name, len(fn.Parameters), len(args))
	}
	it.pushEnv()
	defer it.popEnv()
	it.define("this", receiver)
	for i, p := range fn.Parameters {
		it.define(p, args[i])
	}
	return it.eval(fn.Body)
}

func (it *Interpreter) regionBytes(v value.Value) []byte {
	if v.Region == value.RegionConst {
		return it.pool.Bytes()
	}
	return it.Heap.Bytes()
}

// truthy implements the falsy-iff-Null-or-false rule from spec §4.4.
func (it *Interpreter) truthy(v value.Value) bool {
	mem := it.regionBytes(v)
	switch value.TagAt(mem, v.Off) {
	case value.KindNull:
		return false
	case value.KindBoolean:
		return value.GetBoolean(mem, v.Off)
	default:
		return true
	}
}
