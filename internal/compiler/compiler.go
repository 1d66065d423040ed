// Package compiler translates an AST (pkg/ast) into a populated constant
// pool, globals table and entry-point index, per the bytecode compiler
// design: per-function staging buffers, a compile-time scope stack with a
// high-water-mark local-slot allocator, and a forward-fixup mechanism for
// names used before their defining global is seen.
//
// Unlike the original reference compiler, which threads all of this
// through a handful of process-wide globals (a singleton "currently
// compiling functions" stack, a singleton fixup table, a singleton
// constant-pool cursor), this package carries the same state as fields of
// an explicit Compiler value. Nothing here is package-level mutable
// state, so nothing prevents compiling two programs concurrently or
// discarding a failed compile cleanly.
package compiler

import (
	"encoding/binary"
	"fmt"

	"taglang/internal/bcformat"
	"taglang/internal/constpool"
	"taglang/internal/value"
	"taglang/pkg/ast"
)

// Resource limits mirrored from the original compiler's fixed-size
// tables; exceeding any of these is a fatal compile error rather than an
// implementation-defined one; see spec §4.3's "Error conditions".
const (
	maxFunctions    = 1024
	maxVarsPerScope = 256
	maxScopeDepth   = 256
	maxFixups       = 64
)

// compileError is panicked for fatal, unrecoverable compile conditions
// and turned back into a plain error at the Compile boundary.
type compileError string

func (e compileError) Error() string { return string(e) }

func fail(format string, args ...interface{}) {
	panic(compileError(fmt.Sprintf(format, args...)))
}

// variable is one compile-time binding: either a local slot in the
// owning function's frame, or a name registered as a global (addressed
// by the constant-pool index of its name String).
type variable struct {
	name    string
	global  bool
	slot    uint16
	cpIndex uint16
}

// scope is one lexical nesting level's bindings, introduced by a
// function body, a `{...}` block, a loop body, or a branch of a
// conditional.
type scope struct {
	vars []variable
}

// funcCtx is the staging context for one function under compilation: its
// own bytecode buffer, its scope stack, and the local-slot allocator's
// high-water mark (the eventual Function constant's `locals` field).
type funcCtx struct {
	e *bcformat.Emitter

	scopes []*scope

	baseline uint16 // first slot number available to locals beyond this+params
	varI     uint16 // next slot to hand out
	highMark uint16 // peak (varI - baseline) seen, becomes the locals count

	cpIndex uint16 // meaningful once closed
	closed  bool
}

func (f *funcCtx) pushScope() {
	if len(f.scopes) >= maxScopeDepth {
		fail("too many nested scopes")
	}
	f.scopes = append(f.scopes, &scope{})
}

func (f *funcCtx) popScope() {
	s := f.scopes[len(f.scopes)-1]
	var local int
	for _, v := range s.vars {
		if !v.global {
			local++
		}
	}
	f.varI -= uint16(local)
	f.scopes = f.scopes[:len(f.scopes)-1]
}

func (f *funcCtx) top() *scope { return f.scopes[len(f.scopes)-1] }

func (f *funcCtx) bind(v variable) {
	if len(f.top().vars) >= maxVarsPerScope {
		fail("too many variables in one scope")
	}
	f.top().vars = append(f.top().vars, v)
}

func (f *funcCtx) allocLocal() uint16 {
	slot := f.varI
	f.varI++
	if f.varI-f.baseline > f.highMark {
		f.highMark = f.varI - f.baseline
	}
	return slot
}

// pendingFixup is a forward reference to a name assumed to eventually
// name a global: the bytecode already emitted a GET_GLOBAL/SET_GLOBAL
// with a placeholder operand, to be patched once the name resolves.
type pendingFixup struct {
	fn     *funcCtx
	opPos  int // position of the opcode byte within fn's body
	name   string
}

// Compiler holds everything needed to compile one program: the constant
// pool and globals table under construction, the stack of functions
// currently being compiled (funcs[0] is always the entry point, kept
// open until the very end since cross-function global lookups search its
// outermost scope), and the outstanding forward-fixup list.
type Compiler struct {
	pool    *constpool.Pool
	globals *constpool.Globals

	funcs  []*funcCtx
	fixups []*pendingFixup

	funcCount int

	stringConsts map[string]uint16
	intConsts    map[int32]uint16
	boolConsts   [2]uint16
	boolSet      [2]bool
	nullConst    uint16
	nullSet      bool
}

// New returns an empty Compiler.
func New() *Compiler {
	return &Compiler{
		pool:         constpool.New(),
		globals:      constpool.NewGlobals(),
		stringConsts: make(map[string]uint16),
		intConsts:    make(map[int32]uint16),
	}
}

func (c *Compiler) cur() *funcCtx   { return c.funcs[len(c.funcs)-1] }
func (c *Compiler) entry() *funcCtx { return c.funcs[0] }

// Compile translates top into a complete bcformat.Program. Any fatal
// compile condition (resource limits, an unrecognized node) is returned
// as an error rather than left to panic the caller.
func (c *Compiler) Compile(top *ast.Top) (prog *bcformat.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ce, ok := r.(compileError); ok {
				err = fmt.Errorf("compiler: %s", string(ce))
				return
			}
			panic(r)
		}
	}()

	c.openFunction(nil)
	c.compileSequence(top.Expressions)
	entryIdx := c.closeFunction()

	c.finalizeFixups()

	return &bcformat.Program{Constants: c.pool, Globals: c.globals, EntryPoint: entryIdx}, nil
}

// openFunction pushes a new funcCtx for a function with the given
// parameter names (nil for the entry point, which takes none beyond the
// implicit receiver) and binds `this` plus each parameter into its
// outermost scope.
func (c *Compiler) openFunction(params []string) uint16 {
	c.funcCount++
	if c.funcCount > maxFunctions {
		fail("too many functions")
	}
	baseline := uint16(len(params)) + 1
	cf := &funcCtx{e: bcformat.NewEmitter(), baseline: baseline, varI: baseline}
	cf.pushScope()
	cf.bind(variable{name: "this", slot: 0})
	for i, p := range params {
		cf.bind(variable{name: p, slot: uint16(i) + 1})
	}
	c.funcs = append(c.funcs, cf)
	return baseline
}

// closeFunction finishes the current (innermost) function: emits the
// trailing RETURN, copies the staged body into the constant pool as a
// Function record, marks the funcCtx closed (fixups targeting it must now
// patch the pool directly, not the emitter buffer, since the buffer's
// bytes have been copied out), and pops it off the compile stack.
func (c *Compiler) closeFunction() uint16 {
	cf := c.cur()
	cf.e.Op(bcformat.RETURN)
	idx := c.pool.AddFunction(uint8(cf.baseline), cf.highMark, cf.e.Bytes())
	cf.cpIndex = idx
	cf.closed = true
	c.funcs = c.funcs[:len(c.funcs)-1]
	return idx
}

// --- constant interning ---
//
// Integer/Boolean/Null constants are deduplicated by value: nothing
// about the instruction set requires a fresh constant-pool slot per use
// site (CONSTANT always materializes a fresh heap copy anyway, per spec
// §4.4), so sharing slots keeps the pool from growing with every literal
// occurrence. Strings are deduplicated by text for the same reason, and
// because method-selector names (the "+" in `a+b`, "get"/"set" for index
// sugar, a field name used at several call sites) would otherwise
// duplicate the same bytes repeatedly.

func (c *Compiler) internString(s string) uint16 {
	if idx, ok := c.stringConsts[s]; ok {
		return idx
	}
	idx := c.pool.AddString(s)
	c.stringConsts[s] = idx
	return idx
}

func (c *Compiler) internInt(v int32) uint16 {
	if idx, ok := c.intConsts[v]; ok {
		return idx
	}
	idx := c.pool.AddInteger(v)
	c.intConsts[v] = idx
	return idx
}

func (c *Compiler) internBool(v bool) uint16 {
	i := 0
	if v {
		i = 1
	}
	if c.boolSet[i] {
		return c.boolConsts[i]
	}
	idx := c.pool.AddBoolean(v)
	c.boolConsts[i] = idx
	c.boolSet[i] = true
	return idx
}

func (c *Compiler) internNull() uint16 {
	if c.nullSet {
		return c.nullConst
	}
	c.nullConst = c.pool.AddNull()
	c.nullSet = true
	return c.nullConst
}

// --- name resolution ---

// resolve searches the current function's scope stack top-down, then
// (only if the current function isn't itself the entry point) the entry
// point's outermost scope, matching spec §4.3's "global vs local
// resolution": a name is global iff it was bound in the entry-point
// function's outermost scope, wherever in the program that binding is
// looked up from.
func (c *Compiler) resolve(name string) (v variable, found bool) {
	cf := c.cur()
	for i := len(cf.scopes) - 1; i >= 0; i-- {
		s := cf.scopes[i]
		for j := len(s.vars) - 1; j >= 0; j-- {
			if s.vars[j].name == name {
				return s.vars[j], true
			}
		}
	}
	if cf == c.entry() {
		return variable{}, false
	}
	outer := c.entry().scopes[0]
	for j := len(outer.vars) - 1; j >= 0; j-- {
		if outer.vars[j].name == name && outer.vars[j].global {
			return outer.vars[j], true
		}
	}
	return variable{}, false
}

// addFixup records a forward reference at the opcode position opPos in
// the current function, to be patched once name resolves to a global.
func (c *Compiler) addFixup(opPos int, name string) {
	if len(c.fixups) >= maxFixups {
		fail("too many unresolved forward references")
	}
	c.fixups = append(c.fixups, &pendingFixup{fn: c.cur(), opPos: opPos, name: name})
}

// resolveFixups patches and discards every pending fixup matching name,
// called as soon as a global definition gives that name a constant-pool
// index — including forward references recorded earlier in the very same
// function, which the original's fixup() could not reach since it only
// scanned already-finished functions.
func (c *Compiler) resolveFixups(name string, cpIdx uint16) {
	remaining := c.fixups[:0]
	for _, fx := range c.fixups {
		if fx.name != name {
			remaining = append(remaining, fx)
			continue
		}
		c.patchFixup(fx, cpIdx)
	}
	c.fixups = remaining
}

// patchFixup writes cpIdx into the u16 operand at fx.opPos+1, either
// directly in the owning function's still-open staging buffer, or (if
// that function has already been copied into the constant pool) into the
// pool's own backing bytes via the live body slice value.FunctionBody
// returns — patching the copy in place, since it aliases the pool's
// storage.
func (c *Compiler) patchFixup(fx *pendingFixup, cpIdx uint16) {
	if !fx.fn.closed {
		fx.fn.e.PatchU16(fx.opPos, cpIdx)
		return
	}
	body := value.FunctionBody(c.pool.Bytes(), c.pool.Offset(fx.fn.cpIndex))
	binary.LittleEndian.PutUint16(body[fx.opPos+1:], cpIdx)
}

// finalizeFixups is spec §4.3's "final fixup" pass: any reference still
// unresolved once the whole program has compiled names an undefined
// global, which is defined lazily here (registered, left Null at run
// time) rather than rejected.
func (c *Compiler) finalizeFixups() {
	resolved := make(map[string]uint16)
	for _, fx := range c.fixups {
		idx, ok := resolved[fx.name]
		if !ok {
			idx = c.internString(fx.name)
			c.globals.Set(idx, value.Value{})
			resolved[fx.name] = idx
		}
		c.patchFixup(fx, idx)
	}
	c.fixups = nil
}

// defineGlobal registers name as a global (a String constant plus a
// Globals entry), binds it into the entry point's outermost scope so
// later lookups within this compile find it directly, and resolves any
// outstanding forward references to it.
func (c *Compiler) defineGlobal(name string) uint16 {
	idx := c.internString(name)
	c.globals.Set(idx, value.Value{})
	c.entry().scopes[0].vars = append(c.entry().scopes[0].vars, variable{name: name, global: true, cpIndex: idx})
	c.resolveFixups(name, idx)
	return idx
}

func (c *Compiler) defineLocal(name string) uint16 {
	cf := c.cur()
	slot := cf.allocLocal()
	cf.bind(variable{name: name, slot: slot})
	return slot
}

// --- compilation ---

func (c *Compiler) compileSequence(exprs []ast.Node) {
	e := c.cur().e
	if len(exprs) == 0 {
		e.OpU16(bcformat.CONSTANT, c.internNull())
		return
	}
	for i, expr := range exprs {
		c.compile(expr)
		if i < len(exprs)-1 {
			e.Op(bcformat.DROP)
		}
	}
}

func (c *Compiler) compile(n ast.Node) {
	switch t := n.(type) {
	case *ast.Integer:
		c.cur().e.OpU16(bcformat.CONSTANT, c.internInt(t.Value))
	case *ast.Boolean:
		c.cur().e.OpU16(bcformat.CONSTANT, c.internBool(t.Value))
	case *ast.Null:
		c.cur().e.OpU16(bcformat.CONSTANT, c.internNull())
	case *ast.Definition:
		c.compileDefinition(t)
	case *ast.VariableAccess:
		c.compileVariableAccess(t)
	case *ast.VariableAssignment:
		c.compileVariableAssignment(t)
	case *ast.Function:
		c.compileFunctionLiteral(t)
	case *ast.FunctionCall:
		c.compile(t.Function)
		for _, a := range t.Arguments {
			c.compile(a)
		}
		c.cur().e.OpU8(bcformat.CALL_FUNCTION, uint8(len(t.Arguments)))
	case *ast.MethodCall:
		c.compile(t.Object)
		for _, a := range t.Arguments {
			c.compile(a)
		}
		c.cur().e.OpU16U8(bcformat.CALL_METHOD, c.internString(t.Name), uint8(len(t.Arguments)+1))
	case *ast.Print:
		for _, a := range t.Arguments {
			c.compile(a)
		}
		c.cur().e.OpU16U8(bcformat.PRINT, c.internString(t.Format), uint8(len(t.Arguments)))
	case *ast.Block:
		c.compileBlock(t)
	case *ast.Conditional:
		c.compileConditional(t)
	case *ast.Loop:
		c.compileLoop(t)
	case *ast.Array:
		c.compileArray(t)
	case *ast.IndexAccess:
		c.compile(t.Object)
		c.compile(t.Index)
		c.cur().e.OpU16U8(bcformat.CALL_METHOD, c.internString("get"), 2)
	case *ast.IndexAssignment:
		c.compile(t.Object)
		c.compile(t.Index)
		c.compile(t.Value)
		c.cur().e.OpU16U8(bcformat.CALL_METHOD, c.internString("set"), 3)
	case *ast.Object:
		c.compileObjectLiteral(t)
	case *ast.FieldAccess:
		c.compile(t.Object)
		c.cur().e.OpU16(bcformat.GET_FIELD, c.internString(t.Field))
	case *ast.FieldAssignment:
		c.compile(t.Object)
		c.compile(t.Value)
		c.cur().e.OpU16(bcformat.SET_FIELD, c.internString(t.Field))
	default:
		fail("unsupported AST node %T", n)
	}
}

// compileDefinition implements spec §4.3's global-vs-local placement
// rule directly: a `let` seen while compiling the entry point with no
// block currently open binds a global; anywhere else it binds a local.
func (c *Compiler) compileDefinition(def *ast.Definition) {
	c.compile(def.Value)
	cf := c.cur()
	if cf == c.entry() && len(cf.scopes) == 1 {
		idx := c.defineGlobal(def.Name)
		cf.e.OpU16(bcformat.SET_GLOBAL, idx)
	} else {
		slot := c.defineLocal(def.Name)
		cf.e.OpU16(bcformat.SET_LOCAL, slot)
	}
}

func (c *Compiler) compileVariableAccess(v *ast.VariableAccess) {
	cf := c.cur()
	vr, found := c.resolve(v.Name)
	if !found {
		pos := cf.e.OpU16(bcformat.GET_GLOBAL, 0)
		c.addFixup(pos, v.Name)
		return
	}
	if vr.global {
		cf.e.OpU16(bcformat.GET_GLOBAL, vr.cpIndex)
	} else {
		cf.e.OpU16(bcformat.GET_LOCAL, vr.slot)
	}
}

// compileVariableAssignment always treats an undefined name as a forward
// global reference rather than creating a new local binding — a
// deliberate, documented divergence from the AST interpreter (see
// SPEC_FULL.md §5.6 and DESIGN.md's Open Question (a)), matching the
// original compiler's own AST_VARIABLE_ASSIGNMENT handling.
func (c *Compiler) compileVariableAssignment(va *ast.VariableAssignment) {
	c.compile(va.Value)
	cf := c.cur()
	vr, found := c.resolve(va.Name)
	if !found {
		pos := cf.e.OpU16(bcformat.SET_GLOBAL, 0)
		c.addFixup(pos, va.Name)
		return
	}
	if vr.global {
		cf.e.OpU16(bcformat.SET_GLOBAL, vr.cpIndex)
	} else {
		cf.e.OpU16(bcformat.SET_LOCAL, vr.slot)
	}
}

// compileFunctionLiteral compiles fn as an independent function (its own
// staging buffer, scope stack and local-slot space), then — back in the
// enclosing function, which is why this must happen after the nested
// function's epilogue has run — pushes a CONSTANT referencing the
// now-known constant-pool index.
func (c *Compiler) compileFunctionLiteral(fn *ast.Function) {
	c.openFunction(fn.Parameters)
	c.compile(fn.Body)
	idx := c.closeFunction()
	c.cur().e.OpU16(bcformat.CONSTANT, idx)
}

func (c *Compiler) compileBlock(b *ast.Block) {
	cf := c.cur()
	cf.pushScope()
	c.compileSequence(b.Expressions)
	cf.popScope()
}

// compileConditional lowers `if cond then A else B` to:
//
//	<cond> BRANCH +3 JUMP <else> <A> JUMP <end> <else:> <B> <end:>
//
// BRANCH's fixed +3 skips exactly the 3-byte JUMP that follows it, so a
// truthy condition falls straight into A; a falsy one falls through to
// the JUMP that sends it to B.
func (c *Compiler) compileConditional(n *ast.Conditional) {
	cf := c.cur()
	e := cf.e
	c.compile(n.Condition)
	e.OpI16(bcformat.BRANCH, 3)
	jumpElse := e.OpI16(bcformat.JUMP, 0)

	cf.pushScope()
	c.compile(n.Consequent)
	cf.popScope()
	jumpEnd := e.OpI16(bcformat.JUMP, 0)

	elseStart := e.Len()
	e.PatchI16(jumpElse, int16(elseStart-(jumpElse+3)))

	cf.pushScope()
	c.compile(n.Alternative)
	cf.popScope()

	end := e.Len()
	e.PatchI16(jumpEnd, int16(end-(jumpEnd+3)))
}

// compileLoop lowers `while cond do body` to:
//
//	CONSTANT null
//	L0: <cond> BRANCH +3 JUMP <after> DROP <body> JUMP L0
//	after:
//
// The leading Null is the loop's value if it never runs; the DROP
// discards the previous iteration's value (or that leading Null) so the
// loop's final value is its last body evaluation.
func (c *Compiler) compileLoop(n *ast.Loop) {
	cf := c.cur()
	e := cf.e
	e.OpU16(bcformat.CONSTANT, c.internNull())

	loopStart := e.Len()
	c.compile(n.Condition)
	e.OpI16(bcformat.BRANCH, 3)
	jumpAfter := e.OpI16(bcformat.JUMP, 0)
	e.Op(bcformat.DROP)

	cf.pushScope()
	c.compile(n.Body)
	cf.popScope()

	jumpBack := e.OpI16(bcformat.JUMP, 0)
	e.PatchI16(jumpBack, int16(loopStart-(jumpBack+3)))

	after := e.Len()
	e.PatchI16(jumpAfter, int16(after-(jumpAfter+3)))
}

// compileArray lowers `[size; init]`. A literal or bare-name initializer
// is side-effect free and evaluates to the same value on every use, so it
// compiles to a single ARRAY op that fills every cell with one evaluation
// of init. Anything else needs a fresh evaluation per cell (spec §4.3;
// matches the AST interpreter's own re-evaluate-per-index semantics), so
// it lowers to a synthesized counting loop over three hidden locals.
func (c *Compiler) compileArray(a *ast.Array) {
	if isSimpleArrayInit(a.Initializer) {
		c.compile(a.Size)
		c.compile(a.Initializer)
		c.cur().e.Op(bcformat.ARRAY)
		return
	}
	c.compileDynamicArray(a)
}

func isSimpleArrayInit(n ast.Node) bool {
	switch n.(type) {
	case *ast.Integer, *ast.Boolean, *ast.Null, *ast.VariableAccess:
		return true
	default:
		return false
	}
}

func (c *Compiler) compileDynamicArray(a *ast.Array) {
	cf := c.cur()
	e := cf.e

	sizeSlot := cf.allocLocal()
	arraySlot := cf.allocLocal()
	iterSlot := cf.allocLocal()

	c.compile(a.Size)
	e.OpU16(bcformat.SET_LOCAL, sizeSlot)
	e.Op(bcformat.DROP)

	e.OpU16(bcformat.GET_LOCAL, sizeSlot)
	e.OpU16(bcformat.CONSTANT, c.internNull())
	e.Op(bcformat.ARRAY)
	e.OpU16(bcformat.SET_LOCAL, arraySlot)
	e.Op(bcformat.DROP)

	e.OpU16(bcformat.CONSTANT, c.internInt(0))
	e.OpU16(bcformat.SET_LOCAL, iterSlot)
	e.Op(bcformat.DROP)

	loopStart := e.Len()
	e.OpU16(bcformat.GET_LOCAL, iterSlot)
	e.OpU16(bcformat.GET_LOCAL, sizeSlot)
	e.OpU16U8(bcformat.CALL_METHOD, c.internString("<"), 2)
	e.OpI16(bcformat.BRANCH, 3)
	jumpAfter := e.OpI16(bcformat.JUMP, 0)

	e.OpU16(bcformat.GET_LOCAL, arraySlot)
	e.OpU16(bcformat.GET_LOCAL, iterSlot)
	cf.pushScope()
	c.compile(a.Initializer)
	cf.popScope()
	e.OpU16U8(bcformat.CALL_METHOD, c.internString("set"), 3)
	e.Op(bcformat.DROP)

	e.OpU16(bcformat.GET_LOCAL, iterSlot)
	e.OpU16(bcformat.CONSTANT, c.internInt(1))
	e.OpU16U8(bcformat.CALL_METHOD, c.internString("+"), 2)
	e.OpU16(bcformat.SET_LOCAL, iterSlot)
	e.Op(bcformat.DROP)

	jumpBack := e.OpI16(bcformat.JUMP, 0)
	e.PatchI16(jumpBack, int16(loopStart-(jumpBack+3)))

	after := e.Len()
	e.PatchI16(jumpAfter, int16(after-(jumpAfter+3)))

	e.OpU16(bcformat.GET_LOCAL, arraySlot)
}

// compileObjectLiteral compiles `object [extends E] { members }`. Parent
// is pushed first (E, or Null if there is no `extends` clause), then each
// member's value in declaration order, matching OBJECT's stack
// expectations exactly. Each member's value is compiled in its own
// throwaway scope so a `let` inside one member's expression can't leak
// into the next.
func (c *Compiler) compileObjectLiteral(o *ast.Object) {
	cf := c.cur()
	if o.Extends != nil {
		c.compile(o.Extends)
	} else {
		cf.e.OpU16(bcformat.CONSTANT, c.internNull())
	}

	memberNames := make([]uint16, len(o.Members))
	for i, m := range o.Members {
		cf.pushScope()
		c.compile(m.Value)
		cf.popScope()
		memberNames[i] = c.internString(m.Name)
	}
	classIdx := c.pool.AddClass(memberNames)
	cf.e.OpU16(bcformat.OBJECT, classIdx)
}
