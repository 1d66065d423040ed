// Package constpool implements the immutable constant pool and globals
// table shared by the compiler, the serializer and the VM.
//
// The pool is an append-only byte arena, structurally identical in record
// layout to internal/heap's managed region but never collected: constants
// outlive the whole run and are addressed with value.Value{Region:
// value.RegionConst}. A side index maps each constant-pool slot number
// (the 16-bit index bytecode operands and on-disk records refer to) to its
// byte offset in the arena, since records are variably sized.
package constpool

import "taglang/internal/value"

// Pool is the constant-pool byte arena plus its slot index.
type Pool struct {
	data    []byte
	offsets []uint32 // slot index -> byte offset
}

// New returns an empty constant pool.
func New() *Pool {
	return &Pool{}
}

// Bytes returns the backing arena. Offsets returned by Offset are indices
// into this slice.
func (p *Pool) Bytes() []byte { return p.data }

// Len returns the number of constants currently in the pool.
func (p *Pool) Len() int { return len(p.offsets) }

// Offset returns the byte offset of the constant at slot idx.
func (p *Pool) Offset(idx uint16) uint32 { return p.offsets[idx] }

// Value returns a value.Value addressing the constant at slot idx.
func (p *Pool) Value(idx uint16) value.Value {
	return value.Value{Region: value.RegionConst, Off: p.offsets[idx]}
}

func (p *Pool) reserve(sz uint32) uint32 {
	off := uint32(len(p.data))
	p.data = append(p.data, make([]byte, sz)...)
	return off
}

func (p *Pool) register(off uint32) uint16 {
	idx := uint16(len(p.offsets))
	p.offsets = append(p.offsets, off)
	return idx
}

// AddInteger appends an Integer constant and returns its slot index.
func (p *Pool) AddInteger(v int32) uint16 {
	off := p.reserve(value.IntegerSize)
	value.PutInteger(p.data, off, v)
	return p.register(off)
}

// AddBoolean appends a Boolean constant and returns its slot index.
func (p *Pool) AddBoolean(v bool) uint16 {
	off := p.reserve(value.BooleanSize)
	value.PutBoolean(p.data, off, v)
	return p.register(off)
}

// AddNull appends the Null constant and returns its slot index.
func (p *Pool) AddNull() uint16 {
	off := p.reserve(value.NullSize)
	value.PutNull(p.data, off)
	return p.register(off)
}

// AddString appends a String constant and returns its slot index.
func (p *Pool) AddString(s string) uint16 {
	off := p.reserve(value.StringSize(uint32(len(s))))
	value.PutString(p.data, off, s)
	return p.register(off)
}

// AddFunction appends a Function constant (params/locals/body) and
// returns its slot index.
func (p *Pool) AddFunction(params uint8, locals uint16, body []byte) uint16 {
	off := p.reserve(value.FunctionSize(uint32(len(body))))
	value.PutFunctionHeader(p.data, off, params, locals, uint32(len(body)))
	copy(p.data[off+8:], body)
	return p.register(off)
}

// SetFunctionLocals patches the locals field of a previously added
// Function constant. The compiler does not call it: it adds each
// function only once its locals count is final and passes that count to
// AddFunction.
func (p *Pool) SetFunctionLocals(idx uint16, locals uint16) {
	value.SetFunctionLocals(p.data, p.offsets[idx], locals)
}

// AddClass appends a Class constant (a list of member-name constant pool
// indices) and returns its slot index.
func (p *Pool) AddClass(memberNameIdx []uint16) uint16 {
	off := p.reserve(value.ClassSize(uint32(len(memberNameIdx))))
	value.PutClassHeader(p.data, off, uint16(len(memberNameIdx)))
	for i, nameIdx := range memberNameIdx {
		value.PutClassMember(p.data, off, uint16(i), nameIdx)
	}
	return p.register(off)
}

// AppendRaw appends a pre-encoded record and returns its slot index. The
// deserializer does not use it; it rebuilds each constant through the
// Add* methods. The caller is responsible for the record being
// well-formed and self-describing (its own tag + length fields correct).
func (p *Pool) AppendRaw(record []byte) uint16 {
	off := p.reserve(uint32(len(record)))
	copy(p.data[off:], record)
	return p.register(off)
}

// Globals is the sparse global-variable table: parallel slices mapping a
// constant-pool index (the global's name, a String constant) to its
// current Value. Kept as two parallel slices rather than a map so empty
// slots at startup are simply absent entries instead of a map with a
// zero-Value sentinel a real value could be confused with.
type Globals struct {
	Indices []uint16
	Values  []value.Value
}

// NewGlobals returns an empty globals table.
func NewGlobals() *Globals {
	return &Globals{}
}

// Lookup returns the value bound to the global named by constant-pool
// index nameIdx, and whether it is defined.
func (g *Globals) Lookup(nameIdx uint16) (value.Value, bool) {
	for i, idx := range g.Indices {
		if idx == nameIdx {
			return g.Values[i], true
		}
	}
	return value.Value{}, false
}

// Set binds (or rebinds) the global named by constant-pool index nameIdx
// to v.
func (g *Globals) Set(nameIdx uint16, v value.Value) {
	for i, idx := range g.Indices {
		if idx == nameIdx {
			g.Values[i] = v
			return
		}
	}
	g.Indices = append(g.Indices, nameIdx)
	g.Values = append(g.Values, v)
}

// Declared reports whether nameIdx has been registered as a global at
// all, regardless of its current value. Only declared indices are legal
// SET_GLOBAL / GET_GLOBAL targets (spec §3.3).
func (g *Globals) Declared(nameIdx uint16) bool {
	for _, idx := range g.Indices {
		if idx == nameIdx {
			return true
		}
	}
	return false
}

// SetIfDeclared assigns v to the global named by nameIdx only if it was
// already declared, returning whether the assignment took place. Unlike
// Set, it never implicitly declares a new global — SET_GLOBAL on an
// undeclared name is a VM-time fault, not a silent definition.
func (g *Globals) SetIfDeclared(nameIdx uint16, v value.Value) bool {
	for i, idx := range g.Indices {
		if idx == nameIdx {
			g.Values[i] = v
			return true
		}
	}
	return false
}

// Slots returns the current value of every declared global. The
// collector's root set does not include it.
func (g *Globals) Slots() []value.Value { return g.Values }
