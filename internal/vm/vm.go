// Package vm implements the bytecode virtual machine: a dispatch loop
// over bcformat's instruction set, an operand stack, a frame stack, and
// the built-in dispatch table for primitive and array receivers.
package vm

import (
	"encoding/binary"
	"io"
	"os"

	"taglang/internal/bcformat"
	"taglang/internal/constpool"
	"taglang/internal/gc"
	"taglang/internal/heap"
	"taglang/internal/value"
)

// frame is one call frame: the callee's locals, its bytecode body, and
// the instruction pointer to resume the caller at on RETURN.
type frame struct {
	locals []value.Value
	body   []byte
	ip     int

	callerBody []byte
	callerIP   int
}

// VM holds all mutable interpreter state for one run: the heap, constant
// pool, globals table, operand stack and frame stack.
type VM struct {
	Heap    *heap.Heap
	Pool    *constpool.Pool
	Globals *constpool.Globals

	stack  []value.Value
	frames []frame
	aux    []value.Value

	null value.Value

	Stdout io.Writer
}

// New constructs a VM over the given heap and constant pool. Every global
// declared in globals is initialized to the Null sentinel, matching the
// original's bc_init (globals.values[i] = global_null for every i).
func New(h *heap.Heap, pool *constpool.Pool, globals *constpool.Globals) (*VM, error) {
	m := &VM{Heap: h, Pool: pool, Globals: globals, Stdout: os.Stdout}

	nullOff, err := h.ConstructNull()
	if err != nil {
		return nil, err
	}
	m.null = value.Value{Region: value.RegionHeap, Off: nullOff}
	m.pushAux(m.null)

	for i, idx := range globals.Indices {
		_ = idx
		globals.Values[i] = m.null
	}

	h.Collect = func() {
		gc.Collect(h, m.roots())
	}
	return m, nil
}

func (m *VM) roots() *gc.Roots {
	frames := make([]gc.Frame, len(m.frames))
	for i, f := range m.frames {
		frames[i] = gc.Frame{Locals: f.locals}
	}
	return &gc.Roots{Frames: frames, Stack: m.stack, Aux: m.aux}
}

// pushAux roots an intermediate value across an allocation that would
// otherwise be invisible to the collector (not yet on the operand stack,
// not yet in a frame's locals). Callers must pop it with popAux once the
// value has been stored somewhere else reachable.
func (m *VM) pushAux(v value.Value) { m.aux = append(m.aux, v) }

func (m *VM) popAux(n int) { m.aux = m.aux[:len(m.aux)-n] }

func (m *VM) push(v value.Value) { m.stack = append(m.stack, v) }

func (m *VM) pop() (value.Value, error) {
	if len(m.stack) == 0 {
		return value.Value{}, newFault("operand stack underflow")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *VM) popN(n int) ([]value.Value, error) {
	if len(m.stack) < n {
		return nil, newFault("operand stack underflow: need %d, have %d", n, len(m.stack))
	}
	vs := append([]value.Value(nil), m.stack[len(m.stack)-n:]...)
	m.stack = m.stack[:len(m.stack)-n]
	return vs, nil
}

func (m *VM) peek() (value.Value, error) {
	if len(m.stack) == 0 {
		return value.Value{}, newFault("operand stack underflow")
	}
	return m.stack[len(m.stack)-1], nil
}

func (m *VM) cur() *frame { return &m.frames[len(m.frames)-1] }

// Run invokes the function at constant-pool index entry as if by
// CALL_FUNCTION 0 with a Null receiver, and runs the dispatch loop until
// the frame stack empties.
func (m *VM) Run(entry uint16) error {
	fnOff := m.Pool.Offset(entry)
	if err := m.enterFunction(fnOff, nil, m.null); err != nil {
		return err
	}
	return m.loop()
}

// enterFunction pushes a new call frame for the Function constant-pool
// record at fnOff, binding args to locals[1..] and receiver to locals[0].
func (m *VM) enterFunction(fnOff uint32, args []value.Value, receiver value.Value) error {
	mem := m.Pool.Bytes()
	params := int(value.FunctionParams(mem, fnOff))
	locals := int(value.FunctionLocals(mem, fnOff))
	if len(args)+1 != params {
		return newFault("wrong argument count: function expects %d params, got %d", params, len(args)+1)
	}
	slots := make([]value.Value, params+locals)
	slots[0] = receiver
	copy(slots[1:], args)
	for i := params; i < len(slots); i++ {
		slots[i] = m.null
	}

	var callerBody []byte
	callerIP := 0
	if len(m.frames) > 0 {
		c := m.cur()
		callerBody, callerIP = c.body, c.ip
	}
	m.frames = append(m.frames, frame{
		locals:     slots,
		body:       value.FunctionBody(mem, fnOff),
		ip:         0,
		callerBody: callerBody,
		callerIP:   callerIP,
	})
	return nil
}

func (m *VM) loop() error {
	for len(m.frames) > 0 {
		f := m.cur()
		if f.ip >= len(f.body) {
			return newFault("instruction pointer ran off the end of function body")
		}
		op := bcformat.Op(f.body[f.ip])
		f.ip++
		if err := m.dispatch(op, f); err != nil {
			return err
		}
	}
	return nil
}

func readU16(body []byte, ip int) uint16 {
	return binary.LittleEndian.Uint16(body[ip:])
}
func readI16(body []byte, ip int) int16 { return int16(readU16(body, ip)) }
func readU8(body []byte, ip int) uint8  { return body[ip] }

func (m *VM) dispatch(op bcformat.Op, f *frame) error {
	switch op {
	case bcformat.DROP:
		_, err := m.pop()
		return err

	case bcformat.CONSTANT:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		return m.execConstant(idx)

	case bcformat.PRINT:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		argc := readU8(f.body, f.ip)
		f.ip++
		return m.execPrint(idx, int(argc))

	case bcformat.ARRAY:
		return m.execArray()

	case bcformat.OBJECT:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		return m.execObject(idx)

	case bcformat.GET_FIELD:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		return m.execGetField(idx)

	case bcformat.SET_FIELD:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		return m.execSetField(idx)

	case bcformat.CALL_METHOD:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		argc := readU8(f.body, f.ip)
		f.ip++
		return m.execCallMethod(idx, int(argc))

	case bcformat.CALL_FUNCTION:
		argc := readU8(f.body, f.ip)
		f.ip++
		return m.execCallFunction(int(argc))

	case bcformat.SET_LOCAL:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		v, err := m.peek()
		if err != nil {
			return err
		}
		if int(idx) >= len(f.locals) {
			return newFault("local slot %d out of range (locals size %d)", idx, len(f.locals))
		}
		f.locals[idx] = v
		return nil

	case bcformat.GET_LOCAL:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		if int(idx) >= len(f.locals) {
			return newFault("local slot %d out of range (locals size %d)", idx, len(f.locals))
		}
		m.push(f.locals[idx])
		return nil

	case bcformat.SET_GLOBAL:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		v, err := m.peek()
		if err != nil {
			return err
		}
		if !m.Globals.SetIfDeclared(idx, v) {
			return newFault("assignment to undeclared global (constant-pool index %d)", idx)
		}
		return nil

	case bcformat.GET_GLOBAL:
		idx := readU16(f.body, f.ip)
		f.ip += 2
		v, ok := m.Globals.Lookup(idx)
		if !ok {
			return newFault("reference to undeclared global (constant-pool index %d)", idx)
		}
		m.push(v)
		return nil

	case bcformat.BRANCH:
		offset := readI16(f.body, f.ip)
		f.ip += 2
		v, err := m.pop()
		if err != nil {
			return err
		}
		if m.truthy(v) {
			f.ip += int(offset)
		}
		return nil

	case bcformat.JUMP:
		offset := readI16(f.body, f.ip)
		f.ip += 2
		f.ip += int(offset)
		return nil

	case bcformat.RETURN:
		retVal, err := m.pop()
		if err != nil {
			return err
		}
		done := m.frames[len(m.frames)-1]
		m.frames = m.frames[:len(m.frames)-1]
		if len(m.frames) > 0 {
			cf := m.cur()
			cf.body, cf.ip = done.callerBody, done.callerIP
		}
		m.push(retVal)
		return nil

	default:
		return newFault("unknown opcode %#x", byte(op))
	}
}

// truthy implements the falsy-iff-Null-or-false rule from spec §4.4.
func (m *VM) truthy(v value.Value) bool {
	mem := m.regionBytes(v)
	switch value.TagAt(mem, v.Off) {
	case value.KindNull:
		return false
	case value.KindBoolean:
		return value.GetBoolean(mem, v.Off)
	default:
		return true
	}
}

func (m *VM) regionBytes(v value.Value) []byte {
	if v.Region == value.RegionConst {
		return m.Pool.Bytes()
	}
	return m.Heap.Bytes()
}
