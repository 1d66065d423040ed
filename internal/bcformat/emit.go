package bcformat

import "encoding/binary"

// Emitter accumulates one function's bytecode body into a growable byte
// buffer. The compiler keeps one Emitter per function under compilation
// (a "staging buffer" in spec's own terms) and copies the finished bytes
// into the constant pool at function epilogue.
type Emitter struct {
	buf []byte
}

// NewEmitter returns an empty staging buffer.
func NewEmitter() *Emitter { return &Emitter{} }

// Len returns the current body length, i.e. the offset the next emitted
// byte will land at.
func (e *Emitter) Len() int { return len(e.buf) }

// Bytes returns the accumulated body.
func (e *Emitter) Bytes() []byte { return e.buf }

// Op appends a bare opcode with no operands (DROP, ARRAY, RETURN).
func (e *Emitter) Op(op Op) int {
	pos := len(e.buf)
	e.buf = append(e.buf, byte(op))
	return pos
}

// OpU16 appends an opcode followed by one u16 operand.
func (e *Emitter) OpU16(op Op, operand uint16) int {
	pos := len(e.buf)
	e.buf = append(e.buf, byte(op), 0, 0)
	binary.LittleEndian.PutUint16(e.buf[pos+1:], operand)
	return pos
}

// OpU16U8 appends an opcode followed by a u16 then a u8 operand (PRINT,
// CALL_METHOD).
func (e *Emitter) OpU16U8(op Op, u16operand uint16, u8operand uint8) int {
	pos := len(e.buf)
	e.buf = append(e.buf, byte(op), 0, 0, u8operand)
	binary.LittleEndian.PutUint16(e.buf[pos+1:], u16operand)
	return pos
}

// OpU8 appends an opcode followed by a u8 operand (CALL_FUNCTION).
func (e *Emitter) OpU8(op Op, operand uint8) int {
	pos := len(e.buf)
	e.buf = append(e.buf, byte(op), operand)
	return pos
}

// OpI16 appends an opcode followed by an i16 operand (BRANCH, JUMP).
func (e *Emitter) OpI16(op Op, operand int16) int {
	pos := len(e.buf)
	e.buf = append(e.buf, byte(op), 0, 0)
	binary.LittleEndian.PutUint16(e.buf[pos+1:], uint16(operand))
	return pos
}

// PatchU16 overwrites the u16 operand at body offset pos+1 (pos being the
// offset of the opcode byte itself). Used for forward-reference fixups
// and for branch/jump targets only known once their destination has been
// emitted.
func (e *Emitter) PatchU16(pos int, operand uint16) {
	binary.LittleEndian.PutUint16(e.buf[pos+1:], operand)
}

// PatchI16 overwrites the i16 operand at body offset pos+1.
func (e *Emitter) PatchI16(pos int, operand int16) {
	binary.LittleEndian.PutUint16(e.buf[pos+1:], uint16(operand))
}

// Reader is a thin cursor over one bytecode body. The VM does not use it:
// internal/vm decodes operands with its own readU8/readU16/readI16
// helpers over the current frame's body.
type Reader struct {
	body []byte
	ip   int
}

// NewReader returns a Reader positioned at the start of body.
func NewReader(body []byte) *Reader { return &Reader{body: body} }

// IP returns the current instruction pointer.
func (r *Reader) IP() int { return r.ip }

// SetIP repositions the cursor.
func (r *Reader) SetIP(ip int) { r.ip = ip }

// Done reports whether the cursor has run off the end of the body.
func (r *Reader) Done() bool { return r.ip >= len(r.body) }

// ReadOp consumes and returns the opcode at the current ip.
func (r *Reader) ReadOp() Op {
	op := Op(r.body[r.ip])
	r.ip++
	return op
}

// ReadU16 consumes a little-endian u16 operand.
func (r *Reader) ReadU16() uint16 {
	v := binary.LittleEndian.Uint16(r.body[r.ip:])
	r.ip += 2
	return v
}

// ReadU8 consumes a u8 operand.
func (r *Reader) ReadU8() uint8 {
	v := r.body[r.ip]
	r.ip++
	return v
}

// ReadI16 consumes a little-endian i16 operand.
func (r *Reader) ReadI16() int16 {
	return int16(r.ReadU16())
}
