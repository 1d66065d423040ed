// Package bcformat defines the one-byte opcode set the compiler emits and
// the VM dispatches, plus the on-disk bytecode file format that crosses
// the trust boundary between bc_compile and bc_interpret.
package bcformat

// Op is a single bytecode instruction opcode. Operands are fixed-width
// and little-endian, immediately following the opcode byte in the
// instruction stream — there is no variable-length encoding.
type Op byte

// The complete instruction set. Operand widths are documented per-op;
// the VM and compiler must agree on them exactly since no operand count
// is self-describing in the stream.
const (
	// DROP pops one value.
	DROP Op = 0x00
	// CONSTANT u16 cp-index: pushes the constant, materialized per kind.
	CONSTANT Op = 0x01
	// PRINT u16 fmt-index, u8 argc: pops argc values, formats, pushes Null.
	PRINT Op = 0x02
	// ARRAY: pops (init, size); pushes a new Array(size) filled with init.
	ARRAY Op = 0x03
	// OBJECT u16 class-index: pops parent then one value per class member
	// (in declaration order); pushes a new Object.
	OBJECT Op = 0x04
	// GET_FIELD u16 name-index: pops receiver, pushes field value.
	GET_FIELD Op = 0x05
	// SET_FIELD u16 name-index: pops (value, receiver); writes field.
	SET_FIELD Op = 0x06
	// CALL_METHOD u16 name-index, u8 argc: pops argc args and receiver.
	CALL_METHOD Op = 0x07
	// CALL_FUNCTION u8 argc: pops function, then argc args.
	CALL_FUNCTION Op = 0x08
	// SET_LOCAL u16 slot: peeks top, writes to local.
	SET_LOCAL Op = 0x09
	// GET_LOCAL u16 slot: pushes local.
	GET_LOCAL Op = 0x0A
	// SET_GLOBAL u16 name-cp-index: peeks top, writes to global.
	SET_GLOBAL Op = 0x0B
	// GET_GLOBAL u16 name-cp-index: pushes global.
	GET_GLOBAL Op = 0x0C
	// BRANCH i16 rel-offset: pops; jumps ip by rel-offset if truthy.
	BRANCH Op = 0x0D
	// JUMP i16 rel-offset: unconditional jump.
	JUMP Op = 0x0E
	// RETURN: pops current frame; ip <- frame.return_address.
	RETURN Op = 0x0F
)

// String names every opcode for disassembly and error messages.
func (o Op) String() string {
	switch o {
	case DROP:
		return "DROP"
	case CONSTANT:
		return "CONSTANT"
	case PRINT:
		return "PRINT"
	case ARRAY:
		return "ARRAY"
	case OBJECT:
		return "OBJECT"
	case GET_FIELD:
		return "GET_FIELD"
	case SET_FIELD:
		return "SET_FIELD"
	case CALL_METHOD:
		return "CALL_METHOD"
	case CALL_FUNCTION:
		return "CALL_FUNCTION"
	case SET_LOCAL:
		return "SET_LOCAL"
	case GET_LOCAL:
		return "GET_LOCAL"
	case SET_GLOBAL:
		return "SET_GLOBAL"
	case GET_GLOBAL:
		return "GET_GLOBAL"
	case BRANCH:
		return "BRANCH"
	case JUMP:
		return "JUMP"
	case RETURN:
		return "RETURN"
	default:
		return "UNKNOWN"
	}
}

// OperandSize returns the number of operand bytes following the opcode
// byte, not counting the opcode itself. The compiler tests' decoder uses
// it to compute instruction boundaries.
func (o Op) OperandSize() int {
	switch o {
	case DROP, ARRAY, RETURN:
		return 0
	case CALL_FUNCTION:
		return 1
	case CONSTANT, OBJECT, GET_FIELD, SET_FIELD, SET_LOCAL, GET_LOCAL, SET_GLOBAL, GET_GLOBAL, BRANCH, JUMP:
		return 2
	case PRINT, CALL_METHOD:
		return 3
	default:
		return 0
	}
}
