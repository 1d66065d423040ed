// Package value defines the tagged runtime value representation shared by
// the heap, garbage collector, constant pool, compiler and VM.
//
// Every runtime value in taglang is conceptually "a pointer to a tagged
// heap-allocated record" (see spec §3.1). Rather than carry a raw address
// the way the original C implementation does, a Value here is a small
// discriminated union: which byte region the record lives in, plus a byte
// offset into that region. This is the tagged-enum-over-indices shape the
// language's own design notes call for instead of an ownership tree.
package value

import "encoding/binary"

// Kind is the one-byte tag every heap or constant-pool record begins with.
// The high bit (MarkBit) is reserved by the garbage collector and is never
// part of a legal Kind value.
type Kind byte

// Defined value kinds, matching the wire tag values in spec §3.1 exactly.
const (
	KindInteger  Kind = 0x00
	KindNull     Kind = 0x01
	KindString   Kind = 0x02
	KindFunction Kind = 0x03
	KindBoolean  Kind = 0x04
	KindClass    Kind = 0x05
	KindArray    Kind = 0x06
	KindObject   Kind = 0x07
)

// MarkBit is the high bit of the tag byte, set by the collector's mark
// phase and cleared during sweep. No legal Kind value collides with it.
const MarkBit byte = 0x80

// Align8 rounds n up to the next multiple of 8, the allocation granularity
// every heap and constant-pool record is padded to.
func Align8(n uint32) uint32 {
	if rem := n % 8; rem != 0 {
		n += 8 - rem
	}
	return n
}

// Region identifies which byte arena a Value's offset is relative to.
type Region uint8

const (
	// RegionHeap addresses a byte offset into the managed, collected heap.
	RegionHeap Region = iota
	// RegionConst addresses a byte offset into the immutable constant pool.
	// Constant-pool records are never marked and never freed.
	RegionConst
)

// Value is the universal runtime datum: an address of a tagged record in
// either the managed heap or the constant pool. The zero Value is not a
// legal value on its own; callers obtain Values only from heap/constpool
// constructors or from the VM's rooted global-null sentinel.
type Value struct {
	Region Region
	Off    uint32
}

// EncodedSize is the number of bytes a Value occupies when stored inside
// another record (an array element, an object field, an object's parent
// pointer). It is independent of the record layouts below.
const EncodedSize = 8

// PutValue writes v into buf at off using the fixed 8-byte slot layout:
// 1 byte region tag, 3 bytes padding, 4 bytes little-endian offset.
func PutValue(buf []byte, off uint32, v Value) {
	buf[off] = byte(v.Region)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], v.Off)
}

// GetValue reads a Value previously written by PutValue.
func GetValue(buf []byte, off uint32) Value {
	return Value{
		Region: Region(buf[off]),
		Off:    binary.LittleEndian.Uint32(buf[off+4 : off+8]),
	}
}

// TagAt returns the Kind stored at off, stripping the mark bit.
func TagAt(region []byte, off uint32) Kind {
	return Kind(region[off] &^ MarkBit)
}

// IsMarked reports whether the record at off has its mark bit set.
func IsMarked(region []byte, off uint32) bool {
	return region[off]&MarkBit != 0
}

// SetMark sets the mark bit of the record at off.
func SetMark(region []byte, off uint32) {
	region[off] |= MarkBit
}

// ClearMark clears the mark bit of the record at off.
func ClearMark(region []byte, off uint32) {
	region[off] &^= MarkBit
}

// Record layout constants. Every record begins with a 1-byte tag; fields
// below are byte offsets relative to the start of the record.
const (
	// Integer: tag(1) pad(3) val int32(4) = 8 bytes.
	IntegerSize  = 8
	integerValOf = 4

	// Null: tag(1) pad(7) = 8 bytes.
	NullSize = 8

	// Boolean: tag(1) val(1) pad(6) = 8 bytes.
	BooleanSize  = 8
	booleanValOf = 1

	// Array: tag(1) pad(3) size uint32(4) = 8-byte header, followed by
	// size elements, each an EncodedSize-byte Value slot.
	arrayHeaderSize = 8
	arraySizeOf     = 4
	arrayElemsOf    = 8

	// Object: tag(1) pad(3) fieldCount uint32(4) = 8-byte header, then
	// an 8-byte parent Value slot, then fieldCount pairs of
	// (nameIdx uint16, pad[6], value EncodedSize) = 16 bytes per pair.
	objectHeaderSize  = 16
	objectFieldCntOf  = 4
	objectParentOf    = 8
	objectFieldsOf    = 16
	objectPairStride  = 16
	objectPairNameOf  = 0
	objectPairValueOf = 8

	// String (constant pool only): tag(1) pad(3) len uint32(4) = 8-byte
	// header, followed by len raw UTF-8 bytes.
	stringHeaderSize = 8
	stringLenOf      = 4
	stringBytesOf    = 8

	// Function (constant pool only): tag(1) params uint8(1)
	// locals uint16(2) bodyLen uint32(4) = 8-byte header, followed by
	// bodyLen bytes of bytecode.
	functionHeaderSize = 8
	functionParamsOf   = 1
	functionLocalsOf   = 2
	functionBodyLenOf  = 4
	functionBodyOf     = 8

	// Class (constant pool only): tag(1) pad(1) count uint16(2) pad(4)
	// = 8-byte header, then count uint16 member constant-pool indices.
	classHeaderSize = 8
	classCountOf    = 2
	classMembersOf  = 8
)

// ArraySize returns the total aligned allocation size of an Array with n
// elements.
func ArraySize(n uint32) uint32 { return Align8(arrayHeaderSize + n*EncodedSize) }

// ObjectSize returns the total aligned allocation size of an Object with n
// fields.
func ObjectSize(n uint32) uint32 { return Align8(objectHeaderSize + n*objectPairStride) }

// StringSize returns the total aligned allocation size of a String of the
// given byte length.
func StringSize(n uint32) uint32 { return Align8(stringHeaderSize + n) }

// FunctionSize returns the total aligned allocation size of a Function
// with the given bytecode body length.
func FunctionSize(bodyLen uint32) uint32 { return Align8(functionHeaderSize + bodyLen) }

// ClassSize returns the total aligned allocation size of a Class with n
// members.
func ClassSize(n uint32) uint32 { return Align8(classHeaderSize + n*2) }

// --- Integer ---

// PutInteger writes a complete Integer record at off.
func PutInteger(buf []byte, off uint32, v int32) {
	buf[off] = byte(KindInteger)
	binary.LittleEndian.PutUint32(buf[off+integerValOf:], uint32(v))
}

// GetInteger reads the int32 payload of an Integer record at off.
func GetInteger(buf []byte, off uint32) int32 {
	return int32(binary.LittleEndian.Uint32(buf[off+integerValOf:]))
}

// --- Null ---

// PutNull writes a complete Null record at off.
func PutNull(buf []byte, off uint32) {
	buf[off] = byte(KindNull)
}

// --- Boolean ---

// PutBoolean writes a complete Boolean record at off.
func PutBoolean(buf []byte, off uint32, v bool) {
	buf[off] = byte(KindBoolean)
	if v {
		buf[off+booleanValOf] = 1
	} else {
		buf[off+booleanValOf] = 0
	}
}

// GetBoolean reads the bool payload of a Boolean record at off.
func GetBoolean(buf []byte, off uint32) bool {
	return buf[off+booleanValOf] != 0
}

// --- Array ---

// PutArrayHeader writes an Array record's tag and size; callers must then
// fill every element slot with PutValue before the record is considered
// initialized.
func PutArrayHeader(buf []byte, off uint32, size uint32) {
	buf[off] = byte(KindArray)
	binary.LittleEndian.PutUint32(buf[off+arraySizeOf:], size)
}

// ArrayLen reads the element count of an Array record at off.
func ArrayLen(buf []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(buf[off+arraySizeOf:])
}

// ArrayElemOffset returns the byte offset of element i of the array
// record at off.
func ArrayElemOffset(off uint32, i uint32) uint32 {
	return off + arrayElemsOf + i*EncodedSize
}

// --- Object ---

// PutObjectHeader writes an Object record's tag, field count and parent
// pointer; callers must then fill every field pair with PutObjectField.
func PutObjectHeader(buf []byte, off uint32, fieldCount uint32, parent Value) {
	buf[off] = byte(KindObject)
	binary.LittleEndian.PutUint32(buf[off+objectFieldCntOf:], fieldCount)
	PutValue(buf, off+objectParentOf, parent)
}

// ObjectFieldCount reads the field count of an Object record at off.
func ObjectFieldCount(buf []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(buf[off+objectFieldCntOf:])
}

// ObjectParent reads the parent Value of an Object record at off.
func ObjectParent(buf []byte, off uint32) Value {
	return GetValue(buf, off+objectParentOf)
}

// SetObjectParent overwrites the parent Value of an Object record at off.
func SetObjectParent(buf []byte, off uint32, parent Value) {
	PutValue(buf, off+objectParentOf, parent)
}

func objectPairOffset(off uint32, i uint32) uint32 {
	return off + objectFieldsOf + i*objectPairStride
}

// PutObjectField writes field i's name (a constant-pool String index) and
// value into the object record at off.
func PutObjectField(buf []byte, off uint32, i uint32, nameIdx uint16, val Value) {
	p := objectPairOffset(off, i)
	binary.LittleEndian.PutUint16(buf[p+objectPairNameOf:], nameIdx)
	PutValue(buf, p+objectPairValueOf, val)
}

// ObjectFieldName reads field i's name constant-pool index.
func ObjectFieldName(buf []byte, off uint32, i uint32) uint16 {
	p := objectPairOffset(off, i)
	return binary.LittleEndian.Uint16(buf[p+objectPairNameOf:])
}

// ObjectFieldValue reads field i's value.
func ObjectFieldValue(buf []byte, off uint32, i uint32) Value {
	p := objectPairOffset(off, i)
	return GetValue(buf, p+objectPairValueOf)
}

// SetObjectFieldValue overwrites field i's value in place.
func SetObjectFieldValue(buf []byte, off uint32, i uint32, val Value) {
	p := objectPairOffset(off, i)
	PutValue(buf, p+objectPairValueOf, val)
}

// --- String (constant pool only) ---

// PutString writes a complete String record at off.
func PutString(buf []byte, off uint32, s string) {
	buf[off] = byte(KindString)
	binary.LittleEndian.PutUint32(buf[off+stringLenOf:], uint32(len(s)))
	copy(buf[off+stringBytesOf:], s)
}

// StringLen reads the byte length of a String record at off.
func StringLen(buf []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(buf[off+stringLenOf:])
}

// GetString reads the decoded payload of a String record at off.
func GetString(buf []byte, off uint32) string {
	n := StringLen(buf, off)
	return string(buf[off+stringBytesOf : off+stringBytesOf+n])
}

// --- Function (constant pool only) ---

// PutFunctionHeader writes a Function record's tag, param/local counts and
// body length; the body bytes must be copied in separately by the caller.
func PutFunctionHeader(buf []byte, off uint32, params uint8, locals uint16, bodyLen uint32) {
	buf[off] = byte(KindFunction)
	buf[off+functionParamsOf] = params
	binary.LittleEndian.PutUint16(buf[off+functionLocalsOf:], locals)
	binary.LittleEndian.PutUint32(buf[off+functionBodyLenOf:], bodyLen)
}

// FunctionParams reads the parameter count (including the implicit this).
func FunctionParams(buf []byte, off uint32) uint8 { return buf[off+functionParamsOf] }

// FunctionLocals reads the local-slot high-water mark.
func FunctionLocals(buf []byte, off uint32) uint16 {
	return binary.LittleEndian.Uint16(buf[off+functionLocalsOf:])
}

// FunctionBodyLen reads the bytecode body length in bytes.
func FunctionBodyLen(buf []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(buf[off+functionBodyLenOf:])
}

// FunctionBody returns the bytecode body slice of the function record at
// off. The returned slice aliases buf.
func FunctionBody(buf []byte, off uint32) []byte {
	n := FunctionBodyLen(buf, off)
	return buf[off+functionBodyOf : off+functionBodyOf+n]
}

// SetFunctionLocals patches the locals field after the body size becomes
// known at compile time.
func SetFunctionLocals(buf []byte, off uint32, locals uint16) {
	binary.LittleEndian.PutUint16(buf[off+functionLocalsOf:], locals)
}

// --- Class (constant pool only) ---

// PutClassHeader writes a Class record's tag and member count; callers
// must then fill each member slot with PutClassMember.
func PutClassHeader(buf []byte, off uint32, count uint16) {
	buf[off] = byte(KindClass)
	binary.LittleEndian.PutUint16(buf[off+classCountOf:], count)
}

// ClassCount reads the member count of a Class record at off.
func ClassCount(buf []byte, off uint32) uint16 {
	return binary.LittleEndian.Uint16(buf[off+classCountOf:])
}

// PutClassMember writes member i's constant-pool index.
func PutClassMember(buf []byte, off uint32, i uint16, nameIdx uint16) {
	binary.LittleEndian.PutUint16(buf[off+classMembersOf+uint32(i)*2:], nameIdx)
}

// ClassMember reads member i's constant-pool index.
func ClassMember(buf []byte, off uint32, i uint16) uint16 {
	return binary.LittleEndian.Uint16(buf[off+classMembersOf+uint32(i)*2:])
}

// SweepSentinel is the fill byte a sweep writes over a reclaimed run of
// bytes (0x7f: not a legal tag in either its marked or unmarked form, so a
// stray read of freed memory is loud rather than silently plausible). A
// run of sentinel bytes has no record structure; SizeOf reports its exact
// length so the next sweep's linear walk can step over it like any other
// record instead of misreading it as one.
const SweepSentinel byte = 0x7f

// SizeOf returns the total aligned allocation size of the record at off,
// dispatching on its tag. It mirrors the original implementation's
// get_sizeof_value, including its handling of a previously swept run of
// sentinel bytes (counted one byte at a time, since a free run has no
// record header to read a length from).
func SizeOf(region []byte, off uint32) uint32 {
	if region[off] == SweepSentinel {
		n := uint32(0)
		for off+n < uint32(len(region)) && region[off+n] == SweepSentinel {
			n++
		}
		return Align8(n)
	}
	switch TagAt(region, off) {
	case KindInteger:
		return IntegerSize
	case KindNull:
		return NullSize
	case KindBoolean:
		return BooleanSize
	case KindString:
		return StringSize(StringLen(region, off))
	case KindFunction:
		return FunctionSize(FunctionBodyLen(region, off))
	case KindClass:
		return ClassSize(uint32(ClassCount(region, off)))
	case KindArray:
		return ArraySize(ArrayLen(region, off))
	case KindObject:
		return ObjectSize(ObjectFieldCount(region, off))
	default:
		panic("value: corrupt tag byte")
	}
}
