// Package gc implements the tracing mark-and-sweep collector that reclaims
// taglang's managed heap. It knows nothing about the VM or compiler beyond
// the Roots shape below; internal/heap calls back into this package
// indirectly through the Heap.Collect callback the VM wires up at startup.
package gc

import "taglang/internal/value"

// Frame is the minimal view of a VM call frame the collector needs: the
// slice of local-variable slots to treat as roots.
type Frame struct {
	Locals []value.Value
}

// Roots is the complete root set a collection pass scans: every VM call
// frame's locals, the live prefix of the operand stack, and a small
// auxiliary slot used to root intermediate values not yet pushed onto the
// stack (matches the original's push_aux_root/pop_aux_root, capped the
// same way at 64 entries by convention of the VM's own usage discipline).
type Roots struct {
	Frames []Frame
	Stack  []value.Value
	Aux    []value.Value
}

// Collect runs one full mark-and-sweep pass against h using the given
// root set. Live records are left in place; unreachable records are
// coalesced back into the free list.
func Collect(h Heap, roots *Roots) {
	h.NoteCollection(true)
	markFromRoots(h, roots)
	deferred := sweep(h)
	for _, off := range deferred {
		unmark(h, off)
	}
	h.NoteCollection(false)
}

// Heap is the subset of *heap.Heap the collector depends on. Declared here
// (rather than importing internal/heap's concrete type) only for document
// clarity: gc is free to import heap directly since heap never imports gc.
// gc_test.go exercises the algorithm against a real *heap.Heap, which
// satisfies this interface.
type Heap interface {
	Bytes() []byte
	Len() uint32
	SizeOf(off uint32) uint32
	Free(start, sz uint32)
	ResetFreeList()
	NoteCollection(before bool)
}

func isOnHeap(v value.Value, h Heap) bool {
	return v.Region == value.RegionHeap && v.Off < h.Len()
}

func markValue(v value.Value, h Heap) {
	if !isOnHeap(v, h) {
		// Roots can point into the constant pool; it is never collected.
		return
	}
	mem := h.Bytes()
	if value.IsMarked(mem, v.Off) {
		return
	}
	switch value.TagAt(mem, v.Off) {
	case value.KindArray:
		value.SetMark(mem, v.Off)
		n := value.ArrayLen(mem, v.Off)
		for i := uint32(0); i < n; i++ {
			markValue(value.GetValue(mem, value.ArrayElemOffset(v.Off, i)), h)
		}
	case value.KindObject:
		value.SetMark(mem, v.Off)
		markValue(value.ObjectParent(mem, v.Off), h)
		n := value.ObjectFieldCount(mem, v.Off)
		for i := uint32(0); i < n; i++ {
			markValue(value.ObjectFieldValue(mem, v.Off, i), h)
		}
	default:
		value.SetMark(mem, v.Off)
	}
}

func markFromRoots(h Heap, roots *Roots) {
	for _, f := range roots.Frames {
		for _, v := range f.Locals {
			markValue(v, h)
		}
	}
	for _, v := range roots.Stack {
		markValue(v, h)
	}
	for _, v := range roots.Aux {
		markValue(v, h)
	}
}

// unmark mirrors the original's defensive unmark(): it may be called on a
// record whose mark bit was already cleared by the linear sweep below
// (every marked record visited during sweep is unmarked immediately,
// regardless of kind), in which case it is a no-op. It only exists so the
// two-phase discipline spec calls for is represented explicitly rather
// than collapsed away, since sweep intentionally never recurses into a
// composite value's children while the linear scan is still in flight.
func unmark(h Heap, off uint32) {
	mem := h.Bytes()
	if !value.IsMarked(mem, off) {
		return
	}
	value.ClearMark(mem, off)
	switch value.TagAt(mem, off) {
	case value.KindArray:
		n := value.ArrayLen(mem, off)
		for i := uint32(0); i < n; i++ {
			elem := value.GetValue(mem, value.ArrayElemOffset(off, i))
			if elem.Region == value.RegionHeap {
				unmark(h, elem.Off)
			}
		}
	case value.KindObject:
		n := value.ObjectFieldCount(mem, off)
		for i := uint32(0); i < n; i++ {
			fv := value.ObjectFieldValue(mem, off, i)
			if fv.Region == value.RegionHeap {
				unmark(h, fv.Off)
			}
		}
	}
}

// sweep walks the heap's full byte range exactly once, left to right.
// A marked record is left in place but unmarked immediately so later
// records in the same scan don't misread a stale mark bit; unreachable
// runs of bytes are coalesced into a single free block and returned to
// the heap. It never recurses into a composite value's children during
// the walk itself — every child is a separate top-level record the same
// linear scan will reach on its own — and instead returns the offsets of
// every record it unmarked so the caller can run the (mostly redundant,
// but invariant-preserving) second-phase unmark pass afterward.
func sweep(h Heap) []uint32 {
	h.ResetFreeList()
	mem := h.Bytes()
	end := h.Len()

	var deferred []uint32
	var consecutive bool
	var blockStart, blockSize uint32

	var off uint32
	for off < end {
		sz := h.SizeOf(off)
		if value.IsMarked(mem, off) {
			value.ClearMark(mem, off)
			deferred = append(deferred, off)
			if consecutive {
				h.Free(blockStart, blockSize)
				for i := uint32(0); i < blockSize; i++ {
					mem[blockStart+i] = value.SweepSentinel
				}
				blockSize = 0
			}
			consecutive = false
		} else {
			if !consecutive {
				blockStart = off
			}
			blockSize += sz
			consecutive = true
		}
		off += sz
	}
	if consecutive && blockSize > 0 {
		h.Free(blockStart, blockSize)
		for i := uint32(0); i < blockSize; i++ {
			mem[blockStart+i] = value.SweepSentinel
		}
	}
	return deferred
}
