// Package heap implements the managed, garbage-collected byte region every
// runtime value lives in: a single contiguous []byte arena carved up by a
// singly linked free-list allocator.
//
// Heap never imports the garbage collector. Instead it holds an injected
// Collect callback, set once by the VM at startup, so allocation failure
// can trigger a collection without an import cycle between heap and gc.
package heap

import (
	"fmt"
	"os"
	"time"

	"taglang/internal/value"
)

// block is one run of free bytes in the arena, linked into a singly linked
// free list sorted by nothing in particular — allocation is first-fit.
type block struct {
	next  *block
	sz    uint32
	start uint32
}

// Heap owns one contiguous byte arena and the free list carving it up.
type Heap struct {
	mem       []byte
	free      *block
	allocated uint32

	// Collect is invoked by Alloc when no free block is large enough.
	// It must perform a full mark-and-sweep pass against this Heap and
	// return. Set by the VM wiring layer; nil means "never collect"
	// (used by tests that want deterministic OOM behavior).
	Collect func()

	logFile *os.File
}

// New allocates a heap of the given total size in bytes, entirely free.
func New(size uint32) *Heap {
	return &Heap{
		mem:  make([]byte, size),
		free: &block{next: nil, sz: size, start: 0},
	}
}

// SetLog opens path in append mode and routes heap-log telemetry there.
// Matches the original runtime's heap_log_event: a plain CSV line of
// "<timestamp_ns>,<event>,<bytes_allocated>" per allocation/collection.
func (h *Heap) SetLog(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("heap: open log file: %w", err)
	}
	h.logFile = f
	return nil
}

// CloseLog closes the heap-log file, if one was opened.
func (h *Heap) CloseLog() error {
	if h.logFile == nil {
		return nil
	}
	return h.logFile.Close()
}

func (h *Heap) logEvent(event byte) {
	if h.logFile == nil {
		return
	}
	fmt.Fprintf(h.logFile, "%d,%c,%d\n", time.Now().UnixNano(), event, h.allocated)
}

// Bytes returns the full backing arena. Record offsets returned by Alloc
// and the Construct* family are indices into this slice.
func (h *Heap) Bytes() []byte { return h.mem }

// Len returns the total arena size in bytes.
func (h *Heap) Len() uint32 { return uint32(len(h.mem)) }

// Allocated returns the number of bytes currently considered live, for
// telemetry and tests.
func (h *Heap) Allocated() uint32 { return h.allocated }

// ErrHeapExhausted is returned by Alloc when no block is large enough even
// after a collection pass.
type ErrHeapExhausted struct {
	Requested uint32
	Total     uint32
}

func (e *ErrHeapExhausted) Error() string {
	return fmt.Sprintf("heap exhausted: requested %d bytes, total heap size is %d", e.Requested, e.Total)
}

// Alloc reserves sz bytes (rounded up to 8-byte alignment) from the free
// list, triggering one collection and retrying once if no block fits.
// Returns the byte offset of the reserved region within Bytes().
func (h *Heap) Alloc(sz uint32) (uint32, error) {
	aligned := value.Align8(sz)
	off, ok := h.tryAlloc(aligned)
	if ok {
		h.logEvent('A')
		return off, nil
	}
	if h.Collect != nil {
		h.Collect()
		off, ok = h.tryAlloc(aligned)
		if ok {
			h.logEvent('A')
			return off, nil
		}
	}
	return 0, &ErrHeapExhausted{Requested: aligned, Total: h.Len()}
}

// tryAlloc performs one first-fit scan of the free list.
func (h *Heap) tryAlloc(aligned uint32) (uint32, bool) {
	cur := &h.free
	for *cur != nil {
		b := *cur
		if b.sz >= aligned {
			off := b.start
			h.allocated += aligned
			if b.sz > aligned {
				b.start += aligned
				b.sz -= aligned
			} else {
				*cur = b.next
			}
			return off, true
		}
		cur = &b.next
	}
	return 0, false
}

// Free returns a [start, start+sz) run to the free list. Used by the
// collector's sweep phase, which coalesces every unreachable run it finds
// into one Free call regardless of whether those bytes were previously
// live, previously free, or never allocated at all (the heap's untouched
// zero-filled tail before its first collection) — so sz here is not
// guaranteed to be a subset of allocated bytes. Clamp rather than
// underflow the telemetry counter.
func (h *Heap) Free(start, sz uint32) {
	dec := sz
	if dec > h.allocated {
		dec = h.allocated
	}
	h.allocated -= dec
	h.free = &block{next: h.free, sz: sz, start: start}
	h.logEvent('F')
}

// ResetFreeList discards the current free list bookkeeping without
// touching the underlying bytes. A collector calls this immediately
// before its sweep so the fresh pass can rebuild the list from scratch by
// walking the whole arena — previously free runs are already filled with
// the sweep sentinel and get rediscovered and re-coalesced by that same
// walk, so keeping the old list around would double-free those ranges.
func (h *Heap) ResetFreeList() {
	h.free = nil
}

// NoteCollection logs a post-collection telemetry line distinct from an
// individual free, matching the 'B'/'A' before/after pairing spec's heap
// log format documents around a collection cycle.
func (h *Heap) NoteCollection(before bool) {
	if before {
		h.logEvent('B')
	} else {
		h.logEvent('A')
	}
}

// --- Construct* family: allocate + fully initialize a record. ---

// ConstructInteger allocates and initializes an Integer record.
func (h *Heap) ConstructInteger(v int32) (uint32, error) {
	off, err := h.Alloc(value.IntegerSize)
	if err != nil {
		return 0, err
	}
	value.PutInteger(h.mem, off, v)
	return off, nil
}

// ConstructBoolean allocates and initializes a Boolean record.
func (h *Heap) ConstructBoolean(v bool) (uint32, error) {
	off, err := h.Alloc(value.BooleanSize)
	if err != nil {
		return 0, err
	}
	value.PutBoolean(h.mem, off, v)
	return off, nil
}

// ConstructNull allocates and initializes a Null record.
func (h *Heap) ConstructNull() (uint32, error) {
	off, err := h.Alloc(value.NullSize)
	if err != nil {
		return 0, err
	}
	value.PutNull(h.mem, off)
	return off, nil
}

// ConstructArray allocates an Array record of n elements. Elements are
// left as zero bytes (Region=RegionHeap, Off=0); callers fill them in
// with value.PutValue before the array becomes reachable from a root,
// mirroring the original's "not setting the init value" allocator and
// the spec's requirement that array-literal evaluation fill every slot
// before the literal completes.
func (h *Heap) ConstructArray(n uint32) (uint32, error) {
	off, err := h.Alloc(value.ArraySize(n))
	if err != nil {
		return 0, err
	}
	value.PutArrayHeader(h.mem, off, n)
	return off, nil
}

// ConstructObject allocates an Object record with n fields and the given
// parent pointer. Field slots are left zeroed; callers fill them with
// value.PutObjectField.
func (h *Heap) ConstructObject(n uint32, parent value.Value) (uint32, error) {
	off, err := h.Alloc(value.ObjectSize(n))
	if err != nil {
		return 0, err
	}
	value.PutObjectHeader(h.mem, off, n, parent)
	return off, nil
}

// SizeOf returns the aligned allocation size of the record at off.
func (h *Heap) SizeOf(off uint32) uint32 {
	return value.SizeOf(h.mem, off)
}

// ValidateTags walks the entire arena checking every record's tag byte
// is one of the eight legal kinds. Used by tests; mirrors the original's
// validate_integrity_of_tags.
func (h *Heap) ValidateTags() error {
	off := uint32(0)
	for off < uint32(len(h.mem)) {
		if h.mem[off] != value.SweepSentinel {
			k := value.TagAt(h.mem, off)
			if k > value.KindObject {
				return fmt.Errorf("heap: corrupt tag %#x at offset %d", k, off)
			}
		}
		off += value.SizeOf(h.mem, off)
	}
	return nil
}
