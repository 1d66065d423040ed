// Encode/Decode implement the byte-exact on-disk bytecode file format.
// Because this format crosses a trust boundary (bc_compile writes it,
// bc_interpret reads it back, possibly as separate process invocations),
// its layout is fixed by contract and must not drift from what is
// documented here, unlike the in-memory heap/constant-pool record layouts
// internal/value chooses for its own convenience.
package bcformat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"taglang/internal/constpool"
	"taglang/internal/value"
)

// Magic is the fixed 4-byte file header every bytecode file begins with.
var Magic = [4]byte{0x46, 0x4D, 0x4C, 0x0A}

// Program is everything bc_compile produces and bc_interpret consumes:
// a populated constant pool, the globals table (names only — values are
// bound lazily as Null or by global-variable initializers at run time),
// and the entry-point function's constant-pool index.
type Program struct {
	Constants  *constpool.Pool
	Globals    *constpool.Globals
	EntryPoint uint16
}

// Encode writes p to w in the file format spec documents: magic, constant
// count, one typed record per constant, global count and indices, then
// the entry-point index.
func Encode(w io.Writer, p *Program) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return fmt.Errorf("bcformat: write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(p.Constants.Len())); err != nil {
		return fmt.Errorf("bcformat: write constant count: %w", err)
	}
	for i := 0; i < p.Constants.Len(); i++ {
		if err := encodeConstant(w, p.Constants, uint16(i)); err != nil {
			return fmt.Errorf("bcformat: encode constant %d: %w", i, err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(p.Globals.Indices))); err != nil {
		return fmt.Errorf("bcformat: write global count: %w", err)
	}
	for _, idx := range p.Globals.Indices {
		if err := binary.Write(w, binary.LittleEndian, idx); err != nil {
			return fmt.Errorf("bcformat: write global index: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, p.EntryPoint); err != nil {
		return fmt.Errorf("bcformat: write entry point: %w", err)
	}
	return nil
}

func encodeConstant(w io.Writer, pool *constpool.Pool, idx uint16) error {
	mem := pool.Bytes()
	off := pool.Offset(idx)
	tag := value.TagAt(mem, off)
	if err := binary.Write(w, binary.LittleEndian, byte(tag)); err != nil {
		return err
	}
	switch tag {
	case value.KindInteger:
		return binary.Write(w, binary.LittleEndian, value.GetInteger(mem, off))
	case value.KindNull:
		return nil
	case value.KindBoolean:
		return binary.Write(w, binary.LittleEndian, value.GetBoolean(mem, off))
	case value.KindString:
		s := value.GetString(mem, off)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
			return err
		}
		_, err := w.Write([]byte(s))
		return err
	case value.KindFunction:
		params := value.FunctionParams(mem, off)
		locals := value.FunctionLocals(mem, off)
		body := value.FunctionBody(mem, off)
		if err := binary.Write(w, binary.LittleEndian, params); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, locals); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(body))); err != nil {
			return err
		}
		_, err := w.Write(body)
		return err
	case value.KindClass:
		n := value.ClassCount(mem, off)
		if err := binary.Write(w, binary.LittleEndian, n); err != nil {
			return err
		}
		for i := uint16(0); i < n; i++ {
			if err := binary.Write(w, binary.LittleEndian, value.ClassMember(mem, off, i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unencodable constant tag %#x", tag)
	}
}

// Decode reads a Program previously written by Encode.
func Decode(r io.Reader) (*Program, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("bcformat: read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("bcformat: bad magic %x, want %x", magic, Magic)
	}

	var constCount uint16
	if err := binary.Read(r, binary.LittleEndian, &constCount); err != nil {
		return nil, fmt.Errorf("bcformat: read constant count: %w", err)
	}
	pool := constpool.New()
	for i := uint16(0); i < constCount; i++ {
		if err := decodeConstant(r, pool); err != nil {
			return nil, fmt.Errorf("bcformat: decode constant %d: %w", i, err)
		}
	}

	var globalCount uint16
	if err := binary.Read(r, binary.LittleEndian, &globalCount); err != nil {
		return nil, fmt.Errorf("bcformat: read global count: %w", err)
	}
	// The file only declares which constant-pool names are legal globals;
	// their runtime values are bound by the VM (every declared global
	// starts out Null, then top-level code assigns it) — see vm.New.
	globals := constpool.NewGlobals()
	for i := uint16(0); i < globalCount; i++ {
		var idx uint16
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return nil, fmt.Errorf("bcformat: read global index: %w", err)
		}
		globals.Set(idx, value.Value{})
	}

	var entry uint16
	if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
		return nil, fmt.Errorf("bcformat: read entry point: %w", err)
	}

	return &Program{Constants: pool, Globals: globals, EntryPoint: entry}, nil
}

func decodeConstant(r io.Reader, pool *constpool.Pool) error {
	var tagByte byte
	if err := binary.Read(r, binary.LittleEndian, &tagByte); err != nil {
		return err
	}
	switch value.Kind(tagByte) {
	case value.KindInteger:
		var v int32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return err
		}
		pool.AddInteger(v)
	case value.KindNull:
		pool.AddNull()
	case value.KindBoolean:
		var v bool
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return err
		}
		pool.AddBoolean(v)
	case value.KindString:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		pool.AddString(string(buf))
	case value.KindFunction:
		var params uint8
		var locals uint16
		var bodyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &params); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &locals); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &bodyLen); err != nil {
			return err
		}
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		pool.AddFunction(params, locals, body)
	case value.KindClass:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return err
		}
		members := make([]uint16, n)
		for i := range members {
			if err := binary.Read(r, binary.LittleEndian, &members[i]); err != nil {
				return err
			}
		}
		pool.AddClass(members)
	default:
		return fmt.Errorf("undecodable constant tag %#x", tagByte)
	}
	return nil
}

// EncodeToBytes is a convenience wrapper returning the encoded program as
// an in-memory byte slice. Only tests call it; `run` mode executes the
// compiled Program directly without encoding it.
func EncodeToBytes(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
