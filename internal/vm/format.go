package vm

import (
	"fmt"
	"sort"
	"strings"

	"taglang/internal/value"
)

// printVal renders v the way the original runtime's print_val does:
// integers and booleans in their natural form, null as "null", a
// function value as the literal word "function", arrays bracketed and
// comma-separated, and objects as "object(..=parent, name=value, ...)"
// with own fields sorted lexicographically by name (inherited fields are
// represented only via the "..=parent" prefix, not flattened in).
func (m *VM) printVal(v value.Value) string {
	mem := m.regionBytes(v)
	switch value.TagAt(mem, v.Off) {
	case value.KindInteger:
		return fmt.Sprintf("%d", value.GetInteger(mem, v.Off))
	case value.KindBoolean:
		if value.GetBoolean(mem, v.Off) {
			return "true"
		}
		return "false"
	case value.KindNull:
		return "null"
	case value.KindFunction:
		return "function"
	case value.KindArray:
		n := value.ArrayLen(mem, v.Off)
		parts := make([]string, n)
		for i := uint32(0); i < n; i++ {
			parts[i] = m.printVal(value.GetValue(mem, value.ArrayElemOffset(v.Off, i)))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case value.KindObject:
		return m.printObject(mem, v.Off)
	default:
		return "?"
	}
}

func (m *VM) printObject(mem []byte, off uint32) string {
	var b strings.Builder
	b.WriteString("object(")
	parent := value.ObjectParent(mem, off)
	parentMem := m.regionBytes(parent)
	n := value.ObjectFieldCount(mem, off)
	wroteParent := false
	if value.TagAt(parentMem, parent.Off) != value.KindNull {
		b.WriteString("..=")
		b.WriteString(m.printVal(parent))
		wroteParent = true
	}

	type field struct {
		name string
		val  value.Value
	}
	fields := make([]field, n)
	for i := uint32(0); i < n; i++ {
		nameIdx := value.ObjectFieldName(mem, off, i)
		fields[i] = field{
			name: value.GetString(m.Pool.Bytes(), m.Pool.Offset(nameIdx)),
			val:  value.ObjectFieldValue(mem, off, i),
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	if wroteParent && len(fields) > 0 {
		b.WriteString(", ")
	}
	for i, f := range fields {
		b.WriteString(f.name)
		b.WriteString("=")
		b.WriteString(m.printVal(f.val))
		if i != len(fields)-1 {
			b.WriteString(", ")
		}
	}
	b.WriteString(")")
	return b.String()
}

// formatPrint expands a PRINT format string against its popped arguments,
// writing directly to m.Stdout: `~` substitutes the next argument in
// order, and `\n` `\t` `\r` `\~` are the recognized escapes; any other
// character following a backslash is emitted literally, matching the
// original's fallback branch.
func (m *VM) formatPrint(format string, args []value.Value) {
	argi := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch {
		case c == '~':
			if argi < len(args) {
				fmt.Fprint(m.Stdout, m.printVal(args[argi]))
				argi++
			}
		case c == '\\' && i+1 < len(format):
			next := format[i+1]
			i++
			switch next {
			case 'n':
				fmt.Fprint(m.Stdout, "\n")
			case 't':
				fmt.Fprint(m.Stdout, "\t")
			case 'r':
				fmt.Fprint(m.Stdout, "\r")
			case '~':
				fmt.Fprint(m.Stdout, "~")
			default:
				fmt.Fprintf(m.Stdout, "%c", next)
			}
		default:
			fmt.Fprintf(m.Stdout, "%c", c)
		}
	}
}
