package astinterp

import (
	"fmt"
	"sort"
	"strings"

	"taglang/internal/value"
)

// printVal renders v the way the bytecode VM's printVal does
// (internal/vm/format.go), so both backends agree byte-for-byte on
// print output: integers and booleans in their natural form, null as
// "null", a function value as the literal word "function", arrays
// bracketed and comma-separated, and objects as
// "object(..=parent, name=value, ...)" with own fields sorted
// lexicographically by name.
func (it *Interpreter) printVal(v value.Value) string {
	mem := it.regionBytes(v)
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
			parts[i] = it.printVal(value.GetValue(mem, value.ArrayElemOffset(v.Off, i)))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case value.KindObject:
		return it.printObject(mem, v.Off)
	default:
		return "?"
	}
}

func (it *Interpreter) printObject(mem []byte, off uint32) string {
	var b strings.Builder
	b.WriteString("object(")
	parent := value.ObjectParent(mem, off)
	parentMem := it.regionBytes(parent)
	n := value.ObjectFieldCount(mem, off)
	wroteParent := false
	if value.TagAt(parentMem, parent.Off) != value.KindNull {
		b.WriteString("..=")
		b.WriteString(it.printVal(parent))
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
			name: value.GetString(it.pool.Bytes(), it.pool.Offset(nameIdx)),
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
		b.WriteString(it.printVal(f.val))
		if i != len(fields)-1 {
			b.WriteString(", ")
		}
	}
	b.WriteString(")")
	return b.String()
}

// formatPrint expands a PRINT format string against its evaluated
// arguments, writing directly to it.Stdout: `~` substitutes the next
// argument in order, and `\n` `\t` `\r` `\~` are the recognized escapes;
// any other character following a backslash is emitted literally.
// Mirrors internal/vm/format.go's formatPrint exactly.
func (it *Interpreter) formatPrint(format string, args []value.Value) {
	argi := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch {
		case c == '~':
			if argi < len(args) {
				fmt.Fprint(it.Stdout, it.printVal(args[argi]))
				argi++
			}
		case c == '\\' && i+1 < len(format):
			next := format[i+1]
			i++
			switch next {
			case 'n':
				fmt.Fprint(it.Stdout, "\n")
			case 't':
				fmt.Fprint(it.Stdout, "\t")
			case 'r':
				fmt.Fprint(it.Stdout, "\r")
			case '~':
				fmt.Fprint(it.Stdout, "~")
			default:
				fmt.Fprintf(it.Stdout, "%c", next)
			}
		default:
			fmt.Fprintf(it.Stdout, "%c", c)
		}
	}
}
