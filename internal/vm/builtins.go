package vm

import "taglang/internal/value"

// callBuiltin dispatches a CALL_METHOD against a primitive or Array
// receiver by comparing the method name against string literals, exactly
// as the original's bc_builtins does (spec §9 notes this as the one
// place a from-scratch reimplementation should prefer an enum — kept as
// string dispatch here because matching the original's observable
// behavior, including its error message on an unknown method, is the
// point of this package).
func (m *VM) callBuiltin(receiver value.Value, name string, args []value.Value) error {
	mem := m.regionBytes(receiver)
	kind := value.TagAt(mem, receiver.Off)

	switch kind {
	case value.KindInteger, value.KindBoolean, value.KindNull:
		if len(args) != 1 {
			return newFault("built-in operator %q expects exactly 1 argument, got %d", name, len(args))
		}
		return m.primitiveBinaryOp(receiver, kind, name, args[0])
	case value.KindArray:
		return m.arrayMethod(receiver, name, args)
	default:
		return newFault("unknown built-in method: %s", name)
	}
}

func (m *VM) primitiveBinaryOp(receiver value.Value, kind value.Kind, name string, other value.Value) error {
	mem := m.regionBytes(receiver)
	otherMem := m.regionBytes(other)
	otherKind := value.TagAt(otherMem, other.Off)

	switch name {
	case "==":
		return m.pushEquality(receiver, kind, other, otherKind, true)
	case "!=":
		return m.pushEquality(receiver, kind, other, otherKind, false)
	}

	if kind == value.KindBoolean {
		if otherKind != value.KindBoolean {
			return newFault("operator %q requires two Booleans", name)
		}
		a, b := value.GetBoolean(mem, receiver.Off), value.GetBoolean(otherMem, other.Off)
		switch name {
		case "&":
			return m.pushBool(a && b)
		case "|":
			return m.pushBool(a || b)
		}
	}

	if kind != value.KindInteger || otherKind != value.KindInteger {
		return newFault("operator %q requires two Integers", name)
	}
	a, b := value.GetInteger(mem, receiver.Off), value.GetInteger(otherMem, other.Off)
	switch name {
	case "+":
		return m.pushInt(a + b)
	case "-":
		return m.pushInt(a - b)
	case "*":
		return m.pushInt(a * b)
	case "/":
		if b == 0 {
			return newFault("division by zero")
		}
		return m.pushInt(a / b)
	case "%":
		if b == 0 {
			return newFault("modulo by zero")
		}
		return m.pushInt(a % b)
	case "<=":
		return m.pushBool(a <= b)
	case ">=":
		return m.pushBool(a >= b)
	case "<":
		return m.pushBool(a < b)
	case ">":
		return m.pushBool(a > b)
	}
	return newFault("unknown built-in method: %s", name)
}

// pushEquality implements spec §4.4's rule that equality between
// different tags yields false (inequality yields true), and otherwise
// compares the underlying payload.
func (m *VM) pushEquality(a value.Value, aKind value.Kind, b value.Value, bKind value.Kind, wantEqual bool) error {
	equal := false
	if aKind == bKind {
		aMem, bMem := m.regionBytes(a), m.regionBytes(b)
		switch aKind {
		case value.KindInteger:
			equal = value.GetInteger(aMem, a.Off) == value.GetInteger(bMem, b.Off)
		case value.KindBoolean:
			equal = value.GetBoolean(aMem, a.Off) == value.GetBoolean(bMem, b.Off)
		case value.KindNull:
			equal = true
		}
	}
	if wantEqual {
		return m.pushBool(equal)
	}
	return m.pushBool(!equal)
}

func (m *VM) arrayMethod(receiver value.Value, name string, args []value.Value) error {
	mem := m.regionBytes(receiver)
	size := value.ArrayLen(mem, receiver.Off)

	switch name {
	case "get":
		if len(args) != 1 {
			return newFault("array get expects exactly 1 argument, got %d", len(args))
		}
		idxMem := m.regionBytes(args[0])
		if value.TagAt(idxMem, args[0].Off) != value.KindInteger {
			return newFault("array get index must be an Integer")
		}
		i := value.GetInteger(idxMem, args[0].Off)
		if i < 0 || uint32(i) >= size {
			return newFault("array index %d out of range (size %d)", i, size)
		}
		m.push(value.GetValue(mem, value.ArrayElemOffset(receiver.Off, uint32(i))))
		return nil
	case "set":
		if len(args) != 2 {
			return newFault("array set expects exactly 2 arguments, got %d", len(args))
		}
		idxMem := m.regionBytes(args[0])
		if value.TagAt(idxMem, args[0].Off) != value.KindInteger {
			return newFault("array set index must be an Integer")
		}
		i := value.GetInteger(idxMem, args[0].Off)
		if i < 0 || uint32(i) >= size {
			return newFault("array index %d out of range (size %d)", i, size)
		}
		value.PutValue(mem, value.ArrayElemOffset(receiver.Off, uint32(i)), args[1])
		m.push(args[1])
		return nil
	default:
		return newFault("unknown built-in method: %s", name)
	}
}

func (m *VM) pushInt(v int32) error {
	off, err := m.Heap.ConstructInteger(v)
	if err != nil {
		return err
	}
	m.push(value.Value{Region: value.RegionHeap, Off: off})
	return nil
}

func (m *VM) pushBool(v bool) error {
	off, err := m.Heap.ConstructBoolean(v)
	if err != nil {
		return err
	}
	m.push(value.Value{Region: value.RegionHeap, Off: off})
	return nil
}
