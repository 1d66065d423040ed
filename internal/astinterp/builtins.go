package astinterp

import "taglang/internal/value"

// callBuiltin dispatches a method call against a primitive or Array
// receiver by comparing the method name against string literals, the
// same convention the bytecode VM's callBuiltin uses (internal/vm/
// builtins.go) and spec §9 notes as the one place a from-scratch
// reimplementation should prefer an enum — kept as string dispatch here
// so both backends agree on observable behavior, including error text.
func (it *Interpreter) callBuiltin(receiver value.Value, name string, args []value.Value) (value.Value, error) {
	mem := it.regionBytes(receiver)
	kind := value.TagAt(mem, receiver.Off)

	switch kind {
	case value.KindInteger, value.KindBoolean, value.KindNull:
		if len(args) != 1 {
			return value.Value{}, newFault("built-in operator %q expects exactly 1 argument, got %d", name, len(args))
		}
		return it.primitiveBinaryOp(receiver, kind, name, args[0])
	case value.KindArray:
		return it.arrayMethod(receiver, name, args)
	default:
		return value.Value{}, newFault("unknown built-in method: %s", name)
	}
}

func (it *Interpreter) primitiveBinaryOp(receiver value.Value, kind value.Kind, name string, other value.Value) (value.Value, error) {
	mem := it.regionBytes(receiver)
	otherMem := it.regionBytes(other)
	otherKind := value.TagAt(otherMem, other.Off)

	switch name {
	case "==":
		return it.pushEquality(receiver, kind, other, otherKind, true)
	case "!=":
		return it.pushEquality(receiver, kind, other, otherKind, false)
	}

	if kind == value.KindBoolean {
		if otherKind != value.KindBoolean {
			return value.Value{}, newFault("operator %q requires two Booleans", name)
		}
		a, b := value.GetBoolean(mem, receiver.Off), value.GetBoolean(otherMem, other.Off)
		switch name {
		case "&":
			return it.pushBool(a && b)
		case "|":
			return it.pushBool(a || b)
		}
	}

	if kind != value.KindInteger || otherKind != value.KindInteger {
		return value.Value{}, newFault("operator %q requires two Integers", name)
	}
	a, b := value.GetInteger(mem, receiver.Off), value.GetInteger(otherMem, other.Off)
	switch name {
	case "+":
		return it.pushInt(a + b)
	case "-":
		return it.pushInt(a - b)
	case "*":
		return it.pushInt(a * b)
	case "/":
		if b == 0 {
			return value.Value{}, newFault("division by zero")
		}
		return it.pushInt(a / b)
	case "%":
		if b == 0 {
			return value.Value{}, newFault("modulo by zero")
		}
		return it.pushInt(a % b)
	case "<=":
		return it.pushBool(a <= b)
	case ">=":
		return it.pushBool(a >= b)
	case "<":
		return it.pushBool(a < b)
	case ">":
		return it.pushBool(a > b)
	}
	return value.Value{}, newFault("unknown built-in method: %s", name)
}

// pushEquality implements spec §4.4's rule that equality between
// different tags yields false (inequality yields true).
func (it *Interpreter) pushEquality(a value.Value, aKind value.Kind, b value.Value, bKind value.Kind, wantEqual bool) (value.Value, error) {
	equal := false
	if aKind == bKind {
		aMem, bMem := it.regionBytes(a), it.regionBytes(b)
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
		return it.pushBool(equal)
	}
	return it.pushBool(!equal)
}

func (it *Interpreter) arrayMethod(receiver value.Value, name string, args []value.Value) (value.Value, error) {
	mem := it.regionBytes(receiver)
	size := value.ArrayLen(mem, receiver.Off)

	switch name {
	case "get":
		if len(args) != 1 {
			return value.Value{}, newFault("array get expects exactly 1 argument, got %d", len(args))
		}
		idxMem := it.regionBytes(args[0])
		if value.TagAt(idxMem, args[0].Off) != value.KindInteger {
			return value.Value{}, newFault("array get index must be an Integer")
		}
		i := value.GetInteger(idxMem, args[0].Off)
		if i < 0 || uint32(i) >= size {
			return value.Value{}, newFault("array index %d out of range (size %d)", i, size)
		}
		return value.GetValue(mem, value.ArrayElemOffset(receiver.Off, uint32(i))), nil
	case "set":
		if len(args) != 2 {
			return value.Value{}, newFault("array set expects exactly 2 arguments, got %d", len(args))
		}
		idxMem := it.regionBytes(args[0])
		if value.TagAt(idxMem, args[0].Off) != value.KindInteger {
			return value.Value{}, newFault("array set index must be an Integer")
		}
		i := value.GetInteger(idxMem, args[0].Off)
		if i < 0 || uint32(i) >= size {
			return value.Value{}, newFault("array index %d out of range (size %d)", i, size)
		}
		value.PutValue(mem, value.ArrayElemOffset(receiver.Off, uint32(i)), args[1])
		return args[1], nil
	default:
		return value.Value{}, newFault("unknown built-in method: %s", name)
	}
}

func (it *Interpreter) pushInt(v int32) (value.Value, error) {
	off, err := it.Heap.ConstructInteger(v)
	if err != nil {
		return value.Value{}, err
	}
	return value.Value{Region: value.RegionHeap, Off: off}, nil
}

func (it *Interpreter) pushBool(v bool) (value.Value, error) {
	off, err := it.Heap.ConstructBoolean(v)
	if err != nil {
		return value.Value{}, err
	}
	return value.Value{Region: value.RegionHeap, Off: off}, nil
}
