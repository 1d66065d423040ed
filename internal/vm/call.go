package vm

import "taglang/internal/value"

// execCallFunction pops a function then argc arguments (the function was
// pushed before its arguments, so it sits below them on the stack) and
// enters it with a Null receiver.
func (m *VM) execCallFunction(argc int) error {
	args, err := m.popN(argc)
	if err != nil {
		return err
	}
	fn, err := m.pop()
	if err != nil {
		return err
	}
	mem := m.regionBytes(fn)
	if value.TagAt(mem, fn.Off) != value.KindFunction {
		return newFault("CALL_FUNCTION target is not a function")
	}
	return m.enterFunction(fn.Off, args, m.null)
}

// execCallMethod pops argc values where the first popped is the
// receiver's last real argument and the final pop is the receiver
// itself (argc counts the receiver), then dispatches either to a
// user-defined method (by walking the object's field/parent chain) or to
// a built-in primitive/array operator.
func (m *VM) execCallMethod(nameIdx uint16, argc int) error {
	if argc < 1 {
		return newFault("CALL_METHOD argc must include the receiver")
	}
	all, err := m.popN(argc)
	if err != nil {
		return err
	}
	receiver := all[0]
	args := all[1:]
	name := value.GetString(m.Pool.Bytes(), m.Pool.Offset(nameIdx))
	return m.methodCall(receiver, name, args)
}

// methodCall mirrors the original's bc_method_call: if the receiver is a
// user Object, search its own fields for a Function named `name`; if
// found, invoke it with `this` bound to the receiver. On a miss, recurse
// into the parent, which eventually either finds the method on an
// ancestor or bottoms out at a primitive/array value and dispatches to
// the built-in table (this is what lets an object extend a primitive).
func (m *VM) methodCall(receiver value.Value, name string, args []value.Value) error {
	mem := m.regionBytes(receiver)
	if value.TagAt(mem, receiver.Off) != value.KindObject {
		return m.callBuiltin(receiver, name, args)
	}
	n := value.ObjectFieldCount(mem, receiver.Off)
	for i := uint32(0); i < n; i++ {
		if value.GetString(m.Pool.Bytes(), m.Pool.Offset(value.ObjectFieldName(mem, receiver.Off, i))) == name {
			fn := value.ObjectFieldValue(mem, receiver.Off, i)
			fnMem := m.regionBytes(fn)
			if value.TagAt(fnMem, fn.Off) != value.KindFunction {
				return newFault("field %q is not callable", name)
			}
			return m.enterFunction(fn.Off, args, receiver)
		}
	}
	parent := value.ObjectParent(mem, receiver.Off)
	return m.methodCall(parent, name, args)
}
