package vm

import "taglang/internal/value"

// execConstant materializes the constant-pool entry at idx onto the
// operand stack. Integer and Boolean constants are freshly copied onto
// the heap on every use (they are immutable payload but each use is an
// independent heap record so later mutation of one use site's neighbors
// can't alias another's); Null always resolves to the one rooted
// sentinel; String and Function constants are never copied — their
// constant-pool address is pushed directly.
func (m *VM) execConstant(idx uint16) error {
	mem := m.Pool.Bytes()
	off := m.Pool.Offset(idx)
	switch value.TagAt(mem, off) {
	case value.KindInteger:
		newOff, err := m.Heap.ConstructInteger(value.GetInteger(mem, off))
		if err != nil {
			return err
		}
		m.push(value.Value{Region: value.RegionHeap, Off: newOff})
	case value.KindBoolean:
		newOff, err := m.Heap.ConstructBoolean(value.GetBoolean(mem, off))
		if err != nil {
			return err
		}
		m.push(value.Value{Region: value.RegionHeap, Off: newOff})
	case value.KindNull:
		m.push(m.null)
	case value.KindString, value.KindFunction:
		m.push(value.Value{Region: value.RegionConst, Off: off})
	default:
		return newFault("constant at index %d has non-constructible tag", idx)
	}
	return nil
}

// execPrint pops argc values, then expands the format string at idx
// against them, and pushes Null.
func (m *VM) execPrint(idx uint16, argc int) error {
	args, err := m.popN(argc)
	if err != nil {
		return err
	}
	format := value.GetString(m.Pool.Bytes(), m.Pool.Offset(idx))
	m.formatPrint(format, args)
	m.push(m.null)
	return nil
}

// execArray pops (size, init) — init on top — and pushes a new Array of
// the given size with every cell set to init.
func (m *VM) execArray() error {
	initVal, err := m.pop()
	if err != nil {
		return err
	}
	sizeVal, err := m.pop()
	if err != nil {
		return err
	}
	mem := m.regionBytes(sizeVal)
	if value.TagAt(mem, sizeVal.Off) != value.KindInteger {
		return newFault("array size must be an Integer")
	}
	size := value.GetInteger(mem, sizeVal.Off)
	if size < 0 {
		return newFault("array size must be non-negative, got %d", size)
	}

	m.pushAux(initVal)
	arrOff, err := m.Heap.ConstructArray(uint32(size))
	m.popAux(1)
	if err != nil {
		return err
	}
	heapMem := m.Heap.Bytes()
	for i := uint32(0); i < uint32(size); i++ {
		value.PutValue(heapMem, value.ArrayElemOffset(arrOff, i), initVal)
	}
	m.push(value.Value{Region: value.RegionHeap, Off: arrOff})
	return nil
}

// execObject pops a parent and then cls.count member values (members
// popped in reverse declaration order since they were pushed in forward
// order), and pushes a new Object.
func (m *VM) execObject(classIdx uint16) error {
	poolMem := m.Pool.Bytes()
	classOff := m.Pool.Offset(classIdx)
	if value.TagAt(poolMem, classOff) != value.KindClass {
		return newFault("OBJECT operand %d does not name a Class constant", classIdx)
	}
	count := value.ClassCount(poolMem, classOff)

	memberVals, err := m.popN(int(count))
	if err != nil {
		return err
	}
	parent, err := m.pop()
	if err != nil {
		return err
	}

	for _, v := range memberVals {
		m.pushAux(v)
	}
	m.pushAux(parent)
	objOff, err := m.Heap.ConstructObject(uint32(count), parent)
	m.popAux(len(memberVals) + 1)
	if err != nil {
		return err
	}
	heapMem := m.Heap.Bytes()
	for i := uint16(0); i < count; i++ {
		nameIdx := value.ClassMember(poolMem, classOff, i)
		value.PutObjectField(heapMem, objOff, uint32(i), nameIdx, memberVals[i])
	}
	m.push(value.Value{Region: value.RegionHeap, Off: objOff})
	return nil
}

// lookupField searches obj's own fields for name, recursing into parent
// on a miss, matching the original's get_field. Returns an error if the
// parent chain bottoms out at a non-Object, non-field-bearing value.
func (m *VM) lookupField(obj value.Value, nameIdx uint16) (uint32, uint32, error) {
	mem := m.regionBytes(obj)
	if value.TagAt(mem, obj.Off) != value.KindObject {
		return 0, 0, newFault("field lookup on a non-object value")
	}
	n := value.ObjectFieldCount(mem, obj.Off)
	for i := uint32(0); i < n; i++ {
		if value.ObjectFieldName(mem, obj.Off, i) == nameIdx {
			return obj.Off, i, nil
		}
	}
	parent := value.ObjectParent(mem, obj.Off)
	parentMem := m.regionBytes(parent)
	if value.TagAt(parentMem, parent.Off) == value.KindObject {
		return m.lookupField(parent, nameIdx)
	}
	name := value.GetString(m.Pool.Bytes(), m.Pool.Offset(nameIdx))
	return 0, 0, newFault("field not found: %s", name)
}

func (m *VM) execGetField(nameIdx uint16) error {
	obj, err := m.pop()
	if err != nil {
		return err
	}
	objOff, i, err := m.lookupField(obj, nameIdx)
	if err != nil {
		return err
	}
	m.push(value.ObjectFieldValue(m.heapMemOf(obj), objOff, i))
	return nil
}

// SET_FIELD overwrites an existing field only; this language does not
// permit field creation after object construction (spec §4.4).
func (m *VM) execSetField(nameIdx uint16) error {
	newVal, err := m.pop()
	if err != nil {
		return err
	}
	obj, err := m.pop()
	if err != nil {
		return err
	}
	objOff, i, err := m.lookupField(obj, nameIdx)
	if err != nil {
		return err
	}
	value.SetObjectFieldValue(m.heapMemOf(obj), objOff, i, newVal)
	m.push(newVal)
	return nil
}

func (m *VM) heapMemOf(v value.Value) []byte { return m.regionBytes(v) }
