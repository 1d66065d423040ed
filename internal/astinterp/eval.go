package astinterp

import (
	"taglang/internal/value"
	"taglang/pkg/ast"
)

// eval interprets n against the current environment, returning its
// value. Every case that computes more than one sub-value roots the
// already-computed ones on the auxiliary stack before evaluating the
// next, per spec §5's rooting discipline: any value not yet reachable
// from the environment chain must be kept visible to a collection that
// a later allocation might trigger.
func (it *Interpreter) eval(n ast.Node) (value.Value, error) {
	switch node := n.(type) {
	case *ast.Integer:
		off, err := it.Heap.ConstructInteger(node.Value)
		if err != nil {
			return value.Value{}, err
		}
		return value.Value{Region: value.RegionHeap, Off: off}, nil

	case *ast.Boolean:
		off, err := it.Heap.ConstructBoolean(node.Value)
		if err != nil {
			return value.Value{}, err
		}
		return value.Value{Region: value.RegionHeap, Off: off}, nil

	case *ast.Null:
		return it.null, nil

	case *ast.Definition:
		v, err := it.eval(node.Value)
		if err != nil {
			return value.Value{}, err
		}
		it.define(node.Name, v)
		return v, nil

	case *ast.VariableAccess:
		if v, ok := it.lookupVar(node.Name); ok {
			return v, nil
		}
		// Accessing an undefined name silently creates it, bound to
		// Null, in the current scope (original's AST_VARIABLE_ACCESS
		// fallback) — distinct from the bytecode compiler, which
		// instead treats every unbound identifier as a forward global
		// reference (spec §9 Open Question (a)).
		it.define(node.Name, it.null)
		return it.null, nil

	case *ast.VariableAssignment:
		v, err := it.eval(node.Value)
		if err != nil {
			return value.Value{}, err
		}
		if !it.assignVar(node.Name, v) {
			it.define(node.Name, v)
		}
		return v, nil

	case *ast.Function:
		return it.constructFunction(node)

	case *ast.FunctionCall:
		fnVal, err := it.eval(node.Function)
		if err != nil {
			return value.Value{}, err
		}
		mem := it.regionBytes(fnVal)
		if value.TagAt(mem, fnVal.Off) != value.KindFunction {
			return value.Value{}, newFault("call target is not a function")
		}
		it.pushAux(fnVal)
		args, err := it.evalArgs(node.Arguments)
		it.popAux(1)
		if err != nil {
			return value.Value{}, err
		}
		return it.callFunction(it.funcNodeOf(fnVal), it.null, args)

	case *ast.MethodCall:
		return it.evalMethodCall(node)

	case *ast.Print:
		return it.evalPrint(node)

	case *ast.Block:
		it.pushScope()
		result := it.null
		for _, expr := range node.Expressions {
			v, err := it.eval(expr)
			if err != nil {
				it.popScope()
				return value.Value{}, err
			}
			result = v
		}
		it.popScope()
		return result, nil

	case *ast.Conditional:
		cond, err := it.eval(node.Condition)
		if err != nil {
			return value.Value{}, err
		}
		branch := node.Consequent
		if !it.truthy(cond) {
			branch = node.Alternative
		}
		it.pushScope()
		v, err := it.eval(branch)
		it.popScope()
		return v, err

	case *ast.Loop:
		return it.evalLoop(node)

	case *ast.Array:
		return it.evalArray(node)

	case *ast.IndexAccess:
		obj, err := it.eval(node.Object)
		if err != nil {
			return value.Value{}, err
		}
		it.pushAux(obj)
		idx, err := it.eval(node.Index)
		it.popAux(1)
		if err != nil {
			return value.Value{}, err
		}
		return it.callMethod(obj, "get", []value.Value{idx})

	case *ast.IndexAssignment:
		obj, err := it.eval(node.Object)
		if err != nil {
			return value.Value{}, err
		}
		it.pushAux(obj)
		idx, err := it.eval(node.Index)
		if err != nil {
			it.popAux(1)
			return value.Value{}, err
		}
		it.pushAux(idx)
		val, err := it.eval(node.Value)
		it.popAux(2)
		if err != nil {
			return value.Value{}, err
		}
		return it.callMethod(obj, "set", []value.Value{idx, val})

	case *ast.Object:
		return it.evalObject(node)

	case *ast.FieldAccess:
		obj, err := it.eval(node.Object)
		if err != nil {
			return value.Value{}, err
		}
		off, i, err := it.lookupField(obj, node.Field)
		if err != nil {
			return value.Value{}, err
		}
		return value.ObjectFieldValue(it.Heap.Bytes(), off, i), nil

	case *ast.FieldAssignment:
		obj, err := it.eval(node.Object)
		if err != nil {
			return value.Value{}, err
		}
		it.pushAux(obj)
		v, err := it.eval(node.Value)
		it.popAux(1)
		if err != nil {
			return value.Value{}, err
		}
		off, i, err := it.lookupField(obj, node.Field)
		if err != nil {
			return value.Value{}, err
		}
		value.SetObjectFieldValue(it.Heap.Bytes(), off, i, v)
		return v, nil

	default:
		return value.Value{}, newFault("ast node not implemented: %T", n)
	}
}

func (it *Interpreter) evalArgs(nodes []ast.Node) ([]value.Value, error) {
	args := make([]value.Value, 0, len(nodes))
	for _, a := range nodes {
		v, err := it.eval(a)
		if err != nil {
			it.popAux(len(args))
			return nil, err
		}
		args = append(args, v)
		it.pushAux(v)
	}
	it.popAux(len(args))
	return args, nil
}

func (it *Interpreter) evalMethodCall(node *ast.MethodCall) (value.Value, error) {
	obj, err := it.eval(node.Object)
	if err != nil {
		return value.Value{}, err
	}
	it.pushAux(obj)
	args, err := it.evalArgs(node.Arguments)
	it.popAux(1)
	if err != nil {
		return value.Value{}, err
	}
	return it.callMethod(obj, node.Name, args)
}

func (it *Interpreter) evalLoop(node *ast.Loop) (value.Value, error) {
	cond, err := it.eval(node.Condition)
	if err != nil {
		return value.Value{}, err
	}
	result := it.null
	for it.truthy(cond) {
		it.pushScope()
		v, err := it.eval(node.Body)
		it.popScope()
		if err != nil {
			return value.Value{}, err
		}
		result = v
		it.pushAux(result)
		cond, err = it.eval(node.Condition)
		it.popAux(1)
		if err != nil {
			return value.Value{}, err
		}
	}
	return result, nil
}

// evalArray evaluates Size once, then re-evaluates Initializer fresh for
// every index (each in its own scope), matching the original's per-index
// re-evaluation semantics rather than evaluating once and copying.
func (it *Interpreter) evalArray(node *ast.Array) (value.Value, error) {
	sizeVal, err := it.eval(node.Size)
	if err != nil {
		return value.Value{}, err
	}
	mem := it.regionBytes(sizeVal)
	if value.TagAt(mem, sizeVal.Off) != value.KindInteger {
		return value.Value{}, newFault("array size must be an Integer")
	}
	size := value.GetInteger(mem, sizeVal.Off)
	if size < 0 {
		return value.Value{}, newFault("array size must be non-negative, got %d", size)
	}

	arrOff, err := it.Heap.ConstructArray(uint32(size))
	if err != nil {
		return value.Value{}, err
	}
	arr := value.Value{Region: value.RegionHeap, Off: arrOff}
	it.pushAux(arr)
	defer it.popAux(1)

	for i := uint32(0); i < uint32(size); i++ {
		it.pushScope()
		v, err := it.eval(node.Initializer)
		it.popScope()
		if err != nil {
			return value.Value{}, err
		}
		value.PutValue(it.Heap.Bytes(), value.ArrayElemOffset(arrOff, i), v)
	}
	return arr, nil
}

// evalObject evaluates the parent expression and every member value
// first, then constructs and fills the Object record in one atomic step
// — the same order the bytecode VM's OBJECT op uses (internal/vm/ops.go
// execObject) — so no partially-initialized record is ever visible to a
// collection triggered by evaluating a later member.
func (it *Interpreter) evalObject(node *ast.Object) (value.Value, error) {
	parent := it.null
	if node.Extends != nil {
		v, err := it.eval(node.Extends)
		if err != nil {
			return value.Value{}, err
		}
		parent = v
	}
	it.pushAux(parent)

	names := make([]uint16, len(node.Members))
	vals := make([]value.Value, len(node.Members))
	for i, member := range node.Members {
		it.pushScope()
		v, err := it.eval(member.Value)
		it.popScope()
		if err != nil {
			it.popAux(1)
			return value.Value{}, err
		}
		names[i] = it.internString(member.Name)
		vals[i] = v
		it.pushAux(v)
	}

	objOff, err := it.Heap.ConstructObject(uint32(len(vals)), parent)
	it.popAux(1 + len(vals))
	if err != nil {
		return value.Value{}, err
	}
	heapMem := it.Heap.Bytes()
	for i := range vals {
		value.PutObjectField(heapMem, objOff, uint32(i), names[i], vals[i])
	}
	return value.Value{Region: value.RegionHeap, Off: objOff}, nil
}

func (it *Interpreter) evalPrint(node *ast.Print) (value.Value, error) {
	args := make([]value.Value, 0, len(node.Arguments))
	for _, a := range node.Arguments {
		v, err := it.eval(a)
		if err != nil {
			it.popAux(len(args))
			return value.Value{}, err
		}
		args = append(args, v)
		it.pushAux(v)
	}
	it.formatPrint(node.Format, args)
	it.popAux(len(args))
	return it.null, nil
}

// lookupField searches obj's own fields for name, recursing into parent
// on a miss, matching the VM's lookupField (internal/vm/ops.go) and the
// original's field_access.
func (it *Interpreter) lookupField(obj value.Value, name string) (off uint32, idx uint32, err error) {
	mem := it.regionBytes(obj)
	if value.TagAt(mem, obj.Off) != value.KindObject {
		return 0, 0, newFault("field lookup on a non-object value")
	}
	n := value.ObjectFieldCount(mem, obj.Off)
	for i := uint32(0); i < n; i++ {
		nameIdx := value.ObjectFieldName(mem, obj.Off, i)
		if value.GetString(it.pool.Bytes(), it.pool.Offset(nameIdx)) == name {
			return obj.Off, i, nil
		}
	}
	parent := value.ObjectParent(mem, obj.Off)
	parentMem := it.regionBytes(parent)
	if value.TagAt(parentMem, parent.Off) == value.KindObject {
		return it.lookupField(parent, name)
	}
	return 0, 0, newFault("field not found: %s", name)
}

// callMethod mirrors the original's method_call: if the receiver is a
// user Object, search its own fields for a Function named name and
// invoke it with `this` bound to the receiver; on a miss recurse into
// parent, eventually either finding the method on an ancestor or
// bottoming out at a primitive/array value and dispatching to the
// built-in table (letting an object extend a primitive).
func (it *Interpreter) callMethod(receiver value.Value, name string, args []value.Value) (value.Value, error) {
	mem := it.regionBytes(receiver)
	if value.TagAt(mem, receiver.Off) != value.KindObject {
		return it.callBuiltin(receiver, name, args)
	}
	n := value.ObjectFieldCount(mem, receiver.Off)
	for i := uint32(0); i < n; i++ {
		nameIdx := value.ObjectFieldName(mem, receiver.Off, i)
		if value.GetString(it.pool.Bytes(), it.pool.Offset(nameIdx)) == name {
			fn := value.ObjectFieldValue(mem, receiver.Off, i)
			fnMem := it.regionBytes(fn)
			if value.TagAt(fnMem, fn.Off) != value.KindFunction {
				return value.Value{}, newFault("field %q is not callable", name)
			}
			return it.callFunction(it.funcNodeOf(fn), receiver, args)
		}
	}
	parent := value.ObjectParent(mem, receiver.Off)
	return it.callMethod(parent, name, args)
}
