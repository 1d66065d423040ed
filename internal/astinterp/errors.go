package astinterp

import "fmt"

// Fault is a tree-walk-time fatal error: an undefined field, a wrong
// argument count, a primitive operator applied to the wrong types, an
// out-of-bounds array index, or division/modulo by zero. Mirrors the
// bytecode VM's Fault — a condition a malformed or buggy *program* can
// trigger, not an invariant violation in this interpreter itself.
type Fault struct {
	Message string
}

func (f *Fault) Error() string { return f.Message }

func newFault(format string, args ...interface{}) *Fault {
	return &Fault{Message: fmt.Sprintf(format, args...)}
}
