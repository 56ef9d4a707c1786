package sched

import (
	"encoding/binary"
	"fmt"
	"syscall"
)

// NumArgs is the number of argument slots of a Context.
const NumArgs = 4

// ArgKind tags the content of an Arg.
type ArgKind uint8

// The kinds of arguments.
const (
	ArgNone ArgKind = iota
	ArgPtr
	ArgU64
	ArgBool
)

// Arg is a tagged argument value. Ref carries an opaque Go value alongside
// the integer payload; it is never compared or persisted.
type Arg struct {
	Kind  ArgKind
	Value uint64
	Ref   any
}

// PtrArg creates a pointer-like argument from an address.
func PtrArg(addr uintptr) Arg {
	return Arg{Kind: ArgPtr, Value: uint64(addr)}
}

// U64Arg creates an integer argument.
func U64Arg(v uint64) Arg {
	return Arg{Kind: ArgU64, Value: v}
}

// BoolArg creates a boolean argument.
func BoolArg(b bool) Arg {
	a := Arg{Kind: ArgBool}
	if b {
		a.Value = 1
	}

	return a
}

// RefArg creates an argument carrying an opaque value.
func RefArg(v any) Arg {
	return Arg{Kind: ArgNone, Ref: v}
}

// Addr returns the argument as an address.
func (a Arg) Addr() uintptr {
	return uintptr(a.Value)
}

// Bool returns the argument as a boolean.
func (a Arg) Bool() bool {
	return a.Value != 0
}

func (a Arg) String() string {
	switch a.Kind {
	case ArgPtr:
		return fmt.Sprintf("0x%x", a.Value)
	case ArgU64:
		return fmt.Sprintf("%d", a.Value)
	case ArgBool:
		return fmt.Sprintf("%t", a.Bool())
	default:
		return "-"
	}
}

// Context describes one intercepted operation: what happens, where and by
// whom. A context lives for one capture only.
type Context struct {
	PC   uintptr
	Func string
	Cat  Category
	Args [NumArgs]Arg
	ID   TaskID
	VID  TaskID

	// Meta is scratch space for the interceptor that created the context.
	Meta any

	// Ret and Errno carry results that handlers deliver back to the task
	// once the decision has been made.
	Ret   Arg
	Errno syscall.Errno
}

// ArgBytes encodes the argument slots in slot order. Opaque references are
// not part of the encoding.
func (c *Context) ArgBytes() []byte {
	buf := make([]byte, 0, NumArgs*9)
	for _, a := range c.Args {
		buf = append(buf, byte(a.Kind))
		buf = binary.LittleEndian.AppendUint64(buf, a.Value)
	}

	return buf
}

func (c *Context) String() string {
	return fmt.Sprintf("[t:%s pc:0x%x] %s %s(%s, %s, %s, %s)",
		c.ID, c.PC&0xfff, c.Cat, c.Func,
		c.Args[0], c.Args[1], c.Args[2], c.Args[3])
}
