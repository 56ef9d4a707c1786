// Package trace stores the records that allow an execution to be replayed.
package trace

import (
	"fmt"
	"strings"

	"github.com/sarchlab/lotto/sched"
)

// Kind classifies a record. Kinds are bit flags so that readers can ask for a
// set of kinds at once.
type Kind uint32

// The record kinds.
const (
	KindNone         Kind = 0x00
	KindInfo         Kind = 0x01
	KindSched        Kind = 0x02
	KindStart        Kind = 0x04
	KindExit         Kind = 0x08
	KindConfig       Kind = 0x10
	KindShutdownLock Kind = 0x20
	KindOpaque       Kind = 0x40
	KindForce        Kind = 0x80

	KindAny Kind = 0xFF
)

var kindNames = []struct {
	k    Kind
	name string
}{
	{KindInfo, "INFO"},
	{KindSched, "SCHED"},
	{KindStart, "START"},
	{KindExit, "EXIT"},
	{KindConfig, "CONFIG"},
	{KindShutdownLock, "SHUTDOWN_LOCK"},
	{KindOpaque, "OPAQUE"},
	{KindForce, "FORCE"},
}

func (k Kind) String() string {
	if k == KindNone {
		return "NONE"
	}

	names := []string{}
	for _, kn := range kindNames {
		if k&kn.k != 0 {
			names = append(names, kn.name)
		}
	}

	return strings.Join(names, "|")
}

// Record is one entry of a trace.
type Record struct {
	Kind   Kind
	Clk    sched.Clk
	ID     sched.TaskID
	Cat    sched.Category
	Reason sched.Reason
	PC     uintptr
	Data   []byte
}

func (r Record) String() string {
	return fmt.Sprintf("%-8s clk:%-6d id:%-4s cat:%-16s reason:%-14s pc:0x%x size:%d",
		r.Kind, r.Clk, r.ID, r.Cat, r.Reason, r.PC, len(r.Data))
}

// Trace is an append-only sequence of records with a read cursor used while
// replaying.
type Trace interface {
	// Append adds a record at the end.
	Append(r Record)

	// Last returns the last record.
	Last() (Record, bool)

	// Pop removes the last record.
	Pop()

	// Next returns the first record at or after the cursor whose kind is in
	// kinds. The record is not consumed.
	Next(kinds Kind) (Record, bool)

	// Advance consumes the record returned by the last Next, or the record
	// under the cursor if Next has not been called since the last Advance.
	Advance()

	// Clear removes every record and rewinds the cursor.
	Clear()

	// Len returns the number of records.
	Len() int

	// Records returns a copy of every record.
	Records() []Record
}
