package handlers

import (
	"bytes"
	"fmt"
	"log"
	"runtime"
	"strings"

	"github.com/sarchlab/lotto/sched"
)

// EnforceMode selects what a replayed capture must have in common with the
// recorded one. Modes can be combined.
type EnforceMode uint32

// EnforceNone turns the checks off.
const EnforceNone EnforceMode = 0

// The enforcement modes.
const (
	EnforceTID EnforceMode = 1 << iota
	EnforceCat
	EnforcePC
	EnforceArgs
	EnforceCustom
)

// DefaultEnforceMode checks the task, the category and the location.
const DefaultEnforceMode = EnforceTID | EnforceCat | EnforcePC

var enforceModeNames = []struct {
	mode EnforceMode
	name string
}{
	{EnforceTID, "tid"},
	{EnforceCat, "cat"},
	{EnforcePC, "pc"},
	{EnforceArgs, "args"},
	{EnforceCustom, "custom"},
}

// Has checks if all bits of m2 are set in m.
func (m EnforceMode) Has(m2 EnforceMode) bool {
	return m&m2 == m2
}

func (m EnforceMode) String() string {
	if m == EnforceNone {
		return "none"
	}

	parts := []string{}
	for _, n := range enforceModeNames {
		if m.Has(n.mode) {
			parts = append(parts, n.name)
		}
	}

	return strings.Join(parts, "|")
}

// ParseEnforceMode parses a list such as "tid|cat|pc".
func ParseEnforceMode(s string) (EnforceMode, error) {
	m := EnforceNone

	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ' '
	}) {
		part = strings.ToLower(part)
		if part == "none" {
			continue
		}

		found := false
		for _, n := range enforceModeNames {
			if n.name == part {
				m |= n.mode
				found = true
			}
		}

		if !found {
			return EnforceNone, fmt.Errorf("unknown enforce mode %q", part)
		}
	}

	return m, nil
}

// EnforceState is the last capture seen. It is part of every record, so a
// replayed run can compare its captures with the recorded ones.
type EnforceState struct {
	Clk  sched.Clk
	ID   sched.TaskID
	Cat  sched.Category
	PC   string
	Args []byte
	Data []byte
}

// Enforce checks that a replayed execution goes through the captures of the
// recorded one. A mismatch ends the execution with ABORT.
//
// ENFORCE captures carry user data as a []byte reference in their first
// argument; they are always recorded when the custom mode is on.
type Enforce struct {
	State EnforceState
	mode  EnforceMode
}

// NewEnforce creates the handler.
func NewEnforce(mode EnforceMode) *Enforce {
	return &Enforce{mode: mode}
}

// stableAddress names a program counter by its function and offset, which
// does not move with the load address of the binary.
func stableAddress(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return fmt.Sprintf("%#x", pc)
	}

	return fmt.Sprintf("%s+%#x", fn.Name(), pc-fn.Entry())
}

func customData(ctx *sched.Context) []byte {
	if ctx.Cat != sched.CatEnforce {
		return nil
	}

	data, _ := ctx.Args[0].Ref.([]byte)

	return data
}

func (f *Enforce) observe(ctx *sched.Context, clk sched.Clk) EnforceState {
	s := EnforceState{Clk: clk, ID: ctx.ID, Cat: ctx.Cat}

	if f.mode.Has(EnforcePC) {
		s.PC = stableAddress(ctx.PC)
	}

	if f.mode.Has(EnforceArgs) {
		s.Args = ctx.ArgBytes()
	}

	if f.mode.Has(EnforceCustom) {
		s.Data = bytes.Clone(customData(ctx))
	}

	return s
}

// mismatches lists the fields of got that differ from the recorded state.
func (f *Enforce) mismatches(got EnforceState) []string {
	want := f.State
	diffs := []string{}

	report := func(field string, want, got any) {
		diffs = append(diffs,
			fmt.Sprintf("%s: expected %v, actual %v", field, want, got))
	}

	if f.mode.Has(EnforceTID) && want.ID != got.ID {
		report("tid", want.ID, got.ID)
	}

	if f.mode.Has(EnforceCat) && want.Cat != got.Cat {
		report("cat", want.Cat, got.Cat)
	}

	if f.mode.Has(EnforcePC) && want.PC != got.PC {
		report("pc", want.PC, got.PC)
	}

	if f.mode.Has(EnforceArgs) && !bytes.Equal(want.Args, got.Args) {
		report("args", fmt.Sprintf("%x", want.Args), fmt.Sprintf("%x", got.Args))
	}

	if f.mode.Has(EnforceCustom) && got.Cat == sched.CatEnforce &&
		!bytes.Equal(want.Data, got.Data) {
		report("data", fmt.Sprintf("%x", want.Data), fmt.Sprintf("%x", got.Data))
	}

	return diffs
}

// Handle implements sequencer.Handler.
func (f *Enforce) Handle(ctx *sched.Context, e *sched.Event) {
	if f.mode == EnforceNone {
		return
	}

	if f.mode.Has(EnforceCustom) && ctx.Cat == sched.CatEnforce {
		e.ShouldRecord = true
	}

	got := f.observe(ctx, e.Clk)

	if e.Replay && e.Clk == f.State.Clk {
		if diffs := f.mismatches(got); len(diffs) > 0 {
			log.Printf("[lotto] replay mismatch at clk %d, %s", e.Clk, ctx)
			for _, d := range diffs {
				log.Printf("[lotto]   %s", d)
			}

			e.SetReason(sched.ReasonAbort)
		}
	}

	f.State = got
}
