package handlers

import (
	"fmt"
	"log"
	"strings"

	"github.com/sarchlab/lotto/sched"
)

// TerminationMode selects what the termination limit counts.
type TerminationMode int

// The termination modes.
const (
	TerminateNever TerminationMode = iota

	// TerminateClk counts captures.
	TerminateClk

	// TerminateChpt counts change points.
	TerminateChpt

	// TerminatePreempt counts change points at which the running task could
	// have been preempted by another candidate.
	TerminatePreempt

	// TerminateTime counts logical nanoseconds.
	TerminateTime
)

var terminationNames = [...]string{"none", "clk", "chpt", "preempt", "time"}

func (m TerminationMode) String() string {
	if m < 0 || int(m) >= len(terminationNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}

	return terminationNames[m]
}

// ParseTerminationMode converts a mode name.
func ParseTerminationMode(s string) (TerminationMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TerminateNever, nil
	}

	for i, n := range terminationNames {
		if n == s {
			return TerminationMode(i), nil
		}
	}

	return TerminateNever, fmt.Errorf("unknown termination mode %q", s)
}

// Termination shuts the execution down once a limit is reached.
type Termination struct {
	mode    TerminationMode
	limit   uint64
	timeout *Timeout

	chpts    uint64
	preempts uint64
}

// NewTermination creates the handler. The timeout provides the logical
// time of the TIME mode.
func NewTermination(mode TerminationMode, limit uint64, timeout *Timeout) *Termination {
	return &Termination{mode: mode, limit: limit, timeout: timeout}
}

// Progress returns the value compared against the limit at clk.
func (t *Termination) Progress(clk sched.Clk) uint64 {
	switch t.mode {
	case TerminateClk:
		return uint64(clk)
	case TerminateChpt:
		return t.chpts
	case TerminatePreempt:
		return t.preempts
	case TerminateTime:
		if t.timeout == nil {
			return 0
		}
		return t.timeout.NowAt(clk)
	default:
		return 0
	}
}

// Handle implements sequencer.Handler.
func (t *Termination) Handle(ctx *sched.Context, e *sched.Event) {
	if t.mode == TerminateNever || e.Reason.IsTerminate() {
		return
	}

	if e.IsChpt {
		t.chpts++

		if e.HasCandidate(ctx.ID) && e.NumCandidates() > 1 {
			t.preempts++
		}
	}

	if p := t.Progress(e.Clk); p >= t.limit {
		log.Printf("[lotto] termination limit reached: %s %d >= %d",
			t.mode, p, t.limit)
		e.SetReason(sched.ReasonShutdown)
	}
}
