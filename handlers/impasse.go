package handlers

import (
	"log"

	"github.com/sarchlab/lotto/sched"
)

// Impasse ends the execution when no task can make progress: nobody is a
// candidate, nobody is inside a blocking call and no deadline is pending.
type Impasse struct {
	blocking *Blocking
	timeout  *Timeout
}

// NewImpasse creates the handler.
func NewImpasse(blocking *Blocking, timeout *Timeout) *Impasse {
	return &Impasse{blocking: blocking, timeout: timeout}
}

// Handle implements sequencer.Handler.
func (i *Impasse) Handle(ctx *sched.Context, e *sched.Event) {
	if e.Skip || e.Next != sched.NoTask || e.NumCandidates() > 0 {
		return
	}

	if i.blocking != nil && i.blocking.AnyBlocked() {
		return
	}

	if i.timeout != nil && i.timeout.Pending() > 0 {
		return
	}

	log.Printf("[lotto] impasse at clk %d: no task can run after %s", e.Clk, ctx)
	e.SetReason(sched.ReasonImpasse)
}
