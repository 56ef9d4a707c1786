package handlers

import (
	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

// Watchdog preempts a task that runs too long without reaching a change
// point, as a busy loop over plain or atomic reads does.
type Watchdog struct {
	prng   *prng.PRNG
	budget uint64
	limit  uint64
	count  uint64
	last   sched.TaskID
}

// NewWatchdog creates the handler. A zero budget disables it.
func NewWatchdog(p *prng.PRNG, budget uint64) *Watchdog {
	return &Watchdog{prng: p, budget: budget, last: sched.NoTask}
}

func watched(c sched.Category) bool {
	return c.IsAfterAtomic() || c == sched.CatBeforeRead ||
		c == sched.CatBeforeWrite || c == sched.CatUserYield
}

func (w *Watchdog) draw() uint64 {
	if w.budget < 2 {
		return w.budget
	}

	return w.prng.Range(w.budget/2, w.budget+1)
}

// Handle implements sequencer.Handler.
func (w *Watchdog) Handle(ctx *sched.Context, e *sched.Event) {
	if w.budget == 0 {
		return
	}

	if ctx.ID != w.last {
		w.last = ctx.ID
		w.count = 0
		w.limit = w.draw()
	}

	if e.IsChpt {
		w.count = 0
		return
	}

	// Filtered captures still count, or a loop of dropped reads would spin
	// forever.
	if !watched(ctx.Cat) || (!e.Skip && e.Readonly()) {
		return
	}

	w.count++
	if w.count < w.limit {
		return
	}

	w.count = 0
	w.limit = w.draw()

	e.Unskip()
	e.TaskSet().Remove(ctx.ID)
	e.SetReason(sched.ReasonWatchdog)
	e.IsChpt = true
	e.SetSelector(sched.SelectorRandom)
}
