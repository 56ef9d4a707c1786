package handlers

import "github.com/sarchlab/lotto/sched"

// Atomic makes every atomic operation a change point.
type Atomic struct{}

// Handle implements sequencer.Handler.
func (Atomic) Handle(ctx *sched.Context, e *sched.Event) {
	if e.Skip || !ctx.Cat.IsBeforeAtomic() {
		return
	}

	e.IsChpt = true
	if e.Reason == sched.ReasonUnknown {
		e.SetReason(sched.ReasonDeterministic)
	}
}

// Yield makes explicit yields change points.
type Yield struct{}

// Handle implements sequencer.Handler.
func (Yield) Handle(ctx *sched.Context, e *sched.Event) {
	if e.Skip {
		return
	}

	switch ctx.Cat {
	case sched.CatSysYield:
		e.IsChpt = true
		e.SetReason(sched.ReasonSysYield)
	case sched.CatUserYield:
		e.IsChpt = true
		e.SetReason(sched.ReasonUserYield)
	}
}
