package sequencer

import (
	"log"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

// Dispatcher runs the handler chain and picks the next task.
type Dispatcher struct {
	handlers [sched.NumSlots]Handler
	prng     *prng.PRNG
}

// NewDispatcher creates a dispatcher that draws random decisions from p.
func NewDispatcher(p *prng.PRNG) *Dispatcher {
	return &Dispatcher{prng: p}
}

// Register installs a handler at a slot. Each slot takes one handler.
func (d *Dispatcher) Register(slot sched.Slot, h Handler) {
	if slot < 0 || slot >= sched.NumSlots {
		log.Panicf("dispatcher: invalid slot %d", slot)
	}

	if h == nil {
		log.Panicf("dispatcher: nil handler at slot %s", slot)
	}

	if d.handlers[slot] != nil {
		log.Panicf("dispatcher: slot %s already taken", slot)
	}

	d.handlers[slot] = h
}

// Handler returns the handler at a slot, or nil.
func (d *Dispatcher) Handler(slot sched.Slot) Handler {
	if slot < 0 || slot >= sched.NumSlots {
		return nil
	}

	return d.handlers[slot]
}

// Dispatch runs every handler on the event and returns the next task.
func (d *Dispatcher) Dispatch(ctx *sched.Context, e *sched.Event) sched.TaskID {
	for _, h := range d.handlers {
		if h != nil {
			h.Handle(ctx, e)
		}
	}

	if !e.IsChpt {
		if e.Next != sched.NoTask && e.Next != ctx.ID {
			log.Panicf("clk %d: task %s designated at a non-change point of %s",
				e.Clk, e.Next, ctx)
		}

		return ctx.ID
	}

	if e.Next != sched.NoTask {
		return e.Next
	}

	n := e.NumCandidates()
	if n == 0 {
		return sched.AnyTask
	}

	tset := e.Candidates()

	switch e.Selector() {
	case sched.SelectorFirst:
		return tset.Get(0)
	default:
		if e.Reason == sched.ReasonUnknown {
			e.Reason = sched.ReasonDeterministic
		}

		return tset.Get(int(d.prng.Range(0, uint64(n))))
	}
}
