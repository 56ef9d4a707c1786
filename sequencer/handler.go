// Package sequencer decides, at every capture, which task runs next.
//
// A capture is turned into an event that is threaded through the handler
// chain. Each handler narrows the candidate set or forces a decision. The
// dispatcher then picks the next task, and the sequencer turns the decision
// into a plan for the mediator of the capturing task.
package sequencer

import "github.com/sarchlab/lotto/sched"

// A Handler takes part in the decision of every capture.
//
// Handlers are called in slot order. A handler may only change the candidate
// set while the event is neither readonly nor skipped.
type Handler interface {
	Handle(ctx *sched.Context, e *sched.Event)
}

// HandlerFunc is a function that can be used as a handler.
type HandlerFunc func(ctx *sched.Context, e *sched.Event)

// Handle calls f.
func (f HandlerFunc) Handle(ctx *sched.Context, e *sched.Event) {
	f(ctx, e)
}
