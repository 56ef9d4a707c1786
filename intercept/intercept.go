// Package intercept is the boundary between a program and the engine. Every
// operation a task wants the engine to schedule goes through an Interceptor,
// which finds the mediator of the task and runs the capture.
package intercept

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/lotto/mediator"
	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// Interceptor owns the mediators of the live tasks.
type Interceptor struct {
	mu        sync.RWMutex
	mediators map[sched.TaskID]*mediator.Mediator

	builder mediator.Builder
	bus     *pubsub.Bus

	started atomic.Bool
	stopped atomic.Bool
}

// Builder creates interceptors.
type Builder struct {
	mediators mediator.Builder
	bus       *pubsub.Bus
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{mediators: mediator.MakeBuilder()}
}

// WithMediatorBuilder sets how the mediators of new tasks are built.
func (b Builder) WithMediatorBuilder(mb mediator.Builder) Builder {
	b.mediators = mb
	return b
}

// WithBus sets the bus that sees every capture on the intercept chain.
func (b Builder) WithBus(bus *pubsub.Bus) Builder {
	b.bus = bus
	return b
}

// Build creates the interceptor.
func (b Builder) Build() *Interceptor {
	return &Interceptor{
		mediators: make(map[sched.TaskID]*mediator.Mediator),
		builder:   b.mediators,
		bus:       b.bus,
	}
}

// Start enables the captures.
func (i *Interceptor) Start() {
	i.started.Store(true)
}

// Stop disables the captures for good.
func (i *Interceptor) Stop() {
	i.stopped.Store(true)
}

// Active reports if captures reach the engine.
func (i *Interceptor) Active() bool {
	return i.started.Load() && !i.stopped.Load()
}

// Enter registers a new task and waits for its first turn. The first task
// of an execution takes the turn right away.
func (i *Interceptor) Enter(id sched.TaskID, first bool) *mediator.Mediator {
	m := i.builder.Build(id)

	i.mu.Lock()
	if _, exists := i.mediators[id]; exists {
		i.mu.Unlock()
		log.Panicf("intercept: task %s entered twice", id)
	}
	i.mediators[id] = m
	i.mu.Unlock()

	m.Start(first)

	return m
}

// Leave forgets a task.
func (i *Interceptor) Leave(id sched.TaskID) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.mediators, id)
}

// Mediator returns the mediator of a task.
func (i *Interceptor) Mediator(id sched.TaskID) (*mediator.Mediator, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	m, ok := i.mediators[id]

	return m, ok
}

// Len returns the number of registered tasks.
func (i *Interceptor) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.mediators)
}

func (i *Interceptor) mustMediator(ctx *sched.Context) *mediator.Mediator {
	m, ok := i.Mediator(ctx.ID)
	if !ok {
		log.Panicf("intercept: capture from unknown task: %s", ctx)
	}

	return m
}

func (i *Interceptor) announce(ctx *sched.Context) {
	if i.bus == nil || ctx.Cat == sched.CatNone {
		return
	}

	i.bus.Publish(sched.ChainIntercept, pubsub.Type(ctx.Cat), ctx, nil)
}

// Capture hands a non-blocking operation to the engine and returns once the
// task holds the turn again. The operation runs after Capture returns.
func (i *Interceptor) Capture(ctx *sched.Context) mediator.Status {
	if !i.Active() {
		return mediator.OK
	}

	m := i.mustMediator(ctx)
	if m.Detached() {
		return mediator.OK
	}

	i.announce(ctx)

	if m.Capture(ctx) {
		log.Panicf("intercept: %s asked for a call outside BeforeCall", ctx)
	}

	return m.Resume(ctx)
}

// BeforeCall hands a blocking operation to the engine. If it returns a
// mediator, the task must perform the operation and then call AfterCall
// with the same context. A capture without category is a CALL, or a
// TASK_CREATE if the function is "go".
func (i *Interceptor) BeforeCall(ctx *sched.Context) *mediator.Mediator {
	if !i.Active() {
		return nil
	}

	if ctx.Cat == sched.CatNone {
		if ctx.Func == "go" {
			ctx.Cat = sched.CatTaskCreate
		} else {
			ctx.Cat = sched.CatCall
		}
	}

	m := i.mustMediator(ctx)
	if m.Detached() {
		return nil
	}

	i.announce(ctx)

	if !m.Capture(ctx) {
		m.Resume(ctx)
		return nil
	}

	ctx.Meta = m

	return m
}

// AfterCall resumes a task after the operation announced by BeforeCall.
func (i *Interceptor) AfterCall(ctx *sched.Context) mediator.Status {
	m, ok := ctx.Meta.(*mediator.Mediator)
	if !ok {
		return mediator.OK
	}
	ctx.Meta = nil

	m.Return(ctx)

	return m.Resume(ctx)
}
