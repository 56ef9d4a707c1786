// Package mediator executes the plans of the engine on behalf of one task.
package mediator

import (
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sarchlab/lotto/sched"
	"github.com/sarchlab/lotto/switcher"
)

// An Engine produces plans and tracks the turn.
type Engine interface {
	Capture(ctx *sched.Context) sched.Plan
	Resume(ctx *sched.Context)
	Return(ctx *sched.Context)
}

// A Switcher passes the turn between tasks.
type Switcher interface {
	Wake(id sched.TaskID, slack time.Duration)
	Yield(id sched.TaskID, filters []sched.AnyTaskFilter) switcher.Status
}

// Status is the outcome of a resume.
type Status int

// The statuses.
const (
	OK Status = iota
	Shutdown
	Abort
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Shutdown:
		return "SHUTDOWN"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Registration is the state of the one-time setup of a task.
type Registration int32

// The registration states.
const (
	RegistrationNone Registration = iota
	RegistrationNeed
	RegistrationExec
	RegistrationDone
)

// Mediator is the per-task state machine between a task and the engine.
// All methods except Register are called by the task itself.
type Mediator struct {
	id     sched.TaskID
	engine Engine
	sw     Switcher
	slack  time.Duration

	plan         sched.Plan
	detachDepth  int
	captureDepth int

	finito           bool
	hasPendingReason bool
	pendingReason    sched.Reason

	registration atomic.Int32

	exit   func(ctx *sched.Context, reason sched.Reason)
	retire func()
}

// Builder creates mediators.
type Builder struct {
	engine Engine
	sw     Switcher
	slack  time.Duration
	exit   func(ctx *sched.Context, reason sched.Reason)
	retire func()
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{retire: runtime.Goexit}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(e Engine) Builder {
	b.engine = e
	return b
}

// WithSwitcher sets the switcher.
func (b Builder) WithSwitcher(s Switcher) Builder {
	b.sw = s
	return b
}

// WithSlack sets the slack granted to plans that ask for it.
func (b Builder) WithSlack(d time.Duration) Builder {
	b.slack = d
	return b
}

// WithExit sets the function that ends the execution with a reason. It is
// not expected to return.
func (b Builder) WithExit(fn func(ctx *sched.Context, reason sched.Reason)) Builder {
	b.exit = fn
	return b
}

// WithRetire sets the function that ends a task once the execution is
// over. It defaults to runtime.Goexit.
func (b Builder) WithRetire(fn func()) Builder {
	b.retire = fn
	return b
}

// Build creates a mediator for task id.
func (b Builder) Build(id sched.TaskID) *Mediator {
	m := &Mediator{
		id:     id,
		engine: b.engine,
		sw:     b.sw,
		slack:  b.slack,
		exit:   b.exit,
		retire: b.retire,
	}
	m.plan.Reset()
	m.registration.Store(int32(RegistrationNeed))

	return m
}

// ID returns the id of the task.
func (m *Mediator) ID() sched.TaskID {
	return m.id
}

// Plan returns the remaining plan.
func (m *Mediator) Plan() sched.Plan {
	return m.plan
}

// Detach stops the captures of the task. It returns true if the task was
// attached.
func (m *Mediator) Detach() bool {
	m.detachDepth++
	return m.detachDepth == 1
}

// Attach undoes a Detach. It returns true if the task is attached again.
func (m *Mediator) Attach() bool {
	if m.detachDepth <= 0 {
		log.Panicf("mediator: task %s attached while not detached", m.id)
	}

	m.detachDepth--

	return m.detachDepth == 0
}

// Detached reports if captures are ignored.
func (m *Mediator) Detached() bool {
	return m.detachDepth > 0
}

// InCapture reports if the task is inside a capture.
func (m *Mediator) InCapture() bool {
	return m.captureDepth > 0
}

// Finito reports if the task has seen the end of the execution.
func (m *Mediator) Finito() bool {
	return m.finito
}

// Registration returns the registration state.
func (m *Mediator) Registration() Registration {
	return Registration(m.registration.Load())
}

// Register runs fn once, the first time the task needs it. Concurrent
// callers wait until fn has returned.
func (m *Mediator) Register(fn func()) {
	for {
		cur := Registration(m.registration.Load())
		switch cur {
		case RegistrationDone:
			return
		case RegistrationExec:
			runtime.Gosched()
		default:
			if m.registration.CompareAndSwap(int32(cur), int32(RegistrationExec)) {
				fn()
				m.registration.Store(int32(RegistrationDone))

				return
			}
		}
	}
}

// Start waits for the first turn of the task. The first task of an
// execution does not wait.
func (m *Mediator) Start(first bool) {
	ctx := &sched.Context{ID: m.id}

	if !first {
		m.yield(nil)
	}

	m.engine.Resume(ctx)
}

func (m *Mediator) yield(filters []sched.AnyTaskFilter) {
	if m.sw.Yield(m.id, filters) == switcher.Aborted {
		m.finito = true
		m.retire()
	}
}

func (m *Mediator) processShutdown(reason sched.Reason) {
	m.finito = true
	m.hasPendingReason = true
	m.pendingReason = reason
}

// Capture runs the plan of ctx until the task has to leave the engine. It
// returns true if the task must perform the captured call before calling
// Return.
func (m *Mediator) Capture(ctx *sched.Context) bool {
	ctx.ID = m.id
	m.captureDepth++
	defer func() { m.captureDepth-- }()

	if m.Detached() {
		return false
	}

	m.plan = m.engine.Capture(ctx)

	for {
		action := m.plan.NextAction()
		if action == sched.ActionNone {
			break
		}
		m.plan.Done()

		switch action {
		case sched.ActionWake:
			var slack time.Duration
			if m.plan.WithSlack {
				slack = m.slack
			}
			m.sw.Wake(m.plan.Next, slack)
		case sched.ActionCall, sched.ActionBlock:
			m.Detach()
			return true
		case sched.ActionYield:
			m.yield(m.plan.AnyTaskFilters)
		case sched.ActionResume:
			m.engine.Resume(ctx)
		case sched.ActionShutdown:
			m.processShutdown(m.plan.Reason)
		}
	}

	return false
}

// Resume runs what remains of the plan and then ends the execution if the
// plan asked for it.
func (m *Mediator) Resume(ctx *sched.Context) Status {
	ctx.ID = m.id
	status := OK

	for {
		action := m.plan.NextAction()
		if action == sched.ActionNone {
			break
		}
		m.plan.Done()

		switch action {
		case sched.ActionYield:
			m.yield(m.plan.AnyTaskFilters)
		case sched.ActionResume:
			m.engine.Resume(ctx)
		case sched.ActionShutdown:
			m.processShutdown(m.plan.Reason)
			if m.plan.Reason.IsShutdown() {
				status = Shutdown
			} else {
				status = Abort
			}
		}
	}

	m.plan.Reset()

	if m.hasPendingReason {
		reason := m.pendingReason
		m.hasPendingReason = false

		if m.exit != nil {
			m.exit(ctx, reason)
		}
	}

	return status
}

// Return attaches the task after a call and tells the engine if the plan
// expects it.
func (m *Mediator) Return(ctx *sched.Context) {
	ctx.ID = m.id

	if !m.Attach() {
		return
	}

	if m.plan.NextAction() == sched.ActionReturn {
		m.plan.Done()
		m.engine.Return(ctx)
	}
}
