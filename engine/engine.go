// Package engine guards the order of the calls into the sequencer.
//
// Every task goes through the same life cycle: it resumes, runs, and
// captures. The engine checks that only the task holding the turn captures,
// that plans match the category of the capture, and that blocking calls are
// balanced.
package engine

import (
	"log"
	"sync/atomic"

	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
	"github.com/sarchlab/lotto/trace"
)

// A Sequencer makes the scheduling decisions.
type Sequencer interface {
	Capture(ctx *sched.Context) sched.Plan
	Resume(ctx *sched.Context)
	Return(ctx *sched.Context)
	Fini(ctx *sched.Context, reason sched.Reason)
}

// A Recorder starts the traces of an execution.
type Recorder interface {
	Init(input, output trace.Trace)
}

// State is the life-cycle state of the engine.
type State int32

// The states.
const (
	StateInit State = iota
	StateResumed
	StateCaptured
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateResumed:
		return "RESUMED"
	case StateCaptured:
		return "CAPTURED"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// The exit codes returned by Fini.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitModifiedAbort = 240
)

// Engine is the entry point of the mediators.
type Engine struct {
	seq Sequencer
	rec Recorder
	bus *pubsub.Bus

	modifyReturnCode bool

	lock    atomic.Bool
	state   atomic.Int32
	clk     sched.Clk
	pending atomic.Int64
	running atomic.Uint64
}

// Builder creates engines.
type Builder struct {
	seq              Sequencer
	rec              Recorder
	bus              *pubsub.Bus
	modifyReturnCode bool
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{}
}

// WithSequencer sets the sequencer.
func (b Builder) WithSequencer(s Sequencer) Builder {
	b.seq = s
	return b
}

// WithRecorder sets the recorder.
func (b Builder) WithRecorder(r Recorder) Builder {
	b.rec = r
	return b
}

// WithBus sets the bus that receives the engine topics.
func (b Builder) WithBus(bus *pubsub.Bus) Builder {
	b.bus = bus
	return b
}

// WithModifyReturnCode makes aborted executions exit with 240 instead of 1,
// so that they can be told apart from failures of the program itself.
func (b Builder) WithModifyReturnCode(on bool) Builder {
	b.modifyReturnCode = on
	return b
}

// Build creates the engine.
func (b Builder) Build() *Engine {
	if b.seq == nil {
		log.Panicf("engine: sequencer is required")
	}

	return &Engine{
		seq:              b.seq,
		rec:              b.rec,
		bus:              b.bus,
		modifyReturnCode: b.modifyReturnCode,
	}
}

// State returns the current life-cycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// RunningID returns the task that resumed last.
func (e *Engine) RunningID() sched.TaskID {
	return sched.TaskID(e.running.Load())
}

// Pending returns the number of tasks inside a blocking call.
func (e *Engine) Pending() int64 {
	return e.pending.Load()
}

// Init binds the traces and announces the start of the execution.
func (e *Engine) Init(input, output trace.Trace) {
	if e.bus != nil {
		e.bus.Publish(sched.ChainInterface, sched.TopicEngineStart, nil, nil)
	}

	if e.rec != nil {
		e.rec.Init(input, output)
	}
}

func (e *Engine) acquire(op string, ctx *sched.Context) {
	if !e.lock.CompareAndSwap(false, true) {
		log.Panicf("engine: concurrent %s by %s", op, ctx)
	}
}

func (e *Engine) release() {
	e.lock.Store(false)
}

// Capture asks the sequencer for the plan that follows ctx.
func (e *Engine) Capture(ctx *sched.Context) sched.Plan {
	if e.State() == StateFinished {
		log.Panicf("engine: capture after the end of the execution: %s", ctx)
	}

	if ctx.ID == sched.NoTask {
		log.Panicf("engine: capture without task: %s", ctx)
	}

	e.clk++

	if s := e.State(); s != StateResumed {
		log.Panicf("engine: capture in state %s: %s", s, ctx)
	}

	e.acquire("capture", ctx)
	defer e.release()

	if e.bus != nil {
		e.bus.Publish(sched.ChainInterface, sched.TopicBeforeCapture, ctx, nil)
	}

	p := e.seq.Capture(ctx)

	if p.Clk != e.clk {
		log.Panicf("engine: sequencer at clk %d, engine at clk %d", p.Clk, e.clk)
	}

	if p.NextAction() != sched.ActionContinue {
		e.state.Store(int32(StateCaptured))
	}

	if ctx.Cat != sched.CatTaskCreate &&
		(p.Has(sched.ActionCall) || p.Has(sched.ActionBlock)) {
		e.pending.Add(1)
	}

	if running := e.RunningID(); running != ctx.ID {
		log.Panicf("engine: task %s captured while task %s is running",
			ctx.ID, running)
	}

	checkPlan(ctx, &p)

	return p
}

// checkPlan makes sure the plan fits the category of the capture.
func checkPlan(ctx *sched.Context, p *sched.Plan) {
	if p.Next == sched.NoTask {
		log.Panicf("engine: plan without next task: %s", ctx)
	}

	if p.WithSlack && !ctx.Cat.IsSlack() {
		log.Panicf("engine: slack for non-slack category: %s", ctx)
	}

	actions := p.Actions
	if actions != sched.ActionShutdown {
		actions &^= sched.ActionShutdown
	}

	self := p.Next == ctx.ID
	replayed := p.ReplayType != sched.ReplayOff

	const (
		wake   = sched.ActionWake
		call   = sched.ActionCall
		block  = sched.ActionBlock
		ret    = sched.ActionReturn
		yield  = sched.ActionYield
		resume = sched.ActionResume
	)

	ok := false

	switch actions {
	case sched.ActionContinue:
		ok = self && ctx.Cat != sched.CatTaskFini &&
			len(p.AnyTaskFilters) == 0
	case wake | yield | resume:
		ok = ctx.Cat != sched.CatTaskFini &&
			(len(p.AnyTaskFilters) == 0 || ctx.Cat.IsWait())
	case wake | call | yield | resume:
		ok = ctx.Cat == sched.CatTaskCreate
	case wake | call | ret | yield | resume:
		ok = ctx.Cat == sched.CatCall && (replayed || !self)
	case wake | block | ret | yield | resume:
		ok = ctx.Cat == sched.CatTaskBlock && (replayed || !self)
	case wake:
		ok = ctx.Cat == sched.CatTaskFini && !self
	case sched.ActionShutdown:
		ok = true
	}

	if !ok {
		log.Panicf("engine: invalid plan %s (next %s) for %s",
			p.Actions, p.Next, ctx)
	}
}

// Resume hands the turn to the task of ctx.
func (e *Engine) Resume(ctx *sched.Context) {
	e.acquire("resume", ctx)
	defer e.release()

	prev := State(e.state.Swap(int32(StateResumed)))
	if prev != StateInit && prev != StateCaptured {
		log.Panicf("engine: resume in state %s: %s", prev, ctx)
	}

	e.running.Store(uint64(ctx.ID))
	e.seq.Resume(ctx)
}

// Return tells that the task of ctx is back from a blocking call.
func (e *Engine) Return(ctx *sched.Context) {
	if e.State() == StateFinished {
		log.Printf("engine: ignoring return after the end of the execution: %s",
			ctx)
		return
	}

	if e.pending.Add(-1) < 0 {
		log.Panicf("engine: return without call: %s", ctx)
	}

	e.seq.Return(ctx)
}

// Fini ends the execution and returns the exit code.
func (e *Engine) Fini(ctx *sched.Context, reason sched.Reason) int {
	if State(e.state.Swap(int32(StateFinished))) == StateFinished {
		log.Panicf("engine: finished twice: %s", ctx)
	}

	e.seq.Fini(ctx, reason)

	switch {
	case reason.IsShutdown():
		return ExitSuccess
	case e.modifyReturnCode:
		return ExitModifiedAbort
	default:
		return ExitFailure
	}
}
