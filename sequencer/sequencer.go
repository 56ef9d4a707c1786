package sequencer

import (
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/recorder"
	"github.com/sarchlab/lotto/sched"
)

// Config holds the tunables of a sequencer.
type Config struct {
	// Slack lets a task returning from a slack category run for a while
	// before the designated task takes the turn.
	Slack time.Duration

	// Granularity selects the captures recorded on top of the deviations.
	Granularity sched.Granularity
}

type spinlock struct {
	held atomic.Bool
}

func (l *spinlock) lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinlock) unlock() {
	l.held.Store(false)
}

// Stats are the counters of a sequencer.
type Stats struct {
	Clk      sched.Clk
	Chpts    uint64
	Switches uint64
}

// Sequencer turns captures into plans. Capture, Resume and Fini are only
// called by the task holding the turn. Return may be called by any task.
type Sequencer struct {
	cfg        Config
	bus        *pubsub.Bus
	dispatcher *Dispatcher
	recorder   *recorder.Recorder

	lock    spinlock
	pending sched.TaskSet

	clk          sched.Clk
	nextTask     sched.TaskID
	prevTask     sched.TaskID
	prevCat      sched.Category
	reason       sched.Reason
	shouldRecord bool

	chpts    atomic.Uint64
	switches atomic.Uint64
	clkSeen  atomic.Uint64
}

// New creates a sequencer.
func New(
	cfg Config,
	bus *pubsub.Bus,
	d *Dispatcher,
	r *recorder.Recorder,
) *Sequencer {
	return &Sequencer{
		cfg:        cfg,
		bus:        bus,
		dispatcher: d,
		recorder:   r,
		nextTask:   sched.NoTask,
		prevTask:   sched.NoTask,
	}
}

// Config returns the configuration.
func (s *Sequencer) Config() Config {
	return s.cfg
}

// Stats returns a snapshot of the counters. It is safe to call from any
// goroutine.
func (s *Sequencer) Stats() Stats {
	return Stats{
		Clk:      sched.Clk(s.clkSeen.Load()),
		Chpts:    s.chpts.Load(),
		Switches: s.switches.Load(),
	}
}

func (s *Sequencer) takeUnblocked() sched.TaskSet {
	s.lock.lock()
	defer s.lock.unlock()

	unblocked := s.pending.Clone()
	s.pending.Clear()

	return unblocked
}

// Capture decides what happens after the capture ctx.
func (s *Sequencer) Capture(ctx *sched.Context) sched.Plan {
	s.clk++
	s.clkSeen.Store(uint64(s.clk))

	ry := s.recorder.Replay(s.clk)

	e := &sched.Event{
		Clk:       s.clk,
		Unblocked: s.takeUnblocked(),
		Replay:    ry.Status != recorder.Done,
		Next:      sched.NoTask,
	}

	next := s.dispatcher.Dispatch(ctx, e)

	p := sched.Plan{
		Clk:            s.clk,
		Reason:         e.Reason,
		AnyTaskFilters: e.AnyTaskFilters,
	}

	switch {
	case ry.Status == recorder.Done:
		p.ReplayType = sched.ReplayOff
	case next == sched.AnyTask:
		p.ReplayType = sched.ReplayAnyTask
	default:
		p.ReplayType = sched.ReplayOn
	}

	switch ry.Status {
	case recorder.Load:
		if next != sched.AnyTask && next != ry.ID && !ctx.Cat.IsBlock() &&
			!e.Reason.IsAbort() {
			log.Panicf("replay divergence at clk %d: recorded task %s, "+
				"candidate %s at %s", s.clk, ry.ID, next, ctx)
		}
		next = ry.ID
	case recorder.Force:
		next = ry.ID
	case recorder.Cont:
		if s.cfg.Slack > 0 && ctx.Cat.IsSlack() {
			next = ctx.ID
		}
	}

	p.Next = next

	s.shouldRecord = e.ShouldRecord ||
		(s.cfg.Granularity.Has(sched.GranularitySwitch) && next != ctx.ID) ||
		(s.cfg.Granularity.Has(sched.GranularityChpt) && e.IsChpt) ||
		s.cfg.Granularity.Has(sched.GranularityCapture)

	p.Actions = s.actions(ctx, e, next)
	p.WithSlack = s.cfg.Slack > 0 && ctx.Cat.IsSlack() &&
		ry.Status == recorder.Done

	s.nextTask = next
	s.prevCat = ctx.Cat
	s.reason = e.Reason

	if e.IsChpt {
		s.chpts.Add(1)
	}

	if s.prevTask != ctx.ID {
		s.switches.Add(1)
	}
	s.prevTask = ctx.ID

	return p
}

func (s *Sequencer) actions(
	ctx *sched.Context,
	e *sched.Event,
	next sched.TaskID,
) sched.Action {
	if e.Reason.IsTerminate() {
		if next != ctx.ID {
			return sched.ActionShutdown
		}

		return actionsFor(ctx.Cat) | sched.ActionShutdown
	}

	if next == ctx.ID && !e.IsChpt && !s.shouldRecord && continuable(ctx.Cat) {
		return sched.ActionContinue
	}

	return actionsFor(ctx.Cat)
}

func continuable(cat sched.Category) bool {
	switch cat {
	case sched.CatTaskCreate, sched.CatCall, sched.CatTaskBlock,
		sched.CatTaskInit, sched.CatTaskFini:
		return false
	default:
		return true
	}
}

func actionsFor(cat sched.Category) sched.Action {
	switch cat {
	case sched.CatTaskCreate:
		return sched.ActionWake | sched.ActionCall | sched.ActionYield |
			sched.ActionResume
	case sched.CatCall:
		return sched.ActionWake | sched.ActionCall | sched.ActionReturn |
			sched.ActionYield | sched.ActionResume
	case sched.CatTaskBlock:
		return sched.ActionWake | sched.ActionBlock | sched.ActionReturn |
			sched.ActionYield | sched.ActionResume
	case sched.CatTaskFini:
		return sched.ActionWake
	default:
		return sched.ActionWake | sched.ActionYield | sched.ActionResume
	}
}

// Resume is called by the task that takes the turn.
func (s *Sequencer) Resume(ctx *sched.Context) {
	if s.bus != nil {
		s.bus.Publish(sched.ChainInterface, sched.TopicNextTask, ctx, nil)
	}

	if ctx.ID == 1 && ctx.Cat == sched.CatNone {
		s.recorder.Config()
		return
	}

	slackMismatch := s.cfg.Slack > 0 && s.prevCat.IsSlack() &&
		ctx.ID != s.prevTask

	deviation := s.prevCat != sched.CatTaskCreate &&
		(s.cfg.Slack == 0 || !s.prevCat.IsSlack()) &&
		s.nextTask != ctx.ID

	if s.shouldRecord || slackMismatch || deviation {
		s.recorder.Record(ctx, s.clk, s.reason)
	}

	s.shouldRecord = false
}

// Return marks a task as back from a blocking operation. The task becomes a
// candidate again at the next capture.
func (s *Sequencer) Return(ctx *sched.Context) {
	if !ctx.Cat.IsBlock() {
		log.Panicf("sequencer: return from non-blocking %s", ctx)
	}

	s.lock.lock()
	defer s.lock.unlock()

	if !s.pending.Insert(ctx.ID) {
		log.Panicf("sequencer: task %s returned twice", ctx.ID)
	}
}

// Fini writes the end of the execution.
func (s *Sequencer) Fini(ctx *sched.Context, reason sched.Reason) {
	s.recorder.Fini(s.clk, ctx.ID, reason)

	log.Printf("[lotto] clk %d, %d change points, %d switches, reason %s",
		s.clk, s.chpts.Load(), s.switches.Load(), reason)
}
