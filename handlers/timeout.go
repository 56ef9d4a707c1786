package handlers

import (
	"maps"
	"slices"
	"time"

	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// DefaultTick is the logical time that passes with every capture.
const DefaultTick = time.Microsecond

// Timeout runs the logical clock of the execution and wakes the tasks whose
// deadline expired.
//
// Logical time advances by one tick per capture. When every live task waits
// for a deadline, time leaps to the earliest one.
type Timeout struct {
	bus       *pubsub.Bus
	tick      uint64
	offset    uint64
	clk       sched.Clk
	deadlines map[sched.TaskID]uint64
	waiting   waitFlags
}

// NewTimeout creates the handler. Expirations are published on bus.
func NewTimeout(bus *pubsub.Bus, tick time.Duration) *Timeout {
	if tick <= 0 {
		tick = DefaultTick
	}

	return &Timeout{
		bus:       bus,
		tick:      uint64(tick),
		deadlines: make(map[sched.TaskID]uint64),
		waiting:   newWaitFlags(),
	}
}

// NowAt returns the logical time in nanoseconds at a clock.
func (t *Timeout) NowAt(clk sched.Clk) uint64 {
	return uint64(clk)*t.tick + t.offset
}

// Now returns the logical time of the last capture.
func (t *Timeout) Now() time.Duration {
	return time.Duration(t.NowAt(t.clk))
}

// Register sets the deadline of a task to d after the logical time at clk.
// A negative d cancels the deadline.
func (t *Timeout) Register(id sched.TaskID, clk sched.Clk, d time.Duration) {
	if d < 0 {
		t.Cancel(id)
		return
	}

	t.deadlines[id] = t.NowAt(clk) + uint64(d)
	t.waiting.set(id, true)
}

// Cancel drops the deadline of a task.
func (t *Timeout) Cancel(id sched.TaskID) {
	delete(t.deadlines, id)
	t.waiting.drop(id)
}

// Pending returns the number of tasks waiting for a deadline.
func (t *Timeout) Pending() int {
	return len(t.deadlines)
}

// Sleeping reports if a task waits for its deadline.
func (t *Timeout) Sleeping(id sched.TaskID) bool {
	_, ok := t.deadlines[id]
	return ok
}

// Handle implements sequencer.Handler. A TIMED_WAIT capture on address 0 is
// a sleep for the duration in nanoseconds in its second argument. Timed
// waits on an event vector are registered by the Evec handler.
func (t *Timeout) Handle(ctx *sched.Context, e *sched.Event) {
	t.clk = e.Clk

	if ctx.Cat == sched.CatEvecTimedWait && ctx.Args[0].Addr() == 0 {
		t.Register(ctx.ID, e.Clk, time.Duration(ctx.Args[1].Value))
		e.IsChpt = true
	}

	if ctx.Cat == sched.CatTaskFini {
		t.Cancel(ctx.ID)
	}

	ids := slices.Sorted(maps.Keys(t.deadlines))
	mutable := e.Mutable()

	if mutable {
		for _, id := range ids {
			e.TaskSet().Remove(id)
		}

		if e.NumCandidates() == 0 && len(ids) > 0 {
			t.leap(e.Clk)
		}
	}

	now := t.NowAt(e.Clk)
	for _, id := range ids {
		if t.deadlines[id] > now {
			continue
		}

		t.Cancel(id)

		if t.bus != nil {
			t.bus.Publish(sched.ChainInterface, sched.TopicTriggerTimeout,
				&sched.TimeoutEvent{ID: id, Clk: e.Clk}, nil)
		}

		if mutable {
			e.TaskSet().Insert(id)
		}
	}

	if t.Sleeping(ctx.ID) {
		e.IsChpt = true
		e.AddAnyTaskFilter(t.waiting.filter(ctx.ID))
	}
}

func (t *Timeout) leap(clk sched.Clk) {
	earliest := uint64(0)
	first := true

	for _, d := range t.deadlines {
		if first || d < earliest {
			earliest = d
			first = false
		}
	}

	if now := t.NowAt(clk); earliest > now {
		t.offset += earliest - now
	}
}
