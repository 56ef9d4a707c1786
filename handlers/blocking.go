package handlers

import (
	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// BlockingState is saved with every scheduling record. It holds the tasks
// that came back from a blocking call at the recorded clock.
type BlockingState struct {
	Returned sched.TaskSet
}

// Blocking keeps tasks that are inside a blocking call out of the candidate
// set.
//
// While replaying, the tasks are released when the trace says so rather
// than when they actually return, so that the replayed decisions see the
// same candidates as the recorded ones.
type Blocking struct {
	State BlockingState

	actual    sched.TaskSet
	replay    sched.TaskSet
	replaying bool
	consumed  bool
}

// NewBlocking creates the handler. The replayed returned set arrives through
// bus.
func NewBlocking(bus *pubsub.Bus) *Blocking {
	b := &Blocking{}

	if bus != nil {
		bus.Subscribe(sched.ChainInterface, sched.TopicAfterUnmarshalPersistent,
			int(sched.SlotBlocking),
			func(pubsub.Chain, pubsub.Type, any, any) pubsub.Status {
				b.consumed = false
				return pubsub.OK
			})
	}

	return b
}

// AnyBlocked reports if a task is inside a blocking call.
func (b *Blocking) AnyBlocked() bool {
	return b.blocked().Size() > 0
}

// Blocked returns the tasks inside a blocking call.
func (b *Blocking) Blocked() sched.TaskSet {
	return b.blocked().Clone()
}

func (b *Blocking) blocked() *sched.TaskSet {
	if b.replaying {
		return &b.replay
	}

	return &b.actual
}

// Handle implements sequencer.Handler.
func (b *Blocking) Handle(ctx *sched.Context, e *sched.Event) {
	b.actual.Subtract(&e.Unblocked)

	if e.Replay {
		if b.consumed {
			b.State.Returned.Clear()
		} else {
			b.replay.Subtract(&b.State.Returned)
			b.consumed = true
		}
		b.replay.Remove(ctx.ID)
		b.replaying = true
	} else {
		if b.replaying {
			returned := b.replay.Clone()
			returned.Subtract(&b.actual)
			b.State.Returned = returned
			b.actual.Intersect(&b.replay)
			b.replay.Clear()
			b.replaying = false
		} else {
			b.State.Returned = e.Unblocked.Clone()
		}

		returned := &b.State.Returned
		if returned.Size() > 0 && !(returned.Size() == 1 && returned.Has(ctx.ID)) {
			e.ShouldRecord = true
		}
	}

	if ctx.Cat == sched.CatCall || ctx.Cat == sched.CatTaskBlock {
		b.actual.Insert(ctx.ID)
		if e.Replay {
			b.replay.Insert(ctx.ID)
		}
		e.SetReason(sched.ReasonCall)
		e.IsChpt = true
	}

	if e.Mutable() {
		e.TaskSet().Subtract(b.blocked())
	}
}
