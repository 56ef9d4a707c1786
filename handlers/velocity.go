package handlers

import (
	"maps"
	"slices"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

// MaxVelocity is the velocity of a task that never slows down.
const MaxVelocity = 100

// Velocity slows tasks down. A TASK_VELOCITY capture sets the probability,
// in percent, that the task stays a candidate at each decision.
type Velocity struct {
	prng  *prng.PRNG
	probs map[sched.TaskID]uint64
}

// NewVelocity creates the handler.
func NewVelocity(p *prng.PRNG) *Velocity {
	return &Velocity{prng: p, probs: make(map[sched.TaskID]uint64)}
}

// Of returns the velocity of a task.
func (v *Velocity) Of(id sched.TaskID) uint64 {
	if p, ok := v.probs[id]; ok {
		return p
	}

	return MaxVelocity
}

// Handle implements sequencer.Handler.
func (v *Velocity) Handle(ctx *sched.Context, e *sched.Event) {
	switch ctx.Cat {
	case sched.CatTaskVelocity:
		p := min(max(ctx.Args[0].Value, 1), MaxVelocity)
		if p == MaxVelocity {
			delete(v.probs, ctx.ID)
		} else {
			v.probs[ctx.ID] = p
		}
	case sched.CatTaskFini:
		delete(v.probs, ctx.ID)
	}

	if len(v.probs) == 0 || !e.Mutable() || e.NumCandidates() < 2 {
		return
	}

	tset := e.TaskSet()
	before := tset.Clone()

	for _, id := range slices.Sorted(maps.Keys(v.probs)) {
		if !tset.Has(id) {
			continue
		}

		if v.prng.Range(1, MaxVelocity+1) > v.probs[id] {
			tset.Remove(id)
		}
	}

	if tset.Size() == 0 {
		tset.CopyFrom(&before)
		return
	}

	if before.Has(ctx.ID) && !tset.Has(ctx.ID) {
		e.IsChpt = true
	}
}
