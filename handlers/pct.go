package handlers

import (
	"cmp"
	"slices"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

// PCT implements probabilistic concurrency testing. Every task gets a
// random priority and the highest priority candidate always runs. At up to
// depth change points the running task drops below every other task.
type PCT struct {
	prng    *prng.PRNG
	depth   uint64
	k       uint64
	prios   map[sched.TaskID]uint64
	changes uint64
}

// NewPCT creates the handler. k is the expected number of change points of
// an execution.
func NewPCT(p *prng.PRNG, depth, k uint64) *PCT {
	return &PCT{
		prng:  p,
		depth: depth,
		k:     max(k, 1),
		prios: make(map[sched.TaskID]uint64),
	}
}

// Priority returns the priority of a task, drawing it if needed.
func (p *PCT) Priority(id sched.TaskID) uint64 {
	prio, ok := p.prios[id]
	if !ok {
		prio = p.depth + p.prng.Next()
		p.prios[id] = prio
	}

	return prio
}

// Changes returns the number of priority changes so far.
func (p *PCT) Changes() uint64 {
	return p.changes
}

// Handle implements sequencer.Handler.
func (p *PCT) Handle(ctx *sched.Context, e *sched.Event) {
	switch ctx.Cat {
	case sched.CatTaskInit:
		p.Priority(ctx.ID)
	case sched.CatTaskFini:
		delete(p.prios, ctx.ID)
	}

	if !e.IsChpt || !e.Mutable() || e.NumCandidates() < 2 ||
		e.Selector() != sched.SelectorUndefined {
		return
	}

	if p.changes < p.depth && p.prng.Next()%p.k <= p.depth {
		p.prios[ctx.ID] = p.changes
		p.changes++
	}

	tset := e.TaskSet()
	for _, id := range tset.IDs {
		p.Priority(id)
	}

	slices.SortFunc(tset.IDs, func(a, b sched.TaskID) int {
		if c := cmp.Compare(p.prios[b], p.prios[a]); c != 0 {
			return c
		}

		return cmp.Compare(a, b)
	})

	e.SetSelector(sched.SelectorFirst)
	e.MarkReadonly()

	if e.Reason == sched.ReasonUnknown {
		e.SetReason(sched.ReasonDeterministic)
	}
}
