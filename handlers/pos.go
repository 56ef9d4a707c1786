package handlers

import (
	"cmp"
	"slices"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

type access struct {
	addr  uintptr
	write bool
}

// POS implements partial order sampling. The highest priority candidate
// runs, after which it and every task racing with it draw new priorities.
type POS struct {
	prng     *prng.PRNG
	prios    map[sched.TaskID]uint64
	accesses map[sched.TaskID]access
}

// NewPOS creates the handler.
func NewPOS(p *prng.PRNG) *POS {
	return &POS{
		prng:     p,
		prios:    make(map[sched.TaskID]uint64),
		accesses: make(map[sched.TaskID]access),
	}
}

// Priority returns the priority of a task, drawing it if needed.
func (p *POS) Priority(id sched.TaskID) uint64 {
	prio, ok := p.prios[id]
	if !ok {
		prio = p.prng.Next()
		p.prios[id] = prio
	}

	return prio
}

func (p *POS) races(a, b sched.TaskID) bool {
	x, okx := p.accesses[a]
	y, oky := p.accesses[b]

	return okx && oky && x.addr == y.addr && (x.write || y.write)
}

// Handle implements sequencer.Handler.
func (p *POS) Handle(ctx *sched.Context, e *sched.Event) {
	switch {
	case ctx.Cat == sched.CatTaskFini:
		delete(p.prios, ctx.ID)
		delete(p.accesses, ctx.ID)
	case ctx.Cat.CanRace():
		p.accesses[ctx.ID] = access{addr: ctx.Args[0].Addr(), write: ctx.Cat.IsWrite()}
	default:
		delete(p.accesses, ctx.ID)
	}

	if !e.IsChpt || !e.Mutable() || e.NumCandidates() < 2 ||
		e.Selector() != sched.SelectorUndefined {
		return
	}

	tset := e.TaskSet()
	for _, id := range tset.IDs {
		p.Priority(id)
	}

	slices.SortStableFunc(tset.IDs, func(a, b sched.TaskID) int {
		return cmp.Compare(p.prios[b], p.prios[a])
	})

	chosen := tset.Get(0)
	for _, id := range tset.IDs[1:] {
		if p.races(chosen, id) {
			p.prios[id] = p.prng.Next()
		}
	}
	p.prios[chosen] = p.prng.Next()

	e.SetSelector(sched.SelectorFirst)
	e.MarkReadonly()
}
