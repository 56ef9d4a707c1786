package handlers

import (
	"log"
	"slices"

	"github.com/sarchlab/lotto/deadlock"
	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// Resources follows the tasks announcing that they are about to acquire a
// resource, and detects wait cycles before the acquisition happens. Resource
// owners are taken from the lock table.
type Resources struct {
	bus       *pubsub.Bus
	owners    *Mutex
	acquiring map[sched.TaskID]uintptr
}

// NewResources creates the handler.
func NewResources(bus *pubsub.Bus, owners *Mutex) *Resources {
	return &Resources{
		bus:       bus,
		owners:    owners,
		acquiring: make(map[sched.TaskID]uintptr),
	}
}

// Owner implements deadlock.Graph.
func (r *Resources) Owner(res deadlock.Resource) (sched.TaskID, bool) {
	return r.owners.Owner(res)
}

// WaitingFor implements deadlock.Graph.
func (r *Resources) WaitingFor(t sched.TaskID) (deadlock.Resource, bool) {
	addr, ok := r.acquiring[t]
	return deadlock.Resource(addr), ok
}

// Handle implements sequencer.Handler.
func (r *Resources) Handle(ctx *sched.Context, e *sched.Event) {
	addr := ctx.Args[0].Addr()

	switch ctx.Cat {
	case sched.CatRsrcAcquiring:
		r.acquiring[ctx.ID] = addr

		owner, held := r.Owner(deadlock.Resource(addr))
		if held && owner != ctx.ID {
			found, chain := deadlock.Detect(r, ctx.ID, deadlock.Resource(addr))
			if found {
				reportDeadlock(r.bus, e, chain)
			}
		}
	case sched.CatRsrcReleased:
		if r.acquiring[ctx.ID] == addr {
			delete(r.acquiring, ctx.ID)
		}
	case sched.CatMutexAcquire:
	case sched.CatTaskFini:
		delete(r.acquiring, ctx.ID)
		r.checkLost(ctx.ID)
	default:
		r.settle(ctx.ID)
	}
}

func (r *Resources) settle(id sched.TaskID) {
	addr, ok := r.acquiring[id]
	if !ok {
		return
	}

	if owner, held := r.Owner(deadlock.Resource(addr)); held && owner == id {
		delete(r.acquiring, id)
	}
}

func (r *Resources) checkLost(id sched.TaskID) {
	for addr, l := range r.owners.Locks() {
		if l.Owner != id || len(l.Waiters) == 0 {
			continue
		}

		waiters := slices.Clone(l.Waiters)
		slices.Sort(waiters)
		log.Printf("[lotto] task %s finished holding resource 0x%x, "+
			"lost for tasks %v", id, addr, waiters)
	}
}
