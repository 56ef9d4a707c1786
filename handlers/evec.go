package handlers

import (
	"log"
	"maps"
	"slices"
	"time"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// EvecEntry is the state of one event vector: the tasks that announced a
// wait and were not woken yet.
type EvecEntry struct {
	Waiters []sched.TaskID
}

// Evec implements event vectors, the engine side of condition variables.
// The address of the vector is the first argument of the EVEC_* captures.
//
// A waiter first announces itself with EVEC_PREPARE, then waits with
// EVEC_WAIT or EVEC_TIMED_WAIT. A wake that happens in between is not lost:
// the wait returns at once. EVEC_WAKE wakes as many random waiters as its
// second argument says. EVEC_TIMED_WAIT carries the timeout in nanoseconds
// in its second argument; a timed wait on address 0 is a plain sleep and is
// left to the Timeout handler.
type Evec struct {
	prng    *prng.PRNG
	timeout *Timeout

	evecs   map[uintptr]*EvecEntry
	blocked map[sched.TaskID]uintptr
	timed   map[sched.TaskID]*sched.Context
	waiting waitFlags
}

// NewEvec creates the handler. Timed waits use the deadlines of timeout.
func NewEvec(bus *pubsub.Bus, p *prng.PRNG, timeout *Timeout) *Evec {
	v := &Evec{
		prng:    p,
		timeout: timeout,
		evecs:   make(map[uintptr]*EvecEntry),
		blocked: make(map[sched.TaskID]uintptr),
		timed:   make(map[sched.TaskID]*sched.Context),
		waiting: newWaitFlags(),
	}

	if bus != nil {
		bus.Subscribe(sched.ChainInterface, sched.TopicNextTask,
			int(sched.SlotEvec), v.onNextTask)
		bus.Subscribe(sched.ChainInterface, sched.TopicTriggerTimeout,
			int(sched.SlotEvec), v.onTimeout)
	}

	return v
}

// Evecs returns a copy of the event vector table.
func (v *Evec) Evecs() map[uintptr]EvecEntry {
	evecs := make(map[uintptr]EvecEntry, len(v.evecs))
	for addr, ev := range v.evecs {
		evecs[addr] = EvecEntry{Waiters: slices.Clone(ev.Waiters)}
	}

	return evecs
}

// Waiting reports if a task is blocked on an event vector.
func (v *Evec) Waiting(id sched.TaskID) bool {
	_, ok := v.blocked[id]
	return ok
}

func (v *Evec) wait(ctx *sched.Context, addr uintptr) bool {
	ev, ok := v.evecs[addr]
	if !ok || !slices.Contains(ev.Waiters, ctx.ID) {
		return false
	}

	v.blocked[ctx.ID] = addr
	v.waiting.set(ctx.ID, true)

	return true
}

// Handle implements sequencer.Handler.
func (v *Evec) Handle(ctx *sched.Context, e *sched.Event) {
	addr := ctx.Args[0].Addr()

	switch ctx.Cat {
	case sched.CatEvecPrepare, sched.CatEvecCancel, sched.CatEvecWake:
		e.IsChpt = true
	case sched.CatEvecWait:
		v.wait(ctx, addr)
		e.IsChpt = true
	case sched.CatEvecTimedWait:
		if addr == 0 {
			break
		}

		if v.wait(ctx, addr) {
			v.timed[ctx.ID] = ctx
			if v.timeout != nil {
				v.timeout.Register(ctx.ID, e.Clk,
					time.Duration(ctx.Args[1].Value))
			}
		}
		e.IsChpt = true
	case sched.CatTaskFini:
		v.release(ctx.ID)
	}

	if e.Mutable() {
		for _, id := range slices.Sorted(maps.Keys(v.blocked)) {
			e.TaskSet().Remove(id)
		}
	}

	if v.Waiting(ctx.ID) {
		e.AddAnyTaskFilter(v.waiting.filter(ctx.ID))
	}
}

// release ends the wait of a task, wherever it is.
func (v *Evec) release(id sched.TaskID) {
	for addr, ev := range v.evecs {
		ev.Waiters = slices.DeleteFunc(ev.Waiters,
			func(w sched.TaskID) bool { return w == id })
		if len(ev.Waiters) == 0 {
			delete(v.evecs, addr)
		}
	}

	delete(v.blocked, id)
	delete(v.timed, id)
	v.waiting.drop(id)
}

func (v *Evec) wake(addr uintptr, n uint64) {
	ev, ok := v.evecs[addr]
	if !ok {
		return
	}

	for ; n > 0 && len(ev.Waiters) > 0; n-- {
		i := v.prng.Range(0, uint64(len(ev.Waiters)))
		id := ev.Waiters[i]

		if _, ok := v.timed[id]; ok && v.timeout != nil {
			v.timeout.Cancel(id)
		}

		v.release(id)
	}
}

func (v *Evec) onNextTask(_ pubsub.Chain, _ pubsub.Type, event any, _ any) pubsub.Status {
	ctx := event.(*sched.Context)
	addr := ctx.Args[0].Addr()

	switch ctx.Cat {
	case sched.CatEvecPrepare:
		if v.Waiting(ctx.ID) {
			log.Panicf("evec: task %s prepares a wait on 0x%x while waiting",
				ctx.ID, addr)
		}

		ev, ok := v.evecs[addr]
		if !ok {
			ev = &EvecEntry{}
			v.evecs[addr] = ev
		}

		if !slices.Contains(ev.Waiters, ctx.ID) {
			ev.Waiters = append(ev.Waiters, ctx.ID)
		}
	case sched.CatEvecCancel:
		v.release(ctx.ID)
	case sched.CatEvecWake:
		v.wake(addr, ctx.Args[1].Value)
	}

	return pubsub.OK
}

func (v *Evec) onTimeout(_ pubsub.Chain, _ pubsub.Type, event any, _ any) pubsub.Status {
	ev := event.(*sched.TimeoutEvent)

	ctx, ok := v.timed[ev.ID]
	if !ok {
		return pubsub.OK
	}

	ctx.Ret = sched.BoolArg(true)
	v.release(ev.ID)

	return pubsub.OK
}
