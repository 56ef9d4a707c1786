package handlers

import (
	"fmt"
	"log"
	"maps"
	"slices"

	"github.com/sarchlab/lotto/sched"
)

const (
	// raceForgetDelay is how many clocks the accesses of a finished task are
	// kept.
	raceForgetDelay = 100

	// raceMaxAccesses bounds the accesses remembered per task.
	raceMaxAccesses = 100
)

// RaceAccess is one side of a data race.
type RaceAccess struct {
	ID       sched.TaskID
	PC       uintptr
	Readonly bool
	Atomic   bool
}

// RaceReport is a data race: two accesses of different tasks to the same
// address, at least one of them a write and at most one of them atomic.
type RaceReport struct {
	Clk    sched.Clk
	Addr   uintptr
	First  RaceAccess
	Second RaceAccess
}

func (r RaceReport) String() string {
	return fmt.Sprintf("RACE: task %s and task %s at 0x%x (pc 0x%x, 0x%x)",
		r.First.ID, r.Second.ID, r.Addr, r.First.PC, r.Second.PC)
}

// RaceState holds the races found so far.
type RaceState struct {
	Reports []RaceReport
}

type raceEntry struct {
	addr uintptr
	RaceAccess
}

type raceSet struct {
	forgetAt sched.Clk
	accesses []raceEntry
}

// Race detects data races. Every task remembers its memory accesses since
// its last synchronizing operation (an atomic write, a fence or a lock
// operation), and an access that conflicts with a remembered access of
// another task is a race. The locations of both accesses become change
// points.
type Race struct {
	State RaceState

	enabled bool
	abort   bool
	ichpt   *Ichpt
	sets    map[sched.TaskID]*raceSet
}

// NewRace creates the handler. Racing locations are added to ichpt.
func NewRace(ichpt *Ichpt) *Race {
	return &Race{ichpt: ichpt, sets: make(map[sched.TaskID]*raceSet)}
}

func (r *Race) set(id sched.TaskID) *raceSet {
	s, ok := r.sets[id]
	if !ok {
		s = &raceSet{}
		r.sets[id] = s
	}

	return s
}

func (r *Race) forget(clk sched.Clk) {
	for id, s := range r.sets {
		if s.forgetAt != 0 && s.forgetAt <= clk {
			delete(r.sets, id)
		}
	}
}

func (r *Race) conflict(self sched.TaskID, a raceEntry) (RaceAccess, bool) {
	for _, id := range slices.Sorted(maps.Keys(r.sets)) {
		if id == self {
			continue
		}

		for _, b := range r.sets[id].accesses {
			switch {
			case b.addr != a.addr:
			case b.Atomic && a.Atomic:
			case b.Readonly && a.Readonly:
			default:
				return b.RaceAccess, true
			}
		}
	}

	return RaceAccess{}, false
}

func synchronizes(c sched.Category) bool {
	switch c {
	case sched.CatAfterARead:
		return false
	case sched.CatMutexAcquire, sched.CatMutexTryAcquire, sched.CatMutexRelease:
		return true
	default:
		return c.IsAfterAtomic()
	}
}

func (r *Race) check(ctx *sched.Context, clk sched.Clk) (RaceReport, bool) {
	a := raceEntry{
		addr: ctx.Args[0].Addr(),
		RaceAccess: RaceAccess{
			ID:       ctx.ID,
			PC:       ctx.PC,
			Readonly: !ctx.Cat.IsWrite(),
			Atomic:   ctx.Cat.IsAtomic(),
		},
	}

	s := r.set(ctx.ID)

	switch {
	case ctx.Cat.CanRace():
		if a.addr == 0 {
			return RaceReport{}, false
		}

		if !a.Atomic || a.Readonly {
			if len(s.accesses) < raceMaxAccesses {
				s.accesses = append(s.accesses, a)
			}
		}

		if b, ok := r.conflict(ctx.ID, a); ok {
			return RaceReport{Clk: clk, Addr: a.addr, First: a.RaceAccess, Second: b}, true
		}
	case synchronizes(ctx.Cat):
		s.accesses = s.accesses[:0]
	}

	return RaceReport{}, false
}

// Handle implements sequencer.Handler.
func (r *Race) Handle(ctx *sched.Context, e *sched.Event) {
	if !r.enabled {
		return
	}

	switch ctx.Cat {
	case sched.CatTaskFini:
		if s, ok := r.sets[ctx.ID]; ok && s.forgetAt == 0 {
			s.forgetAt = e.Clk + raceForgetDelay
		}
		return
	case sched.CatTaskInit:
		return
	}

	report, found := r.check(ctx, e.Clk)
	if !found {
		if e.Clk%raceForgetDelay == 0 {
			r.forget(e.Clk)
		}
		return
	}

	r.State.Reports = append(r.State.Reports, report)
	log.Printf("[lotto] %s", report)

	if r.abort {
		e.SetReason(sched.ReasonAbort)
		return
	}

	r.ichpt.addPC(report.First.PC)
	r.ichpt.addPC(report.Second.PC)

	if !e.Skip {
		e.IsChpt = true
	}
}
