package handlers

import (
	"log"
	"maps"
	"slices"

	"github.com/sarchlab/lotto/sched"
)

// RegionKind is the kind of a region.
type RegionKind uint64

// The region kinds.
const (
	// RegionNoPreempt keeps the task running as long as it can.
	RegionNoPreempt RegionKind = iota

	// RegionAtomic is a no-preemption region that no other task is
	// expected to interleave with.
	RegionAtomic
)

type regionDepth struct {
	depth  int
	atomic int
}

// Region keeps a task inside a region first in line. A REGION_PREEMPTION
// capture enters a region when its first argument is true and leaves it
// otherwise. The second argument is the kind.
type Region struct {
	tasks map[sched.TaskID]*regionDepth
}

// NewRegion creates the handler.
func NewRegion() *Region {
	return &Region{tasks: make(map[sched.TaskID]*regionDepth)}
}

// InRegion reports if a task is inside a region.
func (r *Region) InRegion(id sched.TaskID) bool {
	t, ok := r.tasks[id]
	return ok && t.depth > 0
}

// atomicOwner returns the lowest task inside an atomic region.
func (r *Region) atomicOwner() (sched.TaskID, bool) {
	for _, id := range slices.Sorted(maps.Keys(r.tasks)) {
		if r.tasks[id].atomic > 0 {
			return id, true
		}
	}

	return sched.NoTask, false
}

// Handle implements sequencer.Handler.
func (r *Region) Handle(ctx *sched.Context, e *sched.Event) {
	var enter *RegionKind

	switch ctx.Cat {
	case sched.CatRegionPreemption:
		kind := RegionKind(ctx.Args[1].Value)
		if ctx.Args[0].Bool() {
			enter = &kind
		} else {
			r.leave(ctx.ID, kind)
		}
	case sched.CatTaskFini:
		delete(r.tasks, ctx.ID)
	}

	if owner, ok := r.atomicOwner(); ok && owner != ctx.ID {
		log.Printf("[lotto] atomicity violated: task %s runs inside the "+
			"atomic region of task %s at %s", ctx.ID, owner, ctx)
	}

	if e.Mutable() && e.Selector() == sched.SelectorUndefined &&
		r.InRegion(ctx.ID) && e.HasCandidate(ctx.ID) {
		tset := e.TaskSet()
		tset.Remove(ctx.ID)
		tset.IDs = slices.Insert(tset.IDs, 0, ctx.ID)
		e.SetSelector(sched.SelectorFirst)
		e.MarkReadonly()
	}

	if enter != nil {
		t, ok := r.tasks[ctx.ID]
		if !ok {
			t = &regionDepth{}
			r.tasks[ctx.ID] = t
		}

		t.depth++
		if *enter == RegionAtomic {
			t.atomic++
		}
	}
}

func (r *Region) leave(id sched.TaskID, kind RegionKind) {
	t, ok := r.tasks[id]
	if !ok || t.depth == 0 {
		log.Panicf("region: task %s leaves a region it never entered", id)
	}

	t.depth--
	if kind == RegionAtomic && t.atomic > 0 {
		t.atomic--
	}

	if t.depth == 0 {
		delete(r.tasks, id)
	}
}
