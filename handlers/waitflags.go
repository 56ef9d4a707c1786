package handlers

import (
	"sync/atomic"

	"github.com/sarchlab/lotto/sched"
)

// waitFlags mirrors which tasks wait on a handler. Any-task filters run on
// the goroutine of the yielding task, outside the handler chain, so they read
// the flags instead of the handler maps.
type waitFlags struct {
	flags map[sched.TaskID]*atomic.Bool
}

func newWaitFlags() waitFlags {
	return waitFlags{flags: make(map[sched.TaskID]*atomic.Bool)}
}

func (w *waitFlags) flag(id sched.TaskID) *atomic.Bool {
	f, ok := w.flags[id]
	if !ok {
		f = &atomic.Bool{}
		w.flags[id] = f
	}

	return f
}

func (w *waitFlags) set(id sched.TaskID, waiting bool) {
	w.flag(id).Store(waiting)
}

func (w *waitFlags) drop(id sched.TaskID) {
	if f, ok := w.flags[id]; ok {
		f.Store(false)
		delete(w.flags, id)
	}
}

// filter rejects task id for as long as it waits.
func (w *waitFlags) filter(id sched.TaskID) sched.AnyTaskFilter {
	f := w.flag(id)

	return func(t sched.TaskID) bool {
		return t != id || !f.Load()
	}
}
