package handlers

import (
	"slices"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

type joinResult struct {
	value any
	errno syscall.Errno
}

type joinable struct {
	value      any
	waiters    []sched.TaskID
	terminated bool
	detached   bool
}

// Join implements joining and detaching tasks.
//
// A TASK_INIT capture carries the handle of the task in its first argument
// and whether it starts detached in the second. JOIN and DETACH captures
// carry the handle of the target. EXIT captures carry the value of the task
// as a reference.
type Join struct {
	tasks   map[sched.TaskID]*joinable
	waitees map[sched.TaskID]sched.TaskID
	results map[sched.TaskID]joinResult
	waiting waitFlags
}

// NewJoin creates the handler. Results of joins that had to wait are
// delivered when the joining task resumes.
func NewJoin(bus *pubsub.Bus) *Join {
	j := &Join{
		tasks:   make(map[sched.TaskID]*joinable),
		waitees: make(map[sched.TaskID]sched.TaskID),
		results: make(map[sched.TaskID]joinResult),
		waiting: newWaitFlags(),
	}

	if bus != nil {
		bus.Subscribe(sched.ChainInterface, sched.TopicNextTask,
			int(sched.SlotJoin), j.onNextTask)
	}

	return j
}

func (j *Join) onNextTask(_ pubsub.Chain, _ pubsub.Type, event any, _ any) pubsub.Status {
	ctx := event.(*sched.Context)
	if ctx.Cat != sched.CatJoin {
		return pubsub.OK
	}

	if r, ok := j.results[ctx.ID]; ok {
		ctx.Ret = sched.RefArg(r.value)
		ctx.Errno = r.errno
		delete(j.results, ctx.ID)
	}

	return pubsub.OK
}

// Waiting reports if a task waits for another one to finish.
func (j *Join) Waiting(id sched.TaskID) bool {
	_, ok := j.waitees[id]
	return ok
}

func (j *Join) wouldDeadlock(self, target sched.TaskID) bool {
	seen := map[sched.TaskID]bool{}
	for cur := target; !seen[cur]; {
		if cur == self {
			return true
		}
		seen[cur] = true

		next, ok := j.waitees[cur]
		if !ok {
			return false
		}
		cur = next
	}

	return false
}

func finish(ctx *sched.Context, value any, errno syscall.Errno) {
	ctx.Ret = sched.RefArg(value)
	ctx.Errno = errno
}

func (j *Join) join(ctx *sched.Context) {
	target := sched.TaskID(ctx.Args[0].Value)

	t, ok := j.tasks[target]
	switch {
	case !ok:
		finish(ctx, nil, unix.ESRCH)
	case j.wouldDeadlock(ctx.ID, target):
		finish(ctx, nil, unix.EDEADLK)
	case t.detached:
		finish(ctx, nil, unix.EINVAL)
	case t.terminated:
		finish(ctx, t.value, 0)
		delete(j.tasks, target)
	default:
		t.waiters = append(t.waiters, ctx.ID)
		j.waitees[ctx.ID] = target
		j.waiting.set(ctx.ID, true)
	}
}

func (j *Join) detach(ctx *sched.Context) {
	target := sched.TaskID(ctx.Args[0].Value)

	t, ok := j.tasks[target]
	switch {
	case !ok:
		ctx.Errno = unix.ESRCH
	case t.detached:
		ctx.Errno = unix.EINVAL
	default:
		ctx.Errno = 0
		t.detached = true
		if t.terminated {
			delete(j.tasks, target)
		}
	}
}

func (j *Join) fini(id sched.TaskID) {
	t, ok := j.tasks[id]
	if !ok {
		return
	}

	switch {
	case t.detached:
		delete(j.tasks, id)
	case len(t.waiters) == 0:
		t.terminated = true
	default:
		for _, w := range t.waiters {
			j.results[w] = joinResult{value: t.value}
			delete(j.waitees, w)
			j.waiting.drop(w)
		}
		delete(j.tasks, id)
	}
}

// Handle implements sequencer.Handler.
func (j *Join) Handle(ctx *sched.Context, e *sched.Event) {
	switch ctx.Cat {
	case sched.CatTaskInit:
		j.tasks[ctx.ID] = &joinable{detached: ctx.Args[1].Bool()}
	case sched.CatJoin:
		j.join(ctx)
	case sched.CatDetach:
		j.detach(ctx)
	case sched.CatExit:
		if t, ok := j.tasks[ctx.ID]; ok {
			t.value = ctx.Args[0].Ref
		}
	case sched.CatTaskFini:
		j.fini(ctx.ID)
	}

	if e.Mutable() {
		waiters := make([]sched.TaskID, 0, len(j.waitees))
		for w := range j.waitees {
			waiters = append(waiters, w)
		}
		slices.Sort(waiters)

		for _, w := range waiters {
			e.TaskSet().Remove(w)
		}
	}

	if j.Waiting(ctx.ID) {
		e.IsChpt = true
		e.AddAnyTaskFilter(j.waiting.filter(ctx.ID))
	}
}
