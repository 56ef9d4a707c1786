package lotto

import (
	"bytes"
	"log"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/lotto/handlers"
	"github.com/sarchlab/lotto/mediator"
	"github.com/sarchlab/lotto/sched"
)

type handle struct {
	done     chan struct{}
	once     sync.Once
	value    atomic.Value
	detached atomic.Bool
	joined   atomic.Bool
}

func newHandle() *handle {
	return &handle{done: make(chan struct{})}
}

func (h *handle) finish() {
	h.once.Do(func() { close(h.done) })
}

// TaskHandle refers to a task created with Go.
type TaskHandle struct {
	ID sched.TaskID
	h  *handle
}

// Task is a goroutine running under the engine. A Task must only be used by
// the goroutine it was given to.
type Task struct {
	rt       *Runtime
	id       sched.TaskID
	handle   *handle
	mediator *mediator.Mediator
}

func (r *Runtime) newTask(id sched.TaskID, detached bool) *Task {
	t := &Task{rt: r, id: id, handle: newHandle()}
	t.handle.detached.Store(detached)

	return t
}

// ID returns the id of the task.
func (t *Task) ID() sched.TaskID {
	return t.id
}

// Runtime returns the runtime the task belongs to.
func (t *Task) Runtime() *Runtime {
	return t.rt
}

func (t *Task) disabled() bool {
	return t.rt.cfg.Disable
}

func (t *Task) context(cat sched.Category, args ...sched.Arg) *sched.Context {
	ctx := &sched.Context{ID: t.id, Cat: cat}
	copy(ctx.Args[:], args)
	ctx.PC, ctx.Func = caller()

	return ctx
}

const pkgPrefix = "github.com/sarchlab/lotto."

// caller returns the first frame outside of this package.
func caller() (uintptr, string) {
	var pcs [16]uintptr

	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, pkgPrefix) {
			return f.PC, f.Function
		}

		if !more {
			return 0, ""
		}
	}
}

// stop ends the goroutine of a task that keeps running after the end of
// the execution.
func (t *Task) stop() {
	if t.rt.over() && !t.disabled() {
		runtime.Goexit()
	}
}

func (t *Task) capture(cat sched.Category, args ...sched.Arg) *sched.Context {
	ctx := t.context(cat, args...)
	t.rt.icpt.Capture(ctx)

	if cat != sched.CatTaskFini {
		t.stop()
	}

	return ctx
}

// call runs fn between BeforeCall and AfterCall. A panic of fn is raised
// again once the task holds the turn.
func (t *Task) call(ctx *sched.Context, fn func()) {
	if t.rt.icpt.BeforeCall(ctx) == nil {
		fn()
		t.stop()

		return
	}

	var (
		panicked bool
		value    any
	)

	func() {
		defer func() {
			if p := recover(); p != nil {
				panicked = true
				value = p
			}
		}()
		fn()
	}()

	t.rt.icpt.AfterCall(ctx)
	t.stop()

	if panicked {
		panic(value)
	}
}

func (t *Task) fini() {
	t.capture(sched.CatTaskFini)
}

// Go starts fn as a new task.
func (t *Task) Go(fn func(t *Task)) TaskHandle {
	child := t.rt.newTask(t.rt.ids.Generate(), false)
	h := TaskHandle{ID: child.id, h: child.handle}

	if t.disabled() {
		t.rt.spawn(child, fn, false)
		return h
	}

	ctx := t.context(sched.CatNone, sched.U64Arg(uint64(child.id)))
	ctx.Func = "go"
	t.call(ctx, func() { t.rt.spawn(child, fn, false) })

	return h
}

// Join waits for a task to finish and returns the value it exited with.
// The errno is ESRCH for unknown tasks, EINVAL for detached tasks and
// EDEADLK when the join would wait forever.
func (t *Task) Join(h TaskHandle) (any, syscall.Errno) {
	if t.disabled() {
		return t.joinDirect(h)
	}

	ctx := t.capture(sched.CatJoin, sched.U64Arg(uint64(h.ID)))

	return ctx.Ret.Ref, ctx.Errno
}

func (t *Task) joinDirect(h TaskHandle) (any, syscall.Errno) {
	switch {
	case h.h == nil:
		return nil, unix.ESRCH
	case h.ID == t.id:
		return nil, unix.EDEADLK
	case h.h.detached.Load():
		return nil, unix.EINVAL
	case !h.h.joined.CompareAndSwap(false, true):
		return nil, unix.ESRCH
	}

	<-h.h.done

	return h.h.value.Load(), 0
}

// Detach lets a task finish without being joined.
func (t *Task) Detach(h TaskHandle) syscall.Errno {
	if t.disabled() {
		if h.h == nil {
			return unix.ESRCH
		}

		if !h.h.detached.CompareAndSwap(false, true) {
			return unix.EINVAL
		}

		return 0
	}

	ctx := t.capture(sched.CatDetach, sched.U64Arg(uint64(h.ID)))
	if ctx.Errno == 0 && h.h != nil {
		h.h.detached.Store(true)
	}

	return ctx.Errno
}

// Exit ends the task with a value that Join returns. Exit does not return.
func (t *Task) Exit(v any) {
	if v != nil {
		t.handle.value.Store(v)
	}

	t.capture(sched.CatExit, sched.RefArg(v))
	runtime.Goexit()
}

// Read announces a read of addr.
func (t *Task) Read(addr uintptr) {
	t.capture(sched.CatBeforeRead, sched.PtrArg(addr))
}

// Write announces a write to addr.
func (t *Task) Write(addr uintptr) {
	t.capture(sched.CatBeforeWrite, sched.PtrArg(addr))
}

func (t *Task) atomic(before, after sched.Category, addr uintptr, op func()) {
	t.capture(before, sched.PtrArg(addr))
	op()
	t.capture(after, sched.PtrArg(addr))
}

// AtomicLoad runs op, an atomic load of addr, as a scheduled operation.
func (t *Task) AtomicLoad(addr uintptr, op func()) {
	t.atomic(sched.CatBeforeARead, sched.CatAfterARead, addr, op)
}

// AtomicStore runs op, an atomic store to addr, as a scheduled operation.
func (t *Task) AtomicStore(addr uintptr, op func()) {
	t.atomic(sched.CatBeforeAWrite, sched.CatAfterAWrite, addr, op)
}

// AtomicXchg runs op, an atomic swap of addr, as a scheduled operation.
func (t *Task) AtomicXchg(addr uintptr, op func()) {
	t.atomic(sched.CatBeforeXchg, sched.CatAfterXchg, addr, op)
}

// AtomicRMW runs op, an atomic read-modify-write of addr, as a scheduled
// operation.
func (t *Task) AtomicRMW(addr uintptr, op func()) {
	t.atomic(sched.CatBeforeRMW, sched.CatAfterRMW, addr, op)
}

// AtomicCAS runs op, an atomic compare-and-swap of addr, as a scheduled
// operation and returns its outcome.
func (t *Task) AtomicCAS(addr uintptr, op func() bool) bool {
	t.capture(sched.CatBeforeCmpxchg, sched.PtrArg(addr))

	ok := op()
	if ok {
		t.capture(sched.CatAfterCmpxchgS, sched.PtrArg(addr))
	} else {
		t.capture(sched.CatAfterCmpxchgF, sched.PtrArg(addr))
	}

	return ok
}

// AtomicFence announces a memory fence.
func (t *Task) AtomicFence() {
	t.atomic(sched.CatBeforeFence, sched.CatAfterFence, 0, func() {})
}

// Yield offers the turn to other tasks.
func (t *Task) Yield() {
	if t.disabled() {
		runtime.Gosched()
		return
	}

	t.capture(sched.CatUserYield)
}

// Call runs fn outside of the schedule. Other tasks run while fn blocks.
// Operations announced by fn itself are not scheduled.
func (t *Task) Call(name string, fn func()) {
	ctx := t.context(sched.CatCall)
	ctx.Func = name
	t.call(ctx, fn)
}

// Block runs fn, an operation that blocks the task until another task acts,
// outside of the schedule.
func (t *Task) Block(name string, fn func()) {
	ctx := t.context(sched.CatTaskBlock)
	ctx.Func = name
	t.call(ctx, fn)
}

// Sleep waits for d of logical time. When every task sleeps, logical time
// jumps to the earliest deadline.
func (t *Task) Sleep(d time.Duration) {
	if t.disabled() {
		time.Sleep(d)
		return
	}

	t.capture(sched.CatEvecTimedWait, sched.PtrArg(0),
		sched.U64Arg(uint64(max(d, 0))))
}

// Poll waits until one of fds is ready, like poll(2). A negative timeout
// waits forever. Readiness is checked at every capture; when no other task
// can run, the task waits for the descriptors outside of the schedule.
func (t *Task) Poll(fds []unix.PollFd, timeout time.Duration) (int, error) {
	if t.disabled() {
		return pollDirect(fds, timeout)
	}

	ctx := t.capture(sched.CatPoll,
		sched.RefArg(&handlers.PollArgs{Fds: fds, Timeout: timeout}))

	switch ctx.Errno {
	case 0:
		return int(int64(ctx.Ret.Value)), nil
	case unix.EAGAIN:
		var (
			n   int
			err error
		)

		t.Call("poll", func() { n, err = pollDirect(fds, timeout) })

		return n, err
	default:
		return -1, ctx.Errno
	}
}

func pollDirect(fds []unix.PollFd, timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	for {
		n, err := unix.Poll(fds, ms)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// Assert ends the execution with ASSERT_FAIL if cond is false.
func (t *Task) Assert(cond bool, msg string) {
	if cond {
		return
	}

	log.Printf("[lotto] task %s: assertion failed: %s", t.id, msg)

	if t.disabled() {
		t.rt.end(t.id, sched.ReasonAssertFail, nil)
		runtime.Goexit()
	}

	t.rt.exit(&sched.Context{ID: t.id}, sched.ReasonAssertFail)
}

// SetVelocity sets how likely the task is to be picked, in percent.
func (t *Task) SetVelocity(p uint64) {
	t.capture(sched.CatTaskVelocity, sched.U64Arg(p))
}

// Func announces the entry into a function and returns the function that
// announces its exit:
//
//	defer t.Func("worker")()
func (t *Task) Func(name string) func() {
	t.funcCapture(sched.CatFuncEntry, name)

	return func() { t.funcCapture(sched.CatFuncExit, name) }
}

// Enforce records data that a replay of the execution must reproduce at the
// same point. It is checked when the enforcement modes include custom.
func (t *Task) Enforce(data []byte) {
	if t.disabled() {
		return
	}

	t.capture(sched.CatEnforce, sched.RefArg(bytes.Clone(data)))
}

func (t *Task) funcCapture(cat sched.Category, name string) {
	ctx := t.context(cat)
	ctx.Func = name
	t.rt.icpt.Capture(ctx)
	t.stop()
}

// RegionGuard ends a region.
type RegionGuard struct {
	t    *Task
	kind handlers.RegionKind
	once sync.Once
}

// Region enters a region in which the task is not preempted as long as it
// can run.
func (t *Task) Region(kind handlers.RegionKind) *RegionGuard {
	t.capture(sched.CatRegionPreemption, sched.BoolArg(true), sched.U64Arg(uint64(kind)))
	return &RegionGuard{t: t, kind: kind}
}

// Release leaves the region. Releasing twice has no effect.
func (g *RegionGuard) Release() {
	g.once.Do(func() {
		g.t.capture(sched.CatRegionPreemption,
			sched.BoolArg(false), sched.U64Arg(uint64(g.kind)))
	})
}
