package lotto

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/sarchlab/lotto/sched"
)

// Cond is a condition variable whose wake-ups are decided by the engine.
// L is held while waiting and when the wait returns, as with sync.Cond.
// Which waiter a Signal wakes is chosen by the engine.
type Cond struct {
	L *Mutex

	key syncKey

	// waiters is used when the runtime is disabled.
	mu      sync.Mutex
	waiters []chan struct{}
}

// NewCond creates a condition variable bound to l.
func NewCond(l *Mutex) *Cond {
	return &Cond{L: l}
}

// Wait releases L, waits for a Signal or a Broadcast and takes L again.
func (c *Cond) Wait(t *Task) {
	c.wait(t, -1)
}

// WaitTimeout is Wait with a logical timeout. It returns false if the wait
// timed out.
func (c *Cond) WaitTimeout(t *Task, d time.Duration) bool {
	return c.wait(t, max(d, 0))
}

// Signal wakes one waiter, if any.
func (c *Cond) Signal(t *Task) {
	c.wake(t, 1)
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast(t *Task) {
	c.wake(t, math.MaxUint32)
}

func (c *Cond) wait(t *Task, d time.Duration) bool {
	if t.disabled() {
		return c.waitDirect(t, d)
	}

	addr := sched.PtrArg(c.key.get(t))
	t.capture(sched.CatEvecPrepare, addr)
	c.L.Unlock(t)

	woken := true
	if d < 0 {
		t.capture(sched.CatEvecWait, addr)
	} else {
		ctx := t.capture(sched.CatEvecTimedWait, addr, sched.U64Arg(uint64(d)))
		woken = !ctx.Ret.Bool()
	}

	c.L.Lock(t)

	return woken
}

func (c *Cond) wake(t *Task, n uint64) {
	if t.disabled() {
		c.wakeDirect(n)
		return
	}

	t.capture(sched.CatEvecWake, sched.PtrArg(c.key.get(t)), sched.U64Arg(n))
}

func (c *Cond) waitDirect(t *Task, d time.Duration) bool {
	ch := make(chan struct{})

	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	c.L.Unlock(t)
	defer c.L.Lock(t)

	if d < 0 {
		<-ch
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.Index(c.waiters, ch)
	if i < 0 {
		// Woken while timing out.
		return true
	}

	c.waiters = slices.Delete(c.waiters, i, i+1)

	return false
}

func (c *Cond) wakeDirect(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ; n > 0 && len(c.waiters) > 0; n-- {
		close(c.waiters[0])
		c.waiters = c.waiters[1:]
	}
}
