package lotto

import (
	"sync"

	"github.com/sarchlab/lotto/sched"
)

// lockBase and lockStride space the keys of locks so that they read like
// addresses in deadlock reports.
const (
	lockBase   = 0x1000
	lockStride = 0x10
)

// syncKey identifies a synchronization object in the engine. Keys are handed
// out in the order in which objects are first used, which makes them the
// same in every run of a program.
type syncKey struct {
	mu  sync.Mutex
	rt  *Runtime
	key uintptr
}

func (k *syncKey) get(t *Task) uintptr {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.rt != t.rt {
		k.rt = t.rt
		k.key = uintptr(lockBase + t.rt.locks.Add(1)*lockStride)
	}

	return k.key
}

// Mutex is a lock whose ownership is decided by the engine. The zero value
// is an unlocked mutex. A Mutex must not be copied after first use.
type Mutex struct {
	key syncKey

	// real is used when the runtime is disabled.
	real sync.Mutex
}

func (m *Mutex) addr(t *Task) uintptr {
	return m.key.get(t)
}

// Lock acquires the lock, waiting while another task owns it.
func (m *Mutex) Lock(t *Task) {
	if t.disabled() {
		m.real.Lock()
		return
	}

	addr := sched.PtrArg(m.addr(t))
	t.capture(sched.CatRsrcAcquiring, addr)
	t.capture(sched.CatMutexAcquire, addr)
}

// TryLock acquires the lock if no other task owns it.
func (m *Mutex) TryLock(t *Task) bool {
	if t.disabled() {
		return m.real.TryLock()
	}

	ctx := t.capture(sched.CatMutexTryAcquire, sched.PtrArg(m.addr(t)))

	return ctx.Errno == 0
}

// Unlock releases the lock.
func (m *Mutex) Unlock(t *Task) {
	if t.disabled() {
		m.real.Unlock()
		return
	}

	addr := sched.PtrArg(m.addr(t))
	t.capture(sched.CatMutexRelease, addr)
	t.capture(sched.CatRsrcReleased, addr)
}
