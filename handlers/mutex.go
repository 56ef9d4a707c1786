package handlers

import (
	"log"
	"maps"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/lotto/deadlock"
	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// MutexEntry is the state of one lock.
type MutexEntry struct {
	Owner   sched.TaskID
	Count   int
	Waiters []sched.TaskID
}

// Mutex serializes the ownership of locks. The lock address is the first
// argument of the MUTEX_* captures.
//
// Acquiring is a change point. The acquirer waits outside the candidate set
// as long as another task owns the lock, and ownership changes when the
// acquirer resumes.
type Mutex struct {
	bus     *pubsub.Bus
	locks   map[uintptr]*MutexEntry
	waiting waitFlags
}

// NewMutex creates the handler.
func NewMutex(bus *pubsub.Bus) *Mutex {
	m := &Mutex{
		bus:     bus,
		locks:   make(map[uintptr]*MutexEntry),
		waiting: newWaitFlags(),
	}

	if bus != nil {
		bus.Subscribe(sched.ChainInterface, sched.TopicNextTask,
			int(sched.SlotMutex), m.onNextTask)
	}

	return m
}

// Locks returns a copy of the lock table.
func (m *Mutex) Locks() map[uintptr]MutexEntry {
	locks := make(map[uintptr]MutexEntry, len(m.locks))
	for addr, l := range m.locks {
		locks[addr] = MutexEntry{
			Owner:   l.Owner,
			Count:   l.Count,
			Waiters: slices.Clone(l.Waiters),
		}
	}

	return locks
}

// Owner implements deadlock.Graph.
func (m *Mutex) Owner(r deadlock.Resource) (sched.TaskID, bool) {
	l, ok := m.locks[uintptr(r)]
	if !ok || l.Owner == sched.NoTask {
		return sched.NoTask, false
	}

	return l.Owner, true
}

// WaitingFor implements deadlock.Graph.
func (m *Mutex) WaitingFor(t sched.TaskID) (deadlock.Resource, bool) {
	for _, addr := range m.sortedAddrs() {
		if slices.Contains(m.locks[addr].Waiters, t) {
			return deadlock.Resource(addr), true
		}
	}

	return 0, false
}

func (m *Mutex) sortedAddrs() []uintptr {
	return slices.Sorted(maps.Keys(m.locks))
}

func (m *Mutex) entry(addr uintptr) *MutexEntry {
	l, ok := m.locks[addr]
	if !ok {
		l = &MutexEntry{}
		m.locks[addr] = l
	}

	return l
}

func (m *Mutex) refresh(l *MutexEntry) {
	for _, w := range l.Waiters {
		m.waiting.set(w, l.Owner != sched.NoTask && l.Owner != w)
	}
}

// ShouldWait reports if a task waits for a lock owned by another task.
func (m *Mutex) ShouldWait(id sched.TaskID) bool {
	for _, l := range m.locks {
		if l.Owner != sched.NoTask && l.Owner != id &&
			slices.Contains(l.Waiters, id) {
			return true
		}
	}

	return false
}

// Handle implements sequencer.Handler.
func (m *Mutex) Handle(ctx *sched.Context, e *sched.Event) {
	addr := ctx.Args[0].Addr()

	switch ctx.Cat {
	case sched.CatMutexAcquire:
		l := m.entry(addr)
		if l.Owner != ctx.ID && !slices.Contains(l.Waiters, ctx.ID) {
			l.Waiters = append(l.Waiters, ctx.ID)
		}
		m.refresh(l)
		e.AddAnyTaskFilter(m.waiting.filter(ctx.ID))
		e.IsChpt = true
	case sched.CatMutexTryAcquire, sched.CatMutexRelease:
		e.IsChpt = true
	}

	if e.Mutable() {
		for _, addr := range m.sortedAddrs() {
			l := m.locks[addr]
			if l.Owner == sched.NoTask {
				continue
			}

			for _, w := range l.Waiters {
				if w != l.Owner {
					e.TaskSet().Remove(w)
				}
			}
		}
	}

	if ctx.Cat == sched.CatMutexAcquire && m.ShouldWait(ctx.ID) {
		if found, chain := deadlock.Detect(m, ctx.ID, deadlock.Resource(addr)); found {
			reportDeadlock(m.bus, e, chain)
		}
	}
}

func (m *Mutex) onNextTask(_ pubsub.Chain, _ pubsub.Type, event any, _ any) pubsub.Status {
	ctx := event.(*sched.Context)
	addr := ctx.Args[0].Addr()

	switch ctx.Cat {
	case sched.CatMutexAcquire:
		l := m.entry(addr)
		switch l.Owner {
		case sched.NoTask:
			l.Owner = ctx.ID
			l.Count = 1
		case ctx.ID:
			l.Count++
		default:
			log.Panicf("mutex: task %s resumed disrespecting lock 0x%x of task %s",
				ctx.ID, addr, l.Owner)
		}
		l.Waiters = slices.DeleteFunc(l.Waiters,
			func(w sched.TaskID) bool { return w == ctx.ID })
		m.waiting.drop(ctx.ID)
		m.refresh(l)
	case sched.CatMutexTryAcquire:
		l := m.entry(addr)
		switch l.Owner {
		case sched.NoTask:
			l.Owner = ctx.ID
			l.Count = 1
			ctx.Errno = 0
		case ctx.ID:
			l.Count++
			ctx.Errno = 0
		default:
			ctx.Errno = unix.EBUSY
		}
		m.refresh(l)
	case sched.CatMutexRelease:
		m.release(ctx.ID, addr)
	}

	return pubsub.OK
}

func (m *Mutex) release(id sched.TaskID, addr uintptr) {
	l, ok := m.locks[addr]
	if !ok || l.Owner != id {
		log.Printf("mutex: task %s releases lock 0x%x it does not own", id, addr)
		return
	}

	l.Count--
	if l.Count < 0 {
		log.Panicf("mutex: negative count on lock 0x%x", addr)
	}

	if l.Count > 0 {
		return
	}

	l.Owner = sched.NoTask
	m.refresh(l)

	if len(l.Waiters) == 0 {
		delete(m.locks, addr)
	}
}

func reportDeadlock(bus *pubsub.Bus, e *sched.Event, chain deadlock.Chain) {
	log.Printf("[lotto] resource deadlock detected: %s", chain)

	if bus != nil {
		bus.Publish(sched.ChainInterface, sched.TopicDeadlockDetected,
			chain.String(), nil)
	}

	e.SetReason(sched.ReasonRsrcDeadlock)
}
