// Package switcher provides the only place where tasks block waiting for
// their turn.
//
// A task calls Yield to wait until it is designated as the next task. The
// task holding the turn designates its successor with Wake. The designated
// task does not have to be waiting yet; it takes the turn as soon as it
// arrives.
package switcher

import (
	"log"
	"sync"
	"time"

	"github.com/sarchlab/lotto/sched"
)

// NumBuckets is the number of condition variables tasks are spread over.
const NumBuckets = 128

// Status is the outcome of a Yield.
type Status int

// The statuses.
const (
	Continue Status = iota
	Changed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Continue:
		return "CONTINUE"
	case Changed:
		return "CHANGED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

type bucket struct {
	cond    *sync.Cond
	waiters int
}

// Switcher hands the turn from one task to the next.
type Switcher struct {
	mu      sync.Mutex
	buckets [NumBuckets]bucket
	next    sched.TaskID
	prev    sched.TaskID
	status  Status
	slack   time.Duration
	sleep   func(time.Duration)
}

// New creates a switcher with no designated task.
func New() *Switcher {
	s := &Switcher{
		next:  sched.NoTask,
		prev:  sched.NoTask,
		sleep: time.Sleep,
	}

	for i := range s.buckets {
		s.buckets[i].cond = sync.NewCond(&s.mu)
	}

	return s
}

func bucketOf(id sched.TaskID) int {
	return int(uint64(id) % NumBuckets)
}

func acceptedByAll(id sched.TaskID, filters []sched.AnyTaskFilter) bool {
	for _, f := range filters {
		if f != nil && !f(id) {
			return false
		}
	}

	return true
}

func (s *Switcher) mayProceed(id sched.TaskID, filters []sched.AnyTaskFilter) bool {
	if s.status == Aborted || s.next == id {
		return true
	}

	return s.next == sched.AnyTask && acceptedByAll(id, filters)
}

// Yield blocks the calling task until it is designated as the next task,
// until AnyTask is designated and all filters accept the task, or until the
// switcher is aborted.
func (s *Switcher) Yield(id sched.TaskID, filters []sched.AnyTaskFilter) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &s.buckets[bucketOf(id)]
	b.waiters++

	waited := false
	for !s.mayProceed(id, filters) {
		b.cond.Wait()
		waited = true
	}

	// The slack only delays the wall clock. The designation cannot change
	// while we sleep because nobody else may consume it.
	if waited && s.slack > 0 && s.status != Aborted {
		slack := s.slack
		s.slack = 0
		s.mu.Unlock()
		s.sleep(slack)
		s.mu.Lock()
	}

	b.waiters--

	if s.status == Aborted {
		return Aborted
	}

	next := s.next
	s.next = sched.NoTask

	prev := s.prev
	s.prev = id
	s.slack = 0

	if prev != id || next == sched.AnyTask {
		s.status = Changed
	} else {
		s.status = Continue
	}

	return s.status
}

// Wake designates the next task. Designating a task while the previous
// designation has not been consumed is a scheduler bug.
func (s *Switcher) Wake(id sched.TaskID, slack time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Aborted {
		return
	}

	if s.next != sched.NoTask {
		log.Panicf("switcher: waking task %s while task %s is still designated",
			id, s.next)
	}

	if id == sched.NoTask {
		log.Panicf("switcher: waking NO_TASK")
	}

	s.next = id
	s.slack = slack

	if id == sched.AnyTask {
		for i := range s.buckets {
			if s.buckets[i].waiters > 0 {
				s.buckets[i].cond.Broadcast()
			}
		}

		return
	}

	s.buckets[bucketOf(id)].cond.Broadcast()
}

// Abort wakes every waiting task. All pending and future yields return
// Aborted. Abort is idempotent.
func (s *Switcher) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = Aborted

	for i := range s.buckets {
		s.buckets[i].cond.Broadcast()
	}
}

// Aborted reports if Abort has been called.
func (s *Switcher) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status == Aborted
}

// Snapshot describes the switcher state.
type Snapshot struct {
	Next    sched.TaskID
	Prev    sched.TaskID
	Status  Status
	Waiters int
}

// Snapshot returns the current state.
func (s *Switcher) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Next: s.next, Prev: s.prev, Status: s.status}
	for i := range s.buckets {
		snap.Waiters += s.buckets[i].waiters
	}

	return snap
}
