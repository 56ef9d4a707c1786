// Package sched holds the data model shared by every layer of the engine:
// task ids, capture contexts, handler-chain events and scheduling plans.
package sched

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

// TaskID identifies a schedulable unit.
type TaskID uint64

const (
	// NoTask means "no task designated".
	NoTask TaskID = 0

	// AnyTask lets whichever eligible task arrives first take the turn.
	AnyTask TaskID = math.MaxUint64
)

func (id TaskID) String() string {
	switch id {
	case NoTask:
		return "NO_TASK"
	case AnyTask:
		return "ANY_TASK"
	default:
		return fmt.Sprintf("%d", uint64(id))
	}
}

// IDGenerator produces task ids. The first id it emits is 1.
type IDGenerator interface {
	Generate() TaskID
}

// NewIDGenerator returns a sequential generator.
func NewIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

type sequentialIDGenerator struct {
	next uint64
}

func (g *sequentialIDGenerator) Generate() TaskID {
	return TaskID(atomic.AddUint64(&g.next, 1))
}

// TaskSet is an insertion-ordered set of task ids. Removal keeps the order of
// the remaining ids, so index based selection is deterministic.
type TaskSet struct {
	IDs []TaskID
}

// NewTaskSet creates a set holding the given ids.
func NewTaskSet(ids ...TaskID) TaskSet {
	s := TaskSet{}
	for _, id := range ids {
		s.Insert(id)
	}

	return s
}

// Size returns the number of ids in the set.
func (s *TaskSet) Size() int {
	return len(s.IDs)
}

// Get returns the i-th id.
func (s *TaskSet) Get(i int) TaskID {
	return s.IDs[i]
}

// Has checks if the id is in the set.
func (s *TaskSet) Has(id TaskID) bool {
	return s.index(id) >= 0
}

func (s *TaskSet) index(id TaskID) int {
	for i, x := range s.IDs {
		if x == id {
			return i
		}
	}

	return -1
}

// Insert adds an id. It returns false if the id was already present.
func (s *TaskSet) Insert(id TaskID) bool {
	if s.Has(id) {
		return false
	}

	s.IDs = append(s.IDs, id)

	return true
}

// Remove deletes an id. It returns false if the id was not present.
func (s *TaskSet) Remove(id TaskID) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}

	s.IDs = append(s.IDs[:i], s.IDs[i+1:]...)

	return true
}

// Subtract removes every id of other from the set.
func (s *TaskSet) Subtract(other *TaskSet) {
	if other.Size() == 0 {
		return
	}

	kept := s.IDs[:0]
	for _, id := range s.IDs {
		if !other.Has(id) {
			kept = append(kept, id)
		}
	}

	s.IDs = kept
}

// Intersect keeps only the ids that are also in other.
func (s *TaskSet) Intersect(other *TaskSet) {
	kept := s.IDs[:0]
	for _, id := range s.IDs {
		if other.Has(id) {
			kept = append(kept, id)
		}
	}

	s.IDs = kept
}

// Filter keeps only the ids accepted by the predicate.
func (s *TaskSet) Filter(keep func(TaskID) bool) {
	kept := s.IDs[:0]
	for _, id := range s.IDs {
		if keep(id) {
			kept = append(kept, id)
		}
	}

	s.IDs = kept
}

// CopyFrom replaces the content of the set with the content of other.
func (s *TaskSet) CopyFrom(other *TaskSet) {
	s.IDs = append(s.IDs[:0], other.IDs...)
}

// Clone returns an independent copy.
func (s *TaskSet) Clone() TaskSet {
	c := TaskSet{}
	c.CopyFrom(s)

	return c
}

// Clear removes all ids.
func (s *TaskSet) Clear() {
	s.IDs = s.IDs[:0]
}

func (s TaskSet) String() string {
	parts := make([]string, 0, len(s.IDs))
	for _, id := range s.IDs {
		parts = append(parts, id.String())
	}

	return "{" + strings.Join(parts, ", ") + "}"
}
