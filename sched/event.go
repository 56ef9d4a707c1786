package sched

import "log"

// Clk is the logical clock of the engine. It advances once per capture.
type Clk uint64

// Selector is the policy used to pick the next task among the candidates.
type Selector uint8

// The selectors.
const (
	SelectorUndefined Selector = iota
	SelectorRandom
	SelectorFirst
)

func (s Selector) String() string {
	switch s {
	case SelectorRandom:
		return "RANDOM"
	case SelectorFirst:
		return "FIRST"
	default:
		return "UNDEFINED"
	}
}

// AnyTaskFilter decides whether a task may take the turn when the next task
// is AnyTask.
type AnyTaskFilter func(id TaskID) bool

// Event is the decision object threaded through the handler chain for one
// capture.
//
// Once the event is readonly, the candidate set can no longer be changed.
// Once a selector is set, it can no longer be replaced by another one.
type Event struct {
	Clk       Clk
	Unblocked TaskSet
	Replay    bool

	IsChpt       bool
	Skip         bool
	Reason       Reason
	Next         TaskID
	ShouldRecord bool

	AnyTaskFilters []AnyTaskFilter

	tset     TaskSet
	readonly bool
	selector Selector
}

// Candidates returns the current candidate set for reading.
func (e *Event) Candidates() *TaskSet {
	c := e.tset.Clone()
	return &c
}

// HasCandidate checks if the task is a candidate.
func (e *Event) HasCandidate(id TaskID) bool {
	return e.tset.Has(id)
}

// NumCandidates returns the size of the candidate set.
func (e *Event) NumCandidates() int {
	return e.tset.Size()
}

// TaskSet gives mutable access to the candidate set. Asking for it after the
// event became readonly is a handler bug.
func (e *Event) TaskSet() *TaskSet {
	if e.readonly {
		log.Panicf("clk %d: candidate set modified after readonly", e.Clk)
	}

	return &e.tset
}

// Mutable reports if handlers may still change the candidate set.
func (e *Event) Mutable() bool {
	return !e.Skip && !e.readonly
}

// Unskip takes back a skip, so a capture that was dropped can still become
// a change point.
func (e *Event) Unskip() {
	if !e.Skip {
		return
	}

	e.Skip = false
	e.readonly = false
	e.Next = NoTask
}

// Readonly reports if the candidate set is frozen.
func (e *Event) Readonly() bool {
	return e.readonly
}

// MarkReadonly freezes the candidate set.
func (e *Event) MarkReadonly() {
	e.readonly = true
}

// Selector returns the selector chosen so far.
func (e *Event) Selector() Selector {
	return e.selector
}

// SetSelector fixes the selector. Setting the same selector twice is allowed;
// replacing a selector is a handler bug.
func (e *Event) SetSelector(s Selector) {
	if e.selector != SelectorUndefined && e.selector != s {
		log.Panicf("clk %d: selector %s overridden by %s",
			e.Clk, e.selector, s)
	}

	e.selector = s
}

// AddAnyTaskFilter adds a filter that all tasks waking as AnyTask must pass.
func (e *Event) AddAnyTaskFilter(f AnyTaskFilter) {
	e.AnyTaskFilters = append(e.AnyTaskFilters, f)
}

// SetReason sets the reason. An abort reason is never replaced, and a
// shutdown reason is only replaced by another terminating one.
func (e *Event) SetReason(r Reason) {
	if e.Reason.IsAbort() {
		return
	}

	if e.Reason.IsTerminate() && !r.IsTerminate() {
		return
	}

	e.Reason = r
}
