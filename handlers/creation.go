// Package handlers provides the handlers of the decision chain. Each handler
// owns one concern: task life cycle, blocking calls, locks, timeouts, the
// exploration strategies and the termination of an execution.
package handlers

import (
	"log"

	"github.com/sarchlab/lotto/sched"
)

// CreationState is the set of live tasks.
type CreationState struct {
	Tasks sched.TaskSet
}

// Creation tracks the life cycle of tasks and seeds the candidate set with
// every live task.
type Creation struct {
	State CreationState
}

// NewCreation creates the handler.
func NewCreation() *Creation {
	return &Creation{}
}

// Tasks returns the live tasks.
func (c *Creation) Tasks() sched.TaskSet {
	return c.State.Tasks.Clone()
}

// Handle implements sequencer.Handler.
func (c *Creation) Handle(ctx *sched.Context, e *sched.Event) {
	tasks := &c.State.Tasks

	switch ctx.Cat {
	case sched.CatTaskInit:
		if !tasks.Insert(ctx.ID) {
			log.Panicf("creation: task %s initialized twice", ctx.ID)
		}
		e.IsChpt = true
		e.SetReason(sched.ReasonDeterministic)
	case sched.CatTaskFini:
		if !tasks.Remove(ctx.ID) {
			log.Panicf("creation: unknown task %s finished", ctx.ID)
		}
		e.IsChpt = true
	default:
		tasks.Insert(ctx.ID)
	}

	if e.Mutable() {
		e.TaskSet().CopyFrom(tasks)
	}

	if ctx.Cat != sched.CatTaskCreate {
		return
	}

	child := sched.TaskID(ctx.Args[0].Value)
	if child == sched.NoTask {
		e.Next = sched.AnyTask
	} else {
		e.Next = child
	}
	e.IsChpt = true
	e.MarkReadonly()
}
