// Package deadlock finds cycles in the graph of tasks waiting for resources
// held by other tasks.
package deadlock

import (
	"fmt"
	"strings"

	"github.com/sarchlab/lotto/sched"
)

// Resource identifies a lockable resource, typically by its address.
type Resource uintptr

// Graph exposes who holds and who waits for resources.
type Graph interface {
	// Owner returns the task holding a resource.
	Owner(r Resource) (sched.TaskID, bool)

	// WaitingFor returns the resource a task is blocked on.
	WaitingFor(t sched.TaskID) (Resource, bool)
}

// Link is one step of a wait chain: a task waiting for a resource.
type Link struct {
	Task     sched.TaskID
	Resource Resource
}

// Chain is a wait chain. The last link's resource is held by the first
// link's task.
type Chain []Link

func (c Chain) String() string {
	if len(c) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, l := range c {
		fmt.Fprintf(&sb, "T%s -> [0x%x] -> ", l.Task, uintptr(l.Resource))
	}

	fmt.Fprintf(&sb, "T%s", c[0].Task)

	return sb.String()
}

// Detect checks if task waiting for resource closes a cycle. It follows the
// owner of each resource to the resource that owner waits for. Cycles that do
// not pass through task are not reported.
func Detect(g Graph, task sched.TaskID, resource Resource) (bool, Chain) {
	chain := Chain{{Task: task, Resource: resource}}
	visited := map[sched.TaskID]bool{task: true}

	r := resource
	for {
		owner, ok := g.Owner(r)
		if !ok || owner == sched.NoTask {
			return false, nil
		}

		if owner == task {
			return true, chain
		}

		if visited[owner] {
			return false, nil
		}
		visited[owner] = true

		next, ok := g.WaitingFor(owner)
		if !ok {
			return false, nil
		}

		chain = append(chain, Link{Task: owner, Resource: next})
		r = next
	}
}
