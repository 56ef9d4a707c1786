package handlers

import (
	"maps"
	"slices"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// PollArgs is the argument of a POLL capture, passed by reference. A
// negative timeout waits forever.
type PollArgs struct {
	Fds     []unix.PollFd
	Timeout time.Duration
}

type pollEntry struct {
	ctx  *sched.Context
	args *PollArgs
}

// Poll keeps tasks waiting for file descriptors out of the candidate set
// until the descriptors are ready or the logical timeout expires.
//
// Readiness is checked with a non-blocking poll at every capture. When only
// pollers without a deadline are left, they resume with EAGAIN so that they
// can wait outside the schedule.
type Poll struct {
	timeout *Timeout
	polls   map[sched.TaskID]*pollEntry
	waiting waitFlags
}

// NewPoll creates the handler. Timeouts are registered with timeout.
func NewPoll(bus *pubsub.Bus, timeout *Timeout) *Poll {
	p := &Poll{
		timeout: timeout,
		polls:   make(map[sched.TaskID]*pollEntry),
		waiting: newWaitFlags(),
	}

	if bus != nil {
		bus.Subscribe(sched.ChainInterface, sched.TopicTriggerTimeout,
			int(sched.SlotPoll), p.onTimeout)
	}

	return p
}

// Polling reports if a task waits for its descriptors.
func (p *Poll) Polling(id sched.TaskID) bool {
	_, ok := p.polls[id]
	return ok
}

func (p *Poll) onTimeout(_ pubsub.Chain, _ pubsub.Type, event any, _ any) pubsub.Status {
	ev := event.(*sched.TimeoutEvent)
	if pe, ok := p.polls[ev.ID]; ok {
		p.resolve(ev.ID, pe, 0, 0)
	}

	return pubsub.OK
}

func (p *Poll) resolve(id sched.TaskID, pe *pollEntry, n int, errno unix.Errno) {
	pe.ctx.Ret = sched.U64Arg(uint64(n))
	pe.ctx.Errno = errno
	delete(p.polls, id)
	p.waiting.drop(id)

	if p.timeout != nil {
		p.timeout.Cancel(id)
	}
}

func (p *Poll) check(id sched.TaskID, pe *pollEntry) {
	n, err := unix.Poll(pe.args.Fds, 0)

	switch {
	case err == unix.EINTR:
	case err != nil:
		errno, _ := err.(unix.Errno)
		p.resolve(id, pe, -1, errno)
	case n > 0:
		p.resolve(id, pe, n, 0)
	}
}

// Handle implements sequencer.Handler.
func (p *Poll) Handle(ctx *sched.Context, e *sched.Event) {
	if ctx.Cat == sched.CatPoll {
		args, _ := ctx.Args[0].Ref.(*PollArgs)
		if args == nil {
			ctx.Errno = unix.EINVAL
			return
		}

		pe := &pollEntry{ctx: ctx, args: args}
		p.polls[ctx.ID] = pe
		p.waiting.set(ctx.ID, true)

		if args.Timeout >= 0 && p.timeout != nil {
			p.timeout.Register(ctx.ID, e.Clk, args.Timeout)
		}
	}

	if ctx.Cat == sched.CatTaskFini {
		delete(p.polls, ctx.ID)
		p.waiting.drop(ctx.ID)
	}

	ids := slices.Sorted(maps.Keys(p.polls))
	for _, id := range ids {
		p.check(id, p.polls[id])
	}

	if e.Mutable() {
		ids = slices.Sorted(maps.Keys(p.polls))
		for _, id := range ids {
			e.TaskSet().Remove(id)
		}

		if e.NumCandidates() == 0 && (p.timeout == nil || p.timeout.Pending() == 0) {
			for _, id := range ids {
				p.resolve(id, p.polls[id], 0, unix.EAGAIN)
				e.TaskSet().Insert(id)
			}
		}
	}

	if p.Polling(ctx.ID) {
		e.IsChpt = true
		e.AddAnyTaskFilter(p.waiting.filter(ctx.ID))
	}
}
