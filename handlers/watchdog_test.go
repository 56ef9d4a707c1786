package handlers

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

var _ = Describe("Watchdog", func() {
	It("should do nothing without a budget", func() {
		w := NewWatchdog(prng.New(1), 0)

		e := newEvent(1, 1, 2)
		w.Handle(capture(1, sched.CatAfterARead), e)

		Expect(e.IsChpt).To(BeFalse())
	})

	It("should preempt a task that exhausted its budget", func() {
		w := NewWatchdog(prng.New(1), 1)

		e := newEvent(1, 1, 2)
		w.Handle(capture(1, sched.CatAfterARead), e)

		Expect(e.IsChpt).To(BeTrue())
		Expect(e.Reason).To(Equal(sched.ReasonWatchdog))
		Expect(e.Selector()).To(Equal(sched.SelectorRandom))
		Expect(e.Candidates().IDs).To(Equal([]sched.TaskID{2}))
	})

	It("should fire within the budget", func() {
		w := NewWatchdog(prng.New(7), 8)

		fired := 0
		for clk := sched.Clk(1); clk <= 8; clk++ {
			e := newEvent(clk, 1, 2)
			w.Handle(capture(1, sched.CatUserYield), e)
			if e.IsChpt {
				fired = int(clk)
				break
			}
		}

		Expect(fired).To(BeNumerically(">=", 4))
	})

	It("should ignore captures that are not watched", func() {
		w := NewWatchdog(prng.New(1), 1)

		e := newEvent(1, 1, 2)
		w.Handle(capture(1, sched.CatFuncEntry), e)

		Expect(e.IsChpt).To(BeFalse())
	})

	It("should restart the count at a change point", func() {
		w := NewWatchdog(prng.New(1), 1)

		e := newEvent(1, 1, 2)
		e.IsChpt = true
		w.Handle(capture(1, sched.CatAfterARead), e)

		Expect(e.Reason).To(Equal(sched.ReasonUnknown))
	})

	It("should preempt a task whose reads were filtered", func() {
		w := NewWatchdog(prng.New(1), 1)
		f := NewFiltering(prng.New(1))
		f.State.Enabled = true

		e := newEvent(1, 1, 2)
		f.Handle(capture(1, sched.CatBeforeRead), e)
		Expect(e.Skip).To(BeTrue())

		w.Handle(capture(1, sched.CatBeforeRead), e)

		Expect(e.Skip).To(BeFalse())
		Expect(e.Next).To(Equal(sched.NoTask))
		Expect(e.IsChpt).To(BeTrue())
		Expect(e.Reason).To(Equal(sched.ReasonWatchdog))
		Expect(e.Candidates().IDs).To(Equal([]sched.TaskID{2}))
	})

	It("should leave a frozen capture alone", func() {
		w := NewWatchdog(prng.New(1), 1)

		e := newEvent(1, 1, 2)
		e.MarkReadonly()
		w.Handle(capture(1, sched.CatBeforeRead), e)

		Expect(e.IsChpt).To(BeFalse())
	})
})
