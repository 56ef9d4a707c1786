package handlers

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/lotto/sched"
)

var _ = Describe("Region", func() {
	var r *Region

	enter := func(id sched.TaskID, kind RegionKind) {
		r.Handle(capture(id, sched.CatRegionPreemption,
			sched.BoolArg(true), sched.U64Arg(uint64(kind))), newEvent(0))
	}

	leave := func(id sched.TaskID, kind RegionKind) *sched.Event {
		e := newEvent(0, 2, id)
		r.Handle(capture(id, sched.CatRegionPreemption,
			sched.BoolArg(false), sched.U64Arg(uint64(kind))), e)

		return e
	}

	BeforeEach(func() {
		r = NewRegion()
	})

	It("should put the task of a region first", func() {
		enter(1, RegionNoPreempt)
		Expect(r.InRegion(1)).To(BeTrue())

		e := newEvent(1, 2, 1)
		r.Handle(capture(1, sched.CatBeforeAWrite), e)

		Expect(e.Candidates().IDs).To(Equal([]sched.TaskID{1, 2}))
		Expect(e.Selector()).To(Equal(sched.SelectorFirst))
		Expect(e.Readonly()).To(BeTrue())
	})

	It("should leave the candidates of other tasks alone", func() {
		enter(1, RegionAtomic)

		e := newEvent(1, 2, 1)
		r.Handle(capture(2, sched.CatBeforeAWrite), e)

		Expect(e.Selector()).To(Equal(sched.SelectorUndefined))
		Expect(e.Readonly()).To(BeFalse())
	})

	It("should still apply to the capture leaving the region", func() {
		enter(1, RegionNoPreempt)
		enter(1, RegionNoPreempt)

		e := leave(1, RegionNoPreempt)
		Expect(e.Selector()).To(Equal(sched.SelectorFirst))

		e = leave(1, RegionNoPreempt)
		Expect(e.Selector()).To(Equal(sched.SelectorUndefined))
		Expect(r.InRegion(1)).To(BeFalse())
	})

	It("should panic when leaving a region never entered", func() {
		Expect(func() { leave(1, RegionAtomic) }).To(Panic())
	})

	It("should forget a finished task", func() {
		enter(1, RegionAtomic)
		r.Handle(capture(1, sched.CatTaskFini), newEvent(1))

		Expect(r.InRegion(1)).To(BeFalse())
	})

	It("should report the same atomic region owner every time", func() {
		var buf bytes.Buffer
		log.SetOutput(&buf)
		DeferCleanup(func() { log.SetOutput(GinkgoWriter) })

		for range 20 {
			r = NewRegion()
			enter(9, RegionAtomic)
			enter(3, RegionAtomic)
			enter(7, RegionAtomic)

			buf.Reset()
			r.Handle(capture(4, sched.CatBeforeAWrite), newEvent(1, 4))

			Expect(buf.String()).To(ContainSubstring(
				"task 4 runs inside the atomic region of task 3"))
		}
	})
})
