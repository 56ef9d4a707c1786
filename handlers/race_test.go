package handlers

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/lotto/sched"
)

var _ = Describe("Race", func() {
	var (
		ichpt *Ichpt
		r     *Race
		clk   sched.Clk
	)

	access := func(id sched.TaskID, cat sched.Category, addr, pc uintptr) *sched.Event {
		clk++
		ctx := capture(id, cat, sched.PtrArg(addr))
		ctx.PC = pc
		e := newEvent(clk, 1, 2)
		r.Handle(ctx, e)

		return e
	}

	BeforeEach(func() {
		ichpt = NewIchpt()
		r = NewRace(ichpt)
		r.enabled = true
		clk = 0
	})

	It("should do nothing unless enabled", func() {
		r.enabled = false

		access(1, sched.CatBeforeWrite, 0x100, 0x11)
		e := access(2, sched.CatBeforeRead, 0x100, 0x22)

		Expect(e.IsChpt).To(BeFalse())
		Expect(r.State.Reports).To(BeEmpty())
	})

	It("should report a write and a read of another task", func() {
		access(1, sched.CatBeforeWrite, 0x100, 0x11)
		e := access(2, sched.CatBeforeRead, 0x100, 0x22)

		Expect(e.IsChpt).To(BeTrue())
		Expect(e.Reason).To(Equal(sched.ReasonUnknown))
		Expect(r.State.Reports).To(Equal([]RaceReport{{
			Clk:    2,
			Addr:   0x100,
			First:  RaceAccess{ID: 2, PC: 0x22, Readonly: true},
			Second: RaceAccess{ID: 1, PC: 0x11},
		}}))
		Expect(r.State.Reports[0].String()).To(ContainSubstring("RACE: task"))
	})

	It("should make both locations change points", func() {
		access(1, sched.CatBeforeWrite, 0x100, 0x11)
		access(2, sched.CatBeforeWrite, 0x100, 0x22)

		Expect(ichpt.Len()).To(Equal(2))

		e := newEvent(3, 1, 2)
		ctx := capture(1, sched.CatBeforeRead, sched.PtrArg(0x300))
		ctx.PC = 0x11
		ichpt.Handle(ctx, e)
		Expect(e.IsChpt).To(BeTrue())
	})

	It("should not report two reads", func() {
		access(1, sched.CatBeforeRead, 0x100, 0x11)
		e := access(2, sched.CatBeforeRead, 0x100, 0x22)

		Expect(e.IsChpt).To(BeFalse())
		Expect(r.State.Reports).To(BeEmpty())
	})

	It("should not report accesses of the same task", func() {
		access(1, sched.CatBeforeWrite, 0x100, 0x11)
		access(1, sched.CatBeforeRead, 0x100, 0x12)

		Expect(r.State.Reports).To(BeEmpty())
	})

	It("should not report two atomic accesses", func() {
		access(1, sched.CatBeforeARead, 0x100, 0x11)
		access(2, sched.CatBeforeAWrite, 0x100, 0x22)

		Expect(r.State.Reports).To(BeEmpty())
	})

	It("should report an atomic write racing with a plain read", func() {
		access(1, sched.CatBeforeRead, 0x100, 0x11)
		access(2, sched.CatBeforeAWrite, 0x100, 0x22)

		Expect(r.State.Reports).To(HaveLen(1))
	})

	It("should forget the accesses before a lock operation", func() {
		access(1, sched.CatBeforeWrite, 0x100, 0x11)
		access(1, sched.CatMutexRelease, 0x500, 0x12)
		e := access(2, sched.CatBeforeRead, 0x100, 0x22)

		Expect(e.IsChpt).To(BeFalse())
		Expect(r.State.Reports).To(BeEmpty())
	})

	It("should ignore accesses to address zero", func() {
		access(1, sched.CatBeforeWrite, 0, 0x11)
		access(2, sched.CatBeforeWrite, 0, 0x22)

		Expect(r.State.Reports).To(BeEmpty())
	})

	It("should abort on a race when asked", func() {
		r.abort = true

		access(1, sched.CatBeforeWrite, 0x100, 0x11)
		e := access(2, sched.CatBeforeWrite, 0x100, 0x22)

		Expect(e.Reason).To(Equal(sched.ReasonAbort))
		Expect(ichpt.Len()).To(BeZero())
	})

	It("should forget a finished task after a while", func() {
		access(1, sched.CatBeforeWrite, 0x100, 0x11)
		access(1, sched.CatTaskFini, 0, 0)

		clk = raceForgetDelay*2 - 1
		access(2, sched.CatBeforeRead, 0x200, 0x22)

		e := access(2, sched.CatBeforeWrite, 0x100, 0x22)
		Expect(e.IsChpt).To(BeFalse())
		Expect(r.State.Reports).To(BeEmpty())
	})
})
