package sequencer

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

var _ = Describe("Dispatcher", func() {
	var (
		mockCtrl *gomock.Controller
		first    *MockHandler
		second   *MockHandler
		d        *Dispatcher
		ctx      *sched.Context
		e        *sched.Event
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		first = NewMockHandler(mockCtrl)
		second = NewMockHandler(mockCtrl)
		d = NewDispatcher(prng.New(42))
		ctx = &sched.Context{ID: 1, Cat: sched.CatUserYield}
		e = &sched.Event{Clk: 1}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should refuse a nil handler", func() {
		Expect(func() { d.Register(sched.SlotMutex, nil) }).To(Panic())
	})

	It("should refuse to register a slot twice", func() {
		d.Register(sched.SlotMutex, first)
		Expect(func() { d.Register(sched.SlotMutex, second) }).To(Panic())
	})

	It("should call the handlers in slot order", func() {
		d.Register(sched.SlotPCT, second)
		d.Register(sched.SlotCreation, first)

		gomock.InOrder(
			first.EXPECT().Handle(ctx, e),
			second.EXPECT().Handle(ctx, e),
		)

		d.Dispatch(ctx, e)
	})

	It("should call the handlers after a skip", func() {
		d.Register(sched.SlotFiltering, HandlerFunc(
			func(_ *sched.Context, e *sched.Event) { e.Skip = true }))
		d.Register(sched.SlotPCT, second)

		second.EXPECT().Handle(ctx, e)

		d.Dispatch(ctx, e)
	})

	It("should keep the task at a non-change point", func() {
		Expect(d.Dispatch(ctx, e)).To(Equal(sched.TaskID(1)))
	})

	It("should panic if another task is designated at a non-change point",
		func() {
			d.Register(sched.SlotCreation, HandlerFunc(
				func(_ *sched.Context, e *sched.Event) { e.Next = 2 }))

			Expect(func() { d.Dispatch(ctx, e) }).To(Panic())
		})

	It("should follow the designated task", func() {
		d.Register(sched.SlotCreation, HandlerFunc(
			func(_ *sched.Context, e *sched.Event) {
				e.TaskSet().Insert(1)
				e.IsChpt = true
				e.Next = 7
			}))

		Expect(d.Dispatch(ctx, e)).To(Equal(sched.TaskID(7)))
	})

	It("should pick any task if there is no candidate", func() {
		d.Register(sched.SlotCreation, HandlerFunc(
			func(_ *sched.Context, e *sched.Event) { e.IsChpt = true }))

		Expect(d.Dispatch(ctx, e)).To(Equal(sched.AnyTask))
	})

	It("should pick the first candidate", func() {
		d.Register(sched.SlotCreation, HandlerFunc(
			func(_ *sched.Context, e *sched.Event) {
				e.TaskSet().Insert(3)
				e.TaskSet().Insert(2)
				e.IsChpt = true
				e.SetSelector(sched.SelectorFirst)
			}))

		Expect(d.Dispatch(ctx, e)).To(Equal(sched.TaskID(3)))
	})

	It("should pick a random candidate deterministically", func() {
		fill := HandlerFunc(func(_ *sched.Context, e *sched.Event) {
			for id := sched.TaskID(1); id <= 5; id++ {
				e.TaskSet().Insert(id)
			}
			e.IsChpt = true
		})

		d.Register(sched.SlotCreation, fill)
		other := NewDispatcher(prng.New(42))
		other.Register(sched.SlotCreation, fill)

		for i := 0; i < 20; i++ {
			e1 := &sched.Event{Clk: sched.Clk(i)}
			e2 := &sched.Event{Clk: sched.Clk(i)}

			picked := d.Dispatch(ctx, e1)
			Expect(other.Dispatch(ctx, e2)).To(Equal(picked))
			Expect(picked).To(BeNumerically(">=", 1))
			Expect(picked).To(BeNumerically("<=", 5))
			Expect(e1.Reason).To(Equal(sched.ReasonDeterministic))
		}
	})
})
