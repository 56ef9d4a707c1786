package pubsub

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	testChain Chain = 3
	testType  Type  = 7
	otherType Type  = 8
)

var _ = Describe("Bus", func() {
	var (
		bus   *Bus
		order []int
	)

	record := func(n int, ret Status) Callback {
		return func(Chain, Type, any, any) Status {
			order = append(order, n)
			return ret
		}
	}

	BeforeEach(func() {
		bus = NewBus()
		order = nil
	})

	It("should deliver in ascending slot order", func() {
		bus.Subscribe(testChain, testType, 3, record(3, OK))
		bus.Subscribe(testChain, testType, 1, record(1, OK))
		bus.Subscribe(testChain, testType, 2, record(2, OK))

		Expect(bus.Publish(testChain, testType, nil, nil)).To(Equal(OK))
		Expect(order).To(Equal([]int{1, 2, 3}))
	})

	It("should stop the chain without error", func() {
		bus.Subscribe(testChain, testType, 3, record(3, OK))
		bus.Subscribe(testChain, testType, 1, record(1, StopChain))
		bus.Subscribe(testChain, testType, 2, record(2, OK))

		Expect(bus.Publish(testChain, testType, nil, nil)).To(Equal(OK))
		Expect(order).To(Equal([]int{1}))
	})

	It("should propagate dropped events", func() {
		bus.Subscribe(testChain, testType, 1, record(1, DropEvent))
		bus.Subscribe(testChain, testType, 2, record(2, OK))

		Expect(bus.Publish(testChain, testType, nil, nil)).To(Equal(DropEvent))
		Expect(order).To(Equal([]int{1}))
	})

	It("should panic on subscriber errors", func() {
		bus.Subscribe(testChain, testType, 1, record(1, Error))

		Expect(func() {
			bus.Publish(testChain, testType, nil, nil)
		}).To(Panic())
	})

	It("should put any-type subscriptions after typed ones of the same slot",
		func() {
			bus.Subscribe(testChain, AnyType, 1, record(10, OK))
			bus.Subscribe(testChain, testType, 1, record(1, OK))
			bus.Subscribe(testChain, testType, 0, record(0, OK))

			bus.Publish(testChain, testType, nil, nil)
			Expect(order).To(Equal([]int{0, 1, 10}))

			order = nil
			bus.Publish(testChain, otherType, nil, nil)
			Expect(order).To(Equal([]int{10}))
		})

	It("should reject invalid chains and types", func() {
		Expect(bus.Publish(MaxChains, testType, nil, nil)).To(Equal(Invalid))
		Expect(bus.Publish(testChain, AnyType, nil, nil)).To(Equal(Invalid))
		Expect(bus.Subscribe(MaxChains, testType, 0, record(0, OK))).
			To(Equal(Invalid))
	})

	It("should ignore subscriptions to the control chain", func() {
		Expect(bus.Subscribe(ChainControl, EventInit, 0, record(0, OK))).
			To(Equal(OK))
		Expect(bus.NumSubscriptions(ChainControl, EventInit)).To(Equal(0))
	})

	Context("with a fast dispatcher", func() {
		It("should skip dynamic subscribers on stop chain", func() {
			bus.SetFastDispatch(testChain, 5, record(100, StopChain))
			bus.Subscribe(testChain, testType, 10, record(10, OK))

			Expect(bus.Publish(testChain, testType, nil, nil)).To(Equal(OK))
			Expect(order).To(Equal([]int{100}))
		})

		It("should fall through when the handler is off", func() {
			bus.SetFastDispatch(testChain, 5, record(100, HandlerOff))
			bus.Subscribe(testChain, testType, 10, record(10, OK))

			Expect(bus.Publish(testChain, testType, nil, nil)).To(Equal(OK))
			Expect(order).To(Equal([]int{100, 10}))
		})

		It("should ignore subscriptions owned by the dispatcher", func() {
			bus.SetFastDispatch(testChain, 5, record(100, HandlerOff))
			bus.Subscribe(testChain, testType, 5, record(5, OK))

			Expect(bus.NumSubscriptions(testChain, testType)).To(Equal(0))
		})

		It("should propagate drops", func() {
			bus.SetFastDispatch(testChain, 5, record(100, DropEvent))
			bus.Subscribe(testChain, testType, 10, record(10, OK))

			Expect(bus.Publish(testChain, testType, nil, nil)).
				To(Equal(DropEvent))
			Expect(order).To(Equal([]int{100}))
		})
	})

	Context("when initializing", func() {
		It("should publish init and ready exactly once", func() {
			var seen []Type
			bus.SetFastDispatch(ChainControl, 0,
				func(_ Chain, typ Type, _ any, _ any) Status {
					seen = append(seen, typ)
					return OK
				})

			bus.Publish(testChain, testType, nil, nil)
			bus.Publish(testChain, testType, nil, nil)

			Expect(seen).To(Equal([]Type{EventInit, EventReady}))
		})

		It("should drop nested publications during init", func() {
			var nested Status
			bus.SetFastDispatch(ChainControl, 0,
				func(_ Chain, typ Type, _ any, _ any) Status {
					if typ == EventInit {
						nested = bus.Publish(testChain, testType, nil, nil)
					}
					return OK
				})

			bus.Publish(testChain, testType, nil, nil)

			Expect(nested).To(Equal(DropEvent))
		})

		It("should deliver publications of the ready subscribers", func() {
			var nested Status
			bus.SetFastDispatch(ChainControl, 0,
				func(_ Chain, typ Type, _ any, _ any) Status {
					if typ == EventReady {
						nested = bus.Publish(testChain, testType, nil, nil)
					}
					return OK
				})
			bus.SetFastDispatch(testChain, 0, record(1, StopChain))

			bus.Publish(testChain, testType, nil, nil)

			Expect(nested).To(Equal(OK))
			Expect(order).To(Equal([]int{1, 1}))
		})

		It("should let concurrent publishers wait for ready", func() {
			release := make(chan struct{})
			started := make(chan struct{})
			bus.SetFastDispatch(ChainControl, 0,
				func(_ Chain, typ Type, _ any, _ any) Status {
					if typ == EventInit {
						close(started)
						<-release
					}
					return OK
				})

			var mu sync.Mutex
			delivered := 0
			bus.SetFastDispatch(testChain, 0,
				func(Chain, Type, any, any) Status {
					mu.Lock()
					delivered++
					mu.Unlock()
					return StopChain
				})

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				bus.Publish(testChain, testType, nil, nil)
			}()
			<-started

			results := make(chan Status, 1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				results <- bus.Publish(testChain, testType, nil, nil)
			}()

			Consistently(results).ShouldNot(Receive())
			close(release)
			wg.Wait()

			Expect(<-results).To(Equal(OK))
			Expect(delivered).To(Equal(2))
		})

		It("should tell goroutines apart", func() {
			id := goroutineID()
			Expect(goroutineID()).To(Equal(id))

			other := make(chan uint64)
			go func() { other <- goroutineID() }()
			Expect(<-other).ToNot(Equal(id))
		})

		It("should initialize on the first subscription", func() {
			var seen []Type
			bus.SetFastDispatch(ChainControl, 0,
				func(_ Chain, typ Type, _ any, _ any) Status {
					seen = append(seen, typ)
					return OK
				})

			bus.Subscribe(testChain, testType, 1, record(1, OK))
			Expect(seen).To(Equal([]Type{EventInit, EventReady}))

			var wg sync.WaitGroup
			statuses := make([]Status, 4)
			for i := range statuses {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i] = bus.Publish(testChain, otherType, nil, nil)
				}()
			}
			wg.Wait()

			Expect(statuses).To(HaveEach(OK))
			Expect(seen).To(HaveLen(2))
		})
	})

	It("should notify hooks", func() {
		var positions []string
		bus.AcceptHook(HookFunc(func(ctx HookCtx) {
			positions = append(positions, ctx.Pos.Name)
			Expect(ctx.Detail.Chain).To(Equal(testChain))
		}))

		bus.Publish(testChain, testType, "payload", nil)

		Expect(positions).To(Equal([]string{"BeforePublish", "AfterPublish"}))
	})
})
