package handlers

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/lotto/sched"
)

var _ = Describe("Inactivity", func() {
	var (
		i   *Inactivity
		now time.Time
	)

	BeforeEach(func() {
		now = time.Unix(1000, 0)
		i = NewInactivity(time.Second)
		i.now = func() time.Time { return now }
	})

	It("should warn once per idle period", func() {
		i.Handle(capture(1, sched.CatBeforeRead), newEvent(7))

		now = now.Add(500 * time.Millisecond)
		Expect(i.check()).To(BeFalse())

		now = now.Add(time.Second)
		Expect(i.check()).To(BeTrue())
		Expect(i.check()).To(BeFalse())

		i.Handle(capture(1, sched.CatBeforeRead), newEvent(8))
		now = now.Add(2 * time.Second)
		Expect(i.check()).To(BeTrue())
	})

	It("should start and stop its goroutine", func() {
		i.Start()
		Expect(i.stop).NotTo(BeNil())

		i.Stop()
		Expect(i.stop).To(BeNil())
	})

	It("should stay idle without an interval", func() {
		i = NewInactivity(0)
		i.Start()

		Expect(i.stop).To(BeNil())
		i.Stop()
	})
})
