package handlers

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

var _ = Describe("Filtering", func() {
	var f *Filtering

	BeforeEach(func() {
		f = NewFiltering(prng.New(1))
		f.State.Enabled = true
	})

	It("should drop nothing unless enabled", func() {
		f.State.Enabled = false

		e := newEvent(1, 1, 2)
		f.Handle(capture(1, sched.CatBeforeRead), e)

		Expect(e.Skip).To(BeFalse())
		Expect(e.Readonly()).To(BeFalse())
		Expect(e.Next).To(Equal(sched.NoTask))
	})

	It("should drop plain reads by default", func() {
		e := newEvent(1, 1, 2)
		f.Handle(capture(1, sched.CatBeforeRead), e)

		Expect(e.Skip).To(BeTrue())
		Expect(e.Readonly()).To(BeTrue())
		Expect(e.Next).To(Equal(sched.TaskID(1)))
	})

	It("should keep atomic operations by default", func() {
		e := newEvent(1, 1, 2)
		f.Handle(capture(1, sched.CatBeforeAWrite), e)

		Expect(e.Skip).To(BeFalse())
		Expect(e.Next).To(Equal(sched.NoTask))
	})

	DescribeTable("should never drop",
		func(cat sched.Category) {
			f.Set(cat, 1)

			e := newEvent(1, 1)
			f.Handle(capture(1, cat), e)

			Expect(e.Skip).To(BeFalse())
		},
		Entry("calls", sched.CatCall),
		Entry("blocking calls", sched.CatTaskBlock),
		Entry("task creation", sched.CatTaskCreate),
		Entry("task start", sched.CatTaskInit),
		Entry("task end", sched.CatTaskFini),
	)

	It("should not drop a capture with a decision", func() {
		e := newEvent(1, 1, 2)
		e.Next = 2
		f.Handle(capture(1, sched.CatBeforeRead), e)

		Expect(e.Skip).To(BeFalse())
	})

	It("should not drop a terminating capture", func() {
		e := newEvent(1, 1, 2)
		e.SetReason(sched.ReasonAssertFail)
		f.Handle(capture(1, sched.CatBeforeRead), e)

		Expect(e.Skip).To(BeFalse())
	})

	It("should load probabilities", func() {
		err := f.Load(strings.NewReader(`
# keep plain reads
BEFORE_READ=0
CAT_USER_YIELD = 1
`))
		Expect(err).NotTo(HaveOccurred())

		Expect(f.State.Probs[sched.CatBeforeRead]).To(BeZero())
		Expect(f.State.Probs[sched.CatUserYield]).To(Equal(1.0))

		e := newEvent(1, 1, 2)
		f.Handle(capture(1, sched.CatBeforeRead), e)
		Expect(e.Skip).To(BeFalse())
	})

	It("should load probabilities from a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "filter.conf")
		Expect(os.WriteFile(path, []byte("FUNC_ENTRY=1\n"), 0o600)).To(Succeed())

		Expect(f.LoadFile(path)).To(Succeed())
		Expect(f.State.Probs[sched.CatFuncEntry]).To(Equal(1.0))
	})

	DescribeTable("should reject a bad line",
		func(line string) {
			Expect(f.Load(strings.NewReader(line))).NotTo(Succeed())
		},
		Entry("missing value", "BEFORE_READ"),
		Entry("unknown category", "NOPE=1"),
		Entry("not a number", "BEFORE_READ=x"),
		Entry("out of range", "BEFORE_READ=2"),
	)
})
