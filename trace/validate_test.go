package trace

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Validate", func() {
	build := func(rs ...Record) *Flat {
		t := NewFlat(nil)
		for _, r := range rs {
			t.Append(r)
		}

		return t
	}

	It("should accept a well formed trace", func() {
		t := build(sampleRecords()...)
		Expect(Validate(t, true)).To(Succeed())
	})

	It("should accept an incomplete trace when asked to", func() {
		rs := sampleRecords()
		t := build(rs[:4]...)
		Expect(Validate(t, false)).To(Succeed())
		Expect(Validate(t, true)).NotTo(Succeed())
	})

	It("should reject an empty trace", func() {
		Expect(Validate(build(), false)).NotTo(Succeed())
	})

	It("should require START first", func() {
		err := Validate(build(Record{Kind: KindSched, Clk: 1}), false)

		var verr *ValidationError
		Expect(err).To(BeAssignableToTypeOf(verr))
		Expect(err.Error()).To(ContainSubstring("START"))
	})

	It("should reject clocks that do not increase", func() {
		t := build(
			Record{Kind: KindStart},
			Record{Kind: KindSched, Clk: 5},
			Record{Kind: KindSched, Clk: 5},
		)

		err := Validate(t, false)
		Expect(err).To(HaveOccurred())
		Expect(err.(*ValidationError).Index).To(Equal(2))
	})

	It("should reject records after EXIT", func() {
		t := build(
			Record{Kind: KindStart},
			Record{Kind: KindExit, Clk: 2},
			Record{Kind: KindSched, Clk: 3},
		)

		Expect(Validate(t, false)).NotTo(Succeed())
	})
})
