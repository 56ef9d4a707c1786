package lotto_test

import (
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/sarchlab/lotto"
	"github.com/sarchlab/lotto/config"
	"github.com/sarchlab/lotto/engine"
	"github.com/sarchlab/lotto/handlers"
	"github.com/sarchlab/lotto/sched"
	"github.com/sarchlab/lotto/trace"
)

func builder(seed uint64) lotto.Builder {
	return lotto.MakeBuilder().
		WithSeed(seed).
		WithGrace(time.Second).
		WithLogger(log.New(GinkgoWriter, "", 0))
}

func builderConfig(seed uint64) config.Config {
	cfg := config.Default()
	cfg.Seed = seed

	return cfg
}

func build(b lotto.Builder) *lotto.Runtime {
	rt, err := b.Build()
	Expect(err).ToNot(HaveOccurred())

	return rt
}

func yielder(order *[]sched.TaskID, n int) func(t *lotto.Task) {
	return func(t *lotto.Task) {
		for i := 0; i < n; i++ {
			*order = append(*order, t.ID())
			t.Yield()
		}
	}
}

func runYielders(b lotto.Builder) ([]sched.TaskID, lotto.Result) {
	order := []sched.TaskID{}

	res := build(b).Run(func(t *lotto.Task) {
		hs := []lotto.TaskHandle{
			t.Go(yielder(&order, 4)),
			t.Go(yielder(&order, 4)),
			t.Go(yielder(&order, 4)),
		}

		for _, h := range hs {
			t.Join(h)
		}
	})

	return order, res
}

// queue is a producer/consumer program over an atomic item count. It fails
// when a producer sees two items in the queue.
func queue(t *lotto.Task) {
	const addr = 0x100

	var content atomic.Int64

	producer := func(t *lotto.Task) {
		t.AtomicRMW(addr, func() { content.Add(1) })

		var n int64
		t.AtomicLoad(addr, func() { n = content.Load() })
		t.Assert(n != 2, "two items in the queue")
	}

	consumer := func(t *lotto.Task) {
		for range 8 {
			var n int64
			t.AtomicLoad(addr, func() { n = content.Load() })

			if n > 0 && t.AtomicCAS(addr, func() bool {
				return content.CompareAndSwap(n, n-1)
			}) {
				return
			}

			t.Yield()
		}
	}

	hs := []lotto.TaskHandle{
		t.Go(producer), t.Go(consumer), t.Go(producer), t.Go(consumer),
	}
	for _, h := range hs {
		t.Join(h)
	}
}

// step is the part of a SCHED record that a replay must reproduce.
type step struct {
	Clk sched.Clk
	ID  sched.TaskID
	Cat sched.Category
	PC  uintptr
}

func steps(tr *trace.Flat) []step {
	out := []step{}
	for _, r := range tr.Records() {
		if r.Kind&trace.KindSched != 0 {
			out = append(out, step{Clk: r.Clk, ID: r.ID, Cat: r.Cat, PC: r.PC})
		}
	}

	return out
}

// spin runs a task that reads a flag until the main task sets it.
func spin(b lotto.Builder) (lotto.Result, int64) {
	const addr = 0x200

	var (
		started, flag atomic.Bool
		reads         atomic.Int64
	)

	res := build(b).Run(func(t *lotto.Task) {
		h := t.Go(func(t *lotto.Task) {
			started.Store(true)
			for !flag.Load() {
				t.Read(addr)
				reads.Add(1)
			}
		})

		for !started.Load() {
			t.Yield()
		}

		t.Write(addr)
		flag.Store(true)
		t.Join(h)
	})

	return res, reads.Load()
}

var _ = Describe("Runtime", func() {
	It("should end with SUCCESS when main returns", func() {
		ran := false

		res := build(builder(1)).Run(func(t *lotto.Task) {
			ran = true
		})

		Expect(ran).To(BeTrue())
		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(res.ExitCode).To(Equal(engine.ExitSuccess))
		Expect(res.Failed()).To(BeFalse())
		Expect(res.RunID.IsNil()).To(BeFalse())
	})

	It("should refuse to run twice", func() {
		rt := build(builder(1))
		rt.Run(func(t *lotto.Task) {})

		Expect(func() { rt.Run(func(t *lotto.Task) {}) }).To(Panic())
	})

	It("should return the value a task exits with", func() {
		var (
			value any
			errno syscall.Errno
		)

		res := build(builder(2)).Run(func(t *lotto.Task) {
			h := t.Go(func(t *lotto.Task) {
				t.Yield()
				t.Exit(42)
			})

			value, errno = t.Join(h)
		})

		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(errno).To(BeZero())
		Expect(value).To(Equal(42))
	})

	It("should refuse to join detached tasks", func() {
		var detachErrno, errno syscall.Errno

		build(builder(3)).Run(func(t *lotto.Task) {
			h := t.Go(func(t *lotto.Task) {})

			detachErrno = t.Detach(h)
			_, errno = t.Join(h)
		})

		Expect(detachErrno).To(BeZero())
		Expect(errno).To(BeElementOf(unix.EINVAL, unix.ESRCH))
	})

	It("should keep tasks out of a locked section", func() {
		var (
			mu      lotto.Mutex
			inside  bool
			overlap bool
			counter int
		)

		worker := func(t *lotto.Task) {
			for i := 0; i < 5; i++ {
				mu.Lock(t)
				if inside {
					overlap = true
				}
				inside = true
				t.Yield()
				counter++
				inside = false
				mu.Unlock(t)
			}
		}

		res := build(builder(4)).Run(func(t *lotto.Task) {
			hs := []lotto.TaskHandle{t.Go(worker), t.Go(worker), t.Go(worker)}
			for _, h := range hs {
				t.Join(h)
			}
		})

		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(overlap).To(BeFalse())
		Expect(counter).To(Equal(15))
	})

	It("should detect a lock order inversion", func() {
		reasons := []sched.Reason{}

		for seed := uint64(0); seed < 64; seed++ {
			var a, b lotto.Mutex

			res := build(builder(seed)).Run(func(t *lotto.Task) {
				h1 := t.Go(func(t *lotto.Task) {
					a.Lock(t)
					t.Yield()
					b.Lock(t)
					b.Unlock(t)
					a.Unlock(t)
				})
				h2 := t.Go(func(t *lotto.Task) {
					b.Lock(t)
					t.Yield()
					a.Lock(t)
					a.Unlock(t)
					b.Unlock(t)
				})

				t.Join(h1)
				t.Join(h2)
			})

			reasons = append(reasons, res.Reason)
			if res.Reason == sched.ReasonRsrcDeadlock {
				Expect(res.ExitCode).To(Equal(engine.ExitFailure))
			}
		}

		Expect(reasons).To(ContainElement(sched.ReasonRsrcDeadlock))
		Expect(reasons).To(ContainElement(sched.ReasonSuccess))
	})

	It("should replay a recorded interleaving", func() {
		recorded := trace.NewFlat(nil)
		want, res := runYielders(builder(7).WithOutput(recorded))
		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(recorded.Len()).To(BeNumerically(">", 0))

		got, res := runYielders(builder(99).
			WithReplay(recorded).
			WithOutput(trace.NewFlat(nil)))
		Expect(res.Reason).To(Equal(sched.ReasonSuccess))

		Expect(cmp.Diff(want, got)).To(BeEmpty())
	})

	It("should replay a failed assertion over atomics", func() {
		var recorded *trace.Flat

		for seed := uint64(0); seed < 128 && recorded == nil; seed++ {
			out := trace.NewFlat(nil)
			res := build(builder(seed).WithOutput(out)).Run(queue)

			Expect(res.Reason).To(BeElementOf(sched.ReasonSuccess, sched.ReasonAssertFail))
			if res.Reason == sched.ReasonAssertFail {
				recorded = out
			}
		}
		Expect(recorded).ToNot(BeNil())

		res := build(builder(1000).
			WithReplay(recorded).
			WithOutput(trace.NewFlat(nil))).
			Run(queue)
		Expect(res.Reason).To(Equal(sched.ReasonAssertFail))
	})

	It("should go through the recorded captures on replay", func() {
		recorded := trace.NewFlat(nil)
		want := build(builder(13).
			WithGranularity(sched.GranularityCapture).
			WithOutput(recorded)).
			Run(queue)

		replayed := trace.NewFlat(nil)
		got := build(builder(14).
			WithGranularity(sched.GranularityCapture).
			WithReplay(recorded).
			WithOutput(replayed)).
			Run(queue)

		Expect(got.Reason).To(Equal(want.Reason))
		Expect(steps(recorded)).ToNot(BeEmpty())
		Expect(cmp.Diff(steps(recorded), steps(replayed))).To(BeEmpty())
	})

	It("should abort a replay that takes another path", func() {
		const addr = 0x400

		program := func(write bool) func(t *lotto.Task) {
			return func(t *lotto.Task) {
				t.Read(addr)
				if write {
					t.Write(addr)
				} else {
					t.Read(addr)
				}
				t.Read(addr)
			}
		}

		recorded := trace.NewFlat(nil)
		res := build(builder(16).
			WithGranularity(sched.GranularityCapture).
			WithOutput(recorded)).
			Run(program(false))
		Expect(res.Reason).To(Equal(sched.ReasonSuccess))

		res = build(builder(16).WithReplay(recorded)).Run(program(false))
		Expect(res.Reason).To(Equal(sched.ReasonSuccess))

		res = build(builder(16).WithReplay(recorded)).Run(program(true))
		Expect(res.Reason).To(Equal(sched.ReasonAbort))
	})

	It("should abort a replay with other enforced data", func() {
		program := func(data string) func(t *lotto.Task) {
			return func(t *lotto.Task) {
				t.Enforce([]byte(data))
			}
		}

		recorded := trace.NewFlat(nil)
		res := build(builder(19).
			WithEnforce(handlers.DefaultEnforceMode | handlers.EnforceCustom).
			WithOutput(recorded)).
			Run(program("left"))
		Expect(res.Reason).To(Equal(sched.ReasonSuccess))

		res = build(builder(19).WithReplay(recorded)).Run(program("left"))
		Expect(res.Reason).To(Equal(sched.ReasonSuccess))

		res = build(builder(19).WithReplay(recorded)).Run(program("right"))
		Expect(res.Reason).To(Equal(sched.ReasonAbort))
	})

	It("should record a long execution", func() {
		out := trace.NewFlat(nil)

		res := build(builder(15).
			WithGranularity(sched.GranularityCapture).
			WithOutput(out)).
			Run(func(t *lotto.Task) {
				for range 70000 {
					t.Read(0x300)
				}
			})

		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(out.Len()).To(BeNumerically(">", 70000))
	})

	It("should preempt a task spinning on reads", func() {
		res, reads := spin(builder(0).
			WithWatchdogBudget(10).
			WithTermination(handlers.TerminateClk, 100000))

		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(reads).To(BeNumerically(">", 0))
	})

	It("should preempt a task spinning on filtered reads", func() {
		file := filepath.Join(GinkgoT().TempDir(), "filter.conf")
		Expect(os.WriteFile(file, []byte("BEFORE_READ=1\n"), 0o644)).To(Succeed())

		cfg := builderConfig(0)
		cfg.FilteringConfig = file

		res, reads := spin(builder(0).
			WithConfig(cfg).
			WithWatchdogBudget(10).
			WithTermination(handlers.TerminateClk, 100000))

		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(reads).To(BeNumerically(">", 0))
	})

	It("should report a data race", func() {
		const addr = 0x500

		reasons := []sched.Reason{}
		for seed := uint64(0); seed < 16; seed++ {
			res := build(builder(seed).WithRace(true)).Run(func(t *lotto.Task) {
				h := t.Go(func(t *lotto.Task) {
					t.Write(addr)
				})
				t.Write(addr)
				t.Join(h)
			})

			reasons = append(reasons, res.Reason)
		}

		Expect(reasons).To(HaveEach(sched.ReasonAbort))
	})

	It("should not report accesses ordered by a lock", func() {
		const addr = 0x500

		var mu lotto.Mutex

		res := build(builder(20).WithRace(true)).Run(func(t *lotto.Task) {
			h := t.Go(func(t *lotto.Task) {
				mu.Lock(t)
				t.Write(addr)
				mu.Unlock(t)
			})

			mu.Lock(t)
			t.Write(addr)
			mu.Unlock(t)
			t.Join(h)
		})

		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
	})

	It("should give the same interleaving for the same seed", func() {
		first, _ := runYielders(builder(11))
		second, _ := runYielders(builder(11))

		Expect(cmp.Diff(first, second)).To(BeEmpty())
	})

	It("should leap over sleeps", func() {
		start := time.Now()

		res := build(builder(5)).Run(func(t *lotto.Task) {
			h := t.Go(func(t *lotto.Task) {
				t.Sleep(time.Hour)
			})
			t.Join(h)
		})

		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(time.Since(start)).To(BeNumerically("<", 10*time.Second))
	})

	It("should end with ASSERT_FAIL on a failed assertion", func() {
		after := false

		res := build(builder(6)).Run(func(t *lotto.Task) {
			t.Assert(false, "broken")
			after = true
		})

		Expect(after).To(BeFalse())
		Expect(res.Reason).To(Equal(sched.ReasonAssertFail))
		Expect(res.ExitCode).To(Equal(engine.ExitFailure))
		Expect(res.Failed()).To(BeTrue())
	})

	It("should abort when a task panics", func() {
		res := build(builder(8)).Run(func(t *lotto.Task) {
			h := t.Go(func(t *lotto.Task) {
				panic("boom")
			})
			t.Join(h)
		})

		Expect(res.Reason).To(Equal(sched.ReasonAbort))
		Expect(res.Panic).To(Equal("boom"))
	})

	It("should modify the exit code of failures when asked", func() {
		cfg := builderConfig(9)
		cfg.ModifyReturnCode = true

		res := build(builder(9).WithConfig(cfg)).Run(func(t *lotto.Task) {
			t.Assert(false, "broken")
		})

		Expect(res.ExitCode).To(Equal(engine.ExitModifiedAbort))
	})

	It("should stop at the termination limit", func() {
		res := build(builder(10).
			WithTermination(handlers.TerminateClk, 50)).
			Run(func(t *lotto.Task) {
				for {
					t.Yield()
				}
			})

		Expect(res.Reason).To(Equal(sched.ReasonShutdown))
		Expect(res.ExitCode).To(Equal(engine.ExitSuccess))
		Expect(res.Clock).To(BeNumerically(">=", 50))
	})

	It("should run calls outside of the schedule", func() {
		done := make(chan struct{})
		got := false

		res := build(builder(12)).Run(func(t *lotto.Task) {
			h := t.Go(func(t *lotto.Task) {
				t.Block("wait", func() { <-done })
				got = true
			})
			t.Go(func(t *lotto.Task) {
				t.Call("signal", func() { close(done) })
			})
			t.Join(h)
		})

		Expect(res.Reason).To(Equal(sched.ReasonSuccess))
		Expect(got).To(BeTrue())
	})

	Context("with condition variables", func() {
		It("should hand items over", func() {
			for seed := uint64(0); seed < 16; seed++ {
				var (
					mu    lotto.Mutex
					items []int
					got   []int
				)
				cond := lotto.NewCond(&mu)

				res := build(builder(seed)).Run(func(t *lotto.Task) {
					h := t.Go(func(t *lotto.Task) {
						for len(got) < 3 {
							mu.Lock(t)
							for len(items) == 0 {
								cond.Wait(t)
							}
							got = append(got, items[0])
							items = items[1:]
							mu.Unlock(t)
						}
					})

					for i := range 3 {
						mu.Lock(t)
						items = append(items, i)
						cond.Signal(t)
						mu.Unlock(t)
						t.Yield()
					}

					t.Join(h)
				})

				Expect(res.Reason).To(Equal(sched.ReasonSuccess))
				Expect(got).To(Equal([]int{0, 1, 2}))
			}
		})

		It("should wake every waiter on a broadcast", func() {
			var (
				mu    lotto.Mutex
				ready int
				open  bool
				woken int
			)
			cond := lotto.NewCond(&mu)

			res := build(builder(21)).Run(func(t *lotto.Task) {
				waiter := func(t *lotto.Task) {
					mu.Lock(t)
					ready++
					for !open {
						cond.Wait(t)
					}
					woken++
					mu.Unlock(t)
				}

				hs := []lotto.TaskHandle{t.Go(waiter), t.Go(waiter), t.Go(waiter)}

				for {
					mu.Lock(t)
					if ready == 3 {
						break
					}
					mu.Unlock(t)
					t.Yield()
				}

				open = true
				cond.Broadcast(t)
				mu.Unlock(t)

				for _, h := range hs {
					t.Join(h)
				}
			})

			Expect(res.Reason).To(Equal(sched.ReasonSuccess))
			Expect(woken).To(Equal(3))
		})

		It("should time a wait out in logical time", func() {
			var mu lotto.Mutex
			cond := lotto.NewCond(&mu)
			woken := true
			start := time.Now()

			res := build(builder(22)).Run(func(t *lotto.Task) {
				mu.Lock(t)
				woken = cond.WaitTimeout(t, time.Hour)
				mu.Unlock(t)
			})

			Expect(res.Reason).To(Equal(sched.ReasonSuccess))
			Expect(woken).To(BeFalse())
			Expect(time.Since(start)).To(BeNumerically("<", 10*time.Second))
		})

		It("should end with an impasse when nobody signals", func() {
			var mu lotto.Mutex
			cond := lotto.NewCond(&mu)

			res := build(builder(23)).Run(func(t *lotto.Task) {
				mu.Lock(t)
				cond.Wait(t)
				mu.Unlock(t)
			})

			Expect(res.Reason).To(Equal(sched.ReasonImpasse))
		})
	})

	Context("when disabled", func() {
		It("should wait on condition variables", func() {
			var (
				mu    lotto.Mutex
				ready bool
			)
			cond := lotto.NewCond(&mu)
			timedOut := false

			res := build(builder(1).WithDisable(true)).Run(func(t *lotto.Task) {
				h := t.Go(func(t *lotto.Task) {
					mu.Lock(t)
					for !ready {
						cond.Wait(t)
					}
					mu.Unlock(t)
				})

				mu.Lock(t)
				ready = true
				cond.Broadcast(t)
				mu.Unlock(t)
				t.Join(h)

				mu.Lock(t)
				timedOut = !cond.WaitTimeout(t, 10*time.Millisecond)
				mu.Unlock(t)
			})

			Expect(res.Reason).To(Equal(sched.ReasonSuccess))
			Expect(timedOut).To(BeTrue())
		})

		It("should run the tasks as plain goroutines", func() {
			var (
				mu      lotto.Mutex
				counter int
				value   any
			)

			res := build(builder(1).WithDisable(true)).Run(func(t *lotto.Task) {
				hs := []lotto.TaskHandle{}
				for i := 0; i < 4; i++ {
					hs = append(hs, t.Go(func(t *lotto.Task) {
						for j := 0; j < 100; j++ {
							mu.Lock(t)
							counter++
							mu.Unlock(t)
						}
					}))
				}

				for _, h := range hs {
					t.Join(h)
				}

				h := t.Go(func(t *lotto.Task) { t.Exit("bye") })
				value, _ = t.Join(h)
			})

			Expect(res.Reason).To(Equal(sched.ReasonSuccess))
			Expect(res.ExitCode).To(Equal(engine.ExitSuccess))
			Expect(counter).To(Equal(400))
			Expect(value).To(Equal("bye"))
		})
	})
})
