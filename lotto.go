// Package lotto runs Go programs under a deterministic scheduler.
//
// The program is written against the Task API: every goroutine is a Task
// and every operation that may interleave with other tasks (memory accesses,
// locks, yields, blocking calls) is announced through it. Only one task runs
// at a time. At each announced operation the engine decides which task runs
// next, either at random from a seed or following a recorded trace, so that
// a failing interleaving can be replayed exactly.
//
//	rt, err := lotto.MakeBuilder().WithSeed(42).Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//	res := rt.Run(func(t *lotto.Task) {
//		h := t.Go(worker)
//		t.Join(h)
//	})
package lotto

import (
	"log"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/lotto/config"
	"github.com/sarchlab/lotto/engine"
	"github.com/sarchlab/lotto/handlers"
	"github.com/sarchlab/lotto/intercept"
	"github.com/sarchlab/lotto/mediator"
	"github.com/sarchlab/lotto/monitoring"
	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/recorder"
	"github.com/sarchlab/lotto/sched"
	"github.com/sarchlab/lotto/sequencer"
	"github.com/sarchlab/lotto/statemgr"
	"github.com/sarchlab/lotto/switcher"
	"github.com/sarchlab/lotto/trace"
)

// DefaultGrace is how long Run waits for the tasks to unwind once the
// execution is over.
const DefaultGrace = 2 * time.Second

// Result describes how an execution ended.
type Result struct {
	RunID    xid.ID
	Reason   sched.Reason
	ExitCode int
	Clock    sched.Clk
	Stats    sequencer.Stats

	// Trace is the trace written by the run, if any.
	Trace trace.Trace

	// Panic is the value a task panicked with.
	Panic any
}

// Failed reports if the execution was aborted.
func (r Result) Failed() bool {
	return r.Reason.IsAbort()
}

// seedState is saved in the CONFIG record so that a replayed run draws the
// same random numbers as the recorded one.
type seedState struct {
	Seed uint64
}

// Runtime is one execution of a program. It cannot be reused.
type Runtime struct {
	cfg    config.Config
	grace  time.Duration
	logger *log.Logger

	bus      *pubsub.Bus
	mgr      *statemgr.Manager
	prng     *prng.PRNG
	rec      *recorder.Recorder
	seq      *sequencer.Sequencer
	eng      *engine.Engine
	sw       *switcher.Switcher
	icpt     *intercept.Interceptor
	handlers *handlers.Set
	monitor  *monitoring.Monitor

	seed   seedState
	ids    sched.IDGenerator
	locks  atomic.Uint64
	input  trace.Trace
	output trace.Trace
	closer interface{ Close() error }

	started  atomic.Bool
	group    errgroup.Group
	endOnce  sync.Once
	done     chan struct{}
	resultMu sync.Mutex
	result   Result
}

// Builder creates runtimes.
type Builder struct {
	cfg    config.Config
	input  trace.Trace
	output trace.Trace
	grace  time.Duration
	logger *log.Logger
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg:    config.Default(),
		grace:  DefaultGrace,
		logger: log.New(os.Stderr, "[lotto] ", log.LstdFlags),
	}
}

// WithConfig replaces the whole configuration.
func (b Builder) WithConfig(c config.Config) Builder {
	b.cfg = c
	return b
}

// WithSeed sets the seed of the random decisions.
func (b Builder) WithSeed(seed uint64) Builder {
	b.cfg.Seed = seed
	return b
}

// WithStrategy sets how the next task is picked.
func (b Builder) WithStrategy(s handlers.Strategy) Builder {
	b.cfg.Strategy = s
	return b
}

// WithPCT sets the depth and the expected length of a PCT run.
func (b Builder) WithPCT(depth, k uint64) Builder {
	b.cfg.PCTDepth = depth
	b.cfg.PCTK = k
	return b
}

// WithGranularity sets which captures are recorded.
func (b Builder) WithGranularity(g sched.Granularity) Builder {
	b.cfg.Granularity = g
	return b
}

// WithSlack lets a task returning from a call keep running for d.
func (b Builder) WithSlack(d time.Duration) Builder {
	b.cfg.Slack = d
	return b
}

// WithWatchdogBudget sets how many watched captures a task may run in a
// row. Zero disables the watchdog.
func (b Builder) WithWatchdogBudget(n uint64) Builder {
	b.cfg.WatchdogBudget = n
	return b
}

// WithTermination stops the execution once limit is reached.
func (b Builder) WithTermination(mode handlers.TerminationMode, limit uint64) Builder {
	b.cfg.TerminationMode = mode
	b.cfg.TerminationLimit = limit
	return b
}

// WithIchpt adds the locations that are always change points.
func (b Builder) WithIchpt(locations ...string) Builder {
	b.cfg.Ichpt = append(append([]string(nil), b.cfg.Ichpt...), locations...)
	return b
}

// WithEnforce sets what a replay checks against the trace.
func (b Builder) WithEnforce(mode handlers.EnforceMode) Builder {
	b.cfg.Enforce = mode
	return b
}

// WithRace turns data race detection on. A race ends the execution with
// ABORT if abort is set.
func (b Builder) WithRace(abort bool) Builder {
	b.cfg.Race = true
	b.cfg.RaceAbort = abort
	return b
}

// WithDisable runs the program without scheduling.
func (b Builder) WithDisable(on bool) Builder {
	b.cfg.Disable = on
	return b
}

// WithReplay replays a trace. It takes precedence over the replay path of
// the configuration.
func (b Builder) WithReplay(t trace.Trace) Builder {
	b.input = t
	return b
}

// WithOutput records into a trace. It takes precedence over the record path
// of the configuration.
func (b Builder) WithOutput(t trace.Trace) Builder {
	b.output = t
	return b
}

// WithGrace sets how long Run waits for the tasks to unwind.
func (b Builder) WithGrace(d time.Duration) Builder {
	b.grace = d
	return b
}

// WithLogger sets the logger of the debug output.
func (b Builder) WithLogger(l *log.Logger) Builder {
	b.logger = l
	return b
}

// Build creates the runtime and opens the traces named in the
// configuration.
func (b Builder) Build() (*Runtime, error) {
	r := &Runtime{
		cfg:    b.cfg,
		grace:  b.grace,
		logger: b.logger,
		input:  b.input,
		output: b.output,
		ids:    sched.NewIDGenerator(),
		done:   make(chan struct{}),
	}

	if err := r.openTraces(); err != nil {
		return nil, err
	}

	if err := r.wire(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Runtime) openTraces() error {
	if r.input == nil && r.cfg.Replay != "" {
		f, err := trace.Open(r.cfg.Replay)
		if err != nil {
			return err
		}

		if f.Len() > 0 {
			r.input = f
		}
	}

	if r.output == nil && r.cfg.Record != "" {
		f := trace.Create(r.cfg.Record)
		r.output = f
		r.closer = f

		atexit.Register(func() {
			if err := f.Close(); err != nil {
				log.Printf("[lotto] %v", err)
			}
		})
	}

	return nil
}

func (r *Runtime) wire() error {
	r.bus = pubsub.NewBus()
	sched.AdvertiseTopics(r.bus)

	r.mgr = statemgr.NewManager(r.bus)
	r.prng = prng.New(r.cfg.Seed)
	r.seed.Seed = r.cfg.Seed

	dispatcher := sequencer.NewDispatcher(r.prng)
	r.rec = recorder.New(r.mgr)
	r.seq = sequencer.New(sequencer.Config{
		Slack:       r.cfg.Slack,
		Granularity: r.cfg.Granularity,
	}, r.bus, dispatcher, r.rec)

	set, err := handlers.Install(r.cfg.Handlers(), dispatcher, r.bus, r.mgr, r.prng)
	if err != nil {
		return err
	}
	r.handlers = set

	if err := r.mgr.Register(statemgr.Config, "prng", &r.seed); err != nil {
		return err
	}

	r.bus.Subscribe(sched.ChainInterface, sched.TopicAfterUnmarshalConfig,
		int(sched.SlotPRNG),
		func(pubsub.Chain, pubsub.Type, any, any) pubsub.Status {
			r.prng.Seed(r.seed.Seed)
			return pubsub.OK
		})

	r.eng = engine.MakeBuilder().
		WithSequencer(r.seq).
		WithRecorder(r.rec).
		WithBus(r.bus).
		WithModifyReturnCode(r.cfg.ModifyReturnCode).
		Build()

	r.sw = switcher.New()

	mb := mediator.MakeBuilder().
		WithEngine(r.eng).
		WithSwitcher(r.sw).
		WithSlack(r.cfg.Slack).
		WithExit(r.exit)

	r.icpt = intercept.MakeBuilder().
		WithMediatorBuilder(mb).
		WithBus(r.bus).
		Build()

	if r.cfg.Debug && r.logger != nil {
		r.bus.AcceptHook(NewCaptureLogger(r.logger))
	}

	if r.cfg.MonitorPort > 0 {
		r.monitor = monitoring.NewMonitor().
			WithPortNumber(r.cfg.MonitorPort).
			WithPagesDir(r.cfg.MonitorPages)
		r.monitor.RegisterBus(r.bus)
		r.monitor.RegisterStats(r.seq)
		r.monitor.RegisterSwitcher(r.sw)
		r.monitor.RegisterTasks(set.Creation, set.Blocking)
		r.monitor.RegisterTrace(r.output)
		r.registerHandlerViews(set)

		if r.cfg.TerminationMode != handlers.TerminateNever && r.cfg.TerminationLimit > 0 {
			r.monitor.TrackProgress(r.cfg.TerminationMode.String(), r.cfg.TerminationLimit,
				func() uint64 { return set.Termination.Progress(r.seq.Stats().Clk) })
		}
	}

	return nil
}

func (r *Runtime) registerHandlerViews(set *handlers.Set) {
	for name, h := range map[string]any{
		"creation":    set.Creation,
		"blocking":    set.Blocking,
		"join":        set.Join,
		"mutex":       set.Mutex,
		"evec":        set.Evec,
		"poll":        set.Poll,
		"timeout":     set.Timeout,
		"region":      set.Region,
		"filtering":   set.Filtering,
		"watchdog":    set.Watchdog,
		"ichpt":       set.Ichpt,
		"race":        set.Race,
		"termination": set.Termination,
		"velocity":    set.Velocity,
		"pos":         set.POS,
		"pct":         set.PCT,
		"resources":   set.Resources,
		"enforce":     set.Enforce,
	} {
		r.monitor.RegisterHandler(name, h)
	}
}

// Config returns the configuration of the runtime.
func (r *Runtime) Config() config.Config {
	return r.cfg
}

// Bus returns the event bus of the engine. Subscriptions must be added
// before Run.
func (r *Runtime) Bus() *pubsub.Bus {
	return r.bus
}

// Handlers returns the installed handler chain.
func (r *Runtime) Handlers() *handlers.Set {
	return r.handlers
}

// Stats returns the counters of the sequencer.
func (r *Runtime) Stats() sequencer.Stats {
	return r.seq.Stats()
}

// Done is closed once the execution is over.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

func (r *Runtime) over() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Run executes main as the first task and returns when the execution is
// over. The execution ends with SUCCESS when main returns, or earlier if a
// handler ends it.
func (r *Runtime) Run(main func(t *Task)) Result {
	if !r.started.CompareAndSwap(false, true) {
		log.Panicf("lotto: runtime started twice")
	}

	if r.cfg.Disable {
		return r.runDisabled(main)
	}

	r.eng.Init(r.input, r.output)
	r.handlers.Start()
	defer r.handlers.Stop()

	r.icpt.Start()

	if r.monitor != nil {
		r.monitor.StartServer()
		defer r.stopMonitor()
	}

	root := r.newTask(r.ids.Generate(), false)
	r.spawn(root, main, true)

	<-r.done
	r.wait()
	r.closeOutput()

	r.resultMu.Lock()
	defer r.resultMu.Unlock()

	return r.result
}

func (r *Runtime) stopMonitor() {
	if err := r.monitor.StopServer(); err != nil {
		log.Printf("[lotto] %v", err)
	}
}

func (r *Runtime) runDisabled(main func(t *Task)) Result {
	root := r.newTask(r.ids.Generate(), false)
	r.spawn(root, main, true)

	<-r.done
	r.wait()

	r.resultMu.Lock()
	defer r.resultMu.Unlock()

	return r.result
}

func (r *Runtime) wait() {
	unwound := make(chan struct{})

	go func() {
		_ = r.group.Wait()
		close(unwound)
	}()

	select {
	case <-unwound:
	case <-time.After(r.grace):
		log.Printf("[lotto] %d tasks did not unwind within %s",
			r.icpt.Len(), r.grace)
	}
}

func (r *Runtime) closeOutput() {
	if r.closer == nil {
		return
	}

	if err := r.closer.Close(); err != nil {
		log.Printf("[lotto] %v", err)
	}
}

// spawn runs a task on its own goroutine.
func (r *Runtime) spawn(t *Task, fn func(t *Task), first bool) {
	r.group.Go(func() error {
		r.runTask(t, fn, first)
		return nil
	})
}

func (r *Runtime) runTask(t *Task, fn func(t *Task), first bool) {
	defer t.handle.finish()
	defer r.icpt.Leave(t.id)

	defer func() {
		if p := recover(); p != nil {
			log.Printf("[lotto] task %s panicked: %v", t.id, p)
			r.end(t.id, sched.ReasonAbort, p)

			return
		}

		if first {
			r.end(t.id, sched.ReasonSuccess, nil)
			return
		}

		t.fini()
	}()

	if !r.cfg.Disable {
		t.mediator = r.icpt.Enter(t.id, first)
		t.capture(sched.CatTaskInit,
			sched.U64Arg(uint64(t.id)), sched.BoolArg(t.handle.detached.Load()))
	}

	fn(t)
}

// exit is called by a mediator when the execution has to end. It does not
// return.
func (r *Runtime) exit(ctx *sched.Context, reason sched.Reason) {
	r.end(ctx.ID, reason, nil)
	runtime.Goexit()
}

// end finishes the execution. Only the first call has an effect.
func (r *Runtime) end(id sched.TaskID, reason sched.Reason, panicked any) {
	r.endOnce.Do(func() {
		res := Result{Reason: reason, Panic: panicked, Trace: r.output}

		if r.cfg.Disable {
			if panicked != nil {
				res.ExitCode = engine.ExitFailure
			}
		} else {
			res.ExitCode = r.eng.Fini(&sched.Context{ID: id}, reason)
			r.icpt.Stop()
			r.sw.Abort()

			res.RunID = r.rec.RunID()
			res.Stats = r.seq.Stats()
			res.Clock = res.Stats.Clk
		}

		r.resultMu.Lock()
		r.result = res
		r.resultMu.Unlock()

		close(r.done)
	})
}

// Main loads the configuration from the environment, runs main and exits
// the process with the exit code of the execution.
func Main(main func(t *Task)) {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Printf("[lotto] %v", err)
		atexit.Exit(engine.ExitFailure)
	}

	rt, err := MakeBuilder().WithConfig(cfg).Build()
	if err != nil {
		log.Printf("[lotto] %v", err)
		atexit.Exit(engine.ExitFailure)
	}

	res := rt.Run(main)
	atexit.Exit(res.ExitCode)
}
