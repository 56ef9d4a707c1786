package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
	"github.com/sarchlab/lotto/sequencer"
	"github.com/sarchlab/lotto/statemgr"
)

// Strategy selects how the next task is picked among the candidates.
type Strategy int

// The strategies.
const (
	StrategyRandom Strategy = iota
	StrategyPCT
	StrategyPOS
)

var strategyNames = [...]string{"random", "pct", "pos"}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("strategy(%d)", int(s))
	}

	return strategyNames[s]
}

// ParseStrategy converts a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StrategyRandom, nil
	}

	for i, n := range strategyNames {
		if n == s {
			return Strategy(i), nil
		}
	}

	return StrategyRandom, fmt.Errorf("unknown strategy %q", s)
}

// Config is the configuration of the handler chain. It is saved in the
// CONFIG record, so a replayed run uses the configuration of the recorded
// one.
type Config struct {
	Strategy         Strategy
	PCTDepth         uint64
	PCTK             uint64
	WatchdogBudget   uint64
	TerminationMode  TerminationMode
	TerminationLimit uint64
	Tick             time.Duration
	Ichpt            []string
	FilteringFile    string
	Enforce          EnforceMode
	Race             bool
	RaceAbort        bool

	// InactivityTimeout is a wall-clock interval. Zero disables the check.
	InactivityTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategyRandom,
		PCTDepth:       3,
		PCTK:           1000,
		WatchdogBudget: 1000,
		Tick:           DefaultTick,
		Enforce:        DefaultEnforceMode,
	}
}

// Registry is where handlers are installed.
type Registry interface {
	Register(slot sched.Slot, h sequencer.Handler)
}

// Set is the installed handler chain.
type Set struct {
	Config Config

	Creation    *Creation
	Blocking    *Blocking
	Join        *Join
	Mutex       *Mutex
	Evec        *Evec
	Poll        *Poll
	Timeout     *Timeout
	Impasse     *Impasse
	Region      *Region
	Filtering   *Filtering
	Watchdog    *Watchdog
	Ichpt       *Ichpt
	Race        *Race
	Termination *Termination
	Velocity    *Velocity
	POS         *POS
	PCT         *PCT
	Resources   *Resources
	Enforce     *Enforce
	Inactivity  *Inactivity
}

// Install creates every handler, registers it at its slot and registers its
// state with the manager.
func Install(
	cfg Config,
	reg Registry,
	bus *pubsub.Bus,
	mgr *statemgr.Manager,
	p *prng.PRNG,
) (*Set, error) {
	s := &Set{Config: cfg}

	s.Creation = NewCreation()
	s.Blocking = NewBlocking(bus)
	s.Join = NewJoin(bus)
	s.Mutex = NewMutex(bus)
	s.Timeout = NewTimeout(bus, cfg.Tick)
	s.Evec = NewEvec(bus, p, s.Timeout)
	s.Poll = NewPoll(bus, s.Timeout)
	s.Impasse = NewImpasse(s.Blocking, s.Timeout)
	s.Region = NewRegion()
	s.Filtering = NewFiltering(p)
	s.Watchdog = NewWatchdog(p, cfg.WatchdogBudget)
	s.Ichpt = NewIchpt()
	s.Race = NewRace(s.Ichpt)
	s.Termination = NewTermination(cfg.TerminationMode, cfg.TerminationLimit,
		s.Timeout)
	s.Velocity = NewVelocity(p)
	s.POS = NewPOS(p)
	s.PCT = NewPCT(p, cfg.PCTDepth, cfg.PCTK)
	s.Resources = NewResources(bus, s.Mutex)
	s.Enforce = NewEnforce(cfg.Enforce)
	s.Inactivity = NewInactivity(cfg.InactivityTimeout)

	if err := s.configure(true); err != nil {
		return nil, err
	}

	reg.Register(sched.SlotCreation, s.Creation)
	reg.Register(sched.SlotBlocking, s.Blocking)
	reg.Register(sched.SlotJoin, s.Join)
	reg.Register(sched.SlotMutex, s.Mutex)
	reg.Register(sched.SlotEvec, s.Evec)
	reg.Register(sched.SlotPoll, s.Poll)
	reg.Register(sched.SlotTimeout, s.Timeout)
	reg.Register(sched.SlotImpasse, s.Impasse)
	reg.Register(sched.SlotRegionPreemption, s.Region)
	reg.Register(sched.SlotFiltering, s.Filtering)
	reg.Register(sched.SlotWatchdog, s.Watchdog)
	reg.Register(sched.SlotIchpt, s.Ichpt)
	reg.Register(sched.SlotRace, s.Race)
	reg.Register(sched.SlotAtomic, Atomic{})
	reg.Register(sched.SlotYield, Yield{})
	reg.Register(sched.SlotTermination, s.Termination)
	reg.Register(sched.SlotTaskVelocity, s.Velocity)
	reg.Register(sched.SlotPOS, s.strategy(StrategyPOS, s.POS))
	reg.Register(sched.SlotPCT, s.strategy(StrategyPCT, s.PCT))
	reg.Register(sched.SlotDeadlock, s.Resources)
	reg.Register(sched.SlotEnforcement, s.Enforce)
	reg.Register(sched.SlotInactivityTimeout, s.Inactivity)

	if mgr != nil {
		for _, r := range []struct {
			g     statemgr.Group
			key   string
			value any
		}{
			{statemgr.Config, "handlers", &s.Config},
			{statemgr.Config, "filtering", &s.Filtering.State},
			{statemgr.Persistent, "blocking", &s.Blocking.State},
			{statemgr.Persistent, "enforce", &s.Enforce.State},
			{statemgr.Ephemeral, "creation", &s.Creation.State},
			{statemgr.Final, "ichpt", &s.Ichpt.State},
			{statemgr.Final, "race", &s.Race.State},
		} {
			if err := mgr.Register(r.g, r.key, r.value); err != nil {
				return nil, err
			}
		}
	}

	if bus != nil {
		bus.Subscribe(sched.ChainInterface, sched.TopicAfterUnmarshalConfig,
			int(sched.SlotConfig),
			func(pubsub.Chain, pubsub.Type, any, any) pubsub.Status {
				if err := s.configure(false); err != nil {
					return pubsub.Error
				}
				return pubsub.OK
			})
	}

	return s, nil
}

func (s *Set) strategy(want Strategy, h sequencer.Handler) sequencer.Handler {
	return sequencer.HandlerFunc(func(ctx *sched.Context, e *sched.Event) {
		if s.Config.Strategy == want {
			h.Handle(ctx, e)
		}
	})
}

// configure pushes the configuration into the handlers. Filtering is only
// on when a filtering file is configured. The file is only read at install
// time; a replayed run keeps the recorded probabilities.
func (s *Set) configure(loadFiles bool) error {
	cfg := &s.Config

	s.Watchdog.budget = cfg.WatchdogBudget
	s.Termination.mode = cfg.TerminationMode
	s.Termination.limit = cfg.TerminationLimit
	s.PCT.depth = cfg.PCTDepth
	s.PCT.k = max(cfg.PCTK, 1)
	s.Enforce.mode = cfg.Enforce
	s.Race.enabled = cfg.Race
	s.Race.abort = cfg.RaceAbort

	if cfg.Tick > 0 {
		s.Timeout.tick = uint64(cfg.Tick)
	}

	s.Ichpt.Reset()
	if err := s.Ichpt.Add(cfg.Ichpt...); err != nil {
		return err
	}

	s.Filtering.State.Enabled = cfg.FilteringFile != ""
	if loadFiles && cfg.FilteringFile != "" {
		if err := s.Filtering.LoadFile(cfg.FilteringFile); err != nil {
			return err
		}
	}

	return nil
}

// Start launches the background parts of the chain.
func (s *Set) Start() {
	s.Inactivity.Start()
}

// Stop ends the background parts of the chain.
func (s *Set) Stop() {
	s.Inactivity.Stop()
}
