// Package config reads the settings of an execution from the environment.
//
// Every setting has a LOTTO_ variable. A .env file in the working directory
// is read first; variables that are already set take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sarchlab/lotto/handlers"
	"github.com/sarchlab/lotto/sched"
)

// The environment variables.
const (
	EnvRecord            = "LOTTO_RECORD"
	EnvReplay            = "LOTTO_REPLAY"
	EnvDisable           = "LOTTO_DISABLE"
	EnvSeed              = "LOTTO_SEED"
	EnvStrategy          = "LOTTO_STRATEGY"
	EnvPCTDepth          = "LOTTO_PCT_DEPTH"
	EnvPCTK              = "LOTTO_PCT_K"
	EnvGranularity       = "LOTTO_RECORD_GRANULARITY"
	EnvSlackMS           = "LOTTO_SLACK_MS"
	EnvWatchdogBudget    = "LOTTO_WATCHDOG_BUDGET"
	EnvTerminationMode   = "LOTTO_TERMINATION_MODE"
	EnvTerminationLimit  = "LOTTO_TERMINATION_LIMIT"
	EnvFilteringConfig   = "LOTTO_FILTERING_CONFIG"
	EnvIchpt             = "LOTTO_ICHPT"
	EnvEnforceModes      = "LOTTO_ENFORCE_MODES"
	EnvRace              = "LOTTO_RACE"
	EnvRaceAbort         = "LOTTO_RACE_ABORT"
	EnvInactivityTimeout = "LOTTO_INACTIVITY_TIMEOUT"
	EnvModifyReturnCode  = "LOTTO_MODIFY_RETURN_CODE"
	EnvMonitorPort       = "LOTTO_MONITOR_PORT"
	EnvMonitorPages      = "LOTTO_MONITOR_PAGES"
	EnvDebug             = "LOTTO_DEBUG"
)

// DotEnvFile is the file read by FromEnv.
const DotEnvFile = ".env"

// Config holds the settings of an execution.
type Config struct {
	// Record is the path of the trace written by the run. Empty disables
	// recording.
	Record string

	// Replay is the path of a trace to replay.
	Replay string

	// Disable runs the program without interception.
	Disable bool

	Seed     uint64
	Strategy handlers.Strategy
	PCTDepth uint64
	PCTK     uint64

	Granularity sched.Granularity
	Slack       time.Duration

	WatchdogBudget   uint64
	TerminationMode  handlers.TerminationMode
	TerminationLimit uint64

	FilteringConfig   string
	Ichpt             []string
	InactivityTimeout time.Duration

	// Enforce selects what a replay checks against the trace.
	Enforce handlers.EnforceMode

	Race      bool
	RaceAbort bool

	// ModifyReturnCode makes aborted runs exit with 240.
	ModifyReturnCode bool

	// MonitorPort starts the monitoring server when positive.
	MonitorPort int

	// MonitorPages is a directory to serve the dashboard pages from.
	MonitorPages string

	Debug bool
}

// Default returns the configuration used when no variable is set. The seed
// is taken from the wall clock.
func Default() Config {
	h := handlers.DefaultConfig()

	return Config{
		Seed:           uint64(time.Now().UnixNano()),
		Strategy:       h.Strategy,
		PCTDepth:       h.PCTDepth,
		PCTK:           h.PCTK,
		Granularity:    sched.GranularityMinimal,
		WatchdogBudget: h.WatchdogBudget,
		Enforce:        h.Enforce,
	}
}

// FromEnv reads the .env file, if any, and then the process environment.
func FromEnv() (Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading %s: %w", DotEnvFile, err)
	}

	return Load(os.LookupEnv)
}

// LookupFunc returns the value of a variable and whether it is set.
type LookupFunc func(key string) (string, bool)

// MapLookup looks variables up in a map.
func MapLookup(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

type parser struct {
	lookup LookupFunc
	err    error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}

	v = strings.TrimSpace(v)

	return v, v != ""
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: invalid %s=%q: %w", key, value, err)
	}
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}

	*dst = b
}

func (p *parser) uint(key string, dst *uint64) {
	v, ok := p.get(key)
	if !ok {
		return
	}

	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		p.fail(key, v, err)
		return
	}

	*dst = n
}

func (p *parser) int(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}

	*dst = n
}

// duration accepts Go durations such as "1.5s" and plain numbers in unit.
func (p *parser) duration(key string, unit time.Duration, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}

	if n, err := strconv.ParseUint(v, 10, 63); err == nil {
		*dst = time.Duration(n) * unit
		return
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}

	if d < 0 {
		p.fail(key, v, errors.New("negative duration"))
		return
	}

	*dst = d
}

func (p *parser) parse(key string, fn func(string) error) {
	if v, ok := p.get(key); ok {
		if err := fn(v); err != nil {
			p.fail(key, v, err)
		}
	}
}

// Load builds a configuration from Default and the variables returned by
// lookup.
func Load(lookup LookupFunc) (Config, error) {
	c := Default()
	p := &parser{lookup: lookup}

	p.str(EnvRecord, &c.Record)
	p.str(EnvReplay, &c.Replay)
	p.boolean(EnvDisable, &c.Disable)
	p.uint(EnvSeed, &c.Seed)

	p.parse(EnvStrategy, func(v string) (err error) {
		c.Strategy, err = handlers.ParseStrategy(v)
		return err
	})

	p.uint(EnvPCTDepth, &c.PCTDepth)
	p.uint(EnvPCTK, &c.PCTK)

	p.parse(EnvGranularity, func(v string) (err error) {
		c.Granularity, err = sched.ParseGranularity(v)
		return err
	})

	p.duration(EnvSlackMS, time.Millisecond, &c.Slack)
	p.uint(EnvWatchdogBudget, &c.WatchdogBudget)

	p.parse(EnvTerminationMode, func(v string) (err error) {
		c.TerminationMode, err = handlers.ParseTerminationMode(v)
		return err
	})

	p.uint(EnvTerminationLimit, &c.TerminationLimit)
	p.str(EnvFilteringConfig, &c.FilteringConfig)

	if v, ok := p.get(EnvIchpt); ok {
		for _, loc := range strings.Split(v, ",") {
			if loc = strings.TrimSpace(loc); loc != "" {
				c.Ichpt = append(c.Ichpt, loc)
			}
		}
	}

	p.parse(EnvEnforceModes, func(v string) (err error) {
		c.Enforce, err = handlers.ParseEnforceMode(v)
		return err
	})

	p.boolean(EnvRace, &c.Race)
	p.boolean(EnvRaceAbort, &c.RaceAbort)
	p.duration(EnvInactivityTimeout, time.Second, &c.InactivityTimeout)
	p.boolean(EnvModifyReturnCode, &c.ModifyReturnCode)
	p.int(EnvMonitorPort, &c.MonitorPort)
	p.str(EnvMonitorPages, &c.MonitorPages)
	p.boolean(EnvDebug, &c.Debug)

	if p.err != nil {
		return Config{}, p.err
	}

	if c.PCTK == 0 {
		return Config{}, fmt.Errorf("config: %s must be positive", EnvPCTK)
	}

	if c.MonitorPort < 0 {
		return Config{}, fmt.Errorf("config: %s must not be negative", EnvMonitorPort)
	}

	return c, nil
}

// Handlers returns the part of the configuration read by the handler chain.
func (c Config) Handlers() handlers.Config {
	h := handlers.DefaultConfig()

	h.Strategy = c.Strategy
	h.PCTDepth = c.PCTDepth
	h.PCTK = c.PCTK
	h.WatchdogBudget = c.WatchdogBudget
	h.TerminationMode = c.TerminationMode
	h.TerminationLimit = c.TerminationLimit
	h.Ichpt = append([]string(nil), c.Ichpt...)
	h.FilteringFile = c.FilteringConfig
	h.InactivityTimeout = c.InactivityTimeout
	h.Enforce = c.Enforce
	h.Race = c.Race || c.RaceAbort
	h.RaceAbort = c.RaceAbort

	return h
}
