package handlers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/lotto/prng"
	"github.com/sarchlab/lotto/sched"
)

// FilteringState holds the drop probability of every category. Nothing is
// dropped unless Enabled is set.
type FilteringState struct {
	Enabled bool
	Probs   [sched.NumCategories]float64
}

// Filtering drops captures of noisy categories so that they neither become
// change points nor cost a decision.
type Filtering struct {
	State FilteringState
	prng  *prng.PRNG
}

// NewFiltering creates the handler with the default probabilities: every
// AFTER_* atomic, FUNC_EXIT and plain memory access is dropped.
func NewFiltering(p *prng.PRNG) *Filtering {
	f := &Filtering{prng: p}

	for c := sched.Category(0); int(c) < sched.NumCategories; c++ {
		if c.IsAfterAtomic() {
			f.State.Probs[c] = 1
		}
	}

	f.State.Probs[sched.CatFuncExit] = 1
	f.State.Probs[sched.CatBeforeRead] = 1
	f.State.Probs[sched.CatBeforeWrite] = 1

	return f
}

// Set changes the drop probability of a category.
func (f *Filtering) Set(c sched.Category, p float64) {
	f.State.Probs[c] = p
}

// LoadFile reads probabilities from a file of CATEGORY=p lines.
func (f *Filtering) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("filtering: %w", err)
	}
	defer file.Close()

	return f.Load(file)
}

// Load reads probabilities from lines of the form CATEGORY=p. Empty lines
// and lines starting with # are ignored.
func (f *Filtering) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		name, value, ok := strings.Cut(text, "=")
		if !ok {
			return fmt.Errorf("filtering: line %d: missing '='", line)
		}

		cat, err := sched.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("filtering: line %d: %w", line, err)
		}

		p, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || p < 0 || p > 1 {
			return fmt.Errorf("filtering: line %d: invalid probability %q",
				line, value)
		}

		f.State.Probs[cat] = p
	}

	return scanner.Err()
}

func keepsCapture(c sched.Category) bool {
	return c.IsBlock() || c == sched.CatTaskInit || c == sched.CatTaskFini
}

// Handle implements sequencer.Handler.
func (f *Filtering) Handle(ctx *sched.Context, e *sched.Event) {
	if !f.State.Enabled {
		return
	}

	if !ctx.Cat.Valid() || keepsCapture(ctx.Cat) {
		return
	}

	if e.Skip || e.Next != sched.NoTask || e.Reason.IsTerminate() {
		return
	}

	p := f.State.Probs[ctx.Cat]
	if p <= 0 {
		return
	}

	if p < 1 && f.prng.Real() > p {
		return
	}

	e.Next = ctx.ID
	e.MarkReadonly()
	e.Skip = true
}
