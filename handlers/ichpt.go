package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/lotto/sched"
)

// IchptState counts the captures turned into change points.
type IchptState struct {
	Hits uint64
}

// Ichpt turns the captures at selected program locations into change
// points. A location is either a program counter or a function name.
type Ichpt struct {
	State IchptState

	pcs   map[uintptr]bool
	funcs map[string]bool
}

// NewIchpt creates the handler with no locations.
func NewIchpt() *Ichpt {
	return &Ichpt{pcs: map[uintptr]bool{}, funcs: map[string]bool{}}
}

// Add registers locations. Entries starting with 0x are program counters,
// anything else is a function name.
func (i *Ichpt) Add(locations ...string) error {
	for _, loc := range locations {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}

		if !strings.HasPrefix(loc, "0x") {
			i.funcs[loc] = true
			continue
		}

		pc, err := strconv.ParseUint(loc[2:], 16, 64)
		if err != nil {
			return fmt.Errorf("ichpt: invalid address %q: %w", loc, err)
		}

		i.pcs[uintptr(pc)] = true
	}

	return nil
}

func (i *Ichpt) addPC(pc uintptr) {
	if pc != 0 {
		i.pcs[pc] = true
	}
}

// Reset drops every location.
func (i *Ichpt) Reset() {
	clear(i.pcs)
	clear(i.funcs)
}

// Len returns the number of locations.
func (i *Ichpt) Len() int {
	return len(i.pcs) + len(i.funcs)
}

// Handle implements sequencer.Handler.
func (i *Ichpt) Handle(ctx *sched.Context, e *sched.Event) {
	if e.Skip || !(i.pcs[ctx.PC] || i.funcs[ctx.Func]) {
		return
	}

	i.State.Hits++
	e.IsChpt = true
}
