package sched

import (
	"math/bits"
	"strings"
)

// Action is a step a mediator performs on behalf of its task. A plan holds a
// set of actions that are executed in ascending bit order.
type Action uint32

// The actions.
const (
	ActionNone     Action = 0x000
	ActionWake     Action = 0x001
	ActionCall     Action = 0x002
	ActionBlock    Action = 0x004
	ActionReturn   Action = 0x008
	ActionYield    Action = 0x010
	ActionResume   Action = 0x020
	ActionContinue Action = 0x040
	ActionSnapshot Action = 0x080
	ActionShutdown Action = 0x100
	actionEnd      Action = 0x200
)

var actionNames = map[Action]string{
	ActionWake:     "WAKE",
	ActionCall:     "CALL",
	ActionBlock:    "BLOCK",
	ActionReturn:   "RETURN",
	ActionYield:    "YIELD",
	ActionResume:   "RESUME",
	ActionContinue: "CONTINUE",
	ActionSnapshot: "SNAPSHOT",
	ActionShutdown: "SHUTDOWN",
}

func (a Action) String() string {
	if a == ActionNone {
		return "NONE"
	}

	names := []string{}
	for b := Action(1); b < actionEnd; b <<= 1 {
		if a&b != 0 {
			names = append(names, actionNames[b])
		}
	}

	return strings.Join(names, "|")
}

// ReplayType tells whether a decision was taken from a trace.
type ReplayType uint8

// The replay types.
const (
	ReplayOff ReplayType = iota
	ReplayAnyTask
	ReplayOn
)

// Plan is the outcome of a capture: the actions the mediator has to perform
// and the task to hand the turn to.
type Plan struct {
	Actions        Action
	Next           TaskID
	WithSlack      bool
	Reason         Reason
	ReplayType     ReplayType
	Clk            Clk
	AnyTaskFilters []AnyTaskFilter
}

// NextAction returns the action to be executed next.
func (p Plan) NextAction() Action {
	if p.Actions == ActionNone {
		return ActionNone
	}

	return Action(1) << bits.TrailingZeros32(uint32(p.Actions))
}

// Done marks the next action as executed. It returns true if more actions
// remain.
func (p *Plan) Done() bool {
	p.Actions &^= p.NextAction()
	return p.Actions != ActionNone
}

// Has checks if the plan contains the action.
func (p Plan) Has(a Action) bool {
	return p.Actions&a != 0
}

// Reset drops every pending action.
func (p *Plan) Reset() {
	p.Actions = ActionNone
	p.AnyTaskFilters = nil
	p.Next = NoTask
	p.WithSlack = false
}
