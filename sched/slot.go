package sched

import "fmt"

// Slot is the position of a handler in the handler chain. Handlers run in
// ascending slot order on every capture.
type Slot int

// The slots of the handler chain.
const (
	SlotCreation Slot = iota
	SlotBlocking
	SlotJoin
	SlotMutex
	SlotEvec
	SlotPoll
	SlotTimeout
	SlotImpasse
	SlotUserFilter
	SlotRegionPreemption
	SlotRegionFilter
	SlotFiltering
	SlotAvailable
	SlotWatchdog
	SlotIchpt
	SlotRace
	SlotAtomic
	SlotYield
	SlotAddress
	SlotDrop
	SlotTermination
	SlotCAS
	SlotConstraintSatisfaction
	SlotRustyEngine
	SlotReconstruct
	SlotPriority
	SlotQEMU
	SlotCaptureGroup
	SlotTaskVelocity
	SlotPOS
	SlotPCT
	SlotDeadlock
	SlotEnforcement
	SlotPRNG
	SlotConfig
	SlotContract
	SlotSequencer
	SlotRecorder
	SlotInactivityTimeout
	SlotCatmgr
	SlotAnystall
	NumSlots
)

var slotNames = [...]string{
	"CREATION", "BLOCKING", "JOIN", "MUTEX", "EVEC", "POLL", "TIMEOUT",
	"IMPASSE", "USER_FILTER", "REGION_PREEMPTION", "REGION_FILTER",
	"FILTERING", "AVAILABLE", "WATCHDOG", "ICHPT", "RACE", "ATOMIC", "YIELD",
	"ADDRESS", "DROP", "TERMINATION", "CAS", "CONSTRAINT_SATISFACTION",
	"RUSTY_ENGINE", "RECONSTRUCT", "PRIORITY", "QEMU", "CAPTURE_GROUP",
	"TASK_VELOCITY", "POS", "PCT", "DEADLOCK", "ENFORCEMENT", "PRNG",
	"CONFIG", "CONTRACT", "SEQUENCER", "RECORDER", "INACTIVITY_TIMEOUT",
	"CATMGR", "ANYSTALL",
}

func (s Slot) String() string {
	if s < 0 || s >= NumSlots {
		return fmt.Sprintf("SLOT_%d", int(s))
	}

	return slotNames[s]
}
