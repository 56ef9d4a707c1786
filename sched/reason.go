package sched

import (
	"fmt"
	"strings"
)

// Reason explains why a decision was forced or why execution ends.
type Reason uint32

// The reasons known to the engine.
const (
	ReasonUnknown Reason = iota
	ReasonDeterministic
	ReasonNondeterministic
	ReasonCall
	ReasonWatchdog
	ReasonSysYield
	ReasonUserYield
	ReasonUserOrder
	ReasonAssertFail
	ReasonRsrcDeadlock
	ReasonSegfault
	ReasonSigint
	ReasonSigabrt
	ReasonSigterm
	ReasonSigkill
	ReasonSuccess
	ReasonIgnore
	ReasonAbort
	ReasonShutdown
	ReasonRuntimeSegfault
	ReasonRuntimeSigint
	ReasonRuntimeSigabrt
	ReasonRuntimeSigterm
	ReasonRuntimeSigkill
	ReasonImpasse
	reasonEnd
)

var reasonNames = [...]string{
	"UNKNOWN",
	"DETERMINISTIC",
	"NONDETERMINISTIC",
	"CALL",
	"WATCHDOG",
	"SYS_YIELD",
	"USER_YIELD",
	"USER_ORDER",
	"ASSERT_FAIL",
	"RSRC_DEADLOCK",
	"SEGFAULT",
	"SIGINT",
	"SIGABRT",
	"SIGTERM",
	"SIGKILL",
	"SUCCESS",
	"IGNORE",
	"ABORT",
	"SHUTDOWN",
	"RUNTIME_SEGFAULT",
	"RUNTIME_SIGINT",
	"RUNTIME_SIGABRT",
	"RUNTIME_SIGTERM",
	"RUNTIME_SIGKILL",
	"IMPASSE",
}

func (r Reason) String() string {
	if r >= reasonEnd {
		return fmt.Sprintf("REASON_%d", uint32(r))
	}

	return reasonNames[r]
}

// ParseReason converts a name such as "SUCCESS" or "REASON_SUCCESS" into a
// reason.
func ParseReason(name string) (Reason, error) {
	name = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "REASON_")
	for i, n := range reasonNames {
		if n == name {
			return Reason(i), nil
		}
	}

	return ReasonUnknown, fmt.Errorf("unknown reason %q", name)
}

// IsRuntime reports failures of the engine itself rather than the program.
func (r Reason) IsRuntime() bool {
	return r >= ReasonRuntimeSegfault && r <= ReasonRuntimeSigkill
}

// IsShutdown reports reasons that end the run successfully.
func (r Reason) IsShutdown() bool {
	return r == ReasonShutdown || r == ReasonSuccess || r == ReasonIgnore
}

// IsAbort reports reasons that end the run with a failure.
func (r Reason) IsAbort() bool {
	switch r {
	case ReasonAssertFail, ReasonRsrcDeadlock, ReasonSegfault, ReasonSigint,
		ReasonSigabrt, ReasonSigterm, ReasonSigkill, ReasonAbort,
		ReasonImpasse:
		return true
	default:
		return r.IsRuntime()
	}
}

// IsTerminate reports reasons that end the run.
func (r Reason) IsTerminate() bool {
	return r.IsShutdown() || r.IsAbort()
}

// IsRecordFinal reports reasons after which the final state is recorded.
func (r Reason) IsRecordFinal() bool {
	return r == ReasonSuccess || r == ReasonAssertFail ||
		r == ReasonShutdown || r == ReasonAbort
}
