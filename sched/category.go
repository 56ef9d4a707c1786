package sched

import (
	"fmt"
	"strings"
)

// Category classifies the operation a task is about to perform when it calls
// into the engine.
type Category uint32

// The categories known to the engine.
const (
	CatNone Category = iota
	CatBeforeWrite
	CatBeforeRead
	CatBeforeAWrite
	CatBeforeARead
	CatBeforeXchg
	CatBeforeRMW
	CatBeforeCmpxchg
	CatBeforeFence
	CatAfterAWrite
	CatAfterARead
	CatAfterXchg
	CatAfterRMW
	CatAfterCmpxchgS
	CatAfterCmpxchgF
	CatAfterFence
	CatCall
	CatTaskBlock
	CatTaskCreate
	CatTaskInit
	CatTaskFini
	CatMutexAcquire
	CatMutexTryAcquire
	CatMutexRelease
	CatRsrcAcquiring
	CatRsrcReleased
	CatSysYield
	CatUserYield
	CatRegionPreemption
	CatFuncEntry
	CatFuncExit
	CatLogBefore
	CatLogAfter
	CatRegionIn
	CatRegionOut
	CatEvecPrepare
	CatEvecWait
	CatEvecTimedWait
	CatEvecCancel
	CatEvecWake
	CatEvecMove
	CatEnforce
	CatPoll
	CatTaskVelocity
	CatKeyCreate
	CatKeyDelete
	CatSetSpecific
	CatJoin
	CatDetach
	CatExit
	catEnd
)

var categoryNames = [...]string{
	"NONE",
	"BEFORE_WRITE",
	"BEFORE_READ",
	"BEFORE_AWRITE",
	"BEFORE_AREAD",
	"BEFORE_XCHG",
	"BEFORE_RMW",
	"BEFORE_CMPXCHG",
	"BEFORE_FENCE",
	"AFTER_AWRITE",
	"AFTER_AREAD",
	"AFTER_XCHG",
	"AFTER_RMW",
	"AFTER_CMPXCHG_S",
	"AFTER_CMPXCHG_F",
	"AFTER_FENCE",
	"CALL",
	"TASK_BLOCK",
	"TASK_CREATE",
	"TASK_INIT",
	"TASK_FINI",
	"MUTEX_ACQUIRE",
	"MUTEX_TRYACQUIRE",
	"MUTEX_RELEASE",
	"RSRC_ACQUIRING",
	"RSRC_RELEASED",
	"SYS_YIELD",
	"USER_YIELD",
	"REGION_PREEMPTION",
	"FUNC_ENTRY",
	"FUNC_EXIT",
	"LOG_BEFORE",
	"LOG_AFTER",
	"REGION_IN",
	"REGION_OUT",
	"EVEC_PREPARE",
	"EVEC_WAIT",
	"EVEC_TIMED_WAIT",
	"EVEC_CANCEL",
	"EVEC_WAKE",
	"EVEC_MOVE",
	"ENFORCE",
	"POLL",
	"TASK_VELOCITY",
	"KEY_CREATE",
	"KEY_DELETE",
	"SET_SPECIFIC",
	"JOIN",
	"DETACH",
	"EXIT",
}

// NumCategories is the number of valid categories.
const NumCategories = int(catEnd)

func (c Category) String() string {
	if c >= catEnd {
		return fmt.Sprintf("CAT_%d", uint32(c))
	}

	return categoryNames[c]
}

// Valid checks if the category is a known one.
func (c Category) Valid() bool {
	return c < catEnd
}

// ParseCategory converts a name such as "BEFORE_READ" or "CAT_BEFORE_READ"
// into a category.
func ParseCategory(name string) (Category, error) {
	name = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "CAT_")
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}

	return CatNone, fmt.Errorf("unknown category %q", name)
}

// IsBlock reports categories whose capture hands the turn away while the task
// performs an operation outside the schedule.
func (c Category) IsBlock() bool {
	return c == CatCall || c == CatTaskBlock || c == CatTaskCreate
}

// IsSlack reports categories that may keep running for the slack duration.
func (c Category) IsSlack() bool {
	return c == CatCall || c == CatTaskBlock
}

// IsWait reports categories that may leave the task waiting on a condition
// and thus may use any-task filters.
func (c Category) IsWait() bool {
	switch c {
	case CatEvecWait, CatEvecTimedWait, CatMutexAcquire, CatPoll, CatJoin:
		return true
	default:
		return false
	}
}

// IsBeforeAtomic reports the categories announcing an atomic operation.
func (c Category) IsBeforeAtomic() bool {
	return c >= CatBeforeAWrite && c <= CatBeforeFence
}

// IsAfterAtomic reports the categories that follow an atomic operation.
func (c Category) IsAfterAtomic() bool {
	return c >= CatAfterAWrite && c <= CatAfterFence
}

// IsAtomic reports both sides of atomic operations.
func (c Category) IsAtomic() bool {
	return c.IsBeforeAtomic() || c.IsAfterAtomic()
}

// IsMemoryAccess reports plain or atomic memory accesses.
func (c Category) IsMemoryAccess() bool {
	return c == CatBeforeRead || c == CatBeforeWrite || c.IsAtomic()
}

// IsWrite reports accesses that modify memory.
func (c Category) IsWrite() bool {
	switch c {
	case CatBeforeWrite, CatBeforeAWrite, CatBeforeXchg, CatBeforeRMW,
		CatBeforeCmpxchg:
		return true
	default:
		return false
	}
}

// CanRace reports accesses that can take part in a data race.
func (c Category) CanRace() bool {
	return c == CatBeforeRead || c == CatBeforeWrite || c.IsBeforeAtomic()
}
