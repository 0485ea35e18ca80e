// internal/sched/event.go

package sched

import (
	"time"

	"rtiq/internal/timeq"
)

// EventKind represents the type of scheduler event
type EventKind int

const (
	EventSpawn EventKind = iota
	EventReject
	EventDispatch
	EventFinish
	EventPoll
	EventWake
	EventLock
	EventUnlock
	EventTimer
	EventRelease
	EventCancel
	EventIdle
)

// Event is emitted on every key scheduling action
type Event struct {
	Time     time.Time
	Tick     timeq.Instant
	Kind     EventKind
	Task     string
	Priority Priority
	Slot     int
	Resource string
}

func (k EventKind) String() string {
	switch k {
	case EventSpawn:
		return "Spawn"
	case EventReject:
		return "Reject"
	case EventDispatch:
		return "Dispatch"
	case EventFinish:
		return "Finish"
	case EventPoll:
		return "Poll"
	case EventWake:
		return "Wake"
	case EventLock:
		return "Lock"
	case EventUnlock:
		return "Unlock"
	case EventTimer:
		return "Timer"
	case EventRelease:
		return "Release"
	case EventCancel:
		return "Cancel"
	case EventIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}
