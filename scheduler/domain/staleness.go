package domain

import (
	"time"

	"github.com/primerid/hpcqueue/jobstore"
)

// Action is what the scheduler does with a job summary this tick.
type Action int

const (
	// ActionNone leaves the job alone.
	ActionNone Action = iota
	// ActionSubmit plans resources and submits the worker to the cluster.
	ActionSubmit
	// ActionStale runs the worker's lightweight cancellation path.
	ActionStale
)

func (a Action) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionStale:
		return "stale"
	}
	return "none"
}

// WholeHoursSince is the number of complete hours from created to now, truncated toward zero.
func WholeHoursSince(created, now time.Time) int64 {
	return int64(now.Sub(created) / time.Hour)
}

// IsStale reports whether a pending job has waited more than limitHours whole hours.
// A pending job whose createdAt cannot be parsed is treated as stale.
func IsStale(pending bool, createdAt string, now time.Time, limitHours int) bool {
	if !pending {
		return false
	}
	created, err := jobstore.ParseCreatedAt(createdAt)
	if err != nil {
		return true
	}
	return WholeHoursSince(created, now) > int64(limitHours)
}

// ShouldDispatch is the scheduler's dispatch predicate.
func ShouldDispatch(submit, stale bool) bool {
	return submit || stale
}

// Classify decides the Action for one summary. Stale wins over submit.
func Classify(s jobstore.JobSummary, now time.Time, limitHours int) Action {
	stale := IsStale(s.Pending, s.CreatedAt, now, limitHours)
	switch {
	case !ShouldDispatch(s.Submit, stale):
		return ActionNone
	case stale:
		return ActionStale
	default:
		return ActionSubmit
	}
}
