package jobstore

import (
	"fmt"
	"time"
)

// CreatedAtLayout is the timestamp format the job store emits for createdAt.
const CreatedAtLayout = "2006-01-02T15:04:05.999999999Z"

// JobSummary is the per-tick view of one job. It only decides what the scheduler does
// with the job this tick and is never cached across ticks.
type JobSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	Submit    bool   `json:"submit"`
	Pending   bool   `json:"pending"`
	// ItemCount is the number of uploaded items, when the job type tracks it.
	ItemCount *int `json:"uploadCount,omitempty"`
}

// Count returns the item count, or 0 when the job store did not report one.
func (s JobSummary) Count() int {
	if s.ItemCount == nil {
		return 0
	}
	return *s.ItemCount
}

// Created parses CreatedAt.
func (s JobSummary) Created() (time.Time, error) {
	return ParseCreatedAt(s.CreatedAt)
}

func (s JobSummary) String() string {
	return fmt.Sprintf("JobSummary: ID: %s, CreatedAt: %s, Submit: %t, Pending: %t, ItemCount: %d",
		s.ID, s.CreatedAt, s.Submit, s.Pending, s.Count())
}

// ParseCreatedAt accepts the job store's UTC layout as well as any RFC3339 timestamp.
func ParseCreatedAt(v string) (time.Time, error) {
	if t, err := time.Parse(CreatedAtLayout, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// Patch is a partial status update. Only the listed fields change.
type Patch map[string]interface{}

// PendingPatch marks a job as handed to the cluster.
func PendingPatch() Patch {
	return Patch{"pending": true, "submit": false}
}

// CompletedPatch marks a job as finished successfully.
func CompletedPatch() Patch {
	return Patch{"pending": false, "submit": false}
}

// FailedPatch marks a job as finished with a processing error.
func FailedPatch() Patch {
	return Patch{"pending": false, "processingError": true}
}
