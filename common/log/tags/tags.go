// Package tags holds the identifiers attached to every log line about a job.
package tags

import (
	log "github.com/sirupsen/logrus"
)

type LogTags struct {
	JobType string
	JobID   string
	RunID   string
}

func (t LogTags) Fields() log.Fields {
	f := log.Fields{}
	if t.JobType != "" {
		f["jobType"] = t.JobType
	}
	if t.JobID != "" {
		f["jobID"] = t.JobID
	}
	if t.RunID != "" {
		f["runID"] = t.RunID
	}
	return f
}

// Entry returns a logrus entry carrying these tags.
func (t LogTags) Entry() *log.Entry {
	return log.WithFields(t.Fields())
}
