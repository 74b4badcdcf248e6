// Package domain holds the pure scheduling rules: which job types exist, when a job
// is stale, whether it should be dispatched, how many resources it gets, and which
// lifecycle transitions are legal.
package domain

import (
	"fmt"
	"strings"
)

// JobType names a pipeline. Its string form is used in job store URLs, CLI subcommands,
// config keys and on-disk paths.
type JobType string

const (
	OGV        JobType = "ogv"
	Intactness JobType = "intactness"
	TCSDR      JobType = "tcsdr"
	Coreceptor JobType = "coreceptor"
	Splicing   JobType = "splicing"
)

// JobTypes lists every job type in the order the scheduler visits them.
var JobTypes = []JobType{OGV, Intactness, TCSDR, Coreceptor, Splicing}

func ParseJobType(s string) (JobType, error) {
	for _, t := range JobTypes {
		if string(t) == strings.ToLower(s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Title is the human-readable name used in email subjects.
func (t JobType) Title() string {
	switch t {
	case OGV:
		return "OGV"
	case Intactness:
		return "Intactness"
	case TCSDR:
		return "TCS/DR"
	case Coreceptor:
		return "Coreceptor"
	case Splicing:
		return "Splicing"
	}
	return string(t)
}

func (t JobType) String() string { return string(t) }
