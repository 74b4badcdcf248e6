package domain

import "fmt"

// State is a job's lifecycle position as recorded through the job store flags.
type State int

const (
	// Submitted: submit=true, pending=false. Waiting for the scheduler.
	Submitted State = iota
	// Dispatched: submit=false, pending=true. A worker owns the job.
	Dispatched
	Completed
	Failed
	// Stale: abandoned after waiting past its type's limit while dispatched.
	Stale
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "Submitted"
	case Dispatched:
		return "Dispatched"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Stale:
		return "Stale"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal states all leave pending=false.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Stale
}

// Pending is the value of the job store's pending flag in this state.
func (s State) Pending() bool {
	return s == Dispatched
}

var transitions = map[State][]State{
	Submitted:  {Dispatched},
	Dispatched: {Completed, Failed, Stale},
}

// Transition validates a lifecycle move and returns to on success.
func Transition(from, to State) (State, error) {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("illegal job state transition %s -> %s", from, to)
}
