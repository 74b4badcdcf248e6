package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	a := assert.New(t)

	s, err := Transition(Submitted, Dispatched)
	a.NoError(err)
	a.True(s.Pending())

	for _, terminal := range []State{Completed, Failed, Stale} {
		s, err := Transition(Dispatched, terminal)
		a.NoError(err)
		a.True(s.Terminal())
		a.False(s.Pending())
	}

	_, err = Transition(Submitted, Stale)
	a.Error(err)
	_, err = Transition(Completed, Dispatched)
	a.Error(err)
	_, err = Transition(Stale, Failed)
	a.Error(err)
	s, err = Transition(Failed, Completed)
	a.Error(err)
	a.Equal(Failed, s)
}

func TestParseJobType(t *testing.T) {
	jt, err := ParseJobType("TCSDR")
	assert.NoError(t, err)
	assert.Equal(t, TCSDR, jt)
	assert.Equal(t, "TCS/DR", jt.Title())

	_, err = ParseJobType("g2p")
	assert.Error(t, err)

	assert.Equal(t, []JobType{OGV, Intactness, TCSDR, Coreceptor, Splicing}, JobTypes)
}
