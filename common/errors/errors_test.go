package errors

import (
	"io"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewErrorNil(t *testing.T) {
	assert.Nil(t, NewError(nil, LockFailureExitCode))
	var e *ExitCodeError
	assert.Equal(t, ExitCode(0), e.GetExitCode())
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, ExitCode(0), ExitCodeOf(nil))
	assert.Equal(t, GenericFailureExitCode, ExitCodeOf(io.EOF))

	err := pkgerrors.Wrap(NewError(io.EOF, LockFailureExitCode), "deleting lock")
	assert.Equal(t, ExitCode(LockFailureExitCode), ExitCodeOf(err))
	assert.Equal(t, io.EOF, pkgerrors.Cause(err))
}

func TestClassification(t *testing.T) {
	a := assert.New(t)

	err := NewTransientUpstreamError(io.ErrUnexpectedEOF, "listing %s", "ogv")
	a.True(IsTransient(err))
	a.False(IsSchedulerFatal(err))
	a.Equal("listing ogv: unexpected EOF", err.Error())
	a.Equal(io.ErrUnexpectedEOF, pkgerrors.Cause(err))

	wrapped := pkgerrors.Wrap(NewSchedulerFatalError(nil, "lock %s unwritable", "/x"), "tick")
	a.Equal(SchedulerFatal, KindOf(wrapped))
	a.Equal("tick: lock /x unwritable", wrapped.Error())

	a.Equal(KindUnknown, KindOf(io.EOF))
	a.Equal("JobFatalError", KindOf(NewJobFatalError(io.EOF, "")).String())
	a.Equal(ToolExecution, KindOf(NewToolExecutionError(io.EOF, "unit %d", 3)))
	a.Equal(JobData, KindOf(NewJobDataError(io.EOF, "detail")))
}
