package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a failure by how far its effects must propagate.
type Kind int

const (
	KindUnknown Kind = iota
	// TransientUpstream failures skip the affected job type or job for this tick only.
	TransientUpstream
	// JobData failures mean a job's detail is missing or malformed; fatal to the worker.
	JobData
	// ToolExecution failures are isolated to a single work unit.
	ToolExecution
	// JobFatal failures end the job through the error reporting path.
	JobFatal
	// SchedulerFatal failures abort the tick and exit non-zero.
	SchedulerFatal
)

func (k Kind) String() string {
	switch k {
	case TransientUpstream:
		return "TransientUpstreamError"
	case JobData:
		return "JobDataError"
	case ToolExecution:
		return "ToolExecutionError"
	case JobFatal:
		return "JobFatalError"
	case SchedulerFatal:
		return "SchedulerFatalError"
	}
	return "UnknownError"
}

// ClassifiedError carries a Kind alongside a wrapped error.
type ClassifiedError struct {
	kind Kind
	err  error
}

func (e *ClassifiedError) Error() string { return e.err.Error() }
func (e *ClassifiedError) Cause() error  { return pkgerrors.Cause(e.err) }
func (e *ClassifiedError) Unwrap() error { return e.err }
func (e *ClassifiedError) Kind() Kind    { return e.kind }

func classify(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		err = pkgerrors.New(fmt.Sprintf(format, args...))
	} else if format != "" {
		err = pkgerrors.Wrapf(err, format, args...)
	}
	return &ClassifiedError{kind: kind, err: err}
}

// NewTransientUpstreamError wraps err as a retry-next-tick failure. err may be nil.
func NewTransientUpstreamError(err error, format string, args ...interface{}) error {
	return classify(TransientUpstream, err, format, args...)
}

func NewJobDataError(err error, format string, args ...interface{}) error {
	return classify(JobData, err, format, args...)
}

func NewToolExecutionError(err error, format string, args ...interface{}) error {
	return classify(ToolExecution, err, format, args...)
}

func NewJobFatalError(err error, format string, args ...interface{}) error {
	return classify(JobFatal, err, format, args...)
}

func NewSchedulerFatalError(err error, format string, args ...interface{}) error {
	return classify(SchedulerFatal, err, format, args...)
}

// KindOf returns the outermost classification found in err's chain.
func KindOf(err error) Kind {
	var ce *ClassifiedError
	if As(err, &ce) {
		return ce.Kind()
	}
	return KindUnknown
}

func IsTransient(err error) bool      { return KindOf(err) == TransientUpstream }
func IsSchedulerFatal(err error) bool { return KindOf(err) == SchedulerFatal }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }
