package errors

// ExitCodeError pairs an error with the process exit code it should produce.
type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

// Cause lets github.com/pkg/errors unwrap through an ExitCodeError.
func (e *ExitCodeError) Cause() error { return e.error }

func (e *ExitCodeError) Unwrap() error { return e.error }

// ExitCodeOf returns the exit code carried anywhere in err's chain,
// GenericFailureExitCode for other non-nil errors and 0 for nil.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return 0
	}
	var ece *ExitCodeError
	if As(err, &ece) {
		return ece.GetExitCode()
	}
	return GenericFailureExitCode
}
