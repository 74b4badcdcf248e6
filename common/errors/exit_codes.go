package errors

type ExitCode int

const (
	// Also the worker's exit code for any unrecoverable startup error.
	GenericFailureExitCode ExitCode = 1

	// Scheduler exit codes
	LockFailureExitCode   = 10
	ConfigFailureExitCode = 11
)
