// Package exec provides extended functionality interfaces to os/exec as well as exec utilities
package exec

import (
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"syscall"

	"github.com/kballard/go-shellquote"
)

// Command is a structured process invocation. Argv[0] is the program; nothing
// is ever handed to a shell unless Argv itself names one.
type Command struct {
	Argv []string
	Dir  string
	Env  []string
}

// NewCommand builds a Command from a program and its arguments.
func NewCommand(program string, args ...string) Command {
	return Command{Argv: append([]string{program}, args...)}
}

// InDir returns a copy of c that runs in dir.
func (c Command) InDir(dir string) Command {
	c.Dir = dir
	return c
}

// String renders the argv as it would be typed at a shell prompt.
func (c Command) String() string {
	return shellquote.Join(c.Argv...)
}

type (
	// OsExec provides an interface around os/exec.Command to support injecting fake
	// exec functionality
	OsExec interface {
		// Command creates a Cmd interface with the path to the command to run
		// 'cmd' and the command arguments set.
		Command(cmd string, args ...string) Cmd
	}

	defaultOsExec struct{}

	// Cmd wraps the os/exec.Cmd struct with our own interface
	Cmd interface {
		// Path returns the path to the executable to run
		Path() string

		// Args returns a copy of the arguments given to the executable.
		Args() []string

		// Run starts the specified command and waits for it to complete.
		Run() error

		// Start starts the specified command but does not wait for it to complete.
		Start() error

		// Wait waits for the command to exit. It must have been started by Start.
		Wait() error

		SetStdout(io.Writer)
		SetStderr(io.Writer)
		SetDir(string)
		GetDir() string

		// SetEnv appends to the inherited environment of the current process.
		SetEnv(env []string)

		// String returns a human-readable description of c. It is intended only for debugging.
		String() string

		// Process returns the underlying os.Process object once the command has
		// been started, and nil if it has not been started
		Process() *os.Process

		// ProcessState returns the underlying ProcessState once the process has
		// exited and nil if it has not
		ProcessState() *os.ProcessState
	}

	// ExitError provides our own interface around process termination to allow for
	// mocking in tests.
	ExitError interface {
		ExitStatus() int
		Signaled() bool
		Error() string
		Args() []string
	}

	cmdAdapter struct {
		cmd *osexec.Cmd
	}

	exitErrorAdapter struct {
		err  *osexec.ExitError
		ws   syscall.WaitStatus
		args []string
	}
)

// implements assertions
var (
	_ ExitError = &exitErrorAdapter{}
	_ Cmd       = &cmdAdapter{}
)

// NewOsExec creates a default OsExec instance
func NewOsExec() OsExec {
	return &defaultOsExec{}
}

func (d *defaultOsExec) Command(cmd string, args ...string) Cmd {
	return &cmdAdapter{cmd: osexec.Command(cmd, args...)}
}

func wrapExitError(cmd Cmd, err error) error {
	if err == nil {
		return nil
	}

	if ex, ok := err.(*osexec.ExitError); ok {
		if ws, ok := ex.Sys().(syscall.WaitStatus); ok {
			return &exitErrorAdapter{
				err:  ex,
				ws:   ws,
				args: cmd.Args(),
			}
		}
	}
	return err
}

func (e *exitErrorAdapter) ExitStatus() int { return e.ws.ExitStatus() }
func (e *exitErrorAdapter) Signaled() bool  { return e.ws.Signaled() }
func (e *exitErrorAdapter) Args() []string  { return e.args }
func (e *exitErrorAdapter) Error() string {
	return fmt.Sprintf("%s: %v", shellquote.Join(e.args...), e.err)
}

func (c *cmdAdapter) Run() error   { return wrapExitError(c, c.cmd.Run()) }
func (c *cmdAdapter) Start() error { return c.cmd.Start() }
func (c *cmdAdapter) Wait() error  { return wrapExitError(c, c.cmd.Wait()) }

func (c *cmdAdapter) Path() string                   { return c.cmd.Path }
func (c *cmdAdapter) SetStdout(w io.Writer)          { c.cmd.Stdout = w }
func (c *cmdAdapter) SetStderr(w io.Writer)          { c.cmd.Stderr = w }
func (c *cmdAdapter) String() string                 { return c.cmd.String() }
func (c *cmdAdapter) Process() *os.Process           { return c.cmd.Process }
func (c *cmdAdapter) ProcessState() *os.ProcessState { return c.cmd.ProcessState }
func (c *cmdAdapter) GetDir() string                 { return c.cmd.Dir }
func (c *cmdAdapter) SetDir(dir string)              { c.cmd.Dir = dir }

func (c *cmdAdapter) SetEnv(env []string) {
	if len(env) == 0 {
		return
	}
	c.cmd.Env = append(os.Environ(), env...)
}

func (c *cmdAdapter) Args() []string {
	// return a copy of the Args slice to prevent direct modification by the user
	return append([]string(nil), c.cmd.Args...)
}
