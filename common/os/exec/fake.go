package exec

import (
	"context"
	"io"
	"os"
	"sync"
)

// FakeRunner is a Runner that records every Command and never spawns a process.
// Handler, when set, decides the result; otherwise every command succeeds with no output.
type FakeRunner struct {
	Handler func(ctx context.Context, c Command) RunResult

	mu       sync.Mutex
	commands []Command
}

var _ Runner = &FakeRunner{}

// NewFakeRunner returns a FakeRunner using handler to produce results.
func NewFakeRunner(handler func(ctx context.Context, c Command) RunResult) *FakeRunner {
	return &FakeRunner{Handler: handler}
}

func (f *FakeRunner) Run(ctx context.Context, c Command, streamLog io.Writer) RunResult {
	f.mu.Lock()
	f.commands = append(f.commands, c)
	f.mu.Unlock()

	if f.Handler == nil {
		return RunResult{}
	}
	rr := f.Handler(ctx, c)
	if streamLog != nil {
		streamLog.Write(rr.Stdout)
		streamLog.Write(rr.Stderr)
	}
	return rr
}

// Commands returns a copy of the recorded commands in call order.
func (f *FakeRunner) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

// ValidatingExecer is an OsExec whose commands run a validation hook
// instead of a process. Used to assert on the exact argv handed to os/exec.
type ValidatingExecer struct {
	Validate func(name string, args []string) error
}

func (v *ValidatingExecer) Command(name string, args ...string) Cmd {
	return &fakeCmd{name: name, args: args, run: func() error { return v.Validate(name, args) }}
}

type fakeCmd struct {
	name   string
	args   []string
	dir    string
	stdout io.Writer
	stderr io.Writer
	run    func() error
	err    error
	done   chan struct{}
}

func (c *fakeCmd) Path() string                   { return c.name }
func (c *fakeCmd) Args() []string                 { return append([]string{c.name}, c.args...) }
func (c *fakeCmd) SetStdout(w io.Writer)          { c.stdout = w }
func (c *fakeCmd) SetStderr(w io.Writer)          { c.stderr = w }
func (c *fakeCmd) SetDir(dir string)              { c.dir = dir }
func (c *fakeCmd) GetDir() string                 { return c.dir }
func (c *fakeCmd) SetEnv([]string)                {}
func (c *fakeCmd) String() string                 { return c.name }
func (c *fakeCmd) Process() *os.Process           { return nil }
func (c *fakeCmd) ProcessState() *os.ProcessState { return nil }

func (c *fakeCmd) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Wait()
}

func (c *fakeCmd) Start() error {
	c.done = make(chan struct{})
	go func() {
		c.err = c.run()
		close(c.done)
	}()
	return nil
}

func (c *fakeCmd) Wait() error {
	<-c.done
	return c.err
}
