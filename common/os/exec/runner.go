package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	CmdSeparator = "--------------------------------------------------------------"

	// DefaultKillTimeout is how long a process gets between SIGTERM and SIGKILL.
	DefaultKillTimeout = 10 * time.Second
)

var (
	TimeoutError  = errors.New("command timeout")
	CanceledError = errors.New("command canceled")
)

// RunResult encapsulates a return from RunCommand. It is largely a summary of fields
// available from os/exec.Cmd structs, plus the full contents of stdout and stderr for analysis.
type RunResult struct {
	// ProcessState contains information about an exited process.
	// A command that fails to start or run may have a nil ProcessState.
	ProcessState *os.ProcessState

	// Stdout and Stderr contain the contents of a completed process's outputs.
	Stdout []byte
	Stderr []byte

	// Error contains any error from exec.Cmd Start() or Wait().
	Error error
}

// ExitCode is -1 when the process never ran to completion.
func (rr RunResult) ExitCode() int {
	if rr.ProcessState == nil {
		if ee, ok := rr.Error.(ExitError); ok {
			return ee.ExitStatus()
		}
		if rr.Error == nil {
			return 0
		}
		return -1
	}
	return rr.ProcessState.ExitCode()
}

func (rr RunResult) String() string {
	return fmt.Sprintf("Error:%s, Stdout:%s, Stderr:%s", rr.Error, rr.Stdout, rr.Stderr)
}

// Runner executes structured Commands. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, c Command, streamLog io.Writer) RunResult
}

type osRunner struct {
	ex          OsExec
	killTimeout time.Duration
}

// NewRunner returns a Runner that executes commands through ex.
func NewRunner(ex OsExec) Runner {
	return &osRunner{ex: ex, killTimeout: DefaultKillTimeout}
}

func (r *osRunner) Run(ctx context.Context, c Command, streamLog io.Writer) RunResult {
	if len(c.Argv) == 0 {
		return RunResult{Error: errors.New("empty command")}
	}
	cmd := r.ex.Command(c.Argv[0], c.Argv[1:]...)
	cmd.SetDir(c.Dir)
	cmd.SetEnv(c.Env)
	return RunCommand(ctx, cmd, r.killTimeout, streamLog)
}

func truncateCmd(cmd Cmd) string {
	args := cmd.Args()
	if len(args) > 0 {
		args[0] = filepath.Base(args[0])
	}
	return strings.Join(args, " ")
}

// RunCommand execs the given Cmd and returns the resulting ProcessState and stdout/stderr contents.
// All output content is returned, but combined content can also be streamed to streamLog as the Cmd
// executes. When ctx is done the process gets SIGTERM, then is killed after killTimeout.
// A ctx deadline yields TimeoutError, any other cancellation yields CanceledError.
func RunCommand(ctx context.Context, cmd Cmd, killTimeout time.Duration, streamLog io.Writer) RunResult {
	rr := RunResult{}
	if streamLog == nil {
		streamLog = io.Discard
	}

	// send stdout/stderr to both streamLog and outBuf/errBuf
	var outBuf, errBuf bytes.Buffer
	syncLog := &syncWriter{w: streamLog}
	cmd.SetStdout(io.MultiWriter(&outBuf, syncLog))
	cmd.SetStderr(io.MultiWriter(&errBuf, syncLog))

	doneCh := make(chan struct{})

	log.Debugf("Running Command: %s", cmd.String())
	syncLog.Write([]byte(fmt.Sprintf("\n%s\nRunning Command: %s\n", CmdSeparator, truncateCmd(cmd))))
	cmdErr := cmd.Start()
	if cmdErr != nil {
		rr.Error = cmdErr
		rr.Stdout = outBuf.Bytes()
		rr.Stderr = errBuf.Bytes()
		return rr
	}

	go func() {
		cmdErr = cmd.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		if ps := cmd.ProcessState(); ps != nil {
			syncLog.Write([]byte(fmt.Sprintf("\nExited - ExitCode: %d\n%s\n", ps.ExitCode(), CmdSeparator)))
		}
	case <-ctx.Done():
		log.Infof("command interrupted (%v), terminating: %s", ctx.Err(), truncateCmd(cmd))
		termThenKill(cmd.Process(), killTimeout, doneCh)
		// must still wait for cmd.Wait()
		<-doneCh
		if ctx.Err() == context.DeadlineExceeded {
			syncLog.Write([]byte(fmt.Sprintf("\nTimeout\n%s\n", CmdSeparator)))
			cmdErr = TimeoutError
		} else {
			syncLog.Write([]byte(fmt.Sprintf("\nTerminated by external request\n%s\n", CmdSeparator)))
			cmdErr = CanceledError
		}
	}

	rr.ProcessState = cmd.ProcessState()
	rr.Stdout = outBuf.Bytes()
	rr.Stderr = errBuf.Bytes()
	rr.Error = cmdErr
	return rr
}

// termThenKill will SIGTERM a process, then Kill it if it hasn't exited after duration d.
// waitDoneCh must be closed by the caller when the process exits (to avoid double Wait()ing)
func termThenKill(p *os.Process, d time.Duration, waitDoneCh <-chan struct{}) error {
	if p == nil {
		return nil
	}
	err := p.Signal(syscall.SIGTERM)
	if err != nil {
		log.Errorf("Failed to send SIGTERM to process: %s", err)
		return err
	}

	select {
	case <-waitDoneCh:
	case <-time.After(d):
		log.Info("Command hasn't exited, using Kill()")
		err = p.Kill()
		if err != nil {
			log.Errorf("Failed to Kill() process: %s", err)
			return err
		}
	}
	return nil
}

// syncWriter is an io.Writer wrapper around another io.Writer that supports safe concurrent Writes.
// RunCommand needs to use this to safely write both stdout and stderr to streamLog.
type syncWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (b *syncWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w.Write(p)
}
