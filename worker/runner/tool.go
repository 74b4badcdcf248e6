// Package runner fans the work units of one job out over a bounded number of
// concurrent tool invocations and gathers their artifacts into a results directory.
// A unit that fails is recorded and never stops its siblings.
package runner

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/primerid/hpcqueue/common/errors"
	"github.com/primerid/hpcqueue/common/os/exec"
)

// ToolRunner runs one external tool invocation to completion, streaming its
// combined output to output.
type ToolRunner interface {
	Run(ctx context.Context, cmd exec.Command, output io.Writer) error
}

type toolRunner struct {
	runner  exec.Runner
	timeout time.Duration
}

// NewToolRunner runs tools through runner. A non-zero timeout bounds each invocation.
func NewToolRunner(runner exec.Runner, timeout time.Duration) ToolRunner {
	return &toolRunner{runner: runner, timeout: timeout}
}

func (t *toolRunner) Run(ctx context.Context, cmd exec.Command, output io.Writer) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	rr := t.runner.Run(ctx, cmd, output)
	if rr.Error != nil {
		return errors.NewToolExecutionError(rr.Error, "%s\n%s", cmd, tail(rr.Stderr, 20))
	}
	return nil
}

// tail keeps the last n lines of b.
func tail(b []byte, n int) []byte {
	b = bytes.TrimRight(b, "\n")
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == '\n' {
			n--
			if n == 0 {
				return b[i+1:]
			}
		}
	}
	return b
}
