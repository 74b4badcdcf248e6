package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hpcerrors "github.com/primerid/hpcqueue/common/errors"
	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/common/stats"
)

const header = "Sample,Call"

func units(root string, names ...string) []WorkUnit {
	var us []WorkUnit
	for i, n := range names {
		us = append(us, WorkUnit{Index: i, Name: n, Dir: filepath.Join(root, n)})
	}
	return us
}

func toolCommand(u WorkUnit) ([]exec.Command, error) {
	return []exec.Command{exec.NewCommand("tool", "-in", u.Name).InDir(u.Dir)}, nil
}

// writesSummary fakes a tool that leaves summary.csv in its working directory,
// except for units named in skip.
func writesSummary(skip ...string) func(context.Context, exec.Command) exec.RunResult {
	return func(_ context.Context, c exec.Command) exec.RunResult {
		name := c.Argv[2]
		for _, s := range skip {
			if s == name {
				return exec.RunResult{}
			}
		}
		body := fmt.Sprintf("%s\n%s,intact\n", header, name)
		if err := os.WriteFile(filepath.Join(c.Dir, "summary.csv"), []byte(body), 0644); err != nil {
			return exec.RunResult{Error: err}
		}
		return exec.RunResult{}
	}
}

func newPool(t *testing.T, runner exec.Runner) *Pool {
	return &Pool{
		Cores:      2,
		Tool:       NewToolRunner(runner, 0),
		Commands:   toolCommand,
		Artifact:   "summary.csv",
		Rows:       SkipHeader,
		ResultsDir: filepath.Join(t.TempDir(), "results"),
		Stat:       stats.DefaultStatsReceiver(),
	}
}

func TestPartialFailureStillSummarizes(t *testing.T) {
	root := t.TempDir()
	p := newPool(t, exec.NewFakeRunner(writesSummary("s2")))

	outcome := p.Run(context.Background(), units(root, "s1", "s2", "s3"))

	assert.Equal(t, 2, outcome.Count(Succeeded))
	assert.Equal(t, 1, outcome.Count(Failed))
	assert.Equal(t,
		"Sample,Call\ns1,intact\ns3,intact\nNo summary.csv found for s2. No results were generated.\n",
		outcome.Summary(header))
	assert.FileExists(t, filepath.Join(p.ResultsDir, "s1_summary.csv"))
	assert.FileExists(t, filepath.Join(p.ResultsDir, "s3_summary.csv"))
	assert.NoFileExists(t, filepath.Join(p.ResultsDir, "s2_summary.csv"))
	assert.Error(t, outcome.Errors())

	assert.Equal(t, int64(2), p.Stat.Counter(stats.WorkerUnitSuccessCounter).Count())
	assert.Equal(t, int64(1), p.Stat.Counter(stats.WorkerUnitFailureCounter).Count())
}

func TestToolFailureIsIsolated(t *testing.T) {
	root := t.TempDir()
	ok := writesSummary()
	runner := exec.NewFakeRunner(func(ctx context.Context, c exec.Command) exec.RunResult {
		if c.Argv[2] == "bad" {
			return exec.RunResult{Error: errors.New("exit status 2"), Stderr: []byte("segfault\n")}
		}
		return ok(ctx, c)
	})
	p := newPool(t, runner)

	outcome := p.Run(context.Background(), units(root, "bad", "good"))

	require.Len(t, outcome.Results, 2)
	bad := outcome.Results[0]
	assert.Equal(t, Failed, bad.Status)
	assert.True(t, strings.HasPrefix(bad.Message, "Failed to process lib#bad:\n"))
	assert.Contains(t, bad.Message, "segfault")
	assert.Equal(t, Succeeded, outcome.Results[1].Status)
	assert.Equal(t, []string{"good,intact"}, outcome.Results[1].Rows)
	assert.FileExists(t, filepath.Join(root, "bad", UnitLogName))
}

func TestFiltersTakePrecedence(t *testing.T) {
	root := t.TempDir()
	runner := exec.NewFakeRunner(func(_ context.Context, c exec.Command) exec.RunResult {
		switch c.Argv[2] {
		case "empty":
			os.WriteFile(filepath.Join(c.Dir, "no_seqs_found.txt"), nil, 0644)
		case "broken":
			os.WriteFile(filepath.Join(c.Dir, ".error"), []byte("primer mismatch\n"), 0644)
			return exec.RunResult{Error: errors.New("exit status 1")}
		}
		return exec.RunResult{}
	})
	p := newPool(t, runner)
	p.Filters = []Filter{
		{Sentinel: "no_seqs_found.txt", Message: "All sequences were filtered out during Blast. No results will be generated for %s."},
		{Sentinel: ".error", Failure: true},
	}

	outcome := p.Run(context.Background(), units(root, "empty", "broken"))

	assert.Equal(t, Filtered, outcome.Results[0].Status)
	assert.Equal(t, "All sequences were filtered out during Blast. No results will be generated for empty.",
		outcome.Results[0].Message)
	assert.Equal(t, Failed, outcome.Results[1].Status)
	assert.Equal(t, "primer mismatch", outcome.Results[1].Message)
	assert.Equal(t, header+"\n"+outcome.Results[0].Message+"\nprimer mismatch\n", outcome.Summary(header))
}

func TestExtrasAreCopied(t *testing.T) {
	root := t.TempDir()
	runner := exec.NewFakeRunner(func(_ context.Context, c exec.Command) exec.RunResult {
		os.WriteFile(filepath.Join(c.Dir, "output.tsv"), []byte("a\tb\n"), 0644)
		os.WriteFile(filepath.Join(c.Dir, "output.html"), []byte("<html/>"), 0644)
		return exec.RunResult{}
	})
	p := newPool(t, runner)
	p.Artifact = "output.tsv"
	p.Extras = []string{"output.html", "missing.pdf"}
	p.Rows = nil

	outcome := p.Run(context.Background(), units(root, "lib1"))

	assert.Equal(t, Succeeded, outcome.Results[0].Status)
	assert.Equal(t, filepath.Join(p.ResultsDir, "lib1_output.tsv"), outcome.Results[0].Artifact)
	assert.FileExists(t, filepath.Join(p.ResultsDir, "lib1_output.html"))
	assert.Equal(t, "\n", outcome.Summary(""))
}

func TestCommandBuildFailure(t *testing.T) {
	p := newPool(t, exec.NewFakeRunner(nil))
	p.Commands = func(u WorkUnit) ([]exec.Command, error) {
		return nil, errors.New("no r2 file")
	}
	outcome := p.Run(context.Background(), units(t.TempDir(), "lib"))
	assert.Equal(t, "Failed to process lib#lib:\nno r2 file", outcome.Results[0].Message)
}

func TestPanickingUnitFailsAlone(t *testing.T) {
	root := t.TempDir()
	p := newPool(t, exec.NewFakeRunner(writesSummary()))
	p.Commands = func(u WorkUnit) ([]exec.Command, error) {
		if u.Name == "boom" {
			panic("nil primer")
		}
		return toolCommand(u)
	}

	outcome := p.Run(context.Background(), units(root, "s1", "boom", "s3"))

	require.Len(t, outcome.Results, 3)
	assert.Equal(t, Succeeded, outcome.Results[0].Status)
	assert.Equal(t, Failed, outcome.Results[1].Status)
	assert.Equal(t, "Failed to process lib#boom:\npanic: nil primer", outcome.Results[1].Message)
	assert.Equal(t, Succeeded, outcome.Results[2].Status)
	assert.Equal(t, "Sample,Call\ns1,intact\ns3,intact\nFailed to process lib#boom:\npanic: nil primer\n",
		outcome.Summary(header))
	assert.Equal(t, int64(1), p.Stat.Counter(stats.WorkerUnitFailureCounter).Count())
}

func TestConcurrencyIsBounded(t *testing.T) {
	var running, peak int32
	runner := exec.NewFakeRunner(func(_ context.Context, c exec.Command) exec.RunResult {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return exec.RunResult{}
	})
	p := newPool(t, runner)
	p.Cores = 3

	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("u%d", i)
	}
	outcome := p.Run(context.Background(), units(t.TempDir(), names...))

	assert.Len(t, outcome.Results, 10)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Len(t, runner.Commands(), 10)
}

func TestToolRunnerTimeout(t *testing.T) {
	runner := exec.NewFakeRunner(func(ctx context.Context, c exec.Command) exec.RunResult {
		<-ctx.Done()
		return exec.RunResult{Error: exec.TimeoutError}
	})
	err := NewToolRunner(runner, 10*time.Millisecond).Run(context.Background(), exec.NewCommand("sleep", "60"), nil)
	require.Error(t, err)
	assert.Equal(t, hpcerrors.ToolExecution, hpcerrors.KindOf(err))
}

func TestErrorCollectorOrdersByIndex(t *testing.T) {
	c := NewErrorCollector()
	c.Add(5, "five", nil)
	c.Add(1, "one", errors.New("cause"))
	assert.Equal(t, []string{"one", "five"}, c.Lines())
	assert.Equal(t, 2, c.Len())
	assert.Contains(t, c.Err().Error(), "cause")
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", string(tail([]byte("a\nb\nc\nd\n"), 2)))
	assert.Equal(t, "only", string(tail([]byte("only"), 5)))
}
