package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	outputExitScript string = `
#!/bin/bash
echo "stdout line"
echo "stderr line" 1>&2`
	trapScript string = `
#!/bin/bash
trap ':' SIGTERM
while :
do sleep 1
done`
)

func TestUnrunnableCommand(t *testing.T) {
	cmd := NewOsExec().Command("sjkldoeiujeiuc")
	rr := RunCommand(context.Background(), cmd, 0, io.Discard)
	if rr.Error == nil {
		t.Fatal("unexpected nil error from unrunnable command")
	}
	assert.Equal(t, -1, rr.ExitCode())
}

func TestRunCommandOutput(t *testing.T) {
	script := setupTempScript(t, outputExitScript)

	var stream bytes.Buffer
	cmd := NewOsExec().Command("/bin/bash", script)
	rr := RunCommand(context.Background(), cmd, 0, &stream)
	require.NoError(t, rr.Error)
	assert.Equal(t, 0, rr.ExitCode())
	assert.Contains(t, string(rr.Stdout), "stdout line")
	assert.Contains(t, string(rr.Stderr), "stderr line")
	assert.Contains(t, stream.String(), "stdout line")
	assert.Contains(t, stream.String(), "stderr line")
	assert.Contains(t, stream.String(), CmdSeparator)
}

func TestRunCommandNonZeroExit(t *testing.T) {
	rr := NewRunner(NewOsExec()).Run(context.Background(), NewCommand("/bin/bash", "-c", "exit 3"), nil)
	assert.Error(t, rr.Error)
	assert.Equal(t, 3, rr.ExitCode())
}

func TestRunCommandCanceledKills(t *testing.T) {
	script := setupTempScript(t, trapScript)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// must wait until the script's "trap" command takes effect or the term will succeed in stopping it
		time.Sleep(1 * time.Second)
		cancel()
	}()

	cmd := NewOsExec().Command("/bin/bash", script)
	rr := RunCommand(ctx, cmd, 100*time.Millisecond, io.Discard)
	assert.True(t, errors.Is(rr.Error, CanceledError))
	require.NotNil(t, rr.ProcessState)
	assert.False(t, rr.ProcessState.Exited())
}

func TestCommandTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	rr := RunCommand(ctx, NewOsExec().Command("sleep", "5"), 1*time.Second, io.Discard)
	assert.True(t, time.Since(start) < 2*time.Second)
	assert.True(t, errors.Is(rr.Error, TimeoutError))
}

func TestRunnerUsesDir(t *testing.T) {
	dir := t.TempDir()
	rr := NewRunner(NewOsExec()).Run(context.Background(), NewCommand("pwd").InDir(dir), nil)
	require.NoError(t, rr.Error)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, string(rr.Stdout), resolved)
}

func TestRunnerEmptyCommand(t *testing.T) {
	rr := NewRunner(NewOsExec()).Run(context.Background(), Command{}, nil)
	assert.Error(t, rr.Error)
}

func TestValidatingExecer(t *testing.T) {
	var seen [][]string
	ve := &ValidatingExecer{Validate: func(name string, args []string) error {
		seen = append(seen, append([]string{name}, args...))
		if name == "bad" {
			return errors.New("bad command")
		}
		return nil
	}}

	r := &osRunner{ex: ve, killTimeout: time.Millisecond}
	assert.NoError(t, r.Run(context.Background(), NewCommand("testCmd1"), nil).Error)
	assert.Error(t, r.Run(context.Background(), NewCommand("bad", "arg1"), nil).Error)
	assert.Equal(t, [][]string{{"testCmd1"}, {"bad", "arg1"}}, seen)
}

func TestFakeRunnerRecords(t *testing.T) {
	f := NewFakeRunner(func(_ context.Context, c Command) RunResult {
		if c.Argv[0] == "fail" {
			return RunResult{Error: errors.New("boom"), Stderr: []byte("nope")}
		}
		return RunResult{Stdout: []byte("ok")}
	})

	var stream bytes.Buffer
	assert.NoError(t, f.Run(context.Background(), NewCommand("pass"), &stream).Error)
	assert.Error(t, f.Run(context.Background(), NewCommand("fail", "x"), &stream).Error)
	assert.Equal(t, "oknope", stream.String())
	assert.Len(t, f.Commands(), 2)
	assert.Equal(t, []string{"fail", "x"}, f.Commands()[1].Argv)
}

func TestTruncateCmd(t *testing.T) {
	cmd := NewOsExec().Command("hello")
	assert.Equal(t, "hello", truncateCmd(cmd))

	cmd = NewOsExec().Command("/foo/bar/xyz/hello", "world")
	assert.Equal(t, "hello world", truncateCmd(cmd))
}

func setupTempScript(t *testing.T, contents string) string {
	name := filepath.Join(t.TempDir(), "script")
	if err := os.WriteFile(name, []byte(contents), 0777); err != nil {
		t.Fatalf("failed setting up temp script file: %s", err)
	}
	return name
}
