package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primerid/hpcqueue/common/os/exec"
)

const signurlOutput = `URL     HTTP Method     Expiration      Signed URL
gs://bucket/42/ogv-results_42.zip      GET     2022-10-12 07:25:31     https://storage.googleapis.com/bucket/42/ogv-results_42.zip?x-goog-signature=abc&x-goog-date=20221005
`

func quickBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func TestGsutilCommands(t *testing.T) {
	runner := exec.NewFakeRunner(func(_ context.Context, c exec.Command) exec.RunResult {
		if c.Argv[1] == "signurl" {
			return exec.RunResult{Stdout: []byte(signurlOutput)}
		}
		return exec.RunResult{}
	})
	g := NewGsutil(GsutilConfig{PrivateKey: "/keys/sa.json", Region: "us-east1", NewBackOff: quickBackOff}, runner)
	ctx := context.Background()

	require.NoError(t, g.Download(ctx, "gs://bucket/42/uploads", t.TempDir(), true))
	require.NoError(t, g.Upload(ctx, "/scratch/42/out.zip", "gs://bucket/42/out.zip"))
	url, err := g.SignedURL(ctx, "gs://bucket/42/out.zip", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/bucket/42/ogv-results_42.zip?x-goog-signature=abc&x-goog-date=20221005", url)

	cmds := runner.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "gsutil", cmds[0].Argv[0])
	assert.Equal(t, []string{"cp", "-r", "gs://bucket/42/uploads"}, cmds[0].Argv[1:4])
	assert.Equal(t, []string{"gsutil", "cp", "/scratch/42/out.zip", "gs://bucket/42/out.zip"}, cmds[1].Argv)
	assert.Equal(t, []string{"gsutil", "signurl", "-d", "7d", "-r", "us-east1", "/keys/sa.json", "gs://bucket/42/out.zip"}, cmds[2].Argv)
}

func TestGsutilRetries(t *testing.T) {
	attempts := 0
	runner := exec.NewFakeRunner(func(context.Context, exec.Command) exec.RunResult {
		attempts++
		if attempts < 3 {
			return exec.RunResult{Error: errors.New("503"), Stderr: []byte("ServiceException: 503")}
		}
		return exec.RunResult{}
	})
	g := NewGsutil(GsutilConfig{NewBackOff: quickBackOff}, runner)
	require.NoError(t, g.Upload(context.Background(), "a", "gs://b/a"))
	assert.Equal(t, 3, attempts)
}

func TestGsutilGivesUp(t *testing.T) {
	runner := exec.NewFakeRunner(func(context.Context, exec.Command) exec.RunResult {
		return exec.RunResult{Error: errors.New("exit 1"), Stderr: []byte("AccessDeniedException")}
	})
	g := NewGsutil(GsutilConfig{NewBackOff: quickBackOff}, runner)
	err := g.Upload(context.Background(), "a", "gs://b/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDeniedException")
	assert.Len(t, runner.Commands(), 3)
}

func TestParseSignedURL(t *testing.T) {
	_, err := parseSignedURL("CommandException: no key")
	assert.Error(t, err)
	_, err = parseSignedURL("https://example.org/x")
	assert.Error(t, err)
}

func TestGsutilDuration(t *testing.T) {
	assert.Equal(t, "7d", gsutilDuration(7*24*time.Hour))
	assert.Equal(t, "12h", gsutilDuration(12*time.Hour))
	assert.Equal(t, "90m", gsutilDuration(90*time.Minute))
	assert.Equal(t, "1h", gsutilDuration(0))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "gs://bucket/ogv/42/results.zip", Join("gs://bucket/ogv/", "42", "/results.zip"))
	assert.Equal(t, "gs://bucket/42", Join("gs://bucket", "42", ""))
}
