package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/primerid/hpcqueue/common/os/exec"
)

const (
	DefaultGsutilTries = 4

	signedURLHost = "storage.googleapis.com"
)

// GsutilConfig configures the gsutil backend.
type GsutilConfig struct {
	Binary string // defaults to "gsutil"
	// PrivateKey is the service account key used by signurl.
	PrivateKey string
	Region     string
	// NewBackOff returns the retry policy for one transfer. Defaults to exponential, DefaultGsutilTries tries.
	NewBackOff func() backoff.BackOff
}

type gsutilStorage struct {
	cfg    GsutilConfig
	runner exec.Runner
}

// NewGsutil returns a Storage that shells out to gsutil through runner.
func NewGsutil(cfg GsutilConfig, runner exec.Runner) Storage {
	if cfg.Binary == "" {
		cfg.Binary = "gsutil"
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), DefaultGsutilTries-1)
		}
	}
	return &gsutilStorage{cfg: cfg, runner: runner}
}

func (g *gsutilStorage) run(ctx context.Context, args ...string) (exec.RunResult, error) {
	var rr exec.RunResult
	cmd := exec.NewCommand(g.cfg.Binary, args...)
	op := func() error {
		rr = g.runner.Run(ctx, cmd, nil)
		if rr.Error != nil {
			log.Infof("gsutil attempt failed: %s: %v %s", cmd, rr.Error, bytes.TrimSpace(rr.Stderr))
			return rr.Error
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(g.cfg.NewBackOff(), ctx)); err != nil {
		return rr, errors.Wrapf(err, "%s: %s", cmd, bytes.TrimSpace(rr.Stderr))
	}
	return rr, nil
}

func (g *gsutilStorage) Download(ctx context.Context, remote, localDir string, recursive bool) error {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", localDir)
	}
	args := []string{"cp"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, remote, localDir)
	_, err := g.run(ctx, args...)
	return err
}

func (g *gsutilStorage) Upload(ctx context.Context, localPath, remote string) error {
	_, err := g.run(ctx, "cp", localPath, remote)
	return err
}

func (g *gsutilStorage) SignedURL(ctx context.Context, remote string, ttl time.Duration) (string, error) {
	args := []string{"signurl", "-d", gsutilDuration(ttl)}
	if g.cfg.Region != "" {
		args = append(args, "-r", g.cfg.Region)
	}
	args = append(args, g.cfg.PrivateKey, remote)
	rr, err := g.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return parseSignedURL(string(rr.Stdout))
}

// parseSignedURL pulls the link out of signurl's table output:
//
//   URL     HTTP Method     Expiration      Signed URL
//   gs://bucket/file      GET     2022-10-12 07:25:31     https://storage.googleapis.com/...
func parseSignedURL(out string) (string, error) {
	idx := strings.LastIndex(out, "https://")
	if idx < 0 {
		return "", errors.Errorf("no signed url in gsutil output: %q", out)
	}
	url := strings.TrimSpace(out[idx:])
	if fields := strings.Fields(url); len(fields) > 0 {
		url = fields[0]
	}
	if !strings.Contains(url, signedURLHost) {
		return "", errors.Errorf("unexpected signed url %q", url)
	}
	return url, nil
}

// gsutilDuration renders ttl in the largest whole unit signurl accepts.
func gsutilDuration(ttl time.Duration) string {
	switch {
	case ttl <= 0:
		return "1h"
	case ttl%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", ttl/(24*time.Hour))
	case ttl%time.Hour == 0:
		return fmt.Sprintf("%dh", ttl/time.Hour)
	default:
		return fmt.Sprintf("%dm", (ttl+time.Minute-1)/time.Minute)
	}
}
