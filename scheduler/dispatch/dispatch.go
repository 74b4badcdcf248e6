//go:generate mockgen -source=dispatch.go -package=dispatch -destination=dispatch_mock.go

// Package dispatch turns a scheduling decision into a running worker: it builds the
// worker's argv, wraps it in a Slurm submission in production, and runs it.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/scheduler/domain"
)

// Request is one job handed to a worker.
type Request struct {
	JobType domain.JobType
	ID      string
	// Plan is nil for stale requests, which are never planned.
	Plan  *domain.ResourcePlan
	Stale bool
}

func (r Request) String() string {
	if r.Plan == nil {
		return fmt.Sprintf("%s/%s (stale: %t)", r.JobType, r.ID, r.Stale)
	}
	return fmt.Sprintf("%s/%s (%s)", r.JobType, r.ID, r.Plan)
}

// Dispatcher starts workers. It only reports whether the worker could be started or
// submitted; the worker reports the job's outcome itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// Config holds what a Dispatcher needs from the locations file.
type Config struct {
	WorkerBinary string
	// ConfigPath, when set, is handed to the worker as --config.
	ConfigPath string
	// LogDir maps a job type to the directory receiving Slurm output.
	LogDir     func(jobType string) string
	AdminEmail string
	// WorkDir is the working directory of every spawned process.
	WorkDir string
	Dev     bool
	// SubmitInterval is the minimum spacing between sbatch calls. 0 disables the limit.
	SubmitInterval time.Duration
	SbatchBinary   string
}

func (c Config) String() string {
	return fmt.Sprintf("dispatch.Config: WorkerBinary: %s, ConfigPath: %s, WorkDir: %s, Dev: %t, SubmitInterval: %s",
		c.WorkerBinary, c.ConfigPath, c.WorkDir, c.Dev, c.SubmitInterval)
}

// WorkerCommand is the argv of a worker run:
//
//	<worker> <type> --id=<id> [--cores=<n>] [--is_dev] [--is_stale] [--config=<path>]
func WorkerCommand(cfg Config, req Request) exec.Command {
	args := []string{req.JobType.String(), "--id=" + req.ID}
	if req.Plan != nil {
		args = append(args, "--cores="+strconv.Itoa(req.Plan.Cores))
	}
	if cfg.Dev {
		args = append(args, "--is_dev")
	}
	if req.Stale {
		args = append(args, "--is_stale")
	}
	if cfg.ConfigPath != "" {
		args = append(args, "--config="+cfg.ConfigPath)
	}
	return exec.NewCommand(cfg.WorkerBinary, args...).InDir(cfg.WorkDir)
}

// SbatchCommand wraps worker in a Slurm submission sized by plan. One extra task
// is requested for the worker's own control thread.
func SbatchCommand(cfg Config, req Request, plan domain.ResourcePlan, worker exec.Command) exec.Command {
	bin := cfg.SbatchBinary
	if bin == "" {
		bin = "sbatch"
	}
	args := []string{
		"-o", filepath.Join(cfg.LogDir(req.JobType.String()), req.ID+".out"),
		"-n", strconv.Itoa(plan.Cores + 1),
		"--job-name=" + req.JobType.String() + "-" + req.ID,
		"--mem=" + strconv.Itoa(plan.MemoryMB),
		"-t", strconv.Itoa(plan.WallMinutes),
	}
	if cfg.AdminEmail != "" {
		args = append(args, "--mail-type=FAIL", "--mail-user="+cfg.AdminEmail)
	}
	args = append(args, "--wrap="+shellquote.Join(worker.Argv...))
	return exec.NewCommand(bin, args...).InDir(cfg.WorkDir)
}

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

type dispatcher struct {
	cfg     Config
	runner  exec.Runner
	limiter *rate.Limiter
}

// New returns a Dispatcher running commands through runner.
func New(cfg Config, runner exec.Runner) Dispatcher {
	limit := rate.Inf
	if cfg.SubmitInterval > 0 {
		limit = rate.Every(cfg.SubmitInterval)
	}
	if cfg.LogDir == nil {
		cfg.LogDir = func(string) string { return "." }
	}
	return &dispatcher{cfg: cfg, runner: runner, limiter: rate.NewLimiter(limit, 1)}
}

func (d *dispatcher) Dispatch(ctx context.Context, req Request) error {
	worker := WorkerCommand(d.cfg, req)

	// stale runs only notify and patch, and dev runs stay in the foreground
	if req.Stale || d.cfg.Dev || req.Plan == nil {
		log.Infof("Running worker in the foreground: %s", worker)
		rr := d.runner.Run(ctx, worker, nil)
		if rr.Error != nil {
			return errors.Wrapf(rr.Error, "running worker for %s: %s", req, bytes.TrimSpace(rr.Stderr))
		}
		return nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "waiting to submit %s", req)
	}
	cmd := SbatchCommand(d.cfg, req, *req.Plan, worker)
	log.Infof("Submitting %s: %s", req, cmd)
	rr := d.runner.Run(ctx, cmd, nil)
	if rr.Error != nil {
		return errors.Wrapf(rr.Error, "submitting %s: %s", req, bytes.TrimSpace(rr.Stderr))
	}
	if m := submittedRe.FindSubmatch(rr.Stdout); m != nil {
		log.Infof("Slurm job %s runs %s", m[1], req)
	} else {
		log.Warnf("Unrecognized sbatch output for %s: %q", req, rr.Stdout)
	}
	return nil
}
