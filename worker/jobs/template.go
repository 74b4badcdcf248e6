// Package jobs holds the one job template every worker runs, and the descriptors
// that specialize it per job type.
package jobs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/primerid/hpcqueue/archive"
	hpcerrors "github.com/primerid/hpcqueue/common/errors"
	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/common/stats"
	"github.com/primerid/hpcqueue/config"
	"github.com/primerid/hpcqueue/os/temp"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/worker/pipeline"
	"github.com/primerid/hpcqueue/worker/runner"
)

// SummaryName is the summary document written into every results directory.
const SummaryName = "summary.csv"

// Env is what a job needs from the worker process besides its PipelineContext.
type Env struct {
	Tools config.ToolsConfig
	// Runner runs the job-level commands of finalize steps.
	Runner exec.Runner
	// Tool runs the per-unit tool invocations.
	Tool  runner.ToolRunner
	Cores int
}

// Options are the worker's command line.
type Options struct {
	ID    string
	Cores int
	Stale bool
	Dev   bool
}

func (o Options) String() string {
	return fmt.Sprintf("Options: ID: %s, Cores: %d, Stale: %t, Dev: %t", o.ID, o.Cores, o.Stale, o.Dev)
}

// Descriptor is everything that differs between job types.
type Descriptor[T pipeline.JobDetail] struct {
	Type domain.JobType
	// Subject prefixes the receipt ("<Subject> Submission #<job>") and results subjects.
	Subject func(d T) string
	// Receipt renders the submission details for the receipt email.
	Receipt func(d T) string
	// Prepare stages the job's inputs and returns its units.
	Prepare func(ctx context.Context, pc *pipeline.PipelineContext[T], env Env) ([]runner.WorkUnit, error)
	// Commands builds the tool invocations of one unit.
	Commands func(pc *pipeline.PipelineContext[T], env Env, u runner.WorkUnit) ([]exec.Command, error)
	Filters  []runner.Filter
	// Artifact names a unit's expected output, relative to its directory.
	Artifact       func(d T) string
	Extras         []string
	KeepNames      bool
	MissingMessage string
	// SummaryHeader heads summary.csv. When empty and Rows is set, the first line of the
	// first artifact is used.
	SummaryHeader string
	Rows          func(path string) ([]string, error)
	// RequireSuccess fails the job when no unit succeeded.
	RequireSuccess bool
	// Finalize runs after the units, before compression. It may add html after the
	// download link of the results email.
	Finalize func(ctx context.Context, pc *pipeline.PipelineContext[T], env Env, outcome *runner.JobOutcome, resultsDir string) (string, error)
}

// Execute builds the job's PipelineContext and runs it, or cancels it when stale.
// It returns an error only when the job could not be started or its failure
// could not be reported.
func Execute[T pipeline.JobDetail](ctx context.Context, d Descriptor[T], opts Options, deps pipeline.Deps, env Env) error {
	pc, err := pipeline.New[T](ctx, opts.ID, d.Type, deps)
	if err != nil {
		return err
	}
	if opts.Stale {
		return pc.ReportStale(ctx, deps.Locations.StaleLimit(d.Type.String()))
	}
	if opts.Cores > 0 {
		env.Cores = opts.Cores
	}
	return Run(ctx, d, pc, env)
}

// Run is the job template: receipt, prepare, units, summary, archive, upload, results
// email and completion. Any failure outside a unit is reported through the
// PipelineContext and ends the job.
func Run[T pipeline.JobDetail](ctx context.Context, d Descriptor[T], pc *pipeline.PipelineContext[T], env Env) error {
	defer pc.Stat().Latency(stats.WorkerJobLatency_ms).Time().Stop()
	title := d.Type.Title()
	pc.Log(fmt.Sprintf("Initializing %s pipeline #%s", title, pc.ID))

	err := run(ctx, d, pc, env)
	if err == nil {
		pc.Log("Pipeline completed.")
		return nil
	}
	log.Errorf("%s pipeline #%s failed: %v", title, pc.ID, err)
	subject := fmt.Sprintf("%s Error %s", title, pc.ID)
	msg := fmt.Sprintf("Failed to process %s pipeline #%s.\n\n%v", title, pc.ID, err)
	return pc.ReportError(ctx, subject, msg, pc.Data.Email())
}

func fatal(err error, msg string) error {
	return hpcerrors.NewJobFatalError(err, "%s", msg)
}

func run[T pipeline.JobDetail](ctx context.Context, d Descriptor[T], pc *pipeline.PipelineContext[T], env Env) error {
	data := pc.Data
	jobID := data.JobID()
	subject := d.Subject(data)

	pc.Log("Emailing receipt.")
	if err := pc.SendReceipt(ctx, fmt.Sprintf("%s Submission #%s", subject, jobID), d.Receipt(data)); err != nil {
		return fatal(err, "Failed to send receipt email.")
	}

	results, err := temp.Open(filepath.Join(pc.ScratchDir, jobID))
	if err == nil {
		err = results.Reset()
	}
	if err != nil {
		return fatal(err, "Failed to create results directory.")
	}

	units, err := d.Prepare(ctx, pc, env)
	if err != nil {
		return fatal(err, "Failed to prepare inputs.")
	}
	if len(units) == 0 {
		return fatal(nil, "No inputs found.")
	}

	pool := &runner.Pool{
		Cores: env.Cores,
		Tool:  env.Tool,
		Commands: func(u runner.WorkUnit) ([]exec.Command, error) {
			return d.Commands(pc, env, u)
		},
		Filters:        d.Filters,
		Extras:         d.Extras,
		KeepNames:      d.KeepNames,
		MissingMessage: d.MissingMessage,
		Rows:           d.Rows,
		ResultsDir:     results.Dir,
		Log:            pc.Log,
		Stat:           pc.Stat(),
	}
	if d.Artifact != nil {
		pool.Artifact = d.Artifact(data)
	}
	pc.Log(fmt.Sprintf("Running %d units on %d cores", len(units), env.Cores))
	outcome := pool.Run(ctx, units)
	if uerr := outcome.Errors(); uerr != nil {
		log.Warnf("%s #%s unit failures: %v", d.Type, pc.ID, uerr)
	}
	if d.RequireSuccess && outcome.Count(runner.Succeeded) == 0 {
		return fatal(nil, strings.Join(failureLines(outcome), "\n"))
	}

	if d.Rows != nil || d.SummaryHeader != "" || outcome.Count(runner.Succeeded) < len(units) {
		header := d.SummaryHeader
		if header == "" && d.Rows != nil {
			header = firstArtifactLine(outcome)
		}
		if err := outcome.WriteSummary(results.Path(SummaryName), header); err != nil {
			return fatal(err, "Failed to create/open summary file.")
		}
	}

	extra := ""
	if d.Finalize != nil {
		if extra, err = d.Finalize(ctx, pc, env, outcome, results.Dir); err != nil {
			return fatal(err, "Failed to finalize results.")
		}
	}

	pc.Log(fmt.Sprintf("Compressing results\nInput: %s\nOutput: %s", results.Dir, pc.ScratchDir))
	archivePath, archiveName, err := archive.Compress(data.ResultsFormat(), jobID, results.Dir, pc.ScratchDir)
	if err != nil {
		return fatal(err, "Failed to compress files.")
	}

	pc.Log(fmt.Sprintf("Uploading compressed results to bucket.\nFrom: %s\nTo: %s", archivePath, archiveName))
	if err := pc.BucketUpload(ctx, archivePath, archiveName); err != nil {
		return fatal(err, "Failed to upload files to bucket.")
	}
	signedURL, err := pc.BucketSignedURL(ctx, archiveName)
	if err != nil {
		return fatal(err, "Failed to generate a signed url.")
	}

	pc.Log("Emailing results.")
	if err := pc.SendResults(ctx, fmt.Sprintf("%s Results #%s", subject, jobID), signedURL, extra); err != nil {
		return fatal(err, "Failed to send results email.")
	}
	if err := pc.Complete(ctx); err != nil {
		return fatal(err, "Failed to patch pipeline as completed.")
	}
	return nil
}

func failureLines(o *runner.JobOutcome) []string {
	var lines []string
	for _, r := range o.Results {
		if r.Status != runner.Succeeded {
			lines = append(lines, r.Message)
		}
	}
	return lines
}

func firstArtifactLine(o *runner.JobOutcome) string {
	for _, r := range o.Results {
		if r.Status != runner.Succeeded || r.Artifact == "" {
			continue
		}
		f, err := os.Open(r.Artifact)
		if err != nil {
			continue
		}
		s := bufio.NewScanner(f)
		line := ""
		if s.Scan() {
			line = s.Text()
		}
		f.Close()
		return line
	}
	return ""
}

// sequencesFile writes the submitted sequences into dir.
func sequencesFile(dir, name, sequences string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sequences), 0644); err != nil {
		return "", errors.Wrap(err, "Failed to write sequences to file.")
	}
	return path, nil
}
