// Package pipeline holds the per-job runtime handle shared by every job type: the
// job's detail, its scratch directory, its log files, and the façades used to
// patch its status, move its files and notify its submitter.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	hpcerrors "github.com/primerid/hpcqueue/common/errors"
	"github.com/primerid/hpcqueue/common/log/tags"
	"github.com/primerid/hpcqueue/common/stats"
	"github.com/primerid/hpcqueue/config"
	"github.com/primerid/hpcqueue/jobstore"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/os/temp"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/storage"
)

// JobDetail is implemented by the detail payload of every job type.
type JobDetail interface {
	// JobID names the job's results, derived from the job's id when the store has none.
	JobID() string
	Email() string
	ResultsFormat() string
}

// Deps are the collaborators shared by every PipelineContext in a worker process.
type Deps struct {
	Locations *config.Locations
	Store     jobstore.Client
	Storage   storage.Storage
	Mail      *notify.Gateway
	Templates notify.Templates
	Stat      stats.StatsReceiver
	Now       func() time.Time
}

// PipelineContext is owned by exactly one worker process and one job.
type PipelineContext[T JobDetail] struct {
	ID           string
	JobType      domain.JobType
	ScratchDir   string
	LogFile      string
	ErrorLogFile string
	APIURL       string
	BucketURL    string
	Data         T

	deps   Deps
	logger *log.Entry

	mu       sync.Mutex
	state    domain.State
	reported bool
}

// New fetches the job's detail and creates its scratch, log and error log directories.
// Any failure here is fatal to the worker; the operator is alerted and the error
// carries the worker's startup exit code.
func New[T JobDetail](ctx context.Context, id string, jobType domain.JobType, deps Deps) (*PipelineContext[T], error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Stat == nil {
		deps.Stat = stats.DefaultStatsReceiver()
	}
	l := deps.Locations
	t := jobType.String()
	logDir := l.LogDir.Resolve(t)
	pc := &PipelineContext[T]{
		ID:           id,
		JobType:      jobType,
		ScratchDir:   filepath.Join(l.ScratchSpace.Resolve(t), id),
		LogFile:      filepath.Join(logDir, id+".log"),
		ErrorLogFile: filepath.Join(logDir, "errors", id+".error"),
		APIURL:       l.APIURL.Resolve(t),
		BucketURL:    l.BucketURL.Resolve(t),
		deps:         deps,
		logger:       tags.LogTags{JobType: t, JobID: id}.Entry(),
		state:        domain.Dispatched,
	}

	if l.ScratchSpace.Resolve(t) == "" || logDir == "" {
		return nil, pc.startupFailure(ctx, hpcerrors.NewJobDataError(nil, "no scratch_space or log_dir configured for %s", t))
	}
	if err := deps.Store.Get(ctx, t, id, &pc.Data); err != nil {
		return nil, pc.startupFailure(ctx, hpcerrors.NewJobDataError(err, "fetching %s %s", t, id))
	}
	if _, err := temp.Open(pc.ScratchDir); err != nil {
		return nil, pc.startupFailure(ctx, errors.Wrapf(err, "creating scratch dir %s", pc.ScratchDir))
	}
	for _, dir := range []string{filepath.Dir(pc.LogFile), filepath.Dir(pc.ErrorLogFile)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, pc.startupFailure(ctx, errors.Wrapf(err, "creating log dir %s", dir))
		}
	}
	return pc, nil
}

func (pc *PipelineContext[T]) startupFailure(ctx context.Context, err error) error {
	pc.logger.Errorf("Error creating pipeline: %v", err)
	subject := fmt.Sprintf("%s Worker Startup Failed %s", pc.JobType.Title(), pc.ID)
	if aerr := pc.deps.Mail.Alert(ctx, subject, pc.deps.Templates.Failure(err.Error())); aerr != nil {
		pc.logger.Errorf("Failed to alert operator: %v", aerr)
	}
	return hpcerrors.NewError(err, hpcerrors.GenericFailureExitCode)
}

// State is the lifecycle state this worker has driven the job to.
func (pc *PipelineContext[T]) State() domain.State {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

func (pc *PipelineContext[T]) transition(to domain.State) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	next, err := domain.Transition(pc.state, to)
	pc.state = next
	return err
}

// Stat is scoped to the job type.
func (pc *PipelineContext[T]) Stat() stats.StatsReceiver {
	return pc.deps.Stat.Scope(pc.JobType.String())
}

// Log appends a timestamped line to the job log and echoes it. It never fails;
// problems writing the file are only logged.
func (pc *PipelineContext[T]) Log(msg string) {
	line := fmt.Sprintf("[%s] %s", pc.deps.Now().UTC().Format(time.RFC3339), msg)
	pc.logger.Info(msg)

	pc.mu.Lock()
	defer pc.mu.Unlock()
	f, err := os.OpenFile(pc.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		pc.logger.Errorf("Couldn't open job log: %v", err)
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		pc.logger.Errorf("Couldn't write to job log: %v", err)
	}
}

// Patch applies a partial status update to the job.
func (pc *PipelineContext[T]) Patch(ctx context.Context, fields jobstore.Patch) error {
	return pc.deps.Store.Patch(ctx, pc.JobType.String(), pc.ID, fields)
}

// Complete marks the job finished successfully.
func (pc *PipelineContext[T]) Complete(ctx context.Context) error {
	if err := pc.transition(domain.Completed); err != nil {
		return err
	}
	return errors.Wrap(pc.Patch(ctx, jobstore.CompletedPatch()), "patching pipeline as completed")
}

// ReportError is the one terminal failure path: it writes the error log, logs, marks
// the job failed and notifies the recipient and the operator. Only the first call
// has any effect.
func (pc *PipelineContext[T]) ReportError(ctx context.Context, subject, msg, recipient string) error {
	return pc.reportTerminal(ctx, domain.Failed, subject, msg, recipient)
}

// ReportStale cancels a job that stayed pending past its type's limit.
func (pc *PipelineContext[T]) ReportStale(ctx context.Context, limitHours int) error {
	subject := fmt.Sprintf("%s Stale Job: %s", pc.JobType.Title(), pc.ID)
	msg := fmt.Sprintf("Pipeline has been pending for over %d hours and has been cancelled.", limitHours)
	return pc.reportTerminal(ctx, domain.Stale, subject, msg, pc.Data.Email())
}

func (pc *PipelineContext[T]) reportTerminal(ctx context.Context, to domain.State, subject, msg, recipient string) error {
	pc.mu.Lock()
	if pc.reported {
		pc.mu.Unlock()
		pc.logger.Warnf("Already reported, dropping %q", subject)
		return nil
	}
	pc.reported = true
	pc.mu.Unlock()

	var result *multierror.Error
	if err := pc.transition(to); err != nil {
		pc.logger.Warn(err)
	}
	if err := os.WriteFile(pc.ErrorLogFile, []byte(msg+"\n"), 0644); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "writing error log"))
	}
	pc.Log(msg)
	pc.Stat().Counter(stats.WorkerJobFailureCounter).Inc(1)

	if err := pc.Patch(ctx, jobstore.FailedPatch()); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "patching pipeline as failed"))
	}
	if err := pc.deps.Mail.Notify(ctx, subject, pc.deps.Templates.Failure(msg), recipient, true); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "sending error email"))
	}
	return result.ErrorOrNil()
}

// BucketPath is the object path of location under this job's prefix.
func (pc *PipelineContext[T]) BucketPath(location string) string {
	return storage.Join(pc.BucketURL, pc.ID, location)
}

// BucketDownload copies <bucket>/<id>/<from> into toLocal.
func (pc *PipelineContext[T]) BucketDownload(ctx context.Context, from, toLocal string, recursive bool) error {
	return pc.deps.Storage.Download(ctx, pc.BucketPath(from), toLocal, recursive)
}

// BucketUpload copies a local file to <bucket>/<id>/<to>.
func (pc *PipelineContext[T]) BucketUpload(ctx context.Context, fromLocal, to string) error {
	return pc.deps.Storage.Upload(ctx, fromLocal, pc.BucketPath(to))
}

// BucketSignedURL links <bucket>/<id>/<location> for the configured TTL.
func (pc *PipelineContext[T]) BucketSignedURL(ctx context.Context, location string) (string, error) {
	ttl := pc.deps.Locations.SignedURLTTL
	if ttl <= 0 {
		ttl = config.DefaultSignedURLTTL
	}
	remote := pc.BucketPath(location)
	pc.logger.Infof("Bucket location for signed url: %s", remote)
	return pc.deps.Storage.SignedURL(ctx, remote, ttl)
}

// SendReceipt tells the submitter, and the operator, that the job started.
func (pc *PipelineContext[T]) SendReceipt(ctx context.Context, subject, details string) error {
	body := pc.deps.Templates.Receipt(details)
	return errors.Wrap(pc.deps.Mail.Notify(ctx, subject, body, pc.Data.Email(), true), "sending receipt email")
}

// SendResults sends the submitter the download link. extra is appended after the link.
func (pc *PipelineContext[T]) SendResults(ctx context.Context, subject, signedURL, extra string) error {
	body := pc.deps.Templates.Results(signedURL, extra)
	return errors.Wrap(pc.deps.Mail.Notify(ctx, subject, body, pc.Data.Email(), false), "sending results email")
}
