// Package server runs one scheduler tick: take the singleton lock, visit every job
// type, dispatch what is runnable, cancel what is stale and report to the operator.
package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	uuid "github.com/nu7hatch/gouuid"
	log "github.com/sirupsen/logrus"

	hpcerrors "github.com/primerid/hpcqueue/common/errors"
	"github.com/primerid/hpcqueue/common/log/tags"
	"github.com/primerid/hpcqueue/common/stats"
	"github.com/primerid/hpcqueue/jobstore"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/scheduler/dispatch"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/scheduler/lock"
)

const LockReclaimedSubject = "Scheduler Lock Reclaimed"

// SchedulerConfig
//
// JobTypes - visited in order on every tick.
//
// StaleLimit - whole hours a dispatched job may stay pending, per job type.
//
// Endpoint - the job store collection of a job type, as named in the operator digest.
//
// Dev - dump every listed summary.
type SchedulerConfig struct {
	JobTypes   []domain.JobType
	StaleLimit func(jobType string) int
	Endpoint   func(jobType string) string
	Dev        bool
}

func (sc *SchedulerConfig) String() string {
	return fmt.Sprintf("SchedulerConfig: JobTypes: %v, Dev: %t", sc.JobTypes, sc.Dev)
}

// Scheduler runs to completion once per external trigger. Only the lock makes
// concurrent runs safe; a Scheduler value itself is not meant to be shared.
type Scheduler struct {
	config     SchedulerConfig
	store      jobstore.Client
	dispatcher dispatch.Dispatcher
	lock       *lock.Lock
	mail       *notify.Gateway
	stat       stats.StatsReceiver
	now        func() time.Time
}

func NewScheduler(
	config SchedulerConfig,
	store jobstore.Client,
	dispatcher dispatch.Dispatcher,
	lk *lock.Lock,
	mail *notify.Gateway,
	stat stats.StatsReceiver) *Scheduler {
	if config.JobTypes == nil {
		config.JobTypes = domain.JobTypes
	}
	if config.StaleLimit == nil {
		config.StaleLimit = func(string) int { return 24 }
	}
	if config.Endpoint == nil {
		config.Endpoint = func(jobType string) string { return jobType }
	}
	return &Scheduler{
		config:     config,
		store:      store,
		dispatcher: dispatcher,
		lock:       lk,
		mail:       mail,
		stat:       stat,
		now:        time.Now,
	}
}

func generateRunID() string {
	// uuid.NewV4() only fails if crypto/rand does
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}

// Run performs one tick. It returns nil when another scheduler holds the lock.
// A non-nil error is a SchedulerFatalError and the process should exit non-zero.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	defer s.stat.Latency(stats.SchedTickLatency_ms).Time().Stop()
	runID := generateRunID()
	logger := tags.LogTags{RunID: runID}.Entry()

	token, result, err := s.lock.Acquire(s.now())
	if err != nil {
		return hpcerrors.NewError(hpcerrors.NewSchedulerFatalError(err, "acquiring scheduler lock"),
			hpcerrors.LockFailureExitCode)
	}
	switch result {
	case lock.Busy:
		s.stat.Counter(stats.SchedLockBusyCounter).Inc(1)
		logger.Infof("Process currently running (%s held). Exiting.", s.lock.Path())
		return nil
	case lock.Reclaimed:
		s.stat.Counter(stats.SchedLockReclaimedCounter).Inc(1)
		logger.Warnf("Reclaimed stale lock %s", token.Path)
		s.alertLockReclaimed(ctx, token)
	}
	defer func() {
		if rerr := token.Release(); rerr != nil {
			logger.Errorf("Failed to delete lock file: %v", rerr)
			if err == nil {
				err = hpcerrors.NewError(hpcerrors.NewSchedulerFatalError(rerr, "releasing scheduler lock"),
					hpcerrors.LockFailureExitCode)
			}
		}
	}()

	logger.Infof("Starting tick with %s", &s.config)
	var digest []notify.StaleEntry
	for _, jobType := range s.config.JobTypes {
		if ctx.Err() != nil {
			logger.Warnf("Tick interrupted before %s: %v", jobType, ctx.Err())
			break
		}
		digest = append(digest, s.processType(ctx, jobType, runID))
	}

	if body := notify.StaleDigest(digest); body != "" {
		if err := s.mail.Alert(ctx, notify.StaleDigestSubject, body); err != nil {
			logger.Errorf("Failed to send stale digest: %v", err)
		}
	}
	logger.Info("All processed.")
	return nil
}

// processType lists one job type and acts on every summary. Failures never leave
// this function: a list failure skips the type, a dispatch failure skips the job.
func (s *Scheduler) processType(ctx context.Context, jobType domain.JobType, runID string) notify.StaleEntry {
	entry := notify.StaleEntry{Endpoint: s.config.Endpoint(jobType.String())}
	stat := s.stat.Scope(jobType.String())
	logger := tags.LogTags{JobType: jobType.String(), RunID: runID}.Entry()

	summaries, err := s.store.List(ctx, jobType.String())
	if err != nil {
		stat.Counter(stats.SchedListFailureCounter).Inc(1)
		logger.Warnf("Skipping %s this tick, listing failed: %v", jobType, err)
		entry.Err = err
		return entry
	}
	stat.Counter(stats.SchedJobsListedCounter).Inc(int64(len(summaries)))
	if s.config.Dev {
		logger.Debugf("Listed %s", spew.Sdump(summaries))
	}

	now := s.now()
	limit := s.config.StaleLimit(jobType.String())
	for _, summary := range summaries {
		jobLog := tags.LogTags{JobType: jobType.String(), JobID: summary.ID, RunID: runID}.Entry()

		switch domain.Classify(summary, now, limit) {
		case domain.ActionStale:
			entry.Count++
			stat.Counter(stats.SchedStaleCounter).Inc(1)
			jobLog.Infof("Job has been pending for over %d hours, cancelling", limit)
			if err := s.dispatcher.Dispatch(ctx, dispatch.Request{JobType: jobType, ID: summary.ID, Stale: true}); err != nil {
				stat.Counter(stats.SchedSubmitFailureCounter).Inc(1)
				jobLog.Errorf("Stale worker failed: %v", err)
			}

		case domain.ActionSubmit:
			plan := domain.Plan(jobType, summary.Count())
			jobLog.Infof("Dispatching with %s", plan)
			if err := s.dispatcher.Dispatch(ctx, dispatch.Request{JobType: jobType, ID: summary.ID, Plan: &plan}); err != nil {
				// not marked pending, so the next tick retries it
				stat.Counter(stats.SchedSubmitFailureCounter).Inc(1)
				jobLog.Errorf("Dispatch failed, will retry next tick: %v", err)
				continue
			}
			stat.Counter(stats.SchedDispatchedCounter).Inc(1)
			if err := s.store.Patch(ctx, jobType.String(), summary.ID, jobstore.PendingPatch()); err != nil {
				stat.Counter(stats.SchedPatchFailureCounter).Inc(1)
				jobLog.Errorf("Dispatched but failed to mark pending: %v", err)
			}
		}
	}
	return entry
}

func (s *Scheduler) alertLockReclaimed(ctx context.Context, token *lock.LockToken) {
	host, _ := os.Hostname()
	body := fmt.Sprintf("<html><body>The scheduler on %s found the lock %s older than its grace window "+
		"and took it over at %s.<br>The previous run did not finish cleanly.</body></html>",
		host, token.Path, token.CreatedAt.UTC().Format(time.RFC3339))
	if err := s.mail.Alert(ctx, LockReclaimedSubject, body); err != nil {
		log.Errorf("Failed to alert operator about reclaimed lock: %v", err)
	}
}
