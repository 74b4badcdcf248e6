package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hpcerrors "github.com/primerid/hpcqueue/common/errors"
	"github.com/primerid/hpcqueue/common/stats"
	"github.com/primerid/hpcqueue/jobstore"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/scheduler/dispatch"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/scheduler/lock"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *jobstore.MockClient
	dispatcher *dispatch.MockDispatcher
	notifier   *notify.MockNotifier
	lock       *lock.Lock
	stat       stats.StatsReceiver
	sched      *Scheduler
}

func setup(t *testing.T, types ...domain.JobType) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		store:      jobstore.NewMockClient(ctrl),
		dispatcher: dispatch.NewMockDispatcher(ctrl),
		notifier:   notify.NewMockNotifier(ctrl),
		lock:       lock.InDir(t.TempDir(), 12*time.Hour),
		stat:       stats.DefaultStatsReceiver(),
	}
	cfg := SchedulerConfig{
		JobTypes:   types,
		StaleLimit: func(string) int { return 24 },
		Endpoint:   func(jobType string) string { return "https://api.example.org/" + jobType },
	}
	f.sched = NewScheduler(cfg, f.store, f.dispatcher, f.lock,
		&notify.Gateway{Notifier: f.notifier, AdminEmail: "admin@example.org"}, f.stat)
	f.sched.now = func() time.Time { return testNow }
	return f
}

func count(n int) *int { return &n }

func (f *fixture) lockExists(t *testing.T) bool {
	exists, err := f.lock.Exists()
	require.NoError(t, err)
	return exists
}

func TestRunHappyPathDispatchesAndMarksPending(t *testing.T) {
	f := setup(t, domain.OGV, domain.Intactness)
	ctx := context.Background()

	f.store.EXPECT().List(gomock.Any(), "ogv").Return(nil, nil)
	f.store.EXPECT().List(gomock.Any(), "intactness").Return([]jobstore.JobSummary{
		{ID: "J1", CreatedAt: "2024-03-10T11:00:00.000Z", Submit: true, Pending: false, ItemCount: count(4)},
		{ID: "J9", CreatedAt: "2024-03-10T11:00:00.000Z"},
	}, nil)
	gomock.InOrder(
		f.dispatcher.EXPECT().Dispatch(gomock.Any(), dispatch.Request{
			JobType: domain.Intactness,
			ID:      "J1",
			Plan:    &domain.ResourcePlan{Cores: 2, MemoryMB: 40000, WallMinutes: 20},
		}).Return(nil),
		f.store.EXPECT().Patch(gomock.Any(), "intactness", "J1",
			jobstore.Patch{"pending": true, "submit": false}).Return(nil),
	)

	require.NoError(t, f.sched.Run(ctx))
	assert.False(t, f.lockExists(t))
	assert.Equal(t, int64(1), f.stat.Scope("intactness").Counter(stats.SchedDispatchedCounter).Count())
	assert.Equal(t, int64(2), f.stat.Scope("intactness").Counter(stats.SchedJobsListedCounter).Count())
}

func TestRunCancelsStaleJobs(t *testing.T) {
	f := setup(t, domain.Coreceptor)

	f.store.EXPECT().List(gomock.Any(), "coreceptor").Return([]jobstore.JobSummary{
		{ID: "J2", CreatedAt: testNow.Add(-30 * time.Hour).Format(time.RFC3339), Submit: false, Pending: true},
		// pending but within the limit, left alone
		{ID: "J3", CreatedAt: testNow.Add(-2 * time.Hour).Format(time.RFC3339), Pending: true},
	}, nil)
	f.dispatcher.EXPECT().Dispatch(gomock.Any(), dispatch.Request{
		JobType: domain.Coreceptor, ID: "J2", Stale: true,
	}).Return(nil)
	f.notifier.EXPECT().Send(gomock.Any(), notify.StaleDigestSubject, gomock.Any(), []string{"admin@example.org"}).
		DoAndReturn(func(_ context.Context, _, body string, _ []string) error {
			assert.Contains(t, body, "(1) Stale submissions at API endpoint https://api.example.org/coreceptor.")
			return nil
		})

	require.NoError(t, f.sched.Run(context.Background()))
	assert.Equal(t, int64(1), f.stat.Scope("coreceptor").Counter(stats.SchedStaleCounter).Count())
}

func TestRunExitsWhenLockHeld(t *testing.T) {
	f := setup(t, domain.JobTypes...)

	// a previous run crashed an hour ago, well within the grace window
	_, err := f.lock.Create(testNow.Add(-time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.sched.Run(context.Background()))
	assert.True(t, f.lockExists(t))
	assert.Equal(t, int64(1), f.stat.Counter(stats.SchedLockBusyCounter).Count())
}

func TestRunReclaimsStaleLockAndAlerts(t *testing.T) {
	f := setup(t, domain.Splicing)

	_, err := f.lock.Create(testNow.Add(-13 * time.Hour))
	require.NoError(t, err)

	f.notifier.EXPECT().Send(gomock.Any(), LockReclaimedSubject, gomock.Any(), []string{"admin@example.org"}).Return(nil)
	f.store.EXPECT().List(gomock.Any(), "splicing").Return(nil, nil)

	require.NoError(t, f.sched.Run(context.Background()))
	assert.False(t, f.lockExists(t))
	assert.Equal(t, int64(1), f.stat.Counter(stats.SchedLockReclaimedCounter).Count())
}

func TestRunIsolatesListFailures(t *testing.T) {
	f := setup(t, domain.OGV, domain.TCSDR)

	f.store.EXPECT().List(gomock.Any(), "ogv").Return(nil, hpcerrors.NewTransientUpstreamError(errors.New("503"), ""))
	f.store.EXPECT().List(gomock.Any(), "tcsdr").Return([]jobstore.JobSummary{
		{ID: "T1", CreatedAt: testNow.Format(time.RFC3339), Submit: true, ItemCount: count(30)},
	}, nil)
	f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req dispatch.Request) error {
			assert.Equal(t, "T1", req.ID)
			assert.Equal(t, 9, req.Plan.Cores)
			return nil
		})
	f.store.EXPECT().Patch(gomock.Any(), "tcsdr", "T1", jobstore.PendingPatch()).Return(nil)
	f.notifier.EXPECT().Send(gomock.Any(), notify.StaleDigestSubject, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, body string, _ []string) error {
			assert.True(t, strings.HasSuffix(body, "Failed to fetch https://api.example.org/ogv"))
			return nil
		})

	require.NoError(t, f.sched.Run(context.Background()))
	assert.Equal(t, int64(1), f.stat.Scope("ogv").Counter(stats.SchedListFailureCounter).Count())
}

func TestRunSkipsPatchWhenDispatchFails(t *testing.T) {
	f := setup(t, domain.OGV)

	f.store.EXPECT().List(gomock.Any(), "ogv").Return([]jobstore.JobSummary{
		{ID: "A", CreatedAt: testNow.Format(time.RFC3339), Submit: true, ItemCount: count(2)},
		{ID: "B", CreatedAt: testNow.Format(time.RFC3339), Submit: true, ItemCount: count(1)},
	}, nil)
	f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req dispatch.Request) error {
			if req.ID == "A" {
				return errors.New("sbatch: command not found")
			}
			return nil
		}).Times(2)
	// only B is marked pending, A is retried next tick
	f.store.EXPECT().Patch(gomock.Any(), "ogv", "B", jobstore.PendingPatch()).Return(errors.New("timeout"))

	require.NoError(t, f.sched.Run(context.Background()))
	ogv := f.stat.Scope("ogv")
	assert.Equal(t, int64(1), ogv.Counter(stats.SchedSubmitFailureCounter).Count())
	assert.Equal(t, int64(1), ogv.Counter(stats.SchedPatchFailureCounter).Count())
}

func TestRunLockFailureIsFatal(t *testing.T) {
	f := setup(t, domain.OGV)
	f.sched.lock = lock.New(filepath.Join(t.TempDir(), "missing", "lock_process"), time.Hour)

	err := f.sched.Run(context.Background())
	require.Error(t, err)
	assert.True(t, hpcerrors.IsSchedulerFatal(err))
	assert.Equal(t, hpcerrors.ExitCode(hpcerrors.LockFailureExitCode), hpcerrors.ExitCodeOf(err))
}

func TestRunReleaseFailureIsFatal(t *testing.T) {
	f := setup(t, domain.OGV)

	f.store.EXPECT().List(gomock.Any(), "ogv").DoAndReturn(func(context.Context, string) ([]jobstore.JobSummary, error) {
		// someone removed the lock while the tick was running
		require.NoError(t, os.Remove(f.lock.Path()))
		return nil, nil
	})

	err := f.sched.Run(context.Background())
	require.Error(t, err)
	assert.True(t, hpcerrors.IsSchedulerFatal(err))
}
