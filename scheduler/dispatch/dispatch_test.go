package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/scheduler/domain"
)

func testConfig() Config {
	return Config{
		WorkerBinary: "/opt/hpc/bin/worker",
		LogDir:       func(jobType string) string { return "/logs/" + jobType },
		AdminEmail:   "admin@example.org",
		WorkDir:      "/opt/hpc",
	}
}

func TestWorkerCommand(t *testing.T) {
	cfg := testConfig()
	plan := domain.Plan(domain.Intactness, 4)

	cmd := WorkerCommand(cfg, Request{JobType: domain.Intactness, ID: "J1", Plan: &plan})
	assert.Equal(t, []string{"/opt/hpc/bin/worker", "intactness", "--id=J1", "--cores=2"}, cmd.Argv)
	assert.Equal(t, "/opt/hpc", cmd.Dir)

	cfg.Dev = true
	cfg.ConfigPath = "/etc/hpcqueue/locations.json"
	cmd = WorkerCommand(cfg, Request{JobType: domain.OGV, ID: "J2", Stale: true})
	assert.Equal(t, []string{"/opt/hpc/bin/worker", "ogv", "--id=J2", "--is_dev", "--is_stale",
		"--config=/etc/hpcqueue/locations.json"}, cmd.Argv)
}

func TestSbatchCommand(t *testing.T) {
	cfg := testConfig()
	req := Request{JobType: domain.Intactness, ID: "J1"}
	plan := domain.ResourcePlan{Cores: 2, MemoryMB: 40000, WallMinutes: 20}
	req.Plan = &plan

	cmd := SbatchCommand(cfg, req, plan, WorkerCommand(cfg, req))
	assert.Equal(t, []string{
		"sbatch",
		"-o", "/logs/intactness/J1.out",
		"-n", "3",
		"--job-name=intactness-J1",
		"--mem=40000",
		"-t", "20",
		"--mail-type=FAIL", "--mail-user=admin@example.org",
		"--wrap=/opt/hpc/bin/worker intactness --id=J1 --cores=2",
	}, cmd.Argv)

	// ids are quoted inside the wrapped shell string
	req.ID = "has space"
	cmd = SbatchCommand(cfg, req, plan, WorkerCommand(cfg, req))
	assert.Equal(t, "--wrap=/opt/hpc/bin/worker intactness '--id=has space' --cores=2", cmd.Argv[len(cmd.Argv)-1])
}

func TestDispatchSubmitsToSlurm(t *testing.T) {
	runner := exec.NewFakeRunner(func(_ context.Context, c exec.Command) exec.RunResult {
		return exec.RunResult{Stdout: []byte("Submitted batch job 12345\n")}
	})
	d := New(testConfig(), runner)
	plan := domain.Plan(domain.OGV, 3)

	require.NoError(t, d.Dispatch(context.Background(), Request{JobType: domain.OGV, ID: "J1", Plan: &plan}))
	cmds := runner.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "sbatch", cmds[0].Argv[0])
	assert.Contains(t, cmds[0].Argv, "--mem=15000")
	assert.Contains(t, cmds[0].Argv, "-n")
}

func TestDispatchForegroundPaths(t *testing.T) {
	runner := exec.NewFakeRunner(nil)
	plan := domain.Plan(domain.Coreceptor, 0)

	d := New(testConfig(), runner)
	require.NoError(t, d.Dispatch(context.Background(), Request{JobType: domain.Coreceptor, ID: "S", Stale: true}))

	cfg := testConfig()
	cfg.Dev = true
	d = New(cfg, runner)
	require.NoError(t, d.Dispatch(context.Background(), Request{JobType: domain.Coreceptor, ID: "D", Plan: &plan}))

	cmds := runner.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, []string{"/opt/hpc/bin/worker", "coreceptor", "--id=S", "--is_stale"}, cmds[0].Argv)
	assert.Equal(t, []string{"/opt/hpc/bin/worker", "coreceptor", "--id=D", "--cores=1", "--is_dev"}, cmds[1].Argv)
}

func TestDispatchReportsSpawnFailure(t *testing.T) {
	runner := exec.NewFakeRunner(func(context.Context, exec.Command) exec.RunResult {
		return exec.RunResult{Error: errors.New("exit status 1"), Stderr: []byte("sbatch: error: invalid partition")}
	})
	plan := domain.Plan(domain.Splicing, 0)
	err := New(testConfig(), runner).Dispatch(context.Background(), Request{JobType: domain.Splicing, ID: "J", Plan: &plan})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid partition")
}

func TestDispatchRateLimited(t *testing.T) {
	runner := exec.NewFakeRunner(nil)
	cfg := testConfig()
	cfg.SubmitInterval = 50 * time.Millisecond
	d := New(cfg, runner)
	plan := domain.Plan(domain.Splicing, 0)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(context.Background(), Request{JobType: domain.Splicing, ID: "J", Plan: &plan}))
	}
	assert.True(t, time.Since(start) >= 90*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, d.Dispatch(ctx, Request{JobType: domain.Splicing, ID: "J", Plan: &plan}))
	assert.Len(t, runner.Commands(), 3)
}
