// The worker runs exactly one job, as submitted by the scheduler:
//
//	worker <type> --id=<id> [--cores=<n>] [--is_dev] [--is_stale] [--config=<path>]
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	hpcerrors "github.com/primerid/hpcqueue/common/errors"
	hpclog "github.com/primerid/hpcqueue/common/log"
	"github.com/primerid/hpcqueue/common/log/tags"
	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/common/stats"
	"github.com/primerid/hpcqueue/config"
	"github.com/primerid/hpcqueue/jobstore"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/storage"
	"github.com/primerid/hpcqueue/worker/jobs"
	"github.com/primerid/hpcqueue/worker/pipeline"
	"github.com/primerid/hpcqueue/worker/runner"
)

func main() {
	var (
		configPath string
		logLevel   string
	)
	rootCmd := &cobra.Command{
		Use:           "worker",
		Short:         "worker runs one pipeline job",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			hpclog.Setup(logLevel, nil)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "locations file (default: locations.yaml in ., ~/.hpcqueue or /etc/hpcqueue)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "info", "log level")

	for _, jt := range domain.JobTypes {
		rootCmd.AddCommand(jobCmd(jt, &configPath))
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(int(hpcerrors.ExitCodeOf(err)))
	}
}

func jobCmd(jt domain.JobType, configPath *string) *cobra.Command {
	var opts jobs.Options
	cmd := &cobra.Command{
		Use:   jt.String(),
		Short: "run one " + jt.Title() + " job",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return run(jt, opts, *configPath)
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "job id in the job store")
	cmd.Flags().IntVar(&opts.Cores, "cores", 1, "cores available to the job's units")
	cmd.Flags().BoolVar(&opts.Dev, "is_dev", false, "log emails instead of sending them, use local storage if configured")
	cmd.Flags().BoolVar(&opts.Stale, "is_stale", false, "cancel the job as stale instead of running it")
	cmd.MarkFlagRequired("id")
	return cmd
}

func run(jt domain.JobType, opts jobs.Options, configPath string) error {
	logger := tags.LogTags{JobType: jt.String(), JobID: opts.ID}.Entry()
	l, err := config.Load(configPath, opts.Dev)
	if err != nil {
		return hpcerrors.NewError(err, hpcerrors.GenericFailureExitCode)
	}
	logger.Info(opts)

	job, err := jobs.For(jt)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	osRunner := exec.NewRunner(exec.NewOsExec())
	deps := pipeline.Deps{
		Locations: l,
		Store:     jobstore.NewClient(l.APIURL.Resolve, l.APIKey),
		Storage:   storage.FromLocations(l, osRunner),
		Mail:      &notify.Gateway{Notifier: notify.FromLocations(l), AdminEmail: l.AdminEmail},
		Templates: notify.Templates{SiteURL: l.SiteURL},
		Stat:      stats.DefaultStatsReceiver(),
	}
	env := jobs.Env{
		Tools:  l.Tools,
		Runner: osRunner,
		Tool:   runner.NewToolRunner(osRunner, l.Tools.UnitTimeout),
		Cores:  opts.Cores,
	}
	if err := job(ctx, opts, deps, env); err != nil {
		return err
	}
	logger.Infof("Worker finished, stats: %s", deps.Stat.Render(false))
	return nil
}
