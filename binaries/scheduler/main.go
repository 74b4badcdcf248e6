// The scheduler is run periodically (cron) on the cluster's login node. Each run is
// one tick: it dispatches submitted jobs to Slurm and cancels stale ones.
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
	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/common/stats"
	"github.com/primerid/hpcqueue/config"
	"github.com/primerid/hpcqueue/jobstore"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/scheduler/dispatch"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/scheduler/lock"
	"github.com/primerid/hpcqueue/scheduler/server"
)

func main() {
	var (
		configPath string
		isDev      bool
		logLevel   string
		printStats bool
	)
	rootCmd := &cobra.Command{
		Use:           "scheduler",
		Short:         "scheduler dispatches pending pipeline jobs to the cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			hpclog.Setup(logLevel, nil)
			return run(configPath, isDev, printStats)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "locations file (default: locations.yaml in ., ~/.hpcqueue or /etc/hpcqueue)")
	rootCmd.Flags().BoolVar(&isDev, "is_dev", false, "run workers in the foreground and log emails instead of sending them")
	rootCmd.Flags().StringVar(&logLevel, "log_level", "info", "log level: panic, fatal, error, warn, info, debug, trace")
	rootCmd.Flags().BoolVar(&printStats, "print_stats", false, "print the tick's stats as json on exit")

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(int(hpcerrors.ExitCodeOf(err)))
	}
}

func run(configPath string, isDev, printStats bool) error {
	l, err := config.Load(configPath, isDev)
	if err != nil {
		return hpcerrors.NewError(err, hpcerrors.ConfigFailureExitCode)
	}
	log.Info(l)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stat := stats.DefaultStatsReceiver()
	runner := exec.NewRunner(exec.NewOsExec())
	store := jobstore.NewClient(l.APIURL.Resolve, l.APIKey)
	dispatcher := dispatch.New(dispatch.Config{
		WorkerBinary:   l.WorkerBinary,
		ConfigPath:     configPath,
		LogDir:         l.LogDir.Resolve,
		AdminEmail:     l.AdminEmail,
		WorkDir:        l.Base,
		Dev:            l.Dev,
		SubmitInterval: l.SubmitInterval,
	}, runner)
	mail := &notify.Gateway{Notifier: notify.FromLocations(l), AdminEmail: l.AdminEmail}

	s := server.NewScheduler(server.SchedulerConfig{
		JobTypes:   domain.JobTypes,
		StaleLimit: l.StaleLimit,
		Endpoint:   l.APIURL.Resolve,
		Dev:        l.Dev,
	}, store, dispatcher, lock.InDir(l.Base, l.LockGrace), mail, stat)

	err = s.Run(ctx)
	log.Infof("Tick stats: %s", stat.Render(false))
	if printStats {
		os.Stdout.Write(stat.Render(true))
	}
	return err
}
