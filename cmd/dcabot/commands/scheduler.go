package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/marketdata"
	"github.com/mlegall/dcabot/internal/notify"
	"github.com/mlegall/dcabot/internal/scheduler"
	"github.com/mlegall/dcabot/internal/scheduler/jobs"
	"github.com/mlegall/dcabot/internal/store"
	"github.com/mlegall/dcabot/pkg/config"
	"github.com/mlegall/dcabot/pkg/logger"
	"github.com/mlegall/dcabot/pkg/metrics"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the scoring schedule without the API server",
	Long: `Starts the scheduler daemon. The daily scoring job runs weekdays
after US market close, or every minute in dev mode.

Subcommands:
  start   - start the scheduler daemon
  run     - run the scoring job once, in the foreground
  status  - show registered jobs

Example:
  go run ./cmd/dcabot scheduler start
  go run ./cmd/dcabot scheduler run
  go run ./cmd/dcabot --dev scheduler start`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		RunE:  runSchedulerDaemon,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the daily scoring job once and exit",
		RunE:  runScoringOnce,
	}

	schedulerStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show registered jobs and their schedules",
		RunE:  showSchedulerStatus,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)
}

// buildDailyJob wires the scoring job from the environment config. The
// schedule is fixed at startup; everything else is resolved again on
// each run.
func buildDailyJob(cfg *config.Config, log *logger.Logger, repo *store.Repository, m *metrics.Metrics, b jobs.Broadcaster) *jobs.DailyScoreJob {
	eff := botconfig.Resolve(context.Background(), cfg.StaticConfigPath, resolverStore(repo), log)

	market := marketdata.NewClient(cfg, log)
	notifier := notify.New(log, cfg.Provider.Timeout)
	dev := cfg.DevMode || eff.DevMode()

	return jobs.NewDailyScoreJob(cfg, market, resolverStore(repo), notifier, m, b, dev, eff.Timezone(), log)
}

func initScheduler(b jobs.Broadcaster, m *metrics.Metrics) (*scheduler.Scheduler, func(), error) {
	cfg, log, err := initCore()
	if err != nil {
		return nil, nil, err
	}

	repo, db, err := initStore(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if db != nil {
			db.Close()
		}
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(buildDailyJob(cfg, log, repo, m, b)); err != nil {
		cleanup()
		return nil, nil, err
	}

	return sched, cleanup, nil
}

func runSchedulerDaemon(cmd *cobra.Command, args []string) error {
	sched, cleanup, err := initScheduler(nil, metrics.New())
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer cleanup()

	sched.Start()

	fmt.Println("Scheduler started, press Ctrl+C to stop")
	for name, stat := range sched.Stats() {
		fmt.Printf("  - %s (%s)\n", name, stat.Schedule)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	sched.Stop()
	return nil
}

func runScoringOnce(cmd *cobra.Command, args []string) error {
	cfg, log, err := initCore()
	if err != nil {
		return err
	}

	repo, db, err := initStore(cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	job := buildDailyJob(cfg, log, repo, metrics.New(), nil)
	return job.Run(context.Background())
}

func showSchedulerStatus(cmd *cobra.Command, args []string) error {
	sched, cleanup, err := initScheduler(nil, metrics.New())
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer cleanup()

	fmt.Println("Registered jobs:")
	for name, stat := range sched.Stats() {
		fmt.Printf("  %s\n", name)
		fmt.Printf("    Schedule: %s\n", stat.Schedule)
		fmt.Printf("    Total runs: %d\n", stat.TotalRuns)
		if stat.LastRun != nil {
			fmt.Printf("    Last run: %s\n", stat.LastRun.Format(time.RFC3339))
		}
	}
	return nil
}
