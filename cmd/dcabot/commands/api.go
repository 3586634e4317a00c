package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlegall/dcabot/internal/api"
	"github.com/mlegall/dcabot/internal/api/handlers"
	"github.com/mlegall/dcabot/internal/marketdata"
	"github.com/mlegall/dcabot/internal/scheduler"
	"github.com/mlegall/dcabot/internal/scoring/formula"
	"github.com/mlegall/dcabot/pkg/metrics"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server and the scoring schedule",
	Long: `Starts the admin API server together with the scheduler, so
stream subscribers receive scoring runs as they complete.

Endpoints:
  GET  /health                     - health check
  GET  /metrics                    - Prometheus metrics
  GET  /api/config                 - effective configuration
  PUT  /api/config/{key}           - set an override
  GET  /api/formulas               - stored formulas
  PUT  /api/formulas/{name}        - set a formula
  GET  /api/tickers                - ticker list
  POST /api/score/{ticker}         - score one ticker now
  GET  /api/history                - recent score history
  GET  /api/jobs                   - scheduler statistics
  GET  /api/stream                 - websocket score stream

Example:
  go run ./cmd/dcabot api
  go run ./cmd/dcabot api --port 8089`,
	RunE: runAPIServer,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (default from PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := initCore()
	if err != nil {
		return err
	}
	if apiPort != "" {
		cfg.Port = apiPort
	}

	repo, db, err := initStore(cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	m := metrics.New()
	hub := api.NewHub(log)

	sched := scheduler.New(log)
	if err := sched.AddJob(buildDailyJob(cfg, log, repo, m, hub)); err != nil {
		return fmt.Errorf("register scoring job: %w", err)
	}

	market := marketdata.NewClient(cfg, log)
	st := resolverStore(repo)

	deps := api.RouterDeps{
		Score:       handlers.NewScoreHandler(market, st, cfg.StaticConfigPath, log),
		History:     handlers.NewHistoryHandler(st, cfg.StaticConfigPath, log),
		Jobs:        handlers.NewJobsHandler(sched, log),
		Hub:         hub,
		AdminTokens: cfg.AdminTokens,
	}
	if repo != nil {
		deps.Admin = handlers.NewAdminHandler(repo, cfg.StaticConfigPath, formula.Validate, log)
	}
	if cfg.MetricsEnabled {
		deps.Metrics = m.Handler()
	}

	server := api.New(cfg, log, api.NewRouter(deps, log))

	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
