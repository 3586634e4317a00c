package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/store"
	"github.com/mlegall/dcabot/pkg/config"
	"github.com/mlegall/dcabot/pkg/database"
	"github.com/mlegall/dcabot/pkg/logger"
)

var (
	// Global flags
	configFile string
	devMode    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dcabot",
	Short: "DCA scoring bot for long-term index investors",
	Long: `dcabot computes a daily buy-opportunity score (0-100) for a
configurable list of tickers, built from technical indicators over
daily closes. High scores mark drawdowns worth topping up into.

Usage:
  go run ./cmd/dcabot [command]

Examples:
  go run ./cmd/dcabot score VWCE.DE
  go run ./cmd/dcabot backtest VWCE.DE --days 90
  go run ./cmd/dcabot scheduler start
  go run ./cmd/dcabot api`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "static config file (default from CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "dev mode (every-minute schedule)")
}

// initCore loads the environment config and builds the logger
func initCore() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if configFile != "" {
		cfg.StaticConfigPath = configFile
	}
	if devMode {
		cfg.DevMode = true
	}

	return cfg, logger.New(cfg), nil
}

// initStore connects the override store when a database is configured.
// Without DATABASE_URL the bot runs on defaults and the static file
// alone, which is fine for local use.
func initStore(cfg *config.Config, log *logger.Logger) (*store.Repository, *database.DB, error) {
	if cfg.Database.URL == "" {
		log.Warn("No database configured, overrides and admin config disabled")
		return nil, nil, nil
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	repo := store.NewRepository(db.Pool)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, db, nil
}

// resolverStore widens a possibly-nil repository into the resolver
// interface. A typed nil pointer must not become a non-nil interface.
func resolverStore(repo *store.Repository) botconfig.Store {
	if repo == nil {
		return nil
	}
	return repo
}
