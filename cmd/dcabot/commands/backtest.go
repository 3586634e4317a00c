package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlegall/dcabot/internal/backtest"
	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/marketdata"
	"github.com/mlegall/dcabot/internal/scoring"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest [ticker]",
	Short: "Replay the scoring engine over past closes",
	Long: `Scores every historical day of one ticker with the current
configuration, to see how the composite score would have behaved.

Example:
  go run ./cmd/dcabot backtest VWCE.DE
  go run ./cmd/dcabot backtest VWCE.DE --days 90 --period 5y`,
	Args: cobra.ExactArgs(1),
	RunE: runBacktest,
}

var (
	backtestDays   int
	backtestPeriod string
	backtestTable  bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().IntVar(&backtestDays, "days", 0, "limit output to the last N scored days (0 = all)")
	backtestCmd.Flags().StringVar(&backtestPeriod, "period", "", "history period to fetch (default from config)")
	backtestCmd.Flags().BoolVar(&backtestTable, "table", false, "print every scored row")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ticker := args[0]

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

	eff := botconfig.Resolve(ctx, cfg.StaticConfigPath, resolverStore(repo), log)

	period := backtestPeriod
	if period == "" {
		period = eff.DataPeriod()
	}

	market := marketdata.NewClient(cfg, log)
	bars, err := market.FetchDaily(ctx, ticker, period)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ticker, err)
	}

	runner := backtest.NewRunner(scoring.New(eff, log), log)
	report, err := runner.Run(ticker, bars, backtestDays)
	if err != nil {
		return err
	}

	fmt.Printf("Backtest %s (%s to %s, %d days)\n",
		report.Ticker,
		report.StartDate.Format("2006-01-02"),
		report.EndDate.Format("2006-01-02"),
		len(report.Rows))
	fmt.Printf("  Score min/mean/max: %.1f / %.1f / %.1f\n",
		report.MinScore, report.MeanScore, report.MaxScore)
	fmt.Printf("  Last score:         %.1f\n", report.LastScore)

	if backtestTable {
		fmt.Printf("\n%-12s %8s %10s %8s %8s\n", "DATE", "SCORE", "CLOSE", "RSI14", "DD90%")
		for _, row := range report.Rows {
			fmt.Printf("%-12s %8.1f %10.2f %8.2f %8.2f\n",
				row.Date.Format("2006-01-02"), row.Score, row.Close, row.RSI14, row.Drawdown90Pct)
		}
	}

	return nil
}
