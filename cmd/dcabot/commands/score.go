package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/marketdata"
	"github.com/mlegall/dcabot/internal/scoring"
)

// scoreCmd represents the score command
var scoreCmd = &cobra.Command{
	Use:   "score [tickers...]",
	Short: "Score tickers now and print the results",
	Long: `Fetches price history and computes the composite score for the
given tickers. Without arguments the configured ticker list is used.

Example:
  go run ./cmd/dcabot score
  go run ./cmd/dcabot score VWCE.DE AAPL`,
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

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
	engine := scoring.New(eff, log)
	market := marketdata.NewClient(cfg, log)

	tickers := args
	if len(tickers) == 0 {
		tickers = eff.Tickers()
	}
	if len(tickers) == 0 {
		return fmt.Errorf("no tickers given and none configured")
	}

	results := make([]*scoring.Result, 0, len(tickers))
	for _, ticker := range tickers {
		bars, err := market.FetchDaily(ctx, ticker, eff.DataPeriod())
		if err != nil {
			log.WithError(err).WithField("ticker", ticker).Warn("Fetch failed, skipping")
			continue
		}
		if len(bars) == 0 {
			log.WithField("ticker", ticker).Warn("No price data, skipping")
			continue
		}

		result, err := engine.Score(ticker, market.ProductName(ctx, ticker), marketdata.Closes(bars))
		if err != nil {
			log.WithError(err).WithField("ticker", ticker).Warn("Scoring failed, skipping")
			continue
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		return fmt.Errorf("no ticker could be scored")
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	fmt.Printf("%-10s %-36s %8s %10s %8s %8s\n", "TICKER", "NAME", "SCORE", "CLOSE", "RSI14", "DD90%")
	for _, r := range results {
		name := r.ProductName
		if len(name) > 36 {
			name = name[:33] + "..."
		}
		fmt.Printf("%-10s %-36s %8.1f %10.2f %8.2f %8.2f\n",
			r.Ticker, name, r.Score, r.Close, r.RSI14, r.Drawdown90Pct)
	}

	return nil
}
