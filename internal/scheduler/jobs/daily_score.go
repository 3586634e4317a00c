package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/history"
	"github.com/mlegall/dcabot/internal/marketdata"
	"github.com/mlegall/dcabot/internal/notify"
	"github.com/mlegall/dcabot/internal/scoring"
	"github.com/mlegall/dcabot/pkg/config"
	"github.com/mlegall/dcabot/pkg/logger"
	"github.com/mlegall/dcabot/pkg/metrics"
)

// Broadcaster pushes completed run results to live subscribers
type Broadcaster interface {
	Broadcast(results []*scoring.Result)
}

// DailyScoreJob resolves the effective configuration, scores every
// configured ticker and fans the results out to the notifier, the
// history log and the stream hub. Each run resolves configuration
// fresh so store edits take effect without a restart.
type DailyScoreJob struct {
	cfg         *config.Config
	market      *marketdata.Client
	store       botconfig.Store
	notifier    *notify.Notifier
	metrics     *metrics.Metrics
	broadcaster Broadcaster
	logger      *logger.Logger

	devMode  bool
	timezone string
}

// NewDailyScoreJob creates the daily scoring job. store and
// broadcaster may be nil when the database or the API server is not
// running.
func NewDailyScoreJob(
	cfg *config.Config,
	market *marketdata.Client,
	st botconfig.Store,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	broadcaster Broadcaster,
	devMode bool,
	timezone string,
	log *logger.Logger,
) *DailyScoreJob {
	return &DailyScoreJob{
		cfg:         cfg,
		market:      market,
		store:       st,
		notifier:    notifier,
		metrics:     m,
		broadcaster: broadcaster,
		devMode:     devMode,
		timezone:    timezone,
		logger:      log,
	}
}

// Name returns the job name
func (j *DailyScoreJob) Name() string {
	return "daily_score"
}

// Schedule returns every minute in dev mode, otherwise weekdays at
// 22:10 in the configured timezone, after US market close.
func (j *DailyScoreJob) Schedule() string {
	if j.devMode {
		return "0 * * * * *"
	}
	return fmt.Sprintf("CRON_TZ=%s 0 10 22 * * 1-5", j.timezone)
}

// Run executes one scoring pass over all configured tickers
func (j *DailyScoreJob) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		j.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	eff := botconfig.Resolve(ctx, j.cfg.StaticConfigPath, j.store, j.logger)
	engine := scoring.New(eff, j.logger)
	engine.SetFormulaErrorHook(func(name string) {
		j.metrics.FormulaErrors.WithLabelValues(name).Inc()
	})

	tickers := eff.Tickers()
	if len(tickers) == 0 {
		j.logger.Warn("No tickers configured, nothing to score")
		return nil
	}

	results := make([]*scoring.Result, 0, len(tickers))
	for _, ticker := range tickers {
		result, err := j.scoreTicker(ctx, engine, eff, ticker)
		if err != nil {
			j.logger.WithError(err).WithField("ticker", ticker).Warn("Ticker skipped")
			j.metrics.TickersSkipped.Inc()
			continue
		}
		results = append(results, result)

		j.metrics.ScoresComputed.WithLabelValues(ticker).Inc()
		j.metrics.LastJobScore.WithLabelValues(ticker).Set(result.Score)
	}

	if len(results) == 0 {
		return fmt.Errorf("all %d tickers failed", len(tickers))
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	j.deliver(ctx, eff, results)

	j.logger.WithFields(map[string]interface{}{
		"tickers": len(tickers),
		"scored":  len(results),
		"top":     results[0].Ticker,
	}).Info("Daily scoring run completed")
	return nil
}

func (j *DailyScoreJob) scoreTicker(ctx context.Context, engine *scoring.Engine, eff *botconfig.Effective, ticker string) (*scoring.Result, error) {
	bars, err := j.market.FetchDaily(ctx, ticker, eff.DataPeriod())
	if err != nil {
		j.metrics.ProviderFailures.Inc()
		return nil, fmt.Errorf("fetch %s: %w", ticker, err)
	}
	// Short series score on partial indicator windows; only a ticker
	// with no data at all is skipped.
	if len(bars) == 0 {
		return nil, fmt.Errorf("no price data for %s", ticker)
	}

	name := j.market.ProductName(ctx, ticker)
	return engine.Score(ticker, name, marketdata.Closes(bars))
}

// deliver fans results out to the side channels. Delivery failures
// are logged but never fail the run.
func (j *DailyScoreJob) deliver(ctx context.Context, eff *botconfig.Effective, results []*scoring.Result) {
	appender := history.NewAppender(eff.OutputCSV(), j.logger)
	if err := appender.Append(results); err != nil {
		j.logger.WithError(err).Warn("Failed to append score history")
	}

	if webhook := eff.WebhookURL(); webhook != "" {
		msg := notify.BuildMessage(results, time.Now())
		if err := j.notifier.Send(ctx, webhook, msg); err != nil {
			j.logger.WithError(err).Warn("Failed to deliver Discord notification")
		}
	} else {
		j.logger.Debug("No webhook configured, skipping notification")
	}

	if j.broadcaster != nil {
		j.broadcaster.Broadcast(results)
	}
}
