package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/mlegall/dcabot/internal/indicators"
	"github.com/mlegall/dcabot/internal/marketdata"
	"github.com/mlegall/dcabot/internal/scoring"
	"github.com/mlegall/dcabot/pkg/logger"
)

// Row is one scored day of a backtest
type Row struct {
	Date time.Time `json:"date"`
	scoring.HistoricalRow
}

// Report holds the scored rows of one ticker plus summary statistics
// over the covered window. Rows inside the indicator warm-up period
// are excluded.
type Report struct {
	Ticker    string    `json:"ticker"`
	Rows      []Row     `json:"rows"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	MinScore  float64   `json:"min_score"`
	MaxScore  float64   `json:"max_score"`
	MeanScore float64   `json:"mean_score"`
	LastScore float64   `json:"last_score"`
}

// Runner replays the scoring engine over historical bars
type Runner struct {
	engine *scoring.Engine
	logger *logger.Logger
}

func NewRunner(engine *scoring.Engine, log *logger.Logger) *Runner {
	return &Runner{engine: engine, logger: log}
}

// Run scores every bar of the series that clears the warm-up window.
// Days limits the output to the most recent n scored rows; zero keeps
// them all.
func (r *Runner) Run(ticker string, bars []marketdata.Bar, days int) (*Report, error) {
	if len(bars) < indicators.MinHistoryBars {
		return nil, fmt.Errorf("backtest %s: %d bars, need at least %d",
			ticker, len(bars), indicators.MinHistoryBars)
	}

	closes := marketdata.Closes(bars)
	rows := make([]Row, 0, len(bars)-indicators.MinHistoryBars+1)
	for i := range bars {
		hr, ok := r.engine.ScoreAt(closes, i)
		if !ok {
			continue
		}
		rows = append(rows, Row{Date: bars[i].Date, HistoricalRow: *hr})
	}

	if days > 0 && len(rows) > days {
		rows = rows[len(rows)-days:]
	}

	report := &Report{Ticker: ticker, Rows: rows}
	report.summarize()

	r.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"bars":   len(bars),
		"rows":   len(rows),
	}).Info("Backtest completed")
	return report, nil
}

func (rep *Report) summarize() {
	if len(rep.Rows) == 0 {
		return
	}

	rep.StartDate = rep.Rows[0].Date
	rep.EndDate = rep.Rows[len(rep.Rows)-1].Date
	rep.LastScore = rep.Rows[len(rep.Rows)-1].Score

	scores := make([]float64, len(rep.Rows))
	var sum float64
	for i, row := range rep.Rows {
		scores[i] = row.Score
		sum += row.Score
	}
	sort.Float64s(scores)

	rep.MinScore = scores[0]
	rep.MaxScore = scores[len(scores)-1]
	rep.MeanScore = sum / float64(len(scores))
}
