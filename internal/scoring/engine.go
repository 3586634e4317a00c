package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/indicators"
	"github.com/mlegall/dcabot/internal/scoring/formula"
	"github.com/mlegall/dcabot/pkg/logger"
)

// weightEpsilon guards the renormalization check against floating-point
// drift: active weights summing to 0.999999 are treated as already
// normalized instead of being silently renormalized.
const weightEpsilon = 1e-9

// Result is one live composite score for a ticker. Immutable once
// produced; consumed by the notifier, the history appender and the admin
// surface.
type Result struct {
	Ticker        string             `json:"ticker"`
	ProductName   string             `json:"product_name"`
	Score         float64            `json:"score"`
	Close         float64            `json:"close"`
	MA50          float64            `json:"ma50"`
	MA200         float64            `json:"ma200"`
	RSI14         float64            `json:"rsi14"`
	Drawdown90Pct float64            `json:"drawdown90_pct"`
	Vol20Pct      float64            `json:"vol20_pct"`
	Momentum30Pct float64            `json:"momentum30_pct"`
	Components    map[string]float64 `json:"components"`
	Timestamp     time.Time          `json:"timestamp"`
}

// HistoricalRow is a point-in-time score for one past entry of a series,
// used by the backtest runner. Components carries one entry per active
// formula, emitted downstream as score_<name> columns.
type HistoricalRow struct {
	Index         int                `json:"index"`
	Score         float64            `json:"score"`
	Close         float64            `json:"close"`
	MA50          float64            `json:"ma50"`
	MA200         float64            `json:"ma200"`
	RSI14         float64            `json:"rsi14"`
	Drawdown90Pct float64            `json:"drawdown90_pct"`
	Vol20Pct      float64            `json:"vol20_pct"`
	Momentum30Pct float64            `json:"momentum30_pct"`
	Components    map[string]float64 `json:"components"`
}

// Engine computes composite scores against one configuration snapshot.
// It is stateless across calls; resolving a new configuration requires
// constructing a new engine.
type Engine struct {
	cfg    *botconfig.Effective
	eval   *formula.Evaluator
	logger *logger.Logger

	onFormulaError func(name string)
}

// New creates a scoring engine bound to a resolved configuration snapshot
func New(cfg *botconfig.Effective, log *logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		eval:   formula.NewEvaluator(log),
		logger: log,
	}
}

// SetFormulaErrorHook registers a callback invoked once per failed
// formula evaluation, with the formula's name. The scheduled job feeds
// the formula error counter through this.
func (e *Engine) SetFormulaErrorHook(fn func(name string)) {
	e.onFormulaError = fn
}

// Score computes the live composite score from the full price series.
// productName is best-effort display metadata; when empty the raw ticker
// symbol is used.
func (e *Engine) Score(ticker, productName string, closes []float64) (*Result, error) {
	if len(closes) == 0 {
		return nil, fmt.Errorf("no price data for %s", ticker)
	}

	if productName == "" {
		productName = ticker
	}

	snap := indicators.Latest(closes)
	composite, components := e.compose(snap)

	e.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"score":  round1(100 * composite),
	}).Debug("Computed live score")

	return &Result{
		Ticker:        ticker,
		ProductName:   productName,
		Score:         round1(100 * composite),
		Close:         snap.Close,
		MA50:          snap.MA50,
		MA200:         snap.MA200,
		RSI14:         round2(snap.RSI14),
		Drawdown90Pct: round2(snap.Drawdown90 * 100),
		Vol20Pct:      round2(snap.Vol20 * 100),
		Momentum30Pct: round2(snap.Momentum30 * 100),
		Components:    components,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ScoreAt computes the composite score for the prefix closes[0..idx].
// It requires the full MA200 warm-up: with fewer than 200 entries
// available it reports no result, never a degraded score.
func (e *Engine) ScoreAt(closes []float64, idx int) (*HistoricalRow, bool) {
	if idx < 0 || idx >= len(closes) {
		return nil, false
	}
	if idx+1 < indicators.MinHistoryBars {
		return nil, false
	}

	snap := indicators.At(closes, idx)
	composite, components := e.compose(snap)

	return &HistoricalRow{
		Index:         idx,
		Score:         round1(100 * composite),
		Close:         snap.Close,
		MA50:          snap.MA50,
		MA200:         snap.MA200,
		RSI14:         round2(snap.RSI14),
		Drawdown90Pct: round2(snap.Drawdown90 * 100),
		Vol20Pct:      round2(snap.Vol20 * 100),
		Momentum30Pct: round2(snap.Momentum30 * 100),
		Components:    components,
	}, true
}

// compose evaluates every active formula against the snapshot and combines
// the component scores. A formula is active when its configured weight is
// strictly positive and an expression exists for its name. A failing
// formula contributes 0.0 but its weight still takes part in
// renormalization, so one broken formula never inflates its siblings.
func (e *Engine) compose(snap indicators.Snapshot) (float64, map[string]float64) {
	vars := formula.Variables(snap, e.cfg.DrawdownCap(), e.cfg.VolatilityCap())
	formulas := e.cfg.Formulas()
	weights := e.cfg.FormulaWeights()

	names := make([]string, 0, len(weights))
	for name, w := range weights {
		if w > 0 {
			if _, ok := formulas[name]; ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	components := make(map[string]float64, len(names))
	var weighted, total float64
	for _, name := range names {
		score, ok := e.eval.Eval(name, formulas[name], vars)
		if !ok && e.onFormulaError != nil {
			e.onFormulaError(name)
		}
		components[name] = round3(score)
		weighted += weights[name] * score
		total += weights[name]
	}

	if total == 0 {
		return 0.0, components
	}

	composite := weighted
	if math.Abs(total-1.0) > weightEpsilon {
		composite = weighted / total
	}
	return composite, components
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
