package formula

import (
	"math"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mlegall/dcabot/internal/indicators"
	"github.com/mlegall/dcabot/pkg/logger"
)

// DefaultExpressions are the built-in component formulas, keyed by the
// names of the default weight table. Operator-defined formulas stored in
// the override store go through the exact same evaluator, so an override
// named like a default simply replaces its expression.
var DefaultExpressions = map[string]string{
	"drawdown90":   "drawdown <= 0 ? 0.0 : min(drawdown / cap, 1.0)",
	"rsi14":        "min(max((70.0 - rsi) / 40.0, 0.0), 1.0)",
	"dist_ma50":    "ma50 == 0 ? 0.0 : min(max(1.0 - close / ma50, 0.0), 1.0)",
	"momentum30":   "1.0 / (1.0 + exp(6.0 * momentum))",
	"trend_ma200":  "ma200 == 0 ? 0.5 : (close > ma200 ? 1.0 : 0.3)",
	"volatility20": "vol20 <= 0 ? 1.0 : min(max(1.0 - vol20 / volatility_cap, 0.0), 1.0)",
}

// Variables builds the evaluation namespace for one indicator snapshot.
// This is the complete set of names a formula may reference: the snapshot
// metrics under their short and long aliases, the two configured caps, and
// exp/log/sqrt (min, max and abs are provided by the expression language
// itself). Anything else fails at compile time, so a formula can never
// reach the host environment.
func Variables(snap indicators.Snapshot, drawdownCap, volatilityCap float64) map[string]interface{} {
	return map[string]interface{}{
		"close": snap.Close,
		"ma50":  snap.MA50,
		"ma200": snap.MA200,

		"rsi":        snap.RSI14,
		"rsi14":      snap.RSI14,
		"drawdown":   snap.Drawdown90,
		"drawdown90": snap.Drawdown90,
		"vol20":      snap.Vol20,
		"volatility": snap.Vol20,
		"momentum":   snap.Momentum30,
		"momentum30": snap.Momentum30,

		"cap":            drawdownCap,
		"drawdown_cap":   drawdownCap,
		"volatility_cap": volatilityCap,

		"exp":  math.Exp,
		"log":  math.Log,
		"sqrt": math.Sqrt,
	}
}

// Evaluator evaluates scoring expressions inside a restricted namespace.
// Compiled programs are cached by expression text; the namespace shape is
// identical across calls so a cached program stays valid.
type Evaluator struct {
	logger *logger.Logger

	mu    sync.Mutex
	cache map[string]*vm.Program
}

// NewEvaluator creates a new formula evaluator
func NewEvaluator(log *logger.Logger) *Evaluator {
	return &Evaluator{
		logger: log,
		cache:  make(map[string]*vm.Program),
	}
}

// Eval computes the score for one named formula against vars, clamped to
// [0,1]. Any compile or runtime failure, and any non-finite result, is
// logged with the formula name and expression and yields 0.0 with ok=false;
// a broken formula never aborts scoring of its siblings.
func (e *Evaluator) Eval(name, expression string, vars map[string]interface{}) (float64, bool) {
	program, err := e.compile(expression, vars)
	if err != nil {
		e.logFailure(name, expression, err)
		return 0.0, false
	}

	out, err := expr.Run(program, vars)
	if err != nil {
		e.logFailure(name, expression, err)
		return 0.0, false
	}

	value, ok := out.(float64)
	if !ok {
		e.logger.WithFields(map[string]interface{}{
			"formula":    name,
			"expression": expression,
			"result":     out,
		}).Error("Formula did not produce a number")
		return 0.0, false
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		e.logger.WithFields(map[string]interface{}{
			"formula":    name,
			"expression": expression,
		}).Error("Formula produced a non-finite result")
		return 0.0, false
	}

	return clamp01(value), true
}

func (e *Evaluator) compile(expression string, vars map[string]interface{}) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[expression]; ok {
		return program, nil
	}

	// expr.Env restricts the namespace to exactly the keys of vars; an
	// unknown identifier is a compile error, not a lookup into anything
	// ambient.
	program, err := expr.Compile(expression, expr.Env(vars), expr.AsFloat64())
	if err != nil {
		return nil, err
	}

	e.cache[expression] = program
	return program, nil
}

func (e *Evaluator) logFailure(name, expression string, err error) {
	e.logger.WithError(err).WithFields(map[string]interface{}{
		"formula":    name,
		"expression": expression,
	}).Error("Formula evaluation failed")
}

// Validate checks that an expression compiles against the scoring
// namespace, without evaluating it. Used by the admin surface to
// reject broken formulas at write time.
func Validate(expression string) error {
	vars := Variables(indicators.Snapshot{}, 0.25, 0.10)
	_, err := expr.Compile(expression, expr.Env(vars), expr.AsFloat64())
	return err
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
