package botconfig

import (
	"context"
	"encoding/json"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mlegall/dcabot/internal/scoring/formula"
	"github.com/mlegall/dcabot/pkg/logger"
)

// FormulaDefinition is one operator-defined scoring formula as stored in
// the override store. Name is unique within a configuration snapshot.
type FormulaDefinition struct {
	Name        string  `json:"name"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Store is the mutable override layer of the configuration. Implemented by
// the database-backed store; faked in tests.
type Store interface {
	// All returns every scalar override as key -> raw serialized value.
	// Keys may be flat ("drawdown_cap") or dotted ("weights.drawdown90").
	All(ctx context.Context) (map[string]string, error)

	// ListFormulas returns the named formula record set.
	ListFormulas(ctx context.Context) (map[string]FormulaDefinition, error)

	// ListTickers returns configured ticker symbols.
	ListTickers(ctx context.Context, enabledOnly bool) ([]string, error)
}

// defaults is the lowest configuration layer, applied when a key is absent
// from both the static document and the override store.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"data_period":    "365d",
		"drawdown_cap":   0.25,
		"volatility_cap": 0.10,
		"timezone":       "UTC",
		"output_csv":     "data/scores_history.csv",
		"dev_mode":       false,
		"weights": map[string]interface{}{
			"drawdown90":   0.25,
			"rsi14":        0.25,
			"dist_ma50":    0.20,
			"momentum30":   0.15,
			"trend_ma200":  0.10,
			"volatility20": 0.05,
		},
	}
}

// Resolve produces one effective configuration snapshot by layering, in
// order of increasing priority: hardcoded defaults, the static YAML
// document at yamlPath, and the override store. An unreachable store is
// logged and degrades to the defaults+static layers; Resolve never fails.
// The snapshot is immutable: store changes are only picked up by resolving
// again on the next run.
func Resolve(ctx context.Context, yamlPath string, st Store, log *logger.Logger) *Effective {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		log.WithError(err).Error("Failed to load configuration defaults")
	}

	if yamlPath != "" {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			log.WithError(err).WithField("path", yamlPath).Warn("Static config not loaded")
		}
	}

	formulas := make(map[string]string, len(formula.DefaultExpressions))
	for name, expression := range formula.DefaultExpressions {
		formulas[name] = expression
	}
	for name, expression := range k.StringMap("formulas") {
		formulas[name] = expression
	}

	tickers := k.Strings("tickers")

	if st == nil {
		return &Effective{k: k, formulas: formulas, weights: weightTable(k), tickers: tickers}
	}

	overrides, err := st.All(ctx)
	if err != nil {
		log.WithError(err).Error("Override store unreachable, using defaults and static config only")
		return &Effective{k: k, formulas: formulas, weights: weightTable(k), tickers: tickers}
	}

	for key, raw := range overrides {
		// Dotted keys address a nested node; koanf creates the
		// intermediate maps and sets only the leaf.
		if err := k.Set(key, decodeValue(raw)); err != nil {
			log.WithError(err).WithField("key", key).Warn("Skipping invalid override")
		}
	}

	// Weight table after overrides, so dotted "weights.x" keys apply.
	weights := weightTable(k)

	defs, err := st.ListFormulas(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to read formulas from override store")
	} else {
		for name, def := range defs {
			formulas[name] = def.Expression
			weights[name] = def.Weight
		}
	}

	dbTickers, err := st.ListTickers(ctx, true)
	if err != nil {
		log.WithError(err).Error("Failed to read tickers from override store")
	} else if len(dbTickers) > 0 {
		// Store tickers replace the static list entirely.
		tickers = dbTickers
	}

	return &Effective{k: k, formulas: formulas, weights: weights, tickers: tickers}
}

// decodeValue deserializes a stored override value. Values are stored as
// JSON; one that fails to deserialize is kept as a raw string.
func decodeValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// weightTable extracts the merged weights mapping as name -> weight
func weightTable(k *koanf.Koanf) map[string]float64 {
	out := make(map[string]float64)

	raw, ok := k.Get("weights").(map[string]interface{})
	if !ok {
		return out
	}

	for name, v := range raw {
		if w, ok := toFloat(v); ok {
			out[name] = w
		}
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
