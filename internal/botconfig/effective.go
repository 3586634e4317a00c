package botconfig

import "github.com/knadh/koanf/v2"

// Effective is one merged configuration snapshot. It is resolved once per
// job invocation (or once per backtest run), held for the scoring engine's
// lifetime and never mutated; accessors return copies where the underlying
// value is a map or slice.
type Effective struct {
	k        *koanf.Koanf
	formulas map[string]string
	weights  map[string]float64
	tickers  []string
}

// DataPeriod returns the provider history period (e.g. "365d")
func (e *Effective) DataPeriod() string {
	return e.k.String("data_period")
}

// DrawdownCap returns the drawdown normalization cap
func (e *Effective) DrawdownCap() float64 {
	return e.k.Float64("drawdown_cap")
}

// VolatilityCap returns the volatility normalization cap
func (e *Effective) VolatilityCap() float64 {
	return e.k.Float64("volatility_cap")
}

// Timezone returns the scheduler timezone name
func (e *Effective) Timezone() string {
	return e.k.String("timezone")
}

// OutputCSV returns the history file path
func (e *Effective) OutputCSV() string {
	return e.k.String("output_csv")
}

// DevMode reports whether the every-minute dev schedule is enabled
func (e *Effective) DevMode() bool {
	return e.k.Bool("dev_mode")
}

// WebhookURL returns the notification webhook, empty when unset
func (e *Effective) WebhookURL() string {
	return e.k.String("webhook_url")
}

// String returns an arbitrary scalar setting as a string
func (e *Effective) String(key string) string {
	return e.k.String(key)
}

// Formulas returns the active formula expressions by name
func (e *Effective) Formulas() map[string]string {
	out := make(map[string]string, len(e.formulas))
	for name, expression := range e.formulas {
		out[name] = expression
	}
	return out
}

// FormulaWeights returns the weight for each formula name. Weights need
// not sum to 1.0; the scoring engine renormalizes.
func (e *Effective) FormulaWeights() map[string]float64 {
	out := make(map[string]float64, len(e.weights))
	for name, w := range e.weights {
		out[name] = w
	}
	return out
}

// Tickers returns the resolved ticker list
func (e *Effective) Tickers() []string {
	out := make([]string, len(e.tickers))
	copy(out, e.tickers)
	return out
}

// Raw returns the merged scalar settings tree for the admin surface
func (e *Effective) Raw() map[string]interface{} {
	return e.k.Raw()
}
