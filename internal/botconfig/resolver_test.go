package botconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlegall/dcabot/pkg/config"
	"github.com/mlegall/dcabot/pkg/logger"
)

type fakeStore struct {
	values   map[string]string
	formulas map[string]FormulaDefinition
	tickers  []string
	err      error
}

func (s *fakeStore) All(ctx context.Context) (map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.values, nil
}

func (s *fakeStore) ListFormulas(ctx context.Context) (map[string]FormulaDefinition, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.formulas, nil
}

func (s *fakeStore) ListTickers(ctx context.Context, enabledOnly bool) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tickers, nil
}

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "development", LogLevel: "error", LogFormat: "json"})
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveDefaultsOnly(t *testing.T) {
	cfg := Resolve(context.Background(), "", &fakeStore{}, testLogger())

	assert.Equal(t, "365d", cfg.DataPeriod())
	assert.Equal(t, 0.25, cfg.DrawdownCap())
	assert.Equal(t, 0.10, cfg.VolatilityCap())
	assert.Equal(t, "UTC", cfg.Timezone())
	assert.False(t, cfg.DevMode())

	weights := cfg.FormulaWeights()
	assert.Equal(t, 0.25, weights["drawdown90"])
	assert.Equal(t, 0.25, weights["rsi14"])
	assert.Equal(t, 0.20, weights["dist_ma50"])
	assert.Equal(t, 0.15, weights["momentum30"])
	assert.Equal(t, 0.10, weights["trend_ma200"])
	assert.Equal(t, 0.05, weights["volatility20"])

	// Every default weight name has a default expression.
	formulas := cfg.Formulas()
	for name := range weights {
		assert.Contains(t, formulas, name)
	}
}

func TestResolveStaticLayer(t *testing.T) {
	path := writeYAML(t, `
drawdown_cap: 0.30
tickers:
  - XXX
weights:
  drawdown90: 0.40
`)

	cfg := Resolve(context.Background(), path, &fakeStore{}, testLogger())

	assert.Equal(t, 0.30, cfg.DrawdownCap())
	assert.Equal(t, []string{"XXX"}, cfg.Tickers())
	// Overridden leaf changed, siblings keep their defaults.
	assert.Equal(t, 0.40, cfg.FormulaWeights()["drawdown90"])
	assert.Equal(t, 0.25, cfg.FormulaWeights()["rsi14"])
	// Untouched scalar keeps its default.
	assert.Equal(t, 0.10, cfg.VolatilityCap())
}

func TestResolveDottedPathOverride(t *testing.T) {
	st := &fakeStore{values: map[string]string{
		"weights.drawdown90": "0.5",
	}}

	cfg := Resolve(context.Background(), "", st, testLogger())

	weights := cfg.FormulaWeights()
	assert.Equal(t, 0.5, weights["drawdown90"])
	// Siblings under the same nested node are untouched.
	assert.Equal(t, 0.25, weights["rsi14"])
	assert.Equal(t, 0.20, weights["dist_ma50"])
	assert.Equal(t, 0.15, weights["momentum30"])
	assert.Equal(t, 0.10, weights["trend_ma200"])
	assert.Equal(t, 0.05, weights["volatility20"])
}

func TestResolveFlatOverride(t *testing.T) {
	st := &fakeStore{values: map[string]string{
		"drawdown_cap": "0.35",
		"dev_mode":     "true",
	}}

	cfg := Resolve(context.Background(), "", st, testLogger())

	assert.Equal(t, 0.35, cfg.DrawdownCap())
	assert.True(t, cfg.DevMode())
}

func TestResolveKeepsUnparseableValueAsString(t *testing.T) {
	st := &fakeStore{values: map[string]string{
		"data_period": "180d", // not valid JSON, kept verbatim
	}}

	cfg := Resolve(context.Background(), "", st, testLogger())
	assert.Equal(t, "180d", cfg.DataPeriod())
}

func TestResolveStoreTickersReplaceStaticList(t *testing.T) {
	path := writeYAML(t, "tickers: [XXX]\n")
	st := &fakeStore{tickers: []string{"AAA", "BBB"}}

	cfg := Resolve(context.Background(), path, st, testLogger())
	assert.Equal(t, []string{"AAA", "BBB"}, cfg.Tickers())
}

func TestResolveEmptyStoreTickersKeepStaticList(t *testing.T) {
	path := writeYAML(t, "tickers: [XXX]\n")

	cfg := Resolve(context.Background(), path, &fakeStore{}, testLogger())
	assert.Equal(t, []string{"XXX"}, cfg.Tickers())
}

func TestResolveStoreFormulasSupersede(t *testing.T) {
	st := &fakeStore{formulas: map[string]FormulaDefinition{
		"rsi14": {
			Name:       "rsi14",
			Expression: "1.0 - rsi / 100.0",
			Weight:     0.7,
		},
		"custom": {
			Name:       "custom",
			Expression: "min(drawdown, 1.0)",
			Weight:     0.3,
		},
	}}

	cfg := Resolve(context.Background(), "", st, testLogger())

	assert.Equal(t, "1.0 - rsi / 100.0", cfg.Formulas()["rsi14"])
	assert.Equal(t, 0.7, cfg.FormulaWeights()["rsi14"])
	assert.Equal(t, "min(drawdown, 1.0)", cfg.Formulas()["custom"])
	assert.Equal(t, 0.3, cfg.FormulaWeights()["custom"])
	// Unrelated defaults stay.
	assert.Equal(t, 0.25, cfg.FormulaWeights()["drawdown90"])
}

func TestResolveStoreUnreachableFallsBack(t *testing.T) {
	path := writeYAML(t, "drawdown_cap: 0.30\ntickers: [XXX]\n")
	st := &fakeStore{err: errors.New("connection refused")}

	cfg := Resolve(context.Background(), path, st, testLogger())

	// Defaults + static layer only; never an error to the caller.
	assert.Equal(t, 0.30, cfg.DrawdownCap())
	assert.Equal(t, []string{"XXX"}, cfg.Tickers())
	assert.Equal(t, 0.25, cfg.FormulaWeights()["drawdown90"])
}

func TestResolveSnapshotIsolation(t *testing.T) {
	cfg := Resolve(context.Background(), "", &fakeStore{}, testLogger())

	weights := cfg.FormulaWeights()
	weights["drawdown90"] = 99.0
	assert.Equal(t, 0.25, cfg.FormulaWeights()["drawdown90"], "accessor must return a copy")

	tickers := cfg.Tickers()
	tickers = append(tickers, "MUT")
	_ = tickers
	assert.Empty(t, cfg.Tickers())
}
