package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlegall/dcabot/internal/marketdata"
	"github.com/mlegall/dcabot/internal/notify"
	"github.com/mlegall/dcabot/internal/scoring"
	"github.com/mlegall/dcabot/pkg/config"
	"github.com/mlegall/dcabot/pkg/logger"
	"github.com/mlegall/dcabot/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "development", LogLevel: "error", LogFormat: "console"})
}

// flatChartPayload builds a provider response with n flat daily bars
func flatChartPayload(n int, price float64) string {
	stamps := make([]string, n)
	vals := make([]string, n)
	vols := make([]string, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		stamps[i] = fmt.Sprintf("%d", base.AddDate(0, 0, i).Unix())
		vals[i] = fmt.Sprintf("%.1f", price)
		vols[i] = fmt.Sprintf("%d", int64(price))
	}
	ts := strings.Join(stamps, ",")
	vs := strings.Join(vals, ",")
	vols2 := strings.Join(vols, ",")
	return fmt.Sprintf(`{
	  "chart": {
	    "result": [{
	      "meta": {"symbol": "VWCE.DE", "longName": "Vanguard FTSE All-World UCITS ETF"},
	      "timestamp": [%s],
	      "indicators": {"quote": [{"open": [%s], "high": [%s], "low": [%s], "close": [%s], "volume": [%s]}]}
	    }],
	    "error": null
	  }
	}`, ts, vs, vs, vs, vs, vols2)
}

type captureBroadcaster struct {
	results []*scoring.Result
}

func (b *captureBroadcaster) Broadcast(results []*scoring.Result) {
	b.results = results
}

func writeStaticConfig(t *testing.T, dir, webhookURL string) (yamlPath, csvPath string) {
	t.Helper()
	csvPath = filepath.Join(dir, "scores.csv")
	yamlPath = filepath.Join(dir, "config.yaml")
	doc := fmt.Sprintf("tickers:\n  - VWCE.DE\nwebhook_url: %q\noutput_csv: %q\n", webhookURL, csvPath)
	require.NoError(t, os.WriteFile(yamlPath, []byte(doc), 0o644))
	return yamlPath, csvPath
}

func newTestJob(t *testing.T, chartURL, yamlPath string, b Broadcaster) *DailyScoreJob {
	t.Helper()
	cfg := &config.Config{
		Env:              "development",
		LogLevel:         "error",
		LogFormat:        "json",
		StaticConfigPath: yamlPath,
		Provider: config.ProviderConfig{
			ChartBaseURL:   chartURL,
			QuoteBaseURL:   chartURL,
			Timeout:        5 * time.Second,
			RequestsPerSec: 100,
		},
	}
	log := testLogger()
	market := marketdata.NewClient(cfg, log)
	notifier := notify.New(log, 5*time.Second)
	return NewDailyScoreJob(cfg, market, nil, notifier, metrics.New(), b, true, "UTC", log)
}

func TestDailyScoreRun(t *testing.T) {
	chart := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(flatChartPayload(300, 100)))
	}))
	defer chart.Close()

	var webhookBody string
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		webhookBody = string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer webhook.Close()

	yamlPath, csvPath := writeStaticConfig(t, t.TempDir(), webhook.URL)
	b := &captureBroadcaster{}
	job := newTestJob(t, chart.URL, yamlPath, b)

	require.NoError(t, job.Run(context.Background()))

	// Broadcast carries the scored results.
	require.Len(t, b.results, 1)
	assert.Equal(t, "VWCE.DE", b.results[0].Ticker)
	assert.Equal(t, 28.0, b.results[0].Score)

	// The webhook received a Discord message payload.
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(webhookBody), &payload))
	assert.Contains(t, payload["content"], "VWCE.DE")
	assert.Contains(t, payload["content"], "28.0")

	// One row was appended to the history file.
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "VWCE.DE")
}

func TestDailyScoreRunShortHistory(t *testing.T) {
	// Fewer bars than the longest indicator window still scores,
	// the windows shrink to the data available.
	chart := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(flatChartPayload(50, 100)))
	}))
	defer chart.Close()

	yamlPath, _ := writeStaticConfig(t, t.TempDir(), "")
	b := &captureBroadcaster{}
	job := newTestJob(t, chart.URL, yamlPath, b)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, b.results, 1)
	assert.Equal(t, 28.0, b.results[0].Score)
}

func TestDailyScoreRunSkipsEmptyData(t *testing.T) {
	chart := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart": {"result": [], "error": null}}`))
	}))
	defer chart.Close()

	yamlPath, _ := writeStaticConfig(t, t.TempDir(), "")
	job := newTestJob(t, chart.URL, yamlPath, nil)

	// The only ticker has no data at all, so the run reports failure.
	assert.Error(t, job.Run(context.Background()))
}

func TestFormulaErrorCounter(t *testing.T) {
	chart := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(flatChartPayload(300, 100)))
	}))
	defer chart.Close()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "scores.csv")
	yamlPath := filepath.Join(dir, "config.yaml")
	doc := fmt.Sprintf(`tickers:
  - VWCE.DE
output_csv: %q
formulas:
  broken: "nonsense(("
weights:
  broken: 1.0
`, csvPath)
	require.NoError(t, os.WriteFile(yamlPath, []byte(doc), 0o644))

	job := newTestJob(t, chart.URL, yamlPath, nil)

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(job.metrics.FormulaErrors.WithLabelValues("broken")))
	assert.Equal(t, 0.0, testutil.ToFloat64(job.metrics.FormulaErrors.WithLabelValues("rsi14")))
}

func TestDailyScoreRunNoTickers(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("data_period: 365d\n"), 0o644))

	job := newTestJob(t, "http://127.0.0.1:0", yamlPath, nil)

	// Nothing configured is not an error.
	assert.NoError(t, job.Run(context.Background()))
}

func TestDailyScoreSchedule(t *testing.T) {
	yamlPath, _ := writeStaticConfig(t, t.TempDir(), "")

	dev := newTestJob(t, "http://127.0.0.1:0", yamlPath, nil)
	assert.Equal(t, "0 * * * * *", dev.Schedule())

	prod := dev
	prod.devMode = false
	prod.timezone = "Europe/Paris"
	assert.Equal(t, "CRON_TZ=Europe/Paris 0 10 22 * * 1-5", prod.Schedule())
	assert.Equal(t, "daily_score", prod.Name())
}
