package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlegall/dcabot/pkg/config"
)

// bufLogger builds a Logger writing JSON into a buffer so tests can
// decode and inspect individual entries.
func bufLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	zlog := zerolog.New(&buf).With().Timestamp().Logger()
	return &Logger{zlog: zlog}, &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewAppliesConfiguredLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log := New(&config.Config{
				Env:       "production",
				LogLevel:  tt.level,
				LogFormat: "json",
			})
			require.NotNil(t, log)
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestNewSupportsAllFormats(t *testing.T) {
	for _, format := range []string{"json", "console", "pretty"} {
		t.Run(format, func(t *testing.T) {
			log := New(&config.Config{
				Env:       "development",
				LogLevel:  "info",
				LogFormat: format,
			})
			require.NotNil(t, log)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zerolog.FatalLevel, parseLogLevel("fatal"))
	assert.Equal(t, zerolog.PanicLevel, parseLogLevel("panic"))
	// Unknown values fall back to info.
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("verbose"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel(""))
}

func TestLevelsAndMessages(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log, buf := bufLogger()

	tests := []struct {
		level string
		emit  func(string)
	}{
		{"debug", log.Debug},
		{"info", log.Info},
		{"warn", log.Warn},
		{"error", log.Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()
			tt.emit("scoring run finished")

			entry := decodeEntry(t, buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "scoring run finished", entry["message"])
		})
	}
}

func TestFormattedMessages(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log, buf := bufLogger()

	log.Infof("scored %d tickers in %dms", 3, 412)
	entry := decodeEntry(t, buf)
	assert.Equal(t, "scored 3 tickers in 412ms", entry["message"])

	buf.Reset()
	log.Warnf("provider retry %d/%d", 1, 2)
	entry = decodeEntry(t, buf)
	assert.Equal(t, "provider retry 1/2", entry["message"])
	assert.Equal(t, "warn", entry["level"])
}

func TestWithFieldChaining(t *testing.T) {
	log, buf := bufLogger()

	log.WithField("ticker", "VWCE.DE").
		WithField("score", 61.4).
		Info("Score computed")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "VWCE.DE", entry["ticker"])
	assert.Equal(t, 61.4, entry["score"])
	assert.Equal(t, "Score computed", entry["message"])

	// The receiver stays untouched.
	buf.Reset()
	log.Info("plain")
	entry = decodeEntry(t, buf)
	assert.NotContains(t, entry, "ticker")
}

func TestWithFields(t *testing.T) {
	log, buf := bufLogger()

	log.WithFields(map[string]interface{}{
		"job":      "daily_score",
		"tickers":  3,
		"duration": "1.2s",
	}).Info("Job completed")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "daily_score", entry["job"])
	assert.Equal(t, float64(3), entry["tickers"])
	assert.Equal(t, "1.2s", entry["duration"])
}

func TestWithError(t *testing.T) {
	log, buf := bufLogger()

	log.WithError(errors.New("chart request timed out")).
		WithField("ticker", "SPY").
		Error("Fetch failed")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "chart request timed out", entry["error"])
	assert.Equal(t, "SPY", entry["ticker"])
	assert.Equal(t, "Fetch failed", entry["message"])
}

func TestZerologAccessor(t *testing.T) {
	log, buf := bufLogger()

	zl := log.Zerolog()
	zl.Info().Str("component", "scheduler").Msg("started")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "scheduler", entry["component"])
}
