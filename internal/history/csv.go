package history

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mlegall/dcabot/internal/scoring"
	"github.com/mlegall/dcabot/pkg/logger"
)

var columns = []string{
	"timestamp", "ticker", "score", "close", "rsi14", "ma50", "ma200",
	"drawdown90_pct", "vol20_pct", "momentum30_pct",
}

// Appender writes one row per ticker per run to a tabular score log.
// The header is written only when the file is first created.
type Appender struct {
	path   string
	logger *logger.Logger
}

// NewAppender creates an appender for the given CSV path
func NewAppender(path string, log *logger.Logger) *Appender {
	return &Appender{path: path, logger: log}
}

// Append writes the results of one run
func (a *Appender) Append(results []*scoring.Result) error {
	if len(results) == 0 {
		return nil
	}

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}

	_, statErr := os.Stat(a.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(columns); err != nil {
			return err
		}
	}

	for _, r := range results {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			r.Ticker,
			formatFloat(r.Score),
			formatFloat(r.Close),
			formatFloat(r.RSI14),
			formatFloat(r.MA50),
			formatFloat(r.MA200),
			formatFloat(r.Drawdown90Pct),
			formatFloat(r.Vol20Pct),
			formatFloat(r.Momentum30Pct),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	a.logger.WithFields(map[string]interface{}{
		"path": a.path,
		"rows": len(results),
	}).Info("History appended")
	return nil
}

// Tail returns up to n most recent rows, newest first, as column->value
// maps for the admin surface. A missing file yields an empty slice.
func (a *Appender) Tail(n int) ([]map[string]string, error) {
	f, err := os.Open(a.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}

	header, rows := records[0], records[1:]
	if n > len(rows) {
		n = len(rows)
	}

	out := make([]map[string]string, 0, n)
	for i := len(rows) - 1; i >= len(rows)-n; i-- {
		entry := make(map[string]string, len(header))
		for j, col := range header {
			if j < len(rows[i]) {
				entry[col] = rows[i][j]
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
