package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mlegall/dcabot/internal/scoring"
	"github.com/mlegall/dcabot/pkg/httputil"
	"github.com/mlegall/dcabot/pkg/logger"
)

// Notifier renders ranked score results into a Discord webhook message.
// Delivery is fire-and-forget: a failed post is logged and the run
// continues, with no retries.
type Notifier struct {
	httpClient *httputil.Client
	logger     *logger.Logger
}

// New creates a new notifier
func New(log *logger.Logger, timeout time.Duration) *Notifier {
	return &Notifier{
		httpClient: httputil.New(log, timeout),
		logger:     log,
	}
}

// scoreEmoji maps a composite score to its signal marker
func scoreEmoji(score float64) string {
	switch {
	case score < 45:
		return "❌"
	case score < 55:
		return "⚠️"
	default:
		return "✅ @everyone"
	}
}

// BuildMessage formats results (already sorted by score, best first) into
// the daily webhook message
func BuildMessage(results []*scoring.Result, date time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 📊 Daily DCA score — %s\n\n", date.Format("2006-01-02"))

	for _, r := range results {
		fmt.Fprintf(&b, "## %s — %s\n", r.Ticker, r.ProductName)
		fmt.Fprintf(&b, "**Score:** `%.1f` %s\n", r.Score, scoreEmoji(r.Score))
		fmt.Fprintf(&b, "**Price:** `%.2f`\n", r.Close)
		b.WriteString("\n")
	}

	b.WriteString("_This is not financial advice._\n")
	return b.String()
}

// Send posts a message to the webhook URL
func (n *Notifier) Send(ctx context.Context, webhookURL, content string) error {
	resp, err := n.httpClient.PostJSON(ctx, webhookURL, map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	n.logger.Info("Notification sent")
	return nil
}
