package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mlegall/dcabot/pkg/config"
	"github.com/mlegall/dcabot/pkg/httputil"
	"github.com/mlegall/dcabot/pkg/logger"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Client fetches daily price history from the market data provider's
// chart API. All requests go through a shared rate-limited HTTP client;
// the scoring job iterates tickers sequentially on top of that, which is
// what keeps the bot inside the provider's rate limit.
type Client struct {
	httpClient   *httputil.Client
	logger       *logger.Logger
	chartBaseURL string
	quoteBaseURL string
}

// NewClient creates a new market data client
func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		httpClient: httputil.New(log, cfg.Provider.Timeout).
			WithRateLimit(cfg.Provider.RequestsPerSec),
		logger:       log,
		chartBaseURL: strings.TrimRight(cfg.Provider.ChartBaseURL, "/"),
		quoteBaseURL: strings.TrimRight(cfg.Provider.QuoteBaseURL, "/"),
	}
}

// chartResponse mirrors the provider's chart API payload
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				LongName  string `json:"longName"`
				ShortName string `json:"shortName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDaily fetches daily bars for a ticker over the given period
// (e.g. "365d"). An empty result is not an error for the caller's batch:
// the ticker is skipped for that run.
func (c *Client) FetchDaily(ctx context.Context, ticker, period string) ([]Bar, error) {
	fullURL := fmt.Sprintf("%s/%s?range=%s&interval=1d",
		c.chartBaseURL, ticker, normalizePeriod(period))

	payload, err := c.fetchChart(ctx, fullURL)
	if err != nil {
		return nil, err
	}

	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("provider error for %s: %s", ticker, payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// Entries with a missing close are dropped, like half-days the
		// provider reports with null quotes.
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}

		bar := Bar{
			Date:  time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Close: *quote.Close[i],
		}
		if i < len(quote.Open) && quote.Open[i] != nil {
			bar.Open = *quote.Open[i]
		}
		if i < len(quote.High) && quote.High[i] != nil {
			bar.High = *quote.High[i]
		}
		if i < len(quote.Low) && quote.Low[i] != nil {
			bar.Low = *quote.Low[i]
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			bar.Volume = *quote.Volume[i]
		}
		bars = append(bars, bar)
	}

	c.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"period": period,
		"bars":   len(bars),
	}).Debug("Fetched daily bars")

	return bars, nil
}

// ProductName resolves a human-readable display name for a ticker.
// Best-effort: the chart metadata is tried first, then the quote page
// title; any failure falls back to the raw ticker symbol.
func (c *Client) ProductName(ctx context.Context, ticker string) string {
	fullURL := fmt.Sprintf("%s/%s?range=1d&interval=1d", c.chartBaseURL, ticker)
	if payload, err := c.fetchChart(ctx, fullURL); err == nil && len(payload.Chart.Result) > 0 {
		meta := payload.Chart.Result[0].Meta
		if meta.LongName != "" {
			return meta.LongName
		}
		if meta.ShortName != "" {
			return meta.ShortName
		}
	}

	if name := c.scrapeQuoteTitle(ctx, ticker); name != "" {
		return name
	}

	c.logger.WithField("ticker", ticker).Warn("Could not resolve product name")
	return ticker
}

func (c *Client) fetchChart(ctx context.Context, fullURL string) (*chartResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body failed: %w", err)
	}

	var payload chartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse response failed: %w", err)
	}
	return &payload, nil
}

// scrapeQuoteTitle extracts the instrument name from the provider's quote
// page heading
func (c *Client) scrapeQuoteTitle(ctx context.Context, ticker string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/", c.quoteBaseURL, ticker), nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	// Headings read like "Vanguard FTSE All-World UCITS ETF (VWCE.DE)";
	// strip the trailing symbol.
	if idx := strings.LastIndex(title, " ("); idx > 0 {
		title = title[:idx]
	}
	return title
}

// normalizePeriod maps a "<days>d" period to the nearest chart API range
func normalizePeriod(period string) string {
	if !strings.HasSuffix(period, "d") {
		return period
	}
	days, err := strconv.Atoi(strings.TrimSuffix(period, "d"))
	if err != nil {
		return period
	}

	switch {
	case days <= 5:
		return "5d"
	case days <= 31:
		return "1mo"
	case days <= 93:
		return "3mo"
	case days <= 186:
		return "6mo"
	case days <= 366:
		return "1y"
	case days <= 731:
		return "2y"
	case days <= 1830:
		return "5y"
	default:
		return "max"
	}
}
