package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/marketdata"
	"github.com/mlegall/dcabot/internal/scoring"
	"github.com/mlegall/dcabot/pkg/logger"
)

// MarketData is the provider surface ad-hoc scoring needs
type MarketData interface {
	FetchDaily(ctx context.Context, ticker, period string) ([]marketdata.Bar, error)
	ProductName(ctx context.Context, ticker string) string
}

// ScoreHandler computes a score for one ticker on demand, outside the
// scheduled run. Results are returned to the caller only; they do not
// reach the notifier or the history log.
type ScoreHandler struct {
	market     MarketData
	store      botconfig.Store
	staticPath string
	logger     *logger.Logger
}

// NewScoreHandler creates the ad-hoc scoring handler
func NewScoreHandler(market MarketData, st botconfig.Store, staticPath string, log *logger.Logger) *ScoreHandler {
	return &ScoreHandler{
		market:     market,
		store:      st,
		staticPath: staticPath,
		logger:     log,
	}
}

// Score fetches history for one ticker and scores it now
// POST /api/score/{ticker}
func (h *ScoreHandler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ticker := strings.ToUpper(mux.Vars(r)["ticker"])

	eff := botconfig.Resolve(ctx, h.staticPath, h.store, h.logger)

	bars, err := h.market.FetchDaily(ctx, ticker, eff.DataPeriod())
	if err != nil {
		h.logger.WithError(err).WithField("ticker", ticker).Error("Failed to fetch price history")
		respondError(w, http.StatusBadGateway, "Failed to fetch price history")
		return
	}
	// Short series score on partial indicator windows.
	if len(bars) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "No price data for ticker")
		return
	}

	engine := scoring.New(eff, h.logger)
	result, err := engine.Score(ticker, h.market.ProductName(ctx, ticker), marketdata.Closes(bars))
	if err != nil {
		h.logger.WithError(err).WithField("ticker", ticker).Error("Scoring failed")
		respondError(w, http.StatusInternalServerError, "Scoring failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}
