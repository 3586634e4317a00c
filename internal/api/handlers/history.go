package handlers

import (
	"net/http"
	"strconv"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/history"
	"github.com/mlegall/dcabot/pkg/logger"
)

const defaultHistoryLimit = 50

// HistoryHandler serves recent rows of the score history log
type HistoryHandler struct {
	store      botconfig.Store
	staticPath string
	logger     *logger.Logger
}

// NewHistoryHandler creates the score history handler
func NewHistoryHandler(st botconfig.Store, staticPath string, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:      st,
		staticPath: staticPath,
		logger:     log,
	}
}

// Recent returns the newest history rows, newest first
// GET /api/history?limit=n
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	eff := botconfig.Resolve(ctx, h.staticPath, h.store, h.logger)
	rows, err := history.NewAppender(eff.OutputCSV(), h.logger).Tail(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read score history")
		respondError(w, http.StatusInternalServerError, "Failed to read score history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(rows),
		"rows":  rows,
	})
}
