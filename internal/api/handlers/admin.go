package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mlegall/dcabot/internal/botconfig"
	"github.com/mlegall/dcabot/internal/store"
	"github.com/mlegall/dcabot/pkg/logger"
)

// AdminStore is the override store surface the admin API mutates.
// Implemented by store.Repository; faked in tests.
type AdminStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value, description string) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]string, error)

	SetFormula(ctx context.Context, def botconfig.FormulaDefinition) error
	SetFormulaWeight(ctx context.Context, name string, weight float64) error
	DeleteFormula(ctx context.Context, name string) error
	ListFormulas(ctx context.Context) (map[string]botconfig.FormulaDefinition, error)

	AddTicker(ctx context.Context, symbol string) error
	RemoveTicker(ctx context.Context, symbol string) error
	ToggleTicker(ctx context.Context, symbol string, enabled bool) error
	ListTickers(ctx context.Context, enabledOnly bool) ([]string, error)
}

// ExpressionValidator rejects formula expressions that do not compile
type ExpressionValidator func(expression string) error

// AdminHandler exposes the configuration override store over HTTP.
// Changes take effect on the next scoring run; nothing here touches a
// running engine.
type AdminHandler struct {
	store      AdminStore
	staticPath string
	validate   ExpressionValidator
	logger     *logger.Logger
}

// NewAdminHandler creates the admin configuration handler
func NewAdminHandler(st AdminStore, staticPath string, validate ExpressionValidator, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		store:      st,
		staticPath: staticPath,
		validate:   validate,
		logger:     log,
	}
}

// GetConfig returns the resolved effective configuration together with
// the raw override layer.
// GET /api/config
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	overrides, err := h.store.All(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read overrides")
		respondError(w, http.StatusInternalServerError, "Failed to read configuration")
		return
	}

	eff := botconfig.Resolve(ctx, h.staticPath, asResolverStore(h.store), h.logger)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"effective": eff.Raw(),
		"overrides": overrides,
	})
}

// GetConfigKey returns a single override value
// GET /api/config/{key}
func (h *AdminHandler) GetConfigKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, found, err := h.store.Get(r.Context(), key)
	if err != nil {
		h.logger.WithError(err).WithField("key", key).Error("Failed to read override")
		respondError(w, http.StatusInternalServerError, "Failed to read configuration")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "No override for key "+key)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// SetConfigRequest is the body of a config override write
type SetConfigRequest struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// SetConfigKey writes one override value
// PUT /api/config/{key}
func (h *AdminHandler) SetConfigKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req SetConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.Set(r.Context(), key, req.Value, req.Description); err != nil {
		if errors.Is(err, store.ErrInvalidValue) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).WithField("key", key).Error("Failed to write override")
		respondError(w, http.StatusInternalServerError, "Failed to write configuration")
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"key":   key,
		"value": req.Value,
	}).Info("Configuration override set")
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// DeleteConfigKey removes one override, falling back to lower layers
// DELETE /api/config/{key}
func (h *AdminHandler) DeleteConfigKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if err := h.store.Delete(r.Context(), key); err != nil {
		h.logger.WithError(err).WithField("key", key).Error("Failed to delete override")
		respondError(w, http.StatusInternalServerError, "Failed to delete configuration")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"key": key, "status": "deleted"})
}

// ListFormulas returns all stored formula definitions
// GET /api/formulas
func (h *AdminHandler) ListFormulas(w http.ResponseWriter, r *http.Request) {
	defs, err := h.store.ListFormulas(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list formulas")
		respondError(w, http.StatusInternalServerError, "Failed to list formulas")
		return
	}
	respondJSON(w, http.StatusOK, defs)
}

// SetFormulaRequest is the body of a formula write
type SetFormulaRequest struct {
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description,omitempty"`
}

// SetFormula creates or replaces a named formula. The expression must
// compile against the scoring namespace.
// PUT /api/formulas/{name}
func (h *AdminHandler) SetFormula(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req SetFormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Expression) == "" {
		respondError(w, http.StatusBadRequest, "Expression must not be empty")
		return
	}
	if req.Weight < 0 {
		respondError(w, http.StatusBadRequest, "Weight must not be negative")
		return
	}
	if err := h.validate(req.Expression); err != nil {
		respondError(w, http.StatusBadRequest, "Expression does not compile: "+err.Error())
		return
	}

	def := botconfig.FormulaDefinition{
		Name:        name,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Description: req.Description,
	}
	if err := h.store.SetFormula(r.Context(), def); err != nil {
		h.logger.WithError(err).WithField("formula", name).Error("Failed to write formula")
		respondError(w, http.StatusInternalServerError, "Failed to write formula")
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"formula": name,
		"weight":  req.Weight,
	}).Info("Formula set")
	respondJSON(w, http.StatusOK, def)
}

// SetFormulaWeightRequest is the body of a weight-only update
type SetFormulaWeightRequest struct {
	Weight float64 `json:"weight"`
}

// SetFormulaWeight updates the weight of an existing formula
// PUT /api/formulas/{name}/weight
func (h *AdminHandler) SetFormulaWeight(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req SetFormulaWeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Weight < 0 {
		respondError(w, http.StatusBadRequest, "Weight must not be negative")
		return
	}

	if err := h.store.SetFormulaWeight(r.Context(), name, req.Weight); err != nil {
		h.logger.WithError(err).WithField("formula", name).Error("Failed to update formula weight")
		respondError(w, http.StatusInternalServerError, "Failed to update formula weight")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"name": name, "weight": req.Weight})
}

// DeleteFormula removes a stored formula
// DELETE /api/formulas/{name}
func (h *AdminHandler) DeleteFormula(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.store.DeleteFormula(r.Context(), name); err != nil {
		h.logger.WithError(err).WithField("formula", name).Error("Failed to delete formula")
		respondError(w, http.StatusInternalServerError, "Failed to delete formula")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}

// ListTickers returns the stored ticker list
// GET /api/tickers
func (h *AdminHandler) ListTickers(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	tickers, err := h.store.ListTickers(r.Context(), enabledOnly)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tickers")
		respondError(w, http.StatusInternalServerError, "Failed to list tickers")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tickers": tickers})
}

// AddTickerRequest is the body of a ticker registration
type AddTickerRequest struct {
	Symbol string `json:"symbol"`
}

// AddTicker registers a ticker symbol
// POST /api/tickers
func (h *AdminHandler) AddTicker(w http.ResponseWriter, r *http.Request) {
	var req AddTickerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "Symbol must not be empty")
		return
	}

	if err := h.store.AddTicker(r.Context(), symbol); err != nil {
		h.logger.WithError(err).WithField("ticker", symbol).Error("Failed to add ticker")
		respondError(w, http.StatusInternalServerError, "Failed to add ticker")
		return
	}

	h.logger.WithField("ticker", symbol).Info("Ticker added")
	respondJSON(w, http.StatusCreated, map[string]string{"symbol": symbol})
}

// RemoveTicker deletes a ticker symbol
// DELETE /api/tickers/{symbol}
func (h *AdminHandler) RemoveTicker(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if err := h.store.RemoveTicker(r.Context(), symbol); err != nil {
		h.logger.WithError(err).WithField("ticker", symbol).Error("Failed to remove ticker")
		respondError(w, http.StatusInternalServerError, "Failed to remove ticker")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "status": "deleted"})
}

// ToggleTickerRequest is the body of a ticker enable/disable
type ToggleTickerRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleTicker enables or disables a ticker without removing it
// POST /api/tickers/{symbol}/toggle
func (h *AdminHandler) ToggleTicker(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req ToggleTickerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.ToggleTicker(r.Context(), symbol, req.Enabled); err != nil {
		h.logger.WithError(err).WithField("ticker", symbol).Error("Failed to toggle ticker")
		respondError(w, http.StatusInternalServerError, "Failed to toggle ticker")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "enabled": req.Enabled})
}

// asResolverStore narrows the admin store to the read-only surface the
// configuration resolver needs.
func asResolverStore(st AdminStore) botconfig.Store {
	if st == nil {
		return nil
	}
	return resolverStore{st}
}

type resolverStore struct {
	st AdminStore
}

func (r resolverStore) All(ctx context.Context) (map[string]string, error) {
	return r.st.All(ctx)
}

func (r resolverStore) ListFormulas(ctx context.Context) (map[string]botconfig.FormulaDefinition, error) {
	return r.st.ListFormulas(ctx)
}

func (r resolverStore) ListTickers(ctx context.Context, enabledOnly bool) ([]string, error) {
	return r.st.ListTickers(ctx, enabledOnly)
}
