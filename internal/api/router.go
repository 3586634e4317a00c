package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mlegall/dcabot/internal/api/handlers"
	"github.com/mlegall/dcabot/pkg/logger"
)

// RouterDeps collects the handlers and shared pieces the router mounts.
// Nil entries disable their routes, so the API degrades cleanly when a
// subsystem is not running.
type RouterDeps struct {
	Admin   *handlers.AdminHandler
	Score   *handlers.ScoreHandler
	History *handlers.HistoryHandler
	Jobs    *handlers.JobsHandler
	Hub     *Hub

	Metrics     http.Handler
	AdminTokens []string
}

// NewRouter configures all routes and middleware
func NewRouter(deps RouterDeps, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthCheckHandler).Methods("GET")
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware(deps.AdminTokens, log))

	if deps.Admin != nil {
		api.HandleFunc("/config", deps.Admin.GetConfig).Methods("GET")
		api.HandleFunc("/config/{key}", deps.Admin.GetConfigKey).Methods("GET")
		api.HandleFunc("/config/{key}", deps.Admin.SetConfigKey).Methods("PUT")
		api.HandleFunc("/config/{key}", deps.Admin.DeleteConfigKey).Methods("DELETE")

		api.HandleFunc("/formulas", deps.Admin.ListFormulas).Methods("GET")
		api.HandleFunc("/formulas/{name}", deps.Admin.SetFormula).Methods("PUT")
		api.HandleFunc("/formulas/{name}", deps.Admin.DeleteFormula).Methods("DELETE")
		api.HandleFunc("/formulas/{name}/weight", deps.Admin.SetFormulaWeight).Methods("PUT")

		api.HandleFunc("/tickers", deps.Admin.ListTickers).Methods("GET")
		api.HandleFunc("/tickers", deps.Admin.AddTicker).Methods("POST")
		api.HandleFunc("/tickers/{symbol}", deps.Admin.RemoveTicker).Methods("DELETE")
		api.HandleFunc("/tickers/{symbol}/toggle", deps.Admin.ToggleTicker).Methods("POST")
	}

	if deps.Score != nil {
		api.HandleFunc("/score/{ticker}", deps.Score.Score).Methods("POST")
	}
	if deps.History != nil {
		api.HandleFunc("/history", deps.History.Recent).Methods("GET")
	}
	if deps.Jobs != nil {
		api.HandleFunc("/jobs", deps.Jobs.Stats).Methods("GET")
		api.HandleFunc("/jobs/run", deps.Jobs.Run).Methods("POST")
	}
	if deps.Hub != nil {
		api.HandleFunc("/stream", deps.Hub.ServeWS).Methods("GET")
	}

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "dcabot-api",
	})
}

// authMiddleware requires a bearer token from the configured set on
// every /api route. An empty token set disables authentication, which
// is only sensible for local development.
func authMiddleware(tokens []string, log *logger.Logger) mux.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			allowed[t] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		log.Warn("No admin tokens configured, API authentication disabled")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				// Websocket clients cannot set headers from browsers.
				token = r.URL.Query().Get("token")
			}

			if _, ok := allowed[token]; !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Unauthorized",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
