package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlegall/dcabot/internal/api/handlers"
	"github.com/mlegall/dcabot/internal/scheduler"
	"github.com/mlegall/dcabot/internal/scoring"
	"github.com/mlegall/dcabot/pkg/config"
	"github.com/mlegall/dcabot/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "development", LogLevel: "error", LogFormat: "console"})
}

type stubRunner struct{}

func (stubRunner) RunJob(name string) error             { return nil }
func (stubRunner) Stats() map[string]scheduler.JobStats { return nil }

func TestHealthEndpointIsPublic(t *testing.T) {
	router := NewRouter(RouterDeps{AdminTokens: []string{"secret"}}, testLogger())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAuthMiddleware(t *testing.T) {
	log := testLogger()
	deps := RouterDeps{
		Jobs:        handlers.NewJobsHandler(stubRunner{}, log),
		AdminTokens: []string{"secret"},
	}
	router := NewRouter(deps, log)

	// No token.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong token.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bearer token.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Query token, for websocket clients.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs?token=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthDisabledWithoutTokens(t *testing.T) {
	log := testLogger()
	deps := RouterDeps{Jobs: handlers.NewJobsHandler(stubRunner{}, log)}
	router := NewRouter(deps, log)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnmountedRoutesAre404(t *testing.T) {
	router := NewRouter(RouterDeps{}, testLogger())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamBroadcast(t *testing.T) {
	log := testLogger()
	hub := NewHub(log)
	router := NewRouter(RouterDeps{Hub: hub}, log)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast([]*scoring.Result{{Ticker: "VWCE.DE", Score: 28.0}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope struct {
		Type    string            `json:"type"`
		Results []*scoring.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(msg, &envelope))
	assert.Equal(t, "scores", envelope.Type)
	require.Len(t, envelope.Results, 1)
	assert.Equal(t, "VWCE.DE", envelope.Results[0].Ticker)
	assert.Equal(t, 28.0, envelope.Results[0].Score)
}

func TestStreamDisconnectCleansUp(t *testing.T) {
	log := testLogger()
	hub := NewHub(log)
	router := NewRouter(RouterDeps{Hub: hub}, log)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
