package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlegall/dcabot/internal/history"
	"github.com/mlegall/dcabot/internal/scoring"
)

func newHistoryRouter(t *testing.T, rows int) http.Handler {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "scores.csv")
	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(fmt.Sprintf("output_csv: %q\n", csvPath)), 0o644))

	if rows > 0 {
		results := make([]*scoring.Result, rows)
		for i := range results {
			results[i] = &scoring.Result{
				Ticker:    fmt.Sprintf("T%02d", i),
				Score:     float64(i),
				Timestamp: time.Now().UTC(),
			}
		}
		require.NoError(t, history.NewAppender(csvPath, testLogger()).Append(results))
	}

	h := NewHistoryHandler(nil, yamlPath, testLogger())
	r := mux.NewRouter()
	r.HandleFunc("/api/history", h.Recent).Methods("GET")
	return r
}

func TestHistoryRecent(t *testing.T) {
	router := newHistoryRouter(t, 5)

	rec := doJSON(t, router, "GET", "/api/history?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Count int                 `json:"count"`
		Rows  []map[string]string `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 3, got.Count)
	assert.Equal(t, "T04", got.Rows[0]["ticker"])
	assert.Equal(t, "T02", got.Rows[2]["ticker"])
}

func TestHistoryEmpty(t *testing.T) {
	router := newHistoryRouter(t, 0)

	rec := doJSON(t, router, "GET", "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 0, got.Count)
}

func TestHistoryBadLimit(t *testing.T) {
	router := newHistoryRouter(t, 1)

	rec := doJSON(t, router, "GET", "/api/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "GET", "/api/history?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
