package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlegall/dcabot/internal/scheduler"
)

type fakeRunner struct {
	triggered []string
}

func (f *fakeRunner) RunJob(name string) error {
	if name != "daily_score" {
		return fmt.Errorf("job %s not found", name)
	}
	f.triggered = append(f.triggered, name)
	return nil
}

func (f *fakeRunner) Stats() map[string]scheduler.JobStats {
	return map[string]scheduler.JobStats{
		"daily_score": {JobName: "daily_score", TotalRuns: 3, SuccessCount: 3, SuccessRate: 1.0},
	}
}

func newJobsRouter(runner JobRunner) http.Handler {
	h := NewJobsHandler(runner, testLogger())
	r := mux.NewRouter()
	r.HandleFunc("/api/jobs", h.Stats).Methods("GET")
	r.HandleFunc("/api/jobs/run", h.Run).Methods("POST")
	return r
}

func TestJobsStats(t *testing.T) {
	rec := doJSON(t, newJobsRouter(&fakeRunner{}), "GET", "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "daily_score")
}

func TestJobsRun(t *testing.T) {
	runner := &fakeRunner{}
	router := newJobsRouter(runner)

	rec := doJSON(t, router, "POST", "/api/jobs/run", RunRequest{Job: "daily_score"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"daily_score"}, runner.triggered)
}

func TestJobsRunUnknown(t *testing.T) {
	rec := doJSON(t, newJobsRouter(&fakeRunner{}), "POST", "/api/jobs/run", RunRequest{Job: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsRunEmptyName(t *testing.T) {
	rec := doJSON(t, newJobsRouter(&fakeRunner{}), "POST", "/api/jobs/run", RunRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
