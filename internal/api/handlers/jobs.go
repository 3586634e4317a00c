package handlers

import (
	"net/http"

	"github.com/mlegall/dcabot/internal/scheduler"
	"github.com/mlegall/dcabot/pkg/logger"
)

// JobRunner is the scheduler surface the jobs endpoints use
type JobRunner interface {
	RunJob(name string) error
	Stats() map[string]scheduler.JobStats
}

// JobsHandler exposes scheduler state and manual triggering
type JobsHandler struct {
	sched  JobRunner
	logger *logger.Logger
}

// NewJobsHandler creates the scheduler jobs handler
func NewJobsHandler(sched JobRunner, log *logger.Logger) *JobsHandler {
	return &JobsHandler{sched: sched, logger: log}
}

// Stats returns run statistics for every registered job
// GET /api/jobs
func (h *JobsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sched.Stats())
}

// RunRequest is the body of a manual job trigger
type RunRequest struct {
	Job string `json:"job"`
}

// Run triggers a registered job immediately
// POST /api/jobs/run
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Job == "" {
		respondError(w, http.StatusBadRequest, "Job name must not be empty")
		return
	}

	if err := h.sched.RunJob(req.Job); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.WithField("job", req.Job).Info("Job triggered manually")
	respondJSON(w, http.StatusAccepted, map[string]string{"job": req.Job, "status": "triggered"})
}
