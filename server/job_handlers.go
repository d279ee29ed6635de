package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/maximiliancw/homeworq/hq/schedule"
	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/logger"
)

// jobCreateRequest is the body of POST /api/jobs. The schedule accepts
// either the structured object or a cron string, same as everywhere else.
type jobCreateRequest struct {
	TaskName   string                 `json:"task_name"`
	Params     map[string]interface{} `json:"params"`
	Schedule   schedule.Spec          `json:"schedule"`
	Timeout    *int                   `json:"timeout"`
	MaxRetries *int                   `json:"max_retries"`
	StartDate  *time.Time             `json:"start_date"`
	EndDate    *time.Time             `json:"end_date"`
}

// jobUpdateRequest is the body of PUT /api/jobs/{id}. Every field is
// optional; schedule stays raw so an absent key can be told apart from an
// explicit value.
type jobUpdateRequest struct {
	Params     map[string]interface{} `json:"params"`
	Schedule   json.RawMessage        `json:"schedule"`
	Timeout    *int                   `json:"timeout"`
	MaxRetries *int                   `json:"max_retries"`
	StartDate  *time.Time             `json:"start_date"`
	EndDate    *time.Time             `json:"end_date"`
}

// HandleJobs handles requests to /api/jobs.
// GET: list jobs with pagination and optional task filter.
// POST: create a job.
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleJob handles requests to /api/jobs/{id} (GET, PUT, DELETE).
func (s *Server) HandleJob(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}
	jobID := parts[0]

	switch r.Method {
	case http.MethodGet:
		s.handleGetJob(w, r, jobID)
	case http.MethodPut:
		s.handleUpdateJob(w, r, jobID)
	case http.MethodDelete:
		s.handleDeleteJob(w, r, jobID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	st := s.store(w)
	if st == nil {
		return
	}
	limit, offset := parsePagination(r)
	taskName := r.URL.Query().Get("task")

	jobs, err := st.ListJobs(taskName, limit, offset)
	if err != nil {
		s.handleError(w, err, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobCreateRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	job := &store.Job{
		TaskName:   req.TaskName,
		Params:     req.Params,
		Schedule:   req.Schedule,
		Timeout:    req.Timeout,
		MaxRetries: req.MaxRetries,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
	}

	created, err := s.engine.CreateJob(job)
	if err != nil {
		s.handleError(w, err, "Failed to create job")
		return
	}

	s.logger.Infow("Job created via API",
		logger.FieldJobID, created.ID,
		logger.FieldTask, created.TaskName,
	)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	st := s.store(w)
	if st == nil {
		return
	}
	job, err := st.GetJob(jobID)
	if err != nil {
		s.handleError(w, err, "Failed to get job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job #%s not found", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request, jobID string) {
	var req jobUpdateRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	patch := store.JobPatch{
		Params:     req.Params,
		Timeout:    req.Timeout,
		MaxRetries: req.MaxRetries,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
	}
	if len(req.Schedule) > 0 && string(req.Schedule) != "null" {
		var spec schedule.Spec
		if err := json.Unmarshal(req.Schedule, &spec); err != nil {
			s.handleError(w, err, "Failed to parse schedule")
			return
		}
		patch.Schedule = &spec
	}

	updated, err := s.engine.UpdateJob(jobID, patch)
	if err != nil {
		s.handleError(w, err, "Failed to update job")
		return
	}

	s.logger.Infow("Job updated via API",
		logger.FieldJobID, jobID,
	)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.engine.DeleteJob(jobID); err != nil {
		s.handleError(w, err, "Failed to delete job")
		return
	}

	s.logger.Infow("Job deleted via API",
		logger.FieldJobID, jobID,
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
