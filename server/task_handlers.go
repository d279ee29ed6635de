package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/maximiliancw/homeworq/logger"
)

// HandleTasks handles requests to /api/tasks.
// GET: list registered tasks.
func (s *Server) HandleTasks(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Registry().List())
}

// HandleTask handles requests to /api/tasks/{name} and /api/tasks/{name}/run.
func (s *Server) HandleTask(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/tasks/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing task name")
		return
	}
	name := parts[0]

	if len(parts) > 1 && parts[1] == "run" {
		s.handleRunTask(w, r, name)
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	tsk, err := s.engine.Registry().Get(name)
	if err != nil {
		s.handleError(w, err, "Failed to look up task")
		return
	}
	writeJSON(w, http.StatusOK, tsk)
}

// handleRunTask executes a task once, outside the scheduler. The body is
// the params object. Runs are rate limited per task so a misbehaving
// client cannot flood the executor through the control plane.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request, name string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if !s.limiter(name).Allow() {
		s.logger.Warnw("Ad-hoc run rate limited",
			logger.FieldTask, name,
		)
		writeError(w, http.StatusTooManyRequests, fmt.Sprintf("Rate limit exceeded for task %q", name))
		return
	}

	params := map[string]interface{}{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	}

	execLog, err := s.engine.RunTask(r.Context(), name, params)
	if err != nil {
		// A log alongside the error means the task itself failed; the
		// failure is recorded and reported as a client error. Without a
		// log the run never started (unknown task, stopped engine).
		if execLog != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.handleError(w, err, "Failed to run task")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"result": execLog.Result,
		"log_id": execLog.ID,
	})
}
