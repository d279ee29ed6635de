package server

import (
	"fmt"
	"net/http"

	"github.com/maximiliancw/homeworq/hq/store"
)

// logListResponse is the paginated envelope for GET /api/logs.
type logListResponse struct {
	Items  []*store.Log `json:"items"`
	Total  int          `json:"total"`
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
}

// HandleLogs handles requests to /api/logs.
// GET: list execution logs, newest first, with pagination and optional
// job_id / status filters.
func (s *Server) HandleLogs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.store(w)
	if st == nil {
		return
	}

	limit, offset := parsePagination(r)
	jobID := r.URL.Query().Get("job_id")
	status := r.URL.Query().Get("status")
	if status != "" && !store.IsValidStatus(status) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid status %q", status))
		return
	}

	logs, total, err := st.ListLogs(jobID, status, limit, offset)
	if err != nil {
		s.handleError(w, err, "Failed to list logs")
		return
	}
	if logs == nil {
		logs = []*store.Log{}
	}

	writeJSON(w, http.StatusOK, logListResponse{
		Items:  logs,
		Total:  total,
		Offset: offset,
		Limit:  limit,
	})
}
