package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/logger"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return err
	}
	return nil
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// extractPathParts extracts path segments after removing a prefix
func extractPathParts(urlPath, prefix string) []string {
	return strings.Split(strings.TrimPrefix(urlPath, prefix), "/")
}

// handleError maps an engine or store error onto an HTTP response.
// Validation kinds become 400, missing resources 404, a stopped engine
// 503; anything else is a server fault, logged with its stack and masked
// as a generic 500.
func (s *Server) handleError(w http.ResponseWriter, err error, context string) {
	switch {
	case errors.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Errorw(context,
			logger.FieldError, err,
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// store returns the engine's store for read paths. When the engine is not
// running it writes a 503 and returns nil; callers must bail out on nil.
func (s *Server) store(w http.ResponseWriter) *store.Store {
	st := s.engine.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errors.ErrEngineStopped.Error())
	}
	return st
}

// parsePagination reads limit and offset query parameters. Limit defaults
// to 100 and is clamped to 1..1000, offset floors at 0. Unparseable values
// fall back to the defaults rather than erroring, matching lenient query
// handling elsewhere in the API.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
