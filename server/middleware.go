package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// corsMiddleware adds CORS headers to HTTP responses. Like the original
// API the control plane answers any origin; credentials only matter when
// api_auth is on, and those ride the Authorization header.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// authMiddleware enforces HTTP Basic auth when api_auth is enabled.
// Credentials come from settings (HQ_ADMIN_USERNAME / HQ_ADMIN_PASSWORD
// through the config cascade). Comparison is constant time over digests
// so neither match outcome nor credential length leaks through timing.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	if !s.settings.APIAuth {
		return next
	}

	wantUser := sha256.Sum256([]byte(s.settings.AdminUsername))
	wantPass := sha256.Sum256([]byte(s.settings.AdminPassword))

	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			gotUser := sha256.Sum256([]byte(user))
			gotPass := sha256.Sum256([]byte(pass))
			userMatch := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) == 1
			passMatch := subtle.ConstantTimeCompare(gotPass[:], wantPass[:]) == 1
			if userMatch && passMatch {
				next(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="homeworq"`)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	}
}

// checkOrigin validates WebSocket upgrade origins. Browser clients on
// another origin already passed CORS on the HTTP side; for the upgrade we
// allow absent origins (CLI and test clients) and loopback hosts.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
