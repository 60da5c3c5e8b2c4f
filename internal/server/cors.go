package server

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// cors answers preflight requests and decorates responses for allowed
// origins. Requests from other origins pass through without CORS headers.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !originAllowed(origin, s.allowedOrigins) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if allowsAnyOrigin(s.allowedOrigins) {
			// Browsers reject credentials with a wildcard origin.
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed matches origin against full origins or host patterns using
// path.Match, the same syntax the WebSocket origin check uses.
func originAllowed(origin string, allowed []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, pattern := range allowed {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "*" || pattern == strings.ToLower(origin) {
			return true
		}
		if ok, _ := path.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

func allowsAnyOrigin(allowed []string) bool {
	for _, pattern := range allowed {
		if strings.TrimSpace(pattern) == "*" {
			return true
		}
	}
	return false
}
