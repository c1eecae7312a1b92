package main

import (
	"net/http"
	"os"
	"strings"
)

// withCORS wraps an http.Handler and adds CORS headers so a
// separately-hosted viewer front end can call this API.
//
// The default is permissive ("*") since viewers are deployed on
// arbitrary origins; set CORS_ALLOWED_ORIGIN to pin one down.
func withCORS(next http.Handler) http.Handler {
	allowedOrigin := os.Getenv("CORS_ALLOWED_ORIGIN")
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	// Normalize a bare host like "viewer.example.com" so the browser
	// sees an exact match to Origin.
	if allowedOrigin != "*" && !strings.Contains(allowedOrigin, "://") {
		allowedOrigin = "https://" + allowedOrigin
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, X-User-Id")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Type, Content-Length")

		// Handle preflight requests quickly
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
