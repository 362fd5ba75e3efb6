package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupHTTPRoutes builds the route table. Paths use the net/http
// method-agnostic patterns; handlers check methods themselves.
func (s *Server) setupHTTPRoutes() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.metrics.instrument(pattern, s.corsMiddleware(h)))
	}

	handle("/submit", s.HandleSubmit)          // Enqueue a job (POST)
	handle("/upload", s.HandleUpload)          // Upload a script and enqueue it (POST)
	handle("/status/{job_id}", s.HandleStatus) // Job status surface (GET)
	handle("/jobs", s.HandleJobs)              // Recent jobs (GET)
	handle("/trigger", s.HandleTrigger)        // Register a trigger (POST)
	handle("/triggers", s.HandleTriggers)      // Registered triggers (GET)
	handle("/event", s.HandleEvent)            // Fire event triggers (POST)
	handle("/metrics", s.HandleMetrics)        // JSON metrics surface (GET)
	handle("/health", s.HandleHealth)          // Liveness and version (GET)
	handle("/ws/logs", s.HandleLogStream)      // Live log stream (websocket)
	handle("/metrics/prometheus", s.handlePromMetrics(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	return mux
}

// handlePromMetrics restricts the exposition handler to GET
func (s *Server) handlePromMetrics(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		h.ServeHTTP(w, r)
	}
}

// corsMiddleware adds CORS headers for configured origins and answers
// preflight requests
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
