package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (push status updates)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)     // POST (submit), GET (list)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)    // GET/DELETE /{id}, GET /{id}/stream
	mux.HandleFunc("/api/jobs/demo", s.app.JobHandler.SubmitDemoHandler)

	// API routes - Maintenance
	mux.HandleFunc("/api/cleanup/trigger", s.app.APIHandler.TriggerCleanupHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Prometheus scrape endpoint
	mux.Handle("/metrics", s.app.Metrics.Handler())

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/jobs requests (submit and list)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.JobHandler.SubmitHandler(w, r)
	case http.MethodGet:
		s.app.JobHandler.ListHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/jobs/{id} requests and subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/jobs/{id}/stream
	if r.Method == http.MethodGet && strings.HasSuffix(path, "/stream") {
		s.app.StreamHandler.StreamJobHandler(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.StatusHandler(w, r)
	case http.MethodDelete:
		s.app.JobHandler.CancelHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
