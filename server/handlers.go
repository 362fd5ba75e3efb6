package server

import (
	"net/http"

	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
	"github.com/teranos/fnpulse/pulse/autoscale"
	"github.com/teranos/fnpulse/version"
)

// MetricsResponse is the JSON metrics surface
type MetricsResponse struct {
	QueueSize            int                    `json:"queue_size"`
	ActiveWorkerCount    int                    `json:"active_worker_count"`
	TotalCostAccumulated float64                `json:"total_cost_accumulated"`
	System               async.SystemMetrics    `json:"system"`
	Autoscaler           *autoscale.Status      `json:"autoscaler,omitempty"`
	Workers              []autoscale.WorkerInfo `json:"workers,omitempty"`
	Triggers             map[string]int         `json:"triggers"`
}

// HandleMetrics serves the metrics surface. GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()

	size, err := s.queue.Size(ctx)
	if err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}
	total, err := s.queue.TotalCost(ctx)
	if err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}
	system, err := s.queue.GetSystemMetrics(ctx)
	if err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}

	resp := MetricsResponse{
		QueueSize:            size,
		TotalCostAccumulated: total,
		System:               system,
		Triggers:             make(map[string]int),
	}
	for typ, n := range s.dispatcher.Registry().Counts() {
		resp.Triggers[string(typ)] = n
	}
	if s.scaler != nil {
		status := s.scaler.Status()
		resp.Autoscaler = &status
		resp.ActiveWorkerCount = status.Workers
		resp.Workers = s.scaler.Workers(ctx)
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleHealth reports liveness and build information. GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	versionInfo := version.Get()

	health := map[string]interface{}{
		"status":          "ok",
		"version":         versionInfo.Version,
		"commit":          versionInfo.CommitHash,
		"build_time":      versionInfo.BuildTime,
		"log_subscribers": s.logs.Subscribers(),
	}
	if s.scaler != nil {
		health["workers"] = s.scaler.Status().Workers
	}

	if err := writeJSON(w, http.StatusOK, health); err != nil {
		s.logger.Debugw("Health write failed", logger.FieldError, err)
	}
}
