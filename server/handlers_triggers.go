package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/sandbox"
	"github.com/teranos/fnpulse/pulse/trigger"
)

// TriggerRequest is the body of POST /trigger. Interval is in seconds.
type TriggerRequest struct {
	Type      string          `json:"type"`
	Function  string          `json:"function"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Runtime   string          `json:"runtime,omitempty"`
	Filename  string          `json:"filename,omitempty"`
	Interval  int             `json:"interval,omitempty"`
	EventType string          `json:"event_type,omitempty"`
}

// EventRequest is the body of POST /event
type EventRequest struct {
	EventType string `json:"event_type"`
}

// EventResponse is returned by POST /event
type EventResponse struct {
	Status       string   `json:"status"`
	JobsEnqueued int      `json:"jobs_enqueued"`
	JobIDs       []string `json:"job_ids"`
}

// HandleTrigger registers a trigger. POST /trigger → {trigger_id}
func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req TriggerRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Type == "" || req.Function == "" {
		writeError(w, http.StatusBadRequest, "type and function required")
		return
	}

	t, err := s.dispatcher.Registry().Register(trigger.Spec{
		Type:            req.Type,
		Function:        req.Function,
		Payload:         req.Payload,
		Runtime:         sandbox.Runtime(req.Runtime),
		Filename:        req.Filename,
		IntervalSeconds: req.Interval,
		EventType:       req.EventType,
	})
	if err != nil {
		writeErrorFor(w, s.logger, err, "")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Trigger registered",
		logger.FieldTriggerID, shortID(t.ID),
		"type", t.Type,
		logger.FieldFunction, t.Function,
		"interval_seconds", t.IntervalSeconds,
		logger.FieldEvent, t.EventType)

	writeJSON(w, http.StatusOK, map[string]string{"trigger_id": t.ID})
}

// HandleTriggers lists registered triggers. GET /triggers
func (s *Server) HandleTriggers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	triggers := s.dispatcher.Registry().List()
	if triggers == nil {
		triggers = []*trigger.Trigger{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"triggers":    triggers,
		"count":       len(triggers),
		"event_types": s.dispatcher.Registry().EventTypes(),
	})
}

// HandleEvent fires every event trigger listening for the event type.
// POST /event → {status, jobs_enqueued, job_ids}
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req EventRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	jobIDs, err := s.dispatcher.FireEvent(r.Context(), req.EventType)
	if err != nil && len(jobIDs) == 0 {
		writeErrorFor(w, s.logger, err, "")
		return
	}
	if err != nil {
		// Some listeners enqueued; report what was done
		s.logger.Warnw("Event partially processed",
			logger.FieldEvent, req.EventType,
			logger.FieldCount, len(jobIDs),
			logger.FieldError, err)
	}
	if jobIDs == nil {
		jobIDs = []string{}
	}

	writeJSON(w, http.StatusOK, EventResponse{
		Status:       "event processed",
		JobsEnqueued: len(jobIDs),
		JobIDs:       jobIDs,
	})
}
