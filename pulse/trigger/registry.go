// Package trigger fires jobs without a client request: interval triggers on
// a fixed cadence, event triggers when a matching event is reported.
//
// Triggers live in memory for the lifetime of the server process.
package trigger

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

// DefaultIntervalSeconds applies when an interval trigger names no interval
const DefaultIntervalSeconds = 60

// Type is how a trigger fires
type Type string

const (
	TypeInterval Type = "interval"
	TypeEvent    Type = "event"
)

// ParseType accepts interval and event, plus the aliases cron and webhook
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interval", "cron":
		return TypeInterval, nil
	case "event", "webhook":
		return TypeEvent, nil
	default:
		return "", errors.NewInvalidRequestError("Invalid trigger type: %s", s)
	}
}

// Trigger is a registered rule that enqueues a job
type Trigger struct {
	ID              string          `json:"id"`
	Type            Type            `json:"type"`
	Function        string          `json:"function"`
	Payload         json.RawMessage `json:"payload"`
	Runtime         sandbox.Runtime `json:"runtime"`
	Filename        string          `json:"filename,omitempty"`
	IntervalSeconds int             `json:"interval_seconds,omitempty"` // interval only
	EventType       string          `json:"event_type,omitempty"`       // event only
	LastFired       *time.Time      `json:"last_fired,omitempty"`       // interval only
	CreatedAt       time.Time       `json:"created_at"`
}

// Source is the job source recorded on jobs this trigger enqueues
func (t *Trigger) Source() string {
	return "trigger:" + t.ID
}

// Interval returns IntervalSeconds as a duration
func (t *Trigger) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// Spec is what a client registers
type Spec struct {
	Type            string
	Function        string
	Payload         json.RawMessage
	Runtime         sandbox.Runtime
	Filename        string
	IntervalSeconds int
	EventType       string
}

// Registry holds triggers. The dispatcher is the only writer of LastFired,
// through MarkFired.
type Registry struct {
	mu              sync.RWMutex
	triggers        map[string]*Trigger
	order           []string
	now             func() time.Time
	defaultInterval int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		triggers:        make(map[string]*Trigger),
		now:             time.Now,
		defaultInterval: DefaultIntervalSeconds,
	}
}

// SetDefaultInterval changes the interval given to triggers registered
// without one
func (r *Registry) SetDefaultInterval(seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seconds > 0 {
		r.defaultInterval = seconds
	}
}

// Register validates spec and stores a new trigger. Interval triggers
// start their clock at registration, so the first fire is one interval
// later.
func (r *Registry) Register(spec Spec) (*Trigger, error) {
	typ, err := ParseType(spec.Type)
	if err != nil {
		return nil, err
	}
	if spec.Function == "" {
		return nil, errors.NewInvalidRequestError("function name required")
	}
	runtime, err := sandbox.ParseRuntime(string(spec.Runtime))
	if err != nil {
		return nil, err
	}

	payload := spec.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(`{}`)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, errors.NewInvalidRequestError("payload must be a JSON object")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	t := &Trigger{
		ID:        uuid.NewString(),
		Type:      typ,
		Function:  spec.Function,
		Payload:   payload,
		Runtime:   runtime,
		Filename:  spec.Filename,
		CreatedAt: now,
	}

	switch typ {
	case TypeInterval:
		interval := spec.IntervalSeconds
		if interval == 0 {
			interval = r.defaultInterval
		}
		if interval < 0 {
			return nil, errors.NewInvalidRequestError("interval must be positive, got %d", interval)
		}
		t.IntervalSeconds = interval
		t.LastFired = &now
	case TypeEvent:
		if spec.EventType == "" {
			return nil, errors.NewInvalidRequestError("event_type required for event triggers")
		}
		t.EventType = spec.EventType
	}

	r.triggers[t.ID] = t
	r.order = append(r.order, t.ID)
	return t.clone(), nil
}

// Get returns a copy of a trigger
func (r *Registry) Get(id string) (*Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[id]
	if !ok {
		return nil, errors.NewNotFoundError("trigger not found: %s", id)
	}
	return t.clone(), nil
}

// List returns copies of all triggers in registration order
func (r *Registry) List() []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Trigger, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.triggers[id].clone())
	}
	return out
}

// ListDue returns interval triggers with now - last_fired >= interval
func (r *Registry) ListDue(now time.Time) []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*Trigger
	for _, id := range r.order {
		t := r.triggers[id]
		if t.Type != TypeInterval || t.LastFired == nil {
			continue
		}
		if now.Sub(*t.LastFired) >= t.Interval() {
			due = append(due, t.clone())
		}
	}
	return due
}

// MarkFired sets last_fired to now if it still equals prev. It reports
// whether this caller won; a false return means the trigger already fired
// for this interval.
func (r *Registry) MarkFired(id string, prev time.Time, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.triggers[id]
	if !ok || t.LastFired == nil || !t.LastFired.Equal(prev) {
		return false
	}
	fired := now
	t.LastFired = &fired
	return true
}

// MatchEvent returns event triggers listening for eventType
func (r *Registry) MatchEvent(eventType string) []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Trigger
	for _, id := range r.order {
		t := r.triggers[id]
		if t.Type == TypeEvent && t.EventType == eventType {
			matched = append(matched, t.clone())
		}
	}
	return matched
}

// Counts returns the number of triggers per type
func (r *Registry) Counts() map[Type]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[Type]int{TypeInterval: 0, TypeEvent: 0}
	for _, t := range r.triggers {
		counts[t.Type]++
	}
	return counts
}

// EventTypes returns the distinct event types with at least one trigger
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, t := range r.triggers {
		if t.Type == TypeEvent {
			seen[t.EventType] = struct{}{}
		}
	}
	types := make([]string, 0, len(seen))
	for et := range seen {
		types = append(types, et)
	}
	sort.Strings(types)
	return types
}

func (t *Trigger) clone() *Trigger {
	c := *t
	if t.LastFired != nil {
		lf := *t.LastFired
		c.LastFired = &lf
	}
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	return &c
}
