package logger

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Message is a single log entry as delivered to stream subscribers
type Message struct {
	Level     string                 `json:"level"`            // "debug", "info", "warn", "error"
	Timestamp time.Time              `json:"timestamp"`        // When the log was created
	Logger    string                 `json:"logger"`           // Logger name (e.g., "server.autoscaler")
	Message   string                 `json:"message"`          // Log message
	Fields    map[string]interface{} `json:"fields,omitempty"` // Structured fields
}

// subscriberBuffer bounds how far a slow subscriber may lag before
// entries are dropped for it.
const subscriberBuffer = 256

// StreamCore is a zapcore.Core that fans entries out to live subscribers.
// With no subscribers, Write is a cheap no-op.
type StreamCore struct {
	zapcore.LevelEnabler
	hub    *streamHub
	fields []zapcore.Field
}

type streamHub struct {
	mu      sync.RWMutex
	nextID  int
	clients map[int]chan Message
}

// NewStreamCore creates a stream core emitting entries at or above level
func NewStreamCore(level zapcore.LevelEnabler) *StreamCore {
	return &StreamCore{
		LevelEnabler: level,
		hub:          &streamHub{clients: make(map[int]chan Message)},
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release it; the channel is closed on cancel.
func (c *StreamCore) Subscribe() (<-chan Message, func()) {
	h := c.hub
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.clients[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of attached subscribers
func (c *StreamCore) Subscribers() int {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return len(c.hub.clients)
}

// With returns a core carrying the extra fields (zap interface)
func (c *StreamCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &StreamCore{LevelEnabler: c.LevelEnabler, hub: c.hub, fields: merged}
}

// Check determines if the logger should log at this level (zap interface)
func (c *StreamCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write delivers the entry to every subscriber without blocking.
// Subscribers whose buffer is full miss the entry.
func (c *StreamCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.Enabled(entry.Level) {
		return nil
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if len(c.hub.clients) == 0 {
		return nil
	}

	msg := FromZapEntry(entry, append(append([]zapcore.Field{}, c.fields...), fields...))
	for _, ch := range c.hub.clients {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Sync is a no-op; delivery is synchronous (zap interface)
func (c *StreamCore) Sync() error {
	return nil
}

// FromZapEntry converts a zap log entry to a Message
func FromZapEntry(entry zapcore.Entry, fields []zapcore.Field) Message {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}

	msg := Message{
		Level:     entry.Level.String(),
		Timestamp: entry.Time,
		Logger:    entry.LoggerName,
		Message:   entry.Message,
	}
	if len(enc.Fields) > 0 {
		msg.Fields = enc.Fields
	}
	return msg
}
