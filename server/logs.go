package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/fnpulse/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Log entries are coalesced for this long before a frame is written
	logFlushInterval = 250 * time.Millisecond

	// A batch reaching this size is written immediately
	maxLogBatch = 100

	// Clients only send control frames
	maxClientMessageSize = 4096
)

// LogBatch is a group of log entries sent as one frame
type LogBatch struct {
	Messages  []logger.Message `json:"messages"`
	Timestamp time.Time        `json:"timestamp"`
}

// logFrame wraps a batch with a type marker
type logFrame struct {
	Type string   `json:"type"`
	Data LogBatch `json:"data"`
}

// HandleLogStream streams log entries over a websocket.
// GET /ws/logs?level=warn limits the stream to warn and above.
func (s *Server) HandleLogStream(w http.ResponseWriter, r *http.Request) {
	minLevel := zapcore.DebugLevel
	if v := r.URL.Query().Get("level"); v != "" {
		minLevel = logger.ParseLevel(v)
	}

	upgrader := s.newUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Debugw("Log stream upgrade failed", logger.FieldError, err)
		return
	}

	entries, unsubscribe := s.logs.Subscribe()
	defer unsubscribe()

	s.wg.Add(1)
	defer s.wg.Done()

	closed := make(chan struct{})
	go s.readLogClient(conn, closed)

	s.writeLogs(conn, entries, closed, minLevel)
}

// readLogClient consumes control frames so pongs and close are seen.
// closed is closed when the peer goes away.
func (s *Server) readLogClient(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxClientMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.handleLogReadError(err)
			return
		}
	}
}

// handleLogReadError logs unexpected WebSocket read errors.
// Expected closure codes (going away, abnormal, no status) are silently ignored.
func (s *Server) handleLogReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
		websocket.CloseNormalClosure,
	) {
		s.logger.Debugw("Log stream read error", logger.FieldError, err)
	}
}

// writeLogs batches entries onto conn until the peer leaves, the
// subscription ends or the server stops
func (s *Server) writeLogs(conn *websocket.Conn, entries <-chan logger.Message, closed <-chan struct{}, minLevel zapcore.Level) {
	ping := time.NewTicker(pingPeriod)
	flush := time.NewTicker(logFlushInterval)
	defer func() {
		ping.Stop()
		flush.Stop()
		conn.Close()
	}()

	batch := make([]logger.Message, 0, maxLogBatch)
	send := func() bool {
		if len(batch) == 0 {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		frame := logFrame{
			Type: "logs",
			Data: LogBatch{Messages: batch, Timestamp: time.Now()},
		}
		if err := conn.WriteJSON(frame); err != nil {
			return false
		}
		batch = make([]logger.Message, 0, maxLogBatch)
		return true
	}

	for {
		select {
		case <-s.ctx.Done():
			send()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-closed:
			return
		case msg, ok := <-entries:
			if !ok {
				return
			}
			if lvl, err := zapcore.ParseLevel(msg.Level); err == nil && lvl < minLevel {
				continue
			}
			batch = append(batch, msg)
			if len(batch) >= maxLogBatch && !send() {
				return
			}
		case <-flush.C:
			if !send() {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
