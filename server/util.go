package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// defaultAllowedOrigins applies when no origins are configured
var defaultAllowedOrigins = []string{"http://localhost", "https://localhost"}

// newUpgrader creates a WebSocket upgrader with origin checking
func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the Origin header against the configured prefixes.
// Prefix matching admits any port.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Direct clients (curl, CLI, tests) send no Origin
	if origin == "" {
		return true
	}

	allowed := s.allowedOrigins
	if len(allowed) == 0 {
		allowed = defaultAllowedOrigins
	}
	for _, prefix := range allowed {
		if prefix == "*" || strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
