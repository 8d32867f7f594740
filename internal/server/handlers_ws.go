package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/study-groups/quasar/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // terminal clients and browser viewers connect cross-origin
	},
}

// handleWebSocket upgrades the connection and classifies it: ?role=game
// marks a frame-producing source (a game bridge), everything else is a
// viewer. The read pump blocks until the peer goes away; cleanup happens
// in the hub's Remove.
func (s *Server) handleWebSocket(c echo.Context) error {
	role := "viewer"
	if c.QueryParam("role") == "game" {
		role = "game"
	}

	if !s.limiter.Acquire() {
		metrics.WebSocketConnectionsTotal.WithLabelValues(role, "rejected").Inc()
		return c.String(http.StatusServiceUnavailable, "connection limit reached")
	}
	defer s.limiter.Release()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues(role, "error").Inc()
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}
	metrics.WebSocketConnectionsTotal.WithLabelValues(role, "accepted").Inc()

	if role == "game" {
		s.hub.AddSource(conn)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.hub.HandleSourceMessage(conn, data)
		}
	} else {
		s.hub.AddViewer(conn)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.hub.HandleViewerMessage(conn, data)
		}
	}

	s.hub.Remove(conn)
	return nil
}
