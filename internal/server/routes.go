package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// The single game socket: viewers and sources both attach here and
	// are classified by the role query parameter.
	s.echo.GET("/ws", s.handleWebSocket)

	// Operational API
	s.echo.GET("/api/stats", s.handleStats)
	s.echo.GET("/api/slots", s.handleSlots)
	s.echo.GET("/api/bridges", s.handleBridges)
	s.echo.GET("/api/scores/:game", s.handleScores)
	s.echo.POST("/api/fps", s.handleSetFps)
}
