// Package server is the HTTP edge: the /ws endpoint where viewers and
// sources attach, health and metrics endpoints, and a small JSON API for
// operational introspection.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/study-groups/quasar/internal/bridge"
	"github.com/study-groups/quasar/internal/config"
	"github.com/study-groups/quasar/internal/domain"
	"github.com/study-groups/quasar/internal/relay"
	"github.com/study-groups/quasar/internal/slots"
)

const maxConnections = 4096

// redisPinger is the slice of the redis client the readiness check needs.
// Nil when the server runs without Redis.
type redisPinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	hub       *relay.Hub
	slots     *slots.Manager
	bridges   *bridge.Factory
	scores    domain.ScoreStore
	redis     redisPinger
	limiter   *ConnectionLimiter
	startTime time.Time
}

func NewServer(cfg *config.Config, hub *relay.Hub, sm *slots.Manager, bf *bridge.Factory, scores domain.ScoreStore, redis redisPinger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		hub:       hub,
		slots:     sm,
		bridges:   bf,
		scores:    scores,
		redis:     redis,
		limiter:   NewConnectionLimiter(maxConnections),
		startTime: time.Now(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
