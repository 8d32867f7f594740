package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/study-groups/quasar/internal/bridge"
	"github.com/study-groups/quasar/internal/config"
	"github.com/study-groups/quasar/internal/domain"
	"github.com/study-groups/quasar/internal/logging"
	"github.com/study-groups/quasar/internal/match"
	"github.com/study-groups/quasar/internal/pulsar"
	"github.com/study-groups/quasar/internal/redis"
	"github.com/study-groups/quasar/internal/relay"
	"github.com/study-groups/quasar/internal/scores"
	"github.com/study-groups/quasar/internal/server"
	"github.com/study-groups/quasar/internal/slots"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupScores picks the persistent leaderboard when Redis is configured
// and falls back to the in-memory store otherwise. The relay runs fine
// without Redis; only best scores are lost on restart.
func setupScores(cfg *config.Config) (domain.ScoreStore, *redis.Client) {
	if cfg.RedisURL == "" {
		slog.Info("No Redis configured, using in-memory score store")
		return scores.NewMemoryStore(), nil
	}

	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	return redis.NewScoreStore(client), client
}

func runGracefulShutdown(srv *server.Server, hub *relay.Hub, sm *slots.Manager, bf *bridge.Factory) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		bf.KillAll()
		sm.Stop()
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "master_fps", cfg.MasterFPS)

	scoreStore, redisClient := setupScores(cfg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	matchSvc := match.NewService(clock)
	monograms := match.NewMonograms()

	hub := relay.NewHub(relay.Options{
		Clock:     clock,
		MasterFPS: cfg.MasterFPS,
		Match:     matchSvc,
		Monograms: monograms,
		Scores:    scoreStore,
	})

	engine := pulsar.NewEngine()
	slotMgr := slots.NewManager(engine, hub, clock)

	factory := bridge.NewFactory(slotMgr, cfg.TetraDir, cfg.TetraSrc, nil, func(game string, channel int, err error) {
		if err != nil {
			slog.Warn("Bridge closed with error", "game", game, "channel", channel, "error", err)
		}
	})
	hub.SetSpawner(factory)

	hub.StartMaster()

	var srv *server.Server
	if redisClient != nil {
		srv = server.NewServer(cfg, hub, slotMgr, factory, scoreStore, redisClient)
	} else {
		srv = server.NewServer(cfg, hub, slotMgr, factory, scoreStore, nil)
	}

	done := runGracefulShutdown(srv, hub, slotMgr, factory)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
