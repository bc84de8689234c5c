package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gamepulse/internal/config"
	"gamepulse/internal/database"
	"gamepulse/internal/event"
	"gamepulse/internal/handler"
	"gamepulse/internal/ingest"
	"gamepulse/internal/metrics"
	"gamepulse/internal/middleware"
	"gamepulse/internal/repository"
	"gamepulse/internal/router"
	"gamepulse/internal/service"
	"gamepulse/internal/snapshot"
	"gamepulse/internal/websocket"
)

// Stores are the persistence backends the HTTP surface runs on.
type Stores struct {
	Users     service.UserStore
	Approvals service.ApprovalStore
	Players   service.PlayerStore
	Snapshots snapshot.Store
	Checks    map[string]handler.Pinger
}

// MemoryStores runs everything in process. Used for development and tests.
func MemoryStores() Stores {
	mem := repository.NewMemoryStore()
	return Stores{
		Users:     mem.Users,
		Approvals: mem.Approvals,
		Players:   mem.Players,
		Snapshots: snapshot.NewMemoryStore(snapshot.DefaultHistoryLen),
	}
}

type App struct {
	server       *http.Server
	hub          *event.Hub
	cleanupFuncs []func()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	stores, cleanups, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New(metrics.NewRegistry())
	appHandler, hub := NewHandler(cfg, stores, m)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appHandler,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		// Streams and sockets replace this with per-write deadlines.
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	return &App{server: server, hub: hub, cleanupFuncs: cleanups}, nil
}

// NewHandler assembles services, guards and routes on top of stores.
func NewHandler(cfg *config.Config, stores Stores, m *metrics.Metrics) (http.Handler, *event.Hub) {
	tokens := service.NewTokenService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	sessions := service.NewSessionService(stores.Users, stores.Approvals, tokens, cfg.BcryptCost, m)
	approvals := service.NewApprovalService(stores.Approvals)
	players := service.NewPlayerService(stores.Players)

	hub := event.NewHub(event.Config{KeepAlive: cfg.StreamKeepAlive, MaxPending: cfg.StreamMaxPending}, m)
	ingestService := service.NewIngestService(ingest.NewValidator(), hub, stores.Snapshots, m)

	guards := router.Guards{
		API: middleware.NewAccessGuard(stores.Users, middleware.BearerHeader(tokens)),
		Stream: middleware.NewAccessGuard(stores.Users,
			middleware.BearerHeader(tokens),
			middleware.QueryToken(tokens),
			middleware.RefreshCookie(sessions),
		),
		Consent: approvals,
	}

	cookies := handler.CookiePolicy{Production: cfg.Production, TTL: cfg.RefreshTokenTTL}
	authHandler := handler.NewAuthHandler(sessions, approvals, cookies)
	playerHandler := handler.NewPlayerHandler(players, stores.Snapshots)
	streamHandler := handler.NewStreamHandler(hub, cfg.StreamWriteTimeout)
	ingestHandler := handler.NewIngestHandler(ingestService, cfg.IngestAPIKey, cfg.WebhookAPIKey)
	healthHandler := handler.NewHealthHandler(stores.Checks, hub.Count)
	socketHandler := websocket.NewHandler(ingestService, websocket.HandlerConfig{
		APIKey:          cfg.IngestAPIKey,
		MaxMessageBytes: cfg.IngestMaxBytes,
	})

	return router.New(cfg, m, guards, authHandler, playerHandler, streamHandler, ingestHandler, healthHandler, socketHandler), hub
}

func openStores(ctx context.Context, cfg *config.Config) (Stores, []func(), error) {
	var (
		stores   Stores
		cleanups []func()
	)
	stores.Checks = map[string]handler.Pinger{}

	closeAll := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := repository.NewMemoryStore()
		stores.Users, stores.Approvals, stores.Players = mem.Users, mem.Approvals, mem.Players
		slog.Warn("using in-memory credential store; data is lost on restart")
	default:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return Stores{}, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanups = append(cleanups, db.Close)

		if err := db.EnsureSchema(ctx); err != nil {
			closeAll()
			return Stores{}, nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		stores.Users = repository.NewUserRepository(db.Pool)
		stores.Approvals = repository.NewApprovalRepository(db.Pool)
		stores.Players = repository.NewPlayerRepository(db.Pool)
		stores.Checks["postgres"] = handler.PingFunc(db.Health)
		slog.Info("database ready")
	}

	if cfg.RedisURL != "" {
		redisStore, err := snapshot.NewRedisStore(ctx, snapshot.RedisConfig{
			URL:        cfg.RedisURL,
			TTL:        cfg.SnapshotTTL,
			HistoryLen: snapshot.DefaultHistoryLen,
		})
		if err != nil {
			closeAll()
			return Stores{}, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cleanups = append(cleanups, func() { _ = redisStore.Close() })
		stores.Snapshots = redisStore
		stores.Checks["redis"] = redisStore
		slog.Info("redis snapshot store ready")
	} else {
		stores.Snapshots = snapshot.NewMemoryStore(snapshot.DefaultHistoryLen)
	}

	return stores, cleanups, nil
}

// Run serves until ctx is cancelled, then drains connections. Streams are
// closed through the hub first so Shutdown does not wait on them.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		a.cleanup()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
}
