package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gamepulse/internal/config"
	"gamepulse/internal/handler"
	"gamepulse/internal/metrics"
	"gamepulse/internal/middleware"
	"gamepulse/internal/websocket"
)

const (
	jsonBodyLimit    = 8 * 1024
	webhookBodyLimit = 64 * 1024
)

// Guards groups the access checks routes are wrapped in. API routes accept
// only bearer headers; the event stream also accepts the query token and
// the refresh cookie.
type Guards struct {
	API     *middleware.AccessGuard
	Stream  *middleware.AccessGuard
	Consent middleware.ConsentChecker
}

func New(
	cfg *config.Config,
	m *metrics.Metrics,
	guards Guards,
	authHandler *handler.AuthHandler,
	playerHandler *handler.PlayerHandler,
	streamHandler *handler.StreamHandler,
	ingestHandler *handler.IngestHandler,
	healthHandler *handler.HealthHandler,
	socketHandler *websocket.Handler,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM, cfg.IngestRateLimitRPM, cfg.TrustProxy)
	requireConsent := middleware.RequireConsent(guards.Consent)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(m.Instrument)
	r.Use(middleware.SecurityHeaders(cfg.Production))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", healthHandler.Health)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		// Long-lived routes stay outside the buffering timeout handler.
		api.With(
			middleware.StreamLimits(cfg.StreamMaxDuration, 3*cfg.StreamKeepAlive),
			guards.Stream.Require,
			requireConsent,
		).Get("/events", streamHandler.Events)
		api.Get("/ingest/ws", socketHandler.Handle)

		api.Group(func(short chi.Router) {
			short.Use(middleware.Timeout(cfg.RequestTimeout))

			short.Route("/auth", func(auth chi.Router) {
				auth.Use(middleware.BodyLimit(jsonBodyLimit))
				auth.Post("/login", authHandler.Login)
				auth.Post("/refresh", authHandler.Refresh)
				auth.Post("/logout", authHandler.Logout)
				auth.With(guards.API.Require).Get("/me", authHandler.Me)
				auth.With(guards.API.Require).Post("/approval", authHandler.Approval)
			})

			short.With(middleware.BodyLimit(cfg.IngestMaxBytes)).Post("/push", ingestHandler.PushFatigue)
			short.With(middleware.BodyLimit(cfg.IngestMaxBytes)).Post("/push_position", ingestHandler.PushPosition)
			short.With(middleware.BodyLimit(webhookBodyLimit)).Post("/webhook-alert", ingestHandler.Alert)

			short.Group(func(players chi.Router) {
				players.Use(guards.API.Require, requireConsent)
				players.Get("/players", playerHandler.Roster)
				players.Get("/players/live", playerHandler.Live)
				players.Get("/players/live/{pid}/history", playerHandler.History)
			})
		})
	})

	return r
}
