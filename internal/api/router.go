package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tileworld/internal/config"
	"tileworld/internal/game"
	"tileworld/internal/persistence/auditdb"
	"tileworld/internal/render"
)

// EngineInterface defines the engine methods used by the API.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// Snapshot returns the latest immutable world snapshot (nil before the first tick)
	Snapshot() *game.WorldSnapshot
	// Terrain returns the block store; safe for concurrent reads
	Terrain() *game.Terrain
	// Catalog returns the block/item definitions
	Catalog() *config.Catalog
	// Leaderboard returns the blocks-mined ranking
	Leaderboard() *game.Leaderboard
	// Config returns the engine configuration
	Config() config.AppConfig
	// GetEventLogStats returns event log counters
	GetEventLogStats() map[string]interface{}
}

// DigHistory is the audit index queried by /api/digs.
type DigHistory interface {
	RecentDigs(ctx context.Context, outcome string, limit int) ([]auditdb.DigRow, error)
	Stats() auditdb.Stats
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: engine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation (required)
	Engine EngineInterface

	// History is the optional SQLite audit index. Nil disables /api/digs.
	History DigHistory

	// Hub is the optional game websocket hub mounted at /ws.
	Hub *GameHub

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler dependencies.
type routerHandlers struct {
	engine  EngineInterface
	history DigHistory
	hub     *GameHub
	limiter *IPRateLimiter
	minimap *render.Minimap
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects beyond the rate
// limiter's cleanup goroutine. No listeners are opened, so it is safe to use
// with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	h := &routerHandlers{
		engine:  cfg.Engine,
		history: cfg.History,
		hub:     cfg.Hub,
		limiter: rateLimiter,
		minimap: render.NewMinimap(cfg.Engine.Catalog(), cfg.Engine.Config().World.BlockSize),
	}

	// The websocket endpoint has its own per-IP and per-session limits
	if cfg.Hub != nil {
		r.Handle("/ws", cfg.Hub)
	}

	// Rate limiting (BEFORE handlers to reject early and save CPU).
	// Heavy routes are charged their own cost instead of the lookup token.
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Middleware)

			r.Get("/state", h.handleGetState)
			r.Get("/stats", h.handleGetStats)
			r.Get("/players", h.handleGetPlayers)
			r.Get("/leaderboard", h.handleGetLeaderboard)
			r.Get("/digs/active", h.handleGetActiveDigs)
			r.Get("/catalog", h.handleGetCatalog)
			r.Get("/world/block/{x}/{y}", h.handleGetBlock)
		})

		r.With(rateLimiter.Cost(costHistory)).Get("/digs", h.handleGetDigHistory)
		r.With(rateLimiter.Cost(costMap)).Get("/world/map.png", h.handleGetMap)
	})

	r.With(rateLimiter.Middleware).Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
