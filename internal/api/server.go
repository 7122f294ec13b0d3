package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tileworld/internal/game"
)

// Server is the HTTP API server with the game websocket endpoint.
type Server struct {
	engine      *game.Engine
	router      *chi.Mux
	hub         *GameHub
	rateLimiter *IPRateLimiter
	http        *http.Server
}

// NewServer creates a new API server with default production configuration.
//
// IMPORTANT: No listener is opened until Start() is called, so tests can
// construct the server and use Router() with httptest.
func NewServer(engine *game.Engine, history DigHistory) *Server {
	cfg := engine.Config()
	s := &Server{
		engine:      engine,
		rateLimiter: NewIPRateLimiter(RateLimitFromServer(cfg.Server)),
	}
	s.hub = NewGameHub(engine.Bridge(), cfg.Limits, NewOriginChecker(cfg.Server.CORSOrigins), PrometheusMetrics{})
	s.hub.TrustProxy = cfg.Server.TrustProxy

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		History:     history,
		Hub:         s.hub,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	s.http = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start listens on the configured port. It blocks until the server stops.
func (s *Server) Start() error {
	addr := s.http.Addr

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🎮 Game socket: ws://localhost%s/ws", addr)

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket session hub.
func (s *Server) Hub() *GameHub {
	return s.hub
}

// Stop closes every session and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.http.Shutdown(ctx)
}
