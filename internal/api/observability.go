package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-player labels to prevent DoS)
var (
	// Simulation metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Time spent in one simulation step",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	})

	playerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_player_count",
		Help: "Current number of connected players",
	})

	entityCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_entity_count",
		Help: "Current number of live entities",
	})

	activeDigs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_active_digs",
		Help: "Dig requests awaiting a decision",
	})

	spawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replication_spawns_total",
		Help: "Entities spawned on clients",
	})

	despawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replication_despawns_total",
		Help: "Entities despawned on clients",
	})

	digOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dig_outcomes_total",
		Help: "Finished digs by outcome",
	}, []string{"outcome"}) // Bounded: committed, timed_out, invalidated, tool_lost

	protocolViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protocol_violations_total",
		Help: "Client messages dropped without a state change",
	}, []string{"kind"}) // Bounded: message type names plus decode/rate_limit/unknown_session

	inboundDrained = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_inbound_drained",
		Help:    "Inbound events handled per tick",
		Buckets: []float64{0, 1, 5, 20, 100, 500, 2000},
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin check or handshake",
	}, []string{"reason"})

	// WebSocket metrics
	wsSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_sessions_active",
		Help: "Currently active game sessions",
	})

	wsMessagesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_in_total",
		Help: "Frames read from clients",
	})

	wsMessagesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_out_total",
		Help: "Frames written to clients",
	})

	wsOutboxFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_outbox_full_total",
		Help: "Outbound messages refused because a session outbox was full",
	})
)

// PrometheusMetrics implements game.Metrics on the package collectors.
type PrometheusMetrics struct{}

func (PrometheusMetrics) ObserveTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }
func (PrometheusMetrics) SetPlayers(n int)            { playerCount.Set(float64(n)) }
func (PrometheusMetrics) SetEntities(n int)           { entityCount.Set(float64(n)) }
func (PrometheusMetrics) SetActiveDigs(n int)         { activeDigs.Set(float64(n)) }
func (PrometheusMetrics) AddSpawns(n int)             { spawnsTotal.Add(float64(n)) }
func (PrometheusMetrics) AddDespawns(n int)           { despawnsTotal.Add(float64(n)) }
func (PrometheusMetrics) DigOutcome(state string)     { digOutcomes.WithLabelValues(state).Inc() }
func (PrometheusMetrics) InboundDrained(n int)        { inboundDrained.Observe(float64(n)) }

// ProtocolViolation counts a dropped client message.
func (PrometheusMetrics) ProtocolViolation(kind string) {
	protocolViolations.WithLabelValues(kind).Inc()
}

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // MUST be "127.0.0.1:6060" in production
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:       true,
		ListenAddr:    "127.0.0.1:6060", // Localhost only - NEVER expose externally
		BasicAuthUser: os.Getenv("DEBUG_USER"),
		BasicAuthPass: os.Getenv("DEBUG_PASS"),
	}
}

// StartDebugServer starts the internal observability server
// CRITICAL: This MUST bind to localhost only to prevent pprof-based DoS
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost for security")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	handler := debugHandler(cfg)

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

func debugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordConnectionRejected increments the rejection counter
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit", "handshake"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSSessions updates the active session gauge
func UpdateWSSessions(count int) {
	wsSessionsActive.Set(float64(count))
}
