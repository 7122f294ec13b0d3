// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for world, simulation and server settings.
//
// IMPORTANT: When changing defaults, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"strings"
)

// =============================================================================
// WORLD CONFIGURATION
// =============================================================================

// WorldConfig describes the fixed world bounds and terrain seed.
type WorldConfig struct {
	Width     int     // World width in blocks
	Height    int     // World height in blocks
	BlockSize float64 // World units per block (player positions arrive in world units)
	Seed      int64   // Terrain generator seed
	SurfaceY  int     // First solid row; everything above is open sky
}

// DefaultWorld returns the default world configuration.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		Width:     1000,
		Height:    1000,
		BlockSize: 16,
		Seed:      1,
		SurfaceY:  200,
	}
}

// WorldFromEnv returns world configuration with environment variable overrides.
func WorldFromEnv() WorldConfig {
	cfg := DefaultWorld()

	if w := getEnvInt("WORLD_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvInt("WORLD_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	if bs := getEnvFloat("BLOCK_SIZE", 0); bs > 0 {
		cfg.BlockSize = bs
	}
	if v := os.Getenv("WORLD_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = seed
		}
	}
	if s := getEnvInt("WORLD_SURFACE_Y", -1); s >= 0 {
		cfg.SurfaceY = s
	}

	return cfg
}

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds tick, interest management and digging settings.
type SimConfig struct {
	TickRate            int     // Simulation steps per second
	ViewHalfWidth       float64 // Viewport half extent on X, in blocks
	ViewHalfHeight      float64 // Viewport half extent on Y, in blocks
	ReloadDistance      float64 // Drift (blocks) from the last center that forces a recenter
	DigTimeoutTicks     uint64  // Grace window after the expected end of a dig
	ReplicationInterval int     // Run reconcile every N ticks (recenters force a pass)
	StrictInvariants    bool    // Panic on consistency violations (development builds)
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		TickRate:            20,
		ViewHalfWidth:       60,
		ViewHalfHeight:      50,
		ReloadDistance:      30,
		DigTimeoutTicks:     20, // 1 second at 20 TPS
		ReplicationInterval: 1,
		StrictInvariants:    false,
	}
}

// SimFromEnv returns simulation configuration with environment variable overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()

	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if hw := getEnvFloat("VIEW_HALF_WIDTH", 0); hw > 0 {
		cfg.ViewHalfWidth = hw
	}
	if hh := getEnvFloat("VIEW_HALF_HEIGHT", 0); hh > 0 {
		cfg.ViewHalfHeight = hh
	}
	if rd := getEnvFloat("RELOAD_DISTANCE", 0); rd > 0 {
		cfg.ReloadDistance = rd
	}
	if to := getEnvInt("DIG_TIMEOUT_TICKS", -1); to >= 0 {
		cfg.DigTimeoutTicks = uint64(to)
	}
	if ri := getEnvInt("REPLICATION_INTERVAL", 0); ri > 0 {
		cfg.ReplicationInterval = ri
	}
	if os.Getenv("STRICT_INVARIANTS") == "true" {
		cfg.StrictInvariants = true
	}

	return cfg
}

// TickSeconds returns the fixed duration of one tick in seconds.
func (c SimConfig) TickSeconds() float64 {
	if c.TickRate <= 0 {
		return 0
	}
	return 1.0 / float64(c.TickRate)
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection and performance limits.
type ResourceLimits struct {
	MaxTotalPlayers   int // Hard cap on concurrently connected players
	MaxInboundQueue   int // Inbound ring capacity (rounded up to a power of 2)
	MaxOutboundQueue  int // Per-session outbound ring capacity
	MaxMessagesPerSec int // Per-session inbound message rate
	MaxMessageBurst   int // Per-session inbound burst
	MaxInventorySlots int // Inventory slots per player
	MaxFrameBytes     int // Largest inbound websocket frame
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxTotalPlayers:   100,
		MaxInboundQueue:   1 << 14,
		MaxOutboundQueue:  1 << 10,
		MaxMessagesPerSec: 60,
		MaxMessageBurst:   120,
		MaxInventorySlots: 10,
		MaxFrameBytes:     64 * 1024,
	}
}

// LimitsFromEnv returns resource limits with environment variable overrides.
func LimitsFromEnv() ResourceLimits {
	cfg := DefaultLimits()

	if mp := getEnvInt("MAX_PLAYERS", 0); mp > 0 {
		cfg.MaxTotalPlayers = mp
	}
	if mps := getEnvInt("MAX_MESSAGES_PER_SEC", 0); mps > 0 {
		cfg.MaxMessagesPerSec = mps
		if cfg.MaxMessageBurst < mps {
			cfg.MaxMessageBurst = mps * 2
		}
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int
	CORSOrigins []string // nil keeps the router defaults

	// Per-IP budget for the HTTP debug API, in request tokens
	HTTPRatePerSec float64
	HTTPRateBurst  int
	// Only behind a reverse proxy: take client addresses from X-Forwarded-For
	TrustProxy bool
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		HTTPRatePerSec: 20,
		HTTPRateBurst:  40,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	if r := getEnvFloat("HTTP_RATE_PER_SEC", 0); r > 0 {
		cfg.HTTPRatePerSec = r
	}
	if b := getEnvInt("HTTP_RATE_BURST", 0); b > 0 {
		cfg.HTTPRateBurst = b
	}
	if os.Getenv("TRUST_PROXY") == "true" {
		cfg.TrustProxy = true
	}

	return cfg
}

// =============================================================================
// SPATIAL CONFIGURATION
// =============================================================================

// SpatialConfig holds spatial indexing settings.
type SpatialConfig struct {
	GridCellSize float64 // Spatial index cell size in blocks
	MaxEntities  int     // Used to preallocate cell capacity
}

// DefaultSpatial returns the default spatial configuration.
func DefaultSpatial() SpatialConfig {
	return SpatialConfig{
		GridCellSize: 32, // blocks; a 120x100 viewport touches ~5x5 cells
		MaxEntities:  4096,
	}
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StorageConfig holds paths for catalog, event log and audit index.
type StorageConfig struct {
	CatalogPath  string // YAML block/item catalog ("" = built-in defaults)
	EventLogPath string // JSONL event log; a .zst suffix enables zstd
	AuditDBPath  string // SQLite audit index ("" disables)
}

// DefaultStorage returns the default storage configuration.
func DefaultStorage() StorageConfig {
	return StorageConfig{
		EventLogPath: "events.jsonl.zst",
		AuditDBPath:  "data/audit.db",
	}
}

// StorageFromEnv returns storage configuration with environment variable overrides.
func StorageFromEnv() StorageConfig {
	cfg := DefaultStorage()

	if p, ok := os.LookupEnv("CATALOG_PATH"); ok {
		cfg.CatalogPath = p
	}
	if p, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.EventLogPath = p
	}
	if p, ok := os.LookupEnv("AUDIT_DB_PATH"); ok {
		cfg.AuditDBPath = p
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	World   WorldConfig
	Sim     SimConfig
	Server  ServerConfig
	Limits  ResourceLimits
	Spatial SpatialConfig
	Storage StorageConfig
}

// Default returns the complete configuration without environment overrides.
// Tests use this to stay independent of the caller's environment.
func Default() AppConfig {
	return AppConfig{
		World:   DefaultWorld(),
		Sim:     DefaultSim(),
		Server:  DefaultServer(),
		Limits:  DefaultLimits(),
		Spatial: DefaultSpatial(),
		Storage: DefaultStorage(),
	}
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		World:   WorldFromEnv(),
		Sim:     SimFromEnv(),
		Server:  ServerFromEnv(),
		Limits:  LimitsFromEnv(),
		Spatial: DefaultSpatial(),
		Storage: StorageFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
