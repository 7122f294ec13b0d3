package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tileworld/internal/api"
	"tileworld/internal/config"
	"tileworld/internal/game"
	"tileworld/internal/persistence/auditdb"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	} else {
		log.Println("✅ Loaded environment from .env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  TILEWORLD - SERVER CORE")
	log.Println("🎮 ================================")

	appConfig := config.Load()

	catalog := config.DefaultCatalog()
	if path := appConfig.Storage.CatalogPath; path != "" {
		c, err := config.LoadCatalog(path)
		if err != nil {
			log.Fatalf("❌ Catalog %s: %v", path, err)
		}
		catalog = c
		log.Printf("📦 Catalog: %s (%d blocks, %d items)", path, len(c.Blocks), len(c.Items))
	}

	world := appConfig.World
	log.Printf("🌍 Generating %dx%d world (seed %d)", world.Width, world.Height, world.Seed)
	terrain := game.GenerateTerrain(world, catalog)

	opts := game.Options{Metrics: api.PrometheusMetrics{}}

	var history *auditdb.SQLiteIndex
	if path := appConfig.Storage.AuditDBPath; path != "" {
		idx, err := auditdb.OpenSQLite(path)
		if err != nil {
			log.Printf("⚠️ Audit index disabled: %v", err)
		} else {
			history = idx
			opts.Journal = idx
			log.Printf("🗄️ Audit index: %s", path)
		}
	}

	engine := game.NewEngine(appConfig, catalog, terrain, opts)
	sim := appConfig.Sim
	limits := appConfig.Limits
	log.Printf("🎮 Config: %d TPS, view %.0fx%.0f blocks, reload %.0f, dig timeout %d ticks",
		sim.TickRate, sim.ViewHalfWidth*2, sim.ViewHalfHeight*2, sim.ReloadDistance, sim.DigTimeoutTicks)
	log.Printf("🛡️ Resource limits: %d players, %d inbound, %d outbound/session, %d msg/s",
		limits.MaxTotalPlayers, limits.MaxInboundQueue, limits.MaxOutboundQueue, limits.MaxMessagesPerSec)

	if path := appConfig.Storage.EventLogPath; path != "" {
		if err := engine.StartEventLog(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			log.Printf("📝 Event log: %s", path)
		}
	}

	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(api.DefaultObservabilityConfig()); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	var dh api.DigHistory
	if history != nil {
		dh = history
	}
	server := api.NewServer(engine, dh)

	engine.Start()

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	engine.Stop()
	engine.StopEventLog()
	if history != nil {
		if err := history.Close(); err != nil {
			log.Printf("⚠️ Audit index close: %v", err)
		}
	}

	log.Println("👋 Goodbye!")
}
