package game

import (
	"fmt"
	"math/rand"
	"testing"

	"tileworld/internal/config"
	"tileworld/internal/game/spatial"
	"tileworld/internal/protocol"
)

// =============================================================================
// BENCHMARK SUITE: CRITICAL PATH PERFORMANCE TESTS
// Run with: go test -bench=. -benchmem ./internal/game/...
// =============================================================================

// -----------------------------------------------------------------------------
// ENGINE TICK BENCHMARKS
// -----------------------------------------------------------------------------

func BenchmarkEngineStep_10Players(b *testing.B)  { benchmarkEngineStep(b, 10) }
func BenchmarkEngineStep_50Players(b *testing.B)  { benchmarkEngineStep(b, 50) }
func BenchmarkEngineStep_100Players(b *testing.B) { benchmarkEngineStep(b, 100) }

type discardOutbox struct{}

func (discardOutbox) Send(protocol.Message) bool { return true }
func (discardOutbox) Close()                     {}

func benchmarkEngineStep(b *testing.B, playerCount int) {
	cfg := config.Default()
	cfg.World.Width = 400
	cfg.World.Height = 300
	cfg.World.SurfaceY = 100
	engine := NewEngine(cfg, config.DefaultCatalog(), flatTerrain(400, 300, 100), Options{})

	for i := 0; i < playerCount; i++ {
		engine.Bridge().Enqueue(Inbound{
			Kind:    InboundConnect,
			Session: fmt.Sprintf("s%d", i),
			Name:    fmt.Sprintf("Player%d", i),
			Outbox:  discardOutbox{},
		})
	}
	engine.Step()

	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		for p := 0; p < playerCount; p += 4 {
			engine.Bridge().Enqueue(Inbound{
				Kind:    InboundMessage,
				Session: fmt.Sprintf("s%d", p),
				Msg:     &protocol.PlayerMoved{X: rng.Float64() * 400 * 16, Y: 98 * 16},
			})
		}
		engine.Step()
	}
}

// -----------------------------------------------------------------------------
// REPLICATION BENCHMARKS
// -----------------------------------------------------------------------------

func BenchmarkReconcile_1000Entities(b *testing.B) {
	index := spatial.NewIndex(1000, 1000, 32, 2048)
	entities := NewEntityRegistry(index, false)
	rep := NewReplicator(index)
	entities.Observe(rep)

	rng := rand.New(rand.NewSource(1))
	viewer := entities.Spawn(Entity{Kind: KindPlayer, Bounds: unitAt(500, 500)})
	rep.AddPlayer(viewer.ID)
	ids := make([]EntityID, 1000)
	for i := range ids {
		ids[i] = entities.Spawn(Entity{Kind: KindItem, Bounds: unitAt(rng.Float64()*1000, rng.Float64()*1000)}).ID
	}
	view := spatial.RectAround(500, 500, 60, 50)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		id := ids[i%len(ids)]
		entities.Move(id, unitAt(440+rng.Float64()*120, 450+rng.Float64()*100))
		rep.Reconcile(viewer.ID, view)
	}
}

// -----------------------------------------------------------------------------
// DIG EVALUATION BENCHMARKS
// -----------------------------------------------------------------------------

func BenchmarkDigEvaluate_100Active(b *testing.B) {
	terrain := flatTerrain(200, 200, 0)
	tools := fakeTools{}
	for p := EntityID(1); p <= 100; p++ {
		tools[p] = stonePickaxe
	}
	digs := NewDigReconciler(terrain, config.DefaultCatalog(), tools, 1.0/20, 1<<40)
	for p := EntityID(1); p <= 100; p++ {
		digs.Begin(p, int(p), int(p), 0)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		digs.Evaluate(1)
	}
}
