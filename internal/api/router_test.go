package api

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tileworld/internal/config"
	"tileworld/internal/game"
	"tileworld/internal/persistence/auditdb"
)

// fakeHistory implements DigHistory for testing
type fakeHistory struct {
	rows      []auditdb.DigRow
	lastLimit int
	lastOut   string
}

func (f *fakeHistory) RecentDigs(ctx context.Context, outcome string, limit int) ([]auditdb.DigRow, error) {
	f.lastLimit, f.lastOut = limit, outcome
	return f.rows, nil
}

func (f *fakeHistory) Stats() auditdb.Stats { return auditdb.Stats{QueueCapacity: 1} }

func testConfig() config.AppConfig {
	cfg := config.Default()
	cfg.World.Width = 200
	cfg.World.Height = 150
	cfg.World.SurfaceY = 60
	cfg.Sim.TickRate = 50
	cfg.Sim.StrictInvariants = true
	return cfg
}

func newTestEngine(t *testing.T) *game.Engine {
	t.Helper()
	cfg := testConfig()
	catalog := config.DefaultCatalog()
	return game.NewEngine(cfg, catalog, game.GenerateTerrain(cfg.World, catalog), game.Options{})
}

func newTestRouter(t *testing.T, engine *game.Engine, history DigHistory) *httptest.Server {
	t.Helper()
	router := NewRouter(RouterConfig{
		Engine:  engine,
		History: history,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			CleanupInterval:   time.Hour,
		},
		DisableLogging: true,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestAPIStateBeforeFirstTick(t *testing.T) {
	ts := newTestRouter(t, newTestEngine(t), nil)

	if code := getJSON(t, ts.URL+"/api/state", nil); code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before the first tick, got %d", code)
	}
}

func TestAPIGetState(t *testing.T) {
	engine := newTestEngine(t)
	engine.Step()
	engine.Step()
	ts := newTestRouter(t, engine, nil)

	var snap game.WorldSnapshot
	if code := getJSON(t, ts.URL+"/api/state", &snap); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if snap.TickNumber != 2 {
		t.Errorf("Expected tick 2, got %d", snap.TickNumber)
	}
	if snap.PlayerCount != 0 {
		t.Errorf("Expected 0 players, got %d", snap.PlayerCount)
	}
}

func TestAPIPlayersAndDigsAreArrays(t *testing.T) {
	engine := newTestEngine(t)
	engine.Step()
	ts := newTestRouter(t, engine, nil)

	for _, path := range []string{"/api/players", "/api/digs/active"} {
		var list []interface{}
		if code := getJSON(t, ts.URL+path, &list); code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, code)
		}
		if list == nil {
			t.Errorf("%s: expected an empty array, got null", path)
		}
	}
}

func TestAPILeaderboard(t *testing.T) {
	engine := newTestEngine(t)
	lb := engine.Leaderboard()
	for i := 0; i < 3; i++ {
		lb.RecordDig("Alice")
	}
	lb.RecordDig("Bob")
	ts := newTestRouter(t, engine, nil)

	var top []game.LeaderboardEntry
	if code := getJSON(t, ts.URL+"/api/leaderboard?limit=5", &top); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(top) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(top))
	}
	if top[0].Name != "Alice" || top[0].Blocks != 3 || top[0].Rank != 1 {
		t.Errorf("Expected Alice with 3 blocks at rank 1, got %+v", top[0])
	}

	if code := getJSON(t, ts.URL+"/api/leaderboard?player=Nobody", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown player, got %d", code)
	}
}

func TestAPIGetBlock(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"sky", "/api/world/block/10/0", http.StatusOK},
		{"outside", "/api/world/block/5000/0", http.StatusNotFound},
		{"negative", "/api/world/block/-1/0", http.StatusNotFound},
		{"not a number", "/api/world/block/a/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := getJSON(t, ts.URL+tt.path, nil); code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, code)
			}
		})
	}

	var sky map[string]interface{}
	getJSON(t, ts.URL+"/api/world/block/10/0", &sky)
	if sky["empty"] != true {
		t.Errorf("Expected the top row to be empty, got %v", sky)
	}

	// Deepest row is always solid
	var deep map[string]interface{}
	getJSON(t, ts.URL+"/api/world/block/10/149", &deep)
	if deep["empty"] != false {
		t.Errorf("Expected the bottom row to be solid, got %v", deep)
	}
	if _, ok := deep["health"]; !ok {
		t.Error("Solid block should report its catalog health")
	}
}

func TestAPIMapPNG(t *testing.T) {
	engine := newTestEngine(t)
	engine.Step()
	ts := newTestRouter(t, engine, nil)

	resp, err := http.Get(ts.URL + "/api/world/map.png?x=0&y=40&w=50&h=40&scale=2")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %q", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 80 {
		t.Errorf("Expected 100x80, got %v", img.Bounds())
	}

	if code := getJSON(t, ts.URL+"/api/world/map.png?x=9000&y=9000&w=5&h=5", nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an area outside the world, got %d", code)
	}
}

func TestAPIDigHistory(t *testing.T) {
	engine := newTestEngine(t)

	ts := newTestRouter(t, engine, nil)
	if code := getJSON(t, ts.URL+"/api/digs", nil); code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without an audit index, got %d", code)
	}

	history := &fakeHistory{rows: []auditdb.DigRow{{Tick: 7, X: 1, Y: 2, Outcome: "committed"}}}
	ts = newTestRouter(t, engine, history)

	var rows []auditdb.DigRow
	if code := getJSON(t, ts.URL+"/api/digs?outcome=committed&limit=5000", &rows); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(rows) != 1 || rows[0].Tick != 7 {
		t.Errorf("Unexpected rows: %+v", rows)
	}
	if history.lastOut != "committed" {
		t.Errorf("Expected outcome filter 'committed', got %q", history.lastOut)
	}
	if history.lastLimit != defaultDigHistoryLimit {
		t.Errorf("Expected an out-of-range limit to fall back to %d, got %d", defaultDigHistoryLimit, history.lastLimit)
	}
}

func TestAPIStatsAndCatalog(t *testing.T) {
	engine := newTestEngine(t)
	engine.Step()
	ts := newTestRouter(t, engine, &fakeHistory{})

	var stats map[string]interface{}
	if code := getJSON(t, ts.URL+"/api/stats", &stats); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	for _, key := range []string{"tick", "eventLog", "rateLimit", "audit"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("Stats should contain %q", key)
		}
	}

	var catalog map[string]interface{}
	getJSON(t, ts.URL+"/api/catalog", &catalog)
	if catalog["starterTool"] != "stone_pickaxe" {
		t.Errorf("Expected starter tool stone_pickaxe, got %v", catalog["starterTool"])
	}
}

func TestAPIRateLimit(t *testing.T) {
	engine := newTestEngine(t)
	router := NewRouter(RouterConfig{
		Engine: engine,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             1,
			CleanupInterval:   time.Hour,
		},
		DisableLogging: true,
	})
	ts := httptest.NewServer(router)
	defer ts.Close()

	first := getJSON(t, ts.URL+"/health", nil)
	second := getJSON(t, ts.URL+"/health", nil)
	if first != http.StatusOK {
		t.Errorf("Expected first request to pass, got %d", first)
	}
	if second != http.StatusTooManyRequests {
		t.Errorf("Expected 429 for the second request, got %d", second)
	}

	// Metrics are not rate limited
	if code := getJSON(t, ts.URL+"/metrics", nil); code != http.StatusOK {
		t.Errorf("Expected /metrics to bypass the limiter, got %d", code)
	}
}

func TestAPIMapChargedItsOwnCost(t *testing.T) {
	engine := newTestEngine(t)
	engine.Step()
	router := NewRouter(RouterConfig{
		Engine: engine,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 0.001,
			Burst:             costMap + 2,
			CleanupInterval:   time.Hour,
		},
		DisableLogging: true,
	})
	ts := httptest.NewServer(router)
	defer ts.Close()

	mapURL := ts.URL + "/api/world/map.png?x=0&y=0&w=20&h=20"
	if code := getJSON(t, mapURL, nil); code != http.StatusOK {
		t.Fatalf("Expected first map render to pass, got %d", code)
	}
	if code := getJSON(t, mapURL, nil); code != http.StatusTooManyRequests {
		t.Errorf("Expected second map render to be limited, got %d", code)
	}
	// The two tokens left still serve lookups
	for i := 0; i < 2; i++ {
		if code := getJSON(t, ts.URL+"/api/state", nil); code != http.StatusOK {
			t.Errorf("Expected lookup %d to pass, got %d", i, code)
		}
	}
	if code := getJSON(t, ts.URL+"/health", nil); code != http.StatusTooManyRequests {
		t.Errorf("Expected budget exhausted, got %d", code)
	}
}
