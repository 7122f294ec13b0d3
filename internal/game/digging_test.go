package game

import (
	"math"
	"testing"

	"tileworld/internal/config"
)

const copperID uint8 = 3

type fakeTools map[EntityID]Tool

func (f fakeTools) EquippedTool(player EntityID) (Tool, bool) {
	t, ok := f[player]
	return t, ok
}

var stonePickaxe = Tool{Item: "stone_pickaxe", DamageRate: 400}

// newDigFixture builds a 10x10 world with a copper block at (4,4) and one
// player (entity 1) holding a stone pickaxe, at 20 TPS with a 20 tick timeout.
func newDigFixture() (*Terrain, fakeTools, *DigReconciler) {
	terrain := NewTerrain(10, 10)
	terrain.SetBlock(4, 4, Block{Type: copperID})
	tools := fakeTools{1: stonePickaxe}
	digs := NewDigReconciler(terrain, config.DefaultCatalog(), tools, 1.0/20, 20)
	return terrain, tools, digs
}

func TestExpectedEndTick(t *testing.T) {
	tests := []struct {
		name   string
		start  uint64
		health float64
		dpt    float64
		want   uint64
	}{
		{"exact division", 100, 100, 20, 105},
		{"rounds up", 0, 100, 30, 4},
		{"float noise", 10, 0.3, 0.1, 13},
		{"single tick", 7, 5, 20, 8},
		{"zero damage never ends", 0, 100, 0, math.MaxUint64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpectedEndTick(tt.start, tt.health, tt.dpt)
			if got != tt.want {
				t.Errorf("Expected end %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDigBeginComputesSchedule(t *testing.T) {
	_, _, digs := newDigFixture()

	req := digs.Begin(1, 4, 4, 100)
	if req == nil {
		t.Fatal("Begin returned nil for a valid dig")
	}
	if req.DamagePerTick != 20 {
		t.Errorf("Expected 20 damage per tick, got %v", req.DamagePerTick)
	}
	if req.ExpectedEnd != 105 {
		t.Errorf("Expected end tick 105, got %d", req.ExpectedEnd)
	}
	if req.TotalHealth != 100 {
		t.Errorf("Expected health 100, got %v", req.TotalHealth)
	}
	if got := req.Accrued(102); got != 40 {
		t.Errorf("Expected 40 damage at tick 102, got %v", got)
	}
	if got := req.Accrued(200); got != 100 {
		t.Errorf("Expected damage capped at 100, got %v", got)
	}
}

func TestDigPrematureClaimDoesNotCommit(t *testing.T) {
	terrain, _, digs := newDigFixture()

	digs.Begin(1, 4, 4, 100)
	if !digs.Finish(1, 4, 4) {
		t.Fatal("Finish from the owner should be accepted")
	}
	if out := digs.Evaluate(103); len(out) != 0 {
		t.Fatalf("Expected no outcome at tick 103, got %v", out)
	}
	if b, _ := terrain.BlockAt(4, 4); b.Type != copperID {
		t.Errorf("Block should survive a premature claim, got type %d", b.Type)
	}

	req, ok := digs.Get(4, 4)
	if !ok {
		t.Fatal("Request should still be active")
	}
	if req.Claimed {
		t.Error("Premature claim should be cleared")
	}

	// Unclaimed at the due tick: still active
	if out := digs.Evaluate(105); len(out) != 0 {
		t.Errorf("Expected no commit without a fresh claim, got %v", out)
	}

	digs.Finish(1, 4, 4)
	out := digs.Evaluate(106)
	if len(out) != 1 {
		t.Fatalf("Expected exactly one outcome, got %d", len(out))
	}
	if out[0].State != DigCommitted {
		t.Errorf("Expected committed, got %s", out[0].State)
	}
	if out[0].Removed.Type != copperID {
		t.Errorf("Expected removed copper, got %d", out[0].Removed.Type)
	}
	if b, _ := terrain.BlockAt(4, 4); !b.Empty() {
		t.Errorf("Block should be empty after commit, got %d", b.Type)
	}
	if digs.Len() != 0 {
		t.Errorf("Expected no active digs, got %d", digs.Len())
	}
}

func TestDigCommitsOnDueTick(t *testing.T) {
	_, _, digs := newDigFixture()

	digs.Begin(1, 4, 4, 100)
	digs.Finish(1, 4, 4)
	out := digs.Evaluate(105)
	if len(out) != 1 || out[0].State != DigCommitted {
		t.Fatalf("Expected commit at the expected end tick, got %v", out)
	}
}

func TestDigTimeout(t *testing.T) {
	terrain, _, digs := newDigFixture()
	const t0 = 50

	digs.Begin(1, 4, 4, t0)
	// expected end t0+5, timeout 20: still active through t0+25
	if out := digs.Evaluate(t0 + 25); len(out) != 0 {
		t.Fatalf("Expected request alive at the end of the grace window, got %v", out)
	}
	out := digs.Evaluate(t0 + 26)
	if len(out) != 1 || out[0].State != DigTimedOut {
		t.Fatalf("Expected timeout at t0+26, got %v", out)
	}
	if b, _ := terrain.BlockAt(4, 4); b.Type != copperID {
		t.Error("Timed out dig must not change terrain")
	}

	// Late claim after the timeout is ignored
	if digs.Finish(1, 4, 4) {
		t.Error("Finish after timeout should be ignored")
	}
}

func TestDigBeginIgnored(t *testing.T) {
	tests := []struct {
		name   string
		player EntityID
		x, y   int
		setup  func(d *DigReconciler)
	}{
		{"empty block", 1, 0, 0, nil},
		{"outside world", 1, -1, 20, nil},
		{"no tool", 2, 4, 4, nil},
		{"duplicate begin", 1, 4, 4, func(d *DigReconciler) { d.Begin(1, 4, 4, 10) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, digs := newDigFixture()
			if tt.setup != nil {
				tt.setup(digs)
			}
			before := digs.Len()
			if req := digs.Begin(tt.player, tt.x, tt.y, 20); req != nil {
				t.Errorf("Expected begin to be ignored, got %+v", req)
			}
			if digs.Len() != before {
				t.Errorf("Expected %d active digs, got %d", before, digs.Len())
			}
		})
	}
}

func TestDigDuplicateBeginKeepsOriginalStart(t *testing.T) {
	_, _, digs := newDigFixture()
	digs.Begin(1, 4, 4, 10)
	digs.Begin(1, 4, 4, 30)

	req, _ := digs.Get(4, 4)
	if req.StartTick != 10 {
		t.Errorf("Expected original start 10, got %d", req.StartTick)
	}
}

func TestDigFinishFromOtherPlayerIgnored(t *testing.T) {
	_, tools, digs := newDigFixture()
	tools[2] = stonePickaxe

	digs.Begin(1, 4, 4, 0)
	if digs.Finish(2, 4, 4) {
		t.Error("Finish from a non-owner should be ignored")
	}
	if out := digs.Evaluate(10); len(out) != 0 {
		t.Errorf("Non-owner claim must not commit, got %v", out)
	}
}

func TestDigToolLost(t *testing.T) {
	terrain, tools, digs := newDigFixture()

	digs.Begin(1, 4, 4, 0)
	digs.Finish(1, 4, 4)
	delete(tools, 1)

	out := digs.Evaluate(10)
	if len(out) != 1 || out[0].State != DigToolLost {
		t.Fatalf("Expected tool_lost, got %v", out)
	}
	if b, _ := terrain.BlockAt(4, 4); b.Type != copperID {
		t.Error("Tool-lost dig must not change terrain")
	}
}

func TestDigInvalidatedWhenBlockGone(t *testing.T) {
	terrain, _, digs := newDigFixture()

	digs.Begin(1, 4, 4, 0)
	digs.Finish(1, 4, 4)
	terrain.Destroy(4, 4)

	out := digs.Evaluate(10)
	if len(out) != 1 || out[0].State != DigInvalidated {
		t.Fatalf("Expected invalidated, got %v", out)
	}
}

func TestDigEvaluateOrderAndCancel(t *testing.T) {
	terrain, tools, digs := newDigFixture()
	tools[2] = stonePickaxe
	terrain.SetBlock(1, 5, Block{Type: copperID})
	terrain.SetBlock(7, 2, Block{Type: copperID})

	digs.Begin(1, 4, 4, 0)
	digs.Begin(2, 1, 5, 0)
	digs.Begin(1, 7, 2, 0)
	for _, pos := range []BlockPos{{4, 4}, {7, 2}} {
		digs.Finish(1, pos.X, pos.Y)
	}
	digs.Finish(2, 1, 5)

	out := digs.Evaluate(5)
	want := []BlockPos{{7, 2}, {4, 4}, {1, 5}}
	if len(out) != len(want) {
		t.Fatalf("Expected %d outcomes, got %d", len(want), len(out))
	}
	for i, o := range out {
		if o.Request.Pos != want[i] {
			t.Errorf("Outcome %d: expected %v, got %v", i, want[i], o.Request.Pos)
		}
	}

	terrain.SetBlock(4, 4, Block{Type: copperID})
	terrain.SetBlock(1, 5, Block{Type: copperID})
	digs.Begin(1, 4, 4, 10)
	digs.Begin(2, 1, 5, 10)
	if n := digs.CancelOwner(1); n != 1 {
		t.Errorf("Expected 1 canceled, got %d", n)
	}
	if _, ok := digs.Get(1, 5); !ok {
		t.Error("Other player's dig should survive CancelOwner")
	}
}
