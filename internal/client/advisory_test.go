package client

import (
	"testing"

	"tileworld/internal/game"
	"tileworld/internal/protocol"
)

func TestAdvisorClaimsWhenDue(t *testing.T) {
	adv := NewDigAdvisor(20, 2)
	if !adv.Begin(10, 10, 100, 100, 20) {
		t.Fatal("Begin should track a new dig")
	}
	if adv.Begin(10, 10, 101, 100, 20) {
		t.Error("Second Begin at the same block should be ignored")
	}

	a, _ := adv.Get(10, 10)
	if a.ExpectedEnd != 105 {
		t.Errorf("Expected end 105, got %d", a.ExpectedEnd)
	}
	if p := a.Progress(102); p != 0.4 {
		t.Errorf("Expected progress 0.4, got %v", p)
	}

	for tick := uint64(101); tick < 105; tick++ {
		if claims, _ := adv.Tick(tick); len(claims) != 0 {
			t.Fatalf("No claim expected at %d, got %v", tick, claims)
		}
	}

	tests := []struct {
		tick  uint64
		claim bool
	}{
		{105, true},
		{106, false},
		{107, true},
		{108, false},
		{109, true},
	}
	for _, tt := range tests {
		claims, _ := adv.Tick(tt.tick)
		if got := len(claims) == 1; got != tt.claim {
			t.Errorf("Tick %d: expected claim=%v, got %v", tt.tick, tt.claim, claims)
		}
	}
}

func TestAdvisorExpires(t *testing.T) {
	adv := NewDigAdvisor(20, 2)
	adv.Begin(3, 4, 0, 100, 20)

	if _, expired := adv.Tick(25); len(expired) != 0 {
		t.Fatalf("Entry should live through the grace window, expired %v", expired)
	}
	_, expired := adv.Tick(26)
	if len(expired) != 1 || expired[0] != (game.BlockPos{X: 3, Y: 4}) {
		t.Fatalf("Expected (3,4) to expire, got %v", expired)
	}
	if adv.Len() != 0 {
		t.Error("Expired entry should be removed")
	}
}

func TestAdvisorConvergesOnServerUpdates(t *testing.T) {
	adv := NewDigAdvisor(20, 2)
	adv.Begin(1, 1, 0, 100, 20)
	adv.Begin(2, 1, 0, 100, 20)
	adv.Begin(9, 9, 0, 100, 20)

	if adv.BlockChanged(1, 1, 3) {
		t.Error("Non-empty block update should not resolve the dig")
	}
	if !adv.BlockChanged(1, 1, 0) {
		t.Error("Empty block update should resolve the dig")
	}

	// 3x2 region at (0,0): (2,1) empty
	raw := make([]byte, 3*2*protocol.BytesPerBlock)
	for i := 0; i < len(raw); i += protocol.BytesPerBlock {
		raw[i] = 2
	}
	raw[(1*3+2)*protocol.BytesPerBlock] = 0
	if n := adv.RegionLoaded(0, 0, 3, 2, raw); n != 1 {
		t.Errorf("Expected 1 resolved by region, got %d", n)
	}
	if _, ok := adv.Get(9, 9); !ok {
		t.Error("Dig outside the region must survive")
	}
	if adv.Len() != 1 {
		t.Errorf("Expected 1 pending dig, got %d", adv.Len())
	}
}

func TestAdvisorRejectsNonDiggingTool(t *testing.T) {
	adv := NewDigAdvisor(20, 0)
	if adv.Begin(0, 0, 0, 100, 0) {
		t.Error("Zero damage should not start a dig")
	}
}
