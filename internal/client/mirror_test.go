package client

import (
	"errors"
	"testing"

	"tileworld/internal/config"
	"tileworld/internal/protocol"
)

func welcome() *protocol.Welcome {
	return &protocol.Welcome{
		SessionID:   "s1",
		EntityID:    7,
		Tick:        99,
		TickRate:    20,
		WorldWidth:  64,
		WorldHeight: 64,
		BlockSize:   16,
		SpawnX:      32 * 16,
		SpawnY:      20 * 16,
		DigTimeout:  20,
	}
}

func regionOf(x, y, w, h int, block uint8) *protocol.BlockRegionSnapshot {
	raw := make([]byte, w*h*protocol.BytesPerBlock)
	for i := 0; i < len(raw); i += protocol.BytesPerBlock {
		raw[i] = block
	}
	return &protocol.BlockRegionSnapshot{X: x, Y: y, W: w, H: h, Data: protocol.EncodeRegion(raw)}
}

func pickaxeInventory() *protocol.InventoryChanged {
	return &protocol.InventoryChanged{Slots: []protocol.InventorySlot{{Item: "stone_pickaxe", Count: 1}}}
}

func TestMirrorRequiresWelcome(t *testing.T) {
	m := NewMirror(config.DefaultCatalog())
	if err := m.Apply(&protocol.SpawnEntities{}); err == nil {
		t.Error("World messages before Welcome should fail")
	}
	err := m.Apply(&protocol.Reject{Code: protocol.ErrCodeProtoVersion, Reason: "old"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Expected ErrRejected, got %v", err)
	}
}

func TestMirrorEntities(t *testing.T) {
	m := NewMirror(config.DefaultCatalog())
	m.Apply(welcome())

	m.Apply(&protocol.SpawnEntities{Entities: []protocol.EntityState{
		{ID: 9, Kind: protocol.EntityPlayer, X: 1, Y: 1},
		{ID: 8, Kind: protocol.EntityItem, X: 2, Y: 2, Item: "dirt"},
	}})
	m.Apply(&protocol.PlayerMoved{EntityID: 9, X: 48, Y: 32})

	ents := m.Entities()
	if len(ents) != 2 || ents[0].ID != 8 {
		t.Fatalf("Expected entities 8,9 got %+v", ents)
	}
	if ents[1].X != 3 || ents[1].Y != 2 {
		t.Errorf("Expected moved entity at (3,2) blocks, got (%v,%v)", ents[1].X, ents[1].Y)
	}

	m.Apply(&protocol.DespawnEntities{IDs: []uint64{8}})
	if len(m.Entities()) != 1 {
		t.Error("Despawn should remove the entity")
	}
}

func TestMirrorDigPrediction(t *testing.T) {
	m := NewMirror(config.DefaultCatalog())
	m.Apply(welcome())
	m.Apply(pickaxeInventory())
	m.Apply(regionOf(0, 0, 16, 16, 3)) // copper

	if !m.BeginDig(10, 10) {
		t.Fatal("BeginDig should start on copper with a pickaxe")
	}
	a, _ := m.Dig(10, 10)
	if a.StartTick != 99 || a.ExpectedEnd != 104 {
		t.Errorf("Expected 99..104, got %d..%d", a.StartTick, a.ExpectedEnd)
	}

	var claims int
	for i := 0; i < 5; i++ {
		claims += len(m.Advance())
	}
	if claims != 1 {
		t.Errorf("Expected one claim by tick 104, got %d", claims)
	}

	m.Apply(&protocol.SingleBlockChanged{X: 10, Y: 10, Block: config.NullBlockID})
	if m.PendingDigs() != 0 {
		t.Error("Server block change should resolve the local dig")
	}
	if b, _ := m.BlockAt(10, 10); !b.Empty() {
		t.Error("Mirrored block should be empty")
	}
	if m.BeginDig(10, 10) {
		t.Error("Digging an empty block should be refused locally")
	}
}

func TestMirrorDigNeedsTool(t *testing.T) {
	m := NewMirror(config.DefaultCatalog())
	m.Apply(welcome())
	m.Apply(regionOf(0, 0, 4, 4, 1))

	if m.BeginDig(1, 1) {
		t.Error("BeginDig without a tool should be refused")
	}
	m.Apply(&protocol.InventoryChanged{Slots: []protocol.InventorySlot{{Item: "dirt", Count: 3}}})
	if m.BeginDig(1, 1) {
		t.Error("Dirt is not a digging tool")
	}
}

func TestMirrorViewportAndInventory(t *testing.T) {
	m := NewMirror(config.DefaultCatalog())
	m.Apply(welcome())
	m.Apply(&protocol.ViewportMoved{X: 1, Y: 2, W: 3, H: 4})
	m.Apply(pickaxeInventory())
	m.Apply(&protocol.Unknown{Kind: 0x7e})

	if v := m.Viewport(); v.X != 1 || v.H != 4 {
		t.Errorf("Unexpected viewport %+v", v)
	}
	inv := m.Inventory()
	if len(inv.Slots) != 1 || inv.Slots[0].Item != "stone_pickaxe" {
		t.Errorf("Unexpected inventory %+v", inv)
	}
	if x, y := m.Position(); x != 512 || y != 320 {
		t.Errorf("Expected spawn position (512,320), got (%v,%v)", x, y)
	}
}
