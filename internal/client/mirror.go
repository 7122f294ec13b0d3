package client

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"tileworld/internal/config"
	"tileworld/internal/game"
	"tileworld/internal/game/spatial"
	"tileworld/internal/protocol"
)

// ErrRejected is returned by Apply when the server refused the session.
var ErrRejected = errors.New("session rejected")

// Mirror is a client's copy of the world as pushed by the server: terrain
// inside loaded regions, spawned entities, its viewport and inventory.
// It also drives the DigAdvisor from server updates. Safe for concurrent use.
type Mirror struct {
	mu sync.Mutex

	SessionID string
	EntityID  uint64
	TickRate  int
	BlockSize float64
	X, Y      float64 // own position, world units

	tick      uint64
	catalog   *config.Catalog
	terrain   *game.Terrain
	entities  map[uint64]protocol.EntityState
	viewport  spatial.Rect
	inventory protocol.InventoryChanged
	advisor   *DigAdvisor
	welcomed  bool
}

// NewMirror creates an empty mirror. The catalog supplies block health and
// tool damage rates for local dig prediction.
func NewMirror(catalog *config.Catalog) *Mirror {
	return &Mirror{
		catalog:  catalog,
		entities: make(map[uint64]protocol.EntityState),
	}
}

// Apply folds one server message into the mirror.
func (m *Mirror) Apply(msg protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch v := msg.(type) {
	case *protocol.Welcome:
		m.SessionID = v.SessionID
		m.EntityID = v.EntityID
		m.TickRate = v.TickRate
		m.BlockSize = v.BlockSize
		m.X, m.Y = v.SpawnX, v.SpawnY
		m.tick = v.Tick
		m.terrain = game.NewTerrain(v.WorldWidth, v.WorldHeight)
		m.advisor = NewDigAdvisor(v.DigTimeout, DefaultResendTicks)
		m.welcomed = true
	case *protocol.Reject:
		return fmt.Errorf("%w: %s (%s)", ErrRejected, v.Code, v.Reason)
	case *protocol.KeepAlive:
	default:
		if !m.welcomed {
			return fmt.Errorf("%s before Welcome", msg.Type())
		}
		m.applyWorld(msg)
	}
	return nil
}

func (m *Mirror) applyWorld(msg protocol.Message) {
	switch v := msg.(type) {
	case *protocol.SpawnEntities:
		for _, e := range v.Entities {
			m.entities[e.ID] = e
		}
	case *protocol.DespawnEntities:
		for _, id := range v.IDs {
			delete(m.entities, id)
		}
	case *protocol.PlayerMoved:
		if e, ok := m.entities[v.EntityID]; ok {
			e.X, e.Y = v.X/m.BlockSize, v.Y/m.BlockSize
			m.entities[v.EntityID] = e
		}
	case *protocol.SingleBlockChanged:
		m.terrain.SetBlock(v.X, v.Y, game.Block{Type: v.Block, Flags: v.Flags})
		m.advisor.BlockChanged(v.X, v.Y, v.Block)
	case *protocol.BlockRegionSnapshot:
		raw, err := protocol.DecodeRegion(v.Data, v.W, v.H)
		if err != nil {
			log.Printf("⚠️ Bad region at (%d,%d): %v", v.X, v.Y, err)
			return
		}
		for row := 0; row < v.H; row++ {
			for col := 0; col < v.W; col++ {
				i := (row*v.W + col) * protocol.BytesPerBlock
				m.terrain.SetBlock(v.X+col, v.Y+row, game.Block{Type: raw[i], Flags: raw[i+1]})
			}
		}
		m.advisor.RegionLoaded(v.X, v.Y, v.W, v.H, raw)
	case *protocol.ViewportMoved:
		m.viewport = spatial.Rect{X: v.X, Y: v.Y, W: v.W, H: v.H}
	case *protocol.InventoryChanged:
		m.inventory = *v
	case *protocol.Unknown:
		log.Printf("⚠️ Ignoring unknown message type 0x%02x", byte(v.Kind))
	default:
		log.Printf("⚠️ Ignoring unexpected %s from server", msg.Type())
	}
}

// Advance moves the local tick forward and returns the finish claims due.
func (m *Mirror) Advance() []game.BlockPos {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick++
	if m.advisor == nil {
		return nil
	}
	claims, expired := m.advisor.Tick(m.tick)
	for _, pos := range expired {
		log.Printf("⛏️ Local dig at (%d,%d) expired without confirmation", pos.X, pos.Y)
	}
	return claims
}

// BeginDig starts local prediction for a dig at (x, y) with the equipped
// tool. It returns false when the block is empty locally, no digging tool
// is equipped, or a dig is already tracked there.
func (m *Mirror) BeginDig(x, y int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advisor == nil || m.TickRate <= 0 {
		return false
	}
	b, ok := m.terrain.BlockAt(x, y)
	if !ok || b.Empty() {
		return false
	}
	tool, ok := m.equippedToolLocked()
	if !ok {
		return false
	}
	dpt := tool.DamageRate / float64(m.TickRate)
	return m.advisor.Begin(x, y, m.tick, m.catalog.BlockHealth(b.Type), dpt)
}

func (m *Mirror) equippedToolLocked() (config.ItemDef, bool) {
	inv := m.inventory
	if inv.Equipped < 0 || inv.Equipped >= len(inv.Slots) {
		return config.ItemDef{}, false
	}
	def, ok := m.catalog.Item(inv.Slots[inv.Equipped].Item)
	if !ok || !def.Digging {
		return config.ItemDef{}, false
	}
	return def, true
}

// SetPosition records the client's own position in world units.
func (m *Mirror) SetPosition(x, y float64) {
	m.mu.Lock()
	m.X, m.Y = x, y
	m.mu.Unlock()
}

// Position returns the client's own position in world units.
func (m *Mirror) Position() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.X, m.Y
}

// Tick returns the local tick.
func (m *Mirror) Tick() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Welcomed reports whether the handshake completed.
func (m *Mirror) Welcomed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.welcomed
}

// BlockAt returns the mirrored block at (x, y).
func (m *Mirror) BlockAt(x, y int) (game.Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terrain == nil {
		return game.Block{}, false
	}
	return m.terrain.BlockAt(x, y)
}

// Entities returns the spawned entities ordered by id.
func (m *Mirror) Entities() []protocol.EntityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.EntityState, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Viewport returns the last viewport the server announced.
func (m *Mirror) Viewport() spatial.Rect {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

// Inventory returns the last inventory the server sent.
func (m *Mirror) Inventory() protocol.InventoryChanged {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.inventory
	inv.Slots = append([]protocol.InventorySlot(nil), inv.Slots...)
	return inv
}

// PendingDigs returns how many local digs await confirmation.
func (m *Mirror) PendingDigs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advisor == nil {
		return 0
	}
	return m.advisor.Len()
}

// Dig returns the local advisory at (x, y).
func (m *Mirror) Dig(x, y int) (Advisory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advisor == nil {
		return Advisory{}, false
	}
	return m.advisor.Get(x, y)
}
