package game

import (
	"math"
	"sort"

	"tileworld/internal/config"
	"tileworld/internal/game/spatial"
	"tileworld/internal/protocol"
)

// Player body size in blocks
const (
	PlayerWidthBlocks  = 0.75
	PlayerHeightBlocks = 1.8
	ItemSizeBlocks     = 0.5
)

var playerColors = []string{
	"#ff6b6b", "#4ecdc4", "#45b7d1", "#96ceb4",
	"#ffeaa7", "#dfe6e9", "#fd79a8", "#00b894",
	"#6c5ce7", "#fdcb6e", "#e17055", "#00cec9",
}

// Outbox accepts messages for one client. Send must never block; it
// returns false when the message could not be queued.
type Outbox interface {
	Send(msg protocol.Message) bool
	Close()
}

// Player is a connected client's simulation state.
type Player struct {
	EntityID   EntityID
	SessionID  string
	Name       string
	Color      string
	X, Y       float64 // world units, top-left of the body
	JoinedTick uint64
	Inventory  *Inventory

	outbox         Outbox
	forceReplicate bool // viewport moved this tick
}

// Bounds returns the player's body in block units.
func (p *Player) Bounds(blockSize float64) spatial.Rect {
	return spatial.Rect{X: p.X / blockSize, Y: p.Y / blockSize, W: PlayerWidthBlocks, H: PlayerHeightBlocks}
}

// Send queues a message for the player's client.
func (p *Player) Send(msg protocol.Message) bool {
	if p.outbox == nil {
		return false
	}
	return p.outbox.Send(msg)
}

// InventorySlot is one stack. Entity is the held entity backing the stack.
type InventorySlot struct {
	Item   string   `json:"item"`
	Count  int      `json:"count"`
	Entity EntityID `json:"entityId"`
}

// Inventory is a fixed number of stacks plus the equipped slot index.
type Inventory struct {
	Slots    []InventorySlot
	Equipped int
	max      int
}

// NewInventory creates an inventory with maxSlots stacks.
func NewInventory(maxSlots int) *Inventory {
	return &Inventory{Slots: make([]InventorySlot, 0, maxSlots), max: maxSlots}
}

// Find returns the slot index holding item, or -1.
func (inv *Inventory) Find(item string) int {
	for i, s := range inv.Slots {
		if s.Item == item {
			return i
		}
	}
	return -1
}

// Full reports whether a new stack would not fit.
func (inv *Inventory) Full() bool {
	return len(inv.Slots) >= inv.max
}

// Add stores a stack backed by entity. The first return is the slot index;
// merged is true when the stack joined an existing slot, in which case the
// caller owns the now redundant entity.
func (inv *Inventory) Add(item string, count int, entity EntityID) (slot int, merged bool, ok bool) {
	if i := inv.Find(item); i >= 0 {
		inv.Slots[i].Count += count
		return i, true, true
	}
	if inv.Full() {
		return -1, false, false
	}
	inv.Slots = append(inv.Slots, InventorySlot{Item: item, Count: count, Entity: entity})
	return len(inv.Slots) - 1, false, true
}

// Equip selects a slot. Out of range slots are rejected.
func (inv *Inventory) Equip(slot int) bool {
	if slot < 0 || slot >= len(inv.Slots) {
		return false
	}
	inv.Equipped = slot
	return true
}

// EquippedItem returns the item in the equipped slot.
func (inv *Inventory) EquippedItem() (string, bool) {
	if inv.Equipped < 0 || inv.Equipped >= len(inv.Slots) {
		return "", false
	}
	return inv.Slots[inv.Equipped].Item, true
}

// Message builds the InventoryChanged payload.
func (inv *Inventory) Message() *protocol.InventoryChanged {
	msg := &protocol.InventoryChanged{
		Slots:    make([]protocol.InventorySlot, len(inv.Slots)),
		Equipped: inv.Equipped,
	}
	for i, s := range inv.Slots {
		msg.Slots[i] = protocol.InventorySlot{Item: s.Item, Count: s.Count}
	}
	return msg
}

// Tool is the digging-relevant view of an equipped item.
type Tool struct {
	Item       string
	DamageRate float64 // block health per second
}

// ToolLookup answers which digging tool a player has equipped.
type ToolLookup interface {
	EquippedTool(player EntityID) (Tool, bool)
}

// PlayerRegistry indexes connected players by entity id and session id
// and implements ToolLookup over the item catalog.
type PlayerRegistry struct {
	catalog   *config.Catalog
	byEntity  map[EntityID]*Player
	bySession map[string]*Player
}

// NewPlayerRegistry creates an empty registry.
func NewPlayerRegistry(catalog *config.Catalog) *PlayerRegistry {
	return &PlayerRegistry{
		catalog:   catalog,
		byEntity:  make(map[EntityID]*Player),
		bySession: make(map[string]*Player),
	}
}

// Add registers a player.
func (r *PlayerRegistry) Add(p *Player) {
	r.byEntity[p.EntityID] = p
	r.bySession[p.SessionID] = p
}

// Remove unregisters a player.
func (r *PlayerRegistry) Remove(p *Player) {
	delete(r.byEntity, p.EntityID)
	delete(r.bySession, p.SessionID)
}

// Get returns a player by entity id.
func (r *PlayerRegistry) Get(id EntityID) (*Player, bool) {
	p, ok := r.byEntity[id]
	return p, ok
}

// BySession returns a player by session id.
func (r *PlayerRegistry) BySession(session string) (*Player, bool) {
	p, ok := r.bySession[session]
	return p, ok
}

// Len returns the number of connected players.
func (r *PlayerRegistry) Len() int {
	return len(r.byEntity)
}

// Sorted returns players ordered by entity id for deterministic passes.
func (r *PlayerRegistry) Sorted() []*Player {
	out := make([]*Player, 0, len(r.byEntity))
	for _, p := range r.byEntity {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// EquippedTool implements ToolLookup.
func (r *PlayerRegistry) EquippedTool(player EntityID) (Tool, bool) {
	p, ok := r.byEntity[player]
	if !ok {
		return Tool{}, false
	}
	item, ok := p.Inventory.EquippedItem()
	if !ok {
		return Tool{}, false
	}
	def, ok := r.catalog.Item(item)
	if !ok || !def.Digging {
		return Tool{}, false
	}
	return Tool{Item: def.ID, DamageRate: def.DamageRate}, true
}

// BlockPos is a block coordinate.
type BlockPos struct {
	X, Y int
}

// ToBlock converts a world-unit position to block coordinates.
func ToBlock(worldX, worldY, blockSize float64) (float64, float64) {
	return math.Floor(worldX / blockSize), math.Floor(worldY / blockSize)
}
