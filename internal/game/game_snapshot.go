package game

import (
	"sync/atomic"
	"time"

	"tileworld/internal/game/spatial"
)

// PlayerSnapshot is an immutable copy of player state for debug readers.
// Uses value types (not pointers) to ensure immutability
type PlayerSnapshot struct {
	EntityID  uint64          `json:"entityId"`
	SessionID string          `json:"sessionId"`
	Name      string          `json:"name"`
	Color     string          `json:"color"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Viewport  spatial.Rect    `json:"viewport"`
	Known     int             `json:"known"`
	Inventory []InventorySlot `json:"inventory"`
	Equipped  int             `json:"equipped"`
	Joined    uint64          `json:"joinedTick"`
}

// DigSnapshot is an immutable copy of an active dig request.
type DigSnapshot struct {
	Owner       uint64  `json:"owner"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Block       uint8   `json:"block"`
	Tool        string  `json:"tool"`
	StartTick   uint64  `json:"startTick"`
	ExpectedEnd uint64  `json:"expectedEnd"`
	Accrued     float64 `json:"accrued"`
	TotalHealth float64 `json:"totalHealth"`
	Claimed     bool    `json:"claimed"`
}

// ItemSnapshot is a dropped item lying in the world.
type ItemSnapshot struct {
	EntityID uint64  `json:"entityId"`
	Item     string  `json:"item"`
	Count    int     `json:"count"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// WorldSnapshot is the complete immutable simulation state published once
// per tick. Readers never see a partially built snapshot.
type WorldSnapshot struct {
	Sequence   uint64        `json:"sequence"`
	Timestamp  time.Time     `json:"timestamp"`
	TickNumber uint64        `json:"tick"`
	TickTime   time.Duration `json:"tickTimeNs"`

	Players    []PlayerSnapshot   `json:"players"`
	ActiveDigs []DigSnapshot      `json:"activeDigs"`
	Items      []ItemSnapshot     `json:"items"`
	TopMiners  []LeaderboardEntry `json:"topMiners"`

	// Aggregate stats
	PlayerCount    int    `json:"playerCount"`
	EntityCount    int    `json:"entityCount"`
	IndexedCount   int    `json:"indexedCount"`
	InboundPending int    `json:"inboundPending"`
	InboundSpins   uint64 `json:"inboundSpins"`
	InboundParks   uint64 `json:"inboundParks"`
}

// SnapshotStore publishes snapshots from the simulation to any number of
// readers with a single atomic pointer swap.
type SnapshotStore struct {
	current  atomic.Pointer[WorldSnapshot]
	sequence atomic.Uint64
}

// Publish stamps and stores a snapshot. The caller must not modify it afterwards.
func (s *SnapshotStore) Publish(snap *WorldSnapshot) {
	snap.Sequence = s.sequence.Add(1)
	snap.Timestamp = time.Now()
	s.current.Store(snap)
}

// Load returns the latest snapshot, or an empty one before the first tick.
func (s *SnapshotStore) Load() *WorldSnapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	return &WorldSnapshot{}
}
