package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypePlayerJoin
	EventTypePlayerLeave
	EventTypeDigBegin
	EventTypeDigCommit
	EventTypeDigTimeout
	EventTypeDigInvalidated
	EventTypeDigToolLost
	EventTypePickup
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`   // Schema version
	Type      EventType       `json:"type"`      // Event type
	Name      string          `json:"name"`      // Event type name
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	TickNum   uint64          `json:"tickNum"`   // Game tick this occurred in
	PlayerID  string          `json:"playerId"`  // Source session (for rate limiting)
	Payload   json.RawMessage `json:"payload"`   // JSON-encoded payload
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypePlayerJoin:
		return "player_join"
	case EventTypePlayerLeave:
		return "player_leave"
	case EventTypeDigBegin:
		return "dig_begin"
	case EventTypeDigCommit:
		return "dig_commit"
	case EventTypeDigTimeout:
		return "dig_timeout"
	case EventTypeDigInvalidated:
		return "dig_invalidated"
	case EventTypeDigToolLost:
		return "dig_tool_lost"
	case EventTypePickup:
		return "pickup"
	default:
		return "unknown"
	}
}

// digEventType maps a terminal dig state to its event type.
func digEventType(s DigState) EventType {
	switch s {
	case DigCommitted:
		return EventTypeDigCommit
	case DigTimedOut:
		return EventTypeDigTimeout
	case DigInvalidated:
		return EventTypeDigInvalidated
	case DigToolLost:
		return EventTypeDigToolLost
	default:
		return EventTypeUnknown
	}
}

// Typed payloads for different event types

// PlayerJoinPayload contains player join details
type PlayerJoinPayload struct {
	EntityID   uint64  `json:"entityId"`
	PlayerName string  `json:"playerName"`
	SpawnX     float64 `json:"spawnX"`
	SpawnY     float64 `json:"spawnY"`
}

// PlayerLeavePayload contains player leave details
type PlayerLeavePayload struct {
	EntityID     uint64 `json:"entityId"`
	TicksPlayed  uint64 `json:"ticksPlayed"`
	DigsCanceled int    `json:"digsCanceled"`
}

// DigPayload describes a dig request at begin or at its end
type DigPayload struct {
	EntityID    uint64  `json:"entityId"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Block       uint8   `json:"block"`
	Tool        string  `json:"tool"`
	StartTick   uint64  `json:"startTick"`
	ExpectedEnd uint64  `json:"expectedEnd"`
	Damage      float64 `json:"damage"`
}

// PickupPayload contains item pickup details
type PickupPayload struct {
	EntityID uint64 `json:"entityId"`
	ItemID   uint64 `json:"itemEntityId"`
	Item     string `json:"item"`
	Count    int    `json:"count"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, playerID string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Name:      eventType.String(),
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		PlayerID:  playerID,
		Payload:   EncodePayload(payload),
	}
}
