// Package protocol defines the game wire messages exchanged over websocket
// binary frames between the server and clients.
//
// Every frame is one type byte followed by a msgpack body:
//
//	[type:1][msgpack body]
//
// Message is a closed set of variants; receivers dispatch with a single type
// switch and treat *Unknown as "log and ignore".
package protocol

// ProtocolVersion is bumped on any incompatible wire change.
const ProtocolVersion uint16 = 1

// MsgType identifies a message variant on the wire.
type MsgType byte

const (
	// Handshake
	MsgHello   MsgType = 0x01
	MsgWelcome MsgType = 0x02
	MsgReject  MsgType = 0x03

	// Client -> server
	MsgKeepAlive      MsgType = 0x10
	MsgPlayerMoved    MsgType = 0x11
	MsgBlockDigBegin  MsgType = 0x12
	MsgBlockDigFinish MsgType = 0x13
	MsgEquipSlot      MsgType = 0x14

	// Server -> client
	MsgSpawnEntities       MsgType = 0x20
	MsgDespawnEntities     MsgType = 0x21
	MsgSingleBlockChanged  MsgType = 0x22
	MsgBlockRegionSnapshot MsgType = 0x23
	MsgViewportMoved       MsgType = 0x24
	MsgInventoryChanged    MsgType = 0x25
)

var msgTypeNames = map[MsgType]string{
	MsgHello:               "Hello",
	MsgWelcome:             "Welcome",
	MsgReject:              "Reject",
	MsgKeepAlive:           "KeepAlive",
	MsgPlayerMoved:         "PlayerMoved",
	MsgBlockDigBegin:       "BlockDigBegin",
	MsgBlockDigFinish:      "BlockDigFinish",
	MsgEquipSlot:           "EquipSlot",
	MsgSpawnEntities:       "SpawnEntities",
	MsgDespawnEntities:     "DespawnEntities",
	MsgSingleBlockChanged:  "SingleBlockChanged",
	MsgBlockRegionSnapshot: "BlockRegionSnapshot",
	MsgViewportMoved:       "ViewportMoved",
	MsgInventoryChanged:    "InventoryChanged",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Message is implemented by every wire variant.
type Message interface {
	Type() MsgType
}

// Entity kinds carried in EntityState.Kind.
const (
	EntityPlayer uint8 = 1
	EntityItem   uint8 = 2
)

// EntityState is the per-entity payload of SpawnEntities: enough for a
// client to build its local representation.
type EntityState struct {
	ID    uint64  `msgpack:"id"`
	Kind  uint8   `msgpack:"k"`
	X     float64 `msgpack:"x"` // block units
	Y     float64 `msgpack:"y"`
	W     float64 `msgpack:"w"`
	H     float64 `msgpack:"h"`
	Item  string  `msgpack:"it,omitempty"`
	Count int     `msgpack:"n,omitempty"`
	Name  string  `msgpack:"nm,omitempty"`
}

// InventorySlot is one inventory entry.
type InventorySlot struct {
	Item  string `msgpack:"it"`
	Count int    `msgpack:"n"`
}

// Hello is the first frame a client sends.
type Hello struct {
	Version uint16 `msgpack:"v"`
	Name    string `msgpack:"name"`
}

// Welcome accepts a Hello.
type Welcome struct {
	SessionID   string  `msgpack:"sid"`
	EntityID    uint64  `msgpack:"eid"`
	Tick        uint64  `msgpack:"tick"`
	TickRate    int     `msgpack:"tps"`
	WorldWidth  int     `msgpack:"ww"`
	WorldHeight int     `msgpack:"wh"`
	BlockSize   float64 `msgpack:"bs"`
	SpawnX      float64 `msgpack:"sx"` // world units
	SpawnY      float64 `msgpack:"sy"`
	DigTimeout  uint64  `msgpack:"dto"`
}

// Reject refuses a Hello; the connection is closed right after.
type Reject struct {
	Code   string `msgpack:"code"`
	Reason string `msgpack:"reason"`
}

// KeepAlive is dropped silently by the server.
type KeepAlive struct{}

// PlayerMoved reports a position in world units. Clients send their own
// position with EntityID unset; the server relays other players' moves to
// clients that have them spawned.
type PlayerMoved struct {
	EntityID uint64  `msgpack:"id,omitempty"`
	X        float64 `msgpack:"x"`
	Y        float64 `msgpack:"y"`
}

// BlockDigBegin starts digging the block at (X, Y).
type BlockDigBegin struct {
	X int `msgpack:"x"`
	Y int `msgpack:"y"`
}

// BlockDigFinish claims the dig at (X, Y) is complete.
type BlockDigFinish struct {
	X int `msgpack:"x"`
	Y int `msgpack:"y"`
}

// EquipSlot selects the equipped inventory slot.
type EquipSlot struct {
	Slot int `msgpack:"slot"`
}

// SpawnEntities tells the client to create entities.
type SpawnEntities struct {
	Tick     uint64        `msgpack:"tick"`
	Entities []EntityState `msgpack:"e"`
}

// DespawnEntities tells the client to drop entities.
type DespawnEntities struct {
	Tick uint64   `msgpack:"tick"`
	IDs  []uint64 `msgpack:"ids"`
}

// SingleBlockChanged carries the new state of one block.
type SingleBlockChanged struct {
	X     int   `msgpack:"x"`
	Y     int   `msgpack:"y"`
	Block uint8 `msgpack:"b"`
	Flags uint8 `msgpack:"f"`
}

// BlockRegionSnapshot carries a rectangle of blocks. Data is the
// EncodeRegion form of W*H (block, flags) pairs in row-major order.
type BlockRegionSnapshot struct {
	X    int    `msgpack:"x"`
	Y    int    `msgpack:"y"`
	W    int    `msgpack:"w"`
	H    int    `msgpack:"h"`
	Data []byte `msgpack:"d"`
}

// ViewportMoved tells the client its loaded rectangle changed (block units).
type ViewportMoved struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
	W float64 `msgpack:"w"`
	H float64 `msgpack:"h"`
}

// InventoryChanged replaces the client's inventory view.
type InventoryChanged struct {
	Slots    []InventorySlot `msgpack:"slots"`
	Equipped int             `msgpack:"eq"`
}

// Unknown is produced by Decode for unrecognized type bytes.
type Unknown struct {
	Kind MsgType
	Body []byte
}

func (*Hello) Type() MsgType               { return MsgHello }
func (*Welcome) Type() MsgType             { return MsgWelcome }
func (*Reject) Type() MsgType              { return MsgReject }
func (*KeepAlive) Type() MsgType           { return MsgKeepAlive }
func (*PlayerMoved) Type() MsgType         { return MsgPlayerMoved }
func (*BlockDigBegin) Type() MsgType       { return MsgBlockDigBegin }
func (*BlockDigFinish) Type() MsgType      { return MsgBlockDigFinish }
func (*EquipSlot) Type() MsgType           { return MsgEquipSlot }
func (*SpawnEntities) Type() MsgType       { return MsgSpawnEntities }
func (*DespawnEntities) Type() MsgType     { return MsgDespawnEntities }
func (*SingleBlockChanged) Type() MsgType  { return MsgSingleBlockChanged }
func (*BlockRegionSnapshot) Type() MsgType { return MsgBlockRegionSnapshot }
func (*ViewportMoved) Type() MsgType       { return MsgViewportMoved }
func (*InventoryChanged) Type() MsgType    { return MsgInventoryChanged }
func (u *Unknown) Type() MsgType           { return u.Kind }
