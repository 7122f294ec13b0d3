package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize caps any frame this package will decode. Client frames are
// limited further by the websocket read limit.
const MaxFrameSize = 1 << 20

// Encode writes a message as [type][msgpack body].
func Encode(msg Message) ([]byte, error) {
	if u, ok := msg.(*Unknown); ok {
		return nil, fmt.Errorf("encode %s: cannot encode unknown message 0x%02x", u.Kind, byte(u.Kind))
	}
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	if len(body)+1 > MaxFrameSize {
		return nil, fmt.Errorf("encode %s: %w (%d bytes)", msg.Type(), ErrFrameTooLarge, len(body)+1)
	}
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, byte(msg.Type()))
	return append(frame, body...), nil
}

// Decode parses one frame. Unrecognized type bytes decode to *Unknown with a
// nil error so the caller can log and ignore them.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 1 {
		return nil, ErrShortFrame
	}
	if len(frame) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	t := MsgType(frame[0])
	msg := newMessage(t)
	if msg == nil {
		return &Unknown{Kind: t, Body: frame[1:]}, nil
	}
	if err := msgpack.Unmarshal(frame[1:], msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return msg, nil
}

func newMessage(t MsgType) Message {
	switch t {
	case MsgHello:
		return &Hello{}
	case MsgWelcome:
		return &Welcome{}
	case MsgReject:
		return &Reject{}
	case MsgKeepAlive:
		return &KeepAlive{}
	case MsgPlayerMoved:
		return &PlayerMoved{}
	case MsgBlockDigBegin:
		return &BlockDigBegin{}
	case MsgBlockDigFinish:
		return &BlockDigFinish{}
	case MsgEquipSlot:
		return &EquipSlot{}
	case MsgSpawnEntities:
		return &SpawnEntities{}
	case MsgDespawnEntities:
		return &DespawnEntities{}
	case MsgSingleBlockChanged:
		return &SingleBlockChanged{}
	case MsgBlockRegionSnapshot:
		return &BlockRegionSnapshot{}
	case MsgViewportMoved:
		return &ViewportMoved{}
	case MsgInventoryChanged:
		return &InventoryChanged{}
	default:
		return nil
	}
}
