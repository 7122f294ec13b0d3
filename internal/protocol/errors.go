package protocol

import "errors"

// Reject codes sent in Reject.Code before a session is closed.
const (
	ErrCodeProtoVersion = "E_PROTO_VERSION"
	ErrCodeBadHello     = "E_PROTO_BAD_HELLO"
	ErrCodeServerFull   = "E_SERVER_FULL"
	ErrCodeShuttingDown = "E_SHUTTING_DOWN"
)

var knownCodes = map[string]struct{}{
	ErrCodeProtoVersion: {},
	ErrCodeBadHello:     {},
	ErrCodeServerFull:   {},
	ErrCodeShuttingDown: {},
}

// IsKnownCode reports whether a reject code is one this server can emit.
func IsKnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

var (
	// ErrShortFrame is returned when a frame has no type byte.
	ErrShortFrame = errors.New("protocol: short frame")
	// ErrFrameTooLarge is returned for frames above MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrRegionSize is returned when a decoded region does not match its rectangle.
	ErrRegionSize = errors.New("protocol: region size mismatch")
)
