package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// BytesPerBlock is the size of one (block, flags) pair in a region payload.
const BytesPerBlock = 2

// Shared coders; EncodeAll/DecodeAll are safe for concurrent use.
var (
	regionEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	regionDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// EncodeRegion compresses raw row-major (block, flags) pairs.
func EncodeRegion(raw []byte) []byte {
	return regionEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/4+16))
}

// DecodeRegion decompresses a region payload and checks it holds w*h blocks.
func DecodeRegion(data []byte, w, h int) ([]byte, error) {
	want := w * h * BytesPerBlock
	raw, err := regionDecoder.DecodeAll(data, make([]byte, 0, want))
	if err != nil {
		return nil, fmt.Errorf("decode region: %w", err)
	}
	if len(raw) != want {
		return nil, fmt.Errorf("decode region %dx%d: %w (got %d bytes)", w, h, ErrRegionSize, len(raw))
	}
	return raw, nil
}
