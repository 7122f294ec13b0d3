package game

import (
	"math"
	"math/rand"
	"sync"

	"tileworld/internal/config"
	"tileworld/internal/protocol"
)

// Block is one tile of terrain.
type Block struct {
	Type  uint8
	Flags uint8
}

// Empty reports whether the block is the null block.
func (b Block) Empty() bool { return b.Type == config.NullBlockID }

// TerrainStore is the tile storage the simulation reads and mutates.
type TerrainStore interface {
	Width() int
	Height() int
	BlockAt(x, y int) (Block, bool)
	SetBlock(x, y int, b Block) bool
	// Destroy empties a block and returns what was there.
	Destroy(x, y int) (Block, bool)
	// Region returns w*h (type, flags) pairs in row-major order.
	// Cells outside the world read as empty.
	Region(x, y, w, h int) []byte
}

// Terrain is the in-memory TerrainStore. The simulation is its only writer;
// HTTP handlers read it concurrently, hence the RWMutex.
type Terrain struct {
	mu     sync.RWMutex
	width  int
	height int
	blocks []Block
}

// NewTerrain creates an empty world of the given size in blocks.
func NewTerrain(width, height int) *Terrain {
	return &Terrain{
		width:  width,
		height: height,
		blocks: make([]Block, width*height),
	}
}

// GenerateTerrain builds a layered world: air above a wavy surface, the
// catalog's surface fill, then deep fill with ores scattered by depth.
func GenerateTerrain(world config.WorldConfig, catalog *config.Catalog) *Terrain {
	t := NewTerrain(world.Width, world.Height)
	rng := rand.New(rand.NewSource(world.Seed))

	surface, _ := catalog.BlockByName(catalog.SurfaceFill)
	deep, _ := catalog.BlockByName(catalog.DeepFill)

	type ore struct {
		block  uint8
		depth  int
		chance float64
	}
	ores := make([]ore, 0, len(catalog.Ores))
	for _, o := range catalog.Ores {
		def, _ := catalog.BlockByName(o.Block)
		ores = append(ores, ore{block: def.ID, depth: o.MinDepth, chance: o.Chance})
	}

	for x := 0; x < t.width; x++ {
		top := t.surfaceRow(world.SurfaceY, x)
		for y := top; y < t.height; y++ {
			depth := y - top
			id := surface.ID
			if depth >= catalog.DeepDepth {
				id = deep.ID
			}
			// Rarest ore listed last wins
			for _, o := range ores {
				if depth >= o.depth && rng.Float64() < o.chance {
					id = o.block
				}
			}
			t.blocks[y*t.width+x] = Block{Type: id}
		}
	}
	return t
}

func (t *Terrain) surfaceRow(base, x int) int {
	wave := 3*math.Sin(float64(x)/23) + 2*math.Sin(float64(x)/7+1.3)
	row := base + int(math.Round(wave))
	if row < 0 {
		return 0
	}
	if row > t.height {
		return t.height
	}
	return row
}

// Width returns the world width in blocks.
func (t *Terrain) Width() int { return t.width }

// Height returns the world height in blocks.
func (t *Terrain) Height() int { return t.height }

func (t *Terrain) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < t.width && y < t.height
}

// BlockAt returns the block at (x, y); ok is false outside the world.
func (t *Terrain) BlockAt(x, y int) (Block, bool) {
	if !t.inBounds(x, y) {
		return Block{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blocks[y*t.width+x], true
}

// SetBlock overwrites a block.
func (t *Terrain) SetBlock(x, y int, b Block) bool {
	if !t.inBounds(x, y) {
		return false
	}
	t.mu.Lock()
	t.blocks[y*t.width+x] = b
	t.mu.Unlock()
	return true
}

// Destroy empties a block and returns its previous value.
func (t *Terrain) Destroy(x, y int) (Block, bool) {
	if !t.inBounds(x, y) {
		return Block{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := y*t.width + x
	old := t.blocks[idx]
	t.blocks[idx] = Block{}
	return old, true
}

// Region copies a rectangle of blocks as (type, flags) pairs.
func (t *Terrain) Region(x, y, w, h int) []byte {
	if w <= 0 || h <= 0 {
		return nil
	}
	out := make([]byte, w*h*protocol.BytesPerBlock)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for row := 0; row < h; row++ {
		by := y + row
		if by < 0 || by >= t.height {
			continue
		}
		for col := 0; col < w; col++ {
			bx := x + col
			if bx < 0 || bx >= t.width {
				continue
			}
			b := t.blocks[by*t.width+bx]
			i := (row*w + col) * protocol.BytesPerBlock
			out[i] = b.Type
			out[i+1] = b.Flags
		}
	}
	return out
}

// SurfaceAt returns the first non-empty row of a column, or the world height.
func (t *Terrain) SurfaceAt(x int) int {
	if x < 0 || x >= t.width {
		return t.height
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for y := 0; y < t.height; y++ {
		if !t.blocks[y*t.width+x].Empty() {
			return y
		}
	}
	return t.height
}

// Counts returns how many blocks of each type exist.
func (t *Terrain) Counts() map[uint8]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[uint8]int)
	for _, b := range t.blocks {
		counts[b.Type]++
	}
	return counts
}
