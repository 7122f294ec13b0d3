// Package spatial provides cache-efficient spatial data structures for
// interest management and the lock-free queues that feed the simulation.
//
// Index structures use preallocated cell slices keyed by integer ids
// (not pointers) to minimize GC pressure.
package spatial

import (
	"errors"
	"math"
)

var (
	// ErrDuplicateEntity is returned when inserting an id that is already indexed.
	ErrDuplicateEntity = errors.New("spatial: entity already indexed")
	// ErrUnknownEntity is returned when updating an id that is not indexed.
	ErrUnknownEntity = errors.New("spatial: entity not indexed")
)

// indexEntry remembers where an entity lives so updates and removals do not scan.
type indexEntry struct {
	rect                           Rect
	minCol, minRow, maxCol, maxRow int
}

func (e *indexEntry) spansCells() bool {
	return e.minCol != e.maxCol || e.minRow != e.maxRow
}

// Index maps entity id -> bounding rectangle over fixed world bounds and
// answers exact rectangle queries. An entity is stored in every cell its
// rectangle touches; queries deduplicate and run a precise narrow phase.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col])
type Index struct {
	cellSize    float64
	invCellSize float64 // 1/cellSize for faster division
	cols, rows  int
	cells       [][]uint64
	entries     map[uint64]*indexEntry
	seen        map[uint64]struct{} // reusable dedupe set for multi-cell entities
}

// NewIndex creates an index for the given world bounds (block units).
// cellSize should be close to the typical query extent divided by 4.
// maxEntities is used to preallocate cell capacity.
func NewIndex(worldWidth, worldHeight, cellSize float64, maxEntities int) *Index {
	if cellSize <= 0 {
		cellSize = 32
	}
	cols := int(math.Ceil(worldWidth / cellSize))
	rows := int(math.Ceil(worldHeight / cellSize))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]uint64, cols*rows)
	avgPerCell := maxEntities / len(cells)
	if avgPerCell < 4 {
		avgPerCell = 4
	}
	for i := range cells {
		cells[i] = make([]uint64, 0, avgPerCell)
	}

	return &Index{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		entries:     make(map[uint64]*indexEntry, maxEntities),
		seen:        make(map[uint64]struct{}, 64),
	}
}

func (g *Index) clampCol(col int) int {
	if col < 0 {
		return 0
	}
	if col >= g.cols {
		return g.cols - 1
	}
	return col
}

func (g *Index) clampRow(row int) int {
	if row < 0 {
		return 0
	}
	if row >= g.rows {
		return g.rows - 1
	}
	return row
}

// cellRange computes the clamped cell span covered by a rectangle.
func (g *Index) cellRange(r Rect) (minCol, minRow, maxCol, maxRow int) {
	minCol = g.clampCol(int(math.Floor(r.X * g.invCellSize)))
	maxCol = g.clampCol(int(math.Floor(r.MaxX() * g.invCellSize)))
	minRow = g.clampRow(int(math.Floor(r.Y * g.invCellSize)))
	maxRow = g.clampRow(int(math.Floor(r.MaxY() * g.invCellSize)))
	return
}

// Insert adds an entity. Inserting an id that is already present is an error.
func (g *Index) Insert(id uint64, r Rect) error {
	if _, ok := g.entries[id]; ok {
		return ErrDuplicateEntity
	}
	e := &indexEntry{rect: r}
	e.minCol, e.minRow, e.maxCol, e.maxRow = g.cellRange(r)
	g.entries[id] = e
	g.addToCells(id, e)
	return nil
}

// Update repositions an indexed entity. Cells are only touched when the
// covered cell span changes, which is the common case for small moves.
func (g *Index) Update(id uint64, r Rect) error {
	e, ok := g.entries[id]
	if !ok {
		return ErrUnknownEntity
	}
	minCol, minRow, maxCol, maxRow := g.cellRange(r)
	if minCol != e.minCol || minRow != e.minRow || maxCol != e.maxCol || maxRow != e.maxRow {
		g.removeFromCells(id, e)
		e.minCol, e.minRow, e.maxCol, e.maxRow = minCol, minRow, maxCol, maxRow
		g.addToCells(id, e)
	}
	e.rect = r
	return nil
}

// Remove deletes an entity. Removing an absent id is a no-op.
func (g *Index) Remove(id uint64) {
	e, ok := g.entries[id]
	if !ok {
		return
	}
	g.removeFromCells(id, e)
	delete(g.entries, id)
}

// Contains reports whether the id is indexed.
func (g *Index) Contains(id uint64) bool {
	_, ok := g.entries[id]
	return ok
}

// Bounds returns the indexed rectangle of an entity.
func (g *Index) Bounds(id uint64) (Rect, bool) {
	e, ok := g.entries[id]
	if !ok {
		return Rect{}, false
	}
	return e.rect, true
}

// Len returns the number of indexed entities.
func (g *Index) Len() int {
	return len(g.entries)
}

func (g *Index) addToCells(id uint64, e *indexEntry) {
	for row := e.minRow; row <= e.maxRow; row++ {
		for col := e.minCol; col <= e.maxCol; col++ {
			idx := row*g.cols + col
			g.cells[idx] = append(g.cells[idx], id)
		}
	}
}

func (g *Index) removeFromCells(id uint64, e *indexEntry) {
	for row := e.minRow; row <= e.maxRow; row++ {
		for col := e.minCol; col <= e.maxCol; col++ {
			idx := row*g.cols + col
			bucket := g.cells[idx]
			for i := range bucket {
				if bucket[i] != id {
					continue
				}
				bucket[i] = bucket[len(bucket)-1]
				g.cells[idx] = bucket[:len(bucket)-1]
				break
			}
		}
	}
}

// Query returns every id whose rectangle intersects r, each exactly once,
// in no particular order. The returned slice is freshly allocated.
func (g *Index) Query(r Rect) []uint64 {
	return g.AppendQuery(nil, r)
}

// AppendQuery appends the ids intersecting r to dst and returns it.
// Use this with a reused buffer on hot paths.
func (g *Index) AppendQuery(dst []uint64, r Rect) []uint64 {
	minCol, minRow, maxCol, maxRow := g.cellRange(r)
	clear(g.seen)

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			for _, id := range g.cells[row*g.cols+col] {
				e := g.entries[id]
				if !e.rect.Intersects(r) {
					continue // narrow phase
				}
				if e.spansCells() {
					if _, dup := g.seen[id]; dup {
						continue
					}
					g.seen[id] = struct{}{}
				}
				dst = append(dst, id)
			}
		}
	}

	return dst
}

// Stats returns grid statistics for debugging/profiling.
func (g *Index) Stats() GridStats {
	var totalRefs, maxInCell, nonEmpty int
	for _, cell := range g.cells {
		count := len(cell)
		totalRefs += count
		if count > maxInCell {
			maxInCell = count
		}
		if count > 0 {
			nonEmpty++
		}
	}

	avgPerCell := 0.0
	if nonEmpty > 0 {
		avgPerCell = float64(totalRefs) / float64(nonEmpty)
	}

	return GridStats{
		TotalCells:     len(g.cells),
		NonEmptyCells:  nonEmpty,
		TotalEntities:  len(g.entries),
		CellRefs:       totalRefs,
		MaxInCell:      maxInCell,
		AvgPerNonEmpty: avgPerCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells     int
	NonEmptyCells  int
	TotalEntities  int
	CellRefs       int // >= TotalEntities when entities span cells
	MaxInCell      int
	AvgPerNonEmpty float64
}

// Dimensions returns the grid dimensions.
func (g *Index) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}
