// Package render draws debug images of the world: terrain colored by the
// block catalog with players, dropped items and active digs on top.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"

	"tileworld/internal/config"
	"tileworld/internal/game"
	"tileworld/internal/game/spatial"
	"tileworld/internal/protocol"
)

// MaxPixels bounds the size of a rendered map.
const MaxPixels = 4096 * 4096

// ErrBadArea is returned for areas outside the world or too large to draw.
var ErrBadArea = errors.New("render: bad map area")

// Options selects the area and scale of a minimap.
type Options struct {
	Area  spatial.Rect // block units; empty means the whole world
	Scale int          // pixels per block, at least 1
}

// Minimap renders terrain snapshots. Block colors are resolved once from
// the catalog.
type Minimap struct {
	catalog   *config.Catalog
	blockSize float64
	palette   [256]color.RGBA
}

var (
	backgroundColor = color.RGBA{12, 12, 28, 255}
	itemColor       = color.RGBA{255, 215, 0, 255}
	digColor        = color.RGBA{255, 62, 62, 255}
)

// NewMinimap builds a renderer. blockSize converts player positions from
// world units to blocks.
func NewMinimap(catalog *config.Catalog, blockSize float64) *Minimap {
	m := &Minimap{catalog: catalog, blockSize: blockSize}
	for i := range m.palette {
		m.palette[i] = color.RGBA{255, 0, 255, 255}
	}
	for _, b := range catalog.Blocks {
		m.palette[b.ID] = parseHexColor(b.Color, backgroundColor)
	}
	m.palette[config.NullBlockID] = backgroundColor
	return m
}

// Render draws the requested area. snap may be nil for terrain only.
func (m *Minimap) Render(terrain game.TerrainStore, snap *game.WorldSnapshot, opts Options) (image.Image, error) {
	area, scale, err := m.resolve(terrain, opts)
	if err != nil {
		return nil, err
	}
	x0, y0 := int(area.X), int(area.Y)
	w, h := int(area.W), int(area.H)

	img := image.NewRGBA(image.Rect(0, 0, w*scale, h*scale))
	m.fillTerrain(img, terrain.Region(x0, y0, w, h), w, h, scale)

	if snap == nil {
		return img, nil
	}

	dc := gg.NewContextForRGBA(img)
	s := float64(scale)
	toPx := func(bx, by float64) (float64, float64) {
		return (bx - area.X) * s, (by - area.Y) * s
	}

	for _, d := range snap.ActiveDigs {
		if !area.ContainsBlock(d.X, d.Y) {
			continue
		}
		px, py := toPx(float64(d.X), float64(d.Y))
		dc.SetColor(digColor)
		dc.SetLineWidth(1)
		dc.DrawRectangle(px, py, s, s)
		dc.Stroke()
	}

	dc.SetColor(itemColor)
	for _, it := range snap.Items {
		if !area.Contains(it.X, it.Y) {
			continue
		}
		px, py := toPx(it.X, it.Y)
		dc.DrawRectangle(px, py, s/2+1, s/2+1)
		dc.Fill()
	}

	radius := s * 1.5
	if radius < 2 {
		radius = 2
	}
	for _, p := range snap.Players {
		bx, by := p.X/m.blockSize, p.Y/m.blockSize
		if !area.Contains(bx, by) {
			continue
		}
		px, py := toPx(bx, by)

		// Viewport outline
		v := p.Viewport.Intersection(area)
		if !v.Empty() {
			vx, vy := toPx(v.X, v.Y)
			dc.SetColor(color.RGBA{255, 255, 255, 60})
			dc.SetLineWidth(1)
			dc.DrawRectangle(vx, vy, v.W*s, v.H*s)
			dc.Stroke()
		}

		dc.SetColor(parseHexColor(p.Color, color.RGBA{255, 255, 255, 255}))
		dc.DrawCircle(px, py, radius)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawCircle(px, py, radius)
		dc.Stroke()
	}

	return img, nil
}

// EncodePNG renders and writes the map as PNG.
func (m *Minimap) EncodePNG(w io.Writer, terrain game.TerrainStore, snap *game.WorldSnapshot, opts Options) error {
	img, err := m.Render(terrain, snap, opts)
	if err != nil {
		return err
	}
	return gg.NewContextForImage(img).EncodePNG(w)
}

func (m *Minimap) resolve(terrain game.TerrainStore, opts Options) (spatial.Rect, int, error) {
	world := spatial.Rect{W: float64(terrain.Width()), H: float64(terrain.Height())}
	area := world
	if !opts.Area.Empty() {
		a := opts.Area
		a.X, a.Y = math.Floor(a.X), math.Floor(a.Y)
		a.W, a.H = math.Ceil(a.W), math.Ceil(a.H)
		area = a.Intersection(world)
	}
	if area.Empty() {
		return spatial.Rect{}, 0, fmt.Errorf("%w: outside the world", ErrBadArea)
	}
	scale := opts.Scale
	if scale < 1 {
		scale = 1
	}
	if int(area.W)*scale*int(area.H)*scale > MaxPixels {
		return spatial.Rect{}, 0, fmt.Errorf("%w: %.0fx%.0f blocks at scale %d is too large", ErrBadArea, area.W, area.H, scale)
	}
	return area, scale, nil
}

// fillTerrain writes block colors straight into the pixel buffer; a gg
// rectangle per block is far too slow for whole-world maps.
func (m *Minimap) fillTerrain(img *image.RGBA, raw []byte, w, h, scale int) {
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			c := m.palette[raw[(row*w+col)*protocol.BytesPerBlock]]
			for dy := 0; dy < scale; dy++ {
				off := img.PixOffset(col*scale, row*scale+dy)
				for dx := 0; dx < scale; dx++ {
					img.Pix[off] = c.R
					img.Pix[off+1] = c.G
					img.Pix[off+2] = c.B
					img.Pix[off+3] = c.A
					off += 4
				}
			}
		}
	}
}

func parseHexColor(hex string, fallback color.RGBA) color.RGBA {
	if len(hex) != 7 || hex[0] != '#' {
		return fallback
	}
	return color.RGBA{
		R: hexToByte(hex[1], hex[2]),
		G: hexToByte(hex[3], hex[4]),
		B: hexToByte(hex[5], hex[6]),
		A: 255,
	}
}

func hexToByte(h1, h2 byte) uint8 {
	return nibble(h1)<<4 | nibble(h2)
}

func nibble(c byte) uint8 {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
