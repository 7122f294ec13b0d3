package game

import (
	"math"

	"tileworld/internal/config"
	"tileworld/internal/game/spatial"
)

// Viewport is a player's region of interest in block coordinates.
type Viewport struct {
	CenterX, CenterY float64
	HalfW, HalfH     float64
	Rect             spatial.Rect // clamped to the world
}

// ViewportUpdate reports what a RecenterIfNeeded call did. When Recentered
// is set the caller must replicate for the player this tick; when First is
// also set it must push a full BlockRegionSnapshot of Rect.
type ViewportUpdate struct {
	Recentered bool
	First      bool
	Rect       spatial.Rect
	Previous   spatial.Rect // zero on First
}

// ViewportTracker owns one viewport per player.
type ViewportTracker struct {
	blockSize    float64
	halfW, halfH float64
	reload       float64
	worldW       float64
	worldH       float64
	views        map[EntityID]*Viewport
}

// NewViewportTracker creates a tracker for the configured world.
func NewViewportTracker(world config.WorldConfig, sim config.SimConfig) *ViewportTracker {
	bs := world.BlockSize
	if bs <= 0 {
		bs = 1
	}
	return &ViewportTracker{
		blockSize: bs,
		halfW:     sim.ViewHalfWidth,
		halfH:     sim.ViewHalfHeight,
		reload:    sim.ReloadDistance,
		worldW:    float64(world.Width),
		worldH:    float64(world.Height),
		views:     make(map[EntityID]*Viewport),
	}
}

// RecenterIfNeeded moves a player's viewport when the player is further than
// the reload distance from its last center. The first call for a player
// always recenters.
func (t *ViewportTracker) RecenterIfNeeded(player EntityID, worldX, worldY float64) ViewportUpdate {
	bx, by := ToBlock(worldX, worldY, t.blockSize)

	v, ok := t.views[player]
	if !ok {
		v = &Viewport{HalfW: t.halfW, HalfH: t.halfH}
		t.views[player] = v
		t.recenter(v, bx, by)
		return ViewportUpdate{Recentered: true, First: true, Rect: v.Rect}
	}

	if math.Hypot(bx-v.CenterX, by-v.CenterY) <= t.reload {
		return ViewportUpdate{Rect: v.Rect}
	}

	prev := v.Rect
	t.recenter(v, bx, by)
	return ViewportUpdate{Recentered: true, Rect: v.Rect, Previous: prev}
}

func (t *ViewportTracker) recenter(v *Viewport, bx, by float64) {
	v.CenterX, v.CenterY = bx, by
	v.Rect = spatial.RectAround(bx, by, v.HalfW, v.HalfH).Clamp(t.worldW, t.worldH)
}

// Get returns a copy of a player's viewport.
func (t *ViewportTracker) Get(player EntityID) (Viewport, bool) {
	v, ok := t.views[player]
	if !ok {
		return Viewport{}, false
	}
	return *v, true
}

// Sees reports whether a player's viewport contains block (x, y).
func (t *ViewportTracker) Sees(player EntityID, x, y int) bool {
	v, ok := t.views[player]
	if !ok {
		return false
	}
	return v.Rect.ContainsBlock(x, y)
}

// Remove drops a player's viewport.
func (t *ViewportTracker) Remove(player EntityID) {
	delete(t.views, player)
}

// Len returns the number of tracked viewports.
func (t *ViewportTracker) Len() int {
	return len(t.views)
}
