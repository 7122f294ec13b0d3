// Package client holds the client-side halves of the core: a mirror of the
// server-pushed world and the dig advisory tracker used for prediction.
package client

import (
	"sort"

	"tileworld/internal/config"
	"tileworld/internal/game"
	"tileworld/internal/protocol"
)

// DefaultResendTicks is how long the advisor waits before repeating a
// finish claim the server has not yet acted on.
const DefaultResendTicks = 2

// Advisory is the client's local record of one dig it started.
type Advisory struct {
	Pos           game.BlockPos
	StartTick     uint64
	TotalHealth   float64
	DamagePerTick float64
	ExpectedEnd   uint64
	LastClaim     uint64
	Claims        int
}

// Progress returns the predicted fraction dug at tick now, in [0, 1].
func (a *Advisory) Progress(now uint64) float64 {
	if a.TotalHealth <= 0 || now <= a.StartTick {
		return 0
	}
	p := float64(now-a.StartTick) * a.DamagePerTick / a.TotalHealth
	if p > 1 {
		return 1
	}
	return p
}

// DigAdvisor predicts when local digs complete and decides when to send
// finish claims. It has no authority: entries disappear when the server
// reports the block empty or when the local timeout passes.
type DigAdvisor struct {
	timeout uint64
	resend  uint64
	entries map[game.BlockPos]*Advisory
}

// NewDigAdvisor creates an advisor using the server's grace window.
func NewDigAdvisor(timeout, resendTicks uint64) *DigAdvisor {
	if resendTicks == 0 {
		resendTicks = DefaultResendTicks
	}
	return &DigAdvisor{
		timeout: timeout,
		resend:  resendTicks,
		entries: make(map[game.BlockPos]*Advisory),
	}
}

// Begin records a local dig. It returns false when one is already tracked
// at (x, y) or the tool cannot dig.
func (d *DigAdvisor) Begin(x, y int, now uint64, health, damagePerTick float64) bool {
	pos := game.BlockPos{X: x, Y: y}
	if _, ok := d.entries[pos]; ok || damagePerTick <= 0 {
		return false
	}
	d.entries[pos] = &Advisory{
		Pos:           pos,
		StartTick:     now,
		TotalHealth:   health,
		DamagePerTick: damagePerTick,
		ExpectedEnd:   game.ExpectedEndTick(now, health, damagePerTick),
	}
	return true
}

// Tick returns the claims to send at tick now and drops entries whose
// grace window has passed. Both lists are in coordinate order.
func (d *DigAdvisor) Tick(now uint64) (claims, expired []game.BlockPos) {
	for pos, a := range d.entries {
		switch {
		case now > a.ExpectedEnd+d.timeout:
			delete(d.entries, pos)
			expired = append(expired, pos)
		case now >= a.ExpectedEnd && (a.Claims == 0 || now-a.LastClaim >= d.resend):
			a.Claims++
			a.LastClaim = now
			claims = append(claims, pos)
		}
	}
	sortPositions(claims)
	sortPositions(expired)
	return claims, expired
}

// BlockChanged applies a server block update. An empty block resolves the
// advisory at that position.
func (d *DigAdvisor) BlockChanged(x, y int, block uint8) bool {
	if block != config.NullBlockID {
		return false
	}
	pos := game.BlockPos{X: x, Y: y}
	if _, ok := d.entries[pos]; !ok {
		return false
	}
	delete(d.entries, pos)
	return true
}

// RegionLoaded resolves advisories inside a freshly received region whose
// blocks arrived empty. raw holds w*h (type, flags) pairs.
func (d *DigAdvisor) RegionLoaded(x, y, w, h int, raw []byte) int {
	n := 0
	for pos := range d.entries {
		col, row := pos.X-x, pos.Y-y
		if col < 0 || row < 0 || col >= w || row >= h {
			continue
		}
		i := (row*w + col) * protocol.BytesPerBlock
		if i < len(raw) && raw[i] == config.NullBlockID {
			delete(d.entries, pos)
			n++
		}
	}
	return n
}

// Get returns a copy of the advisory at (x, y).
func (d *DigAdvisor) Get(x, y int) (Advisory, bool) {
	a, ok := d.entries[game.BlockPos{X: x, Y: y}]
	if !ok {
		return Advisory{}, false
	}
	return *a, true
}

// Len returns the number of tracked digs.
func (d *DigAdvisor) Len() int {
	return len(d.entries)
}

func sortPositions(ps []game.BlockPos) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Y != ps[j].Y {
			return ps[i].Y < ps[j].Y
		}
		return ps[i].X < ps[j].X
	})
}
