package game

import (
	"log"
	"math"
	"sort"

	"tileworld/internal/config"
)

// DigState is the lifecycle state of a dig request.
type DigState uint8

const (
	DigActive DigState = iota + 1
	DigCommitted
	DigTimedOut
	DigInvalidated
	DigToolLost
)

func (s DigState) String() string {
	switch s {
	case DigActive:
		return "active"
	case DigCommitted:
		return "committed"
	case DigTimedOut:
		return "timed_out"
	case DigInvalidated:
		return "invalidated"
	case DigToolLost:
		return "tool_lost"
	default:
		return "unknown"
	}
}

// DigRequest is the server's record of one in-flight dig.
type DigRequest struct {
	Owner         EntityID
	Pos           BlockPos
	Block         uint8
	Tool          string
	StartTick     uint64
	TotalHealth   float64
	DamagePerTick float64
	ExpectedEnd   uint64
	Claimed       bool
}

// Accrued returns the damage dealt by tick now, capped at the block health.
func (r *DigRequest) Accrued(now uint64) float64 {
	if now <= r.StartTick {
		return 0
	}
	return math.Min(r.TotalHealth, float64(now-r.StartTick)*r.DamagePerTick)
}

// ExpectedEndTick returns start + ceil(health / damagePerTick). The epsilon
// keeps exact ratios like 100/20 from rounding up on float error.
func ExpectedEndTick(start uint64, health, damagePerTick float64) uint64 {
	if damagePerTick <= 0 {
		return math.MaxUint64
	}
	ticks := math.Ceil(health/damagePerTick - 1e-9)
	if ticks < 0 {
		ticks = 0
	}
	return start + uint64(ticks)
}

// DigOutcome is a request that left the Active state during Evaluate.
type DigOutcome struct {
	Request DigRequest
	State   DigState
	Tick    uint64
	Removed Block // block destroyed on commit
}

// DigReconciler arbitrates client digs against server time. At most one
// request exists per block coordinate. Owned by the simulation goroutine.
type DigReconciler struct {
	terrain     TerrainStore
	catalog     *config.Catalog
	tools       ToolLookup
	tickSeconds float64
	timeout     uint64
	active      map[BlockPos]*DigRequest
	order       []BlockPos
}

// NewDigReconciler creates a reconciler. timeout is the grace window in
// ticks after the expected end before an unclaimed request is dropped.
func NewDigReconciler(terrain TerrainStore, catalog *config.Catalog, tools ToolLookup, tickSeconds float64, timeout uint64) *DigReconciler {
	return &DigReconciler{
		terrain:     terrain,
		catalog:     catalog,
		tools:       tools,
		tickSeconds: tickSeconds,
		timeout:     timeout,
		active:      make(map[BlockPos]*DigRequest),
	}
}

// Begin starts a dig at (x, y). It returns the new request, or nil when the
// begin was ignored: empty block, a request already outstanding at that
// coordinate, or no digging tool equipped.
func (d *DigReconciler) Begin(player EntityID, x, y int, now uint64) *DigRequest {
	block, ok := d.terrain.BlockAt(x, y)
	if !ok || block.Empty() {
		return nil
	}
	pos := BlockPos{X: x, Y: y}
	if _, exists := d.active[pos]; exists {
		return nil
	}
	tool, ok := d.tools.EquippedTool(player)
	if !ok {
		log.Printf("⛏️ Dig begin at (%d,%d) ignored: player %d has no digging tool", x, y, player)
		return nil
	}

	health := d.catalog.BlockHealth(block.Type)
	dpt := tool.DamageRate * d.tickSeconds
	req := &DigRequest{
		Owner:         player,
		Pos:           pos,
		Block:         block.Type,
		Tool:          tool.Item,
		StartTick:     now,
		TotalHealth:   health,
		DamagePerTick: dpt,
		ExpectedEnd:   ExpectedEndTick(now, health, dpt),
	}
	d.active[pos] = req
	return req
}

// Finish records the owner's claim that the dig at (x, y) is complete.
// Claims without a matching request owned by player are ignored.
func (d *DigReconciler) Finish(player EntityID, x, y int) bool {
	req, ok := d.active[BlockPos{X: x, Y: y}]
	if !ok || req.Owner != player {
		log.Printf("⛏️ Dig finish at (%d,%d) from player %d has no matching request", x, y, player)
		return false
	}
	req.Claimed = true
	return true
}

// Evaluate advances every Active request to tick now and returns those that
// ended, in coordinate order. A claim that arrives before the expected end
// is cleared so the client has to claim again once the dig is due.
func (d *DigReconciler) Evaluate(now uint64) []DigOutcome {
	if len(d.active) == 0 {
		return nil
	}

	d.order = d.order[:0]
	for pos := range d.active {
		d.order = append(d.order, pos)
	}
	sort.Slice(d.order, func(i, j int) bool {
		if d.order[i].Y != d.order[j].Y {
			return d.order[i].Y < d.order[j].Y
		}
		return d.order[i].X < d.order[j].X
	})

	var out []DigOutcome
	for _, pos := range d.order {
		req := d.active[pos]
		state, removed := d.evaluateOne(req, now)
		if state == DigActive {
			continue
		}
		delete(d.active, pos)
		out = append(out, DigOutcome{Request: *req, State: state, Tick: now, Removed: removed})
	}
	return out
}

func (d *DigReconciler) evaluateOne(req *DigRequest, now uint64) (DigState, Block) {
	block, ok := d.terrain.BlockAt(req.Pos.X, req.Pos.Y)
	if !ok || block.Empty() {
		return DigInvalidated, Block{}
	}
	if _, ok := d.tools.EquippedTool(req.Owner); !ok {
		return DigToolLost, Block{}
	}
	if req.Claimed {
		if now >= req.ExpectedEnd {
			old, _ := d.terrain.Destroy(req.Pos.X, req.Pos.Y)
			return DigCommitted, old
		}
		req.Claimed = false
	}
	if now > req.ExpectedEnd+d.timeout {
		return DigTimedOut, Block{}
	}
	return DigActive, Block{}
}

// CancelOwner drops every request owned by player and returns how many.
func (d *DigReconciler) CancelOwner(player EntityID) int {
	n := 0
	for pos, req := range d.active {
		if req.Owner == player {
			delete(d.active, pos)
			n++
		}
	}
	return n
}

// Get returns the request at (x, y).
func (d *DigReconciler) Get(x, y int) (DigRequest, bool) {
	req, ok := d.active[BlockPos{X: x, Y: y}]
	if !ok {
		return DigRequest{}, false
	}
	return *req, true
}

// Active returns copies of all active requests.
func (d *DigReconciler) Active() []DigRequest {
	out := make([]DigRequest, 0, len(d.active))
	for _, req := range d.active {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pos.Y != out[j].Pos.Y {
			return out[i].Pos.Y < out[j].Pos.Y
		}
		return out[i].Pos.X < out[j].Pos.X
	})
	return out
}

// Len returns the number of active requests.
func (d *DigReconciler) Len() int {
	return len(d.active)
}
