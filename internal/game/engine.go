package game

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"tileworld/internal/config"
	"tileworld/internal/game/spatial"
	"tileworld/internal/protocol"
)

const (
	MaxSnapshotItems    = 500 // dropped items copied into a WorldSnapshot
	TopMinersInSnapshot = 10
)

// Options carries optional collaborators for NewEngine.
type Options struct {
	Metrics   Metrics
	Journal   Journal
	StartTick uint64
}

// Engine runs the fixed-rate simulation. One goroutine owns the tick clock,
// spatial index, viewports, known sets, dig table and entity registry;
// network goroutines reach it only through the Bridge and player outboxes.
type Engine struct {
	mu sync.Mutex // lifecycle only

	cfg        config.AppConfig
	catalog    *config.Catalog
	terrain    *Terrain
	clock      *TickClock
	index      *spatial.Index
	entities   *EntityRegistry
	players    *PlayerRegistry
	views      *ViewportTracker
	replicator *Replicator
	digs       *DigReconciler
	bridge     *Bridge
	snapshots  SnapshotStore
	eventLog   *EventLog
	miners     *Leaderboard
	metrics    Metrics
	journal    Journal
	rng        *rand.Rand

	scratch []uint64

	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	doneChan chan struct{}

	// Hooks run on the simulation goroutine and must not block
	OnPlayerConnected    func(p *Player)
	OnPlayerDisconnected func(p *Player)
}

// NewEngine wires the simulation for the given configuration and terrain.
func NewEngine(cfg config.AppConfig, catalog *config.Catalog, terrain *Terrain, opts Options) *Engine {
	if cfg.Sim.TickRate <= 0 {
		cfg.Sim.TickRate = config.DefaultSim().TickRate
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Journal == nil {
		opts.Journal = nopJournal{}
	}

	index := spatial.NewIndex(
		float64(cfg.World.Width), float64(cfg.World.Height),
		cfg.Spatial.GridCellSize, cfg.Spatial.MaxEntities,
	)
	entities := NewEntityRegistry(index, cfg.Sim.StrictInvariants)
	players := NewPlayerRegistry(catalog)
	replicator := NewReplicator(index)
	entities.Observe(replicator)

	return &Engine{
		cfg:        cfg,
		catalog:    catalog,
		terrain:    terrain,
		clock:      NewTickClock(opts.StartTick),
		index:      index,
		entities:   entities,
		players:    players,
		views:      NewViewportTracker(cfg.World, cfg.Sim),
		replicator: replicator,
		digs:       NewDigReconciler(terrain, catalog, players, cfg.Sim.TickSeconds(), cfg.Sim.DigTimeoutTicks),
		bridge:     NewBridge(cfg.Limits.MaxInboundQueue),
		eventLog:   NewEventLog(),
		miners:     NewLeaderboard(),
		metrics:    opts.Metrics,
		journal:    opts.Journal,
		rng:        rand.New(rand.NewSource(cfg.World.Seed)),
		scratch:    make([]uint64, 0, 64),
	}
}

// Start begins the game loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})
	e.ticker = time.NewTicker(time.Second / time.Duration(e.cfg.Sim.TickRate))
	ticker, stop, done := e.ticker, e.stopChan, e.doneChan
	e.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				e.Step()
			case <-stop:
				return
			}
		}
	}()

	log.Printf("🎮 Simulation started at %d TPS", e.cfg.Sim.TickRate)
}

// Stop stops the game loop and refuses further inbound events.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	done := e.doneChan
	e.mu.Unlock()

	<-done
	e.bridge.Close()
	log.Println("🛑 Simulation stopped")
}

// Step runs one simulation tick: advance the clock, drain inbound events,
// pick up items, replicate, evaluate digs, publish a snapshot.
// Only one goroutine may call Step; Start does so on its ticker.
func (e *Engine) Step() uint64 {
	start := time.Now()
	now := e.clock.Advance()

	e.drainInbound(now)
	e.pickupItems(now)
	e.replicate(now)
	e.evaluateDigs(now)

	elapsed := time.Since(start)
	e.publishSnapshot(now, elapsed)
	e.metrics.ObserveTick(elapsed)
	return now
}

// ============================================================================
// Inbound
// ============================================================================

func (e *Engine) drainInbound(now uint64) {
	n := e.bridge.Drain(func(in Inbound) {
		switch in.Kind {
		case InboundConnect:
			e.connect(in, now)
		case InboundDisconnect:
			e.disconnect(in.Session, now)
		case InboundMessage:
			e.dispatch(in.Session, in.Msg, now)
		default:
			log.Printf("⚠️ Unknown inbound kind %d from %s", in.Kind, in.Session)
		}
	})
	e.metrics.InboundDrained(n)
}

// dispatch routes one client message. Every arm validates locally and
// drops bad input; nothing here may fail the tick.
func (e *Engine) dispatch(session string, msg protocol.Message, now uint64) {
	if msg == nil {
		return
	}
	p, ok := e.players.BySession(session)
	if !ok {
		e.violation(session, msg, "no player for session")
		return
	}

	switch m := msg.(type) {
	case *protocol.KeepAlive:
		// Silently dropped
	case *protocol.PlayerMoved:
		e.handleMove(p, m)
	case *protocol.BlockDigBegin:
		e.handleDigBegin(p, m, now)
	case *protocol.BlockDigFinish:
		if !e.digs.Finish(p.EntityID, m.X, m.Y) {
			e.metrics.ProtocolViolation(msg.Type().String())
		}
	case *protocol.EquipSlot:
		e.handleEquip(p, m)
	default:
		e.violation(session, msg, "unexpected message")
	}
}

func (e *Engine) violation(session string, msg protocol.Message, reason string) {
	log.Printf("⚠️ Dropped %s from %s: %s", msg.Type(), session, reason)
	e.metrics.ProtocolViolation(msg.Type().String())
}

func (e *Engine) connect(in Inbound, now uint64) {
	if in.Outbox == nil {
		return
	}
	if _, dup := e.players.BySession(in.Session); dup {
		log.Printf("⚠️ Duplicate connect for session %s ignored", in.Session)
		return
	}
	if e.players.Len() >= e.cfg.Limits.MaxTotalPlayers {
		log.Printf("⚠️ Player limit reached (%d), rejecting: %s", e.cfg.Limits.MaxTotalPlayers, in.Name)
		in.Outbox.Send(&protocol.Reject{Code: protocol.ErrCodeServerFull, Reason: "server is full"})
		in.Outbox.Close()
		return
	}

	bs := e.cfg.World.BlockSize
	x, y := e.spawnPoint()
	p := &Player{
		SessionID:  in.Session,
		Name:       in.Name,
		Color:      playerColors[e.rng.Intn(len(playerColors))],
		X:          x,
		Y:          y,
		JoinedTick: now,
		Inventory:  NewInventory(e.cfg.Limits.MaxInventorySlots),
		outbox:     in.Outbox,
	}
	ent := e.entities.Spawn(Entity{Kind: KindPlayer, Bounds: p.Bounds(bs), Name: p.Name})
	p.EntityID = ent.ID
	e.players.Add(p)
	e.replicator.AddPlayer(p.EntityID)

	if tool := e.catalog.StarterTool; tool != "" {
		held := e.entities.Spawn(Entity{
			Kind:   KindItem,
			Bounds: spatial.Rect{X: p.X / bs, Y: p.Y / bs, W: ItemSizeBlocks, H: ItemSizeBlocks},
			Item:   tool,
			Count:  1,
			Owner:  p.EntityID,
			Held:   true,
		})
		p.Inventory.Add(tool, 1, held.ID)
	}

	p.Send(&protocol.Welcome{
		SessionID:   p.SessionID,
		EntityID:    uint64(p.EntityID),
		Tick:        now,
		TickRate:    e.cfg.Sim.TickRate,
		WorldWidth:  e.cfg.World.Width,
		WorldHeight: e.cfg.World.Height,
		BlockSize:   bs,
		SpawnX:      p.X,
		SpawnY:      p.Y,
		DigTimeout:  e.cfg.Sim.DigTimeoutTicks,
	})
	p.Send(p.Inventory.Message())
	e.moveViewport(p)

	e.eventLog.EmitSimple(EventTypePlayerJoin, now, p.SessionID, PlayerJoinPayload{
		EntityID:   uint64(p.EntityID),
		PlayerName: p.Name,
		SpawnX:     p.X,
		SpawnY:     p.Y,
	})
	e.journal.RecordSession(SessionRecord{
		SessionID: p.SessionID, EntityID: uint64(p.EntityID), Name: p.Name,
		Event: "join", Tick: now, At: time.Now(),
	})
	log.Printf("👤 Player joined: %s (entity %d)", p.Name, p.EntityID)

	if e.OnPlayerConnected != nil {
		e.OnPlayerConnected(p)
	}
}

// spawnPoint picks a column near the middle of the world and stands the
// player on its surface. Returns world units.
func (e *Engine) spawnPoint() (float64, float64) {
	bs := e.cfg.World.BlockSize
	w := e.terrain.Width()
	col := w/2 + e.rng.Intn(41) - 20
	if col < 0 {
		col = 0
	}
	if col >= w {
		col = w - 1
	}
	top := float64(e.terrain.SurfaceAt(col)) - PlayerHeightBlocks
	if top < 0 {
		top = 0
	}
	return float64(col) * bs, top * bs
}

func (e *Engine) disconnect(session string, now uint64) {
	p, ok := e.players.BySession(session)
	if !ok {
		return
	}

	canceled := e.digs.CancelOwner(p.EntityID)
	e.views.Remove(p.EntityID)
	e.replicator.RemovePlayer(p.EntityID)
	for _, slot := range p.Inventory.Slots {
		if slot.Entity != 0 {
			e.entities.Destroy(slot.Entity)
		}
	}
	e.entities.Destroy(p.EntityID)
	e.players.Remove(p)

	e.eventLog.EmitSimple(EventTypePlayerLeave, now, p.SessionID, PlayerLeavePayload{
		EntityID:     uint64(p.EntityID),
		TicksPlayed:  now - p.JoinedTick,
		DigsCanceled: canceled,
	})
	e.journal.RecordSession(SessionRecord{
		SessionID: p.SessionID, EntityID: uint64(p.EntityID), Name: p.Name,
		Event: "leave", Tick: now, At: time.Now(),
	})
	log.Printf("👋 Player left: %s (entity %d)", p.Name, p.EntityID)

	if e.OnPlayerDisconnected != nil {
		e.OnPlayerDisconnected(p)
	}
}

func (e *Engine) handleMove(p *Player, m *protocol.PlayerMoved) {
	if math.IsNaN(m.X) || math.IsNaN(m.Y) || math.IsInf(m.X, 0) || math.IsInf(m.Y, 0) {
		e.violation(p.SessionID, m, "non-finite position")
		return
	}
	bs := e.cfg.World.BlockSize
	maxX := (float64(e.cfg.World.Width) - PlayerWidthBlocks) * bs
	maxY := (float64(e.cfg.World.Height) - PlayerHeightBlocks) * bs
	p.X = math.Max(0, math.Min(m.X, maxX))
	p.Y = math.Max(0, math.Min(m.Y, maxY))

	e.entities.Move(p.EntityID, p.Bounds(bs))
	e.relayMove(p)
	e.moveViewport(p)
}

// relayMove forwards a player's position to clients that have it spawned.
func (e *Engine) relayMove(p *Player) {
	var msg *protocol.PlayerMoved
	for _, other := range e.players.Sorted() {
		if other == p || !e.replicator.Knows(other.EntityID, p.EntityID) {
			continue
		}
		if msg == nil {
			msg = &protocol.PlayerMoved{EntityID: uint64(p.EntityID), X: p.X, Y: p.Y}
		}
		other.Send(msg)
	}
}

// moveViewport recenters the player's viewport if needed and pushes the
// terrain the client is missing: the whole rect the first time, only the
// newly exposed strips afterwards.
func (e *Engine) moveViewport(p *Player) {
	upd := e.views.RecenterIfNeeded(p.EntityID, p.X, p.Y)
	if !upd.Recentered {
		return
	}
	p.forceReplicate = true
	p.Send(&protocol.ViewportMoved{X: upd.Rect.X, Y: upd.Rect.Y, W: upd.Rect.W, H: upd.Rect.H})

	if upd.First {
		e.sendRegion(p, upd.Rect)
		return
	}
	for _, strip := range upd.Rect.Subtract(upd.Previous) {
		e.sendRegion(p, strip)
	}
}

func (e *Engine) sendRegion(p *Player, r spatial.Rect) {
	x0 := int(math.Max(0, math.Floor(r.X)))
	y0 := int(math.Max(0, math.Floor(r.Y)))
	x1 := int(math.Min(float64(e.terrain.Width()), math.Ceil(r.MaxX())))
	y1 := int(math.Min(float64(e.terrain.Height()), math.Ceil(r.MaxY())))
	if x1 <= x0 || y1 <= y0 {
		return
	}
	w, h := x1-x0, y1-y0
	p.Send(&protocol.BlockRegionSnapshot{
		X:    x0,
		Y:    y0,
		W:    w,
		H:    h,
		Data: protocol.EncodeRegion(e.terrain.Region(x0, y0, w, h)),
	})
}

func (e *Engine) handleDigBegin(p *Player, m *protocol.BlockDigBegin, now uint64) {
	req := e.digs.Begin(p.EntityID, m.X, m.Y, now)
	if req == nil {
		return
	}
	e.eventLog.EmitSimple(EventTypeDigBegin, now, p.SessionID, DigPayload{
		EntityID:    uint64(p.EntityID),
		X:           req.Pos.X,
		Y:           req.Pos.Y,
		Block:       req.Block,
		Tool:        req.Tool,
		StartTick:   req.StartTick,
		ExpectedEnd: req.ExpectedEnd,
	})
}

func (e *Engine) handleEquip(p *Player, m *protocol.EquipSlot) {
	if !p.Inventory.Equip(m.Slot) {
		e.violation(p.SessionID, m, fmt.Sprintf("slot %d out of range", m.Slot))
		return
	}
	p.Send(p.Inventory.Message())
}

// ============================================================================
// Items
// ============================================================================

// pickupItems moves dropped items overlapping a player into its inventory.
func (e *Engine) pickupItems(now uint64) {
	bs := e.cfg.World.BlockSize
	for _, p := range e.players.Sorted() {
		e.scratch = e.index.AppendQuery(e.scratch[:0], p.Bounds(bs))
		changed := false
		for _, raw := range e.scratch {
			ent, ok := e.entities.Get(EntityID(raw))
			if !ok || ent.Kind != KindItem || ent.Held {
				continue
			}
			if e.pickup(p, ent, now) {
				changed = true
			}
		}
		if changed {
			p.Send(p.Inventory.Message())
		}
	}
}

func (e *Engine) pickup(p *Player, ent *Entity, now uint64) bool {
	_, merged, ok := p.Inventory.Add(ent.Item, ent.Count, ent.ID)
	if !ok {
		return false
	}
	payload := PickupPayload{EntityID: uint64(p.EntityID), ItemID: uint64(ent.ID), Item: ent.Item, Count: ent.Count}
	if merged {
		e.entities.Destroy(ent.ID)
	} else {
		e.entities.Hold(ent.ID, p.EntityID)
	}
	e.eventLog.EmitSimple(EventTypePickup, now, p.SessionID, payload)
	return true
}

// ============================================================================
// Replication
// ============================================================================

// replicate reconciles every player on replication ticks, and any player
// whose viewport moved this tick regardless of the interval.
func (e *Engine) replicate(now uint64) {
	interval := uint64(e.cfg.Sim.ReplicationInterval)
	scheduled := interval <= 1 || now%interval == 0

	spawns, despawns := 0, 0
	for _, p := range e.players.Sorted() {
		if !scheduled && !p.forceReplicate {
			continue
		}
		p.forceReplicate = false

		view, ok := e.views.Get(p.EntityID)
		if !ok {
			continue
		}
		d := e.replicator.Reconcile(p.EntityID, view.Rect)
		if e.cfg.Sim.StrictInvariants {
			e.checkKnown(p, view.Rect)
		}

		if len(d.Spawn) > 0 {
			states := make([]protocol.EntityState, 0, len(d.Spawn))
			for _, id := range d.Spawn {
				if ent, ok := e.entities.Get(id); ok {
					states = append(states, ent.State())
				}
			}
			p.Send(&protocol.SpawnEntities{Tick: now, Entities: states})
			spawns += len(d.Spawn)
		}
		if len(d.Despawn) > 0 {
			ids := make([]uint64, len(d.Despawn))
			for i, id := range d.Despawn {
				ids[i] = uint64(id)
			}
			p.Send(&protocol.DespawnEntities{Tick: now, IDs: ids})
			despawns += len(d.Despawn)
		}
	}

	e.metrics.AddSpawns(spawns)
	e.metrics.AddDespawns(despawns)
}

// checkKnown panics when a player's known set diverges from its view.
func (e *Engine) checkKnown(p *Player, view spatial.Rect) {
	e.scratch = e.index.AppendQuery(e.scratch[:0], view)
	want := 0
	for _, raw := range e.scratch {
		if EntityID(raw) == p.EntityID {
			continue
		}
		if !e.replicator.Knows(p.EntityID, EntityID(raw)) {
			panic(fmt.Sprintf("known set of player %d misses entity %d", p.EntityID, raw))
		}
		want++
	}
	if got := e.replicator.KnownCount(p.EntityID); got != want {
		panic(fmt.Sprintf("known set of player %d has %d ids, view has %d", p.EntityID, got, want))
	}
}

// ============================================================================
// Digging
// ============================================================================

func (e *Engine) evaluateDigs(now uint64) {
	for _, out := range e.digs.Evaluate(now) {
		req := out.Request
		session := ""
		owner, hasOwner := e.players.Get(req.Owner)
		if hasOwner {
			session = owner.SessionID
		}

		e.metrics.DigOutcome(out.State.String())
		e.eventLog.EmitSimple(digEventType(out.State), now, session, DigPayload{
			EntityID:    uint64(req.Owner),
			X:           req.Pos.X,
			Y:           req.Pos.Y,
			Block:       req.Block,
			Tool:        req.Tool,
			StartTick:   req.StartTick,
			ExpectedEnd: req.ExpectedEnd,
			Damage:      req.Accrued(now),
		})
		e.journal.RecordDig(DigRecord{
			Tick: now, SessionID: session, EntityID: uint64(req.Owner),
			X: req.Pos.X, Y: req.Pos.Y, Block: req.Block, Tool: req.Tool,
			StartTick: req.StartTick, Outcome: out.State.String(), At: time.Now(),
		})

		if out.State == DigCommitted {
			e.commitDig(out, owner)
		}
	}
	e.metrics.SetActiveDigs(e.digs.Len())
}

// commitDig tells the owner and every other player viewing the block, then
// drops the block's item into the world.
func (e *Engine) commitDig(out DigOutcome, owner *Player) {
	x, y := out.Request.Pos.X, out.Request.Pos.Y
	msg := &protocol.SingleBlockChanged{X: x, Y: y, Block: config.NullBlockID}

	if owner != nil {
		owner.Send(msg)
		e.miners.RecordDig(owner.Name)
	}
	for _, p := range e.players.Sorted() {
		if p != owner && e.views.Sees(p.EntityID, x, y) {
			p.Send(msg)
		}
	}

	def, ok := e.catalog.Block(out.Removed.Type)
	if !ok || def.Drop == "" {
		return
	}
	off := (1 - ItemSizeBlocks) / 2
	e.entities.Spawn(Entity{
		Kind:   KindItem,
		Bounds: spatial.Rect{X: float64(x) + off, Y: float64(y) + off, W: ItemSizeBlocks, H: ItemSizeBlocks},
		Item:   def.Drop,
		Count:  1,
	})
}

// ============================================================================
// Snapshot
// ============================================================================

func (e *Engine) publishSnapshot(now uint64, elapsed time.Duration) {
	snap := &WorldSnapshot{
		TickNumber:     now,
		TickTime:       elapsed,
		PlayerCount:    e.players.Len(),
		EntityCount:    e.entities.Len(),
		IndexedCount:   e.index.Len(),
		InboundPending: e.bridge.Len(),
		InboundSpins:   e.bridge.FullSpins(),
		InboundParks:   e.bridge.Parks(),
	}

	for _, p := range e.players.Sorted() {
		view, _ := e.views.Get(p.EntityID)
		snap.Players = append(snap.Players, PlayerSnapshot{
			EntityID:  uint64(p.EntityID),
			SessionID: p.SessionID,
			Name:      p.Name,
			Color:     p.Color,
			X:         p.X,
			Y:         p.Y,
			Viewport:  view.Rect,
			Known:     e.replicator.KnownCount(p.EntityID),
			Inventory: append([]InventorySlot(nil), p.Inventory.Slots...),
			Equipped:  p.Inventory.Equipped,
			Joined:    p.JoinedTick,
		})
	}

	for _, req := range e.digs.Active() {
		snap.ActiveDigs = append(snap.ActiveDigs, DigSnapshot{
			Owner:       uint64(req.Owner),
			X:           req.Pos.X,
			Y:           req.Pos.Y,
			Block:       req.Block,
			Tool:        req.Tool,
			StartTick:   req.StartTick,
			ExpectedEnd: req.ExpectedEnd,
			Accrued:     req.Accrued(now),
			TotalHealth: req.TotalHealth,
			Claimed:     req.Claimed,
		})
	}

	e.entities.Each(func(ent *Entity) {
		if ent.Kind != KindItem || ent.Held || len(snap.Items) >= MaxSnapshotItems {
			return
		}
		snap.Items = append(snap.Items, ItemSnapshot{
			EntityID: uint64(ent.ID),
			Item:     ent.Item,
			Count:    ent.Count,
			X:        ent.Bounds.X,
			Y:        ent.Bounds.Y,
		})
	})

	snap.TopMiners = e.miners.GetTop(TopMinersInSnapshot)
	e.snapshots.Publish(snap)
	e.metrics.SetPlayers(snap.PlayerCount)
	e.metrics.SetEntities(snap.EntityCount)
}

// ============================================================================
// Accessors
// ============================================================================

// Bridge returns the inbound queue network goroutines push into.
func (e *Engine) Bridge() *Bridge { return e.bridge }

// Snapshot returns the latest published WorldSnapshot. Safe from any goroutine.
func (e *Engine) Snapshot() *WorldSnapshot { return e.snapshots.Load() }

// Leaderboard returns the blocks-mined ranking. Safe from any goroutine.
func (e *Engine) Leaderboard() *Leaderboard { return e.miners }

// Terrain returns the terrain store. Safe for concurrent reads.
func (e *Engine) Terrain() *Terrain { return e.terrain }

// Catalog returns the immutable block/item catalog.
func (e *Engine) Catalog() *config.Catalog { return e.catalog }

// Config returns the engine configuration.
func (e *Engine) Config() config.AppConfig { return e.cfg }

// CurrentTick returns the current tick. Safe from any goroutine.
func (e *Engine) CurrentTick() uint64 { return e.clock.Current() }

// StartEventLog initializes the event logging system
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog gracefully stops the event logging system
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// GetEventLogStats returns event log statistics for monitoring
func (e *Engine) GetEventLogStats() map[string]interface{} {
	return e.eventLog.GetStats()
}
