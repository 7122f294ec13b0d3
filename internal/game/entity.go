package game

import (
	"fmt"
	"log"
	"sort"

	"tileworld/internal/game/spatial"
	"tileworld/internal/protocol"
)

// EntityID is a process-unique entity identifier. Ids are never reused.
type EntityID uint64

// EntityKind classifies entities for clients.
type EntityKind uint8

const (
	KindPlayer EntityKind = EntityKind(protocol.EntityPlayer)
	KindItem   EntityKind = EntityKind(protocol.EntityItem)
)

func (k EntityKind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindItem:
		return "item"
	default:
		return "unknown"
	}
}

// Entity is the data record behind an id. Bounds are in block units.
type Entity struct {
	ID     EntityID
	Kind   EntityKind
	Bounds spatial.Rect
	Item   string   // item entities
	Count  int      // stack size for item entities
	Name   string   // player entities
	Owner  EntityID // holder while Held
	Held   bool     // in an inventory, not physically in the world
}

// State converts the entity to its spawn payload.
func (e *Entity) State() protocol.EntityState {
	return protocol.EntityState{
		ID:    uint64(e.ID),
		Kind:  uint8(e.Kind),
		X:     e.Bounds.X,
		Y:     e.Bounds.Y,
		W:     e.Bounds.W,
		H:     e.Bounds.H,
		Item:  e.Item,
		Count: e.Count,
		Name:  e.Name,
	}
}

// EntityObserver is told about entity destruction.
type EntityObserver interface {
	EntityDestroyed(id EntityID)
}

// EntityRegistry owns entity records and keeps the spatial index in sync:
// an entity is indexed exactly when it exists and is not held.
// Only the simulation goroutine touches it.
type EntityRegistry struct {
	nextID    EntityID
	entities  map[EntityID]*Entity
	index     *spatial.Index
	observers []EntityObserver
	strict    bool
}

// NewEntityRegistry creates a registry backed by index. With strict set,
// index consistency errors panic instead of being logged.
func NewEntityRegistry(index *spatial.Index, strict bool) *EntityRegistry {
	return &EntityRegistry{
		entities: make(map[EntityID]*Entity, 256),
		index:    index,
		strict:   strict,
	}
}

// Observe registers a destruction observer.
func (r *EntityRegistry) Observe(o EntityObserver) {
	r.observers = append(r.observers, o)
}

// Spawn assigns a fresh id to e, stores it and indexes it unless held.
func (r *EntityRegistry) Spawn(e Entity) *Entity {
	r.nextID++
	e.ID = r.nextID
	ent := &e
	r.entities[ent.ID] = ent
	if !ent.Held {
		r.check("insert", ent.ID, r.index.Insert(uint64(ent.ID), ent.Bounds))
	}
	return ent
}

// Get returns an entity by id.
func (r *EntityRegistry) Get(id EntityID) (*Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// Move updates an entity's bounds. Held entities keep their bounds
// off-index until they are dropped again.
func (r *EntityRegistry) Move(id EntityID, bounds spatial.Rect) bool {
	e, ok := r.entities[id]
	if !ok {
		return false
	}
	e.Bounds = bounds
	if !e.Held {
		r.check("update", id, r.index.Update(uint64(id), bounds))
	}
	return true
}

// Hold moves an entity into owner's inventory. Held entities leave the
// spatial index, so every viewer despawns them on its next reconcile.
func (r *EntityRegistry) Hold(id EntityID, owner EntityID) bool {
	e, ok := r.entities[id]
	if !ok || e.Held {
		return false
	}
	e.Held = true
	e.Owner = owner
	r.index.Remove(uint64(id))
	return true
}

// Destroy removes an entity and notifies observers. Unknown ids are ignored.
func (r *EntityRegistry) Destroy(id EntityID) bool {
	if _, ok := r.entities[id]; !ok {
		return false
	}
	r.index.Remove(uint64(id))
	delete(r.entities, id)
	for _, o := range r.observers {
		o.EntityDestroyed(id)
	}
	return true
}

// Len returns the number of live entities, held ones included.
func (r *EntityRegistry) Len() int {
	return len(r.entities)
}

// CountKind returns how many live entities have the given kind.
func (r *EntityRegistry) CountKind(kind EntityKind) int {
	n := 0
	for _, e := range r.entities {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Each calls fn for every live entity in no particular order.
func (r *EntityRegistry) Each(fn func(e *Entity)) {
	for _, e := range r.entities {
		fn(e)
	}
}

// IDs returns all live ids in ascending order.
func (r *EntityRegistry) IDs() []EntityID {
	ids := make([]EntityID, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *EntityRegistry) check(op string, id EntityID, err error) {
	if err == nil {
		return
	}
	if r.strict {
		panic(fmt.Sprintf("spatial %s of entity %d: %v", op, id, err))
	}
	log.Printf("⚠️ Spatial %s of entity %d failed: %v", op, id, err)
}
