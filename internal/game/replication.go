package game

import (
	"sort"

	"tileworld/internal/game/spatial"
)

// Delta is one reconcile result. Spawn and Despawn are disjoint and sorted.
type Delta struct {
	Spawn   []EntityID
	Despawn []EntityID
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Spawn) == 0 && len(d.Despawn) == 0
}

type replicaState struct {
	known map[EntityID]struct{}
	gone  map[EntityID]struct{} // destroyed while known; despawned next reconcile
}

// Replicator keeps, per player, the set of entity ids the client has been
// told to spawn and not yet told to despawn.
type Replicator struct {
	index   *spatial.Index
	players map[EntityID]*replicaState
	scratch []uint64
	present map[EntityID]struct{}
}

// NewReplicator creates a replicator over index.
func NewReplicator(index *spatial.Index) *Replicator {
	return &Replicator{
		index:   index,
		players: make(map[EntityID]*replicaState),
		scratch: make([]uint64, 0, 256),
		present: make(map[EntityID]struct{}, 256),
	}
}

// AddPlayer starts tracking a player with an empty known set.
func (r *Replicator) AddPlayer(player EntityID) {
	if _, ok := r.players[player]; ok {
		return
	}
	r.players[player] = &replicaState{
		known: make(map[EntityID]struct{}),
		gone:  make(map[EntityID]struct{}),
	}
}

// RemovePlayer discards a player's known set.
func (r *Replicator) RemovePlayer(player EntityID) {
	delete(r.players, player)
}

// EntityDestroyed implements EntityObserver: any player that knows id gets
// exactly one despawn for it on its next reconcile.
func (r *Replicator) EntityDestroyed(id EntityID) {
	for _, st := range r.players {
		if _, ok := st.known[id]; ok {
			st.gone[id] = struct{}{}
		}
	}
}

// Reconcile diffs the player's known set against the entities intersecting
// view and updates the known set. The player's own entity never appears.
func (r *Replicator) Reconcile(player EntityID, view spatial.Rect) Delta {
	st, ok := r.players[player]
	if !ok {
		return Delta{}
	}

	r.scratch = r.index.AppendQuery(r.scratch[:0], view)
	clear(r.present)
	for _, raw := range r.scratch {
		id := EntityID(raw)
		if id == player {
			continue
		}
		if _, dead := st.gone[id]; dead {
			continue
		}
		r.present[id] = struct{}{}
	}

	var d Delta
	for id := range r.present {
		if _, ok := st.known[id]; !ok {
			d.Spawn = append(d.Spawn, id)
		}
	}
	for id := range st.known {
		if _, ok := r.present[id]; !ok {
			d.Despawn = append(d.Despawn, id)
		}
	}

	for _, id := range d.Spawn {
		st.known[id] = struct{}{}
	}
	for _, id := range d.Despawn {
		delete(st.known, id)
	}
	clear(st.gone)

	sortIDs(d.Spawn)
	sortIDs(d.Despawn)
	return d
}

// Known returns a player's known set in ascending order.
func (r *Replicator) Known(player EntityID) []EntityID {
	st, ok := r.players[player]
	if !ok {
		return nil
	}
	out := make([]EntityID, 0, len(st.known))
	for id := range st.known {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// Knows reports whether viewer's client currently has entity id spawned.
func (r *Replicator) Knows(viewer, id EntityID) bool {
	st, ok := r.players[viewer]
	if !ok {
		return false
	}
	_, known := st.known[id]
	return known
}

// KnownCount returns the size of a player's known set.
func (r *Replicator) KnownCount(player EntityID) int {
	if st, ok := r.players[player]; ok {
		return len(st.known)
	}
	return 0
}

func sortIDs(ids []EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
