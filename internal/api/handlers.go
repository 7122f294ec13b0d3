package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tileworld/internal/game"
	"tileworld/internal/game/spatial"
	"tileworld/internal/render"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	defaultDigHistoryLimit  = 50
	maxDigHistoryLimit      = 1000
)

func (h *routerHandlers) snapshot(w http.ResponseWriter) (*game.WorldSnapshot, bool) {
	snap := h.engine.Snapshot()
	if snap == nil {
		writeError(w, "simulation has not ticked yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return snap, true
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, snap)
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"eventLog":  h.engine.GetEventLogStats(),
		"rateLimit": h.limiter.Stats(),
	}
	if snap := h.engine.Snapshot(); snap != nil {
		stats["tick"] = snap.TickNumber
		stats["tickTimeNs"] = snap.TickTime
		stats["playerCount"] = snap.PlayerCount
		stats["entityCount"] = snap.EntityCount
		stats["indexedCount"] = snap.IndexedCount
		stats["inboundPending"] = snap.InboundPending
		stats["inboundSpins"] = snap.InboundSpins
		stats["inboundParks"] = snap.InboundParks
		stats["activeDigs"] = len(snap.ActiveDigs)
	}
	if h.hub != nil {
		stats["sessions"] = h.hub.Stats()
	}
	if h.history != nil {
		stats["audit"] = h.history.Stats()
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleGetPlayers(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	players := snap.Players
	if players == nil {
		players = []game.PlayerSnapshot{}
	}
	writeJSON(w, players)
}

func (h *routerHandlers) handleGetActiveDigs(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	digs := snap.ActiveDigs
	if digs == nil {
		digs = []game.DigSnapshot{}
	}
	writeJSON(w, digs)
}

func (h *routerHandlers) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb := h.engine.Leaderboard()

	if name := r.URL.Query().Get("player"); name != "" {
		if lb.GetRank(name) == 0 {
			writeError(w, "player has not mined anything", http.StatusNotFound)
			return
		}
		writeJSON(w, lb.GetAroundPlayer(name, 3, 3))
		return
	}

	limit := queryInt(r, "limit", defaultLeaderboardLimit)
	if limit <= 0 || limit > maxLeaderboardLimit {
		limit = defaultLeaderboardLimit
	}
	entries := lb.GetTop(limit)
	if entries == nil {
		entries = []game.LeaderboardEntry{}
	}
	writeJSON(w, entries)
}

func (h *routerHandlers) handleGetDigHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, "audit index disabled", http.StatusServiceUnavailable)
		return
	}
	limit := queryInt(r, "limit", defaultDigHistoryLimit)
	if limit <= 0 || limit > maxDigHistoryLimit {
		limit = defaultDigHistoryLimit
	}
	rows, err := h.history.RecentDigs(r.Context(), r.URL.Query().Get("outcome"), limit)
	if err != nil {
		log.Printf("❌ Dig history query failed: %v", err)
		writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		writeJSON(w, []struct{}{})
		return
	}
	writeJSON(w, rows)
}

func (h *routerHandlers) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	c := h.engine.Catalog()
	writeJSON(w, map[string]interface{}{
		"blocks":      c.Blocks,
		"items":       c.Items,
		"starterTool": c.StarterTool,
	})
}

func (h *routerHandlers) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errX != nil || errY != nil {
		writeError(w, "x and y must be integers", http.StatusBadRequest)
		return
	}
	b, ok := h.engine.Terrain().BlockAt(x, y)
	if !ok {
		writeError(w, "outside the world", http.StatusNotFound)
		return
	}
	resp := map[string]interface{}{
		"x":     x,
		"y":     y,
		"type":  b.Type,
		"flags": b.Flags,
		"empty": b.Empty(),
	}
	if def, ok := h.engine.Catalog().Block(b.Type); ok {
		resp["name"] = def.Name
		resp["health"] = def.Health
		resp["drop"] = def.Drop
	}
	writeJSON(w, resp)
}

func (h *routerHandlers) handleGetMap(w http.ResponseWriter, r *http.Request) {
	opts := render.Options{
		Area: spatial.Rect{
			X: float64(queryInt(r, "x", 0)),
			Y: float64(queryInt(r, "y", 0)),
			W: float64(queryInt(r, "w", 0)),
			H: float64(queryInt(r, "h", 0)),
		},
		Scale: queryInt(r, "scale", 1),
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.minimap.EncodePNG(w, h.engine.Terrain(), h.engine.Snapshot(), opts); err != nil {
		w.Header().Set("Content-Type", "application/json")
		if errors.Is(err, render.ErrBadArea) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("❌ Map render failed: %v", err)
		writeError(w, "render failed", http.StatusInternalServerError)
	}
}

// Helper functions (package-level for reuse)

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
