package game

import (
	"tileworld/internal/game/spatial"
)

// Leaderboard ranks players by blocks mined. Entries are keyed by player
// name so a reconnecting player keeps its count for the process lifetime.
//
// Operations:
//   - RecordDig: O(log n)
//   - GetRank: O(log n)
//   - GetTop: O(log n + k)
//   - GetAroundPlayer: O(log n + k)
type Leaderboard struct {
	skipList *spatial.SkipList
}

// LeaderboardEntry represents a player in the leaderboard
type LeaderboardEntry struct {
	Name   string `json:"name"`
	Blocks int    `json:"blocks"`
	Rank   int    `json:"rank"`
}

// NewLeaderboard creates a new leaderboard
func NewLeaderboard() *Leaderboard {
	return &Leaderboard{
		skipList: spatial.NewSkipList(),
	}
}

// RecordDig credits one mined block to name and returns the new total.
func (lb *Leaderboard) RecordDig(name string) int {
	return int(lb.skipList.Add(name, 1))
}

// Blocks returns how many blocks name has mined.
func (lb *Leaderboard) Blocks(name string) int {
	score, _ := lb.skipList.GetScore(name)
	return int(score)
}

// GetRank returns a player's rank (1-indexed, 1 = top)
// Returns 0 if player not found
func (lb *Leaderboard) GetRank(name string) int {
	return lb.skipList.GetRank(name)
}

// GetTop returns the top N players
func (lb *Leaderboard) GetTop(n int) []LeaderboardEntry {
	return lb.GetRange(1, n)
}

// GetAroundPlayer returns players around a specific player
// Returns `above` players ranked higher, the player, and `below` players ranked lower
func (lb *Leaderboard) GetAroundPlayer(name string, above, below int) []LeaderboardEntry {
	rank := lb.skipList.GetRank(name)
	if rank == 0 {
		return nil // Player not found
	}

	start := rank - above
	if start < 1 {
		start = 1
	}
	return lb.GetRange(start, rank+below)
}

// GetRange returns players in the specified rank range (1-indexed, inclusive)
func (lb *Leaderboard) GetRange(start, end int) []LeaderboardEntry {
	if start < 1 {
		start = 1
	}
	entries := lb.skipList.GetRange(start, end)
	result := make([]LeaderboardEntry, len(entries))
	for i, e := range entries {
		result[i] = LeaderboardEntry{
			Name:   e.Key,
			Blocks: int(e.Score),
			Rank:   start + i,
		}
	}
	return result
}

// Length returns the number of players in the leaderboard
func (lb *Leaderboard) Length() int {
	return lb.skipList.Length()
}
