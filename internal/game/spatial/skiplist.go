// This file implements a skip list with span counts for O(log n) rank
// queries, the structure Redis uses for sorted sets.
//
// Origin: Pugh (1990), "Skip Lists: A Probabilistic Alternative to Balanced Trees"
package spatial

import (
	"math/rand"
	"sync"
)

const (
	maxLevel         = 32   // Max skip list height (supports 2^32 elements)
	levelProbability = 0.25 // P=0.25 gives optimal balance
)

// SkipListEntry is a scored key. Higher scores rank first; ties rank by key.
type SkipListEntry struct {
	Key   string
	Score float64
}

// before reports whether a ranks ahead of b.
func (a SkipListEntry) before(b SkipListEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Key < b.Key
}

type skipNode struct {
	entry SkipListEntry
	next  []*skipNode
	span  []int // level-0 nodes skipped by next[i], the target included
}

// SkipList is a rank-ordered set of keys safe for concurrent use.
type SkipList struct {
	mu     sync.RWMutex
	head   *skipNode
	level  int
	length int
	scores map[string]float64
	rng    *rand.Rand
}

// NewSkipList creates an empty skip list.
func NewSkipList() *SkipList {
	return &SkipList{
		head: &skipNode{
			next: make([]*skipNode, maxLevel),
			span: make([]int, maxLevel),
		},
		level:  1,
		scores: make(map[string]float64),
		rng:    rand.New(rand.NewSource(rand.Int63())),
	}
}

func (sl *SkipList) randomLevel() int {
	level := 1
	for level < maxLevel && sl.rng.Float64() < levelProbability {
		level++
	}
	return level
}

// Insert adds key or moves it to a new score.
// Time complexity: O(log n) average
func (sl *SkipList) Insert(key string, score float64) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if old, ok := sl.scores[key]; ok {
		if old == score {
			return
		}
		sl.remove(SkipListEntry{Key: key, Score: old})
	}
	sl.insert(SkipListEntry{Key: key, Score: score})
	sl.scores[key] = score
}

// Add increments key's score by delta, inserting it at delta when absent,
// and returns the new score.
func (sl *SkipList) Add(key string, delta float64) float64 {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	score := delta
	if old, ok := sl.scores[key]; ok {
		sl.remove(SkipListEntry{Key: key, Score: old})
		score += old
	}
	sl.insert(SkipListEntry{Key: key, Score: score})
	sl.scores[key] = score
	return score
}

func (sl *SkipList) insert(e SkipListEntry) {
	var update [maxLevel]*skipNode
	var rank [maxLevel]int

	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		if i < sl.level-1 {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && x.next[i].entry.before(e) {
			rank[i] += x.span[i]
			x = x.next[i]
		}
		update[i] = x
	}

	level := sl.randomLevel()
	if level > sl.level {
		for i := sl.level; i < level; i++ {
			rank[i] = 0
			update[i] = sl.head
			update[i].span[i] = sl.length
		}
		sl.level = level
	}

	node := &skipNode{
		entry: e,
		next:  make([]*skipNode, level),
		span:  make([]int, level),
	}
	for i := 0; i < level; i++ {
		node.next[i] = update[i].next[i]
		update[i].next[i] = node
		node.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = (rank[0] - rank[i]) + 1
	}
	for i := level; i < sl.level; i++ {
		update[i].span[i]++
	}
	sl.length++
}

// Remove deletes key.
// Time complexity: O(log n) average
func (sl *SkipList) Remove(key string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	score, ok := sl.scores[key]
	if !ok {
		return false
	}
	delete(sl.scores, key)
	return sl.remove(SkipListEntry{Key: key, Score: score})
}

func (sl *SkipList) remove(e SkipListEntry) bool {
	var update [maxLevel]*skipNode

	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && x.next[i].entry.before(e) {
			x = x.next[i]
		}
		update[i] = x
	}

	x = x.next[0]
	if x == nil || x.entry != e {
		return false
	}

	for i := 0; i < sl.level; i++ {
		if update[i].next[i] == x {
			update[i].span[i] += x.span[i] - 1
			update[i].next[i] = x.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for sl.level > 1 && sl.head.next[sl.level-1] == nil {
		sl.level--
	}
	sl.length--
	return true
}

// GetRank returns the rank of a key (1-indexed, 1 = highest score)
// Returns 0 if key not found
// Time complexity: O(log n)
func (sl *SkipList) GetRank(key string) int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	score, ok := sl.scores[key]
	if !ok {
		return 0
	}
	e := SkipListEntry{Key: key, Score: score}

	rank := 0
	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && (x.next[i].entry.before(e) || x.next[i].entry == e) {
			rank += x.span[i]
			x = x.next[i]
		}
		if x != sl.head && x.entry == e {
			return rank
		}
	}
	return 0
}

// GetByRank returns the entry at a given rank (1-indexed)
// Time complexity: O(log n)
func (sl *SkipList) GetByRank(rank int) *SkipListEntry {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if rank <= 0 || rank > sl.length {
		return nil
	}

	traversed := 0
	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && traversed+x.span[i] <= rank {
			traversed += x.span[i]
			x = x.next[i]
		}
		if traversed == rank {
			entry := x.entry
			return &entry
		}
	}
	return nil
}

// GetRange returns entries in rank range [start, end] (1-indexed, inclusive)
// Time complexity: O(log n + k) where k is range size
func (sl *SkipList) GetRange(start, end int) []SkipListEntry {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if start <= 0 {
		start = 1
	}
	if end > sl.length {
		end = sl.length
	}
	if start > end {
		return nil
	}

	result := make([]SkipListEntry, 0, end-start+1)

	traversed := 0
	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && traversed+x.span[i] < start {
			traversed += x.span[i]
			x = x.next[i]
		}
	}

	x = x.next[0]
	for x != nil && traversed < end {
		traversed++
		if traversed >= start {
			result = append(result, x.entry)
		}
		x = x.next[0]
	}
	return result
}

// GetScore returns the score for a key
func (sl *SkipList) GetScore(key string) (float64, bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	score, ok := sl.scores[key]
	return score, ok
}

// Length returns the number of entries
func (sl *SkipList) Length() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.length
}

// Clear removes all entries
func (sl *SkipList) Clear() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for i := range sl.head.next {
		sl.head.next[i] = nil
		sl.head.span[i] = 0
	}
	sl.level = 1
	sl.length = 0
	clear(sl.scores)
}

// ForEach iterates over all entries in rank order (highest score first).
// Return false from fn to stop.
func (sl *SkipList) ForEach(fn func(rank int, entry SkipListEntry) bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	rank := 0
	for x := sl.head.next[0]; x != nil; x = x.next[0] {
		rank++
		if !fn(rank, x.entry) {
			break
		}
	}
}
