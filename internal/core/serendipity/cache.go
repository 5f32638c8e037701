package serendipity

import (
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/umeshshetty/peoples-agent/internal/core/model"
)

// NudgeCache keeps the latest scan per thought, evicting the least recently used.
type NudgeCache struct {
	mu    sync.Mutex
	order *lru.Cache
	items map[string][]model.Nudge
}

func NewNudgeCache(size int) *NudgeCache {
	c := &NudgeCache{order: lru.New(size), items: make(map[string][]model.Nudge)}
	c.order.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(c.items, key.(string))
	}
	return c
}

// Put replaces the nudges stored for thoughtID.
func (c *NudgeCache) Put(thoughtID string, nudges []model.Nudge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[thoughtID] = append([]model.Nudge(nil), nudges...)
	c.order.Add(thoughtID, nil)
}

func (c *NudgeCache) Get(thoughtID string) ([]model.Nudge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.order.Get(thoughtID); !ok {
		return nil, false
	}
	return append([]model.Nudge(nil), c.items[thoughtID]...), true
}

// All returns every cached nudge by similarity, highest first.
func (c *NudgeCache) All() []model.Nudge {
	c.mu.Lock()
	var out []model.Nudge
	for _, n := range c.items {
		out = append(out, n...)
	}
	c.mu.Unlock()
	sortNudges(out)
	return out
}

func (c *NudgeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func sortNudges(n []model.Nudge) {
	sort.SliceStable(n, func(i, j int) bool {
		if n[i].Similarity != n[j].Similarity {
			return n[i].Similarity > n[j].Similarity
		}
		if n[i].ThoughtID != n[j].ThoughtID {
			return n[i].ThoughtID < n[j].ThoughtID
		}
		return n[i].OtherID < n[j].OtherID
	})
}
