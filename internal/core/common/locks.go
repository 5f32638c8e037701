package common

import (
	"hash/fnv"
	"sort"
	"sync"
)

// KeyedMutex serializes work per key using a fixed set of striped mutexes.
// Distinct keys may share a stripe; that only costs concurrency, never correctness.
type KeyedMutex struct {
	stripes []sync.Mutex
}

func NewKeyedMutex(stripes int) *KeyedMutex {
	if stripes <= 0 {
		stripes = 256
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

func (k *KeyedMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(k.stripes)))
}

// Lock acquires the stripe for key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	m := &k.stripes[k.index(key)]
	m.Lock()
	return m.Unlock
}

// LockAll acquires the stripes for several keys in a fixed order so that
// two callers locking overlapping key sets cannot deadlock.
func (k *KeyedMutex) LockAll(keys ...string) func() {
	seen := make(map[int]bool, len(keys))
	idx := make([]int, 0, len(keys))
	for _, key := range keys {
		i := k.index(key)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		k.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			k.stripes[idx[j]].Unlock()
		}
	}
}
