// Package keylock provides per-key mutual exclusion backed by a fixed set of
// striped mutexes, so unrelated keys rarely contend.
package keylock

import (
	"hash/fnv"
	"sync"
)

const DefaultStripes = 64

type Striped struct {
	stripes []sync.Mutex
}

func New(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe owning key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	m := &s.stripes[s.index(key)]
	m.Lock()
	return m.Unlock
}

func (s *Striped) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.stripes)))
}
