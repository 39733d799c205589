package store

import "sync"

type seqGenerator struct {
	mu   sync.Mutex
	last int64
}

func newSeqGenerator() *seqGenerator {
	return &seqGenerator{}
}

func (g *seqGenerator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last++
	return g.last
}
