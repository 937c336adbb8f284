package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates "<prefix>-1", "<prefix>-2", ... token ids.
//
// This enables deterministic logs and golden traces: the same scenario
// produces the same token ids on every run.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix defaults to "tok".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "tok"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements token.Generator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
