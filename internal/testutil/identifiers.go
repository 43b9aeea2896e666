package testutil

import (
	"fmt"
	"sync"
)

// SequentialIdentifiers generates node identifiers in order.
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same generator assigns byte-identical
// identifiers. Each identifier has the 8-4-4-4-12 shape of a version 4 UUID:
//
//	00000000-0000-4000-8000-000000000001
//
// Thread-safety: Next is safe for concurrent use.
type SequentialIdentifiers struct {
	mu  sync.Mutex
	seq int64
}

// NewSequentialIdentifiers creates a generator whose first identifier ends
// in 1.
func NewSequentialIdentifiers() *SequentialIdentifiers {
	return &SequentialIdentifiers{}
}

// Next returns the next identifier.
//
// Has the shape of uuid.NewString for injection (store.WithIdentifiers).
func (g *SequentialIdentifiers) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", g.seq)
}
