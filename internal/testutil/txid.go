package testutil

import (
	"fmt"
	"sync"
)

// TxIDs generates numbered transaction ids: "<prefix>-1", "<prefix>-2", ...
//
// Two generators with the same prefix produce the same sequence, which
// keeps log lines and golden snapshots stable across runs. TxIDs
// implements transaction.IDGenerator and is safe for concurrent use.
type TxIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewTxIDs returns a generator starting at 1. An empty prefix becomes "tx".
func NewTxIDs(prefix string) *TxIDs {
	if prefix == "" {
		prefix = "tx"
	}
	return &TxIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *TxIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Issued reports how many ids have been generated.
func (g *TxIDs) Issued() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence at 1.
func (g *TxIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
