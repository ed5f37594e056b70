package engine

import (
	"slices"
	"sync"
)

// DeriveFailedBatches groups the items currently in error by base-size
// batch index. A batch is listed iff it has an error item right now.
func DeriveFailedBatches(items []Item, batchSize int) []FailedBatch {
	var failed []Item
	for _, it := range items {
		if it.Status == StatusError {
			failed = append(failed, it)
		}
	}
	batches := Partition(failed, batchSize)
	out := make([]FailedBatch, 0, len(batches))
	for _, b := range batches {
		out = append(out, FailedBatch{Index: b.Index, Items: b.Items})
	}
	return out
}

// Ledger caches the last derivation for readers that cannot take a snapshot.
type Ledger struct {
	batchSize int

	mu      sync.RWMutex
	entries []FailedBatch
}

func NewLedger(batchSize int) *Ledger {
	return &Ledger{batchSize: batchSize}
}

// Refresh re-derives the entries from items and returns them.
func (l *Ledger) Refresh(items []Item) []FailedBatch {
	entries := DeriveFailedBatches(items, l.batchSize)

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	return slices.Clone(entries)
}

func (l *Ledger) Entries() []FailedBatch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Has reports whether batch index was listed by the last Refresh.
func (l *Ledger) Has(index int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.ContainsFunc(l.entries, func(b FailedBatch) bool { return b.Index == index })
}
