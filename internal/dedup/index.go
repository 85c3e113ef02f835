// Package dedup maintains the in-memory projection of the ledger's
// fingerprint column and answers duplicate queries during ingestion.
//
// The index is process-wide mutable shared state. Reservations made
// during a batch are provisional until the batch's ledger write is
// confirmed; on write failure or cancellation the pipeline releases
// them, so a retry of the same upload can succeed. On process restart
// the index is rebuilt strictly from what the durable backend reports,
// never from prior in-memory state.
package dedup

import "sync"

// Index is the set of fingerprints known to the ledger plus any
// reservations made by in-flight batches. Safe for concurrent use.
type Index struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{seen: make(map[string]struct{})}
}

// BulkLoad merges the durable backend's fingerprint set into the index.
// Used at startup and for warm reconciliation.
func (i *Index) BulkLoad(fingerprints map[string]struct{}) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for fp := range fingerprints {
		i.seen[fp] = struct{}{}
	}
}

// Contains reports whether the fingerprint is present.
func (i *Index) Contains(fingerprint string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[fingerprint]
	return ok
}

// Reserve atomically checks and inserts the fingerprint. It returns
// true when the fingerprint was absent and is now reserved, false when
// it was already present. The check-and-insert is a single critical
// section so two concurrent batches can never both accept the same
// fingerprint.
func (i *Index) Reserve(fingerprint string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[fingerprint]; ok {
		return false
	}
	i.seen[fingerprint] = struct{}{}
	return true
}

// Add inserts the fingerprint, a no-op if already present.
func (i *Index) Add(fingerprint string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen[fingerprint] = struct{}{}
}

// Release removes reservations that were never durably written, rolling
// back a failed or cancelled batch.
func (i *Index) Release(fingerprints []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, fp := range fingerprints {
		delete(i.seen, fp)
	}
}

// Len returns the number of fingerprints currently held.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.seen)
}
