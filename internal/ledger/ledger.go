// Package ledger defines the capabilities the ingestion engine consumes
// from a durable ledger backend.
//
// The ledger is ordered and append-only: insertion order is preserved,
// fingerprints are unique across the whole ledger, and once written a
// record's content is immutable. The only mutation a backend supports is
// the review-state transition, and only along the documented edges
// (pending to completed, pending to ignored, idempotent re-application
// of a terminal state).
package ledger

import (
	"context"

	"ledger-ingest-service/internal/records"
)

// Writer is the durable append target for accepted records. The append
// is all-or-nothing for a batch: a failed call means none of the records
// are part of the ledger.
type Writer interface {
	AppendRecords(ctx context.Context, recs []*records.CanonicalRecord) error
}

// DuplicateSource exposes the durably persisted fingerprint set, used to
// rebuild the in-memory duplicate index.
type DuplicateSource interface {
	ExistingFingerprints(ctx context.Context) (map[string]struct{}, error)
}

// ReviewUpdater applies review-state transitions by fingerprint.
// Implementations return record_not_found for unknown fingerprints,
// succeed silently when the record already holds the requested terminal
// state, and reject transitions out of a terminal state.
type ReviewUpdater interface {
	SetReviewState(ctx context.Context, fingerprint string, state records.ReviewState) error
}

// PendingLister returns the ledger records still awaiting review, in
// ledger order.
type PendingLister interface {
	ListPending(ctx context.Context) ([]*records.CanonicalRecord, error)
}

// Ledger is a full backend implementing every capability.
type Ledger interface {
	Writer
	DuplicateSource
	ReviewUpdater
	PendingLister
}
