// Package ingest runs upload batches through the ingestion pipeline:
// parse, fingerprint, deduplicate, append.
//
// One batch is one call to Ingest. The batch either lands in the ledger
// as a whole (minus duplicates) or not at all; a failed or cancelled
// write releases every fingerprint the batch reserved so an identical
// retry can succeed.
package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"

	"ledger-ingest-service/internal/dedup"
	"ledger-ingest-service/internal/fingerprint"
	"ledger-ingest-service/internal/ledger"
	"ledger-ingest-service/internal/mappings"
	"ledger-ingest-service/internal/records"
	apperrors "ledger-ingest-service/pkg/errors"
	"ledger-ingest-service/pkg/logger"
)

// Result is the outcome of one successfully processed batch.
type Result struct {
	// BatchID identifies the batch in logs.
	BatchID string `json:"batchId"`
	// Institution is the mapping's display name.
	Institution string `json:"institution"`
	// RowsRead counts the data rows considered after the skip and
	// blank-line rules.
	RowsRead int `json:"rowsRead"`
	// RowsWritten counts the rows durably appended to the ledger.
	RowsWritten int `json:"rowsWritten"`
	// Duplicates holds the normalized content of every skipped row.
	Duplicates []*records.DuplicateEntry `json:"duplicates"`
	// Messages is the ordered, human-readable status log of the batch.
	Messages []string `json:"messages"`
}

func (r *Result) addMessage(format string, args ...interface{}) {
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

// Engine owns the duplicate index and drives batches against a ledger
// backend. Safe for concurrent Ingest calls; the index serializes all
// fingerprint reservations.
type Engine struct {
	registry *mappings.Registry
	index    *dedup.Index
	backend  ledger.Ledger
	logger   logger.Logger
}

// NewEngine builds an engine over the registry and backend, seeding the
// duplicate index from the backend's durable fingerprint set.
func NewEngine(ctx context.Context, registry *mappings.Registry, backend ledger.Ledger) (*Engine, error) {
	log := logger.GetGlobalLogger().WithComponent("ingest_engine")

	fingerprints, err := backend.ExistingFingerprints(ctx)
	if err != nil {
		return nil, err
	}

	index := dedup.NewIndex()
	index.BulkLoad(fingerprints)
	log.WithField("known_fingerprints", index.Len()).Info("Duplicate index loaded from ledger")

	return &Engine{
		registry: registry,
		index:    index,
		backend:  backend,
		logger:   log,
	}, nil
}

// Institutions returns the configured institution keys in sorted order.
func (e *Engine) Institutions() []string {
	return e.registry.Keys()
}

// Ingest processes one uploaded export for the given institution key.
//
// The pipeline runs two independent passes over the raw bytes: a parse
// pass extracting the mapped columns, and a fingerprint pass hashing the
// raw lines. The two are consumed in lockstep; when their lengths
// diverge the batch is truncated to the shorter with a warning. An
// all-duplicate or empty batch is a success with zero rows written.
func (e *Engine) Ingest(ctx context.Context, fileBytes []byte, mappingKey string) (*Result, error) {
	mapping, err := e.registry.Resolve(mappingKey)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New().String()
	op := logger.NewOperationLogger("ingest_batch", e.logger).
		WithField("batch_id", batchID).
		WithField("institution", mappingKey)

	result := &Result{
		BatchID:     batchID,
		Institution: mapping.DisplayName,
	}

	op.Step("reading")
	rows, err := extractRows(fileBytes, mapping)
	if err != nil {
		op.Error(err, "Failed to parse upload")
		return nil, err
	}
	result.addMessage("Successfully read CSV using config for '%s'.", mapping.DisplayName)

	if len(rows) == 0 {
		result.addMessage("No data read from CSV for card '%s' (possibly empty or only skipped rows).",
			mapping.DisplayName)
		op.Success("Batch contained no data rows")
		return result, nil
	}

	op.Step("fingerprinting")
	lines, err := fingerprint.ScanAll(bytes.NewReader(fileBytes), mapping.SkipLines())
	if err != nil {
		op.Error(err, "Failed to fingerprint upload")
		return nil, err
	}

	count := len(rows)
	if len(lines) != len(rows) {
		mismatch := apperrors.RowCountMismatch(len(rows), len(lines))
		result.addMessage("Warning: %s. Processing the shorter sequence.", mismatch.Message)
		op.Warning(mismatch.Message)
		count = min(len(rows), len(lines))
	}
	result.RowsRead = count

	if err := ctx.Err(); err != nil {
		aborted := apperrors.Wrap(err, apperrors.CategoryIngestion, apperrors.CodeBatchAborted,
			"ingestion cancelled before duplicate filtering").
			WithContext("batch_id", batchID)
		op.Error(aborted, "Batch cancelled")
		return nil, aborted
	}

	op.Step("filtering")
	normalizer := records.NewNormalizer(mapping.DisplayName)
	accepted := make([]*records.CanonicalRecord, 0, count)
	reserved := make([]string, 0, count)
	duplicateCount := 0

	for i := 0; i < count; i++ {
		record, warnings := normalizer.Normalize(rows[i].fields)
		for _, warning := range append(rows[i].warnings, warnings...) {
			result.addMessage("Warning: %s", warning.Message)
			op.Warning(warning.Message)
		}

		fp := lines[i].Fingerprint
		if !e.index.Reserve(fp) {
			duplicateCount++
			result.Duplicates = append(result.Duplicates, records.DuplicateEntryOf(record))
			continue
		}
		record.Fingerprint = fp
		accepted = append(accepted, record)
		reserved = append(reserved, fp)
	}

	if duplicateCount > 0 {
		result.addMessage("Checked %d data lines: Found and skipped %d duplicate rows based on existing hashes.",
			count, duplicateCount)
	} else {
		result.addMessage("Checked %d data lines: No duplicates found based on existing hashes.", count)
	}

	if len(accepted) == 0 {
		result.addMessage("No new transactions found after duplicate check.")
		op.Success("Batch was all duplicates")
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		e.index.Release(reserved)
		aborted := apperrors.Wrap(err, apperrors.CategoryIngestion, apperrors.CodeBatchAborted,
			"ingestion cancelled before the ledger write").
			WithContext("batch_id", batchID)
		op.Error(aborted, "Batch cancelled, reservations released")
		return nil, aborted
	}

	op.Step("writing")
	op.Progress("Appending accepted records", len(accepted), count)
	if err := e.backend.AppendRecords(ctx, accepted); err != nil {
		e.index.Release(reserved)
		failed := apperrors.WrapIfNeeded(err, apperrors.CategoryLedger, apperrors.CodeLedgerWriteFailed,
			"ledger append failed").
			WithContext("batch_id", batchID)
		op.Error(failed, "Ledger write failed, reservations released")
		return nil, failed
	}

	result.RowsWritten = len(accepted)
	result.addMessage("Appended %d new rows to the ledger.", len(accepted))
	result.addMessage("Added %d new transaction fingerprints to the duplicate index.", len(reserved))
	op.Success("Batch ingested")
	return result, nil
}

// SetReviewState applies a review transition to the ledger record
// holding the fingerprint.
func (e *Engine) SetReviewState(ctx context.Context, fp string, state records.ReviewState) error {
	err := e.backend.SetReviewState(ctx, fp, state)
	if err != nil {
		e.logger.WithError(err).WithFields(logger.Fields{
			"fingerprint": fp,
			"state":       state.String(),
		}).Warn("Review-state update failed")
		return err
	}

	e.logger.WithFields(logger.Fields{
		"fingerprint": fp,
		"state":       state.String(),
	}).Info("Review state updated")
	return nil
}

// ListPending returns the ledger records still awaiting review.
func (e *Engine) ListPending(ctx context.Context) ([]*records.CanonicalRecord, error) {
	return e.backend.ListPending(ctx)
}
