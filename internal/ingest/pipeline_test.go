package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ledger-ingest-service/internal/fingerprint"
	"ledger-ingest-service/internal/mappings"
	"ledger-ingest-service/internal/records"
	apperrors "ledger-ingest-service/pkg/errors"
)

// fakeLedger is an in-memory backend with write-failure injection.
type fakeLedger struct {
	records   []*records.CanonicalRecord
	failWrite bool
	appends   int
}

func (f *fakeLedger) AppendRecords(ctx context.Context, recs []*records.CanonicalRecord) error {
	f.appends++
	if f.failWrite {
		return apperrors.LedgerWriteFailed("fake", errors.New("injected failure"))
	}
	f.records = append(f.records, recs...)
	return nil
}

func (f *fakeLedger) ExistingFingerprints(ctx context.Context) (map[string]struct{}, error) {
	fingerprints := make(map[string]struct{}, len(f.records))
	for _, rec := range f.records {
		fingerprints[rec.Fingerprint] = struct{}{}
	}
	return fingerprints, nil
}

func (f *fakeLedger) SetReviewState(ctx context.Context, fp string, state records.ReviewState) error {
	for _, rec := range f.records {
		if rec.Fingerprint == fp {
			if rec.ReviewState == state {
				return nil
			}
			if rec.ReviewState.IsTerminal() {
				return apperrors.InvalidTransition(fp, rec.ReviewState.String(), state.String())
			}
			rec.ReviewState = state
			return nil
		}
	}
	return apperrors.RecordNotFound(fp)
}

func (f *fakeLedger) ListPending(ctx context.Context) ([]*records.CanonicalRecord, error) {
	var pending []*records.CanonicalRecord
	for _, rec := range f.records {
		if rec.ReviewState == records.ReviewPending {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func testRegistry(t *testing.T) *mappings.Registry {
	t.Helper()
	categoryCol := 3
	registry, err := mappings.NewRegistry(map[string]*mappings.InstitutionMapping{
		"testbank": {
			DisplayName:    "Test Bank",
			DateCol:        0,
			AmountCol:      1,
			DescriptionCol: 2,
			HeaderPresent:  true,
			RowsToSkip:     1,
		},
		"categorized": {
			DisplayName:    "Categorized Bank",
			DateCol:        0,
			AmountCol:      1,
			DescriptionCol: 2,
			CategoryCol:    &categoryCol,
			HeaderPresent:  true,
			RowsToSkip:     1,
		},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return registry
}

func newTestEngine(t *testing.T, backend *fakeLedger) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), testRegistry(t), backend)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engine
}

const sampleUpload = "Date,Amt,Desc\n2024-01-05,-12.50,Coffee Shop\n2024-01-06,-40.00,Groceries\n"

func TestIngestEndToEnd(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	input := "Date,Amt,Desc\n2024-01-05,-12.50,Coffee Shop"
	result, err := engine.Ingest(context.Background(), []byte(input), "testbank")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if result.RowsRead != 1 || result.RowsWritten != 1 {
		t.Fatalf("rowsRead=%d rowsWritten=%d, want 1/1", result.RowsRead, result.RowsWritten)
	}
	if len(backend.records) != 1 {
		t.Fatalf("expected 1 ledger record, got %d", len(backend.records))
	}

	rec := backend.records[0]
	if rec.Amount == nil || rec.Amount.String() != "-12.5" {
		t.Errorf("amount = %v, want -12.5", rec.Amount)
	}
	if rec.Description != "Coffee Shop" {
		t.Errorf("description = %q, want Coffee Shop", rec.Description)
	}
	if rec.Category != nil {
		t.Errorf("category = %v, want nil for mapping without category column", rec.Category)
	}
	if rec.CardName != "Test Bank" {
		t.Errorf("card name = %q, want the mapping display name", rec.CardName)
	}
	if rec.ReviewState != records.ReviewPending {
		t.Errorf("review state = %s, want pending", rec.ReviewState)
	}
	if rec.TransactionDate != "Friday, January 05, 2024" {
		t.Errorf("date = %q, want canonical rendering", rec.TransactionDate)
	}
	if rec.Fingerprint == "" {
		t.Error("fingerprint not assigned")
	}
}

func TestIngestIdempotence(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, []byte(sampleUpload), "testbank")
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if first.RowsWritten != 2 {
		t.Fatalf("first ingest wrote %d rows, want 2", first.RowsWritten)
	}

	second, err := engine.Ingest(ctx, []byte(sampleUpload), "testbank")
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if second.RowsWritten != 0 {
		t.Errorf("second ingest wrote %d rows, want 0", second.RowsWritten)
	}
	if len(second.Duplicates) != 2 {
		t.Errorf("second ingest reported %d duplicates, want 2", len(second.Duplicates))
	}
	if len(backend.records) != 2 {
		t.Errorf("ledger holds %d records, want 2", len(backend.records))
	}

	joined := strings.Join(second.Messages, "\n")
	if !strings.Contains(joined, "No new transactions found after duplicate check.") {
		t.Errorf("missing all-duplicate message, got:\n%s", joined)
	}
}

func TestIngestIntraBatchDedup(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	input := "Date,Amt,Desc\n2024-01-05,-12.50,Coffee Shop\n2024-01-05,-12.50,Coffee Shop\n"
	result, err := engine.Ingest(context.Background(), []byte(input), "testbank")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if result.RowsWritten != 1 {
		t.Errorf("rowsWritten = %d, want 1", result.RowsWritten)
	}
	if len(result.Duplicates) != 1 {
		t.Errorf("duplicates = %d, want 1", len(result.Duplicates))
	}
	if len(backend.records) != 1 {
		t.Errorf("ledger holds %d records, want 1", len(backend.records))
	}
}

func TestIngestRollbackAllowsRetry(t *testing.T) {
	backend := &fakeLedger{failWrite: true}
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, []byte(sampleUpload), "testbank")
	if !apperrors.HasCode(err, apperrors.CodeLedgerWriteFailed) {
		t.Fatalf("expected ledger_write_failed, got: %v", err)
	}

	backend.failWrite = false
	result, err := engine.Ingest(ctx, []byte(sampleUpload), "testbank")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.RowsWritten != 2 {
		t.Errorf("retry wrote %d rows, want 2 (no phantom duplicates)", result.RowsWritten)
	}
	if len(result.Duplicates) != 0 {
		t.Errorf("retry reported %d duplicates, want 0", len(result.Duplicates))
	}
}

func TestIngestCancelledBeforeWrite(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Ingest(ctx, []byte(sampleUpload), "testbank")
	if !apperrors.HasCode(err, apperrors.CodeBatchAborted) {
		t.Fatalf("expected batch_aborted, got: %v", err)
	}
	if backend.appends != 0 {
		t.Error("cancelled batch must not reach the ledger")
	}

	result, err := engine.Ingest(context.Background(), []byte(sampleUpload), "testbank")
	if err != nil {
		t.Fatalf("retry after cancellation failed: %v", err)
	}
	if result.RowsWritten != 2 {
		t.Errorf("retry wrote %d rows, want 2", result.RowsWritten)
	}
}

func TestIngestRowCountMismatchTruncates(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	// The quoted field spans two physical lines, so the parse pass sees
	// one row while the raw-line pass sees two.
	input := "Date,Amt,Desc\n2024-01-05,-12.50,\"Coffee\nShop\"\n"
	result, err := engine.Ingest(context.Background(), []byte(input), "testbank")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if result.RowsRead != 1 {
		t.Errorf("rowsRead = %d, want 1 (truncated to the shorter sequence)", result.RowsRead)
	}
	if result.RowsWritten != 1 {
		t.Errorf("rowsWritten = %d, want 1", result.RowsWritten)
	}
	if len(backend.records) != 1 {
		t.Fatalf("ledger holds %d records, want 1", len(backend.records))
	}
	if backend.records[0].Description != "Coffee\nShop" {
		t.Errorf("description = %q, want the multi-line field", backend.records[0].Description)
	}

	joined := strings.Join(result.Messages, "\n")
	if !strings.Contains(joined, "Warning:") ||
		!strings.Contains(joined, "parsed 1 rows but fingerprinted 2 lines") {
		t.Errorf("mismatch warning missing from message log:\n%s", joined)
	}
}

func TestIngestWhitespaceOnlyLineKeepsAlignment(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	input := "Date,Amt,Desc\n2024-01-05,-12.50,Coffee Shop\n   \n2024-01-06,-40.00,Groceries\n"
	result, err := engine.Ingest(context.Background(), []byte(input), "testbank")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if result.RowsRead != 2 || result.RowsWritten != 2 {
		t.Fatalf("rowsRead=%d rowsWritten=%d, want 2/2", result.RowsRead, result.RowsWritten)
	}
	joined := strings.Join(result.Messages, "\n")
	if strings.Contains(joined, "fingerprinted") {
		t.Errorf("both passes should skip the blank line, got mismatch warning:\n%s", joined)
	}

	// Each record must pair with its own raw line's fingerprint.
	if backend.records[1].Fingerprint != fingerprint.Compute("2024-01-06,-40.00,Groceries") {
		t.Errorf("second record carries the wrong fingerprint: %s", backend.records[1].Fingerprint)
	}
	if backend.records[0].Fingerprint != fingerprint.Compute("2024-01-05,-12.50,Coffee Shop") {
		t.Errorf("first record carries the wrong fingerprint: %s", backend.records[0].Fingerprint)
	}
}

func TestIngestCancelledAllDuplicateBatch(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	if _, err := engine.Ingest(context.Background(), []byte(sampleUpload), "testbank"); err != nil {
		t.Fatalf("seed ingest failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Ingest(ctx, []byte(sampleUpload), "testbank")
	if !apperrors.HasCode(err, apperrors.CodeBatchAborted) {
		t.Fatalf("cancelled all-duplicate batch must abort, got: %v", err)
	}
}

func TestIngestEmptyFile(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	result, err := engine.Ingest(context.Background(), []byte("Date,Amt,Desc\n"), "testbank")
	if err != nil {
		t.Fatalf("empty upload should succeed, got: %v", err)
	}
	if result.RowsRead != 0 || result.RowsWritten != 0 {
		t.Errorf("rowsRead=%d rowsWritten=%d, want 0/0", result.RowsRead, result.RowsWritten)
	}

	joined := strings.Join(result.Messages, "\n")
	if !strings.Contains(joined, "No data read from CSV") {
		t.Errorf("missing no-data message, got:\n%s", joined)
	}
}

func TestIngestUnknownInstitution(t *testing.T) {
	engine := newTestEngine(t, &fakeLedger{})

	_, err := engine.Ingest(context.Background(), []byte(sampleUpload), "unknown")
	if !apperrors.HasCode(err, apperrors.CodeConfigurationNotFound) {
		t.Fatalf("expected configuration_not_found, got: %v", err)
	}
}

func TestIngestUnparsableAmountRetainsRow(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	input := "Date,Amt,Desc\n2024-01-05,not-a-number,Coffee Shop\n"
	result, err := engine.Ingest(context.Background(), []byte(input), "testbank")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if result.RowsWritten != 1 {
		t.Fatalf("rowsWritten = %d, want 1 (row retained)", result.RowsWritten)
	}
	if backend.records[0].Amount != nil {
		t.Errorf("amount = %v, want nil for unparsable value", backend.records[0].Amount)
	}

	joined := strings.Join(result.Messages, "\n")
	if !strings.Contains(joined, "Warning:") {
		t.Errorf("coercion warning missing from message log:\n%s", joined)
	}
}

func TestIngestCategoryColumn(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	input := "Date,Amt,Desc,Cat\n2024-01-05,-12.50,Coffee Shop,Dining\n"
	_, err := engine.Ingest(context.Background(), []byte(input), "categorized")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	rec := backend.records[0]
	if rec.Category == nil || *rec.Category != "Dining" {
		t.Errorf("category = %v, want Dining", rec.Category)
	}
}

func TestIngestShortRowDegradesField(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)

	input := "Date,Amt,Desc,Cat\n2024-01-05,-12.50,Coffee Shop\n"
	result, err := engine.Ingest(context.Background(), []byte(input), "categorized")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if result.RowsWritten != 1 {
		t.Fatalf("rowsWritten = %d, want 1", result.RowsWritten)
	}
	rec := backend.records[0]
	if rec.Category == nil || *rec.Category != "" {
		t.Errorf("category = %v, want empty string for missing cell", rec.Category)
	}
}

func TestIngestFingerprintStability(t *testing.T) {
	ctx := context.Background()

	firstBackend := &fakeLedger{}
	first := newTestEngine(t, firstBackend)
	if _, err := first.Ingest(ctx, []byte(sampleUpload), "testbank"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	renamed, err := mappings.NewRegistry(map[string]*mappings.InstitutionMapping{
		"testbank": {
			DisplayName:    "Renamed Bank",
			DateCol:        0,
			AmountCol:      1,
			DescriptionCol: 2,
			HeaderPresent:  true,
			RowsToSkip:     1,
		},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	secondBackend := &fakeLedger{}
	second, err := NewEngine(ctx, renamed, secondBackend)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	if _, err := second.Ingest(ctx, []byte(sampleUpload), "testbank"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	for i := range firstBackend.records {
		if firstBackend.records[i].Fingerprint != secondBackend.records[i].Fingerprint {
			t.Errorf("row %d fingerprint changed with display name: %s vs %s",
				i, firstBackend.records[i].Fingerprint, secondBackend.records[i].Fingerprint)
		}
	}
}

func TestIngestSeedsIndexFromBackend(t *testing.T) {
	backend := &fakeLedger{}
	first := newTestEngine(t, backend)
	if _, err := first.Ingest(context.Background(), []byte(sampleUpload), "testbank"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	// A fresh engine over the same backend simulates a process restart.
	restarted := newTestEngine(t, backend)
	result, err := restarted.Ingest(context.Background(), []byte(sampleUpload), "testbank")
	if err != nil {
		t.Fatalf("ingest after restart failed: %v", err)
	}
	if result.RowsWritten != 0 || len(result.Duplicates) != 2 {
		t.Errorf("restart lost durable fingerprints: wrote %d, duplicates %d",
			result.RowsWritten, len(result.Duplicates))
	}
}

func TestSetReviewStateDelegation(t *testing.T) {
	backend := &fakeLedger{}
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	if _, err := engine.Ingest(ctx, []byte(sampleUpload), "testbank"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	fp := backend.records[0].Fingerprint

	if err := engine.SetReviewState(ctx, fp, records.ReviewCompleted); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	if err := engine.SetReviewState(ctx, fp, records.ReviewCompleted); err != nil {
		t.Fatalf("idempotent re-application failed: %v", err)
	}
	if err := engine.SetReviewState(ctx, "missing", records.ReviewCompleted); !apperrors.HasCode(err, apperrors.CodeRecordNotFound) {
		t.Fatalf("expected record_not_found, got: %v", err)
	}

	pending, err := engine.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}
