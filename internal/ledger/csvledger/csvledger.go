// Package csvledger implements the ledger contract on a local
// append-only CSV file.
//
// The file carries the fixed seven-column layout from records.Header.
// Appends go to the end of the file in batch order; review-state updates
// rewrite the single Completion cell through an atomic temp-file swap so
// a crash never leaves a half-written ledger.
package csvledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"ledger-ingest-service/internal/records"
	apperrors "ledger-ingest-service/pkg/errors"
	"ledger-ingest-service/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	fingerprintColumn = 5
	reviewColumn      = 6
)

// Ledger is a CSV-file-backed ledger.
type Ledger struct {
	path   string
	mu     sync.Mutex
	logger logger.Logger
}

// New creates a ledger over the given file path. The file is created on
// first append.
func New(path string) *Ledger {
	return &Ledger{
		path:   path,
		logger: logger.GetGlobalLogger().WithComponent("csv_ledger"),
	}
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}

// AppendRecords appends the batch to the end of the file, preserving
// order. The header row is written once, when the file is new or empty.
func (l *Ledger) AppendRecords(ctx context.Context, recs []*records.CanonicalRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return apperrors.LedgerWriteFailed("csv", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperrors.LedgerWriteFailed("csv", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return apperrors.LedgerWriteFailed("csv", err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(records.Header); err != nil {
			return apperrors.LedgerWriteFailed("csv", err)
		}
	}

	for _, rec := range recs {
		if err := writer.Write(rec.Row()); err != nil {
			return apperrors.LedgerWriteFailed("csv", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return apperrors.LedgerWriteFailed("csv", err)
	}

	l.logger.WithFields(logger.Fields{
		"path": l.path,
		"rows": len(recs),
	}).Debug("Appended records to csv ledger")
	return nil
}

// ExistingFingerprints streams the fingerprint column from the file. A
// missing file is an empty ledger, not an error.
func (l *Ledger) ExistingFingerprints(ctx context.Context) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryLedger, apperrors.CodeLedgerReadFailed,
			"fingerprint load cancelled")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readRows()
	if err != nil {
		return nil, err
	}

	fingerprints := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if len(row) > fingerprintColumn && row[fingerprintColumn] != "" {
			fingerprints[row[fingerprintColumn]] = struct{}{}
		}
	}
	return fingerprints, nil
}

// SetReviewState updates the Completion cell for the record holding the
// fingerprint. Re-applying the state a record already holds succeeds
// silently; moving a terminal record to a different state is rejected.
func (l *Ledger) SetReviewState(ctx context.Context, fingerprint string, state records.ReviewState) error {
	if !state.IsValid() {
		return apperrors.New(apperrors.CategoryValidation, apperrors.CodeInvalidTransition,
			fmt.Sprintf("invalid review state %d", int(state)))
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.CategoryLedger, apperrors.CodeLedgerWriteFailed,
			"review update cancelled")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readRows()
	if err != nil {
		return err
	}

	target := -1
	for i, row := range rows {
		if len(row) > fingerprintColumn && row[fingerprintColumn] == fingerprint {
			target = i
			break
		}
	}
	if target == -1 {
		return apperrors.RecordNotFound(fingerprint)
	}

	for len(rows[target]) <= reviewColumn {
		rows[target] = append(rows[target], "")
	}

	current := parseReviewState(rows[target][reviewColumn])
	if current == state {
		return nil
	}
	if current.IsTerminal() {
		return apperrors.InvalidTransition(fingerprint, current.String(), state.String())
	}

	rows[target][reviewColumn] = strconv.Itoa(int(state))
	return l.rewrite(rows)
}

// ListPending returns the records still awaiting review, in file order.
func (l *Ledger) ListPending(ctx context.Context) ([]*records.CanonicalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryLedger, apperrors.CodeLedgerReadFailed,
			"pending listing cancelled")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readRows()
	if err != nil {
		return nil, err
	}

	var pending []*records.CanonicalRecord
	for _, row := range rows {
		if len(row) < len(records.Header) {
			continue
		}
		if parseReviewState(row[reviewColumn]) != records.ReviewPending {
			continue
		}
		pending = append(pending, recordFromRow(row))
	}
	return pending, nil
}

// readRows returns the data rows of the file, header excluded. Caller
// holds the mutex.
func (l *Ledger) readRows() ([][]string, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CategoryLedger, apperrors.CodeLedgerReadFailed,
			fmt.Sprintf("cannot open ledger file %s", l.path))
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var rows [][]string
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CategoryLedger, apperrors.CodeLedgerReadFailed,
				fmt.Sprintf("cannot parse ledger file %s", l.path))
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == records.Header[0] {
				continue
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// rewrite replaces the whole file atomically. Caller holds the mutex.
func (l *Ledger) rewrite(rows [][]string) error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.csv")
	if err != nil {
		return apperrors.LedgerWriteFailed("csv", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	writer := csv.NewWriter(tmp)
	if err := writer.Write(records.Header); err != nil {
		tmp.Close()
		return apperrors.LedgerWriteFailed("csv", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			tmp.Close()
			return apperrors.LedgerWriteFailed("csv", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return apperrors.LedgerWriteFailed("csv", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.LedgerWriteFailed("csv", err)
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		return apperrors.LedgerWriteFailed("csv", err)
	}
	return nil
}

func recordFromRow(row []string) *records.CanonicalRecord {
	rec := &records.CanonicalRecord{
		TransactionDate: row[0],
		Description:     row[2],
		CardName:        row[4],
		Fingerprint:     row[fingerprintColumn],
		ReviewState:     parseReviewState(row[reviewColumn]),
	}
	if strings.TrimSpace(row[1]) != "" {
		if amount, err := decimal.NewFromString(row[1]); err == nil {
			rec.Amount = &amount
		}
	}
	if row[3] != "" {
		category := row[3]
		rec.Category = &category
	}
	return rec
}

// parseReviewState is tolerant of malformed cells: anything unreadable
// is treated as completed so a broken row is never re-surfaced for
// review.
func parseReviewState(cell string) records.ReviewState {
	value, err := strconv.Atoi(strings.TrimSpace(cell))
	if err != nil {
		return records.ReviewCompleted
	}
	state := records.ReviewState(value)
	if !state.IsValid() {
		return records.ReviewCompleted
	}
	return state
}
