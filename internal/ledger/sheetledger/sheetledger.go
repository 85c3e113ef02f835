// Package sheetledger implements the ledger contract on a Google Sheets
// worksheet.
//
// The worksheet carries the same seven-column layout as the CSV backend:
// fingerprints live in column F and the review state in column G. Appends
// use the values.append API with INSERT_ROWS so concurrent manual edits
// below the table are never overwritten.
package sheetledger

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"ledger-ingest-service/internal/records"
	apperrors "ledger-ingest-service/pkg/errors"
	"ledger-ingest-service/pkg/logger"
)

const (
	fingerprintRange = "F:F"
	reviewColumn     = "G"
	fullRange        = "A:G"
)

// Config locates the backing spreadsheet.
type Config struct {
	// SpreadsheetID is the document ID from the sheet URL.
	SpreadsheetID string
	// WorksheetName is the tab holding the ledger table.
	WorksheetName string
	// CredentialsFile is the path to the service account key JSON.
	CredentialsFile string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SpreadsheetID) == "" {
		return fmt.Errorf("spreadsheet ID cannot be empty")
	}
	if strings.TrimSpace(c.WorksheetName) == "" {
		return fmt.Errorf("worksheet name cannot be empty")
	}
	if strings.TrimSpace(c.CredentialsFile) == "" {
		return fmt.Errorf("credentials file cannot be empty")
	}
	return nil
}

// Ledger is a Google-Sheets-backed ledger.
type Ledger struct {
	service       *sheets.Service
	spreadsheetID string
	worksheet     string
	logger        logger.Logger
}

// New builds a ledger over the configured worksheet using service
// account credentials.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig,
			"invalid sheet ledger configuration")
	}

	service, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig,
			"cannot build sheets client").
			WithSuggestion("check the service account credentials file").
			WithContext("credentials_file", cfg.CredentialsFile)
	}

	return &Ledger{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		worksheet:     cfg.WorksheetName,
		logger:        logger.GetGlobalLogger().WithComponent("sheet_ledger"),
	}, nil
}

// AppendRecords appends the batch below the existing table in one
// values.append call, preserving order.
func (l *Ledger) AppendRecords(ctx context.Context, recs []*records.CanonicalRecord) error {
	if len(recs) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(recs))
	for _, rec := range recs {
		row := rec.Row()
		cells := make([]interface{}, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		values = append(values, cells)
	}

	_, err := l.service.Spreadsheets.Values.
		Append(l.spreadsheetID, l.worksheet, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return apperrors.LedgerWriteFailed("sheets", err).
			WithContext("spreadsheet_id", l.spreadsheetID)
	}

	l.logger.WithFields(logger.Fields{
		"spreadsheet_id": l.spreadsheetID,
		"worksheet":      l.worksheet,
		"rows":           len(recs),
	}).Debug("Appended records to sheet ledger")
	return nil
}

// ExistingFingerprints reads the fingerprint column. The header cell and
// blanks are skipped.
func (l *Ledger) ExistingFingerprints(ctx context.Context) (map[string]struct{}, error) {
	cells, err := l.readColumn(ctx, fingerprintRange)
	if err != nil {
		return nil, err
	}

	fingerprints := make(map[string]struct{}, len(cells))
	for i, cell := range cells {
		if i == 0 && cell == records.Header[5] {
			continue
		}
		if cell == "" {
			continue
		}
		fingerprints[cell] = struct{}{}
	}
	return fingerprints, nil
}

// SetReviewState locates the record's row through the fingerprint
// column and updates its review cell. Re-applying the held state
// succeeds silently; moving out of a terminal state is rejected.
func (l *Ledger) SetReviewState(ctx context.Context, fingerprint string, state records.ReviewState) error {
	if !state.IsValid() {
		return apperrors.New(apperrors.CategoryValidation, apperrors.CodeInvalidTransition,
			fmt.Sprintf("invalid review state %d", int(state)))
	}

	cells, err := l.readColumn(ctx, fingerprintRange)
	if err != nil {
		return err
	}

	rowNumber := 0
	for i, cell := range cells {
		if cell == fingerprint {
			rowNumber = i + 1
			break
		}
	}
	if rowNumber == 0 {
		return apperrors.RecordNotFound(fingerprint)
	}

	reviewCell := fmt.Sprintf("%s!%s%d", l.worksheet, reviewColumn, rowNumber)
	currentCells, err := l.readColumn(ctx, fmt.Sprintf("%s%d", reviewColumn, rowNumber))
	if err != nil {
		return err
	}
	current := records.ReviewPending
	if len(currentCells) > 0 {
		if parsed, parseErr := records.ParseReviewState(currentCells[0]); parseErr == nil {
			current = parsed
		}
	}

	if current == state {
		return nil
	}
	if current.IsTerminal() {
		return apperrors.InvalidTransition(fingerprint, current.String(), state.String())
	}

	body := &sheets.ValueRange{Values: [][]interface{}{{fmt.Sprintf("%d", int(state))}}}
	_, err = l.service.Spreadsheets.Values.
		Update(l.spreadsheetID, reviewCell, body).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return apperrors.LedgerWriteFailed("sheets", err).
			WithContext("range", reviewCell)
	}
	return nil
}

// ListPending returns the records still awaiting review, in sheet order.
func (l *Ledger) ListPending(ctx context.Context) ([]*records.CanonicalRecord, error) {
	resp, err := l.service.Spreadsheets.Values.
		Get(l.spreadsheetID, fmt.Sprintf("%s!%s", l.worksheet, fullRange)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryLedger, apperrors.CodeLedgerReadFailed,
			"cannot read ledger worksheet").
			WithContext("spreadsheet_id", l.spreadsheetID)
	}

	var pending []*records.CanonicalRecord
	for i, raw := range resp.Values {
		row := stringCells(raw, len(records.Header))
		if i == 0 && row[0] == records.Header[0] {
			continue
		}
		if row[5] == "" {
			continue
		}
		state, parseErr := records.ParseReviewState(row[6])
		if parseErr != nil || state != records.ReviewPending {
			continue
		}

		rec := &records.CanonicalRecord{
			TransactionDate: row[0],
			Description:     row[2],
			CardName:        row[4],
			Fingerprint:     row[5],
			ReviewState:     records.ReviewPending,
		}
		if amount, amountErr := records.ParseAmount(row[1]); amountErr == nil {
			rec.Amount = &amount
		}
		if row[3] != "" {
			category := row[3]
			rec.Category = &category
		}
		pending = append(pending, rec)
	}
	return pending, nil
}

// readColumn fetches a single-column range as flat strings. Empty rows
// come back as empty strings so positions stay aligned with sheet rows.
func (l *Ledger) readColumn(ctx context.Context, columnRange string) ([]string, error) {
	resp, err := l.service.Spreadsheets.Values.
		Get(l.spreadsheetID, fmt.Sprintf("%s!%s", l.worksheet, columnRange)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryLedger, apperrors.CodeLedgerReadFailed,
			fmt.Sprintf("cannot read range %s", columnRange)).
			WithContext("spreadsheet_id", l.spreadsheetID).
			WithContext("range", columnRange)
	}

	cells := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			cells[i] = strings.TrimSpace(fmt.Sprint(row[0]))
		}
	}
	return cells, nil
}

func stringCells(raw []interface{}, width int) []string {
	row := make([]string, width)
	for i := 0; i < width && i < len(raw); i++ {
		row[i] = strings.TrimSpace(fmt.Sprint(raw[i]))
	}
	return row
}
