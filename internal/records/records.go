// Package records defines the canonical transaction record and the
// normalizer that produces it from raw export fields.
//
// Normalization is deliberately lossy-tolerant: a field that cannot be
// coerced degrades to null (amount) or falls back to the raw text
// (date) instead of dropping the row. Transaction history is never
// silently discarded; bad values surface as warnings for manual repair.
package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "ledger-ingest-service/pkg/errors"
)

// ReviewState tracks human confirmation of a ledger entry.
type ReviewState int

const (
	// ReviewPending marks a freshly ingested, unconfirmed record.
	ReviewPending ReviewState = 0
	// ReviewCompleted marks a record confirmed by the review workflow.
	ReviewCompleted ReviewState = 1
	// ReviewIgnored marks a record dismissed by the review workflow.
	ReviewIgnored ReviewState = -1
)

// String returns the human-readable name of the state.
func (s ReviewState) String() string {
	switch s {
	case ReviewPending:
		return "pending"
	case ReviewCompleted:
		return "completed"
	case ReviewIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsValid checks if the review state is one of the three known values.
func (s ReviewState) IsValid() bool {
	return s == ReviewPending || s == ReviewCompleted || s == ReviewIgnored
}

// IsTerminal reports whether the state admits no further transitions.
func (s ReviewState) IsTerminal() bool {
	return s == ReviewCompleted || s == ReviewIgnored
}

// ParseReviewState parses a review state from its name or numeric form.
func ParseReviewState(s string) (ReviewState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "0":
		return ReviewPending, nil
	case "completed", "complete", "1":
		return ReviewCompleted, nil
	case "ignored", "ignore", "-1":
		return ReviewIgnored, nil
	default:
		return ReviewPending, fmt.Errorf("invalid review state '%s': must be pending, completed or ignored", s)
	}
}

// Header is the fixed ledger column order, independent of any source
// file's column layout.
var Header = []string{
	"Transaction Date",
	"Amount",
	"Description",
	"Category",
	"Card Name",
	"Hash",
	"Completion",
}

// CanonicalRecord is the normalized unit appended to the ledger.
//
// TransactionDate holds either the canonical rendering or, when the raw
// value did not parse, the original text. Amount is nil when coercion
// failed. Category is nil when the institution mapping declares no
// category column.
type CanonicalRecord struct {
	TransactionDate string           `json:"transactionDate"`
	Amount          *decimal.Decimal `json:"amount"`
	Description     string           `json:"description"`
	Category        *string          `json:"category"`
	CardName        string           `json:"cardName"`
	Fingerprint     string           `json:"fingerprint"`
	ReviewState     ReviewState      `json:"reviewState"`
}

// Row renders the record in the fixed Header order for a CSV or sheet
// backend. Nil amount and category become empty cells.
func (r *CanonicalRecord) Row() []string {
	amount := ""
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	category := ""
	if r.Category != nil {
		category = *r.Category
	}
	return []string{
		r.TransactionDate,
		amount,
		r.Description,
		category,
		r.CardName,
		r.Fingerprint,
		strconv.Itoa(int(r.ReviewState)),
	}
}

// String returns a short representation for logs.
func (r *CanonicalRecord) String() string {
	amount := "null"
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	return fmt.Sprintf("CanonicalRecord{Date: %s, Amount: %s, Description: %s, Card: %s}",
		r.TransactionDate, amount, r.Description, r.CardName)
}

// DuplicateEntry is a duplicate-report row: the normalized content of a
// skipped record with the fingerprint and review-state columns excluded.
type DuplicateEntry struct {
	TransactionDate string           `json:"transactionDate"`
	Amount          *decimal.Decimal `json:"amount"`
	Description     string           `json:"description"`
	Category        *string          `json:"category"`
	CardName        string           `json:"cardName"`
}

// DuplicateEntryOf trims a record down to its duplicate-report form.
func DuplicateEntryOf(r *CanonicalRecord) *DuplicateEntry {
	return &DuplicateEntry{
		TransactionDate: r.TransactionDate,
		Amount:          r.Amount,
		Description:     r.Description,
		Category:        r.Category,
		CardName:        r.CardName,
	}
}

// CanonicalDateLayout is the fixed textual form dates are re-rendered to
// after a successful parse.
const CanonicalDateLayout = "Monday, January 02, 2006"

// dateLayouts are tried in order by the permissive date parser. Formats
// cover the exports seen across supported institutions.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"02-01-2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	CanonicalDateLayout,
}

// ParseDate attempts a permissive parse of free-text date input.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// ParseAmount coerces an export's amount cell to a decimal. Currency
// symbols and thousand separators are stripped first.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// RawFields holds the values extracted from one parsed row per the
// mapping's column plan, before type coercion.
type RawFields struct {
	Date        string
	Amount      string
	Description string
	// Category is nil when the mapping declares no category column.
	Category *string
}

// Normalizer converts raw extracted fields into CanonicalRecords for a
// single institution.
type Normalizer struct {
	cardName string
}

// NewNormalizer creates a normalizer stamping records with the given
// institution display name.
func NewNormalizer(cardName string) *Normalizer {
	return &Normalizer{cardName: cardName}
}

// Normalize produces a CanonicalRecord from raw fields. Fingerprint and
// ReviewState are left for the pipeline to fill (ReviewState defaults to
// pending). Coercion failures degrade the field and are returned as
// warnings; they never fail the row.
func (n *Normalizer) Normalize(raw RawFields) (*CanonicalRecord, []*apperrors.IngestError) {
	var warnings []*apperrors.IngestError

	record := &CanonicalRecord{
		Description: strings.TrimSpace(raw.Description),
		CardName:    n.cardName,
		ReviewState: ReviewPending,
	}

	if amount, err := ParseAmount(raw.Amount); err != nil {
		warnings = append(warnings, apperrors.FieldCoercion("amount", raw.Amount, err))
	} else {
		record.Amount = &amount
	}

	// Unparsable dates keep the raw text so history is never lost.
	if parsed, err := ParseDate(raw.Date); err != nil {
		record.TransactionDate = raw.Date
		warnings = append(warnings, apperrors.FieldCoercion("date", raw.Date, err))
	} else {
		record.TransactionDate = parsed.Format(CanonicalDateLayout)
	}

	if raw.Category != nil {
		category := strings.TrimSpace(*raw.Category)
		record.Category = &category
	}

	return record, warnings
}
