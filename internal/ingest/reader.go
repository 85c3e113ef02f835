package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"ledger-ingest-service/internal/mappings"
	"ledger-ingest-service/internal/records"
	apperrors "ledger-ingest-service/pkg/errors"
)

// extractedRow is one parsed data row with its per-field extraction
// warnings. Warnings here cover structural problems (a mapped column
// index past the row's end); type coercion happens later in the
// normalizer.
type extractedRow struct {
	fields   records.RawFields
	warnings []*apperrors.IngestError
}

// extractRows runs the parse pass: skip the mapping's leading lines,
// CSV-parse the remainder and pull the mapped columns out of every row.
// A file that cannot be tokenized at all is fatal to the batch.
func extractRows(data []byte, mapping *mappings.InstitutionMapping) ([]extractedRow, error) {
	buffered := bufio.NewReader(bytes.NewReader(data))
	for i := 0; i < mapping.SkipLines(); i++ {
		if _, err := buffered.ReadString('\n'); err == io.EOF {
			return nil, nil
		} else if err != nil {
			return nil, apperrors.UnreadableInput(mapping.DisplayName, err)
		}
	}

	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = -1

	var rows []extractedRow
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.UnreadableInput(mapping.DisplayName, err)
		}
		// A whitespace-only line is blank to the fingerprint pass; drop
		// it here too so the two passes stay index-aligned.
		if isBlankRow(row) {
			continue
		}
		rows = append(rows, extractFields(row, mapping))
	}
	return rows, nil
}

func isBlankRow(row []string) bool {
	return len(row) == 1 && strings.TrimSpace(row[0]) == ""
}

// extractFields pulls the mapped columns out of one tokenized row. A
// mapped index beyond the row's end degrades to an empty value with a
// warning; the row is retained.
func extractFields(row []string, mapping *mappings.InstitutionMapping) extractedRow {
	extracted := extractedRow{}

	cell := func(field string, index int) string {
		if index < len(row) {
			return row[index]
		}
		extracted.warnings = append(extracted.warnings,
			apperrors.New(apperrors.CategoryValidation, apperrors.CodeMissingField,
				fmt.Sprintf("row has %d columns, field '%s' mapped to column %d", len(row), field, index)).
				WithContext("field", field).
				WithContext("column", index))
		return ""
	}

	extracted.fields.Date = cell("date", mapping.DateCol)
	extracted.fields.Amount = cell("amount", mapping.AmountCol)
	extracted.fields.Description = cell("description", mapping.DescriptionCol)
	if mapping.HasCategory() {
		category := cell("category", *mapping.CategoryCol)
		extracted.fields.Category = &category
	}
	return extracted
}
