// Package fingerprint computes stable identities for raw input lines.
//
// Fingerprints derive from the raw, unparsed bytes of a line, never from
// normalized field values. Two rows whose normalized forms coincide are
// still distinct identities when their raw bytes differ, and identical
// raw lines in any upload, past or future, always yield the same
// fingerprint. This keeps ledger identities stable even if the
// normalization rules change later.
package fingerprint

import (
	"bufio"
	"crypto/md5"
	"io"
	"math/big"
	"strings"

	apperrors "ledger-ingest-service/pkg/errors"
)

// maxLineSize bounds a single raw line. Matches the reader's field size
// limit so both passes fail on the same input.
const maxLineSize = 1 << 20

// Compute returns the fingerprint of one raw line: the MD5 digest of its
// UTF-8 bytes rendered as a decimal string. The decimal rendering keeps
// new fingerprints comparable with those already persisted in existing
// ledgers.
func Compute(line string) string {
	sum := md5.Sum([]byte(line))
	return new(big.Int).SetBytes(sum[:]).String()
}

// Line is one fingerprinted raw data line.
type Line struct {
	// Index is the position within the post-skip, non-blank data lines.
	Index int
	// Text is the raw, unparsed line content.
	Text string
	// Fingerprint is the stable identity of Text.
	Fingerprint string
}

// Scanner lazily walks the raw bytes of an upload, skipping the
// configured leading lines and all blank lines, and fingerprints each
// remaining data line. It is the second, independent pass over the
// input; it never looks at parsed tabular data.
type Scanner struct {
	scanner *bufio.Scanner
	skip    int
	index   int
	line    int
}

// NewScanner creates a scanner over the raw upload bytes. skipLines is
// the count of leading physical lines to ignore, as resolved by the
// institution mapping.
func NewScanner(r io.Reader, skipLines int) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Scanner{
		scanner: sc,
		skip:    skipLines,
	}
}

// Next returns the next fingerprinted data line, or io.EOF when the
// input is exhausted.
func (s *Scanner) Next() (*Line, error) {
	for s.scanner.Scan() {
		text := s.scanner.Text()
		s.line++

		if s.line <= s.skip {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		line := &Line{
			Index:       s.index,
			Text:        text,
			Fingerprint: Compute(text),
		}
		s.index++
		return line, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryParse, apperrors.CodeUnreadableInput,
			"failed to scan raw input lines")
	}
	return nil, io.EOF
}

// ScanAll collects every fingerprinted data line from the input.
func ScanAll(r io.Reader, skipLines int) ([]*Line, error) {
	scanner := NewScanner(r, skipLines)

	var lines []*Line
	for {
		line, err := scanner.Next()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
}
