// Package mapping parses and validates redirect from/to host tables
// uploaded as CSV or JSON.
package mapping

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/go-playground/validator/v10"
)

// MaxPairs bounds a single upload.
const MaxPairs = 100000

// Pair maps requests for From to To.
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Document is the JSON upload shape, also accepted inline.
type Document struct {
	FromTo []Pair `json:"fromTo"`
}

// LineError points at the offending entry. Line is 1-based; for JSON it is
// the index of the entry plus one.
type LineError struct {
	Line int
	Msg  string
}

func (e *LineError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// LineOf returns the line carried by err, or 0.
func LineOf(err error) int {
	var le *LineError
	if errors.As(err, &le) {
		return le.Line
	}
	return 0
}

var validate = validator.New()

func invalid(line int, format string, args ...any) error {
	return apperror.Wrap(apperror.KindValidation, "mapping.parse", &LineError{Line: line, Msg: fmt.Sprintf(format, args...)})
}

// Parse reads a CSV or JSON table. JSON is chosen by a .json name or when
// the first non-space byte is '{'. The result is validated.
func Parse(r io.Reader, name string) ([]Pair, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping source: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if strings.EqualFold(filepath.Ext(name), ".json") || (len(trimmed) > 0 && trimmed[0] == '{') {
		return ParseJSON(trimmed)
	}
	return ParseCSV(bytes.NewReader(raw))
}

// ParseJSON decodes a Document and validates its pairs.
func ParseJSON(raw []byte) ([]Pair, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, invalid(0, "malformed JSON document: %v", err)
	}
	return doc.Pairs()
}

// Pairs normalizes and validates the document entries.
func (d Document) Pairs() ([]Pair, error) {
	pairs := make([]Pair, len(d.FromTo))
	for i, p := range d.FromTo {
		pairs[i] = normalize(p)
	}
	if err := Validate(pairs, nil); err != nil {
		return nil, err
	}
	return pairs, nil
}

// ParseCSV reads "from,to" rows. A leading "from,to" header, blank lines
// and lines starting with '#' are skipped.
func ParseCSV(r io.Reader) ([]Pair, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var pairs []Pair
	var lines []int
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, invalid(pe.Line, "malformed CSV: %v", pe.Err)
			}
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}
		if len(record) != 2 {
			return nil, invalid(line, "expected 2 columns (from,to), got %d", len(record))
		}
		if len(pairs) >= MaxPairs {
			return nil, invalid(line, "more than %d mappings", MaxPairs)
		}
		pairs = append(pairs, normalize(Pair{From: record[0], To: record[1]}))
		lines = append(lines, line)
	}

	if err := Validate(pairs, lines); err != nil {
		return nil, err
	}
	return pairs, nil
}

// Validate checks every host, rejects duplicate sources and empty tables.
// lines, when given, maps each pair to its source line.
func Validate(pairs []Pair, lines []int) error {
	if len(pairs) == 0 {
		return invalid(0, "mapping is empty")
	}
	if len(pairs) > MaxPairs {
		return invalid(0, "more than %d mappings", MaxPairs)
	}
	lineOf := func(i int) int {
		if i < len(lines) {
			return lines[i]
		}
		return i + 1
	}

	seen := make(map[string]int, len(pairs))
	for i, p := range pairs {
		if err := validate.Var(p.From, "required,hostname_rfc1123"); err != nil {
			return invalid(lineOf(i), "invalid source host %q", p.From)
		}
		if err := validate.Var(p.To, "required,hostname_rfc1123"); err != nil {
			return invalid(lineOf(i), "invalid target host %q", p.To)
		}
		if first, dup := seen[p.From]; dup {
			return invalid(lineOf(i), "duplicate source host %q (first seen on line %d)", p.From, lineOf(first))
		}
		seen[p.From] = i
	}
	return nil
}

func normalize(p Pair) Pair {
	return Pair{
		From: strings.ToLower(strings.TrimSpace(p.From)),
		To:   strings.ToLower(strings.TrimSpace(p.To)),
	}
}

func isHeader(record []string) bool {
	return len(record) == 2 &&
		strings.EqualFold(strings.TrimSpace(record[0]), "from") &&
		strings.EqualFold(strings.TrimSpace(record[1]), "to")
}
