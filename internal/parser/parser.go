// Package parser turns semicolon-delimited export files into typed transactions.
//
// The file must be UTF-8 and start with a header row naming the eight expected
// columns in any order. Rows are decoded lazily and in source order; the first
// structurally invalid row stops the parse.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"budget/internal/core"
)

// Column names of the export format.
const (
	ColDate        = "date"
	ColDescription = "description"
	ColAccount     = "account"
	ColAmount      = "amount"
	ColCategory    = "category"
	ColSubcategory = "subcategory"
	ColNote        = "note"
	ColReconciled  = "reconciled"
)

// Delimiter separates fields in the export format.
const Delimiter = ';'

// ExpectedColumns lists the required header names in canonical order.
var ExpectedColumns = []string{
	ColDate, ColDescription, ColAccount, ColAmount,
	ColCategory, ColSubcategory, ColNote, ColReconciled,
}

// headerAliases maps localized header spellings to canonical names.
var headerAliases = map[string]string{
	"libellé":        ColDescription,
	"libelle":        ColDescription,
	"compte":         ColAccount,
	"montant":        ColAmount,
	"catégorie":      ColCategory,
	"categorie":      ColCategory,
	"sous-catégorie": ColSubcategory,
	"sous-categorie": ColSubcategory,
	"pointée":        ColReconciled,
	"pointee":        ColReconciled,
}

var (
	ErrNotUTF8    = errors.New("file is not valid UTF-8")
	ErrEmptyFile  = errors.New("file is empty")
	ErrFieldCount = errors.New("row has fewer fields than the header")
)

// MissingColumnsError reports every required header name absent from the file.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return "missing columns: " + strings.Join(e.Missing, ", ")
}

// RowParseError identifies the offending 1-based line of the file.
type RowParseError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *RowParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: column %s: %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *RowParseError) Unwrap() error {
	return e.Err
}

// Reader yields ParsedTransactions one row at a time. It cannot be restarted.
type Reader struct {
	csv    *csv.Reader
	index  map[string]int
	width  int
	err    error
	parsed int
}

// NewReader validates the encoding and the header. Header names are matched case-insensitively.
func NewReader(data []byte) (*Reader, error) {
	if !utf8.Valid(data) {
		return nil, ErrNotUTF8
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = Delimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	// Exported descriptions carry stray quotes such as Mc"Donald.
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := headerAliases[name]; ok {
			name = canonical
		}
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	var missing []string
	width := 0
	for _, col := range ExpectedColumns {
		i, ok := index[col]
		if !ok {
			missing = append(missing, col)
			continue
		}
		if i+1 > width {
			width = i + 1
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing}
	}

	return &Reader{csv: cr, index: index, width: width}, nil
}

// Next returns the next transaction, or io.EOF after the last row.
// After any other error every later call returns the same error.
func (r *Reader) Next() (core.ParsedTransaction, error) {
	if r.err != nil {
		return core.ParsedTransaction{}, r.err
	}
	t, err := r.next()
	if err != nil {
		r.err = err
		return core.ParsedTransaction{}, err
	}
	r.parsed++
	return t, nil
}

// Count returns how many rows have been returned so far.
func (r *Reader) Count() int {
	return r.parsed
}

// All adapts the reader to a range-over-func sequence. Iteration stops at the first error, which is yielded once.
func (r *Reader) All() iter.Seq2[core.ParsedTransaction, error] {
	return func(yield func(core.ParsedTransaction, error) bool) {
		for {
			t, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

func (r *Reader) next() (core.ParsedTransaction, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return core.ParsedTransaction{}, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return core.ParsedTransaction{}, &RowParseError{Line: pe.Line, Err: pe.Err}
		}
		return core.ParsedTransaction{}, err
	}
	line, _ := r.csv.FieldPos(0)

	if len(record) < r.width {
		return core.ParsedTransaction{}, &RowParseError{Line: line, Err: ErrFieldCount}
	}
	field := func(col string) string {
		return strings.TrimSpace(record[r.index[col]])
	}

	date, err := core.ParseDate(field(ColDate))
	if err != nil {
		return core.ParsedTransaction{}, &RowParseError{Line: line, Column: ColDate, Value: field(ColDate), Err: core.ErrInvalidDate}
	}
	amount, err := core.ParseAmount(field(ColAmount))
	if err != nil {
		return core.ParsedTransaction{}, &RowParseError{Line: line, Column: ColAmount, Value: field(ColAmount), Err: err}
	}
	reconciled, err := core.ParseYesNo(field(ColReconciled))
	if err != nil {
		return core.ParsedTransaction{}, &RowParseError{Line: line, Column: ColReconciled, Value: field(ColReconciled), Err: core.ErrInvalidFlag}
	}

	var note *string
	if n := field(ColNote); n != "" {
		note = &n
	}

	return core.ParsedTransaction{
		Date:              date,
		Description:       field(ColDescription),
		Account:           field(ColAccount),
		Amount:            amount,
		SourceCategory:    field(ColCategory),
		SourceSubcategory: field(ColSubcategory),
		Note:              note,
		Reconciled:        reconciled,
	}, nil
}

// Parse reads the whole file eagerly. It fails on the first invalid row.
func Parse(data []byte) ([]core.ParsedTransaction, error) {
	r, err := NewReader(data)
	if err != nil {
		return nil, err
	}
	var out []core.ParsedTransaction
	for t, err := range r.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
