package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// DefaultMaxFileSize is the maximum allowed CSV file size (5MB).
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

// DefaultMaxRows is the maximum number of data rows parsed from one file.
const DefaultMaxRows = 10000

// File-level parse failures. These reject the whole operation; no partial
// ParseResult is produced.
var (
	ErrFileTooLarge   = errors.New("file too large")
	ErrEmptyFile      = errors.New("empty file")
	ErrMissingColumns = errors.New("missing required columns")
)

// ParseOptions bounds one parse invocation.
type ParseOptions struct {
	// MaxFileSize rejects oversized input before decoding. Zero means
	// DefaultMaxFileSize.
	MaxFileSize int64

	// MaxRows truncates the file after this many data rows. Zero means
	// DefaultMaxRows.
	MaxRows int

	// RequiredColumns must all be present (case-insensitive) in the header
	// or parsing fails wholesale.
	RequiredColumns []string

	// TaxonomySlugs drives dynamic taxonomy-column detection.
	TaxonomySlugs []string
}

func (o ParseOptions) maxFileSize() int64 {
	if o.MaxFileSize > 0 {
		return o.MaxFileSize
	}
	return DefaultMaxFileSize
}

func (o ParseOptions) maxRows() int {
	if o.MaxRows > 0 {
		return o.MaxRows
	}
	return DefaultMaxRows
}

// Parse converts raw CSV bytes into candidate records plus diagnostics.
//
// One syntactically bad line never aborts the file: it is recorded as an
// error-severity issue for that row number and parsing continues. Only
// file-level conditions (oversized input, missing required header) return a
// non-nil error with no result.
//
// Row numbers are header-relative: the header is row 1, the first data row
// is row 2, and numbering is stable regardless of which earlier rows were
// invalid.
func Parse(file []byte, opts ParseOptions) (*ParseResult, error) {
	if int64(len(file)) > opts.maxFileSize() {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(file), opts.maxFileSize())
	}
	if len(bytes.TrimSpace(file)) == 0 {
		return nil, ErrEmptyFile
	}

	file = sanitizeUTF8(file)

	r := csv.NewReader(bytes.NewReader(file))
	r.FieldsPerRecord = -1

	// Header: first non-empty record. A header line that does not parse at
	// all makes downstream field mapping meaningless.
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = CleanCell(h)
	}

	if missing := missingColumns(headers, opts.RequiredColumns); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	result := &ParseResult{Headers: headers}

	// Classify each header once; routing is positional from here on.
	classes := make([]ColumnClass, len(headers))
	for i, h := range headers {
		classes[i] = ClassifyColumn(h, opts.TaxonomySlugs)
		switch classes[i] {
		case ClassTaxonomy:
			result.TaxonomyColumns = append(result.TaxonomyColumns, h)
		case ClassCustom:
			result.CustomColumns = append(result.CustomColumns, h)
		}
	}

	dataOrdinal := 0 // counts data records in file order, bad ones included
	for {
		if dataOrdinal >= opts.maxRows() {
			// Peek one more record to report truncation.
			if _, err := r.Read(); err != io.EOF {
				result.Truncated = true
				result.Issues = append(result.Issues, ValidationIssue{
					Message:  fmt.Sprintf("file truncated at %d rows; remaining rows were not imported", opts.maxRows()),
					Severity: SeverityWarning,
				})
			}
			break
		}

		row, err := r.Read()
		if err == io.EOF {
			break
		}
		dataOrdinal++
		rowNumber := dataOrdinal + 1 // header is row 1

		if err != nil {
			result.Issues = append(result.Issues, ValidationIssue{
				RowNumber: rowNumber,
				Message:   parseErrorMessage(err),
				Severity:  SeverityError,
			})
			continue
		}

		// Rows of empty cells keep their ordinal (numbering stays aligned
		// with file position) but produce no record.
		if isEmptyRow(row) {
			continue
		}

		rec := buildRecord(rowNumber, row, headers, classes)
		result.Issues = append(result.Issues, ValidateRecord(&rec)...)
		result.Rows = append(result.Rows, rec)
	}

	result.TotalRows = len(result.Rows)
	for _, rec := range result.Rows {
		if !result.RowHasError(rec.RowNumber) {
			result.ValidRows++
		}
	}

	return result, nil
}

// readHeader returns the first non-empty record.
func readHeader(r *csv.Reader) ([]string, error) {
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil, ErrEmptyFile
		}
		if err != nil {
			return nil, fmt.Errorf("unreadable header: %s", parseErrorMessage(err))
		}
		if !isEmptyRow(rec) {
			return rec, nil
		}
	}
}

// buildRecord projects one raw row into a CandidateRecord using the
// pre-classified header routing.
func buildRecord(rowNumber int, row []string, headers []string, classes []ColumnClass) CandidateRecord {
	rec := CandidateRecord{RowNumber: rowNumber}

	for i, h := range headers {
		if i >= len(row) {
			break
		}
		val := CleanCell(row[i])
		if val == "" {
			continue
		}

		switch classes[i] {
		case ClassCore:
			switch strings.ToLower(h) {
			case ColName:
				rec.Name = val
			case ColEndonym:
				rec.Endonym = val
			case ColISO6393Code:
				rec.ISO6393Code = val
			case ColLanguageFamily:
				rec.LanguageFamily = val
			case ColCountryOfOrigin:
				rec.CountryOfOrigin = val
			case ColSpeakerCount:
				rec.SpeakerCount = val
			}
		case ClassTaxonomy:
			if rec.Taxonomies == nil {
				rec.Taxonomies = make(map[string]string)
			}
			rec.Taxonomies[h] = val
		case ClassCustom:
			if rec.CustomFields == nil {
				rec.CustomFields = make(map[string]string)
			}
			rec.CustomFields[h] = val
		}
	}

	return rec
}

// missingColumns returns required columns absent from the header,
// case-insensitively.
func missingColumns(headers, required []string) []string {
	idx := MakeHeaderIndex(headers)
	var missing []string
	for _, col := range required {
		if _, ok := idx[strings.ToLower(col)]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// parseErrorMessage strips the reader's positional prefix down to the bare
// syntax problem; the issue already carries the row number.
func parseErrorMessage(err error) string {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Sprintf("malformed CSV: %v", pe.Err)
	}
	return fmt.Sprintf("malformed CSV: %v", err)
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement
// character so the CSV reader never chokes on mixed encodings.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
