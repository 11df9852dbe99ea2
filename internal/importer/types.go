// Package importer provides the business logic for the language CSV import
// pipeline. This package has no UI dependencies and can be used by any frontend.
package importer

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Severity classifies a ValidationIssue. Errors block import of the row;
// warnings are informational only and never block.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue describes one problem found while parsing or validating a
// row. RowNumber 0 marks a file-level issue (truncation, missing header).
type ValidationIssue struct {
	RowNumber int      `json:"rowNumber"`
	Field     string   `json:"field,omitempty"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// CandidateRecord is the typed projection of one CSV data line into the
// import domain. It carries no validity judgement of its own; the validator
// annotates issues separately.
type CandidateRecord struct {
	RowNumber       int               `json:"rowNumber"`
	Name            string            `json:"name"`
	Endonym         string            `json:"endonym,omitempty"`
	ISO6393Code     string            `json:"iso_639_3_code,omitempty"`
	LanguageFamily  string            `json:"language_family,omitempty"`
	CountryOfOrigin string            `json:"country_of_origin,omitempty"`
	SpeakerCount    string            `json:"speaker_count,omitempty"`
	Taxonomies      map[string]string `json:"taxonomies,omitempty"`
	CustomFields    map[string]string `json:"custom_fields,omitempty"`
}

// ParseResult is the immutable outcome of parsing one uploaded file.
// Re-uploading produces a fresh ParseResult rather than mutating state.
type ParseResult struct {
	Rows            []CandidateRecord `json:"rows"`
	Issues          []ValidationIssue `json:"issues"`
	TotalRows       int               `json:"totalRows"`
	ValidRows       int               `json:"validRows"`
	Headers         []string          `json:"headers"`
	TaxonomyColumns []string          `json:"taxonomyColumns"`
	CustomColumns   []string          `json:"customColumns"`
	Truncated       bool              `json:"truncated"`
}

// RowIssues returns all issues recorded for a row number.
func (p *ParseResult) RowIssues(rowNumber int) []ValidationIssue {
	var out []ValidationIssue
	for _, is := range p.Issues {
		if is.RowNumber == rowNumber {
			out = append(out, is)
		}
	}
	return out
}

// RowHasError reports whether a row carries at least one error-severity issue.
// Such rows must never reach the batch importer.
func (p *ParseResult) RowHasError(rowNumber int) bool {
	for _, is := range p.Issues {
		if is.RowNumber == rowNumber && is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ImportableRows returns the rows eligible for import, in file order.
func (p *ParseResult) ImportableRows() []CandidateRecord {
	out := make([]CandidateRecord, 0, len(p.Rows))
	for _, r := range p.Rows {
		if !p.RowHasError(r.RowNumber) {
			out = append(out, r)
		}
	}
	return out
}

// TaxonomyValue is one permitted value of a taxonomy type.
type TaxonomyValue struct {
	ID   uuid.UUID `json:"id"`
	Slug string    `json:"slug"`
	Name string    `json:"name"`
}

// TaxonomyType is a city-scoped controlled-vocabulary classification axis.
// Reference data: the pipeline reads these but never mutates them.
type TaxonomyType struct {
	ID            uuid.UUID       `json:"id"`
	Slug          string          `json:"slug"`
	Name          string          `json:"name"`
	AllowMultiple bool            `json:"allowMultiple"`
	IsRequired    bool            `json:"isRequired"`
	Values        []TaxonomyValue `json:"values"`
}

// ValueBySlugOrName resolves a raw string against the type's values,
// matching slug first then display name, case-insensitively.
func (t TaxonomyType) ValueBySlugOrName(raw string) (TaxonomyValue, bool) {
	for _, v := range t.Values {
		if equalFold(v.Slug, raw) {
			return v, true
		}
	}
	for _, v := range t.Values {
		if equalFold(v.Name, raw) {
			return v, true
		}
	}
	return TaxonomyValue{}, false
}

// TaxonomyMapping is a user-declared association from a CSV column to a
// taxonomy type, with per-value resolution. Lives only for one import
// session; never persisted on its own.
type TaxonomyMapping struct {
	Column string               `json:"column"`
	TypeID uuid.UUID            `json:"typeId"`
	Values map[string]uuid.UUID `json:"values"`
}

// ImportOptions controls one batch import invocation.
type ImportOptions struct {
	CitySlug       string            `json:"citySlug"`
	Locale         string            `json:"locale"`
	Mappings       []TaxonomyMapping `json:"mappings"`
	SkipErrors     bool              `json:"skipErrors"`
	UpdateExisting bool              `json:"updateExisting"`
}

// ImportResult records the outcome of one row's write.
type ImportResult struct {
	RowNumber    int       `json:"rowNumber"`
	Success      bool      `json:"success"`
	LanguageID   uuid.UUID `json:"languageId,omitempty"`
	LanguageName string    `json:"languageName,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ImportSummary aggregates the per-row results of one batch. Built once per
// invocation and never mutated afterwards; safe to serialize directly.
type ImportSummary struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Results    []ImportResult `json:"results"`
}

// Translation is one localized display name for a language record.
type Translation struct {
	Locale string
	Name   string
}

// RowWrite is everything the store persists for one row: the core record,
// its name translations, and the resolved taxonomy links. The store executes
// all of it inside a single transaction.
type RowWrite struct {
	CityID          uuid.UUID
	Name            string
	Endonym         string
	ISO6393Code     string
	LanguageFamily  string
	CountryOfOrigin string
	SpeakerCount    *int64
	Translations    []Translation
	TaxonomyValues  []uuid.UUID
	CustomFields    map[string]string
}

// Typed store errors. The pgx implementation maps SQLSTATEs onto these so
// the importer can classify row failures without knowing the driver.
var (
	ErrDuplicate    = errors.New("record already exists")
	ErrForeignKey   = errors.New("referenced record does not exist")
	ErrCityNotFound = errors.New("city not found")
)

// Store is the persistence boundary consumed by the pipeline. Implemented by
// the pgx store and by in-memory fakes in tests.
type Store interface {
	// CityID resolves a city slug. Returns ErrCityNotFound when absent.
	CityID(ctx context.Context, citySlug string) (uuid.UUID, error)

	// TaxonomyTypesForCity returns the city's taxonomy types with their
	// values, in display order.
	TaxonomyTypesForCity(ctx context.Context, citySlug string) ([]TaxonomyType, error)

	// ImportRow persists one row atomically and returns the new language ID.
	// Uniqueness and referential violations surface as ErrDuplicate and
	// ErrForeignKey respectively.
	ImportRow(ctx context.Context, w RowWrite) (uuid.UUID, error)

	// FindLanguage looks a language up by its natural key within a city:
	// the ISO 639-3 code when present, otherwise the lowercased name.
	FindLanguage(ctx context.Context, cityID uuid.UUID, iso, name string) (uuid.UUID, bool, error)

	// UpdateLanguage replaces an existing record's fields, translations and
	// taxonomy links atomically.
	UpdateLanguage(ctx context.Context, languageID uuid.UUID, w RowWrite) error
}
