package importer

// importer.go performs the best-effort batch write.
//
// Every row is its own atomic unit of work: the store persists one row's
// record, translations and taxonomy links inside a single transaction, and a
// failure on row N is recorded and processing moves on to row N+1. No
// transaction ever spans the whole batch. Rows are processed strictly in
// ascending row-number order so results match the preview the user saw.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrAbortOnErrorUnsupported is returned when a caller asks for
// skipErrors=false. Abort-on-first-error semantics are deliberately not
// implemented; rejecting the option beats guessing at rollback behavior.
var ErrAbortOnErrorUnsupported = errors.New("skipErrors=false is not supported; row failures are always skipped and reported")

// DefaultLocale is used for the name translation when the caller does not
// supply one.
const DefaultLocale = "en"

// Importer writes validated candidate records through a Store.
type Importer struct {
	store Store
}

// NewImporter creates an Importer backed by the given store.
func NewImporter(store Store) *Importer {
	return &Importer{store: store}
}

// Run imports the given rows and returns a per-row summary.
//
// Row-level failures (duplicates, missing references, store rejections)
// never abort the batch; they become ImportResult{Success: false} entries.
// A non-nil error is returned only for batch-fatal conditions: the target
// city no longer exists, an unsupported option, or cancellation. On
// cancellation the summary built so far is returned alongside ctx.Err().
//
// Callers must pass only rows free of error-severity validation issues;
// ParseResult.ImportableRows does that filtering.
func (im *Importer) Run(ctx context.Context, rows []CandidateRecord, types []TaxonomyType, opts ImportOptions) (*ImportSummary, error) {
	if !opts.SkipErrors {
		return nil, ErrAbortOnErrorUnsupported
	}

	cityID, err := im.store.CityID(ctx, opts.CitySlug)
	if err != nil {
		return nil, fmt.Errorf("resolve city %q: %w", opts.CitySlug, err)
	}

	locale := opts.Locale
	if locale == "" {
		locale = DefaultLocale
	}

	ordered := append([]CandidateRecord(nil), rows...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].RowNumber < ordered[j].RowNumber
	})

	typesByID := make(map[uuid.UUID]TaxonomyType, len(types))
	for _, t := range types {
		typesByID[t.ID] = t
	}

	summary := &ImportSummary{Results: make([]ImportResult, 0, len(ordered))}

	for _, rec := range ordered {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		res := im.importOne(ctx, rec, cityID, locale, typesByID, opts)
		summary.Results = append(summary.Results, res)
		summary.Total++
		if res.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	return summary, nil
}

// importOne handles a single row. All failure paths produce a result, never
// an error; the row boundary is the recovery boundary.
func (im *Importer) importOne(ctx context.Context, rec CandidateRecord, cityID uuid.UUID, locale string, types map[uuid.UUID]TaxonomyType, opts ImportOptions) ImportResult {
	res := ImportResult{RowNumber: rec.RowNumber, LanguageName: rec.Name}

	write, err := buildRowWrite(rec, cityID, locale, opts.Mappings, types)
	if err != nil {
		res.Error = FriendlyError(err)
		return res
	}

	if opts.UpdateExisting {
		existingID, found, err := im.store.FindLanguage(ctx, cityID, write.ISO6393Code, write.Name)
		if err != nil {
			res.Error = FriendlyError(err)
			return res
		}
		if found {
			if err := im.store.UpdateLanguage(ctx, existingID, write); err != nil {
				res.Error = FriendlyError(err)
				return res
			}
			res.Success = true
			res.LanguageID = existingID
			return res
		}
	}

	id, err := im.store.ImportRow(ctx, write)
	if err != nil {
		res.Error = FriendlyError(err)
		return res
	}

	res.Success = true
	res.LanguageID = id
	return res
}

// buildRowWrite resolves a record's taxonomy cells through the session
// mappings and assembles the store payload.
//
// A raw value absent from a mapping's value table is silently skipped —
// partial taxonomy coverage is acceptable. Two mapped columns resolving to
// the same single-value taxonomy type is a row error, enforced here at
// write-assembly time.
func buildRowWrite(rec CandidateRecord, cityID uuid.UUID, locale string, mappings []TaxonomyMapping, types map[uuid.UUID]TaxonomyType) (RowWrite, error) {
	w := RowWrite{
		CityID:          cityID,
		Name:            rec.Name,
		Endonym:         rec.Endonym,
		ISO6393Code:     rec.ISO6393Code,
		LanguageFamily:  rec.LanguageFamily,
		CountryOfOrigin: rec.CountryOfOrigin,
		Translations:    []Translation{{Locale: locale, Name: rec.Name}},
		CustomFields:    rec.CustomFields,
	}

	if n, ok := rec.SpeakerCountValue(); ok {
		w.SpeakerCount = &n
	}

	perType := make(map[uuid.UUID]int)
	for _, m := range mappings {
		raw := strings.TrimSpace(rec.Taxonomies[m.Column])
		if raw == "" {
			continue
		}
		valueID, ok := m.Values[raw]
		if !ok {
			continue // unmapped for this row, by design
		}

		perType[m.TypeID]++
		t, known := types[m.TypeID]
		if known && !t.AllowMultiple && perType[m.TypeID] > 1 {
			return RowWrite{}, fmt.Errorf("taxonomy %q allows a single value but columns map more than one", t.Slug)
		}
		w.TaxonomyValues = append(w.TaxonomyValues, valueID)
	}

	return w, nil
}
