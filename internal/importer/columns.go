package importer

import "strings"

// Core column names recognized case-insensitively in the CSV header.
const (
	ColName            = "name"
	ColEndonym         = "endonym"
	ColISO6393Code     = "iso_639_3_code"
	ColLanguageFamily  = "language_family"
	ColCountryOfOrigin = "country_of_origin"
	ColSpeakerCount    = "speaker_count"
)

// CoreColumns lists the recognized core columns in template order.
var CoreColumns = []string{
	ColName,
	ColEndonym,
	ColISO6393Code,
	ColLanguageFamily,
	ColCountryOfOrigin,
	ColSpeakerCount,
}

// ColumnClass is the routing decision for one CSV header.
type ColumnClass int

const (
	// ClassCore routes into a typed CandidateRecord field.
	ClassCore ColumnClass = iota
	// ClassTaxonomy routes into CandidateRecord.Taxonomies.
	ClassTaxonomy
	// ClassCustom routes into CandidateRecord.CustomFields.
	ClassCustom
)

// ClassifyColumn decides where a CSV header routes. Taxonomy columns are
// discovered dynamically by matching against the active city's taxonomy-type
// slugs, not a fixed schema. Matching is case-insensitive on the cleaned
// header name.
func ClassifyColumn(header string, taxonomySlugs []string) ColumnClass {
	h := strings.ToLower(CleanCell(header))

	for _, c := range CoreColumns {
		if h == c {
			return ClassCore
		}
	}
	for _, slug := range taxonomySlugs {
		if h == strings.ToLower(slug) {
			return ClassTaxonomy
		}
	}
	return ClassCustom
}

// HeaderIndex maps cleaned lowercase column names to their position.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a raw header row.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		idx[strings.ToLower(CleanCell(h))] = i
	}
	return idx
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, Excel formula prefixes (="..."), and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
