package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// GenerateTemplate emits a CSV skeleton for users to fill in: a header row
// of the core columns plus one column per taxonomy slug, and optionally one
// example data row. The output round-trips through Parse without a
// missing-required-column error.
func GenerateTemplate(taxonomySlugs []string, withExample bool) []byte {
	header := append(append([]string(nil), CoreColumns...), taxonomySlugs...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)

	if withExample {
		example := []string{
			"Spanish",       // name
			"Español",       // endonym
			"spa",           // iso_639_3_code
			"Indo-European", // language_family
			"Spain",         // country_of_origin
			"500000",        // speaker_count
		}
		for range taxonomySlugs {
			example = append(example, "")
		}
		_ = w.Write(example)
	}

	w.Flush()
	return buf.Bytes()
}

// TemplateFilename is the download filename for a city's import template.
func TemplateFilename(citySlug string) string {
	return fmt.Sprintf("language-import-template-%s.csv", citySlug)
}

// FailedRowsCSV renders the failed entries of a summary as CSV so users can
// fix and re-upload just those rows.
func FailedRowsCSV(summary *ImportSummary) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"row_number", "name", "error"})

	for _, r := range summary.Results {
		if r.Success {
			continue
		}
		_ = w.Write([]string{fmt.Sprintf("%d", r.RowNumber), r.LanguageName, r.Error})
	}

	w.Flush()
	return buf.Bytes()
}
