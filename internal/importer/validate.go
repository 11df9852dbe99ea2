package importer

// validate.go provides per-record validation on top of parsing.
//
// Every rule appends issues instead of returning early, so one pass over a
// row reports the complete list of problems. Error-severity issues exclude
// the row from import; warnings are informational only.

import (
	"fmt"
	"strconv"
	"strings"
)

// isoCodeLength is the exact length of an ISO 639-3 code.
const isoCodeLength = 3

// ValidateRecord checks one candidate record against all field rules and
// returns the issues found. It never fails; an unvalidatable value is itself
// an issue.
func ValidateRecord(rec *CandidateRecord) []ValidationIssue {
	var issues []ValidationIssue

	addError := func(field, msg string) {
		issues = append(issues, ValidationIssue{
			RowNumber: rec.RowNumber,
			Field:     field,
			Message:   msg,
			Severity:  SeverityError,
		})
	}
	addWarning := func(field, msg string) {
		issues = append(issues, ValidationIssue{
			RowNumber: rec.RowNumber,
			Field:     field,
			Message:   msg,
			Severity:  SeverityWarning,
		})
	}

	// Required: display name.
	if strings.TrimSpace(rec.Name) == "" {
		addError(ColName, "name is required")
	}

	// Format: ISO 639-3 code. Uppercase input is silently lowercased before
	// the check, so only wrong-length or non-alphabetic values error.
	if rec.ISO6393Code != "" {
		code := strings.ToLower(rec.ISO6393Code)
		rec.ISO6393Code = code
		if !validISOCode(code) {
			addError(ColISO6393Code, fmt.Sprintf("iso_639_3_code must be exactly %d letters, got %q", isoCodeLength, code))
		}
	}

	// Range: speaker count must be a non-negative integer when present.
	if rec.SpeakerCount != "" {
		n, err := strconv.ParseInt(strings.ReplaceAll(rec.SpeakerCount, ",", ""), 10, 64)
		switch {
		case err != nil:
			addError(ColSpeakerCount, fmt.Sprintf("speaker_count must be a whole number, got %q", rec.SpeakerCount))
		case n < 0:
			addError(ColSpeakerCount, "speaker_count must not be negative")
		}
	}

	// Consistency warnings: suspicious but not invalid.
	if rec.Endonym != "" && strings.EqualFold(rec.Endonym, rec.Name) {
		addWarning(ColEndonym, "endonym is identical to name")
	}
	if rec.CountryOfOrigin != "" && len(rec.CountryOfOrigin) <= 3 && rec.CountryOfOrigin == strings.ToUpper(rec.CountryOfOrigin) {
		addWarning(ColCountryOfOrigin, fmt.Sprintf("country_of_origin %q looks like a code; full country names display better", rec.CountryOfOrigin))
	}

	return issues
}

// SpeakerCountValue parses the record's speaker count. The boolean is false
// when the field is absent or does not validate.
func (r CandidateRecord) SpeakerCountValue() (int64, bool) {
	if r.SpeakerCount == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(r.SpeakerCount, ",", ""), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func validISOCode(code string) bool {
	if len(code) != isoCodeLength {
		return false
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
