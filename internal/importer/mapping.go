package importer

// mapping.go models the human-in-the-loop taxonomy mapping step.
//
// Each taxonomy-like CSV column moves through an explicit state machine:
//
//	Unmapped -> TypeSelected -> ValuesMapped
//
// Selecting a different type for a column clears every value mapping made
// under the old type; stale mappings under a new type are invalid by
// construction. Columns left Unmapped are excluded entirely from the final
// mapping list — "no mapping" is a first-class outcome.
//
// A MappingSession is transient: it lives in memory for one import session
// and is never persisted independently of the records it helps create.

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// MappingState names a column's position in the mapping state machine.
type MappingState int

const (
	StateUnmapped MappingState = iota
	StateTypeSelected
	StateValuesMapped
)

func (s MappingState) String() string {
	switch s {
	case StateTypeSelected:
		return "type_selected"
	case StateValuesMapped:
		return "values_mapped"
	default:
		return "unmapped"
	}
}

// Mapping session errors.
var (
	ErrUnknownColumn  = errors.New("column is not a taxonomy column in this session")
	ErrUnknownType    = errors.New("taxonomy type not available for this city")
	ErrNoTypeSelected = errors.New("select a taxonomy type before mapping values")
	ErrValueNotOfType = errors.New("taxonomy value does not belong to the selected type")
)

// columnMapping is the per-column tagged state. typeID is only meaningful
// from StateTypeSelected on; values only from StateValuesMapped on.
type columnMapping struct {
	state  MappingState
	typeID uuid.UUID
	values map[string]uuid.UUID
}

// MappingSession tracks mapping state for every taxonomy-like column of one
// parsed file against one city's taxonomy reference data. Not safe for
// concurrent use; a session belongs to a single import flow.
type MappingSession struct {
	columns map[string]*columnMapping
	order   []string
	uniques map[string][]string
	types   map[uuid.UUID]TaxonomyType
}

// NewMappingSession builds a session for the given parse result and the
// city's taxonomy types. Unique values per column are computed once, up
// front, so the mapping UI renders from a stable snapshot.
func NewMappingSession(result *ParseResult, types []TaxonomyType) *MappingSession {
	s := &MappingSession{
		columns: make(map[string]*columnMapping, len(result.TaxonomyColumns)),
		order:   append([]string(nil), result.TaxonomyColumns...),
		uniques: make(map[string][]string, len(result.TaxonomyColumns)),
		types:   make(map[uuid.UUID]TaxonomyType, len(types)),
	}
	for _, t := range types {
		s.types[t.ID] = t
	}
	for _, col := range s.order {
		s.columns[col] = &columnMapping{state: StateUnmapped}
		s.uniques[col] = uniqueColumnValues(result.Rows, col)
	}
	return s
}

// Columns returns the taxonomy-like columns in file order.
func (s *MappingSession) Columns() []string {
	return append([]string(nil), s.order...)
}

// State returns a column's current mapping state.
func (s *MappingSession) State(column string) MappingState {
	if c, ok := s.columns[column]; ok {
		return c.state
	}
	return StateUnmapped
}

// UniqueValues returns the sorted distinct non-empty trimmed values seen in
// a column. Deterministic by construction.
func (s *MappingSession) UniqueValues(column string) []string {
	return append([]string(nil), s.uniques[column]...)
}

// SelectType moves a column to TypeSelected. Re-selecting — even the same
// type — clears all prior value mappings for the column.
func (s *MappingSession) SelectType(column string, typeID uuid.UUID) error {
	c, ok := s.columns[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if _, ok := s.types[typeID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, typeID)
	}

	c.state = StateTypeSelected
	c.typeID = typeID
	c.values = nil
	return nil
}

// ClearColumn returns a column to Unmapped, discarding its type and values.
func (s *MappingSession) ClearColumn(column string) error {
	c, ok := s.columns[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	*c = columnMapping{state: StateUnmapped}
	return nil
}

// MapValue associates one raw CSV value with a taxonomy value of the
// column's selected type and moves the column to ValuesMapped.
func (s *MappingSession) MapValue(column, rawValue string, valueID uuid.UUID) error {
	c, ok := s.columns[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if c.state == StateUnmapped {
		return fmt.Errorf("%w: column %q", ErrNoTypeSelected, column)
	}

	t := s.types[c.typeID]
	if !typeHasValue(t, valueID) {
		return fmt.Errorf("%w: %s not in type %q", ErrValueNotOfType, valueID, t.Slug)
	}

	if c.values == nil {
		c.values = make(map[string]uuid.UUID)
	}
	c.values[strings.TrimSpace(rawValue)] = valueID
	c.state = StateValuesMapped
	return nil
}

// AutoMap pre-fills value mappings for a column by matching the column's
// unique raw values against the selected type's value slugs and names.
// Returns the raw values that could not be matched; those stay unmapped for
// the user to resolve or skip.
func (s *MappingSession) AutoMap(column string) ([]string, error) {
	c, ok := s.columns[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if c.state == StateUnmapped {
		return nil, fmt.Errorf("%w: column %q", ErrNoTypeSelected, column)
	}

	t := s.types[c.typeID]
	var unmatched []string
	for _, raw := range s.uniques[column] {
		v, ok := t.ValueBySlugOrName(raw)
		if !ok {
			unmatched = append(unmatched, raw)
			continue
		}
		if c.values == nil {
			c.values = make(map[string]uuid.UUID)
		}
		c.values[raw] = v.ID
		c.state = StateValuesMapped
	}
	return unmatched, nil
}

// UnmappedValues returns the raw values of a column that have no value
// mapping yet. Drives the interactive "unmapped value" detection step.
func (s *MappingSession) UnmappedValues(column string) []string {
	c, ok := s.columns[column]
	if !ok {
		return nil
	}
	var out []string
	for _, raw := range s.uniques[column] {
		if _, mapped := c.values[raw]; !mapped {
			out = append(out, raw)
		}
	}
	return out
}

// Resolved produces the final mappings handed to the batch importer, in
// column file order. Unmapped columns are absent; their values import as
// free text only.
func (s *MappingSession) Resolved() []TaxonomyMapping {
	var out []TaxonomyMapping
	for _, col := range s.order {
		c := s.columns[col]
		if c.state == StateUnmapped {
			continue
		}
		m := TaxonomyMapping{
			Column: col,
			TypeID: c.typeID,
			Values: make(map[string]uuid.UUID, len(c.values)),
		}
		for raw, id := range c.values {
			m.Values[raw] = id
		}
		out = append(out, m)
	}
	return out
}

// uniqueColumnValues collects the sorted distinct non-empty trimmed values
// of one taxonomy column across all rows.
func uniqueColumnValues(rows []CandidateRecord, column string) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		v := strings.TrimSpace(r.Taxonomies[column])
		if v == "" {
			continue
		}
		seen[v] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func typeHasValue(t TaxonomyType, valueID uuid.UUID) bool {
	for _, v := range t.Values {
		if v.ID == valueID {
			return true
		}
	}
	return false
}
