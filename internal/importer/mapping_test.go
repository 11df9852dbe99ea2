package importer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func testTaxonomyTypes() []TaxonomyType {
	return []TaxonomyType{
		{
			ID:   uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			Slug: "size", Name: "Community Size", AllowMultiple: false,
			Values: []TaxonomyValue{
				{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"), Slug: "small", Name: "Small"},
				{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"), Slug: "large", Name: "Large"},
			},
		},
		{
			ID:   uuid.MustParse("22222222-2222-2222-2222-222222222222"),
			Slug: "status", Name: "Official Status", AllowMultiple: true,
			Values: []TaxonomyValue{
				{ID: uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001"), Slug: "official", Name: "Official"},
				{ID: uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002"), Slug: "minority", Name: "Minority Language"},
			},
		},
	}
}

func testParseResult() *ParseResult {
	return &ParseResult{
		Rows: []CandidateRecord{
			{RowNumber: 2, Name: "Spanish", Taxonomies: map[string]string{"size": "Large", "status": "official"}},
			{RowNumber: 3, Name: "Polish", Taxonomies: map[string]string{"size": "small", "status": ""}},
			{RowNumber: 4, Name: "Yoruba", Taxonomies: map[string]string{"size": " Large ", "status": "Minority Language"}},
		},
		TaxonomyColumns: []string{"size", "status"},
	}
}

func TestMappingSession_UniqueValues(t *testing.T) {
	s := NewMappingSession(testParseResult(), testTaxonomyTypes())

	// Distinct, trimmed, sorted; empties excluded. "Large" appears twice in
	// the file but once here.
	got := s.UniqueValues("size")
	want := []string{"Large", "small"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UniqueValues(size) = %v, want %v", got, want)
	}

	got = s.UniqueValues("status")
	want = []string{"Minority Language", "official"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UniqueValues(status) = %v, want %v", got, want)
	}
}

func TestMappingSession_StateMachine(t *testing.T) {
	types := testTaxonomyTypes()
	s := NewMappingSession(testParseResult(), types)
	sizeType := types[0]

	if s.State("size") != StateUnmapped {
		t.Fatalf("initial state = %v, want Unmapped", s.State("size"))
	}

	if err := s.SelectType("size", sizeType.ID); err != nil {
		t.Fatalf("SelectType() error = %v", err)
	}
	if s.State("size") != StateTypeSelected {
		t.Errorf("state after SelectType = %v, want TypeSelected", s.State("size"))
	}

	if err := s.MapValue("size", "Large", sizeType.Values[1].ID); err != nil {
		t.Fatalf("MapValue() error = %v", err)
	}
	if s.State("size") != StateValuesMapped {
		t.Errorf("state after MapValue = %v, want ValuesMapped", s.State("size"))
	}

	if err := s.ClearColumn("size"); err != nil {
		t.Fatalf("ClearColumn() error = %v", err)
	}
	if s.State("size") != StateUnmapped {
		t.Errorf("state after ClearColumn = %v, want Unmapped", s.State("size"))
	}
}

func TestMappingSession_ReselectClearsValues(t *testing.T) {
	types := testTaxonomyTypes()
	s := NewMappingSession(testParseResult(), types)
	sizeType, statusType := types[0], types[1]

	if err := s.SelectType("size", sizeType.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MapValue("size", "Large", sizeType.Values[1].ID); err != nil {
		t.Fatal(err)
	}

	t.Run("different type", func(t *testing.T) {
		if err := s.SelectType("size", statusType.ID); err != nil {
			t.Fatal(err)
		}
		if got := s.UnmappedValues("size"); len(got) != 2 {
			t.Errorf("UnmappedValues after type switch = %v, want both values unmapped", got)
		}
		if s.State("size") != StateTypeSelected {
			t.Errorf("state = %v, want TypeSelected", s.State("size"))
		}
	})

	t.Run("same type again", func(t *testing.T) {
		if err := s.SelectType("size", sizeType.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.MapValue("size", "Large", sizeType.Values[1].ID); err != nil {
			t.Fatal(err)
		}
		if err := s.SelectType("size", sizeType.ID); err != nil {
			t.Fatal(err)
		}
		if got := s.UnmappedValues("size"); len(got) != 2 {
			t.Errorf("UnmappedValues after re-select = %v, want all values cleared", got)
		}
	})
}

func TestMappingSession_Errors(t *testing.T) {
	types := testTaxonomyTypes()
	s := NewMappingSession(testParseResult(), types)
	sizeType, statusType := types[0], types[1]

	t.Run("unknown column", func(t *testing.T) {
		if err := s.SelectType("neighborhood", sizeType.ID); !errors.Is(err, ErrUnknownColumn) {
			t.Errorf("error = %v, want ErrUnknownColumn", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if err := s.SelectType("size", uuid.New()); !errors.Is(err, ErrUnknownType) {
			t.Errorf("error = %v, want ErrUnknownType", err)
		}
	})

	t.Run("map before select", func(t *testing.T) {
		if err := s.MapValue("status", "official", statusType.Values[0].ID); !errors.Is(err, ErrNoTypeSelected) {
			t.Errorf("error = %v, want ErrNoTypeSelected", err)
		}
	})

	t.Run("value of wrong type", func(t *testing.T) {
		if err := s.SelectType("size", sizeType.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.MapValue("size", "Large", statusType.Values[0].ID); !errors.Is(err, ErrValueNotOfType) {
			t.Errorf("error = %v, want ErrValueNotOfType", err)
		}
	})
}

func TestMappingSession_AutoMap(t *testing.T) {
	types := testTaxonomyTypes()
	s := NewMappingSession(testParseResult(), types)
	statusType := types[1]

	if err := s.SelectType("status", statusType.ID); err != nil {
		t.Fatal(err)
	}

	// "official" matches by slug, "Minority Language" by display name.
	unmatched, err := s.AutoMap("status")
	if err != nil {
		t.Fatalf("AutoMap() error = %v", err)
	}
	if len(unmatched) != 0 {
		t.Errorf("unmatched = %v, want none", unmatched)
	}
	if got := s.UnmappedValues("status"); len(got) != 0 {
		t.Errorf("UnmappedValues = %v, want none after AutoMap", got)
	}
	if s.State("status") != StateValuesMapped {
		t.Errorf("state = %v, want ValuesMapped", s.State("status"))
	}
}

func TestMappingSession_AutoMapUnmatched(t *testing.T) {
	types := testTaxonomyTypes()
	result := &ParseResult{
		Rows: []CandidateRecord{
			{RowNumber: 2, Name: "X", Taxonomies: map[string]string{"size": "enormous"}},
			{RowNumber: 3, Name: "Y", Taxonomies: map[string]string{"size": "small"}},
		},
		TaxonomyColumns: []string{"size"},
	}
	s := NewMappingSession(result, types)

	if err := s.SelectType("size", types[0].ID); err != nil {
		t.Fatal(err)
	}
	unmatched, err := s.AutoMap("size")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(unmatched, []string{"enormous"}) {
		t.Errorf("unmatched = %v, want [enormous]", unmatched)
	}
	if got := s.UnmappedValues("size"); !reflect.DeepEqual(got, []string{"enormous"}) {
		t.Errorf("UnmappedValues = %v, want [enormous]", got)
	}
}

func TestMappingSession_Resolved(t *testing.T) {
	types := testTaxonomyTypes()
	s := NewMappingSession(testParseResult(), types)
	statusType := types[1]

	// Map only status; size stays Unmapped and must be absent.
	if err := s.SelectType("status", statusType.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MapValue("status", "official", statusType.Values[0].ID); err != nil {
		t.Fatal(err)
	}

	resolved := s.Resolved()
	if len(resolved) != 1 {
		t.Fatalf("len(Resolved()) = %d, want 1", len(resolved))
	}
	m := resolved[0]
	if m.Column != "status" || m.TypeID != statusType.ID {
		t.Errorf("mapping = %+v, want status column mapped to status type", m)
	}
	if m.Values["official"] != statusType.Values[0].ID {
		t.Errorf("Values[official] = %v, want %v", m.Values["official"], statusType.Values[0].ID)
	}
}

func TestMappingSession_ResolvedFileOrder(t *testing.T) {
	types := testTaxonomyTypes()
	s := NewMappingSession(testParseResult(), types)

	// Map status before size; output still follows file column order.
	if err := s.SelectType("status", types[1].ID); err != nil {
		t.Fatal(err)
	}
	if err := s.SelectType("size", types[0].ID); err != nil {
		t.Fatal(err)
	}

	resolved := s.Resolved()
	if len(resolved) != 2 {
		t.Fatalf("len(Resolved()) = %d, want 2", len(resolved))
	}
	if resolved[0].Column != "size" || resolved[1].Column != "status" {
		t.Errorf("resolved order = [%s %s], want [size status]", resolved[0].Column, resolved[1].Column)
	}
}

func TestTaxonomyType_ValueBySlugOrName(t *testing.T) {
	typ := testTaxonomyTypes()[1]

	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"official", "official", true},
		{"OFFICIAL", "official", true},
		{"Minority Language", "minority", true},
		{"  minority  ", "minority", true},
		{"unknown", "", false},
	}
	for _, tt := range tests {
		v, ok := typ.ValueBySlugOrName(tt.raw)
		if ok != tt.wantOK || (ok && v.Slug != tt.want) {
			t.Errorf("ValueBySlugOrName(%q) = (%q, %v), want (%q, %v)", tt.raw, v.Slug, ok, tt.want, tt.wantOK)
		}
	}
}
