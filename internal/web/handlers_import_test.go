package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/urbanlingua/langmap/internal/config"
	"github.com/urbanlingua/langmap/internal/importer"
)

// fakeStore backs the handlers with in-memory data.
type fakeStore struct {
	cityID  uuid.UUID
	cities  map[string]bool
	types   []importer.TaxonomyType
	rowErrs map[string]error
	writes  []importer.RowWrite
}

func newFakeStore(cities ...string) *fakeStore {
	f := &fakeStore{
		cityID:  uuid.New(),
		cities:  make(map[string]bool),
		rowErrs: make(map[string]error),
	}
	for _, c := range cities {
		f.cities[c] = true
	}
	return f
}

func (f *fakeStore) CityID(ctx context.Context, citySlug string) (uuid.UUID, error) {
	if !f.cities[citySlug] {
		return uuid.Nil, importer.ErrCityNotFound
	}
	return f.cityID, nil
}

func (f *fakeStore) TaxonomyTypesForCity(ctx context.Context, citySlug string) ([]importer.TaxonomyType, error) {
	if !f.cities[citySlug] {
		return nil, importer.ErrCityNotFound
	}
	return f.types, nil
}

func (f *fakeStore) ImportRow(ctx context.Context, w importer.RowWrite) (uuid.UUID, error) {
	if err, ok := f.rowErrs[w.Name]; ok {
		return uuid.Nil, err
	}
	f.writes = append(f.writes, w)
	return uuid.New(), nil
}

func (f *fakeStore) FindLanguage(ctx context.Context, cityID uuid.UUID, iso, name string) (uuid.UUID, bool, error) {
	return uuid.Nil, false, nil
}

func (f *fakeStore) UpdateLanguage(ctx context.Context, languageID uuid.UUID, w importer.RowWrite) error {
	return nil
}

func testServer(store importer.Store) *Server {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 30 * time.Second
	cfg.Import.MaxFileSize = 1 << 20
	cfg.Import.MaxRows = 100
	cfg.Rate.Enabled = false

	service := importer.NewService(store, importer.Limits{
		MaxFileSize:   cfg.Import.MaxFileSize,
		MaxRows:       cfg.Import.MaxRows,
		MaxConcurrent: 2,
		MaxWait:       time.Second,
	})
	return NewServer(service, cfg)
}

// multipartBody builds a multipart form with a "file" part and an optional
// "options" JSON part.
func multipartBody(t *testing.T, csvData, options string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "languages.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(csvData)); err != nil {
		t.Fatal(err)
	}
	if options != "" {
		if err := mw.WriteField("options", options); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleHealthz(t *testing.T) {
	srv := testServer(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleTaxonomies(t *testing.T) {
	store := newFakeStore("san-francisco")
	store.types = []importer.TaxonomyType{
		{ID: uuid.New(), Slug: "size", Name: "Community Size"},
	}
	srv := testServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/cities/san-francisco/taxonomies", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var types []importer.TaxonomyType
	if err := json.Unmarshal(rec.Body.Bytes(), &types); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(types) != 1 || types[0].Slug != "size" {
		t.Errorf("types = %+v, want the size type", types)
	}
}

func TestHandleTaxonomies_UnknownCity(t *testing.T) {
	srv := testServer(newFakeStore("san-francisco"))

	req := httptest.NewRequest(http.MethodGet, "/api/cities/atlantis/taxonomies", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Code != "IMP001" {
		t.Errorf("error code = %q, want IMP001", body.Code)
	}
}

func TestHandleTemplate(t *testing.T) {
	store := newFakeStore("san-francisco")
	store.types = []importer.TaxonomyType{
		{ID: uuid.New(), Slug: "size"},
		{ID: uuid.New(), Slug: "status"},
	}
	srv := testServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/cities/san-francisco/import/template", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "language-import-template-san-francisco.csv") {
		t.Errorf("Content-Disposition = %q, want the city template filename", cd)
	}

	header := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")[0]
	for _, col := range []string{"name", "size", "status"} {
		if !strings.Contains(header, col) {
			t.Errorf("template header %q missing column %q", header, col)
		}
	}
}

func TestHandleTemplate_ExplicitSlugs(t *testing.T) {
	srv := testServer(newFakeStore("san-francisco"))

	req := httptest.NewRequest(http.MethodGet, "/api/cities/san-francisco/import/template?slugs=size&example=1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + example row", len(lines))
	}
	if !strings.Contains(lines[1], "Spanish") {
		t.Errorf("example row = %q, want the Spanish sample", lines[1])
	}
}

func TestHandlePreview(t *testing.T) {
	srv := testServer(newFakeStore("san-francisco"))

	body, contentType := multipartBody(t, "name,endonym\nSpanish,Español\n,NoName\n", "")
	req := httptest.NewRequest(http.MethodPost, "/api/cities/san-francisco/import/preview", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result importer.ParseResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.TotalRows != 2 || result.ValidRows != 1 {
		t.Errorf("preview = %d total / %d valid, want 2/1", result.TotalRows, result.ValidRows)
	}
}

func TestHandleImport(t *testing.T) {
	store := newFakeStore("san-francisco")
	store.rowErrs["Polish"] = importer.ErrDuplicate
	srv := testServer(store)

	body, contentType := multipartBody(t, "name\nSpanish\nPolish\nYoruba\n", `{"locale":"en"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/cities/san-francisco/import", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Summary importer.ImportSummary `json:"summary"`
		Parse   importer.ParseResult   `json:"parse"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if resp.Summary.Total != 3 || resp.Summary.Successful != 2 || resp.Summary.Failed != 1 {
		t.Errorf("summary = %d/%d/%d, want 3/2/1",
			resp.Summary.Total, resp.Summary.Successful, resp.Summary.Failed)
	}
	if len(store.writes) != 2 {
		t.Errorf("store received %d writes, want 2", len(store.writes))
	}
}

func TestHandleImport_BadOptionsJSON(t *testing.T) {
	srv := testServer(newFakeStore("san-francisco"))

	body, contentType := multipartBody(t, "name\nSpanish\n", "{not json")
	req := httptest.NewRequest(http.MethodPost, "/api/cities/san-francisco/import", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleImport_MissingFile(t *testing.T) {
	srv := testServer(newFakeStore("san-francisco"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("options", "{}")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/cities/san-francisco/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatalf("status = 200 without a file part, want an error status")
	}
}

func TestHandlePreview_FileTooLarge(t *testing.T) {
	store := newFakeStore("san-francisco")
	srv := testServer(store)
	// Shrink the cap after construction so the oversized body is cheap to build.
	srv.cfg.Import.MaxFileSize = 64

	big := "name\n" + strings.Repeat("Very Long Language Name Row\n", 10)
	body, contentType := multipartBody(t, big, "")
	req := httptest.NewRequest(http.MethodPost, "/api/cities/san-francisco/import/preview", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413: %s", rec.Code, rec.Body.String())
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Code != "FILE001" {
		t.Errorf("error code = %q, want FILE001", resp.Code)
	}
}

func TestHandleFailedRows(t *testing.T) {
	srv := testServer(newFakeStore("san-francisco"))

	summary := importer.ImportSummary{
		Total: 2, Successful: 1, Failed: 1,
		Results: []importer.ImportResult{
			{RowNumber: 2, Success: true, LanguageName: "Spanish"},
			{RowNumber: 3, Success: false, LanguageName: "Polish", Error: "duplicate"},
		},
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/cities/san-francisco/import/failed-rows", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "3,Polish,duplicate") {
		t.Errorf("body = %q, want the failed Polish row", body)
	}
	if strings.Contains(body, "Spanish") {
		t.Error("successful row leaked into the failed-rows export")
	}
}

func TestHandleFailedRows_BadJSON(t *testing.T) {
	srv := testServer(newFakeStore("san-francisco"))

	req := httptest.NewRequest(http.MethodPost, "/api/cities/san-francisco/import/failed-rows", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := testServer(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	if !rl.allow("1.2.3.4") {
		t.Error("first request should be allowed")
	}
	if !rl.allow("1.2.3.4") {
		t.Error("second request should be allowed")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third request should be rejected")
	}
	// Different IPs track separate buckets.
	if !rl.allow("5.6.7.8") {
		t.Error("other IP should be allowed")
	}
}
