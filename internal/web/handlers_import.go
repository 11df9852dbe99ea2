package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/urbanlingua/langmap/internal/importer"
)

// handleHealthz reports liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"active_imports": s.service.LimiterActive(),
	})
}

// handleTaxonomies returns the taxonomy types and values available for
// mapping in a city.
func (s *Server) handleTaxonomies(w http.ResponseWriter, r *http.Request) {
	citySlug := chi.URLParam(r, "citySlug")

	types, err := s.service.TaxonomyTypes(r.Context(), citySlug)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, types)
}

// handleTemplate serves the CSV import skeleton as a download.
// Query params: slugs (comma-separated taxonomy slugs, default all for the
// city) and example=1 to include a sample data row.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	citySlug := chi.URLParam(r, "citySlug")

	var slugs []string
	if raw := r.URL.Query().Get("slugs"); raw != "" {
		for _, sl := range strings.Split(raw, ",") {
			if sl = strings.TrimSpace(sl); sl != "" {
				slugs = append(slugs, sl)
			}
		}
	}
	withExample := r.URL.Query().Get("example") == "1"

	data, filename, err := s.service.Template(r.Context(), citySlug, slugs, withExample)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// handlePreview parses and validates an uploaded file without writing.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	citySlug := chi.URLParam(r, "citySlug")

	file, err := s.readUploadedFile(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.Preview(r.Context(), citySlug, file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, result)
}

// importRequest is the options payload accompanying the import upload.
type importRequest struct {
	Locale         string                     `json:"locale"`
	Mappings       []importer.TaxonomyMapping `json:"mappings"`
	UpdateExisting bool                       `json:"updateExisting"`
}

// importResponse pairs the batch summary with the parse diagnostics so the
// client can show both imported and excluded rows.
type importResponse struct {
	Summary *importer.ImportSummary `json:"summary"`
	Parse   *importer.ParseResult   `json:"parse"`
}

// handleImport runs the batch import for an uploaded file.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	citySlug := chi.URLParam(r, "citySlug")

	file, err := s.readUploadedFile(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var req importRequest
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			respondErrorJSON(w, importer.UserMessage{
				Message: "The options payload is not valid JSON",
				Action:  "Check the mappings structure and retry",
				Code:    "IMP003",
			}, http.StatusBadRequest)
			return
		}
	}

	summary, parse, err := s.service.Import(r.Context(), file, importer.ImportOptions{
		CitySlug:       citySlug,
		Locale:         req.Locale,
		Mappings:       req.Mappings,
		SkipErrors:     true,
		UpdateExisting: req.UpdateExisting,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, importResponse{Summary: summary, Parse: parse})
}

// handleFailedRows converts an import summary back into a CSV of the rows
// that failed, for fix-and-reupload. Stateless: the client posts the summary
// it received from the import call.
func (s *Server) handleFailedRows(w http.ResponseWriter, r *http.Request) {
	var summary importer.ImportSummary
	if err := json.NewDecoder(r.Body).Decode(&summary); err != nil {
		respondErrorJSON(w, importer.UserMessage{
			Message: "The summary payload is not valid JSON",
			Action:  "Post the summary exactly as the import call returned it",
			Code:    "IMP003",
		}, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="failed-rows.csv"`)
	w.Write(importer.FailedRowsCSV(&summary))
}

// readUploadedFile extracts the multipart "file" field, capped at the
// configured size before any decoding happens.
func (s *Server) readUploadedFile(r *http.Request) ([]byte, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(nil, r.Body, maxSize+1024)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: request body over %d bytes", importer.ErrFileTooLarge, maxSize)
		}
		return nil, fmt.Errorf("parse upload form: %w", err)
	}

	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("no file provided: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: over %d bytes", importer.ErrFileTooLarge, maxSize)
	}
	return data, nil
}
