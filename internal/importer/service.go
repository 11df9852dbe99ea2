package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Limits carries the per-upload resource caps the service enforces.
type Limits struct {
	MaxFileSize   int64
	MaxRows       int
	MaxConcurrent int
	MaxWait       time.Duration
}

// Service wires the pipeline stages together behind one API: preview,
// import, template generation and taxonomy lookup. One Service serves all
// cities; city scoping happens per call via the slug.
type Service struct {
	store   Store
	limiter *ImportLimiter
	limits  Limits
}

// NewService creates a Service over the given store.
func NewService(store Store, limits Limits) *Service {
	return &Service{
		store:   store,
		limiter: NewImportLimiter(limits.MaxConcurrent, limits.MaxWait),
		limits:  limits,
	}
}

// TaxonomyTypes returns the mapping reference data for a city.
func (s *Service) TaxonomyTypes(ctx context.Context, citySlug string) ([]TaxonomyType, error) {
	types, err := s.store.TaxonomyTypesForCity(ctx, citySlug)
	if err != nil {
		return nil, fmt.Errorf("taxonomy types for %q: %w", citySlug, err)
	}
	return types, nil
}

// Preview parses and validates an uploaded file against a city's taxonomy
// reference data without writing anything. The returned ParseResult drives
// the preview table and the mapping UI.
func (s *Service) Preview(ctx context.Context, citySlug string, file []byte) (*ParseResult, error) {
	types, err := s.TaxonomyTypes(ctx, citySlug)
	if err != nil {
		return nil, err
	}

	result, err := Parse(file, s.parseOptions(types))
	if err != nil {
		return nil, err
	}

	slog.Default().Debug("preview parsed",
		"city", citySlug,
		"total_rows", result.TotalRows,
		"valid_rows", result.ValidRows,
		"taxonomy_columns", len(result.TaxonomyColumns),
	)
	return result, nil
}

// Import runs the full pipeline: parse, validate, and batch-import the rows
// free of error-severity issues using the caller's resolved taxonomy
// mappings. Returns the summary together with the parse result so callers
// can show which rows were excluded before any write was attempted.
func (s *Service) Import(ctx context.Context, file []byte, opts ImportOptions) (*ImportSummary, *ParseResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer s.limiter.Release()

	types, err := s.TaxonomyTypes(ctx, opts.CitySlug)
	if err != nil {
		return nil, nil, err
	}

	result, err := Parse(file, s.parseOptions(types))
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	summary, err := NewImporter(s.store).Run(ctx, result.ImportableRows(), types, opts)
	if err != nil {
		return summary, result, err
	}

	slog.Default().Info("import finished",
		"city", opts.CitySlug,
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"duration", time.Since(start),
	)
	return summary, result, nil
}

// Template builds the downloadable CSV skeleton for a city. With no
// explicit slugs the city's full taxonomy set becomes the extra columns.
func (s *Service) Template(ctx context.Context, citySlug string, slugs []string, withExample bool) ([]byte, string, error) {
	if len(slugs) == 0 {
		types, err := s.TaxonomyTypes(ctx, citySlug)
		if err != nil {
			return nil, "", err
		}
		for _, t := range types {
			slugs = append(slugs, t.Slug)
		}
	}

	return GenerateTemplate(slugs, withExample), TemplateFilename(citySlug), nil
}

// LimiterActive reports how many imports are running, for shutdown draining.
func (s *Service) LimiterActive() int {
	return s.limiter.ActiveCount()
}

// WaitForImports blocks until running imports drain or ctx expires.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) parseOptions(types []TaxonomyType) ParseOptions {
	slugs := make([]string, len(types))
	for i, t := range types {
		slugs[i] = t.Slug
	}
	return ParseOptions{
		MaxFileSize:     s.limits.MaxFileSize,
		MaxRows:         s.limits.MaxRows,
		RequiredColumns: []string{ColName},
		TaxonomySlugs:   slugs,
	}
}
