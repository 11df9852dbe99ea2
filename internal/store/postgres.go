// Package store implements the importer.Store contract on PostgreSQL.
//
// The schema is row-level-security guarded: every transaction sets the
// app.current_city session variable so the policy engine scopes reads and
// writes to the active city. Constraint violations are mapped onto the
// importer's typed errors so the pipeline never sees driver details.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/urbanlingua/langmap/internal/importer"
)

// SQLSTATE codes mapped onto typed errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Postgres implements importer.Store over a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New creates a Postgres store.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// CityID resolves a city slug to its ID.
func (p *Postgres) CityID(ctx context.Context, citySlug string) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.pool.QueryRow(ctx,
		`SELECT id FROM cities WHERE slug = $1`, citySlug,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: %q", importer.ErrCityNotFound, citySlug)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup city %q: %w", citySlug, err)
	}
	return id, nil
}

// TaxonomyTypesForCity returns a city's taxonomy types with their values,
// both in display order.
func (p *Postgres) TaxonomyTypesForCity(ctx context.Context, citySlug string) ([]importer.TaxonomyType, error) {
	cityID, err := p.CityID(ctx, citySlug)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, slug, name, allow_multiple, is_required
		FROM taxonomy_types
		WHERE city_id = $1
		ORDER BY position, slug`, cityID)
	if err != nil {
		return nil, fmt.Errorf("query taxonomy types: %w", err)
	}
	defer rows.Close()

	var types []importer.TaxonomyType
	for rows.Next() {
		var t importer.TaxonomyType
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.AllowMultiple, &t.IsRequired); err != nil {
			return nil, fmt.Errorf("scan taxonomy type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read taxonomy types: %w", err)
	}

	for i := range types {
		values, err := p.taxonomyValues(ctx, types[i].ID)
		if err != nil {
			return nil, err
		}
		types[i].Values = values
	}

	return types, nil
}

func (p *Postgres) taxonomyValues(ctx context.Context, typeID uuid.UUID) ([]importer.TaxonomyValue, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, slug, name
		FROM taxonomy_values
		WHERE taxonomy_type_id = $1
		ORDER BY position, slug`, typeID)
	if err != nil {
		return nil, fmt.Errorf("query taxonomy values: %w", err)
	}
	defer rows.Close()

	var values []importer.TaxonomyValue
	for rows.Next() {
		var v importer.TaxonomyValue
		if err := rows.Scan(&v.ID, &v.Slug, &v.Name); err != nil {
			return nil, fmt.Errorf("scan taxonomy value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// ImportRow persists one row's record, translations and taxonomy links in a
// single transaction. One row = one atomic write; a failure rolls back only
// this row.
func (p *Postgres) ImportRow(ctx context.Context, w importer.RowWrite) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.inCityTx(ctx, w.CityID, func(tx pgx.Tx) error {
		var err error
		id, err = insertLanguage(ctx, tx, w)
		if err != nil {
			return err
		}
		if err := writeTranslations(ctx, tx, id, w.Translations); err != nil {
			return err
		}
		return writeTaxonomyLinks(ctx, tx, id, w.TaxonomyValues)
	})
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}

// FindLanguage looks a language up by natural key: ISO code when present,
// lowercased name otherwise.
func (p *Postgres) FindLanguage(ctx context.Context, cityID uuid.UUID, iso, name string) (uuid.UUID, bool, error) {
	var (
		id  uuid.UUID
		err error
	)
	if iso != "" {
		err = p.pool.QueryRow(ctx,
			`SELECT id FROM languages WHERE city_id = $1 AND iso_639_3_code = $2`,
			cityID, iso,
		).Scan(&id)
	} else {
		err = p.pool.QueryRow(ctx,
			`SELECT id FROM languages WHERE city_id = $1 AND lower(name) = lower($2)`,
			cityID, name,
		).Scan(&id)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find language: %w", err)
	}
	return id, true, nil
}

// UpdateLanguage replaces an existing record's fields, translations and
// taxonomy links atomically.
func (p *Postgres) UpdateLanguage(ctx context.Context, languageID uuid.UUID, w importer.RowWrite) error {
	err := p.inCityTx(ctx, w.CityID, func(tx pgx.Tx) error {
		custom, err := customJSON(w.CustomFields)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE languages
			SET name = $1, endonym = $2, iso_639_3_code = $3,
			    language_family = $4, country_of_origin = $5,
			    speaker_count = $6, custom_fields = $7, updated_at = now()
			WHERE id = $8 AND city_id = $9`,
			w.Name, nullText(w.Endonym), nullText(w.ISO6393Code),
			nullText(w.LanguageFamily), nullText(w.CountryOfOrigin),
			nullInt(w.SpeakerCount), custom, languageID, w.CityID)
		if err != nil {
			return fmt.Errorf("update language: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM language_translations WHERE language_id = $1`, languageID); err != nil {
			return fmt.Errorf("clear translations: %w", err)
		}
		if err := writeTranslations(ctx, tx, languageID, w.Translations); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM language_taxonomy_values WHERE language_id = $1`, languageID); err != nil {
			return fmt.Errorf("clear taxonomy links: %w", err)
		}
		return writeTaxonomyLinks(ctx, tx, languageID, w.TaxonomyValues)
	})
	return classify(err)
}

// inCityTx runs fn inside a transaction with the RLS city binding set.
func (p *Postgres) inCityTx(ctx context.Context, cityID uuid.UUID, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT set_config('app.current_city', $1, true)`, cityID.String()); err != nil {
		return fmt.Errorf("set city binding: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertLanguage(ctx context.Context, tx pgx.Tx, w importer.RowWrite) (uuid.UUID, error) {
	custom, err := customJSON(w.CustomFields)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO languages
			(city_id, name, endonym, iso_639_3_code, language_family,
			 country_of_origin, speaker_count, custom_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		w.CityID, w.Name, nullText(w.Endonym), nullText(w.ISO6393Code),
		nullText(w.LanguageFamily), nullText(w.CountryOfOrigin),
		nullInt(w.SpeakerCount), custom,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert language: %w", err)
	}
	return id, nil
}

func writeTranslations(ctx context.Context, tx pgx.Tx, languageID uuid.UUID, translations []importer.Translation) error {
	for _, tr := range translations {
		if _, err := tx.Exec(ctx, `
			INSERT INTO language_translations (language_id, locale, name)
			VALUES ($1, $2, $3)`,
			languageID, tr.Locale, tr.Name); err != nil {
			return fmt.Errorf("insert translation %s: %w", tr.Locale, err)
		}
	}
	return nil
}

func writeTaxonomyLinks(ctx context.Context, tx pgx.Tx, languageID uuid.UUID, valueIDs []uuid.UUID) error {
	for _, valueID := range valueIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO language_taxonomy_values (language_id, taxonomy_value_id)
			VALUES ($1, $2)`,
			languageID, valueID); err != nil {
			return fmt.Errorf("link taxonomy value %s: %w", valueID, err)
		}
	}
	return nil
}

// classify maps SQLSTATE constraint violations onto the importer's typed
// errors; everything else passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", importer.ErrDuplicate, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", importer.ErrForeignKey, pgErr.ConstraintName)
		}
	}
	return err
}

func customJSON(fields map[string]string) ([]byte, error) {
	if len(fields) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal custom fields: %w", err)
	}
	return b, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullInt(n *int64) pgtype.Int8 {
	if n == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *n, Valid: true}
}
