package artist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/lineup/internal/database"
)

// ErrNotFound is returned by GetByID when no artist has the given id.
var ErrNotFound = errors.New("artist not found")

// artistColumns is the ordered list of columns for SELECT queries.
const artistColumns = `id, external_id, title, subtitle, country_label, country_code,
	url, image_url, content_hash, is_stub, source_reference,
	enrichment_provider, enrichment_id, popularity, enrichment_url, enrichment_image, enriched_at,
	first_run_id, last_run_id, first_seen_at, last_updated_at`

// Service provides artist data operations.
type Service struct {
	db database.Querier
}

// NewService creates an artist service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// WithTx returns a copy of the service bound to tx.
func (s *Service) WithTx(tx *sql.Tx) *Service {
	return &Service{db: tx}
}

// Create inserts a new artist. FirstSeenAt and LastUpdatedAt default to now.
func (s *Service) Create(ctx context.Context, a *Artist) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.FirstSeenAt.IsZero() {
		a.FirstSeenAt = now
	}
	if a.LastUpdatedAt.IsZero() {
		a.LastUpdatedAt = now
	}
	if a.LastRunID == "" {
		a.LastRunID = a.FirstRunID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artists (
			id, external_id, title, subtitle, country_label, country_code,
			url, image_url, content_hash, is_stub, source_reference,
			first_run_id, last_run_id, first_seen_at, last_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.ExternalID, a.Title, a.Subtitle, a.CountryLabel, a.CountryCode,
		a.URL, a.ImageURL, a.ContentHash, boolToInt(a.IsStub), a.SourceReference,
		a.FirstRunID, a.LastRunID,
		a.FirstSeenAt.Format(time.RFC3339), a.LastUpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating artist %s: %w", a.ExternalID, err)
	}
	return nil
}

// CreateStub inserts a placeholder artist for a lineup mention whose external
// id is unknown. The content hash stays empty so the first listing ingestion
// for the id is always classified as an update.
func (s *Service) CreateStub(ctx context.Context, externalID, name, profileRef, runID string) (*Artist, error) {
	a := &Artist{
		ExternalID:      externalID,
		Title:           name,
		URL:             profileRef,
		IsStub:          true,
		SourceReference: profileRef,
		FirstRunID:      runID,
	}
	if err := s.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an artist by primary key.
func (s *Service) GetByID(ctx context.Context, id string) (*Artist, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artistColumns+` FROM artists WHERE id = ?`, id)
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting artist by id: %w", err)
	}
	return a, nil
}

// GetByExternalID retrieves an artist by its listing id. Returns nil, nil
// when absent.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*Artist, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artistColumns+` FROM artists WHERE external_id = ?`, externalID)
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting artist by external id: %w", err)
	}
	return a, nil
}

// UpdateCanonical overwrites the listing-sourced fields, the hash and the
// stub flag, and tags the row with the run that changed it. Enrichment
// fields are left alone.
func (s *Service) UpdateCanonical(ctx context.Context, a *Artist) error {
	a.LastUpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE artists SET
			title = ?, subtitle = ?, country_label = ?, country_code = ?,
			url = ?, image_url = ?, content_hash = ?, is_stub = ?,
			last_run_id = ?, last_updated_at = ?
		WHERE id = ?
	`,
		a.Title, a.Subtitle, a.CountryLabel, a.CountryCode,
		a.URL, a.ImageURL, a.ContentHash, boolToInt(a.IsStub),
		a.LastRunID, a.LastUpdatedAt.Format(time.RFC3339),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating artist %s: %w", a.ExternalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, a.ID)
	}
	return nil
}

// UpdateEnrichment records enrichment data. It does not touch the content
// hash or last_updated_at.
func (s *Service) UpdateEnrichment(ctx context.Context, id string, e Enrichment) error {
	now := time.Now().UTC()
	if e.EnrichedAt == nil {
		e.EnrichedAt = &now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE artists SET
			enrichment_provider = ?, enrichment_id = ?, popularity = ?,
			enrichment_url = ?, enrichment_image = ?, enriched_at = ?
		WHERE id = ?
	`, e.Provider, e.ProviderID, e.Popularity, e.URL, e.Image, formatNullableTime(e.EnrichedAt), id)
	if err != nil {
		return fmt.Errorf("updating enrichment for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns a paginated list of artists and the total count.
func (s *Service) List(ctx context.Context, params ListParams) ([]Artist, int, error) {
	params.Validate()

	where, args := buildWhereClause(params)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artists"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting artists: %w", err)
	}

	orderCol := params.Sort
	if params.Order == "desc" {
		orderCol += " DESC"
	} else {
		orderCol += " ASC"
	}

	offset := (params.Page - 1) * params.PageSize
	query := `SELECT ` + artistColumns + ` FROM artists` + where + //nolint:gosec // G202: orderCol is from validated params, not user input
		` ORDER BY ` + orderCol + `, id ASC LIMIT ? OFFSET ?`
	args = append(args, params.PageSize, offset)

	artists, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return artists, total, nil
}

// ListAll returns every artist ordered by title. Used by the text matcher,
// which compares each artist against each event.
func (s *Service) ListAll(ctx context.Context) ([]Artist, error) {
	return s.query(ctx, `SELECT `+artistColumns+` FROM artists ORDER BY title ASC, id ASC`)
}

// CountStubs returns how many artists are still placeholders.
func (s *Service) CountStubs(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artists WHERE is_stub = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting stub artists: %w", err)
	}
	return n, nil
}

func (s *Service) query(ctx context.Context, query string, args ...any) ([]Artist, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing artists: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var artists []Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artist row: %w", err)
		}
		artists = append(artists, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artist rows: %w", err)
	}
	return artists, nil
}

// scanArtist scans a database row into an Artist struct.
func scanArtist(row interface{ Scan(...any) error }) (*Artist, error) {
	var a Artist
	var isStub int
	var enrichedAt sql.NullString
	var firstSeen, lastUpdated string

	err := row.Scan(
		&a.ID, &a.ExternalID, &a.Title, &a.Subtitle, &a.CountryLabel, &a.CountryCode,
		&a.URL, &a.ImageURL, &a.ContentHash, &isStub, &a.SourceReference,
		&a.Enrichment.Provider, &a.Enrichment.ProviderID, &a.Enrichment.Popularity,
		&a.Enrichment.URL, &a.Enrichment.Image, &enrichedAt,
		&a.FirstRunID, &a.LastRunID, &firstSeen, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	a.IsStub = isStub == 1
	a.FirstSeenAt = parseTime(firstSeen)
	a.LastUpdatedAt = parseTime(lastUpdated)
	if enrichedAt.Valid {
		t := parseTime(enrichedAt.String)
		a.Enrichment.EnrichedAt = &t
	}
	return &a, nil
}

// buildWhereClause constructs WHERE conditions from list parameters.
func buildWhereClause(params ListParams) (string, []any) {
	var conditions []string
	var args []any

	if params.Search != "" {
		conditions = append(conditions, "title LIKE ?")
		args = append(args, "%"+params.Search+"%")
	}

	switch params.Filter {
	case "stub":
		conditions = append(conditions, "is_stub = 1")
	case "canonical":
		conditions = append(conditions, "is_stub = 0")
	case "enriched":
		conditions = append(conditions, "enriched_at IS NOT NULL")
	case "unenriched":
		conditions = append(conditions, "enriched_at IS NULL")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string, handling both RFC3339 and SQLite datetime formats.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
