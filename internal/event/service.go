package event

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

// ErrNotFound is returned by GetByID when no event has the given id.
var ErrNotFound = errors.New("event not found")

const eventColumns = `id, external_id, title, subtitle, starts_at, ends_at,
	venue, category, sold_out, url, image_url, content_hash,
	lineup_parsed, lineup_parsed_at, first_run_id, last_run_id, first_seen_at, last_updated_at`

// listing order: undated events sort last
const eventOrder = ` ORDER BY starts_at IS NULL, starts_at ASC, title ASC, id ASC`

// Service provides event data operations.
type Service struct {
	db database.Querier
}

// NewService creates an event service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// WithTx returns a copy of the service bound to tx.
func (s *Service) WithTx(tx *sql.Tx) *Service {
	return &Service{db: tx}
}

// Create inserts a new event.
func (s *Service) Create(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if e.FirstSeenAt.IsZero() {
		e.FirstSeenAt = now
	}
	if e.LastUpdatedAt.IsZero() {
		e.LastUpdatedAt = now
	}
	if e.LastRunID == "" {
		e.LastRunID = e.FirstRunID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, external_id, title, subtitle, starts_at, ends_at,
			venue, category, sold_out, url, image_url, content_hash,
			lineup_parsed, lineup_parsed_at, first_run_id, last_run_id, first_seen_at, last_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.ExternalID, e.Title, e.Subtitle, formatNullableTime(e.StartsAt), formatNullableTime(e.EndsAt),
		e.Venue, e.Category, boolToInt(e.SoldOut), e.URL, e.ImageURL, e.ContentHash,
		boolToInt(e.LineupParsed), formatNullableTime(e.LineupParsedAt), e.FirstRunID, e.LastRunID,
		e.FirstSeenAt.Format(time.RFC3339), e.LastUpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating event %s: %w", e.ExternalID, err)
	}
	return nil
}

// GetByID retrieves an event by primary key.
func (s *Service) GetByID(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting event by id: %w", err)
	}
	return e, nil
}

// GetByExternalID retrieves an event by its listing id. Returns nil, nil when absent.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE external_id = ?`, externalID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event by external id: %w", err)
	}
	return e, nil
}

// UpdateCanonical overwrites the listing-sourced fields and hash.
func (s *Service) UpdateCanonical(ctx context.Context, e *Event) error {
	e.LastUpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET
			title = ?, subtitle = ?, starts_at = ?, ends_at = ?,
			venue = ?, category = ?, sold_out = ?, url = ?, image_url = ?,
			content_hash = ?, last_run_id = ?, last_updated_at = ?
		WHERE id = ?
	`,
		e.Title, e.Subtitle, formatNullableTime(e.StartsAt), formatNullableTime(e.EndsAt),
		e.Venue, e.Category, boolToInt(e.SoldOut), e.URL, e.ImageURL,
		e.ContentHash, e.LastRunID, e.LastUpdatedAt.Format(time.RFC3339),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating event %s: %w", e.ExternalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	return nil
}

// MarkLineupParsed flags the event as having had its detail page parsed.
func (s *Service) MarkLineupParsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET lineup_parsed = 1, lineup_parsed_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("marking lineup parsed for %s: %w", id, err)
	}
	return nil
}

// List returns a page of events and the total count.
func (s *Service) List(ctx context.Context, params ListParams) ([]Event, int, error) {
	params.Validate()
	where, args := buildWhereClause(params)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	args = append(args, params.PageSize, offset)
	events, err := s.query(ctx, `SELECT `+eventColumns+` FROM events`+where+eventOrder+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// BatchFilter selects events for a lineup batch.
type BatchFilter struct {
	EventID string // primary key or external id
	Venue   string // substring, case-insensitive
	Limit   int
}

// ListForLineup returns events that have a detail page URL, in listing order.
func (s *Service) ListForLineup(ctx context.Context, f BatchFilter) ([]Event, error) {
	conditions := []string{"url != ''"}
	var args []any
	if f.EventID != "" {
		conditions = append(conditions, "(id = ? OR external_id = ?)")
		args = append(args, f.EventID, f.EventID)
	}
	if f.Venue != "" {
		conditions = append(conditions, "venue LIKE ?")
		args = append(args, "%"+f.Venue+"%")
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + strings.Join(conditions, " AND ") + eventOrder
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.query(ctx, query, args...)
}

// ListAll returns every event in listing order.
func (s *Service) ListAll(ctx context.Context) ([]Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM events`+eventOrder)
}

func (s *Service) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	var startsAt, endsAt, parsedAt sql.NullString
	var soldOut, parsed int
	var firstSeen, lastUpdated string

	err := row.Scan(
		&e.ID, &e.ExternalID, &e.Title, &e.Subtitle, &startsAt, &endsAt,
		&e.Venue, &e.Category, &soldOut, &e.URL, &e.ImageURL, &e.ContentHash,
		&parsed, &parsedAt, &e.FirstRunID, &e.LastRunID, &firstSeen, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	e.SoldOut = soldOut == 1
	e.LineupParsed = parsed == 1
	e.StartsAt = parseNullableTime(startsAt)
	e.EndsAt = parseNullableTime(endsAt)
	e.LineupParsedAt = parseNullableTime(parsedAt)
	e.FirstSeenAt = parseTime(firstSeen)
	e.LastUpdatedAt = parseTime(lastUpdated)
	return &e, nil
}

func buildWhereClause(params ListParams) (string, []any) {
	var conditions []string
	var args []any
	if params.Venue != "" {
		conditions = append(conditions, "venue LIKE ?")
		args = append(args, "%"+params.Venue+"%")
	}
	if params.Search != "" {
		conditions = append(conditions, "(title LIKE ? OR subtitle LIKE ?)")
		args = append(args, "%"+params.Search+"%", "%"+params.Search+"%")
	}
	if params.Unparsed {
		conditions = append(conditions, "lineup_parsed = 0")
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

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
