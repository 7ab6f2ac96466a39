package link

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source records which path produced a link.
type Source string

// Link sources.
const (
	SourceEventPage   Source = "event_page_parser"
	SourceLineup      Source = "lineup"
	SourceAutoMatcher Source = "auto_matcher"
	SourceManual      Source = "manual"
)

// Link joins an artist and an event with provenance. The (ArtistID, EventID)
// pair is unique.
type Link struct {
	ID          string    `json:"id"`
	ArtistID    string    `json:"artist_id"`
	EventID     string    `json:"event_id"`
	Confidence  float64   `json:"confidence"`
	Source      Source    `json:"source"`
	MatchDetail string    `json:"match_detail,omitempty"`
	Role        string    `json:"role,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Detailed is a link joined with artist and event titles for display.
type Detailed struct {
	Link
	ArtistTitle      string `json:"artist_title"`
	ArtistExternalID string `json:"artist_external_id"`
	EventTitle       string `json:"event_title"`
}

const linkColumns = `l.id, l.artist_id, l.event_id, l.confidence, l.source, l.match_detail, l.role, l.run_id, l.created_at,
	a.title, a.external_id, e.title`

const linkJoin = ` FROM artist_event_links l
	JOIN artists a ON a.id = l.artist_id
	JOIN events e ON e.id = l.event_id`

// Service provides link data operations.
type Service struct {
	db *sql.DB
}

// NewService creates a link service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create inserts l unless a link for the same artist and event already
// exists. It reports whether a row was written; a repeated pair is a no-op.
func (s *Service) Create(ctx context.Context, l *Link) (bool, error) {
	if l.Confidence < 0 || l.Confidence > 1 {
		return false, fmt.Errorf("confidence %v outside [0,1]", l.Confidence)
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO artist_event_links (
			id, artist_id, event_id, confidence, source, match_detail, role, run_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(artist_id, event_id) DO NOTHING
	`,
		l.ID, l.ArtistID, l.EventID, l.Confidence, string(l.Source), l.MatchDetail, l.Role, l.RunID,
		l.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("creating link %s/%s: %w", l.ArtistID, l.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking link insert: %w", err)
	}
	return n == 1, nil
}

// Exists reports whether the artist is already linked to the event.
func (s *Service) Exists(ctx context.Context, artistID, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artist_event_links WHERE artist_id = ? AND event_id = ?`,
		artistID, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking link: %w", err)
	}
	return n > 0, nil
}

// ListByEvent returns an event's links, highest confidence first.
func (s *Service) ListByEvent(ctx context.Context, eventID string) ([]Detailed, error) {
	return s.query(ctx, `SELECT `+linkColumns+linkJoin+
		` WHERE l.event_id = ? ORDER BY l.confidence DESC, a.title ASC`, eventID)
}

// ListByArtist returns an artist's links, earliest event first.
func (s *Service) ListByArtist(ctx context.Context, artistID string) ([]Detailed, error) {
	return s.query(ctx, `SELECT `+linkColumns+linkJoin+
		` WHERE l.artist_id = ? ORDER BY e.starts_at IS NULL, e.starts_at ASC, e.title ASC`, artistID)
}

// CountBySource returns link totals per source.
func (s *Service) CountBySource(ctx context.Context) (map[Source]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM artist_event_links GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("counting links: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[Source]int)
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, fmt.Errorf("scanning link count: %w", err)
		}
		counts[Source(src)] = n
	}
	return counts, rows.Err()
}

func (s *Service) query(ctx context.Context, query string, args ...any) ([]Detailed, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var links []Detailed
	for rows.Next() {
		var d Detailed
		var src, createdAt string
		if err := rows.Scan(
			&d.ID, &d.ArtistID, &d.EventID, &d.Confidence, &src, &d.MatchDetail, &d.Role, &d.RunID, &createdAt,
			&d.ArtistTitle, &d.ArtistExternalID, &d.EventTitle,
		); err != nil {
			return nil, fmt.Errorf("scanning link row: %w", err)
		}
		d.Source = Source(src)
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		links = append(links, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating link rows: %w", err)
	}
	return links, nil
}
