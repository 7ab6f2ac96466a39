package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the run service.
var (
	ErrNotFound  = errors.New("run not found")
	ErrCompleted = errors.New("run already completed")
)

const runColumns = `id, sync_type, status, started_at, completed_at,
	pages_fetched, items_processed, items_created, items_updated, items_unchanged,
	links_added, stubs_created, high_confidence, error_count, progress_percent, error_message`

// Service persists runs and their progress logs.
type Service struct {
	db *sql.DB
}

// NewService creates a run service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Start creates a run in the running state.
func (s *Service) Start(ctx context.Context, syncType SyncType) (*Run, error) {
	r := &Run{
		ID:        uuid.New().String(),
		SyncType:  syncType,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, sync_type, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, string(r.SyncType), string(r.Status), r.StartedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	return r, nil
}

// Get returns a run by id.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return r, nil
}

// List returns the most recent runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// UpdateProgress writes the current counters and percentage. Completed runs
// are rejected with ErrCompleted.
func (s *Service) UpdateProgress(ctx context.Context, id string, c Counts, percent int) error {
	percent = clampPercent(percent)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			pages_fetched = ?, items_processed = ?, items_created = ?, items_updated = ?,
			items_unchanged = ?, links_added = ?, stubs_created = ?, high_confidence = ?,
			error_count = ?, progress_percent = ?
		WHERE id = ? AND status = ?
	`,
		c.PagesFetched, c.ItemsProcessed, c.Created, c.Updated,
		c.Unchanged, c.LinksAdded, c.StubsCreated, c.HighConfidence,
		c.Errors, percent, id, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("updating run progress: %w", err)
	}
	return s.checkRunning(ctx, res, id)
}

// Complete moves a running run to its terminal status with final counters.
func (s *Service) Complete(ctx context.Context, id string, status Status, c Counts, message string) error {
	if status == StatusRunning {
		return fmt.Errorf("complete with non-terminal status %q", status)
	}
	percent := 100
	if status == StatusError {
		percent = -1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			status = ?, completed_at = ?,
			pages_fetched = ?, items_processed = ?, items_created = ?, items_updated = ?,
			items_unchanged = ?, links_added = ?, stubs_created = ?, high_confidence = ?,
			error_count = ?, progress_percent = CASE WHEN ? < 0 THEN progress_percent ELSE ? END,
			error_message = ?
		WHERE id = ? AND status = ?
	`,
		string(status), time.Now().UTC().Format(time.RFC3339),
		c.PagesFetched, c.ItemsProcessed, c.Created, c.Updated,
		c.Unchanged, c.LinksAdded, c.StubsCreated, c.HighConfidence,
		c.Errors, percent, percent, message, id, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	return s.checkRunning(ctx, res, id)
}

// FailInterrupted marks runs left in running by a previous process as errors.
// It returns how many runs were closed.
func (s *Service) FailInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, error_message = ? WHERE status = ?`,
		string(StatusError), time.Now().UTC().Format(time.RFC3339), "interrupted by shutdown",
		string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("closing interrupted runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AppendLog adds a progress line to a run.
func (s *Service) AppendLog(ctx context.Context, runID string, level Level, message string, details map[string]any) error {
	var detailsJSON any
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encoding log details: %w", err)
		}
		detailsJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_logs (run_id, level, message, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, string(level), message, detailsJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("appending progress log: %w", err)
	}
	return nil
}

// ListLogs returns a run's log lines with id greater than afterID, oldest first.
func (s *Service) ListLogs(ctx context.Context, runID string, afterID int64, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, level, message, details, created_at
		FROM progress_logs WHERE run_id = ? AND id > ? ORDER BY id ASC LIMIT ?
	`, runID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing progress logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var level, createdAt string
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &level, &e.Message, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning progress log: %w", err)
		}
		e.Level = Level(level)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decoding log details: %w", err)
			}
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Service) checkRunning(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking run update: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrCompleted, id)
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var syncType, status, startedAt string
	var completedAt sql.NullString
	c := &r.Counts
	err := row.Scan(&r.ID, &syncType, &status, &startedAt, &completedAt,
		&c.PagesFetched, &c.ItemsProcessed, &c.Created, &c.Updated, &c.Unchanged,
		&c.LinksAdded, &c.StubsCreated, &c.HighConfidence, &c.Errors,
		&r.ProgressPercent, &r.ErrorMessage)
	if err != nil {
		return nil, err
	}
	r.SyncType = SyncType(syncType)
	r.Status = Status(status)
	r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		r.CompletedAt = &t
	}
	return &r, nil
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}
