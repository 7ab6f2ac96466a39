package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Status describes the database file and the last optimize pass.
type Status struct {
	DBFileSize     int64      `json:"db_file_size"`
	WALFileSize    int64      `json:"wal_file_size"`
	PageCount      int64      `json:"page_count"`
	PageSize       int64      `json:"page_size"`
	Rows           TableRows  `json:"rows"`
	LastOptimizeAt *time.Time `json:"last_optimize_at,omitempty"`
	Interval       string     `json:"interval,omitempty"`
}

// TableRows counts rows in the pipeline tables.
type TableRows struct {
	Artists      int64 `json:"artists"`
	Events       int64 `json:"events"`
	Links        int64 `json:"links"`
	ChangeLogs   int64 `json:"change_logs"`
	SyncRuns     int64 `json:"sync_runs"`
	ProgressLogs int64 `json:"progress_logs"`
}

// Service runs SQLite housekeeping.
type Service struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger

	mu           sync.Mutex
	lastOptimize *time.Time
	interval     time.Duration
}

// NewService creates a maintenance service.
func NewService(db *sql.DB, dbPath string, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// Status returns file sizes, page statistics and table row counts.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	counts := []struct {
		table string
		dst   *int64
	}{
		{"artists", &st.Rows.Artists},
		{"events", &st.Rows.Events},
		{"artist_event_links", &st.Rows.Links},
		{"change_logs", &st.Rows.ChangeLogs},
		{"sync_runs", &st.Rows.SyncRuns},
		{"progress_logs", &st.Rows.ProgressLogs},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			s.logger.Warn("counting rows", slog.String("table", c.table), slog.Any("error", err))
		}
	}

	s.mu.Lock()
	st.LastOptimizeAt = s.lastOptimize
	if s.interval > 0 {
		st.Interval = s.interval.String()
	}
	s.mu.Unlock()
	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	s.logger.Info("running PRAGMA optimize")
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}

	s.logger.Info("running WAL checkpoint")
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.lastOptimize = &now
	s.mu.Unlock()

	s.logger.Info("optimize complete")
	return nil
}

// StartScheduler runs optimize on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Info("maintenance scheduler disabled")
		return
	}
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()

	s.logger.Info("maintenance scheduler started",
		slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Optimize(ctx); err != nil {
				s.logger.Error("scheduled optimize failed", slog.Any("error", err))
			}
		}
	}
}
