package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sydlexius/lineup/internal/run"
)

// Scheduler periodically runs a full sync.
type Scheduler struct {
	orch   *Orchestrator
	logger *slog.Logger
}

// NewScheduler creates a sync scheduler.
func NewScheduler(orch *Orchestrator, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		orch:   orch,
		logger: logger.With(slog.String("component", "sync-scheduler")),
	}
}

// Start blocks until the context is canceled, running a full sync on each
// tick. A tick that finds a run already in progress is skipped.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Error("sync scheduler not started: non-positive interval", "interval", interval.String())
		return
	}
	s.logger.Info("sync scheduler started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	r, err := s.orch.Run(ctx, run.SyncBoth)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Info("scheduled sync skipped: run in progress")
		return
	}
	if err != nil {
		s.logger.Error("scheduled sync failed", "error", err)
		return
	}
	s.logger.Info("scheduled sync complete", "run_id", r.ID, "status", string(r.Status))
}
