package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sydlexius/lineup/internal/bus"
	"github.com/sydlexius/lineup/internal/event"
	"github.com/sydlexius/lineup/internal/progress"
	"github.com/sydlexius/lineup/internal/run"
)

// Errors returned by the batch executor.
var (
	ErrSessionRequired = errors.New("sessionId is required")
	ErrSessionActive   = errors.New("session is already running")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoEvents        = errors.New("no matching events")
	ErrNoLineupFetcher = errors.New("lineup fetching is not configured")
)

// DefaultBatchLimit caps a batch when the request does not.
const DefaultBatchLimit = 10

// BatchRequest selects the events a lineup batch parses.
type BatchRequest struct {
	SessionID   string
	EventID     string
	VenueFilter string
	Limit       int
}

// BatchExecutor runs lineup batches asynchronously, one goroutine per
// session, and publishes their progress to a Store for polling.
type BatchExecutor struct {
	orch      *Orchestrator
	events    *event.Service
	runs      *run.Service
	store     progress.Store
	retention time.Duration
	bus       *bus.Bus
	logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewBatchExecutor creates a batch executor. Completed sessions stay in
// store for retention.
func NewBatchExecutor(orch *Orchestrator, store progress.Store, retention time.Duration, logger *slog.Logger) *BatchExecutor {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &BatchExecutor{
		orch:      orch,
		events:    orch.events,
		runs:      orch.runs,
		store:     store,
		retention: retention,
		bus:       orch.bus,
		logger:    logger.With(slog.String("component", "batch-executor")),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Start selects events for req and begins parsing them in the background.
// It returns how many events were selected. The session's first snapshot is
// stored before Start returns.
func (b *BatchExecutor) Start(ctx context.Context, req BatchRequest) (int, error) {
	if req.SessionID == "" {
		return 0, ErrSessionRequired
	}
	if b.orch.lineup == nil {
		return 0, ErrNoLineupFetcher
	}
	if req.Limit <= 0 {
		req.Limit = DefaultBatchLimit
	}

	b.mu.Lock()
	if _, busy := b.cancels[req.SessionID]; busy {
		b.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrSessionActive, req.SessionID)
	}
	// Reserve the id while the events query runs.
	b.cancels[req.SessionID] = func() {}
	b.mu.Unlock()

	events, r, err := b.prepare(ctx, req)
	if err != nil {
		b.forget(req.SessionID)
		return 0, err
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.mu.Lock()
	b.cancels[req.SessionID] = cancel
	b.mu.Unlock()

	b.store.Put(req.SessionID, progress.Snapshot{
		RunID:       r.ID,
		Message:     fmt.Sprintf("Starting batch of %d events", len(events)),
		EventsTotal: len(events),
		UpdatedAt:   time.Now().UTC(),
	}, progress.NoExpiration)
	b.bus.Publish(bus.BatchStarted, map[string]any{"session_id": req.SessionID, "events": len(events)})

	b.wg.Add(1)
	go b.run(jobCtx, req.SessionID, r, events)
	return len(events), nil
}

func (b *BatchExecutor) prepare(ctx context.Context, req BatchRequest) ([]event.Event, *run.Run, error) {
	events, err := b.events.ListForLineup(ctx, event.BatchFilter{
		EventID: req.EventID,
		Venue:   req.VenueFilter,
		Limit:   req.Limit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("selecting events: %w", err)
	}
	if len(events) == 0 {
		return nil, nil, ErrNoEvents
	}
	r, err := b.runs.Start(ctx, run.SyncLinking)
	if err != nil {
		return nil, nil, err
	}
	return events, r, nil
}

// Get returns the latest snapshot for a session.
func (b *BatchExecutor) Get(sessionID string) (progress.Snapshot, bool) {
	return b.store.Get(sessionID)
}

// Cancel asks a running session to stop before its next event. The event
// being fetched is allowed to finish.
func (b *BatchExecutor) Cancel(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cancel, ok := b.cancels[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	cancel()
	return nil
}

// Shutdown cancels every running session and waits for them to record
// their final state.
func (b *BatchExecutor) Shutdown() {
	b.mu.Lock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *BatchExecutor) forget(sessionID string) {
	b.mu.Lock()
	delete(b.cancels, sessionID)
	b.mu.Unlock()
}

func (b *BatchExecutor) run(ctx context.Context, sessionID string, r *run.Run, events []event.Event) {
	defer b.wg.Done()
	defer b.forget(sessionID)

	logger := b.logger.With(slog.String("session_id", sessionID), slog.String("run_id", r.ID))
	snap := progress.Snapshot{SessionID: sessionID, RunID: r.ID, EventsTotal: len(events)}
	var counts run.Counts
	var fatal error

	canceled := false
	rc := RunContext{
		RunID:    r.ID,
		Canceled: func() bool { return ctx.Err() != nil },
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("batch panicked", slog.Any("panic", rec))
				fatal = fmt.Errorf("panic: %v", rec)
			}
		}()
		for i := range events {
			if rc.stopped(ctx) {
				canceled = true
				return
			}
			ev := &events[i]
			snap.Message = fmt.Sprintf("Parsing %s", ev.Title)
			b.put(snap, progress.NoExpiration)

			out := b.orch.linkEvent(ctx, rc, ev, linkLineupOnly, nil)
			counts.ItemsProcessed++
			counts.LinksAdded += out.Links.Added
			counts.HighConfidence += out.Links.HighConfidence
			counts.StubsCreated += out.StubsCreated
			counts.Errors += out.Errors
			if out.LineupErr != nil {
				if err := b.runs.AppendLog(ctx, r.ID, run.LevelError,
					fmt.Sprintf("Lineup fetch failed for event %q", ev.ExternalID),
					map[string]any{"error": out.LineupErr.Error(), "session_id": sessionID}); err != nil && ctx.Err() == nil {
					logger.Warn("appending progress log", slog.Any("error", err))
				}
			}

			snap.EventsParsed = i + 1
			snap.ArtistsFound += out.Mentions
			snap.LinksCreated += out.Links.Added
			snap.StubsCreated += out.StubsCreated
			snap.ProgressPercent = 100 * (i + 1) / len(events)
			snap.Message = fmt.Sprintf("Parsed %d/%d events", i+1, len(events))
			b.put(snap, progress.NoExpiration)

			if err := b.runs.UpdateProgress(ctx, r.ID, counts, snap.ProgressPercent); err != nil && ctx.Err() == nil {
				logger.Warn("updating run progress", slog.Any("error", err))
			}
		}
		canceled = ctx.Err() != nil
	}()

	final := context.WithoutCancel(ctx)
	status := run.FinalStatus(fatal, counts.Errors)
	message := ""
	switch {
	case fatal != nil:
		message = fatal.Error()
		snap.Error = message
		snap.Message = "Batch failed"
	case canceled:
		message = "canceled"
		status = run.StatusPartial
		snap.Error = "canceled"
		snap.Message = fmt.Sprintf("Canceled after %d/%d events", snap.EventsParsed, len(events))
	default:
		snap.ProgressPercent = 100
		snap.Message = fmt.Sprintf("Parsed %d events: %d artists found, %d links created",
			len(events), snap.ArtistsFound, snap.LinksCreated)
	}
	if err := b.runs.Complete(final, r.ID, status, counts, message); err != nil {
		logger.Error("completing batch run", slog.Any("error", err))
	}
	if err := b.runs.AppendLog(final, r.ID, levelFor(status), snap.Message, map[string]any{
		"session_id": sessionID,
		"links":      snap.LinksCreated,
		"stubs":      snap.StubsCreated,
	}); err != nil {
		logger.Warn("appending progress log", slog.Any("error", err))
	}

	snap.Completed = true
	b.put(snap, b.retention)
	b.bus.Publish(bus.BatchCompleted, map[string]any{"session_id": sessionID, "status": string(status)})
	logger.Info("batch finished",
		slog.String("status", string(status)),
		slog.Int("events", snap.EventsParsed),
		slog.Int("links_created", snap.LinksCreated),
		slog.Int("stubs_created", snap.StubsCreated))
}

func (b *BatchExecutor) put(s progress.Snapshot, ttl time.Duration) {
	s.UpdatedAt = time.Now().UTC()
	b.store.Put(s.SessionID, s, ttl)
}

func levelFor(s run.Status) run.Level {
	switch s {
	case run.StatusSuccess:
		return run.LevelSuccess
	case run.StatusPartial:
		return run.LevelWarn
	default:
		return run.LevelError
	}
}
