package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sydlexius/lineup/internal/progress"
	"github.com/sydlexius/lineup/internal/run"
)

func newBatchFixture(t *testing.T, lu *fakeLineup) (fixture, *BatchExecutor) {
	t.Helper()
	f := newFixture(t, sampleListing(), lu, nil)
	seed(t, f)
	b := NewBatchExecutor(f.orch, progress.NewMemoryStore(time.Minute), time.Minute, testLogger())
	t.Cleanup(b.Shutdown)
	return f, b
}

func seed(t *testing.T, f fixture) {
	t.Helper()
	for _, st := range []run.SyncType{run.SyncArtists, run.SyncEvents} {
		if _, err := f.orch.Run(context.Background(), st); err != nil {
			t.Fatalf("seeding %s: %v", st, err)
		}
	}
}

func TestBatch_ProgressLifecycle(t *testing.T) {
	lu := sampleLineup()
	lu.gate = make(chan struct{})
	f, b := newBatchFixture(t, lu)
	ctx := context.Background()

	n, err := b.Start(ctx, BatchRequest{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n != 1 {
		t.Errorf("events found = %d, want 1", n)
	}

	snap, ok := b.Get("s1")
	if !ok {
		t.Fatal("expected snapshot right after start")
	}
	if snap.Completed {
		t.Error("expected completed=false while the batch is running")
	}
	if snap.EventsTotal != 1 || snap.RunID == "" {
		t.Errorf("snapshot = %+v", snap)
	}

	if _, err := b.Start(ctx, BatchRequest{SessionID: "s1"}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("duplicate start error = %v, want ErrSessionActive", err)
	}

	close(lu.gate)
	waitFor(t, func() bool {
		s, ok := b.Get("s1")
		return ok && s.Completed
	})

	snap, _ = b.Get("s1")
	if snap.ProgressPercent != 100 {
		t.Errorf("progress = %d, want 100", snap.ProgressPercent)
	}
	if snap.Error != "" {
		t.Errorf("error = %q, want none", snap.Error)
	}
	if snap.EventsParsed != 1 || snap.ArtistsFound != 2 || snap.LinksCreated != 2 || snap.StubsCreated != 1 {
		t.Errorf("snapshot = %+v, want 1 event, 2 artists, 2 links, 1 stub", snap)
	}

	r, err := f.runs.Get(ctx, snap.RunID)
	if err != nil {
		t.Fatalf("getting batch run: %v", err)
	}
	if r.Status != run.StatusSuccess || r.SyncType != run.SyncLinking {
		t.Errorf("run = %+v, want successful linking run", r)
	}

	if _, ok := b.Get("unknown"); ok {
		t.Error("unknown session should not be found")
	}
}

func TestBatch_LineupUnavailableContinues(t *testing.T) {
	f := newFixture(t, listingWithFailingEvent(), lineupWithFailingPage(), nil)
	seed(t, f)
	b := NewBatchExecutor(f.orch, progress.NewMemoryStore(time.Minute), time.Minute, testLogger())
	t.Cleanup(b.Shutdown)
	ctx := context.Background()

	n, err := b.Start(ctx, BatchRequest{SessionID: "s5"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n != 2 {
		t.Errorf("events found = %d, want 2", n)
	}
	waitFor(t, func() bool {
		s, ok := b.Get("s5")
		return ok && s.Completed
	})

	snap, _ := b.Get("s5")
	if snap.EventsParsed != 2 || snap.LinksCreated != 2 {
		t.Errorf("snapshot = %+v, want 2 events parsed and 2 links", snap)
	}

	r, err := f.runs.Get(ctx, snap.RunID)
	if err != nil {
		t.Fatalf("getting batch run: %v", err)
	}
	if r.Status != run.StatusPartial {
		t.Errorf("status = %q, want partial", r.Status)
	}
	if r.Counts.Errors != 1 {
		t.Errorf("errors = %d, want 1", r.Counts.Errors)
	}

	logs, err := f.runs.ListLogs(ctx, r.ID, 0, 100)
	if err != nil {
		t.Fatalf("listing logs: %v", err)
	}
	if !hasLog(logs, run.LevelError, `Lineup fetch failed for event "76"`) {
		t.Errorf("expected lineup failure in progress log, got %+v", logs)
	}
}

func TestBatch_Validation(t *testing.T) {
	_, b := newBatchFixture(t, sampleLineup())
	ctx := context.Background()

	if _, err := b.Start(ctx, BatchRequest{}); !errors.Is(err, ErrSessionRequired) {
		t.Errorf("missing session error = %v, want ErrSessionRequired", err)
	}
	if _, err := b.Start(ctx, BatchRequest{SessionID: "s2", VenueFilter: "Nowhere"}); !errors.Is(err, ErrNoEvents) {
		t.Errorf("no events error = %v, want ErrNoEvents", err)
	}
	if _, ok := b.Get("s2"); ok {
		t.Error("a rejected session must not leave a snapshot")
	}
	// The rejected id is free to use again.
	if _, err := b.Start(ctx, BatchRequest{SessionID: "s2", EventID: "77"}); err != nil {
		t.Errorf("retry with the same session: %v", err)
	}
}

func TestBatch_Cancel(t *testing.T) {
	lu := sampleLineup()
	lu.gate = make(chan struct{})
	_, b := newBatchFixture(t, lu)
	ctx := context.Background()

	if _, err := b.Start(ctx, BatchRequest{SessionID: "s3"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Cancel("s3"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, func() bool {
		s, ok := b.Get("s3")
		return ok && s.Completed
	})
	snap, _ := b.Get("s3")
	if snap.Error != "canceled" {
		t.Errorf("error = %q, want canceled", snap.Error)
	}
	if err := b.Cancel("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("cancel unknown = %v, want ErrSessionNotFound", err)
	}
}

func TestBatch_SnapshotExpiresAfterRetention(t *testing.T) {
	f := newFixture(t, sampleListing(), sampleLineup(), nil)
	seed(t, f)
	b := NewBatchExecutor(f.orch, progress.NewMemoryStore(time.Minute), 30*time.Millisecond, testLogger())
	t.Cleanup(b.Shutdown)

	if _, err := b.Start(context.Background(), BatchRequest{SessionID: "s4"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool {
		s, ok := b.Get("s4")
		return ok && s.Completed
	})
	waitFor(t, func() bool {
		_, ok := b.Get("s4")
		return !ok
	})
}
