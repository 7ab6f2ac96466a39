package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/sydlexius/lineup/internal/run"
)

func TestScheduler_RunsFullSyncOnTick(t *testing.T) {
	f := newFixture(t, sampleListing(), sampleLineup(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewScheduler(f.orch, testLogger()).Start(ctx, 20*time.Millisecond)
		close(done)
	}()

	waitFor(t, func() bool {
		runs, err := f.runs.List(context.Background(), 10)
		return err == nil && len(runs) > 0 && runs[len(runs)-1].Status != run.StatusRunning
	})
	cancel()
	<-done

	runs, err := f.runs.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	oldest := runs[len(runs)-1]
	if oldest.SyncType != run.SyncBoth {
		t.Errorf("sync type = %q, want %q", oldest.SyncType, run.SyncBoth)
	}
	if oldest.Status != run.StatusSuccess {
		t.Errorf("status = %q, want %q", oldest.Status, run.StatusSuccess)
	}
}

func TestScheduler_NonPositiveIntervalReturns(t *testing.T) {
	f := newFixture(t, sampleListing(), nil, nil)
	done := make(chan struct{})
	go func() {
		NewScheduler(f.orch, testLogger()).Start(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler with zero interval did not return")
	}
}
