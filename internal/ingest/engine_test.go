package ingest

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/sydlexius/lineup/internal/artist"
	"github.com/sydlexius/lineup/internal/changelog"
	"github.com/sydlexius/lineup/internal/database"
	"github.com/sydlexius/lineup/internal/event"
	"github.com/sydlexius/lineup/internal/listing"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	db      *sql.DB
	engine  *Engine
	artists *artist.Service
	events  *event.Service
	changes *changelog.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := setupTestDB(t)
	f := fixture{
		db:      db,
		artists: artist.NewService(db),
		events:  event.NewService(db),
		changes: changelog.NewService(db),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f.engine = NewEngine(db, f.artists, f.events, f.changes, nil, logger)
	return f
}

func rawArtist() listing.RawArtist {
	return listing.RawArtist{
		ID:       "101",
		Title:    "Amelie Lens",
		Subtitle: "Techno",
		Country:  &listing.Country{Label: "Belgium", Code: "BE"},
		URL:      "https://festival.example/artists/amelie-lens/101/",
	}
}

func TestUpsertArtist_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.UpsertArtist(ctx, "run-1", rawArtist())
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if d != Created {
		t.Errorf("first decision = %q, want created", d)
	}

	d, err = f.engine.UpsertArtist(ctx, "run-2", rawArtist())
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if d != Unchanged {
		t.Errorf("second decision = %q, want unchanged", d)
	}

	entries, _ := f.changes.ListForEntity(ctx, changelog.EntityArtist, "101")
	if len(entries) != 1 {
		t.Fatalf("change log entries = %d, want 1", len(entries))
	}
	if entries[0].OldHash != nil {
		t.Error("created entry must have a null old hash")
	}

	a, _ := f.artists.GetByExternalID(ctx, "101")
	if a.LastRunID != "run-1" {
		t.Errorf("unchanged record was tagged with run %q", a.LastRunID)
	}
}

func TestUpsertArtist_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.UpsertArtist(ctx, "run-1", rawArtist()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	changed := rawArtist()
	changed.Subtitle = "Hard Techno"
	d, err := f.engine.UpsertArtist(ctx, "run-2", changed)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d != Updated {
		t.Fatalf("decision = %q, want updated", d)
	}

	entries, _ := f.changes.ListForEntity(ctx, changelog.EntityArtist, "101")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	upd := entries[1]
	if upd.OldHash == nil || *upd.OldHash == upd.NewHash {
		t.Errorf("hashes = %v -> %q", upd.OldHash, upd.NewHash)
	}
	if len(upd.ChangedFields) != 1 || upd.ChangedFields[0] != "subtitle" {
		t.Errorf("ChangedFields = %v, want [subtitle]", upd.ChangedFields)
	}
	if upd.OldData["subtitle"] != "Techno" || upd.NewData["subtitle"] != "Hard Techno" {
		t.Errorf("snapshots = %v -> %v", upd.OldData, upd.NewData)
	}

	a, _ := f.artists.GetByExternalID(ctx, "101")
	if a.FirstRunID != "run-1" || a.LastRunID != "run-2" {
		t.Errorf("runs = %q/%q", a.FirstRunID, a.LastRunID)
	}
}

func TestUpsertArtist_PromotesStub(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stub, err := f.artists.CreateStub(ctx, "101", "Amelie Lens", "https://festival.example/artists/amelie-lens/101/", "run-1")
	if err != nil {
		t.Fatalf("CreateStub: %v", err)
	}

	d, err := f.engine.UpsertArtist(ctx, "run-2", rawArtist())
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if d != Updated {
		t.Errorf("decision = %q, want updated", d)
	}

	all, total, _ := f.artists.List(ctx, artist.ListParams{})
	if total != 1 {
		t.Fatalf("artists = %d, want 1 (no duplicate)", total)
	}
	if all[0].ID != stub.ID || all[0].IsStub {
		t.Errorf("artist = %+v, want promoted stub", all[0])
	}
}

func TestUpsertArtist_Malformed(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.UpsertArtist(context.Background(), "run-1", listing.RawArtist{Title: "No Id"})
	if !errors.Is(err, listing.ErrMalformedRecord) {
		t.Errorf("err = %v, want ErrMalformedRecord", err)
	}
}

func TestUpsertEvent_CreateUpdateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := listing.RawEvent{
		ID:    "9001",
		Title: "Mainstage Friday",
		Start: "2026-07-17T20:00:00+02:00",
		Venue: "Mainstage",
		URL:   "https://festival.example/events/mainstage-friday/9001/",
	}
	steps := []struct {
		mutate func(*listing.RawEvent)
		want   Decision
	}{
		{func(*listing.RawEvent) {}, Created},
		{func(*listing.RawEvent) {}, Unchanged},
		{func(r *listing.RawEvent) { r.SoldOut = true }, Updated},
		{func(*listing.RawEvent) {}, Unchanged},
	}
	for i, s := range steps {
		s.mutate(&raw)
		d, err := f.engine.UpsertEvent(ctx, "run", raw)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if d != s.want {
			t.Errorf("step %d decision = %q, want %q", i, d, s.want)
		}
	}

	entries, _ := f.changes.ListForEntity(ctx, changelog.EntityEvent, "9001")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].ChangedFields[0] != "sold_out" {
		t.Errorf("ChangedFields = %v, want [sold_out]", entries[1].ChangedFields)
	}
}

func TestUpsertEvent_LineupFlagSurvivesUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := listing.RawEvent{ID: "9001", Title: "Mainstage Friday"}

	if _, err := f.engine.UpsertEvent(ctx, "run-1", raw); err != nil {
		t.Fatalf("create: %v", err)
	}
	ev, _ := f.events.GetByExternalID(ctx, "9001")
	if err := f.events.MarkLineupParsed(ctx, ev.ID); err != nil {
		t.Fatalf("MarkLineupParsed: %v", err)
	}
	d, err := f.engine.UpsertEvent(ctx, "run-2", raw)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if d != Unchanged {
		t.Errorf("decision = %q, want unchanged", d)
	}
}

func failChangeLogInserts(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		CREATE TRIGGER fail_change_log BEFORE INSERT ON change_logs
		BEGIN SELECT RAISE(ABORT, 'change log unavailable'); END`)
	if err != nil {
		t.Fatalf("creating trigger: %v", err)
	}
}

func restoreChangeLogInserts(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), `DROP TRIGGER fail_change_log`); err != nil {
		t.Fatalf("dropping trigger: %v", err)
	}
}

func TestUpsertArtist_ChangeLogFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failChangeLogInserts(t, f.db)
	if _, err := f.engine.UpsertArtist(ctx, "run-1", rawArtist()); err == nil {
		t.Fatal("expected error when change log insert fails")
	}
	got, err := f.artists.GetByExternalID(ctx, "101")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if got != nil {
		t.Fatalf("artist stored without change log entry: %+v", got)
	}

	restoreChangeLogInserts(t, f.db)
	d, err := f.engine.UpsertArtist(ctx, "run-2", rawArtist())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if d != Created {
		t.Errorf("retry decision = %q, want created", d)
	}
	entries, _ := f.changes.ListForEntity(ctx, changelog.EntityArtist, "101")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].RunID != "run-2" {
		t.Errorf("RunID = %q, want run-2", entries[0].RunID)
	}
}

func TestUpsertEvent_ChangeLogFailureRollsBackUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := listing.RawEvent{ID: "9001", Title: "Mainstage Friday"}

	if _, err := f.engine.UpsertEvent(ctx, "run-1", raw); err != nil {
		t.Fatalf("create: %v", err)
	}

	raw.SoldOut = true
	failChangeLogInserts(t, f.db)
	if _, err := f.engine.UpsertEvent(ctx, "run-2", raw); err == nil {
		t.Fatal("expected error when change log insert fails")
	}
	ev, _ := f.events.GetByExternalID(ctx, "9001")
	if ev.SoldOut {
		t.Error("SoldOut = true, want update rolled back")
	}

	restoreChangeLogInserts(t, f.db)
	d, err := f.engine.UpsertEvent(ctx, "run-3", raw)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if d != Updated {
		t.Errorf("retry decision = %q, want updated", d)
	}
	entries, _ := f.changes.ListForEntity(ctx, changelog.EntityEvent, "9001")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
}
