package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sydlexius/lineup/internal/api/middleware"
	"github.com/sydlexius/lineup/internal/artist"
	"github.com/sydlexius/lineup/internal/changelog"
	"github.com/sydlexius/lineup/internal/database"
	"github.com/sydlexius/lineup/internal/event"
	"github.com/sydlexius/lineup/internal/ingest"
	"github.com/sydlexius/lineup/internal/lineup"
	"github.com/sydlexius/lineup/internal/link"
	"github.com/sydlexius/lineup/internal/listing"
	"github.com/sydlexius/lineup/internal/maintenance"
	"github.com/sydlexius/lineup/internal/metrics"
	"github.com/sydlexius/lineup/internal/progress"
	"github.com/sydlexius/lineup/internal/provider"
	"github.com/sydlexius/lineup/internal/reconcile"
	"github.com/sydlexius/lineup/internal/run"
)

const eventPage = "https://festival.example/events/opening-night/77/"

type stubListing struct{}

func (stubListing) FetchArtists(_ context.Context, page int, _ listing.Query) ([]listing.RawArtist, error) {
	if page > 1 {
		return nil, nil
	}
	return []listing.RawArtist{
		{ID: "101", Title: "Amelie Lens", URL: "https://festival.example/artists/amelie-lens/101/"},
		{ID: "102", Title: "Charlotte de Witte"},
	}, nil
}

func (stubListing) FetchEvents(_ context.Context, page int, _ listing.Query) ([]listing.RawEvent, error) {
	if page > 1 {
		return nil, nil
	}
	return []listing.RawEvent{
		{ID: "77", Title: "Opening Night", Subtitle: "Amelie Lens B2B Charlotte de Witte", URL: eventPage},
	}, nil
}

type stubLineup struct{}

func (stubLineup) FetchLineup(_ context.Context, pageURL string) (lineup.Result, error) {
	if pageURL != eventPage {
		return lineup.Result{}, &provider.ErrNotFound{Upstream: provider.NameLineup, ID: pageURL}
	}
	return lineup.Result{Strategy: "lineup_container", Mentions: []lineup.Mention{
		{ExternalID: "101", Name: "Amelie Lens", ProfileURL: "https://festival.example/artists/amelie-lens/101/"},
		{ExternalID: "555", Name: "Newcomer", ProfileURL: "https://festival.example/artists/newcomer/555/"},
	}}, nil
}

type testEnv struct {
	router  *Router
	handler http.Handler
	orch    *reconcile.Orchestrator
	artists *artist.Service
	runs    *run.Service
}

func newTestEnv(t *testing.T, limiter *middleware.TriggerRateLimiter) testEnv {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	artists := artist.NewService(db)
	events := event.NewService(db)
	links := link.NewService(db)
	runs := run.NewService(db)
	changes := changelog.NewService(db)

	orch := reconcile.NewOrchestrator(reconcile.Deps{
		Listing: stubListing{},
		Lineup:  stubLineup{},
		Engine:  ingest.NewEngine(db, artists, events, changes, nil, logger),
		Artists: artists,
		Events:  events,
		Links:   links,
		Runs:    runs,
	}, reconcile.Options{}, logger)

	store := progress.NewMemoryStore(time.Minute)
	batch := reconcile.NewBatchExecutor(orch, store, time.Minute, logger)
	t.Cleanup(batch.Shutdown)

	r := NewRouter(RouterDeps{
		ArtistService:      artists,
		EventService:       events,
		LinkService:        links,
		RunService:         runs,
		ChangeLogService:   changes,
		Orchestrator:       orch,
		BatchExecutor:      batch,
		MaintenanceService: maintenance.NewService(db, "", logger),
		Metrics:            metrics.New(store.Active).Handler(),
		TriggerLimiter:     limiter,
		Logger:             logger,
	})
	return testEnv{router: r, handler: r.Handler(), orch: orch, artists: artists, runs: runs}
}

// sync runs a pipeline execution in the foreground.
func (e testEnv) sync(t *testing.T, st run.SyncType) *run.Run {
	t.Helper()
	got, err := e.orch.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run(%s): %v", st, err)
	}
	return got
}

func (e testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
