package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sydlexius/lineup/internal/artist"
	"github.com/sydlexius/lineup/internal/bus"
	"github.com/sydlexius/lineup/internal/event"
	"github.com/sydlexius/lineup/internal/ingest"
	"github.com/sydlexius/lineup/internal/link"
	"github.com/sydlexius/lineup/internal/listing"
	"github.com/sydlexius/lineup/internal/provider"
	"github.com/sydlexius/lineup/internal/run"
)

// Errors returned by the orchestrator.
var (
	ErrRunInProgress      = errors.New("a run is already in progress")
	ErrEnrichmentDisabled = errors.New("enrichment is disabled")
)

// ListingSource fetches pages of the remote listing.
type ListingSource interface {
	FetchArtists(ctx context.Context, page int, q listing.Query) ([]listing.RawArtist, error)
	FetchEvents(ctx context.Context, page int, q listing.Query) ([]listing.RawEvent, error)
}

// Deps are the collaborators an Orchestrator drives. Lineup and Enricher may
// be nil; without a lineup fetcher linking falls back to text matching only.
type Deps struct {
	Listing  ListingSource
	Lineup   LineupFetcher
	Engine   *ingest.Engine
	Artists  *artist.Service
	Events   *event.Service
	Links    *link.Service
	Runs     *run.Service
	Enricher provider.Enricher
	Bus      *bus.Bus
}

// Options tune a pipeline execution.
type Options struct {
	Query      listing.Query
	MaxPages   int
	Thresholds Thresholds
}

// Orchestrator runs the ingestion and reconciliation pipeline. Only one run
// executes at a time.
type Orchestrator struct {
	listing  ListingSource
	engine   *ingest.Engine
	artists  *artist.Service
	events   *event.Service
	runs     *run.Service
	enricher provider.Enricher
	bus      *bus.Bus
	lineup   *LineupSourced
	linker   *Linker
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	activeID string
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(d Deps, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds
	}
	logger = logger.With(slog.String("component", "orchestrator"))
	o := &Orchestrator{
		listing:  d.Listing,
		engine:   d.Engine,
		artists:  d.Artists,
		events:   d.Events,
		runs:     d.Runs,
		enricher: d.Enricher,
		bus:      d.Bus,
		linker:   NewLinker(d.Links, opts.Thresholds, d.Bus, logger),
		opts:     opts,
		logger:   logger,
	}
	if d.Lineup != nil {
		o.lineup = NewLineupSourced(d.Lineup, d.Artists, logger, func(a *artist.Artist) {
			d.Bus.Publish(bus.StubCreated, map[string]any{"external_id": a.ExternalID, "artist_id": a.ID})
		})
	}
	return o
}

// linkMode selects the resolvers used in the linking stage.
type linkMode int

const (
	linkLineupThenText linkMode = iota
	linkTextOnly
	linkLineupOnly
)

// Run executes syncType in the foreground and returns the completed run.
func (o *Orchestrator) Run(ctx context.Context, syncType run.SyncType) (*run.Run, error) {
	return o.runSync(ctx, syncType, linkLineupThenText)
}

// MatchText runs the text matcher over every event in the foreground: each
// known artist is scored against event titles and subtitle billings.
func (o *Orchestrator) MatchText(ctx context.Context) (*run.Run, error) {
	return o.runSync(ctx, run.SyncLinking, linkTextOnly)
}

func (o *Orchestrator) runSync(ctx context.Context, syncType run.SyncType, mode linkMode) (*run.Run, error) {
	r, runCtx, err := o.begin(ctx, syncType)
	if err != nil {
		return nil, err
	}
	o.execute(runCtx, r, mode)
	return o.runs.Get(context.WithoutCancel(ctx), r.ID)
}

// Start begins syncType in a background goroutine and returns the new run
// immediately. The run is detached from ctx's cancellation; use Stop to end it.
func (o *Orchestrator) Start(ctx context.Context, syncType run.SyncType) (*run.Run, error) {
	r, runCtx, err := o.begin(context.WithoutCancel(ctx), syncType)
	if err != nil {
		return nil, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(runCtx, r, linkLineupThenText)
	}()
	return r, nil
}

// Wait blocks until every run launched by Start has finished recording its
// final state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop cancels the active run, if any. It reports whether a run was active.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelFn == nil {
		return false
	}
	o.cancelFn()
	return true
}

// Active returns the id of the executing run, or "".
func (o *Orchestrator) Active() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeID
}

func (o *Orchestrator) begin(ctx context.Context, syncType run.SyncType) (*run.Run, context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeID != "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunInProgress, o.activeID)
	}
	r, err := o.runs.Start(ctx, syncType)
	if err != nil {
		return nil, nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.activeID = r.ID
	o.cancelFn = cancel
	return r, runCtx, nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelFn != nil {
		o.cancelFn()
	}
	o.activeID = ""
	o.cancelFn = nil
}

type stageFunc func(ctx context.Context, t *tracker) error

func (o *Orchestrator) stagesFor(syncType run.SyncType, mode linkMode) []stageFunc {
	linking := func(ctx context.Context, t *tracker) error { return o.linkStage(ctx, t, mode) }
	switch syncType {
	case run.SyncArtists:
		return []stageFunc{o.artistStage}
	case run.SyncEvents:
		return []stageFunc{o.eventStage}
	case run.SyncLinking:
		return []stageFunc{linking}
	default:
		return []stageFunc{o.artistStage, o.eventStage, linking}
	}
}

func (o *Orchestrator) execute(ctx context.Context, r *run.Run, mode linkMode) {
	defer o.release()

	logger := o.logger.With(slog.String("run_id", r.ID), slog.String("sync_type", string(r.SyncType)))
	t := &tracker{runs: o.runs, runID: r.ID, logger: logger}

	o.bus.Publish(bus.RunStarted, map[string]any{"run_id": r.ID, "sync_type": string(r.SyncType)})
	logger.Info("run started")
	t.log(ctx, run.LevelInfo, fmt.Sprintf("Starting %s sync", r.SyncType), nil)

	fatal := o.runStages(ctx, t, o.stagesFor(r.SyncType, mode))

	// Final writes must land even when the run was canceled.
	final := context.WithoutCancel(ctx)
	status := run.FinalStatus(fatal, t.counts.Errors)
	message := ""
	if fatal != nil {
		message = fatal.Error()
	}
	if err := o.runs.Complete(final, r.ID, status, t.counts, message); err != nil {
		logger.Error("completing run", slog.Any("error", err))
	}

	summary := map[string]any{
		"created":   t.counts.Created,
		"updated":   t.counts.Updated,
		"unchanged": t.counts.Unchanged,
		"links":     t.counts.LinksAdded,
		"stubs":     t.counts.StubsCreated,
		"errors":    t.counts.Errors,
	}
	switch status {
	case run.StatusSuccess:
		t.log(final, run.LevelSuccess, "Run completed", summary)
	case run.StatusPartial:
		t.log(final, run.LevelWarn, fmt.Sprintf("Run completed with %d errors", t.counts.Errors), summary)
	default:
		t.log(final, run.LevelError, "Run failed: "+message, summary)
	}

	o.bus.Publish(bus.RunCompleted, map[string]any{
		"run_id":    r.ID,
		"sync_type": string(r.SyncType),
		"status":    string(status),
	})
	logger.Info("run finished",
		slog.String("status", string(status)),
		slog.Int("created", t.counts.Created),
		slog.Int("updated", t.counts.Updated),
		slog.Int("unchanged", t.counts.Unchanged),
		slog.Int("links_added", t.counts.LinksAdded),
		slog.Int("stubs_created", t.counts.StubsCreated),
		slog.Int("errors", t.counts.Errors))
}

// runStages executes stages in order and converts a panic into a fatal error.
func (o *Orchestrator) runStages(ctx context.Context, t *tracker, stages []stageFunc) (fatal error) {
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("run panicked", slog.Any("panic", rec))
			fatal = fmt.Errorf("panic: %v", rec)
		}
	}()
	span := 100 / len(stages)
	for i, stage := range stages {
		t.base, t.span = i*span, span
		if err := stage(ctx, t); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) artistStage(ctx context.Context, t *tracker) error {
	t.log(ctx, run.LevelInfo, "Fetching artists", nil)
	items := fetchAll(ctx, o, t, provider.NameListing, "artists", func(ctx context.Context, page int) ([]listing.RawArtist, error) {
		return o.listing.FetchArtists(ctx, page, o.opts.Query)
	})
	return ingestItems(ctx, t, "artist", items,
		func(r listing.RawArtist) string { return string(r.ID) },
		func(ctx context.Context, r listing.RawArtist) (ingest.Decision, error) {
			return o.engine.UpsertArtist(ctx, t.runID, r)
		})
}

func (o *Orchestrator) eventStage(ctx context.Context, t *tracker) error {
	t.log(ctx, run.LevelInfo, "Fetching events", nil)
	items := fetchAll(ctx, o, t, provider.NameListing, "events", func(ctx context.Context, page int) ([]listing.RawEvent, error) {
		return o.listing.FetchEvents(ctx, page, o.opts.Query)
	})
	return ingestItems(ctx, t, "event", items,
		func(r listing.RawEvent) string { return string(r.ID) },
		func(ctx context.Context, r listing.RawEvent) (ingest.Decision, error) {
			return o.engine.UpsertEvent(ctx, t.runID, r)
		})
}

// fetchAll paginates one listing section. A fetch error ends pagination but
// keeps the pages already fetched; it is counted so the run ends partial.
func fetchAll[T any](ctx context.Context, o *Orchestrator, t *tracker, upstream provider.UpstreamName, section string, fetch listing.PageFunc[T]) []T {
	res, err := listing.Paginate(ctx, fetch, o.opts.MaxPages, func(page, n int) {
		t.counts.PagesFetched++
		t.progress(ctx, 0.05*float64(min(page, 6)), fmt.Sprintf("Fetched %s page %d (%d items)", section, page, n))
		o.bus.Publish(bus.UpstreamCalled, map[string]any{"upstream": string(upstream), "outcome": "ok"})
	})
	if err != nil && ctx.Err() == nil {
		t.counts.Errors++
		o.bus.Publish(bus.UpstreamCalled, map[string]any{"upstream": string(upstream), "outcome": "error"})
		t.logger.Error("listing fetch failed",
			slog.String("section", section),
			slog.Int("pages", res.Pages),
			slog.Any("error", err))
		t.log(ctx, run.LevelError, fmt.Sprintf("Fetching %s stopped after %d pages", section, res.Pages),
			map[string]any{"error": err.Error()})
	}
	return res.Items
}

// ingestItems upserts items in order. Per-item failures are counted and
// logged; malformed records are quarantined and never written.
func ingestItems[T any](ctx context.Context, t *tracker, entity string, items []T, idOf func(T) string, upsert func(context.Context, T) (ingest.Decision, error)) error {
	total := len(items)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.counts.ItemsProcessed++

		decision, err := upsert(ctx, item)
		if err != nil {
			t.counts.Errors++
			id := idOf(item)
			if errors.Is(err, listing.ErrMalformedRecord) {
				t.logger.Warn("quarantined malformed record",
					slog.String("entity", entity), slog.String("external_id", id), slog.Any("error", err))
				t.log(ctx, run.LevelWarn, fmt.Sprintf("Skipped malformed %s %q", entity, id),
					map[string]any{"error": err.Error()})
			} else {
				t.logger.Error("upserting record",
					slog.String("entity", entity), slog.String("external_id", id), slog.Any("error", err))
				t.log(ctx, run.LevelError, fmt.Sprintf("Failed to store %s %q", entity, id),
					map[string]any{"error": err.Error()})
			}
			continue
		}
		switch decision {
		case ingest.Created:
			t.counts.Created++
		case ingest.Updated:
			t.counts.Updated++
		case ingest.Unchanged:
			t.counts.Unchanged++
		}

		if (i+1)%10 == 0 || i+1 == total {
			t.progress(ctx, 0.3+0.7*float64(i+1)/float64(total),
				fmt.Sprintf("Processed %d/%d %ss", i+1, total, entity))
		}
	}
	t.log(ctx, run.LevelInfo, fmt.Sprintf("Processed %d %ss", total, entity), nil)
	return nil
}

func (o *Orchestrator) linkStage(ctx context.Context, t *tracker, mode linkMode) error {
	events, err := o.events.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing events for linking: %w", err)
	}
	var text *TextSourced
	if mode != linkLineupOnly {
		artists, err := o.artists.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("listing artists for linking: %w", err)
		}
		text = NewTextSourced(artists)
	}
	t.log(ctx, run.LevelInfo, fmt.Sprintf("Linking %d events", len(events)), nil)

	rc := RunContext{RunID: t.runID, Progress: func(p int, msg string) { t.progress(ctx, float64(p)/100, msg) }}
	for i := range events {
		if rc.stopped(ctx) {
			return ctx.Err()
		}
		ev := &events[i]
		out := o.linkEvent(ctx, rc, ev, mode, text)
		t.counts.ItemsProcessed++
		t.counts.LinksAdded += out.Links.Added
		t.counts.HighConfidence += out.Links.HighConfidence
		t.counts.StubsCreated += out.StubsCreated
		t.counts.Errors += out.Errors
		if out.LineupErr != nil {
			t.log(ctx, run.LevelError, fmt.Sprintf("Lineup fetch failed for event %q", ev.ExternalID),
				map[string]any{"error": out.LineupErr.Error(), "url": ev.URL})
		}
		rc.report(100*(i+1)/len(events), fmt.Sprintf("Linked event %d/%d", i+1, len(events)))
	}
	return nil
}

// eventOutcome is the result of reconciling one event.
type eventOutcome struct {
	Mentions     int
	StubsCreated int
	Errors       int
	Links        LinkStats
	LineupErr    error
}

// linkEvent resolves and links one event. The detail page lineup is tried
// first when allowed; text matching covers events without a parsed lineup.
// Failures are logged and counted, never returned.
func (o *Orchestrator) linkEvent(ctx context.Context, rc RunContext, ev *event.Event, mode linkMode, text *TextSourced) eventOutcome {
	var out eventOutcome
	var candidates []Candidate
	haveLineup := false

	if mode != linkTextOnly && o.lineup != nil && ev.URL != "" {
		res, err := o.lineup.Resolve(ctx, rc, ev)
		o.publishUpstream(provider.NameLineup, err)
		if err != nil {
			out.Errors++
			out.LineupErr = err
			o.logger.Error("parsing event lineup",
				slog.String("event", ev.ExternalID),
				slog.String("url", ev.URL),
				slog.String("run_id", rc.RunID),
				slog.Any("error", err))
		}
		out.Mentions += res.Mentions
		out.StubsCreated += res.StubsCreated
		out.Errors += res.Errors
		candidates = append(candidates, res.Candidates...)
		if res.Parsed {
			if err := o.events.MarkLineupParsed(ctx, ev.ID); err != nil {
				o.logger.Warn("marking lineup parsed", slog.String("event", ev.ExternalID), slog.Any("error", err))
			}
			haveLineup = res.Mentions > 0
		}
	}

	if !haveLineup && text != nil {
		res, _ := text.Resolve(ctx, rc, ev)
		candidates = append(candidates, res.Candidates...)
	}

	out.Links = o.linker.Apply(ctx, rc, ev.ID, candidates)
	out.Errors += out.Links.Errors
	return out
}

func (o *Orchestrator) publishUpstream(name provider.UpstreamName, err error) {
	outcome := "ok"
	var nf *provider.ErrNotFound
	switch {
	case errors.As(err, &nf):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	o.bus.Publish(bus.UpstreamCalled, map[string]any{"upstream": string(name), "outcome": outcome})
}

// Enrich annotates one artist through the enrichment collaborator. The
// content hash and last-updated timestamp are left unchanged.
func (o *Orchestrator) Enrich(ctx context.Context, artistID string) (*artist.Artist, error) {
	if o.enricher == nil {
		return nil, ErrEnrichmentDisabled
	}
	a, err := o.artists.GetByID(ctx, artistID)
	if err != nil {
		return nil, err
	}

	found, err := o.enricher.Enrich(ctx, a.Title)
	o.publishUpstream(o.enricher.Name(), err)
	if err != nil {
		return nil, fmt.Errorf("enriching %q: %w", a.Title, err)
	}

	now := time.Now().UTC()
	e := artist.Enrichment{
		Provider:   string(found.Provider),
		ProviderID: found.ProviderID,
		Popularity: found.Popularity,
		URL:        found.Link,
		Image:      found.Picture,
		EnrichedAt: &now,
	}
	if err := o.artists.UpdateEnrichment(ctx, a.ID, e); err != nil {
		return nil, err
	}
	a.Enrichment = e
	o.logger.Info("artist enriched",
		slog.String("artist_id", a.ID),
		slog.String("provider", e.Provider),
		slog.Int("popularity", e.Popularity))
	return a, nil
}

// tracker accumulates a run's counters and writes them with its progress.
// Only the goroutine executing the run touches it.
type tracker struct {
	runs   *run.Service
	runID  string
	logger *slog.Logger
	counts run.Counts
	// base and span map the current stage's fraction onto the run's percent.
	base, span int
}

func (t *tracker) progress(ctx context.Context, fraction float64, message string) {
	fraction = max(0, min(fraction, 1))
	percent := t.base + int(fraction*float64(t.span))
	if err := t.runs.UpdateProgress(ctx, t.runID, t.counts, percent); err != nil && ctx.Err() == nil {
		t.logger.Warn("updating run progress", slog.Any("error", err))
	}
	t.logger.Debug(message, slog.Int("percent", percent))
}

func (t *tracker) log(ctx context.Context, level run.Level, message string, details map[string]any) {
	if err := t.runs.AppendLog(ctx, t.runID, level, message, details); err != nil {
		t.logger.Warn("appending progress log", slog.Any("error", err))
	}
}
