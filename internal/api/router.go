package api

import (
	"log/slog"
	"net/http"

	"github.com/sydlexius/lineup/internal/api/middleware"
	"github.com/sydlexius/lineup/internal/artist"
	"github.com/sydlexius/lineup/internal/changelog"
	"github.com/sydlexius/lineup/internal/event"
	"github.com/sydlexius/lineup/internal/link"
	"github.com/sydlexius/lineup/internal/maintenance"
	"github.com/sydlexius/lineup/internal/reconcile"
	"github.com/sydlexius/lineup/internal/run"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	ArtistService      *artist.Service
	EventService       *event.Service
	LinkService        *link.Service
	RunService         *run.Service
	ChangeLogService   *changelog.Service
	Orchestrator       *reconcile.Orchestrator
	BatchExecutor      *reconcile.BatchExecutor
	MaintenanceService *maintenance.Service
	Metrics            http.Handler
	TriggerLimiter     *middleware.TriggerRateLimiter
	Logger             *slog.Logger
	BasePath           string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	artistService      *artist.Service
	eventService       *event.Service
	linkService        *link.Service
	runService         *run.Service
	changeLogService   *changelog.Service
	orchestrator       *reconcile.Orchestrator
	batchExecutor      *reconcile.BatchExecutor
	maintenanceService *maintenance.Service
	metrics            http.Handler
	triggerLimiter     *middleware.TriggerRateLimiter
	logger             *slog.Logger
	basePath           string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		artistService:      deps.ArtistService,
		eventService:       deps.EventService,
		linkService:        deps.LinkService,
		runService:         deps.RunService,
		changeLogService:   deps.ChangeLogService,
		orchestrator:       deps.Orchestrator,
		batchExecutor:      deps.BatchExecutor,
		maintenanceService: deps.MaintenanceService,
		metrics:            deps.Metrics,
		triggerLimiter:     deps.TriggerLimiter,
		logger:             deps.Logger.With(slog.String("component", "api")),
		basePath:           deps.BasePath,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)
	if r.metrics != nil {
		mux.Handle("GET "+bp+"/metrics", r.metrics)
	}

	// Pipeline triggers
	mux.HandleFunc("POST "+bp+"/api/v1/lineup/batch", r.limit(r.handleBatchStart))
	mux.HandleFunc("GET "+bp+"/api/v1/lineup/batch", r.handleBatchStatus)
	mux.HandleFunc("DELETE "+bp+"/api/v1/lineup/batch", r.handleBatchCancel)
	mux.HandleFunc("POST "+bp+"/api/v1/sync", r.limit(r.handleSyncStart))
	mux.HandleFunc("GET "+bp+"/api/v1/sync", r.handleSyncActive)
	mux.HandleFunc("DELETE "+bp+"/api/v1/sync", r.handleSyncStop)

	// Artists
	mux.HandleFunc("GET "+bp+"/api/v1/artists", r.handleListArtists)
	mux.HandleFunc("GET "+bp+"/api/v1/artists/{id}", r.handleGetArtist)
	mux.HandleFunc("POST "+bp+"/api/v1/artists/{id}/enrich", r.limit(r.handleEnrichArtist))

	// Events
	mux.HandleFunc("GET "+bp+"/api/v1/events", r.handleListEvents)
	mux.HandleFunc("GET "+bp+"/api/v1/events/{id}", r.handleGetEvent)
	mux.HandleFunc("GET "+bp+"/api/v1/events/{id}/links", r.handleEventLinks)

	// Runs and audit trail
	mux.HandleFunc("GET "+bp+"/api/v1/runs", r.handleListRuns)
	mux.HandleFunc("GET "+bp+"/api/v1/runs/{id}", r.handleGetRun)
	mux.HandleFunc("GET "+bp+"/api/v1/runs/{id}/logs", r.handleRunLogs)
	mux.HandleFunc("GET "+bp+"/api/v1/runs/{id}/changes", r.handleRunChanges)
	mux.HandleFunc("GET "+bp+"/api/v1/changelog/{entity}/{externalId}", r.handleEntityChanges)

	// Maintenance
	mux.HandleFunc("GET "+bp+"/api/v1/maintenance/status", r.handleMaintenanceStatus)
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/optimize", r.handleMaintenanceOptimize)

	return middleware.Logging(r.logger)(mux)
}

// limit applies the trigger rate limiter when one is configured.
func (r *Router) limit(fn http.HandlerFunc) http.HandlerFunc {
	if r.triggerLimiter == nil {
		return fn
	}
	return r.triggerLimiter.Wrap(fn)
}
