package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/lineup/internal/api"
	"github.com/sydlexius/lineup/internal/api/middleware"
	"github.com/sydlexius/lineup/internal/artist"
	"github.com/sydlexius/lineup/internal/bus"
	"github.com/sydlexius/lineup/internal/changelog"
	"github.com/sydlexius/lineup/internal/config"
	"github.com/sydlexius/lineup/internal/database"
	"github.com/sydlexius/lineup/internal/event"
	"github.com/sydlexius/lineup/internal/ingest"
	"github.com/sydlexius/lineup/internal/lineup"
	"github.com/sydlexius/lineup/internal/link"
	"github.com/sydlexius/lineup/internal/listing"
	"github.com/sydlexius/lineup/internal/logging"
	"github.com/sydlexius/lineup/internal/maintenance"
	"github.com/sydlexius/lineup/internal/metrics"
	"github.com/sydlexius/lineup/internal/progress"
	"github.com/sydlexius/lineup/internal/provider"
	"github.com/sydlexius/lineup/internal/provider/deezer"
	"github.com/sydlexius/lineup/internal/reconcile"
	"github.com/sydlexius/lineup/internal/run"
	"github.com/sydlexius/lineup/internal/watcher"
)

const usage = `usage: lineup [command]

commands:
  serve                              start the HTTP server (default)
  sync [artists|events|linking|both] run one sync in the foreground and exit
  match                              link events to artists by text matching and exit
`

func main() {
	cmd := "serve"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "sync":
		st := run.SyncBoth
		if len(args) > 0 {
			var ok bool
			if st, ok = run.ParseSyncType(args[0]); !ok {
				fmt.Fprintf(os.Stderr, "unknown sync type %q\n\n%s", args[0], usage)
				os.Exit(2)
			}
		}
		err = once(func(ctx context.Context, o *reconcile.Orchestrator) (*run.Run, error) {
			return o.Run(ctx, st)
		})
	case "match":
		err = once(func(ctx context.Context, o *reconcile.Orchestrator) (*run.Run, error) {
			return o.MatchText(ctx)
		})
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired services shared by every command.
type app struct {
	cfg        *config.Config
	configPath string
	logManager *logging.Manager
	logger     *slog.Logger
	db         *sql.DB
	bus        *bus.Bus
	metrics    *metrics.Collector
	progress   *progress.MemoryStore

	artists *artist.Service
	events  *event.Service
	links   *link.Service
	runs    *run.Service
	changes *changelog.Service

	orchestrator *reconcile.Orchestrator
	batch        *reconcile.BatchExecutor
	maintenance  *maintenance.Service
}

func setup() (*app, error) {
	configPath := os.Getenv("LU_CONFIG_PATH")
	if configPath == "" {
		configPath = "/data/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(logging.Config(cfg.Logging))
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logManager.Close() //nolint:errcheck
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		logManager.Close() //nolint:errcheck
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	a := &app{
		cfg:        cfg,
		configPath: configPath,
		logManager: logManager,
		logger:     logger,
		db:         db,
		bus:        bus.New(logger, 256),
		progress:   progress.NewMemoryStore(cfg.Progress.SweepInterval),
		artists:    artist.NewService(db),
		events:     event.NewService(db),
		links:      link.NewService(db),
		runs:       run.NewService(db),
		changes:    changelog.NewService(db),
	}

	// Runs left running by a previous process can never finish.
	if n, err := a.runs.FailInterrupted(context.Background()); err != nil {
		logger.Warn("marking interrupted runs", slog.Any("error", err))
	} else if n > 0 {
		logger.Warn("marked interrupted runs as failed", slog.Int("count", n))
	}

	a.metrics = metrics.New(a.progress.Active)
	a.metrics.Subscribe(a.bus)

	limiter := provider.NewRateLimiterMap()
	limiter.SetInterval(provider.NameListing, cfg.Listing.PageDelay)
	limiter.SetInterval(provider.NameLineup, cfg.Lineup.PageDelay)

	listingClient := listing.NewClient(listing.ClientConfig{
		BaseURL:     cfg.Listing.BaseURL,
		ArtistsPath: cfg.Listing.ArtistsPath,
		EventsPath:  cfg.Listing.EventsPath,
		Timeout:     cfg.Listing.Timeout,
	}, limiter, logger)
	if cfg.Listing.BaseURL == "" {
		logger.Warn("listing base_url not configured; artist and event syncs will fail")
	}

	fetcher := lineup.NewFetcher(lineup.FetcherConfig{
		UserAgent: cfg.Lineup.UserAgent,
		Timeout:   cfg.Lineup.Timeout,
	}, lineup.NewParser(cfg.Lineup.ProfileSegment), limiter, logger)

	deps := reconcile.Deps{
		Listing: listingClient,
		Lineup:  fetcher,
		Engine:  ingest.NewEngine(a.db, a.artists, a.events, a.changes, a.bus, logger),
		Artists: a.artists,
		Events:  a.events,
		Links:   a.links,
		Runs:    a.runs,
		Bus:     a.bus,
	}
	if cfg.Enrichment.Enabled {
		deps.Enricher = deezer.NewWithBaseURL(limiter, logger, cfg.Enrichment.DeezerBaseURL).
			WithMinConfidence(cfg.Matching.MinConfidence)
	}

	a.orchestrator = reconcile.NewOrchestrator(deps, reconcile.Options{
		Query: listing.Query{
			FromDate:   cfg.Listing.FromDate,
			ToDate:     cfg.Listing.ToDate,
			TypeFilter: cfg.Listing.TypeFilter,
		},
		MaxPages: cfg.Listing.MaxPages,
		Thresholds: reconcile.Thresholds{
			Min:  cfg.Matching.MinConfidence,
			High: cfg.Matching.HighConfidence,
		},
	}, logger)
	a.batch = reconcile.NewBatchExecutor(a.orchestrator, a.progress, cfg.Progress.Retention, logger)
	a.maintenance = maintenance.NewService(db, cfg.Database.Path, logger)
	return a, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", "error", err)
	}
	a.logManager.Close() //nolint:errcheck
}

// reloadLogging applies the logging section of the config file at runtime.
func (a *app) reloadLogging() error {
	lc, err := config.LoadLogging(a.configPath)
	if err != nil {
		return err
	}
	if a.logManager.Reconfigure(logging.Config(lc)) {
		a.logger.Info("logging output reconfigured", slog.String("format", lc.Format), slog.String("file", lc.FilePath))
	} else {
		a.logger.Info("logging level updated", slog.String("level", lc.Level))
	}
	return nil
}

func serve() error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := api.NewRouter(api.RouterDeps{
		ArtistService:      a.artists,
		EventService:       a.events,
		LinkService:        a.links,
		RunService:         a.runs,
		ChangeLogService:   a.changes,
		Orchestrator:       a.orchestrator,
		BatchExecutor:      a.batch,
		MaintenanceService: a.maintenance,
		Metrics:            a.metrics.Handler(),
		TriggerLimiter:     middleware.NewTriggerRateLimiter(ctx, 2*time.Second, 5),
		Logger:             logger,
		BasePath:           a.cfg.Server.BasePath,
	})

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.bus.Start()
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", a.cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.cfg.Schedule.SyncInterval > 0 {
		g.Go(func() error {
			reconcile.NewScheduler(a.orchestrator, logger).Start(gctx, a.cfg.Schedule.SyncInterval)
			return nil
		})
	}
	g.Go(func() error {
		a.maintenance.StartScheduler(gctx, a.cfg.Schedule.OptimizeInterval)
		return nil
	})
	g.Go(func() error {
		watcher.New(a.configPath, a.reloadLogging, logger).Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		a.orchestrator.Stop()
		a.orchestrator.Wait()
		a.batch.Shutdown()
		a.bus.Stop()
		return err
	})

	return g.Wait()
}

// once runs a single pipeline execution in the foreground and prints the
// finished run as JSON.
func once(fn func(context.Context, *reconcile.Orchestrator) (*run.Run, error)) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.bus.Start()
	defer a.bus.Stop()

	r, err := fn(ctx, a.orchestrator)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("printing run: %w", err)
	}
	if r.Status == run.StatusError {
		return fmt.Errorf("run %s failed: %s", r.ID, r.ErrorMessage)
	}
	return nil
}
