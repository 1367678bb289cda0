// Package app wires Rinko together: storage, backends, the chat transport,
// the workflow engine and the HTTP health server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Rinko/common/version"
	"github.com/bdobrica/Rinko/internal/rinko/audit"
	"github.com/bdobrica/Rinko/internal/rinko/cache"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/commands"
	"github.com/bdobrica/Rinko/internal/rinko/config"
	"github.com/bdobrica/Rinko/internal/rinko/matrix"
	"github.com/bdobrica/Rinko/internal/rinko/metrics"
	"github.com/bdobrica/Rinko/internal/rinko/monitor"
	"github.com/bdobrica/Rinko/internal/rinko/nas"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
	"github.com/bdobrica/Rinko/internal/rinko/plex"
	"github.com/bdobrica/Rinko/internal/rinko/qbittorrent"
	"github.com/bdobrica/Rinko/internal/rinko/radarr"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
	"github.com/bdobrica/Rinko/internal/rinko/store"
	"github.com/bdobrica/Rinko/internal/rinko/telegram"
	"github.com/bdobrica/Rinko/internal/rinko/tmdb"
	"github.com/bdobrica/Rinko/internal/rinko/workflow"
)

// Service is the URL and API key of an *arr instance.
type Service struct {
	URL    string
	APIKey string
}

// Config holds application configuration
type Config struct {
	DatabasePath string
	// CachePath is the bbolt file holding the series cache snapshot.
	CachePath string
	// HTTPAddr is the TCP address for the health, status and metrics
	// server (e.g. ":8080"). When empty the server is disabled.
	HTTPAddr string

	// Telegram is used when its token is set; Matrix otherwise.
	Telegram telegram.Config
	// AdminChatID is the Telegram chat that receives operator notices and
	// may run admin commands.
	AdminChatID string
	Matrix      matrix.Config
	// MatrixAdminRoom is AdminChatID for Matrix.
	MatrixAdminRoom string

	NLP nlp.Config
	// NLPRateLimit is the number of classifier calls allowed per
	// conversation per minute. Defaults to nlp.DefaultRateLimit.
	NLPRateLimit int

	Sonarr      Service
	Radarr      Service
	TMDBAPIKey  string
	Plex        plex.Config
	QBittorrent qbittorrent.Config
	NAS         nas.Config

	// Workflow holds the defaults the workflows fall back to when no
	// runtime override is set.
	Workflow workflow.Settings
	// PendingTTL expires confirmation prompts nobody answered. Zero keeps
	// them until they are superseded.
	PendingTTL time.Duration

	Logger *slog.Logger
}

// Transport is a chat transport with its own receive loop.
type Transport interface {
	chat.Transport
	Name() string
	Run(ctx context.Context, h chat.Handler) error
}

// App is a wired Rinko instance.
type App struct {
	config     Config
	log        *slog.Logger
	store      *store.Store
	snapshots  *cache.BoltPersister
	transport  Transport
	admin      string
	notifier   audit.Notifier
	scheduler  *cache.Scheduler
	monitors   *monitor.Registry
	engine     *workflow.Engine
	handlers   *commands.Handlers
	dispatcher *Dispatcher
	health     *HealthServer
}

// New opens the database and cache, connects nothing yet and wires every
// component. Close releases what New opened.
func New(cfg Config) (*App, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	log.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &App{config: cfg, log: log, store: st}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openTransport(); err != nil {
		return nil, err
	}
	if a.admin != "" {
		a.notifier = audit.NewChatNotifier(a.transport, a.admin)
		log.Info("operator notices enabled", "conv", a.admin)
	} else {
		a.notifier = audit.Noop{}
	}

	rec := metrics.New()
	overrides := config.New(st)

	son := sonarr.New(cfg.Sonarr.URL, cfg.Sonarr.APIKey)
	rad := radarr.New(cfg.Radarr.URL, cfg.Radarr.APIKey)
	px := plex.New(cfg.Plex)
	qb := qbittorrent.New(cfg.QBittorrent)
	collections := tmdb.New(cfg.TMDBAPIKey, "")
	share := nas.New(cfg.NAS)
	if cfg.NAS.UseSSH() {
		log.Info("NAS: using SSH", "host", cfg.NAS.SSHHost)
	}

	a.snapshots, err = cache.OpenBolt(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	library := cache.New(son, cache.WithPersister(a.snapshots))
	a.scheduler = cache.NewScheduler(library, a.notifier, rec)

	a.monitors = monitor.NewRegistry(monitor.NewSonarrBackend(son), a.transport,
		monitor.WithObserver(rec),
		monitor.WithLogger(log),
	)

	llm := nlp.New(cfg.NLP)
	if !llm.Configured() {
		log.Warn("NLP: no API key configured; only slash commands will work")
	}
	classifier := nlp.NewClassifier(llm, cfg.NLP.Catalogue, rec)

	a.engine = workflow.New(workflow.Deps{
		Transport:   a.transport,
		Store:       pending.NewMemory(cfg.PendingTTL),
		Library:     library,
		Sonarr:      son,
		Radarr:      rad,
		Plex:        px,
		Torrents:    qb,
		Collections: collections,
		NAS:         share,
		Resolver:    classifier,
		Monitors:    a.monitors,
		Overrides:   overrides,
		Recorder:    &failureRecorder{Recorder: rec, notify: a.notifier},
		Auditor:     audit.NewLog(st, a.notifier, log),
		Catalogue:   cfg.NLP.Catalogue,
		Settings:    cfg.Workflow,
		Logger:      log,
	})

	var admins []string
	if a.admin != "" {
		admins = []string{a.admin}
	}
	a.handlers = commands.NewHandlers(commands.HandlersConfig{
		Audit:       st,
		ConfigStore: overrides,
		Notifier:    a.notifier,
		Workflows:   a.engine,
		Monitors:    a.monitors,
		Library:     library,
		Refresher:   a.scheduler,
		Model:       llm,
		Services: []commands.Service{
			{Name: "Sonarr", Configured: son.Configured()},
			{Name: "Radarr", Configured: rad.Configured()},
			{Name: "Plex", Configured: px.Configured()},
			{Name: "qBittorrent", Configured: qb.Configured()},
			{Name: "TMDB", Configured: collections.Configured()},
			{Name: "OpenAI", Configured: llm.Configured()},
		},
		Admins:    admins,
		Transport: a.transport.Name(),
		Started:   time.Now(),
		Logger:    log,
	})
	router := commands.NewRouter()
	a.handlers.Register(router)

	a.dispatcher = NewDispatcher(DispatcherConfig{
		Transport:  a.transport,
		Name:       a.transport.Name(),
		Router:     router,
		Classifier: classifier,
		Limiter:    nlp.NewRateLimiter(cfg.NLPRateLimit, time.Minute),
		Workflows:  a.engine,
		Observer:   rec,
		Logger:     log,
	})

	if cfg.HTTPAddr != "" {
		checks := []Check{{Name: "database", Ping: st.Ping, Critical: true}}
		if son.Configured() {
			checks = append(checks, Check{Name: "sonarr", Ping: son.Ping})
		}
		a.health = NewHealthServer(cfg.HTTPAddr, a.handlers, checks...)
		a.health.Handle("GET /metrics", rec.Handler())
		log.Info("health server configured", "addr", cfg.HTTPAddr)
	}

	ok = true
	return a, nil
}

// openTransport picks Telegram when a bot token is configured and Matrix
// otherwise.
func (a *App) openTransport() error {
	cfg := a.config
	switch {
	case cfg.Telegram.Token != "":
		if cfg.Telegram.Logger == nil {
			cfg.Telegram.Logger = a.log
		}
		bot, err := telegram.New(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("failed to create Telegram bot: %w", err)
		}
		a.transport, a.admin = bot, cfg.AdminChatID
	case cfg.Matrix.Homeserver != "":
		mc := cfg.Matrix
		mc.DB = a.store.DB()
		if mc.Logger == nil {
			mc.Logger = a.log
		}
		a.log.Info("connecting to Matrix", "homeserver", mc.Homeserver)
		client, err := matrix.New(mc)
		if err != nil {
			return fmt.Errorf("failed to create Matrix client: %w", err)
		}
		a.transport, a.admin = client, cfg.MatrixAdminRoom
	default:
		return errors.New("no chat transport configured: set TG_BOT_TOKEN or MATRIX_HOMESERVER")
	}
	return nil
}

// Run warms the cache and serves the transport until ctx is cancelled, then
// waits for in-flight turns and workflows to finish.
func (a *App) Run(ctx context.Context) error {
	a.handlers.ApplyStored(ctx)

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			a.log.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	a.scheduler.Warm(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.log.Info("starting chat transport", "transport", a.transport.Name())
		if err := a.transport.Run(gctx, a.dispatcher); err != nil {
			return fmt.Errorf("%s transport: %w", a.transport.Name(), err)
		}
		return nil
	})

	a.notifier.Notify(ctx, audit.Event{
		Kind:    audit.KindStartup,
		Message: "Rinko " + version.Version + " started. Send /help for commands.",
	})
	a.log.Info("Rinko is running", "version", version.Version, "transport", a.transport.Name())

	err := g.Wait()
	a.log.Info("shutting down")
	a.dispatcher.Wait()
	a.engine.Wait()
	return err
}

// Close stops the monitors and releases the cache and database.
func (a *App) Close() {
	if a.monitors != nil {
		a.monitors.Close()
	}
	if a.health != nil {
		a.health.Stop()
	}
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			a.log.Warn("closing cache", "err", err)
		}
	}
	a.log.Info("closing database")
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing database", "err", err)
	}
}

// failureRecorder forwards workflow metrics and tells the operator about
// workflows that failed or panicked.
type failureRecorder struct {
	workflow.Recorder
	notify audit.Notifier
}

func (r *failureRecorder) WorkflowFinished(intent, outcome string) {
	r.Recorder.WorkflowFinished(intent, outcome)
	if outcome != workflow.OutcomeFailed && outcome != workflow.OutcomePanic {
		return
	}
	r.notify.Notify(context.Background(), audit.Event{
		Kind:    audit.KindWorkflowFailed,
		Target:  intent,
		Message: fmt.Sprintf("%s workflow ended with outcome %q", intent, outcome),
	})
}
