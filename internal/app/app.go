// Package app initializes and holds the long-lived harvester services, acting
// as the dependency container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/api"
	"github.com/JakeFAU/webcam-harvester/internal/config"
	"github.com/JakeFAU/webcam-harvester/internal/dispatcher"
	"github.com/JakeFAU/webcam-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/webcam-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/webcam-harvester/internal/id/uuid"
	"github.com/JakeFAU/webcam-harvester/internal/metadata"
	"github.com/JakeFAU/webcam-harvester/internal/metadata/filestore"
	"github.com/JakeFAU/webcam-harvester/internal/metrics"
	"github.com/JakeFAU/webcam-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/webcam-harvester/internal/scraper"
	"github.com/JakeFAU/webcam-harvester/internal/scraper/opentopia"
	"github.com/JakeFAU/webcam-harvester/internal/session"
	"github.com/JakeFAU/webcam-harvester/internal/storage/gcs"
	"github.com/JakeFAU/webcam-harvester/internal/storage/postgres"
	"github.com/JakeFAU/webcam-harvester/internal/webcam"
)

// App holds the services shared by every command for one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	fetcher  fetcher.Fetcher
	limiter  *ratelimit.Limiter
	registry *scraper.Registry
	store    *metadata.Store
	sessions *postgres.SessionStore
	mirror   *gcs.Mirror
}

// New opens the metadata store and the optional session history and frame
// mirror. It fails fast when any configured service is unavailable; a
// corrupt metadata store is always fatal.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	registry := scraper.NewRegistry()
	if err := opentopia.Register(registry); err != nil {
		return nil, fmt.Errorf("register scrapers: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Scrape.UserAgent,
			Timeout:   cfg.Scrape.FetchTimeout,
		}),
		limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Scrape.RateLimitRPS,
			DefaultBurst: cfg.Scrape.RateLimitBurst,
		}),
		registry: registry,
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	store, err := metadata.Open(ctx, backend, logger.Named("metadata"))
	if err != nil {
		return nil, err
	}
	a.store = store

	if cfg.Sessions.Record {
		logger.Info("recording session history", zap.String("table", cfg.Sessions.Table))
		a.sessions, err = postgres.NewSessionStore(ctx, a.poolConfig(), cfg.Sessions.Table)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open session history: %w", err), a.Close(ctx))
		}
	}

	if cfg.Frames.GCSBucket != "" {
		logger.Info("mirroring frames to gcs",
			zap.String("bucket", cfg.Frames.GCSBucket),
			zap.String("prefix", cfg.Frames.GCSPrefix))
		a.mirror, err = gcs.Connect(ctx, gcs.Config{
			Bucket: cfg.Frames.GCSBucket,
			Prefix: cfg.Frames.GCSPrefix,
		}, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open frame mirror: %w", err), a.Close(ctx))
		}
	}
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (metadata.Backend, error) {
	switch a.cfg.Metadata.Backend {
	case config.BackendPostgres:
		a.logger.Info("using postgres metadata backend", zap.String("table", a.cfg.Metadata.Table))
		backend, err := postgres.NewMetadataBackend(ctx, a.poolConfig(), a.cfg.Metadata.Table)
		if err != nil {
			return nil, fmt.Errorf("open postgres metadata backend: %w", err)
		}
		return backend, nil
	case config.BackendFile, "":
		a.logger.Info("using file metadata backend", zap.String("path", a.cfg.Metadata.Path))
		backend, err := filestore.New(a.cfg.Metadata.Path, a.logger.Named("filestore"))
		if err != nil {
			return nil, fmt.Errorf("open metadata file: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown metadata backend: %s", a.cfg.Metadata.Backend)
	}
}

func (a *App) poolConfig() postgres.PoolConfig {
	return postgres.PoolConfig{
		DSN:             a.cfg.Postgres.DSN,
		MaxConns:        a.cfg.Postgres.MaxConns,
		MinConns:        a.cfg.Postgres.MinConns,
		MaxConnLifetime: a.cfg.Postgres.MaxConnLifetime,
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the metadata store.
func (a *App) Store() *metadata.Store { return a.store }

// Sources lists the registered scraper names.
func (a *App) Sources() []string { return a.registry.Names() }

// Sessions returns the session history reader, or nil when history is off.
func (a *App) Sessions() api.SessionReader {
	if a.sessions == nil {
		return nil
	}
	return a.sessions
}

func (a *App) recorder() session.Recorder {
	if a.sessions == nil {
		return nil
	}
	return a.sessions
}

// InstallScraper builds the scraper for source and installs it on the store.
func (a *App) InstallScraper(source string) error {
	s, err := a.registry.New(source, scraper.Options{
		Fetcher: a.fetcher,
		Limiter: a.limiter,
		BaseURL: a.cfg.Scrape.BaseURL,
		Timeout: a.cfg.Scrape.FetchTimeout,
		Logger:  a.logger.Named("scraper"),
	})
	if err != nil {
		return fmt.Errorf("build scraper: %w", err)
	}
	a.store.SetScraper(s)
	return nil
}

// Resolve looks up or scrapes metadata for every identifier with the
// installed scraper. Identifiers that resolve to nothing are skipped.
func (a *App) Resolve(ctx context.Context, source string, identifiers []string) ([]metadata.Metadata, error) {
	out := make([]metadata.Metadata, 0, len(identifiers))
	for _, id := range identifiers {
		m, ok, err := a.store.Get(ctx, id, source)
		if err != nil {
			return out, fmt.Errorf("resolve %s/%s: %w", source, id, err)
		}
		if !ok {
			a.logger.Warn("no metadata for webcam", zap.String("source", source), zap.String("identifier", id))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Webcams binds each record to the configured frame root, fetcher and
// mirror.
func (a *App) Webcams(records []metadata.Metadata) []*webcam.Webcam {
	opts := webcam.Options{
		Root:    a.cfg.Frames.Dir,
		Fetcher: a.fetcher,
		Logger:  a.logger.Named("webcam"),
	}
	if a.mirror != nil {
		opts.Mirror = a.mirror
	}
	cams := make([]*webcam.Webcam, 0, len(records))
	for _, m := range records {
		cams = append(cams, webcam.New(m, opts))
	}
	return cams
}

// RunSession runs one frame-harvesting session over cams using the
// configured timing and pool size.
func (a *App) RunSession(ctx context.Context, source string, cams []*webcam.Webcam) (dispatcher.Result, error) {
	runner := session.NewRunner(uuid.New(), a.recorder(), a.logger.Named("session"))
	result, err := runner.Run(ctx, session.Config{
		Source:       source,
		Webcams:      cams,
		Period:       a.cfg.Scrape.Period,
		Duration:     a.cfg.Scrape.Duration,
		Workers:      a.cfg.Scrape.Workers,
		FetchTimeout: a.cfg.Scrape.FetchTimeout,
	})
	if err != nil {
		return result, fmt.Errorf("run session: %w", err)
	}
	return result, nil
}

// StatusServer builds the read-only status API over the store and history.
func (a *App) StatusServer() *api.Server {
	return api.NewServer(a.store, a.Sessions(), api.Config{
		FramesDir: a.cfg.Frames.Dir,
	}, a.logger.Named("api"))
}

// Close flushes the metadata store once and releases every service.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close metadata store: %w", err))
		}
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close frame mirror: %w", err))
		}
	}
	return errors.Join(errs...)
}
