// Package bootstrap assembles the collector, ledger, pricing backend and
// pipeline from configuration for the CLI and the daemon.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"slices"

	appbilling "github.com/usagebill/backend/internal/application/billing"
	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
	"github.com/usagebill/backend/internal/infrastructure/cache"
	"github.com/usagebill/backend/internal/infrastructure/collector"
	"github.com/usagebill/backend/internal/infrastructure/config"
	"github.com/usagebill/backend/internal/infrastructure/erp"
	"github.com/usagebill/backend/internal/infrastructure/logger"
	"github.com/usagebill/backend/internal/infrastructure/persistence"
	"github.com/usagebill/backend/internal/infrastructure/persistence/memory"
	"github.com/usagebill/backend/internal/infrastructure/resilience"
	"github.com/usagebill/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Options selects how the application is assembled
type Options struct {
	ConfigPath string
	Version    string
	// DryRun keeps the ledger in memory and skips the database
	DryRun bool
	// LogLevel overrides log.level when set
	LogLevel string
}

// App holds the wired components
type App struct {
	Config    *config.Config
	Watcher   *config.Watcher
	Logger    *zap.Logger
	Telemetry *telemetry.Providers
	Database  *persistence.Database
	Ledger    billing.LedgerRepository
	Locker    shared.Locker
	Source    *collector.Source
	Backend   billing.PricingBackend
	Catalog   *cache.CatalogCache
	Archiver  billing.QuotationArchiver

	Pipeline      *appbilling.PipelineService
	LedgerService *appbilling.LedgerService
	Exporter      *telemetry.CollectorExporter

	closers []func(context.Context) error
}

// New loads configuration and wires every component. On error, whatever was
// already started is shut down.
func New(ctx context.Context, opts Options) (app *App, err error) {
	cfg, err := config.LoadFile(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app = &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	if err = app.initTelemetry(ctx, opts.Version); err != nil {
		return nil, err
	}
	if app.Watcher, err = config.NewWatcher(opts.ConfigPath, app.Logger); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if err = app.initLedger(opts.DryRun); err != nil {
		return nil, err
	}
	if err = app.initLocker(); err != nil {
		return nil, err
	}

	retry := resilience.NewRetryer(resilience.RetryConfig{
		MaxAttempts:     cfg.Pipeline.RetryMaxAttempts,
		InitialInterval: cfg.Pipeline.RetryInitialInterval,
		MaxInterval:     cfg.Pipeline.RetryMaxInterval,
	}, app.Logger)

	if err = app.initCollector(retry); err != nil {
		return nil, err
	}
	if err = app.initPricing(ctx, retry); err != nil {
		return nil, err
	}
	if err = app.initPipeline(opts.DryRun); err != nil {
		return nil, err
	}

	app.Logger.Info("Application assembled",
		zap.String("config_file", cfg.File),
		zap.String("collector_backend", cfg.Collector.Backend),
		zap.String("pricing_driver", cfg.Pricing.Driver),
		zap.Bool("dry_run", opts.DryRun),
	)
	return app, nil
}

func (a *App) initTelemetry(ctx context.Context, version string) error {
	providers, err := telemetry.Setup(ctx, a.Config, version, a.Logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.Telemetry = providers
	a.closers = append(a.closers, providers.Shutdown)
	a.Logger = telemetry.Bridge(a.Logger, providers.Logs, a.Config.Telemetry.ServiceName)
	return nil
}

func (a *App) initLedger(dryRun bool) error {
	if dryRun {
		a.Ledger = memory.NewLedgerRepository()
		return nil
	}

	gormLog := logger.NewGormLogger(a.Logger, logger.MapGormLogLevel(a.Config.Log.Level))
	db, err := persistence.NewDatabase(&a.Config.Database, persistence.WithGormLogger(gormLog))
	if err != nil {
		return err
	}
	a.Database = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	if a.Config.Telemetry.Enabled && a.Config.Telemetry.DBTraceEnabled {
		tracing := telemetry.DefaultDBTracingConfig()
		tracing.Enabled = true
		if err := telemetry.RegisterDBTracing(db.DB, tracing, a.Logger); err != nil {
			return fmt.Errorf("register db tracing: %w", err)
		}
	}
	a.Ledger = persistence.NewGormLedgerRepository(db.DB)
	return nil
}

func (a *App) initLocker() error {
	locker, err := cache.NewLockerFactory(a.Config.Redis,
		cache.WithLogger(a.Logger),
		cache.WithInMemoryFallback(a.Config.App.Env != "production"),
	).CreateLocker()
	if err != nil {
		return err
	}
	a.Locker = locker
	if rl, ok := locker.(*cache.RedisLocker); ok {
		a.closers = append(a.closers, func(context.Context) error { return rl.Close() })
	}
	return nil
}

func (a *App) initCollector(retry *resilience.Retryer) error {
	cc := a.Config.Collector
	client, err := collector.NewClient(collector.Config{
		Backend:      cc.Backend,
		Endpoint:     cc.Endpoint,
		PageSize:     cc.PageSize,
		Timeout:      cc.Timeout,
		TokenURL:     cc.TokenURL,
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		Scopes:       cc.Scopes,
	},
		collector.WithLimiter(resilience.NewLimiter(cc.Backend, resilience.LimitConfig{
			RatePerSecond: cc.RateLimit,
			Burst:         cc.Burst,
			MaxInFlight:   cc.MaxInFlight,
		})),
		collector.WithLogger(a.Logger),
	)
	if err != nil {
		return err
	}
	a.Source, err = collector.NewSource(client, retry, a.Logger)
	return err
}

func (a *App) initPricing(ctx context.Context, retry *resilience.Retryer) error {
	pc := a.Config.Pricing
	var err error
	if pc.ArchiveQuotations || pc.Driver == erp.DriverJSONFile {
		if a.Archiver, err = erp.NewArchiver(ctx, a.Config, a.Logger); err != nil {
			return fmt.Errorf("init quotation archive: %w", err)
		}
	}

	inner, err := erp.New(a.Config, a.Archiver, a.Logger)
	if err != nil {
		return err
	}
	a.Backend = resilience.NewPricingBackend(inner, retry, resilience.NewLimiter(inner.Name(), resilience.LimitConfig{
		RatePerSecond: pc.RateLimit,
		Burst:         pc.Burst,
		MaxInFlight:   pc.MaxInFlight,
	}))
	a.Catalog = cache.NewCatalogCache(a.Backend,
		cache.WithCatalogTTL(pc.CatalogTTL),
		cache.WithCatalogLogger(a.Logger),
	)
	return nil
}

func (a *App) initPipeline(dryRun bool) error {
	cfg := a.Config
	transformer := appbilling.NewTransformService(a.Ledger, a.Logger).WithLocker(a.Locker, cfg.Redis.LockTTL)
	rater := appbilling.NewRatingService(a.Ledger, a.Backend, a.Locker, a.Logger, appbilling.RatingConfig{
		LockTTL: cfg.Redis.LockTTL,
	})
	if cfg.Pricing.ArchiveQuotations && a.Archiver != nil {
		rater.WithArchiver(a.Archiver)
	}

	a.Pipeline = appbilling.NewPipelineService(
		a.Source, a.Ledger, a.Watcher, a.Catalog, a.Locker, transformer, rater, a.Logger,
		appbilling.PipelineConfig{
			MaxConcurrency:        cfg.Pipeline.MaxConcurrency,
			MaxWindowsPerCycle:    cfg.Pipeline.MaxWindowsPerCycle,
			MaxCollectionStartAge: cfg.Pipeline.MaxCollectionStartAge,
			SettleDelay:           cfg.Pipeline.SettleDelay,
			StageTimeout:          cfg.Pipeline.StageTimeout,
			TenantOrder:           appbilling.TenantOrder(cfg.Pipeline.TenantOrder),
		},
	)
	if !dryRun {
		a.Pipeline.WithRunLog(persistence.NewRunLogRepository(a.Database.DB))
	}
	a.LedgerService = appbilling.NewLedgerService(a.Ledger, a.Logger)

	metrics, err := telemetry.NewPipelineMetrics(a.Telemetry.Meter.Meter("usagebill/pipeline"))
	if err != nil {
		return fmt.Errorf("init pipeline metrics: %w", err)
	}
	a.Pipeline.AddObserver(metrics)
	if cfg.Metrics.ExporterEnabled {
		a.Exporter = telemetry.NewCollectorExporter()
		a.Pipeline.AddObserver(a.Exporter)
	}

	// a changed pricing section may point at a different catalog
	a.Watcher.OnReload(func(*config.Config) {
		a.Catalog.Invalidate()
	})
	return nil
}

// HealthChecks returns the dependency probes of the running app
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if a.Database != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := a.Database.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if rl, ok := a.Locker.(*cache.RedisLocker); ok {
		checks["redis"] = rl.Ping
	}
	return checks
}

// Close stops components in reverse start order
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, closer := range slices.Backward(a.closers) {
		errs = append(errs, closer(ctx))
	}
	a.closers = nil
	if a.Logger != nil {
		_ = logger.Sync(a.Logger)
	}
	return errors.Join(errs...)
}
