package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/usagebill/backend/internal/bootstrap"
	"github.com/usagebill/backend/internal/infrastructure/auth"
	"github.com/usagebill/backend/internal/infrastructure/scheduler"
	"github.com/usagebill/backend/internal/interfaces/http/handler"
	"github.com/usagebill/backend/internal/interfaces/http/middleware"
	"github.com/usagebill/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled pipeline, the config watcher and the operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, func(app *bootstrap.App) error {
			return serve(ctx, app)
		})
	},
}

func serve(ctx context.Context, app *bootstrap.App) error {
	cfg := app.Config
	log := app.Logger

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	go func() {
		if err := app.Watcher.Watch(ctx); err != nil {
			log.Error("Config watcher stopped", zap.Error(err))
		}
	}()

	// jobs stays a nil interface when scheduling is off
	var jobs handler.JobQueue
	var (
		sched   *scheduler.Scheduler
		trigger *scheduler.CronTrigger
	)
	if cfg.Scheduler.Enabled {
		var err error
		sched, err = scheduler.NewScheduler(scheduler.ConfigFrom(cfg.Scheduler), scheduler.NewPipelineExecutor(app.Pipeline, log), log)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		loc, err := time.LoadLocation(cfg.Pipeline.DefaultTimezone)
		if err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
		trigger, err = scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
			CycleCron: cfg.Scheduler.CycleCron,
			SweepCron: cfg.Scheduler.SweepCron,
			Location:  loc,
		}, sched, log)
		if err != nil {
			return err
		}
		trigger.Start()
		jobs = sched
	}

	checks := make(map[string]handler.HealthCheck)
	for name, fn := range app.HealthChecks() {
		checks[name] = fn
	}
	var metricsHandler http.Handler
	if app.Exporter != nil {
		metricsHandler = app.Exporter.Handler()
	}

	engine := router.NewEngine(router.APIDeps{
		Logger:         log,
		JWT:            auth.NewJWTService(cfg.HTTP),
		Ledger:         app.LedgerService,
		Pipeline:       app.Pipeline,
		Jobs:           jobs,
		Health:         handler.NewHealthHandler(Version, checks),
		MetricsHandler: metricsHandler,
		Meter:          app.Telemetry.Meter.Meter("usagebill/http"),
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if trigger != nil {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Warn("Cron trigger did not stop cleanly", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn("Job scheduler did not stop cleanly", zap.Error(err))
		}
	}

	log.Info("Server exited")
	return runErr
}
