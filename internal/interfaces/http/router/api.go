package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	_ "github.com/usagebill/backend/docs"
	"github.com/usagebill/backend/internal/infrastructure/auth"
	"github.com/usagebill/backend/internal/infrastructure/logger"
	"github.com/usagebill/backend/internal/interfaces/http/handler"
	"github.com/usagebill/backend/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// APIDeps are the collaborators of the operator API
type APIDeps struct {
	Logger         *zap.Logger
	JWT            *auth.JWTService
	Ledger         handler.LedgerQuerier
	Pipeline       handler.RunTrigger
	Jobs           handler.JobQueue
	Health         *handler.HealthHandler
	MetricsHandler http.Handler
	Meter          metric.Meter
	Tracing        middleware.TracingConfig
}

// NewEngine builds the operator API:
//
//	GET  /health
//	GET  /metrics
//	GET  /swagger/*any
//	GET  /api/v1/ledger
//	GET  /api/v1/ledger/:tenant/:start/:end
//	POST /api/v1/ledger/:tenant/:start/:end/override  (scope ledger:override)
//	POST /api/v1/runs                                  (scope runs:trigger)
func NewEngine(deps APIDeps) *gin.Engine {
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(
		middleware.Tracing(deps.Tracing),
		logger.GinMiddleware(deps.Logger),
		middleware.SpanAttributes(),
		logger.Recovery(deps.Logger),
		middleware.HTTPMetrics(deps.Meter),
		middleware.BodyLimit(middleware.DefaultBodyLimit),
	)

	if deps.Health != nil {
		engine.GET("/health", deps.Health.Check)
	}
	if deps.MetricsHandler != nil {
		engine.GET("/metrics", handler.NewMetricsHandler(deps.MetricsHandler).Serve)
	}
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authn := middleware.JWTAuth(deps.JWT, deps.Logger)
	ledger := handler.NewLedgerHandler(deps.Ledger)
	runs := handler.NewRunHandler(deps.Pipeline, deps.Jobs)

	Mount(engine, APIVersion,
		NewGroup("/ledger").
			GET("", ledger.List).
			GET("/:tenant/:start/:end", ledger.Get).
			POST("/:tenant/:start/:end/override", authn, middleware.RequireScope(auth.ScopeLedgerOverride), ledger.Override),
		NewGroup("/runs", authn, middleware.RequireScope(auth.ScopeRunsTrigger)).
			POST("", runs.Trigger),
	)

	return engine
}
