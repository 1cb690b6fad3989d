package httptransport

import (
	"log/slog"

	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/aformulationoftruth/questionnaire/internal/transport/http/handler"
	"github.com/aformulationoftruth/questionnaire/internal/transport/http/middleware"
	"github.com/aformulationoftruth/questionnaire/internal/usecase"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// NewRouter assembles the public HTTP surface. The metrics endpoint on this
// engine serves product aggregates; Prometheus scrape metrics live on the
// separate operations server.
func NewRouter(
	auth *handler.AuthHandler,
	questions *handler.QuestionHandler,
	productMetrics *handler.MetricsHandler,
	healthH *handler.HealthHandler,
	gate *usecase.VerificationGate,
	sink metrics.Sink,
	logger *slog.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Security(),
		sloggin.New(logger),
		middleware.Metrics(sink),
	)

	r.GET("/auth/verify", auth.Verify)

	api := r.Group("/api")
	{
		api.POST("/auth/magic-link", auth.RequestMagicLink)
		api.POST("/gate-submit", auth.GateSubmit)

		api.GET("/questions/next", questions.Next)
		api.POST("/questions/answer", middleware.Auth(gate), questions.Answer)

		api.GET("/metrics", productMetrics.Snapshot)
		api.GET("/health", healthH.Health)
	}

	return r
}
