package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aformulationoftruth/questionnaire/config"
	"github.com/aformulationoftruth/questionnaire/internal/completion"
	"github.com/aformulationoftruth/questionnaire/internal/crypto"
	"github.com/aformulationoftruth/questionnaire/internal/email"
	"github.com/aformulationoftruth/questionnaire/internal/health"
	"github.com/aformulationoftruth/questionnaire/internal/infrastructure/postgres"
	ctxlog "github.com/aformulationoftruth/questionnaire/internal/log"
	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/aformulationoftruth/questionnaire/internal/question"
	httptransport "github.com/aformulationoftruth/questionnaire/internal/transport/http"
	"github.com/aformulationoftruth/questionnaire/internal/transport/http/handler"
	"github.com/aformulationoftruth/questionnaire/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	store := postgres.NewSessionRepository(pool)

	hasher := crypto.NewHasher([]byte(cfg.HasherSecret))
	vault := crypto.NewVault([]byte(cfg.VaultMasterKey))
	orderer := question.NewOrderer([]byte(cfg.OrderSalt))

	sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notifier := completion.NewNotifier(cfg.CompletionWebhookURL, logger)
	hourly := metrics.NewHourlyCollector()

	minter := usecase.NewTokenMinter(store, sender, hasher, vault, orderer,
		hourly, logger, []byte(cfg.JWTSecret), cfg.Env, cfg.MagicLinkBase)
	gate := usecase.NewVerificationGate(store, hasher, hourly, logger, []byte(cfg.JWTSecret))
	flow := usecase.NewQuestionFlow(store, vault, hourly, notifier, logger)

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	authHandler := handler.NewAuthHandler(minter, gate, hourly, logger, cfg.Env)
	questionHandler := handler.NewQuestionHandler(gate, flow, logger)
	metricsHandler := handler.NewMetricsHandler(hourly)
	healthHandler := handler.NewHealthHandler(checker)

	srv := http.Server{
		Addr: ":" + cfg.Port,
		Handler: httptransport.NewRouter(authHandler, questionHandler,
			metricsHandler, healthHandler, gate, hourly, logger),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
