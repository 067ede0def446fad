package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/xray-diagnosis-platform/cmd/mainconfig"
	"github.com/wolfman30/xray-diagnosis-platform/internal/api/router"
	"github.com/wolfman30/xray-diagnosis-platform/internal/app/bootstrap"
	"github.com/wolfman30/xray-diagnosis-platform/internal/auth"
	appconfig "github.com/wolfman30/xray-diagnosis-platform/internal/config"
	"github.com/wolfman30/xray-diagnosis-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/xray-diagnosis-platform/internal/http/middleware"
	"github.com/wolfman30/xray-diagnosis-platform/internal/observability/metrics"
	"github.com/wolfman30/xray-diagnosis-platform/internal/workflow"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting xray-diagnosis API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if cfg.AuthJWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET is empty; every /api request will be rejected")
	}

	ctx := context.Background()
	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, pipelineMetrics := setupMetrics()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	pipeline, err := bootstrap.BuildPipeline(cfg, bootstrap.Deps{
		Pool:     pool,
		S3:       mainconfig.NewS3Client(awsCfg, cfg),
		Redis:    redisClient,
		Metrics:  pipelineMetrics,
		Identity: auth.ContextIdentity{},
	}, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	newRun := func() *workflow.Machine {
		return pipeline.NewRun(auth.ContextIdentity{})
	}
	diagnosesHandler := handlers.NewDiagnosesHandler(pipeline.Repository, newRun, pipeline.Exporter, pipeline.Facilities, logger)

	uploadLimiter := httpmiddleware.NewRateLimiter(0.5, 5)
	r := router.New(&router.Config{
		Logger:             logger,
		Diagnoses:          diagnosesHandler,
		AuthJWTSecret:      cfg.AuthJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		UploadLimiter:      uploadLimiter,
		Readiness:          postgresReadiness(pool),
	})

	// Uploads wait on inference, so the write timeout must outlast it.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.InferenceTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopPrune := startLimiterPrune(uploadLimiter, 5*time.Minute)
	defer stopPrune()

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.PipelineMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewPipelineMetrics(reg)
}

func postgresReadiness(pool *pgxpool.Pool) func(ctx context.Context) error {
	if pool == nil {
		return nil
	}
	return pool.Ping
}

func startLimiterPrune(limiter *httpmiddleware.RateLimiter, every time.Duration) func() {
	ticker := time.NewTicker(every)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				limiter.Prune(time.Now().Add(-2 * every))
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
