package bootstrap

import (
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/xray-diagnosis-platform/internal/config"
	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/internal/facilities"
	"github.com/wolfman30/xray-diagnosis-platform/internal/inference"
	"github.com/wolfman30/xray-diagnosis-platform/internal/observability/metrics"
	"github.com/wolfman30/xray-diagnosis-platform/internal/report"
	"github.com/wolfman30/xray-diagnosis-platform/internal/storage"
	"github.com/wolfman30/xray-diagnosis-platform/internal/upload"
	"github.com/wolfman30/xray-diagnosis-platform/internal/workflow"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

// Pipeline holds the shared collaborators a workflow run needs.
type Pipeline struct {
	Repository *diagnosis.PostgresRepository
	Uploader   *upload.Orchestrator
	Inference  *inference.Client
	Exporter   *report.Exporter
	Facilities *facilities.Service
	Metrics    *metrics.PipelineMetrics
	SQLDB      *sql.DB

	logger *logging.Logger
}

// Deps are the externally constructed clients BuildPipeline wires together.
type Deps struct {
	Pool     *pgxpool.Pool
	S3       storage.S3API
	Redis    *redis.Client
	Metrics  *metrics.PipelineMetrics
	Identity report.Identity
}

// BuildPipeline wires persistence, storage, inference, export and facility
// suggestion from config.
func BuildPipeline(cfg *appconfig.Config, deps Deps, logger *logging.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("bootstrap: postgres pool is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	store := storage.NewS3Store(deps.S3, cfg.StorageBucket, cfg.AWSRegion, cfg.StoragePublicBaseURL, logger)
	if !store.Enabled() {
		return nil, fmt.Errorf("bootstrap: image storage: %w", storage.ErrNotConfigured)
	}

	sqlDB := stdlib.OpenDBFromPool(deps.Pool)
	directory := facilities.NewCachedDirectory(
		facilities.NewPostgresDirectory(deps.Pool),
		deps.Redis,
		cfg.FacilityCacheTTL,
		logger,
	)

	return &Pipeline{
		Repository: diagnosis.NewPostgresRepository(deps.Pool),
		Uploader:   upload.NewOrchestrator(store, logger).WithProgressInterval(cfg.UploadProgressInterval),
		Inference:  inference.NewClient(cfg.InferenceBaseURL, logger).WithTimeout(cfg.InferenceTimeout),
		Exporter:   report.NewExporter(report.NewSQLEventStore(sqlDB), deps.Identity, logger).WithMetrics(deps.Metrics),
		Facilities: facilities.NewService(directory, cfg.FacilitySuggestionLimit, logger),
		Metrics:    deps.Metrics,
		SQLDB:      sqlDB,
		logger:     logger,
	}, nil
}

// NewRun returns a fresh, isolated workflow.
func (p *Pipeline) NewRun(identity workflow.Identity) *workflow.Machine {
	return workflow.NewMachine(p.Uploader, p.Inference, p.Repository, identity, p.logger).
		WithMetrics(p.Metrics)
}

// Close releases the database/sql handle. The pool is owned by the caller.
func (p *Pipeline) Close() error {
	if p == nil || p.SQLDB == nil {
		return nil
	}
	return p.SQLDB.Close()
}
