// Package app wires configuration, storage and the pipeline stages into the
// services the ingest CLI and the worker share.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jwalitptl/dicom-ingest/internal/archive"
	"github.com/jwalitptl/dicom-ingest/internal/config"
	"github.com/jwalitptl/dicom-ingest/internal/linkage"
	"github.com/jwalitptl/dicom-ingest/internal/reconcile"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/internal/repository/memory"
	"github.com/jwalitptl/dicom-ingest/internal/repository/postgres"
	"github.com/jwalitptl/dicom-ingest/internal/service/matching"
	"github.com/jwalitptl/dicom-ingest/internal/source"
	"github.com/jwalitptl/dicom-ingest/internal/worker"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
	"github.com/jwalitptl/dicom-ingest/pkg/messaging/redis"
	"github.com/jwalitptl/dicom-ingest/pkg/metrics"
)

const (
	metricsNamespace   = "dicom_ingest"
	conflictRetryDelay = 200 * time.Millisecond
)

type Options struct {
	// InMemory replaces PostgreSQL with the in-process store. Nothing
	// outlives the process.
	InMemory bool
}

type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	DB            *sqlx.DB
	Store         repository.Store
	StructureSets repository.StructureSetRepository
	Rules         repository.RuleRepository
	Training      repository.TrainingRepository
	Jobs          repository.JobRepository

	Orchestrator *worker.Orchestrator
	Matcher      *matching.Service
	Sources      *source.Router

	broker *redis.RedisBroker
	gcs    *source.GCS
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stderr,
		JSON:       cfg.JSON,
	})
}

// New connects to the database unless opts.InMemory is set and builds every
// service on top of it. GCS and Redis are connected on first use.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.Log)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metricsNamespace, registry)

	a := &App{
		Config:   cfg,
		Log:      log,
		Metrics:  m,
		Registry: registry,
		Sources:  &source.Router{},
	}

	if opts.InMemory {
		store := memory.New()
		a.Store = store
		a.StructureSets = store
		a.Rules = store
		a.Training = store.Training()
		a.Jobs = store
		log.Warn("using in-memory store, nothing will be persisted")
	} else {
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db

		base := postgres.NewBaseRepository(db, m)
		a.Store = postgres.NewClinicalStore(base)
		a.StructureSets = postgres.NewStructureSetRepository(base)
		a.Rules = postgres.NewRuleRepository(base)
		a.Training = postgres.NewTrainingRepository(base)
		a.Jobs = postgres.NewJobRepository(base)
	}

	a.Orchestrator = worker.NewOrchestrator(
		worker.Deps{
			Extractor:  archive.NewExtractor(cfg.Storage.WorkDir, log),
			Reconciler: reconcile.NewReconciler(a.Store, reconcile.NewWriter(cfg.Storage.ProcessedRoot, log), log),
			Resolver:   linkage.NewResolver(log),
			Organizer:  linkage.NewOrganizer(cfg.Storage.OrganizedRoot, log),
			Training:   a.Training,
			Jobs:       a.Jobs,
		},
		worker.OrchestratorConfig{ConflictRetryDelay: conflictRetryDelay},
		log,
		m,
	)
	a.Matcher = matching.NewService(a.StructureSets, a.Rules, cfg.Matching.CacheTTL, m, log)

	return a, nil
}

// Migrate applies pending schema migrations. It is a no-op on the
// in-memory store.
func (a *App) Migrate(ctx context.Context) (int, error) {
	if a.DB == nil {
		return 0, nil
	}
	return postgres.NewMigrator(a.DB, a.Log).Up(ctx)
}

// EnableGCS attaches a Cloud Storage client to Sources so gs:// references
// resolve.
func (a *App) EnableGCS(ctx context.Context) error {
	if a.gcs != nil {
		return nil
	}
	g, err := source.NewGCS(ctx, a.Config.GCS.CredentialsFile, a.Config.Storage.WorkDir, a.Log)
	if err != nil {
		return err
	}
	a.gcs = g
	a.Sources.GCS = g
	return nil
}

// Broker returns the Redis broker, connecting on the first call.
func (a *App) Broker() (*redis.RedisBroker, error) {
	if a.broker != nil {
		return a.broker, nil
	}
	rc := a.Config.Redis
	b, err := redis.NewRedisBroker(redis.Config{
		URL:          rc.URL,
		MaxRetries:   rc.MaxRetries,
		RetryBackoff: rc.RetryBackoff,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		QueueKey:     rc.QueueKey,
	}, &a.Log.ZL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis broker: %w", err)
	}
	a.broker = b
	return b, nil
}

func (a *App) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.Log.Error(err, "failed to close Redis broker")
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.Log.Error(err, "failed to close GCS client")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Error(err, "failed to close database")
		}
	}
}
