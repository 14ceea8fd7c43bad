package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwalitptl/dicom-ingest/internal/app"
	"github.com/jwalitptl/dicom-ingest/internal/config"
	"github.com/jwalitptl/dicom-ingest/internal/handler/health"
	"github.com/jwalitptl/dicom-ingest/internal/handler/prometheus"
	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/router"
	"github.com/jwalitptl/dicom-ingest/internal/source"
	ingest "github.com/jwalitptl/dicom-ingest/internal/worker"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
	"github.com/jwalitptl/dicom-ingest/pkg/messaging"
	"github.com/jwalitptl/dicom-ingest/pkg/messaging/redis"
	"github.com/jwalitptl/dicom-ingest/pkg/worker"
)

const (
	retryAttempts   = 3
	retryDelay      = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := app.NewLogger(cfg.Log)

	a, err := app.New(cfg, log, app.Options{})
	if err != nil {
		log.ZL.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	broker, err := a.Broker()
	if err != nil {
		log.ZL.Fatal().Err(err).Msg("Failed to create Redis broker")
	}

	consumer := worker.NewConsumer(
		broker,
		jobHandler(a, broker, log),
		worker.ConsumerConfig{
			Concurrency:   cfg.Worker.Concurrency,
			JobsPerSecond: cfg.Worker.JobsPerSecond,
			Burst:         cfg.Worker.Burst,
			PollTimeout:   cfg.Worker.PollTimeout,
			RetryAttempts: retryAttempts,
			RetryDelay:    retryDelay,
		},
		log,
		a.Metrics,
	)

	// Setup ops endpoints
	srv := setupOpsServer(a, consumer, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.ZL.Info().Msg("Shutting down...")
		cancel()
	}()

	consumer.Start(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Ops server shutdown failed")
	}
}

// jobHandler loads the queued job, fetches its archive and runs it,
// publishing progress on the job's channel.
func jobHandler(a *app.App, broker *redis.RedisBroker, log *logger.Logger) worker.Handler {
	return func(ctx context.Context, msg *messaging.JobMessage) error {
		job, err := a.Jobs.Get(ctx, msg.JobID)
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}
		if job.Status == model.StatusCompleted || job.Status == model.StatusFailed {
			log.Warn("Job already finished, skipping", "job_id", job.ID.String(), "status", string(job.Status))
			return nil
		}

		if source.IsGCS(job.SourcePath) {
			if err := a.EnableGCS(ctx); err != nil {
				return err
			}
		}
		path, release, err := a.Sources.Fetch(ctx, job.SourcePath)
		if err != nil {
			failData := model.JSONMap{"error": err.Error(), "failed_at": time.Now().UTC().Format(time.RFC3339)}
			if updateErr := a.Jobs.UpdateStatus(ctx, job.ID, model.StatusFailed, failData); updateErr != nil {
				log.Error(updateErr, "Failed to mark job failed", "job_id", job.ID.String())
			}
			return fmt.Errorf("failed to fetch archive: %w", err)
		}
		defer release()

		progress := messaging.NewProgressAdapter(broker, a.Config.Redis.ProgressPrefix, job.ID.String())
		progress.OnError = func(err error) {
			log.Warn("Failed to publish progress", "job_id", job.ID.String(), "error", err.Error())
		}
		sink := ingest.MultiSink{ingest.LogSink{Log: log}, progress}

		_, err = a.Orchestrator.RunJob(ctx, job, path, sink)
		return err
	}
}

func setupOpsServer(a *app.App, consumer *worker.Consumer, log *logger.Logger) *http.Server {
	checks := map[string]health.Check{
		"queue": func(context.Context) error {
			if !consumer.Ready() {
				return errors.New("queue not reachable")
			}
			return nil
		},
	}
	if a.DB != nil {
		checks["database"] = a.DB.PingContext
	}

	r := router.NewRouter(health.NewHandler(checks), prometheus.New("dicom_ingest", a.Registry), log)
	r.Setup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Worker.OpsPort),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ZL.Error().Err(err).Msg("Ops server failed")
			os.Exit(1)
		}
	}()
	return srv
}
