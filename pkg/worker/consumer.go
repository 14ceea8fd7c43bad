package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/dicom-ingest/pkg/logger"
	"github.com/jwalitptl/dicom-ingest/pkg/messaging"
	"github.com/jwalitptl/dicom-ingest/pkg/metrics"
)

type ConsumerConfig struct {
	Concurrency   int
	JobsPerSecond float64
	Burst         int
	PollTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Handler processes one dequeued job. A returned error is logged; the job
// is not requeued.
type Handler func(ctx context.Context, msg *messaging.JobMessage) error

// Consumer runs Concurrency independent loops that take jobs off a queue.
// Job starts across all loops are paced by one shared limiter.
type Consumer struct {
	queue    messaging.Queue
	handle   Handler
	config   ConsumerConfig
	limiter  *rate.Limiter
	logger   *logger.Logger
	metrics  *metrics.Metrics
	workerID string
	ready    atomic.Bool
}

func NewConsumer(
	queue messaging.Queue,
	handle Handler,
	config ConsumerConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Consumer {
	// Config validation instead of defaults
	if config.Concurrency <= 0 {
		panic("Concurrency must be greater than 0")
	}
	if config.JobsPerSecond <= 0 || config.Burst <= 0 {
		panic("JobsPerSecond and Burst must be greater than 0")
	}
	if config.PollTimeout <= 0 {
		panic("PollTimeout must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	workerID := fmt.Sprintf("worker-%s", generateWorkerID())
	return &Consumer{
		queue:    queue,
		handle:   handle,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.JobsPerSecond), config.Burst),
		logger:   logger.WithFields(map[string]interface{}{"worker_id": workerID}),
		metrics:  metrics,
		workerID: workerID,
	}
}

// Ready reports whether the last poll reached the queue.
func (c *Consumer) Ready() bool {
	return c.ready.Load()
}

// Start blocks until ctx is cancelled and every loop has finished its
// current job.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < c.config.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			c.loop(ctx, slot)
		}(i)
	}
	wg.Wait()

	c.ready.Store(false)
	c.logger.Info("Queue consumer stopped")
}

func (c *Consumer) loop(ctx context.Context, slot int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := c.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.ready.Store(false)
			c.logger.Error(err, "Failed to poll queue", "slot", slot)
			sleep(ctx, c.config.RetryDelay)
			continue
		}
		c.ready.Store(true)
		if msg == nil {
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			c.requeue(ctx, msg)
			return
		}
		c.process(ctx, slot, msg)
	}
}

// requeue pushes back a job that was popped but never started.
func (c *Consumer) requeue(ctx context.Context, msg *messaging.JobMessage) {
	if err := c.queue.Enqueue(context.WithoutCancel(ctx), *msg); err != nil {
		c.logger.Error(err, "Failed to requeue job on shutdown", "job_id", msg.JobID.String(), "source", msg.Source)
		return
	}
	c.logger.Info("Job requeued on shutdown", "job_id", msg.JobID.String())
}

// next returns nil, nil when the poll timed out on an empty queue.
func (c *Consumer) next(ctx context.Context) (*messaging.JobMessage, error) {
	var msg *messaging.JobMessage
	err := retry(ctx, c.config.RetryAttempts, c.config.RetryDelay, func() error {
		m, err := c.queue.Dequeue(ctx, c.config.PollTimeout)
		if stderrors.Is(err, messaging.ErrNoJob) {
			return nil
		}
		msg = m
		return err
	})
	return msg, err
}

func (c *Consumer) process(ctx context.Context, slot int, msg *messaging.JobMessage) {
	log := c.logger.WithFields(map[string]interface{}{
		"job_id": msg.JobID.String(),
		"kind":   msg.Kind,
		"slot":   slot,
	})
	log.Info("Processing job", "source", msg.Source)

	if err := c.handle(ctx, msg); err != nil {
		c.metrics.JobsConsumed.WithLabelValues("error").Inc()
		log.Error(err, "Job failed")
		return
	}
	c.metrics.JobsConsumed.WithLabelValues("success").Inc()
	log.Info("Job finished")
}

// Helper retry function
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 && !sleep(ctx, delay) {
			return err
		}
	}
	return err
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func generateWorkerID() string {
	// Generate a unique worker ID using hostname and timestamp
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
}
