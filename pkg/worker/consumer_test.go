package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/pkg/logger"
	"github.com/jwalitptl/dicom-ingest/pkg/messaging"
	"github.com/jwalitptl/dicom-ingest/pkg/messaging/redis"
	"github.com/jwalitptl/dicom-ingest/pkg/metrics"
)

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []messaging.JobMessage
	failFor int
}

func (q *fakeQueue) Enqueue(_ context.Context, msg messaging.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, msg)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*messaging.JobMessage, error) {
	q.mu.Lock()
	if q.failFor > 0 {
		q.failFor--
		q.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	if len(q.jobs) > 0 {
		msg := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		return &msg, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, messaging.ErrNoJob
	}
}

func testConfig() ConsumerConfig {
	return ConsumerConfig{
		Concurrency:   3,
		JobsPerSecond: 1000,
		Burst:         10,
		PollTimeout:   10 * time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}
}

// collect runs the consumer until want jobs were handled.
func collect(t *testing.T, q messaging.Queue, cfg ConsumerConfig, want int, fail func(*messaging.JobMessage) error) ([]uuid.UUID, *metrics.Metrics, *Consumer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []uuid.UUID
		done = make(chan struct{})
	)
	handle := func(_ context.Context, msg *messaging.JobMessage) error {
		mu.Lock()
		seen = append(seen, msg.JobID)
		if len(seen) == want {
			close(done)
		}
		mu.Unlock()
		if fail != nil {
			return fail(msg)
		}
		return nil
	}

	m := metrics.New("test", nil)
	c := NewConsumer(q, handle, cfg, logger.Nop(), m)
	stopped := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(stopped)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs were not consumed in time")
	}
	cancel()
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	return append([]uuid.UUID(nil), seen...), m, c
}

func TestConsumerHandlesEveryJobOnce(t *testing.T) {
	q := &fakeQueue{}
	want := map[uuid.UUID]bool{}
	for i := 0; i < 20; i++ {
		id := uuid.New()
		want[id] = true
		require.NoError(t, q.Enqueue(context.Background(), messaging.JobMessage{JobID: id, Kind: "clinical"}))
	}

	seen, m, c := collect(t, q, testConfig(), 20, nil)
	got := map[uuid.UUID]bool{}
	for _, id := range seen {
		assert.False(t, got[id], "job handled twice")
		got[id] = true
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 20.0, testutil.ToFloat64(m.JobsConsumed.WithLabelValues("success")))
	assert.False(t, c.Ready())
}

func TestConsumerSurvivesHandlerAndQueueErrors(t *testing.T) {
	q := &fakeQueue{failFor: 3}
	failing := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), messaging.JobMessage{JobID: failing}))
	require.NoError(t, q.Enqueue(context.Background(), messaging.JobMessage{JobID: uuid.New()}))

	cfg := testConfig()
	cfg.Concurrency = 1
	_, m, _ := collect(t, q, cfg, 2, func(msg *messaging.JobMessage) error {
		if msg.JobID == failing {
			return errors.New("invalid archive")
		}
		return nil
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsConsumed.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsConsumed.WithLabelValues("success")))
}

func TestConsumerDrainsRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	broker, err := redis.NewRedisBroker(redis.Config{URL: "redis://" + mr.Addr(), QueueKey: "jobs"}, nil)
	require.NoError(t, err)
	defer broker.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, broker.Enqueue(context.Background(), messaging.JobMessage{JobID: uuid.New(), Kind: "training"}))
	}

	cfg := testConfig()
	cfg.PollTimeout = time.Second
	seen, _, _ := collect(t, broker, cfg, 5, nil)
	assert.Len(t, seen, 5)

	n, err := broker.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewConsumerValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 0
	assert.Panics(t, func() {
		NewConsumer(&fakeQueue{}, nil, cfg, logger.Nop(), metrics.New("test", nil))
	})
}

func TestConsumerRequeuesJobPoppedDuringShutdown(t *testing.T) {
	q := &fakeQueue{}
	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), messaging.JobMessage{JobID: first, Kind: "clinical"}))
	require.NoError(t, q.Enqueue(context.Background(), messaging.JobMessage{JobID: second, Kind: "clinical"}))

	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.JobsPerSecond = 0.001
	cfg.Burst = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []uuid.UUID
	handle := func(_ context.Context, msg *messaging.JobMessage) error {
		handled = append(handled, msg.JobID)
		cancel()
		return nil
	}

	c := NewConsumer(q, handle, cfg, logger.Nop(), metrics.New("test", nil))
	stopped := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, []uuid.UUID{first}, handled)
	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.jobs, 1)
	assert.Equal(t, second, q.jobs[0].JobID)
}
