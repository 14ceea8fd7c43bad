package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/dicom-ingest/pkg/circuitbreaker"
	"github.com/jwalitptl/dicom-ingest/pkg/messaging"
)

const defaultProgressTTL = 24 * time.Hour

type RedisBroker struct {
	client      *redis.Client
	cb          *circuitbreaker.CircuitBreaker
	logger      *zerolog.Logger
	queueKey    string
	progressTTL time.Duration
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	QueueKey     string
	// ProgressTTL bounds how long the latest message of a channel is kept
	// for late readers. Zero means one day.
	ProgressTTL time.Duration
}

func NewRedisBroker(config Config, logger *zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.QueueKey == "" {
		return nil, fmt.Errorf("queue key is required")
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "redis-broker",
		MaxRequests: 5,
		Timeout:     5 * time.Second,
	})

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ttl := config.ProgressTTL
	if ttl <= 0 {
		ttl = defaultProgressTTL
	}

	return &RedisBroker{
		client:      client,
		cb:          cb,
		logger:      logger,
		queueKey:    config.QueueKey,
		progressTTL: ttl,
	}, nil
}

var _ messaging.Broker = (*RedisBroker)(nil)

// Enqueue pushes a job on the head of the list; Dequeue pops from the tail.
func (b *RedisBroker) Enqueue(ctx context.Context, msg messaging.JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return b.cb.Execute(func() error {
		return b.client.LPush(ctx, b.queueKey, payload).Err()
	})
}

// Dequeue blocks up to timeout for the next job. It returns ErrNoJob when
// the queue stayed empty.
func (b *RedisBroker) Dequeue(ctx context.Context, timeout time.Duration) (*messaging.JobMessage, error) {
	var raw []string
	err := b.cb.Execute(func() error {
		res, err := b.client.BRPop(ctx, timeout, b.queueKey).Result()
		if stderrors.Is(err, redis.Nil) {
			return nil
		}
		raw = res
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, messaging.ErrNoJob
	}

	var msg messaging.JobMessage
	if err := json.Unmarshal([]byte(raw[1]), &msg); err != nil {
		b.logger.Error().Err(err).Str("payload", raw[1]).Msg("dropping malformed job message")
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &msg, nil
}

// Pending reports how many jobs wait in the queue.
func (b *RedisBroker) Pending(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.queueKey).Result()
}

// Publish sends message on channel and keeps it as the channel's latest
// value, so a reader that subscribes late can still see the last state.
func (b *RedisBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.cb.Execute(func() error {
		pipe := b.client.TxPipeline()
		pipe.Set(ctx, channel, payload, b.progressTTL)
		pipe.Publish(ctx, channel, payload)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Latest returns the last payload published on channel, or nil when there
// is none.
func (b *RedisBroker) Latest(ctx context.Context, channel string) ([]byte, error) {
	payload, err := b.client.Get(ctx, channel).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	return payload, err
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no message published
	// right after Subscribe returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	msgChan := make(chan []byte, 100)

	go func() {
		defer func() {
			pubsub.Close()
			close(msgChan)
		}()

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || stderrors.Is(err, redis.ErrClosed) {
					return
				}
				b.logger.Warn().Err(err).Str("channel", channel).Msg("receive failed")
				continue
			}
			select {
			case msgChan <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgChan, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
