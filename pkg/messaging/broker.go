package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoJob is returned by Dequeue when the wait timed out on an empty queue.
var ErrNoJob = errors.New("no job available")

// JobMessage is the queued form of an archive job.
type JobMessage struct {
	JobID  uuid.UUID `json:"job_id"`
	Kind   string    `json:"kind"`
	Source string    `json:"source"`
}

// Queue is a FIFO of archive jobs shared by every worker.
type Queue interface {
	Enqueue(ctx context.Context, msg JobMessage) error
	Dequeue(ctx context.Context, timeout time.Duration) (*JobMessage, error)
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Broker defines the interface for message brokers
type Broker interface {
	Queue
	Publisher
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Progress is one checkpoint of an archive job as published on its channel.
type Progress struct {
	JobID       string    `json:"job_id"`
	Current     int       `json:"current"`
	Total       int       `json:"total"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}
