// Package queue carries synthesis jobs from the think path to the workers.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrFull   = errors.New("queue: full")
	ErrClosed = errors.New("queue: closed")
)

// Job is one unit of background synthesis work.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ThoughtID  string    `json:"thought_id"`
	Text       string    `json:"text,omitempty"`
	EntityKeys []string  `json:"entity_keys,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Queue interface {
	Push(ctx context.Context, job Job) error
	// Pop blocks until a job is available, the queue is closed or ctx is done.
	Pop(ctx context.Context) (Job, error)
	Close() error
}
