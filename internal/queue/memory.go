package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a bounded in-process queue.
type MemoryQueue struct {
	jobs chan Job
	done chan struct{}
	once sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

// Push never blocks; a full queue returns ErrFull.
func (q *MemoryQueue) Push(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

// Len reports the number of waiting jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
