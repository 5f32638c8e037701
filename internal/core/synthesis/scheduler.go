// Package synthesis runs the background work that follows a saved thought:
// profiles, serendipity scans, task decomposition and atomization.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/observability"
	"github.com/umeshshetty/peoples-agent/internal/queue"
)

const (
	KindProfile     = "profile"
	KindSerendipity = "serendipity"
	KindDecompose   = "decompose"
	KindAtomize     = "atomize"
)

type Profiler interface {
	Synthesize(ctx context.Context, key string) (model.Mutation, error)
}

type Applier interface {
	Apply(ctx context.Context, muts []model.Mutation) error
}

type Scanner interface {
	ScanThought(ctx context.Context, thoughtID string, vec []float32) ([]model.Nudge, error)
}

type Decomposer interface {
	Decompose(ctx context.Context, thoughtID, text string) (model.TaskTree, error)
}

type Atomizer interface {
	Atomize(ctx context.Context, original model.Thought) ([]model.Thought, error)
}

// Handlers are the targets jobs dispatch to. A nil handler fails its jobs permanently.
type Handlers struct {
	Profiler   Profiler
	Applier    Applier
	Scanner    Scanner
	Decomposer Decomposer
	Atomizer   Atomizer
}

type Scheduler struct {
	Queue    queue.Queue
	Handlers Handlers
	Config   config.SynthesisConfig
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	NewID    func() string
	Now      func() time.Time

	wg sync.WaitGroup
}

func NewScheduler(q queue.Queue, h Handlers, cfg config.SynthesisConfig, metrics *observability.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Queue:    q,
		Handlers: h,
		Config:   cfg,
		Metrics:  metrics,
		Logger:   logger.Named("synthesis"),
		NewID:    uuid.NewString,
		Now:      time.Now,
	}
}

// Submit enqueues jobs. It never fails the caller: push errors are logged and
// counted, and the request context's cancellation does not apply.
func (s *Scheduler) Submit(ctx context.Context, jobs ...queue.Job) {
	ctx = context.WithoutCancel(ctx)
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = s.NewID()
		}
		job.EnqueuedAt = s.Now().UTC()
		if err := s.Queue.Push(ctx, job); err != nil {
			s.Logger.Error("failed to enqueue synthesis job", zap.String("kind", job.Kind), zap.String("thought_id", job.ThoughtID), zap.Error(err))
			s.Metrics.CountJob(job.Kind, "dropped")
			continue
		}
		s.Metrics.CountJob(job.Kind, "queued")
	}
}

// Start runs the workers until ctx is done or the queue is closed.
func (s *Scheduler) Start(ctx context.Context) {
	workers := max(s.Config.Workers, 1)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func(worker int) {
			defer s.wg.Done()
			s.work(ctx, worker)
		}(i)
	}
}

// Wait blocks until every worker has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) work(ctx context.Context, worker int) {
	log := s.Logger.With(zap.Int("worker", worker))
	for {
		job, err := s.Queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Warn("failed to pop synthesis job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.Config.RetryBackoff.Std()):
			}
			continue
		}
		s.Handle(ctx, job)
	}
}

// Handle runs one job and schedules its retry on failure.
func (s *Scheduler) Handle(ctx context.Context, job queue.Job) {
	jctx, cancel := s.jobContext(ctx)
	defer cancel()
	jctx, span := observability.StartSpan(jctx, "synthesis."+job.Kind)
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("thought.id", job.ThoughtID), attribute.Int("job.attempt", job.Attempt))
	defer span.End()

	start := s.Now()
	err := s.dispatch(jctx, job)
	if err == nil {
		s.Metrics.CountJob(job.Kind, "ok")
		s.Logger.Debug("synthesis job done", zap.String("kind", job.Kind), zap.String("thought_id", job.ThoughtID), zap.Duration("took", s.Now().Sub(start)))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	job.Attempt++
	kind := errs.KindOf(err)
	if kind == errs.KindPermanent || kind == errs.KindNotFound || job.Attempt >= s.Config.MaxAttempts {
		s.Metrics.CountJob(job.Kind, "failed")
		s.Logger.Error("synthesis job failed", zap.String("kind", job.Kind), zap.String("thought_id", job.ThoughtID),
			zap.Int("attempts", job.Attempt), zap.Error(err))
		return
	}

	s.Metrics.CountJob(job.Kind, "retry")
	delay := s.Config.RetryBackoff.Std() * time.Duration(job.Attempt)
	s.Logger.Warn("synthesis job will retry", zap.String("kind", job.Kind), zap.Int("attempt", job.Attempt), zap.Duration("delay", delay), zap.Error(err))
	time.AfterFunc(delay, func() {
		if err := s.Queue.Push(context.Background(), job); err != nil {
			s.Metrics.CountJob(job.Kind, "dropped")
			s.Logger.Error("failed to requeue synthesis job", zap.String("kind", job.Kind), zap.Error(err))
		}
	})
}

func (s *Scheduler) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Config.JobTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Config.JobTimeout.Std())
}

func (s *Scheduler) dispatch(ctx context.Context, job queue.Job) error {
	h := s.Handlers
	switch job.Kind {
	case KindProfile:
		if h.Profiler == nil || h.Applier == nil {
			return missing(job.Kind)
		}
		var failed []error
		for _, key := range job.EntityKeys {
			mut, err := h.Profiler.Synthesize(ctx, key)
			if err == nil {
				err = h.Applier.Apply(ctx, []model.Mutation{mut})
			}
			if err != nil {
				failed = append(failed, fmt.Errorf("profile %s: %w", key, err))
			}
		}
		return errors.Join(failed...)

	case KindSerendipity:
		if h.Scanner == nil {
			return missing(job.Kind)
		}
		nudges, err := h.Scanner.ScanThought(ctx, job.ThoughtID, job.Embedding)
		if err == nil && len(nudges) > 0 {
			s.Logger.Info("serendipity nudges found", zap.String("thought_id", job.ThoughtID), zap.Int("nudges", len(nudges)))
		}
		return err

	case KindDecompose:
		if h.Decomposer == nil {
			return missing(job.Kind)
		}
		_, err := h.Decomposer.Decompose(ctx, job.ThoughtID, job.Text)
		return err

	case KindAtomize:
		if h.Atomizer == nil {
			return missing(job.Kind)
		}
		_, err := h.Atomizer.Atomize(ctx, model.Thought{ID: job.ThoughtID, Content: job.Text})
		return err
	}
	return errs.New(errs.KindPermanent, "synthesis.dispatch", "unknown job kind "+job.Kind)
}

func missing(kind string) error {
	return errs.New(errs.KindPermanent, "synthesis.dispatch", "no handler for "+kind)
}
