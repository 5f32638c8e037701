// Package saver commits a thought, its extraction and the buffered enrichment
// mutations to the graph and vector stores.
package saver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/dedupe"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

// Unit is one thought to commit.
type Unit struct {
	Thought    model.Thought
	Extraction model.Extraction
	Mutations  []model.Mutation
	// Embedding computed at context-load time; embedded once here if nil.
	Embedding []float32
}

// Saved reports what a successful Save wrote.
type Saved struct {
	ThoughtID   string
	EntityKeys  []string
	ProfileKeys []string
	ActionItems []model.ActionItem
	// Embedding is the vector the thought was indexed with.
	Embedding []float32
}

type Saver struct {
	Graph        graph.Store
	Vectors      vector.Index
	Embedder     llm.EmbedderClient
	Resolver     *dedupe.Resolver
	Locks        *common.KeyedMutex
	Attempts     int
	Backoff      time.Duration
	StoreTimeout time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

func New(g graph.Store, v vector.Index, emb llm.EmbedderClient, resolver *dedupe.Resolver, locks *common.KeyedMutex, attempts int, backoff, storeTimeout time.Duration, logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Saver{
		Graph:        g,
		Vectors:      v,
		Embedder:     emb,
		Resolver:     resolver,
		Locks:        locks,
		Attempts:     attempts,
		Backoff:      backoff,
		StoreTimeout: storeTimeout,
		Logger:       logger.Named("saver"),
		Now:          time.Now,
	}
}

// Save commits u. The graph unit and the vector unit are retried
// independently; a unit that succeeded is never re-run. Within the graph unit
// a retry resumes at the step that failed, so increments apply once.
func (s *Saver) Save(ctx context.Context, u Unit) (Saved, error) {
	if u.Thought.ID == "" {
		return Saved{}, errs.New(errs.KindPermanent, "saver.save", "thought has no id")
	}
	plan := s.plan(u)

	var g errgroup.Group
	g.Go(func() error {
		return s.retry(ctx, "graph", plan.run)
	})
	g.Go(func() error {
		return s.retry(ctx, "vector", func(ctx context.Context) error {
			return s.upsertVector(ctx, &u)
		})
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return Saved{}, errs.Wrap(errs.KindTimeout, "saver.save", err)
		}
		return Saved{}, errs.Wrap(errs.KindTransient, "saver.save", err)
	}
	saved := plan.saved
	saved.Embedding = u.Embedding
	return saved, nil
}

// Apply commits mutations outside a think, for example profile updates from
// synthesis. Keys are used as given.
func (s *Saver) Apply(ctx context.Context, muts []model.Mutation) error {
	p := &plan{s: s, remap: map[string]string{}, now: s.Now()}
	for _, m := range muts {
		p.addMutation(m, "")
	}
	if err := s.retry(ctx, "graph", p.run); err != nil {
		return errs.Wrap(errs.KindTransient, "saver.apply", err)
	}
	return nil
}

func (s *Saver) retry(ctx context.Context, unit string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Logger.Warn("store unit failed", zap.String("unit", unit), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.Attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.Backoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("%s unit failed after %d attempts: %w", unit, s.Attempts, err)
}

func (s *Saver) upsertVector(ctx context.Context, u *Unit) error {
	if u.Embedding == nil {
		emb, err := s.Embedder.Embed(ctx, u.Thought.Content)
		if err != nil {
			return fmt.Errorf("embed thought: %w", err)
		}
		u.Embedding = emb
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.Vectors.Upsert(sctx, u.Thought.ID, u.Embedding, map[string]any{
		"kind":       "thought",
		"created_at": u.Thought.CreatedAt.UTC().Format(time.RFC3339Nano),
		"atomic":     u.Thought.Atomic,
	})
}

func (s *Saver) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.StoreTimeout)
}
