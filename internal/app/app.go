// Package app assembles the brain and its backends from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core"
	"github.com/umeshshetty/peoples-agent/internal/core/review"
	"github.com/umeshshetty/peoples-agent/internal/driver"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
	"github.com/umeshshetty/peoples-agent/internal/observability"
	"github.com/umeshshetty/peoples-agent/internal/queue"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

type App struct {
	Config  *config.Config
	Brain   *core.Brain
	Metrics *observability.Metrics
	Logger  *zap.Logger

	closers []func(context.Context) error
}

// Build connects every configured backend. On error, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *App, err error) {
	a = &App{Config: cfg, Metrics: observability.NewMetrics("peoples_agent"), Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return a, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.onClose(tp.Shutdown)

	gen, emb, err := llm.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return a, fmt.Errorf("failed to initialize llm client: %w", err)
	}
	if c, ok := gen.(io.Closer); ok {
		a.onClose(func(context.Context) error { return c.Close() })
	}
	guard := llm.NewGuard(gen, emb, cfg.Pipeline, a.Metrics, logger)

	deps := core.Deps{Config: cfg, LLM: guard, Embedder: guard, Metrics: a.Metrics, Logger: logger}
	if deps.Graph, err = a.graphStore(ctx); err != nil {
		return a, err
	}
	if deps.Vectors, err = a.vectorIndex(ctx); err != nil {
		return a, err
	}
	if deps.Reviews, err = a.reviewStore(ctx); err != nil {
		return a, err
	}
	if deps.Queue, err = a.jobQueue(ctx); err != nil {
		return a, err
	}

	if a.Brain, err = core.NewBrain(deps); err != nil {
		return a, err
	}
	logger.Info("backends ready",
		zap.String("llm", cfg.LLM.Provider),
		zap.String("graph", cfg.Storage.Graph),
		zap.String("vector", cfg.Storage.Vector),
		zap.String("review", cfg.Storage.Review),
		zap.String("queue", cfg.Storage.Queue))
	return a, nil
}

func (a *App) graphStore(ctx context.Context) (graph.Store, error) {
	if a.Config.Storage.Graph != "memgraph" {
		return graph.NewMemoryStore(), nil
	}
	m := a.Config.Memgraph
	d, err := driver.NewMemgraphDriver(ctx, m.URI, m.User, m.Password, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to memgraph: %w", err)
	}
	a.onClose(d.Close)
	if err := d.BuildIndices(ctx); err != nil {
		return nil, fmt.Errorf("failed to build indices: %w", err)
	}
	return graph.NewMemgraphStore(d), nil
}

func (a *App) vectorIndex(ctx context.Context) (vector.Index, error) {
	if a.Config.Storage.Vector != "pgvector" {
		return vector.NewMemoryIndex(), nil
	}
	pg := a.Config.Postgres
	idx, err := vector.NewPGIndex(ctx, pg.DSN, pg.VectorTable, pg.EmbeddingDims)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return idx.Close() })
	return idx, nil
}

func (a *App) reviewStore(ctx context.Context) (review.Store, error) {
	if a.Config.Storage.Review != "postgres" {
		return review.NewMemoryStore(), nil
	}
	pg := a.Config.Postgres
	s, err := review.NewPGStore(ctx, pg.DSN, pg.ReviewTable, pg.MaxConns)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { s.Close(); return nil })
	return s, nil
}

func (a *App) jobQueue(ctx context.Context) (queue.Queue, error) {
	if a.Config.Storage.Queue != "redis" {
		q := queue.NewMemoryQueue(a.Config.Synthesis.QueueSize)
		a.onClose(func(context.Context) error { return q.Close() })
		return q, nil
	}
	q, err := queue.NewRedisQueue(ctx, a.Config.Redis.URL, a.Config.Redis.Queue)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return q.Close() })
	return q, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases backends in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errsOut []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	a.closers = nil
	return errors.Join(errsOut...)
}
