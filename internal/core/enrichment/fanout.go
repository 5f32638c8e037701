package enrichment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/observability"
)

// Result holds the buffered mutations, in agent order, and the agents that failed.
type Result struct {
	Mutations []model.Mutation
	Failed    []string
}

type FanOut struct {
	Agents  []Agent
	Timeout time.Duration
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewFanOut wires the three agents from config.
func NewFanOut(cfg config.EnrichmentConfig, g graph.Store, metrics *observability.Metrics, logger *zap.Logger) (*FanOut, error) {
	auditor, err := NewActionAuditor(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid dated pattern: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanOut{
		Agents: []Agent{
			&Blocker{Phrases: cfg.BlockerPhrases},
			&Social{Graph: g, Increment: cfg.LinkIncrement, Limit: cfg.SuggestionLimit},
			auditor,
		},
		Timeout: cfg.AgentTimeout.Std(),
		Metrics: metrics,
		Logger:  logger.Named("enrichment"),
	}, nil
}

// Run executes every agent concurrently. A failing agent contributes nothing
// and never cancels its siblings.
func (f *FanOut) Run(ctx context.Context, in Input) Result {
	proposals := make([][]model.Mutation, len(f.Agents))
	failed := make([]bool, len(f.Agents))

	var g errgroup.Group
	for i, agent := range f.Agents {
		g.Go(func() error {
			muts, err := f.propose(ctx, agent, in)
			if err != nil {
				failed[i] = true
				f.Logger.Warn("enrichment agent failed", zap.String("agent", agent.Name()), zap.Error(err))
				if f.Metrics != nil {
					f.Metrics.EnrichmentFailures.WithLabelValues(agent.Name()).Inc()
				}
				return nil
			}
			proposals[i] = muts
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for i, muts := range proposals {
		if failed[i] {
			res.Failed = append(res.Failed, f.Agents[i].Name())
			continue
		}
		res.Mutations = append(res.Mutations, muts...)
	}
	return res
}

func (f *FanOut) propose(ctx context.Context, agent Agent, in Input) ([]model.Mutation, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var muts []model.Mutation
		muts, err = f.attempt(ctx, agent, in)
		if err == nil {
			return muts, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, err
}

func (f *FanOut) attempt(ctx context.Context, agent Agent, in Input) (muts []model.Mutation, err error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", agent.Name(), r)
		}
	}()
	return agent.Propose(ctx, in)
}
