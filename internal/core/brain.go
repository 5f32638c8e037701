// Package core wires the think pipeline and the operations exposed on top of
// the knowledge graph.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/atomize"
	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/dedupe"
	"github.com/umeshshetty/peoples-agent/internal/core/enrichment"
	"github.com/umeshshetty/peoples-agent/internal/core/extraction"
	"github.com/umeshshetty/peoples-agent/internal/core/insight"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/core/respond"
	"github.com/umeshshetty/peoples-agent/internal/core/retrieval"
	"github.com/umeshshetty/peoples-agent/internal/core/review"
	"github.com/umeshshetty/peoples-agent/internal/core/saver"
	"github.com/umeshshetty/peoples-agent/internal/core/serendipity"
	"github.com/umeshshetty/peoples-agent/internal/core/summary"
	"github.com/umeshshetty/peoples-agent/internal/core/synthesis"
	"github.com/umeshshetty/peoples-agent/internal/core/tasks"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
	"github.com/umeshshetty/peoples-agent/internal/observability"
	"github.com/umeshshetty/peoples-agent/internal/queue"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

// Deps are the collaborators a Brain is built from. LLM and Embedder are used
// as given; wrap them in llm.Guard for timeouts, retry and circuit breaking.
type Deps struct {
	Config   *config.Config
	LLM      llm.LLMClient
	Embedder llm.EmbedderClient
	Graph    graph.Store
	Vectors  vector.Index
	Reviews  review.Store
	Queue    queue.Queue
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

type Brain struct {
	Config     *config.Config
	Loader     *retrieval.Loader
	Loop       *extraction.Loop
	Enricher   *enrichment.FanOut
	Responder  *respond.Responder
	Saver      *saver.Saver
	Scheduler  *synthesis.Scheduler
	Review     *review.Engine
	Scanner    *serendipity.Scanner
	Decomposer *tasks.Decomposer
	Atomizer   *atomize.Atomizer
	Insight    *insight.Explorer
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	NewID      func() string
	Now        func() time.Time
}

func NewBrain(d Deps) (*Brain, error) {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	cfg := d.Config
	p := cfg.Pipeline
	locks := common.NewKeyedMutex(0)

	var reranker llm.RerankerClient
	if cfg.Retrieval.Rerank {
		reranker = llm.NewSimpleLLMReranker(d.LLM)
	}
	enricher, err := enrichment.NewFanOut(cfg.Enrichment, d.Graph, d.Metrics, d.Logger)
	if err != nil {
		return nil, err
	}

	sv := saver.New(d.Graph, d.Vectors, d.Embedder,
		dedupe.NewResolver(d.Graph, cfg.Retrieval.EntityMatchThreshold, cfg.Retrieval.EntityScanLimit),
		locks, p.SaveAttempts, p.RetryBackoff.Std(), p.StoreTimeout.Std(), d.Logger)
	scanner := serendipity.NewScanner(d.Embedder, d.Vectors, d.Graph, d.LLM, cfg.Serendipity, cfg.Prompts.Nudge, d.Logger)
	decomposer := tasks.NewDecomposer(d.LLM, d.Graph, tasks.NewForest(d.Graph, locks), cfg.Prompts.Decompose, d.Logger)
	atomizer := atomize.NewAtomizer(d.LLM, d.Embedder, d.Graph, d.Vectors, cfg.Atomization, cfg.Prompts.Atomize, d.Logger)

	return &Brain{
		Config:    cfg,
		Loader:    retrieval.NewLoader(d.Embedder, d.Vectors, d.Graph, reranker, cfg.Retrieval, p.StoreTimeout.Std(), d.Logger),
		Loop:      extraction.NewLoop(extraction.NewExtractor(d.LLM, cfg.Prompts), cfg.Extraction, cfg.Retrieval.MaxContextChars, d.Logger),
		Enricher:  enricher,
		Responder: respond.NewResponder(d.LLM, cfg.Prompts.Respond, cfg.Retrieval.MaxContextChars, d.Logger),
		Saver:     sv,
		Scheduler: synthesis.NewScheduler(d.Queue, synthesis.Handlers{
			Profiler:   summary.NewProfiler(d.LLM, d.Graph, cfg.Prompts, cfg.Synthesis.ProfileWindow, d.Logger),
			Applier:    sv,
			Scanner:    scanner,
			Decomposer: decomposer,
			Atomizer:   atomizer,
		}, cfg.Synthesis, d.Metrics, d.Logger),
		Review:     review.NewEngine(d.Reviews, locks, cfg.Review, d.Metrics, d.Logger),
		Scanner:    scanner,
		Decomposer: decomposer,
		Atomizer:   atomizer,
		Insight:    insight.NewExplorer(d.Graph, d.Vectors, d.Embedder, d.LLM, cfg.Insight, cfg.Prompts, d.Logger),
		Metrics:    d.Metrics,
		Logger:     d.Logger.Named("brain"),
		NewID:      uuid.NewString,
		Now:        time.Now,
	}, nil
}

// Run starts the synthesis workers and the due-card scan. It returns once
// both have stopped after ctx is done.
func (b *Brain) Run(ctx context.Context) {
	b.Scheduler.Start(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Review.RunDueScan(ctx, b.Config.Review.ScanInterval.Std())
	}()
	b.Scheduler.Wait()
	<-done
}

type ThinkResult struct {
	ThoughtID      string             `json:"thought_id"`
	Reply          string             `json:"reply"`
	Related        []string           `json:"related,omitempty"`
	Extraction     model.Extraction   `json:"extraction"`
	Entities       []model.Entity     `json:"entities"`
	Categories     []model.Category   `json:"categories"`
	HasConnections bool               `json:"has_connections"`
	ActionItems    []model.ActionItem `json:"action_items"`
	Saved          bool               `json:"saved"`
	Degraded       bool               `json:"degraded"`
	Degradations   []string           `json:"degradations,omitempty"`
}

type thinkOptions struct {
	onReply func(respond.Reply)
}

type ThinkOption func(*thinkOptions)

// WithReplyHook delivers the reply as soon as it is rendered, before the
// thought is saved.
func WithReplyHook(fn func(respond.Reply)) ThinkOption {
	return func(o *thinkOptions) { o.onReply = fn }
}

// Think runs a thought through context, extraction, enrichment, reply and
// save, then hands the follow-up work to the scheduler. Work continues after
// ctx is cancelled; only rendering the reply is skipped.
func (b *Brain) Think(ctx context.Context, text string, opts ...ThinkOption) (res *ThinkResult, err error) {
	var o thinkOptions
	for _, opt := range opts {
		opt(&o)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		b.countThink("rejected")
		return nil, errs.New(errs.KindPermanent, "think", "empty thought")
	}
	if n := len([]rune(text)); n > b.Config.Pipeline.MaxInputChars {
		b.countThink("rejected")
		return nil, errs.New(errs.KindPermanent, "think", fmt.Sprintf("thought is %d characters, limit is %d", n, b.Config.Pipeline.MaxInputChars))
	}

	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.Config.Pipeline.ThinkTimeout.Std())
	defer cancel()
	work, span := observability.StartSpan(work, "think")
	defer span.End()
	defer func() {
		switch {
		case err != nil:
			span.RecordError(err)
			b.countThink("error")
		case res.Degraded:
			b.countThink("degraded")
		default:
			b.countThink("ok")
		}
	}()

	thought := model.Thought{ID: b.NewID(), Content: text, CreatedAt: b.Now().UTC(), Source: model.SourceThink}
	span.SetAttributes(attribute.String("thought.id", thought.ID))
	res = &ThinkResult{ThoughtID: thought.ID}

	var bundle retrieval.Bundle
	err = b.stage(work, "context", func(sctx context.Context) (err error) {
		bundle, err = b.Loader.Load(sctx, text)
		return err
	})
	if err != nil {
		return nil, b.failed(work, "context", err)
	}
	if bundle.Degraded {
		b.Metrics.MarkDegraded("context")
		res.Degradations = append(res.Degradations, prefixed("context", bundle.Degradations)...)
	}

	var x model.Extraction
	err = b.stage(work, "extraction", func(sctx context.Context) (err error) {
		x, err = b.Loop.Run(sctx, text, bundle)
		return err
	})
	if err != nil {
		return nil, b.failed(work, "extraction", err)
	}
	if x.Degraded {
		b.Metrics.MarkDegraded("extraction")
		res.Degradations = append(res.Degradations, "extraction")
	}
	thought.Summary = x.Summary

	var enriched enrichment.Result
	_ = b.stage(work, "enrichment", func(sctx context.Context) error {
		enriched = b.Enricher.Run(sctx, enrichment.Input{ThoughtID: thought.ID, Text: text, Extraction: x, Bundle: bundle})
		return nil
	})
	if len(enriched.Failed) > 0 {
		b.Metrics.MarkDegraded("enrichment")
		res.Degradations = append(res.Degradations, prefixed("enrichment", enriched.Failed)...)
	}

	res.HasConnections = bundle.HasConnections()
	if ctx.Err() == nil {
		var reply respond.Reply
		_ = b.stage(work, "respond", func(sctx context.Context) error {
			reply = b.Responder.Reply(sctx, text, x, bundle)
			return nil
		})
		if reply.Degraded {
			b.Metrics.MarkDegraded("respond")
			res.Degradations = append(res.Degradations, "respond")
		}
		res.Reply, res.Related, res.HasConnections = reply.Text, reply.Related, reply.HasConnections
		if o.onReply != nil {
			o.onReply(reply)
		}
	} else {
		b.Logger.Info("client gone, skipping reply", zap.String("thought_id", thought.ID))
	}

	var saved saver.Saved
	err = b.stage(work, "save", func(sctx context.Context) (err error) {
		saved, err = b.Saver.Save(sctx, saver.Unit{
			Thought:    thought,
			Extraction: x,
			Mutations:  enriched.Mutations,
			Embedding:  bundle.QueryEmbedding,
		})
		return err
	})
	if err != nil {
		return nil, b.failed(work, "save", err)
	}

	b.afterSave(work, thought, x, saved)

	res.Extraction = x
	res.Entities = nonNil(x.Entities)
	res.Categories = nonNil(x.Categories)
	res.ActionItems = nonNil(saved.ActionItems)
	res.Saved = true
	res.Degraded = len(res.Degradations) > 0
	return res, nil
}

// afterSave enrolls the thought for review and queues its synthesis jobs.
// Neither can fail the think.
func (b *Brain) afterSave(ctx context.Context, t model.Thought, x model.Extraction, saved saver.Saved) {
	words := common.WordCount(t.Content)
	if words >= b.Config.Review.MinWords {
		if _, err := b.Review.Enroll(ctx, t.ID, t.Content); err != nil {
			b.Logger.Warn("failed to enroll review card", zap.String("thought_id", t.ID), zap.Error(err))
		}
	}

	jobs := []queue.Job{{Kind: synthesis.KindSerendipity, ThoughtID: t.ID, Embedding: saved.Embedding}}
	if len(saved.ProfileKeys) > 0 {
		jobs = append(jobs, queue.Job{Kind: synthesis.KindProfile, ThoughtID: t.ID, EntityKeys: saved.ProfileKeys})
	}
	if x.CompoundTask {
		jobs = append(jobs, queue.Job{Kind: synthesis.KindDecompose, ThoughtID: t.ID, Text: t.Content})
	}
	if words >= b.Config.Atomization.MinWords {
		jobs = append(jobs, queue.Job{Kind: synthesis.KindAtomize, ThoughtID: t.ID, Text: t.Content})
	}
	b.Scheduler.Submit(ctx, jobs...)
}

// DueReviewCards lists the cards due now, most overdue first.
func (b *Brain) DueReviewCards(ctx context.Context) ([]model.ReviewCard, error) {
	return b.Review.Due(ctx, review.AllDue)
}

func (b *Brain) RateReviewCard(ctx context.Context, thoughtID string, rating model.Rating) (model.ReviewCard, error) {
	return b.Review.Rate(ctx, thoughtID, rating)
}

// SerendipityNudges returns cached nudges for an empty focus or a thought id,
// and scans around the closest thought for free text.
func (b *Brain) SerendipityNudges(ctx context.Context, focus string) ([]model.Nudge, error) {
	nudges, err := b.Scanner.Nudges(ctx, focus)
	if err != nil {
		return nil, err
	}
	if nudges == nil {
		nudges = []model.Nudge{}
	}
	return nudges, nil
}

// DecomposeTask breaks text into a task tree without a source thought.
func (b *Brain) DecomposeTask(ctx context.Context, text string) (model.TaskTree, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Config.Pipeline.ThinkTimeout.Std())
	defer cancel()
	return b.Decomposer.Decompose(ctx, "", text)
}

// Atomize saves text as a thought and splits it into linked atoms.
func (b *Brain) Atomize(ctx context.Context, text string) ([]model.Thought, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.New(errs.KindPermanent, "atomize", "empty text")
	}
	ctx, cancel := context.WithTimeout(ctx, b.Config.Pipeline.ThinkTimeout.Std())
	defer cancel()

	original := model.Thought{
		ID:        b.NewID(),
		Content:   text,
		Summary:   common.Truncate(text, b.Config.Extraction.SummaryFallbackChars),
		CreatedAt: b.Now().UTC(),
		Source:    model.SourceAtomize,
	}
	if _, err := b.Saver.Save(ctx, saver.Unit{Thought: original, Extraction: model.Extraction{Summary: original.Summary}}); err != nil {
		return nil, fmt.Errorf("failed to save original: %w", err)
	}
	return b.Atomizer.Atomize(ctx, original)
}

// Search ranks saved thoughts by similarity to query.
func (b *Brain) Search(ctx context.Context, query string, limit int) ([]model.ScoredThought, error) {
	return b.Insight.Search(ctx, query, limit)
}

// SimilarThoughts ranks thoughts by embedding similarity to a saved one.
func (b *Brain) SimilarThoughts(ctx context.Context, thoughtID string, limit int) ([]model.ScoredThought, error) {
	return b.Insight.Similar(ctx, thoughtID, limit)
}

// RelatedThoughts lists thoughts sharing entities with a saved one.
func (b *Brain) RelatedThoughts(ctx context.Context, thoughtID string, limit int) ([]insight.RelatedThought, error) {
	return b.Insight.Related(ctx, thoughtID, limit)
}

func (b *Brain) CategoryThoughts(ctx context.Context, category string, limit int) ([]model.Thought, error) {
	return b.Insight.Category(ctx, category, limit)
}

func (b *Brain) People(ctx context.Context) ([]insight.Person, error) {
	return b.Insight.People(ctx)
}

func (b *Brain) Projects(ctx context.Context) ([]insight.Project, error) {
	return b.Insight.Projects(ctx)
}

func (b *Brain) Stats(ctx context.Context) (insight.Stats, error) {
	return b.Insight.Stats(ctx)
}

// Briefing builds the daily digest. Review cards and nudges that cannot be
// read are left out rather than failing it.
func (b *Brain) Briefing(ctx context.Context) (insight.Briefing, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Config.Pipeline.ThinkTimeout.Std())
	defer cancel()

	var in insight.BriefingInput
	due, err := b.Review.Due(ctx, 0)
	if err != nil {
		b.Logger.Warn("briefing without review cards", zap.Error(err))
	}
	in.DueCards = due
	if in.Nudges, err = b.Scanner.Nudges(ctx, ""); err != nil {
		b.Logger.Warn("briefing without nudges", zap.Error(err))
	}
	return b.Insight.Briefing(ctx, in)
}

// Feynman challenges the user to explain topic simply.
func (b *Brain) Feynman(ctx context.Context, topic string) (insight.Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Config.Pipeline.ThinkTimeout.Std())
	defer cancel()
	return b.Insight.Feynman(ctx, topic)
}

func (b *Brain) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "think."+name)
	defer span.End()
	err := fn(ctx)
	b.Metrics.ObserveStage(name, start)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// failed types a stage failure for the caller. A done work context means the
// think timeout elapsed.
func (b *Brain) failed(ctx context.Context, stage string, err error) error {
	b.Logger.Error("think failed", zap.String("stage", stage), zap.Error(err))
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, "think."+stage, err)
	}
	kind := errs.KindOf(err)
	if kind == errs.KindInternal {
		kind = errs.KindTransient
	}
	return errs.Wrap(kind, "think."+stage, err)
}

func (b *Brain) countThink(status string) {
	if b.Metrics != nil {
		b.Metrics.ThinkRequests.WithLabelValues(status).Inc()
	}
}

func prefixed(prefix string, items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = prefix + ":" + s
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
