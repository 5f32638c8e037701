// Package insight serves the read side of the knowledge graph: search,
// related thoughts, browsing, statistics, the daily briefing and Feynman
// challenges.
package insight

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

type Explorer struct {
	Graph    graph.Store
	Vectors  vector.Index
	Embedder llm.EmbedderClient
	LLM      llm.LLMClient
	Config   config.InsightConfig
	Prompts  config.Prompts
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewExplorer(g graph.Store, v vector.Index, emb llm.EmbedderClient, client llm.LLMClient, cfg config.InsightConfig, prompts config.Prompts, logger *zap.Logger) *Explorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Explorer{
		Graph:    g,
		Vectors:  v,
		Embedder: emb,
		LLM:      client,
		Config:   cfg,
		Prompts:  prompts,
		Logger:   logger.Named("insight"),
		Now:      time.Now,
	}
}

// RelatedThought is a thought sharing entities with another one.
type RelatedThought struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Summary        string    `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	SharedEntities []string  `json:"shared_entities"`
}

// Search ranks saved thoughts by semantic similarity to query. A limit <= 0
// uses the configured default.
func (e *Explorer) Search(ctx context.Context, query string, limit int) ([]model.ScoredThought, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.New(errs.KindPermanent, "insight.search", "empty query")
	}
	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "insight.search", err)
	}
	return e.nearest(ctx, vec, e.limit(limit, e.Config.SearchLimit), "")
}

// Similar ranks the thoughts semantically closest to a saved thought.
func (e *Explorer) Similar(ctx context.Context, thoughtID string, limit int) ([]model.ScoredThought, error) {
	n, err := e.thought(ctx, thoughtID, "insight.similar")
	if err != nil {
		return nil, err
	}
	vec, err := e.Embedder.Embed(ctx, n.String("content"))
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "insight.similar", err)
	}
	return e.nearest(ctx, vec, e.limit(limit, e.Config.RelatedLimit), thoughtID)
}

// Related returns the thoughts that mention the same entities as thoughtID,
// most shared entities first, then newest.
func (e *Explorer) Related(ctx context.Context, thoughtID string, limit int) ([]RelatedThought, error) {
	if _, err := e.thought(ctx, thoughtID, "insight.related"); err != nil {
		return nil, err
	}
	mentioned, err := e.Graph.Query(ctx, graph.Pattern{
		Start:       thoughtRef(thoughtID),
		EdgeTypes:   []string{model.EdgeMentions},
		Direction:   graph.Out,
		MaxHops:     1,
		TargetLabel: model.LabelEntity,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "insight.related", err)
	}

	byID := make(map[string]*RelatedThought)
	for _, ent := range mentioned.Nodes {
		res, err := e.Graph.Query(ctx, graph.Pattern{
			Start:       ent.Ref(),
			EdgeTypes:   []string{model.EdgeMentions},
			Direction:   graph.In,
			MaxHops:     1,
			TargetLabel: model.LabelThought,
		})
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, "insight.related", err)
		}
		for _, t := range res.Nodes {
			if t.Key == thoughtID {
				continue
			}
			r, ok := byID[t.Key]
			if !ok {
				r = &RelatedThought{ID: t.Key, Content: t.String("content"), Summary: t.String("summary"), CreatedAt: t.Time("created_at")}
				byID[t.Key] = r
			}
			r.SharedEntities = append(r.SharedEntities, ent.Key)
		}
	}

	out := make([]RelatedThought, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if len(a.SharedEntities) != len(b.SharedEntities) {
			return len(a.SharedEntities) > len(b.SharedEntities)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit = e.limit(limit, e.Config.RelatedLimit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// nearest resolves index hits to graph thoughts. Hits the graph does not
// know yet are skipped.
func (e *Explorer) nearest(ctx context.Context, vec []float32, limit int, exclude string) ([]model.ScoredThought, error) {
	k := limit
	if exclude != "" {
		k++
	}
	matches, err := e.Vectors.Query(ctx, vec, k, vector.Filter{"kind": "thought"})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "insight.nearest", err)
	}
	out := make([]model.ScoredThought, 0, len(matches))
	for _, m := range matches {
		if m.ID == exclude {
			continue
		}
		n, err := e.Graph.GetNode(ctx, thoughtRef(m.ID))
		if err != nil {
			e.Logger.Debug("indexed thought missing from graph", zap.String("thought_id", m.ID), zap.Error(err))
			continue
		}
		out = append(out, model.ScoredThought{ID: m.ID, Content: n.String("content"), Summary: n.String("summary"), Score: m.Score})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (e *Explorer) thought(ctx context.Context, id, op string) (graph.Node, error) {
	if strings.TrimSpace(id) == "" {
		return graph.Node{}, errs.New(errs.KindPermanent, op, "empty thought id")
	}
	n, err := e.Graph.GetNode(ctx, thoughtRef(id))
	if errors.Is(err, graph.ErrNotFound) {
		return graph.Node{}, errs.New(errs.KindNotFound, op, "no thought "+id)
	}
	if err != nil {
		return graph.Node{}, errs.Wrap(errs.KindTransient, op, err)
	}
	return n, nil
}

// maxLimit caps page sizes chosen by callers.
const maxLimit = 200

func (e *Explorer) limit(n, def int) int {
	switch {
	case n <= 0:
		return def
	case n > maxLimit:
		return maxLimit
	}
	return n
}

func thoughtRef(id string) graph.NodeRef {
	return graph.NodeRef{Label: model.LabelThought, Key: id}
}
