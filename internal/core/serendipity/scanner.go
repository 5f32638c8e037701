// Package serendipity finds structural holes: thoughts that are semantically
// close to each other but far apart in the graph.
package serendipity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/community"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

type Scanner struct {
	Embedder llm.EmbedderClient
	Vectors  vector.Index
	Graph    graph.Store
	LLM      llm.LLMClient
	Detector community.Detector
	Config   config.SerendipityConfig
	Prompt   string
	Cache    *NudgeCache
	Logger   *zap.Logger
}

func NewScanner(emb llm.EmbedderClient, v vector.Index, g graph.Store, client llm.LLMClient, cfg config.SerendipityConfig, prompt string, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		Embedder: emb,
		Vectors:  v,
		Graph:    g,
		LLM:      client,
		Detector: community.NewDetector(cfg.ClusterAlgorithm),
		Config:   cfg,
		Prompt:   prompt,
		Cache:    NewNudgeCache(cfg.CacheSize),
		Logger:   logger.Named("serendipity"),
	}
}

// structuralEdges connect thoughts through what they are about. Category
// and User hubs would put every pair within two hops.
var structuralEdges = []string{model.EdgeMentions, model.EdgeRelatedTo, model.EdgeAtomizedFrom}

type candidate struct {
	id         string
	content    string
	similarity float64
	distance   int
}

// ScanThought scans around a saved thought using the embedding it was saved
// with, and caches the result.
func (s *Scanner) ScanThought(ctx context.Context, thoughtID string, vec []float32) ([]model.Nudge, error) {
	nudges, err := s.scan(ctx, thoughtID, vec)
	if err != nil {
		return nil, err
	}
	s.Cache.Put(thoughtID, nudges)
	return nudges, nil
}

// Nudges answers a focus query. An empty focus returns every cached nudge; a
// cached thought id returns that thought's scan; any other text is embedded
// and the closest thought anchors a fresh scan.
func (s *Scanner) Nudges(ctx context.Context, focus string) ([]model.Nudge, error) {
	focus = strings.TrimSpace(focus)
	if focus == "" {
		return s.Cache.All(), nil
	}
	if cached, ok := s.Cache.Get(focus); ok {
		return cached, nil
	}

	vec, err := s.Embedder.Embed(ctx, focus)
	if err != nil {
		return nil, fmt.Errorf("failed to embed focus: %w", err)
	}
	top, err := s.Vectors.Query(ctx, vec, 1, vector.Filter{"kind": "thought"})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "serendipity.focus", err)
	}
	if len(top) == 0 || top[0].Score < s.Config.MinSimilarity {
		return []model.Nudge{}, nil
	}
	return s.scan(ctx, top[0].ID, vec)
}

func (s *Scanner) scan(ctx context.Context, anchorID string, vec []float32) ([]model.Nudge, error) {
	anchor, err := s.Graph.GetNode(ctx, thoughtRef(anchorID))
	if errors.Is(err, graph.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "serendipity.scan", "no thought "+anchorID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "serendipity.scan", err)
	}

	matches, err := s.Vectors.Query(ctx, vec, s.Config.ScanLimit+1, vector.Filter{"kind": "thought"})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "serendipity.scan", err)
	}

	var cands []candidate
	for _, m := range matches {
		if m.ID == anchorID || m.Score < s.Config.MinSimilarity {
			continue
		}
		hops, err := s.Graph.Distance(ctx, thoughtRef(anchorID), thoughtRef(m.ID), s.Config.MaxHops, structuralEdges...)
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, "serendipity.distance", err)
		}
		if hops < 0 {
			hops = s.Config.MaxHops + 1
		}
		if hops < s.Config.MinDistance {
			continue
		}
		other, err := s.Graph.GetNode(ctx, thoughtRef(m.ID))
		if err != nil {
			s.Logger.Debug("candidate missing from graph", zap.String("thought_id", m.ID), zap.Error(err))
			continue
		}
		cands = append(cands, candidate{id: m.ID, content: other.String("content"), similarity: m.Score, distance: hops})
	}

	nudges := make([]model.Nudge, 0, len(cands))
	for _, c := range cands {
		nudges = append(nudges, model.Nudge{
			ThoughtID:    anchorID,
			OtherID:      c.id,
			OtherContent: c.content,
			Similarity:   c.similarity,
			Distance:     c.distance,
		})
	}
	sortNudges(nudges)
	if len(nudges) > s.Config.MaxNudges {
		nudges = nudges[:s.Config.MaxNudges]
	}
	if len(nudges) == 0 {
		return nudges, nil
	}

	labels, err := s.clusters(ctx, anchorID, nudges)
	if err != nil {
		return nil, err
	}
	content := anchor.String("content")
	for i := range nudges {
		nudges[i].CrossCluster = labels[anchorID] != labels[nudges[i].OtherID]
		nudges[i].Message = s.message(ctx, content, nudges[i].OtherContent)
	}
	return nudges, nil
}

// clusters labels the involved thoughts over their entity co-mention graph.
func (s *Scanner) clusters(ctx context.Context, anchorID string, nudges []model.Nudge) (map[string]string, error) {
	ids := []string{anchorID}
	for _, n := range nudges {
		ids = append(ids, n.OtherID)
	}

	nodes := append([]string(nil), ids...)
	seen := make(map[string]bool)
	var links []community.Link
	for _, id := range ids {
		res, err := s.Graph.Query(ctx, graph.Pattern{
			Start:       thoughtRef(id),
			EdgeTypes:   []string{model.EdgeMentions},
			Direction:   graph.Out,
			MaxHops:     1,
			TargetLabel: model.LabelEntity,
		})
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, "serendipity.clusters", err)
		}
		for _, e := range res.Nodes {
			key := "entity:" + e.Key
			if !seen[key] {
				seen[key] = true
				nodes = append(nodes, key)
			}
			links = append(links, community.Link{A: id, B: key})
		}
	}
	return s.Detector.Assign(nodes, links), nil
}

func (s *Scanner) message(ctx context.Context, a, b string) string {
	if s.LLM != nil && s.Prompt != "" {
		out, err := s.LLM.Generate(ctx, fmt.Sprintf(s.Prompt, common.Truncate(a, 300), common.Truncate(b, 300)))
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out)
		}
		s.Logger.Debug("nudge message fell back to template", zap.Error(err))
	}
	return Template(a, b)
}

// Template is the message used when inference is unavailable.
func Template(a, b string) string {
	return fmt.Sprintf("%q and %q look related but are not connected yet. Is there a link?",
		common.Truncate(a, 60), common.Truncate(b, 60))
}

func thoughtRef(id string) graph.NodeRef {
	return graph.NodeRef{Label: model.LabelThought, Key: id}
}
