// Package retrieval assembles the context bundle for a new thought from the
// vector index and the graph.
package retrieval

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/dedupe"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

const (
	DegradedEmbedding = "embedding"
	DegradedVector    = "vector"
	DegradedGraph     = "graph"
	DegradedRerank    = "rerank"
)

// Bundle is the retrieved context for one thought.
type Bundle struct {
	Similar        []model.ScoredThought
	Entities       []model.Entity
	EntityKeys     []string
	Neighbors      []graph.Node
	QueryEmbedding []float32
	Degraded       bool
	Degradations   []string
}

// HasConnections reports whether anything prior was found.
func (b Bundle) HasConnections() bool {
	return len(b.Similar) > 0 || len(b.Entities) > 0
}

type Loader struct {
	Embedder     llm.EmbedderClient
	Vectors      vector.Index
	Graph        graph.Store
	Reranker     llm.RerankerClient
	Config       config.RetrievalConfig
	StoreTimeout time.Duration
	Logger       *zap.Logger
}

func NewLoader(emb llm.EmbedderClient, vectors vector.Index, g graph.Store, reranker llm.RerankerClient, cfg config.RetrievalConfig, storeTimeout time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Rerank {
		reranker = nil
	}
	return &Loader{
		Embedder:     emb,
		Vectors:      vectors,
		Graph:        g,
		Reranker:     reranker,
		Config:       cfg,
		StoreTimeout: storeTimeout,
		Logger:       logger.Named("retrieval"),
	}
}

// Load runs the vector and graph branches concurrently. A failing branch is
// recorded as a degradation; only a done ctx is returned as an error.
func (l *Loader) Load(ctx context.Context, text string) (Bundle, error) {
	var (
		mu     sync.Mutex
		bundle Bundle
	)
	degrade := func(what string, err error) {
		l.Logger.Warn("context branch degraded", zap.String("branch", what), zap.Error(err))
		mu.Lock()
		bundle.Degraded = true
		bundle.Degradations = append(bundle.Degradations, what)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		emb, err := l.Embedder.Embed(gctx, text)
		if err != nil {
			degrade(DegradedEmbedding, err)
			return nil
		}
		mu.Lock()
		bundle.QueryEmbedding = emb
		mu.Unlock()

		similar, err := l.similar(gctx, text, emb, degrade)
		if err != nil {
			degrade(DegradedVector, err)
			return nil
		}
		mu.Lock()
		bundle.Similar = similar
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		entities, keys, neighbors, err := l.graphContext(gctx, text)
		if err != nil {
			degrade(DegradedGraph, err)
			return nil
		}
		mu.Lock()
		bundle.Entities, bundle.EntityKeys, bundle.Neighbors = entities, keys, neighbors
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return bundle, err
	}
	sort.Strings(bundle.Degradations)
	return bundle, nil
}

func (l *Loader) similar(ctx context.Context, text string, emb []float32, degrade func(string, error)) ([]model.ScoredThought, error) {
	sctx, cancel := l.storeContext(ctx)
	defer cancel()

	matches, err := l.Vectors.Query(sctx, emb, l.Config.TopK, vector.Filter{"kind": "thought"})
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	var out []model.ScoredThought
	for _, m := range matches {
		if m.Score < l.Config.MinSimilarity {
			continue
		}
		st := model.ScoredThought{ID: m.ID, Score: m.Score}
		if n, err := l.Graph.GetNode(sctx, graph.NodeRef{Label: model.LabelThought, Key: m.ID}); err == nil {
			st.Content = n.String("content")
			st.Summary = n.String("summary")
		}
		out = append(out, st)
	}

	if l.Reranker != nil && len(out) > 1 {
		docs := make([]string, len(out))
		for i, st := range out {
			docs[i] = st.Content
		}
		order, err := l.Reranker.Rank(ctx, text, docs)
		if err != nil {
			degrade(DegradedRerank, err)
			return out, nil
		}
		ranked := make([]model.ScoredThought, 0, len(out))
		for _, i := range order {
			ranked = append(ranked, out[i])
		}
		out = ranked
	}
	return out, nil
}

func (l *Loader) graphContext(ctx context.Context, text string) ([]model.Entity, []string, []graph.Node, error) {
	sctx, cancel := l.storeContext(ctx)
	defer cancel()

	tokens := common.Tokens(text)
	var (
		entities []model.Entity
		keys     []string
	)
	add := func(n graph.Node) {
		if !slices.Contains(keys, n.Key) {
			entities = append(entities, dedupe.EntityFromNode(n))
			keys = append(keys, n.Key)
		}
	}

	// Exact names are looked up directly so they are found however many
	// entities exist. The capped scan only serves aliases and near matches.
	if grams := Ngrams(tokens, maxNameWords); len(grams) > 0 {
		named, err := l.Graph.Query(sctx, graph.Pattern{
			Start: graph.NodeRef{Label: model.LabelEntity},
			Where: map[string]any{"norm_name": grams},
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("entity lookup: %w", err)
		}
		for _, n := range named.Nodes {
			add(n)
		}
	}

	res, err := l.Graph.Query(sctx, graph.Pattern{
		Start: graph.NodeRef{Label: model.LabelEntity},
		Limit: l.Config.EntityScanLimit,
	})
	if err != nil {
		return entities, keys, nil, fmt.Errorf("entity scan: %w", err)
	}
	for _, n := range res.Nodes {
		if MentionedIn(tokens, dedupe.EntityFromNode(n), l.Config.EntityMatchThreshold) {
			add(n)
		}
	}

	seen := make(map[graph.NodeRef]bool)
	var neighbors []graph.Node
	for _, key := range keys {
		nres, err := l.Graph.Query(sctx, graph.Pattern{
			Start:     graph.NodeRef{Label: model.LabelEntity, Key: key},
			Direction: graph.Both,
			MaxHops:   l.Config.MaxHops,
			Limit:     l.Config.NeighborLimit,
		})
		if err != nil {
			return entities, keys, neighbors, fmt.Errorf("neighbors of %s: %w", key, err)
		}
		for _, n := range nres.Nodes {
			if !seen[n.Ref()] {
				seen[n.Ref()] = true
				neighbors = append(neighbors, n)
			}
		}
	}
	return entities, keys, neighbors, nil
}

func (l *Loader) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.StoreTimeout)
}

// maxNameWords bounds the length of entity names found by direct lookup.
const maxNameWords = 4

// Ngrams returns the distinct runs of 1 to n consecutive tokens joined by
// single spaces, in the form entity norm_name values take.
func Ngrams(tokens []string, n int) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range tokens {
		for j := i + 1; j <= len(tokens) && j-i <= n; j++ {
			g := strings.Join(tokens[i:j], " ")
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	return out
}

// MentionedIn reports whether e's name or an alias occurs in the tokenized
// text, exactly or as a window of the same length within threshold.
func MentionedIn(tokens []string, e model.Entity, threshold float64) bool {
	padded := " " + strings.Join(tokens, " ") + " "
	for _, name := range append([]string{e.Name}, e.Aliases...) {
		nameTokens := common.Tokens(name)
		if len(nameTokens) == 0 {
			continue
		}
		norm := strings.Join(nameTokens, " ")
		if strings.Contains(padded, " "+norm+" ") {
			return true
		}
		// Fuzzy windows only for names long enough that one edit is not most of the name.
		if len([]rune(norm)) < 4 {
			continue
		}
		for i := 0; i+len(nameTokens) <= len(tokens); i++ {
			window := strings.Join(tokens[i:i+len(nameTokens)], " ")
			if dedupe.Similarity(norm, window) >= threshold {
				return true
			}
		}
	}
	return false
}
