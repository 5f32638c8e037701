// Package atomize splits long thoughts into single-idea atomic notes linked
// back to their source.
package atomize

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

// Atom is one proposed note before it is saved.
type Atom struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Concepts []string `json:"concepts"`
}

type proposal struct {
	Atoms []Atom `json:"atoms"`
}

type Atomizer struct {
	LLM      llm.LLMClient
	Embedder llm.EmbedderClient
	Graph    graph.Store
	Vectors  vector.Index
	Config   config.AtomizationConfig
	Prompt   string
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewAtomizer(client llm.LLMClient, emb llm.EmbedderClient, g graph.Store, v vector.Index, cfg config.AtomizationConfig, prompt string, logger *zap.Logger) *Atomizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Atomizer{
		LLM:      client,
		Embedder: emb,
		Graph:    g,
		Vectors:  v,
		Config:   cfg,
		Prompt:   prompt,
		Logger:   logger.Named("atomizer"),
		Now:      time.Now,
	}
}

// Atomize saves the atoms of original, which must already be in the graph.
// Atom ids derive from the original id and position, so a retried run
// overwrites rather than duplicates.
func (a *Atomizer) Atomize(ctx context.Context, original model.Thought) ([]model.Thought, error) {
	if strings.TrimSpace(original.Content) == "" {
		return nil, errs.New(errs.KindPermanent, "atomize", "empty thought")
	}

	atoms, err := a.propose(ctx, original.Content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindTimeout, "atomize", ctx.Err())
		}
		a.Logger.Warn("atomization fell back to sentence chunks", zap.String("thought_id", original.ID), zap.Error(err))
		atoms = Chunk(original.Content, a.Config)
	} else if len(atoms) == 0 || len(atoms) < a.Config.MinAtoms {
		a.Logger.Info("too few atoms proposed, chunking instead", zap.Int("atoms", len(atoms)))
		atoms = Chunk(original.Content, a.Config)
	}

	now := a.Now().UTC()
	out := make([]model.Thought, 0, len(atoms))
	for i, atom := range atoms {
		t := model.Thought{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/atom/%d", original.ID, i))).String(),
			Content:   atom.Content,
			Summary:   atom.Title,
			Title:     atom.Title,
			CreatedAt: now,
			Source:    model.SourceAtom,
			Atomic:    true,
			SourceID:  original.ID,
		}
		if err := a.save(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	for i := range atoms {
		for j := i + 1; j < len(atoms); j++ {
			shared := sharedConcept(atoms[i].Concepts, atoms[j].Concepts)
			if shared == "" {
				continue
			}
			err := a.Graph.UpsertEdge(ctx, model.EdgeRelatedTo, thoughtRef(out[i].ID), thoughtRef(out[j].ID), map[string]any{"concept": shared})
			if err != nil {
				return nil, errs.Wrap(errs.KindTransient, "atomize.link", err)
			}
		}
	}
	return out, nil
}

func (a *Atomizer) propose(ctx context.Context, text string) ([]Atom, error) {
	p, err := llm.GenerateJSON[proposal](ctx, a.LLM, fmt.Sprintf(a.Prompt, a.Config.MinAtoms, a.Config.MaxAtoms, text))
	if err != nil {
		return nil, err
	}
	return Normalize(p.Atoms, text, a.Config.MaxAtoms), nil
}

func (a *Atomizer) save(ctx context.Context, t model.Thought) error {
	err := a.Graph.UpsertNode(ctx, model.LabelThought, t.ID, map[string]any{
		"content":    t.Content,
		"summary":    t.Summary,
		"title":      t.Title,
		"created_at": t.CreatedAt.Format(time.RFC3339Nano),
		"source":     t.Source,
		"atomic":     true,
		"source_id":  t.SourceID,
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, "atomize.save", err)
	}
	if err := a.Graph.UpsertEdge(ctx, model.EdgeAtomizedFrom, thoughtRef(t.ID), thoughtRef(t.SourceID), nil); err != nil {
		return errs.Wrap(errs.KindTransient, "atomize.save", err)
	}

	vec, err := a.Embedder.Embed(ctx, t.Content)
	if err != nil {
		return fmt.Errorf("failed to embed atom: %w", err)
	}
	err = a.Vectors.Upsert(ctx, t.ID, vec, map[string]any{
		"kind":       "thought",
		"created_at": t.CreatedAt.Format(time.RFC3339Nano),
		"atomic":     true,
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, "atomize.vector", err)
	}
	return nil
}

// Normalize drops empty atoms and atoms longer than the source, then merges
// the shortest adjacent pair until at most maxAtoms remain. A merge may not
// outgrow the source either; when no pair fits it returns nil.
func Normalize(atoms []Atom, source string, maxAtoms int) []Atom {
	limit := utf8.RuneCountInString(strings.TrimSpace(source))
	var out []Atom
	for _, at := range atoms {
		at.Content = strings.TrimSpace(at.Content)
		at.Title = strings.TrimSpace(at.Title)
		if at.Content == "" || utf8.RuneCountInString(at.Content) > limit {
			continue
		}
		if at.Title == "" {
			at.Title = common.Truncate(at.Content, 60)
		}
		out = append(out, at)
	}

	for maxAtoms > 0 && len(out) > maxAtoms {
		best, bestLen := -1, math.MaxInt
		for i := 0; i+1 < len(out); i++ {
			n := utf8.RuneCountInString(out[i].Content) + 1 + utf8.RuneCountInString(out[i+1].Content)
			if n <= limit && n < bestLen {
				best, bestLen = i, n
			}
		}
		if best < 0 {
			return nil
		}
		merged := Atom{
			Title:    out[best].Title + " / " + out[best+1].Title,
			Content:  out[best].Content + " " + out[best+1].Content,
			Concepts: append(append([]string(nil), out[best].Concepts...), out[best+1].Concepts...),
		}
		out = append(out[:best], append([]Atom{merged}, out[best+2:]...)...)
	}
	return out
}

// Chunk splits text into clamp(round(words/target), min, max) contiguous
// chunks of roughly equal word count, cutting at sentence boundaries when
// there are enough sentences.
func Chunk(text string, cfg config.AtomizationConfig) []Atom {
	words := common.WordCount(text)
	if words == 0 {
		return nil
	}
	n := int(math.Round(float64(words) / float64(max(cfg.TargetWords, 1))))
	n = min(max(n, cfg.MinAtoms), cfg.MaxAtoms)

	units := common.Sentences(text)
	if len(units) < n {
		units = strings.Fields(text)
	}
	n = min(n, len(units))

	groups := partition(units, words, n)
	out := make([]Atom, 0, len(groups))
	for _, g := range groups {
		content := strings.Join(g, " ")
		out = append(out, Atom{Title: common.Truncate(g[0], 60), Content: content})
	}
	return out
}

func partition(units []string, total, n int) [][]string {
	groups := make([][]string, 0, n)
	var cur []string
	acc := 0
	for i, u := range units {
		cur = append(cur, u)
		acc += common.WordCount(u)
		left := n - len(groups) - 1
		if left == 0 {
			continue
		}
		if len(units)-i-1 == left || acc*n >= total*(len(groups)+1) {
			groups = append(groups, cur)
			cur = nil
		}
	}
	return append(groups, cur)
}

func sharedConcept(a, b []string) string {
	set := make(map[string]bool, len(a))
	for _, c := range a {
		if k := common.NormalizeName(c); k != "" {
			set[k] = true
		}
	}
	for _, c := range b {
		if k := common.NormalizeName(c); set[k] {
			return k
		}
	}
	return ""
}

func thoughtRef(id string) graph.NodeRef {
	return graph.NodeRef{Label: model.LabelThought, Key: id}
}
