// Package dedupe resolves extracted entities onto the nodes already in the graph.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/graph"
)

// Resolution is the canonical node an extracted entity maps to.
type Resolution struct {
	Key      string
	Entity   model.Entity
	Existing bool
}

type Resolver struct {
	Graph     graph.Store
	Threshold float64
	ScanLimit int
}

func NewResolver(g graph.Store, threshold float64, scanLimit int) *Resolver {
	return &Resolver{Graph: g, Threshold: threshold, ScanLimit: scanLimit}
}

// Resolve returns the existing node for e when its key matches exactly, when
// one of its aliases matches, or when a same-typed name is similar enough.
// Otherwise e resolves to a new node under its own key.
func (r *Resolver) Resolve(ctx context.Context, e model.Entity) (Resolution, error) {
	key := e.Key()
	if n, err := r.Graph.GetNode(ctx, graph.NodeRef{Label: model.LabelEntity, Key: key}); err == nil {
		return Resolution{Key: key, Entity: merge(EntityFromNode(n), e), Existing: true}, nil
	} else if !errors.Is(err, graph.ErrNotFound) {
		return Resolution{}, fmt.Errorf("failed to look up entity %s: %w", key, err)
	}

	res, err := r.Graph.Query(ctx, graph.Pattern{
		Start: graph.NodeRef{Label: model.LabelEntity},
		Where: map[string]any{"type": string(e.Type)},
		Limit: r.ScanLimit,
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to scan %s entities: %w", e.Type, err)
	}

	name := common.NormalizeName(e.Name)
	best, bestScore := -1, 0.0
	for i, n := range res.Nodes {
		score := Similarity(name, common.NormalizeName(n.String("name")))
		for _, alias := range n.Strings("aliases") {
			if s := Similarity(name, common.NormalizeName(alias)); s > score {
				score = s
			}
		}
		if score >= r.Threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		n := res.Nodes[best]
		return Resolution{Key: n.Key, Entity: merge(EntityFromNode(n), e), Existing: true}, nil
	}
	return Resolution{Key: key, Entity: e}, nil
}

// EntityFromNode decodes an Entity node.
func EntityFromNode(n graph.Node) model.Entity {
	return model.Entity{
		Name:        n.String("name"),
		Type:        model.ParseEntityType(n.String("type")),
		Description: n.String("description"),
		Aliases:     n.Strings("aliases"),
	}
}

// merge keeps the canonical name and records the incoming surface form as an alias.
func merge(canonical, incoming model.Entity) model.Entity {
	out := canonical
	if out.Description == "" {
		out.Description = incoming.Description
	}
	out.Aliases = UnionStrings(canonical.Aliases, incoming.Aliases)
	if incoming.Name != "" && common.NormalizeName(incoming.Name) != common.NormalizeName(canonical.Name) {
		out.Aliases = UnionStrings(out.Aliases, []string{incoming.Name})
	}
	return out
}

// UnionStrings merges b into a, preserving order and dropping case-insensitive duplicates.
func UnionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			k := strings.ToLower(strings.TrimSpace(s))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

