package enrichment

import (
	"context"
	"fmt"

	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/graph"
)

// Social strengthens the user's tie to each person mentioned and suggests the
// people they tend to appear with.
type Social struct {
	Graph     graph.Store
	Increment float64
	Limit     int
}

func (s *Social) Name() string { return "social" }

func (s *Social) Propose(ctx context.Context, in Input) ([]model.Mutation, error) {
	people := in.Extraction.EntitiesOfType(model.EntityPerson)
	var out []model.Mutation
	for _, p := range people {
		key := p.Key()
		out = append(out, model.LinkStrength{PersonKey: key, Delta: s.Increment})

		suggestions, err := s.coMentioned(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, other := range people {
			if k := other.Key(); k != key && !containsKey(suggestions, k) {
				suggestions = append(suggestions, k)
			}
		}
		if len(suggestions) > s.Limit {
			suggestions = suggestions[:s.Limit]
		}
		if len(suggestions) > 0 {
			out = append(out, model.SuggestedConnections{PersonKey: key, Suggestions: suggestions})
		}
	}
	return out, nil
}

// coMentioned walks Person <-MENTIONS- Thought -MENTIONS-> Person.
func (s *Social) coMentioned(ctx context.Context, key string) ([]string, error) {
	res, err := s.Graph.Query(ctx, graph.Pattern{
		Start:       graph.NodeRef{Label: model.LabelEntity, Key: key},
		EdgeTypes:   []string{model.EdgeMentions},
		Direction:   graph.Both,
		MaxHops:     2,
		TargetLabel: model.LabelEntity,
		Where:       map[string]any{"type": string(model.EntityPerson)},
		Limit:       s.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("co-mention query for %s: %w", key, err)
	}
	keys := make([]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		if n.Key != key {
			keys = append(keys, n.Key)
		}
	}
	return keys, nil
}

func containsKey(list []string, k string) bool {
	for _, s := range list {
		if s == k {
			return true
		}
	}
	return false
}
