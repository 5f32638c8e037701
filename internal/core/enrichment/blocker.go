package enrichment

import (
	"context"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
)

// Blocker flags Project entities named alongside a blocking phrase.
type Blocker struct {
	Phrases []string
}

func (b *Blocker) Name() string { return "blocker" }

func (b *Blocker) Propose(ctx context.Context, in Input) ([]model.Mutation, error) {
	projects := in.Extraction.EntitiesOfType(model.EntityProject)
	if len(projects) == 0 {
		return nil, nil
	}

	var out []model.Mutation
	flagged := make(map[string]bool)
	for _, s := range split(in.Text) {
		if !b.blocking(s) {
			continue
		}
		targets := s.mentioned(projects, model.EntityProject)
		if len(targets) == 0 && len(projects) == 1 {
			targets = projects
		}
		for _, p := range targets {
			if flagged[p.Key()] {
				continue
			}
			flagged[p.Key()] = true
			out = append(out, model.ProjectStatus{
				EntityKey:      p.Key(),
				Status:         "blocked",
				BlockingPhrase: common.Truncate(s.text, 200),
				ThoughtID:      in.ThoughtID,
			})
		}
	}
	return out, nil
}

func (b *Blocker) blocking(s sentence) bool {
	for _, p := range b.Phrases {
		if s.hasPhrase(p) {
			return true
		}
	}
	return false
}
