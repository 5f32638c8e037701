package enrichment

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
)

// ActionAuditor scores each sentence for implied obligations and emits an
// ActionItem for sentences that start with an imperative or carry an
// obligation phrase.
type ActionAuditor struct {
	cfg   config.EnrichmentConfig
	dated *regexp.Regexp
	fills map[string]bool
	verbs map[string]bool
	NewID func() string
}

func NewActionAuditor(cfg config.EnrichmentConfig) (*ActionAuditor, error) {
	a := &ActionAuditor{
		cfg:   cfg,
		fills: toSet(cfg.FillerWords),
		verbs: toSet(cfg.ImperativeVerbs),
		NewID: uuid.NewString,
	}
	if cfg.DatedPattern != "" {
		re, err := regexp.Compile("(?i)" + cfg.DatedPattern)
		if err != nil {
			return nil, err
		}
		a.dated = re
	}
	return a, nil
}

func (a *ActionAuditor) Name() string { return "action_auditor" }

func (a *ActionAuditor) Propose(ctx context.Context, in Input) ([]model.Mutation, error) {
	var out []model.Mutation
	for _, s := range split(in.Text) {
		score, due, ok := a.score(s, in.Extraction.Entities)
		if !ok {
			continue
		}
		item := model.ActionItem{
			ID:          a.NewID(),
			Description: s.text,
			Urgency:     score,
			DueContext:  due,
			ThoughtID:   in.ThoughtID,
			Status:      "pending",
		}
		if linked := s.mentioned(in.Extraction.Entities, model.EntityPerson, model.EntityProject); len(linked) > 0 {
			item.EntityKey = linked[0].Key()
		}
		out = append(out, model.NewActionItem{Item: item})
	}
	return out, nil
}

// Score rates one sentence. ok is false when the sentence implies no action.
func (a *ActionAuditor) Score(text string, entities []model.Entity) (score float64, due string, ok bool) {
	ss := split(text)
	if len(ss) == 0 {
		return 0, "", false
	}
	return a.score(ss[0], entities)
}

func (a *ActionAuditor) score(s sentence, entities []model.Entity) (score float64, due string, ok bool) {
	anchor := -1
	first := 0
	for first < len(s.tokens) && a.fills[s.tokens[first]] {
		first++
	}
	if first < len(s.tokens) && a.verbs[s.tokens[first]] {
		score += a.cfg.ImperativeWeight
		anchor = first
	}
	for _, p := range a.cfg.ObligationPhrases {
		if i := s.phraseIndex(p); i >= 0 {
			score += a.cfg.ObligationWeight
			if anchor < 0 || i < anchor {
				anchor = i
			}
			break
		}
	}
	if anchor < 0 {
		return 0, "", false
	}

	if len(s.mentioned(entities, model.EntityPerson)) > 0 {
		score += a.cfg.PersonWeight
	}
	for _, tok := range s.tokens {
		score += a.cfg.UrgencyMarkers[tok]
	}

	datedAt := -1
	for i, tok := range s.tokens {
		if containsKey(a.cfg.DatedTerms, tok) {
			datedAt, due = i, tok
			break
		}
	}
	if datedAt >= 0 {
		if abs(datedAt-anchor) <= a.cfg.ProximityWindow {
			score += a.cfg.DatedNearWeight
		} else {
			score += a.cfg.DatedFarWeight
		}
	} else if a.dated != nil {
		if m := a.dated.FindString(s.text); m != "" {
			due = strings.TrimSpace(m)
			score += a.cfg.DatedFarWeight
		}
	}
	return model.ClampUrgency(score), due, true
}

func toSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
