// Package enrichment runs the closed set of enrichment agents over a new thought.
// Agents only propose mutations; the saver commits them.
package enrichment

import (
	"context"
	"strings"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/core/retrieval"
)

// Input is everything an agent may read.
type Input struct {
	ThoughtID  string
	Text       string
	Extraction model.Extraction
	Bundle     retrieval.Bundle
}

type Agent interface {
	Name() string
	Propose(ctx context.Context, in Input) ([]model.Mutation, error)
}

// sentence is one clause of the input with its tokens.
type sentence struct {
	text   string
	tokens []string
}

func split(text string) []sentence {
	var out []sentence
	for _, s := range common.Sentences(text) {
		out = append(out, sentence{text: s, tokens: common.Tokens(s)})
	}
	return out
}

func (s sentence) padded() string {
	return " " + strings.Join(s.tokens, " ") + " "
}

// hasPhrase matches a whole-word, case-insensitive phrase.
func (s sentence) hasPhrase(phrase string) bool {
	p := common.Tokens(phrase)
	if len(p) == 0 {
		return false
	}
	return strings.Contains(s.padded(), " "+strings.Join(p, " ")+" ")
}

// phraseIndex returns the token index where phrase starts, or -1.
func (s sentence) phraseIndex(phrase string) int {
	p := common.Tokens(phrase)
	if len(p) == 0 {
		return -1
	}
	for i := 0; i+len(p) <= len(s.tokens); i++ {
		match := true
		for j := range p {
			if s.tokens[i+j] != p[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// mentioned returns the entities of the given types named in s, in extraction order.
func (s sentence) mentioned(entities []model.Entity, types ...model.EntityType) []model.Entity {
	var out []model.Entity
	for _, e := range entities {
		for _, t := range types {
			if e.Type == t && retrieval.MentionedIn(s.tokens, e, 1) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
