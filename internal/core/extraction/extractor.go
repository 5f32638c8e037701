// Package extraction turns a raw thought into a normalized Extraction through a
// bounded extract, critique and refine loop.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/llm"
)

const defaultConfidence = 0.5

type Extractor struct {
	LLM     llm.LLMClient
	Prompts config.Prompts
}

func NewExtractor(llmClient llm.LLMClient, prompts config.Prompts) *Extractor {
	return &Extractor{
		LLM:     llmClient,
		Prompts: prompts,
	}
}

// Extract produces a first-pass extraction of thought given rendered context.
func (e *Extractor) Extract(ctx context.Context, thought, contextText string) (model.Extraction, error) {
	prompt := fmt.Sprintf(e.Prompts.Extract, contextText, thought)

	raw, err := llm.GenerateJSON[model.RawExtraction](ctx, e.LLM, prompt)
	if err != nil {
		return model.Extraction{}, fmt.Errorf("failed to extract: %w", err)
	}
	return Normalize(raw), nil
}

// Critique lists the gaps in x. An empty list accepts it.
func (e *Extractor) Critique(ctx context.Context, thought, contextText string, x model.Extraction) ([]string, error) {
	prompt := fmt.Sprintf(e.Prompts.Critique, thought, contextText, render(x))

	c, err := llm.GenerateJSON[model.Critique](ctx, e.LLM, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to critique: %w", err)
	}
	var gaps []string
	for _, g := range c.Gaps {
		if g = strings.TrimSpace(g); g != "" {
			gaps = append(gaps, g)
		}
	}
	return gaps, nil
}

func (e *Extractor) Refine(ctx context.Context, thought, contextText string, x model.Extraction, gaps []string) (model.Extraction, error) {
	prompt := fmt.Sprintf(e.Prompts.Refine, thought, contextText, render(x), "- "+strings.Join(gaps, "\n- "))

	raw, err := llm.GenerateJSON[model.RawExtraction](ctx, e.LLM, prompt)
	if err != nil {
		return model.Extraction{}, fmt.Errorf("failed to refine: %w", err)
	}
	return Normalize(raw), nil
}

// Normalize maps raw model output onto the closed entity and category sets.
func Normalize(raw model.RawExtraction) model.Extraction {
	var x model.Extraction

	seen := make(map[string]int)
	for _, re := range raw.Entities {
		name := strings.TrimSpace(re.Name)
		if name == "" {
			continue
		}
		ent := model.Entity{Name: name, Type: model.ParseEntityType(re.Type), Description: strings.TrimSpace(re.Description)}
		if i, ok := seen[ent.Key()]; ok {
			if x.Entities[i].Description == "" {
				x.Entities[i].Description = ent.Description
			}
			continue
		}
		seen[ent.Key()] = len(x.Entities)
		x.Entities = append(x.Entities, ent)
	}

	cats := make(map[model.Category]bool)
	addCat := func(c model.Category) {
		if !cats[c] {
			cats[c] = true
			x.Categories = append(x.Categories, c)
		}
	}
	for _, c := range raw.Categories {
		if cat, ok := model.ParseCategory(c); ok {
			addCat(cat)
		}
	}
	for _, in := range raw.Intents {
		text := strings.TrimSpace(in.Text)
		cat, ok := model.ParseCategory(in.Category)
		if text == "" || !ok {
			continue
		}
		x.Intents = append(x.Intents, model.Intent{Text: text, Category: cat})
		addCat(cat)
	}

	x.Summary = strings.TrimSpace(raw.Summary)
	x.Confidence = defaultConfidence
	if raw.Confidence != nil {
		x.Confidence = min(max(*raw.Confidence, 0), 1)
	}
	x.CompoundTask = raw.CompoundTask
	return x
}

type promptView struct {
	Entities     []model.Entity   `json:"entities"`
	Categories   []model.Category `json:"categories"`
	Intents      []model.Intent   `json:"intents"`
	Summary      string           `json:"summary"`
	Confidence   float64          `json:"confidence"`
	CompoundTask bool             `json:"compound_task"`
}

func render(x model.Extraction) string {
	b, _ := json.MarshalIndent(promptView{
		Entities:     x.Entities,
		Categories:   x.Categories,
		Intents:      x.Intents,
		Summary:      x.Summary,
		Confidence:   x.Confidence,
		CompoundTask: x.CompoundTask,
	}, "", "  ")
	return string(b)
}
