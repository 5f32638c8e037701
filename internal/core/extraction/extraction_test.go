package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/core/retrieval"
	"github.com/umeshshetty/peoples-agent/internal/llm/llmtest"
)

const (
	extractMarker  = "organize a person's free-form thoughts"
	critiqueMarker = "Review a structured extraction"
	refineMarker   = "Revise the extraction"
)

const extractionJSON = `{
	"entities": [
		{"name": "Sarah", "type": "person", "description": "colleague"},
		{"name": "sarah ", "type": "Person"},
		{"name": "Q3 budget", "type": "Spreadsheet"},
		{"name": "", "type": "Person"}
	],
	"categories": ["people", "Tasks", "gossip"],
	"intents": [
		{"text": "Call Sarah about Q3 budget", "category": "people"},
		{"text": "Read about vector databases", "category": "learning"},
		{"text": "Buy milk", "category": "chores"}
	],
	"summary": "Call Sarah, read, buy milk",
	"confidence": 0.9
}`

const longThought = "Call Sarah about Q3 budget. Also read about vector databases. Buy milk."

func newLoop(mock *llmtest.MockLLM, maxRefines int) *Loop {
	cfg := config.Default().Extraction
	cfg.MaxRefines = maxRefines
	return NewLoop(NewExtractor(mock, config.DefaultPrompts()), cfg, 2000, nil)
}

func TestNormalize(t *testing.T) {
	mock := (&llmtest.MockLLM{}).OnText(extractMarker, extractionJSON)
	x, err := NewExtractor(mock, config.DefaultPrompts()).Extract(context.Background(), longThought, "")
	require.NoError(t, err)

	require.Len(t, x.Entities, 2)
	assert.Equal(t, "Sarah", x.Entities[0].Name)
	assert.Equal(t, model.EntityPerson, x.Entities[0].Type)
	assert.Equal(t, "colleague", x.Entities[0].Description)
	assert.Equal(t, model.EntityConcept, x.Entities[1].Type)

	assert.Equal(t, []model.Category{model.CategoryPeople, model.CategoryTasks, model.CategoryLearning}, x.Categories)
	require.Len(t, x.Intents, 2)
	assert.Equal(t, model.CategoryLearning, x.Intents[1].Category)
	assert.Equal(t, 0.9, x.Confidence)
}

func TestNormalizeDefaultsAndClamps(t *testing.T) {
	x := Normalize(model.RawExtraction{})
	assert.Equal(t, defaultConfidence, x.Confidence)

	c := 3.0
	x = Normalize(model.RawExtraction{Confidence: &c})
	assert.Equal(t, 1.0, x.Confidence)
}

func TestLoopAcceptsOnEmptyCritique(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker, extractionJSON).
		OnText(critiqueMarker, `{"gaps": []}`)

	x, err := newLoop(mock, 2).Run(context.Background(), longThought, retrieval.Bundle{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, x.Status)
	assert.Equal(t, 1, x.Iterations)
	assert.False(t, x.Degraded)
	assert.Equal(t, 0, mock.Count(refineMarker))
}

func TestLoopRefinesUntilAccepted(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker, extractionJSON).
		OnText(critiqueMarker, `{"gaps": ["missed Tasks category"]}`, `{"gaps": []}`).
		OnText(refineMarker, extractionJSON)

	x, err := newLoop(mock, 2).Run(context.Background(), longThought, retrieval.Bundle{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, x.Status)
	assert.Equal(t, 2, x.Iterations)
	assert.Empty(t, x.Gaps)
	assert.Contains(t, mock.Prompts[2], "- missed Tasks category")
}

func TestLoopBoundedWhenCritiqueNeverEmpties(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3} {
		mock := (&llmtest.MockLLM{}).
			OnText(extractMarker, extractionJSON).
			OnText(critiqueMarker, `{"gaps": ["still missing something"]}`).
			OnText(refineMarker, extractionJSON)

		x, err := newLoop(mock, n).Run(context.Background(), longThought, retrieval.Bundle{})
		require.NoError(t, err)

		assert.Equal(t, model.StatusAcceptedWithGaps, x.Status)
		assert.Equal(t, n+1, mock.Count(extractMarker)+mock.Count(refineMarker), "refines=%d", n)
		assert.Equal(t, n, mock.Count(refineMarker))
		assert.Equal(t, n+1, x.Iterations)
		assert.Equal(t, []string{"still missing something"}, x.Gaps)
		assert.InDelta(t, 0.9*0.6, x.Confidence, 1e-9)
		assert.False(t, x.Degraded)
	}
}

func TestLoopExtractFailureDegrades(t *testing.T) {
	mock := (&llmtest.MockLLM{}).On(extractMarker, llmtest.Reply{Err: errors.New("provider down")})

	x, err := newLoop(mock, 2).Run(context.Background(), longThought, retrieval.Bundle{})
	require.NoError(t, err)
	assert.True(t, x.Degraded)
	assert.Equal(t, model.StatusAcceptedWithGaps, x.Status)
	assert.Empty(t, x.Entities)
	assert.Empty(t, x.Categories)
	assert.Equal(t, longThought, x.Summary)
}

func TestLoopCritiqueFailureKeepsExtraction(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker, extractionJSON).
		On(critiqueMarker, llmtest.Reply{Text: "no json here"})

	x, err := newLoop(mock, 2).Run(context.Background(), longThought, retrieval.Bundle{})
	require.NoError(t, err)
	assert.True(t, x.Degraded)
	assert.Equal(t, model.StatusAcceptedWithGaps, x.Status)
	assert.Len(t, x.Entities, 2)
}

func TestLoopRefineFailureKeepsBest(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker, extractionJSON).
		OnText(critiqueMarker, `{"gaps": ["gap"]}`).
		On(refineMarker, llmtest.Reply{Err: errors.New("timeout")})

	x, err := newLoop(mock, 2).Run(context.Background(), longThought, retrieval.Bundle{})
	require.NoError(t, err)
	assert.True(t, x.Degraded)
	assert.Equal(t, []string{"gap"}, x.Gaps)
	assert.Equal(t, 1, x.Iterations)
}

func TestLoopSimpleInputSkipsCritique(t *testing.T) {
	mock := (&llmtest.MockLLM{}).OnText(extractMarker, `{"summary": "milk", "categories": ["tasks"]}`)

	x, err := newLoop(mock, 2).Run(context.Background(), "Buy milk", retrieval.Bundle{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, x.Status)
	assert.Equal(t, 0, mock.Count(critiqueMarker))
}

func TestLoopCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLoop(&llmtest.MockLLM{}, 2).Run(ctx, longThought, retrieval.Bundle{})
	assert.ErrorIs(t, err, context.Canceled)
}
