package summary

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm/llmtest"
)

const (
	personMarker  = "Synthesize a profile of the person"
	projectMarker = "Synthesize the current state of the project"
	reduceMarker  = "Combine these partial notes"
)

var base = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, g *graph.MemoryStore, e model.Entity, thoughts ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, g.UpsertNode(ctx, model.LabelEntity, e.Key(), map[string]any{"name": e.Name, "type": string(e.Type)}))
	for i, content := range thoughts {
		id := fmt.Sprintf("%s-%02d", e.Key(), i)
		require.NoError(t, g.UpsertNode(ctx, model.LabelThought, id, map[string]any{
			"content":    content,
			"created_at": base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339Nano),
		}))
		require.NoError(t, g.UpsertEdge(ctx, model.EdgeMentions,
			graph.NodeRef{Label: model.LabelThought, Key: id}, graph.NodeRef{Label: model.LabelEntity, Key: e.Key()}, nil))
	}
}

func newProfiler(mock *llmtest.MockLLM, g graph.Store, window int) *Profiler {
	p := NewProfiler(mock, g, config.DefaultPrompts(), window, zap.NewNop())
	p.Now = func() time.Time { return base.Add(48 * time.Hour) }
	return p
}

func TestSynthesizePersonProfile(t *testing.T) {
	g := graph.NewMemoryStore()
	alice := model.Entity{Name: "Alice", Type: model.EntityPerson}
	seed(t, g, alice, "Alice is a software engineer.", "Alice moved to Paris recently.")

	mock := (&llmtest.MockLLM{}).OnText(personMarker,
		`{"role": "software engineer", "relationship": "friend", "topics": ["Paris", " "], "summary": "Alice is a software engineer living in Paris.", "last_context": ""}`)

	mut, err := newProfiler(mock, g, 10).Synthesize(context.Background(), alice.Key())
	require.NoError(t, err)

	up, ok := mut.(model.PersonProfileUpdate)
	require.True(t, ok)
	assert.Equal(t, "person:alice", up.Profile.EntityKey)
	assert.Equal(t, "Alice is a software engineer living in Paris.", up.Profile.Summary)
	assert.Equal(t, []string{"Paris"}, up.Profile.Topics)
	assert.Equal(t, 2, up.Profile.MentionCount)
	assert.Equal(t, "Alice moved to Paris recently.", up.Profile.LastContext)
	assert.Equal(t, base.Add(48*time.Hour), up.Profile.UpdatedAt)

	require.Len(t, mock.Prompts, 1)
	prompt := mock.Prompts[0]
	assert.Less(t, strings.Index(prompt, "moved to Paris"), strings.Index(prompt, "is a software engineer."))
}

func TestSynthesizeProjectProfile(t *testing.T) {
	g := graph.NewMemoryStore()
	atlas := model.Entity{Name: "Atlas", Type: model.EntityProject}
	seed(t, g, atlas, "Atlas launch slipped to March, waiting on legal.")

	mock := (&llmtest.MockLLM{}).OnText(projectMarker,
		`{"status": "blocked", "people": ["Legal"], "deadlines": ["March"], "summary": "Launch waiting on legal.", "last_context": "legal review"}`)

	mut, err := newProfiler(mock, g, 10).Synthesize(context.Background(), atlas.Key())
	require.NoError(t, err)
	up, ok := mut.(model.ProjectProfileUpdate)
	require.True(t, ok)
	assert.Equal(t, "blocked", up.Profile.Status)
	assert.Equal(t, []string{"March"}, up.Profile.Deadlines)
	assert.Equal(t, "legal review", up.Profile.LastContext)
}

func TestSynthesizeReducesLargeHistories(t *testing.T) {
	g := graph.NewMemoryStore()
	bob := model.Entity{Name: "Bob", Type: model.EntityPerson}
	var thoughts []string
	for i := 0; i < 45; i++ {
		thoughts = append(thoughts, fmt.Sprintf("Bob note number %d", i))
	}
	seed(t, g, bob, thoughts...)

	mock := (&llmtest.MockLLM{}).
		OnText(reduceMarker, `{"summary": "Bob partial"}`).
		OnText(personMarker, `{"summary": "Bob overall"}`)

	mut, err := newProfiler(mock, g, 100).Synthesize(context.Background(), bob.Key())
	require.NoError(t, err)
	assert.Equal(t, "Bob overall", mut.(model.PersonProfileUpdate).Profile.Summary)
	assert.Equal(t, 45, mut.(model.PersonProfileUpdate).Profile.MentionCount)
	assert.Equal(t, 3, mock.Count(reduceMarker))
	assert.Equal(t, 1, mock.Count(personMarker))
}

func TestSynthesizeWindowLimitsMentions(t *testing.T) {
	g := graph.NewMemoryStore()
	bob := model.Entity{Name: "Bob", Type: model.EntityPerson}
	seed(t, g, bob, "old", "older", "newest")

	_, mentions, err := newProfiler(&llmtest.MockLLM{}, g, 2).Mentions(context.Background(), bob.Key())
	require.NoError(t, err)
	require.Len(t, mentions, 2)
	assert.Equal(t, "newest", mentions[0].Content)
}

func TestSynthesizeErrors(t *testing.T) {
	g := graph.NewMemoryStore()
	topic := model.Entity{Name: "Gardening", Type: model.EntityTopic}
	seed(t, g, topic, "I like gardening")
	p := newProfiler(&llmtest.MockLLM{}, g, 10)

	_, err := p.Synthesize(context.Background(), "person:ghost")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = p.Synthesize(context.Background(), topic.Key())
	assert.Equal(t, errs.KindPermanent, errs.KindOf(err))
}

func TestReduceFailsWhenEveryChunkFails(t *testing.T) {
	mock := (&llmtest.MockLLM{}).OnText(reduceMarker, "not json")
	notes := make([]string, 25)
	for i := range notes {
		notes[i] = "note"
	}
	_, err := newProfiler(mock, graph.NewMemoryStore(), 10).Reduce(context.Background(), notes)
	assert.Equal(t, errs.KindTransient, errs.KindOf(err))
}
