package enrichment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/observability"
)

var (
	sarah = model.Entity{Name: "Sarah", Type: model.EntityPerson}
	john  = model.Entity{Name: "John", Type: model.EntityPerson}
	atlas = model.Entity{Name: "Atlas", Type: model.EntityProject}
	q3    = model.Entity{Name: "Q3 budget", Type: model.EntityConcept}
)

func newAuditor(t *testing.T) *ActionAuditor {
	t.Helper()
	a, err := NewActionAuditor(config.Default().Enrichment)
	require.NoError(t, err)
	n := 0
	a.NewID = func() string { n++; return "a" + string(rune('0'+n)) }
	return a
}

func TestActionAuditorScores(t *testing.T) {
	a := newAuditor(t)
	ents := []model.Entity{sarah, q3}

	score, due, ok := a.Score("Call Sarah about Q3 budget.", ents)
	require.True(t, ok)
	assert.Equal(t, 4.0, score)
	assert.Equal(t, "q3", due)

	score, _, ok = a.Score("Also read about vector databases.", ents)
	require.True(t, ok)
	assert.Equal(t, 2.0, score)

	score, _, ok = a.Score("Buy milk.", ents)
	require.True(t, ok)
	assert.Equal(t, 2.0, score)

	score, _, ok = a.Score("I need to send the urgent report asap today", ents)
	require.True(t, ok)
	assert.Equal(t, 5.0, score)

	_, _, ok = a.Score("The weather was lovely.", ents)
	assert.False(t, ok)

	score, due, ok = a.Score("We should ship the new onboarding flow sometime around Friday", ents)
	require.True(t, ok)
	assert.Equal(t, "friday", due)
	assert.Equal(t, 1.5+0.5, score)
}

func TestActionAuditorProposesPerSentence(t *testing.T) {
	a := newAuditor(t)
	muts, err := a.Propose(context.Background(), Input{
		ThoughtID:  "t1",
		Text:       "Call Sarah about Q3 budget. Also read about vector databases. Buy milk.",
		Extraction: model.Extraction{Entities: []model.Entity{sarah, q3}},
	})
	require.NoError(t, err)
	require.Len(t, muts, 3)

	first := muts[0].(model.NewActionItem).Item
	assert.Equal(t, "Call Sarah about Q3 budget.", first.Description)
	assert.Equal(t, "person:sarah", first.EntityKey)
	assert.Equal(t, "t1", first.ThoughtID)
	for _, m := range muts[1:] {
		assert.Greater(t, first.Urgency, m.(model.NewActionItem).Item.Urgency)
		assert.Equal(t, "t1", m.(model.NewActionItem).Item.ThoughtID)
	}
}

func TestBlocker(t *testing.T) {
	b := &Blocker{Phrases: config.Default().Enrichment.BlockerPhrases}
	ctx := context.Background()

	muts, err := b.Propose(ctx, Input{
		ThoughtID:  "t1",
		Text:       "Atlas is blocked on legal review. Lunch was great.",
		Extraction: model.Extraction{Entities: []model.Entity{atlas, john}},
	})
	require.NoError(t, err)
	require.Len(t, muts, 1)
	ps := muts[0].(model.ProjectStatus)
	assert.Equal(t, "project:atlas", ps.EntityKey)
	assert.Equal(t, "blocked", ps.Status)
	assert.Equal(t, "Atlas is blocked on legal review.", ps.BlockingPhrase)

	// Sole project in the extraction, not named in the blocking sentence.
	muts, err = b.Propose(ctx, Input{
		Text:       "Still waiting on the vendor. The project Atlas matters.",
		Extraction: model.Extraction{Entities: []model.Entity{atlas}},
	})
	require.NoError(t, err)
	assert.Len(t, muts, 1)

	muts, err = b.Propose(ctx, Input{
		Text:       "Atlas is going fine.",
		Extraction: model.Extraction{Entities: []model.Entity{atlas}},
	})
	require.NoError(t, err)
	assert.Empty(t, muts)
}

func TestSocialSuggestsCoMentionedPeople(t *testing.T) {
	ctx := context.Background()
	g := graph.NewMemoryStore()
	for _, e := range []model.Entity{john, sarah, {Name: "Priya", Type: model.EntityPerson}, atlas} {
		require.NoError(t, g.UpsertNode(ctx, model.LabelEntity, e.Key(), map[string]any{"name": e.Name, "type": string(e.Type)}))
	}
	require.NoError(t, g.UpsertNode(ctx, model.LabelThought, "old", nil))
	for _, k := range []string{"person:john", "person:priya", "project:atlas"} {
		require.NoError(t, g.UpsertEdge(ctx, model.EdgeMentions, graph.NodeRef{Label: model.LabelThought, Key: "old"}, graph.NodeRef{Label: model.LabelEntity, Key: k}, nil))
	}

	s := &Social{Graph: g, Increment: 1, Limit: 5}
	muts, err := s.Propose(ctx, Input{Extraction: model.Extraction{Entities: []model.Entity{john, sarah}}})
	require.NoError(t, err)

	require.Len(t, muts, 4)
	assert.Equal(t, model.LinkStrength{PersonKey: "person:john", Delta: 1}, muts[0])
	assert.Equal(t, model.SuggestedConnections{PersonKey: "person:john", Suggestions: []string{"person:priya", "person:sarah"}}, muts[1])
	assert.Equal(t, model.LinkStrength{PersonKey: "person:sarah", Delta: 1}, muts[2])
	assert.Equal(t, model.SuggestedConnections{PersonKey: "person:sarah", Suggestions: []string{"person:john"}}, muts[3])
}

type stubAgent struct {
	name  string
	muts  []model.Mutation
	errs  int32
	calls atomic.Int32
	slow  bool
	panic bool
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Propose(ctx context.Context, in Input) ([]model.Mutation, error) {
	n := s.calls.Add(1)
	if s.panic {
		panic("boom")
	}
	if s.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= s.errs {
		return nil, errors.New("flaky")
	}
	return s.muts, nil
}

func TestFanOutIsolatesFailures(t *testing.T) {
	m := observability.NewMetrics("test")
	ok := &stubAgent{name: "ok", muts: []model.Mutation{model.LinkStrength{PersonKey: "person:a", Delta: 1}}}
	flaky := &stubAgent{name: "flaky", errs: 1, muts: []model.Mutation{model.LinkStrength{PersonKey: "person:b", Delta: 1}}}
	broken := &stubAgent{name: "broken", errs: 5}
	slow := &stubAgent{name: "slow", slow: true}
	panicky := &stubAgent{name: "panicky", panic: true}

	f := &FanOut{Agents: []Agent{ok, flaky, broken, slow, panicky}, Timeout: 20 * time.Millisecond, Metrics: m, Logger: zap.NewNop()}
	res := f.Run(context.Background(), Input{})

	assert.Len(t, res.Mutations, 2)
	assert.Equal(t, []string{"broken", "slow", "panicky"}, res.Failed)
	assert.Equal(t, int32(2), flaky.calls.Load())
	assert.Equal(t, int32(2), broken.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichmentFailures.WithLabelValues("broken")))
}

func TestNewFanOutRejectsBadPattern(t *testing.T) {
	cfg := config.Default().Enrichment
	cfg.DatedPattern = "("
	_, err := NewFanOut(cfg, graph.NewMemoryStore(), nil, nil)
	assert.Error(t, err)

	f, err := NewFanOut(config.Default().Enrichment, graph.NewMemoryStore(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, f.Agents, 3)
}
