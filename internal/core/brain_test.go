package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/core/respond"
	"github.com/umeshshetty/peoples-agent/internal/core/review"
	"github.com/umeshshetty/peoples-agent/internal/core/synthesis"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
	"github.com/umeshshetty/peoples-agent/internal/llm/llmtest"
	"github.com/umeshshetty/peoples-agent/internal/observability"
	"github.com/umeshshetty/peoples-agent/internal/queue"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

const (
	extractMarker  = "free-form thoughts into a knowledge graph"
	critiqueMarker = "Review a structured extraction"
	respondMarker  = "You are a thoughtful second brain"
	personMarker   = "Synthesize a profile of the person"
	atomizeMarker  = "Split the text into between"
)

type fixture struct {
	brain   *Brain
	graph   *graph.MemoryStore
	vectors *vector.MemoryIndex
	queue   *queue.MemoryQueue
}

func newFixture(t *testing.T, client llm.LLMClient, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.RetryBackoff = 0
	cfg.Synthesis.RetryBackoff = 0
	for _, m := range mutate {
		m(cfg)
	}

	f := &fixture{
		graph:   graph.NewMemoryStore(),
		vectors: vector.NewMemoryIndex(),
		queue:   queue.NewMemoryQueue(64),
	}
	b, err := NewBrain(Deps{
		Config:   cfg,
		LLM:      client,
		Embedder: &llmtest.MockEmbedder{},
		Graph:    f.graph,
		Vectors:  f.vectors,
		Reviews:  review.NewMemoryStore(),
		Queue:    f.queue,
		Metrics:  observability.NewMetrics("test"),
	})
	require.NoError(t, err)
	f.brain = b
	return f
}

// drain runs every queued job on the caller's goroutine.
func (f *fixture) drain(t *testing.T) []queue.Job {
	t.Helper()
	ctx := context.Background()
	var jobs []queue.Job
	for f.queue.Len() > 0 {
		job, err := f.queue.Pop(ctx)
		require.NoError(t, err)
		jobs = append(jobs, job)
		f.brain.Scheduler.Handle(ctx, job)
	}
	return jobs
}

func (f *fixture) entities(name string) []graph.Node {
	var out []graph.Node
	for _, n := range f.graph.Nodes(model.LabelEntity) {
		if strings.EqualFold(n.String("name"), name) {
			out = append(out, n)
		}
	}
	return out
}

func kinds(jobs []queue.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Kind
	}
	return out
}

func TestThinkMultiIntentScenario(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker, `{
			"entities": [{"name": "Sarah", "type": "Person"}, {"name": "Q3 budget", "type": "Concept"}, {"name": "vector databases", "type": "Topic"}],
			"categories": ["people", "learning", "tasks"],
			"intents": [
				{"text": "Call Sarah about Q3 budget", "category": "people"},
				{"text": "read about vector databases", "category": "learning"},
				{"text": "Buy milk", "category": "tasks"}
			],
			"summary": "Call Sarah, read up on vector databases, buy milk.",
			"confidence": 0.9
		}`).
		OnText(critiqueMarker, `{"gaps": []}`).
		OnText(respondMarker, "Got it: three things to do.")
	f := newFixture(t, mock)

	var hooked respond.Reply
	res, err := f.brain.Think(context.Background(), "Call Sarah about Q3 budget. Also read about vector databases. Buy milk.",
		WithReplyHook(func(r respond.Reply) { hooked = r }))
	require.NoError(t, err)

	assert.Equal(t, "Got it: three things to do.", res.Reply)
	assert.Equal(t, res.Reply, hooked.Text)
	assert.True(t, res.Saved)
	assert.False(t, res.Degraded)
	assert.Equal(t, model.StatusAccepted, res.Extraction.Status)

	require.GreaterOrEqual(t, len(res.Extraction.Intents), 3)
	seen := map[model.Category]bool{}
	for _, in := range res.Extraction.Intents {
		assert.False(t, seen[in.Category], "category %s used twice", in.Category)
		seen[in.Category] = true
	}

	require.Len(t, res.ActionItems, 3)
	top := res.ActionItems[0]
	for _, item := range res.ActionItems[1:] {
		if item.Urgency > top.Urgency {
			top = item
		}
	}
	assert.True(t, strings.HasPrefix(top.Description, "Call Sarah"))
	assert.Equal(t, "person:sarah", top.EntityKey)

	_, err = f.graph.GetNode(context.Background(), graph.NodeRef{Label: model.LabelThought, Key: res.ThoughtID})
	require.NoError(t, err)
	assert.Len(t, f.graph.Edges(model.EdgeImplies), 3)
	assert.Len(t, f.graph.Edges(model.EdgeBelongsTo), 3)

	jobs := f.drain(t)
	assert.Equal(t, []string{synthesis.KindSerendipity, synthesis.KindProfile}, kinds(jobs))
	assert.NotEmpty(t, jobs[0].Embedding)
	assert.Equal(t, []string{"person:sarah"}, jobs[1].EntityKeys)

	due, err := f.brain.Review.Store.Due(context.Background(), time.Now().Add(48*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, res.ThoughtID, due[0].ThoughtID)
}

func TestThinkTwiceAboutJohnKeepsOneEntityAndProfile(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker,
			`{"entities": [{"name": "John", "type": "Person", "description": "teammate"}], "categories": ["people"], "summary": "Lunch with John.", "confidence": 0.9}`,
			`{"entities": [{"name": " JOHN ", "type": "person"}], "categories": ["people"], "summary": "John is moving teams.", "confidence": 0.9}`).
		OnText(critiqueMarker, `{"gaps": []}`).
		OnText(personMarker,
			`{"role": "engineer", "relationship": "teammate", "topics": ["lunch"], "summary": "John is a teammate.", "last_context": "lunch"}`,
			`{"role": "engineer", "relationship": "teammate", "topics": ["lunch", "teams"], "summary": "John is a teammate moving teams.", "last_context": "moving teams"}`).
		OnText(respondMarker, "Noted.")
	f := newFixture(t, mock)
	ctx := context.Background()

	_, err := f.brain.Think(ctx, "Had a long lunch with John today.")
	require.NoError(t, err)
	f.drain(t)

	_, err = f.brain.Think(ctx, "John told me he is moving to the platform team.")
	require.NoError(t, err)
	f.drain(t)

	johns := f.entities("John")
	require.Len(t, johns, 1)
	assert.Equal(t, "person:john", johns[0].Key)
	assert.Equal(t, 2, johns[0].Int("mention_count"))
	assert.Len(t, f.graph.Edges(model.EdgeMentions), 2)

	profiles := f.graph.Nodes(model.LabelPersonProfile)
	require.Len(t, profiles, 1)
	assert.Equal(t, "John is a teammate moving teams.", profiles[0].String("summary"))
	assert.Equal(t, 2, profiles[0].Int("mention_count"))
	assert.Len(t, f.graph.Edges(model.EdgeHasProfile), 1)
	assert.Equal(t, 2, mock.Count(personMarker))
}

func TestThinkQueuesDecomposeAndAtomize(t *testing.T) {
	long := strings.Repeat("Plan the migration of every service carefully. ", 50)
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker, `{"entities": [], "categories": ["projects"], "summary": "Migration plan.", "confidence": 0.8, "compound_task": true}`).
		OnText(critiqueMarker, `{"gaps": []}`)
	f := newFixture(t, mock)

	res, err := f.brain.Think(context.Background(), long)
	require.NoError(t, err)

	var queued []queue.Job
	for f.queue.Len() > 0 {
		job, err := f.queue.Pop(context.Background())
		require.NoError(t, err)
		queued = append(queued, job)
	}
	assert.Equal(t, []string{synthesis.KindSerendipity, synthesis.KindDecompose, synthesis.KindAtomize}, kinds(queued))
	for _, j := range queued {
		assert.Equal(t, res.ThoughtID, j.ThoughtID)
	}
	assert.Equal(t, strings.TrimSpace(long), queued[2].Text)
}

func TestThinkRejectsBadInput(t *testing.T) {
	f := newFixture(t, &llmtest.MockLLM{}, func(c *config.Config) { c.Pipeline.MaxInputChars = 20 })

	_, err := f.brain.Think(context.Background(), "   ")
	assert.True(t, errs.Is(err, errs.KindPermanent))

	_, err = f.brain.Think(context.Background(), "this thought is far too long for the limit")
	assert.True(t, errs.Is(err, errs.KindPermanent))
	assert.Zero(t, f.queue.Len())
}

// blockingLLM never answers before ctx is done.
type blockingLLM struct{}

func (blockingLLM) Generate(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestThinkTimesOutWithTypedError(t *testing.T) {
	f := newFixture(t, blockingLLM{}, func(c *config.Config) {
		c.Pipeline.ThinkTimeout = config.Duration(50 * time.Millisecond)
	})

	start := time.Now()
	_, err := f.brain.Think(context.Background(), "Remember to water the plants")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errs.Is(err, errs.KindTimeout))
}

func TestThinkSavesAfterClientDisconnect(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker, `{"entities": [], "categories": ["ideas"], "summary": "An idea.", "confidence": 0.9}`).
		OnText(critiqueMarker, `{"gaps": []}`).
		OnText(respondMarker, "unused")
	f := newFixture(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.brain.Think(ctx, "What if notes could link themselves?")
	require.NoError(t, err)

	assert.Empty(t, res.Reply)
	assert.True(t, res.Saved)
	assert.Zero(t, mock.Count(respondMarker))
	_, err = f.graph.GetNode(context.Background(), graph.NodeRef{Label: model.LabelThought, Key: res.ThoughtID})
	assert.NoError(t, err)
	assert.Equal(t, 1, f.vectors.Len())
}

func TestThinkDegradesButSucceedsWhenModelFails(t *testing.T) {
	mock := &llmtest.MockLLM{Err: errs.New(errs.KindTransient, "llm", "provider down")}
	f := newFixture(t, mock)

	res, err := f.brain.Think(context.Background(), "Buy milk and eggs on the way home")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Degradations, "extraction")
	assert.Contains(t, res.Degradations, "respond")
	assert.NotEmpty(t, res.Reply)
	assert.True(t, res.Saved)
}

// failingIndex rejects every upsert.
type failingIndex struct{ *vector.MemoryIndex }

func (failingIndex) Upsert(ctx context.Context, id string, vec []float32, md map[string]any) error {
	return errors.New("pgvector unavailable")
}

func TestThinkFailsWhenSaveFails(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker, `{"entities": [], "categories": ["ideas"], "summary": "An idea.", "confidence": 0.9}`).
		OnText(critiqueMarker, `{"gaps": []}`)
	f := newFixture(t, mock)
	f.brain.Saver.Vectors = failingIndex{vector.NewMemoryIndex()}

	_, err := f.brain.Think(context.Background(), "A thought that cannot be indexed")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransient))
	assert.Zero(t, f.queue.Len())
}

func TestAtomizeThousandWords(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "Note %d covers idea %d with a few plain words. ", i, i)
	}
	text := strings.TrimSpace(b.String())
	require.Equal(t, 1000, len(strings.Fields(text)))

	mock := (&llmtest.MockLLM{}).On(atomizeMarker, llmtest.Reply{Err: errs.New(errs.KindTransient, "llm", "overloaded")})
	f := newFixture(t, mock)

	atoms, err := f.brain.Atomize(context.Background(), text)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(atoms), 5)
	assert.LessOrEqual(t, len(atoms), 10)

	provenance := f.graph.Edges(model.EdgeAtomizedFrom)
	require.Len(t, provenance, len(atoms))
	original := provenance[0].To
	original.Label = model.LabelThought
	orig, err := f.graph.GetNode(context.Background(), original)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAtomize, orig.String("source"))

	for _, a := range atoms {
		assert.True(t, a.Atomic)
		assert.Equal(t, orig.Key, a.SourceID)
		assert.Less(t, len(a.Content), len(text))
	}
	for _, e := range provenance {
		assert.Equal(t, orig.Key, e.To.Key)
	}

	_, err = f.brain.Atomize(context.Background(), " ")
	assert.True(t, errs.Is(err, errs.KindPermanent))
}

func TestReviewAndTaskOperations(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText("Decide whether this task needs to be broken down", `{
			"is_complex": true,
			"parent_task": {"title": "Launch blog", "urgency": 3},
			"subtasks": [{"title": "Pick a theme", "urgency": 2}, {"title": "Write first post", "urgency": 4}]
		}`)
	f := newFixture(t, mock)
	ctx := context.Background()

	tree, err := f.brain.DecomposeTask(ctx, "Launch my blog this month")
	require.NoError(t, err)
	assert.Equal(t, "Launch blog", tree.Task.Title)
	assert.Len(t, tree.Children, 2)

	_, err = f.brain.RateReviewCard(ctx, "missing", model.RatingGood)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = f.brain.Review.Enroll(ctx, "t1", "a note")
	require.NoError(t, err)
	f.brain.Review.Now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	due, err := f.brain.DueReviewCards(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)

	card, err := f.brain.RateReviewCard(ctx, "t1", model.RatingAgain)
	require.NoError(t, err)
	assert.Equal(t, 1, card.IntervalDays)
	assert.Equal(t, 0, card.Repetitions)

	nudges, err := f.brain.SerendipityNudges(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, nudges)
	assert.Empty(t, nudges)
}

func TestDueReviewCardsReturnsEveryDueCard(t *testing.T) {
	f := newFixture(t, &llmtest.MockLLM{}, func(c *config.Config) { c.Review.DueLimit = 2 })
	ctx := context.Background()

	for i := range 4 {
		_, err := f.brain.Review.Enroll(ctx, fmt.Sprintf("t%d", i), "a note")
		require.NoError(t, err)
	}
	f.brain.Review.Now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	due, err := f.brain.DueReviewCards(ctx)
	require.NoError(t, err)
	assert.Len(t, due, 4)

	page, err := f.brain.Review.Due(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestInsightOperationsOverSavedThoughts(t *testing.T) {
	mock := (&llmtest.MockLLM{}).
		OnText(extractMarker,
			`{"entities": [{"name": "John", "type": "Person"}], "categories": ["people"], "summary": "Lunch with John.", "confidence": 0.9}`,
			`{"entities": [{"name": "John", "type": "Person"}], "categories": ["people"], "summary": "John is moving teams.", "confidence": 0.9}`).
		OnText(critiqueMarker, `{"gaps": []}`).
		OnText(personMarker, `{"role": "engineer", "summary": "John is a teammate.", "topics": ["lunch"]}`).
		OnText(respondMarker, "Noted.").
		OnText("short daily briefing", `{"greeting": "Hi!", "summary": "John is moving teams.", "open_questions": [], "focus": ["Catch up with John"]}`)
	f := newFixture(t, mock)
	ctx := context.Background()

	first, err := f.brain.Think(ctx, "Had a long lunch with John today.")
	require.NoError(t, err)
	f.drain(t)
	second, err := f.brain.Think(ctx, "John told me he is moving to the platform team.")
	require.NoError(t, err)
	f.drain(t)

	found, err := f.brain.Search(ctx, "lunch with John", 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first.ThoughtID, found[0].ID)

	related, err := f.brain.RelatedThoughts(ctx, first.ThoughtID, 0)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, second.ThoughtID, related[0].ID)
	assert.Equal(t, []string{"person:john"}, related[0].SharedEntities)

	similar, err := f.brain.SimilarThoughts(ctx, first.ThoughtID, 5)
	require.NoError(t, err)
	for _, s := range similar {
		assert.NotEqual(t, first.ThoughtID, s.ID)
	}

	filed, err := f.brain.CategoryThoughts(ctx, "people", 0)
	require.NoError(t, err)
	assert.Len(t, filed, 2)

	people, err := f.brain.People(ctx)
	require.NoError(t, err)
	require.Len(t, people, 1)
	require.NotNil(t, people[0].Profile)
	assert.Equal(t, "John is a teammate.", people[0].Profile.Summary)

	stats, err := f.brain.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entities)
	assert.Equal(t, 1, stats.PersonProfiles)
	assert.GreaterOrEqual(t, stats.Thoughts, 2)

	brief, err := f.brain.Briefing(ctx)
	require.NoError(t, err)
	assert.False(t, brief.Degraded)
	assert.Equal(t, "Hi!", brief.Greeting)
	assert.Equal(t, []string{"Catch up with John"}, brief.Focus)
	assert.Len(t, brief.RecentThoughts, 2)

	challenge, err := f.brain.Feynman(ctx, "John")
	require.NoError(t, err)
	assert.True(t, challenge.Degraded)
	assert.Equal(t, "Can you explain John to me like I'm five years old?", challenge.Question)
}
