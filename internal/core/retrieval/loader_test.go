package retrieval

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
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm/llmtest"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

type failingIndex struct{}

func (failingIndex) Upsert(ctx context.Context, id string, vec []float32, md map[string]any) error {
	return errors.New("index down")
}

func (failingIndex) Query(ctx context.Context, vec []float32, k int, f vector.Filter) ([]vector.Match, error) {
	return nil, errors.New("index down")
}

type failingGraph struct{ *graph.MemoryStore }

func (failingGraph) Query(ctx context.Context, p graph.Pattern) (graph.Result, error) {
	return graph.Result{}, errors.New("graph down")
}

type reverseReranker struct{}

func (reverseReranker) Rank(ctx context.Context, q string, docs []string) ([]int, error) {
	out := make([]int, len(docs))
	for i := range docs {
		out[i] = len(docs) - 1 - i
	}
	return out, nil
}

func seed(t *testing.T, g *graph.MemoryStore, idx vector.Index, emb *llmtest.MockEmbedder) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, g.UpsertNode(ctx, model.LabelEntity, "person:john", map[string]any{"name": "John", "type": "Person"}))
	require.NoError(t, g.UpsertNode(ctx, model.LabelEntity, "project:atlas", map[string]any{"name": "Atlas", "type": "Project"}))
	for id, content := range map[string]string{
		"t1": "lunch with john about the atlas launch",
		"t2": "john wants the atlas budget",
		"t3": "gardening tips for tomatoes",
	} {
		require.NoError(t, g.UpsertNode(ctx, model.LabelThought, id, map[string]any{"content": content}))
		v, _ := emb.Embed(ctx, content)
		require.NoError(t, idx.Upsert(ctx, id, v, map[string]any{"kind": "thought"}))
	}
	require.NoError(t, g.UpsertEdge(ctx, model.EdgeMentions, graph.NodeRef{Label: model.LabelThought, Key: "t1"}, graph.NodeRef{Label: model.LabelEntity, Key: "person:john"}, nil))
	require.NoError(t, g.UpsertEdge(ctx, model.EdgeMentions, graph.NodeRef{Label: model.LabelThought, Key: "t1"}, graph.NodeRef{Label: model.LabelEntity, Key: "project:atlas"}, nil))
}

func cfg() config.RetrievalConfig {
	c := config.Default().Retrieval
	c.MinSimilarity = 0.2
	return c
}

func TestLoadFindsSimilarEntitiesAndNeighbors(t *testing.T) {
	g := graph.NewMemoryStore()
	idx := vector.NewMemoryIndex()
	emb := &llmtest.MockEmbedder{}
	seed(t, g, idx, emb)

	l := NewLoader(emb, idx, g, nil, cfg(), time.Second, nil)
	b, err := l.Load(context.Background(), "Need to ask John about the atlas budget")
	require.NoError(t, err)

	assert.False(t, b.Degraded)
	assert.NotEmpty(t, b.QueryEmbedding)
	require.NotEmpty(t, b.Similar)
	assert.Equal(t, "t2", b.Similar[0].ID)
	assert.Equal(t, "john wants the atlas budget", b.Similar[0].Content)
	for _, s := range b.Similar {
		assert.NotEqual(t, "t3", s.ID)
	}
	assert.ElementsMatch(t, []string{"person:john", "project:atlas"}, b.EntityKeys)
	assert.NotEmpty(t, b.Neighbors)
	assert.True(t, b.HasConnections())
}

func TestLoadFindsNamedEntitiesBeyondScanLimit(t *testing.T) {
	g := graph.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("Person %02d", i)
		require.NoError(t, g.UpsertNode(ctx, model.LabelEntity, fmt.Sprintf("person:person %02d", i),
			map[string]any{"name": name, "type": "Person", "norm_name": strings.ToLower(name)}))
	}
	require.NoError(t, g.UpsertNode(ctx, model.LabelEntity, "project:zulu launch",
		map[string]any{"name": "Zulu Launch", "type": "Project", "norm_name": "zulu launch"}))

	c := cfg()
	c.EntityScanLimit = 5
	l := NewLoader(&llmtest.MockEmbedder{}, vector.NewMemoryIndex(), g, nil, c, time.Second, nil)
	b, err := l.Load(ctx, "Worried the Zulu launch slips again")
	require.NoError(t, err)
	assert.Equal(t, []string{"project:zulu launch"}, b.EntityKeys)
	require.Len(t, b.Entities, 1)
	assert.Equal(t, "Zulu Launch", b.Entities[0].Name)
}

func TestNgrams(t *testing.T) {
	assert.Empty(t, Ngrams(nil, 3))
	assert.Equal(t, []string{"a", "a b", "a b a", "b", "b a"}, Ngrams([]string{"a", "b", "a"}, 3))
	assert.Equal(t, []string{"a", "b"}, Ngrams([]string{"a", "b"}, 1))
}

func TestLoadColdStoresReturnEmptyBundle(t *testing.T) {
	l := NewLoader(&llmtest.MockEmbedder{}, vector.NewMemoryIndex(), graph.NewMemoryStore(), nil, cfg(), time.Second, nil)
	b, err := l.Load(context.Background(), "first thought ever")
	require.NoError(t, err)
	assert.False(t, b.Degraded)
	assert.Empty(t, b.Similar)
	assert.Empty(t, b.Entities)
	assert.False(t, b.HasConnections())
	assert.Equal(t, "No prior context.", b.Compress(2000))
}

func TestLoadDegradesPerBranch(t *testing.T) {
	g := graph.NewMemoryStore()
	emb := &llmtest.MockEmbedder{}
	seed(t, g, vector.NewMemoryIndex(), emb)

	l := NewLoader(emb, failingIndex{}, g, nil, cfg(), time.Second, nil)
	b, err := l.Load(context.Background(), "John again")
	require.NoError(t, err)
	assert.True(t, b.Degraded)
	assert.Equal(t, []string{DegradedVector}, b.Degradations)
	assert.Equal(t, []string{"person:john"}, b.EntityKeys)

	l = NewLoader(&llmtest.MockEmbedder{Err: errors.New("no embeddings")}, vector.NewMemoryIndex(), failingGraph{g}, nil, cfg(), time.Second, nil)
	b, err = l.Load(context.Background(), "John again")
	require.NoError(t, err)
	assert.Equal(t, []string{DegradedEmbedding, DegradedGraph}, b.Degradations)
	assert.Nil(t, b.QueryEmbedding)
}

func TestLoadCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLoader(&llmtest.MockEmbedder{}, vector.NewMemoryIndex(), graph.NewMemoryStore(), nil, cfg(), time.Second, nil)
	_, err := l.Load(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadRerank(t *testing.T) {
	g := graph.NewMemoryStore()
	idx := vector.NewMemoryIndex()
	emb := &llmtest.MockEmbedder{}
	seed(t, g, idx, emb)

	c := cfg()
	c.Rerank = true
	plain, err := NewLoader(emb, idx, g, nil, c, time.Second, nil).Load(context.Background(), "john atlas budget launch")
	require.NoError(t, err)
	require.Len(t, plain.Similar, 2)

	reranked, err := NewLoader(emb, idx, g, reverseReranker{}, c, time.Second, nil).Load(context.Background(), "john atlas budget launch")
	require.NoError(t, err)
	assert.Equal(t, plain.Similar[0].ID, reranked.Similar[1].ID)
}

func TestMentionedIn(t *testing.T) {
	john := model.Entity{Name: "John", Type: model.EntityPerson}
	assert.True(t, MentionedIn([]string{"call", "john", "today"}, john, 0.85))
	assert.False(t, MentionedIn([]string{"johnny", "cash"}, john, 0.85))

	vdb := model.Entity{Name: "Vector Databases", Type: model.EntityTopic}
	assert.True(t, MentionedIn([]string{"read", "about", "vector", "database"}, vdb, 0.85))

	al := model.Entity{Name: "Al", Type: model.EntityPerson, Aliases: []string{"Alan"}}
	assert.False(t, MentionedIn([]string{"also", "all"}, al, 0.5))
	assert.True(t, MentionedIn([]string{"met", "alan"}, al, 0.85))
}

func TestCompress(t *testing.T) {
	b := Bundle{
		Similar:  []model.ScoredThought{{ID: "t1", Content: "lunch with john", Score: 0.91}},
		Entities: []model.Entity{{Name: "John", Type: model.EntityPerson, Description: "colleague"}},
		Neighbors: []graph.Node{
			{Label: model.LabelThought, Key: "t1", Fields: map[string]any{"content": "lunch with john"}},
		},
	}
	out := b.Compress(2000)
	assert.Contains(t, out, "- (0.91) lunch with john")
	assert.Contains(t, out, "- John (Person): colleague")
	assert.Contains(t, out, "- Thought: lunch with john")

	long := Bundle{Similar: []model.ScoredThought{{Content: strings.Repeat("word ", 200)}}}
	assert.LessOrEqual(t, len([]rune(long.Compress(120))), 123)
}
