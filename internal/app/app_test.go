package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/review"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/queue"
	"github.com/umeshshetty/peoples-agent/internal/vector"
)

func TestBuildInMemory(t *testing.T) {
	a, err := Build(context.Background(), config.Default(), zap.NewNop())
	require.NoError(t, err)

	require.NotNil(t, a.Brain)
	assert.IsType(t, &graph.MemoryStore{}, a.Brain.Saver.Graph)
	assert.IsType(t, &vector.MemoryIndex{}, a.Brain.Saver.Vectors)
	assert.IsType(t, &review.MemoryStore{}, a.Brain.Review.Store)
	assert.IsType(t, &queue.MemoryQueue{}, a.Brain.Scheduler.Queue)
	assert.NoError(t, a.Close(context.Background()))
}

func TestBuildWithRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Storage.Queue = "redis"
	cfg.Redis.URL = "redis://" + mr.Addr()

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &queue.RedisQueue{}, a.Brain.Scheduler.Queue)
	assert.NoError(t, a.Close(context.Background()))
}

func TestBuildFailsOnUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "nope"
	a, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, a)
}
