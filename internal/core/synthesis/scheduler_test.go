package synthesis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/observability"
	"github.com/umeshshetty/peoples-agent/internal/queue"
)

// recorder implements every handler and fails the first failN calls.
type recorder struct {
	mu      sync.Mutex
	calls   map[string]int
	applied []model.Mutation
	failN   int
	failErr error
	lastVec []float32
	lastTxt string
}

func newRecorder() *recorder {
	return &recorder{calls: map[string]int{}}
}

func (r *recorder) hit(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[kind]++
	if r.failN > 0 {
		r.failN--
		return r.failErr
	}
	return nil
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[kind]
}

func (r *recorder) Synthesize(ctx context.Context, key string) (model.Mutation, error) {
	if err := r.hit(KindProfile); err != nil {
		return nil, err
	}
	return model.PersonProfileUpdate{Profile: model.PersonProfile{EntityKey: key}}, nil
}

func (r *recorder) Apply(ctx context.Context, muts []model.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, muts...)
	return nil
}

func (r *recorder) ScanThought(ctx context.Context, id string, vec []float32) ([]model.Nudge, error) {
	r.mu.Lock()
	r.lastVec = vec
	r.mu.Unlock()
	return nil, r.hit(KindSerendipity)
}

func (r *recorder) Decompose(ctx context.Context, id, text string) (model.TaskTree, error) {
	r.mu.Lock()
	r.lastTxt = text
	r.mu.Unlock()
	return model.TaskTree{}, r.hit(KindDecompose)
}

func (r *recorder) Atomize(ctx context.Context, t model.Thought) ([]model.Thought, error) {
	return nil, r.hit(KindAtomize)
}

func testConfig() config.SynthesisConfig {
	cfg := config.Default().Synthesis
	cfg.RetryBackoff = config.Duration(time.Millisecond)
	cfg.Workers = 2
	return cfg
}

func startScheduler(t *testing.T, r *recorder, cfg config.SynthesisConfig) (*Scheduler, *observability.Metrics) {
	t.Helper()
	q := queue.NewMemoryQueue(16)
	m := observability.NewMetrics("test")
	s := NewScheduler(q, Handlers{Profiler: r, Applier: r, Scanner: r, Decomposer: r, Atomizer: r}, cfg, m, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s, m
}

func TestSchedulerDispatchesEveryKind(t *testing.T) {
	r := newRecorder()
	s, m := startScheduler(t, r, testConfig())

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Submit(reqCtx,
		queue.Job{Kind: KindProfile, ThoughtID: "t1", EntityKeys: []string{"person:john", "project:atlas"}},
		queue.Job{Kind: KindSerendipity, ThoughtID: "t1", Embedding: []float32{1, 2}},
		queue.Job{Kind: KindDecompose, ThoughtID: "t1", Text: "plan the offsite"},
		queue.Job{Kind: KindAtomize, ThoughtID: "t1", Text: "long essay"},
	)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindAtomize, "ok")) == 1 &&
			testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindProfile, "ok")) == 1 &&
			testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindSerendipity, "ok")) == 1 &&
			testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindDecompose, "ok")) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, r.count(KindProfile))
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.applied, 2)
	assert.Equal(t, []float32{1, 2}, r.lastVec)
	assert.Equal(t, "plan the offsite", r.lastTxt)
}

func TestSchedulerRetriesTransientFailures(t *testing.T) {
	r := newRecorder()
	r.failN, r.failErr = 2, errors.New("llm unavailable")
	s, m := startScheduler(t, r, testConfig())

	s.Submit(context.Background(), queue.Job{Kind: KindDecompose, ThoughtID: "t1", Text: "x"})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindDecompose, "ok")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, r.count(KindDecompose))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindDecompose, "retry")))
}

func TestSchedulerGivesUpAfterMaxAttempts(t *testing.T) {
	r := newRecorder()
	r.failN, r.failErr = 100, errors.New("still down")
	cfg := testConfig()
	cfg.MaxAttempts = 3
	s, m := startScheduler(t, r, cfg)

	s.Submit(context.Background(), queue.Job{Kind: KindAtomize, ThoughtID: "t1", Text: "x"})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindAtomize, "failed")) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, r.count(KindAtomize))
}

func TestSchedulerDoesNotRetryPermanentFailures(t *testing.T) {
	r := newRecorder()
	r.failN, r.failErr = 1, errs.New(errs.KindPermanent, "test", "bad input")
	s, m := startScheduler(t, r, testConfig())

	s.Submit(context.Background(),
		queue.Job{Kind: KindSerendipity, ThoughtID: "t1"},
		queue.Job{Kind: "unknown", ThoughtID: "t1"},
	)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindSerendipity, "failed")) == 1 &&
			testutil.ToFloat64(m.SynthesisJobs.WithLabelValues("unknown", "failed")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.count(KindSerendipity))
}

func TestSubmitToClosedQueueIsCounted(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	require.NoError(t, q.Close())
	m := observability.NewMetrics("test")
	s := NewScheduler(q, Handlers{}, testConfig(), m, zap.NewNop())

	s.Submit(context.Background(), queue.Job{Kind: KindProfile})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SynthesisJobs.WithLabelValues(KindProfile, "dropped")))
}
