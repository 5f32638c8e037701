package review

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/observability"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	now := epoch
	e := NewEngine(NewMemoryStore(), nil, config.Default().Review, observability.NewMetrics("test"), nil)
	e.Now = func() time.Time { return now }
	return e, &now
}

func TestScheduleAgainResets(t *testing.T) {
	c := model.ReviewCard{ThoughtID: "t1", Easiness: 2.5, Repetitions: 4, IntervalDays: 30}
	got := Schedule(c, 0, epoch)

	assert.Equal(t, 0, got.Repetitions)
	assert.Equal(t, 1, got.IntervalDays)
	assert.InDelta(t, 1.7, got.Easiness, 1e-9)
	assert.Equal(t, epoch.Add(24*time.Hour), got.NextDue)
	require.NotNil(t, got.LastReviewed)
	assert.Equal(t, epoch, *got.LastReviewed)
}

func TestScheduleEasinessFloor(t *testing.T) {
	c := model.ReviewCard{Easiness: 1.3}
	for i := 0; i < 5; i++ {
		c = Schedule(c, 0, epoch)
	}
	assert.Equal(t, MinEasiness, c.Easiness)
}

func TestScheduleEasyIntervalsGrow(t *testing.T) {
	c := model.ReviewCard{ThoughtID: "t1", Easiness: 2.5}
	var intervals []int
	for i := 0; i < 4; i++ {
		c = Schedule(c, 5, epoch)
		intervals = append(intervals, c.IntervalDays)
	}
	assert.Equal(t, []int{1, 6, 17, 49}, intervals)
	assert.InDelta(t, 2.9, c.Easiness, 1e-9)
	for i := 2; i < len(intervals); i++ {
		assert.Greater(t, intervals[i], intervals[i-1])
	}
}

func TestScheduleHardKeepsEasiness(t *testing.T) {
	got := Schedule(model.ReviewCard{Easiness: 2.5}, 3, epoch)
	assert.InDelta(t, 2.36, got.Easiness, 1e-9)
	assert.Equal(t, 1, got.Repetitions)
}

func TestEnrollIsIdempotent(t *testing.T) {
	e, now := newEngine(t)
	ctx := context.Background()

	first, err := e.Enroll(ctx, "t1", "remember the launch checklist")
	require.NoError(t, err)
	assert.Equal(t, 2.5, first.Easiness)
	assert.Equal(t, epoch.Add(24*time.Hour), first.NextDue)

	*now = epoch.Add(5 * time.Hour)
	second, err := e.Enroll(ctx, "t1", "other preview")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = e.Enroll(ctx, "", "x")
	assert.True(t, errs.Is(err, errs.KindPermanent))
}

func TestRateUnknownCardAndRating(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Rate(ctx, "missing", model.RatingGood)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = e.Enroll(ctx, "t1", "")
	require.NoError(t, err)
	_, err = e.Rate(ctx, "t1", model.Rating("meh"))
	assert.True(t, errs.Is(err, errs.KindPermanent))
}

func TestRatePersistsAndCounts(t *testing.T) {
	e, now := newEngine(t)
	ctx := context.Background()
	_, err := e.Enroll(ctx, "t1", "")
	require.NoError(t, err)

	*now = epoch.Add(26 * time.Hour)
	card, err := e.Rate(ctx, "t1", model.RatingGood)
	require.NoError(t, err)
	assert.Equal(t, 1, card.Repetitions)
	assert.Equal(t, now.Add(24*time.Hour), card.NextDue)

	stored, err := e.Store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, card, stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.ReviewRatings.WithLabelValues("good")))
}

func TestDueOrdersMostOverdueFirst(t *testing.T) {
	e, now := newEngine(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		*now = epoch.Add(time.Duration(2-i) * time.Hour)
		_, err := e.Enroll(ctx, id, "")
		require.NoError(t, err)
	}

	*now = epoch.Add(24*time.Hour + 90*time.Minute)
	due, err := e.Due(ctx, 0)
	require.NoError(t, err)
	var ids []string
	for _, c := range due {
		ids = append(ids, c.ThoughtID)
	}
	assert.Equal(t, []string{"c", "b"}, ids)

	due, err = e.Due(ctx, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c", due[0].ThoughtID)

	*now = epoch
	due, err = e.Due(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, due)
	assert.Empty(t, due)
}

func TestDueAllIgnoresPageSize(t *testing.T) {
	e, now := newEngine(t)
	e.Config.DueLimit = 2
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := e.Enroll(ctx, id, "")
		require.NoError(t, err)
	}

	*now = epoch.Add(48 * time.Hour)
	page, err := e.Due(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	all, err := e.Due(ctx, AllDue)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRunDueScanSetsGauge(t *testing.T) {
	e, now := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"a", "b"} {
		_, err := e.Enroll(ctx, id, "")
		require.NoError(t, err)
	}
	*now = epoch.Add(48 * time.Hour)

	done := make(chan struct{})
	go func() {
		e.RunDueScan(ctx, time.Hour)
		close(done)
	}()
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.Metrics.ReviewDue) == 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
