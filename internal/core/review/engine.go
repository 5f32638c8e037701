// Package review schedules spaced-repetition reviews of saved thoughts with SM-2.
package review

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/observability"
)

const (
	MinEasiness = 1.3
	day         = 24 * time.Hour
)

type Engine struct {
	Store   Store
	Locks   *common.KeyedMutex
	Config  config.ReviewConfig
	Metrics *observability.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

func NewEngine(store Store, locks *common.KeyedMutex, cfg config.ReviewConfig, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = common.NewKeyedMutex(0)
	}
	return &Engine{
		Store:   store,
		Locks:   locks,
		Config:  cfg,
		Metrics: metrics,
		Logger:  logger.Named("review"),
		Now:     time.Now,
	}
}

// Enroll creates the card for a thought, first due one day later. Enrolling
// again returns the existing card unchanged.
func (e *Engine) Enroll(ctx context.Context, thoughtID, preview string) (model.ReviewCard, error) {
	if thoughtID == "" {
		return model.ReviewCard{}, errs.New(errs.KindPermanent, "review.enroll", "empty thought id")
	}
	now := e.Now().UTC()
	card, err := e.Store.Insert(ctx, model.ReviewCard{
		ThoughtID: thoughtID,
		Easiness:  e.Config.DefaultEasiness,
		NextDue:   now.Add(day),
		Preview:   common.Truncate(preview, 120),
	})
	if err != nil {
		return model.ReviewCard{}, errs.Wrap(errs.KindTransient, "review.enroll", err)
	}
	return card, nil
}

// Rate applies a rating to the card and returns the rescheduled card.
func (e *Engine) Rate(ctx context.Context, thoughtID string, rating model.Rating) (model.ReviewCard, error) {
	q, ok := rating.Quality()
	if !ok {
		return model.ReviewCard{}, errs.New(errs.KindPermanent, "review.rate", "unknown rating "+string(rating))
	}

	unlock := e.Locks.Lock("review:" + thoughtID)
	defer unlock()

	card, err := e.Store.Get(ctx, thoughtID)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return model.ReviewCard{}, err
		}
		return model.ReviewCard{}, errs.Wrap(errs.KindTransient, "review.rate", err)
	}

	card = Schedule(card, q, e.Now().UTC())
	if err := e.Store.Update(ctx, card); err != nil {
		return model.ReviewCard{}, errs.Wrap(errs.KindTransient, "review.rate", err)
	}
	if e.Metrics != nil {
		e.Metrics.ReviewRatings.WithLabelValues(string(rating)).Inc()
	}
	e.Logger.Debug("card rated", zap.String("thought_id", thoughtID), zap.String("rating", string(rating)),
		zap.Int("interval_days", card.IntervalDays), zap.Time("next_due", card.NextDue))
	return card, nil
}

// AllDue asks Due for every due card instead of a page of DueLimit.
const AllDue = -1

// Due returns the cards due now, most overdue first. A zero limit means
// DueLimit and a negative one means no limit.
func (e *Engine) Due(ctx context.Context, limit int) ([]model.ReviewCard, error) {
	switch {
	case limit == 0:
		limit = e.Config.DueLimit
	case limit < 0:
		limit = 0
	}
	cards, err := e.Store.Due(ctx, e.Now().UTC(), limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "review.due", err)
	}
	if cards == nil {
		cards = []model.ReviewCard{}
	}
	return cards, nil
}

// RunDueScan refreshes the due-card gauge every interval until ctx is done.
func (e *Engine) RunDueScan(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.scanDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanDue(ctx)
		}
	}
}

func (e *Engine) scanDue(ctx context.Context) {
	n, err := e.Store.CountDue(ctx, e.Now().UTC())
	if err != nil {
		e.Logger.Warn("failed to count due cards", zap.Error(err))
		return
	}
	if e.Metrics != nil {
		e.Metrics.ReviewDue.Set(float64(n))
	}
	e.Logger.Info("review cards due", zap.Int("count", n))
}

// Schedule applies one SM-2 step with quality q (0..5) at now.
func Schedule(c model.ReviewCard, q int, now time.Time) model.ReviewCard {
	miss := float64(5 - q)
	c.Easiness = math.Max(MinEasiness, c.Easiness+(0.1-miss*(0.08+miss*0.02)))

	if q < 3 {
		c.Repetitions = 0
		c.IntervalDays = 1
	} else {
		c.Repetitions++
		switch c.Repetitions {
		case 1:
			c.IntervalDays = 1
		case 2:
			c.IntervalDays = 6
		default:
			c.IntervalDays = int(math.Round(float64(c.IntervalDays) * c.Easiness))
		}
	}

	reviewed := now
	c.LastReviewed = &reviewed
	c.NextDue = now.Add(time.Duration(c.IntervalDays) * day)
	return c
}
