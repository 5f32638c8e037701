package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
)

// Store persists review cards keyed by thought id.
type Store interface {
	Get(ctx context.Context, thoughtID string) (model.ReviewCard, error)
	// Insert adds card unless one exists and returns the stored card.
	Insert(ctx context.Context, card model.ReviewCard) (model.ReviewCard, error)
	Update(ctx context.Context, card model.ReviewCard) error
	// Due returns cards with NextDue <= now, earliest first. limit <= 0 means all.
	Due(ctx context.Context, now time.Time, limit int) ([]model.ReviewCard, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]model.ReviewCard
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cards: make(map[string]model.ReviewCard)}
}

func (s *MemoryStore) Get(ctx context.Context, thoughtID string) (model.ReviewCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[thoughtID]
	if !ok {
		return model.ReviewCard{}, notFound(thoughtID)
	}
	return c, nil
}

func (s *MemoryStore) Insert(ctx context.Context, card model.ReviewCard) (model.ReviewCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cards[card.ThoughtID]; ok {
		return c, nil
	}
	s.cards[card.ThoughtID] = card
	return card, nil
}

func (s *MemoryStore) Update(ctx context.Context, card model.ReviewCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[card.ThoughtID]; !ok {
		return notFound(card.ThoughtID)
	}
	s.cards[card.ThoughtID] = card
	return nil
}

func (s *MemoryStore) Due(ctx context.Context, now time.Time, limit int) ([]model.ReviewCard, error) {
	s.mu.RLock()
	var out []model.ReviewCard
	for _, c := range s.cards {
		if !c.NextDue.After(now) {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextDue.Equal(out[j].NextDue) {
			return out[i].NextDue.Before(out[j].NextDue)
		}
		return out[i].ThoughtID < out[j].ThoughtID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.Due(ctx, now, 0)
	return len(due), err
}

func notFound(id string) error {
	return errs.New(errs.KindNotFound, "review", "no review card for "+id)
}
