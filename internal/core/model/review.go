package model

import "time"

type ReviewCard struct {
	ThoughtID    string     `json:"thought_id"`
	Easiness     float64    `json:"easiness"`
	Repetitions  int        `json:"repetitions"`
	IntervalDays int        `json:"interval_days"`
	NextDue      time.Time  `json:"next_due"`
	LastReviewed *time.Time `json:"last_reviewed,omitempty"`
	Preview      string     `json:"preview,omitempty"`
}

type Rating string

const (
	RatingAgain Rating = "again"
	RatingHard  Rating = "hard"
	RatingGood  Rating = "good"
	RatingEasy  Rating = "easy"
)

// Quality maps a rating to the SM-2 quality score.
func (r Rating) Quality() (int, bool) {
	switch r {
	case RatingAgain:
		return 0, true
	case RatingHard:
		return 3, true
	case RatingGood:
		return 4, true
	case RatingEasy:
		return 5, true
	}
	return 0, false
}
