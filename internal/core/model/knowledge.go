package model

import "time"

type ActionItem struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Urgency     float64 `json:"urgency"`
	DueContext  string  `json:"due_context,omitempty"`
	ThoughtID   string  `json:"thought_id"`
	EntityKey   string  `json:"entity_key,omitempty"`
	Status      string  `json:"status"`
}

const (
	MinUrgency = 0.0
	MaxUrgency = 5.0
)

// ClampUrgency bounds u to the urgency range.
func ClampUrgency(u float64) float64 {
	if u < MinUrgency {
		return MinUrgency
	}
	if u > MaxUrgency {
		return MaxUrgency
	}
	return u
}

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Urgency     float64   `json:"urgency"`
	ThoughtID   string    `json:"thought_id,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskTree is a parent task with its decomposed children.
type TaskTree struct {
	Task     Task       `json:"task"`
	Children []TaskTree `json:"children,omitempty"`
	Rejected []string   `json:"rejected,omitempty"`
}

type PersonProfile struct {
	EntityKey    string    `json:"entity_key"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Relationship string    `json:"relationship"`
	Topics       []string  `json:"topics"`
	Summary      string    `json:"summary"`
	LastContext  string    `json:"last_context"`
	MentionCount int       `json:"mention_count"`
	UpdatedAt    time.Time `json:"updated_at"`
	// SourceWatermark is the creation time of the newest mention read.
	SourceWatermark time.Time `json:"source_watermark"`
}

type ProjectProfile struct {
	EntityKey       string    `json:"entity_key"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	People          []string  `json:"people"`
	Deadlines       []string  `json:"deadlines"`
	Summary         string    `json:"summary"`
	LastContext     string    `json:"last_context"`
	UpdatedAt       time.Time `json:"updated_at"`
	SourceWatermark time.Time `json:"source_watermark"`
}

type Nudge struct {
	ThoughtID    string  `json:"thought_id"`
	OtherID      string  `json:"other_id"`
	OtherContent string  `json:"other_content"`
	Similarity   float64 `json:"similarity"`
	Distance     int     `json:"distance"`
	CrossCluster bool    `json:"cross_cluster"`
	Message      string  `json:"message"`
}
