package model

import "time"

// Thought is immutable once saved.
type Thought struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Embedding []float32 `json:"-"`
	Source    string    `json:"source,omitempty"`
	Atomic    bool      `json:"atomic,omitempty"`
	SourceID  string    `json:"source_id,omitempty"`
	Title     string    `json:"title,omitempty"`
}

const (
	SourceThink   = "think"
	SourceAtomize = "atomize"
	SourceAtom    = "atom"
)

// ScoredThought is a retrieval hit.
type ScoredThought struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Summary string  `json:"summary,omitempty"`
	Score   float64 `json:"score"`
}

// Graph labels and edge types.
const (
	LabelThought        = "Thought"
	LabelEntity         = "Entity"
	LabelCategory       = "Category"
	LabelActionItem     = "ActionItem"
	LabelTask           = "Task"
	LabelPersonProfile  = "PersonProfile"
	LabelProjectProfile = "ProjectProfile"
	LabelUser           = "User"

	EdgeMentions     = "MENTIONS"
	EdgeBelongsTo    = "BELONGS_TO"
	EdgeImplies      = "IMPLIES"
	EdgeConcerns     = "CONCERNS"
	EdgeBlocks       = "BLOCKS"
	EdgeHasProfile   = "HAS_PROFILE"
	EdgeHasTask      = "HAS_TASK"
	EdgeSubtaskOf    = "SUBTASK_OF"
	EdgeAtomizedFrom = "ATOMIZED_FROM"
	EdgeRelatedTo    = "RELATED_TO"
	EdgeKnows        = "KNOWS"

	UserKey = "me"
)
