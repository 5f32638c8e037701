package model

// ExtractionStatus is the terminal state of the critique loop.
type ExtractionStatus string

const (
	StatusAccepted         ExtractionStatus = "ACCEPTED"
	StatusAcceptedWithGaps ExtractionStatus = "ACCEPTED_WITH_GAPS"
)

type Intent struct {
	Text     string   `json:"text"`
	Category Category `json:"category"`
}

type Extraction struct {
	Entities     []Entity         `json:"entities"`
	Categories   []Category       `json:"categories"`
	Intents      []Intent         `json:"intents,omitempty"`
	Summary      string           `json:"summary"`
	Confidence   float64          `json:"confidence"`
	CompoundTask bool             `json:"compound_task"`
	Status       ExtractionStatus `json:"status"`
	Iterations   int              `json:"iterations"`
	Gaps         []string         `json:"gaps,omitempty"`
	Degraded     bool             `json:"degraded"`
}

// EntitiesOfType filters the extraction's entities.
func (x Extraction) EntitiesOfType(t EntityType) []Entity {
	var out []Entity
	for _, e := range x.Entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// RawExtraction is the JSON shape the inferencer returns before normalization.
type RawExtraction struct {
	Entities []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"entities"`
	Categories []string `json:"categories"`
	Intents    []struct {
		Text     string `json:"text"`
		Category string `json:"category"`
	} `json:"intents"`
	Summary      string   `json:"summary"`
	Confidence   *float64 `json:"confidence"`
	CompoundTask bool     `json:"compound_task"`
}

type Critique struct {
	Gaps []string `json:"gaps"`
}
