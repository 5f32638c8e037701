package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
)

// Briefing is the start-of-day digest.
type Briefing struct {
	Greeting       string             `json:"greeting"`
	Summary        string             `json:"summary"`
	OpenQuestions  []string           `json:"open_questions"`
	Focus          []string           `json:"focus"`
	ActionItems    []model.ActionItem `json:"action_items"`
	RecentThoughts []model.Thought    `json:"recent_thoughts"`
	DueCards       []model.ReviewCard `json:"due_cards"`
	Nudges         []model.Nudge      `json:"nudges"`
	GeneratedAt    time.Time          `json:"generated_at"`
	Degraded       bool               `json:"degraded"`
}

// BriefingInput carries what other engines own.
type BriefingInput struct {
	DueCards []model.ReviewCard
	Nudges   []model.Nudge
}

type briefingDraft struct {
	Greeting      string   `json:"greeting"`
	Summary       string   `json:"summary"`
	OpenQuestions []string `json:"open_questions"`
	Focus         []string `json:"focus"`
}

// Challenge is a Feynman-style question about a topic.
type Challenge struct {
	Topic       string                `json:"topic"`
	Question    string                `json:"question"`
	KeyConcepts []string              `json:"key_concepts"`
	FollowUp    string                `json:"follow_up"`
	Notes       []model.ScoredThought `json:"notes"`
	Degraded    bool                  `json:"degraded"`
}

// promptItems bounds each list rendered into a prompt.
const promptItems = 5

// Briefing gathers the most urgent pending action items and the newest
// non-atomic thoughts, and has the model write the digest around them. An
// inference failure falls back to a templated digest.
func (e *Explorer) Briefing(ctx context.Context, in BriefingInput) (Briefing, error) {
	now := e.Now()
	b := Briefing{
		DueCards:    nonNil(in.DueCards),
		Nudges:      nonNil(in.Nudges),
		GeneratedAt: now.UTC(),
	}

	actions, err := e.Graph.Query(ctx, graph.Pattern{
		Start:   graph.NodeRef{Label: model.LabelActionItem},
		Where:   map[string]any{"status": "pending"},
		OrderBy: "urgency",
		Desc:    true,
		Limit:   e.Config.BriefingActions,
	})
	if err != nil {
		return Briefing{}, errs.Wrap(errs.KindTransient, "insight.briefing", err)
	}
	b.ActionItems = make([]model.ActionItem, 0, len(actions.Nodes))
	for _, n := range actions.Nodes {
		b.ActionItems = append(b.ActionItems, model.ActionItem{
			ID:          n.Key,
			Description: n.String("description"),
			Urgency:     n.Float("urgency"),
			DueContext:  n.String("due_context"),
			ThoughtID:   n.String("thought_id"),
			EntityKey:   n.String("entity_key"),
			Status:      n.String("status"),
		})
	}

	recent, err := e.Graph.Query(ctx, graph.Pattern{
		Start:   graph.NodeRef{Label: model.LabelThought},
		Where:   map[string]any{"atomic": false},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   e.Config.BriefingRecent,
	})
	if err != nil {
		return Briefing{}, errs.Wrap(errs.KindTransient, "insight.briefing", err)
	}
	b.RecentThoughts = make([]model.Thought, 0, len(recent.Nodes))
	for _, n := range recent.Nodes {
		b.RecentThoughts = append(b.RecentThoughts, thoughtFromNode(n))
	}

	prompt := fmt.Sprintf(e.Prompts.Briefing,
		now.Format("Monday, January 2, 2006 15:04"),
		bullets(b.RecentThoughts, "No recent notes", func(t model.Thought) string {
			return fmt.Sprintf("[%s] %s", t.CreatedAt.Format("2006-01-02"), common.Truncate(t.Content, 160))
		}),
		bullets(b.ActionItems, "No open action items", func(a model.ActionItem) string {
			return fmt.Sprintf("%s (urgency %.0f)", a.Description, a.Urgency)
		}),
		bullets(b.DueCards, "Nothing due", func(c model.ReviewCard) string { return common.Truncate(c.Preview, 120) }),
		bullets(b.Nudges, "None", func(n model.Nudge) string { return n.Message }),
	)
	draft, err := llm.GenerateJSON[briefingDraft](ctx, e.LLM, prompt)
	if err == nil && strings.TrimSpace(draft.Summary) != "" {
		b.Greeting = strings.TrimSpace(draft.Greeting)
		if b.Greeting == "" {
			b.Greeting = greeting(now)
		}
		b.Summary = strings.TrimSpace(draft.Summary)
		b.OpenQuestions = nonNil(draft.OpenQuestions)
		b.Focus = nonNil(draft.Focus)
		return b, nil
	}
	if ctx.Err() != nil {
		return Briefing{}, errs.Wrap(errs.KindTimeout, "insight.briefing", ctx.Err())
	}
	if err != nil {
		e.Logger.Warn("briefing generation failed, using template", zap.Error(err))
	}

	b.Greeting = greeting(now)
	b.Summary = fmt.Sprintf("You have %d recent notes, %d open action items and %d notes due for review.",
		len(b.RecentThoughts), len(b.ActionItems), len(b.DueCards))
	b.OpenQuestions = []string{}
	b.Focus = []string{}
	for _, a := range b.ActionItems {
		b.Focus = append(b.Focus, a.Description)
	}
	if len(b.Focus) == 0 {
		b.Focus = append(b.Focus, "Review your recent notes")
	}
	b.Degraded = true
	return b, nil
}

// Feynman asks a beginner's question about topic, grounded in the closest
// saved notes. Without the model it asks for a five-year-old's explanation.
func (e *Explorer) Feynman(ctx context.Context, topic string) (Challenge, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Challenge{}, errs.New(errs.KindPermanent, "insight.feynman", "empty topic")
	}
	c := Challenge{Topic: topic, Notes: []model.ScoredThought{}}
	if e.Config.FeynmanNotes > 0 {
		notes, err := e.Search(ctx, topic, e.Config.FeynmanNotes)
		if err != nil {
			e.Logger.Warn("no notes for feynman challenge", zap.String("topic", topic), zap.Error(err))
		} else {
			c.Notes = notes
		}
	}

	prompt := fmt.Sprintf(e.Prompts.Feynman, topic, bullets(c.Notes, "No notes found", func(st model.ScoredThought) string {
		return common.Truncate(st.Content, 300)
	}))
	draft, err := llm.GenerateJSON[Challenge](ctx, e.LLM, prompt)
	if err == nil && strings.TrimSpace(draft.Question) != "" {
		c.Question = strings.TrimSpace(draft.Question)
		c.KeyConcepts = nonNil(draft.KeyConcepts)
		c.FollowUp = strings.TrimSpace(draft.FollowUp)
		return c, nil
	}
	if ctx.Err() != nil {
		return Challenge{}, errs.Wrap(errs.KindTimeout, "insight.feynman", ctx.Err())
	}
	if err != nil {
		e.Logger.Warn("feynman generation failed, using template", zap.Error(err))
	}
	c.Question = fmt.Sprintf("Can you explain %s to me like I'm five years old?", topic)
	c.KeyConcepts = []string{}
	c.FollowUp = "Why does that matter?"
	c.Degraded = true
	return c, nil
}

func greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Good morning!"
	case h < 17:
		return "Good afternoon!"
	default:
		return "Good evening!"
	}
}

func bullets[T any](items []T, empty string, line func(T) string) string {
	if len(items) == 0 {
		return empty
	}
	var sb strings.Builder
	for i, it := range items {
		if i == promptItems {
			break
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- " + line(it))
	}
	return sb.String()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
