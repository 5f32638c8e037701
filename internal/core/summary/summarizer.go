// Package summary synthesizes Person and Project profiles from the thoughts
// that mention them.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/dedupe"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
)

// ChunkSize is the number of notes folded into one reduce call.
const ChunkSize = 20

// Mention is a thought linked to an entity by MENTIONS.
type Mention struct {
	ThoughtID string
	Content   string
	CreatedAt time.Time
}

type personFields struct {
	Role         string   `json:"role"`
	Relationship string   `json:"relationship"`
	Topics       []string `json:"topics"`
	Summary      string   `json:"summary"`
	LastContext  string   `json:"last_context"`
}

type projectFields struct {
	Status      string   `json:"status"`
	People      []string `json:"people"`
	Deadlines   []string `json:"deadlines"`
	Summary     string   `json:"summary"`
	LastContext string   `json:"last_context"`
}

type reduced struct {
	Summary string `json:"summary"`
}

type Profiler struct {
	LLM     llm.LLMClient
	Graph   graph.Store
	Prompts config.Prompts
	Window  int
	Logger  *zap.Logger
	Now     func() time.Time
}

func NewProfiler(client llm.LLMClient, g graph.Store, prompts config.Prompts, window int, logger *zap.Logger) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{
		LLM:     client,
		Graph:   g,
		Prompts: prompts,
		Window:  window,
		Logger:  logger.Named("profiler"),
		Now:     time.Now,
	}
}

// Mentions loads the entity and its most recent mentioning thoughts, newest first.
func (p *Profiler) Mentions(ctx context.Context, key string) (model.Entity, []Mention, error) {
	ref := graph.NodeRef{Label: model.LabelEntity, Key: key}
	n, err := p.Graph.GetNode(ctx, ref)
	if errors.Is(err, graph.ErrNotFound) {
		return model.Entity{}, nil, errs.New(errs.KindNotFound, "profile.mentions", "no entity "+key)
	}
	if err != nil {
		return model.Entity{}, nil, fmt.Errorf("failed to load entity %s: %w", key, err)
	}

	res, err := p.Graph.Query(ctx, graph.Pattern{
		Start:       ref,
		EdgeTypes:   []string{model.EdgeMentions},
		Direction:   graph.In,
		MaxHops:     1,
		TargetLabel: model.LabelThought,
		OrderBy:     "created_at",
		Desc:        true,
		Limit:       p.Window,
	})
	if err != nil {
		return model.Entity{}, nil, fmt.Errorf("failed to load mentions of %s: %w", key, err)
	}
	mentions := make([]Mention, 0, len(res.Nodes))
	for _, t := range res.Nodes {
		mentions = append(mentions, Mention{ThoughtID: t.Key, Content: t.String("content"), CreatedAt: t.Time("created_at")})
	}
	return dedupe.EntityFromNode(n), mentions, nil
}

// Synthesize recomputes the profile of the entity under key. The returned
// mutation overwrites whatever profile exists.
func (p *Profiler) Synthesize(ctx context.Context, key string) (model.Mutation, error) {
	entity, mentions, err := p.Mentions(ctx, key)
	if err != nil {
		return nil, err
	}
	if !entity.HasProfile() {
		return nil, errs.New(errs.KindPermanent, "profile.synthesize", fmt.Sprintf("%s entities have no profile", entity.Type))
	}

	lines := make([]string, len(mentions))
	for i, m := range mentions {
		lines[i] = fmt.Sprintf("- [%s] %s", m.CreatedAt.Format("2006-01-02"), m.Content)
	}
	digest, err := p.Reduce(ctx, lines)
	if err != nil {
		return nil, err
	}

	var last string
	var watermark time.Time
	if len(mentions) > 0 {
		last = common.Truncate(mentions[0].Content, 200)
		watermark = mentions[0].CreatedAt
	}
	now := p.Now().UTC()

	if entity.Type == model.EntityPerson {
		f, err := llm.GenerateJSON[personFields](ctx, p.LLM, fmt.Sprintf(p.Prompts.PersonProfile, entity.Name, digest))
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize person %s: %w", key, err)
		}
		return model.PersonProfileUpdate{Profile: model.PersonProfile{
			EntityKey:       key,
			Name:            entity.Name,
			Role:            f.Role,
			Relationship:    f.Relationship,
			Topics:          nonEmpty(f.Topics),
			Summary:         f.Summary,
			LastContext:     orDefault(f.LastContext, last),
			MentionCount:    len(mentions),
			UpdatedAt:       now,
			SourceWatermark: watermark,
		}}, nil
	}

	f, err := llm.GenerateJSON[projectFields](ctx, p.LLM, fmt.Sprintf(p.Prompts.ProjectProfile, entity.Name, digest))
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize project %s: %w", key, err)
	}
	return model.ProjectProfileUpdate{Profile: model.ProjectProfile{
		EntityKey:       key,
		Name:            entity.Name,
		Status:          f.Status,
		People:          nonEmpty(f.People),
		Deadlines:       nonEmpty(f.Deadlines),
		Summary:         f.Summary,
		LastContext:     orDefault(f.LastContext, last),
		UpdatedAt:       now,
		SourceWatermark: watermark,
	}}, nil
}

// Reduce folds notes into text short enough for one prompt. Up to ChunkSize
// notes pass through unchanged; larger sets are summarized chunk by chunk and
// the partial summaries reduced again.
func (p *Profiler) Reduce(ctx context.Context, notes []string) (string, error) {
	if len(notes) == 0 {
		return "No mentions yet.", nil
	}
	if len(notes) <= ChunkSize {
		return strings.Join(notes, "\n"), nil
	}

	var partials []string
	for i := 0; i < len(notes); i += ChunkSize {
		end := min(i+ChunkSize, len(notes))
		r, err := llm.GenerateJSON[reduced](ctx, p.LLM, fmt.Sprintf(p.Prompts.ReduceSummary, strings.Join(notes[i:end], "\n")))
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			p.Logger.Warn("failed to reduce chunk", zap.Int("offset", i), zap.Error(err))
			continue
		}
		if s := strings.TrimSpace(r.Summary); s != "" {
			partials = append(partials, fmt.Sprintf("- Part %d: %s", i/ChunkSize+1, s))
		}
	}
	if len(partials) == 0 {
		return "", errs.New(errs.KindTransient, "profile.reduce", "every chunk failed to summarize")
	}
	return p.Reduce(ctx, partials)
}

func nonEmpty(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
