package insight

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
)

type Person struct {
	Key          string               `json:"key"`
	Name         string               `json:"name"`
	MentionCount int                  `json:"mention_count"`
	LinkStrength float64              `json:"link_strength"`
	Profile      *model.PersonProfile `json:"profile,omitempty"`
}

type Project struct {
	Key          string                `json:"key"`
	Name         string                `json:"name"`
	Status       string                `json:"status,omitempty"`
	BlockedBy    string                `json:"blocked_by,omitempty"`
	MentionCount int                   `json:"mention_count"`
	Profile      *model.ProjectProfile `json:"profile,omitempty"`
}

// Stats counts the nodes of each kind in the graph.
type Stats struct {
	Thoughts        int `json:"thoughts"`
	Entities        int `json:"entities"`
	Categories      int `json:"categories"`
	ActionItems     int `json:"action_items"`
	Tasks           int `json:"tasks"`
	PersonProfiles  int `json:"person_profiles"`
	ProjectProfiles int `json:"project_profiles"`
}

// Category lists the thoughts filed under name, newest first.
func (e *Explorer) Category(ctx context.Context, name string, limit int) ([]model.Thought, error) {
	c, ok := model.ParseCategory(name)
	if !ok {
		return nil, errs.New(errs.KindPermanent, "insight.category", fmt.Sprintf("unknown category %q", name))
	}
	res, err := e.Graph.Query(ctx, graph.Pattern{
		Start:       graph.NodeRef{Label: model.LabelCategory, Key: string(c)},
		EdgeTypes:   []string{model.EdgeBelongsTo},
		Direction:   graph.In,
		MaxHops:     1,
		TargetLabel: model.LabelThought,
		OrderBy:     "created_at",
		Desc:        true,
		Limit:       e.limit(limit, e.Config.BrowseLimit),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "insight.category", err)
	}
	out := make([]model.Thought, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		out = append(out, thoughtFromNode(n))
	}
	return out, nil
}

// People lists person entities, most mentioned first, with their profiles.
func (e *Explorer) People(ctx context.Context) ([]Person, error) {
	nodes, err := e.entities(ctx, model.EntityPerson)
	if err != nil {
		return nil, err
	}
	out := make([]Person, 0, len(nodes))
	for _, n := range nodes {
		p := Person{Key: n.Key, Name: n.String("name"), MentionCount: n.Int("mention_count"), LinkStrength: n.Float("link_strength")}
		prof, err := e.profile(ctx, model.LabelPersonProfile, n.Key)
		if err != nil {
			return nil, err
		}
		if prof != nil {
			pp := personProfile(*prof)
			p.Profile = &pp
		}
		out = append(out, p)
	}
	return out, nil
}

// Projects lists project entities, most mentioned first, with their profiles.
func (e *Explorer) Projects(ctx context.Context) ([]Project, error) {
	nodes, err := e.entities(ctx, model.EntityProject)
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(nodes))
	for _, n := range nodes {
		p := Project{
			Key:          n.Key,
			Name:         n.String("name"),
			Status:       n.String("status"),
			BlockedBy:    n.String("blocked_by"),
			MentionCount: n.Int("mention_count"),
		}
		prof, err := e.profile(ctx, model.LabelProjectProfile, n.Key)
		if err != nil {
			return nil, err
		}
		if prof != nil {
			pp := projectProfile(*prof)
			p.Profile = &pp
		}
		out = append(out, p)
	}
	return out, nil
}

// Stats counts every label concurrently.
func (e *Explorer) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	counts := []struct {
		label string
		dst   *int
	}{
		{model.LabelThought, &s.Thoughts},
		{model.LabelEntity, &s.Entities},
		{model.LabelCategory, &s.Categories},
		{model.LabelActionItem, &s.ActionItems},
		{model.LabelTask, &s.Tasks},
		{model.LabelPersonProfile, &s.PersonProfiles},
		{model.LabelProjectProfile, &s.ProjectProfiles},
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range counts {
		g.Go(func() error {
			n, err := e.Graph.Count(gctx, c.label)
			if err != nil {
				return fmt.Errorf("count %s: %w", c.label, err)
			}
			*c.dst = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, errs.Wrap(errs.KindTransient, "insight.stats", err)
	}
	return s, nil
}

func (e *Explorer) entities(ctx context.Context, t model.EntityType) ([]graph.Node, error) {
	res, err := e.Graph.Query(ctx, graph.Pattern{
		Start:   graph.NodeRef{Label: model.LabelEntity},
		Where:   map[string]any{"type": string(t)},
		OrderBy: "mention_count",
		Desc:    true,
		Limit:   e.Config.BrowseLimit,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "insight.entities", err)
	}
	return res.Nodes, nil
}

// profile returns nil when the entity has no profile yet.
func (e *Explorer) profile(ctx context.Context, label, key string) (*graph.Node, error) {
	n, err := e.Graph.GetNode(ctx, graph.NodeRef{Label: label, Key: key})
	if errors.Is(err, graph.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "insight.profile", err)
	}
	return &n, nil
}

func personProfile(n graph.Node) model.PersonProfile {
	return model.PersonProfile{
		EntityKey:       n.Key,
		Name:            n.String("name"),
		Role:            n.String("role"),
		Relationship:    n.String("relationship"),
		Topics:          n.Strings("topics"),
		Summary:         n.String("summary"),
		LastContext:     n.String("last_context"),
		MentionCount:    n.Int("mention_count"),
		UpdatedAt:       n.Time("updated_at"),
		SourceWatermark: n.Time("source_watermark"),
	}
}

func projectProfile(n graph.Node) model.ProjectProfile {
	return model.ProjectProfile{
		EntityKey:       n.Key,
		Name:            n.String("name"),
		Status:          n.String("status"),
		People:          n.Strings("people"),
		Deadlines:       n.Strings("deadlines"),
		Summary:         n.String("summary"),
		LastContext:     n.String("last_context"),
		UpdatedAt:       n.Time("updated_at"),
		SourceWatermark: n.Time("source_watermark"),
	}
}

func thoughtFromNode(n graph.Node) model.Thought {
	return model.Thought{
		ID:        n.Key,
		Content:   n.String("content"),
		Summary:   n.String("summary"),
		CreatedAt: n.Time("created_at"),
		Source:    n.String("source"),
		Atomic:    n.Bool("atomic"),
		SourceID:  n.String("source_id"),
		Title:     n.String("title"),
	}
}
