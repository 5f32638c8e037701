package saver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/dedupe"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/graph"
)

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// plan is the ordered graph unit. next survives retries.
type plan struct {
	s     *Saver
	steps []step
	next  int
	remap map[string]string
	now   time.Time
	saved Saved
}

func (s *Saver) plan(u Unit) *plan {
	p := &plan{s: s, remap: map[string]string{}, now: s.Now()}
	p.saved.ThoughtID = u.Thought.ID

	for _, e := range u.Extraction.Entities {
		p.add("entity "+e.Key(), func(ctx context.Context) error { return p.upsertEntity(ctx, e) })
	}
	for _, m := range u.Mutations {
		if _, ok := m.(model.NewActionItem); !ok {
			p.addMutation(m, u.Thought.ID)
		}
	}
	p.add("thought", func(ctx context.Context) error { return p.upsertThought(ctx, u) })
	for _, m := range u.Mutations {
		if _, ok := m.(model.NewActionItem); ok {
			p.addMutation(m, u.Thought.ID)
		}
	}
	for _, m := range u.Mutations {
		if ps, ok := m.(model.ProjectStatus); ok && ps.ThoughtID == u.Thought.ID {
			p.add("blocks "+ps.EntityKey, func(ctx context.Context) error {
				return p.optionalEdge(ctx, model.EdgeBlocks, thoughtRef(u.Thought.ID), entityRef(p.key(ps.EntityKey)), nil)
			})
		}
	}
	p.add("mentions", func(ctx context.Context) error {
		for _, key := range p.saved.EntityKeys {
			if err := p.s.Graph.UpsertEdge(ctx, model.EdgeMentions, thoughtRef(u.Thought.ID), entityRef(key), nil); err != nil {
				return err
			}
		}
		return nil
	})
	return p
}

func (p *plan) add(name string, fn func(ctx context.Context) error) {
	p.steps = append(p.steps, step{name: name, fn: fn})
}

func (p *plan) run(ctx context.Context) error {
	for p.next < len(p.steps) {
		st := p.steps[p.next]
		sctx, cancel := p.s.storeContext(ctx)
		err := st.fn(sctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
		p.next++
	}
	return nil
}

// key maps an extracted entity key onto the node it resolved to.
func (p *plan) key(k string) string {
	if r, ok := p.remap[k]; ok {
		return r
	}
	return k
}

func (p *plan) stamp() string {
	return p.now.UTC().Format(time.RFC3339Nano)
}

func (p *plan) upsertEntity(ctx context.Context, e model.Entity) error {
	res, err := p.s.Resolver.Resolve(ctx, e)
	if err != nil {
		return err
	}

	unlock := p.s.Locks.Lock(res.Key)
	defer unlock()

	fields := map[string]any{
		"name":       res.Entity.Name,
		"type":       string(e.Type),
		"norm_name":  common.NormalizeName(res.Entity.Name),
		"updated_at": p.stamp(),
	}
	existing, err := p.s.Graph.GetNode(ctx, entityRef(res.Key))
	switch {
	case err == nil:
		current := dedupe.EntityFromNode(existing)
		fields["name"] = current.Name
		fields["norm_name"] = common.NormalizeName(current.Name)
		fields["aliases"] = dedupe.UnionStrings(current.Aliases, res.Entity.Aliases)
		if current.Description == "" && e.Description != "" {
			fields["description"] = e.Description
		}
		fields["mention_count"] = existing.Int("mention_count") + 1
	case errors.Is(err, graph.ErrNotFound):
		fields["description"] = res.Entity.Description
		fields["aliases"] = dedupe.UnionStrings(res.Entity.Aliases, nil)
		fields["mention_count"] = 1
		fields["created_at"] = p.stamp()
	default:
		return err
	}
	if err := p.s.Graph.UpsertNode(ctx, model.LabelEntity, res.Key, fields); err != nil {
		return err
	}

	p.remap[e.Key()] = res.Key
	if !contains(p.saved.EntityKeys, res.Key) {
		p.saved.EntityKeys = append(p.saved.EntityKeys, res.Key)
		if e.HasProfile() {
			p.saved.ProfileKeys = append(p.saved.ProfileKeys, res.Key)
		}
	}
	return nil
}

func (p *plan) upsertThought(ctx context.Context, u Unit) error {
	t, x := u.Thought, u.Extraction
	fields := map[string]any{
		"content":    t.Content,
		"summary":    x.Summary,
		"created_at": t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"source":     t.Source,
		"atomic":     t.Atomic,
		"confidence": x.Confidence,
		"status":     string(x.Status),
		"degraded":   x.Degraded,
	}
	if t.Summary != "" {
		fields["summary"] = t.Summary
	}
	if t.SourceID != "" {
		fields["source_id"] = t.SourceID
	}
	if t.Title != "" {
		fields["title"] = t.Title
	}
	if err := p.s.Graph.UpsertNode(ctx, model.LabelThought, t.ID, fields); err != nil {
		return err
	}
	for _, c := range x.Categories {
		if err := p.s.Graph.UpsertNode(ctx, model.LabelCategory, string(c), map[string]any{"name": string(c)}); err != nil {
			return err
		}
		if err := p.s.Graph.UpsertEdge(ctx, model.EdgeBelongsTo, thoughtRef(t.ID), graph.NodeRef{Label: model.LabelCategory, Key: string(c)},
			map[string]any{"confidence": x.Confidence}); err != nil {
			return err
		}
	}
	return nil
}

func (p *plan) addMutation(m model.Mutation, thoughtID string) {
	switch m := m.(type) {
	case model.ProjectStatus:
		p.add("project status "+m.EntityKey, func(ctx context.Context) error {
			return p.updateEntity(ctx, p.key(m.EntityKey), func(n graph.Node) map[string]any {
				return map[string]any{
					"status":            m.Status,
					"blocked_by":        m.BlockingPhrase,
					"status_updated_at": p.stamp(),
				}
			})
		})

	case model.LinkStrength:
		p.add("link strength "+m.PersonKey, func(ctx context.Context) error {
			key := p.key(m.PersonKey)
			var strength float64
			err := p.updateEntity(ctx, key, func(n graph.Node) map[string]any {
				strength = n.Float("link_strength") + m.Delta
				return map[string]any{"link_strength": strength}
			})
			if err != nil || strength == 0 {
				return err
			}
			if err := p.s.Graph.UpsertNode(ctx, model.LabelUser, model.UserKey, map[string]any{"name": model.UserKey}); err != nil {
				return err
			}
			return p.s.Graph.UpsertEdge(ctx, model.EdgeKnows, graph.NodeRef{Label: model.LabelUser, Key: model.UserKey}, entityRef(key),
				map[string]any{"strength": strength})
		})

	case model.SuggestedConnections:
		p.add("suggestions "+m.PersonKey, func(ctx context.Context) error {
			key := p.key(m.PersonKey)
			return p.updateEntity(ctx, key, func(n graph.Node) map[string]any {
				var incoming []string
				for _, s := range m.Suggestions {
					if r := p.key(s); r != key {
						incoming = append(incoming, r)
					}
				}
				return map[string]any{"suggested_connections": dedupe.UnionStrings(n.Strings("suggested_connections"), incoming)}
			})
		})

	case model.NewActionItem:
		p.add("action item "+m.Item.ID, func(ctx context.Context) error {
			return p.upsertActionItem(ctx, m.Item)
		})

	case model.PersonProfileUpdate:
		p.add("person profile "+m.Profile.EntityKey, func(ctx context.Context) error {
			pr := m.Profile
			return p.upsertProfile(ctx, model.LabelPersonProfile, pr.EntityKey, pr.SourceWatermark, map[string]any{
				"name":          pr.Name,
				"role":          pr.Role,
				"relationship":  pr.Relationship,
				"topics":        nonNil(pr.Topics),
				"summary":       pr.Summary,
				"last_context":  pr.LastContext,
				"mention_count": pr.MentionCount,
				"updated_at":    pr.UpdatedAt.UTC().Format(time.RFC3339Nano),
			})
		})

	case model.ProjectProfileUpdate:
		p.add("project profile "+m.Profile.EntityKey, func(ctx context.Context) error {
			pr := m.Profile
			return p.upsertProfile(ctx, model.LabelProjectProfile, pr.EntityKey, pr.SourceWatermark, map[string]any{
				"name":         pr.Name,
				"status":       pr.Status,
				"people":       nonNil(pr.People),
				"deadlines":    nonNil(pr.Deadlines),
				"summary":      pr.Summary,
				"last_context": pr.LastContext,
				"updated_at":   pr.UpdatedAt.UTC().Format(time.RFC3339Nano),
			})
		})
	}
}

// updateEntity is a read-modify-write on an existing Entity under its key lock.
// A missing entity is skipped.
func (p *plan) updateEntity(ctx context.Context, key string, change func(graph.Node) map[string]any) error {
	unlock := p.s.Locks.Lock(key)
	defer unlock()

	n, err := p.s.Graph.GetNode(ctx, entityRef(key))
	if errors.Is(err, graph.ErrNotFound) {
		p.s.Logger.Debug("mutation target missing, skipping", zap.String("key", key))
		return nil
	}
	if err != nil {
		return err
	}
	return p.s.Graph.UpsertNode(ctx, model.LabelEntity, key, change(n))
}

func (p *plan) upsertActionItem(ctx context.Context, item model.ActionItem) error {
	item.EntityKey = p.key(item.EntityKey)
	item.Urgency = model.ClampUrgency(item.Urgency)
	if item.Status == "" {
		item.Status = "pending"
	}
	fields := map[string]any{
		"description": item.Description,
		"urgency":     item.Urgency,
		"due_context": item.DueContext,
		"thought_id":  item.ThoughtID,
		"status":      item.Status,
		"created_at":  p.stamp(),
	}
	if item.EntityKey != "" {
		fields["entity_key"] = item.EntityKey
	}
	if err := p.s.Graph.UpsertNode(ctx, model.LabelActionItem, item.ID, fields); err != nil {
		return err
	}
	itemRef := graph.NodeRef{Label: model.LabelActionItem, Key: item.ID}
	if err := p.s.Graph.UpsertEdge(ctx, model.EdgeImplies, thoughtRef(item.ThoughtID), itemRef, nil); err != nil {
		return err
	}
	if item.EntityKey != "" {
		if err := p.optionalEdge(ctx, model.EdgeConcerns, itemRef, entityRef(item.EntityKey), nil); err != nil {
			return err
		}
	}
	p.saved.ActionItems = append(p.saved.ActionItems, item)
	return nil
}

// upsertProfile overwrites the profile unless the stored one was built from
// newer mentions than watermark.
func (p *plan) upsertProfile(ctx context.Context, label, key string, watermark time.Time, fields map[string]any) error {
	unlock := p.s.Locks.Lock(key)
	defer unlock()

	ref := graph.NodeRef{Label: label, Key: key}
	existing, err := p.s.Graph.GetNode(ctx, ref)
	switch {
	case errors.Is(err, graph.ErrNotFound):
	case err != nil:
		return err
	case existing.Time("source_watermark").After(watermark):
		p.s.Logger.Debug("stale profile, skipping", zap.String("key", key),
			zap.Time("stored", existing.Time("source_watermark")), zap.Time("incoming", watermark))
		return nil
	}

	fields["source_watermark"] = watermark.UTC().Format(time.RFC3339Nano)
	if err := p.s.Graph.UpsertNode(ctx, label, key, fields); err != nil {
		return err
	}
	return p.optionalEdge(ctx, model.EdgeHasProfile, entityRef(key), graph.NodeRef{Label: label, Key: key}, nil)
}

// optionalEdge drops an edge whose endpoint does not exist.
func (p *plan) optionalEdge(ctx context.Context, edgeType string, from, to graph.NodeRef, fields map[string]any) error {
	err := p.s.Graph.UpsertEdge(ctx, edgeType, from, to, fields)
	if errors.Is(err, graph.ErrMissingEndpoint) {
		p.s.Logger.Debug("edge endpoint missing, skipping", zap.String("type", edgeType), zap.Stringer("from", from), zap.Stringer("to", to))
		return nil
	}
	return err
}

func thoughtRef(id string) graph.NodeRef {
	return graph.NodeRef{Label: model.LabelThought, Key: id}
}

func entityRef(key string) graph.NodeRef {
	return graph.NodeRef{Label: model.LabelEntity, Key: key}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
