package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
	"github.com/umeshshetty/peoples-agent/internal/llm"
)

type proposedTask struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Urgency     float64 `json:"urgency"`
}

type decomposition struct {
	IsComplex  bool           `json:"is_complex"`
	ParentTask proposedTask   `json:"parent_task"`
	Subtasks   []proposedTask `json:"subtasks"`
}

type Decomposer struct {
	LLM    llm.LLMClient
	Graph  graph.Store
	Forest *Forest
	Prompt string
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

func NewDecomposer(client llm.LLMClient, g graph.Store, forest *Forest, prompt string, logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{
		LLM:    client,
		Graph:  g,
		Forest: forest,
		Prompt: prompt,
		Logger: logger.Named("decomposer"),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// Decompose turns text into a parent task with subtasks. Tasks with the same
// normalized title are reused. A subtask the forest rejects stays a root and is
// listed in TaskTree.Rejected.
func (d *Decomposer) Decompose(ctx context.Context, thoughtID, text string) (model.TaskTree, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.TaskTree{}, errs.New(errs.KindPermanent, "tasks.decompose", "empty task")
	}

	plan, err := llm.GenerateJSON[decomposition](ctx, d.LLM, fmt.Sprintf(d.Prompt, text))
	if err != nil {
		return model.TaskTree{}, fmt.Errorf("failed to decompose task: %w", err)
	}
	if strings.TrimSpace(plan.ParentTask.Title) == "" {
		plan.ParentTask.Title = common.Truncate(text, 80)
	}

	parent, err := d.findOrCreate(ctx, plan.ParentTask, thoughtID)
	if err != nil {
		return model.TaskTree{}, err
	}
	if thoughtID != "" {
		err := d.Graph.UpsertEdge(ctx, model.EdgeHasTask, graph.NodeRef{Label: model.LabelThought, Key: thoughtID}, taskRef(parent.ID), nil)
		if err != nil && !errors.Is(err, graph.ErrMissingEndpoint) {
			return model.TaskTree{}, errs.Wrap(errs.KindTransient, "tasks.decompose", err)
		}
	}

	tree := model.TaskTree{Task: parent}
	if !plan.IsComplex {
		return tree, nil
	}

	seen := map[string]bool{common.NormalizeName(parent.Title): true}
	for _, sub := range plan.Subtasks {
		norm := common.NormalizeName(sub.Title)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true

		child, err := d.findOrCreate(ctx, sub, thoughtID)
		if err != nil {
			return model.TaskTree{}, err
		}
		if err := d.Forest.Link(ctx, child.ID, parent.ID); err != nil {
			if errs.KindOf(err) != errs.KindConsistency {
				return model.TaskTree{}, err
			}
			d.Logger.Info("subtask link rejected", zap.String("task", child.Title), zap.Error(err))
			tree.Rejected = append(tree.Rejected, child.Title)
			continue
		}
		tree.Children = append(tree.Children, model.TaskTree{Task: child})
	}
	return tree, nil
}

func (d *Decomposer) findOrCreate(ctx context.Context, p proposedTask, thoughtID string) (model.Task, error) {
	title := strings.TrimSpace(p.Title)
	norm := common.NormalizeName(title)
	// Lookup and create must not interleave for the same title.
	unlock := d.Forest.Locks.Lock("task:" + norm)
	defer unlock()

	res, err := d.Graph.Query(ctx, graph.Pattern{
		Start: graph.NodeRef{Label: model.LabelTask},
		Where: map[string]any{"norm_title": norm},
		Limit: 1,
	})
	if err != nil {
		return model.Task{}, errs.Wrap(errs.KindTransient, "tasks.lookup", err)
	}
	if len(res.Nodes) > 0 {
		return taskFromNode(res.Nodes[0]), nil
	}

	t := model.Task{
		ID:          d.NewID(),
		Title:       title,
		Description: strings.TrimSpace(p.Description),
		Urgency:     model.ClampUrgency(p.Urgency),
		ThoughtID:   thoughtID,
		Status:      "pending",
		CreatedAt:   d.Now().UTC(),
	}
	err = d.Graph.UpsertNode(ctx, model.LabelTask, t.ID, map[string]any{
		"title":       t.Title,
		"norm_title":  norm,
		"description": t.Description,
		"urgency":     t.Urgency,
		"thought_id":  t.ThoughtID,
		"status":      t.Status,
		"created_at":  t.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return model.Task{}, errs.Wrap(errs.KindTransient, "tasks.create", err)
	}
	return t, nil
}

func taskFromNode(n graph.Node) model.Task {
	return model.Task{
		ID:          n.Key,
		Title:       n.String("title"),
		Description: n.String("description"),
		Urgency:     n.Float("urgency"),
		ThoughtID:   n.String("thought_id"),
		Status:      n.String("status"),
		CreatedAt:   n.Time("created_at"),
	}
}
