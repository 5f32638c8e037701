// Package tasks decomposes compound tasks into a SUBTASK_OF forest.
package tasks

import (
	"context"
	"fmt"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/graph"
)

const forestLock = "tasks:forest"

// Forest guards SUBTASK_OF edges so every task has at most one parent and no
// task is its own ancestor.
type Forest struct {
	Graph graph.Store
	Locks *common.KeyedMutex
}

func NewForest(g graph.Store, locks *common.KeyedMutex) *Forest {
	return &Forest{Graph: g, Locks: locks}
}

// Link makes child a subtask of parent. Relinking the same pair is a no-op.
func (f *Forest) Link(ctx context.Context, childID, parentID string) error {
	unlock := f.Locks.Lock(forestLock)
	defer unlock()

	if childID == parentID {
		return errs.New(errs.KindConsistency, "tasks.link", "task cannot be its own subtask")
	}
	current, err := f.Parent(ctx, childID)
	if err != nil {
		return err
	}
	if current == parentID {
		return nil
	}
	if current != "" {
		return errs.New(errs.KindConsistency, "tasks.link", fmt.Sprintf("task %s already has parent %s", childID, current))
	}

	seen := map[string]bool{}
	for id := parentID; id != ""; {
		if id == childID {
			return errs.New(errs.KindConsistency, "tasks.link", fmt.Sprintf("linking %s under %s would form a cycle", childID, parentID))
		}
		if seen[id] {
			break
		}
		seen[id] = true
		if id, err = f.Parent(ctx, id); err != nil {
			return err
		}
	}

	if err := f.Graph.UpsertEdge(ctx, model.EdgeSubtaskOf, taskRef(childID), taskRef(parentID), nil); err != nil {
		return errs.Wrap(errs.KindTransient, "tasks.link", err)
	}
	return nil
}

// Parent returns the id of the task's parent, or "" for a root.
func (f *Forest) Parent(ctx context.Context, id string) (string, error) {
	res, err := f.Graph.Query(ctx, graph.Pattern{
		Start:       taskRef(id),
		EdgeTypes:   []string{model.EdgeSubtaskOf},
		Direction:   graph.Out,
		MaxHops:     1,
		TargetLabel: model.LabelTask,
		Limit:       1,
	})
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, "tasks.parent", err)
	}
	if len(res.Nodes) == 0 {
		return "", nil
	}
	return res.Nodes[0].Key, nil
}

func taskRef(id string) graph.NodeRef {
	return graph.NodeRef{Label: model.LabelTask, Key: id}
}
