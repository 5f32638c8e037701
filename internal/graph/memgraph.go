package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/umeshshetty/peoples-agent/internal/driver"
)

// MemgraphStore implements Store with Cypher over a bolt driver.
type MemgraphStore struct {
	Driver driver.GraphDriver
}

func NewMemgraphStore(d driver.GraphDriver) *MemgraphStore {
	return &MemgraphStore{Driver: d}
}

func (s *MemgraphStore) UpsertNode(ctx context.Context, label, key string, fields map[string]any) error {
	if err := validLabel(label); err != nil {
		return err
	}
	if err := validFields(fields); err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	_, err := s.Driver.ExecuteQuery(ctx, fmt.Sprintf(driver.UpsertNodeQuery, label), map[string]interface{}{
		"key":    key,
		"fields": fields,
	})
	if err != nil {
		return fmt.Errorf("upsert %s(%s): %w", label, key, err)
	}
	return nil
}

func (s *MemgraphStore) UpsertEdge(ctx context.Context, edgeType string, from, to NodeRef, fields map[string]any) error {
	for _, l := range []string{edgeType, from.Label, to.Label} {
		if err := validLabel(l); err != nil {
			return err
		}
	}
	if err := validFields(fields); err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	query := fmt.Sprintf(driver.UpsertEdgeQuery, from.Label, to.Label, edgeType)
	res, err := s.Driver.ExecuteQuery(ctx, query, map[string]interface{}{
		"from":   from.Key,
		"to":     to.Key,
		"fields": fields,
	})
	if err != nil {
		return fmt.Errorf("upsert %s %s->%s: %w", edgeType, from, to, err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("%w: %s -[%s]-> %s", ErrMissingEndpoint, from, edgeType, to)
	}
	return nil
}

func (s *MemgraphStore) GetNode(ctx context.Context, ref NodeRef) (Node, error) {
	if err := validLabel(ref.Label); err != nil {
		return Node{}, err
	}
	res, err := s.Driver.ExecuteQuery(ctx, fmt.Sprintf(driver.GetNodeQuery, ref.Label), map[string]interface{}{
		"key": ref.Key,
	})
	if err != nil {
		return Node{}, fmt.Errorf("get %s: %w", ref, err)
	}
	if len(res.Records) == 0 {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	raw, _ := res.Records[0].Get("n")
	n, ok := raw.(neo4j.Node)
	if !ok {
		return Node{}, fmt.Errorf("get %s: unexpected record type %T", ref, raw)
	}
	return fromNeo4jNode(n), nil
}

func (s *MemgraphStore) Query(ctx context.Context, p Pattern) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	query, params := BuildCypher(p)
	res, err := s.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return Result{}, fmt.Errorf("query from %s: %w", p.Start, err)
	}

	var out Result
	for _, rec := range res.Records {
		raw, _ := rec.Get("n")
		n, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}
		node := fromNeo4jNode(n)
		out.Nodes = append(out.Nodes, node)

		if p.MaxHops != 1 {
			continue
		}
		rawStart, _ := rec.Get("s")
		rawRel, _ := rec.Get("r")
		start, okS := rawStart.(neo4j.Node)
		rel, okR := rawRel.(neo4j.Relationship)
		if !okS || !okR {
			continue
		}
		startNode := fromNeo4jNode(start)
		e := Edge{Type: rel.Type, Fields: rel.Props}
		if rel.StartElementId == start.ElementId {
			e.From, e.To = startNode.Ref(), node.Ref()
		} else {
			e.From, e.To = node.Ref(), startNode.Ref()
		}
		out.Edges = append(out.Edges, e)
	}
	return out, nil
}

func (s *MemgraphStore) Distance(ctx context.Context, a, b NodeRef, maxHops int, edgeTypes ...string) (int, error) {
	if err := validLabel(a.Label); err != nil {
		return -1, err
	}
	if err := validLabel(b.Label); err != nil {
		return -1, err
	}
	for _, t := range edgeTypes {
		if !identRe.MatchString(t) {
			return -1, fmt.Errorf("%w: edge type %q", ErrInvalidPattern, t)
		}
	}
	if a == b {
		return 0, nil
	}
	if maxHops < 1 {
		return -1, nil
	}
	rels := ""
	if len(edgeTypes) > 0 {
		rels = ":" + strings.Join(edgeTypes, "|") + " "
	}
	query := fmt.Sprintf(driver.DistanceQuery, a.Label, rels, maxHops, b.Label)
	res, err := s.Driver.ExecuteQuery(ctx, query, map[string]interface{}{"from": a.Key, "to": b.Key})
	if err != nil {
		return -1, fmt.Errorf("distance %s..%s: %w", a, b, err)
	}
	if len(res.Records) == 0 {
		return -1, nil
	}
	raw, _ := res.Records[0].Get("hops")
	hops, ok := raw.(int64)
	if !ok {
		return -1, fmt.Errorf("distance %s..%s: unexpected hops type %T", a, b, raw)
	}
	return int(hops), nil
}

func (s *MemgraphStore) Count(ctx context.Context, label string) (int, error) {
	if err := validLabel(label); err != nil {
		return 0, err
	}
	res, err := s.Driver.ExecuteQuery(ctx, fmt.Sprintf(driver.CountQuery, label), nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", label, err)
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	raw, _ := res.Records[0].Get("c")
	c, ok := raw.(int64)
	if !ok {
		return 0, fmt.Errorf("count %s: unexpected type %T", label, raw)
	}
	return int(c), nil
}

// BuildCypher compiles a validated pattern into a query and its parameters.
func BuildCypher(p Pattern) (string, map[string]interface{}) {
	params := map[string]interface{}{}
	var b strings.Builder

	startProps := ""
	if p.Start.Key != "" {
		startProps = " {key: $start_key}"
		params["start_key"] = p.Start.Key
	}

	if p.MaxHops == 0 {
		fmt.Fprintf(&b, "MATCH (n:%s%s)", p.Start.Label, startProps)
	} else {
		rel := "r"
		if len(p.EdgeTypes) > 0 {
			rel += ":" + strings.Join(p.EdgeTypes, "|")
		}
		if p.MaxHops > 1 {
			rel += fmt.Sprintf("*1..%d", p.MaxHops)
		}
		left, right := "-", "->"
		switch p.Direction {
		case In:
			left, right = "<-", "-"
		case Both:
			left, right = "-", "-"
		}
		target := "n"
		if p.TargetLabel != "" {
			target += ":" + p.TargetLabel
		}
		fmt.Fprintf(&b, "MATCH (s:%s%s)%s[%s]%s(%s)", p.Start.Label, startProps, left, rel, right, target)
	}

	var conds []string
	if p.MaxHops > 0 {
		conds = append(conds, "n <> s")
	}
	fields := make([]string, 0, len(p.Where))
	for f := range p.Where {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		param := "w_" + f
		op := "="
		if _, ok := p.Where[f].([]string); ok {
			op = "IN"
		}
		conds = append(conds, fmt.Sprintf("n.%s %s $%s", f, op, param))
		params[param] = p.Where[f]
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	switch {
	case p.MaxHops == 1:
		b.WriteString(" RETURN s, r, n")
	case p.MaxHops > 1:
		b.WriteString(" RETURN DISTINCT n")
	default:
		b.WriteString(" RETURN n")
	}
	if p.OrderBy != "" {
		fmt.Fprintf(&b, " ORDER BY n.%s", p.OrderBy)
		if p.Desc {
			b.WriteString(" DESC")
		}
	} else {
		b.WriteString(" ORDER BY n.key")
	}
	if p.Limit > 0 {
		b.WriteString(" LIMIT $limit")
		params["limit"] = p.Limit
	}
	return b.String(), params
}

func fromNeo4jNode(n neo4j.Node) Node {
	out := Node{Fields: make(map[string]any, len(n.Props))}
	if len(n.Labels) > 0 {
		out.Label = n.Labels[0]
	}
	for k, v := range n.Props {
		if k == "key" {
			out.Key, _ = v.(string)
			continue
		}
		out.Fields[k] = v
	}
	return out
}
