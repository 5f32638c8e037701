package graph

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type edgeKey struct {
	Type string
	From NodeRef
	To   NodeRef
}

// MemoryStore is a process-local Store used for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[NodeRef]*Node
	edges map[edgeKey]*Edge
	out   map[NodeRef][]edgeKey
	in    map[NodeRef][]edgeKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[NodeRef]*Node),
		edges: make(map[edgeKey]*Edge),
		out:   make(map[NodeRef][]edgeKey),
		in:    make(map[NodeRef][]edgeKey),
	}
}

func (s *MemoryStore) UpsertNode(ctx context.Context, label, key string, fields map[string]any) error {
	if err := validLabel(label); err != nil {
		return err
	}
	if err := validFields(fields); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("graph: empty key for %s", label)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := NodeRef{Label: label, Key: key}
	n, ok := s.nodes[ref]
	if !ok {
		n = &Node{Label: label, Key: key, Fields: make(map[string]any)}
		s.nodes[ref] = n
	}
	for k, v := range fields {
		n.Fields[k] = v
	}
	return nil
}

func (s *MemoryStore) UpsertEdge(ctx context.Context, edgeType string, from, to NodeRef, fields map[string]any) error {
	if err := validLabel(edgeType); err != nil {
		return err
	}
	if err := validFields(fields); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[from]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingEndpoint, from)
	}
	if _, ok := s.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingEndpoint, to)
	}

	k := edgeKey{Type: edgeType, From: from, To: to}
	e, ok := s.edges[k]
	if !ok {
		e = &Edge{Type: edgeType, From: from, To: to, Fields: make(map[string]any)}
		s.edges[k] = e
		s.out[from] = append(s.out[from], k)
		s.in[to] = append(s.in[to], k)
	}
	for f, v := range fields {
		e.Fields[f] = v
	}
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, ref NodeRef) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[ref]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return copyNode(n), nil
}

func (s *MemoryStore) Query(ctx context.Context, p Pattern) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	starts := s.startNodes(p.Start)
	var res Result

	if p.MaxHops == 0 {
		for _, n := range starts {
			if matchWhere(n, p.Where) {
				res.Nodes = append(res.Nodes, copyNode(n))
			}
		}
		sortNodes(res.Nodes, p.OrderBy, p.Desc)
		res.Nodes = limitNodes(res.Nodes, p.Limit)
		return res, nil
	}

	startSet := make(map[NodeRef]bool, len(starts))
	for _, n := range starts {
		startSet[n.Ref()] = true
	}

	seen := make(map[NodeRef]bool)
	for _, start := range starts {
		frontier := []NodeRef{start.Ref()}
		visited := map[NodeRef]bool{start.Ref(): true}
		for depth := 1; depth <= p.MaxHops && len(frontier) > 0; depth++ {
			var next []NodeRef
			for _, ref := range frontier {
				for _, e := range s.adjacent(ref, p.Direction, p.EdgeTypes) {
					other := e.To
					if other == ref {
						other = e.From
					}
					if visited[other] {
						continue
					}
					visited[other] = true
					next = append(next, other)

					n := s.nodes[other]
					if startSet[other] || seen[other] {
						continue
					}
					if p.TargetLabel != "" && n.Label != p.TargetLabel {
						continue
					}
					if !matchWhere(n, p.Where) {
						continue
					}
					seen[other] = true
					res.Nodes = append(res.Nodes, copyNode(n))
					if p.MaxHops == 1 {
						res.Edges = append(res.Edges, copyEdge(e))
					}
				}
			}
			frontier = next
		}
	}

	sortNodes(res.Nodes, p.OrderBy, p.Desc)
	res.Nodes = limitNodes(res.Nodes, p.Limit)
	return res, nil
}

func (s *MemoryStore) Distance(ctx context.Context, a, b NodeRef, maxHops int, edgeTypes ...string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[a]; !ok {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, a)
	}
	if _, ok := s.nodes[b]; !ok {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, b)
	}
	if a == b {
		return 0, nil
	}

	frontier := []NodeRef{a}
	visited := map[NodeRef]bool{a: true}
	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		var next []NodeRef
		for _, ref := range frontier {
			for _, e := range s.adjacent(ref, Both, edgeTypes) {
				other := e.To
				if other == ref {
					other = e.From
				}
				if other == b {
					return depth, nil
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return -1, nil
}

// Counts reports node and edge totals, for tests and diagnostics.
func (s *MemoryStore) Count(ctx context.Context, label string) (int, error) {
	if err := validLabel(label); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for ref := range s.nodes {
		if ref.Label == label {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Counts() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

// Nodes returns every node with the given label sorted by key.
func (s *MemoryStore) Nodes(label string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	for ref, n := range s.nodes {
		if ref.Label == label {
			out = append(out, copyNode(n))
		}
	}
	sortNodes(out, "", false)
	return out
}

// Edges returns every edge of the given type.
func (s *MemoryStore) Edges(edgeType string) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for k, e := range s.edges {
		if k.Type == edgeType {
			out = append(out, copyEdge(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From.Key != out[j].From.Key {
			return out[i].From.Key < out[j].From.Key
		}
		return out[i].To.Key < out[j].To.Key
	})
	return out
}

func (s *MemoryStore) startNodes(start NodeRef) []*Node {
	if start.Key != "" {
		if n, ok := s.nodes[start]; ok {
			return []*Node{n}
		}
		return nil
	}
	var out []*Node
	for ref, n := range s.nodes {
		if ref.Label == start.Label {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *MemoryStore) adjacent(ref NodeRef, dir Direction, types []string) []*Edge {
	var keys []edgeKey
	if dir == Out || dir == Both {
		keys = append(keys, s.out[ref]...)
	}
	if dir == In || dir == Both {
		keys = append(keys, s.in[ref]...)
	}
	out := make([]*Edge, 0, len(keys))
	for _, k := range keys {
		if len(types) > 0 && !contains(types, k.Type) {
			continue
		}
		out = append(out, s.edges[k])
	}
	return out
}

func matchWhere(n *Node, where map[string]any) bool {
	for f, want := range where {
		got, ok := n.Fields[f]
		if f == "key" {
			got, ok = n.Key, true
		}
		if !ok {
			return false
		}
		if set, ok := want.([]string); ok {
			if !slices.Contains(set, fmt.Sprint(got)) {
				return false
			}
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func sortNodes(nodes []Node, field string, desc bool) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if field != "" {
			if c := compareValues(a.Fields[field], b.Fields[field]); c != 0 {
				if desc {
					return c > 0
				}
				return c < 0
			}
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.Key < b.Key
	})
}

func compareValues(a, b any) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func limitNodes(nodes []Node, limit int) []Node {
	if limit > 0 && len(nodes) > limit {
		return nodes[:limit]
	}
	return nodes
}

func copyNode(n *Node) Node {
	c := Node{Label: n.Label, Key: n.Key, Fields: make(map[string]any, len(n.Fields))}
	for k, v := range n.Fields {
		c.Fields[k] = copyValue(v)
	}
	return c
}

func copyEdge(e *Edge) Edge {
	c := Edge{Type: e.Type, From: e.From, To: e.To, Fields: make(map[string]any, len(e.Fields))}
	for k, v := range e.Fields {
		c.Fields[k] = copyValue(v)
	}
	return c
}

func copyValue(v any) any {
	if s, ok := v.([]string); ok {
		return append([]string(nil), s...)
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
