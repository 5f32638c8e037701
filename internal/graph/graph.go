// Package graph defines the typed property-graph capability the pipeline writes to,
// with an in-memory implementation and a Memgraph implementation.
package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrNotFound        = errors.New("graph: node not found")
	ErrMissingEndpoint = errors.New("graph: edge endpoint does not exist")
	ErrInvalidPattern  = errors.New("graph: invalid pattern")
)

type NodeRef struct {
	Label string
	Key   string
}

func (r NodeRef) String() string {
	return r.Label + "(" + r.Key + ")"
}

type Node struct {
	Label  string
	Key    string
	Fields map[string]any
}

func (n Node) Ref() NodeRef {
	return NodeRef{Label: n.Label, Key: n.Key}
}

type Edge struct {
	Type   string
	From   NodeRef
	To     NodeRef
	Fields map[string]any
}

type Direction int

const (
	Out Direction = iota
	In
	Both
)

// Pattern describes a traversal. With MaxHops == 0 it matches the start nodes
// themselves; otherwise it returns the distinct nodes reached in 1..MaxHops steps.
type Pattern struct {
	Start       NodeRef // Label required; empty Key scans every node with the label
	EdgeTypes   []string
	Direction   Direction
	MaxHops     int
	TargetLabel string
	Where       map[string]any // equality on fields of matched nodes; "key" matches Node.Key; a []string value matches any element
	OrderBy     string
	Desc        bool
	Limit       int
}

// Result holds matched nodes. Edges are populated for single-hop patterns.
type Result struct {
	Nodes []Node
	Edges []Edge
}

// Store is the graph capability. Upserts merge fields into existing nodes and edges.
type Store interface {
	UpsertNode(ctx context.Context, label, key string, fields map[string]any) error
	UpsertEdge(ctx context.Context, edgeType string, from, to NodeRef, fields map[string]any) error
	GetNode(ctx context.Context, ref NodeRef) (Node, error)
	Query(ctx context.Context, p Pattern) (Result, error)
	// Distance returns the undirected hop count between a and b, or -1 if they
	// are not connected within maxHops. With edgeTypes set, only edges of
	// those types are walked.
	Distance(ctx context.Context, a, b NodeRef, maxHops int, edgeTypes ...string) (int, error)
	Count(ctx context.Context, label string) (int, error)
}

var (
	identRe = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)
	fieldRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Validate rejects patterns whose identifiers could not be safely interpolated into a query.
func (p Pattern) Validate() error {
	if !identRe.MatchString(p.Start.Label) {
		return fmt.Errorf("%w: start label %q", ErrInvalidPattern, p.Start.Label)
	}
	if p.TargetLabel != "" && !identRe.MatchString(p.TargetLabel) {
		return fmt.Errorf("%w: target label %q", ErrInvalidPattern, p.TargetLabel)
	}
	for _, t := range p.EdgeTypes {
		if !identRe.MatchString(t) {
			return fmt.Errorf("%w: edge type %q", ErrInvalidPattern, t)
		}
	}
	for f := range p.Where {
		if !fieldRe.MatchString(f) {
			return fmt.Errorf("%w: field %q", ErrInvalidPattern, f)
		}
	}
	if p.OrderBy != "" && !fieldRe.MatchString(p.OrderBy) {
		return fmt.Errorf("%w: order field %q", ErrInvalidPattern, p.OrderBy)
	}
	if p.MaxHops < 0 || p.Limit < 0 {
		return fmt.Errorf("%w: negative hops or limit", ErrInvalidPattern)
	}
	return nil
}

func validLabel(label string) error {
	if !identRe.MatchString(label) {
		return fmt.Errorf("%w: label %q", ErrInvalidPattern, label)
	}
	return nil
}

func validFields(fields map[string]any) error {
	for f := range fields {
		if !fieldRe.MatchString(f) {
			return fmt.Errorf("%w: field %q", ErrInvalidPattern, f)
		}
	}
	return nil
}

// String returns a string field or "".
func (n Node) String(field string) string {
	if v, ok := n.Fields[field].(string); ok {
		return v
	}
	return ""
}

// Float returns a numeric field as float64.
func (n Node) Float(field string) float64 {
	switch v := n.Fields[field].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns a numeric field as int.
func (n Node) Int(field string) int {
	return int(n.Float(field))
}

// Bool returns a boolean field.
func (n Node) Bool(field string) bool {
	v, _ := n.Fields[field].(bool)
	return v
}

// Strings returns a list field. Bolt drivers decode lists as []any.
func (n Node) Strings(field string) []string {
	switch v := n.Fields[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Time parses an RFC3339 field.
func (n Node) Time(field string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, n.String(field))
	return t
}
