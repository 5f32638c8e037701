// Package community groups graph nodes into clusters. Serendipity uses it to
// tell whether two thoughts already live in the same neighbourhood.
package community

import "sort"

// Link is an undirected connection; repeated links add weight.
type Link struct {
	A, B string
}

type Detector interface {
	// Assign maps every node to a cluster label. Unlinked nodes keep their own id.
	Assign(nodes []string, links []Link) map[string]string
}

// NewDetector returns connected components for "components" and label propagation otherwise.
func NewDetector(algorithm string) Detector {
	if algorithm == "components" {
		return Components{}
	}
	return NewLabelPropagation()
}

// Components labels each connected component with its smallest node id.
type Components struct{}

func (Components) Assign(nodes []string, links []Link) map[string]string {
	adj := adjacency(nodes, links)
	labels := make(map[string]string, len(nodes))
	for _, n := range sorted(nodes) {
		if _, seen := labels[n]; seen {
			continue
		}
		stack := []string{n}
		labels[n] = n
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for v := range adj[u] {
				if _, seen := labels[v]; !seen {
					labels[v] = n
					stack = append(stack, v)
				}
			}
		}
	}
	return labels
}

// Clusters groups labelled nodes, keeping clusters of at least minSize. Each
// cluster is sorted and clusters are ordered by their first member.
func Clusters(labels map[string]string, minSize int) [][]string {
	groups := make(map[string][]string)
	for n, l := range labels {
		groups[l] = append(groups[l], n)
	}
	var out [][]string
	for _, g := range groups {
		if len(g) >= minSize {
			sort.Strings(g)
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// adjacency builds weighted undirected neighbour sets, ignoring links to unknown
// nodes and self loops.
func adjacency(nodes []string, links []Link) map[string]map[string]int {
	adj := make(map[string]map[string]int, len(nodes))
	for _, n := range nodes {
		adj[n] = make(map[string]int)
	}
	for _, l := range links {
		if l.A == l.B {
			continue
		}
		if _, ok := adj[l.A]; !ok {
			continue
		}
		if _, ok := adj[l.B]; !ok {
			continue
		}
		adj[l.A][l.B]++
		adj[l.B][l.A]++
	}
	return adj
}

func sorted(nodes []string) []string {
	out := append([]string(nil), nodes...)
	sort.Strings(out)
	return out
}
