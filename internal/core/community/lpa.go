package community

import "sort"

// LabelPropagation is asynchronous label propagation. Ties go to the
// lexicographically largest label so runs are reproducible.
type LabelPropagation struct {
	MaxIterations int
}

func NewLabelPropagation() *LabelPropagation {
	return &LabelPropagation{MaxIterations: 20}
}

func (d *LabelPropagation) Assign(nodes []string, links []Link) map[string]string {
	adj := adjacency(nodes, links)
	order := sorted(nodes)

	labels := make(map[string]string, len(nodes))
	for _, n := range order {
		labels[n] = n
	}

	for iter := 0; iter < d.MaxIterations; iter++ {
		changed := 0
		for _, u := range order {
			neighbors := adj[u]
			if len(neighbors) == 0 {
				continue
			}

			counts := make(map[string]int)
			best := 0
			for v, weight := range neighbors {
				counts[labels[v]] += weight
				if counts[labels[v]] > best {
					best = counts[labels[v]]
				}
			}

			var candidates []string
			for label, c := range counts {
				if c == best {
					candidates = append(candidates, label)
				}
			}
			sort.Strings(candidates)
			if next := candidates[len(candidates)-1]; labels[u] != next {
				labels[u] = next
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}
	return labels
}
