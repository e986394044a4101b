package community

import (
	"sort"
)

// LabelPropagationDetector implements community detection using the label propagation algorithm.
type LabelPropagationDetector struct {
	MaxIterations int
}

func NewLabelPropagationDetector() *LabelPropagationDetector {
	return &LabelPropagationDetector{
		MaxIterations: 20,
	}
}

func (d *LabelPropagationDetector) Detect(nodes []Node, edges []Edge) ([]Cluster, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	// node -> neighbor -> weight
	adj := make(map[string]map[string]int, len(nodes))
	for _, n := range nodes {
		adj[n.ID] = make(map[string]int)
	}
	for _, e := range edges {
		if _, ok := adj[e.Source]; !ok {
			continue
		}
		if _, ok := adj[e.Target]; !ok {
			continue
		}
		adj[e.Source][e.Target]++
		adj[e.Target][e.Source]++
	}

	labels := make(map[string]string, len(nodes))
	order := make([]string, 0, len(nodes))
	for _, n := range nodes {
		labels[n.ID] = n.ID
		order = append(order, n.ID)
	}
	// Fixed visiting order keeps the result reproducible.
	sort.Strings(order)

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
				l := labels[v]
				counts[l] += weight
				if counts[l] > best {
					best = counts[l]
				}
			}

			var candidates []string
			for l, c := range counts {
				if c == best {
					candidates = append(candidates, l)
				}
			}
			// Ties go to the lexicographically largest label.
			sort.Strings(candidates)
			label := candidates[len(candidates)-1]

			if labels[u] != label {
				labels[u] = label
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}

	return group(nodes, edges, labels), nil
}

// ComponentDetector reports connected components. It is the fallback when label propagation
// splits groups the caller wants kept together.
type ComponentDetector struct{}

func (ComponentDetector) Detect(nodes []Node, edges []Edge) ([]Cluster, error) {
	parent := make(map[string]string, len(nodes))
	for _, n := range nodes {
		parent[n.ID] = n.ID
	}
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, e := range edges {
		if _, ok := parent[e.Source]; !ok {
			continue
		}
		if _, ok := parent[e.Target]; !ok {
			continue
		}
		a, b := find(e.Source), find(e.Target)
		if a != b {
			if a < b {
				a, b = b, a
			}
			parent[b] = a
		}
	}

	labels := make(map[string]string, len(nodes))
	for _, n := range nodes {
		labels[n.ID] = find(n.ID)
	}
	return group(nodes, edges, labels), nil
}
