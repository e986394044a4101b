// Package community groups related entity sets into clusters.
package community

import (
	"fmt"
	"sort"

	"github.com/agenthands/graphkeeper/internal/core/model"
)

type Node struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Edge is undirected for clustering purposes. Parallel edges add up.
type Edge struct {
	Source string
	Target string
	Type   string
}

// Cluster is a group of at least two related nodes. Members are sorted by id and Types counts the
// relationship types seen inside the cluster.
type Cluster struct {
	ID      string         `json:"id"`
	Members []Node         `json:"members"`
	Types   map[string]int `json:"relationshipTypes"`
}

type Detector interface {
	Detect(nodes []Node, edges []Edge) ([]Cluster, error)
}

const (
	DetectorLabelPropagation = "lpa"
	DetectorComponents       = "components"
)

// NewDetector returns the detector registered under name. An empty name selects label
// propagation.
func NewDetector(name string) (Detector, error) {
	switch name {
	case "", DetectorLabelPropagation:
		return NewLabelPropagationDetector(), nil
	case DetectorComponents:
		return ComponentDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown detector %q", name)
	}
}

// GraphFromEntitySets builds the clustering graph of a domain. Every set is a node. Set-level
// relationships become edges; entity-level relationships become edges between the owning sets
// when both endpoints are known.
func GraphFromEntitySets(sets []*model.EntitySet) ([]Node, []Edge) {
	nodes := make([]Node, 0, len(sets))
	owner := make(map[string]string)
	for _, set := range sets {
		nodes = append(nodes, Node{ID: set.ID, Name: set.Summary().Name})
		owner[set.ID] = set.ID
		for _, list := range set.Entities {
			for _, e := range list {
				owner[e.ID] = set.ID
			}
		}
	}

	var edges []Edge
	add := func(from string, rel model.Relationship) {
		to, ok := owner[rel.Target]
		if !ok || to == from {
			return
		}
		edges = append(edges, Edge{Source: from, Target: to, Type: rel.Type})
	}
	for _, set := range sets {
		for _, rel := range set.Relationships {
			add(set.ID, rel)
		}
		for _, cat := range set.Categories() {
			for _, e := range set.Entities[cat] {
				for _, rel := range e.Relationships {
					add(set.ID, rel)
				}
			}
		}
	}
	return nodes, edges
}

// group turns a node->label assignment into clusters of two or more members.
func group(nodes []Node, edges []Edge, labels map[string]string) []Cluster {
	byLabel := make(map[string][]Node)
	for _, n := range nodes {
		l := labels[n.ID]
		byLabel[l] = append(byLabel[l], n)
	}

	var clusters []Cluster
	for _, members := range byLabel {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		clusters = append(clusters, Cluster{ID: members[0].ID, Members: members, Types: map[string]int{}})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].Members) != len(clusters[j].Members) {
			return len(clusters[i].Members) > len(clusters[j].Members)
		}
		return clusters[i].ID < clusters[j].ID
	})

	index := make(map[string]int)
	for i, c := range clusters {
		for _, m := range c.Members {
			index[m.ID] = i
		}
	}
	for _, e := range edges {
		i, ok := index[e.Source]
		if !ok || e.Type == "" {
			continue
		}
		if j, ok := index[e.Target]; ok && i == j {
			clusters[i].Types[e.Type]++
		}
	}
	return clusters
}
