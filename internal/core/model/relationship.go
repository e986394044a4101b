package model

import "time"

// Provenance values for Relationship.Source.
const (
	SourceContentInference   = "content_inference"
	SourceMigrationInference = "migration_inference"
	SourceManual             = "manual"
	SourceMerge              = "merge"
)

// DefaultRelationshipConfidence applies when a RelationshipConfig carries no confidence.
const DefaultRelationshipConfidence = 0.5

type Temporal struct {
	ValidFrom *time.Time `json:"validFrom,omitempty"`
	ValidTo   *time.Time `json:"validTo,omitempty"`
	Ongoing   bool       `json:"ongoing,omitempty"`
}

// NodeSummary is the snapshot of an endpoint stored with inferred relationships.
type NodeSummary struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Categories  map[string]int `json:"categories,omitempty"`
	EntityCount int            `json:"entityCount,omitempty"`
}

type RelationshipMetadata struct {
	Rule          string         `json:"rule,omitempty"`
	SourceSummary *NodeSummary   `json:"sourceSummary,omitempty"`
	TargetSummary *NodeSummary   `json:"targetSummary,omitempty"`
	Notes         map[string]any `json:"notes,omitempty"`
}

// Relationship is a directed, typed edge owned by its source node.
type Relationship struct {
	Type       string               `json:"type"`
	Target     string               `json:"target"`
	Confidence float64              `json:"confidence"`
	Source     string               `json:"source"`
	Temporal   *Temporal            `json:"temporal,omitempty"`
	Metadata   RelationshipMetadata `json:"metadata"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// HasField reports whether the named field carries a value. Field names match the JSON keys.
func (r Relationship) HasField(name string) bool {
	switch name {
	case "type":
		return r.Type != ""
	case "target":
		return r.Target != ""
	case "source":
		return r.Source != ""
	case "confidence":
		return true
	case "temporal":
		return r.Temporal != nil && (r.Temporal.ValidFrom != nil || r.Temporal.ValidTo != nil || r.Temporal.Ongoing)
	case "metadata.rule":
		return r.Metadata.Rule != ""
	case "createdAt":
		return !r.CreatedAt.IsZero()
	default:
		_, ok := r.Metadata.Notes[name]
		return ok
	}
}

// RelationshipConfig is the input to schema.AddRelationship.
type RelationshipConfig struct {
	Type       string               `json:"type"`
	Target     string               `json:"target"`
	Confidence *float64             `json:"confidence,omitempty"`
	Source     string               `json:"source,omitempty"`
	Temporal   *Temporal            `json:"temporal,omitempty"`
	Metadata   RelationshipMetadata `json:"metadata,omitempty"`
}

// Confidence returns a pointer for RelationshipConfig.Confidence.
func Confidence(v float64) *float64 {
	return &v
}

// Linkage holds the relationship bookkeeping shared by entities and entity sets.
type Linkage struct {
	Relationships       []Relationship `json:"relationships"`
	RelationshipCount   int            `json:"relationshipCount"`
	RelationshipSources []string       `json:"relationshipSources,omitempty"`
}

// Linked is anything that owns relationships.
type Linked interface {
	NodeID() string
	Links() *Linkage
}

func (l Linkage) clone() Linkage {
	out := Linkage{RelationshipCount: l.RelationshipCount}
	if l.Relationships != nil {
		out.Relationships = make([]Relationship, len(l.Relationships))
		copy(out.Relationships, l.Relationships)
	}
	if l.RelationshipSources != nil {
		out.RelationshipSources = append([]string(nil), l.RelationshipSources...)
	}
	return out
}
