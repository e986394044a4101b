package schema

import (
	"fmt"
	"time"

	"github.com/agenthands/graphkeeper/internal/core/model"
	"github.com/agenthands/graphkeeper/internal/core/registry"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

// Schema applies relationship changes to entities and entity sets, validating every
// relationship against the registry first.
type Schema struct {
	Registry *registry.Registry
	Now      func() time.Time
}

func New(reg *registry.Registry) *Schema {
	return &Schema{
		Registry: reg,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateEntitySet stamps a fresh set with an empty relationship list and the current schema version.
func (s *Schema) CreateEntitySet(base model.EntitySet) *model.EntitySet {
	set := base
	set.Entities = make(map[string][]model.Entity, len(base.Entities))
	for cat, list := range base.Entities {
		cp := make([]model.Entity, len(list))
		copy(cp, list)
		set.Entities[cat] = cp
	}
	set.Linkage = model.Linkage{Relationships: []model.Relationship{}}
	set.SchemaVersion = model.SchemaVersion
	if set.Timestamp.IsZero() {
		set.Timestamp = s.Now()
	}
	return &set
}

// CreateEntity stamps a fresh entity with an empty relationship list.
func (s *Schema) CreateEntity(base model.Entity) *model.Entity {
	e := base.Clone()
	e.Linkage = model.Linkage{Relationships: []model.Relationship{}}
	e.Confidence = model.ClampConfidence(e.Confidence)
	return &e
}

// AddRelationship builds a relationship from cfg and attaches it to node. Invalid input is a
// ValidationError. An existing relationship with the same type and target is replaced only
// when the new one is more confident; otherwise it is left untouched.
func (s *Schema) AddRelationship(node model.Linked, cfg model.RelationshipConfig) (*model.Relationship, error) {
	now := s.Now()
	rel := model.Relationship{
		Type:       cfg.Type,
		Target:     cfg.Target,
		Confidence: model.DefaultRelationshipConfidence,
		Source:     cfg.Source,
		Temporal:   cfg.Temporal,
		Metadata:   cfg.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if cfg.Confidence != nil {
		rel.Confidence = *cfg.Confidence
	}
	if rel.Source == "" {
		rel.Source = model.SourceManual
	}

	if rel.Target == node.NodeID() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s cannot relate to itself", node.NodeID()))
	}
	if res := s.Registry.Validate(rel); !res.Valid {
		return nil, res.Err()
	}

	links := node.Links()
	defer func() {
		recount(links)
		addSource(links, rel.Source)
	}()

	for i := range links.Relationships {
		existing := &links.Relationships[i]
		if existing.Type != rel.Type || existing.Target != rel.Target {
			continue
		}
		if rel.Confidence > existing.Confidence {
			rel.CreatedAt = existing.CreatedAt
			*existing = rel
		}
		return existing, nil
	}

	links.Relationships = append(links.Relationships, rel)
	return &links.Relationships[len(links.Relationships)-1], nil
}

// RemoveRelationship drops the (relType, target) relationship. It reports whether one was removed.
func (s *Schema) RemoveRelationship(node model.Linked, relType, target string) bool {
	links := node.Links()
	kept := links.Relationships[:0]
	removed := false
	for _, r := range links.Relationships {
		if r.Type == relType && r.Target == target {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	links.Relationships = kept
	recount(links)
	return removed
}

func (s *Schema) RelationshipsOfType(node model.Linked, relType string) []model.Relationship {
	return filter(node, func(r model.Relationship) bool { return r.Type == relType })
}

func (s *Schema) RelationshipsTo(node model.Linked, target string) []model.Relationship {
	return filter(node, func(r model.Relationship) bool { return r.Target == target })
}

func (s *Schema) HasRelationship(node model.Linked, relType, target string) bool {
	for _, r := range node.Links().Relationships {
		if r.Type == relType && r.Target == target {
			return true
		}
	}
	return false
}

func filter(node model.Linked, keep func(model.Relationship) bool) []model.Relationship {
	var out []model.Relationship
	for _, r := range node.Links().Relationships {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func recount(l *model.Linkage) {
	if l.Relationships == nil {
		l.Relationships = []model.Relationship{}
	}
	l.RelationshipCount = len(l.Relationships)
}

func addSource(l *model.Linkage, source string) {
	for _, s := range l.RelationshipSources {
		if s == source {
			return
		}
	}
	l.RelationshipSources = append(l.RelationshipSources, source)
}
