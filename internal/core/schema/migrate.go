package schema

import (
	"fmt"

	"github.com/agenthands/graphkeeper/internal/core/model"
)

// NeedsMigration reports whether set predates the relationship schema.
func NeedsMigration(set *model.EntitySet) bool {
	return set.SchemaVersion != model.SchemaVersion
}

// MigrateLegacyEntitySet returns a copy of old in the current schema. Existing relationships
// are kept as they are; only the bookkeeping fields and migration metadata are filled in.
func (s *Schema) MigrateLegacyEntitySet(old *model.EntitySet) *model.EntitySet {
	set := *old
	set.Entities = make(map[string][]model.Entity, len(old.Entities))
	for cat, list := range old.Entities {
		out := make([]model.Entity, len(list))
		for i, e := range list {
			out[i] = s.MigrateLegacyEntity(e)
		}
		set.Entities[cat] = out
	}

	set.Linkage = old.Linkage
	if old.Relationships != nil {
		set.Relationships = make([]model.Relationship, len(old.Relationships))
		copy(set.Relationships, old.Relationships)
	}
	set.RelationshipSources = append([]string(nil), old.RelationshipSources...)
	recount(&set.Linkage)
	for _, r := range set.Relationships {
		if r.Source != "" {
			addSource(&set.Linkage, r.Source)
		}
	}

	from := old.SchemaVersion
	if from == "" {
		from = model.LegacySchemaVersion
	}
	now := s.Now()
	set.Metadata.MigratedFrom = from
	set.Metadata.MigratedAt = &now
	set.SchemaVersion = model.SchemaVersion
	return &set
}

// MigrateLegacyEntity returns a copy of old with its relationship bookkeeping rebuilt from the
// relationships it already carries. Migration metadata lives on the owning set.
func (s *Schema) MigrateLegacyEntity(old model.Entity) model.Entity {
	e := old.Clone()
	recount(&e.Linkage)
	for _, r := range e.Relationships {
		if r.Source != "" {
			addSource(&e.Linkage, r.Source)
		}
	}
	return e
}

// Issue is one problem found by ValidateEntitySet or ValidateEntity.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return i.Path + ": " + i.Message
}

// ValidateEntitySet checks required fields of the set, every entity, and every relationship,
// returning all issues rather than stopping at the first.
func (s *Schema) ValidateEntitySet(set *model.EntitySet) []Issue {
	var issues []Issue
	add := func(path, format string, args ...any) {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if set.ID == "" {
		add("id", "required")
	}
	if set.Domain == "" {
		add("domain", "required")
	}
	if set.Timestamp.IsZero() {
		add("timestamp", "required")
	}
	if set.SchemaVersion == "" {
		add("schemaVersion", "required")
	}
	issues = append(issues, s.validateLinkage("relationships", set.ID, &set.Linkage)...)

	owners := make(map[string]string)
	kinds := make(map[string]string)
	for _, cat := range set.Categories() {
		for _, e := range set.Entities[cat] {
			if _, ok := kinds[e.ID]; !ok {
				kinds[e.ID] = e.Category
			}
		}
	}
	for _, cat := range set.Categories() {
		for i := range set.Entities[cat] {
			prefix := fmt.Sprintf("entities.%s[%d]", cat, i)
			if id := set.Entities[cat][i].ID; id != "" {
				if first, dup := owners[id]; dup {
					add(prefix+".id", "duplicate id %q, already used by %s", id, first)
				} else {
					owners[id] = prefix
				}
			}
			for _, is := range s.ValidateEntity(&set.Entities[cat][i]) {
				is.Path = prefix + "." + is.Path
				issues = append(issues, is)
			}
			issues = append(issues, s.validateEndpoints(prefix, &set.Entities[cat][i], kinds)...)
		}
	}
	return issues
}

// ValidateEntity checks one entity and its relationships.
func (s *Schema) ValidateEntity(e *model.Entity) []Issue {
	var issues []Issue
	if e.ID == "" {
		issues = append(issues, Issue{Path: "id", Message: "required"})
	}
	if e.Name == "" {
		issues = append(issues, Issue{Path: "name", Message: "required"})
	}
	if e.Category == "" {
		issues = append(issues, Issue{Path: "category", Message: "required"})
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		issues = append(issues, Issue{Path: "confidence", Message: fmt.Sprintf("%v outside [0,1]", e.Confidence)})
	}
	return append(issues, s.validateLinkage("relationships", e.ID, &e.Linkage)...)
}

// validateEndpoints checks relationships between entities of the same set against the kinds
// their type allows. Targets outside the set have no known kind and are not checked.
func (s *Schema) validateEndpoints(prefix string, e *model.Entity, kinds map[string]string) []Issue {
	var issues []Issue
	for i, r := range e.Relationships {
		targetKind, ok := kinds[r.Target]
		if !ok || !s.Registry.IsValidType(r.Type) {
			continue
		}
		if res := s.Registry.ValidateEndpoints(r.Type, e.Category, targetKind); !res.Valid {
			for _, msg := range res.Errors {
				issues = append(issues, Issue{Path: fmt.Sprintf("%s.relationships[%d]", prefix, i), Message: msg})
			}
		}
	}
	return issues
}

func (s *Schema) validateLinkage(path, ownerID string, l *model.Linkage) []Issue {
	var issues []Issue
	seen := make(map[string]bool)
	for i, r := range l.Relationships {
		p := fmt.Sprintf("%s[%d]", path, i)
		if ownerID != "" && r.Target == ownerID {
			issues = append(issues, Issue{Path: p, Message: "relationship targets its owner"})
		}
		if res := s.Registry.Validate(r); !res.Valid {
			for _, msg := range res.Errors {
				issues = append(issues, Issue{Path: p, Message: msg})
			}
		}
		key := r.Type + "\x00" + r.Target
		if seen[key] {
			issues = append(issues, Issue{Path: p, Message: fmt.Sprintf("duplicate %s relationship to %s", r.Type, r.Target)})
		}
		seen[key] = true
	}
	if l.RelationshipCount != len(l.Relationships) {
		issues = append(issues, Issue{Path: "relationshipCount", Message: fmt.Sprintf("%d does not match %d relationships", l.RelationshipCount, len(l.Relationships))})
	}
	return issues
}
