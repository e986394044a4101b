package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on entity sets carrying the relationship schema.
const SchemaVersion = "2.0"

// LegacySchemaVersion is assumed for sets written before relationships existed.
const LegacySchemaVersion = "1.0"

// entityNamespace seeds stable ids for entities extracted without one.
var entityNamespace = uuid.MustParse("6f1d3c5e-8a0b-4c59-9d0e-2b7a41f0c3aa")

type EntityMetadata struct {
	SourceDocument string         `json:"sourceDocument,omitempty"`
	ExtractedAt    *time.Time     `json:"extractedAt,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Entity is a named thing inside one category of an entity set.
type Entity struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Confidence  float64        `json:"confidence"`
	Description string         `json:"description,omitempty"`
	Role        string         `json:"role,omitempty"`
	Type        string         `json:"type,omitempty"`
	Status      string         `json:"status,omitempty"`
	Metadata    EntityMetadata `json:"metadata"`
	Linkage
	Children          []string `json:"children,omitempty"`
	MergedFrom        []string `json:"mergedFrom,omitempty"`
	ConsolidatedCount int      `json:"consolidatedCount,omitempty"`
	SetID             string   `json:"setId,omitempty"`
}

func (e *Entity) NodeID() string  { return e.ID }
func (e *Entity) Links() *Linkage { return &e.Linkage }

func (e Entity) Summary() EntitySummary {
	return EntitySummary{
		ID:         e.ID,
		Name:       e.Name,
		Category:   e.Category,
		Confidence: e.Confidence,
		Type:       e.Type,
		SetID:      e.SetID,
	}
}

// Clone returns a deep copy so callers can derive views without touching the source.
func (e Entity) Clone() Entity {
	out := e
	out.Linkage = e.Linkage.clone()
	out.Children = append([]string(nil), e.Children...)
	out.MergedFrom = append([]string(nil), e.MergedFrom...)
	out.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	if e.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]any, len(e.Metadata.Extra))
		for k, v := range e.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return out
}

// ClampConfidence forces v into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type EntitySetMetadata struct {
	Source       string         `json:"source,omitempty"`
	Extractor    string         `json:"extractor,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	MigratedAt   *time.Time     `json:"migratedAt,omitempty"`
	MigratedFrom string         `json:"migratedFrom,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// EntitySet is one document's worth of extracted entities grouped by category.
type EntitySet struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId,omitempty"`
	Domain         string              `json:"domain"`
	Timestamp      time.Time           `json:"timestamp"`
	Entities       map[string][]Entity `json:"entities"`
	Linkage
	Metadata      EntitySetMetadata `json:"metadata"`
	SchemaVersion string            `json:"schemaVersion,omitempty"`
}

func (s *EntitySet) NodeID() string  { return s.ID }
func (s *EntitySet) Links() *Linkage { return &s.Linkage }

// Categories returns the non-empty categories in sorted order.
func (s *EntitySet) Categories() []string {
	cats := make([]string, 0, len(s.Entities))
	for c, list := range s.Entities {
		if len(list) > 0 {
			cats = append(cats, c)
		}
	}
	sort.Strings(cats)
	return cats
}

// Count returns how many entities the set holds in category.
func (s *EntitySet) Count(category string) int {
	return len(s.Entities[category])
}

func (s *EntitySet) Has(category string) bool {
	return s.Count(category) > 0
}

// CategoryCounts is the category population used by inference rules.
func (s *EntitySet) CategoryCounts() map[string]int {
	out := make(map[string]int, len(s.Entities))
	for c, list := range s.Entities {
		if len(list) > 0 {
			out[c] = len(list)
		}
	}
	return out
}

func (s *EntitySet) Total() int {
	n := 0
	for _, list := range s.Entities {
		n += len(list)
	}
	return n
}

func (s *EntitySet) Summary() NodeSummary {
	name := ""
	for _, c := range s.Categories() {
		name = s.Entities[c][0].Name
		break
	}
	return NodeSummary{
		ID:          s.ID,
		Name:        name,
		Categories:  s.CategoryCounts(),
		EntityCount: s.Total(),
	}
}

// AnyEntity reports whether some entity in category satisfies pred.
func (s *EntitySet) AnyEntity(category string, pred func(Entity) bool) bool {
	for _, e := range s.Entities[category] {
		if pred(e) {
			return true
		}
	}
	return false
}

// Flatten returns copies of every entity, ordered by category then position, tagged with the set id.
func (s *EntitySet) Flatten() []Entity {
	out := make([]Entity, 0, s.Total())
	for _, c := range s.Categories() {
		for _, e := range s.Entities[c] {
			cp := e.Clone()
			if cp.Category == "" {
				cp.Category = c
			}
			cp.SetID = s.ID
			out = append(out, cp)
		}
	}
	return out
}

// FindEntity looks an entity up by id.
func (s *EntitySet) FindEntity(id string) (*Entity, bool) {
	for c := range s.Entities {
		for i := range s.Entities[c] {
			if s.Entities[c][i].ID == id {
				return &s.Entities[c][i], true
			}
		}
	}
	return nil, false
}

// Normalize validates the set once at ingestion. Entities with blank names are dropped,
// confidences are clamped, missing ids are derived deterministically from set id, category and
// name. The returned issues describe everything that was dropped or rewritten.
func (s *EntitySet) Normalize() []string {
	var issues []string
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	if s.Entities == nil {
		s.Entities = make(map[string][]Entity)
	}

	normalized := make(map[string][]Entity, len(s.Entities))
	// Repeated names in one category get numbered ids instead of colliding.
	derived := make(map[string]int)
	for rawCat, list := range s.Entities {
		cat := strings.TrimSpace(rawCat)
		if cat == "" {
			issues = append(issues, fmt.Sprintf("dropped %d entities without a category", len(list)))
			continue
		}
		for i, e := range list {
			e.Name = strings.TrimSpace(e.Name)
			if e.Name == "" {
				issues = append(issues, fmt.Sprintf("%s[%d]: empty name", cat, i))
				continue
			}
			if e.Confidence < 0 || e.Confidence > 1 {
				issues = append(issues, fmt.Sprintf("%s[%d]: confidence %.2f clamped", cat, i, e.Confidence))
				e.Confidence = ClampConfidence(e.Confidence)
			}
			e.Category = cat
			if e.ID == "" {
				seed := s.ID + "/" + cat + "/" + strings.ToLower(e.Name)
				if n := derived[seed]; n > 0 {
					seed += fmt.Sprintf("#%d", n+1)
				}
				derived[s.ID+"/"+cat+"/"+strings.ToLower(e.Name)]++
				e.ID = uuid.NewSHA1(entityNamespace, []byte(seed)).String()
			}
			if strings.Contains(e.ID, PairSeparator) {
				issues = append(issues, fmt.Sprintf("%s[%d]: id %q contains %q", cat, i, e.ID, PairSeparator))
				continue
			}
			if e.Relationships == nil {
				e.Relationships = []Relationship{}
			}
			e.SetID = ""
			normalized[cat] = append(normalized[cat], e)
		}
	}
	s.Entities = normalized
	if s.Relationships == nil {
		s.Relationships = []Relationship{}
	}
	return issues
}

// Clone returns a deep copy of the set.
func (s *EntitySet) Clone() *EntitySet {
	out := *s
	out.Linkage = s.Linkage.clone()
	out.Entities = make(map[string][]Entity, len(s.Entities))
	for c, list := range s.Entities {
		cp := make([]Entity, len(list))
		for i, e := range list {
			cp[i] = e.Clone()
		}
		out.Entities[c] = cp
	}
	out.Metadata.Tags = append([]string(nil), s.Metadata.Tags...)
	if s.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]any, len(s.Metadata.Extra))
		for k, v := range s.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return &out
}
