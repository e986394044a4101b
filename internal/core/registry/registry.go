// Package registry holds the vocabulary of relationship types and validates relationships
// against it. A Registry is built once and never mutated.
package registry

import (
	"fmt"
	"sort"

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

const (
	DomainUniversal     = "universal"
	DomainCybersecurity = "cybersecurity"
	DomainConstruction  = "construction"
)

type Cardinality string

const (
	OneToOne   Cardinality = "one-to-one"
	OneToMany  Cardinality = "one-to-many"
	ManyToOne  Cardinality = "many-to-one"
	ManyToMany Cardinality = "many-to-many"
)

// Validation lists the rules a relationship of a type must satisfy.
// Empty kind lists accept any entity category.
type Validation struct {
	SourceKinds []string `json:"sourceKinds,omitempty"`
	TargetKinds []string `json:"targetKinds,omitempty"`
	Required    []string `json:"required,omitempty"`
}

type Definition struct {
	Type          string      `json:"type"`
	Label         string      `json:"label"`
	Description   string      `json:"description"`
	Domains       []string    `json:"domains"`
	Cardinality   Cardinality `json:"cardinality"`
	Inverse       string      `json:"inverse,omitempty"`
	Bidirectional bool        `json:"bidirectional,omitempty"`
	Temporal      bool        `json:"temporal,omitempty"`
	Validation    Validation  `json:"validation"`
}

func (d Definition) appliesTo(domain string) bool {
	for _, dom := range d.Domains {
		if dom == DomainUniversal || dom == domain {
			return true
		}
	}
	return false
}

// Catalog is a named set of definitions keyed by type.
type Catalog map[string]Definition

type Registry struct {
	defs map[string]Definition
}

// New returns the union of the universal, cybersecurity and construction catalogs.
func New() *Registry {
	return NewWithCatalogs(UniversalCatalog(), CybersecurityCatalog(), ConstructionCatalog())
}

// NewWithCatalogs merges catalogs in order. A type defined twice keeps the first
// definition and gains the domains of the later ones.
func NewWithCatalogs(catalogs ...Catalog) *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, cat := range catalogs {
		for name, def := range cat {
			def.Type = name
			existing, ok := r.defs[name]
			if !ok {
				def.Domains = append([]string(nil), def.Domains...)
				r.defs[name] = def
				continue
			}
			for _, d := range def.Domains {
				if !contains(existing.Domains, d) {
					existing.Domains = append(existing.Domains, d)
				}
			}
			r.defs[name] = existing
		}
	}
	return r
}

func (r *Registry) IsValidType(relType string) bool {
	_, ok := r.defs[relType]
	return ok
}

func (r *Registry) Definition(relType string) (Definition, bool) {
	d, ok := r.defs[relType]
	return d, ok
}

// Types returns every registered type name, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RelationshipsForDomain returns every definition that is universal or scoped to domain.
func (r *Registry) RelationshipsForDomain(domain string) map[string]Definition {
	out := make(map[string]Definition)
	for name, def := range r.defs {
		if def.appliesTo(domain) {
			out[name] = def
		}
	}
	return out
}

func (r *Registry) InverseOf(relType string) (string, bool) {
	d, ok := r.defs[relType]
	if !ok || d.Inverse == "" {
		return "", false
	}
	return d.Inverse, true
}

func (r *Registry) IsBidirectional(relType string) bool {
	return r.defs[relType].Bidirectional
}

// Result is a structured validation outcome. Data problems are reported here, never panicked.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Err converts an invalid result into a ValidationError.
func (res Result) Err() error {
	if res.Valid {
		return nil
	}
	return apperrors.NewValidationError(res.Errors...)
}

func newResult(errs []string) Result {
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// Validate checks that the type exists, that every required field is set and that the
// confidence lies in [0,1].
func (r *Registry) Validate(rel model.Relationship) Result {
	var errs []string
	def, ok := r.defs[rel.Type]
	if !ok {
		errs = append(errs, fmt.Sprintf("unknown relationship type %q", rel.Type))
	} else {
		for _, field := range def.Validation.Required {
			if !rel.HasField(field) {
				errs = append(errs, fmt.Sprintf("%s: missing required field %q", rel.Type, field))
			}
		}
	}
	if rel.Confidence < 0 || rel.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("confidence %v outside [0,1]", rel.Confidence))
	}
	return newResult(errs)
}

// ValidateEndpoints checks the categories on both ends against the type's allowed kinds.
func (r *Registry) ValidateEndpoints(relType, sourceKind, targetKind string) Result {
	def, ok := r.defs[relType]
	if !ok {
		return newResult([]string{fmt.Sprintf("unknown relationship type %q", relType)})
	}
	var errs []string
	if len(def.Validation.SourceKinds) > 0 && !contains(def.Validation.SourceKinds, sourceKind) {
		errs = append(errs, fmt.Sprintf("%s: source kind %q not in %v", relType, sourceKind, def.Validation.SourceKinds))
	}
	if len(def.Validation.TargetKinds) > 0 && !contains(def.Validation.TargetKinds, targetKind) {
		errs = append(errs, fmt.Sprintf("%s: target kind %q not in %v", relType, targetKind, def.Validation.TargetKinds))
	}
	return newResult(errs)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
