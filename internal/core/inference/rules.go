package inference

import (
	"strings"

	"github.com/agenthands/graphkeeper/internal/core/model"
	"github.com/agenthands/graphkeeper/internal/core/registry"
)

// Condition inspects the category population of two entity sets.
type Condition func(a, b *model.EntitySet) bool

// Rule proposes Relationship from a to b whenever Condition(a, b) holds.
type Rule struct {
	Name         string
	Relationship string
	Confidence   float64
	Description  string
	Condition    Condition
}

// directionalRules are only evaluated as (i, j). Every other rule is also tried as (j, i).
var directionalRules = map[string]bool{
	"task_assignment":           true,
	"consultant_responsibility": true,
	"monitoring":                true,
	"material_requirement":      true,
	"component_installation":    true,
	"vendor_supply":             true,
}

func IsDirectional(ruleName string) bool {
	return directionalRules[ruleName]
}

type predicate func(*model.EntitySet) bool

func has(categories ...string) predicate {
	return func(s *model.EntitySet) bool {
		for _, c := range categories {
			if s.Has(c) {
				return true
			}
		}
		return false
	}
}

func hasRole(category, fragment string) predicate {
	return func(s *model.EntitySet) bool {
		return s.AnyEntity(category, func(e model.Entity) bool {
			return strings.Contains(strings.ToLower(e.Role), fragment)
		})
	}
}

func when(a, b predicate) Condition {
	return func(x, y *model.EntitySet) bool {
		return a(x) && b(y)
	}
}

func UniversalRules() []Rule {
	return []Rule{
		{
			Name:         "people_manage_projects",
			Relationship: "manages",
			Confidence:   0.75,
			Description:  "People mentioned alongside a project usually run it",
			Condition:    when(has("people"), has("projects")),
		},
		{
			Name:         "task_assignment",
			Relationship: "assigned_to",
			Confidence:   0.7,
			Description:  "Tasks are assigned to the people of another document",
			Condition:    when(has("tasks"), has("people")),
		},
		{
			Name:         "consultant_responsibility",
			Relationship: "responsible_for",
			Confidence:   0.7,
			Description:  "Consultants are accountable for the projects they advise",
			Condition:    when(hasRole("people", "consultant"), has("projects")),
		},
		{
			Name:         "shared_people",
			Relationship: "collaborates_with",
			Confidence:   0.6,
			Condition:    when(has("people"), has("people")),
		},
		{
			Name:         "shared_projects",
			Relationship: "related_to",
			Confidence:   0.55,
			Condition:    when(has("projects"), has("projects")),
		},
		{
			Name:         "project_tasks",
			Relationship: "contains",
			Confidence:   0.65,
			Condition:    when(has("projects"), has("tasks")),
		},
	}
}

func CybersecurityRules() []Rule {
	return []Rule{
		{
			Name:         "monitoring",
			Relationship: "monitors",
			Confidence:   0.7,
			Description:  "Security tooling watches the systems of another document",
			Condition:    when(has("security_tools"), has("systems")),
		},
		{
			Name:         "threat_mitigation",
			Relationship: "mitigates",
			Confidence:   0.65,
			Condition:    when(has("controls"), has("threats", "vulnerabilities")),
		},
		{
			Name:         "asset_protection",
			Relationship: "protects",
			Confidence:   0.6,
			Condition:    when(has("controls"), has("systems")),
		},
		{
			Name:         "incident_impact",
			Relationship: "affects",
			Confidence:   0.6,
			Condition:    when(has("incidents"), has("systems")),
		},
		{
			Name:         "vendor_supply",
			Relationship: "supplies",
			Confidence:   0.7,
			Condition:    when(has("vendors"), has("security_tools")),
		},
	}
}

func ConstructionRules() []Rule {
	return []Rule{
		{
			Name:         "material_requirement",
			Relationship: "requires_material",
			Confidence:   0.7,
			Description:  "Work items need the materials listed elsewhere",
			Condition:    when(has("projects", "tasks"), has("materials")),
		},
		{
			Name:         "component_installation",
			Relationship: "installs",
			Confidence:   0.65,
			Condition:    when(has("tasks"), has("components")),
		},
		{
			Name:         "vendor_supply",
			Relationship: "supplies",
			Confidence:   0.7,
			Condition:    when(has("vendors", "suppliers"), has("materials", "equipment")),
		},
		{
			Name:         "site_location",
			Relationship: "located_at",
			Confidence:   0.6,
			Condition:    when(has("projects"), has("locations")),
		},
		{
			Name:         "equipment_usage",
			Relationship: "uses",
			Confidence:   0.6,
			Condition:    when(has("tasks", "projects"), has("equipment")),
		},
		{
			Name:         "inspection",
			Relationship: "inspects",
			Confidence:   0.65,
			Condition:    when(hasRole("people", "inspector"), has("projects")),
		},
	}
}

// DefaultDomainRules maps a domain to the rules added on top of the universal set.
func DefaultDomainRules() map[string][]Rule {
	return map[string][]Rule{
		registry.DomainCybersecurity: CybersecurityRules(),
		registry.DomainConstruction:  ConstructionRules(),
	}
}
