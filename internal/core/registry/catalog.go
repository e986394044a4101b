package registry

var baseRequired = []string{"target", "source"}

func def(label, desc string, card Cardinality, inverse string, domains ...string) Definition {
	return Definition{
		Label:       label,
		Description: desc,
		Domains:     domains,
		Cardinality: card,
		Inverse:     inverse,
		Validation:  Validation{Required: baseRequired},
	}
}

func bidirectional(d Definition) Definition {
	d.Bidirectional = true
	return d
}

func temporal(d Definition) Definition {
	d.Temporal = true
	return d
}

func kinds(d Definition, source, target []string) Definition {
	d.Validation.SourceKinds = source
	d.Validation.TargetKinds = target
	return d
}

var (
	people   = []string{"people"}
	projects = []string{"projects"}
	tasks    = []string{"tasks"}
)

func UniversalCatalog() Catalog {
	u := DomainUniversal
	return Catalog{
		"related_to":        bidirectional(def("Related to", "Generic association between two nodes", ManyToMany, "related_to", u)),
		"manages":           kinds(def("Manages", "Source manages or leads the target", OneToMany, "managed_by", u), people, nil),
		"managed_by":        kinds(def("Managed by", "Source is managed by the target", ManyToOne, "manages", u), nil, people),
		"assigned_to":       kinds(def("Assigned to", "Task is assigned to a person", ManyToOne, "assigned", u), tasks, people),
		"assigned":          kinds(def("Assigned", "Person holds the assignment", OneToMany, "assigned_to", u), people, tasks),
		"responsible_for":   def("Responsible for", "Source is accountable for the target", OneToMany, "responsibility_of", u),
		"responsibility_of": def("Responsibility of", "Source is the accountability of the target", ManyToOne, "responsible_for", u),
		"part_of":           def("Part of", "Source is a component of the target", ManyToOne, "contains", u),
		"contains":          def("Contains", "Source includes the target", OneToMany, "part_of", u),
		"depends_on":        def("Depends on", "Source cannot proceed without the target", ManyToMany, "required_by", u),
		"required_by":       def("Required by", "Source is needed by the target", ManyToMany, "depends_on", u),
		"collaborates_with": bidirectional(kinds(def("Collaborates with", "People working together", ManyToMany, "collaborates_with", u), people, people)),
		"references":        def("References", "Source cites the target", ManyToMany, "", u),
		"mentions":          def("Mentions", "Source mentions the target", ManyToMany, "", u),
		"uses":              def("Uses", "Source makes use of the target", ManyToMany, "used_by", u),
		"used_by":           def("Used by", "Source is used by the target", ManyToMany, "uses", u),
	}
}

func CybersecurityCatalog() Catalog {
	c := DomainCybersecurity
	return Catalog{
		"monitors":     def("Monitors", "Tool or team watches a system", OneToMany, "monitored_by", c),
		"monitored_by": def("Monitored by", "System is watched by a tool or team", ManyToOne, "monitors", c),
		"mitigates":    def("Mitigates", "Control reduces a threat or vulnerability", ManyToMany, "mitigated_by", c),
		"mitigated_by": def("Mitigated by", "Threat is reduced by a control", ManyToMany, "mitigates", c),
		"protects":     def("Protects", "Control protects an asset", ManyToMany, "protected_by", c),
		"protected_by": def("Protected by", "Asset is protected by a control", ManyToMany, "protects", c),
		"affects":      def("Affects", "Incident or threat affects a system", ManyToMany, "affected_by", c),
		"affected_by":  def("Affected by", "System is affected by an incident", ManyToMany, "affects", c),
		"detects":      def("Detects", "Tool detects a threat", ManyToMany, "", c),
		"supplies":     def("Supplies", "Vendor provides the target", OneToMany, "supplied_by", c),
		"supplied_by":  def("Supplied by", "Target is provided by a vendor", ManyToOne, "supplies", c),
	}
}

func ConstructionCatalog() Catalog {
	k := DomainConstruction
	return Catalog{
		"requires_material": def("Requires material", "Work needs the material", ManyToMany, "material_for", k),
		"material_for":      def("Material for", "Material is needed by the work", ManyToMany, "requires_material", k),
		"installs":          def("Installs", "Task installs a component", OneToMany, "installed_by", k),
		"installed_by":      def("Installed by", "Component is installed by a task", ManyToOne, "installs", k),
		"located_at":        def("Located at", "Work happens at a location", ManyToOne, "location_of", k),
		"location_of":       def("Location of", "Location hosts the work", OneToMany, "located_at", k),
		"inspects":          def("Inspects", "Inspector reviews the work", ManyToMany, "", k),
		"scheduled_before":  temporal(def("Scheduled before", "Source finishes before target starts", ManyToMany, "scheduled_after", k)),
		"scheduled_after":   temporal(def("Scheduled after", "Source starts after target finishes", ManyToMany, "scheduled_before", k)),
		"supplies":          def("Supplies", "Vendor provides the target", OneToMany, "supplied_by", k),
		"supplied_by":       def("Supplied by", "Target is provided by a vendor", ManyToOne, "supplies", k),
	}
}
