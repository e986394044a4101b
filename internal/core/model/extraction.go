package model

// ExtractedEntity is one entity as the LLM returns it.
type ExtractedEntity struct {
	Name        string  `json:"name"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
	Role        string  `json:"role,omitempty"`
	Type        string  `json:"type,omitempty"`
	Status      string  `json:"status,omitempty"`
}

// ExtractedEntities groups extracted entities by category.
type ExtractedEntities struct {
	Entities map[string][]ExtractedEntity `json:"entities"`
}
