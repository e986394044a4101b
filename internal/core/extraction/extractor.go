// Package extraction turns free text into an entity set by prompting an LLM.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/common"
	"github.com/agenthands/graphkeeper/internal/core/model"
	"github.com/agenthands/graphkeeper/internal/core/registry"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/llm"
	"github.com/agenthands/graphkeeper/internal/logger"
)

// DefaultPrompt takes the domain, the suggested categories and the text, in that order.
const DefaultPrompt = `You extract named entities for a %s knowledge graph.
Group them by category. Prefer these categories when they fit: %s.
Return only JSON of the form:
{"entities": {"<category>": [{"name": "...", "confidence": 0.0, "description": "...", "role": "...", "type": "...", "status": "..."}]}}
Confidence is between 0 and 1. Omit fields you cannot fill.

Text:
%s`

// ExtractorName is stamped on entity sets produced by Extract.
const ExtractorName = "llm"

var domainCategories = map[string][]string{
	registry.DomainUniversal:     {"people", "projects", "tasks", "organizations", "locations", "documents"},
	registry.DomainCybersecurity: {"security_tools", "systems", "threats", "vulnerabilities", "controls", "incidents", "vendors"},
	registry.DomainConstruction:  {"people", "projects", "materials", "equipment", "suppliers", "locations", "inspections"},
}

// Categories returns the categories suggested to the LLM for domain.
func Categories(domain string) []string {
	if cats, ok := domainCategories[domain]; ok {
		return cats
	}
	return domainCategories[registry.DomainUniversal]
}

type Extractor struct {
	LLM    llm.LLMClient
	Prompt string
	log    *zap.Logger
}

// NewExtractor uses DefaultPrompt when prompt is empty. A custom prompt takes the same three %s
// arguments as DefaultPrompt.
func NewExtractor(llmClient llm.LLMClient, prompt string, log *zap.Logger) *Extractor {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Extractor{
		LLM:    llmClient,
		Prompt: prompt,
		log:    logger.OrGlobal(log),
	}
}

// Extract asks the LLM for the entities in text and returns them as a normalized entity set.
func (e *Extractor) Extract(ctx context.Context, domain, text string) (*model.EntitySet, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("text is required")
	}

	prompt := fmt.Sprintf(e.Prompt, domain, strings.Join(Categories(domain), ", "), text)
	response, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entities: %w", err)
	}

	result, err := common.ParseJSON[model.ExtractedEntities](response)
	if err != nil {
		return nil, fmt.Errorf("failed to extract entities: %w", err)
	}

	now := time.Now().UTC()
	set := &model.EntitySet{
		Domain:    domain,
		Timestamp: now,
		Entities:  make(map[string][]model.Entity, len(result.Entities)),
		Metadata:  model.EntitySetMetadata{Extractor: ExtractorName, Source: "text"},
	}
	for category, list := range result.Entities {
		cat := strings.ToLower(strings.TrimSpace(category))
		for _, x := range list {
			set.Entities[cat] = append(set.Entities[cat], model.Entity{
				Name:        x.Name,
				Confidence:  x.Confidence,
				Description: x.Description,
				Role:        x.Role,
				Type:        x.Type,
				Status:      x.Status,
				Metadata:    model.EntityMetadata{ExtractedAt: &now},
			})
		}
	}

	issues := set.Normalize()
	for _, issue := range issues {
		e.log.Warn("Dropped or rewrote extracted entity", zap.String("set_id", set.ID), zap.String("issue", issue))
	}
	e.log.Info("Extracted entities",
		zap.String("domain", domain),
		zap.String("set_id", set.ID),
		zap.Int("entities", set.Total()),
		zap.Int("issues", len(issues)))
	return set, nil
}
