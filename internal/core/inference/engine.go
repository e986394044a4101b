// Package inference proposes typed relationships between entity sets from cheap structural
// heuristics over their category populations, then applies them through the schema.
//
// Every unordered pair of sets in a batch is tested against every rule, so a batch costs
// O(n²·r). Batches are per document, never corpus wide.
package inference

import (
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/model"
	"github.com/agenthands/graphkeeper/internal/core/schema"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/logger"
)

// Proposal is a candidate relationship from SourceID to TargetID.
type Proposal struct {
	SourceID   string                     `json:"source"`
	TargetID   string                     `json:"target"`
	Type       string                     `json:"type"`
	Confidence float64                    `json:"confidence"`
	Metadata   model.RelationshipMetadata `json:"metadata"`
}

type Engine struct {
	Schema      *schema.Schema
	Universal   []Rule
	DomainRules map[string][]Rule
	log         *zap.Logger
}

func NewEngine(s *schema.Schema, log *zap.Logger) *Engine {
	return &Engine{
		Schema:      s,
		Universal:   UniversalRules(),
		DomainRules: DefaultDomainRules(),
		log:         logger.OrGlobal(log),
	}
}

// Rules returns the universal rules followed by the rules of domain.
func (e *Engine) Rules(domain string) []Rule {
	rules := make([]Rule, 0, len(e.Universal)+len(e.DomainRules[domain]))
	rules = append(rules, e.Universal...)
	return append(rules, e.DomainRules[domain]...)
}

// InferRelationships evaluates the rule set of domain over every pair (i, j), i < j.
// Non-directional rules are also evaluated as (j, i). The result is deduplicated.
func (e *Engine) InferRelationships(sets []*model.EntitySet, domain string) []Proposal {
	rules := e.Rules(domain)
	var proposals []Proposal

	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			a, b := sets[i], sets[j]
			if a == nil || b == nil || a.ID == b.ID {
				continue
			}
			for _, rule := range rules {
				if rule.Condition(a, b) {
					proposals = append(proposals, propose(rule, a, b, domain))
				}
				if !IsDirectional(rule.Name) && rule.Condition(b, a) {
					proposals = append(proposals, propose(rule, b, a, domain))
				}
			}
		}
	}

	deduped := DeduplicateRelationships(proposals)
	e.log.Debug("Inferred relationships",
		zap.String("domain", domain),
		zap.Int("sets", len(sets)),
		zap.Int("rules", len(rules)),
		zap.Int("proposals", len(proposals)),
		zap.Int("unique", len(deduped)))
	return deduped
}

func propose(rule Rule, from, to *model.EntitySet, domain string) Proposal {
	src, tgt := from.Summary(), to.Summary()
	return Proposal{
		SourceID:   from.ID,
		TargetID:   to.ID,
		Type:       rule.Relationship,
		Confidence: rule.Confidence,
		Metadata: model.RelationshipMetadata{
			Rule:          rule.Name,
			SourceSummary: &src,
			TargetSummary: &tgt,
			Notes: map[string]any{
				"domain":      domain,
				"directional": IsDirectional(rule.Name),
			},
		},
	}
}

// DeduplicateRelationships collapses proposals sharing (source, target, type), keeping the
// most confident one in the position of the first occurrence.
func DeduplicateRelationships(proposals []Proposal) []Proposal {
	index := make(map[string]int, len(proposals))
	out := make([]Proposal, 0, len(proposals))
	for _, p := range proposals {
		key := p.SourceID + "\x00" + p.TargetID + "\x00" + p.Type
		if at, ok := index[key]; ok {
			if p.Confidence > out[at].Confidence {
				out[at] = p
			}
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	return out
}

type ApplyResult struct {
	Applied int
	Skipped []*apperrors.InferenceSkip
}

// ApplyRelationshipsToEntities attaches each proposal to its source set. A proposal that
// cannot be applied is logged and skipped; the batch always runs to completion.
func (e *Engine) ApplyRelationshipsToEntities(sets []*model.EntitySet, proposals []Proposal, provenance string) ApplyResult {
	byID := make(map[string]*model.EntitySet, len(sets))
	for _, s := range sets {
		if s != nil {
			byID[s.ID] = s
		}
	}

	var res ApplyResult
	for _, p := range proposals {
		owner, ok := byID[p.SourceID]
		if !ok {
			res.Skipped = append(res.Skipped, e.skip(p, apperrors.NewNotFound("entity set", p.SourceID)))
			continue
		}
		_, err := e.Schema.AddRelationship(owner, model.RelationshipConfig{
			Type:       p.Type,
			Target:     p.TargetID,
			Confidence: model.Confidence(p.Confidence),
			Source:     provenance,
			Metadata:   p.Metadata,
		})
		if err != nil {
			res.Skipped = append(res.Skipped, e.skip(p, err))
			continue
		}
		res.Applied++
	}
	return res
}

func (e *Engine) skip(p Proposal, err error) *apperrors.InferenceSkip {
	s := apperrors.NewInferenceSkip(p.SourceID, p.TargetID, p.Type, err)
	e.log.Warn("Skipping inferred relationship",
		zap.String("rule", p.Metadata.Rule),
		zap.String("type", p.Type),
		zap.String("source", p.SourceID),
		zap.String("target", p.TargetID),
		zap.Error(err))
	return s
}
