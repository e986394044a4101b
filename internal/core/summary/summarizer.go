// Package summary describes clusters of entity sets with an LLM.
package summary

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/common"
	"github.com/agenthands/graphkeeper/internal/core/community"
	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/llm"
	"github.com/agenthands/graphkeeper/internal/logger"
)

// ChunkSize is the most member lines sent in one prompt.
const ChunkSize = 20

// namesPerCategory caps the entity names listed per category of a member.
const namesPerCategory = 5

const DefaultPrompt = `You are describing a group of related documents from the %s domain.
Each line below is one document or partial summary and the entities it mentions:

%s
Respond with JSON only, no commentary:
{"name": "a short title for the group", "summary": "two or three sentences describing what ties it together"}`

// ClusterSummary is a cluster with its generated title and description.
type ClusterSummary struct {
	community.Cluster
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

type result struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

type Summarizer struct {
	LLM    llm.LLMClient
	Prompt string
	log    *zap.Logger
}

// NewSummarizer uses DefaultPrompt when prompt is empty.
func NewSummarizer(llmClient llm.LLMClient, prompt string, log *zap.Logger) *Summarizer {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Summarizer{
		LLM:    llmClient,
		Prompt: prompt,
		log:    logger.OrGlobal(log),
	}
}

// SummarizeCluster describes cluster using the entity sets its members name. Members missing
// from sets are listed by name only.
func (s *Summarizer) SummarizeCluster(ctx context.Context, domain string, cluster community.Cluster, sets map[string]*model.EntitySet) (ClusterSummary, error) {
	lines := make([]string, 0, len(cluster.Members))
	for _, m := range cluster.Members {
		lines = append(lines, memberLine(m, sets[m.ID]))
	}

	r, err := s.summarize(ctx, domain, lines)
	if err != nil {
		return ClusterSummary{}, fmt.Errorf("summarizing cluster %s: %w", cluster.ID, err)
	}
	return ClusterSummary{Cluster: cluster, Name: r.Name, Summary: r.Summary}, nil
}

// summarize sends lines in one prompt when they fit. Longer inputs are summarized per chunk
// and the chunk summaries reduced again.
func (s *Summarizer) summarize(ctx context.Context, domain string, lines []string) (result, error) {
	if len(lines) == 0 {
		return result{}, apperrors.NewValidationError("nothing to summarize")
	}
	if len(lines) <= ChunkSize {
		return s.generate(ctx, domain, lines)
	}

	var parts []string
	for i := 0; i < len(lines); i += ChunkSize {
		end := min(i+ChunkSize, len(lines))
		r, err := s.generate(ctx, domain, lines[i:end])
		if err != nil {
			s.log.Warn("Skipping cluster chunk", zap.Int("offset", i), zap.Error(err))
			continue
		}
		parts = append(parts, fmt.Sprintf("- Part %d (%s): %s", len(parts)+1, r.Name, r.Summary))
	}
	if len(parts) == 0 {
		return result{}, fmt.Errorf("every chunk of %d lines failed", len(lines))
	}
	return s.summarize(ctx, domain, parts)
}

func (s *Summarizer) generate(ctx context.Context, domain string, lines []string) (result, error) {
	prompt := fmt.Sprintf(s.Prompt, domain, strings.Join(lines, "\n"))
	response, err := s.LLM.Generate(ctx, prompt)
	if err != nil {
		return result{}, fmt.Errorf("failed to generate summary: %w", err)
	}

	r, err := common.ParseJSON[result](response)
	if err != nil {
		// Some models answer in prose.
		return result{Summary: strings.TrimSpace(response)}, nil
	}
	return r, nil
}

func memberLine(n community.Node, set *model.EntitySet) string {
	if set == nil {
		return "- " + n.Name
	}
	var groups []string
	for _, cat := range set.Categories() {
		var names []string
		for _, e := range set.Entities[cat] {
			if len(names) == namesPerCategory {
				break
			}
			names = append(names, e.Name)
		}
		if len(names) > 0 {
			groups = append(groups, fmt.Sprintf("%s (%s)", cat, strings.Join(names, ", ")))
		}
	}
	if len(groups) == 0 {
		return "- " + n.Name
	}
	return fmt.Sprintf("- %s: %s", n.Name, strings.Join(groups, "; "))
}
