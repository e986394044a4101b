package llm

import (
	"context"
)

// LLMClient turns a prompt into a completion. Implementations must be safe for concurrent use.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SystemPrompt is sent ahead of every prompt. All callers expect a single JSON object back.
const SystemPrompt = "You extract structured facts for a knowledge graph. Answer with one JSON object and nothing else."
