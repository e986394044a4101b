package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// maxTokens bounds a completion. Extraction output for one document fits comfortably.
const maxTokens = 4096

type ClaudeClient struct {
	client *anthropic.Client
	model  string
}

func NewClaudeClient(apiKey string, model string, baseURL string) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(apiKey, opts...)
	return &ClaudeClient{
		client: client,
		model:  model,
	}
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:  anthropic.Model(c.model),
		System: SystemPrompt,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(prompt),
				},
			},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}

	var out strings.Builder
	for _, part := range resp.Content {
		if part.Type == anthropic.MessagesContentTypeText && part.Text != nil {
			out.WriteString(*part.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude: no text in response (stop reason %s)", resp.StopReason)
	}
	return out.String(), nil
}
