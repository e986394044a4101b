package extraction

import (
	"context"
	"sync"
)

// MockLLMClient returns a canned response and records the prompts it receives.
type MockLLMClient struct {
	Response string
	Err      error

	mu      sync.Mutex
	Prompts []string
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
