package summary

import (
	"context"
	"sync"
)

// MockLLMClient answers every prompt with Response and counts calls.
type MockLLMClient struct {
	Response string
	Err      error

	mu    sync.Mutex
	Calls int
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
