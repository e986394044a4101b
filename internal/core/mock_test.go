package core

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type executedQuery struct {
	Query  string
	Params map[string]any
}

type MockDriver struct {
	mu         sync.Mutex
	Executed   []executedQuery
	MockResult neo4j.EagerResult
	Err        error
	Indexed    bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Executed = append(m.Executed, executedQuery{Query: query, Params: params})
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	return m.MockResult, nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	m.Indexed = true
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	return nil
}

// rows returns the rows parameter of the first executed query matching q.
func (m *MockDriver) rows(q string) []map[string]any {
	for _, e := range m.Executed {
		if e.Query != q {
			continue
		}
		raw, _ := e.Params["rows"].([]any)
		out := make([]map[string]any, len(raw))
		for i, r := range raw {
			out[i] = r.(map[string]any)
		}
		return out
	}
	return nil
}
