package driver

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/logger"
)

type MemgraphDriver struct {
	Driver neo4j.DriverWithContext
	log    *zap.Logger
}

func NewMemgraphDriver(ctx context.Context, uri, username, password string, log *zap.Logger) (*MemgraphDriver, error) {
	log = logger.OrGlobal(log)
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}

	log.Info("Connected to Memgraph", zap.String("uri", uri))
	return &MemgraphDriver{Driver: driver, log: log}, nil
}

func (d *MemgraphDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *MemgraphDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (d *MemgraphDriver) BuildIndices(ctx context.Context) error {
	for _, q := range IndexQueries {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			// Memgraph rejects re-creating an existing index.
			d.log.Warn("Failed to create index", zap.String("query", q), zap.Error(err))
		}
	}
	return nil
}
