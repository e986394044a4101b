// Package storage declares the persistence boundary for entity sets and merged pairs.
// Backends live in the sub-packages: filestore, badgerstore, sqlitestore and memstore.
package storage

import (
	"context"

	"github.com/agenthands/graphkeeper/internal/core/model"
)

// EntitySetStore reads and writes entity sets grouped by domain.
type EntitySetStore interface {
	Domains(ctx context.Context) ([]string, error)
	LoadEntitySets(ctx context.Context, domain string) ([]*model.EntitySet, error)
	SaveEntitySet(ctx context.Context, set *model.EntitySet) error
	DeleteEntitySet(ctx context.Context, domain, id string) error
}

// MergedPairsStore persists the accepted merges of each domain. A domain without a record
// loads as an empty MergedPairs.
type MergedPairsStore interface {
	LoadMergedPairs(ctx context.Context, domain string) (*model.MergedPairs, error)
	SaveMergedPairs(ctx context.Context, pairs *model.MergedPairs) error
}

// Store is a backend that holds both.
type Store interface {
	EntitySetStore
	MergedPairsStore
	Close() error
}

const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)
