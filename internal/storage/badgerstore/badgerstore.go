// Package badgerstore persists entity sets, merged pairs and merge history in BadgerDB.
//
// Key layout:
//
//	set/<domain>/<id>  JSON entity set
//	pairs/<domain>     JSON merged-pairs record
//	history            JSON history state
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

const (
	prefixSet   = "set/"
	prefixPairs = "pairs/"
	keyHistory  = "history"

	backend = "badger"
)

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("badgerstore: closed")

type Options struct {
	DataDir    string
	InMemory   bool
	SyncWrites bool
}

type Store struct {
	mu     sync.RWMutex
	db     *badger.DB
	closed bool
}

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory is Open for tests.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

func setKey(domain, id string) []byte {
	return []byte(prefixSet + domain + "/" + id)
}

func pairsKey(domain string) []byte {
	return []byte(prefixPairs + domain)
}

func (s *Store) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

func (s *Store) Domains(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSet)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), prefixSet)
			if domain, _, ok := strings.Cut(rest, "/"); ok {
				seen[domain] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorageFailure(backend, "list domains", err)
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// LoadEntitySets returns the sets of domain ordered by timestamp, then id.
func (s *Store) LoadEntitySets(ctx context.Context, domain string) ([]*model.EntitySet, error) {
	var sets []*model.EntitySet
	err := s.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixSet + domain + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var set model.EntitySet
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &set)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			sets = append(sets, &set)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorageFailure(backend, "load entity sets", err)
	}
	sort.Slice(sets, func(i, j int) bool {
		if !sets[i].Timestamp.Equal(sets[j].Timestamp) {
			return sets[i].Timestamp.Before(sets[j].Timestamp)
		}
		return sets[i].ID < sets[j].ID
	})
	return sets, nil
}

func (s *Store) SaveEntitySet(ctx context.Context, set *model.EntitySet) error {
	if set == nil || set.ID == "" {
		return apperrors.NewValidationError("entity set id is required")
	}
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encoding entity set %s: %w", set.ID, err)
	}
	if err := s.update(func(txn *badger.Txn) error {
		return txn.Set(setKey(set.Domain, set.ID), data)
	}); err != nil {
		return apperrors.NewStorageFailure(backend, "save entity set", err)
	}
	return nil
}

func (s *Store) DeleteEntitySet(ctx context.Context, domain, id string) error {
	err := s.update(func(txn *badger.Txn) error {
		key := setKey(domain, id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return apperrors.NewNotFound("entity set", id)
	}
	if err != nil {
		return apperrors.NewStorageFailure(backend, "delete entity set", err)
	}
	return nil
}

func (s *Store) LoadMergedPairs(ctx context.Context, domain string) (*model.MergedPairs, error) {
	pairs := model.NewMergedPairs(domain)
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get(pairsKey(domain))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, pairs)
		})
	})
	if err != nil {
		return nil, apperrors.NewStorageFailure(backend, "load merged pairs", err)
	}
	if pairs.Primaries == nil {
		pairs.Primaries = make(map[string]string)
	}
	return pairs, nil
}

func (s *Store) SaveMergedPairs(ctx context.Context, pairs *model.MergedPairs) error {
	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("encoding merged pairs: %w", err)
	}
	if err := s.update(func(txn *badger.Txn) error {
		return txn.Set(pairsKey(pairs.Domain), data)
	}); err != nil {
		return apperrors.NewStorageFailure(backend, "save merged pairs", err)
	}
	return nil
}

// Load implements history.Store.
func (s *Store) Load(ctx context.Context) (model.HistoryState, error) {
	var state model.HistoryState
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyHistory))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		return model.HistoryState{}, apperrors.NewStorageFailure(backend, "load history", err)
	}
	return state, nil
}

// Save implements history.Store.
func (s *Store) Save(ctx context.Context, state model.HistoryState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyHistory), data)
	}); err != nil {
		return apperrors.NewStorageFailure(backend, "save history", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
