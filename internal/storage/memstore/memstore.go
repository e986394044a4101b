// Package memstore keeps entity sets, merged pairs and merge history in process memory.
// Values are deep-copied on the way in and out, so callers never share state with the store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

type Store struct {
	mu      sync.RWMutex
	sets    map[string]map[string]*model.EntitySet
	pairs   map[string]*model.MergedPairs
	history model.HistoryState
}

func New() *Store {
	return &Store{
		sets:  make(map[string]map[string]*model.EntitySet),
		pairs: make(map[string]*model.MergedPairs),
	}
}

func (s *Store) Domains(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sets))
	for d, sets := range s.sets {
		if len(sets) > 0 {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadEntitySets returns the sets of domain ordered by timestamp, then id.
func (s *Store) LoadEntitySets(ctx context.Context, domain string) ([]*model.EntitySet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.EntitySet, 0, len(s.sets[domain]))
	for _, set := range s.sets[domain] {
		out = append(out, set.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveEntitySet(ctx context.Context, set *model.EntitySet) error {
	if set == nil || set.ID == "" {
		return apperrors.NewValidationError("entity set id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[set.Domain] == nil {
		s.sets[set.Domain] = make(map[string]*model.EntitySet)
	}
	s.sets[set.Domain][set.ID] = set.Clone()
	return nil
}

func (s *Store) DeleteEntitySet(ctx context.Context, domain, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sets[domain][id]; !ok {
		return apperrors.NewNotFound("entity set", id)
	}
	delete(s.sets[domain], id)
	return nil
}

func (s *Store) LoadMergedPairs(ctx context.Context, domain string) (*model.MergedPairs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.pairs[domain]; ok {
		return p.Clone(), nil
	}
	return model.NewMergedPairs(domain), nil
}

func (s *Store) SaveMergedPairs(ctx context.Context, pairs *model.MergedPairs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pairs.Domain] = pairs.Clone()
	return nil
}

// Load implements history.Store.
func (s *Store) Load(ctx context.Context) (model.HistoryState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.history), nil
}

// Save implements history.Store.
func (s *Store) Save(ctx context.Context, state model.HistoryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = copyState(state)
	return nil
}

func (s *Store) Close() error { return nil }

func copyState(st model.HistoryState) model.HistoryState {
	out := model.HistoryState{
		History:   make([]model.MergeRecord, len(st.History)),
		UndoStack: append([]string{}, st.UndoStack...),
		RedoStack: append([]string{}, st.RedoStack...),
	}
	for i, r := range st.History {
		r.PrimaryEntity = r.PrimaryEntity.Clone()
		r.SecondaryEntity = r.SecondaryEntity.Clone()
		r.ResultingEntity = r.ResultingEntity.Clone()
		out.History[i] = r
	}
	return out
}
