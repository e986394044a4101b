// Package filestore keeps entity sets and merged pairs as JSON files on disk:
//
//	<root>/<domain>/<set-id>.json
//	<root>/<domain>/merged-pairs.json
//	<root>/merge-history.json
//
// Writes go to a temporary file that is renamed into place.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/logger"
)

const (
	MergedPairsFile = "merged-pairs.json"
	HistoryFile     = "merge-history.json"

	backend = "file"
)

type Store struct {
	mu   sync.RWMutex
	root string
	log  *zap.Logger
}

func New(root string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{root: root, log: logger.OrGlobal(log)}, nil
}

func (s *Store) Root() string {
	return s.root
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// validSetID rejects ids whose file would collide with the store's own files or temp files.
func validSetID(id string) bool {
	return validName(id) && !strings.HasPrefix(id, ".") && id+".json" != MergedPairsFile
}

func (s *Store) domainDir(domain string) (string, error) {
	if !validName(domain) || strings.HasPrefix(domain, ".") || domain == HistoryFile {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid domain %q", domain))
	}
	return filepath.Join(s.root, domain), nil
}

func (s *Store) Domains(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperrors.NewStorageFailure(backend, "list domains", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadEntitySets reads every set file of domain. Unreadable files are logged and skipped so one
// corrupt document never hides the rest.
func (s *Store) LoadEntitySets(ctx context.Context, domain string) ([]*model.EntitySet, error) {
	dir, err := s.domainDir(domain)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*model.EntitySet{}, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageFailure(backend, "list entity sets", err)
	}

	sets := make([]*model.EntitySet, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || name == MergedPairsFile {
			continue
		}
		var set model.EntitySet
		if err := readJSON(filepath.Join(dir, name), &set); err != nil {
			s.log.Warn("Skipping unreadable entity set file",
				zap.String("domain", domain),
				zap.String("file", name),
				zap.Error(err))
			continue
		}
		if set.Domain == "" {
			set.Domain = domain
		}
		sets = append(sets, &set)
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
	if set == nil || !validSetID(set.ID) {
		return apperrors.NewValidationError(fmt.Sprintf("invalid entity set id %q: must be a plain file name other than %q", setID(set), strings.TrimSuffix(MergedPairsFile, ".json")))
	}
	dir, err := s.domainDir(set.Domain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(filepath.Join(dir, set.ID+".json"), set); err != nil {
		return apperrors.NewStorageFailure(backend, "save entity set", err)
	}
	return nil
}

func (s *Store) DeleteEntitySet(ctx context.Context, domain, id string) error {
	dir, err := s.domainDir(domain)
	if err != nil {
		return err
	}
	if !validSetID(id) {
		return apperrors.NewNotFound("entity set", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = os.Remove(filepath.Join(dir, id+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewNotFound("entity set", id)
	}
	if err != nil {
		return apperrors.NewStorageFailure(backend, "delete entity set", err)
	}
	return nil
}

func (s *Store) LoadMergedPairs(ctx context.Context, domain string) (*model.MergedPairs, error) {
	dir, err := s.domainDir(domain)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := model.NewMergedPairs(domain)
	err = readJSON(filepath.Join(dir, MergedPairsFile), pairs)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewMergedPairs(domain), nil
	}
	if err != nil {
		return nil, apperrors.NewStorageFailure(backend, "load merged pairs", err)
	}
	if pairs.Keys == nil {
		pairs.Keys = []string{}
	}
	if pairs.Primaries == nil {
		pairs.Primaries = make(map[string]string)
	}
	pairs.Domain = domain
	return pairs, nil
}

func (s *Store) SaveMergedPairs(ctx context.Context, pairs *model.MergedPairs) error {
	dir, err := s.domainDir(pairs.Domain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(filepath.Join(dir, MergedPairsFile), pairs); err != nil {
		return apperrors.NewStorageFailure(backend, "save merged pairs", err)
	}
	return nil
}

// Load implements history.Store.
func (s *Store) Load(ctx context.Context) (model.HistoryState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var state model.HistoryState
	err := readJSON(filepath.Join(s.root, HistoryFile), &state)
	if errors.Is(err, fs.ErrNotExist) {
		return model.HistoryState{}, nil
	}
	if err != nil {
		return model.HistoryState{}, apperrors.NewStorageFailure(backend, "load history", err)
	}
	return state, nil
}

// Save implements history.Store.
func (s *Store) Save(ctx context.Context, state model.HistoryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(filepath.Join(s.root, HistoryFile), state); err != nil {
		return apperrors.NewStorageFailure(backend, "save history", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func setID(set *model.EntitySet) string {
	if set == nil {
		return ""
	}
	return set.ID
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
