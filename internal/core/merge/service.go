package merge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/dedupe"
	"github.com/agenthands/graphkeeper/internal/core/history"
	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/logger"
	"github.com/agenthands/graphkeeper/internal/storage"
)

// Service is the single writer for merged pairs and merge history. Every mutating call holds
// one lock for its whole duration, so concurrent requests are serialized.
type Service struct {
	mu       sync.Mutex
	sets     storage.EntitySetStore
	pairs    storage.MergedPairsStore
	detector *dedupe.Detector
	history  *history.History
	log      *zap.Logger
}

type Options struct {
	HistoryStore history.Store
	History      history.Options
}

func NewService(sets storage.EntitySetStore, pairs storage.MergedPairsStore, detector *dedupe.Detector, opts Options, log *zap.Logger) *Service {
	s := &Service{
		sets:     sets,
		pairs:    pairs,
		detector: detector,
		log:      logger.OrGlobal(log),
	}
	s.history = history.New(opts.HistoryStore, restorer{s}, opts.History, s.log)
	return s
}

// Load restores persisted history.
func (s *Service) Load(ctx context.Context) error {
	return s.history.Load(ctx)
}

func (s *Service) History() *history.History {
	return s.history
}

// Entities returns the raw entity population of domain.
func (s *Service) Entities(ctx context.Context, domain string) ([]model.Entity, error) {
	sets, err := s.sets.LoadEntitySets(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("loading entity sets for %s: %w", domain, err)
	}
	var out []model.Entity
	for _, set := range sets {
		out = append(out, set.Flatten()...)
	}
	return out, nil
}

// ConsolidatedEntities returns the population of domain with accepted merges folded in.
func (s *Service) ConsolidatedEntities(ctx context.Context, domain string) ([]model.Entity, error) {
	entities, pairs, err := s.load(ctx, domain)
	if err != nil {
		return nil, err
	}
	return Consolidate(entities, pairs), nil
}

// ConsolidatedView is ConsolidatedEntities plus the merged-away ids mapped to their primaries.
func (s *Service) ConsolidatedView(ctx context.Context, domain string) ([]model.Entity, map[string]string, error) {
	entities, pairs, err := s.load(ctx, domain)
	if err != nil {
		return nil, nil, err
	}
	out, aliases := consolidate(entities, pairs)
	return out, aliases, nil
}

func (s *Service) load(ctx context.Context, domain string) ([]model.Entity, *model.MergedPairs, error) {
	entities, err := s.Entities(ctx, domain)
	if err != nil {
		return nil, nil, err
	}
	pairs, err := s.pairs.LoadMergedPairs(ctx, domain)
	if err != nil {
		return nil, nil, fmt.Errorf("loading merged pairs for %s: %w", domain, err)
	}
	return entities, pairs, nil
}

// Candidates runs duplicate detection over the consolidated view of domain.
func (s *Service) Candidates(ctx context.Context, domain string) ([]model.MergeCandidate, error) {
	entities, pairs, err := s.load(ctx, domain)
	if err != nil {
		return nil, err
	}
	candidates := s.detector.FindCandidates(Consolidate(entities, pairs), pairs)
	if candidates == nil {
		candidates = []model.MergeCandidate{}
	}
	return candidates, nil
}

type AutoMergeResult struct {
	MergesPerformed int                 `json:"mergesPerformed"`
	MergedPairs     []string            `json:"mergedPairs"`
	BatchID         string              `json:"batchId"`
	Records         []model.MergeRecord `json:"records"`
}

// AutoMerge accepts every auto-mergeable candidate of domain. An entity takes part in at most
// one merge per batch; the next run picks up whatever the consolidated view still proposes.
func (s *Service) AutoMerge(ctx context.Context, domain, user string) (AutoMergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := AutoMergeResult{MergedPairs: []string{}, Records: []model.MergeRecord{}, BatchID: uuid.NewString()}

	entities, pairs, err := s.load(ctx, domain)
	if err != nil {
		return res, err
	}
	view := Consolidate(entities, pairs)
	byID := indexEntities(view)

	type accepted struct {
		candidate model.MergeCandidate
		result    model.Entity
	}
	var batch []accepted
	used := make(map[string]bool)
	for _, c := range s.detector.FindCandidates(view, pairs) {
		if !c.AutoMergeable || used[c.Primary.ID] || used[c.Secondary.ID] {
			continue
		}
		primary, secondary := byID[c.Primary.ID], byID[c.Secondary.ID]
		used[primary.ID], used[secondary.ID] = true, true
		if pairs.Add(primary.ID, secondary.ID) {
			res.MergedPairs = append(res.MergedPairs, c.Key())
		}
		batch = append(batch, accepted{candidate: c, result: Fold(primary, secondary)})
	}
	if len(batch) == 0 {
		return res, nil
	}

	if err := s.pairs.SaveMergedPairs(ctx, pairs); err != nil {
		return AutoMergeResult{MergedPairs: []string{}, Records: []model.MergeRecord{}, BatchID: res.BatchID},
			apperrors.NewStorageFailure("merged pairs", "save", err)
	}

	for _, a := range batch {
		rec, err := s.history.RecordMerge(ctx, history.Operation{
			Type:       model.MergeTypeAuto,
			Primary:    byID[a.candidate.Primary.ID],
			Secondary:  byID[a.candidate.Secondary.ID],
			Result:     a.result,
			Similarity: a.candidate.Similarity,
			Metadata: model.MergeMetadata{
				User:     user,
				Source:   "auto_merge",
				BatchID:  res.BatchID,
				Domain:   domain,
				Undoable: true,
			},
		})
		if err != nil {
			s.log.Error("Failed to persist merge record", zap.String("pair", a.candidate.Key()), zap.Error(err))
		}
		res.Records = append(res.Records, rec)
		res.MergesPerformed++
	}

	s.log.Info("Auto-merge completed",
		zap.String("domain", domain),
		zap.String("batch", res.BatchID),
		zap.Int("merges", res.MergesPerformed))
	return res, nil
}

// ManualMerge folds secondaryID into primaryID. Both must be present in the consolidated view.
func (s *Service) ManualMerge(ctx context.Context, domain, primaryID, secondaryID, user string) (model.Entity, model.MergeRecord, error) {
	if primaryID == "" || secondaryID == "" {
		return model.Entity{}, model.MergeRecord{}, apperrors.NewValidationError("primaryId and secondaryId are required")
	}
	if primaryID == secondaryID {
		return model.Entity{}, model.MergeRecord{}, apperrors.ErrSelfMerge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entities, pairs, err := s.load(ctx, domain)
	if err != nil {
		return model.Entity{}, model.MergeRecord{}, err
	}
	byID := indexEntities(Consolidate(entities, pairs))
	primary, ok := byID[primaryID]
	if !ok {
		return model.Entity{}, model.MergeRecord{}, apperrors.NewNotFound("entity", primaryID)
	}
	secondary, ok := byID[secondaryID]
	if !ok {
		return model.Entity{}, model.MergeRecord{}, apperrors.NewNotFound("entity", secondaryID)
	}

	result := Fold(primary, secondary)
	pairs.Add(primaryID, secondaryID)
	if err := s.pairs.SaveMergedPairs(ctx, pairs); err != nil {
		return model.Entity{}, model.MergeRecord{}, apperrors.NewStorageFailure("merged pairs", "save", err)
	}

	rec, err := s.history.RecordMerge(ctx, history.Operation{
		Type:       model.MergeTypeManual,
		Primary:    primary,
		Secondary:  secondary,
		Result:     result,
		Similarity: s.detector.Score(primary, secondary),
		Metadata: model.MergeMetadata{
			User:     user,
			Source:   "manual_merge",
			Domain:   domain,
			Undoable: true,
		},
	})
	if err != nil {
		s.log.Error("Failed to persist merge record", zap.String("primary", primaryID), zap.Error(err))
	}
	return result, rec, nil
}

// Undo reverses the most recent undoable merge across all domains.
func (s *Service) Undo(ctx context.Context) (model.MergeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.UndoLastMerge(ctx)
}

// Redo replays the most recently undone merge.
func (s *Service) Redo(ctx context.Context) (model.MergeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.RedoLastUndo(ctx)
}

func (s *Service) Records(f history.Filter) history.Page {
	return s.history.Records(f)
}

func (s *Service) Statistics(tr history.TimeRange) history.Statistics {
	return s.history.GetStatistics(tr)
}

func (s *Service) Chain(entityID string) []model.MergeRecord {
	chain := s.history.GetMergeChain(entityID)
	if chain == nil {
		chain = []model.MergeRecord{}
	}
	return chain
}

func (s *Service) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Clear(ctx)
}

func indexEntities(entities []model.Entity) map[string]model.Entity {
	out := make(map[string]model.Entity, len(entities))
	for _, e := range entities {
		if _, ok := out[e.ID]; !ok {
			out[e.ID] = e
		}
	}
	return out
}

// restorer applies undo and redo to the merged pairs of the record's domain. It runs with the
// service lock already held by Undo or Redo.
type restorer struct {
	s *Service
}

func (r restorer) Undo(ctx context.Context, rec model.MergeRecord) error {
	pairs, err := r.s.pairs.LoadMergedPairs(ctx, rec.Metadata.Domain)
	if err != nil {
		return err
	}
	if !pairs.Remove(rec.PrimaryEntity.ID, rec.SecondaryEntity.ID) {
		r.s.log.Warn("Undone merge was not in merged pairs",
			zap.String("domain", rec.Metadata.Domain),
			zap.String("record", rec.ID))
	}
	return r.s.pairs.SaveMergedPairs(ctx, pairs)
}

func (r restorer) Redo(ctx context.Context, rec model.MergeRecord) error {
	pairs, err := r.s.pairs.LoadMergedPairs(ctx, rec.Metadata.Domain)
	if err != nil {
		return err
	}
	pairs.Add(rec.PrimaryEntity.ID, rec.SecondaryEntity.ID)
	return r.s.pairs.SaveMergedPairs(ctx, pairs)
}
