// Package history keeps the audit trail of merges and the undo/redo stacks over it.
//
// Each MergeRecord snapshots the primary, secondary and resulting entities, so a record is
// enough for the Restorer to reverse or replay the merge. The record list is a bounded ring:
// the oldest records age out past MaxHistorySize and their ids leave both stacks with them.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/logger"
)

const (
	DefaultMaxHistorySize = 1000
	DefaultMaxUndoSize    = 50
)

// Store persists the history state between runs.
type Store interface {
	Load(ctx context.Context) (model.HistoryState, error)
	Save(ctx context.Context, state model.HistoryState) error
}

// Restorer applies the entity-store side of undo and redo.
type Restorer interface {
	Undo(ctx context.Context, rec model.MergeRecord) error
	Redo(ctx context.Context, rec model.MergeRecord) error
}

type Options struct {
	MaxHistorySize int
	MaxUndoSize    int
	Now            func() time.Time
}

// Operation describes a merge that has already been applied.
type Operation struct {
	Type       model.MergeType
	Primary    model.Entity
	Secondary  model.Entity
	Result     model.Entity
	Similarity model.Similarity
	Metadata   model.MergeMetadata
}

type History struct {
	mu       sync.Mutex
	store    Store
	restorer Restorer
	opts     Options
	log      *zap.Logger

	records   []model.MergeRecord
	undoStack []string
	redoStack []string
}

func New(store Store, restorer Restorer, opts Options, log *zap.Logger) *History {
	if opts.MaxHistorySize <= 0 {
		opts.MaxHistorySize = DefaultMaxHistorySize
	}
	if opts.MaxUndoSize <= 0 {
		opts.MaxUndoSize = DefaultMaxUndoSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &History{
		store:    store,
		restorer: restorer,
		opts:     opts,
		log:      logger.OrGlobal(log),
	}
}

// Load replaces the in-memory state with the persisted one. A nil store is a no-op.
func (h *History) Load(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	state, err := h.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading merge history: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = state.History
	h.undoStack = state.UndoStack
	h.redoStack = state.RedoStack
	h.evict()
	h.log.Info("Loaded merge history",
		zap.Int("records", len(h.records)),
		zap.Int("undo", len(h.undoStack)),
		zap.Int("redo", len(h.redoStack)))
	return nil
}

// RecordMerge appends a completed merge. Undoable merges go on the undo stack and invalidate
// any redo history.
func (h *History) RecordMerge(ctx context.Context, op Operation) (model.MergeRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := model.MergeRecord{
		ID:              uuid.NewString(),
		Timestamp:       h.opts.Now(),
		Type:            op.Type,
		Status:          model.MergeStatusCompleted,
		PrimaryEntity:   op.Primary.Clone(),
		SecondaryEntity: op.Secondary.Clone(),
		ResultingEntity: op.Result.Clone(),
		Similarity:      op.Similarity,
		Impact:          ComputeImpact(op.Primary, op.Secondary, op.Result),
		Metadata:        op.Metadata,
	}
	if rec.Type == "" {
		rec.Type = model.MergeTypeManual
	}

	h.records = append(h.records, rec)
	if rec.Metadata.Undoable {
		h.undoStack = append(h.undoStack, rec.ID)
		h.redoStack = nil
	}
	h.evict()

	h.log.Info("Recorded merge",
		zap.String("id", rec.ID),
		zap.String("type", string(rec.Type)),
		zap.String("primary", rec.PrimaryEntity.ID),
		zap.String("secondary", rec.SecondaryEntity.ID))
	return rec, h.persist(ctx)
}

// UndoLastMerge reverses the most recent undoable merge. When the restorer fails the record
// goes back on the undo stack untouched. A failure to persist the history afterwards is logged
// and does not fail the call.
func (h *History) UndoLastMerge(ctx context.Context) (model.MergeRecord, error) {
	return h.step(ctx, "undo")
}

// RedoLastUndo replays the most recently undone merge.
func (h *History) RedoLastUndo(ctx context.Context) (model.MergeRecord, error) {
	return h.step(ctx, "redo")
}

func (h *History) step(ctx context.Context, op string) (model.MergeRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	from, to := &h.undoStack, &h.redoStack
	empty, status := error(apperrors.ErrNothingToUndo), model.MergeStatusUndone
	if op == "redo" {
		from, to = &h.redoStack, &h.undoStack
		empty, status = apperrors.ErrNothingToRedo, model.MergeStatusCompleted
	}
	if len(*from) == 0 {
		return model.MergeRecord{}, empty
	}

	id := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]

	idx := h.indexOf(id)
	if idx < 0 {
		*from = append(*from, id)
		return model.MergeRecord{}, apperrors.NewRestoreFailure(op, id, apperrors.NewNotFound("merge record", id))
	}
	rec := h.records[idx]

	var err error
	if h.restorer != nil {
		if op == "redo" {
			err = h.restorer.Redo(ctx, rec)
		} else {
			err = h.restorer.Undo(ctx, rec)
		}
	}
	if err != nil {
		*from = append(*from, id)
		h.log.Error("Merge restoration failed",
			zap.String("op", op),
			zap.String("id", id),
			zap.Error(err))
		return rec, apperrors.NewRestoreFailure(op, id, err)
	}

	now := h.opts.Now()
	rec.Status = status
	rec.StatusChangedAt = &now
	h.records[idx] = rec
	*to = append(*to, id)
	h.trimUndo()

	h.log.Info("Merge "+op+" applied",
		zap.String("id", id),
		zap.String("primary", rec.PrimaryEntity.ID),
		zap.String("secondary", rec.SecondaryEntity.ID))
	// The entities are already restored; the next successful persist carries this state.
	if err := h.persist(ctx); err != nil {
		h.log.Warn("Merge "+op+" applied but history not saved", zap.String("id", id), zap.Error(err))
	}
	return rec, nil
}

func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack) > 0
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack) > 0
}

// Get returns the record with id.
func (h *History) Get(id string) (model.MergeRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx := h.indexOf(id); idx >= 0 {
		return h.records[idx], nil
	}
	return model.MergeRecord{}, apperrors.NewNotFound("merge record", id)
}

// State returns a copy of the persisted shape.
func (h *History) State() model.HistoryState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot()
}

// Clear drops every record and both stacks.
func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
	h.undoStack = nil
	h.redoStack = nil
	h.log.Info("Cleared merge history")
	return h.persist(ctx)
}

func (h *History) snapshot() model.HistoryState {
	return model.HistoryState{
		History:   append([]model.MergeRecord{}, h.records...),
		UndoStack: append([]string{}, h.undoStack...),
		RedoStack: append([]string{}, h.redoStack...),
	}
}

func (h *History) persist(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	if err := h.store.Save(ctx, h.snapshot()); err != nil {
		h.log.Error("Failed to persist merge history", zap.Error(err))
		return fmt.Errorf("saving merge history: %w", err)
	}
	return nil
}

func (h *History) indexOf(id string) int {
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].ID == id {
			return i
		}
	}
	return -1
}

// evict enforces both bounds. Ids of records that aged out leave the stacks.
func (h *History) evict() {
	if over := len(h.records) - h.opts.MaxHistorySize; over > 0 {
		gone := make(map[string]struct{}, over)
		for _, r := range h.records[:over] {
			gone[r.ID] = struct{}{}
		}
		h.records = append([]model.MergeRecord(nil), h.records[over:]...)
		h.undoStack = without(h.undoStack, gone)
		h.redoStack = without(h.redoStack, gone)
	}
	h.trimUndo()
}

func (h *History) trimUndo() {
	if over := len(h.undoStack) - h.opts.MaxUndoSize; over > 0 {
		h.undoStack = append([]string(nil), h.undoStack[over:]...)
	}
}

func without(ids []string, gone map[string]struct{}) []string {
	out := ids[:0]
	for _, id := range ids {
		if _, ok := gone[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// ComputeImpact summarizes what folding secondary into primary did to the graph.
func ComputeImpact(primary, secondary, result model.Entity) model.MergeImpact {
	had := relationshipKeys(primary)
	kept := relationshipKeys(result)

	impact := model.MergeImpact{
		ConfidenceDelta:  result.Confidence - primary.Confidence,
		ChildrenMerged:   len(secondary.Children),
		EntityCountDelta: -1,
	}
	for k := range kept {
		if _, ok := had[k]; !ok {
			impact.RelationshipsAdded++
		}
	}
	for k := range relationshipKeys(secondary) {
		if _, ok := kept[k]; !ok {
			impact.RelationshipsRemoved++
		}
	}
	return impact
}

func relationshipKeys(e model.Entity) map[string]struct{} {
	out := make(map[string]struct{}, len(e.Relationships))
	for _, r := range e.Relationships {
		out[r.Type+"\x00"+r.Target] = struct{}{}
	}
	return out
}
