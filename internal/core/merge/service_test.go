package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/dedupe"
	"github.com/agenthands/graphkeeper/internal/core/history"
	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/storage/memstore"
)

const domain = "cybersecurity"

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	set := &model.EntitySet{
		ID:        "doc-1",
		Domain:    domain,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Entities: map[string][]model.Entity{
			"security_tools": {
				{ID: "e1", Name: "SIEM", Confidence: 0.85},
				{ID: "e2", Name: "Security Information and Event Management", Confidence: 0.78},
				{ID: "e3", Name: "Firewall Appliance", Confidence: 0.9},
				{ID: "e4", Name: "Firewall Appliances", Confidence: 0.6},
				{ID: "e5", Name: "Project Alpha", Confidence: 0.7},
				{ID: "e6", Name: "Project Beta", Confidence: 0.7},
			},
		},
	}
	set.Normalize()
	require.NoError(t, store.SaveEntitySet(context.Background(), set))

	svc := NewService(store, store, dedupe.NewDetector(dedupe.DefaultConfig(), zap.NewNop()),
		Options{HistoryStore: store}, zap.NewNop())
	return svc, store
}

func TestCandidatesExcludeMergedPairs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	before, err := svc.Candidates(ctx, domain)
	require.NoError(t, err)
	require.Len(t, before, 3)

	_, _, err = svc.ManualMerge(ctx, domain, "e1", "e2", "analyst")
	require.NoError(t, err)

	after, err := svc.Candidates(ctx, domain)
	require.NoError(t, err)
	require.Len(t, after, 2)
	for _, c := range after {
		assert.NotEqual(t, model.PairKey("e1", "e2"), c.Key())
	}
}

func TestAutoMergeAcceptsOnlyAutoMergeable(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	res, err := svc.AutoMerge(ctx, domain, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.MergesPerformed)
	assert.ElementsMatch(t, []string{model.PairKey("e1", "e2"), model.PairKey("e3", "e4")}, res.MergedPairs)
	require.Len(t, res.Records, 2)
	for _, r := range res.Records {
		assert.Equal(t, model.MergeTypeAuto, r.Type)
		assert.Equal(t, res.BatchID, r.Metadata.BatchID)
	}

	pairs, err := store.LoadMergedPairs(ctx, domain)
	require.NoError(t, err)
	assert.Len(t, pairs.Keys, 2)

	entities, err := svc.ConsolidatedEntities(ctx, domain)
	require.NoError(t, err)
	assert.Len(t, entities, 4)

	again, err := svc.AutoMerge(ctx, domain, "")
	require.NoError(t, err)
	assert.Zero(t, again.MergesPerformed, "accepted pairs never resurface")
}

func TestManualMergeValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, _, err := svc.ManualMerge(ctx, domain, "e1", "e1", "")
	assert.ErrorIs(t, err, apperrors.ErrSelfMerge)

	_, _, err = svc.ManualMerge(ctx, domain, "e1", "", "")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))

	_, _, err = svc.ManualMerge(ctx, domain, "e1", "missing", "")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))

	_, _, err = svc.ManualMerge(ctx, domain, "e1", "e2", "")
	require.NoError(t, err)
	// e2 is folded into e1 now and no longer addressable.
	_, _, err = svc.ManualMerge(ctx, domain, "e3", "e2", "")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestUndoRedoRestoresMergedPairs(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	result, rec, err := svc.ManualMerge(ctx, domain, "e3", "e4", "analyst")
	require.NoError(t, err)
	assert.Equal(t, []string{"Firewall Appliances"}, result.MergedFrom)
	assert.Equal(t, "analyst", rec.Metadata.User)

	undone, err := svc.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MergeStatusUndone, undone.Status)
	pairs, _ := store.LoadMergedPairs(ctx, domain)
	assert.Empty(t, pairs.Keys)
	entities, _ := svc.ConsolidatedEntities(ctx, domain)
	assert.Len(t, entities, 6)

	redone, err := svc.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MergeStatusCompleted, redone.Status)
	assert.Equal(t, rec.Impact, redone.Impact)
	pairs, _ = store.LoadMergedPairs(ctx, domain)
	assert.Equal(t, []string{model.PairKey("e3", "e4")}, pairs.Keys)

	_, err = svc.Redo(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNothingToRedo)

	state, _ := store.Load(ctx)
	assert.Len(t, state.History, 1)
}

func TestChainAndStatistics(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, _, err := svc.ManualMerge(ctx, domain, "e1", "e2", "")
	require.NoError(t, err)
	_, _, err = svc.ManualMerge(ctx, domain, "e1", "e5", "")
	require.NoError(t, err)

	chain := svc.Chain("e1")
	require.Len(t, chain, 2)
	assert.Equal(t, "e2", chain[0].SecondaryEntity.ID)
	assert.Equal(t, "e5", chain[1].SecondaryEntity.ID)
	assert.Empty(t, svc.Chain("e6"))

	stats := svc.Statistics(history.TimeRange{})
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.Equal(t, 2, stats.ByCategory["security_tools"])

	page := svc.Records(history.Filter{EntityID: "e5"})
	assert.Equal(t, 1, page.Total)

	require.NoError(t, svc.ClearHistory(ctx))
	assert.Zero(t, svc.Records(history.Filter{}).Total)
}

type failingPairs struct {
	*memstore.Store
}

func (f failingPairs) SaveMergedPairs(ctx context.Context, p *model.MergedPairs) error {
	return errors.New("read-only")
}

func TestUndoFailureKeepsHistoryIntact(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	set := &model.EntitySet{ID: "d", Domain: domain, Entities: map[string][]model.Entity{
		"security_tools": {{ID: "a", Name: "SIEM", Confidence: 0.9}, {ID: "b", Name: "siem", Confidence: 0.5}},
	}}
	set.Normalize()
	require.NoError(t, store.SaveEntitySet(ctx, set))

	ok := NewService(store, store, dedupe.NewDetector(dedupe.DefaultConfig(), zap.NewNop()), Options{HistoryStore: store}, zap.NewNop())
	_, _, err := ok.ManualMerge(ctx, domain, "a", "b", "")
	require.NoError(t, err)

	broken := NewService(store, failingPairs{store}, dedupe.NewDetector(dedupe.DefaultConfig(), zap.NewNop()), Options{HistoryStore: store}, zap.NewNop())
	require.NoError(t, broken.Load(ctx))

	_, err = broken.Undo(ctx)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeRestore))
	assert.True(t, broken.History().CanUndo())
}
