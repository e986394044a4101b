package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEntitySetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	older := &model.EntitySet{ID: "b", Domain: "construction", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Entities: map[string][]model.Entity{"people": {{ID: "e1", Name: "Mike", Category: "people"}}}}
	newer := &model.EntitySet{ID: "a", Domain: "construction", Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	other := &model.EntitySet{ID: "c", Domain: "cybersecurity"}

	for _, set := range []*model.EntitySet{newer, older, other} {
		require.NoError(t, s.SaveEntitySet(ctx, set))
	}

	sets, err := s.LoadEntitySets(ctx, "construction")
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "b", sets[0].ID)
	assert.Equal(t, "Mike", sets[0].Entities["people"][0].Name)

	domains, err := s.Domains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"construction", "cybersecurity"}, domains)

	require.NoError(t, s.DeleteEntitySet(ctx, "construction", "a"))
	err = s.DeleteEntitySet(ctx, "construction", "a")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestMergedPairsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	empty, err := s.LoadMergedPairs(ctx, "cybersecurity")
	require.NoError(t, err)
	assert.Empty(t, empty.Keys)

	pairs := model.NewMergedPairs("cybersecurity")
	pairs.Add("e2", "e1")
	require.NoError(t, s.SaveMergedPairs(ctx, pairs))

	got, err := s.LoadMergedPairs(ctx, "cybersecurity")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1|e2"}, got.Keys)
	primary, ok := got.Primary("e1|e2")
	assert.True(t, ok)
	assert.Equal(t, "e2", primary)
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	state, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.History)

	require.NoError(t, s.Save(ctx, model.HistoryState{
		History:   []model.MergeRecord{{ID: "r1", Type: model.MergeTypeAuto}},
		RedoStack: []string{"r1"},
	}))
	state, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MergeTypeAuto, state.History[0].Type)
	assert.Equal(t, []string{"r1"}, state.RedoStack)
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.LoadEntitySets(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
