package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

type MockRestorer struct {
	UndoErr error
	RedoErr error
	Undone  []string
	Redone  []string
}

func (m *MockRestorer) Undo(ctx context.Context, rec model.MergeRecord) error {
	if m.UndoErr != nil {
		return m.UndoErr
	}
	m.Undone = append(m.Undone, rec.ID)
	return nil
}

func (m *MockRestorer) Redo(ctx context.Context, rec model.MergeRecord) error {
	if m.RedoErr != nil {
		return m.RedoErr
	}
	m.Redone = append(m.Redone, rec.ID)
	return nil
}

type MockStore struct {
	State   model.HistoryState
	Saves   int
	SaveErr error
}

func (m *MockStore) Load(ctx context.Context) (model.HistoryState, error) {
	return m.State, nil
}

func (m *MockStore) Save(ctx context.Context, state model.HistoryState) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.State = state
	m.Saves++
	return nil
}

// clock returns a Now func that advances one minute per call.
func clock() func() time.Time {
	t := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newHistory(r Restorer, s Store, opts Options) *History {
	if opts.Now == nil {
		opts.Now = clock()
	}
	return New(s, r, opts, zap.NewNop())
}

func op(primary, secondary string) Operation {
	p := model.Entity{ID: primary, Name: primary, Category: "security_tools", Confidence: 0.8, Type: "platform"}
	s := model.Entity{ID: secondary, Name: secondary, Category: "security_tools", Confidence: 0.9, Children: []string{"c1"}}
	res := p.Clone()
	res.Confidence = 0.9
	res.MergedFrom = []string{secondary}
	return Operation{
		Type:      model.MergeTypeManual,
		Primary:   p,
		Secondary: s,
		Result:    res,
		Metadata:  model.MergeMetadata{Undoable: true, Domain: "cybersecurity"},
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := &MockRestorer{}
	store := &MockStore{}
	h := newHistory(r, store, Options{})

	rec, err := h.RecordMerge(ctx, op("a", "b"))
	require.NoError(t, err)
	original := rec.Impact

	undone, err := h.UndoLastMerge(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MergeStatusUndone, undone.Status)
	assert.NotNil(t, undone.StatusChangedAt)
	assert.True(t, h.CanRedo())
	assert.False(t, h.CanUndo())

	redone, err := h.RedoLastUndo(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MergeStatusCompleted, redone.Status)
	assert.Equal(t, original, redone.Impact)
	assert.Equal(t, -1, redone.Impact.EntityCountDelta)
	assert.Equal(t, []string{rec.ID}, r.Undone)
	assert.Equal(t, []string{rec.ID}, r.Redone)

	assert.Equal(t, 3, store.Saves)
	assert.Equal(t, []string{rec.ID}, store.State.UndoStack)
	assert.Empty(t, store.State.RedoStack)
}

func TestEmptyStacksReportNothingToDo(t *testing.T) {
	h := newHistory(&MockRestorer{}, nil, Options{})

	_, err := h.UndoLastMerge(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNothingToUndo)

	_, err = h.RedoLastUndo(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNothingToRedo)
}

func TestFailedRestorationKeepsRecordOnStack(t *testing.T) {
	ctx := context.Background()
	r := &MockRestorer{UndoErr: errors.New("store offline")}
	h := newHistory(r, nil, Options{})

	rec, err := h.RecordMerge(ctx, op("a", "b"))
	require.NoError(t, err)

	_, err = h.UndoLastMerge(ctx)
	var rf *apperrors.RestoreFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, rec.ID, rf.RecordID)
	assert.True(t, h.CanUndo(), "record must be pushed back")

	got, err := h.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MergeStatusCompleted, got.Status)

	r.UndoErr = nil
	_, err = h.UndoLastMerge(ctx)
	assert.NoError(t, err)
}

func TestMissingRecordStaysOnStack(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{State: model.HistoryState{UndoStack: []string{"ghost"}}}
	h := newHistory(&MockRestorer{}, store, Options{})
	require.NoError(t, h.Load(ctx))

	_, err := h.UndoLastMerge(ctx)
	var rf *apperrors.RestoreFailure
	require.ErrorAs(t, err, &rf)
	var nf *apperrors.NotFound
	assert.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"ghost"}, h.State().UndoStack)
}

func TestUndoSucceedsWhenHistorySaveFails(t *testing.T) {
	ctx := context.Background()
	r := &MockRestorer{}
	store := &MockStore{}
	h := newHistory(r, store, Options{})
	rec, err := h.RecordMerge(ctx, op("a", "b"))
	require.NoError(t, err)

	store.SaveErr = errors.New("disk full")
	undone, err := h.UndoLastMerge(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MergeStatusUndone, undone.Status)
	assert.Equal(t, []string{rec.ID}, r.Undone)
	assert.True(t, h.CanRedo())

	store.SaveErr = nil
	_, err = h.RedoLastUndo(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, store.State.UndoStack)
}

func TestNewMergeClearsRedo(t *testing.T) {
	ctx := context.Background()
	h := newHistory(&MockRestorer{}, nil, Options{})

	_, err := h.RecordMerge(ctx, op("a", "b"))
	require.NoError(t, err)
	_, err = h.UndoLastMerge(ctx)
	require.NoError(t, err)
	require.True(t, h.CanRedo())

	_, err = h.RecordMerge(ctx, op("c", "d"))
	require.NoError(t, err)
	assert.False(t, h.CanRedo())
}

func TestNonUndoableMergesSkipStacks(t *testing.T) {
	h := newHistory(&MockRestorer{}, nil, Options{})
	o := op("a", "b")
	o.Metadata.Undoable = false

	_, err := h.RecordMerge(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, h.CanUndo())
	assert.Equal(t, 1, h.Records(Filter{}).Total)
}

func TestBoundsEvictOldest(t *testing.T) {
	ctx := context.Background()
	h := newHistory(&MockRestorer{}, nil, Options{MaxHistorySize: 3, MaxUndoSize: 2})

	var ids []string
	for _, p := range []string{"a", "b", "c", "d"} {
		rec, err := h.RecordMerge(ctx, op(p, p+"2"))
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	state := h.State()
	require.Len(t, state.History, 3)
	assert.Equal(t, ids[1], state.History[0].ID)
	assert.Equal(t, []string{ids[2], ids[3]}, state.UndoStack)

	_, err := h.Get(ids[0])
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestMergeChainIsChronological(t *testing.T) {
	ctx := context.Background()
	h := newHistory(&MockRestorer{}, nil, Options{})

	// c folds into b, then b into a, then an unrelated merge, then d into a.
	_, err := h.RecordMerge(ctx, op("b", "c"))
	require.NoError(t, err)
	_, err = h.RecordMerge(ctx, op("a", "b"))
	require.NoError(t, err)
	_, err = h.RecordMerge(ctx, op("x", "y"))
	require.NoError(t, err)
	_, err = h.RecordMerge(ctx, op("a", "d"))
	require.NoError(t, err)

	chain := h.GetMergeChain("a")
	require.Len(t, chain, 3)
	for i := 1; i < len(chain); i++ {
		assert.False(t, chain[i].Timestamp.Before(chain[i-1].Timestamp))
	}
	assert.Equal(t, "c", chain[0].SecondaryEntity.ID)
	assert.Equal(t, "d", chain[2].SecondaryEntity.ID)

	assert.Empty(t, h.GetMergeChain("nothing"))

	// Undone merges no longer belong to the ancestry.
	_, err = h.UndoLastMerge(ctx)
	require.NoError(t, err)
	assert.Len(t, h.GetMergeChain("a"), 2)
}

func TestRecordsFilterAndPaginate(t *testing.T) {
	ctx := context.Background()
	h := newHistory(&MockRestorer{}, nil, Options{})

	for _, p := range []string{"a", "b", "c", "d", "e"} {
		o := op(p, "shared")
		if p == "e" {
			o.Type = model.MergeTypeAuto
		}
		_, err := h.RecordMerge(ctx, o)
		require.NoError(t, err)
	}

	page := h.Records(Filter{EntityID: "shared", Page: 2, Limit: 2})
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "c", page.Records[0].PrimaryEntity.ID, "newest first")

	auto := h.Records(Filter{Type: model.MergeTypeAuto})
	require.Len(t, auto.Records, 1)
	assert.Equal(t, "e", auto.Records[0].PrimaryEntity.ID)

	empty := h.Records(Filter{Page: 9})
	assert.Empty(t, empty.Records)
	assert.Equal(t, 5, empty.Total)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	h := newHistory(&MockRestorer{}, nil, Options{})

	_, err := h.RecordMerge(ctx, op("a", "b"))
	require.NoError(t, err)
	o := op("c", "d")
	o.Type = model.MergeTypeAuto
	o.Primary.Type = ""
	_, err = h.RecordMerge(ctx, o)
	require.NoError(t, err)
	_, err = h.UndoLastMerge(ctx)
	require.NoError(t, err)

	stats := h.GetStatistics(TimeRange{})
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Undone)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, map[string]int{"manual": 1, "auto": 1}, stats.ByType)
	assert.Equal(t, map[string]int{"security_tools": 2}, stats.ByCategory)
	assert.Equal(t, map[string]int{"platform": 1, "unspecified": 1}, stats.ByDesignation)
	assert.Equal(t, map[string]int{"2024-03-01": 2}, stats.ByDay)
	assert.True(t, stats.CanUndo)
	assert.True(t, stats.CanRedo)

	future := h.GetStatistics(TimeRange{From: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.Zero(t, future.Total)
	assert.Zero(t, future.SuccessRate)
}

func TestLoadRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	first := newHistory(&MockRestorer{}, store, Options{})
	rec, err := first.RecordMerge(ctx, op("a", "b"))
	require.NoError(t, err)

	second := newHistory(&MockRestorer{}, store, Options{})
	require.NoError(t, second.Load(ctx))
	assert.True(t, second.CanUndo())

	undone, err := second.UndoLastMerge(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, undone.ID)

	require.NoError(t, second.Clear(ctx))
	assert.Empty(t, store.State.History)
}

func TestComputeImpact(t *testing.T) {
	p := model.Entity{ID: "p", Confidence: 0.6}
	p.Relationships = []model.Relationship{{Type: "uses", Target: "t1"}}
	s := model.Entity{ID: "s", Children: []string{"k1", "k2"}}
	s.Relationships = []model.Relationship{{Type: "uses", Target: "t2"}, {Type: "mentions", Target: "p"}}
	res := p.Clone()
	res.Confidence = 0.9
	res.Relationships = append(res.Relationships, model.Relationship{Type: "uses", Target: "t2"})

	impact := ComputeImpact(p, s, res)
	assert.Equal(t, 1, impact.RelationshipsAdded)
	assert.Equal(t, 1, impact.RelationshipsRemoved)
	assert.InDelta(t, 0.3, impact.ConfidenceDelta, 1e-9)
	assert.Equal(t, 2, impact.ChildrenMerged)
	assert.Equal(t, -1, impact.EntityCountDelta)
}
