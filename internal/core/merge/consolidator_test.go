package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/graphkeeper/internal/core/model"
)

func ent(id, name string, confidence float64) model.Entity {
	return model.Entity{ID: id, Name: name, Category: "security_tools", Confidence: confidence}
}

func TestConsolidateFoldsSecondaries(t *testing.T) {
	entities := []model.Entity{
		ent("e1", "SIEM", 0.78),
		ent("e2", "Security Information and Event Management", 0.85),
		ent("e3", "Firewall", 0.9),
	}
	pairs := model.NewMergedPairs("cybersecurity")
	pairs.Add("e1", "e2")

	out := Consolidate(entities, pairs)

	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].ID)
	assert.Equal(t, []string{"Security Information and Event Management"}, out[0].MergedFrom)
	assert.Equal(t, 0.85, out[0].Confidence)
	assert.Equal(t, 1, out[0].ConsolidatedCount)
	assert.Equal(t, "e3", out[1].ID)
}

func TestConsolidateIsPure(t *testing.T) {
	entities := []model.Entity{ent("a", "A", 0.5), ent("b", "B", 0.9)}
	entities[0].Relationships = []model.Relationship{{Type: "uses", Target: "x", Confidence: 0.5}}
	pairs := model.NewMergedPairs("d")
	pairs.Add("a", "b")

	first := Consolidate(entities, pairs)
	second := Consolidate(entities, pairs)

	assert.Equal(t, first, second)
	assert.Empty(t, entities[0].MergedFrom)
	assert.Equal(t, 0.5, entities[0].Confidence)
	assert.Len(t, entities, 2)
}

func TestConsolidateWithoutRecordedPrimaryPrefersConfidence(t *testing.T) {
	entities := []model.Entity{ent("a", "A", 0.5), ent("b", "B", 0.9)}
	pairs := &model.MergedPairs{Keys: []string{model.PairKey("a", "b")}}

	out := Consolidate(entities, pairs)

	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, []string{"A"}, out[0].MergedFrom)
}

func TestConsolidateResolvesChains(t *testing.T) {
	entities := []model.Entity{ent("a", "A", 0.6), ent("b", "B", 0.7), ent("c", "C", 0.95)}
	pairs := model.NewMergedPairs("d")
	pairs.Add("b", "c")
	pairs.Add("a", "b")

	out := Consolidate(entities, pairs)

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, []string{"B", "C"}, out[0].MergedFrom)
	assert.Equal(t, 2, out[0].ConsolidatedCount)
	assert.Equal(t, 0.95, out[0].Confidence)

	assert.Equal(t, map[string]string{"b": "a", "c": "a"}, Aliases(entities, pairs))
	assert.Empty(t, Aliases(entities, nil))
}

func TestConsolidateIgnoresUnknownIDs(t *testing.T) {
	entities := []model.Entity{ent("a", "A", 0.6)}
	pairs := model.NewMergedPairs("d")
	pairs.Add("a", "gone")

	out := Consolidate(entities, pairs)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].MergedFrom)
}

func TestFoldUnionsRelationshipsAndChildren(t *testing.T) {
	p := ent("p", "P", 0.6)
	p.Children = []string{"k1"}
	p.Relationships = []model.Relationship{{Type: "uses", Target: "t1", Confidence: 0.5, Source: model.SourceManual}}
	s := ent("s", "S", 0.4)
	s.Role = "platform"
	s.Children = []string{"k1", "k2"}
	s.Relationships = []model.Relationship{
		{Type: "uses", Target: "t1", Confidence: 0.9, Source: model.SourceContentInference},
		{Type: "monitors", Target: "t2", Confidence: 0.7, Source: model.SourceContentInference},
		{Type: "related_to", Target: "p", Confidence: 0.7},
	}

	out := Fold(p, s)

	assert.Equal(t, []string{"k1", "k2"}, out.Children)
	assert.Equal(t, "platform", out.Role)
	require.Len(t, out.Relationships, 2)
	assert.Equal(t, 0.9, out.Relationships[0].Confidence)
	assert.Equal(t, "monitors", out.Relationships[1].Type)
	assert.Equal(t, 2, out.RelationshipCount)
	assert.Equal(t, []string{model.SourceContentInference, model.SourceManual}, out.RelationshipSources)
	assert.Len(t, p.Relationships, 1, "fold never mutates its inputs")
}

func TestConsolidateKeepsRepeatedIDsOutsidePairs(t *testing.T) {
	entities := []model.Entity{
		ent("e1", "Mike", 0.8),
		ent("e1", "Foundation Work", 0.7),
		ent("x", "SIEM", 0.9),
		ent("y", "SIEM platform", 0.6),
	}
	assert.Len(t, Consolidate(entities, model.NewMergedPairs("construction")), 4)

	pairs := model.NewMergedPairs("construction")
	pairs.Add("x", "y")
	out := Consolidate(entities, pairs)

	require.Len(t, out, 3)
	assert.Equal(t, "Mike", out[0].Name)
	assert.Equal(t, "Foundation Work", out[1].Name)
	assert.Equal(t, "x", out[2].ID)
}
