package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/graphkeeper/internal/core/model"
	"github.com/agenthands/graphkeeper/internal/core/registry"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

func newTestSchema() (*Schema, *time.Time) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(registry.New())
	s.Now = func() time.Time { return clock }
	return s, &clock
}

func TestCreateEntitySetStampsSchema(t *testing.T) {
	s, _ := newTestSchema()
	set := s.CreateEntitySet(model.EntitySet{ID: "set-1", Domain: "construction"})

	assert.Equal(t, model.SchemaVersion, set.SchemaVersion)
	assert.NotNil(t, set.Relationships)
	assert.Empty(t, set.Relationships)
	assert.False(t, set.Timestamp.IsZero())
}

func TestAddRelationshipRejectsOutOfRangeConfidence(t *testing.T) {
	s, _ := newTestSchema()
	set := s.CreateEntitySet(model.EntitySet{ID: "a"})

	for _, c := range []float64{-0.01, 1.01, 7} {
		_, err := s.AddRelationship(set, model.RelationshipConfig{Type: "manages", Target: "b", Confidence: model.Confidence(c)})
		require.Error(t, err)
		assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
	}
	assert.Empty(t, set.Relationships)
	assert.Equal(t, 0, set.RelationshipCount)
}

func TestAddRelationshipRejectsUnknownTypeAndSelfLinks(t *testing.T) {
	s, _ := newTestSchema()
	set := s.CreateEntitySet(model.EntitySet{ID: "a"})

	_, err := s.AddRelationship(set, model.RelationshipConfig{Type: "owns", Target: "b"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))

	_, err = s.AddRelationship(set, model.RelationshipConfig{Type: "related_to", Target: "a"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestAddRelationshipIsIdempotentPerTypeAndTarget(t *testing.T) {
	s, clock := newTestSchema()
	set := s.CreateEntitySet(model.EntitySet{ID: "a"})

	first, err := s.AddRelationship(set, model.RelationshipConfig{
		Type: "manages", Target: "b", Confidence: model.Confidence(0.7), Source: model.SourceContentInference,
	})
	require.NoError(t, err)
	original := *first

	*clock = clock.Add(time.Hour)
	_, err = s.AddRelationship(set, model.RelationshipConfig{
		Type: "manages", Target: "b", Confidence: model.Confidence(0.4), Source: model.SourceManual,
	})
	require.NoError(t, err)
	require.Len(t, set.Relationships, 1)
	assert.Equal(t, original, set.Relationships[0], "a weaker duplicate leaves the first untouched")

	_, err = s.AddRelationship(set, model.RelationshipConfig{
		Type: "manages", Target: "b", Confidence: model.Confidence(0.7), Source: model.SourceManual,
	})
	require.NoError(t, err)
	assert.Equal(t, original, set.Relationships[0], "ties favor the existing record")

	*clock = clock.Add(time.Hour)
	_, err = s.AddRelationship(set, model.RelationshipConfig{
		Type: "manages", Target: "b", Confidence: model.Confidence(0.9), Source: model.SourceManual,
	})
	require.NoError(t, err)
	require.Len(t, set.Relationships, 1)
	assert.Equal(t, 0.9, set.Relationships[0].Confidence)
	assert.Equal(t, original.CreatedAt, set.Relationships[0].CreatedAt)
	assert.True(t, set.Relationships[0].UpdatedAt.After(original.UpdatedAt))

	assert.Equal(t, 1, set.RelationshipCount)
	assert.Equal(t, []string{model.SourceContentInference, model.SourceManual}, set.RelationshipSources)
}

func TestAddRelationshipDefaults(t *testing.T) {
	s, _ := newTestSchema()
	e := s.CreateEntity(model.Entity{ID: "e1", Name: "Mike", Category: "people", Confidence: 2})
	assert.Equal(t, 1.0, e.Confidence)

	rel, err := s.AddRelationship(e, model.RelationshipConfig{Type: "collaborates_with", Target: "e2"})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRelationshipConfidence, rel.Confidence)
	assert.Equal(t, model.SourceManual, rel.Source)
}

func TestRemoveRelationship(t *testing.T) {
	s, _ := newTestSchema()
	set := s.CreateEntitySet(model.EntitySet{ID: "a"})
	_, err := s.AddRelationship(set, model.RelationshipConfig{Type: "manages", Target: "b"})
	require.NoError(t, err)
	_, err = s.AddRelationship(set, model.RelationshipConfig{Type: "related_to", Target: "b"})
	require.NoError(t, err)

	assert.True(t, s.RemoveRelationship(set, "manages", "b"))
	assert.False(t, s.RemoveRelationship(set, "manages", "b"))
	assert.Equal(t, 1, set.RelationshipCount)
	assert.False(t, s.HasRelationship(set, "manages", "b"))
	assert.Len(t, s.RelationshipsTo(set, "b"), 1)
	assert.Len(t, s.RelationshipsOfType(set, "related_to"), 1)
}

func TestMigrateLegacyEntitySetPreservesRelationships(t *testing.T) {
	s, _ := newTestSchema()
	legacy := &model.EntitySet{
		ID:     "old",
		Domain: "construction",
		Entities: map[string][]model.Entity{
			"people": {{ID: "m1", Name: "Mike", Category: "people", Confidence: 0.8}},
		},
		Linkage: model.Linkage{Relationships: []model.Relationship{
			{Type: "manages", Target: "p", Confidence: 0.6, Source: "legacy_import"},
		}},
	}

	migrated := s.MigrateLegacyEntitySet(legacy)

	assert.True(t, NeedsMigration(legacy))
	assert.False(t, NeedsMigration(migrated))
	assert.Equal(t, legacy.Relationships, migrated.Relationships)
	assert.Equal(t, 1, migrated.RelationshipCount)
	assert.Equal(t, []string{"legacy_import"}, migrated.RelationshipSources)
	assert.Equal(t, model.LegacySchemaVersion, migrated.Metadata.MigratedFrom)
	require.NotNil(t, migrated.Metadata.MigratedAt)
	assert.NotNil(t, migrated.Entities["people"][0].Relationships)
	assert.Empty(t, legacy.SchemaVersion, "source record is not modified")
}

func TestMigrateLegacyEntity(t *testing.T) {
	s, _ := newTestSchema()
	old := model.Entity{ID: "m1", Name: "Mike", Linkage: model.Linkage{Relationships: []model.Relationship{
		{Type: "manages", Target: "p", Confidence: 0.6, Source: "legacy_import"},
		{Type: "uses", Target: "t", Confidence: 0.5},
	}}}

	e := s.MigrateLegacyEntity(old)
	assert.Equal(t, 2, e.RelationshipCount)
	assert.Equal(t, []string{"legacy_import"}, e.RelationshipSources)
	assert.Equal(t, old.Relationships, e.Relationships)
	assert.Zero(t, old.RelationshipCount, "source entity is not modified")

	empty := s.MigrateLegacyEntity(model.Entity{ID: "x", Name: "X"})
	assert.NotNil(t, empty.Relationships)
	assert.Zero(t, empty.RelationshipCount)
}

func TestValidateEntitySetCollectsAllIssues(t *testing.T) {
	s, _ := newTestSchema()
	set := &model.EntitySet{
		ID: "a",
		Entities: map[string][]model.Entity{
			"people": {{ID: "", Name: "", Category: "people", Confidence: 1.5}},
		},
		Linkage: model.Linkage{
			Relationships: []model.Relationship{
				{Type: "owns", Target: "b", Source: "manual", Confidence: 0.5},
				{Type: "manages", Target: "a", Source: "manual", Confidence: 0.5},
			},
			RelationshipCount: 2,
		},
	}

	issues := s.ValidateEntitySet(set)
	paths := make([]string, 0, len(issues))
	for _, is := range issues {
		paths = append(paths, is.Path)
	}

	assert.Contains(t, paths, "domain")
	assert.Contains(t, paths, "timestamp")
	assert.Contains(t, paths, "schemaVersion")
	assert.Contains(t, paths, "relationships[0]")
	assert.Contains(t, paths, "relationships[1]")
	assert.Contains(t, paths, "entities.people[0].id")
	assert.Contains(t, paths, "entities.people[0].name")
	assert.Contains(t, paths, "entities.people[0].confidence")
}

func TestValidateEntitySetRejectsDuplicateEntityIDs(t *testing.T) {
	s, _ := newTestSchema()
	set := s.CreateEntitySet(model.EntitySet{
		ID:     "a",
		Domain: "construction",
		Entities: map[string][]model.Entity{
			"people":   {{ID: "e1", Name: "Mike", Category: "people"}},
			"projects": {{ID: "e1", Name: "Foundation Work", Category: "projects"}},
		},
	})

	issues := s.ValidateEntitySet(set)
	require.Len(t, issues, 1)
	assert.Equal(t, "entities.projects[0].id", issues[0].Path)
	assert.Contains(t, issues[0].Message, "entities.people[0]")
}

func TestValidateEntitySetChecksEndpointKinds(t *testing.T) {
	s, _ := newTestSchema()
	rel := func(relType, target string) model.Linkage {
		return model.Linkage{
			Relationships:     []model.Relationship{{Type: relType, Target: target, Confidence: 0.7, Source: model.SourceManual}},
			RelationshipCount: 1,
		}
	}
	set := s.CreateEntitySet(model.EntitySet{
		ID:     "a",
		Domain: "construction",
		Entities: map[string][]model.Entity{
			"people":    {{ID: "m1", Name: "Mike", Category: "people", Linkage: rel("manages", "p1")}},
			"projects":  {{ID: "p1", Name: "Foundation Work", Category: "projects"}},
			"materials": {{ID: "c1", Name: "Concrete", Category: "materials", Linkage: rel("manages", "p1")}},
		},
	})

	issues := s.ValidateEntitySet(set)
	require.Len(t, issues, 1)
	assert.Equal(t, "entities.materials[0].relationships[0]", issues[0].Path)
	assert.Contains(t, issues[0].Message, `source kind "materials"`)

	// Targets outside the set are not kind-checked.
	set.Entities["materials"][0].Linkage = rel("manages", "elsewhere")
	assert.Empty(t, s.ValidateEntitySet(set))
}
