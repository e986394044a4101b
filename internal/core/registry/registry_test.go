package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

func TestRelationshipsForDomainScopesCatalogs(t *testing.T) {
	r := New()

	construction := r.RelationshipsForDomain(DomainConstruction)
	assert.Contains(t, construction, "manages", "universal types apply everywhere")
	assert.Contains(t, construction, "requires_material")
	assert.Contains(t, construction, "supplies")
	assert.NotContains(t, construction, "monitors")

	cyber := r.RelationshipsForDomain(DomainCybersecurity)
	assert.Contains(t, cyber, "monitors")
	assert.Contains(t, cyber, "supplies")
	assert.NotContains(t, cyber, "installs")

	general := r.RelationshipsForDomain("general")
	assert.Len(t, general, len(UniversalCatalog()))
}

func TestSharedTypeKeepsBothDomains(t *testing.T) {
	def, ok := New().Definition("supplies")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{DomainCybersecurity, DomainConstruction}, def.Domains)
}

func TestInverseAndBidirectional(t *testing.T) {
	r := New()

	inv, ok := r.InverseOf("manages")
	require.True(t, ok)
	assert.Equal(t, "managed_by", inv)

	_, ok = r.InverseOf("references")
	assert.False(t, ok)

	assert.True(t, r.IsBidirectional("collaborates_with"))
	assert.False(t, r.IsBidirectional("manages"))
	assert.False(t, r.IsBidirectional("no_such_type"))
}

func TestEveryInverseIsRegistered(t *testing.T) {
	r := New()
	for _, name := range r.Types() {
		if inv, ok := r.InverseOf(name); ok {
			assert.True(t, r.IsValidType(inv), "%s -> %s", name, inv)
		}
	}
}

func TestValidate(t *testing.T) {
	r := New()
	valid := model.Relationship{Type: "manages", Target: "p1", Source: model.SourceManual, Confidence: 0.8}

	cases := []struct {
		name   string
		rel    model.Relationship
		valid  bool
		errors int
	}{
		{"valid", valid, true, 0},
		{"unknown type", model.Relationship{Type: "owns", Target: "p1", Source: "manual", Confidence: 0.5}, false, 1},
		{"missing target", model.Relationship{Type: "manages", Source: "manual", Confidence: 0.5}, false, 1},
		{"confidence too high", model.Relationship{Type: "manages", Target: "p1", Source: "manual", Confidence: 1.2}, false, 1},
		{"missing source and negative confidence", model.Relationship{Type: "manages", Target: "p1", Confidence: -0.1}, false, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := r.Validate(tc.rel)
			assert.Equal(t, tc.valid, res.Valid)
			assert.Len(t, res.Errors, tc.errors)
			if !tc.valid {
				assert.True(t, apperrors.IsErrorType(res.Err(), apperrors.ErrorTypeValidation))
			} else {
				assert.NoError(t, res.Err())
			}
		})
	}
}

func TestValidateEndpoints(t *testing.T) {
	r := New()

	assert.True(t, r.ValidateEndpoints("manages", "people", "projects").Valid)
	assert.False(t, r.ValidateEndpoints("manages", "materials", "projects").Valid)
	assert.True(t, r.ValidateEndpoints("related_to", "materials", "vendors").Valid)
	assert.False(t, r.ValidateEndpoints("owns", "people", "projects").Valid)
}
