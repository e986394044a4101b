package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/model"
)

func newDetector() *Detector {
	return NewDetector(DefaultConfig(), zap.NewNop())
}

func entity(id, name, category string, confidence float64) model.Entity {
	return model.Entity{ID: id, Name: name, Category: category, Confidence: confidence}
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("", ""))
	assert.Equal(t, 1.0, NameSimilarity("siem", "siem"))
	assert.Equal(t, 0.0, NameSimilarity("abc", ""))
	assert.InDelta(t, 0.9, NameSimilarity("john smith", "jon smith"), 1e-9)

	pairs := [][2]string{{"concrete pump", "concrete pumps"}, {"splunk", "splunk enterprise"}, {"ä", "a"}}
	for _, p := range pairs {
		assert.Equal(t, NameSimilarity(p[0], p[1]), NameSimilarity(p[1], p[0]), "similarity must be symmetric for %v", p)
	}
}

func TestCanonicalRewritesAliases(t *testing.T) {
	d := newDetector()
	assert.Equal(t, "siem", d.Canonical("Security Information and Event Management"))
	assert.Equal(t, "splunk siem", d.Canonical("Splunk (Security-Information Event Management)"))
	assert.Equal(t, "soc team", d.Canonical("Security Operations Centre team"))
	assert.Equal(t, "concrete pump", d.Canonical("  Concrete   PUMP "))
}

func TestBucketKey(t *testing.T) {
	d := newDetector()
	assert.Equal(t, "siem", d.BucketKey("SIEM"))
	assert.Equal(t, "siem", d.BucketKey("Security Information and Event Management"))
	// Plural and numbered forms share the keyword bucket; other words starting with it do not.
	assert.Equal(t, "siem", d.BucketKey("SIEMs"))
	assert.Equal(t, "siem", d.BucketKey("SIEM2 cluster"))
	assert.Equal(t, "word:siemens", d.BucketKey("Siemens Controller"))
	assert.Equal(t, "word:social", d.BucketKey("Social Engineering"))
	assert.Equal(t, "word:concrete", d.BucketKey("Concrete Pump"))
	assert.Equal(t, "word:crane", d.BucketKey("A1 crane"))
	assert.Equal(t, "name:a b", d.BucketKey("A B"))
}

func TestSIEMAliasIsAutoMergeable(t *testing.T) {
	d := newDetector()
	entities := []model.Entity{
		entity("e1", "SIEM", "security_tools", 0.85),
		entity("e2", "Security Information and Event Management", "security_tools", 0.78),
	}

	got := d.FindCandidates(entities, model.NewMergedPairs("cybersecurity"))

	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "siem", c.Bucket)
	assert.Equal(t, "e1", c.Primary.ID)
	assert.Equal(t, "e2", c.Secondary.ID)
	assert.GreaterOrEqual(t, c.Similarity.Overall, 0.5)
	assert.True(t, c.AutoMergeable)
	assert.Equal(t, c.Similarity.Overall, c.Confidence)
	assert.NotEmpty(t, c.Reasons)
}

func TestThresholds(t *testing.T) {
	d := newDetector()
	entities := []model.Entity{
		entity("p1", "Concrete Pump", "equipment", 0.6),
		entity("p2", "Concrete Pumps", "equipment", 0.9),
		entity("a", "Project Alpha", "projects", 0.8),
		entity("b", "Project Beta", "projects", 0.8),
		entity("m", "Concrete Mixer", "equipment", 0.7),
	}

	got := d.FindCandidates(entities, nil)

	byKey := make(map[string]model.MergeCandidate, len(got))
	for _, c := range got {
		byKey[c.Key()] = c
	}

	pumps, ok := byKey[model.PairKey("p1", "p2")]
	require.True(t, ok)
	assert.True(t, pumps.AutoMergeable)
	assert.Equal(t, "p2", pumps.Primary.ID, "the more confident entity is kept")
	assert.InDelta(t, 0.9428, pumps.Similarity.Overall, 1e-3)

	projects, ok := byKey[model.PairKey("a", "b")]
	require.True(t, ok)
	assert.False(t, projects.AutoMergeable)
	assert.Equal(t, "a", projects.Primary.ID, "ties keep the earlier entity")

	// The mixer scores 0.714 against either pump: above 0.7, below auto-merge.
	mixer, ok := byKey[model.PairKey("m", "p1")]
	require.True(t, ok)
	assert.False(t, mixer.AutoMergeable)
	assert.InDelta(t, 0.7143, mixer.Similarity.Overall, 1e-3)
	assert.Len(t, got, 4)
}

func TestKeywordVariantsGetSpecialThresholds(t *testing.T) {
	d := newDetector()
	accept, auto, kw := d.thresholds(entity("a", "SIEMs", "security_tools", 1), entity("b", "Log Platform", "security_tools", 1))
	assert.Equal(t, "siem", kw)
	assert.Equal(t, 0.4, accept)
	assert.Equal(t, 0.5, auto)

	_, _, kw = d.thresholds(entity("a", "Socket Server", "systems", 1), entity("b", "Socket Servers", "systems", 1))
	assert.Empty(t, kw)
}

func TestCategoryMismatchLowersScore(t *testing.T) {
	d := newDetector()
	same := d.Score(entity("x", "Concrete Pump", "equipment", 1), entity("y", "Concrete Pumps", "equipment", 1))
	diff := d.Score(entity("x", "Concrete Pump", "equipment", 1), entity("y", "Concrete Pumps", "materials", 1))

	assert.Equal(t, 1.0, same.Category)
	assert.Equal(t, 0.5, diff.Category)
	assert.InDelta(t, same.Overall-0.1, diff.Overall, 1e-9)
}

func TestDifferentBucketsAreNeverCompared(t *testing.T) {
	d := newDetector()
	entities := []model.Entity{
		entity("1", "Mike Johnson", "people", 0.9),
		entity("2", "Mikes Johnson", "people", 0.9),
	}
	assert.Empty(t, d.FindCandidates(entities, nil))
}

func TestMergedPairsAreExcluded(t *testing.T) {
	d := newDetector()
	entities := []model.Entity{
		entity("e1", "SIEM", "security_tools", 0.85),
		entity("e2", "Security Information and Event Management", "security_tools", 0.78),
		entity("e3", "SIEM", "security_tools", 0.5),
	}
	merged := model.NewMergedPairs("cybersecurity")
	merged.Add("e1", "e2")

	got := d.FindCandidates(entities, merged)

	require.Len(t, got, 2)
	for _, c := range got {
		assert.NotEqual(t, model.PairKey("e1", "e2"), c.Key())
	}
}

func TestCandidatesAreSortedAndDeterministic(t *testing.T) {
	d := newDetector()
	entities := []model.Entity{
		entity("a", "Project Alpha", "projects", 0.8),
		entity("b", "Project Beta", "projects", 0.8),
		entity("p1", "Concrete Pump", "equipment", 0.6),
		entity("p2", "Concrete Pumps", "equipment", 0.9),
		entity("s", "SIEM", "security_tools", 0.9),
		entity("s2", "siem", "security_tools", 0.9),
	}

	first := d.FindCandidates(entities, nil)
	second := d.FindCandidates(entities, nil)
	require.Equal(t, first, second)

	require.Len(t, first, 3)
	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Similarity.Overall, first[i].Similarity.Overall)
	}
	assert.Equal(t, "siem", first[0].Bucket)
}

func TestSameIDIsSkipped(t *testing.T) {
	d := newDetector()
	entities := []model.Entity{
		entity("dup", "SIEM", "security_tools", 0.9),
		entity("dup", "SIEM", "security_tools", 0.9),
	}
	assert.Empty(t, d.FindCandidates(entities, nil))
}
