// Package dedupe finds entities that likely refer to the same real-world thing.
//
// Entities are first grouped into buckets so that only names sharing a bucket are compared.
// A configurable keyword table takes priority over the generic bucket (the first significant
// word of the name). A keyword also matches its plural and numbered forms ("siems", "siem2");
// other spellings must be listed as aliases. Keyword entries may carry aliases, phrases
// rewritten to the keyword before scoring, and may be flagged special to relax the acceptance thresholds for jargon whose
// abbreviations score poorly under edit distance. Precision and recall depend entirely on that
// table.
package dedupe

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/model"
	"github.com/agenthands/graphkeeper/internal/logger"
)

type KeywordRule struct {
	Keyword            string   `toml:"keyword" yaml:"keyword" json:"keyword"`
	Aliases            []string `toml:"aliases" yaml:"aliases" json:"aliases,omitempty"`
	Special            bool     `toml:"special" yaml:"special" json:"special"`
	Threshold          float64  `toml:"threshold" yaml:"threshold" json:"threshold,omitempty"`
	AutoMergeThreshold float64  `toml:"auto_merge_threshold" yaml:"auto_merge_threshold" json:"autoMergeThreshold,omitempty"`
}

type Config struct {
	Threshold             float64       `toml:"default_threshold" yaml:"default_threshold"`
	AutoMergeThreshold    float64       `toml:"default_auto_merge_threshold" yaml:"default_auto_merge_threshold"`
	NameWeight            float64       `toml:"name_weight" yaml:"name_weight"`
	CategoryWeight        float64       `toml:"category_weight" yaml:"category_weight"`
	CategoryMismatchScore float64       `toml:"category_mismatch_score" yaml:"category_mismatch_score"`
	MinWordLength         int           `toml:"min_word_length" yaml:"min_word_length"`
	Keywords              []KeywordRule `toml:"keywords" yaml:"keywords"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:             0.7,
		AutoMergeThreshold:    0.9,
		NameWeight:            0.8,
		CategoryWeight:        0.2,
		CategoryMismatchScore: 0.5,
		MinWordLength:         3,
		Keywords: []KeywordRule{
			{
				Keyword: "siem",
				Aliases: []string{
					"security information and event management",
					"security information event management",
				},
				Special:            true,
				Threshold:          0.4,
				AutoMergeThreshold: 0.5,
			},
			{
				Keyword: "soc",
				Aliases: []string{
					"security operations center",
					"security operations centre",
				},
				Special:            true,
				Threshold:          0.4,
				AutoMergeThreshold: 0.5,
			},
			{Keyword: "edr", Aliases: []string{"endpoint detection and response"}},
			{Keyword: "ids", Aliases: []string{"intrusion detection system"}},
		},
	}
}

type Detector struct {
	cfg Config
	log *zap.Logger
}

func NewDetector(cfg Config, log *zap.Logger) *Detector {
	return &Detector{cfg: cfg, log: logger.OrGlobal(log)}
}

func (d *Detector) Config() Config {
	return d.cfg
}

// Canonical joins the tokens of name with single spaces and rewrites keyword aliases to
// their keyword.
func (d *Detector) Canonical(name string) string {
	canon := " " + strings.Join(Tokens(name), " ") + " "
	for _, kw := range d.cfg.Keywords {
		for _, alias := range kw.Aliases {
			phrase := " " + strings.Join(Tokens(alias), " ") + " "
			canon = strings.ReplaceAll(canon, phrase, " "+kw.Keyword+" ")
		}
	}
	return strings.TrimSpace(canon)
}

// BucketKey assigns name to a keyword bucket when one matches, otherwise to the bucket of its
// first significant word, otherwise to its whole canonical form.
func (d *Detector) BucketKey(name string) string {
	canon := d.Canonical(name)
	tokens := strings.Fields(canon)
	for _, kw := range d.cfg.Keywords {
		if containsKeyword(tokens, kw.Keyword) {
			return kw.Keyword
		}
	}
	for _, t := range tokens {
		if len(t) >= d.cfg.MinWordLength {
			return "word:" + t
		}
	}
	return "name:" + canon
}

// Score computes the weighted similarity of two entities.
func (d *Detector) Score(a, b model.Entity) model.Similarity {
	name := NameSimilarity(d.Canonical(a.Name), d.Canonical(b.Name))
	category := d.cfg.CategoryMismatchScore
	if a.Category == b.Category {
		category = 1
	}
	return model.Similarity{
		Name:     name,
		Category: category,
		Overall:  d.cfg.NameWeight*name + d.cfg.CategoryWeight*category,
	}
}

// thresholds returns the acceptance and auto-merge thresholds for a pair, relaxed when either
// name carries a special keyword.
func (d *Detector) thresholds(a, b model.Entity) (float64, float64, string) {
	ta := strings.Fields(d.Canonical(a.Name))
	tb := strings.Fields(d.Canonical(b.Name))
	for _, kw := range d.cfg.Keywords {
		if !kw.Special {
			continue
		}
		if containsKeyword(ta, kw.Keyword) || containsKeyword(tb, kw.Keyword) {
			return kw.Threshold, kw.AutoMergeThreshold, kw.Keyword
		}
	}
	return d.cfg.Threshold, d.cfg.AutoMergeThreshold, ""
}

// FindCandidates returns likely duplicate pairs sorted by overall similarity, descending.
// Pairs already recorded in merged are never returned.
func (d *Detector) FindCandidates(entities []model.Entity, merged *model.MergedPairs) []model.MergeCandidate {
	var done map[string]struct{}
	if merged != nil {
		done = merged.Set()
	}

	var order []string
	buckets := make(map[string][]int)
	for i, e := range entities {
		key := d.BucketKey(e.Name)
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], i)
	}

	var candidates []model.MergeCandidate
	compared := 0
	for _, key := range order {
		members := buckets[key]
		if len(members) < 2 {
			continue
		}
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				a, b := entities[members[x]], entities[members[y]]
				if a.ID == b.ID {
					continue
				}
				if _, ok := done[model.PairKey(a.ID, b.ID)]; ok {
					continue
				}
				compared++
				if c, ok := d.evaluate(a, b, key); ok {
					candidates = append(candidates, c)
				}
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity.Overall > candidates[j].Similarity.Overall
	})

	d.log.Debug("Merge candidates computed",
		zap.Int("entities", len(entities)),
		zap.Int("buckets", len(order)),
		zap.Int("compared", compared),
		zap.Int("candidates", len(candidates)))
	return candidates
}

func (d *Detector) evaluate(a, b model.Entity, bucket string) (model.MergeCandidate, bool) {
	sim := d.Score(a, b)
	threshold, autoThreshold, special := d.thresholds(a, b)
	if sim.Overall < threshold {
		return model.MergeCandidate{}, false
	}

	primary, secondary := a, b
	if b.Confidence > a.Confidence {
		primary, secondary = b, a
	}

	reasons := []string{fmt.Sprintf("names are %.0f%% similar", sim.Name*100)}
	if a.Category == b.Category {
		reasons = append(reasons, "same category "+a.Category)
	} else {
		reasons = append(reasons, fmt.Sprintf("categories differ (%s, %s)", a.Category, b.Category))
	}
	if special != "" {
		reasons = append(reasons, fmt.Sprintf("%s keyword relaxes thresholds to %.2f/%.2f", special, threshold, autoThreshold))
	}
	auto := sim.Overall >= autoThreshold
	if auto {
		reasons = append(reasons, fmt.Sprintf("overall %.2f meets auto-merge threshold %.2f", sim.Overall, autoThreshold))
	} else {
		reasons = append(reasons, fmt.Sprintf("overall %.2f needs review (auto-merge at %.2f)", sim.Overall, autoThreshold))
	}

	return model.MergeCandidate{
		Primary:       primary.Summary(),
		Secondary:     secondary.Summary(),
		Similarity:    sim,
		Confidence:    sim.Overall,
		AutoMergeable: auto,
		Reasons:       reasons,
		Bucket:        bucket,
	}, true
}
