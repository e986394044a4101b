package model

import (
	"sort"
	"strings"
	"time"
)

// PairSeparator joins the two ids of a merged-pair key.
const PairSeparator = "|"

type MergeType string

const (
	MergeTypeAuto   MergeType = "auto"
	MergeTypeManual MergeType = "manual"
	MergeTypeBatch  MergeType = "batch"
)

type MergeStatus string

const (
	MergeStatusCompleted MergeStatus = "completed"
	MergeStatusUndone    MergeStatus = "undone"
)

type EntitySummary struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Type       string  `json:"type,omitempty"`
	SetID      string  `json:"setId,omitempty"`
}

type Similarity struct {
	Name     float64 `json:"name"`
	Category float64 `json:"category"`
	Overall  float64 `json:"overall"`
}

// MergeCandidate is a proposed duplicate pair. It is recomputed on demand.
type MergeCandidate struct {
	Primary       EntitySummary `json:"primary"`
	Secondary     EntitySummary `json:"secondary"`
	Similarity    Similarity    `json:"similarity"`
	Confidence    float64       `json:"confidence"`
	AutoMergeable bool          `json:"autoMergeable"`
	Reasons       []string      `json:"reasons"`
	Bucket        string        `json:"bucket"`
}

func (c MergeCandidate) Key() string {
	return PairKey(c.Primary.ID, c.Secondary.ID)
}

type MergeImpact struct {
	RelationshipsAdded   int     `json:"relationshipsAdded"`
	RelationshipsRemoved int     `json:"relationshipsRemoved"`
	ConfidenceDelta      float64 `json:"confidenceDelta"`
	ChildrenMerged       int     `json:"childrenMerged"`
	EntityCountDelta     int     `json:"entityCountDelta"`
}

type MergeMetadata struct {
	User     string `json:"user,omitempty"`
	Source   string `json:"source,omitempty"`
	BatchID  string `json:"batchId,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Undoable bool   `json:"undoable"`
}

// MergeRecord is an audit entry. Only Status and StatusChangedAt change after creation.
type MergeRecord struct {
	ID              string        `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	Type            MergeType     `json:"type"`
	Status          MergeStatus   `json:"status"`
	PrimaryEntity   Entity        `json:"primaryEntity"`
	SecondaryEntity Entity        `json:"secondaryEntity"`
	ResultingEntity Entity        `json:"resultingEntity"`
	Similarity      Similarity    `json:"similarity"`
	Impact          MergeImpact   `json:"impact"`
	Metadata        MergeMetadata `json:"metadata"`
	StatusChangedAt *time.Time    `json:"statusChangedAt,omitempty"`
}

// HistoryState is what a history store persists. Stacks hold record ids, oldest first.
type HistoryState struct {
	History   []MergeRecord `json:"history"`
	UndoStack []string      `json:"undoStack"`
	RedoStack []string      `json:"redoStack"`
}

// PairKey returns the order-independent key for two entity ids.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, PairSeparator)
}

// SplitPairKey reverses PairKey.
func SplitPairKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, PairSeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// MergedPairs is the per-domain record of accepted merges. Keys keeps acceptance order;
// Primaries remembers which side was kept when the merge named one.
type MergedPairs struct {
	Keys        []string          `json:"mergedPairs"`
	Primaries   map[string]string `json:"primaries,omitempty"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Domain      string            `json:"domain"`
}

func NewMergedPairs(domain string) *MergedPairs {
	return &MergedPairs{
		Keys:      []string{},
		Primaries: make(map[string]string),
		Domain:    domain,
	}
}

func (p *MergedPairs) Has(a, b string) bool {
	return p.HasKey(PairKey(a, b))
}

func (p *MergedPairs) HasKey(key string) bool {
	for _, k := range p.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Set returns the keys as a lookup set.
func (p *MergedPairs) Set() map[string]struct{} {
	out := make(map[string]struct{}, len(p.Keys))
	for _, k := range p.Keys {
		out[k] = struct{}{}
	}
	return out
}

// Add records primary+secondary. It reports false when the pair was already present.
func (p *MergedPairs) Add(primary, secondary string) bool {
	key := PairKey(primary, secondary)
	if p.Primaries == nil {
		p.Primaries = make(map[string]string)
	}
	p.Primaries[key] = primary
	p.LastUpdated = time.Now().UTC()
	if p.HasKey(key) {
		return false
	}
	p.Keys = append(p.Keys, key)
	return true
}

func (p *MergedPairs) Remove(a, b string) bool {
	key := PairKey(a, b)
	for i, k := range p.Keys {
		if k == key {
			p.Keys = append(p.Keys[:i], p.Keys[i+1:]...)
			delete(p.Primaries, key)
			p.LastUpdated = time.Now().UTC()
			return true
		}
	}
	return false
}

// Primary returns the recorded primary id for key, if any.
func (p *MergedPairs) Primary(key string) (string, bool) {
	id, ok := p.Primaries[key]
	return id, ok
}

// Clone returns a deep copy.
func (p *MergedPairs) Clone() *MergedPairs {
	out := *p
	out.Keys = append([]string{}, p.Keys...)
	out.Primaries = make(map[string]string, len(p.Primaries))
	for k, v := range p.Primaries {
		out.Primaries[k] = v
	}
	return &out
}
