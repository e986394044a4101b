package history

import (
	"sort"
	"time"

	"github.com/agenthands/graphkeeper/internal/core/model"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200

	unspecified = "unspecified"
)

// Filter selects records. Zero fields match everything. Page is 1-based.
type Filter struct {
	Type     model.MergeType
	EntityID string
	Status   model.MergeStatus
	Domain   string
	Page     int
	Limit    int
}

type Page struct {
	Records []model.MergeRecord `json:"records"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
	Pages   int                 `json:"pages"`
}

func (f Filter) matches(r model.MergeRecord) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Domain != "" && r.Metadata.Domain != f.Domain {
		return false
	}
	if f.EntityID != "" &&
		r.PrimaryEntity.ID != f.EntityID &&
		r.SecondaryEntity.ID != f.EntityID &&
		r.ResultingEntity.ID != f.EntityID {
		return false
	}
	return true
}

// Records returns matching records, newest first.
func (h *History) Records(f Filter) Page {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}

	h.mu.Lock()
	var matched []model.MergeRecord
	for i := len(h.records) - 1; i >= 0; i-- {
		if f.matches(h.records[i]) {
			matched = append(matched, h.records[i])
		}
	}
	h.mu.Unlock()

	page := Page{Records: []model.MergeRecord{}, Total: len(matched), Page: f.Page, Limit: f.Limit}
	page.Pages = (page.Total + f.Limit - 1) / f.Limit
	start := (f.Page - 1) * f.Limit
	if start < len(matched) {
		end := start + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Records = matched[start:end]
	}
	return page
}

// TimeRange bounds statistics. A zero From or To leaves that side open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (t TimeRange) contains(ts time.Time) bool {
	if !t.From.IsZero() && ts.Before(t.From) {
		return false
	}
	if !t.To.IsZero() && ts.After(t.To) {
		return false
	}
	return true
}

type Statistics struct {
	Total         int            `json:"total"`
	Completed     int            `json:"completed"`
	Undone        int            `json:"undone"`
	ByType        map[string]int `json:"byType"`
	ByCategory    map[string]int `json:"byCategory"`
	ByDesignation map[string]int `json:"byDesignation"`
	ByDay         map[string]int `json:"byDay"`
	SuccessRate   float64        `json:"successRate"`
	CanUndo       bool           `json:"canUndo"`
	CanRedo       bool           `json:"canRedo"`
}

// GetStatistics aggregates records inside tr. Category and designation come from the primary
// entity; days are UTC dates.
func (h *History) GetStatistics(tr TimeRange) Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Statistics{
		ByType:        map[string]int{},
		ByCategory:    map[string]int{},
		ByDesignation: map[string]int{},
		ByDay:         map[string]int{},
		CanUndo:       len(h.undoStack) > 0,
		CanRedo:       len(h.redoStack) > 0,
	}
	for _, r := range h.records {
		if !tr.contains(r.Timestamp) {
			continue
		}
		stats.Total++
		if r.Status == model.MergeStatusCompleted {
			stats.Completed++
		} else {
			stats.Undone++
		}
		stats.ByType[string(r.Type)]++
		stats.ByCategory[orUnspecified(r.PrimaryEntity.Category)]++
		stats.ByDesignation[orUnspecified(r.PrimaryEntity.Type)]++
		stats.ByDay[r.Timestamp.UTC().Format("2006-01-02")]++
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total)
	}
	return stats
}

func orUnspecified(s string) string {
	if s == "" {
		return unspecified
	}
	return s
}

// GetMergeChain walks backward from entityID through the completed merges that produced it
// and returns them oldest first.
func (h *History) GetMergeChain(entityID string) []model.MergeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	byResult := make(map[string][]int)
	for i, r := range h.records {
		if r.Status != model.MergeStatusCompleted {
			continue
		}
		byResult[r.ResultingEntity.ID] = append(byResult[r.ResultingEntity.ID], i)
	}

	seenRecord := make(map[int]bool)
	seenEntity := make(map[string]bool)
	var chain []model.MergeRecord

	stack := []string{entityID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seenEntity[id] {
			continue
		}
		seenEntity[id] = true

		for _, i := range byResult[id] {
			if seenRecord[i] {
				continue
			}
			seenRecord[i] = true
			r := h.records[i]
			chain = append(chain, r)
			stack = append(stack, r.SecondaryEntity.ID, r.PrimaryEntity.ID)
		}
	}

	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Timestamp.Before(chain[j].Timestamp)
	})
	return chain
}
