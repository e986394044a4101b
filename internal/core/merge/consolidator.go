// Package merge folds accepted duplicate pairs into consolidated entities and owns the
// write path for merging, undo and redo.
package merge

import (
	"sort"

	"github.com/agenthands/graphkeeper/internal/core/model"
)

// Fold returns primary with secondary folded into it. Neither input is modified.
func Fold(primary, secondary model.Entity) model.Entity {
	out := primary.Clone()
	out.MergedFrom = append(out.MergedFrom, secondary.Name)
	out.MergedFrom = append(out.MergedFrom, secondary.MergedFrom...)
	if secondary.Confidence > out.Confidence {
		out.Confidence = secondary.Confidence
	}
	out.ConsolidatedCount += 1 + secondary.ConsolidatedCount
	out.Children = unionStrings(out.Children, secondary.Children)
	if out.Description == "" {
		out.Description = secondary.Description
	}
	if out.Role == "" {
		out.Role = secondary.Role
	}
	if out.Type == "" {
		out.Type = secondary.Type
	}
	if out.Status == "" {
		out.Status = secondary.Status
	}
	mergeRelationships(&out, secondary)
	return out
}

// mergeRelationships adds the secondary's relationships that the primary lacks. Duplicates keep
// the higher confidence; edges that would now point at the primary itself are dropped.
func mergeRelationships(into *model.Entity, from model.Entity) {
	index := make(map[string]int, len(into.Relationships))
	for i, r := range into.Relationships {
		index[r.Type+"\x00"+r.Target] = i
	}
	for _, r := range from.Relationships {
		if r.Target == into.ID {
			continue
		}
		key := r.Type + "\x00" + r.Target
		if i, ok := index[key]; ok {
			if r.Confidence > into.Relationships[i].Confidence {
				into.Relationships[i].Confidence = r.Confidence
			}
			continue
		}
		index[key] = len(into.Relationships)
		into.Relationships = append(into.Relationships, r)
	}
	into.RelationshipCount = len(into.Relationships)
	sources := append([]string(nil), into.RelationshipSources...)
	for _, r := range into.Relationships {
		if r.Source != "" && !containsString(sources, r.Source) {
			sources = append(sources, r.Source)
		}
	}
	sort.Strings(sources)
	into.RelationshipSources = sources
}

// Consolidate derives the merged view of entities. For every accepted pair the secondary is
// removed and folded into its primary; chained merges fold into the root primary. Pairs naming
// unknown ids are ignored. Ids are unique after ingestion; should one repeat anyway, the first
// occurrence receives the folds and later ones pass through. The input is never modified.
func Consolidate(entities []model.Entity, pairs *model.MergedPairs) []model.Entity {
	out, _ := consolidate(entities, pairs)
	return out
}

// Aliases maps every merged-away entity id to the id of the entity it was folded into.
func Aliases(entities []model.Entity, pairs *model.MergedPairs) map[string]string {
	_, aliases := consolidate(entities, pairs)
	return aliases
}

func consolidate(entities []model.Entity, pairs *model.MergedPairs) ([]model.Entity, map[string]string) {
	index := make(map[string]int, len(entities))
	folded := make([]model.Entity, len(entities))
	for i, e := range entities {
		if _, dup := index[e.ID]; !dup {
			index[e.ID] = i
		}
		folded[i] = e.Clone()
	}
	aliases := make(map[string]string)
	if pairs == nil || len(pairs.Keys) == 0 {
		return folded, aliases
	}

	parent := make(map[string]string)
	var find func(string) string
	find = func(id string) string {
		p, ok := parent[id]
		if !ok {
			return id
		}
		root := find(p)
		parent[id] = root
		return root
	}

	for _, key := range pairs.Keys {
		a, b, ok := model.SplitPairKey(key)
		if !ok {
			continue
		}
		ia, okA := index[a]
		ib, okB := index[b]
		if !okA || !okB {
			continue
		}
		primary, secondary := choosePrimary(key, a, b, ia, ib, entities, pairs)
		rp, rs := find(primary), find(secondary)
		if rp == rs {
			continue
		}
		folded[index[rp]] = Fold(folded[index[rp]], folded[index[rs]])
		parent[rs] = rp
	}

	out := make([]model.Entity, 0, len(entities))
	for i, e := range entities {
		if root := find(e.ID); root != e.ID {
			aliases[e.ID] = root
			continue
		}
		out = append(out, folded[i])
	}
	return out, aliases
}

// choosePrimary uses the recorded primary when there is one, else the more confident entity,
// else the earlier one.
func choosePrimary(key, a, b string, ia, ib int, entities []model.Entity, pairs *model.MergedPairs) (string, string) {
	if p, ok := pairs.Primary(key); ok {
		if p == a {
			return a, b
		}
		if p == b {
			return b, a
		}
	}
	ea, eb := entities[ia], entities[ib]
	if eb.Confidence > ea.Confidence || (eb.Confidence == ea.Confidence && ib < ia) {
		return b, a
	}
	return a, b
}

func unionStrings(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		if !containsString(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
