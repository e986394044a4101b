// Package core wires the registry, schema, inference, merge and projection components into the
// Keeper facade used by the HTTP server and the CLI.
package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core/community"
	"github.com/agenthands/graphkeeper/internal/core/extraction"
	"github.com/agenthands/graphkeeper/internal/core/inference"
	"github.com/agenthands/graphkeeper/internal/core/merge"
	"github.com/agenthands/graphkeeper/internal/core/model"
	"github.com/agenthands/graphkeeper/internal/core/registry"
	"github.com/agenthands/graphkeeper/internal/core/schema"
	"github.com/agenthands/graphkeeper/internal/core/summary"
	"github.com/agenthands/graphkeeper/internal/driver"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/logger"
	"github.com/agenthands/graphkeeper/internal/storage"
)

// ErrGraphDisabled is returned by graph operations when no graph database is configured.
var ErrGraphDisabled = apperrors.NewBaseError(apperrors.ErrorTypeConfig, "graph projection disabled: memgraph.uri is not set", nil)

// ErrExtractionDisabled is returned by ExtractAndIngest when no LLM is configured.
var ErrExtractionDisabled = apperrors.NewBaseError(apperrors.ErrorTypeConfig, "extraction disabled: no LLM client configured", nil)

var ErrSummaryDisabled = apperrors.NewBaseError(apperrors.ErrorTypeConfig, "cluster summaries disabled: no LLM client configured", nil)

type KeeperOptions struct {
	Store    storage.EntitySetStore
	Merges   *merge.Service
	Registry *registry.Registry
	// Extractor, Summarizer and Driver are optional.
	Extractor  *extraction.Extractor
	Summarizer *summary.Summarizer
	Driver     driver.GraphDriver
	Detector   community.Detector
}

// Keeper owns the ingestion write path and exposes read views over a domain's entity sets.
type Keeper struct {
	Registry   *registry.Registry
	Schema     *schema.Schema
	Engine     *inference.Engine
	Merges     *merge.Service
	Extractor  *extraction.Extractor
	Summarizer *summary.Summarizer
	Driver     driver.GraphDriver
	Detector   community.Detector

	store storage.EntitySetStore
	// mu serializes ingestion; inference rewrites sets that are already stored.
	mu  sync.Mutex
	log *zap.Logger
}

func NewKeeper(opts KeeperOptions, log *zap.Logger) *Keeper {
	log = logger.OrGlobal(log)
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	s := schema.New(reg)
	detector := opts.Detector
	if detector == nil {
		detector = community.NewLabelPropagationDetector()
	}
	return &Keeper{
		Registry:   reg,
		Schema:     s,
		Engine:     inference.NewEngine(s, log),
		Merges:     opts.Merges,
		Extractor:  opts.Extractor,
		Summarizer: opts.Summarizer,
		Driver:     opts.Driver,
		Detector:   detector,
		store:      opts.Store,
		log:        log,
	}
}

// IngestResult reports what Ingest did.
type IngestResult struct {
	Set *model.EntitySet `json:"entitySet"`
	// Issues lists entities dropped or rewritten by normalization.
	Issues   []string `json:"issues,omitempty"`
	Inferred int      `json:"relationshipsInferred"`
	Applied  int      `json:"relationshipsApplied"`
	Skipped  int      `json:"relationshipsSkipped"`
	// Updated lists previously stored sets that gained relationships.
	Updated []string `json:"updatedSets,omitempty"`
}

// Ingest normalizes set, infers relationships between it and the stored sets of its domain,
// and persists everything that changed. Relationships supplied with the set are validated
// against the registry; invalid ones fail the whole call.
func (k *Keeper) Ingest(ctx context.Context, set *model.EntitySet) (IngestResult, error) {
	if set == nil {
		return IngestResult{}, apperrors.NewValidationError("entity set is required")
	}
	if strings.TrimSpace(set.Domain) == "" {
		return IngestResult{}, apperrors.NewValidationError("domain is required")
	}

	issues := set.Normalize()
	switch {
	case set.SchemaVersion == "":
		set.SchemaVersion = model.SchemaVersion
	case schema.NeedsMigration(set):
		set = k.Schema.MigrateLegacyEntitySet(set)
	}
	if problems := k.Schema.ValidateEntitySet(set); len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i, p := range problems {
			msgs[i] = p.String()
		}
		return IngestResult{}, apperrors.NewValidationError(msgs...)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	existing, err := k.store.LoadEntitySets(ctx, set.Domain)
	if err != nil {
		return IngestResult{}, err
	}
	batch := make([]*model.EntitySet, 0, len(existing)+1)
	for _, s := range existing {
		if s.ID != set.ID {
			batch = append(batch, s)
		}
	}
	if conflicts := entityIDConflicts(batch, set); len(conflicts) > 0 {
		return IngestResult{}, apperrors.NewValidationError(conflicts...)
	}
	batch = append(batch, set)

	before := make(map[string]int, len(batch))
	for _, s := range batch {
		before[s.ID] = s.RelationshipCount
	}

	// Pairs of stored sets were settled when they were ingested.
	var proposals []inference.Proposal
	for _, p := range k.Engine.InferRelationships(batch, set.Domain) {
		if p.SourceID == set.ID || p.TargetID == set.ID {
			proposals = append(proposals, p)
		}
	}
	applied := k.Engine.ApplyRelationshipsToEntities(batch, proposals, model.SourceContentInference)

	res := IngestResult{
		Set:      set,
		Issues:   issues,
		Inferred: len(proposals),
		Applied:  applied.Applied,
		Skipped:  len(applied.Skipped),
	}
	// The new set goes first so a rejected id leaves the stored sets untouched.
	if err := k.store.SaveEntitySet(ctx, set); err != nil {
		return IngestResult{}, err
	}
	for _, s := range batch[:len(batch)-1] {
		if s.RelationshipCount == before[s.ID] {
			continue
		}
		if err := k.store.SaveEntitySet(ctx, s); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, s.ID)
	}

	k.log.Info("Ingested entity set",
		zap.String("domain", set.Domain),
		zap.String("set_id", set.ID),
		zap.Int("entities", set.Total()),
		zap.Int("issues", len(issues)),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Strings("updated", res.Updated))
	return res, nil
}

// entityIDConflicts lists entity ids of set that another stored set of the domain already uses.
func entityIDConflicts(stored []*model.EntitySet, set *model.EntitySet) []string {
	owner := make(map[string]string)
	for _, s := range stored {
		for _, e := range s.Flatten() {
			owner[e.ID] = s.ID
		}
	}
	var out []string
	for _, e := range set.Flatten() {
		if other, ok := owner[e.ID]; ok {
			out = append(out, fmt.Sprintf("entity id %q is already used by entity set %q", e.ID, other))
		}
	}
	return out
}

// DeleteEntitySet removes a stored set and strips relationships that point at it or its
// entities from the rest of the domain. It returns the ids of the sets it rewrote.
func (k *Keeper) DeleteEntitySet(ctx context.Context, domain, id string) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	sets, err := k.store.LoadEntitySets(ctx, domain)
	if err != nil {
		return nil, err
	}
	gone := map[string]bool{id: true}
	found := false
	for _, s := range sets {
		if s.ID == id {
			found = true
			for _, e := range s.Flatten() {
				gone[e.ID] = true
			}
		}
	}
	if !found {
		return nil, apperrors.NewNotFound("entity set", id)
	}
	if err := k.store.DeleteEntitySet(ctx, domain, id); err != nil {
		return nil, err
	}

	var updated []string
	for _, s := range sets {
		if s.ID == id || k.stripTargets(s, gone) == 0 {
			continue
		}
		if err := k.store.SaveEntitySet(ctx, s); err != nil {
			return updated, err
		}
		updated = append(updated, s.ID)
	}
	k.log.Info("Deleted entity set",
		zap.String("domain", domain),
		zap.String("set_id", id),
		zap.Strings("updated", updated))
	return updated, nil
}

// stripTargets removes every relationship of set and its entities whose target is in gone.
func (k *Keeper) stripTargets(set *model.EntitySet, gone map[string]bool) int {
	removed := 0
	strip := func(node model.Linked) {
		drop := filterTargets(node.Links().Relationships, gone)
		for _, r := range drop {
			if k.Schema.RemoveRelationship(node, r.Type, r.Target) {
				removed++
			}
		}
	}
	strip(set)
	for _, cat := range set.Categories() {
		for i := range set.Entities[cat] {
			strip(&set.Entities[cat][i])
		}
	}
	return removed
}

func filterTargets(rels []model.Relationship, gone map[string]bool) []model.Relationship {
	var out []model.Relationship
	for _, r := range rels {
		if gone[r.Target] {
			out = append(out, r)
		}
	}
	return out
}

// ExtractAndIngest runs the extractor over text and ingests the result.
func (k *Keeper) ExtractAndIngest(ctx context.Context, domain, text string) (IngestResult, error) {
	if k.Extractor == nil {
		return IngestResult{}, ErrExtractionDisabled
	}
	set, err := k.Extractor.Extract(ctx, domain, text)
	if err != nil {
		return IngestResult{}, err
	}
	return k.Ingest(ctx, set)
}

func (k *Keeper) EntitySets(ctx context.Context, domain string) ([]*model.EntitySet, error) {
	sets, err := k.store.LoadEntitySets(ctx, domain)
	if err != nil {
		return nil, err
	}
	if sets == nil {
		sets = []*model.EntitySet{}
	}
	return sets, nil
}

// RelationshipTypes returns the definitions valid in domain sorted by type. An empty domain
// returns the whole registry.
func (k *Keeper) RelationshipTypes(domain string) []registry.Definition {
	var defs []registry.Definition
	if domain == "" {
		for _, t := range k.Registry.Types() {
			d, _ := k.Registry.Definition(t)
			defs = append(defs, d)
		}
		return defs
	}
	for _, d := range k.Registry.RelationshipsForDomain(domain) {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Type < defs[j].Type })
	return defs
}

// Clusters groups the entity sets of domain by their relationships.
func (k *Keeper) Clusters(ctx context.Context, domain string) ([]community.Cluster, error) {
	sets, err := k.store.LoadEntitySets(ctx, domain)
	if err != nil {
		return nil, err
	}
	return k.clusters(sets)
}

// SummarizeClusters detects the clusters of domain and asks the LLM to name and describe
// each one. Clusters whose summary fails are returned without one.
func (k *Keeper) SummarizeClusters(ctx context.Context, domain string) ([]summary.ClusterSummary, error) {
	if k.Summarizer == nil {
		return nil, ErrSummaryDisabled
	}
	sets, err := k.store.LoadEntitySets(ctx, domain)
	if err != nil {
		return nil, err
	}
	clusters, err := k.clusters(sets)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.EntitySet, len(sets))
	for _, s := range sets {
		byID[s.ID] = s
	}
	out := make([]summary.ClusterSummary, 0, len(clusters))
	for _, c := range clusters {
		cs, err := k.Summarizer.SummarizeCluster(ctx, domain, c, byID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			k.log.Warn("Cluster summary failed", zap.String("cluster", c.ID), zap.Error(err))
			cs = summary.ClusterSummary{Cluster: c}
		}
		out = append(out, cs)
	}
	return out, nil
}

func (k *Keeper) clusters(sets []*model.EntitySet) ([]community.Cluster, error) {
	nodes, edges := community.GraphFromEntitySets(sets)
	clusters, err := k.Detector.Detect(nodes, edges)
	if err != nil {
		return nil, fmt.Errorf("detecting clusters: %w", err)
	}
	if clusters == nil {
		clusters = []community.Cluster{}
	}
	return clusters, nil
}

// SyncResult counts what SyncGraph wrote.
type SyncResult struct {
	Domain        string        `json:"domain"`
	Sets          int           `json:"entitySets"`
	Entities      int           `json:"entities"`
	Relationships int           `json:"relationships"`
	Duration      time.Duration `json:"duration"`
}

func (k *Keeper) BuildIndices(ctx context.Context) error {
	if k.Driver == nil {
		return ErrGraphDisabled
	}
	return k.Driver.BuildIndices(ctx)
}

// SyncGraph replaces the graph projection of domain with its current consolidated view.
// Relationships pointing at merged-away entities are redirected to their primaries.
func (k *Keeper) SyncGraph(ctx context.Context, domain string) (SyncResult, error) {
	if k.Driver == nil {
		return SyncResult{}, ErrGraphDisabled
	}
	start := time.Now()

	sets, err := k.store.LoadEntitySets(ctx, domain)
	if err != nil {
		return SyncResult{}, err
	}
	entities, aliases, err := k.Merges.ConsolidatedView(ctx, domain)
	if err != nil {
		return SyncResult{}, err
	}
	resolve := func(id string) string {
		if root, ok := aliases[id]; ok {
			return root
		}
		return id
	}

	setRows := make([]any, 0, len(sets))
	var relRows []any
	addRel := func(source string, r model.Relationship) {
		target := resolve(r.Target)
		if target == source {
			return
		}
		relRows = append(relRows, map[string]any{
			"source":     source,
			"target":     target,
			"type":       r.Type,
			"confidence": r.Confidence,
			"provenance": r.Source,
		})
	}
	for _, s := range sets {
		setRows = append(setRows, map[string]any{
			"id":             s.ID,
			"name":           s.Summary().Name,
			"timestamp":      s.Timestamp.Format(time.RFC3339),
			"entity_count":   s.Total(),
			"schema_version": s.SchemaVersion,
		})
		for _, r := range s.Relationships {
			addRel(s.ID, r)
		}
	}

	entityRows := make([]any, 0, len(entities))
	for _, e := range entities {
		mergedFrom := e.MergedFrom
		if mergedFrom == nil {
			mergedFrom = []string{}
		}
		entityRows = append(entityRows, map[string]any{
			"id":                 e.ID,
			"set_id":             e.SetID,
			"name":               e.Name,
			"category":           e.Category,
			"confidence":         e.Confidence,
			"type":               e.Type,
			"status":             e.Status,
			"merged_from":        mergedFrom,
			"consolidated_count": e.ConsolidatedCount,
		})
		for _, r := range e.Relationships {
			addRel(e.ID, r)
		}
	}

	steps := []struct {
		query string
		rows  []any
	}{
		{driver.ClearDomainQuery, nil},
		{driver.SaveEntitySetNodesQuery, setRows},
		{driver.SaveEntityNodesQuery, entityRows},
		{driver.SaveRelationshipsQuery, relRows},
	}
	for _, step := range steps {
		params := map[string]any{"domain": domain}
		if step.query != driver.ClearDomainQuery {
			if len(step.rows) == 0 {
				continue
			}
			params["rows"] = step.rows
		}
		if _, err := k.Driver.ExecuteQuery(ctx, step.query, params); err != nil {
			return SyncResult{}, fmt.Errorf("syncing %s: %w", domain, err)
		}
	}

	res := SyncResult{
		Domain:        domain,
		Sets:          len(setRows),
		Entities:      len(entityRows),
		Relationships: len(relRows),
		Duration:      time.Since(start),
	}
	k.log.Info("Synced graph projection",
		zap.String("domain", domain),
		zap.Int("sets", res.Sets),
		zap.Int("entities", res.Entities),
		zap.Int("relationships", res.Relationships),
		zap.Duration("duration", res.Duration))
	return res, nil
}
