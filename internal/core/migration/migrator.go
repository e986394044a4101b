// Package migration upgrades stored entity sets to the relationship schema and backfills
// relationships between the sets of each domain.
package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/graphkeeper/internal/core/inference"
	"github.com/agenthands/graphkeeper/internal/core/model"
	"github.com/agenthands/graphkeeper/internal/core/schema"
	"github.com/agenthands/graphkeeper/internal/logger"
	"github.com/agenthands/graphkeeper/internal/storage"
)

const DefaultWorkers = 4

type Options struct {
	// Domains limits the run. Empty means every domain the store knows.
	Domains []string
	DryRun  bool
}

// DomainReport summarizes one domain.
type DomainReport struct {
	Domain                string        `json:"domain"`
	SetsLoaded            int           `json:"setsLoaded"`
	SetsMigrated          int           `json:"setsMigrated"`
	SetsSaved             int           `json:"setsSaved"`
	RelationshipsInferred int           `json:"relationshipsInferred"`
	RelationshipsApplied  int           `json:"relationshipsApplied"`
	RelationshipsSkipped  int           `json:"relationshipsSkipped"`
	Issues                []string      `json:"issues,omitempty"`
	Duration              time.Duration `json:"duration"`
}

type Report struct {
	DryRun  bool           `json:"dryRun"`
	Domains []DomainReport `json:"domains"`
}

type Migrator struct {
	store   storage.EntitySetStore
	schema  *schema.Schema
	engine  *inference.Engine
	workers int
	log     *zap.Logger
}

func NewMigrator(store storage.EntitySetStore, s *schema.Schema, engine *inference.Engine, workers int, log *zap.Logger) *Migrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Migrator{
		store:   store,
		schema:  s,
		engine:  engine,
		workers: workers,
		log:     logger.OrGlobal(log),
	}
}

// Run migrates each domain. Domains run concurrently, bounded by the worker count; the sets of
// one domain are processed sequentially. The first domain failure cancels the rest.
func (m *Migrator) Run(ctx context.Context, opts Options) (Report, error) {
	domains := opts.Domains
	if len(domains) == 0 {
		var err error
		domains, err = m.store.Domains(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("listing domains: %w", err)
		}
	}

	var mu sync.Mutex
	report := Report{DryRun: opts.DryRun}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, domain := range domains {
		domain := domain
		g.Go(func() error {
			dr, err := m.migrateDomain(gctx, domain, opts.DryRun)
			if err != nil {
				return fmt.Errorf("migrating %s: %w", domain, err)
			}
			mu.Lock()
			report.Domains = append(report.Domains, dr)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.Domains, func(i, j int) bool {
		return report.Domains[i].Domain < report.Domains[j].Domain
	})
	return report, nil
}

func (m *Migrator) migrateDomain(ctx context.Context, domain string, dryRun bool) (DomainReport, error) {
	start := time.Now()
	dr := DomainReport{Domain: domain}

	sets, err := m.store.LoadEntitySets(ctx, domain)
	if err != nil {
		return dr, err
	}
	dr.SetsLoaded = len(sets)

	dirty := make(map[string]bool, len(sets))
	for i, set := range sets {
		if !schema.NeedsMigration(set) {
			continue
		}
		sets[i] = m.schema.MigrateLegacyEntitySet(set)
		dirty[set.ID] = true
		dr.SetsMigrated++
	}

	before := make(map[string]int, len(sets))
	for _, set := range sets {
		before[set.ID] = set.RelationshipCount
	}

	proposals := m.engine.InferRelationships(sets, domain)
	dr.RelationshipsInferred = len(proposals)
	res := m.engine.ApplyRelationshipsToEntities(sets, proposals, model.SourceMigrationInference)
	dr.RelationshipsApplied = res.Applied
	dr.RelationshipsSkipped = len(res.Skipped)

	for _, set := range sets {
		if set.RelationshipCount != before[set.ID] {
			dirty[set.ID] = true
		}
		for _, issue := range m.schema.ValidateEntitySet(set) {
			dr.Issues = append(dr.Issues, set.ID+": "+issue.String())
		}
	}

	if !dryRun {
		for _, set := range sets {
			if err := ctx.Err(); err != nil {
				return dr, err
			}
			if !dirty[set.ID] {
				continue
			}
			if err := m.store.SaveEntitySet(ctx, set); err != nil {
				return dr, err
			}
			dr.SetsSaved++
		}
	}

	dr.Duration = time.Since(start)
	m.log.Info("Migrated domain",
		zap.String("domain", domain),
		zap.Bool("dry_run", dryRun),
		zap.Int("sets", dr.SetsLoaded),
		zap.Int("migrated", dr.SetsMigrated),
		zap.Int("applied", dr.RelationshipsApplied),
		zap.Int("skipped", dr.RelationshipsSkipped),
		zap.Int("saved", dr.SetsSaved),
		zap.Duration("duration", dr.Duration))
	return dr, nil
}
