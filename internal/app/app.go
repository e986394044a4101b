// Package app assembles the stores, services and optional integrations described by a
// config.Config. The server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/config"
	"github.com/agenthands/graphkeeper/internal/core"
	"github.com/agenthands/graphkeeper/internal/core/community"
	"github.com/agenthands/graphkeeper/internal/core/dedupe"
	"github.com/agenthands/graphkeeper/internal/core/extraction"
	"github.com/agenthands/graphkeeper/internal/core/history"
	"github.com/agenthands/graphkeeper/internal/core/merge"
	"github.com/agenthands/graphkeeper/internal/core/migration"
	"github.com/agenthands/graphkeeper/internal/core/summary"
	"github.com/agenthands/graphkeeper/internal/driver"
	"github.com/agenthands/graphkeeper/internal/llm"
	"github.com/agenthands/graphkeeper/internal/logger"
	"github.com/agenthands/graphkeeper/internal/storage"
	"github.com/agenthands/graphkeeper/internal/storage/badgerstore"
	"github.com/agenthands/graphkeeper/internal/storage/filestore"
	"github.com/agenthands/graphkeeper/internal/storage/memstore"
	"github.com/agenthands/graphkeeper/internal/storage/sqlitestore"
)

type App struct {
	Config   *config.Config
	Store    storage.Store
	History  history.Store
	Merges   *merge.Service
	Keeper   *core.Keeper
	Migrator *migration.Migrator

	closers []func(context.Context) error
	log     *zap.Logger
}

// New opens the configured backends and loads persisted merge history. Memgraph and the LLM
// are optional: without a URI graph sync is disabled, and without credentials extraction is.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	log = logger.OrGlobal(log)
	a := &App{Config: cfg, log: log}

	store, hist, err := a.openStores(cfg.Storage)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Store, a.History = store, hist

	a.Merges = merge.NewService(store, store, dedupe.NewDetector(cfg.Merge, log), merge.Options{
		HistoryStore: hist,
		History: history.Options{
			MaxHistorySize: cfg.History.MaxHistorySize,
			MaxUndoSize:    cfg.History.MaxUndoSize,
		},
	}, log)
	if err := a.Merges.Load(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("loading merge history: %w", err)
	}

	detector, err := community.NewDetector(cfg.Community.Detector)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	opts := core.KeeperOptions{Store: store, Merges: a.Merges, Detector: detector}
	if extractionEnabled(cfg.LLM) {
		client, err := llm.NewClient(ctx, cfg.LLM, log)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("initializing LLM client: %w", err)
		}
		if c, ok := client.(interface{ Close() error }); ok {
			a.closers = append(a.closers, func(context.Context) error { return c.Close() })
		}
		opts.Extractor = extraction.NewExtractor(client, cfg.Extraction.Prompt, log)
		opts.Summarizer = summary.NewSummarizer(client, cfg.Summary.Prompt, log)
	} else {
		log.Warn("No LLM credentials configured, extraction and summaries disabled", zap.String("provider", cfg.LLM.Provider))
	}

	if cfg.Memgraph.URI != "" {
		d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, log)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connecting to Memgraph: %w", err)
		}
		a.closers = append(a.closers, d.Close)
		opts.Driver = d
	}

	a.Keeper = core.NewKeeper(opts, log)
	a.Migrator = migration.NewMigrator(store, a.Keeper.Schema, a.Keeper.Engine, cfg.Concurrency.MigrationWorkers, log)

	if opts.Driver != nil {
		if err := a.Keeper.BuildIndices(ctx); err != nil {
			log.Warn("Failed to build graph indices", zap.Error(err))
		}
	}
	return a, nil
}

func extractionEnabled(cfg config.LLMConfig) bool {
	return cfg.APIKey != "" || strings.EqualFold(cfg.Provider, "ollama")
}

// openStores returns the entity-set store and the history store. A configured history_db
// moves history into SQLite; otherwise the primary backend keeps it.
func (a *App) openStores(cfg config.StorageConfig) (storage.Store, history.Store, error) {
	var store interface {
		storage.Store
		history.Store
	}
	switch cfg.Backend {
	case storage.BackendMemory:
		m := memstore.New()
		return m, m, nil
	case storage.BackendFile:
		fs, err := filestore.New(cfg.DataDir, a.log)
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case storage.BackendBadger:
		b, err := badgerstore.Open(badgerstore.Options{DataDir: filepath.Join(cfg.DataDir, "badger")})
		if err != nil {
			return nil, nil, err
		}
		store = b
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	a.log.Info("Opened storage",
		zap.String("backend", cfg.Backend),
		zap.String("data_dir", cfg.DataDir),
		zap.String("history_db", cfg.HistoryDB))

	if cfg.HistoryDB == "" {
		return store, store, nil
	}
	hist, err := sqlitestore.Open(cfg.HistoryDB)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return hist.Close() })
	return store, hist, nil
}

// Close releases everything New opened, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
