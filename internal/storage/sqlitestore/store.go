// Package sqlitestore persists merge history in SQLite.
//
// Records live one per row in merge_records with the full record as a JSON payload; the undo
// and redo stacks live in history_stacks ordered by position. Save rewrites both inside one
// transaction, so a crash never leaves the stacks pointing at half-written records.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/storage/sqlitestore/migrations"
)

const (
	backend = "sqlite"

	stackUndo = "undo"
	stackRedo = "redo"
)

type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at path, creating its directory and applying pending migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Load implements history.Store.
func (s *Store) Load(ctx context.Context) (model.HistoryState, error) {
	state := model.HistoryState{
		History:   []model.MergeRecord{},
		UndoStack: []string{},
		RedoStack: []string{},
	}

	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM merge_records ORDER BY seq")
	if err != nil {
		return state, apperrors.NewStorageFailure(backend, "load records", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return state, apperrors.NewStorageFailure(backend, "scan record", err)
		}
		var rec model.MergeRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return state, apperrors.NewStorageFailure(backend, "decode record", err)
		}
		state.History = append(state.History, rec)
	}
	if err := rows.Err(); err != nil {
		return state, apperrors.NewStorageFailure(backend, "load records", err)
	}

	stacks, err := s.db.QueryContext(ctx, "SELECT stack, record_id FROM history_stacks ORDER BY stack, position")
	if err != nil {
		return state, apperrors.NewStorageFailure(backend, "load stacks", err)
	}
	defer stacks.Close()
	for stacks.Next() {
		var stack, id string
		if err := stacks.Scan(&stack, &id); err != nil {
			return state, apperrors.NewStorageFailure(backend, "scan stack", err)
		}
		switch stack {
		case stackUndo:
			state.UndoStack = append(state.UndoStack, id)
		case stackRedo:
			state.RedoStack = append(state.RedoStack, id)
		}
	}
	if err := stacks.Err(); err != nil {
		return state, apperrors.NewStorageFailure(backend, "load stacks", err)
	}
	return state, nil
}

// Save implements history.Store.
func (s *Store) Save(ctx context.Context, state model.HistoryState) error {
	if err := s.save(ctx, state); err != nil {
		return apperrors.NewStorageFailure(backend, "save history", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, state model.HistoryState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM history_stacks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM merge_records"); err != nil {
		return err
	}

	insertRecord, err := tx.PrepareContext(ctx, `
		INSERT INTO merge_records
			(id, seq, recorded_at, merge_type, status, primary_id, secondary_id, resulting_id, domain, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer insertRecord.Close()

	for i, rec := range state.History {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", rec.ID, err)
		}
		if _, err := insertRecord.ExecContext(ctx,
			rec.ID, i, rec.Timestamp.UTC().Format(time.RFC3339Nano), string(rec.Type), string(rec.Status),
			rec.PrimaryEntity.ID, rec.SecondaryEntity.ID, rec.ResultingEntity.ID, rec.Metadata.Domain,
			string(payload),
		); err != nil {
			return fmt.Errorf("inserting record %s: %w", rec.ID, err)
		}
	}

	insertStack, err := tx.PrepareContext(ctx, "INSERT INTO history_stacks (stack, position, record_id) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer insertStack.Close()

	for name, ids := range map[string][]string{stackUndo: state.UndoStack, stackRedo: state.RedoStack} {
		for pos, id := range ids {
			if _, err := insertStack.ExecContext(ctx, name, pos, id); err != nil {
				return fmt.Errorf("inserting %s stack entry: %w", name, err)
			}
		}
	}

	return tx.Commit()
}
