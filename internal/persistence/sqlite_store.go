// Package persistence is the durable translation cache backed by SQLite.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// LoadUnits returns every cached unit for one work item and language pair,
// used to pre-warm the in-memory cache when a work item is opened.
func (s *SQLiteStore) LoadUnits(ctx context.Context, workItemID, sourceLang, targetLang string) ([]TranslationUnit, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT work_item_id, source_lang, target_lang, original_text, translated_text, updated_at
		 FROM translation_units
		 WHERE work_item_id = ? AND source_lang = ? AND target_lang = ?
		 ORDER BY original_text ASC`,
		workItemID,
		sourceLang,
		targetLang,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]TranslationUnit, 0)
	for rows.Next() {
		var unit TranslationUnit
		if err := rows.Scan(
			&unit.WorkItemID,
			&unit.SourceLang,
			&unit.TargetLang,
			&unit.OriginalText,
			&unit.TranslatedText,
			&unit.UpdatedAt,
		); err != nil {
			return nil, err
		}
		ret = append(ret, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// SaveUnitsBatch upserts all units in one transaction. A failure on one
// unit does not block the rest; the count of written units is returned
// together with an error describing any units that failed.
func (s *SQLiteStore) SaveUnitsBatch(ctx context.Context, units []TranslationUnit) (int, error) {
	if len(units) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	saved := 0
	var unitErrs []error
	for _, unit := range units {
		updatedAt := unit.UpdatedAt.UTC()
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO translation_units (
				work_item_id, source_lang, target_lang, original_text, translated_text, updated_at
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(work_item_id, source_lang, target_lang, original_text) DO UPDATE SET
				translated_text=excluded.translated_text,
				updated_at=excluded.updated_at`,
			unit.WorkItemID,
			unit.SourceLang,
			unit.TargetLang,
			unit.OriginalText,
			unit.TranslatedText,
			updatedAt,
		)
		if err != nil {
			unitErrs = append(unitErrs, fmt.Errorf("unit %q: %w", unit.OriginalText, err))
			continue
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if len(unitErrs) > 0 {
		return saved, fmt.Errorf("saved %d of %d units: %w", saved, len(units), errors.Join(unitErrs...))
	}
	return saved, nil
}

// ClearUnits deletes all cached units for a work item across all language
// pairs, returning the number of rows removed.
func (s *SQLiteStore) ClearUnits(ctx context.Context, workItemID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_units WHERE work_item_id = ?`, workItemID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) GetMetadata(ctx context.Context, workItemID string) (WorkItemMetadata, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT work_item_id, last_accessed_days FROM work_item_meta WHERE work_item_id = ?`,
		workItemID,
	)
	var meta WorkItemMetadata
	if err := row.Scan(&meta.WorkItemID, &meta.LastAccessedDays); err != nil {
		if err == sql.ErrNoRows {
			return WorkItemMetadata{}, false, nil
		}
		return WorkItemMetadata{}, false, err
	}
	return meta, true, nil
}

func (s *SQLiteStore) UpsertMetadata(ctx context.Context, workItemID string, lastAccessedDays int) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO work_item_meta (work_item_id, last_accessed_days)
		 VALUES (?, ?)
		 ON CONFLICT(work_item_id) DO UPDATE SET
			last_accessed_days=excluded.last_accessed_days`,
		workItemID,
		lastAccessedDays,
	)
	return err
}

func (s *SQLiteStore) ListAllMetadata(ctx context.Context) ([]WorkItemMetadata, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT work_item_id, last_accessed_days FROM work_item_meta ORDER BY work_item_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]WorkItemMetadata, 0)
	for rows.Next() {
		var meta WorkItemMetadata
		if err := rows.Scan(&meta.WorkItemID, &meta.LastAccessedDays); err != nil {
			return nil, err
		}
		ret = append(ret, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteMetadata(ctx context.Context, workItemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM work_item_meta WHERE work_item_id = ?`, workItemID)
	return err
}
