// Package migrator applies SQL migrations in lexical order and records a
// checksum per file so that edits to an applied migration are detected.
package migrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTrackingTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    filename   TEXT PRIMARY KEY,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrator applies the migrations found in an fs.FS.
type Migrator struct {
	pool   *pgxpool.Pool
	files  fs.FS
	logger *slog.Logger
}

// New creates a migrator reading *.sql files from the root of files.
func New(pool *pgxpool.Pool, files fs.FS, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		pool:   pool,
		files:  files,
		logger: logger.With("component", "migrator"),
	}
}

// ApplyAll applies every pending migration, each in its own transaction, and
// verifies the checksum of those already applied.
func (m *Migrator) ApplyAll(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, createTrackingTable); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := m.appliedChecksums(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	names, err := MigrationFiles(m.files)
	if err != nil {
		return fmt.Errorf("listing migration files: %w", err)
	}

	for _, name := range names {
		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		sum := Checksum(content)

		if stored, ok := applied[name]; ok {
			if stored != sum {
				return fmt.Errorf("migration %s has been modified (expected checksum %s, got %s)", name, stored, sum)
			}
			continue
		}

		if err := m.apply(ctx, name, content, sum); err != nil {
			return fmt.Errorf("applying %s: %w", name, err)
		}
	}
	return nil
}

func (m *Migrator) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := m.pool.Query(ctx, "SELECT filename, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		applied[name] = sum
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, name string, content []byte, sum string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			m.logger.Warn("failed to rollback migration", "file", name, "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("executing migration SQL: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)",
		name, sum); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	m.logger.Info("applied migration", "file", name, "checksum", sum[:8])
	return nil
}

// ListApplied returns applied migration names, oldest first.
func (m *Migrator) ListApplied(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx, "SELECT filename FROM schema_migrations ORDER BY applied_at, filename")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// MigrationFiles returns the *.sql files at the root of files, sorted.
func MigrationFiles(files fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Checksum returns the hex SHA-256 of a migration.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
