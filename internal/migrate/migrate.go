// Package migrate applies the numbered SQL files under a directory and records
// them in schema_migrations.
package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var fileName = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

// Migration is one NNN_name.sql file, applied or not
type Migration struct {
	Version   int        `db:"version"`
	Name      string     `db:"name"`
	AppliedAt *time.Time `db:"applied_at"`
	Applied   bool       `db:"-"`
	Path      string     `db:"-"`
}

// Runner applies schema files from one directory and seed files from another
type Runner struct {
	db      *sqlx.DB
	dir     string
	seedDir string
	log     *zap.SugaredLogger
}

// NewRunner creates a runner for the given directories
func NewRunner(db *sqlx.DB, dir, seedDir string, log *zap.SugaredLogger) *Runner {
	return &Runner{db: db, dir: dir, seedDir: seedDir, log: log}
}

// EnsureTable creates schema_migrations if it does not exist
func (r *Runner) EnsureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

// Up applies every pending file in version order and returns how many ran.
// Each file runs in one transaction together with its schema_migrations row.
func (r *Runner) Up(ctx context.Context) (int, error) {
	all, err := r.Status(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range all {
		if m.Applied {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return count, fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
		}
		r.log.Infow("migration applied", "version", m.Version, "name", m.Name)
		count++
	}

	return count, nil
}

// Status lists every file of the schema directory with its applied state
func (r *Runner) Status(ctx context.Context) ([]Migration, error) {
	var rows []Migration
	if err := r.db.SelectContext(ctx, &rows, `SELECT version, name, applied_at FROM schema_migrations`); err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	applied := make(map[int]Migration, len(rows))
	for _, m := range rows {
		applied[m.Version] = m
	}

	all, err := Files(r.dir)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if rec, ok := applied[all[i].Version]; ok {
			all[i].Applied = true
			all[i].AppliedAt = rec.AppliedAt
		}
	}
	return all, nil
}

// Seed runs every file of the seed directory. Seed files are written to be rerunnable.
func (r *Runner) Seed(ctx context.Context) (int, error) {
	all, err := Files(r.seedDir)
	if err != nil {
		return 0, err
	}

	for i, m := range all {
		content, err := os.ReadFile(m.Path)
		if err != nil {
			return i, err
		}
		if _, err := r.db.ExecContext(ctx, string(content)); err != nil {
			return i, fmt.Errorf("seed %03d_%s: %w", m.Version, m.Name, err)
		}
		r.log.Infow("seed applied", "version", m.Version, "name", m.Name)
	}
	return len(all), nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	content, err := os.ReadFile(m.Path)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Files lists the NNN_name.sql files of dir in version order. A missing
// directory has no files.
func Files(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var out []Migration
	for _, entry := range entries {
		match := fileName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		version, _ := strconv.Atoi(match[1])
		out = append(out, Migration{Version: version, Name: match[2], Path: filepath.Join(dir, entry.Name())})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
