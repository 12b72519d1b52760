// Package db opens the annotator's SQLite file. The schema version lives in
// PRAGMA user_version, so the server and the CLI can share one data dir and
// an older binary refuses a database written by a newer one.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaTooNew is returned when the file was migrated past the newest
// migration this binary knows.
var ErrSchemaTooNew = errors.New("database schema is newer than this binary")

// Applied to every pooled connection by the modernc driver.
const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

// DB wraps the SQLite connection holding snapshots, transcode jobs and
// config entries.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

type migration struct {
	version int
	name    string
}

// New opens (or creates) the database at dbPath, brings the schema up to
// date and fails any transcode job left running by a previous process.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: logger}
	ctx := context.Background()
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := db.failRunningJobs(ctx); err != nil && logger != nil {
		logger.Warn("failed to mark interrupted jobs", "error", err)
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Version returns the schema version recorded in the file.
func (d *DB) Version(ctx context.Context) (int, error) {
	var v int
	if err := d.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (d *DB) migrate(ctx context.Context) error {
	all, err := loadMigrations()
	if err != nil {
		return err
	}
	current, err := d.Version(ctx)
	if err != nil {
		return err
	}
	if latest := all[len(all)-1].version; current > latest {
		return fmt.Errorf("%w: file at version %d, binary knows %d", ErrSchemaTooNew, current, latest)
	}

	for _, m := range all {
		if m.version <= current {
			continue
		}
		if err := d.apply(ctx, m); err != nil {
			return err
		}
		if d.logger != nil {
			d.logger.Info("applied migration", "name", m.name, "version", m.version)
		}
	}
	return nil
}

// apply runs one migration and bumps user_version in the same transaction.
func (d *DB) apply(ctx context.Context, m migration) error {
	content, err := migrationsFS.ReadFile("migrations/" + m.name)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", m.name, err)
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", m.name, err)
	}
	// PRAGMA takes no bind parameters; version is parsed from a file name.
	if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(m.version)); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.name, err)
	}
	return tx.Commit()
}

// loadMigrations lists the embedded NNN_name.sql files ordered by version.
func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	var out []migration
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if e.IsDir() || !ok {
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("migration %s has no numeric version prefix", e.Name())
		}
		out = append(out, migration{version: v, name: e.Name()})
	}
	if len(out) == 0 {
		return nil, errors.New("no migrations embedded")
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].version)
		}
	}
	return out, nil
}

func (d *DB) failRunningJobs(ctx context.Context) error {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'error', message = 'interrupted by restart', updated_at = datetime('now') WHERE status = 'running'`)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 && d.logger != nil {
		d.logger.Warn("marked interrupted transcode jobs", "count", n)
	}
	return nil
}
