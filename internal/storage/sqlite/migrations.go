package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one schema step. Migrations are registered in order and keyed
// by version; Migrate applies everything newer than the recorded version.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS plans (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				spec_json TEXT NOT NULL,
				graph_json TEXT NOT NULL,
				repo_path TEXT NOT NULL,
				base_branch TEXT,
				target_branch TEXT,
				worktree_root TEXT,
				max_parallel INTEGER NOT NULL DEFAULT 1,
				is_paused BOOLEAN NOT NULL DEFAULT FALSE,
				state_version INTEGER NOT NULL DEFAULT 1,
				snapshot_json TEXT,
				created_at DATETIME NOT NULL,
				ended_at DATETIME
			)`,

			`CREATE TABLE IF NOT EXISTS node_states (
				plan_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				status INTEGER NOT NULL,
				version INTEGER NOT NULL DEFAULT 1,
				attempts INTEGER NOT NULL DEFAULT 0,
				started_at DATETIME,
				ended_at DATETIME,
				pid INTEGER NOT NULL DEFAULT 0,
				worktree_path TEXT,
				error TEXT,
				failure_reason TEXT,
				PRIMARY KEY (plan_id, node_id),
				FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
			)`,

			`CREATE INDEX IF NOT EXISTS idx_node_states_status ON node_states(status)`,
		},
	},
}

// Migrate applies every migration newer than the schema's recorded version.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if current.Valid && int64(m.version) <= current.Int64 {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var current sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return 0, err
	}
	return int(current.Int64), nil
}
