// Package sqlite provides SQLite-based persistent storage for Cascade.
// Uses WAL mode and a single writer connection; every multi-row change
// runs inside InTx so conditional updates observe each other in order.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
	sqlite3 "modernc.org/sqlite/lib"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a SQLite connection with WAL mode and migrations.
// A DB handed to an InTx callback is bound to that transaction.
type DB struct {
	db *sql.DB
	q  queryer
	tx bool
}

// Open creates or opens the SQLite database at dir/cascade.db.
// Enables WAL mode, foreign keys, a 5-second busy timeout and immediate
// transactions so writers serialize at BEGIN.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "cascade.db")
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db, q: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// InTx runs fn inside a transaction. fn must only use the DB it is given:
// the pool holds one connection, so touching the outer DB would block.
// Nested calls reuse the enclosing transaction.
func (d *DB) InTx(ctx context.Context, fn func(tx *DB) error) error {
	if d.tx {
		return fn(d)
	}

	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&DB{db: d.db, q: sqlTx, tx: true}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			timezone     TEXT NOT NULL DEFAULT 'UTC',
			total_points INTEGER NOT NULL DEFAULT 0,
			bonus_xp     INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL
		)`,

		// Points ledger: SUM(amount) per user == users.total_points
		`CREATE TABLE IF NOT EXISTS points_ledger (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL REFERENCES users(id),
			source     TEXT NOT NULL,
			source_id  TEXT NOT NULL,
			amount     INTEGER NOT NULL,
			balance    INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user ON points_ledger(user_id)`,

		// Goal cascade: one table, level tag instead of a table per level
		`CREATE TABLE IF NOT EXISTS goals (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			parent_id  TEXT REFERENCES goals(id),
			level      TEXT NOT NULL,
			title      TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'ACTIVE',
			category   TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(user_id, status)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL REFERENCES users(id),
			goal_id        TEXT REFERENCES goals(id),
			title          TEXT NOT NULL,
			priority       TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'PENDING',
			scheduled_date TEXT NOT NULL,
			completed_at   INTEGER,
			completed_on   TEXT,
			points_earned  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(user_id, status, completed_on)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_scheduled ON tasks(user_id, scheduled_date)`,

		`CREATE TABLE IF NOT EXISTS streaks (
			user_id        TEXT NOT NULL REFERENCES users(id),
			type           TEXT NOT NULL,
			current_count  INTEGER NOT NULL DEFAULT 0,
			longest_count  INTEGER NOT NULL DEFAULT 0,
			last_action_at TEXT,
			is_active      BOOLEAN NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, type)
		)`,

		// Append-only; the unique key is what makes awarding idempotent
		`CREATE TABLE IF NOT EXISTS earned_badges (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id   TEXT NOT NULL REFERENCES users(id),
			slug      TEXT NOT NULL,
			earned_at INTEGER NOT NULL,
			UNIQUE (user_id, slug)
		)`,

		`CREATE TABLE IF NOT EXISTS kaizen_checkins (
			user_id       TEXT NOT NULL REFERENCES users(id),
			date          TEXT NOT NULL,
			health        BOOLEAN NOT NULL DEFAULT 0,
			relationships BOOLEAN NOT NULL DEFAULT 0,
			career        BOOLEAN NOT NULL DEFAULT 0,
			finances      BOOLEAN NOT NULL DEFAULT 0,
			growth        BOOLEAN NOT NULL DEFAULT 0,
			recreation    BOOLEAN NOT NULL DEFAULT 0,
			points_earned INTEGER NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL,
			PRIMARY KEY (user_id, date)
		)`,

		// Planning and review submissions, one per period
		`CREATE TABLE IF NOT EXISTS actions (
			user_id    TEXT NOT NULL REFERENCES users(id),
			kind       TEXT NOT NULL,
			period_key TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, kind, period_key)
		)`,

		`CREATE TABLE IF NOT EXISTS user_challenges (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id),
			type          TEXT NOT NULL,
			slug          TEXT NOT NULL,
			title         TEXT NOT NULL,
			period_start  TEXT NOT NULL,
			period_end    TEXT NOT NULL,
			target_value  INTEGER NOT NULL,
			current_value INTEGER NOT NULL DEFAULT 0,
			bonus_xp      INTEGER NOT NULL DEFAULT 0,
			is_completed  BOOLEAN NOT NULL DEFAULT 0,
			completed_at  INTEGER,
			UNIQUE (user_id, type, slug, period_start)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_period ON user_challenges(user_id, type, period_start)`,

		// Sources already counted by counter-style challenges
		`CREATE TABLE IF NOT EXISTS challenge_credits (
			challenge_id TEXT NOT NULL REFERENCES user_challenges(id),
			source_key   TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			PRIMARY KEY (challenge_id, source_key)
		)`,

		`CREATE TABLE IF NOT EXISTS celebrations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			ref        TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			seen       BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_celebrations_user ON celebrations(user_id, seen)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY conflict.
func IsUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromUnix(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0)
}
