package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cascade-app/cascade/internal/domain"
)

// ─── Users ──────────────────────────────────────────────────────────────────

// CreateUser inserts a user with zero points.
func (d *DB) CreateUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO users (id, timezone, total_points, bonus_xp, created_at) VALUES (?, ?, 0, 0, ?)`,
		u.ID, u.Timezone, u.CreatedAt.Unix(),
	)
	return err
}

// GetUser retrieves a user by ID. Returns domain.ErrUserNotFound if absent.
func (d *DB) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	var createdAt int64
	err := d.q.QueryRowContext(ctx,
		`SELECT id, timezone, total_points, bonus_xp, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Timezone, &u.TotalPoints, &u.BonusXP, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

// SetUserTimezone changes the zone used to derive local dates.
func (d *DB) SetUserTimezone(ctx context.Context, id, tz string) error {
	result, err := d.q.ExecContext(ctx, `UPDATE users SET timezone = ? WHERE id = ?`, tz, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// AddPoints moves the user's total by delta and returns the totals
// immediately before and after that single write.
func (d *DB) AddPoints(ctx context.Context, userID string, delta int64) (before, after int64, err error) {
	err = d.q.QueryRowContext(ctx,
		`UPDATE users SET total_points = total_points + ? WHERE id = ? RETURNING total_points`,
		delta, userID,
	).Scan(&after)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, domain.ErrUserNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("add points: %w", err)
	}
	return after - delta, after, nil
}

// AddBonusXP credits challenge bonus XP, kept apart from the points ledger.
func (d *DB) AddBonusXP(ctx context.Context, userID string, amount int64) error {
	result, err := d.q.ExecContext(ctx,
		`UPDATE users SET bonus_xp = bonus_xp + ? WHERE id = ?`, amount, userID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ─── Points Ledger ──────────────────────────────────────────────────────────

// InsertLedgerEntry appends a signed points movement.
func (d *DB) InsertLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	result, err := d.q.ExecContext(ctx,
		`INSERT INTO points_ledger (user_id, source, source_id, amount, balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.UserID, string(entry.Source), entry.SourceID, entry.Amount, entry.Balance, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// LedgerSum returns SUM(amount) for a user. Equals users.total_points.
func (d *DB) LedgerSum(ctx context.Context, userID string) (int64, error) {
	var sum sql.NullInt64
	err := d.q.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM points_ledger WHERE user_id = ?`, userID,
	).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

// LedgerEntries returns the most recent ledger entries for a user.
func (d *DB) LedgerEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.q.QueryContext(ctx,
		`SELECT id, user_id, source, source_id, amount, balance, created_at
		 FROM points_ledger WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var source string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &source, &e.SourceID, &e.Amount, &e.Balance, &createdAt); err != nil {
			return nil, err
		}
		e.Source = domain.PointsSource(source)
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LedgerDrift counts users whose total_points differs from their ledger sum.
func (d *DB) LedgerDrift(ctx context.Context) (int64, error) {
	var n int64
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users u
		 WHERE u.total_points != COALESCE((SELECT SUM(amount) FROM points_ledger l WHERE l.user_id = u.id), 0)`,
	).Scan(&n)
	return n, err
}
