package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cascade-app/cascade/internal/domain"
)

// ─── Challenges ─────────────────────────────────────────────────────────────

const challengeColumns = `id, user_id, type, slug, title, period_start, period_end,
	target_value, current_value, bonus_xp, is_completed, completed_at`

// InsertChallenge creates a challenge for a period. A unique violation on
// (user, type, slug, period_start) is returned unwrapped so callers can
// detect a concurrent generation with IsUniqueViolation.
func (d *DB) InsertChallenge(ctx context.Context, c domain.UserChallenge) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO user_challenges (`+challengeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, string(c.Type), c.Slug, c.Title, string(c.PeriodStart), string(c.PeriodEnd),
		c.TargetValue, c.CurrentValue, c.BonusXP, c.IsCompleted, nullableUnix(c.CompletedAt),
	)
	return err
}

// GetChallenge retrieves a challenge by ID.
func (d *DB) GetChallenge(ctx context.Context, id string) (*domain.UserChallenge, error) {
	row := d.q.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM user_challenges WHERE id = ?`, id)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found, no error
	}
	return c, err
}

// ListChallenges returns every challenge of a kind for the period starting at start.
func (d *DB) ListChallenges(ctx context.Context, userID string, kind domain.ChallengePeriod, start domain.LocalDate) ([]domain.UserChallenge, error) {
	return d.listChallenges(ctx,
		`SELECT `+challengeColumns+` FROM user_challenges
		 WHERE user_id = ? AND type = ? AND period_start = ? ORDER BY slug`,
		userID, string(kind), string(start),
	)
}

// ListOpenChallenges returns incomplete challenges of a kind for one period.
func (d *DB) ListOpenChallenges(ctx context.Context, userID string, kind domain.ChallengePeriod, start domain.LocalDate) ([]domain.UserChallenge, error) {
	return d.listChallenges(ctx,
		`SELECT `+challengeColumns+` FROM user_challenges
		 WHERE user_id = ? AND type = ? AND period_start = ? AND is_completed = 0 ORDER BY slug`,
		userID, string(kind), string(start),
	)
}

// CountChallenges counts challenges of a kind for one period.
func (d *DB) CountChallenges(ctx context.Context, userID string, kind domain.ChallengePeriod, start domain.LocalDate) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_challenges WHERE user_id = ? AND type = ? AND period_start = ?`,
		userID, string(kind), string(start),
	).Scan(&n)
	return n, err
}

// AddChallengeCredit marks a source as counted for a challenge.
// Returns false if that source was already counted.
func (d *DB) AddChallengeCredit(ctx context.Context, challengeID, sourceKey string, at time.Time) (bool, error) {
	result, err := d.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO challenge_credits (challenge_id, source_key, created_at) VALUES (?, ?, ?)`,
		challengeID, sourceKey, at.Unix(),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// IncrementChallenge adds delta to an open challenge and returns the new value.
// ok is false when the challenge is already completed (frozen).
func (d *DB) IncrementChallenge(ctx context.Context, id string, delta int64) (value int64, ok bool, err error) {
	err = d.q.QueryRowContext(ctx,
		`UPDATE user_challenges SET current_value = current_value + ?
		 WHERE id = ? AND is_completed = 0 RETURNING current_value`,
		delta, id,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// SetChallengeValue overwrites the value of an open challenge.
// Completed challenges are frozen and left untouched.
func (d *DB) SetChallengeValue(ctx context.Context, id string, value int64) (bool, error) {
	result, err := d.q.ExecContext(ctx,
		`UPDATE user_challenges SET current_value = ? WHERE id = ? AND is_completed = 0`,
		value, id,
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// CompleteChallenge sets is_completed once. Returns false if it was already set.
func (d *DB) CompleteChallenge(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := d.q.ExecContext(ctx,
		`UPDATE user_challenges SET is_completed = 1, completed_at = ?
		 WHERE id = ? AND is_completed = 0 AND current_value >= target_value`,
		at.Unix(), id,
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (d *DB) listChallenges(ctx context.Context, query string, args ...any) ([]domain.UserChallenge, error) {
	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserChallenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanChallenge(s scanner) (*domain.UserChallenge, error) {
	var c domain.UserChallenge
	var typ, start, end string
	var completedAt sql.NullInt64

	err := s.Scan(&c.ID, &c.UserID, &typ, &c.Slug, &c.Title, &start, &end,
		&c.TargetValue, &c.CurrentValue, &c.BonusXP, &c.IsCompleted, &completedAt)
	if err != nil {
		return nil, err
	}
	c.Type = domain.ChallengePeriod(typ)
	c.PeriodStart = domain.LocalDate(start)
	c.PeriodEnd = domain.LocalDate(end)
	c.CompletedAt = fromUnix(completedAt)
	return &c, nil
}
