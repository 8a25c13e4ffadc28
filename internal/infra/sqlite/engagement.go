package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cascade-app/cascade/internal/domain"
)

// ─── Streaks ────────────────────────────────────────────────────────────────

// GetStreak loads one streak. ok is false if the streak was never started.
func (d *DB) GetStreak(ctx context.Context, userID string, t domain.StreakType) (domain.Streak, bool, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT user_id, type, current_count, longest_count, last_action_at, is_active
		 FROM streaks WHERE user_id = ? AND type = ?`, userID, string(t),
	)
	s, err := scanStreak(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Streak{UserID: userID, Type: t}, false, nil
	}
	if err != nil {
		return domain.Streak{}, false, err
	}
	return s, true, nil
}

// ListStreaks returns every streak row a user has.
func (d *DB) ListStreaks(ctx context.Context, userID string) ([]domain.Streak, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT user_id, type, current_count, longest_count, last_action_at, is_active
		 FROM streaks WHERE user_id = ? ORDER BY type`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streaks []domain.Streak
	for rows.Next() {
		s, err := scanStreak(rows)
		if err != nil {
			return nil, err
		}
		streaks = append(streaks, s)
	}
	return streaks, rows.Err()
}

// InsertStreak creates the row for a first qualifying action.
// Returns false if another writer created it first.
func (d *DB) InsertStreak(ctx context.Context, s domain.Streak) (bool, error) {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO streaks (user_id, type, current_count, longest_count, last_action_at, is_active)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.UserID, string(s.Type), s.CurrentCount, s.LongestCount, nullableString(string(s.LastActionAt)), s.IsActive,
	)
	if IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateStreak overwrites counters of an existing streak.
func (d *DB) UpdateStreak(ctx context.Context, s domain.Streak) error {
	_, err := d.q.ExecContext(ctx,
		`UPDATE streaks SET current_count = ?, longest_count = ?, last_action_at = ?, is_active = ?
		 WHERE user_id = ? AND type = ?`,
		s.CurrentCount, s.LongestCount, nullableString(string(s.LastActionAt)), s.IsActive,
		s.UserID, string(s.Type),
	)
	return err
}

func scanStreak(s scanner) (domain.Streak, error) {
	var st domain.Streak
	var typ string
	var last sql.NullString
	if err := s.Scan(&st.UserID, &typ, &st.CurrentCount, &st.LongestCount, &last, &st.IsActive); err != nil {
		return domain.Streak{}, err
	}
	st.Type = domain.StreakType(typ)
	st.LastActionAt = domain.LocalDate(last.String)
	return st, nil
}

// ─── Badges ─────────────────────────────────────────────────────────────────

// InsertEarnedBadge records a badge as earned.
// Returns false if already earned (idempotent).
func (d *DB) InsertEarnedBadge(ctx context.Context, userID, slug string, at time.Time) (bool, error) {
	result, err := d.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO earned_badges (user_id, slug, earned_at) VALUES (?, ?, ?)`,
		userID, slug, at.Unix(),
	)
	if IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil // true = newly earned
}

// HasBadge checks whether a user already earned a badge.
func (d *DB) HasBadge(ctx context.Context, userID, slug string) (bool, error) {
	var count int
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM earned_badges WHERE user_id = ? AND slug = ?`, userID, slug,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListEarnedBadges returns earned badges, newest first. limit <= 0 means all.
func (d *DB) ListEarnedBadges(ctx context.Context, userID string, limit int) ([]domain.EarnedBadge, error) {
	query := `SELECT user_id, slug, earned_at FROM earned_badges WHERE user_id = ? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var badges []domain.EarnedBadge
	for rows.Next() {
		var b domain.EarnedBadge
		var earnedAt int64
		if err := rows.Scan(&b.UserID, &b.Slug, &earnedAt); err != nil {
			return nil, err
		}
		b.EarnedAt = time.Unix(earnedAt, 0)
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// ─── Kaizen Check-ins ───────────────────────────────────────────────────────

// UpsertCheckin stores the day's reflection. The first submission of a day
// inserts the row with its points; later submissions only update the flags.
// Returns true when the row was newly inserted.
func (d *DB) UpsertCheckin(ctx context.Context, c domain.KaizenCheckin) (bool, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	flags := []any{
		c.Areas[domain.AreaHealth], c.Areas[domain.AreaRelationships], c.Areas[domain.AreaCareer],
		c.Areas[domain.AreaFinances], c.Areas[domain.AreaGrowth], c.Areas[domain.AreaRecreation],
	}

	args := append([]any{c.UserID, string(c.Date)}, flags...)
	args = append(args, c.PointsEarned, c.CreatedAt.Unix())
	result, err := d.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO kaizen_checkins
		 (user_id, date, health, relationships, career, finances, growth, recreation, points_earned, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...,
	)
	if err != nil {
		return false, err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return true, nil
	}

	args = append(flags, c.UserID, string(c.Date))
	_, err = d.q.ExecContext(ctx,
		`UPDATE kaizen_checkins SET health = ?, relationships = ?, career = ?, finances = ?, growth = ?, recreation = ?
		 WHERE user_id = ? AND date = ?`, args...,
	)
	return false, err
}

// GetCheckin loads the reflection for one date. ok is false if none exists.
func (d *DB) GetCheckin(ctx context.Context, userID string, on domain.LocalDate) (domain.KaizenCheckin, bool, error) {
	c := domain.KaizenCheckin{UserID: userID, Date: on, Areas: map[domain.LifeArea]bool{}}
	var health, relationships, career, finances, growth, recreation bool
	var createdAt int64
	err := d.q.QueryRowContext(ctx,
		`SELECT health, relationships, career, finances, growth, recreation, points_earned, created_at
		 FROM kaizen_checkins WHERE user_id = ? AND date = ?`, userID, string(on),
	).Scan(&health, &relationships, &career, &finances, &growth, &recreation, &c.PointsEarned, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	c.Areas[domain.AreaHealth] = health
	c.Areas[domain.AreaRelationships] = relationships
	c.Areas[domain.AreaCareer] = career
	c.Areas[domain.AreaFinances] = finances
	c.Areas[domain.AreaGrowth] = growth
	c.Areas[domain.AreaRecreation] = recreation
	c.CreatedAt = time.Unix(createdAt, 0)
	return c, true, nil
}

// CountCheckins counts reflections; full=true counts only all-six-areas days.
func (d *DB) CountCheckins(ctx context.Context, userID string, full bool) (int64, error) {
	query := `SELECT COUNT(*) FROM kaizen_checkins WHERE user_id = ?`
	if full {
		query += ` AND health AND relationships AND career AND finances AND growth AND recreation`
	}
	var n int64
	err := d.q.QueryRowContext(ctx, query, userID).Scan(&n)
	return n, err
}

// ─── Planning & Review Actions ──────────────────────────────────────────────

// InsertAction records a planning or review submission for a period.
// Returns false if one already exists for that period.
func (d *DB) InsertAction(ctx context.Context, userID string, kind domain.ActionKind, periodKey string, at time.Time) (bool, error) {
	result, err := d.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO actions (user_id, kind, period_key, created_at) VALUES (?, ?, ?, ?)`,
		userID, string(kind), periodKey, at.Unix(),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// CountActions counts submissions of one kind.
func (d *DB) CountActions(ctx context.Context, userID string, kind domain.ActionKind) (int64, error) {
	var n int64
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM actions WHERE user_id = ? AND kind = ?`, userID, string(kind),
	).Scan(&n)
	return n, err
}

// ─── Celebrations ───────────────────────────────────────────────────────────

// InsertCelebration records a moment the client should show once.
func (d *DB) InsertCelebration(ctx context.Context, c domain.Celebration) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO celebrations (id, user_id, type, title, ref, created_at, seen) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, string(c.Type), c.Title, c.Ref, c.CreatedAt.Unix(), c.Seen,
	)
	return err
}

// ListCelebrations returns celebrations newest first, optionally unseen only.
func (d *DB) ListCelebrations(ctx context.Context, userID string, unseenOnly bool, limit int) ([]domain.Celebration, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, type, title, ref, created_at, seen FROM celebrations WHERE user_id = ?`
	if unseenOnly {
		query += ` AND seen = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := d.q.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Celebration
	for rows.Next() {
		var c domain.Celebration
		var typ string
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &typ, &c.Title, &c.Ref, &createdAt, &c.Seen); err != nil {
			return nil, err
		}
		c.Type = domain.CelebrationType(typ)
		c.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkCelebrationSeen flags a celebration as shown.
func (d *DB) MarkCelebrationSeen(ctx context.Context, id string) error {
	result, err := d.q.ExecContext(ctx, `UPDATE celebrations SET seen = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrCelebrationNotFound
	}
	return nil
}
