package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cascade-app/cascade/internal/domain"
)

// ─── Goals ──────────────────────────────────────────────────────────────────

const goalColumns = `id, user_id, parent_id, level, title, status, category, created_at`

// InsertGoal creates a goal node.
func (d *DB) InsertGoal(ctx context.Context, g domain.Goal) error {
	if g.Status == "" {
		g.Status = domain.GoalActive
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO goals (`+goalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, nullableString(g.ParentID), string(g.Level), g.Title,
		string(g.Status), string(g.Category), g.CreatedAt.Unix(),
	)
	return err
}

// GetGoal retrieves a goal by ID. Returns domain.ErrGoalNotFound if absent.
func (d *DB) GetGoal(ctx context.Context, id string) (*domain.Goal, error) {
	row := d.q.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrGoalNotFound
	}
	return g, err
}

// SetGoalStatus updates the lifecycle status of a goal.
func (d *DB) SetGoalStatus(ctx context.Context, id string, status domain.GoalStatus) error {
	result, err := d.q.ExecContext(ctx, `UPDATE goals SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrGoalNotFound
	}
	return nil
}

// ListGoals returns every goal a user owns.
func (d *DB) ListGoals(ctx context.Context, userID string) ([]domain.Goal, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE user_id = ? ORDER BY created_at ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

func scanGoal(s scanner) (*domain.Goal, error) {
	var g domain.Goal
	var parentID sql.NullString
	var level, status, category string
	var createdAt int64

	if err := s.Scan(&g.ID, &g.UserID, &parentID, &level, &g.Title, &status, &category, &createdAt); err != nil {
		return nil, err
	}
	g.ParentID = parentID.String
	g.Level = domain.GoalLevel(level)
	g.Status = domain.GoalStatus(status)
	g.Category = domain.LifeArea(category)
	g.CreatedAt = time.Unix(createdAt, 0)
	return &g, nil
}
