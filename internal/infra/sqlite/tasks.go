package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cascade-app/cascade/internal/domain"
)

// ─── Tasks ──────────────────────────────────────────────────────────────────

const taskColumns = `id, user_id, goal_id, title, priority, status, scheduled_date, completed_at, completed_on, points_earned`

// InsertTask creates a new task record.
func (d *DB) InsertTask(ctx context.Context, t domain.Task) error {
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullableString(t.GoalID), t.Title, string(t.Priority), string(t.Status),
		string(t.ScheduledDate), nullableUnix(t.CompletedAt), nullableString(string(t.CompletedOn)), t.PointsEarned,
	)
	return err
}

// GetTask retrieves a task by ID. Returns domain.ErrTaskNotFound if absent.
func (d *DB) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := d.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	return t, err
}

// MarkTaskCompleted flips PENDING→COMPLETED and records the credited amount.
// Returns false when the task was already COMPLETED: a concurrent second
// attempt sees zero rows affected.
func (d *DB) MarkTaskCompleted(ctx context.Context, id string, at time.Time, on domain.LocalDate, points int64) (bool, error) {
	result, err := d.q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, completed_on = ?, points_earned = ?
		 WHERE id = ? AND status != ?`,
		string(domain.TaskCompleted), at.Unix(), string(on), points,
		id, string(domain.TaskCompleted),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// MarkTaskPending flips COMPLETED→PENDING and clears the completion stamp.
// Returns false when the task was not COMPLETED.
func (d *DB) MarkTaskPending(ctx context.Context, id string) (bool, error) {
	result, err := d.q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = NULL, completed_on = NULL, points_earned = 0
		 WHERE id = ? AND status = ?`,
		string(domain.TaskPending), id, string(domain.TaskCompleted),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ListCompletedTasks returns tasks completed on local dates in [from, to].
func (d *DB) ListCompletedTasks(ctx context.Context, userID string, from, to domain.LocalDate) ([]domain.Task, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND status = ? AND completed_on >= ? AND completed_on <= ?
		 ORDER BY completed_at ASC`,
		userID, string(domain.TaskCompleted), string(from), string(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ListCompletedTasksWithGoal returns every completed task that links to a goal.
func (d *DB) ListCompletedTasksWithGoal(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND status = ? AND goal_id IS NOT NULL`,
		userID, string(domain.TaskCompleted),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// CountCompletedTasks counts completed tasks, optionally for one priority.
func (d *DB) CountCompletedTasks(ctx context.Context, userID string, priority domain.TaskPriority) (int64, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE user_id = ? AND status = ?`
	args := []any{userID, string(domain.TaskCompleted)}
	if priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(priority))
	}
	var n int64
	err := d.q.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// PointsEarnedBetween sums points of tasks completed on local dates in [from, to].
func (d *DB) PointsEarnedBetween(ctx context.Context, userID string, from, to domain.LocalDate) (int64, error) {
	var sum sql.NullInt64
	err := d.q.QueryRowContext(ctx,
		`SELECT SUM(points_earned) FROM tasks
		 WHERE user_id = ? AND status = ? AND completed_on >= ? AND completed_on <= ?`,
		userID, string(domain.TaskCompleted), string(from), string(to),
	).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

// CountScheduledTasks counts tasks scheduled on a local date, in any status.
func (d *DB) CountScheduledTasks(ctx context.Context, userID string, on domain.LocalDate) (int64, error) {
	var n int64
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE user_id = ? AND scheduled_date = ?`,
		userID, string(on),
	).Scan(&n)
	return n, err
}

func scanTask(s scanner) (*domain.Task, error) {
	var t domain.Task
	var goalID, completedOn sql.NullString
	var completedAt sql.NullInt64
	var priority, status, scheduled string

	err := s.Scan(&t.ID, &t.UserID, &goalID, &t.Title, &priority, &status,
		&scheduled, &completedAt, &completedOn, &t.PointsEarned)
	if err != nil {
		return nil, err
	}

	t.GoalID = goalID.String
	t.Priority = domain.TaskPriority(priority)
	t.Status = domain.TaskStatus(status)
	t.ScheduledDate = domain.LocalDate(scheduled)
	t.CompletedAt = fromUnix(completedAt)
	t.CompletedOn = domain.LocalDate(completedOn.String)
	return &t, nil
}
