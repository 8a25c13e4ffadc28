package engagement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cascade-app/cascade/internal/app/goals"
	"github.com/cascade-app/cascade/internal/domain"
)

// These are thin stand-ins for the goal/task subsystem so the engine can be
// driven end to end. They only validate what progression relies on.

// CreateUser registers a user with zero points. An empty ID gets a UUID.
func (e *Engine) CreateUser(ctx context.Context, id, timezone string) (*domain.User, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, timezone)
	}
	if err := e.db.CreateUser(ctx, domain.User{ID: id, Timezone: timezone, CreatedAt: e.now()}); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return e.db.GetUser(ctx, id)
}

// SetTimezone changes the zone local dates are derived in.
func (e *Engine) SetTimezone(ctx context.Context, userID, timezone string) error {
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, timezone)
	}
	return e.db.SetUserTimezone(ctx, userID, timezone)
}

// GoalInput is the payload for CreateGoal.
type GoalInput struct {
	ParentID string           `json:"parent_id"`
	Level    domain.GoalLevel `json:"level"`
	Title    string           `json:"title"`
	Category domain.LifeArea  `json:"category"`
}

// CreateGoal adds a goal to the user's cascade. The parent must belong to the
// user and sit exactly one level up.
func (e *Engine) CreateGoal(ctx context.Context, userID string, in GoalInput) (*domain.Goal, error) {
	if _, err := e.db.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: goal title is required", domain.ErrInvalidInput)
	}
	if in.Category != "" && !in.Category.Valid() {
		return nil, fmt.Errorf("%w: life area %q", domain.ErrInvalidInput, in.Category)
	}

	var parent *domain.Goal
	if in.ParentID != "" {
		p, err := e.db.GetGoal(ctx, in.ParentID)
		if err != nil {
			return nil, err
		}
		if p.UserID != userID {
			return nil, domain.ErrGoalNotFound
		}
		parent = p
	}
	if err := goals.ValidateParent(in.Level, parent); err != nil {
		return nil, fmt.Errorf("goal level %q under parent: %w", in.Level, err)
	}

	g := domain.Goal{
		ID:        uuid.New().String(),
		UserID:    userID,
		ParentID:  in.ParentID,
		Level:     in.Level,
		Title:     in.Title,
		Status:    domain.GoalActive,
		Category:  in.Category,
		CreatedAt: e.now(),
	}
	if err := e.db.InsertGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	return &g, nil
}

// SetGoalStatus moves a goal between ACTIVE, ACHIEVED and ARCHIVED.
func (e *Engine) SetGoalStatus(ctx context.Context, goalID string, status domain.GoalStatus) error {
	switch status {
	case domain.GoalActive, domain.GoalAchieved, domain.GoalArchived:
	default:
		return fmt.Errorf("%w: goal status %q", domain.ErrInvalidInput, status)
	}
	return e.db.SetGoalStatus(ctx, goalID, status)
}

// TaskInput is the payload for CreateTask.
type TaskInput struct {
	GoalID        string              `json:"goal_id"`
	Title         string              `json:"title"`
	Priority      domain.TaskPriority `json:"priority"`
	ScheduledDate domain.LocalDate    `json:"scheduled_date"`
}

// CreateTask adds a PENDING task. ScheduledDate defaults to the user's today.
func (e *Engine) CreateTask(ctx context.Context, userID string, in TaskInput) (*domain.Task, error) {
	u, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: task title is required", domain.ErrInvalidInput)
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", domain.ErrInvalidInput, in.Priority)
	}
	if in.ScheduledDate.IsZero() {
		in.ScheduledDate = domain.DateOf(e.now(), e.location(*u))
	} else if _, err := domain.ParseDate(string(in.ScheduledDate)); err != nil {
		return nil, err
	}
	if in.GoalID != "" {
		g, err := e.db.GetGoal(ctx, in.GoalID)
		if err != nil {
			return nil, err
		}
		if g.UserID != userID {
			return nil, domain.ErrGoalNotFound
		}
	}

	t := domain.Task{
		ID:            uuid.New().String(),
		UserID:        userID,
		GoalID:        in.GoalID,
		Title:         in.Title,
		Priority:      in.Priority,
		Status:        domain.TaskPending,
		ScheduledDate: in.ScheduledDate,
	}
	if err := e.db.InsertTask(ctx, t); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return &t, nil
}

// Task returns one task.
func (e *Engine) Task(ctx context.Context, id string) (*domain.Task, error) {
	return e.db.GetTask(ctx, id)
}

// Ledger returns recent points movements for a user.
func (e *Engine) Ledger(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if _, err := e.db.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.db.LedgerEntries(ctx, userID, limit)
}
