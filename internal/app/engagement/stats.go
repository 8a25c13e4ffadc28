package engagement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cascade-app/cascade/internal/app/goals"
	"github.com/cascade-app/cascade/internal/domain"
)

// recentBadgeLimit is how many earned badges the stats block carries.
const recentBadgeLimit = 5

// StreakView is a streak with its read-time projections.
type StreakView struct {
	domain.Streak
	// Alive is false once a full period was missed; the stored count is
	// kept until the next qualifying event resets it.
	Alive  bool `json:"alive"`
	AtRisk bool `json:"at_risk"`
}

// TodayStats summarizes the user's current local day.
type TodayStats struct {
	Date           domain.LocalDate `json:"date"`
	PointsEarned   int64            `json:"points_earned"`
	TasksCompleted int              `json:"tasks_completed"`
	TasksScheduled int64            `json:"tasks_scheduled"`
	MITCompleted   bool             `json:"mit_completed"`
	CheckinDone    bool             `json:"checkin_done"`
	AreasChecked   int              `json:"areas_checked"`
}

// WeekStats summarizes the user's current Monday-start week.
type WeekStats struct {
	Start          domain.LocalDate `json:"start"`
	End            domain.LocalDate `json:"end"`
	PointsEarned   int64            `json:"points_earned"`
	TasksCompleted int              `json:"tasks_completed"`
	MITDays        int64            `json:"mit_days"`
	AlignmentRate  decimal.Decimal  `json:"alignment_rate"`
}

// UserStats is the dashboard view of a user's progression.
type UserStats struct {
	UserID       string               `json:"user_id"`
	Timezone     string               `json:"timezone"`
	TotalPoints  int64                `json:"total_points"`
	BonusXP      int64                `json:"bonus_xp"`
	Level        LevelView            `json:"level"`
	Streaks      []StreakView         `json:"streaks"`
	RecentBadges []domain.EarnedBadge `json:"recent_badges"`
	Today        TodayStats           `json:"today"`
	ThisWeek     WeekStats            `json:"this_week"`
}

// GetUserStats assembles the stats view. Level is derived from TotalPoints
// on every read.
func (e *Engine) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	u, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	loc := e.location(*u)
	today := domain.DateOf(now, loc)

	stats := &UserStats{
		UserID:      u.ID,
		Timezone:    u.Timezone,
		TotalPoints: u.TotalPoints,
		BonusXP:     u.BonusXP,
		Level:       ViewLevel(u.TotalPoints),
	}

	streaks, err := e.streaks.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, st := range streaks {
		stats.Streaks = append(stats.Streaks, StreakView{
			Streak: st,
			Alive:  IsAlive(st, today),
			AtRisk: e.streaks.AtRisk(st, now, loc),
		})
	}

	stats.RecentBadges, err = e.badges.Earned(ctx, userID, recentBadgeLimit)
	if err != nil {
		return nil, fmt.Errorf("recent badges: %w", err)
	}

	if stats.Today, err = e.todayStats(ctx, userID, today); err != nil {
		return nil, err
	}
	if stats.ThisWeek, err = e.weekStats(ctx, userID, today); err != nil {
		return nil, err
	}
	return stats, nil
}

func (e *Engine) todayStats(ctx context.Context, userID string, today domain.LocalDate) (TodayStats, error) {
	ts := TodayStats{Date: today}

	tasks, err := e.db.ListCompletedTasks(ctx, userID, today, today)
	if err != nil {
		return ts, fmt.Errorf("today tasks: %w", err)
	}
	ts.TasksCompleted = len(tasks)
	for _, t := range tasks {
		if t.Priority == domain.PriorityMIT {
			ts.MITCompleted = true
		}
	}

	if ts.TasksScheduled, err = e.db.CountScheduledTasks(ctx, userID, today); err != nil {
		return ts, fmt.Errorf("today scheduled: %w", err)
	}
	if ts.PointsEarned, err = pointsOn(ctx, e.db, userID, today); err != nil {
		return ts, fmt.Errorf("today points: %w", err)
	}

	checkin, ok, err := e.db.GetCheckin(ctx, userID, today)
	if err != nil {
		return ts, fmt.Errorf("today checkin: %w", err)
	}
	ts.CheckinDone = ok
	ts.AreasChecked = checkin.CheckedCount()
	return ts, nil
}

func (e *Engine) weekStats(ctx context.Context, userID string, today domain.LocalDate) (WeekStats, error) {
	ws := WeekStats{Start: today.WeekStart(), End: today.WeekEnd()}

	tasks, err := e.db.ListCompletedTasks(ctx, userID, ws.Start, ws.End)
	if err != nil {
		return ws, fmt.Errorf("week tasks: %w", err)
	}
	ws.TasksCompleted = len(tasks)

	for d := ws.Start; !today.Before(d); d = d.AddDays(1) {
		pts, err := pointsOn(ctx, e.db, userID, d)
		if err != nil {
			return ws, fmt.Errorf("week points: %w", err)
		}
		ws.PointsEarned += pts
	}

	if ws.MITDays, err = mitDays(ctx, e.db, userID, ws.Start, today); err != nil {
		return ws, fmt.Errorf("week mit days: %w", err)
	}

	tree, err := goals.Load(ctx, e.db, userID)
	if err != nil {
		return ws, fmt.Errorf("load goals: %w", err)
	}
	ws.AlignmentRate = AlignmentRate(tasks, tree).Round(1)
	return ws, nil
}
