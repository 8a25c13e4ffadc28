// Package engagement implements the Cascade progression engine.
// Points, streaks, levels, badges and challenges driven by task completions,
// daily reflections, planning and reviews.
package engagement

import (
	"fmt"

	"github.com/cascade-app/cascade/internal/domain"
)

// Base points per priority tier. Fixed; never configurable per call.
var basePoints = map[domain.TaskPriority]int64{
	domain.PriorityMIT:       100,
	domain.PriorityPrimary:   50,
	domain.PrioritySecondary: 25,
}

const (
	// streakBonusPerDay is +5% of base per day of the streak being extended.
	streakBonusPerDay = 0.05
	// streakBonusCap caps the bonus at +50% (10-day streak).
	streakBonusCap = 0.50

	// CheckinPoints is credited for the first reflection of a local day.
	CheckinPoints int64 = 10
)

// BasePoints returns the tier amount for a priority, 0 if unknown.
func BasePoints(p domain.TaskPriority) int64 {
	return basePoints[p]
}

// PointsCalculator turns a completion into a point amount.
// The credited amount is stored on the task row; Reverse only ever reads it back.
type PointsCalculator struct {
	StreakBonus bool
}

// Award returns the points for completing task. extendedStreak is the
// current MIT streak count this completion extends (0 when it does not
// extend an active streak). Awarding a COMPLETED task is illegal.
func (c PointsCalculator) Award(task domain.Task, extendedStreak int) (int64, error) {
	if task.Status == domain.TaskCompleted {
		return 0, fmt.Errorf("%w: task %s is already completed", domain.ErrIllegalStateTransition, task.ID)
	}
	base, ok := basePoints[task.Priority]
	if !ok {
		return 0, fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidInput, task.Priority)
	}
	return base + c.bonus(task.Priority, base, extendedStreak), nil
}

// Reverse returns the amount to subtract when task is un-completed:
// exactly what was credited, regardless of today's rules.
func (c PointsCalculator) Reverse(task domain.Task) (int64, error) {
	if task.Status != domain.TaskCompleted {
		return 0, fmt.Errorf("%w: task %s is %s, not completed", domain.ErrIllegalStateTransition, task.ID, task.Status)
	}
	return task.PointsEarned, nil
}

// bonus is +5% of base per streak day, capped at +50%, rounded down.
func (c PointsCalculator) bonus(p domain.TaskPriority, base int64, streak int) int64 {
	if !c.StreakBonus || p != domain.PriorityMIT || streak <= 0 {
		return 0
	}
	pct := float64(streak) * streakBonusPerDay
	if pct > streakBonusCap {
		pct = streakBonusCap
	}
	return int64(float64(base) * pct)
}
