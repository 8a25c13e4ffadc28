// Package domain holds the task, goal and progression types shared by every layer.
// Tasks and goals are owned by the planning side of the product; the engine
// only reads them and flips task completion state.
package domain

import "time"

// TaskStatus tracks task lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskSkipped   TaskStatus = "SKIPPED"
)

// TaskPriority is the tier that decides the base point amount.
type TaskPriority string

const (
	PriorityMIT       TaskPriority = "MIT"
	PriorityPrimary   TaskPriority = "PRIMARY"
	PrioritySecondary TaskPriority = "SECONDARY"
)

// Valid reports whether p is one of the known tiers.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityMIT, PriorityPrimary, PrioritySecondary:
		return true
	}
	return false
}

// Task is a single scheduled unit of work for one day.
type Task struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	GoalID        string       `json:"goal_id,omitempty"`
	Title         string       `json:"title"`
	Priority      TaskPriority `json:"priority"`
	Status        TaskStatus   `json:"status"`
	ScheduledDate LocalDate    `json:"scheduled_date"`
	CompletedAt   time.Time    `json:"completed_at,omitempty"`
	CompletedOn   LocalDate    `json:"completed_on,omitempty"` // user-local day of completion
	PointsEarned  int64        `json:"points_earned"`          // credited amount, reversed verbatim
}

// IsCompleted returns true if the task has been completed.
func (t *Task) IsCompleted() bool {
	return t.Status == TaskCompleted
}

// GoalLevel tags a node in the cascade: vision → 3yr → 1yr → monthly → weekly.
type GoalLevel string

const (
	GoalVision    GoalLevel = "VISION"
	GoalThreeYear GoalLevel = "THREE_YEAR"
	GoalOneYear   GoalLevel = "ONE_YEAR"
	GoalMonthly   GoalLevel = "MONTHLY"
	GoalWeekly    GoalLevel = "WEEKLY"
)

// GoalLevels lists the cascade from the top down.
var GoalLevels = []GoalLevel{GoalVision, GoalThreeYear, GoalOneYear, GoalMonthly, GoalWeekly}

// Depth returns the position of the level in the cascade (0 = vision), or -1.
func (l GoalLevel) Depth() int {
	for i, lvl := range GoalLevels {
		if lvl == l {
			return i
		}
	}
	return -1
}

// Parent returns the level directly above l. ok is false for the top level.
func (l GoalLevel) Parent() (GoalLevel, bool) {
	d := l.Depth()
	if d <= 0 {
		return "", false
	}
	return GoalLevels[d-1], true
}

// GoalStatus tracks goal lifecycle.
type GoalStatus string

const (
	GoalActive   GoalStatus = "ACTIVE"
	GoalAchieved GoalStatus = "ACHIEVED"
	GoalArchived GoalStatus = "ARCHIVED"
)

// Goal is one node of the cascade.
type Goal struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Level     GoalLevel  `json:"level"`
	Title     string     `json:"title"`
	Status    GoalStatus `json:"status"`
	Category  LifeArea   `json:"category,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// LifeArea is one of the six areas tracked by kaizen check-ins and goal categories.
type LifeArea string

const (
	AreaHealth        LifeArea = "HEALTH"
	AreaRelationships LifeArea = "RELATIONSHIPS"
	AreaCareer        LifeArea = "CAREER"
	AreaFinances      LifeArea = "FINANCES"
	AreaGrowth        LifeArea = "GROWTH"
	AreaRecreation    LifeArea = "RECREATION"
)

// LifeAreas lists all six areas in display order.
var LifeAreas = []LifeArea{AreaHealth, AreaRelationships, AreaCareer, AreaFinances, AreaGrowth, AreaRecreation}

// Valid reports whether a is one of the six areas.
func (a LifeArea) Valid() bool {
	for _, known := range LifeAreas {
		if a == known {
			return true
		}
	}
	return false
}
