// The progression engine turns task completions, reflections, planning and
// reviews into points, streaks, levels, badges and challenges.

package domain

import "time"

// ─── User ───────────────────────────────────────────────────────────────────

// User is the progression view of an account. Level is derived from
// TotalPoints on every read and is never stored.
type User struct {
	ID          string    `json:"id"`
	Timezone    string    `json:"timezone"`
	TotalPoints int64     `json:"total_points"`
	BonusXP     int64     `json:"bonus_xp"`
	CreatedAt   time.Time `json:"created_at"`
}

// Location resolves the user's IANA timezone, falling back to UTC.
func (u User) Location() (*time.Location, error) {
	if u.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC, ErrInvalidTimezone
	}
	return loc, nil
}

// ─── Points Ledger ──────────────────────────────────────────────────────────

// PointsSource names what produced a ledger entry.
type PointsSource string

const (
	SourceTaskCompleted   PointsSource = "TASK_COMPLETED"
	SourceTaskReversed    PointsSource = "TASK_REVERSED"
	SourceCheckinAccepted PointsSource = "CHECKIN_ACCEPTED"
)

// LedgerEntry is one signed movement of a user's point total.
// SUM(Amount) over a user's entries equals User.TotalPoints.
type LedgerEntry struct {
	ID        int64        `json:"id"`
	UserID    string       `json:"user_id"`
	Source    PointsSource `json:"source"`
	SourceID  string       `json:"source_id"`
	Amount    int64        `json:"amount"`
	Balance   int64        `json:"balance"`
	CreatedAt time.Time    `json:"created_at"`
}

// ─── Streak Types ───────────────────────────────────────────────────────────

// StreakType identifies one streak tracked per user.
type StreakType string

const (
	StreakMIT           StreakType = "MIT_COMPLETION"
	StreakDailyPlanning StreakType = "DAILY_PLANNING"
	StreakKaizen        StreakType = "KAIZEN_CHECKIN"
	StreakWeeklyReview  StreakType = "WEEKLY_REVIEW"
	StreakMonthlyReview StreakType = "MONTHLY_REVIEW"
)

// StreakTypes lists every streak type.
var StreakTypes = []StreakType{StreakMIT, StreakDailyPlanning, StreakKaizen, StreakWeeklyReview, StreakMonthlyReview}

// Cadence is the period a streak step covers.
type Cadence string

const (
	CadenceDaily   Cadence = "DAILY"
	CadenceWeekly  Cadence = "WEEKLY"
	CadenceMonthly Cadence = "MONTHLY"
)

// Cadence returns the step size of the streak type.
func (t StreakType) Cadence() Cadence {
	switch t {
	case StreakWeeklyReview:
		return CadenceWeekly
	case StreakMonthlyReview:
		return CadenceMonthly
	}
	return CadenceDaily
}

// Valid reports whether t is a known streak type.
func (t StreakType) Valid() bool {
	for _, known := range StreakTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Streak is the persisted state of one (user, type) streak.
type Streak struct {
	UserID       string     `json:"user_id"`
	Type         StreakType `json:"type"`
	CurrentCount int        `json:"current_count"`
	LongestCount int        `json:"longest_count"`
	LastActionAt LocalDate  `json:"last_action_at,omitempty"`
	IsActive     bool       `json:"is_active"`
}

// StreakUpdate is the outcome of one qualifying event.
type StreakUpdate struct {
	Type             StreakType `json:"type"`
	Before           int        `json:"before"`
	CurrentCount     int        `json:"current_count"`
	LongestCount     int        `json:"longest_count"`
	Changed          bool       `json:"changed"`
	MilestoneCrossed int        `json:"milestone_crossed,omitempty"`
}

// Extended reports whether the event grew a running streak by one period.
// Starting a new streak or restarting a broken one does not count.
func (u StreakUpdate) Extended() bool {
	return u.Changed && u.Before > 0 && u.CurrentCount == u.Before+1
}

// ─── Level Types ────────────────────────────────────────────────────────────

// Level is one row of the level table.
type Level struct {
	Number         int    `json:"level"`
	Title          string `json:"title"`
	PointsRequired int64  `json:"points_required"`
}

// ─── Badge Types ────────────────────────────────────────────────────────────

// BadgeCategory groups badges by theme.
type BadgeCategory string

const (
	BadgeCatGettingStarted BadgeCategory = "getting_started"
	BadgeCatStreaks        BadgeCategory = "streaks"
	BadgeCatExecution      BadgeCategory = "execution"
	BadgeCatBalance        BadgeCategory = "balance"
	BadgeCatVision         BadgeCategory = "vision"
)

// PredicateKind selects how a badge is evaluated.
type PredicateKind string

const (
	PredCountThreshold  PredicateKind = "count_threshold"
	PredStreakThreshold PredicateKind = "streak_threshold"
	PredTodayPoints     PredicateKind = "today_points"
	PredAllLevelsActive PredicateKind = "all_levels_active"
	PredFirstAction     PredicateKind = "first_action"
)

// Counter names an aggregate a count-style predicate reads.
type Counter string

const (
	CounterTasksCompleted    Counter = "tasks_completed"
	CounterMITCompleted      Counter = "mit_completed"
	CounterCategoryCompleted Counter = "category_completed" // needs Area
	CounterCheckins          Counter = "checkins"
	CounterFullCheckins      Counter = "full_checkins"
	CounterDailyPlans        Counter = "daily_plans"
	CounterWeeklyReviews     Counter = "weekly_reviews"
	CounterMonthlyReviews    Counter = "monthly_reviews"
)

// Trigger is the event kind that causes a subset of badges to be re-checked.
type Trigger string

const (
	TriggerTaskCompleted   Trigger = "task_completed"
	TriggerReflection      Trigger = "reflection_submitted"
	TriggerStreakUpdated   Trigger = "streak_updated"
	TriggerCategoryTouched Trigger = "category_touched"
	TriggerActionRecorded  Trigger = "action_recorded"
)

// BadgePredicate is the declarative condition for earning a badge.
type BadgePredicate struct {
	Kind    PredicateKind `json:"kind"`
	Target  int64         `json:"target"`
	Counter Counter       `json:"counter,omitempty"`
	Streak  StreakType    `json:"streak,omitempty"`
	Area    LifeArea      `json:"area,omitempty"`
}

// BadgeDef is one catalog entry.
type BadgeDef struct {
	Slug        string         `json:"slug"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    BadgeCategory  `json:"category"`
	Icon        string         `json:"icon"`
	Predicate   BadgePredicate `json:"predicate"`
	Triggers    []Trigger      `json:"-"`
}

// EarnedBadge records when a badge was earned. Rows are never updated.
type EarnedBadge struct {
	UserID   string    `json:"user_id"`
	Slug     string    `json:"slug"`
	EarnedAt time.Time `json:"earned_at"`
}

// BadgeProgress is how close a user is to an unearned badge.
type BadgeProgress struct {
	Slug       string  `json:"slug"`
	Name       string  `json:"name"`
	Current    int64   `json:"current"`
	Target     int64   `json:"target"`
	Percentage float64 `json:"percentage"`
}

// ─── Challenge Types ────────────────────────────────────────────────────────

// ChallengePeriod is the time box of a challenge.
type ChallengePeriod string

const (
	ChallengeDaily  ChallengePeriod = "DAILY"
	ChallengeWeekly ChallengePeriod = "WEEKLY"
)

// ChallengeStrategy decides how progress is computed.
type ChallengeStrategy string

const (
	StrategyCounter  ChallengeStrategy = "counter"
	StrategySnapshot ChallengeStrategy = "snapshot"
)

// EventKind is a progression event that may move challenge progress.
type EventKind string

const (
	EventTaskCompleted   EventKind = "task_completed"
	EventTaskUncompleted EventKind = "task_uncompleted"
	EventMITCompleted    EventKind = "mit_completed"
	EventMITStreakKept   EventKind = "mit_streak_extended"
	EventCheckin         EventKind = "checkin_submitted"
	EventDailyPlan       EventKind = "daily_plan_recorded"
	EventReview          EventKind = "review_recorded"
)

// SnapshotMetric names a value recomputed from source tables.
type SnapshotMetric string

const (
	MetricPointsToday   SnapshotMetric = "points_today"
	MetricAlignmentWeek SnapshotMetric = "alignment_week"
	MetricAreasToday    SnapshotMetric = "kaizen_areas_today"
	MetricMITDaysWeek   SnapshotMetric = "mit_days_week"
)

// StreakGate requires an existing streak before a template is offered.
type StreakGate struct {
	Type  StreakType `json:"type"`
	Count int        `json:"count"`
}

// ChallengeTemplate is a catalog entry for challenge generation.
type ChallengeTemplate struct {
	Slug        string            `json:"slug"`
	Period      ChallengePeriod   `json:"period"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Strategy    ChallengeStrategy `json:"strategy"`
	Events      []EventKind       `json:"events"`
	Metric      SnapshotMetric    `json:"metric,omitempty"`
	Target      int64             `json:"target"`
	BonusXP     int64             `json:"bonus_xp"`
	MinLevel    int               `json:"min_level,omitempty"`
	MinStreak   *StreakGate       `json:"min_streak,omitempty"`
}

// Matches reports whether the template listens to the event kind.
func (t ChallengeTemplate) Matches(kind EventKind) bool {
	for _, k := range t.Events {
		if k == kind {
			return true
		}
	}
	return false
}

// UserChallenge is one generated challenge for one period.
type UserChallenge struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         ChallengePeriod `json:"type"`
	Slug         string          `json:"slug"`
	Title        string          `json:"title"`
	PeriodStart  LocalDate       `json:"period_start"`
	PeriodEnd    LocalDate       `json:"period_end"`
	TargetValue  int64           `json:"target_value"`
	CurrentValue int64           `json:"current_value"`
	BonusXP      int64           `json:"bonus_xp"`
	IsCompleted  bool            `json:"is_completed"`
	CompletedAt  time.Time       `json:"completed_at,omitempty"`
}

// ProgressPct returns completion percentage (0-100).
func (c UserChallenge) ProgressPct() float64 {
	if c.TargetValue <= 0 {
		return 100.0
	}
	pct := float64(c.CurrentValue) / float64(c.TargetValue) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// ─── Reflections & Actions ──────────────────────────────────────────────────

// KaizenCheckin is the daily reflection: one flag per life area.
type KaizenCheckin struct {
	UserID       string            `json:"user_id"`
	Date         LocalDate         `json:"date"`
	Areas        map[LifeArea]bool `json:"areas"`
	PointsEarned int64             `json:"points_earned"`
	CreatedAt    time.Time         `json:"created_at"`
}

// CheckedCount returns how many areas were ticked.
func (k KaizenCheckin) CheckedCount() int {
	n := 0
	for _, area := range LifeAreas {
		if k.Areas[area] {
			n++
		}
	}
	return n
}

// ActionKind is a planning or review submission.
type ActionKind string

const (
	ActionDailyPlan     ActionKind = "DAILY_PLANNING"
	ActionWeeklyReview  ActionKind = "WEEKLY_REVIEW"
	ActionMonthlyReview ActionKind = "MONTHLY_REVIEW"
)

// StreakType returns the streak the action feeds.
func (k ActionKind) StreakType() (StreakType, bool) {
	switch k {
	case ActionDailyPlan:
		return StreakDailyPlanning, true
	case ActionWeeklyReview:
		return StreakWeeklyReview, true
	case ActionMonthlyReview:
		return StreakMonthlyReview, true
	}
	return "", false
}

// ─── Celebrations ───────────────────────────────────────────────────────────

// CelebrationType categorizes celebration records.
type CelebrationType string

const (
	CelebrateLevelUp   CelebrationType = "level_up"
	CelebrateMilestone CelebrationType = "streak_milestone"
	CelebrateBadge     CelebrationType = "badge_earned"
	CelebrateChallenge CelebrationType = "challenge_completed"
)

// Celebration is a server-side record of a moment the client may show once.
type Celebration struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      CelebrationType `json:"type"`
	Title     string          `json:"title"`
	Ref       string          `json:"ref"`
	CreatedAt time.Time       `json:"created_at"`
	Seen      bool            `json:"seen"`
}
