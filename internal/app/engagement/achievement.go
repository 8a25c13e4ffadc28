package engagement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cascade-app/cascade/internal/app/goals"
	"github.com/cascade-app/cascade/internal/domain"
	"github.com/cascade-app/cascade/internal/infra/sqlite"
)

// AchievementService evaluates the declarative badge catalog.
// Only badges subscribed to the incoming trigger are re-checked; an earned
// badge is never re-evaluated or revoked.
type AchievementService struct {
	db      *sqlite.DB
	catalog []domain.BadgeDef
	bySlug  map[string]domain.BadgeDef
}

// NewAchievementService creates a badge engine over the full catalog.
func NewAchievementService(db *sqlite.DB) *AchievementService {
	return NewAchievementServiceWithCatalog(db, AllBadges())
}

// NewAchievementServiceWithCatalog creates a badge engine over a custom catalog.
func NewAchievementServiceWithCatalog(db *sqlite.DB, catalog []domain.BadgeDef) *AchievementService {
	bySlug := make(map[string]domain.BadgeDef, len(catalog))
	for _, def := range catalog {
		bySlug[def.Slug] = def
	}
	return &AchievementService{db: db, catalog: catalog, bySlug: bySlug}
}

// Catalog returns every badge definition (for display).
func (a *AchievementService) Catalog() []domain.BadgeDef {
	return a.catalog
}

// Lookup returns one badge definition.
func (a *AchievementService) Lookup(slug string) (domain.BadgeDef, error) {
	def, ok := a.bySlug[slug]
	if !ok {
		return domain.BadgeDef{}, fmt.Errorf("%w: %s", domain.ErrUnknownBadge, slug)
	}
	return def, nil
}

// Earned returns badges the user holds, newest first.
func (a *AchievementService) Earned(ctx context.Context, userID string, limit int) ([]domain.EarnedBadge, error) {
	return a.db.ListEarnedBadges(ctx, userID, limit)
}

// CheckAndAward evaluates one badge and records it when its predicate holds.
// Returns true only for the call that actually inserted the row.
func (a *AchievementService) CheckAndAward(ctx context.Context, userID, slug string, today domain.LocalDate, now time.Time) (bool, error) {
	def, err := a.Lookup(slug)
	if err != nil {
		return false, err
	}
	facts := newBadgeFacts(a.db, userID, today)
	return a.checkAndAward(ctx, facts, def, now)
}

// Evaluate re-checks every unearned badge subscribed to one of triggers.
// A failing predicate does not stop the others; errors are joined.
func (a *AchievementService) Evaluate(ctx context.Context, userID string, today domain.LocalDate, now time.Time, triggers ...domain.Trigger) ([]domain.BadgeDef, error) {
	facts := newBadgeFacts(a.db, userID, today)
	var (
		awarded []domain.BadgeDef
		errs    []error
	)
	for _, def := range a.catalog {
		if !subscribes(def, triggers) {
			continue
		}
		isNew, err := a.checkAndAward(ctx, facts, def, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("badge %s: %w", def.Slug, err))
			continue
		}
		if isNew {
			awarded = append(awarded, def)
		}
	}
	return awarded, errors.Join(errs...)
}

// NextBadgeProgress ranks unearned badges by progress percentage (desc),
// ties broken by slug. limit <= 0 returns all.
func (a *AchievementService) NextBadgeProgress(ctx context.Context, userID string, today domain.LocalDate, limit int) ([]domain.BadgeProgress, error) {
	earned, err := a.db.ListEarnedBadges(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("list earned badges: %w", err)
	}
	have := make(map[string]bool, len(earned))
	for _, b := range earned {
		have[b.Slug] = true
	}

	facts := newBadgeFacts(a.db, userID, today)
	var out []domain.BadgeProgress
	for _, def := range a.catalog {
		if have[def.Slug] {
			continue
		}
		current, err := facts.value(ctx, def.Predicate)
		if err != nil {
			return nil, fmt.Errorf("badge %s: %w", def.Slug, err)
		}
		target := predicateTarget(def.Predicate)
		if current > target {
			current = target
		}
		out = append(out, domain.BadgeProgress{
			Slug:       def.Slug,
			Name:       def.Name,
			Current:    current,
			Target:     target,
			Percentage: percentage(current, target),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		return out[i].Slug < out[j].Slug
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *AchievementService) checkAndAward(ctx context.Context, facts *badgeFacts, def domain.BadgeDef, now time.Time) (bool, error) {
	// Earned badges are permanent; skip the predicate entirely.
	has, err := a.db.HasBadge(ctx, facts.userID, def.Slug)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}

	current, err := facts.value(ctx, def.Predicate)
	if err != nil {
		return false, err
	}
	if current < predicateTarget(def.Predicate) {
		return false, nil
	}

	// A concurrent award of the same badge surfaces here as isNew=false.
	return a.db.InsertEarnedBadge(ctx, facts.userID, def.Slug, now)
}

func subscribes(def domain.BadgeDef, triggers []domain.Trigger) bool {
	for _, want := range triggers {
		for _, t := range def.Triggers {
			if t == want {
				return true
			}
		}
	}
	return false
}

func predicateTarget(p domain.BadgePredicate) int64 {
	switch p.Kind {
	case domain.PredFirstAction:
		return 1
	case domain.PredAllLevelsActive:
		return int64(len(domain.GoalLevels))
	}
	if p.Target <= 0 {
		return 1
	}
	return p.Target
}

func percentage(current, target int64) float64 {
	if target <= 0 {
		return 100.0
	}
	pct := float64(current) / float64(target) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// ─── Aggregates ─────────────────────────────────────────────────────────────

// badgeFacts computes aggregates on demand and caches them for one evaluation
// pass, so a trigger touching many badges reads each source table once.
type badgeFacts struct {
	db     *sqlite.DB
	userID string
	today  domain.LocalDate

	counters    map[string]int64
	streaks     map[domain.StreakType]domain.Streak
	tree        *goals.Tree
	todayPoints *int64
}

func newBadgeFacts(db *sqlite.DB, userID string, today domain.LocalDate) *badgeFacts {
	return &badgeFacts{
		db:       db,
		userID:   userID,
		today:    today,
		counters: make(map[string]int64),
		streaks:  make(map[domain.StreakType]domain.Streak),
	}
}

// value returns the predicate's current measure, comparable to its target.
func (f *badgeFacts) value(ctx context.Context, p domain.BadgePredicate) (int64, error) {
	switch p.Kind {
	case domain.PredCountThreshold, domain.PredFirstAction:
		return f.counter(ctx, p.Counter, p.Area)
	case domain.PredStreakThreshold:
		st, err := f.streak(ctx, p.Streak)
		if err != nil {
			return 0, err
		}
		return int64(st.LongestCount), nil
	case domain.PredTodayPoints:
		return f.pointsToday(ctx)
	case domain.PredAllLevelsActive:
		tree, err := f.goalTree(ctx)
		if err != nil {
			return 0, err
		}
		return int64(tree.LevelsCovered()), nil
	}
	return 0, fmt.Errorf("%w: predicate kind %q", domain.ErrInvalidInput, p.Kind)
}

func (f *badgeFacts) counter(ctx context.Context, c domain.Counter, area domain.LifeArea) (int64, error) {
	key := string(c) + ":" + string(area)
	if v, ok := f.counters[key]; ok {
		return v, nil
	}

	var (
		v   int64
		err error
	)
	switch c {
	case domain.CounterTasksCompleted:
		v, err = f.db.CountCompletedTasks(ctx, f.userID, "")
	case domain.CounterMITCompleted:
		v, err = f.db.CountCompletedTasks(ctx, f.userID, domain.PriorityMIT)
	case domain.CounterCategoryCompleted:
		v, err = f.categoryCompleted(ctx, area)
	case domain.CounterCheckins:
		v, err = f.db.CountCheckins(ctx, f.userID, false)
	case domain.CounterFullCheckins:
		v, err = f.db.CountCheckins(ctx, f.userID, true)
	case domain.CounterDailyPlans:
		v, err = f.db.CountActions(ctx, f.userID, domain.ActionDailyPlan)
	case domain.CounterWeeklyReviews:
		v, err = f.db.CountActions(ctx, f.userID, domain.ActionWeeklyReview)
	case domain.CounterMonthlyReviews:
		v, err = f.db.CountActions(ctx, f.userID, domain.ActionMonthlyReview)
	default:
		return 0, fmt.Errorf("%w: counter %q", domain.ErrInvalidInput, c)
	}
	if err != nil {
		return 0, err
	}
	f.counters[key] = v
	return v, nil
}

func (f *badgeFacts) categoryCompleted(ctx context.Context, area domain.LifeArea) (int64, error) {
	tree, err := f.goalTree(ctx)
	if err != nil {
		return 0, err
	}
	tasks, err := f.db.ListCompletedTasksWithGoal(ctx, f.userID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, t := range tasks {
		if tree.Category(t.GoalID) == area {
			n++
		}
	}
	return n, nil
}

func (f *badgeFacts) streak(ctx context.Context, t domain.StreakType) (domain.Streak, error) {
	if st, ok := f.streaks[t]; ok {
		return st, nil
	}
	st, _, err := f.db.GetStreak(ctx, f.userID, t)
	if err != nil {
		return domain.Streak{}, err
	}
	f.streaks[t] = st
	return st, nil
}

func (f *badgeFacts) goalTree(ctx context.Context) (*goals.Tree, error) {
	if f.tree != nil {
		return f.tree, nil
	}
	tree, err := goals.Load(ctx, f.db, f.userID)
	if err != nil {
		return nil, err
	}
	f.tree = tree
	return tree, nil
}

func (f *badgeFacts) pointsToday(ctx context.Context) (int64, error) {
	if f.todayPoints != nil {
		return *f.todayPoints, nil
	}
	v, err := pointsOn(ctx, f.db, f.userID, f.today)
	if err != nil {
		return 0, err
	}
	f.todayPoints = &v
	return v, nil
}

// pointsOn sums points earned on one local date: completed tasks still
// completed plus that day's reflection credit.
func pointsOn(ctx context.Context, db *sqlite.DB, userID string, on domain.LocalDate) (int64, error) {
	tasks, err := db.PointsEarnedBetween(ctx, userID, on, on)
	if err != nil {
		return 0, err
	}
	checkin, ok, err := db.GetCheckin(ctx, userID, on)
	if err != nil {
		return 0, err
	}
	if ok {
		tasks += checkin.PointsEarned
	}
	return tasks, nil
}

// ─── Badge Catalog ──────────────────────────────────────────────────────────

// AllBadges returns the full badge catalog.
func AllBadges() []domain.BadgeDef {
	taskTriggers := []domain.Trigger{domain.TriggerTaskCompleted}
	reflection := []domain.Trigger{domain.TriggerReflection}
	actions := []domain.Trigger{domain.TriggerActionRecorded}
	streaks := []domain.Trigger{domain.TriggerStreakUpdated}

	count := func(c domain.Counter, target int64) domain.BadgePredicate {
		return domain.BadgePredicate{Kind: domain.PredCountThreshold, Counter: c, Target: target}
	}
	first := func(c domain.Counter) domain.BadgePredicate {
		return domain.BadgePredicate{Kind: domain.PredFirstAction, Counter: c, Target: 1}
	}
	streak := func(t domain.StreakType, target int64) domain.BadgePredicate {
		return domain.BadgePredicate{Kind: domain.PredStreakThreshold, Streak: t, Target: target}
	}

	catalog := []domain.BadgeDef{
		// Getting started
		{Slug: "first_task", Name: "First Step", Description: "Complete your first task", Category: domain.BadgeCatGettingStarted, Icon: "👣", Predicate: first(domain.CounterTasksCompleted), Triggers: taskTriggers},
		{Slug: "first_mit", Name: "Most Important", Description: "Complete your first MIT", Category: domain.BadgeCatGettingStarted, Icon: "🎯", Predicate: first(domain.CounterMITCompleted), Triggers: taskTriggers},
		{Slug: "first_checkin", Name: "Kaizen", Description: "Submit your first daily reflection", Category: domain.BadgeCatGettingStarted, Icon: "🪞", Predicate: first(domain.CounterCheckins), Triggers: reflection},
		{Slug: "first_plan", Name: "Planner", Description: "Plan your day for the first time", Category: domain.BadgeCatGettingStarted, Icon: "🗒️", Predicate: first(domain.CounterDailyPlans), Triggers: actions},
		{Slug: "first_weekly_review", Name: "Look Back", Description: "Complete your first weekly review", Category: domain.BadgeCatGettingStarted, Icon: "📅", Predicate: first(domain.CounterWeeklyReviews), Triggers: actions},
		{Slug: "first_monthly_review", Name: "Big Picture", Description: "Complete your first monthly review", Category: domain.BadgeCatGettingStarted, Icon: "🗓️", Predicate: first(domain.CounterMonthlyReviews), Triggers: actions},

		// Execution
		{Slug: "tasks_10", Name: "Getting Going", Description: "Complete 10 tasks", Category: domain.BadgeCatExecution, Icon: "✅", Predicate: count(domain.CounterTasksCompleted, 10), Triggers: taskTriggers},
		{Slug: "tasks_50", Name: "Momentum", Description: "Complete 50 tasks", Category: domain.BadgeCatExecution, Icon: "⚙️", Predicate: count(domain.CounterTasksCompleted, 50), Triggers: taskTriggers},
		{Slug: "tasks_100", Name: "Centurion", Description: "Complete 100 tasks", Category: domain.BadgeCatExecution, Icon: "💯", Predicate: count(domain.CounterTasksCompleted, 100), Triggers: taskTriggers},
		{Slug: "tasks_500", Name: "Relentless", Description: "Complete 500 tasks", Category: domain.BadgeCatExecution, Icon: "🏔️", Predicate: count(domain.CounterTasksCompleted, 500), Triggers: taskTriggers},
		{Slug: "mit_25", Name: "Priority Keeper", Description: "Complete 25 MITs", Category: domain.BadgeCatExecution, Icon: "🥇", Predicate: count(domain.CounterMITCompleted, 25), Triggers: taskTriggers},
		{Slug: "mit_100", Name: "Essentialist", Description: "Complete 100 MITs", Category: domain.BadgeCatExecution, Icon: "💎", Predicate: count(domain.CounterMITCompleted, 100), Triggers: taskTriggers},
		{Slug: "points_day_300", Name: "Power Day", Description: "Earn 300 points in one day", Category: domain.BadgeCatExecution, Icon: "⚡", Predicate: domain.BadgePredicate{Kind: domain.PredTodayPoints, Target: 300}, Triggers: []domain.Trigger{domain.TriggerTaskCompleted, domain.TriggerReflection}},

		// Streaks
		{Slug: "mit_streak_7", Name: "Week of Focus", Description: "Reach a 7-day MIT streak", Category: domain.BadgeCatStreaks, Icon: "🔥", Predicate: streak(domain.StreakMIT, 7), Triggers: streaks},
		{Slug: "mit_streak_30", Name: "Month of Focus", Description: "Reach a 30-day MIT streak", Category: domain.BadgeCatStreaks, Icon: "🔥", Predicate: streak(domain.StreakMIT, 30), Triggers: streaks},
		{Slug: "mit_streak_90", Name: "Unstoppable", Description: "Reach a 90-day MIT streak", Category: domain.BadgeCatStreaks, Icon: "☄️", Predicate: streak(domain.StreakMIT, 90), Triggers: streaks},
		{Slug: "kaizen_streak_7", Name: "Reflective Week", Description: "Reflect 7 days in a row", Category: domain.BadgeCatStreaks, Icon: "🌱", Predicate: streak(domain.StreakKaizen, 7), Triggers: streaks},
		{Slug: "kaizen_streak_30", Name: "Reflective Month", Description: "Reflect 30 days in a row", Category: domain.BadgeCatStreaks, Icon: "🌳", Predicate: streak(domain.StreakKaizen, 30), Triggers: streaks},
		{Slug: "planning_streak_14", Name: "Deliberate", Description: "Plan 14 days in a row", Category: domain.BadgeCatStreaks, Icon: "🧭", Predicate: streak(domain.StreakDailyPlanning, 14), Triggers: streaks},
		{Slug: "weekly_review_streak_4", Name: "Steady Rhythm", Description: "Review 4 weeks in a row", Category: domain.BadgeCatStreaks, Icon: "🔁", Predicate: streak(domain.StreakWeeklyReview, 4), Triggers: streaks},

		// Balance
		{Slug: "full_checkin_7", Name: "Well Rounded", Description: "Tick all six life areas on 7 reflections", Category: domain.BadgeCatBalance, Icon: "🧘", Predicate: count(domain.CounterFullCheckins, 7), Triggers: reflection},

		// Vision
		{Slug: "cascade_complete", Name: "Full Cascade", Description: "Have an active goal at every level from vision to weekly", Category: domain.BadgeCatVision, Icon: "🌊", Predicate: domain.BadgePredicate{Kind: domain.PredAllLevelsActive}, Triggers: []domain.Trigger{domain.TriggerTaskCompleted, domain.TriggerActionRecorded}},
	}

	for _, area := range domain.LifeAreas {
		name := strings.ToLower(string(area))
		catalog = append(catalog, domain.BadgeDef{
			Slug:        "area_" + name + "_10",
			Name:        areaBadgeName[area],
			Description: fmt.Sprintf("Complete 10 tasks toward %s goals", name),
			Category:    domain.BadgeCatBalance,
			Icon:        "🏷️",
			Predicate:   domain.BadgePredicate{Kind: domain.PredCountThreshold, Counter: domain.CounterCategoryCompleted, Area: area, Target: 10},
			Triggers:    []domain.Trigger{domain.TriggerCategoryTouched},
		})
	}
	return catalog
}

var areaBadgeName = map[domain.LifeArea]string{
	domain.AreaHealth:        "Vital",
	domain.AreaRelationships: "Connected",
	domain.AreaCareer:        "Professional",
	domain.AreaFinances:      "Prudent",
	domain.AreaGrowth:        "Curious",
	domain.AreaRecreation:    "Playful",
}
