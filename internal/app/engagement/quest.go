package engagement

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cascade-app/cascade/internal/app/goals"
	"github.com/cascade-app/cascade/internal/domain"
	"github.com/cascade-app/cascade/internal/infra/sqlite"
)

const (
	// DefaultDailyChallenges is how many challenges a day offers.
	DefaultDailyChallenges = 3
	// DefaultWeeklyChallenges is how many challenges a week offers.
	DefaultWeeklyChallenges = 3

	// alignmentMinSample is the fewest completions a week needs before its
	// alignment rate is reported as non-zero.
	alignmentMinSample = 3
)

// ChallengeService generates daily/weekly challenges and advances them.
// Generation is idempotent per (user, period); completion is one-way.
type ChallengeService struct {
	db        *sqlite.DB
	templates []domain.ChallengeTemplate
	bySlug    map[string]domain.ChallengeTemplate

	daily  int
	weekly int

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewChallengeService creates a challenge engine over the default templates.
// rng drives selection; nil seeds one from the clock.
func NewChallengeService(db *sqlite.DB, rng *rand.Rand) *ChallengeService {
	return NewChallengeServiceWithTemplates(db, rng, ChallengeTemplates())
}

// NewChallengeServiceWithTemplates creates a challenge engine over custom templates.
func NewChallengeServiceWithTemplates(db *sqlite.DB, rng *rand.Rand, templates []domain.ChallengeTemplate) *ChallengeService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	bySlug := make(map[string]domain.ChallengeTemplate, len(templates))
	for _, t := range templates {
		bySlug[t.Slug] = t
	}
	return &ChallengeService{
		db:        db,
		templates: templates,
		bySlug:    bySlug,
		daily:     DefaultDailyChallenges,
		weekly:    DefaultWeeklyChallenges,
		rng:       rng,
	}
}

// SetCounts changes how many challenges each period offers.
func (c *ChallengeService) SetCounts(daily, weekly int) {
	if daily > 0 {
		c.daily = daily
	}
	if weekly > 0 {
		c.weekly = weekly
	}
}

// Templates returns the template catalog.
func (c *ChallengeService) Templates() []domain.ChallengeTemplate {
	return c.templates
}

// Eligibility is what generation needs to know about the user.
type Eligibility struct {
	Level   int
	Streaks map[domain.StreakType]int
}

// EnsureGenerated creates the period's challenges if none exist yet and
// returns the period's set. Calling it twice yields the same set; a
// concurrent generator losing on the unique key is benign.
func (c *ChallengeService) EnsureGenerated(ctx context.Context, userID string, period domain.ChallengePeriod, today domain.LocalDate, elig Eligibility) ([]domain.UserChallenge, error) {
	start, end := periodBounds(period, today)

	n, err := c.db.CountChallenges(ctx, userID, period, start)
	if err != nil {
		return nil, fmt.Errorf("count challenges: %w", err)
	}
	if n > 0 {
		return c.db.ListChallenges(ctx, userID, period, start)
	}

	want := c.daily
	if period == domain.ChallengeWeekly {
		want = c.weekly
	}
	selected := c.pick(c.eligible(period, elig), want)

	err = c.db.InTx(ctx, func(tx *sqlite.DB) error {
		// Re-check under the write lock: another generator may have won.
		n, err := tx.CountChallenges(ctx, userID, period, start)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		for _, tmpl := range selected {
			ch := domain.UserChallenge{
				ID:          uuid.New().String(),
				UserID:      userID,
				Type:        period,
				Slug:        tmpl.Slug,
				Title:       tmpl.Title,
				PeriodStart: start,
				PeriodEnd:   end,
				TargetValue: tmpl.Target,
				BonusXP:     tmpl.BonusXP,
			}
			err := tx.InsertChallenge(ctx, ch)
			if sqlite.IsUniqueViolation(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert challenge %s: %w", tmpl.Slug, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.db.ListChallenges(ctx, userID, period, start)
}

// Current returns the challenges of the period containing today.
func (c *ChallengeService) Current(ctx context.Context, userID string, period domain.ChallengePeriod, today domain.LocalDate) ([]domain.UserChallenge, error) {
	start, _ := periodBounds(period, today)
	return c.db.ListChallenges(ctx, userID, period, start)
}

// ProgressEvent is one progression event offered to open challenges.
// SourceKey identifies what caused it ("task:<id>", "checkin:<date>", ...)
// and is credited at most once per counter challenge.
type ProgressEvent struct {
	Kind      domain.EventKind
	SourceKey string
}

// Apply advances every open daily and weekly challenge subscribed to one of
// events and returns the challenges this call completed.
func (c *ChallengeService) Apply(ctx context.Context, userID string, today domain.LocalDate, now time.Time, events ...ProgressEvent) ([]domain.UserChallenge, error) {
	var completed []domain.UserChallenge
	for _, period := range []domain.ChallengePeriod{domain.ChallengeDaily, domain.ChallengeWeekly} {
		start, _ := periodBounds(period, today)
		open, err := c.db.ListOpenChallenges(ctx, userID, period, start)
		if err != nil {
			return completed, fmt.Errorf("list open %s challenges: %w", period, err)
		}
		for _, ch := range open {
			tmpl, ok := c.bySlug[ch.Slug]
			if !ok {
				return completed, fmt.Errorf("%w: %s", domain.ErrUnknownChallenge, ch.Slug)
			}
			matched := matching(tmpl, events)
			if len(matched) == 0 {
				continue
			}
			done, err := c.advance(ctx, ch, tmpl, matched, today, now)
			if err != nil {
				return completed, fmt.Errorf("advance challenge %s: %w", ch.Slug, err)
			}
			if done != nil {
				completed = append(completed, *done)
			}
		}
	}
	return completed, nil
}

// advance moves one challenge inside a transaction. Returns the challenge
// when this call flipped it to completed.
func (c *ChallengeService) advance(ctx context.Context, ch domain.UserChallenge, tmpl domain.ChallengeTemplate, events []ProgressEvent, today domain.LocalDate, now time.Time) (*domain.UserChallenge, error) {
	var done *domain.UserChallenge
	err := c.db.InTx(ctx, func(tx *sqlite.DB) error {
		switch tmpl.Strategy {
		case domain.StrategyCounter:
			for _, ev := range events {
				if ev.Kind == domain.EventTaskUncompleted {
					continue
				}
				credited, err := tx.AddChallengeCredit(ctx, ch.ID, ev.SourceKey, now)
				if err != nil {
					return err
				}
				if !credited {
					continue
				}
				if _, _, err := tx.IncrementChallenge(ctx, ch.ID, 1); err != nil {
					return err
				}
			}
		case domain.StrategySnapshot:
			v, err := snapshotValue(ctx, tx, ch.UserID, tmpl.Metric, today)
			if err != nil {
				return err
			}
			if _, err := tx.SetChallengeValue(ctx, ch.ID, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: strategy %q", domain.ErrInvalidInput, tmpl.Strategy)
		}

		flipped, err := tx.CompleteChallenge(ctx, ch.ID, now)
		if err != nil || !flipped {
			return err
		}
		if ch.BonusXP > 0 {
			if err := tx.AddBonusXP(ctx, ch.UserID, ch.BonusXP); err != nil {
				return err
			}
		}
		if err := tx.InsertCelebration(ctx, newCelebration(ch.UserID, domain.CelebrateChallenge,
			"Challenge complete: "+ch.Title, ch.ID, now)); err != nil {
			return err
		}
		updated, err := tx.GetChallenge(ctx, ch.ID)
		if err != nil {
			return err
		}
		done = updated
		return nil
	})
	return done, err
}

// eligible filters templates of one period by level and streak gates.
func (c *ChallengeService) eligible(period domain.ChallengePeriod, elig Eligibility) []domain.ChallengeTemplate {
	var out []domain.ChallengeTemplate
	for _, t := range c.templates {
		if t.Period != period {
			continue
		}
		if t.MinLevel > 0 && elig.Level < t.MinLevel {
			continue
		}
		if t.MinStreak != nil && elig.Streaks[t.MinStreak.Type] < t.MinStreak.Count {
			continue
		}
		out = append(out, t)
	}
	return out
}

// pick shuffles a copy of pool and takes the first n.
func (c *ChallengeService) pick(pool []domain.ChallengeTemplate, n int) []domain.ChallengeTemplate {
	shuffled := make([]domain.ChallengeTemplate, len(pool))
	copy(shuffled, pool)
	c.mu.Lock()
	c.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	c.mu.Unlock()

	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

func matching(t domain.ChallengeTemplate, events []ProgressEvent) []ProgressEvent {
	var out []ProgressEvent
	for _, ev := range events {
		if t.Matches(ev.Kind) {
			out = append(out, ev)
		}
	}
	return out
}

// periodBounds returns the inclusive local-date range of the period containing today.
func periodBounds(period domain.ChallengePeriod, today domain.LocalDate) (start, end domain.LocalDate) {
	if period == domain.ChallengeWeekly {
		return today.WeekStart(), today.WeekEnd()
	}
	return today, today
}

// ─── Snapshot Metrics ───────────────────────────────────────────────────────

// snapshotValue recomputes a metric from source tables.
func snapshotValue(ctx context.Context, db *sqlite.DB, userID string, m domain.SnapshotMetric, today domain.LocalDate) (int64, error) {
	switch m {
	case domain.MetricPointsToday:
		return pointsOn(ctx, db, userID, today)
	case domain.MetricAreasToday:
		checkin, ok, err := db.GetCheckin(ctx, userID, today)
		if err != nil || !ok {
			return 0, err
		}
		return int64(checkin.CheckedCount()), nil
	case domain.MetricMITDaysWeek:
		return mitDays(ctx, db, userID, today.WeekStart(), today)
	case domain.MetricAlignmentWeek:
		rate, err := weekAlignment(ctx, db, userID, today)
		if err != nil {
			return 0, err
		}
		return rate.Floor().IntPart(), nil
	}
	return 0, fmt.Errorf("%w: metric %q", domain.ErrInvalidInput, m)
}

// mitDays counts distinct local days in [from, to] with a completed MIT.
func mitDays(ctx context.Context, db *sqlite.DB, userID string, from, to domain.LocalDate) (int64, error) {
	tasks, err := db.ListCompletedTasks(ctx, userID, from, to)
	if err != nil {
		return 0, err
	}
	days := make(map[domain.LocalDate]bool)
	for _, t := range tasks {
		if t.Priority == domain.PriorityMIT {
			days[t.CompletedOn] = true
		}
	}
	return int64(len(days)), nil
}

// weekAlignment returns the percentage of this week's completions linked to
// an ACTIVE goal.
func weekAlignment(ctx context.Context, db *sqlite.DB, userID string, today domain.LocalDate) (decimal.Decimal, error) {
	tasks, err := db.ListCompletedTasks(ctx, userID, today.WeekStart(), today.WeekEnd())
	if err != nil {
		return decimal.Zero, err
	}
	tree, err := goals.Load(ctx, db, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return AlignmentRate(tasks, tree), nil
}

// AlignmentRate is linked/total × 100 over completed tasks, where linked
// means the task's goal exists and is ACTIVE. Below the minimum sample the
// rate is zero.
func AlignmentRate(tasks []domain.Task, tree *goals.Tree) decimal.Decimal {
	if len(tasks) < alignmentMinSample {
		return decimal.Zero
	}
	var linked int64
	for _, t := range tasks {
		if t.GoalID != "" && tree.IsActive(t.GoalID) {
			linked++
		}
	}
	return decimal.NewFromInt(linked).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(len(tasks))))
}

// ─── Challenge Templates ────────────────────────────────────────────────────

// ChallengeTemplates returns the default template catalog.
func ChallengeTemplates() []domain.ChallengeTemplate {
	taskDone := []domain.EventKind{domain.EventTaskCompleted}
	pointsMoved := []domain.EventKind{domain.EventTaskCompleted, domain.EventTaskUncompleted, domain.EventCheckin}

	return []domain.ChallengeTemplate{
		// Daily
		{Slug: "daily_complete_3", Period: domain.ChallengeDaily, Title: "Complete 3 tasks", Strategy: domain.StrategyCounter, Events: taskDone, Target: 3, BonusXP: 20},
		{Slug: "daily_complete_5", Period: domain.ChallengeDaily, Title: "Complete 5 tasks", Strategy: domain.StrategyCounter, Events: taskDone, Target: 5, BonusXP: 35, MinLevel: 3},
		{Slug: "daily_mit", Period: domain.ChallengeDaily, Title: "Finish today's MIT", Strategy: domain.StrategyCounter, Events: []domain.EventKind{domain.EventMITCompleted}, Target: 1, BonusXP: 15},
		{Slug: "daily_keep_streak", Period: domain.ChallengeDaily, Title: "Keep your MIT streak alive", Strategy: domain.StrategyCounter, Events: []domain.EventKind{domain.EventMITStreakKept}, Target: 1, BonusXP: 25, MinStreak: &domain.StreakGate{Type: domain.StreakMIT, Count: 3}},
		{Slug: "daily_reflect", Period: domain.ChallengeDaily, Title: "Submit your daily reflection", Strategy: domain.StrategyCounter, Events: []domain.EventKind{domain.EventCheckin}, Target: 1, BonusXP: 10},
		{Slug: "daily_plan", Period: domain.ChallengeDaily, Title: "Plan your day", Strategy: domain.StrategyCounter, Events: []domain.EventKind{domain.EventDailyPlan}, Target: 1, BonusXP: 10},
		{Slug: "daily_points_150", Period: domain.ChallengeDaily, Title: "Earn 150 points today", Strategy: domain.StrategySnapshot, Metric: domain.MetricPointsToday, Events: pointsMoved, Target: 150, BonusXP: 25},
		{Slug: "daily_areas_4", Period: domain.ChallengeDaily, Title: "Tick 4 life areas in your reflection", Strategy: domain.StrategySnapshot, Metric: domain.MetricAreasToday, Events: []domain.EventKind{domain.EventCheckin}, Target: 4, BonusXP: 15},

		// Weekly
		{Slug: "weekly_complete_20", Period: domain.ChallengeWeekly, Title: "Complete 20 tasks this week", Strategy: domain.StrategyCounter, Events: taskDone, Target: 20, BonusXP: 100},
		{Slug: "weekly_complete_35", Period: domain.ChallengeWeekly, Title: "Complete 35 tasks this week", Strategy: domain.StrategyCounter, Events: taskDone, Target: 35, BonusXP: 150, MinLevel: 5},
		{Slug: "weekly_mit_days_5", Period: domain.ChallengeWeekly, Title: "Finish an MIT on 5 days", Strategy: domain.StrategySnapshot, Metric: domain.MetricMITDaysWeek, Events: []domain.EventKind{domain.EventMITCompleted, domain.EventTaskUncompleted}, Target: 5, BonusXP: 120},
		{Slug: "weekly_alignment_80", Period: domain.ChallengeWeekly, Title: "Keep 80% of completions aligned to active goals", Strategy: domain.StrategySnapshot, Metric: domain.MetricAlignmentWeek, Events: []domain.EventKind{domain.EventTaskCompleted, domain.EventTaskUncompleted}, Target: 80, BonusXP: 100},
		{Slug: "weekly_reflect_5", Period: domain.ChallengeWeekly, Title: "Reflect on 5 days", Strategy: domain.StrategyCounter, Events: []domain.EventKind{domain.EventCheckin}, Target: 5, BonusXP: 80},
		{Slug: "weekly_review", Period: domain.ChallengeWeekly, Title: "Complete your weekly review", Strategy: domain.StrategyCounter, Events: []domain.EventKind{domain.EventReview}, Target: 1, BonusXP: 50},
	}
}
