package engagement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
	_ "time/tzdata" // users may name any IANA zone; embed the database

	"go.uber.org/zap"

	"github.com/cascade-app/cascade/internal/app/goals"
	"github.com/cascade-app/cascade/internal/domain"
	"github.com/cascade-app/cascade/internal/infra/metrics"
	"github.com/cascade-app/cascade/internal/infra/sqlite"
)

// Subsystem names used in Degraded lists, logs and failure metrics.
const (
	StageStreak       = "streak"
	StageBadges       = "badges"
	StageChallenges   = "challenges"
	StageCelebrations = "celebrations"
)

// Options configures an Engine.
type Options struct {
	Logger *zap.Logger
	// Clock returns the current instant. Defaults to time.Now.
	Clock func() time.Time
	// Rand drives challenge selection. Defaults to a clock-seeded source.
	Rand *rand.Rand

	StreakBonus      bool
	DailyChallenges  int
	WeeklyChallenges int
	AtRiskHour       int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Logger:           zap.NewNop(),
		Clock:            time.Now,
		StreakBonus:      true,
		DailyChallenges:  DefaultDailyChallenges,
		WeeklyChallenges: DefaultWeeklyChallenges,
		AtRiskHour:       DefaultAtRiskHour,
	}
}

// Engine orchestrates one progression pass per user action:
// points (committed atomically with the task transition) → level →
// streak → badges → challenges → celebrations. Stages after the commit
// only read committed state; a failing stage is logged, counted and
// reported in Degraded but never rolls back points.
type Engine struct {
	db  *sqlite.DB
	log *zap.Logger
	now func() time.Time

	points       PointsCalculator
	streaks      *StreakService
	badges       *AchievementService
	challenges   *ChallengeService
	celebrations *CelebrationService
}

// NewEngine wires the progression services over one database.
func NewEngine(db *sqlite.DB, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	streaks := NewStreakService(db)
	streaks.SetAtRiskHour(opts.AtRiskHour)
	challenges := NewChallengeService(db, opts.Rand)
	challenges.SetCounts(opts.DailyChallenges, opts.WeeklyChallenges)

	return &Engine{
		db:           db,
		log:          opts.Logger.Named("engagement"),
		now:          opts.Clock,
		points:       PointsCalculator{StreakBonus: opts.StreakBonus},
		streaks:      streaks,
		badges:       NewAchievementService(db),
		challenges:   challenges,
		celebrations: NewCelebrationService(db),
	}
}

// Badges exposes the badge engine (catalog display).
func (e *Engine) Badges() *AchievementService { return e.badges }

// ChallengeTemplates exposes the challenge catalog.
func (e *Engine) ChallengeTemplates() []domain.ChallengeTemplate { return e.challenges.Templates() }

// ─── Results ────────────────────────────────────────────────────────────────

// StreakResult is the streak block of a result.
type StreakResult struct {
	Type             domain.StreakType `json:"type"`
	CurrentCount     int               `json:"current_count"`
	LongestCount     int               `json:"longest_count"`
	MilestoneCrossed int               `json:"milestone_crossed,omitempty"`
}

// Progression is what the post-commit stages produced.
type Progression struct {
	LeveledUp           bool                   `json:"leveled_up"`
	NewLevel            *domain.Level          `json:"new_level,omitempty"`
	Streak              *StreakResult          `json:"streak,omitempty"`
	BadgesEarned        []domain.BadgeDef      `json:"badges_earned"`
	ChallengesCompleted []domain.UserChallenge `json:"challenges_completed"`
	Degraded            []string               `json:"degraded,omitempty"`
}

// CompletionResult is returned by CompleteTask.
type CompletionResult struct {
	TaskID       string `json:"task_id"`
	PointsEarned int64  `json:"points_earned"`
	NewTotal     int64  `json:"new_total"`
	Progression
}

// UncompleteResult is returned by UncompleteTask.
type UncompleteResult struct {
	TaskID        string   `json:"task_id"`
	PointsRemoved int64    `json:"points_removed"`
	NewTotal      int64    `json:"new_total"`
	Degraded      []string `json:"degraded,omitempty"`
}

// CheckinResult is returned by SubmitCheckin.
type CheckinResult struct {
	Date         domain.LocalDate `json:"date"`
	FirstOfDay   bool             `json:"first_of_day"`
	PointsEarned int64            `json:"points_earned"`
	NewTotal     int64            `json:"new_total"`
	AreasChecked int              `json:"areas_checked"`
	Progression
}

// ActionResult is returned by RecordAction.
type ActionResult struct {
	Kind      domain.ActionKind `json:"kind"`
	PeriodKey string            `json:"period_key"`
	Recorded  bool              `json:"recorded"`
	Progression
}

// ─── Task Completion ────────────────────────────────────────────────────────

// CompleteTask marks a task completed and runs the progression pass.
// Points, the status transition and the ledger entry commit together; a
// second concurrent call on the same task gets ErrIllegalStateTransition.
func (e *Engine) CompleteTask(ctx context.Context, taskID string) (*CompletionResult, error) {
	now := e.now()
	var (
		task          domain.Task
		user          domain.User
		today         domain.LocalDate
		earned        int64
		before, after int64
	)

	err := e.db.InTx(ctx, func(tx *sqlite.DB) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status == domain.TaskCompleted {
			return fmt.Errorf("%w: task %s is already completed", domain.ErrIllegalStateTransition, taskID)
		}
		u, err := tx.GetUser(ctx, t.UserID)
		if err != nil {
			return err
		}
		today = domain.DateOf(now, e.location(*u))

		extended := 0
		if t.Priority == domain.PriorityMIT {
			st, _, err := tx.GetStreak(ctx, u.ID, domain.StreakMIT)
			if err != nil {
				return fmt.Errorf("peek mit streak: %w", err)
			}
			extended = ExtendsStreak(st, today)
		}

		earned, err = e.points.Award(*t, extended)
		if err != nil {
			return err
		}
		ok, err := tx.MarkTaskCompleted(ctx, t.ID, now, today, earned)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: task %s is already completed", domain.ErrIllegalStateTransition, taskID)
		}

		before, after, err = tx.AddPoints(ctx, u.ID, earned)
		if err != nil {
			return err
		}
		if _, err := tx.InsertLedgerEntry(ctx, domain.LedgerEntry{
			UserID:    u.ID,
			Source:    domain.SourceTaskCompleted,
			SourceID:  t.ID,
			Amount:    earned,
			Balance:   after,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}

		task, user = *t, *u
		task.Status = domain.TaskCompleted
		task.CompletedOn = today
		task.PointsEarned = earned
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PointsAwarded.WithLabelValues(string(domain.SourceTaskCompleted)).Add(float64(earned))
	metrics.TasksCompleted.WithLabelValues(string(task.Priority)).Inc()
	e.log.Debug("task completed",
		zap.String("user", user.ID), zap.String("task", task.ID),
		zap.String("priority", string(task.Priority)), zap.Int64("points", earned),
		zap.Int64("total", after))

	res := &CompletionResult{TaskID: task.ID, PointsEarned: earned, NewTotal: after}
	p := &res.Progression
	e.levelStage(p, before, after)

	triggers := []domain.Trigger{domain.TriggerTaskCompleted}
	events := []ProgressEvent{{Kind: domain.EventTaskCompleted, SourceKey: "task:" + task.ID}}

	if task.Priority == domain.PriorityMIT {
		events = append(events, ProgressEvent{Kind: domain.EventMITCompleted, SourceKey: "task:" + task.ID})
		changed, extended := e.streakStage(ctx, p, user.ID, domain.StreakMIT, today)
		if changed {
			triggers = append(triggers, domain.TriggerStreakUpdated)
		}
		if extended {
			events = append(events, ProgressEvent{Kind: domain.EventMITStreakKept, SourceKey: "streak:MIT:" + string(today)})
		}
	}
	if task.GoalID != "" {
		e.stage(p, StageBadges, user.ID, func() error {
			tree, err := goals.Load(ctx, e.db, user.ID)
			if err != nil {
				return fmt.Errorf("load goals: %w", err)
			}
			if tree.Category(task.GoalID) != "" {
				triggers = append(triggers, domain.TriggerCategoryTouched)
			}
			return nil
		})
	}

	e.badgeStage(ctx, p, user.ID, today, now, triggers...)
	e.challengeStage(ctx, p, user, today, now, after, events...)
	e.celebrationStage(ctx, p, user.ID, now)
	return res, nil
}

// UncompleteTask reverts a completion and subtracts exactly the amount
// stored on the task. Streaks, badges and completed challenges are not
// rolled back.
func (e *Engine) UncompleteTask(ctx context.Context, taskID string) (*UncompleteResult, error) {
	now := e.now()
	var (
		user    domain.User
		removed int64
		after   int64
	)

	err := e.db.InTx(ctx, func(tx *sqlite.DB) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		removed, err = e.points.Reverse(*t)
		if err != nil {
			return err
		}
		ok, err := tx.MarkTaskPending(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("mark pending: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: task %s is not completed", domain.ErrIllegalStateTransition, taskID)
		}
		u, err := tx.GetUser(ctx, t.UserID)
		if err != nil {
			return err
		}
		_, after, err = tx.AddPoints(ctx, u.ID, -removed)
		if err != nil {
			return err
		}
		if _, err := tx.InsertLedgerEntry(ctx, domain.LedgerEntry{
			UserID:    u.ID,
			Source:    domain.SourceTaskReversed,
			SourceID:  t.ID,
			Amount:    -removed,
			Balance:   after,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		user = *u
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PointsReversed.Add(float64(removed))
	e.log.Debug("task uncompleted",
		zap.String("user", user.ID), zap.String("task", taskID),
		zap.Int64("points_removed", removed), zap.Int64("total", after))

	// Snapshot challenges recompute; counter challenges keep their credit.
	var p Progression
	today := domain.DateOf(now, e.location(user))
	e.challengeStage(ctx, &p, user, today, now, after,
		ProgressEvent{Kind: domain.EventTaskUncompleted, SourceKey: "task:" + taskID})
	e.celebrationStage(ctx, &p, user.ID, now)

	return &UncompleteResult{TaskID: taskID, PointsRemoved: removed, NewTotal: after, Degraded: p.Degraded}, nil
}

// ─── Reflection & Actions ───────────────────────────────────────────────────

// SubmitCheckin stores today's reflection. The first submission of a local
// day credits CheckinPoints; later ones only update the area flags.
func (e *Engine) SubmitCheckin(ctx context.Context, userID string, areas map[domain.LifeArea]bool) (*CheckinResult, error) {
	for area := range areas {
		if !area.Valid() {
			return nil, fmt.Errorf("%w: life area %q", domain.ErrInvalidInput, area)
		}
	}

	now := e.now()
	var (
		user          domain.User
		today         domain.LocalDate
		first         bool
		before, after int64
	)
	err := e.db.InTx(ctx, func(tx *sqlite.DB) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user = *u
		today = domain.DateOf(now, e.location(user))
		before, after = u.TotalPoints, u.TotalPoints

		first, err = tx.UpsertCheckin(ctx, domain.KaizenCheckin{
			UserID:       userID,
			Date:         today,
			Areas:        areas,
			PointsEarned: CheckinPoints,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("upsert checkin: %w", err)
		}
		if !first {
			return nil
		}

		before, after, err = tx.AddPoints(ctx, userID, CheckinPoints)
		if err != nil {
			return err
		}
		_, err = tx.InsertLedgerEntry(ctx, domain.LedgerEntry{
			UserID:    userID,
			Source:    domain.SourceCheckinAccepted,
			SourceID:  "checkin:" + string(today),
			Amount:    CheckinPoints,
			Balance:   after,
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &CheckinResult{
		Date:         today,
		FirstOfDay:   first,
		NewTotal:     after,
		AreasChecked: domain.KaizenCheckin{Areas: areas}.CheckedCount(),
	}
	if first {
		res.PointsEarned = CheckinPoints
		metrics.PointsAwarded.WithLabelValues(string(domain.SourceCheckinAccepted)).Add(float64(CheckinPoints))
	}

	p := &res.Progression
	e.levelStage(p, before, after)
	triggers := []domain.Trigger{domain.TriggerReflection}
	if changed, _ := e.streakStage(ctx, p, userID, domain.StreakKaizen, today); changed {
		triggers = append(triggers, domain.TriggerStreakUpdated)
	}
	e.badgeStage(ctx, p, userID, today, now, triggers...)
	e.challengeStage(ctx, p, user, today, now, after,
		ProgressEvent{Kind: domain.EventCheckin, SourceKey: "checkin:" + string(today)})
	e.celebrationStage(ctx, p, userID, now)
	return res, nil
}

// RecordAction records a planning or review submission for its period and
// advances the matching streak. A second submission in the same period is
// accepted but changes nothing.
func (e *Engine) RecordAction(ctx context.Context, userID string, kind domain.ActionKind) (*ActionResult, error) {
	streakType, ok := kind.StreakType()
	if !ok {
		return nil, fmt.Errorf("%w: action kind %q", domain.ErrInvalidInput, kind)
	}

	now := e.now()
	u, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := domain.DateOf(now, e.location(*u))
	periodKey := string(periodStart(streakType.Cadence(), today))

	recorded, err := e.db.InsertAction(ctx, userID, kind, periodKey, now)
	if err != nil {
		return nil, fmt.Errorf("insert action: %w", err)
	}

	res := &ActionResult{Kind: kind, PeriodKey: periodKey, Recorded: recorded}
	if !recorded {
		return res, nil
	}

	p := &res.Progression
	triggers := []domain.Trigger{domain.TriggerActionRecorded}
	if changed, _ := e.streakStage(ctx, p, userID, streakType, today); changed {
		triggers = append(triggers, domain.TriggerStreakUpdated)
	}
	e.badgeStage(ctx, p, userID, today, now, triggers...)

	event := domain.EventReview
	if kind == domain.ActionDailyPlan {
		event = domain.EventDailyPlan
	}
	e.challengeStage(ctx, p, *u, today, now, u.TotalPoints,
		ProgressEvent{Kind: event, SourceKey: fmt.Sprintf("action:%s:%s", kind, periodKey)})
	e.celebrationStage(ctx, p, userID, now)
	return res, nil
}

// ─── Challenges, Badges, Celebrations ───────────────────────────────────────

// ChallengeView is a challenge with its progress percentage.
type ChallengeView struct {
	domain.UserChallenge
	ProgressPct float64 `json:"progress_pct"`
}

// ChallengeBoard groups the current period's challenges.
type ChallengeBoard struct {
	Daily  []ChallengeView `json:"daily"`
	Weekly []ChallengeView `json:"weekly"`
}

// EnsureChallengesExist generates today's and this week's challenges if
// missing. Idempotent per period.
func (e *Engine) EnsureChallengesExist(ctx context.Context, userID string) (*ChallengeBoard, error) {
	u, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := domain.DateOf(e.now(), e.location(*u))
	if err := e.ensureChallenges(ctx, *u, today, u.TotalPoints); err != nil {
		return nil, err
	}
	return e.board(ctx, userID, today)
}

// Challenges lists the current period's challenges without generating.
func (e *Engine) Challenges(ctx context.Context, userID string) (*ChallengeBoard, error) {
	u, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.board(ctx, userID, domain.DateOf(e.now(), e.location(*u)))
}

// NextBadgeProgress ranks the user's unearned badges by closeness.
func (e *Engine) NextBadgeProgress(ctx context.Context, userID string, limit int) ([]domain.BadgeProgress, error) {
	u, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.badges.NextBadgeProgress(ctx, userID, domain.DateOf(e.now(), e.location(*u)), limit)
}

// BadgeView is an earned badge joined with its definition.
type BadgeView struct {
	domain.BadgeDef
	EarnedAt time.Time `json:"earned_at"`
}

// EarnedBadges lists earned badges, newest first.
func (e *Engine) EarnedBadges(ctx context.Context, userID string, limit int) ([]BadgeView, error) {
	if _, err := e.db.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	earned, err := e.badges.Earned(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list earned badges: %w", err)
	}
	out := make([]BadgeView, 0, len(earned))
	for _, b := range earned {
		def, err := e.badges.Lookup(b.Slug)
		if err != nil {
			// Retired from the catalog; keep showing the slug.
			def = domain.BadgeDef{Slug: b.Slug, Name: b.Slug}
		}
		out = append(out, BadgeView{BadgeDef: def, EarnedAt: b.EarnedAt})
	}
	return out, nil
}

// Celebrations lists the user's celebrations, newest first.
func (e *Engine) Celebrations(ctx context.Context, userID string, unseenOnly bool, limit int) ([]domain.Celebration, error) {
	if _, err := e.db.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if unseenOnly {
		return e.celebrations.Pending(ctx, userID, limit)
	}
	return e.celebrations.All(ctx, userID, limit)
}

// MarkCelebrationSeen flags one celebration as shown.
func (e *Engine) MarkCelebrationSeen(ctx context.Context, id string) error {
	return e.celebrations.MarkSeen(ctx, id)
}

// ─── Stages ─────────────────────────────────────────────────────────────────

// stage runs one post-commit step. Failures are logged, counted and
// recorded in Degraded; they never propagate.
func (e *Engine) stage(p *Progression, name, userID string, fn func() error) bool {
	start := time.Now()
	err := fn()
	metrics.StageLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err == nil {
		return true
	}
	metrics.SubsystemFailures.WithLabelValues(name).Inc()
	e.log.Warn("progression stage failed",
		zap.String("stage", name), zap.String("user", userID), zap.Error(err))
	for _, d := range p.Degraded {
		if d == name {
			return false
		}
	}
	p.Degraded = append(p.Degraded, name)
	return false
}

func (e *Engine) levelStage(p *Progression, before, after int64) {
	lvl, up := LevelChange(before, after)
	if !up {
		return
	}
	p.LeveledUp = true
	p.NewLevel = &lvl
	metrics.LevelUps.Inc()
}

// streakStage records the event and reports whether the streak changed and
// whether it grew a running streak.
func (e *Engine) streakStage(ctx context.Context, p *Progression, userID string, t domain.StreakType, today domain.LocalDate) (changed, extended bool) {
	e.stage(p, StageStreak, userID, func() error {
		upd, err := e.streaks.Record(ctx, userID, t, today)
		if err != nil {
			return err
		}
		p.Streak = &StreakResult{
			Type:             t,
			CurrentCount:     upd.CurrentCount,
			LongestCount:     upd.LongestCount,
			MilestoneCrossed: upd.MilestoneCrossed,
		}
		if upd.MilestoneCrossed > 0 {
			metrics.StreakMilestones.WithLabelValues(string(t)).Inc()
		}
		changed, extended = upd.Changed, upd.Extended()
		return nil
	})
	return changed, extended
}

func (e *Engine) badgeStage(ctx context.Context, p *Progression, userID string, today domain.LocalDate, now time.Time, triggers ...domain.Trigger) {
	e.stage(p, StageBadges, userID, func() error {
		awarded, err := e.badges.Evaluate(ctx, userID, today, now, triggers...)
		for _, def := range awarded {
			metrics.BadgesAwarded.WithLabelValues(string(def.Category)).Inc()
		}
		p.BadgesEarned = append(p.BadgesEarned, awarded...)
		return err
	})
}

func (e *Engine) challengeStage(ctx context.Context, p *Progression, user domain.User, today domain.LocalDate, now time.Time, total int64, events ...ProgressEvent) {
	e.stage(p, StageChallenges, user.ID, func() error {
		if err := e.ensureChallenges(ctx, user, today, total); err != nil {
			return err
		}
		done, err := e.challenges.Apply(ctx, user.ID, today, now, events...)
		for _, ch := range done {
			metrics.ChallengesCompleted.WithLabelValues(string(ch.Type)).Inc()
		}
		p.ChallengesCompleted = append(p.ChallengesCompleted, done...)
		return err
	})
}

// celebrationStage records level-ups, milestones and badges from this pass.
// Completed challenges are recorded inside their own transaction.
func (e *Engine) celebrationStage(ctx context.Context, p *Progression, userID string, now time.Time) {
	e.stage(p, StageCelebrations, userID, func() error {
		var errs []error
		if p.LeveledUp && p.NewLevel != nil {
			errs = append(errs, e.celebrations.LevelUp(ctx, userID, *p.NewLevel, now))
		}
		if p.Streak != nil && p.Streak.MilestoneCrossed > 0 {
			errs = append(errs, e.celebrations.Milestone(ctx, userID, p.Streak.Type, p.Streak.MilestoneCrossed, now))
		}
		for _, def := range p.BadgesEarned {
			errs = append(errs, e.celebrations.Badge(ctx, userID, def, now))
		}
		return errors.Join(errs...)
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (e *Engine) ensureChallenges(ctx context.Context, user domain.User, today domain.LocalDate, total int64) error {
	streaks, err := e.streaks.List(ctx, user.ID)
	if err != nil {
		return err
	}
	elig := Eligibility{Level: LevelFor(total).Number, Streaks: make(map[domain.StreakType]int, len(streaks))}
	for _, st := range streaks {
		if IsAlive(st, today) {
			elig.Streaks[st.Type] = st.CurrentCount
		}
	}
	for _, period := range []domain.ChallengePeriod{domain.ChallengeDaily, domain.ChallengeWeekly} {
		if _, err := e.challenges.EnsureGenerated(ctx, user.ID, period, today, elig); err != nil {
			return fmt.Errorf("generate %s challenges: %w", period, err)
		}
	}
	return nil
}

func (e *Engine) board(ctx context.Context, userID string, today domain.LocalDate) (*ChallengeBoard, error) {
	daily, err := e.challenges.Current(ctx, userID, domain.ChallengeDaily, today)
	if err != nil {
		return nil, fmt.Errorf("list daily challenges: %w", err)
	}
	weekly, err := e.challenges.Current(ctx, userID, domain.ChallengeWeekly, today)
	if err != nil {
		return nil, fmt.Errorf("list weekly challenges: %w", err)
	}
	return &ChallengeBoard{Daily: views(daily), Weekly: views(weekly)}, nil
}

func views(list []domain.UserChallenge) []ChallengeView {
	out := make([]ChallengeView, 0, len(list))
	for _, c := range list {
		out = append(out, ChallengeView{UserChallenge: c, ProgressPct: c.ProgressPct()})
	}
	return out
}

// location resolves the user's zone; an unknown zone falls back to UTC.
func (e *Engine) location(u domain.User) *time.Location {
	loc, err := u.Location()
	if err != nil {
		e.log.Warn("invalid user timezone, using UTC",
			zap.String("user", u.ID), zap.String("timezone", u.Timezone))
	}
	return loc
}
