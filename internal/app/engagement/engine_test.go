package engagement_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cascade-app/cascade/internal/app/engagement"
	"github.com/cascade-app/cascade/internal/domain"
	"github.com/cascade-app/cascade/internal/infra/sqlite"
)

// fakeClock is a settable clock for the engine.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// 2025-07-15 is a Tuesday.
var noonJul15 = time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) (*engagement.Engine, *sqlite.DB, *fakeClock) {
	t.Helper()
	db := testDB(t)
	clock := &fakeClock{t: noonJul15}
	opts := engagement.DefaultOptions()
	opts.Clock = clock.Now
	opts.Rand = rand.New(rand.NewSource(42))
	return engagement.NewEngine(db, opts), db, clock
}

func mustUser(t *testing.T, e *engagement.Engine, id, tz string) {
	t.Helper()
	if _, err := e.CreateUser(context.Background(), id, tz); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func mustTask(t *testing.T, e *engagement.Engine, userID string, p domain.TaskPriority, goalID string) string {
	t.Helper()
	task, err := e.CreateTask(context.Background(), userID, engagement.TaskInput{Title: "task", Priority: p, GoalID: goalID})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task.ID
}

func assertLedgerMatches(t *testing.T, db *sqlite.DB, userID string) {
	t.Helper()
	ctx := context.Background()
	u, err := db.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	sum, err := db.LedgerSum(ctx, userID)
	if err != nil {
		t.Fatalf("ledger sum: %v", err)
	}
	if sum != u.TotalPoints {
		t.Errorf("ledger sum %d != total points %d", sum, u.TotalPoints)
	}
}

func hasBadge(defs []domain.BadgeDef, slug string) bool {
	for _, d := range defs {
		if d.Slug == slug {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// Completion Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestEngine_CompleteTask_Basic(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")
	id := mustTask(t, e, "u1", domain.PriorityPrimary, "")

	res, err := e.CompleteTask(ctx, id)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.PointsEarned != 50 || res.NewTotal != 50 {
		t.Errorf("points=%d total=%d, want 50/50", res.PointsEarned, res.NewTotal)
	}
	if res.LeveledUp {
		t.Error("50 points should not level up")
	}
	if res.Streak != nil {
		t.Error("non-MIT completion must not touch the MIT streak")
	}
	if !hasBadge(res.BadgesEarned, "first_task") {
		t.Errorf("first_task not earned: %+v", res.BadgesEarned)
	}
	if len(res.Degraded) != 0 {
		t.Errorf("unexpected degraded stages: %v", res.Degraded)
	}

	task, _ := e.Task(ctx, id)
	if task.Status != domain.TaskCompleted || task.CompletedOn != "2025-07-15" || task.PointsEarned != 50 {
		t.Errorf("task after completion: %+v", task)
	}
	assertLedgerMatches(t, db, "u1")
}

func TestEngine_CompleteTask_Errors(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	if _, err := e.CompleteTask(ctx, "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("missing task: got %v", err)
	}

	id := mustTask(t, e, "u1", domain.PrioritySecondary, "")
	if _, err := e.CompleteTask(ctx, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.CompleteTask(ctx, id); !errors.Is(err, domain.ErrIllegalStateTransition) {
		t.Errorf("second completion: got %v", err)
	}
}

// Scenario A: a 6-day MIT streak extended today reaches 7, fires the
// milestone once and grants the streak badge.
func TestEngine_ScenarioA_MilestoneOnce(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	if _, err := db.InsertStreak(ctx, domain.Streak{
		UserID: "u1", Type: domain.StreakMIT, CurrentCount: 6, LongestCount: 6,
		LastActionAt: "2025-07-14", IsActive: true,
	}); err != nil {
		t.Fatalf("seed streak: %v", err)
	}

	res, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityMIT, ""))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Streak == nil || res.Streak.CurrentCount != 7 || res.Streak.MilestoneCrossed != 7 {
		t.Fatalf("streak block: %+v", res.Streak)
	}
	// 6-day streak extended: 100 + 6×5% = 130.
	if res.PointsEarned != 130 {
		t.Errorf("points = %d, want 130", res.PointsEarned)
	}
	if !hasBadge(res.BadgesEarned, "mit_streak_7") {
		t.Errorf("mit_streak_7 not granted: %+v", res.BadgesEarned)
	}

	// A second MIT the same day changes nothing streak-wise.
	res2, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityMIT, ""))
	if err != nil {
		t.Fatalf("complete second: %v", err)
	}
	if res2.Streak.CurrentCount != 7 || res2.Streak.MilestoneCrossed != 0 {
		t.Errorf("same-day MIT moved streak: %+v", res2.Streak)
	}
	if res2.PointsEarned != 100 {
		t.Errorf("same-day MIT points = %d, want 100 (no extension)", res2.PointsEarned)
	}
	if hasBadge(res2.BadgesEarned, "mit_streak_7") {
		t.Error("mit_streak_7 granted twice")
	}

	cels, err := e.Celebrations(ctx, "u1", false, 100)
	if err != nil {
		t.Fatalf("celebrations: %v", err)
	}
	milestones := 0
	for _, c := range cels {
		if c.Type == domain.CelebrateMilestone {
			milestones++
		}
	}
	if milestones != 1 {
		t.Errorf("milestone celebrations = %d, want 1", milestones)
	}
}

// Scenario B: complete then undo restores the total exactly and leaves the
// streak alone.
func TestEngine_ScenarioB_Reversible(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	id := mustTask(t, e, "u1", domain.PriorityMIT, "")
	res, err := e.CompleteTask(ctx, id)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.PointsEarned != 100 {
		t.Fatalf("points = %d, want 100", res.PointsEarned)
	}

	undo, err := e.UncompleteTask(ctx, id)
	if err != nil {
		t.Fatalf("uncomplete: %v", err)
	}
	if undo.PointsRemoved != 100 || undo.NewTotal != 0 {
		t.Errorf("undo: %+v", undo)
	}

	st, _, _ := db.GetStreak(ctx, "u1", domain.StreakMIT)
	if st.CurrentCount != 1 {
		t.Errorf("streak after undo = %d, want unchanged 1", st.CurrentCount)
	}

	task, _ := e.Task(ctx, id)
	if task.Status != domain.TaskPending || task.PointsEarned != 0 {
		t.Errorf("task after undo: %+v", task)
	}
	if _, err := e.UncompleteTask(ctx, id); !errors.Is(err, domain.ErrIllegalStateTransition) {
		t.Errorf("double undo: got %v", err)
	}

	// Badges are permanent.
	badges, _ := e.EarnedBadges(ctx, "u1", 0)
	found := false
	for _, b := range badges {
		if b.Slug == "first_mit" {
			found = true
		}
	}
	if !found {
		t.Error("first_mit revoked by undo")
	}
	assertLedgerMatches(t, db, "u1")
}

// Scenario C: two concurrent completions of one task award points once.
func TestEngine_ScenarioC_ConcurrentCompletion(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")
	id := mustTask(t, e, "u1", domain.PriorityPrimary, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.CompleteTask(ctx, id)
		}(i)
	}
	wg.Wait()

	ok, illegal := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrIllegalStateTransition):
			illegal++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || illegal != 1 {
		t.Errorf("ok=%d illegal=%d, want 1/1", ok, illegal)
	}

	u, _ := db.GetUser(ctx, "u1")
	if u.TotalPoints != 50 {
		t.Errorf("total = %d, want 50", u.TotalPoints)
	}
	assertLedgerMatches(t, db, "u1")
}

// Scenario D: a first dashboard load generates exactly one daily and one
// weekly set, all at zero.
func TestEngine_ScenarioD_ChallengeGeneration(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	board, err := e.EnsureChallengesExist(ctx, "u1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(board.Daily) != engagement.DefaultDailyChallenges {
		t.Errorf("daily = %d, want %d", len(board.Daily), engagement.DefaultDailyChallenges)
	}
	if len(board.Weekly) != engagement.DefaultWeeklyChallenges {
		t.Errorf("weekly = %d, want %d", len(board.Weekly), engagement.DefaultWeeklyChallenges)
	}
	for _, c := range append(board.Daily, board.Weekly...) {
		if c.CurrentValue != 0 || c.IsCompleted {
			t.Errorf("fresh challenge %s: value=%d completed=%v", c.Slug, c.CurrentValue, c.IsCompleted)
		}
	}
	if board.Weekly[0].PeriodStart != "2025-07-14" || board.Weekly[0].PeriodEnd != "2025-07-20" {
		t.Errorf("weekly period = %s..%s", board.Weekly[0].PeriodStart, board.Weekly[0].PeriodEnd)
	}

	again, err := e.EnsureChallengesExist(ctx, "u1")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	ids := make(map[string]bool)
	for _, c := range append(board.Daily, board.Weekly...) {
		ids[c.ID] = true
	}
	for _, c := range append(again.Daily, again.Weekly...) {
		if !ids[c.ID] {
			t.Errorf("second call generated new challenge %s", c.Slug)
		}
	}
	if len(again.Daily)+len(again.Weekly) != len(ids) {
		t.Errorf("second call changed set size")
	}
}

func TestEngine_EnsureChallenges_ConcurrentIsIdempotent(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.EnsureChallengesExist(ctx, "u1"); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	n, err := db.CountChallenges(ctx, "u1", domain.ChallengeDaily, "2025-07-15")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != engagement.DefaultDailyChallenges {
		t.Errorf("daily challenges = %d, want %d", n, engagement.DefaultDailyChallenges)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Timezone & Streak Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestEngine_LocalDayBoundary(t *testing.T) {
	e, _, clock := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "America/Los_Angeles")

	// 05:00 UTC on the 16th is still the evening of the 15th in Los Angeles.
	clock.Set(time.Date(2025, 7, 16, 5, 0, 0, 0, time.UTC))
	id := mustTask(t, e, "u1", domain.PriorityMIT, "")
	if _, err := e.CompleteTask(ctx, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	task, _ := e.Task(ctx, id)
	if task.CompletedOn != "2025-07-15" {
		t.Errorf("completed_on = %s, want local 2025-07-15", task.CompletedOn)
	}

	// 08:00 UTC on the 16th is 01:00 local on the 16th: the next local day.
	clock.Set(time.Date(2025, 7, 16, 8, 0, 0, 0, time.UTC))
	res, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityMIT, ""))
	if err != nil {
		t.Fatalf("complete next day: %v", err)
	}
	if res.Streak.CurrentCount != 2 {
		t.Errorf("streak = %d, want 2 across local midnight", res.Streak.CurrentCount)
	}
	if res.PointsEarned != 105 {
		t.Errorf("points = %d, want 105", res.PointsEarned)
	}
}

func TestEngine_StreakBreaksAfterMissedDay(t *testing.T) {
	e, _, clock := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	for _, day := range []int{15, 16} {
		clock.Set(time.Date(2025, 7, day, 12, 0, 0, 0, time.UTC))
		if _, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityMIT, "")); err != nil {
			t.Fatalf("complete day %d: %v", day, err)
		}
	}

	clock.Set(time.Date(2025, 7, 18, 12, 0, 0, 0, time.UTC))
	res, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityMIT, ""))
	if err != nil {
		t.Fatalf("complete after gap: %v", err)
	}
	if res.Streak.CurrentCount != 1 || res.Streak.LongestCount != 2 {
		t.Errorf("after gap: %+v", res.Streak)
	}
	if res.PointsEarned != 100 {
		t.Errorf("points after broken streak = %d, want 100", res.PointsEarned)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Reflection & Action Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestEngine_SubmitCheckin_FirstOfDayOnly(t *testing.T) {
	e, db, clock := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	areas := map[domain.LifeArea]bool{domain.AreaHealth: true, domain.AreaCareer: true}
	res, err := e.SubmitCheckin(ctx, "u1", areas)
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if !res.FirstOfDay || res.PointsEarned != engagement.CheckinPoints || res.AreasChecked != 2 {
		t.Errorf("first checkin: %+v", res)
	}
	if !hasBadge(res.BadgesEarned, "first_checkin") {
		t.Errorf("first_checkin not earned: %+v", res.BadgesEarned)
	}

	areas[domain.AreaGrowth] = true
	res, err = e.SubmitCheckin(ctx, "u1", areas)
	if err != nil {
		t.Fatalf("second checkin: %v", err)
	}
	if res.FirstOfDay || res.PointsEarned != 0 || res.NewTotal != engagement.CheckinPoints {
		t.Errorf("second checkin: %+v", res)
	}
	got, _, _ := db.GetCheckin(ctx, "u1", "2025-07-15")
	if got.CheckedCount() != 3 {
		t.Errorf("flags not updated: %d areas", got.CheckedCount())
	}

	clock.Set(noonJul15.AddDate(0, 0, 1))
	res, err = e.SubmitCheckin(ctx, "u1", areas)
	if err != nil {
		t.Fatalf("next-day checkin: %v", err)
	}
	if res.Streak == nil || res.Streak.CurrentCount != 2 {
		t.Errorf("kaizen streak: %+v", res.Streak)
	}
	if res.NewTotal != 2*engagement.CheckinPoints {
		t.Errorf("total = %d", res.NewTotal)
	}
	assertLedgerMatches(t, db, "u1")

	if _, err := e.SubmitCheckin(ctx, "u1", map[domain.LifeArea]bool{"SLEEP": true}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown area: got %v", err)
	}
}

func TestEngine_RecordAction_OncePerPeriod(t *testing.T) {
	e, _, clock := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	res, err := e.RecordAction(ctx, "u1", domain.ActionWeeklyReview)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !res.Recorded || res.PeriodKey != "2025-07-14" {
		t.Errorf("first review: %+v", res)
	}
	if !hasBadge(res.BadgesEarned, "first_weekly_review") {
		t.Errorf("first_weekly_review not earned: %+v", res.BadgesEarned)
	}

	// Friday of the same week.
	clock.Set(noonJul15.AddDate(0, 0, 3))
	res, err = e.RecordAction(ctx, "u1", domain.ActionWeeklyReview)
	if err != nil {
		t.Fatalf("record again: %v", err)
	}
	if res.Recorded {
		t.Error("second review in the same week was recorded")
	}

	clock.Set(noonJul15.AddDate(0, 0, 7))
	res, err = e.RecordAction(ctx, "u1", domain.ActionWeeklyReview)
	if err != nil {
		t.Fatalf("record next week: %v", err)
	}
	if res.Streak == nil || res.Streak.CurrentCount != 2 {
		t.Errorf("weekly review streak: %+v", res.Streak)
	}

	if _, err := e.RecordAction(ctx, "u1", "DAILY_STANDUP"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown kind: got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Isolation, Stats & Badge Progress Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestEngine_FailingStageDoesNotRollBackPoints(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	// A daily challenge whose slug is no longer in the catalog.
	if err := db.InsertChallenge(ctx, domain.UserChallenge{
		ID: "orphan", UserID: "u1", Type: domain.ChallengeDaily, Slug: "retired_template",
		Title: "Retired", PeriodStart: "2025-07-15", PeriodEnd: "2025-07-15", TargetValue: 1,
	}); err != nil {
		t.Fatalf("seed challenge: %v", err)
	}

	res, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityPrimary, ""))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != engagement.StageChallenges {
		t.Errorf("degraded = %v, want [challenges]", res.Degraded)
	}
	if res.NewTotal != 50 {
		t.Errorf("total = %d, want 50 despite failed stage", res.NewTotal)
	}
	if !hasBadge(res.BadgesEarned, "first_task") {
		t.Error("badge stage should still run")
	}
}

func TestEngine_GetUserStats(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	vision, err := e.CreateGoal(ctx, "u1", engagement.GoalInput{Level: domain.GoalVision, Title: "Thrive", Category: domain.AreaHealth})
	if err != nil {
		t.Fatalf("goal: %v", err)
	}
	for i := 0; i < 3; i++ {
		goalID := ""
		if i < 2 {
			goalID = vision.ID
		}
		if _, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityPrimary, goalID)); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
	}
	if _, err := e.SubmitCheckin(ctx, "u1", map[domain.LifeArea]bool{domain.AreaHealth: true}); err != nil {
		t.Fatalf("checkin: %v", err)
	}

	stats, err := e.GetUserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalPoints != 160 {
		t.Errorf("total = %d, want 160", stats.TotalPoints)
	}
	if stats.Level.Number != 2 {
		t.Errorf("level = %d, want 2", stats.Level.Number)
	}
	if stats.Today.TasksCompleted != 3 || stats.Today.PointsEarned != 160 || !stats.Today.CheckinDone {
		t.Errorf("today = %+v", stats.Today)
	}
	if got := stats.ThisWeek.AlignmentRate.StringFixed(1); got != "66.7" {
		t.Errorf("alignment = %s, want 66.7", got)
	}
	if len(stats.Streaks) != len(domain.StreakTypes) {
		t.Errorf("streaks = %d entries", len(stats.Streaks))
	}
	if len(stats.RecentBadges) == 0 {
		t.Error("expected recent badges")
	}

	if _, err := e.GetUserStats(ctx, "nobody"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("unknown user: got %v", err)
	}
}

func TestEngine_NextBadgeProgress_Sorted(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")
	if _, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityPrimary, "")); err != nil {
		t.Fatalf("complete: %v", err)
	}

	list, err := e.NextBadgeProgress(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	for i, p := range list {
		if p.Slug == "first_task" {
			t.Error("earned badge listed as progress")
		}
		if i == 0 {
			continue
		}
		prev := list[i-1]
		if prev.Percentage < p.Percentage || (prev.Percentage == p.Percentage && prev.Slug > p.Slug) {
			t.Errorf("not sorted at %d: %+v before %+v", i, prev, p)
		}
	}

	top, _ := e.NextBadgeProgress(ctx, "u1", 3)
	if len(top) != 3 {
		t.Errorf("limit 3 returned %d", len(top))
	}
}

func TestEngine_CelebrationsSeen(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")
	if _, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityMIT, "")); err != nil {
		t.Fatalf("complete: %v", err)
	}

	pending, err := e.Celebrations(ctx, "u1", true, 50)
	if err != nil {
		t.Fatalf("celebrations: %v", err)
	}
	if len(pending) == 0 {
		t.Fatal("expected level-up and badge celebrations")
	}
	for _, c := range pending {
		if err := e.MarkCelebrationSeen(ctx, c.ID); err != nil {
			t.Fatalf("mark seen: %v", err)
		}
	}
	pending, _ = e.Celebrations(ctx, "u1", true, 50)
	if len(pending) != 0 {
		t.Errorf("still pending after marking seen: %d", len(pending))
	}
	if err := e.MarkCelebrationSeen(ctx, "nope"); !errors.Is(err, domain.ErrCelebrationNotFound) {
		t.Errorf("unknown celebration: got %v", err)
	}
}

func TestEngine_CreateGoal_ValidatesCascade(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	vision, err := e.CreateGoal(ctx, "u1", engagement.GoalInput{Level: domain.GoalVision, Title: "V"})
	if err != nil {
		t.Fatalf("vision: %v", err)
	}
	if _, err := e.CreateGoal(ctx, "u1", engagement.GoalInput{Level: domain.GoalWeekly, Title: "W", ParentID: vision.ID}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("weekly under vision: got %v", err)
	}
	if _, err := e.CreateGoal(ctx, "u1", engagement.GoalInput{Level: domain.GoalThreeYear, Title: "3", ParentID: vision.ID}); err != nil {
		t.Errorf("3yr under vision: %v", err)
	}
	if _, err := e.CreateUser(ctx, "u2", "Mars/Olympus"); !errors.Is(err, domain.ErrInvalidTimezone) {
		t.Errorf("bad timezone: got %v", err)
	}
}

// allChallengesEngine offers every eligible template each period.
func allChallengesEngine(t *testing.T) (*engagement.Engine, *sqlite.DB) {
	t.Helper()
	db := testDB(t)
	clock := &fakeClock{t: noonJul15}
	opts := engagement.DefaultOptions()
	opts.Clock = clock.Now
	opts.Rand = rand.New(rand.NewSource(42))
	opts.DailyChallenges = 20
	opts.WeeklyChallenges = 20
	return engagement.NewEngine(db, opts), db
}

func findChallenge(t *testing.T, e *engagement.Engine, userID, slug string) engagement.ChallengeView {
	t.Helper()
	board, err := e.Challenges(context.Background(), userID)
	if err != nil {
		t.Fatalf("challenges: %v", err)
	}
	for _, c := range append(board.Daily, board.Weekly...) {
		if c.Slug == slug {
			return c
		}
	}
	t.Fatalf("challenge %s not generated", slug)
	return engagement.ChallengeView{}
}

func TestEngine_SnapshotChallengeStaysCompleted(t *testing.T) {
	e, db := allChallengesEngine(t)
	ctx := context.Background()
	mustUser(t, e, "u1", "UTC")

	mit := mustTask(t, e, "u1", domain.PriorityMIT, "")
	if _, err := e.CompleteTask(ctx, mit); err != nil {
		t.Fatalf("complete mit: %v", err)
	}
	if _, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityPrimary, "")); err != nil {
		t.Fatalf("complete primary: %v", err)
	}

	ch := findChallenge(t, e, "u1", "daily_points_150")
	if !ch.IsCompleted || ch.CurrentValue != 150 {
		t.Fatalf("daily_points_150 after 150 points: %+v", ch.UserChallenge)
	}
	before, _ := db.GetUser(ctx, "u1")

	res, err := e.UncompleteTask(ctx, mit)
	if err != nil {
		t.Fatalf("uncomplete: %v", err)
	}
	if res.NewTotal != 50 {
		t.Fatalf("total after undo = %d, want 50", res.NewTotal)
	}

	ch = findChallenge(t, e, "u1", "daily_points_150")
	if !ch.IsCompleted {
		t.Error("completed snapshot challenge reverted after points dropped")
	}
	if ch.CurrentValue != 150 {
		t.Errorf("completed snapshot value moved: %d, want 150", ch.CurrentValue)
	}
	after, _ := db.GetUser(ctx, "u1")
	if after.BonusXP != before.BonusXP {
		t.Errorf("bonus xp changed on undo: %d -> %d", before.BonusXP, after.BonusXP)
	}

	cels, err := e.Celebrations(ctx, "u1", false, 100)
	if err != nil {
		t.Fatalf("celebrations: %v", err)
	}
	n := 0
	for _, c := range cels {
		if c.Type == domain.CelebrateChallenge && c.Ref == ch.ID {
			n++
		}
	}
	if n != 1 {
		t.Errorf("daily_points_150 celebrated %d times, want 1", n)
	}
}

func TestEngine_KeepStreakChallengeNeedsExtension(t *testing.T) {
	ctx := context.Background()

	t.Run("extended", func(t *testing.T) {
		e, db := allChallengesEngine(t)
		mustUser(t, e, "u1", "UTC")
		if _, err := db.InsertStreak(ctx, domain.Streak{
			UserID: "u1", Type: domain.StreakMIT, CurrentCount: 3, LongestCount: 3,
			LastActionAt: "2025-07-14", IsActive: true,
		}); err != nil {
			t.Fatalf("seed streak: %v", err)
		}
		if _, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityMIT, "")); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if ch := findChallenge(t, e, "u1", "daily_keep_streak"); !ch.IsCompleted {
			t.Errorf("streak extended but challenge open: %+v", ch.UserChallenge)
		}
	})

	t.Run("already extended today", func(t *testing.T) {
		e, db := allChallengesEngine(t)
		mustUser(t, e, "u1", "UTC")
		// Streak already counts today; another MIT does not extend it.
		if _, err := db.InsertStreak(ctx, domain.Streak{
			UserID: "u1", Type: domain.StreakMIT, CurrentCount: 4, LongestCount: 4,
			LastActionAt: "2025-07-15", IsActive: true,
		}); err != nil {
			t.Fatalf("seed streak: %v", err)
		}
		if _, err := e.CompleteTask(ctx, mustTask(t, e, "u1", domain.PriorityMIT, "")); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if ch := findChallenge(t, e, "u1", "daily_keep_streak"); ch.IsCompleted || ch.CurrentValue != 0 {
			t.Errorf("MIT without extension credited the streak challenge: %+v", ch.UserChallenge)
		}
		if ch := findChallenge(t, e, "u1", "daily_mit"); !ch.IsCompleted {
			t.Errorf("daily_mit should still complete: %+v", ch.UserChallenge)
		}
	})
}
