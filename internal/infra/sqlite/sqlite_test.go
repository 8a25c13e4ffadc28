package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-app/cascade/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err, "Open()")
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestUser(t *testing.T, db *DB, id string) {
	t.Helper()
	require.NoError(t, db.CreateUser(context.Background(), domain.User{ID: id, Timezone: "UTC"}))
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(dir, "cascade.db"))
	assert.NoError(t, err, "cascade.db should exist")
	assert.NoError(t, db.Ping())
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	newTestUser(t, db, "u1")
	db.Close()

	db, err = Open(dir)
	require.NoError(t, err, "reopen")
	defer db.Close()
	u, err := db.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "UTC", u.Timezone)
}

// ─── Users & Ledger ─────────────────────────────────────────────────────────

func TestUsers_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, domain.User{ID: "u1"}))
	u, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "UTC", u.Timezone, "empty timezone defaults to UTC")
	assert.Zero(t, u.TotalPoints)
	assert.Zero(t, u.BonusXP)

	_, err = db.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	require.NoError(t, db.SetUserTimezone(ctx, "u1", "Asia/Tokyo"))
	u, _ = db.GetUser(ctx, "u1")
	assert.Equal(t, "Asia/Tokyo", u.Timezone)
	assert.ErrorIs(t, db.SetUserTimezone(ctx, "ghost", "UTC"), domain.ErrUserNotFound)
}

func TestUsers_AddPointsReturnsBeforeAfter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	before, after, err := db.AddPoints(ctx, "u1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), before)
	assert.Equal(t, int64(100), after)

	before, after, err = db.AddPoints(ctx, "u1", -25)
	require.NoError(t, err)
	assert.Equal(t, int64(100), before)
	assert.Equal(t, int64(75), after)

	_, _, err = db.AddPoints(ctx, "ghost", 10)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUsers_BonusXPSeparateFromPoints(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	require.NoError(t, db.AddBonusXP(ctx, "u1", 50))
	u, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), u.BonusXP)
	assert.Zero(t, u.TotalPoints)
}

func TestLedger_SumAndEntries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	sum, err := db.LedgerSum(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, sum, "empty ledger sums to zero")

	for _, amt := range []int64{100, 50, -100} {
		_, _, err := db.AddPoints(ctx, "u1", amt)
		require.NoError(t, err)
		_, err = db.InsertLedgerEntry(ctx, domain.LedgerEntry{
			UserID: "u1", Source: domain.SourceTaskCompleted, SourceID: "t", Amount: amt,
		})
		require.NoError(t, err)
	}

	sum, err = db.LedgerSum(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), sum)

	entries, err := db.LedgerEntries(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-100), entries[0].Amount, "newest first")
}

// ─── Transactions ───────────────────────────────────────────────────────────

func TestInTx_RollbackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	boom := errors.New("boom")
	err := db.InTx(ctx, func(tx *DB) error {
		if _, _, err := tx.AddPoints(ctx, "u1", 500); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, _ := db.GetUser(ctx, "u1")
	assert.Zero(t, u.TotalPoints, "rolled back")
}

func TestInTx_NestedReusesTransaction(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	err := db.InTx(ctx, func(tx *DB) error {
		return tx.InTx(ctx, func(inner *DB) error {
			_, _, err := inner.AddPoints(ctx, "u1", 10)
			return err
		})
	})
	require.NoError(t, err)
	u, _ := db.GetUser(ctx, "u1")
	assert.Equal(t, int64(10), u.TotalPoints)
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func TestTasks_CompletionTransitionsOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	require.NoError(t, db.InsertTask(ctx, domain.Task{
		ID: "t1", UserID: "u1", Title: "x", Priority: domain.PriorityMIT,
		Status: domain.TaskPending, ScheduledDate: "2025-07-15",
	}))

	now := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	ok, err := db.MarkTaskCompleted(ctx, "t1", now, "2025-07-15", 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.MarkTaskCompleted(ctx, "t1", now, "2025-07-15", 100)
	require.NoError(t, err)
	assert.False(t, ok, "second completion must not match")

	task, err := db.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	assert.Equal(t, domain.LocalDate("2025-07-15"), task.CompletedOn)
	assert.Equal(t, int64(100), task.PointsEarned)

	pts, err := db.PointsEarnedBetween(ctx, "u1", "2025-07-15", "2025-07-15")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pts)

	n, err := db.CountCompletedTasks(ctx, "u1", domain.PriorityMIT)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err = db.MarkTaskPending(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	task, _ = db.GetTask(ctx, "t1")
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Zero(t, task.PointsEarned)
	assert.True(t, task.CompletedOn.IsZero())

	ok, err = db.MarkTaskPending(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok, "pending task cannot be uncompleted")

	_, err = db.GetTask(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTasks_ListCompletedByLocalDate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	days := []domain.LocalDate{"2025-07-13", "2025-07-14", "2025-07-15"}
	for i, d := range days {
		id := string(rune('a' + i))
		require.NoError(t, db.InsertTask(ctx, domain.Task{
			ID: id, UserID: "u1", Title: id, Priority: domain.PrioritySecondary,
			Status: domain.TaskPending, ScheduledDate: d,
		}))
		_, err := db.MarkTaskCompleted(ctx, id, time.Now(), d, 25)
		require.NoError(t, err)
	}

	got, err := db.ListCompletedTasks(ctx, "u1", "2025-07-14", "2025-07-15")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	n, err := db.CountScheduledTasks(ctx, "u1", "2025-07-15")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ─── Streaks ────────────────────────────────────────────────────────────────

func TestStreaks_InsertOnceThenUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	_, ok, err := db.GetStreak(ctx, "u1", domain.StreakMIT)
	require.NoError(t, err)
	assert.False(t, ok, "never started")

	s := domain.Streak{UserID: "u1", Type: domain.StreakMIT, CurrentCount: 1, LongestCount: 1, LastActionAt: "2025-07-15", IsActive: true}
	created, err := db.InsertStreak(ctx, s)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.InsertStreak(ctx, s)
	require.NoError(t, err)
	assert.False(t, created, "second insert loses the race")

	s.CurrentCount, s.LongestCount, s.LastActionAt = 2, 2, "2025-07-16"
	require.NoError(t, db.UpdateStreak(ctx, s))

	got, ok, err := db.GetStreak(ctx, "u1", domain.StreakMIT)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.CurrentCount)
	assert.Equal(t, domain.LocalDate("2025-07-16"), got.LastActionAt)

	list, err := db.ListStreaks(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// ─── Badges, Check-ins & Actions ────────────────────────────────────────────

func TestBadges_InsertIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	now := time.Now()
	first, err := db.InsertEarnedBadge(ctx, "u1", "first_task", now)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := db.InsertEarnedBadge(ctx, "u1", "first_task", now)
	require.NoError(t, err)
	assert.False(t, again)

	has, err := db.HasBadge(ctx, "u1", "first_task")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = db.InsertEarnedBadge(ctx, "u1", "first_mit", now)
	require.NoError(t, err)
	list, err := db.ListEarnedBadges(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "first_mit", list[0].Slug, "newest first")
}

func TestCheckins_FirstInsertThenUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	c := domain.KaizenCheckin{UserID: "u1", Date: "2025-07-15", PointsEarned: 10,
		Areas: map[domain.LifeArea]bool{domain.AreaHealth: true}}
	first, err := db.UpsertCheckin(ctx, c)
	require.NoError(t, err)
	assert.True(t, first)

	c.Areas = map[domain.LifeArea]bool{}
	for _, a := range domain.LifeAreas {
		c.Areas[a] = true
	}
	first, err = db.UpsertCheckin(ctx, c)
	require.NoError(t, err)
	assert.False(t, first)

	got, ok, err := db.GetCheckin(ctx, "u1", "2025-07-15")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6, got.CheckedCount())
	assert.Equal(t, int64(10), got.PointsEarned)

	full, err := db.CountCheckins(ctx, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), full)

	_, ok, err = db.GetCheckin(ctx, "u1", "2025-07-16")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActions_OncePerPeriod(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	ok, err := db.InsertAction(ctx, "u1", domain.ActionWeeklyReview, "2025-07-14", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.InsertAction(ctx, "u1", domain.ActionWeeklyReview, "2025-07-14", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := db.CountActions(ctx, "u1", domain.ActionWeeklyReview)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ─── Challenges ─────────────────────────────────────────────────────────────

func TestChallenges_UniquePerPeriod(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	c := domain.UserChallenge{ID: "c1", UserID: "u1", Type: domain.ChallengeDaily, Slug: "daily_mit",
		Title: "MIT", PeriodStart: "2025-07-15", PeriodEnd: "2025-07-15", TargetValue: 2, BonusXP: 15}
	require.NoError(t, db.InsertChallenge(ctx, c))

	c.ID = "c2"
	err := db.InsertChallenge(ctx, c)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err), "same slug and period must conflict: %v", err)

	n, err := db.CountChallenges(ctx, "u1", domain.ChallengeDaily, "2025-07-15")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	missing, err := db.GetChallenge(ctx, "c2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChallenges_CreditsAndCompletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")
	now := time.Now()

	require.NoError(t, db.InsertChallenge(ctx, domain.UserChallenge{ID: "c1", UserID: "u1",
		Type: domain.ChallengeDaily, Slug: "daily_complete_3", Title: "3",
		PeriodStart: "2025-07-15", PeriodEnd: "2025-07-15", TargetValue: 2}))

	credited, err := db.AddChallengeCredit(ctx, "c1", "task:a", now)
	require.NoError(t, err)
	assert.True(t, credited)
	credited, err = db.AddChallengeCredit(ctx, "c1", "task:a", now)
	require.NoError(t, err)
	assert.False(t, credited, "a source counts once")

	v, ok, err := db.IncrementChallenge(ctx, "c1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), v)

	done, err := db.CompleteChallenge(ctx, "c1", now)
	require.NoError(t, err)
	assert.False(t, done, "below target")

	_, _, err = db.IncrementChallenge(ctx, "c1", 1)
	require.NoError(t, err)
	done, err = db.CompleteChallenge(ctx, "c1", now)
	require.NoError(t, err)
	assert.True(t, done)
	done, err = db.CompleteChallenge(ctx, "c1", now)
	require.NoError(t, err)
	assert.False(t, done, "completion flips once")

	_, ok, err = db.IncrementChallenge(ctx, "c1", 1)
	require.NoError(t, err)
	assert.False(t, ok, "completed challenges are frozen")
	changed, err := db.SetChallengeValue(ctx, "c1", 0)
	require.NoError(t, err)
	assert.False(t, changed)

	open, err := db.ListOpenChallenges(ctx, "u1", domain.ChallengeDaily, "2025-07-15")
	require.NoError(t, err)
	assert.Empty(t, open)
	all, err := db.ListChallenges(ctx, "u1", domain.ChallengeDaily, "2025-07-15")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsCompleted)
	assert.Equal(t, int64(2), all[0].CurrentValue)
}

// ─── Celebrations ───────────────────────────────────────────────────────────

func TestCelebrations_SeenFlag(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	require.NoError(t, db.InsertCelebration(ctx, domain.Celebration{
		ID: "cel1", UserID: "u1", Type: domain.CelebrateLevelUp, Title: "Level 2",
	}))

	pending, err := db.ListCelebrations(ctx, "u1", true, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, db.MarkCelebrationSeen(ctx, "cel1"))
	pending, err = db.ListCelebrations(ctx, "u1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := db.ListCelebrations(ctx, "u1", false, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Seen)

	assert.ErrorIs(t, db.MarkCelebrationSeen(ctx, "nope"), domain.ErrCelebrationNotFound)
}

// ─── Goals ──────────────────────────────────────────────────────────────────

func TestGoals_InsertListStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newTestUser(t, db, "u1")

	require.NoError(t, db.InsertGoal(ctx, domain.Goal{ID: "v", UserID: "u1", Level: domain.GoalVision,
		Title: "V", Status: domain.GoalActive, Category: domain.AreaHealth}))
	require.NoError(t, db.InsertGoal(ctx, domain.Goal{ID: "y3", UserID: "u1", ParentID: "v",
		Level: domain.GoalThreeYear, Title: "3", Status: domain.GoalActive}))

	g, err := db.GetGoal(ctx, "y3")
	require.NoError(t, err)
	assert.Equal(t, "v", g.ParentID)

	require.NoError(t, db.SetGoalStatus(ctx, "y3", domain.GoalArchived))
	list, err := db.ListGoals(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = db.GetGoal(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrGoalNotFound)
}
