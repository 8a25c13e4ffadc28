package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/cascade-app/cascade/internal/domain"
	"github.com/cascade-app/cascade/internal/infra/sqlite"
)

// streakMilestones are the lengths that trigger a one-time celebration.
var streakMilestones = []int{7, 14, 30, 60, 90, 180, 365}

// StreakMilestones returns the milestone thresholds in ascending order.
func StreakMilestones() []int {
	out := make([]int, len(streakMilestones))
	copy(out, streakMilestones)
	return out
}

// DefaultAtRiskHour is the local hour from which an unextended streak is "at risk".
const DefaultAtRiskHour = 15

// StreakService manages per-(user, type) streaks.
// A step counts once per cadence period (local day for daily types).
// Same-period events are no-ops; a gap of more than one period resets to 1.
type StreakService struct {
	db         *sqlite.DB
	atRiskHour int
}

// NewStreakService creates a streak service.
func NewStreakService(db *sqlite.DB) *StreakService {
	return &StreakService{db: db, atRiskHour: DefaultAtRiskHour}
}

// SetAtRiskHour changes where the afternoon/evening at-risk window starts.
func (s *StreakService) SetAtRiskHour(hour int) {
	if hour >= 0 && hour < 24 {
		s.atRiskHour = hour
	}
}

// Get loads one streak; a never-started streak comes back zeroed.
func (s *StreakService) Get(ctx context.Context, userID string, t domain.StreakType) (domain.Streak, error) {
	st, _, err := s.db.GetStreak(ctx, userID, t)
	if err != nil {
		return st, fmt.Errorf("get streak %s: %w", t, err)
	}
	return st, nil
}

// List returns one entry per streak type, zeroed for types never started.
func (s *StreakService) List(ctx context.Context, userID string) ([]domain.Streak, error) {
	rows, err := s.db.ListStreaks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list streaks: %w", err)
	}
	byType := make(map[domain.StreakType]domain.Streak, len(rows))
	for _, r := range rows {
		byType[r.Type] = r
	}
	out := make([]domain.Streak, 0, len(domain.StreakTypes))
	for _, t := range domain.StreakTypes {
		st, ok := byType[t]
		if !ok {
			st = domain.Streak{UserID: userID, Type: t}
		}
		out = append(out, st)
	}
	return out, nil
}

// Record applies a qualifying event on local date on.
// The row is created lazily; losing a creation race re-applies the event
// to the winner's row.
func (s *StreakService) Record(ctx context.Context, userID string, t domain.StreakType, on domain.LocalDate) (domain.StreakUpdate, error) {
	var upd domain.StreakUpdate
	err := s.db.InTx(ctx, func(tx *sqlite.DB) error {
		cur, exists, err := tx.GetStreak(ctx, userID, t)
		if err != nil {
			return err
		}

		next, changed := Advance(cur, on)
		upd = updateFrom(cur, next, changed)
		if !changed {
			return nil
		}

		if exists {
			return tx.UpdateStreak(ctx, next)
		}

		created, err := tx.InsertStreak(ctx, next)
		if err != nil {
			return err
		}
		if created {
			return nil
		}

		// Another writer created the row first: apply on top of theirs.
		cur, _, err = tx.GetStreak(ctx, userID, t)
		if err != nil {
			return err
		}
		next, changed = Advance(cur, on)
		upd = updateFrom(cur, next, changed)
		if !changed {
			return nil
		}
		return tx.UpdateStreak(ctx, next)
	})
	if err != nil {
		return domain.StreakUpdate{}, fmt.Errorf("record streak %s: %w", t, err)
	}
	return upd, nil
}

// AtRisk reports whether a streak is at risk at instant now in loc:
// count > 1, not yet extended this period, inside the evening window.
// A read-only projection; never stored.
func (s *StreakService) AtRisk(st domain.Streak, now time.Time, loc *time.Location) bool {
	return streakAtRisk(st, now, loc, s.atRiskHour)
}

// Advance applies one qualifying event at local date on. Pure.
//   - no prior action         → count = 1
//   - same period             → unchanged
//   - previous period         → count + 1
//   - older than previous     → count = 1
//
// Events dated before the last action are ignored.
func Advance(st domain.Streak, on domain.LocalDate) (domain.Streak, bool) {
	if st.LastActionAt.IsZero() {
		st.CurrentCount = 1
	} else {
		gap := periodsBetween(st.Type.Cadence(), st.LastActionAt, on)
		switch {
		case gap <= 0:
			return st, false
		case gap == 1:
			st.CurrentCount++
		default:
			st.CurrentCount = 1
		}
	}

	st.LastActionAt = on
	st.IsActive = true
	if st.CurrentCount > st.LongestCount {
		st.LongestCount = st.CurrentCount
	}
	return st, true
}

// ExtendsStreak returns the count an event on date on would extend, or 0
// when the event would start, restart or leave the streak unchanged.
func ExtendsStreak(st domain.Streak, on domain.LocalDate) int {
	if st.LastActionAt.IsZero() || st.CurrentCount == 0 {
		return 0
	}
	if periodsBetween(st.Type.Cadence(), st.LastActionAt, on) != 1 {
		return 0
	}
	return st.CurrentCount
}

// IsAlive reports whether the streak can still be extended on date on.
func IsAlive(st domain.Streak, on domain.LocalDate) bool {
	if st.LastActionAt.IsZero() || st.CurrentCount == 0 {
		return false
	}
	return periodsBetween(st.Type.Cadence(), st.LastActionAt, on) <= 1
}

// MilestoneCrossed returns the milestone passed going from before to after,
// or 0. Derived on the same call, never persisted.
func MilestoneCrossed(before, after int) int {
	crossed := 0
	for _, m := range streakMilestones {
		if before < m && after >= m {
			crossed = m
		}
	}
	return crossed
}

func updateFrom(before, after domain.Streak, changed bool) domain.StreakUpdate {
	upd := domain.StreakUpdate{
		Type:         after.Type,
		Before:       before.CurrentCount,
		CurrentCount: after.CurrentCount,
		LongestCount: after.LongestCount,
		Changed:      changed,
	}
	if changed {
		upd.MilestoneCrossed = MilestoneCrossed(before.CurrentCount, after.CurrentCount)
	}
	return upd
}

func streakAtRisk(st domain.Streak, now time.Time, loc *time.Location, startHour int) bool {
	if st.CurrentCount <= 1 || st.LastActionAt.IsZero() {
		return false
	}
	local := now.In(loc)
	today := domain.DateOf(now, loc)
	cad := st.Type.Cadence()
	if periodsBetween(cad, st.LastActionAt, today) == 0 {
		return false
	}
	if local.Hour() < startHour {
		return false
	}
	// Weekly and monthly streaks are only at risk on the last day of their period.
	switch cad {
	case domain.CadenceWeekly:
		return today == today.WeekEnd()
	case domain.CadenceMonthly:
		return today.AddDays(1).MonthStart() != today.MonthStart()
	}
	return true
}

// periodsBetween counts cadence periods from a to b (negative if b < a).
func periodsBetween(c domain.Cadence, a, b domain.LocalDate) int {
	switch c {
	case domain.CadenceWeekly:
		return b.WeekStart().DaysSince(a.WeekStart()) / 7
	case domain.CadenceMonthly:
		return b.MonthsSince(a)
	}
	return b.DaysSince(a)
}

// periodStart returns the first day of the cadence period containing d.
func periodStart(c domain.Cadence, d domain.LocalDate) domain.LocalDate {
	switch c {
	case domain.CadenceWeekly:
		return d.WeekStart()
	case domain.CadenceMonthly:
		return d.MonthStart()
	}
	return d
}
