package engagement

import (
	"sort"

	"github.com/cascade-app/cascade/internal/domain"
)

// levelTable is the fixed ascending (level, pointsRequired) table.
// Level is always max{L : L.PointsRequired ≤ totalPoints}.
var levelTable = []domain.Level{
	{Number: 1, Title: "Dreamer", PointsRequired: 0},
	{Number: 2, Title: "Planner", PointsRequired: 100},
	{Number: 3, Title: "Starter", PointsRequired: 300},
	{Number: 4, Title: "Doer", PointsRequired: 600},
	{Number: 5, Title: "Builder", PointsRequired: 1000},
	{Number: 6, Title: "Achiever", PointsRequired: 1600},
	{Number: 7, Title: "Finisher", PointsRequired: 2500},
	{Number: 8, Title: "Strategist", PointsRequired: 3800},
	{Number: 9, Title: "Navigator", PointsRequired: 5500},
	{Number: 10, Title: "Pathfinder", PointsRequired: 8000},
	{Number: 11, Title: "Trailblazer", PointsRequired: 11500},
	{Number: 12, Title: "Architect", PointsRequired: 16000},
	{Number: 13, Title: "Visionary", PointsRequired: 22000},
	{Number: 14, Title: "Master", PointsRequired: 32000},
	{Number: 15, Title: "Legend", PointsRequired: 50000},
}

// Levels returns a copy of the level table.
func Levels() []domain.Level {
	out := make([]domain.Level, len(levelTable))
	copy(out, levelTable)
	return out
}

// MaxLevel is the highest reachable level.
func MaxLevel() int { return levelTable[len(levelTable)-1].Number }

// LevelFor returns the highest level whose threshold is ≤ points.
// Negative totals map to level 1.
func LevelFor(points int64) domain.Level {
	// First index whose threshold exceeds points; the one before it is ours.
	i := sort.Search(len(levelTable), func(i int) bool {
		return levelTable[i].PointsRequired > points
	})
	if i == 0 {
		return levelTable[0]
	}
	return levelTable[i-1]
}

// PointsToNextLevel returns points remaining until the next level (0 at max).
func PointsToNextLevel(points int64) int64 {
	cur := LevelFor(points)
	if cur.Number >= MaxLevel() {
		return 0
	}
	remaining := levelTable[cur.Number].PointsRequired - points
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// LevelProgressPct returns progress toward the next level (0.0–100.0).
func LevelProgressPct(points int64) float64 {
	cur := LevelFor(points)
	if cur.Number >= MaxLevel() {
		return 100.0
	}
	next := levelTable[cur.Number]
	span := next.PointsRequired - cur.PointsRequired
	if span <= 0 {
		return 100.0
	}
	progress := float64(points-cur.PointsRequired) / float64(span) * 100.0
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return progress
}

// LevelChange compares the level before and after one awarding write.
// Both totals must come from the same write, never from separate reads.
func LevelChange(before, after int64) (newLevel domain.Level, leveledUp bool) {
	prev := LevelFor(before)
	next := LevelFor(after)
	return next, next.Number > prev.Number
}

// LevelView is the level block returned in stats.
type LevelView struct {
	domain.Level
	PointsToNext int64   `json:"points_to_next"`
	ProgressPct  float64 `json:"progress_pct"`
}

// ViewLevel builds the level block for a total.
func ViewLevel(points int64) LevelView {
	return LevelView{
		Level:        LevelFor(points),
		PointsToNext: PointsToNextLevel(points),
		ProgressPct:  LevelProgressPct(points),
	}
}
