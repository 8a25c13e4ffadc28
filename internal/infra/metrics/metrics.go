// Package metrics provides Prometheus metrics for Cascade.
// Counters for points, levels, streaks, badges and challenges, plus the
// failure counter for post-commit progression stages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Points & Levels ────────────────────────────────────────────────────────

// PointsAwarded tracks points credited, by source.
var PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "points_awarded_total",
	Help:      "Total points credited.",
}, []string{"source"})

// PointsReversed tracks points removed by un-completing tasks.
var PointsReversed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "points_reversed_total",
	Help:      "Total points removed by task reversals.",
})

// TasksCompleted tracks completions by priority.
var TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "tasks_completed_total",
	Help:      "Total completed tasks.",
}, []string{"priority"})

// LevelUps tracks level-up events.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "level_ups_total",
	Help:      "Total level-ups.",
})

// ─── Streaks, Badges, Challenges ────────────────────────────────────────────

// StreakMilestones tracks milestones crossed, by streak type.
var StreakMilestones = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "streak_milestones_total",
	Help:      "Total streak milestones crossed.",
}, []string{"type"})

// BadgesAwarded tracks badges earned, by category.
var BadgesAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "badges_awarded_total",
	Help:      "Total badges earned.",
}, []string{"category"})

// ChallengesCompleted tracks completed challenges, by period.
var ChallengesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "challenges_completed_total",
	Help:      "Total challenges completed.",
}, []string{"period"})

// ─── Failures ───────────────────────────────────────────────────────────────

// SubsystemFailures tracks post-commit stage failures. Points are never
// rolled back when one of these fires.
var SubsystemFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "subsystem_failures_total",
	Help:      "Post-commit progression stage failures by subsystem.",
}, []string{"subsystem"})

// StageLatency tracks how long each progression stage takes.
var StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "cascade",
	Name:      "stage_latency_seconds",
	Help:      "Progression stage duration in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
}, []string{"stage"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "cascade",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// RateLimited tracks API requests rejected by the rate limiter.
var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cascade",
	Name:      "api_rate_limited_total",
	Help:      "Total API requests rejected with 429.",
})
