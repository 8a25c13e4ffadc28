package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cascade-app/cascade/internal/domain"
	"github.com/cascade-app/cascade/internal/infra/sqlite"
)

// CelebrationService keeps the server-side "has the user seen X" feed:
// level-ups, streak milestones, badges and completed challenges.
// Each moment is recorded once and shown until marked seen.
type CelebrationService struct {
	db *sqlite.DB
}

// NewCelebrationService creates a celebration feed.
func NewCelebrationService(db *sqlite.DB) *CelebrationService {
	return &CelebrationService{db: db}
}

// Record stores one celebration.
func (c *CelebrationService) Record(ctx context.Context, userID string, typ domain.CelebrationType, title, ref string, at time.Time) (domain.Celebration, error) {
	cel := newCelebration(userID, typ, title, ref, at)
	if err := c.db.InsertCelebration(ctx, cel); err != nil {
		return domain.Celebration{}, fmt.Errorf("insert celebration: %w", err)
	}
	return cel, nil
}

// LevelUp records reaching a new level.
func (c *CelebrationService) LevelUp(ctx context.Context, userID string, lvl domain.Level, at time.Time) error {
	_, err := c.Record(ctx, userID, domain.CelebrateLevelUp,
		fmt.Sprintf("Level %d: %s", lvl.Number, lvl.Title), fmt.Sprintf("level:%d", lvl.Number), at)
	return err
}

// Milestone records a streak crossing a milestone.
func (c *CelebrationService) Milestone(ctx context.Context, userID string, t domain.StreakType, milestone int, at time.Time) error {
	_, err := c.Record(ctx, userID, domain.CelebrateMilestone,
		fmt.Sprintf("%d-period %s streak", milestone, streakLabel(t)), fmt.Sprintf("streak:%s:%d", t, milestone), at)
	return err
}

// Badge records a newly earned badge.
func (c *CelebrationService) Badge(ctx context.Context, userID string, def domain.BadgeDef, at time.Time) error {
	_, err := c.Record(ctx, userID, domain.CelebrateBadge, "Badge earned: "+def.Name, "badge:"+def.Slug, at)
	return err
}

// Pending returns unseen celebrations, newest first.
func (c *CelebrationService) Pending(ctx context.Context, userID string, limit int) ([]domain.Celebration, error) {
	return c.db.ListCelebrations(ctx, userID, true, limit)
}

// All returns recent celebrations, seen or not.
func (c *CelebrationService) All(ctx context.Context, userID string, limit int) ([]domain.Celebration, error) {
	return c.db.ListCelebrations(ctx, userID, false, limit)
}

// MarkSeen flags a celebration as shown. Returns domain.ErrCelebrationNotFound
// for an unknown ID.
func (c *CelebrationService) MarkSeen(ctx context.Context, id string) error {
	return c.db.MarkCelebrationSeen(ctx, id)
}

func newCelebration(userID string, typ domain.CelebrationType, title, ref string, at time.Time) domain.Celebration {
	return domain.Celebration{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Ref:       ref,
		CreatedAt: at,
	}
}

func streakLabel(t domain.StreakType) string {
	switch t {
	case domain.StreakMIT:
		return "MIT"
	case domain.StreakDailyPlanning:
		return "planning"
	case domain.StreakKaizen:
		return "reflection"
	case domain.StreakWeeklyReview:
		return "weekly review"
	case domain.StreakMonthlyReview:
		return "monthly review"
	}
	return string(t)
}
