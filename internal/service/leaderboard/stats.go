package leaderboard

import (
	"context"
	"fmt"

	"github.com/aimd54/homeschool-missions/internal/catalog"
	"github.com/aimd54/homeschool-missions/internal/models"
)

// UserStats summarises one member's progress
type UserStats struct {
	UserID            string `json:"user_id"`
	DisplayName       string `json:"display_name"`
	Points            int    `json:"points"`
	Streak            int    `json:"streak"`
	CompletedMissions int    `json:"completed_missions"`
	RemainingMissions int    `json:"remaining_missions"`
	XPEarned          int    `json:"xp_earned"`
	PointsSpent       int    `json:"points_spent"`
	RewardsClaimed    int    `json:"rewards_claimed"`
	ApprovedReviews   int    `json:"approved_reviews"`
	PendingReviews    int    `json:"pending_reviews"`
	Rank              int    `json:"rank"`
}

// GetUserStats returns progress statistics for a catalog user
func (s *Service) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	user, ok := catalog.UserByID(userID)
	if !ok {
		return nil, fmt.Errorf("unknown user: %s", userID)
	}

	profile, found, err := s.profiles.Peek(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	stats := &UserStats{
		UserID:            user.ID,
		DisplayName:       user.DisplayName,
		RemainingMissions: len(catalog.Missions()),
	}
	if found {
		fillStats(stats, profile)
	}

	rank, err := s.GetUserRank(ctx, userID, MetricPoints)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to get user rank")
	}
	stats.Rank = rank

	return stats, nil
}

func fillStats(stats *UserStats, profile *models.Profile) {
	stats.Points = profile.Points
	stats.Streak = profile.Streak
	stats.CompletedMissions = len(profile.CompletedMissionIDs)

	for _, id := range profile.CompletedMissionIDs {
		if mission, ok := catalog.MissionByID(id); ok {
			stats.XPEarned += mission.XP
			stats.RemainingMissions--
		}
	}
	for _, r := range profile.ClaimedRewards {
		stats.PointsSpent += r.Cost
	}
	stats.RewardsClaimed = len(profile.ClaimedRewards)

	for _, r := range profile.ReviewSubmissions {
		switch r.Status {
		case models.ReviewApproved:
			stats.ApprovedReviews++
		case models.ReviewPending:
			stats.PendingReviews++
		}
	}
}
