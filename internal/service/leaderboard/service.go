// Package leaderboard provides household rankings built from stored profiles.
package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/aimd54/homeschool-missions/internal/catalog"
	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/internal/service/persistence"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

// ProfileReader reads a stored profile without creating one
type ProfileReader interface {
	Peek(ctx context.Context, userID string) (*models.Profile, bool, error)
}

// Entry represents a single entry in a leaderboard
type Entry struct {
	UserID            string `json:"user_id"`
	DisplayName       string `json:"display_name"`
	Avatar            string `json:"avatar"`
	Points            int    `json:"points"`
	Streak            int    `json:"streak"`
	CompletedMissions int    `json:"completed_missions"`
	RewardsClaimed    int    `json:"rewards_claimed"`
	Rank              int    `json:"rank"`
}

// Service builds leaderboards over the catalog users
type Service struct {
	profiles ProfileReader
	log      *logger.Logger
}

// NewService creates a new leaderboard service backed by the persistence facade
func NewService(facade *persistence.Facade, log *logger.Logger) *Service {
	return NewServiceWithInterfaces(facade, log)
}

// NewServiceWithInterfaces creates a new leaderboard service with interface dependencies (useful for testing)
func NewServiceWithInterfaces(profiles ProfileReader, log *logger.Logger) *Service {
	return &Service{
		profiles: profiles,
		log:      log,
	}
}

// Valid metrics
const (
	MetricPoints    = "points"
	MetricStreak    = "streak"
	MetricCompleted = "completed_missions"
)

// ValidMetric reports whether metric can rank a leaderboard
func ValidMetric(metric string) bool {
	switch metric {
	case MetricPoints, MetricStreak, MetricCompleted:
		return true
	}
	return false
}

// GetLeaderboard ranks every catalog user by metric. Users who never logged in
// appear with zeroes; users whose profile cannot be read are skipped
func (s *Service) GetLeaderboard(ctx context.Context, metric string, limit int) ([]Entry, error) {
	if !ValidMetric(metric) {
		return nil, fmt.Errorf("invalid metric: %s", metric)
	}

	users := catalog.Users()
	entries := make([]Entry, 0, len(users))
	for _, user := range users {
		entry := Entry{UserID: user.ID, DisplayName: user.DisplayName, Avatar: user.Avatar}

		profile, ok, err := s.profiles.Peek(ctx, user.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to read profile for leaderboard")
			continue
		}
		if ok {
			entry.Points = profile.Points
			entry.Streak = profile.Streak
			entry.CompletedMissions = len(profile.CompletedMissionIDs)
			entry.RewardsClaimed = len(profile.ClaimedRewards)
		}
		entries = append(entries, entry)
	}

	sortLeaderboard(entries, metric)

	for i := range entries {
		entries[i].Rank = i + 1
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

// sortLeaderboard orders by metric, then points, then streak, then display name
func sortLeaderboard(entries []Entry, metric string) {
	value := func(e Entry) int {
		switch metric {
		case MetricStreak:
			return e.Streak
		case MetricCompleted:
			return e.CompletedMissions
		default:
			return e.Points
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		vi, vj := value(entries[i]), value(entries[j])
		if vi != vj {
			return vi > vj
		}
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		if entries[i].Streak != entries[j].Streak {
			return entries[i].Streak > entries[j].Streak
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
}

// GetUserRank returns the rank of a user for a metric
func (s *Service) GetUserRank(ctx context.Context, userID, metric string) (int, error) {
	board, err := s.GetLeaderboard(ctx, metric, 0)
	if err != nil {
		return 0, err
	}

	for _, entry := range board {
		if entry.UserID == userID {
			return entry.Rank, nil
		}
	}

	return 0, fmt.Errorf("user not found in leaderboard")
}
