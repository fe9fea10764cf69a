// Package models defines the profile record shared by the state machine and the stores.
package models

import (
	"fmt"
	"time"
)

// ReviewStatus is the parent's decision on a submitted mission
type ReviewStatus string

// Review statuses
const (
	ReviewSubmitted ReviewStatus = "submitted"
	ReviewApproved  ReviewStatus = "approved"
	ReviewPending   ReviewStatus = "pending"
	// ReviewRejected only appears in records written by older clients
	ReviewRejected ReviewStatus = "rejected"
)

// Decidable reports whether a parent may set this status
func (s ReviewStatus) Decidable() bool {
	return s == ReviewApproved || s == ReviewPending
}

// Label returns the friendly label shown next to a review
func (s ReviewStatus) Label() string {
	switch s {
	case ReviewRejected:
		return "Returned"
	case ReviewPending:
		return "Needs Work"
	case ReviewApproved:
		return "Celebrated"
	default:
		return "Submitted"
	}
}

// ReviewSubmission records a completed mission sent for parental review
type ReviewSubmission struct {
	MissionID   string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"detail"`
	Status      ReviewStatus `json:"status"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

// ClaimedReward is one entry of the append-only reward log
type ClaimedReward struct {
	RewardID  string    `json:"id"`
	Title     string    `json:"title"`
	Cost      int       `json:"cost"`
	ClaimedAt time.Time `json:"at"`
}

// Profile is the durable per-user record
type Profile struct {
	Points              int                `json:"points"`
	CompletedMissionIDs []string           `json:"completedMissionIds"`
	ReviewSubmissions   []ReviewSubmission `json:"reviewSubmissions"`
	ClaimedRewards      []ClaimedReward    `json:"claimedRewards"`
	Streak              int                `json:"streak"`
	LastEarnedAt        *time.Time         `json:"lastEarnedAt,omitempty"`
	LastLogin           time.Time          `json:"lastLogin"`
	DisplayName         string             `json:"displayName"`
}

// NewDefaultProfile builds the seed profile for a user's first login
func NewDefaultProfile(displayName string, startingPoints int, now time.Time) *Profile {
	return &Profile{
		Points:              startingPoints,
		CompletedMissionIDs: []string{},
		ReviewSubmissions:   []ReviewSubmission{},
		ClaimedRewards:      []ClaimedReward{},
		LastLogin:           now,
		DisplayName:         displayName,
	}
}

// Clone returns a deep copy
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.CompletedMissionIDs = append([]string{}, p.CompletedMissionIDs...)
	c.ReviewSubmissions = append([]ReviewSubmission{}, p.ReviewSubmissions...)
	c.ClaimedRewards = append([]ClaimedReward{}, p.ClaimedRewards...)
	if p.LastEarnedAt != nil {
		t := *p.LastEarnedAt
		c.LastEarnedAt = &t
	}
	return &c
}

// HasCompleted reports whether the mission was already credited
func (p *Profile) HasCompleted(missionID string) bool {
	for _, id := range p.CompletedMissionIDs {
		if id == missionID {
			return true
		}
	}
	return false
}

// Review returns the index of the review for missionID, or -1
func (p *Profile) Review(missionID string) int {
	for i := range p.ReviewSubmissions {
		if p.ReviewSubmissions[i].MissionID == missionID {
			return i
		}
	}
	return -1
}

// Validate checks the record invariants
func (p *Profile) Validate() error {
	if p.Points < 0 {
		return fmt.Errorf("points must not be negative, got %d", p.Points)
	}
	if p.Streak < 0 {
		return fmt.Errorf("streak must not be negative, got %d", p.Streak)
	}
	seen := make(map[string]bool, len(p.CompletedMissionIDs))
	for _, id := range p.CompletedMissionIDs {
		if seen[id] {
			return fmt.Errorf("mission %q completed more than once", id)
		}
		seen[id] = true
	}
	reviewed := make(map[string]bool, len(p.ReviewSubmissions))
	for _, r := range p.ReviewSubmissions {
		if reviewed[r.MissionID] {
			return fmt.Errorf("mission %q has more than one review", r.MissionID)
		}
		reviewed[r.MissionID] = true
	}
	return nil
}

// Normalize repairs a stored record so it satisfies Validate: nil collections
// become empty, duplicate missions and reviews keep their first entry, and
// negative counters are clamped to zero
func (p *Profile) Normalize() {
	if p.Points < 0 {
		p.Points = 0
	}
	if p.Streak < 0 {
		p.Streak = 0
	}

	completed := make([]string, 0, len(p.CompletedMissionIDs))
	seen := make(map[string]bool, len(p.CompletedMissionIDs))
	for _, id := range p.CompletedMissionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		completed = append(completed, id)
	}
	p.CompletedMissionIDs = completed

	reviews := make([]ReviewSubmission, 0, len(p.ReviewSubmissions))
	reviewed := make(map[string]bool, len(p.ReviewSubmissions))
	for _, r := range p.ReviewSubmissions {
		if reviewed[r.MissionID] {
			continue
		}
		reviewed[r.MissionID] = true
		reviews = append(reviews, r)
	}
	p.ReviewSubmissions = reviews

	if p.ClaimedRewards == nil {
		p.ClaimedRewards = []ClaimedReward{}
	}
}

// StoredProfile is the local key-value row holding a serialized profile
type StoredProfile struct {
	Key       string    `gorm:"column:storage_key;primaryKey;size:255" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for StoredProfile model
func (StoredProfile) TableName() string {
	return "stored_profiles"
}
