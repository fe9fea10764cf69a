package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

// LocalStore keeps one serialized profile per key in a SQL table
type LocalStore struct {
	db        *DB
	keyPrefix string
	log       *logger.Logger
}

// NewLocalStore creates a local profile store
func NewLocalStore(db *DB, keyPrefix string, log *logger.Logger) *LocalStore {
	return &LocalStore{db: db, keyPrefix: keyPrefix, log: log}
}

// Key returns the storage key for a user
func (s *LocalStore) Key(userID string) string {
	return s.keyPrefix + userID
}

// Read loads and decodes the profile. A row that fails to decode counts as absent
func (s *LocalStore) Read(ctx context.Context, userID string) (*models.Profile, error) {
	var row models.StoredProfile
	err := s.db.WithContext(ctx).Where("storage_key = ?", s.Key(userID)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var profile models.Profile
	if err := json.Unmarshal([]byte(row.Value), &profile); err != nil {
		s.log.Warn().
			Err(err).
			Str("user_id", userID).
			Msg("Local profile read failed, treating as absent")
		return nil, ErrNotFound
	}
	profile.Normalize()

	return &profile, nil
}

// Upsert serializes the full profile and overwrites the row
func (s *LocalStore) Upsert(ctx context.Context, userID string, profile *models.Profile) error {
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	row := models.StoredProfile{Key: s.Key(userID), Value: string(payload)}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "storage_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Backend implements ProfileStore
func (s *LocalStore) Backend() string {
	return BackendLocal
}

// Close closes the underlying database
func (s *LocalStore) Close() error {
	return s.db.Close()
}
