// Package repository provides the profile store adapters: a remote document store
// backed by Redis hashes and a local key-value table backed by GORM
package repository

import (
	"context"
	"errors"

	"github.com/aimd54/homeschool-missions/internal/models"
)

// Backend names
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// ErrNotFound is returned by Read when no usable record exists for the user
var ErrNotFound = errors.New("profile not found")

// ProfileStore is the read/upsert contract both backends implement
type ProfileStore interface {
	// Read returns the stored profile or ErrNotFound
	Read(ctx context.Context, userID string) (*models.Profile, error)
	// Upsert writes the profile. The remote backend merges fields, the local backend overwrites
	Upsert(ctx context.Context, userID string, profile *models.Profile) error
	// Backend names the store for logs and metrics
	Backend() string
	Close() error
}
