package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aimd54/homeschool-missions/internal/config"
	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

// RemoteStore keeps each profile as a document: one Redis hash per user whose
// fields hold the JSON encoding of the profile's top-level fields
type RemoteStore struct {
	client    *redis.Client
	namespace string
	log       *logger.Logger
}

// NewRedisClient builds the document store client from credentials
func NewRedisClient(cfg *config.RemoteConfig) *redis.Client {
	creds := cfg.Credentials
	return redis.NewClient(&redis.Options{
		Addr:         creds.AuthDomain,
		Password:     creds.APIKey,
		DB:           creds.Database(),
		ClientName:   creds.AppID,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})
}

// NewRemoteStore creates a document store adapter. namespace is usually the project id
func NewRemoteStore(client *redis.Client, namespace string, log *logger.Logger) *RemoteStore {
	return &RemoteStore{client: client, namespace: namespace, log: log}
}

// Key returns the document key for a user
func (s *RemoteStore) Key(userID string) string {
	return fmt.Sprintf("%s:profiles:%s", s.namespace, userID)
}

// Ping checks connectivity
func (s *RemoteStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Read fetches the document. Fields the profile does not know are ignored
func (s *RemoteStore) Read(ctx context.Context, userID string) (*models.Profile, error) {
	fields, err := s.client.HGetAll(ctx, s.Key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile document: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	doc := make(map[string]json.RawMessage, len(fields))
	for name, value := range fields {
		if !json.Valid([]byte(value)) {
			return nil, fmt.Errorf("profile document field %q is not valid JSON", name)
		}
		doc[name] = json.RawMessage(value)
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble profile document: %w", err)
	}

	var profile models.Profile
	if err := json.Unmarshal(encoded, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile document: %w", err)
	}
	profile.Normalize()

	return &profile, nil
}

// Upsert merge-writes the profile: every field in the write is set, fields
// already in the document but absent from the write are left alone
func (s *RemoteStore) Upsert(ctx context.Context, userID string, profile *models.Profile) error {
	values, err := documentFields(profile)
	if err != nil {
		return err
	}

	if err := s.client.HSet(ctx, s.Key(userID), values).Err(); err != nil {
		return fmt.Errorf("failed to write profile document: %w", err)
	}
	return nil
}

// Backend implements ProfileStore
func (s *RemoteStore) Backend() string {
	return BackendRemote
}

// Close closes the client
func (s *RemoteStore) Close() error {
	return s.client.Close()
}

func documentFields(profile *models.Profile) (map[string]interface{}, error) {
	encoded, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("failed to split profile fields: %w", err)
	}

	values := make(map[string]interface{}, len(doc))
	for name, raw := range doc {
		values[name] = string(raw)
	}
	return values, nil
}
