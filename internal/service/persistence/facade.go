// Package persistence selects one profile store at startup and exposes a uniform
// load/save contract, including best-effort asynchronous writes
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aimd54/homeschool-missions/internal/catalog"
	"github.com/aimd54/homeschool-missions/internal/config"
	prommetrics "github.com/aimd54/homeschool-missions/internal/metrics"
	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/internal/repository"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

var (
	// ErrLoadFailed is the generic "could not load" signal
	ErrLoadFailed = errors.New("could not load profile")
	// ErrSaveFailed is the generic "could not save" signal
	ErrSaveFailed = errors.New("could not save profile")
)

// asyncWriteTimeout bounds a background write so shutdown cannot hang on it
const asyncWriteTimeout = 30 * time.Second

// Facade is the only path from sessions to durable storage
type Facade struct {
	store          repository.ProfileStore
	startingPoints int
	now            func() time.Time
	log            *logger.Logger
	inflight       sync.WaitGroup

	slotsMu sync.Mutex
	slots   map[string]*writeSlot
}

// writeSlot orders one user's background writes. A snapshot older than the
// last one written is dropped
type writeSlot struct {
	mu      sync.Mutex
	issued  uint64
	written uint64
}

// Option configures a Facade
type Option func(*Facade)

// WithClock overrides the time source used when seeding profiles
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// New picks the backend once: remote when the credentials are valid, local otherwise.
// The unused store is closed
func New(cfg *config.Config, remote, local repository.ProfileStore, log *logger.Logger, opts ...Option) (*Facade, error) {
	chosen, unused := local, remote
	if cfg.Storage.Remote.Credentials.Valid() {
		chosen, unused = remote, local
	}
	if chosen == nil {
		return nil, fmt.Errorf("no %s profile store available", selectedBackend(cfg))
	}
	if unused != nil {
		_ = unused.Close()
	}

	f := &Facade{
		store:          chosen,
		startingPoints: cfg.Profile.StartingPoints,
		now:            time.Now,
		log:            log.Component("persistence"),
		slots:          make(map[string]*writeSlot),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.log.Info().
		Str("backend", chosen.Backend()).
		Msg("Profile store selected")

	return f, nil
}

// Open builds only the store the credentials select and wraps it in a Facade
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Facade, error) {
	if cfg.Storage.Remote.Credentials.Valid() {
		creds := cfg.Storage.Remote.Credentials
		remote := repository.NewRemoteStore(repository.NewRedisClient(&cfg.Storage.Remote), creds.ProjectID, log)
		if err := remote.Ping(ctx); err != nil {
			// Selection is fixed for the process; a dead store only costs durability
			log.Warn().Err(err).Str("auth_domain", creds.AuthDomain).Msg("Document store unreachable at startup")
		}
		log.Info().
			Str("project_id", creds.ProjectID).
			Str("sender_id", creds.MessagingSenderID).
			Msg("Using remote document store")
		return New(cfg, remote, nil, log)
	}

	db, err := repository.NewDB(&cfg.Storage.Local, log)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}
	log.Warn().Msg("Document store credentials are placeholders, using local saves")
	return New(cfg, nil, repository.NewLocalStore(db, cfg.Storage.Local.KeyPrefix, log), log)
}

func selectedBackend(cfg *config.Config) string {
	if cfg.Storage.Remote.Credentials.Valid() {
		return repository.BackendRemote
	}
	return repository.BackendLocal
}

// Backend names the selected store
func (f *Facade) Backend() string {
	return f.store.Backend()
}

// RemoteEnabled reports whether profiles sync to the document store
func (f *Facade) RemoteEnabled() bool {
	return f.store.Backend() == repository.BackendRemote
}

// Load reads the user's profile, seeding and storing a default one when absent
func (f *Facade) Load(ctx context.Context, user catalog.User) (*models.Profile, error) {
	profile, err := f.store.Read(ctx, user.ID)
	switch {
	case err == nil:
		prommetrics.RecordProfileLoad(f.Backend(), "hit")
		profile.Normalize()
		return profile, nil
	case errors.Is(err, repository.ErrNotFound):
		// seeded below
	default:
		prommetrics.RecordProfileLoad(f.Backend(), "error")
		f.log.Error().
			Err(err).
			Str("user_id", user.ID).
			Str("backend", f.Backend()).
			Msg("Profile read failed")
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	seed := models.NewDefaultProfile(user.DisplayName, f.startingPoints, f.now())
	if err := f.store.Upsert(ctx, user.ID, seed); err != nil {
		prommetrics.RecordProfileLoad(f.Backend(), "error")
		f.log.Error().
			Err(err).
			Str("user_id", user.ID).
			Str("backend", f.Backend()).
			Msg("Profile seed write failed")
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	prommetrics.RecordProfileLoad(f.Backend(), "seeded")
	f.log.Info().
		Str("user_id", user.ID).
		Int("starting_points", f.startingPoints).
		Msg("Seeded new profile")

	return seed.Clone(), nil
}

// Peek reads a profile without seeding. ok is false when none is stored
func (f *Facade) Peek(ctx context.Context, userID string) (profile *models.Profile, ok bool, err error) {
	profile, err = f.store.Read(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	profile.Normalize()
	return profile, true, nil
}

// Save writes the profile synchronously
func (f *Facade) Save(ctx context.Context, userID string, profile *models.Profile) error {
	if err := f.store.Upsert(ctx, userID, profile); err != nil {
		prommetrics.RecordProfileWrite(f.Backend(), "error")
		f.log.Error().
			Err(err).
			Str("user_id", userID).
			Str("backend", f.Backend()).
			Msg("Profile save failed")
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	prommetrics.RecordProfileWrite(f.Backend(), "ok")
	return nil
}

// SaveAsync writes a snapshot of the profile in the background and returns
// immediately. The returned channel yields the write's result once; callers
// may ignore it. A failed write is logged and otherwise dropped. When writes
// for one user overlap, the most recent snapshot wins
func (f *Facade) SaveAsync(userID string, profile *models.Profile) <-chan error {
	snapshot := profile.Clone()
	done := make(chan error, 1)
	slot, seq := f.nextWrite(userID)

	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		defer close(done)

		slot.mu.Lock()
		defer slot.mu.Unlock()
		if seq < slot.written {
			f.log.Debug().Str("user_id", userID).Msg("Skipping superseded profile write")
			done <- nil
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		err := f.Save(ctx, userID, snapshot)
		if err == nil {
			slot.written = seq
		}
		done <- err
	}()

	return done
}

func (f *Facade) nextWrite(userID string) (*writeSlot, uint64) {
	f.slotsMu.Lock()
	defer f.slotsMu.Unlock()

	slot, ok := f.slots[userID]
	if !ok {
		slot = &writeSlot{}
		f.slots[userID] = slot
	}
	slot.issued++
	return slot, slot.issued
}

// Wait blocks until all background writes finish
func (f *Facade) Wait() {
	f.inflight.Wait()
}

// Close waits for pending writes and releases the store
func (f *Facade) Close() error {
	f.Wait()
	return f.store.Close()
}
