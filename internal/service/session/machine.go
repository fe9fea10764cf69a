// Package session implements the profile state machine driven by one household
// member's intents, plus the registry that hosts many such sessions
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimd54/homeschool-missions/internal/catalog"
	prommetrics "github.com/aimd54/homeschool-missions/internal/metrics"
	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

// PinLength is the number of digits in a PIN
const PinLength = 4

// Misuse errors. Business rejections are reported through Outcome instead
var (
	ErrWrongState             = errors.New("operation not allowed in current state")
	ErrUnknownUser            = errors.New("unknown user")
	ErrUnknownMission         = errors.New("unknown mission")
	ErrUnknownReward          = errors.New("unknown reward")
	ErrInvalidDigit           = errors.New("pin digit must be 0-9")
	ErrPinIncomplete          = errors.New("pin must have 4 digits")
	ErrInvalidStatus          = errors.New("review status must be approved or pending")
	ErrReviewWorkflowDisabled = errors.New("review workflow is disabled")
	ErrProfileNotLoaded       = errors.New("profile not loaded")
)

// User-facing messages
const (
	msgRetryPin         = "Try again. You can do it."
	msgAlreadyCompleted = "Already celebrated this one."
	msgInsufficient     = "Almost there. A few more XP will get it."
	msgApproved         = "Great job! Marked as celebrated."
	msgPending          = "Sent back for a small tweak. You got this!"
	msgLoadFailed       = "Could not load profile. Check storage config."
)

// State is the machine's position in the login flow
type State int

// States
const (
	StateUnauthenticated State = iota
	StatePinEntry
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StatePinEntry:
		return "pin_entry"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Rejection explains why a well-formed intent left the profile unchanged
type Rejection string

// Rejections
const (
	RejectNone               Rejection = ""
	RejectWrongPin           Rejection = "wrong_pin"
	RejectAlreadyCompleted   Rejection = "already_completed"
	RejectInsufficientPoints Rejection = "insufficient_points"
	RejectLoadFailed         Rejection = "load_failed"
)

// Outcome is what a transition reports back to the presentation layer
type Outcome struct {
	Message   string    `json:"message,omitempty"`
	Changed   bool      `json:"changed"`
	Rejection Rejection `json:"rejection,omitempty"`
	Effects   []Effect  `json:"effects,omitempty"`
}

// ProfileStore is the persistence the machine needs
type ProfileStore interface {
	Load(ctx context.Context, user catalog.User) (*models.Profile, error)
	SaveAsync(userID string, profile *models.Profile) <-chan error
	Backend() string
}

// Notifier receives fire-and-forget parent notifications. Implementations must not block
type Notifier interface {
	MissionSubmitted(user catalog.User, mission catalog.Mission)
	RewardClaimed(user catalog.User, reward catalog.Reward, remaining int)
}

type nopNotifier struct{}

func (nopNotifier) MissionSubmitted(catalog.User, catalog.Mission) {}
func (nopNotifier) RewardClaimed(catalog.User, catalog.Reward, int) {}

// Machine holds one session's state. It is not safe for concurrent use;
// the Manager serializes access per session
type Machine struct {
	state          State
	selected       *catalog.User
	pin            string
	profile        *models.Profile
	status         string
	soundEnabled   bool
	reviewWorkflow bool

	store    ProfileStore
	notifier Notifier
	now      func() time.Time
	log      *logger.Logger
}

// Option configures a Machine
type Option func(*Machine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithReviewWorkflow toggles the parent review workflow (on by default)
func WithReviewWorkflow(enabled bool) Option {
	return func(m *Machine) { m.reviewWorkflow = enabled }
}

// WithNotifier sets the parent notifier
func WithNotifier(n Notifier) Option {
	return func(m *Machine) {
		if n != nil {
			m.notifier = n
		}
	}
}

// NewMachine creates a machine in the unauthenticated state with sound on
func NewMachine(store ProfileStore, log *logger.Logger, opts ...Option) *Machine {
	m := &Machine{
		state:          StateUnauthenticated,
		soundEnabled:   true,
		reviewWorkflow: true,
		store:          store,
		notifier:       nopNotifier{},
		now:            time.Now,
		log:            log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Profile returns a copy of the in-memory profile, or nil
func (m *Machine) Profile() *models.Profile {
	return m.profile.Clone()
}

// SelectUser picks the member whose PIN will be entered next
func (m *Machine) SelectUser(userID string) (Outcome, error) {
	if m.state == StateAuthenticated {
		return Outcome{}, fmt.Errorf("%w: log out before selecting another user", ErrWrongState)
	}
	user, ok := catalog.UserByID(userID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	m.selected = &user
	m.pin = ""
	m.state = StatePinEntry

	return Outcome{Changed: true, Effects: m.effects(nil, SoundClick)}, nil
}

// EnterDigit appends a digit to the PIN buffer. Digits past the fourth are ignored
func (m *Machine) EnterDigit(digit string) (Outcome, error) {
	if m.state != StatePinEntry {
		return Outcome{}, fmt.Errorf("%w: no user selected", ErrWrongState)
	}
	if len(digit) != 1 || digit[0] < '0' || digit[0] > '9' {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidDigit, digit)
	}
	if len(m.pin) >= PinLength {
		return Outcome{}, nil
	}

	m.pin += digit
	return Outcome{Changed: true}, nil
}

// Backspace removes the last PIN digit
func (m *Machine) Backspace() (Outcome, error) {
	if m.state != StatePinEntry {
		return Outcome{}, fmt.Errorf("%w: no user selected", ErrWrongState)
	}
	if m.pin == "" {
		return Outcome{}, nil
	}

	m.pin = m.pin[:len(m.pin)-1]
	return Outcome{Changed: true}, nil
}

// SubmitPin compares the buffer with the selected user's PIN. On a match the
// session becomes authenticated and the profile is hydrated, seeding it if absent.
// A failed hydration keeps the session authenticated without a profile
func (m *Machine) SubmitPin(ctx context.Context) (Outcome, error) {
	if m.state != StatePinEntry {
		return Outcome{}, fmt.Errorf("%w: no user selected", ErrWrongState)
	}
	if len(m.pin) != PinLength {
		return Outcome{}, ErrPinIncomplete
	}

	entered := m.pin
	m.pin = ""

	if entered != m.selected.PIN {
		prommetrics.RecordPinAttempt("mismatch")
		m.status = msgRetryPin
		return Outcome{
			Message:   msgRetryPin,
			Rejection: RejectWrongPin,
			Effects:   m.effects(nil, SoundClick),
		}, nil
	}

	prommetrics.RecordPinAttempt("success")
	m.state = StateAuthenticated
	m.log.Info().Str("user_id", m.selected.ID).Msg("User logged in")

	if out, ok := m.hydrate(ctx); !ok {
		return out, nil
	}
	return Outcome{
		Message: m.status,
		Changed: true,
		Effects: m.effects(PaletteLogin, SoundReward),
	}, nil
}

// Refresh reloads the profile from storage, e.g. after a failed hydration
func (m *Machine) Refresh(ctx context.Context) (Outcome, error) {
	if m.state != StateAuthenticated {
		return Outcome{}, fmt.Errorf("%w: not logged in", ErrWrongState)
	}
	if out, ok := m.hydrate(ctx); !ok {
		return out, nil
	}
	return Outcome{Message: m.status, Changed: true}, nil
}

func (m *Machine) hydrate(ctx context.Context) (Outcome, bool) {
	profile, err := m.store.Load(ctx, *m.selected)
	if err != nil {
		m.log.Error().Err(err).Str("user_id", m.selected.ID).Msg("Profile hydration failed")
		m.status = msgLoadFailed
		return Outcome{Message: msgLoadFailed, Changed: true, Rejection: RejectLoadFailed}, false
	}

	m.profile = profile
	m.status = fmt.Sprintf("Ready, %s!", m.selected.DisplayName)
	return Outcome{}, true
}

// CompleteMission credits a mission once: adds its XP, records it, submits it
// for review and extends the streak. A repeat completion changes nothing
func (m *Machine) CompleteMission(missionID string) (Outcome, error) {
	if err := m.requireProfile(); err != nil {
		return Outcome{}, err
	}
	mission, ok := catalog.MissionByID(missionID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownMission, missionID)
	}

	if m.profile.HasCompleted(mission.ID) {
		m.status = msgAlreadyCompleted
		return Outcome{Message: msgAlreadyCompleted, Rejection: RejectAlreadyCompleted}, nil
	}

	now := m.now()
	next := m.profile.Clone()
	next.Points += mission.XP
	next.CompletedMissionIDs = append(next.CompletedMissionIDs, mission.ID)
	submitted := false
	if m.reviewWorkflow && next.Review(mission.ID) < 0 {
		next.ReviewSubmissions = append(next.ReviewSubmissions, models.ReviewSubmission{
			MissionID:   mission.ID,
			Title:       mission.Title,
			Description: mission.Description,
			Status:      models.ReviewSubmitted,
			LastUpdated: now,
		})
		submitted = true
	}
	next.Streak++
	next.LastEarnedAt = &now

	if err := m.commit(next); err != nil {
		return Outcome{}, err
	}

	prommetrics.RecordMissionCompleted(mission.ID)
	if submitted {
		m.notifier.MissionSubmitted(*m.selected, mission)
	}

	m.status = fmt.Sprintf("+%d XP for %s! Great effort.", mission.XP, mission.Title)
	return Outcome{
		Message: m.status,
		Changed: true,
		Effects: m.effects(PaletteMission, SoundReward),
	}, nil
}

// ReviewDecision records a parent's decision on a submitted mission.
// A mission without a submission is left alone
func (m *Machine) ReviewDecision(missionID string, status models.ReviewStatus) (Outcome, error) {
	if !m.reviewWorkflow {
		return Outcome{}, ErrReviewWorkflowDisabled
	}
	if err := m.requireProfile(); err != nil {
		return Outcome{}, err
	}
	if !status.Decidable() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	idx := m.profile.Review(missionID)
	if idx < 0 {
		return Outcome{}, nil
	}

	next := m.profile.Clone()
	next.ReviewSubmissions[idx].Status = status
	next.ReviewSubmissions[idx].LastUpdated = m.now()

	if err := m.commit(next); err != nil {
		return Outcome{}, err
	}
	prommetrics.RecordReviewDecision(string(status))

	out := Outcome{Changed: true}
	if status == models.ReviewApproved {
		out.Message = msgApproved
		out.Effects = m.effects(nil, SoundReward)
	} else {
		out.Message = msgPending
		out.Effects = m.effects(nil, SoundClick)
	}
	m.status = out.Message
	return out, nil
}

// PurchaseReward spends points on a reward. Purchases the balance cannot cover
// are refused, never clamped
func (m *Machine) PurchaseReward(rewardID string) (Outcome, error) {
	if err := m.requireProfile(); err != nil {
		return Outcome{}, err
	}
	reward, ok := catalog.RewardByID(rewardID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownReward, rewardID)
	}

	if m.profile.Points < reward.Cost {
		prommetrics.RecordRewardRejected(reward.ID)
		m.status = msgInsufficient
		return Outcome{
			Message:   msgInsufficient,
			Rejection: RejectInsufficientPoints,
			Effects:   m.effects(nil, SoundClick),
		}, nil
	}

	next := m.profile.Clone()
	next.Points -= reward.Cost
	next.ClaimedRewards = append(next.ClaimedRewards, models.ClaimedReward{
		RewardID:  reward.ID,
		Title:     reward.Title,
		Cost:      reward.Cost,
		ClaimedAt: m.now(),
	})

	if err := m.commit(next); err != nil {
		return Outcome{}, err
	}

	prommetrics.RecordRewardClaimed(reward.ID)
	m.notifier.RewardClaimed(*m.selected, reward, next.Points)

	m.status = fmt.Sprintf("%s claimed! Enjoy your reward.", reward.Title)
	return Outcome{
		Message: m.status,
		Changed: true,
		Effects: m.effects(PaletteReward, SoundReward),
	}, nil
}

// Logout drops the selection and the in-memory profile. Stored data is kept
func (m *Machine) Logout() Outcome {
	if m.state == StateAuthenticated {
		m.log.Info().Str("user_id", m.selected.ID).Msg("User logged out")
	}
	m.state = StateUnauthenticated
	m.selected = nil
	m.profile = nil
	m.pin = ""
	m.status = ""
	return Outcome{Changed: true}
}

// ToggleSound flips sound cues on or off
func (m *Machine) ToggleSound() Outcome {
	m.soundEnabled = !m.soundEnabled
	return Outcome{Changed: true}
}

func (m *Machine) requireProfile() error {
	if m.state != StateAuthenticated {
		return fmt.Errorf("%w: not logged in", ErrWrongState)
	}
	if m.profile == nil {
		return ErrProfileNotLoaded
	}
	return nil
}

// commit makes next the authoritative profile and dispatches a best-effort write.
// The in-memory result stands whatever the write does
func (m *Machine) commit(next *models.Profile) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("refusing invalid profile: %w", err)
	}
	m.profile = next
	m.store.SaveAsync(m.selected.ID, next)
	return nil
}
