package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/homeschool-missions/internal/catalog"
	"github.com/aimd54/homeschool-missions/internal/config"
	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/internal/repository"
	"github.com/aimd54/homeschool-missions/internal/service/persistence"
	"github.com/aimd54/homeschool-missions/pkg/logger"
	"github.com/aimd54/homeschool-missions/test/mocks"
)

var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu        sync.Mutex
	submitted []string
	claimed   []string
}

func (n *recordingNotifier) MissionSubmitted(user catalog.User, mission catalog.Mission) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, user.ID+":"+mission.ID)
}

func (n *recordingNotifier) RewardClaimed(user catalog.User, reward catalog.Reward, remaining int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.claimed = append(n.claimed, user.ID+":"+reward.ID)
}

type fixture struct {
	machine  *Machine
	facade   *persistence.Facade
	store    *mocks.MockStore
	notifier *recordingNotifier
}

func setupMachine(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	log := logger.New("debug", "text", "discard")
	store := mocks.NewMockStore(repository.BackendLocal)
	cfg := &config.Config{Profile: config.ProfileConfig{StartingPoints: catalog.DefaultStartingPoints}}
	facade, err := persistence.New(cfg, nil, store, log, persistence.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	all := append([]Option{WithClock(func() time.Time { return testNow }), WithNotifier(notifier)}, opts...)
	return &fixture{
		machine:  NewMachine(facade, log, all...),
		facade:   facade,
		store:    store,
		notifier: notifier,
	}
}

func enterPin(t *testing.T, m *Machine, pin string) {
	t.Helper()
	for _, d := range pin {
		_, err := m.EnterDigit(string(d))
		require.NoError(t, err)
	}
}

func login(t *testing.T, f *fixture, userID, pin string) Outcome {
	t.Helper()
	_, err := f.machine.SelectUser(userID)
	require.NoError(t, err)
	enterPin(t, f.machine, pin)
	out, err := f.machine.SubmitPin(context.Background())
	require.NoError(t, err)
	return out
}

func TestInitialState(t *testing.T) {
	f := setupMachine(t)
	assert.Equal(t, StateUnauthenticated, f.machine.State())
	assert.Nil(t, f.machine.Profile())
}

func TestSelectUser(t *testing.T) {
	f := setupMachine(t)

	out, err := f.machine.SelectUser("student1")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, StatePinEntry, f.machine.State())
	assert.Equal(t, []Effect{{Kind: EffectSound, Sound: SoundClick}}, out.Effects)

	enterPin(t, f.machine, "12")
	_, err = f.machine.SelectUser("mom")
	require.NoError(t, err)
	assert.Equal(t, 0, f.machine.Snapshot().PinLength, "selecting clears prior input")
	assert.Equal(t, "mom", f.machine.Snapshot().SelectedUser.ID)

	_, err = f.machine.SelectUser("grandma")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestPinBuffer(t *testing.T) {
	f := setupMachine(t)

	_, err := f.machine.EnterDigit("1")
	assert.ErrorIs(t, err, ErrWrongState)
	_, err = f.machine.Backspace()
	assert.ErrorIs(t, err, ErrWrongState)

	_, err = f.machine.SelectUser("dad")
	require.NoError(t, err)

	_, err = f.machine.EnterDigit("x")
	assert.ErrorIs(t, err, ErrInvalidDigit)
	_, err = f.machine.EnterDigit("12")
	assert.ErrorIs(t, err, ErrInvalidDigit)

	enterPin(t, f.machine, "12345")
	assert.Equal(t, 4, f.machine.Snapshot().PinLength, "digits beyond four are ignored")

	out, err := f.machine.EnterDigit("9")
	require.NoError(t, err)
	assert.False(t, out.Changed)

	_, err = f.machine.Backspace()
	require.NoError(t, err)
	assert.Equal(t, 3, f.machine.Snapshot().PinLength)

	for i := 0; i < 5; i++ {
		_, err = f.machine.Backspace()
		require.NoError(t, err)
	}
	assert.Equal(t, 0, f.machine.Snapshot().PinLength)
}

func TestSubmitPin_RequiresFourDigits(t *testing.T) {
	f := setupMachine(t)

	_, err := f.machine.SubmitPin(context.Background())
	assert.ErrorIs(t, err, ErrWrongState)

	_, err = f.machine.SelectUser("student1")
	require.NoError(t, err)
	enterPin(t, f.machine, "123")

	_, err = f.machine.SubmitPin(context.Background())
	assert.ErrorIs(t, err, ErrPinIncomplete)
	assert.Equal(t, StatePinEntry, f.machine.State())
	assert.Equal(t, 3, f.machine.Snapshot().PinLength)
}

func TestSubmitPin_Mismatch(t *testing.T) {
	f := setupMachine(t)

	out := login(t, f, "student1", "4321")
	assert.Equal(t, RejectWrongPin, out.Rejection)
	assert.Equal(t, "Try again. You can do it.", out.Message)
	assert.False(t, out.Changed)
	assert.Equal(t, StatePinEntry, f.machine.State())
	assert.Equal(t, 0, f.machine.Snapshot().PinLength)
	assert.Nil(t, f.store.Get("student1"), "no hydration on mismatch")

	// No lockout: the next correct attempt succeeds.
	enterPin(t, f.machine, "1234")
	_, err := f.machine.SubmitPin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, f.machine.State())
}

func TestSubmitPin_PinCheckTable(t *testing.T) {
	tests := []struct {
		pin  string
		want State
	}{
		{"1234", StateAuthenticated},
		{"1235", StatePinEntry},
		{"0000", StatePinEntry},
		{"4321", StatePinEntry},
	}
	for _, tt := range tests {
		t.Run(tt.pin, func(t *testing.T) {
			f := setupMachine(t)
			login(t, f, "mom", tt.pin)
			assert.Equal(t, tt.want, f.machine.State())
			assert.Equal(t, 0, f.machine.Snapshot().PinLength)
		})
	}
}

func TestSubmitPin_SeedsProfile(t *testing.T) {
	f := setupMachine(t)

	out := login(t, f, "student1", "1234")
	assert.Equal(t, "Ready, Explorer!", out.Message)
	assert.True(t, out.Changed)
	assert.Equal(t, StateAuthenticated, f.machine.State())
	require.Len(t, out.Effects, 2)
	assert.Equal(t, PaletteLogin, out.Effects[0].Palette)

	p := f.machine.Profile()
	require.NotNil(t, p)
	assert.Equal(t, 220, p.Points)
	assert.Equal(t, "Explorer", p.DisplayName)
	assert.NotNil(t, f.store.Get("student1"))
}

func TestSubmitPin_LoadsExistingProfile(t *testing.T) {
	f := setupMachine(t)
	existing := models.NewDefaultProfile("Mom", 220, testNow)
	existing.Points = 15
	f.store.Put("mom", existing)

	login(t, f, "mom", "1234")
	assert.Equal(t, 15, f.machine.Profile().Points)
}

func TestSubmitPin_RepairsInconsistentStoredProfile(t *testing.T) {
	f := setupMachine(t)
	broken := models.NewDefaultProfile("Explorer", 220, testNow)
	broken.CompletedMissionIDs = []string{"kindness", "kindness"}
	broken.ReviewSubmissions = []models.ReviewSubmission{
		{MissionID: "kindness", Status: models.ReviewSubmitted},
		{MissionID: "kindness", Status: models.ReviewApproved},
	}
	broken.Streak = -3
	f.store.Put("student1", broken)

	login(t, f, "student1", "1234")
	require.NotNil(t, f.machine.Profile())

	out, err := f.machine.PurchaseReward("song")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 160, f.machine.Profile().Points)

	out, err = f.machine.CompleteMission("math-sprint")
	require.NoError(t, err)
	assert.True(t, out.Changed)

	out, err = f.machine.CompleteMission("kindness")
	require.NoError(t, err)
	assert.Equal(t, RejectAlreadyCompleted, out.Rejection)

	f.facade.Wait()
	stored := f.store.Get("student1")
	require.NoError(t, stored.Validate())
	assert.Equal(t, []string{"kindness", "math-sprint"}, stored.CompletedMissionIDs)
	assert.Len(t, stored.ReviewSubmissions, 2)
	assert.Equal(t, 1, stored.Streak)
}

func TestSubmitPin_HydrationFailure(t *testing.T) {
	f := setupMachine(t)
	f.store.FailReads(true)

	out := login(t, f, "dad", "1234")
	assert.Equal(t, RejectLoadFailed, out.Rejection)
	assert.Equal(t, "Could not load profile. Check storage config.", out.Message)
	assert.Equal(t, StateAuthenticated, f.machine.State())
	assert.Nil(t, f.machine.Profile())

	_, err := f.machine.CompleteMission("kindness")
	assert.ErrorIs(t, err, ErrProfileNotLoaded)

	f.store.FailReads(false)
	out, err = f.machine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ready, Dad!", out.Message)
	assert.Equal(t, 220, f.machine.Profile().Points)
}

func TestCompleteMission(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")

	out, err := f.machine.CompleteMission("math-sprint")
	require.NoError(t, err)
	assert.Equal(t, "+80 XP for Speed Math Sprint! Great effort.", out.Message)
	assert.True(t, out.Changed)
	assert.Equal(t, PaletteMission, out.Effects[0].Palette)

	p := f.machine.Profile()
	assert.Equal(t, 300, p.Points)
	assert.Equal(t, []string{"math-sprint"}, p.CompletedMissionIDs)
	assert.Equal(t, 1, p.Streak)
	require.NotNil(t, p.LastEarnedAt)
	assert.Equal(t, testNow, *p.LastEarnedAt)
	require.Len(t, p.ReviewSubmissions, 1)
	assert.Equal(t, models.ReviewSubmission{
		MissionID:   "math-sprint",
		Title:       "Speed Math Sprint",
		Description: "Beat the 2-minute clock with 10 correct answers.",
		Status:      models.ReviewSubmitted,
		LastUpdated: testNow,
	}, p.ReviewSubmissions[0])

	f.facade.Wait()
	stored := f.store.Get("student1")
	assert.Equal(t, 300, stored.Points)
	assert.Equal(t, []string{"student1:math-sprint"}, f.notifier.submitted)
}

func TestCompleteMission_Idempotent(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")

	_, err := f.machine.CompleteMission("reading-quest")
	require.NoError(t, err)
	once := f.machine.Profile()

	out, err := f.machine.CompleteMission("reading-quest")
	require.NoError(t, err)
	assert.Equal(t, RejectAlreadyCompleted, out.Rejection)
	assert.Equal(t, "Already celebrated this one.", out.Message)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Effects)
	assert.Equal(t, once, f.machine.Profile())

	f.facade.Wait()
	assert.Equal(t, 2, f.store.Writes(), "seed plus one completion")
}

func TestCompleteMission_AllMissionsAccumulate(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")

	points := f.machine.Profile().Points
	for i, mission := range catalog.Missions() {
		_, err := f.machine.CompleteMission(mission.ID)
		require.NoError(t, err)

		p := f.machine.Profile()
		points += mission.XP
		assert.Equal(t, points, p.Points)
		assert.Equal(t, i+1, p.Streak)
		assert.Len(t, p.ReviewSubmissions, i+1)
		assert.NoError(t, p.Validate())
	}
}

func TestCompleteMission_KeepsExistingReview(t *testing.T) {
	f := setupMachine(t)
	existing := models.NewDefaultProfile("Explorer", 220, testNow)
	existing.ReviewSubmissions = []models.ReviewSubmission{{
		MissionID: "kindness", Title: "Kindness Mission", Status: models.ReviewApproved, LastUpdated: testNow.Add(-time.Hour),
	}}
	f.store.Put("student1", existing)
	login(t, f, "student1", "1234")

	_, err := f.machine.CompleteMission("kindness")
	require.NoError(t, err)

	p := f.machine.Profile()
	require.Len(t, p.ReviewSubmissions, 1)
	assert.Equal(t, models.ReviewApproved, p.ReviewSubmissions[0].Status)
	assert.Empty(t, f.notifier.submitted)
}

func TestCompleteMission_Errors(t *testing.T) {
	f := setupMachine(t)

	_, err := f.machine.CompleteMission("math-sprint")
	assert.ErrorIs(t, err, ErrWrongState)

	login(t, f, "student1", "1234")
	_, err = f.machine.CompleteMission("unicorn")
	assert.ErrorIs(t, err, ErrUnknownMission)
}

func TestCompleteMission_ReviewWorkflowDisabled(t *testing.T) {
	f := setupMachine(t, WithReviewWorkflow(false))
	login(t, f, "student1", "1234")

	_, err := f.machine.CompleteMission("science-lab")
	require.NoError(t, err)

	p := f.machine.Profile()
	assert.Equal(t, 310, p.Points)
	assert.Empty(t, p.ReviewSubmissions)
	assert.Empty(t, f.notifier.submitted)

	_, err = f.machine.ReviewDecision("science-lab", models.ReviewApproved)
	assert.ErrorIs(t, err, ErrReviewWorkflowDisabled)
}

func TestReviewDecision(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")
	_, err := f.machine.CompleteMission("math-sprint")
	require.NoError(t, err)

	later := testNow.Add(2 * time.Hour)
	f.machine.now = func() time.Time { return later }

	out, err := f.machine.ReviewDecision("math-sprint", models.ReviewApproved)
	require.NoError(t, err)
	assert.Equal(t, "Great job! Marked as celebrated.", out.Message)
	assert.Equal(t, []Effect{{Kind: EffectSound, Sound: SoundReward}}, out.Effects)

	review := f.machine.Profile().ReviewSubmissions[0]
	assert.Equal(t, models.ReviewApproved, review.Status)
	assert.Equal(t, later, review.LastUpdated)

	out, err = f.machine.ReviewDecision("math-sprint", models.ReviewPending)
	require.NoError(t, err)
	assert.Equal(t, "Sent back for a small tweak. You got this!", out.Message)
	assert.Equal(t, models.ReviewPending, f.machine.Profile().ReviewSubmissions[0].Status)

	f.facade.Wait()
	assert.Equal(t, models.ReviewPending, f.store.Get("student1").ReviewSubmissions[0].Status)
	assert.Equal(t, "Needs Work", f.machine.Snapshot().Reviews[0].Label)
}

func TestReviewDecision_NoMatchingEntry(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")
	before := f.machine.Profile()
	f.facade.Wait()
	writes := f.store.Writes()

	out, err := f.machine.ReviewDecision("kindness", models.ReviewApproved)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, before, f.machine.Profile())

	f.facade.Wait()
	assert.Equal(t, writes, f.store.Writes())
}

func TestReviewDecision_InvalidStatus(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")

	_, err := f.machine.ReviewDecision("math-sprint", models.ReviewSubmitted)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.machine.ReviewDecision("math-sprint", models.ReviewStatus("bogus"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestPurchaseReward_BeforeAnyMission(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")

	out, err := f.machine.PurchaseReward("screen")
	require.NoError(t, err)
	assert.Equal(t, "20 min Screen Time claimed! Enjoy your reward.", out.Message)
	assert.Equal(t, PaletteReward, out.Effects[0].Palette)

	p := f.machine.Profile()
	assert.Equal(t, 100, p.Points)
	require.Len(t, p.ClaimedRewards, 1)
	assert.Equal(t, models.ClaimedReward{RewardID: "screen", Title: "20 min Screen Time", Cost: 120, ClaimedAt: testNow}, p.ClaimedRewards[0])

	out, err = f.machine.PurchaseReward("late")
	require.NoError(t, err)
	assert.Equal(t, RejectInsufficientPoints, out.Rejection)
	assert.Equal(t, "Almost there. A few more XP will get it.", out.Message)
	assert.False(t, out.Changed)
	assert.Equal(t, p, f.machine.Profile(), "rejected purchase leaves state unchanged")

	f.facade.Wait()
	assert.Equal(t, 100, f.store.Get("student1").Points)
	assert.Equal(t, []string{"student1:screen"}, f.notifier.claimed)
}

func TestPurchaseReward_RepeatableAndNeverNegative(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")

	// 220 buys three 60-point songs, the fourth is refused.
	for i := 0; i < 3; i++ {
		out, err := f.machine.PurchaseReward("song")
		require.NoError(t, err)
		assert.True(t, out.Changed)
	}
	out, err := f.machine.PurchaseReward("song")
	require.NoError(t, err)
	assert.Equal(t, RejectInsufficientPoints, out.Rejection)

	p := f.machine.Profile()
	assert.Equal(t, 40, p.Points)
	assert.Len(t, p.ClaimedRewards, 3)
	assert.GreaterOrEqual(t, p.Points, 0)
}

func TestPurchaseReward_ExactBalance(t *testing.T) {
	f := setupMachine(t)
	existing := models.NewDefaultProfile("Explorer", 90, testNow)
	f.store.Put("student1", existing)
	login(t, f, "student1", "1234")

	out, err := f.machine.PurchaseReward("treat")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 0, f.machine.Profile().Points)
}

func TestPurchaseReward_Errors(t *testing.T) {
	f := setupMachine(t)

	_, err := f.machine.PurchaseReward("screen")
	assert.ErrorIs(t, err, ErrWrongState)

	login(t, f, "student1", "1234")
	_, err = f.machine.PurchaseReward("pony")
	assert.ErrorIs(t, err, ErrUnknownReward)
}

func TestWriteFailureKeepsInMemoryResult(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")
	f.facade.Wait()
	f.store.FailSaves(true)

	out, err := f.machine.CompleteMission("kindness")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 280, f.machine.Profile().Points)

	f.facade.Wait()
	assert.Equal(t, 220, f.store.Get("student1").Points, "durable copy is stale, session is not")
}

func TestLogout(t *testing.T) {
	f := setupMachine(t)
	login(t, f, "student1", "1234")
	_, err := f.machine.CompleteMission("kindness")
	require.NoError(t, err)

	_, err = f.machine.SelectUser("mom")
	assert.ErrorIs(t, err, ErrWrongState, "must log out before switching user")

	f.machine.Logout()
	assert.Equal(t, StateUnauthenticated, f.machine.State())
	assert.Nil(t, f.machine.Profile())
	assert.Nil(t, f.machine.Snapshot().SelectedUser)

	f.facade.Wait()
	assert.Equal(t, 280, f.store.Get("student1").Points, "logout keeps durable state")

	login(t, f, "student1", "1234")
	assert.Equal(t, 280, f.machine.Profile().Points)
}

func TestToggleSound(t *testing.T) {
	f := setupMachine(t)
	f.machine.ToggleSound()
	assert.False(t, f.machine.Snapshot().SoundEnabled)

	out := login(t, f, "student1", "1234")
	require.Len(t, out.Effects, 1)
	assert.Equal(t, EffectConfetti, out.Effects[0].Kind)

	f.machine.ToggleSound()
	out, err := f.machine.PurchaseReward("song")
	require.NoError(t, err)
	require.Len(t, out.Effects, 2)
	assert.Equal(t, SoundReward, out.Effects[1].Sound)
}

func TestSnapshot(t *testing.T) {
	f := setupMachine(t)
	v := f.machine.Snapshot()
	assert.Equal(t, "unauthenticated", v.State)
	assert.Equal(t, repository.BackendLocal, v.Backend)
	assert.True(t, v.ReviewWorkflow)

	login(t, f, "student1", "1234")
	_, err := f.machine.CompleteMission("math-sprint")
	require.NoError(t, err)

	v = f.machine.Snapshot()
	assert.Equal(t, "authenticated", v.State)
	assert.Equal(t, 1, v.CompletedCount)
	require.Len(t, v.Reviews, 1)
	assert.Equal(t, "Submitted", v.Reviews[0].Label)

	v.Profile.Points = 0
	assert.Equal(t, 300, f.machine.Profile().Points, "snapshot is a copy")
}

func TestExplorerScenario(t *testing.T) {
	f := setupMachine(t)

	login(t, f, "student1", "1234")
	assert.Equal(t, 220, f.machine.Profile().Points)

	_, err := f.machine.CompleteMission("math-sprint")
	require.NoError(t, err)
	p := f.machine.Profile()
	assert.Equal(t, 300, p.Points)
	assert.Equal(t, []string{"math-sprint"}, p.CompletedMissionIDs)
	assert.Equal(t, 1, p.Streak)
	require.Len(t, p.ReviewSubmissions, 1)
	assert.Equal(t, models.ReviewSubmitted, p.ReviewSubmissions[0].Status)
}
