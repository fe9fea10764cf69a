package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/homeschool-missions/pkg/logger"
)

func setupManager(t *testing.T, idle time.Duration) (*Manager, *fixture) {
	t.Helper()
	f := setupMachine(t)
	log := logger.New("debug", "text", "discard")
	mgr := NewManager(func() *Machine {
		return NewMachine(f.facade, log, WithClock(func() time.Time { return testNow }))
	}, idle, "@every 1h", log)
	return mgr, f
}

func TestManager_CreateAndDo(t *testing.T) {
	mgr, _ := setupManager(t, time.Minute)

	id, view := mgr.Create()
	assert.NotEmpty(t, id)
	assert.Equal(t, "unauthenticated", view.State)
	assert.Equal(t, 1, mgr.Len())

	err := mgr.Do(id, func(m *Machine) error {
		if _, err := m.SelectUser("student1"); err != nil {
			return err
		}
		for _, d := range "1234" {
			if _, err := m.EnterDigit(string(d)); err != nil {
				return err
			}
		}
		_, err := m.SubmitPin(context.Background())
		return err
	})
	require.NoError(t, err)

	var state State
	require.NoError(t, mgr.Do(id, func(m *Machine) error {
		state = m.State()
		return nil
	}))
	assert.Equal(t, StateAuthenticated, state)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	mgr, _ := setupManager(t, time.Minute)
	a, _ := mgr.Create()
	b, _ := mgr.Create()
	assert.NotEqual(t, a, b)

	require.NoError(t, mgr.Do(a, func(m *Machine) error {
		_, err := m.SelectUser("mom")
		return err
	}))

	var state State
	require.NoError(t, mgr.Do(b, func(m *Machine) error {
		state = m.State()
		return nil
	}))
	assert.Equal(t, StateUnauthenticated, state)
}

func TestManager_UnknownSession(t *testing.T) {
	mgr, _ := setupManager(t, time.Minute)

	err := mgr.Do("missing", func(*Machine) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, mgr.Delete("missing"), ErrSessionNotFound)
}

func TestManager_Delete(t *testing.T) {
	mgr, _ := setupManager(t, time.Minute)
	id, _ := mgr.Create()

	require.NoError(t, mgr.Delete(id))
	assert.Equal(t, 0, mgr.Len())
	assert.ErrorIs(t, mgr.Do(id, func(*Machine) error { return nil }), ErrSessionNotFound)
}

func TestManager_Sweep(t *testing.T) {
	mgr, _ := setupManager(t, 30*time.Minute)
	clock := testNow
	mgr.now = func() time.Time { return clock }

	stale, _ := mgr.Create()
	clock = clock.Add(20 * time.Minute)
	fresh, _ := mgr.Create()

	clock = clock.Add(15 * time.Minute)
	assert.Equal(t, 1, mgr.Sweep())
	assert.ErrorIs(t, mgr.Do(stale, func(*Machine) error { return nil }), ErrSessionNotFound)
	assert.NoError(t, mgr.Do(fresh, func(*Machine) error { return nil }))

	// Do refreshed the fresh session, so it survives another short wait.
	clock = clock.Add(20 * time.Minute)
	assert.Equal(t, 0, mgr.Sweep())
	assert.Equal(t, 1, mgr.Len())
}

func TestManager_SweepDoesNotBlockOtherSessions(t *testing.T) {
	mgr, _ := setupManager(t, 30*time.Minute)
	var clockMu sync.Mutex
	clock := testNow
	mgr.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}

	busy, _ := mgr.Create()
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = mgr.Do(busy, func(*Machine) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	clockMu.Lock()
	clock = clock.Add(time.Hour)
	clockMu.Unlock()

	swept := make(chan int, 1)
	go func() { swept <- mgr.Sweep() }()

	created := make(chan string, 1)
	go func() {
		id, _ := mgr.Create()
		created <- id
	}()

	var fresh string
	select {
	case fresh = <-created:
	case <-time.After(2 * time.Second):
		t.Fatal("Create blocked while the sweeper waited on a busy session")
	}

	done := make(chan error, 1)
	go func() { done <- mgr.Do(fresh, func(*Machine) error { return nil }) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Do on a fresh session blocked behind the sweeper")
	}

	close(release)
	assert.Equal(t, 1, <-swept)
	assert.Equal(t, 1, mgr.Len())
}

func TestManager_ConcurrentIntentsAreSerialized(t *testing.T) {
	mgr, f := setupManager(t, time.Minute)
	id, _ := mgr.Create()

	require.NoError(t, mgr.Do(id, func(m *Machine) error {
		if _, err := m.SelectUser("student1"); err != nil {
			return err
		}
		for _, d := range "1234" {
			if _, err := m.EnterDigit(string(d)); err != nil {
				return err
			}
		}
		_, err := m.SubmitPin(context.Background())
		return err
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.Do(id, func(m *Machine) error {
				_, err := m.PurchaseReward("song")
				return err
			})
		}()
	}
	wg.Wait()

	require.NoError(t, mgr.Do(id, func(m *Machine) error {
		p := m.Profile()
		assert.Equal(t, 40, p.Points)
		assert.Len(t, p.ClaimedRewards, 3)
		return nil
	}))
	f.facade.Wait()
}

func TestManager_StartStop(t *testing.T) {
	mgr, _ := setupManager(t, time.Minute)
	require.NoError(t, mgr.Start())
	mgr.Stop()

	bad := NewManager(func() *Machine { return nil }, time.Minute, "not a schedule", logger.New("info", "json", "discard"))
	assert.Error(t, bad.Start())
}
