package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	prommetrics "github.com/aimd54/homeschool-missions/internal/metrics"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

// ErrSessionNotFound is returned for unknown or expired session ids
var ErrSessionNotFound = errors.New("session not found")

// entry is one hosted session. mu is held for the whole of an intent;
// lastSeen is stamped when a request arrives, so reading it never waits on mu
type entry struct {
	mu       sync.Mutex
	machine  *Machine
	lastSeen atomic.Int64 // unix nanos
}

func (e *entry) touch(now time.Time) {
	e.lastSeen.Store(now.UnixNano())
}

func (e *entry) idleSince(cutoff time.Time) bool {
	return e.lastSeen.Load() < cutoff.UnixNano()
}

// Manager hosts sessions by id and sweeps idle ones on a cron schedule.
// Intents on one session run one at a time
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	newMachine  func() *Machine
	idleTimeout time.Duration
	schedule    string
	now         func() time.Time
	log         *logger.Logger
	cron        *cron.Cron
}

// NewManager creates a session registry. newMachine builds each session's machine
func NewManager(newMachine func() *Machine, idleTimeout time.Duration, schedule string, log *logger.Logger) *Manager {
	return &Manager{
		sessions:    make(map[string]*entry),
		newMachine:  newMachine,
		idleTimeout: idleTimeout,
		schedule:    schedule,
		now:         time.Now,
		log:         log.Component("sessions"),
	}
}

// Create opens a new unauthenticated session
func (m *Manager) Create() (string, View) {
	id := uuid.NewString()
	e := &entry{machine: m.newMachine()}
	e.touch(m.now())

	m.mu.Lock()
	m.sessions[id] = e
	count := len(m.sessions)
	m.mu.Unlock()

	prommetrics.SetActiveSessions(count)
	m.log.Debug().Str("session_id", id).Msg("Session created")

	return id, e.machine.Snapshot()
}

// Do runs fn against the session's machine while holding the session lock
func (m *Manager) Do(id string, fn func(*Machine) error) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		e.touch(m.now())
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.machine)
}

// Delete closes a session. The machine is logged out first
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	e.mu.Lock()
	e.machine.Logout()
	e.mu.Unlock()

	prommetrics.SetActiveSessions(count)
	return nil
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than the idle timeout and returns how many.
// Swept sessions are logged out after the registry is released, so a session
// busy with a slow intent never blocks the others
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*entry
	for id, e := range m.sessions {
		if e.idleSince(cutoff) {
			idle = append(idle, e)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, e := range idle {
		e.mu.Lock()
		e.machine.Logout()
		e.mu.Unlock()
	}

	prommetrics.SetActiveSessions(count)
	if len(idle) > 0 {
		prommetrics.RecordSessionsSwept(len(idle))
		m.log.Info().Int("swept", len(idle)).Int("remaining", count).Msg("Swept idle sessions")
	}
	return len(idle)
}

// Start schedules the idle sweep
func (m *Manager) Start() error {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.schedule, func() { m.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.schedule, err)
	}
	m.cron.Start()

	nextRun := ""
	if entries := m.cron.Entries(); len(entries) > 0 {
		nextRun = entries[0].Next.Format(time.RFC3339)
	}
	m.log.Info().
		Str("schedule", m.schedule).
		Dur("idle_timeout", m.idleTimeout).
		Str("next_run", nextRun).
		Msg("Session sweeper started")
	return nil
}

// Stop halts the sweeper and waits for a running sweep
func (m *Manager) Stop() {
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
		m.log.Info().Msg("Session sweeper stopped")
	}
}
