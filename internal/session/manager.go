package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Manager runs transitions against a Store. Reads and writes are not
// isolated: two messages from one user may race, last write wins.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewManager(store Store, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

func (m *Manager) load(ctx context.Context, userID string) State {
	s, _, err := m.store.Load(ctx, userID)
	if err != nil {
		m.logger.Error("Failed to load session",
			zap.Error(err),
			zap.String("user_id", userID))
		return State{}
	}
	return s
}

func (m *Manager) View(ctx context.Context, userID string) View {
	return m.load(ctx, userID).View(m.now())
}

// Dispatch applies ev to the user's session, saves the result and returns the
// live view with the transition's action.
func (m *Manager) Dispatch(ctx context.Context, userID string, ev Event) (View, Action) {
	now := m.now()
	next, action := Apply(m.load(ctx, userID), ev, now, m.ttl)

	var err error
	if next.Expired(now) {
		err = m.store.Delete(ctx, userID)
	} else {
		err = m.store.Save(ctx, userID, next)
	}
	if err != nil {
		m.logger.Error("Failed to save session",
			zap.Error(err),
			zap.String("user_id", userID))
	}
	return next.View(now), action
}
