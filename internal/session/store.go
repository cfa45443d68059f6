package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists session states by user id. Implementations need not expire
// anything themselves; View handles lapsed fields on read.
type Store interface {
	Load(ctx context.Context, userID string) (State, bool, error)
	Save(ctx context.Context, userID string, s State) error
	Delete(ctx context.Context, userID string) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(ctx context.Context, userID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[userID]
	return s, ok, nil
}

func (m *MemoryStore) Save(ctx context.Context, userID string, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[userID] = s
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, userID)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// Sweep drops states with nothing live left and returns how many it removed.
func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.states {
		if s.Expired(now) {
			delete(m.states, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on every tick until ctx is done. The returned
// channel is closed once the goroutine has exited.
func (m *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		logger.Info("Session sweeper started", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(time.Now()); n > 0 {
					logger.Debug("Swept expired sessions", zap.Int("count", n))
				}
			case <-ctx.Done():
				logger.Info("Session sweeper shutting down")
				return
			}
		}
	}()
	return done
}
