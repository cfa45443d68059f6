// Package spawner runs fire-and-forget work with bounded concurrency.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSaturated is returned by Spawn when running and pending slots are full.
var ErrSaturated = errors.New("spawner saturated")

type Config struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxPending    int           `mapstructure:"max_pending"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Task is a handle to one spawned unit of work.
type Task struct {
	ID   uuid.UUID
	Name string

	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is valid after Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

type Spawner struct {
	ctx    context.Context
	cfg    Config
	slots  chan struct{}
	logger *zap.Logger

	mu       sync.Mutex
	inFlight int
	wg       sync.WaitGroup
}

// New creates a Spawner whose tasks derive their context from ctx.
func New(ctx context.Context, cfg Config, logger *zap.Logger) *Spawner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}
	return &Spawner{
		ctx:    ctx,
		cfg:    cfg,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
		logger: logger,
	}
}

// Spawn starts fn in the background. It waits for a running slot when all
// are busy, and fails fast with ErrSaturated once the pending queue is full.
func (s *Spawner) Spawn(name string, fn func(ctx context.Context) error) (*Task, error) {
	s.mu.Lock()
	if s.inFlight >= s.cfg.MaxConcurrent+s.cfg.MaxPending {
		s.mu.Unlock()
		s.logger.Warn("Task rejected",
			zap.String("task", name),
			zap.Int("limit", s.cfg.MaxConcurrent+s.cfg.MaxPending))
		return nil, ErrSaturated
	}
	s.inFlight++
	s.wg.Add(1)
	s.mu.Unlock()

	t := &Task{ID: uuid.New(), Name: name, done: make(chan struct{})}
	go s.run(t, fn)
	return t, nil
}

// InFlight counts running and pending tasks.
func (s *Spawner) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Wait blocks until every spawned task has finished.
func (s *Spawner) Wait() {
	s.wg.Wait()
}

func (s *Spawner) run(t *Task, fn func(ctx context.Context) error) {
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		close(t.done)
		s.wg.Done()
	}()

	select {
	case s.slots <- struct{}{}:
	case <-s.ctx.Done():
		t.err = s.ctx.Err()
		return
	}
	defer func() { <-s.slots }()
	if err := s.ctx.Err(); err != nil {
		t.err = err
		return
	}

	ctx := s.ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	t.err = s.call(ctx, t, fn)
	if t.err != nil {
		s.logger.Error("Task failed",
			zap.String("task", t.Name),
			zap.String("task_id", t.ID.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(t.err))
	}
}

func (s *Spawner) call(ctx context.Context, t *Task, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked",
				zap.String("task", t.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()
	return fn(ctx)
}
