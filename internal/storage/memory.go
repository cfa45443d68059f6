package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/report-bot/internal/models"
)

type MemoryStorage struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	records    map[string]*models.ReportRecord
	raw        []*models.RawReport
	promptLogs []*models.PromptLog
	nextRawID  int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:   make(map[string]*models.User),
		records: make(map[string]*models.ReportRecord),
	}
}

// User methods
func (s *MemoryStorage) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if user, exists := s.users[id]; exists {
			u := *user
			out[id] = &u
		}
	}
	return out, nil
}

func (s *MemoryStorage) UpdateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("update user: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	u.LastUsedAt = time.Now()
	if existing, ok := s.users[u.ID]; ok && u.Name == "" {
		u.Name = existing.Name
	}
	s.users[u.ID] = &u
	return nil
}

// Report record methods
func (s *MemoryStorage) SearchReports(ctx context.Context, filter ReportFilter) ([]*models.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ReportRecord
	for _, r := range s.records {
		if filter.match(r) {
			rec := *r
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReportDate.Equal(out[j].ReportDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReportDate.Before(out[j].ReportDate)
	})
	return out, nil
}

func (s *MemoryStorage) CreateReport(ctx context.Context, record *models.ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	rec := *record
	s.records[rec.ID] = &rec
	return nil
}

func (s *MemoryStorage) DeleteReport(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Raw report methods
func (s *MemoryStorage) SaveRawReport(ctx context.Context, report *models.RawReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRawID++
	report.ID = s.nextRawID
	r := *report
	r.Fields = append([]models.FormField(nil), report.Fields...)
	s.raw = append(s.raw, &r)
	return nil
}

func (s *MemoryStorage) ListRawReports(ctx context.Context, start, end time.Time) ([]*models.RawReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RawReport
	for _, r := range s.raw {
		if r.CommitTime.Before(start) || r.CommitTime.After(end) {
			continue
		}
		rr := *r
		out = append(out, &rr)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CommitTime.Before(out[j].CommitTime) })
	return out, nil
}

func (s *MemoryStorage) SavePromptLog(ctx context.Context, log *models.PromptLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.ID = int64(len(s.promptLogs) + 1)
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	l := *log
	s.promptLogs = append(s.promptLogs, &l)
	return nil
}

// PromptLogs returns a copy of saved logs, oldest first
func (s *MemoryStorage) PromptLogs() []*models.PromptLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.PromptLog, len(s.promptLogs))
	copy(out, s.promptLogs)
	return out
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
