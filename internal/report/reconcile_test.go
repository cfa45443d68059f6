package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/llm/llmtest"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/prompts"
	"github.com/xaenox/report-bot/internal/storage"
)

const diagnosisReply = `{"advice": "继续保持", "score": 85}`

func newDeps(store *storage.MemoryStorage, fake *llmtest.Fake) Deps {
	return Deps{
		Source:   store,
		Store:    store,
		Users:    store,
		Gen:      fake,
		Prompts:  prompts.MustNew(),
		Location: cst,
		Logger:   zap.NewNop(),
	}
}

func submit(t *testing.T, store *storage.MemoryStorage, id, name string, when time.Time, work string) {
	t.Helper()
	require.NoError(t, store.SaveRawReport(context.Background(), &models.RawReport{
		SubmitterID:   id,
		SubmitterName: name,
		RuleName:      "研发日报",
		CommitTime:    when,
		Fields:        []models.FormField{{Name: "今日完成", Value: work}},
	}))
}

func dailyReports(t *testing.T, store *storage.MemoryStorage) []*models.ReportRecord {
	t.Helper()
	out, err := store.SearchReports(context.Background(), storage.ReportFilter{
		Kinds: []models.ReportKind{models.KindDailyReport, models.KindWeeklyReport},
	})
	require.NoError(t, err)
	return out
}

func TestReconcile_LatestSubmissionWins(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	now := at(2026, 2, 10, 12, 0)
	p := NewPipeline(newDeps(store, llmtest.Reply(diagnosisReply))).
		WithClock(func() time.Time { return now })

	submit(t, store, "u1", "张三", at(2026, 2, 10, 9, 0), "v09")
	submit(t, store, "u1", "张三", at(2026, 2, 10, 10, 0), "v10")
	submit(t, store, "u1", "张三", at(2026, 2, 10, 11, 0), "v11")

	res, err := p.Reconcile(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, Result{Fetched: 3, Collapsed: 1, Written: 1}, res)

	records := dailyReports(t, store)
	require.Len(t, records, 1)
	r := records[0]
	assert.True(t, at(2026, 2, 10, 11, 0).Equal(r.ReportDate))
	assert.Equal(t, "【今日完成】: v11", r.Content)
	assert.Equal(t, "张三", r.SubmitterName)
	assert.Equal(t, "u1", r.SubmitterID)
	assert.Equal(t, models.KindDailyReport, r.Kind)
	assert.Equal(t, "继续保持", r.Advice)
	assert.Equal(t, "85", r.Score)
	assert.Equal(t, models.StatusDiagnosed, r.Status)

	// a resubmission later that day replaces the 11:00 record
	submit(t, store, "u1", "张三", at(2026, 2, 10, 13, 0), "v13")
	now = at(2026, 2, 10, 14, 0)

	res, err = p.Reconcile(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Written)

	records = dailyReports(t, store)
	require.Len(t, records, 1)
	assert.True(t, at(2026, 2, 10, 13, 0).Equal(records[0].ReportDate))
	assert.Equal(t, "【今日完成】: v13", records[0].Content)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	now := at(2026, 2, 10, 21, 0)
	p := NewPipeline(newDeps(store, llmtest.Reply(diagnosisReply))).
		WithClock(func() time.Time { return now })

	submit(t, store, "u1", "张三", at(2026, 2, 9, 22, 0), "昨天的")
	submit(t, store, "u1", "张三", at(2026, 2, 10, 18, 0), "今天的")
	submit(t, store, "u2", "李四", at(2026, 2, 10, 19, 0), "李四的")

	_, err := p.Reconcile(ctx, 24)
	require.NoError(t, err)
	first := dailyReports(t, store)
	require.Len(t, first, 3)

	res, err := p.Reconcile(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	second := dailyReports(t, store)
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].SubmitterName, second[i].SubmitterName)
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.True(t, first[i].ReportDate.Equal(second[i].ReportDate))
	}
}

func TestReconcile_NameIndexAndSummariesUntouched(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	now := at(2026, 2, 10, 21, 0)
	p := NewPipeline(newDeps(store, llmtest.Reply(diagnosisReply))).
		WithClock(func() time.Time { return now })

	// written earlier without identity
	require.NoError(t, store.CreateReport(ctx, &models.ReportRecord{
		SubmitterName: "张三",
		ReportDate:    at(2026, 2, 10, 8, 0),
		Kind:          models.KindDailyReport,
		Content:       "old",
		Status:        models.StatusDiagnosed,
	}))
	require.NoError(t, store.CreateReport(ctx, &models.ReportRecord{
		SubmitterName: "张三",
		SubmitterID:   "u1",
		ReportDate:    at(2026, 2, 10, 9, 0),
		Kind:          models.KindDailySummary,
		Status:        models.StatusSummarized,
	}))
	submit(t, store, "u1", "张三", at(2026, 2, 10, 18, 0), "new")

	res, err := p.Reconcile(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	records := dailyReports(t, store)
	require.Len(t, records, 1)
	assert.Equal(t, "【今日完成】: new", records[0].Content)

	summaries, err := store.SearchReports(ctx, storage.ReportFilter{Kinds: []models.ReportKind{models.KindDailySummary}})
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestReconcile_PerRecordHandling(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	now := at(2026, 2, 10, 21, 0)
	fake := llmtest.Reply("这不是 JSON")
	p := NewPipeline(newDeps(store, fake)).WithClock(func() time.Time { return now })

	require.NoError(t, store.UpdateUser(ctx, &models.User{ID: "u2", Name: "李四"}))

	// empty form
	require.NoError(t, store.SaveRawReport(ctx, &models.RawReport{
		SubmitterID: "u1", SubmitterName: "张三", CommitTime: at(2026, 2, 10, 9, 0),
	}))
	// name comes from the user directory, weekly rule
	require.NoError(t, store.SaveRawReport(ctx, &models.RawReport{
		SubmitterID: "u2",
		RuleName:    "研发周报",
		CommitTime:  at(2026, 2, 10, 10, 0),
		Fields:      []models.FormField{{Name: "本周完成", Value: "重构"}},
	}))
	// no identity at all
	require.NoError(t, store.SaveRawReport(ctx, &models.RawReport{
		CommitTime: at(2026, 2, 10, 11, 0),
		Fields:     []models.FormField{{Name: "今日完成", Value: "匿名"}},
	}))

	res, err := p.Reconcile(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Collapsed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 2, fake.CountContaining("【"))

	records := dailyReports(t, store)
	require.Len(t, records, 2)
	assert.Equal(t, "李四", records[0].SubmitterName)
	assert.Equal(t, models.KindWeeklyReport, records[0].Kind)
	assert.Equal(t, diagnosisFailAdvice, records[0].Advice)
	assert.Equal(t, "0", records[0].Score)
	assert.Equal(t, unknownUser, records[1].SubmitterName)
}

type failingSource struct{}

func (failingSource) ListRawReports(context.Context, time.Time, time.Time) ([]*models.RawReport, error) {
	return nil, errors.New("source down")
}

func TestReconcile_SourceFailure(t *testing.T) {
	store := storage.NewMemoryStorage()
	d := newDeps(store, llmtest.Reply(diagnosisReply))
	d.Source = failingSource{}

	_, err := NewPipeline(d).Reconcile(context.Background(), 24)
	assert.ErrorContains(t, err, "source down")
}

type flakyStore struct {
	*storage.MemoryStorage
	failFor string
}

func (s *flakyStore) CreateReport(ctx context.Context, r *models.ReportRecord) error {
	if r.SubmitterName == s.failFor {
		return errors.New("write rejected")
	}
	return s.MemoryStorage.CreateReport(ctx, r)
}

func TestReconcile_FailureDoesNotAbortBatch(t *testing.T) {
	mem := storage.NewMemoryStorage()
	d := newDeps(mem, llmtest.Reply(diagnosisReply))
	d.Store = &flakyStore{MemoryStorage: mem, failFor: "张三"}
	now := at(2026, 2, 10, 21, 0)
	p := NewPipeline(d).WithClock(func() time.Time { return now })

	submit(t, mem, "u1", "张三", at(2026, 2, 10, 9, 0), "a")
	submit(t, mem, "u2", "李四", at(2026, 2, 10, 10, 0), "b")

	res, err := p.Reconcile(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Written)
	assert.Len(t, dailyReports(t, mem), 1)
}
