package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/models"
)

// The tests below truncate every table, so they only run against the
// database named by TEST_DATABASE_URL, never DATABASE_URL.
func newTestPostgres(t *testing.T) *PostgresStorage {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	s := &PostgresStorage{db: db, logger: zap.NewNop()}
	require.NoError(t, s.initializeSchema())
	_, err = db.Exec(`TRUNCATE report_records, raw_reports, users, prompt_logs`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSearchReportsQuery_TypesBounds(t *testing.T) {
	assert.Contains(t, searchReportsQuery, "$1::bigint = 0 OR report_date >= $1::bigint")
	assert.Contains(t, searchReportsQuery, "$2::bigint = 0 OR report_date <= $2::bigint")
	assert.NotContains(t, searchReportsQuery, "$1 = 0")
}

func TestPostgresStorage_SearchReports(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	day := func(d, h int) time.Time { return time.Date(2026, 2, d, h, 0, 0, 0, time.UTC) }

	for _, r := range []*models.ReportRecord{
		{SubmitterName: "a", SubmitterID: "u1", ReportDate: day(9, 18), Kind: models.KindDailyReport, Score: "80"},
		{SubmitterName: "b", SubmitterID: "u2", ReportDate: day(10, 9), Kind: models.KindDailyReport, Score: "70"},
		{SubmitterName: "c", SubmitterID: "u3", ReportDate: day(10, 20), Kind: models.KindWeeklyReport, Score: "60"},
		{SubmitterName: "d", SubmitterID: "u4", ReportDate: day(11, 21), Kind: models.KindDailySummary, Period: "2026-02-11"},
	} {
		require.NoError(t, s.CreateReport(ctx, r))
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.CreatedAt.IsZero())
	}

	all, err := s.SearchReports(ctx, ReportFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	// real epoch bounds, the shape every caller uses
	got, err := s.SearchReports(ctx, ReportFilter{
		From:  day(10, 0),
		To:    day(10, 23),
		Kinds: []models.ReportKind{models.KindDailyReport, models.KindWeeklyReport},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SubmitterName)
	assert.Equal(t, "c", got[1].SubmitterName)
	assert.True(t, day(10, 9).Equal(got[0].ReportDate))
	assert.Equal(t, models.KindWeeklyReport, got[1].Kind)

	summaries, err := s.SearchReports(ctx, ReportFilter{From: day(11, 0), Kinds: []models.ReportKind{models.KindDailySummary}})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "2026-02-11", summaries[0].Period)

	require.NoError(t, s.DeleteReport(ctx, got[0].ID))
	assert.ErrorIs(t, s.DeleteReport(ctx, got[0].ID), ErrNotFound)
}

func TestPostgresStorage_ListRawReportsInclusiveRange(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	start := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 10, 23, 59, 59, 0, time.UTC)

	for _, when := range []time.Time{start.Add(-time.Second), start, end, end.Add(time.Second)} {
		require.NoError(t, s.SaveRawReport(ctx, &models.RawReport{
			SubmitterID: "u1",
			RuleName:    "研发日报",
			CommitTime:  when,
			Fields:      []models.FormField{{Name: "今日完成", Value: when.Format(time.TimeOnly)}},
		}))
	}

	got, err := s.ListRawReports(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, start.Equal(got[0].CommitTime))
	assert.True(t, end.Equal(got[1].CommitTime))
	assert.Equal(t, "23:59:59", got[1].Fields[0].Value)
}

func TestPostgresStorage_Users(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)

	require.NoError(t, s.UpdateUser(ctx, &models.User{ID: "u1", Name: "张三"}))
	require.NoError(t, s.UpdateUser(ctx, &models.User{ID: "u1"}))

	users, err := s.GetUsers(ctx, []string{"u1", "missing"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "张三", users["u1"].Name)
}
