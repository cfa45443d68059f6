// Package scheduler runs the nightly reconciliation and summary jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/report"
)

const (
	DefaultSpec = "0 21 * * *"
	windowHours = 24
)

type Reconciler interface {
	Reconcile(ctx context.Context, windowHours int) (report.Result, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, rng models.DateRange, period models.Period) (int, error)
}

type Scheduler struct {
	spec       string
	loc        *time.Location
	reconciler Reconciler
	summarizer Summarizer
	cron       *cron.Cron
	now        func() time.Time
	logger     *zap.Logger
}

// New validates spec (standard five-field cron, evaluated in loc).
func New(spec string, loc *time.Location, rec Reconciler, sum Summarizer, logger *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if loc == nil {
		loc = time.Local
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{
		spec:       spec,
		loc:        loc,
		reconciler: rec,
		summarizer: sum,
		now:        time.Now,
		logger:     logger,
	}, nil
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start registers the daily job. Jobs get ctx, so cancelling it aborts a
// run in progress.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithLocation(s.loc), cron.WithChain(cron.Recover(cronLogger{s.logger})))
	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.RunDaily(ctx); err != nil {
			s.logger.Error("Daily job failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule daily job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("spec", s.spec),
		zap.String("location", s.loc.String()))
	return nil
}

// Stop waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Due lists the summaries to produce on the day of now: daily always,
// weekly on Sundays, monthly on the last day of the month.
func Due(now time.Time) []models.Period {
	periods := []models.Period{models.PeriodDaily}
	if now.Weekday() == time.Sunday {
		periods = append(periods, models.PeriodWeekly)
	}
	if now.AddDate(0, 0, 1).Day() == 1 {
		periods = append(periods, models.PeriodMonthly)
	}
	return periods
}

// RunDaily reconciles the last 24 hours and, only if that succeeds, writes
// the summaries due today. A failed summary does not stop the others.
func (s *Scheduler) RunDaily(ctx context.Context) error {
	start := time.Now()
	res, err := s.reconciler.Reconcile(ctx, windowHours)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	s.logger.Info("Scheduled reconciliation finished",
		zap.Int("fetched", res.Fetched),
		zap.Int("written", res.Written),
		zap.Int("failed", res.Failed))

	now := s.now().In(s.loc)
	var failed []models.Period
	for _, period := range Due(now) {
		rng, _ := report.ResolveRange(period, "", now)
		n, err := s.summarizer.Summarize(ctx, rng, period)
		if err != nil {
			s.logger.Error("Scheduled summary failed",
				zap.String("period", string(period)),
				zap.String("range", rng.Label),
				zap.Error(err))
			failed = append(failed, period)
			continue
		}
		s.logger.Info("Scheduled summary finished",
			zap.String("period", string(period)),
			zap.String("range", rng.Label),
			zap.Int("saved", n))
	}

	s.logger.Info("Daily job finished", zap.Duration("elapsed", time.Since(start)))
	if len(failed) > 0 {
		return fmt.Errorf("summaries failed: %v", failed)
	}
	return nil
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Infow(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
