package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/report-bot/internal/models"
)

var ErrNotFound = errors.New("record not found")

// ReportFilter narrows SearchReports. Zero times leave that side open.
type ReportFilter struct {
	From  time.Time
	To    time.Time
	Kinds []models.ReportKind
}

func (f ReportFilter) match(r *models.ReportRecord) bool {
	if !f.From.IsZero() && r.ReportDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.ReportDate.After(f.To) {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if r.Kind == k {
			return true
		}
	}
	return false
}

// ReportStore holds diagnosed reports and summaries
type ReportStore interface {
	SearchReports(ctx context.Context, filter ReportFilter) ([]*models.ReportRecord, error)
	CreateReport(ctx context.Context, record *models.ReportRecord) error
	DeleteReport(ctx context.Context, id string) error
}

// RawReportSource is the read side of externally submitted reports.
type RawReportSource interface {
	ListRawReports(ctx context.Context, start, end time.Time) ([]*models.RawReport, error)
}

type RawReportSink interface {
	SaveRawReport(ctx context.Context, report *models.RawReport) error
}

type UserDirectory interface {
	GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

type PromptLogStore interface {
	SavePromptLog(ctx context.Context, log *models.PromptLog) error
}

type Storage interface {
	ReportStore
	RawReportSource
	RawReportSink
	UserDirectory
	PromptLogStore
	Close() error
}
