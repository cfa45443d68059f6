package models

import (
	"time"
)

type ReportKind string

const (
	KindDailyReport    ReportKind = "日报"
	KindWeeklyReport   ReportKind = "周报"
	KindDailySummary   ReportKind = "日总结"
	KindWeeklySummary  ReportKind = "周总结"
	KindMonthlySummary ReportKind = "月总结"
)

const (
	StatusDiagnosed  = "已诊断"
	StatusSummarized = "已总结"
)

// FormField is one named answer of a submitted report form
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawReport is a submission owned by the external report source.
// SubmitterID may be empty for sources that only know a display name.
type RawReport struct {
	ID            int64       `json:"id"`
	SubmitterID   string      `json:"submitter_id"`
	SubmitterName string      `json:"submitter_name"`
	RuleName      string      `json:"rule_name"`
	CommitTime    time.Time   `json:"commit_time"`
	Fields        []FormField `json:"fields"`
}

// ReportRecord is a diagnosed report or generated summary owned by this service.
type ReportRecord struct {
	ID            string     `json:"id"`
	SubmitterName string     `json:"submitter_name"`
	SubmitterID   string     `json:"submitter_id,omitempty"`
	ReportDate    time.Time  `json:"report_date"`
	Kind          ReportKind `json:"kind"`
	Content       string     `json:"content"`
	Advice        string     `json:"advice"`
	Score         string     `json:"score"`
	Status        string     `json:"status"`
	Period        string     `json:"period,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ReportDateMillis is the wire form of ReportDate
func (r *ReportRecord) ReportDateMillis() int64 {
	return r.ReportDate.UnixMilli()
}

// Period is the span a summary covers
type Period string

const (
	PeriodNone    Period = "none"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	return p == PeriodDaily || p == PeriodWeekly || p == PeriodMonthly
}

// Label is the Chinese name shown on cards
func (p Period) Label() string {
	switch p {
	case PeriodDaily:
		return string(KindDailySummary)
	case PeriodWeekly:
		return string(KindWeeklySummary)
	case PeriodMonthly:
		return string(KindMonthlySummary)
	}
	return ""
}

// DateRange is an inclusive time window with a display label
type DateRange struct {
	Start time.Time
	End   time.Time
	Label string
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
