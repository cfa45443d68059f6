package report

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/llm"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/prompts"
	"github.com/xaenox/report-bot/internal/storage"
)

const (
	unknownUser = "未知用户"
	unknownRule = "未知汇报"
)

// Deps are the collaborators shared by Pipeline and Aggregator.
type Deps struct {
	Source   storage.RawReportSource
	Store    storage.ReportStore
	Users    storage.UserDirectory
	Gen      llm.Generator
	Prompts  *prompts.Engine
	Location *time.Location
	Logger   *zap.Logger
}

func (d Deps) loc() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

// submission is one raw report after per-day collapsing
type submission struct {
	raw  *models.RawReport
	name string
	day  string
}

// key is the submitter id, or the display name when the source has no id.
func (s submission) key() string {
	if s.raw.SubmitterID != "" {
		return s.raw.SubmitterID
	}
	return s.name
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

func lookupUsers(ctx context.Context, dir storage.UserDirectory, raws []*models.RawReport, logger *zap.Logger) map[string]*models.User {
	if dir == nil {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	for _, r := range raws {
		if r.SubmitterID != "" && !seen[r.SubmitterID] {
			seen[r.SubmitterID] = true
			ids = append(ids, r.SubmitterID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	users, err := dir.GetUsers(ctx, ids)
	if err != nil {
		logger.Warn("Failed to look up submitters", zap.Int("count", len(ids)), zap.Error(err))
		return nil
	}
	return users
}

func displayName(r *models.RawReport, users map[string]*models.User) string {
	if r.SubmitterName != "" {
		return r.SubmitterName
	}
	if u, ok := users[r.SubmitterID]; ok && u.Name != "" {
		return u.Name
	}
	return unknownUser
}

// collapseByDay keeps the latest submission per (submitter, day), ordered by
// commit time.
func collapseByDay(raws []*models.RawReport, users map[string]*models.User, loc *time.Location) []submission {
	latest := map[[2]string]submission{}
	for _, r := range raws {
		s := submission{raw: r, name: displayName(r, users), day: dayKey(r.CommitTime, loc)}
		k := [2]string{s.key(), s.day}
		if cur, ok := latest[k]; !ok || r.CommitTime.After(cur.raw.CommitTime) {
			latest[k] = s
		}
	}

	out := make([]submission, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].raw.CommitTime.Equal(out[j].raw.CommitTime) {
			return out[i].raw.CommitTime.Before(out[j].raw.CommitTime)
		}
		return out[i].key() < out[j].key()
	})
	return out
}
