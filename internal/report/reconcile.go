package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/llm"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/prompts"
	"github.com/xaenox/report-bot/internal/storage"
)

// Result counts what one reconciliation run did.
type Result struct {
	Fetched   int
	Collapsed int
	Written   int
	Skipped   int
	Failed    int
	Deleted   int
}

// Pipeline mirrors raw submissions into diagnosed report records, replacing
// any record already stored for the same submitter and day.
type Pipeline struct {
	Deps
	now func() time.Time
}

func NewPipeline(d Deps) *Pipeline {
	return &Pipeline{Deps: d, now: time.Now}
}

func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// existingIndex maps (who, day) to stored record ids. Two explicit indexes
// are kept since older records may carry only a name; ids take precedence.
type existingIndex struct {
	byID   map[[2]string][]string
	byName map[[2]string][]string
}

func (p *Pipeline) buildIndex(ctx context.Context, from time.Time) existingIndex {
	idx := existingIndex{byID: map[[2]string][]string{}, byName: map[[2]string][]string{}}
	records, err := p.Store.SearchReports(ctx, storage.ReportFilter{
		From:  from,
		Kinds: []models.ReportKind{models.KindDailyReport, models.KindWeeklyReport},
	})
	if err != nil {
		p.Logger.Warn("Failed to load existing records, continuing without dedup", zap.Error(err))
		return idx
	}
	for _, r := range records {
		day := dayKey(r.ReportDate, p.loc())
		if r.SubmitterID != "" {
			k := [2]string{r.SubmitterID, day}
			idx.byID[k] = append(idx.byID[k], r.ID)
		}
		if r.SubmitterName != "" {
			k := [2]string{r.SubmitterName, day}
			idx.byName[k] = append(idx.byName[k], r.ID)
		}
	}
	return idx
}

// matches unions the id and name hits, id hits first, without duplicates.
func (idx existingIndex) matches(s submission) []string {
	var out []string
	seen := map[string]bool{}
	add := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	if s.raw.SubmitterID != "" {
		add(idx.byID[[2]string{s.raw.SubmitterID, s.day}])
	}
	add(idx.byName[[2]string{s.name, s.day}])
	return out
}

// Reconcile processes submissions committed in the last windowHours. Only a
// failing source read is returned as an error; record failures are counted.
func (p *Pipeline) Reconcile(ctx context.Context, windowHours int) (Result, error) {
	var res Result
	end := p.now()
	start := end.Add(-time.Duration(windowHours) * time.Hour)

	raws, err := p.Source.ListRawReports(ctx, start, end)
	if err != nil {
		return res, fmt.Errorf("list raw reports: %w", err)
	}
	res.Fetched = len(raws)
	if len(raws) == 0 {
		p.Logger.Info("No new reports in window", zap.Int("hours", windowHours))
		return res, nil
	}

	idx := p.buildIndex(ctx, start.Add(-24*time.Hour))
	users := lookupUsers(ctx, p.Users, raws, p.Logger)
	subs := collapseByDay(raws, users, p.loc())
	res.Collapsed = len(subs)

	p.Logger.Info("Reconciling reports",
		zap.Int("fetched", res.Fetched),
		zap.Int("collapsed", res.Collapsed))

	gone := map[string]bool{}
	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		content := ParseFormFields(s.raw.Fields)
		if content == "" {
			p.Logger.Info("Skipping empty report", zap.String("submitter", s.name), zap.String("day", s.day))
			res.Skipped++
			continue
		}

		deleted, err := p.replace(ctx, s, content, idx, gone)
		res.Deleted += deleted
		if err != nil {
			p.Logger.Error("Failed to reconcile report",
				zap.String("submitter", s.name),
				zap.String("day", s.day),
				zap.Error(err))
			res.Failed++
			continue
		}
		res.Written++
	}

	p.Logger.Info("Reconciliation finished",
		zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("deleted", res.Deleted))
	return res, nil
}

func (p *Pipeline) replace(ctx context.Context, s submission, content string, idx existingIndex, gone map[string]bool) (int, error) {
	rule := s.raw.RuleName
	if rule == "" {
		rule = unknownRule
	}
	kind := KindFromRule(rule)
	diag := p.diagnose(ctx, kind, content)

	deleted := 0
	for _, id := range idx.matches(s) {
		if gone[id] {
			continue
		}
		if err := p.Store.DeleteReport(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return deleted, fmt.Errorf("delete record %s: %w", id, err)
		}
		gone[id] = true
		deleted++
	}

	record := &models.ReportRecord{
		SubmitterName: s.name,
		SubmitterID:   s.raw.SubmitterID,
		ReportDate:    s.raw.CommitTime.Truncate(time.Millisecond),
		Kind:          kind,
		Content:       content,
		Advice:        diag.Advice,
		Score:         diag.Score,
		Status:        models.StatusDiagnosed,
	}
	if err := p.Store.CreateReport(ctx, record); err != nil {
		return deleted, fmt.Errorf("create record: %w", err)
	}
	return deleted, nil
}

func (p *Pipeline) diagnose(ctx context.Context, kind models.ReportKind, content string) Diagnosis {
	prompt, err := p.Prompts.Render(prompts.ReportDiagnosis, prompts.Vars{
		"report_type": string(kind),
		"content":     content,
	})
	if err != nil {
		p.Logger.Error("Failed to render diagnosis prompt", zap.Error(err))
		return failedDiagnosis()
	}

	resp, err := p.Gen.Complete(ctx, llm.Request{Messages: []llm.Message{llm.User(prompt)}})
	if err != nil {
		p.Logger.Error("AI diagnosis failed", zap.Error(err))
		return failedDiagnosis()
	}
	d, err := ParseDiagnosis(resp)
	if err != nil {
		p.Logger.Warn("Failed to parse diagnosis", zap.Error(err), zap.String("response", resp))
	}
	return d
}
