package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/report-bot/internal/llm"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/prompts"
	"github.com/xaenox/report-bot/internal/storage"
)

const (
	userSeparator     = "\n\n---\n\n"
	monthlyPreface    = "📝 正在整理月度数据...\n\n"
	compressRunes     = 100
	defaultCompressor = 4
)

var emptyMessages = map[models.Period]string{
	models.PeriodDaily:   "⚠️ 该日期没有找到日报数据。",
	models.PeriodWeekly:  "⚠️ 该时间范围内没有找到日报数据。",
	models.PeriodMonthly: "⚠️ 该月份没有找到日报数据。",
}

type dayContent struct {
	date    string
	content string
}

// userReports is one submitter's reports in range, oldest day first
type userReports struct {
	name   string
	userID string
	days   []dayContent
}

// UserSummary is the outcome for one submitter.
type UserSummary struct {
	Name    string
	UserID  string
	Kind    models.ReportKind
	Score   int
	Summary string
	Saved   bool
	Err     error
}

type Outcome struct {
	Users []UserSummary
	// Empty is set when the range had no usable reports
	Empty bool
}

// Aggregator produces per-user daily, weekly and monthly summaries from the
// raw submissions in a range and stores them as summary records.
type Aggregator struct {
	Deps
	compressLimit int
	now           func() time.Time
}

// NewAggregator builds an Aggregator. compressLimit bounds the parallel
// per-day compression calls of monthly summaries.
func NewAggregator(d Deps, compressLimit int) *Aggregator {
	if compressLimit <= 0 {
		compressLimit = defaultCompressor
	}
	return &Aggregator{Deps: d, compressLimit: compressLimit, now: time.Now}
}

func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// StreamSummary streams the summaries of every submitter in rng into sink,
// users separated by a rule. A failing user gets an inline error line and
// the rest continue.
func (a *Aggregator) StreamSummary(ctx context.Context, rng models.DateRange, period models.Period, sink llm.ChunkFunc) (Outcome, error) {
	if sink == nil {
		sink = func(string) error { return nil }
	}
	return a.run(ctx, rng, period, sink, false)
}

// Summarize is the non-streaming form used by scheduled jobs. It returns the
// number of summaries saved. Weekly results are always stored as weekly
// summaries here, so a single-day week does not replace the daily summary
// written for the same day.
func (a *Aggregator) Summarize(ctx context.Context, rng models.DateRange, period models.Period) (int, error) {
	out, err := a.run(ctx, rng, period, nil, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range out.Users {
		if u.Saved {
			n++
		}
	}
	return n, nil
}

func (a *Aggregator) run(ctx context.Context, rng models.DateRange, period models.Period, sink llm.ChunkFunc, scheduled bool) (Outcome, error) {
	if !period.Valid() {
		return Outcome{}, fmt.Errorf("unsupported summary period %q", period)
	}

	groups, err := a.prepare(ctx, rng)
	if err != nil {
		return Outcome{}, err
	}
	if len(groups) == 0 {
		a.Logger.Info("No report data for summary", zap.String("period", string(period)), zap.String("range", rng.Label))
		return Outcome{Empty: true}, emit(sink, emptyMessages[period])
	}

	if period == models.PeriodMonthly {
		if err := emit(sink, monthlyPreface); err != nil {
			return Outcome{}, err
		}
		a.compress(ctx, groups)
	}

	var out Outcome
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if i > 0 {
			if err := emit(sink, userSeparator); err != nil {
				return out, err
			}
		}

		res := a.summarizeUser(ctx, rng, period, g, sink, scheduled)
		if res.Err != nil {
			a.Logger.Error("Summary failed",
				zap.String("user", g.name),
				zap.String("period", string(period)),
				zap.Error(res.Err))
			if err := emit(sink, fmt.Sprintf("\n\n❌ 生成 %s 的%s时出错: %v", g.name, period.Label(), res.Err)); err != nil {
				return out, err
			}
		}
		out.Users = append(out.Users, res)
	}
	return out, nil
}

func emit(sink llm.ChunkFunc, text string) error {
	if sink == nil {
		return nil
	}
	return sink(text)
}

// prepare collapses raw submissions per (submitter, day) and groups them by
// display name in order of first appearance.
func (a *Aggregator) prepare(ctx context.Context, rng models.DateRange) ([]*userReports, error) {
	raws, err := a.Source.ListRawReports(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("list raw reports: %w", err)
	}
	if len(raws) == 0 {
		return nil, nil
	}

	users := lookupUsers(ctx, a.Users, raws, a.Logger)
	byName := map[string]*userReports{}
	var groups []*userReports
	for _, s := range collapseByDay(raws, users, a.loc()) {
		content := ParseFormFields(s.raw.Fields)
		if content == "" {
			continue
		}
		g, ok := byName[s.name]
		if !ok {
			g = &userReports{name: s.name, userID: s.raw.SubmitterID}
			byName[s.name] = g
			groups = append(groups, g)
		}
		g.days = append(g.days, dayContent{date: s.day, content: content})
	}
	// collapseByDay orders by commit time, which already sorts days
	return groups, nil
}

func (a *Aggregator) summarizeUser(ctx context.Context, rng models.DateRange, period models.Period, g *userReports, sink llm.ChunkFunc, scheduled bool) UserSummary {
	res := UserSummary{Name: g.name, UserID: g.userID}

	var (
		id     prompts.ID
		vars   prompts.Vars
		tokens int
		label  string
	)
	switch period {
	case models.PeriodDaily:
		label = rng.Start.In(a.loc()).Format(time.DateOnly)
		contents := make([]string, len(g.days))
		for i, d := range g.days {
			contents[i] = d.content
		}
		id, tokens, res.Kind = prompts.DailySummary, 3000, models.KindDailySummary
		vars = prompts.Vars{"user_name": g.name, "date_str": label, "daily_content": strings.Join(contents, "\n")}

	case models.PeriodWeekly:
		label = g.days[0].date
		if len(g.days) > 1 {
			label += " 至 " + g.days[len(g.days)-1].date
		}
		id, tokens, res.Kind = prompts.WeeklyRecursiveSummary, 4000, models.KindWeeklySummary
		if len(g.days) == 1 && !scheduled {
			res.Kind = models.KindDailySummary
		}
		vars = prompts.Vars{"user_name": g.name, "date_range": label, "daily_reports": formatWeekly(g.days)}

	case models.PeriodMonthly:
		label = rng.Start.In(a.loc()).Format(time.DateOnly) + " 至 " + rng.End.In(a.loc()).Format(time.DateOnly)
		lines := make([]string, len(g.days))
		for i, d := range g.days {
			lines[i] = fmt.Sprintf("- %s: %s", d.date, d.content)
		}
		id, tokens, res.Kind = prompts.MonthlySummary, 4000, models.KindMonthlySummary
		vars = prompts.Vars{"user_name": g.name, "month_range": label, "daily_summaries": strings.Join(lines, "\n")}
	}

	prompt, err := a.Prompts.Render(id, vars)
	if err != nil {
		res.Err = err
		return res
	}

	req := llm.Request{
		Messages:    []llm.Message{llm.User(prompt)},
		Temperature: 0.7,
		MaxTokens:   tokens,
	}
	var text string
	if sink != nil {
		text, err = a.Gen.Stream(ctx, req, sink)
	} else {
		text, err = a.Gen.Complete(ctx, req)
	}
	if err != nil {
		res.Err = err
		return res
	}
	if strings.TrimSpace(text) == "" {
		return res
	}

	res.Summary, res.Score = ExtractSummaryAndScore(text)
	if err := a.save(ctx, g, res, label, text); err != nil {
		a.Logger.Error("Failed to save summary",
			zap.String("user", g.name),
			zap.String("kind", string(res.Kind)),
			zap.Error(err))
	} else {
		res.Saved = true
		a.Logger.Info("Summary saved",
			zap.String("user", g.name),
			zap.String("kind", string(res.Kind)),
			zap.Int("score", res.Score))
	}
	return res
}

func formatWeekly(days []dayContent) string {
	var b strings.Builder
	for i, d := range days {
		fmt.Fprintf(&b, "--- 第%d天: %s ---\n%s\n\n", i+1, d.date, d.content)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// compress replaces every day's content with a short model summary, falling
// back to local truncation.
func (a *Aggregator) compress(ctx context.Context, groups []*userReports) {
	var g errgroup.Group
	g.SetLimit(a.compressLimit)
	for _, ur := range groups {
		for i := range ur.days {
			d := &ur.days[i]
			g.Go(func() error {
				d.content = a.compressDay(ctx, d.content)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (a *Aggregator) compressDay(ctx context.Context, content string) string {
	fallback := truncateRunes(content, compressRunes)
	if fallback != content {
		fallback += "..."
	}

	prompt, err := a.Prompts.Render(prompts.DailyCompress, prompts.Vars{"content": content})
	if err != nil {
		return fallback
	}
	resp, err := a.Gen.Complete(ctx, llm.Request{
		Messages:    []llm.Message{llm.User(prompt)},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		a.Logger.Warn("Daily compression failed, truncating", zap.Error(err))
		return fallback
	}
	if resp = strings.TrimSpace(resp); resp == "" {
		return fallback
	}
	return truncateRunes(resp, compressRunes)
}

// save replaces any summary of the same kind stored today for this user.
func (a *Aggregator) save(ctx context.Context, g *userReports, res UserSummary, period, full string) error {
	now := a.now().In(a.loc())
	existing, err := a.Store.SearchReports(ctx, storage.ReportFilter{
		From:  startOfDay(now),
		To:    endOfDay(now).Add(time.Second - time.Nanosecond),
		Kinds: []models.ReportKind{res.Kind},
	})
	if err != nil {
		return fmt.Errorf("search existing summaries: %w", err)
	}
	for _, r := range existing {
		if (g.userID != "" && r.SubmitterID == g.userID) || r.SubmitterName == g.name {
			if err := a.Store.DeleteReport(ctx, r.ID); err != nil {
				return fmt.Errorf("delete summary %s: %w", r.ID, err)
			}
		}
	}

	return a.Store.CreateReport(ctx, &models.ReportRecord{
		SubmitterName: g.name,
		SubmitterID:   g.userID,
		ReportDate:    now.Truncate(time.Millisecond),
		Kind:          res.Kind,
		Content:       full,
		Advice:        res.Summary,
		Score:         strconv.Itoa(res.Score),
		Status:        models.StatusSummarized,
		Period:        period,
	})
}
