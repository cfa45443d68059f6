package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/classifier"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/optimizer"
	"github.com/xaenox/report-bot/internal/report"
)

const (
	kindReport     = "日报优化"
	syncWindowHour = 24
)

func (b *Bot) runSync(ctx context.Context, userID string) {
	b.reply(ctx, userID, msgSyncStarted)
	res, err := b.pipeline.Reconcile(ctx, syncWindowHour)
	if err != nil {
		b.logger.Error("Manual sync failed", zap.Error(err), zap.String("user_id", userID))
		b.reply(ctx, userID, "❌ 任务执行失败: "+err.Error())
		return
	}
	b.logger.Info("Manual sync finished",
		zap.String("user_id", userID),
		zap.Int("written", res.Written),
		zap.Int("failed", res.Failed))
	b.reply(ctx, userID, msgSyncDone)
}

// handleReportText runs the model's summary intent check, then the query or
// authoring path Decide picked.
func (b *Bot) handleReportText(ctx context.Context, userID string, route Route) {
	if intent := b.classifier.SummaryIntent(ctx, route.Text); intent.Found() {
		b.logger.Info("Model recognized summary intent",
			zap.String("period", string(intent.Period)),
			zap.String("date_info", intent.DateInfo))
		b.runSummary(ctx, userID, intent)
		return
	}
	if route.Kind == RouteReportQuery {
		b.queryReports(ctx, userID, route.Text)
		return
	}
	b.authorReport(ctx, userID, route.Text)
}

func (b *Bot) runSummary(ctx context.Context, userID string, intent classifier.SummaryIntent) {
	rng, ok := report.ResolveRange(intent.Period, intent.DateInfo, b.today())
	if !ok {
		b.reply(ctx, userID, msgBadDate)
		return
	}
	label := intent.Period.Label()
	render := func(content string, finished bool) chat.Card {
		return chat.SummaryCard(label, rng.Label, content, finished)
	}

	id, err := b.io.SendCard(ctx, userID, render("", false))
	if err != nil {
		b.logger.Error("Failed to send card", zap.Error(err), zap.String("user_id", userID))
		b.reply(ctx, userID, msgCardFailed)
		return
	}

	s := chat.NewCardStream(ctx, b.io, id, summaryEvery, render, b.logger)
	out, err := b.aggregator.StreamSummary(ctx, rng, intent.Period, s.Write)
	if err != nil {
		b.logger.Error("Summary generation failed", zap.Error(err), zap.String("user_id", userID))
		b.reply(ctx, userID, "❌ 总结生成失败: "+err.Error())
		return
	}
	if out.Empty {
		s.Finish()
		return
	}
	s.Replace(render(summaryDisplay(label, out), true))
}

// summaryDisplay is the final card body: each submitter's score and summary
// instead of the full analysis.
func summaryDisplay(label string, out report.Outcome) string {
	parts := make([]string, 0, len(out.Users)+1)
	for _, u := range out.Users {
		if u.Err != nil {
			parts = append(parts, fmt.Sprintf("❌ **%s**: %s生成失败", u.Name, label))
			continue
		}
		parts = append(parts, fmt.Sprintf("**🏆 %s %s评分: %d/100**\n\n%s", u.Name, string(u.Kind), u.Score, u.Summary))
	}
	return strings.Join(parts, "\n\n---\n\n") + "\n\n> 💡 完整分析报告已保存"
}

func (b *Bot) queryReports(ctx context.Context, userID, text string) {
	rng := b.classifier.ReportDateRange(ctx, text)
	b.reply(ctx, userID, fmt.Sprintf("🔍 正在查询 %s 的汇报记录，请稍候...", rng.Label))

	raws, err := b.reports.ListRawReports(ctx, rng.Start, rng.End)
	if err != nil {
		b.logger.Error("Failed to list reports", zap.Error(err), zap.String("range", rng.Label))
		b.reply(ctx, userID, fmt.Sprintf("❌ 查询 %s 的汇报记录失败，请重试。", rng.Label))
		return
	}
	if len(raws) == 0 {
		b.reply(ctx, userID, fmt.Sprintf("⚠️ %s暂无汇报记录。", rng.Label))
		return
	}

	names := b.lookupNames(ctx, raws)
	lines := make([]string, 0, len(raws))
	for _, r := range raws {
		if r.SubmitterID == "" && r.SubmitterName == "" {
			continue
		}
		name := r.SubmitterName
		if name == "" {
			name = names[r.SubmitterID]
		}
		if name == "" {
			name = "未知用户"
		}
		lines = append(lines, fmt.Sprintf("✅ %s (%s)", name, r.CommitTime.In(b.loc).Format("15:04")))
	}
	if len(lines) == 0 {
		b.reply(ctx, userID, fmt.Sprintf("⚠️ %s暂无有效汇报提交。", rng.Label))
		return
	}

	b.reply(ctx, userID, fmt.Sprintf("📊 **%s汇报统计** (共 %d 条)：\n\n%s", rng.Label, len(lines), strings.Join(lines, "\n")))
}

// lookupNames resolves ids of submissions that arrived without a name.
func (b *Bot) lookupNames(ctx context.Context, raws []*models.RawReport) map[string]string {
	names := make(map[string]string)
	if b.users == nil {
		return names
	}
	var missing []string
	seen := make(map[string]bool)
	for _, r := range raws {
		if r.SubmitterName == "" && r.SubmitterID != "" && !seen[r.SubmitterID] {
			seen[r.SubmitterID] = true
			missing = append(missing, r.SubmitterID)
		}
	}
	if len(missing) == 0 {
		return names
	}
	users, err := b.users.GetUsers(ctx, missing)
	if err != nil {
		b.logger.Warn("Failed to look up users", zap.Error(err), zap.Int("count", len(missing)))
		return names
	}
	for id, u := range users {
		names[id] = u.Name
	}
	return names
}

func (b *Bot) authorReport(ctx context.Context, userID, text string) {
	history := b.previousReports(ctx, userID)
	b.streamOptimization(ctx, userID, text, kindReport, func(onChunk func(string) error) (string, error) {
		return b.optimizer.Stream(ctx, optimizer.Request{
			UserID:  userID,
			Prompt:  text,
			Type:    models.OptimizeReport,
			History: history,
		}, onChunk)
	})
}

// previousReports returns the caller's own submissions from yesterday as
// background for the draft. Any failure yields no context.
func (b *Bot) previousReports(ctx context.Context, userID string) string {
	today := b.today()
	start := time.Date(today.Year(), today.Month(), today.Day()-1, 0, 0, 0, 0, b.loc)
	end := start.Add(24*time.Hour - time.Second)

	raws, err := b.reports.ListRawReports(ctx, start, end)
	if err != nil {
		b.logger.Warn("Failed to fetch context reports", zap.Error(err), zap.String("user_id", userID))
		return ""
	}
	var parts []string
	for _, r := range raws {
		if r.SubmitterID != userID {
			continue
		}
		if content := report.ParseFormFields(r.Fields); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}
