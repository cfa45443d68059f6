package bot

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/classifier"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/optimizer"
	"github.com/xaenox/report-bot/internal/report"
	"github.com/xaenox/report-bot/internal/session"
	"github.com/xaenox/report-bot/internal/storage"
)

// Card refresh cadence, in characters received since the previous edit.
const (
	imageEvery    = 20
	summaryEvery  = 30
	optimizeEvery = 10
)

const (
	msgNoMode          = "🔴 会话已过期或未开始。\n请点击底部菜单栏选择一个功能模式 (如：基础模式、关键词检索等) 以开始会话。"
	msgUnknownMenu     = "收到未知指令，正在开发中..."
	msgImageMismatch   = "⚠️ 当前不在图片模式，无法处理图片。请先切换到【图片模式】。"
	msgImageDownload   = "❌ 图片下载失败，请重试。"
	msgImageFailed     = "❌ 图片处理出错，请重试。"
	msgCardFailed      = "❌ 发送卡片失败，请重试。"
	msgOptimizeFailed  = "❌ 优化过程出错，请重试。"
	msgSyncStarted     = "🚀 收到指令，正在立即运行日报同步与分析任务..."
	msgSyncDone        = "✅ 日报同步与分析任务执行完成！"
	msgBadDate         = "❌ 无法解析目标日期，请重试。"
	msgNeedDescription = "⚠️ 请提供具体的画面描述，然后我会为您生成提示词。"
	msgSendPicture     = "⚠️ 当前为图片模式，建议先发送参考图片。\n\n如果您希望直接根据文字生成‘欧美写实’风格提示词，请回复 **“直接优化”** (将使用刚才的文字) 或直接发送新的详细画面描述。"
	msgClarifyReceived = "✅ 收到您的补充信息，正在为您生成最终提示词..."
	msgNothingToRevise = "⚠️ 还没有可以修改的优化结果，请先发送一段需要优化的提示词。"
)

var menuModes = map[string]session.Mode{
	chat.MenuBasic:  session.ModeBasic,
	chat.MenuImage:  session.ModeImage,
	chat.MenuSearch: session.ModeSearch,
	chat.MenuReport: session.ModeReport,
}

// Deps are the collaborators of Bot. Users may be nil.
type Deps struct {
	Sessions   *session.Manager
	Keywords   *classifier.KeywordClassifier
	Classifier *classifier.GPTClassifier
	Optimizer  *optimizer.Optimizer
	Pipeline   *report.Pipeline
	Aggregator *report.Aggregator
	Reports    storage.RawReportSource
	Users      storage.UserDirectory
	Chat       chat.ChatIO
	Location   *time.Location
	Logger     *zap.Logger
}

// Bot routes chat events to prompt optimization and the report workflows.
// Every event ends in a reply or a log line; nothing is returned.
type Bot struct {
	sessions   *session.Manager
	keywords   *classifier.KeywordClassifier
	classifier *classifier.GPTClassifier
	optimizer  *optimizer.Optimizer
	pipeline   *report.Pipeline
	aggregator *report.Aggregator
	reports    storage.RawReportSource
	users      storage.UserDirectory
	io         chat.ChatIO
	loc        *time.Location
	now        func() time.Time
	logger     *zap.Logger
}

func New(d Deps) *Bot {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	kw := d.Keywords
	if kw == nil {
		kw = classifier.NewKeywordClassifier(classifier.DefaultPolicy())
	}
	return &Bot{
		sessions:   d.Sessions,
		keywords:   kw,
		classifier: d.Classifier,
		optimizer:  d.Optimizer,
		pipeline:   d.Pipeline,
		aggregator: d.Aggregator,
		reports:    d.Reports,
		users:      d.Users,
		io:         d.Chat,
		loc:        loc,
		now:        time.Now,
		logger:     d.Logger,
	}
}

func (b *Bot) WithClock(now func() time.Time) *Bot {
	b.now = now
	return b
}

// Dispatch handles one inbound event to completion.
func (b *Bot) Dispatch(ctx context.Context, ev chat.Event) {
	b.recordUser(ctx, ev)
	switch ev.Type {
	case chat.EventMenu:
		b.handleMenu(ctx, ev)
	case chat.EventEntered:
		b.logger.Info("Bot entered chat", zap.String("user_id", ev.UserID))
	case chat.EventMessage:
		b.handleMessage(ctx, ev)
	}
}

// recordUser keeps the user directory in step with chat traffic. Failures
// only cost a display name later, so they are logged and dropped.
func (b *Bot) recordUser(ctx context.Context, ev chat.Event) {
	if b.users == nil || ev.UserID == "" {
		return
	}
	if err := b.users.UpdateUser(ctx, &models.User{ID: ev.UserID, Name: ev.UserName}); err != nil {
		b.logger.Warn("Failed to record user", zap.String("user_id", ev.UserID), zap.Error(err))
	}
}

func (b *Bot) handleMenu(ctx context.Context, ev chat.Event) {
	b.logger.Info("Received menu event",
		zap.String("user_id", ev.UserID),
		zap.String("key", ev.MenuKey))

	mode := menuModes[ev.MenuKey]
	_, action := b.sessions.Dispatch(ctx, ev.UserID, session.ModeSelected(mode))
	if action == session.ActionRejectUnknownMode {
		b.reply(ctx, ev.UserID, msgUnknownMenu)
		return
	}

	var card chat.Card
	switch mode {
	case session.ModeBasic:
		card = chat.BasicModeCard()
	case session.ModeImage:
		card = chat.ImageModeCard()
	case session.ModeSearch:
		card = chat.SearchModeCard()
	case session.ModeReport:
		card = chat.ReportModeCard()
	}
	if _, err := b.io.SendCard(ctx, ev.UserID, card); err != nil {
		b.logger.Error("Failed to send mode card",
			zap.Error(err),
			zap.String("user_id", ev.UserID),
			zap.String("mode", string(mode)))
	}
}

func (b *Bot) handleMessage(ctx context.Context, ev chat.Event) {
	view, action := b.sessions.Dispatch(ctx, ev.UserID, session.MessageSeen())
	if action == session.ActionPromptModeSelection {
		b.reply(ctx, ev.UserID, msgNoMode)
		return
	}

	route := Decide(view, ev, b.keywords)
	b.logger.Debug("Routing message",
		zap.String("user_id", ev.UserID),
		zap.String("mode", string(view.Mode)),
		zap.Stringer("route", route.Kind))

	switch route.Kind {
	case RouteIgnore:
		b.logger.Info("Ignored message", zap.String("type", string(ev.MessageType)))
	case RouteImageMismatch:
		b.reply(ctx, ev.UserID, msgImageMismatch)
	case RouteImageAnalysis:
		b.analyzeImage(ctx, ev)
	case RouteSearch:
		b.reply(ctx, ev.UserID, "🔍 正在为您检索关键词：【"+route.Text+"】\n\n(功能开发中...)")
	case RouteReportSync:
		b.runSync(ctx, ev.UserID)
	case RouteReportSummary:
		b.runSummary(ctx, ev.UserID, route.Summary)
	case RouteReportQuery, RouteReportAuthor:
		b.handleReportText(ctx, ev.UserID, route)
	case RouteImageWithContext:
		b.optimizeWithImage(ctx, ev.UserID, route.Text, view.ImageDesc)
	case RouteImageText:
		b.handleImageText(ctx, ev.UserID, route.Text, view.PendingText)
	case RouteClarificationAnswer:
		b.answerClarification(ctx, ev.UserID, route.Text, view.Clarification, view.ClarificationKind)
	case RouteOptimize:
		b.optimize(ctx, ev.UserID, route.Text, view.LastResult)
	}
}

func (b *Bot) reply(ctx context.Context, userID, text string) {
	if err := b.io.SendText(ctx, userID, text); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.String("user_id", userID))
	}
}

// stream sends a starting card and relays run's chunks into it. It reports
// whether run succeeded.
func (b *Bot) stream(ctx context.Context, userID string, first chat.Card, every int, render chat.RenderFunc, run func(onChunk func(string) error) error) bool {
	id, err := b.io.SendCard(ctx, userID, first)
	if err != nil {
		b.logger.Error("Failed to send card", zap.Error(err), zap.String("user_id", userID))
		b.reply(ctx, userID, msgCardFailed)
		return false
	}
	s := chat.NewCardStream(ctx, b.io, id, every, render, b.logger)
	if err := run(s.Write); err != nil {
		return false
	}
	s.Finish()
	return true
}

// streamOptimization runs one optimization into a fresh card and returns the
// finished text, ok false when it did not complete. original is
// what the card shows as the source text.
func (b *Bot) streamOptimization(ctx context.Context, userID, original, kind string, run func(onChunk func(string) error) (string, error)) (string, bool) {
	render := func(content string, finished bool) chat.Card {
		return chat.OptimizationCard(original, content, kind, finished)
	}
	var out string
	ok := b.stream(ctx, userID, render("", false), optimizeEvery, render, func(onChunk func(string) error) error {
		text, err := run(onChunk)
		if err != nil {
			b.logger.Error("Error in stream optimization",
				zap.Error(err),
				zap.String("user_id", userID),
				zap.String("kind", kind))
			b.reply(ctx, userID, msgOptimizeFailed)
			return err
		}
		out = text
		return nil
	})
	if ok {
		b.logger.Info("Optimization finished", zap.String("user_id", userID), zap.String("kind", kind))
	}
	return out, ok
}

func (b *Bot) today() time.Time {
	return b.now().In(b.loc)
}

// trimPrefixFold strips prefix ignoring ASCII case.
func trimPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
