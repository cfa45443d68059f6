package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/chat/chattest"
	"github.com/xaenox/report-bot/internal/classifier"
	"github.com/xaenox/report-bot/internal/llm/llmtest"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/optimizer"
	"github.com/xaenox/report-bot/internal/prompts"
	"github.com/xaenox/report-bot/internal/report"
	"github.com/xaenox/report-bot/internal/session"
	"github.com/xaenox/report-bot/internal/storage"
)

const (
	user      = "u1"
	optimized = "优化后的提示词"
	imageDesc = "一只橘猫趴在窗台上晒太阳"
	analysis  = "# 日度分析\n\n**🏆 评分: 80/100**\n\n## 摘要\n进展顺利。\n"
)

var (
	cst = time.FixedZone("CST", 8*3600)
	now = time.Date(2026, 2, 10, 21, 0, 0, 0, cst)
)

// rule answers prompts containing every marker
type rule struct {
	markers []string
	reply   string
	err     error
}

func defaultRules() []rule {
	return []rule{
		{markers: []string{"提示词咨询顾问"}, reply: "NO_QUESTIONS"},
		{markers: []string{"User input in Image Mode"}, reply: "OTHER"},
		{markers: []string{"意图识别助手"}, reply: `{"type": "none", "date_info": ""}`},
		{markers: []string{"Date Parsing Assistant"}, reply: `{"start_date": "2026-02-09", "end_date": "2026-02-09"}`},
		{markers: []string{"请详细描述这张图片"}, reply: imageDesc},
		{markers: []string{"AI Project Manager"}, reply: `{"advice": "继续保持", "score": 85}`},
		{markers: []string{"AI 日报分析教练"}, reply: analysis},
	}
}

type harness struct {
	bot      *Bot
	chat     *chattest.Recorder
	store    *storage.MemoryStorage
	gen      *llmtest.Fake
	sessions *session.Manager
}

func newHarness(t *testing.T, overrides ...rule) *harness {
	t.Helper()
	rules := append(overrides, defaultRules()...)
	gen := llmtest.New(func(prompt string) (string, error) {
	next:
		for _, r := range rules {
			for _, m := range r.markers {
				if !strings.Contains(prompt, m) {
					continue next
				}
			}
			return r.reply, r.err
		}
		return optimized, nil
	})

	clock := func() time.Time { return now }
	logger := zap.NewNop()
	engine := prompts.MustNew()
	store := storage.NewMemoryStorage()
	rec := chattest.New()
	sessions := session.NewManager(session.NewMemoryStore(), session.DefaultTTL, logger).WithClock(clock)
	deps := report.Deps{
		Source:   store,
		Store:    store,
		Users:    store,
		Gen:      gen,
		Prompts:  engine,
		Location: cst,
		Logger:   logger,
	}

	b := New(Deps{
		Sessions:   sessions,
		Classifier: classifier.NewGPTClassifier(gen, engine, cst, logger).WithClock(clock),
		Optimizer:  optimizer.New(gen, engine, store, cst, logger).WithClock(clock),
		Pipeline:   report.NewPipeline(deps).WithClock(clock),
		Aggregator: report.NewAggregator(deps, 2).WithClock(clock),
		Reports:    store,
		Users:      store,
		Chat:       rec,
		Location:   cst,
		Logger:     logger,
	}).WithClock(clock)

	return &harness{bot: b, chat: rec, store: store, gen: gen, sessions: sessions}
}

func (h *harness) menu(key string) {
	h.bot.Dispatch(context.Background(), chat.Event{Type: chat.EventMenu, UserID: user, MenuKey: key})
}

func (h *harness) say(text string) {
	h.bot.Dispatch(context.Background(), chat.Event{
		Type:        chat.EventMessage,
		UserID:      user,
		MessageID:   "in-1",
		MessageType: chat.MessageText,
		Text:        text,
	})
}

func (h *harness) photo(fileKey string) {
	h.bot.Dispatch(context.Background(), chat.Event{
		Type:        chat.EventMessage,
		UserID:      user,
		MessageID:   "in-2",
		MessageType: chat.MessageImage,
		FileKey:     fileKey,
	})
}

func (h *harness) view() session.View {
	return h.sessions.View(context.Background(), user)
}

func (h *harness) lastCard(t *testing.T) chat.Card {
	t.Helper()
	card, ok := h.chat.LastCard()
	require.True(t, ok, "no card sent")
	return card
}

func (h *harness) submit(t *testing.T, id, name string, when time.Time, work string) {
	t.Helper()
	require.NoError(t, h.store.SaveRawReport(context.Background(), &models.RawReport{
		SubmitterID:   id,
		SubmitterName: name,
		RuleName:      "研发日报",
		CommitTime:    when,
		Fields:        []models.FormField{{Name: "今日完成", Value: work}},
	}))
}

func TestDecide(t *testing.T) {
	kw := classifier.NewKeywordClassifier(classifier.DefaultPolicy())
	text := func(s string) chat.Event {
		return chat.Event{Type: chat.EventMessage, MessageType: chat.MessageText, Text: s}
	}
	image := chat.Event{Type: chat.EventMessage, MessageType: chat.MessageImage, FileKey: "f"}

	tests := []struct {
		name string
		view session.View
		ev   chat.Event
		want RouteKind
	}{
		{"image in image mode", session.View{Mode: session.ModeImage}, image, RouteImageAnalysis},
		{"image in basic mode", session.View{Mode: session.ModeBasic}, image, RouteImageMismatch},
		{"sticker", session.View{Mode: session.ModeBasic}, chat.Event{MessageType: chat.MessageOther}, RouteIgnore},
		{"blank text", session.View{Mode: session.ModeBasic}, text("   "), RouteIgnore},
		{"search", session.View{Mode: session.ModeSearch}, text("向量数据库"), RouteSearch},
		{"sync keyword", session.View{Mode: session.ModeReport}, text("帮我同步日报"), RouteReportSync},
		{"summary keyword", session.View{Mode: session.ModeReport}, text("昨天总结"), RouteReportSummary},
		{"query", session.View{Mode: session.ModeReport}, text("查询昨天的日报"), RouteReportQuery},
		{"numbered work list", session.View{Mode: session.ModeReport}, text("1. 查看了设计文档 2. 完成了接口开发"), RouteReportAuthor},
		{"long query with digits", session.View{Mode: session.ModeReport}, text("查看 1. 文档 2. 接口 3. 测试用例"), RouteReportAuthor},
		{"plain draft", session.View{Mode: session.ModeReport}, text("今天修了登录的bug"), RouteReportAuthor},
		{"image text with picture", session.View{Mode: session.ModeImage, ImageDesc: "猫"}, text("做成海报"), RouteImageWithContext},
		{"image text alone", session.View{Mode: session.ModeImage}, text("一只猫"), RouteImageText},
		{"clarification pending", session.View{Mode: session.ModeBasic, Clarification: "写文案"}, text("面向大学生"), RouteClarificationAnswer},
		{"basic", session.View{Mode: session.ModeBasic}, text("写文案"), RouteOptimize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.view, tt.ev, kw).Kind)
		})
	}

	r := Decide(session.View{Mode: session.ModeReport}, text("上周总结"), kw)
	assert.Equal(t, classifier.SummaryIntent{Period: models.PeriodWeekly, DateInfo: "上周"}, r.Summary)
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
		typ  models.OptimizeType
	}{
		{"sys: 你是翻译", "你是翻译", models.OptimizeSystem},
		{"SYS:你是翻译", "你是翻译", models.OptimizeSystem},
		{"系统: 你是翻译", "你是翻译", models.OptimizeSystem},
		{"pro: 写产品介绍", "写产品介绍", models.OptimizeUserProfessional},
		{"专业:写产品介绍", "写产品介绍", models.OptimizeUserProfessional},
		{"改: 更简洁", "更简洁", models.OptimizeIterate},
		{"Iterate: shorter", "shorter", models.OptimizeIterate},
		{"写一首诗", "写一首诗", models.OptimizeUserBasic},
	}
	for _, tt := range tests {
		got, typ := splitPrefix(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.typ, typ, tt.in)
	}
}

func TestDispatch_NoMode(t *testing.T) {
	h := newHarness(t)
	h.say("你好")
	assert.Equal(t, []string{msgNoMode}, h.chat.Texts())
	assert.Empty(t, h.gen.Requests())
}

func TestDispatch_Menu(t *testing.T) {
	h := newHarness(t)

	h.menu(chat.MenuReport)
	assert.Equal(t, "📊 已切换至日报周报模式", h.lastCard(t).Title)
	assert.Equal(t, session.ModeReport, h.view().Mode)

	h.menu("DANCE")
	assert.Equal(t, msgUnknownMenu, h.chat.LastText())
	assert.Equal(t, session.ModeReport, h.view().Mode)

	h.bot.Dispatch(context.Background(), chat.Event{Type: chat.EventEntered, UserID: user})
	assert.Len(t, h.chat.Texts(), 1)
}

func TestDispatch_BasicOptimize(t *testing.T) {
	h := newHarness(t)
	h.menu(chat.MenuBasic)
	h.say("写一首关于秋天的诗")

	card := h.lastCard(t)
	assert.Equal(t, "✅ 提示词优化完成", card.Title)
	assert.Contains(t, card.Body, "**原始提示词**：\n写一首关于秋天的诗")
	assert.Contains(t, card.Body, optimized)
	assert.Equal(t, 1, h.gen.CountContaining("结构化提示词优化专家"))

	logs := h.store.PromptLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OptimizeUserBasic, logs[0].OptimizeType)
	assert.Equal(t, optimized, logs[0].OptimizedPrompt)
}

func TestDispatch_SystemPrefix(t *testing.T) {
	h := newHarness(t)
	h.menu(chat.MenuBasic)
	h.say("sys: 你是一名资深翻译")

	assert.Equal(t, 1, h.gen.CountContaining("Prompt工程师"))
	logs := h.store.PromptLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OptimizeSystem, logs[0].OptimizeType)
	assert.Equal(t, "你是一名资深翻译", logs[0].OriginalPrompt)
}

func TestDispatch_ClarificationRoundTrip(t *testing.T) {
	h := newHarness(t, rule{
		markers: []string{"提示词咨询顾问", "做个海报"},
		reply:   `{"questions": ["面向谁？", "用在哪里？"], "reason": "需求过于简略"}`,
	})
	h.menu(chat.MenuBasic)

	h.say("做个海报")
	card := h.lastCard(t)
	assert.Equal(t, "🤔 需要您补充一点细节", card.Title)
	assert.Contains(t, card.Body, "1. 面向谁？\n2. 用在哪里？")
	assert.Equal(t, "做个海报", h.view().Clarification)
	assert.Empty(t, h.store.PromptLogs())

	h.say("面向大学生，用在朋友圈")
	assert.Equal(t, msgClarifyReceived, h.chat.LastText())
	assert.Empty(t, h.view().Clarification)
	assert.Equal(t, 1, h.gen.CountContaining("高级提示词工程师"))
	assert.Equal(t, 1, h.gen.CountContaining("面向大学生，用在朋友圈"))

	card = h.lastCard(t)
	assert.Equal(t, "✅ 提示词优化完成", card.Title)
	assert.Contains(t, card.Body, "**原始提示词**：\n做个海报")
}

func TestDispatch_ClarificationKeepsSystemTemplate(t *testing.T) {
	h := newHarness(t, rule{
		markers: []string{"提示词咨询顾问", "做个海报"},
		reply:   `{"questions": ["面向谁？"], "reason": "需求过于简略"}`,
	})
	h.menu(chat.MenuBasic)

	h.say("sys: 做个海报")
	v := h.view()
	assert.Equal(t, "做个海报", v.Clarification)
	assert.Equal(t, string(models.OptimizeSystem), v.ClarificationKind)

	h.say("面向大学生")
	assert.Equal(t, 1, h.gen.CountContaining("Prompt工程师"))
	assert.Zero(t, h.gen.CountContaining("高级提示词工程师"))
	assert.Equal(t, 1, h.gen.CountContaining("做个海报\n\n【补充信息】：\n面向大学生"))

	logs := h.store.PromptLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OptimizeSystem, logs[0].OptimizeType)
}

func TestDispatch_ProfessionalPrefix(t *testing.T) {
	h := newHarness(t)
	h.menu(chat.MenuBasic)
	h.say("pro: 写一段产品介绍")

	assert.Equal(t, 1, h.gen.CountContaining("用户提示词精准描述专家"))
	logs := h.store.PromptLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OptimizeUserProfessional, logs[0].OptimizeType)
	assert.Equal(t, "写一段产品介绍", logs[0].OriginalPrompt)
}

func TestDispatch_IterateRevisesLastResult(t *testing.T) {
	h := newHarness(t)
	h.menu(chat.MenuBasic)

	h.say("改: 更简洁")
	assert.Equal(t, msgNothingToRevise, h.chat.LastText())
	assert.Empty(t, h.store.PromptLogs())

	h.say("写一首关于秋天的诗")
	assert.Equal(t, optimized, h.view().LastResult)

	h.say("改: 更简洁一些")
	assert.Equal(t, 1, h.gen.CountContaining("## Previous Prompt\n"+optimized))
	assert.Equal(t, 1, h.gen.CountContaining("更简洁一些"))
	// revisions skip the clarification check
	assert.Equal(t, 1, h.gen.CountContaining("提示词咨询顾问"))

	logs := h.store.PromptLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, models.OptimizeIterate, logs[1].OptimizeType)
	assert.Equal(t, optimized, logs[1].OriginalPrompt)

	card := h.lastCard(t)
	assert.Contains(t, card.Body, "**原始提示词**：\n[修改意见] 更简洁一些")

	h.menu(chat.MenuBasic)
	assert.Empty(t, h.view().LastResult)
}

func TestDispatch_RecordsChatUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.Dispatch(ctx, chat.Event{Type: chat.EventMenu, UserID: user, UserName: "张三", MenuKey: chat.MenuBasic})
	h.say("写一首诗")

	users, err := h.store.GetUsers(ctx, []string{user})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "张三", users[user].Name)
}

func TestDispatch_OptimizeFailure(t *testing.T) {
	h := newHarness(t, rule{markers: []string{"结构化提示词优化专家"}, err: errors.New("upstream 500")})
	h.menu(chat.MenuBasic)
	h.say("写一首诗")

	assert.Equal(t, msgOptimizeFailed, h.chat.LastText())
	assert.Empty(t, h.store.PromptLogs())
}

func TestDispatch_ImageFlow(t *testing.T) {
	h := newHarness(t)
	h.chat.Files["photo-1"] = []byte("jpeg")
	h.menu(chat.MenuImage)

	h.photo("photo-1")
	card := h.lastCard(t)
	assert.Equal(t, "✅ 图片分析完成", card.Title)
	assert.Contains(t, card.Body, imageDesc)
	assert.Equal(t, imageDesc, h.view().ImageDesc)
	require.Len(t, h.gen.ImageRequests(), 1)
	assert.Equal(t, []byte("jpeg"), h.gen.ImageRequests()[0].Image)

	h.say("做成咖啡店海报")
	card = h.lastCard(t)
	assert.Contains(t, card.Body, "[基于图片] 做成咖啡店海报")
	assert.Equal(t, "模式: 图片模式", card.Note)
	assert.Equal(t, 1, h.gen.CountContaining("【参考图片画面信息】：\n"+imageDesc))

	logs := h.store.PromptLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OptimizeImage, logs[0].OptimizeType)
}

func TestDispatch_ImageErrors(t *testing.T) {
	h := newHarness(t)
	h.menu(chat.MenuBasic)
	h.photo("photo-1")
	assert.Equal(t, msgImageMismatch, h.chat.LastText())

	h.menu(chat.MenuImage)
	h.photo("missing")
	assert.Equal(t, msgImageDownload, h.chat.LastText())
	assert.Empty(t, h.view().ImageDesc)
}

func TestDispatch_ImageTextOnly(t *testing.T) {
	h := newHarness(t,
		rule{markers: []string{`uploaded): "直接优化"`}, reply: "FORCE_TEXT"},
		rule{markers: []string{`uploaded): "一只猫"`}, reply: "GEN_IMAGE"},
	)
	h.menu(chat.MenuImage)

	h.say("直接优化")
	assert.Equal(t, msgNeedDescription, h.chat.LastText())

	h.say("现代客厅里的一张灰色沙发")
	assert.Equal(t, msgSendPicture, h.chat.LastText())
	assert.Equal(t, "现代客厅里的一张灰色沙发", h.view().PendingText)

	h.say("直接优化")
	card := h.lastCard(t)
	assert.Contains(t, card.Body, "[图片模式-纯文字] 现代客厅里的一张灰色沙发")
	assert.Empty(t, h.view().PendingText)

	h.say("一只猫")
	card = h.lastCard(t)
	assert.Contains(t, card.Body, "[图片模式-纯文字] 一只猫")
	assert.Equal(t, 2, h.gen.CountContaining("【用户原始指令】"))

	// too short to hold
	h.say("你好")
	assert.Empty(t, h.view().PendingText)
}

func TestDispatch_Search(t *testing.T) {
	h := newHarness(t)
	h.menu(chat.MenuSearch)
	h.say(" 向量数据库 ")
	assert.Equal(t, "🔍 正在为您检索关键词：【向量数据库】\n\n(功能开发中...)", h.chat.LastText())
}

func TestDispatch_ReportSync(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "u2", "李四", now.Add(-3*time.Hour), "完成登录模块")
	h.menu(chat.MenuReport)

	h.say("立即运行")
	assert.Equal(t, []string{msgSyncStarted, msgSyncDone}, h.chat.Texts())

	records, err := h.store.SearchReports(context.Background(), storage.ReportFilter{Kinds: []models.ReportKind{models.KindDailyReport}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "85", records[0].Score)
	assert.Equal(t, "李四", records[0].SubmitterName)
}

func TestDispatch_ReportSummaryKeyword(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "u2", "李四", time.Date(2026, 2, 9, 18, 30, 0, 0, cst), "完成登录模块")
	h.menu(chat.MenuReport)

	h.say("昨天总结")
	card := h.lastCard(t)
	assert.Equal(t, "✅ 日总结完成", card.Title)
	assert.Contains(t, card.Body, "**📅 分析周期**: 2026-02-09 (日总结)")
	assert.Contains(t, card.Body, "**🏆 李四 日总结评分: 80/100**\n\n进展顺利。")
	assert.Equal(t, 0, h.gen.CountContaining("意图识别助手"))

	saved, err := h.store.SearchReports(context.Background(), storage.ReportFilter{Kinds: []models.ReportKind{models.KindDailySummary}})
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestDispatch_ReportSummaryEmpty(t *testing.T) {
	h := newHarness(t)
	h.menu(chat.MenuReport)
	h.say("上月总结")

	card := h.lastCard(t)
	assert.Equal(t, "✅ 月总结完成", card.Title)
	assert.Contains(t, card.Body, "⚠️ 该月份没有找到日报数据。")
}

func TestDispatch_ReportSummaryFromModel(t *testing.T) {
	h := newHarness(t, rule{
		markers: []string{"意图识别助手", "这周的工作情况"},
		reply:   `{"type": "weekly", "date_info": "本周"}`,
	})
	h.submit(t, "u2", "李四", time.Date(2026, 2, 9, 18, 30, 0, 0, cst), "完成登录模块")
	h.menu(chat.MenuReport)

	h.say("帮我看看这周的工作情况")
	card := h.lastCard(t)
	assert.Equal(t, "✅ 周度递归进步总结完成", card.Title)
	assert.Contains(t, card.Body, "李四")
	assert.Equal(t, 0, h.gen.CountContaining("Date Parsing Assistant"))
}

func TestDispatch_ReportQuery(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "u2", "李四", time.Date(2026, 2, 9, 18, 30, 0, 0, cst), "a")
	h.submit(t, "u3", "王五", time.Date(2026, 2, 9, 20, 5, 0, 0, cst), "b")
	h.submit(t, "u4", "赵六", time.Date(2026, 2, 10, 9, 0, 0, 0, cst), "c")
	h.menu(chat.MenuReport)

	h.say("查询昨天的日报")
	texts := h.chat.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "🔍 正在查询 2026-02-09 的汇报记录，请稍候...", texts[0])
	assert.Equal(t, "📊 **2026-02-09汇报统计** (共 2 条)：\n\n✅ 李四 (18:30)\n✅ 王五 (20:05)", texts[1])
}

func TestDispatch_ReportQueryEmpty(t *testing.T) {
	h := newHarness(t)
	h.menu(chat.MenuReport)
	h.say("查看昨天")
	assert.Equal(t, "⚠️ 2026-02-09暂无汇报记录。", h.chat.LastText())
}

func TestDispatch_ReportAuthorUsesYesterday(t *testing.T) {
	h := newHarness(t)
	h.submit(t, user, "张三", time.Date(2026, 2, 9, 18, 0, 0, 0, cst), "完成接口评审")
	h.submit(t, "u2", "李四", time.Date(2026, 2, 9, 19, 0, 0, 0, cst), "别人的日报")
	h.menu(chat.MenuReport)

	h.say("今天完成了接口开发，明天计划联调")
	card := h.lastCard(t)
	assert.Equal(t, "✅ 提示词优化完成", card.Title)
	assert.Equal(t, "模式: 日报优化", card.Note)

	assert.Equal(t, 1, h.gen.CountContaining("Senior Technical Writer"))
	assert.Equal(t, 1, h.gen.CountContaining("【昨日汇报参考】：\n【今日完成】: 完成接口评审"))
	assert.Equal(t, 0, h.gen.CountContaining("别人的日报"))

	logs := h.store.PromptLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.OptimizeReport, logs[0].OptimizeType)
}
