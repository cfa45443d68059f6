package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/chat/chattest"
)

func TestCardStream_Cadence(t *testing.T) {
	rec := chattest.New()
	ctx := context.Background()
	id, err := rec.SendCard(ctx, "u1", chat.ImageAnalysisCard("", false))
	assert.NoError(t, err)

	s := chat.NewCardStream(ctx, rec, id, 5, chat.ImageAnalysisCard, zap.NewNop())
	for _, chunk := range []string{"一二", "三", "四五", "六七八九十", "尾"} {
		assert.NoError(t, s.Write(chunk))
	}
	// edits after 5 and 10 runes
	assert.Equal(t, 2, s.Updates())
	assert.Equal(t, "一二三四五六七八九十尾", s.Content())

	s.Finish()
	assert.Equal(t, 3, rec.Edits(id))
	final := rec.Final(id)
	assert.Equal(t, "✅ 图片分析完成", final.Title)
	assert.Contains(t, final.Body, "一二三四五六七八九十尾")
}

func TestCardStream_EditFailuresDoNotStop(t *testing.T) {
	rec := chattest.New()
	rec.EditErr = errors.New("rate limited")
	s := chat.NewCardStream(context.Background(), rec, "msg-x", 1, func(content string, finished bool) chat.Card {
		return chat.Card{Body: content}
	}, zap.NewNop())

	assert.NoError(t, s.Write("a"))
	assert.NoError(t, s.Write("b"))
	s.Replace(chat.Card{Title: "failed"})
	assert.Equal(t, 3, rec.Edits("msg-x"))
	assert.Equal(t, "ab", s.Content())
}

func TestCards(t *testing.T) {
	c := chat.OptimizationCard("写诗", "", "基础模式", false)
	assert.Contains(t, c.Body, "(思考中...)")
	assert.Equal(t, "模式: 基础模式", c.Note)

	c = chat.OptimizationCard("写诗", "```markdown\n结果\n```", "", true)
	assert.Equal(t, "✅ 提示词优化完成", c.Title)
	assert.Contains(t, c.Body, "**优化结果**：\n结果")
	assert.Empty(t, c.Note)

	c = chat.SummaryCard("周总结", "2026-02-09 至 2026-02-11", "", false)
	assert.Equal(t, "📊 正在生成周度递归进步总结...", c.Title)
	assert.Contains(t, c.Body, "**📅 分析周期**: 2026-02-09 至 2026-02-11 (周总结)")

	c = chat.SummaryCard("日总结", "2026-02-11", "内容", true)
	assert.Equal(t, "✅ 日总结完成", c.Title)
	assert.Equal(t, chat.ColorGreen, c.Color)

	c = chat.ClarificationCard([]string{"目标读者是谁？", "篇幅多长？"}, "信息不足")
	assert.Contains(t, c.Body, "1. 目标读者是谁？\n2. 篇幅多长？")
	assert.Contains(t, c.Body, "**信息不足**")
}
