package chat

import (
	"fmt"
	"strings"
)

const switchNote = "💡 提示：您可以随时点击菜单切换其他模式"

func BasicModeCard() Card {
	return Card{
		Title: "✨ 已切换至基础模式",
		Body:  "您现在处于**基础模式**。\n请直接发送您的提示词草稿，我将为您优化。",
		Note:  switchNote,
		Color: ColorBlue,
	}
}

func ImageModeCard() Card {
	return Card{
		Title: "🖼️ 已切换至图片模式",
		Body:  "您现在处于**图片模式**。\n请发送图片或详细的画面描述。",
		Note:  switchNote,
		Color: ColorWathet,
	}
}

func SearchModeCard() Card {
	return Card{
		Title: "🔍 已切换至关键词检索模式",
		Body:  "您现在处于**关键词检索模式**。\n🚧 **该功能暂未实现，敬请期待！**",
		Note:  switchNote,
		Color: ColorOrange,
	}
}

func ReportModeCard() Card {
	return Card{
		Title: "📊 已切换至日报周报模式",
		Body: "您现在处于**日报周报总结模式**。\n\n您可以：\n" +
			"1. **发送工作内容**（如\"今天完成了...明天计划...\"），我将为您生成专业日报。\n" +
			"2. **查询历史汇报**（如\"查询昨天的日报\"），我将为您查找团队记录。\n" +
			"3. **生成总结报告**，支持以下关键词：\n" +
			"   - 📅 **日总结**：\"日总结\"、\"今日总结\"、\"昨天总结\"、\"02-09总结\"\n" +
			"   - 📊 **周总结**：\"周总结\"、\"本周总结\"、\"上周总结\"、\"一周总结\"\n" +
			"   - 📈 **月总结**：\"月总结\"、\"本月总结\"、\"上月总结\"、\"1月总结\"\n\n" +
			"💡 提示：也支持复杂表达，如\"帮我看看这周的工作情况\"",
		Note:  "💡 提示：输入内容越详细，生成的日报越专业",
		Color: ColorGreen,
	}
}

// cleanMarkdown drops code fences the model likes to wrap answers in.
func cleanMarkdown(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "```markdown", "")
	return strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
}

// OptimizationCard shows a prompt being optimized. kind is shown as a note
// ("基础模式", "图片模式", "日报优化").
func OptimizationCard(original, content, kind string, finished bool) Card {
	display := cleanMarkdown(content)
	if display == "" && !finished {
		display = "(思考中...)"
	}
	c := Card{
		Title: "🚀 正在生成优化结果...",
		Body:  fmt.Sprintf("**原始提示词**：\n%s\n\n**优化结果**：\n%s", original, display),
		Color: ColorBlue,
	}
	if kind != "" {
		c.Note = "模式: " + kind
	}
	if finished {
		c.Title, c.Color = "✅ 提示词优化完成", ColorGreen
	}
	return c
}

func ImageAnalysisCard(content string, finished bool) Card {
	if finished {
		return Card{
			Title: "✅ 图片分析完成",
			Body:  "**【画面摘要】：**\n" + strings.TrimSpace(content) + "\n\n**请发送您的提示词指令，我将结合画面信息为您优化！**",
			Color: ColorGreen,
		}
	}
	if strings.TrimSpace(content) == "" {
		return Card{Title: "🖼️ 正在分析画面...", Body: "正在观察画面细节，生成画面摘要..", Color: ColorBlue}
	}
	return Card{Title: "🖼️ 正在分析画面...", Body: "**【画面摘要】：**\n" + strings.TrimSpace(content), Color: ColorBlue}
}

// SummaryCard shows a streamed summary. kind is "日总结", "周总结" or "月总结";
// period is the resolved range label.
func SummaryCard(kind, period, content string, finished bool) Card {
	name := kind
	if kind == "周总结" {
		name = "周度递归进步总结"
	}
	header := fmt.Sprintf("**📅 分析周期**: %s (%s)\n\n", period, kind)

	c := Card{Title: fmt.Sprintf("📊 正在生成%s...", name), Color: ColorPurple}
	switch {
	case finished:
		c.Title, c.Color = fmt.Sprintf("✅ %s完成", name), ColorGreen
		c.Body = header + cleanMarkdown(content)
	case strings.TrimSpace(content) == "":
		c.Body = header + "正在拉取日报数据并进行递归分析，请稍候.."
	default:
		c.Body = header + cleanMarkdown(content)
	}
	return c
}

func ClarificationCard(questions []string, reason string) Card {
	lines := make([]string, len(questions))
	for i, q := range questions {
		lines[i] = fmt.Sprintf("%d. %s", i+1, q)
	}
	return Card{
		Title: "🤔 需要您补充一点细节",
		Body: fmt.Sprintf("为了提供更精准的提示词，我需要了解更多信息：\n\n**%s**\n\n请直接回复以下问题的答案：\n%s",
			reason, strings.Join(lines, "\n")),
		Note:  "💡 直接回复答案即可，我会结合您的回答进行最终优化",
		Color: ColorOrange,
	}
}
