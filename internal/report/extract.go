package report

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/xaenox/report-bot/internal/llm"
	"github.com/xaenox/report-bot/internal/models"
)

const (
	summaryFallbackRunes = 200
	diagnosisFailAdvice  = "AI 诊断失败，请检查日志。"
	noAdvice             = "无建议"
)

var (
	scoreRe   = regexp.MustCompile(`评分[：:]\s*(\d+)\s*/\s*100`)
	summaryRe = regexp.MustCompile(`##\s*摘要\s*\n([\s\S]*?)(?:\n##|\n#|\z)`)
)

// ExtractSummaryAndScore pulls the "评分: N/100" score and the "## 摘要"
// section out of a generated analysis. Without a summary section the first
// 200 characters of the non-heading lines are used.
func ExtractSummaryAndScore(text string) (string, int) {
	score := 0
	if m := scoreRe.FindStringSubmatch(text); m != nil {
		score, _ = strconv.Atoi(m[1])
	}

	summary := ""
	if m := summaryRe.FindStringSubmatch(text); m != nil {
		summary = strings.TrimSpace(m[1])
	}
	if summary != "" {
		return summary, score
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasPrefix(line, "#") {
			kept = append(kept, line)
		}
	}
	summary = strings.TrimSpace(truncateRunes(strings.Join(kept, "\n"), summaryFallbackRunes))
	if len([]rune(text)) > summaryFallbackRunes {
		summary += "..."
	}
	return summary, score
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ParseFormFields joins the non-empty answers of a form as "【name】: value" lines.
func ParseFormFields(fields []models.FormField) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		lines = append(lines, "【"+f.Name+"】: "+f.Value)
	}
	return strings.Join(lines, "\n")
}

// KindFromRule maps a report rule name to the stored kind.
func KindFromRule(rule string) models.ReportKind {
	if strings.Contains(rule, "周") {
		return models.KindWeeklyReport
	}
	return models.KindDailyReport
}

type Diagnosis struct {
	Advice string
	Score  string
}

func failedDiagnosis() Diagnosis {
	return Diagnosis{Advice: diagnosisFailAdvice, Score: "0"}
}

// ParseDiagnosis reads the {"advice", "score"} answer of the diagnosis
// prompt. Score may come back as a number or a string.
func ParseDiagnosis(resp string) (Diagnosis, error) {
	var raw struct {
		Advice *string         `json:"advice"`
		Score  json.RawMessage `json:"score"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(resp)), &raw); err != nil {
		return failedDiagnosis(), err
	}

	d := Diagnosis{Advice: noAdvice, Score: "0"}
	if raw.Advice != nil {
		d.Advice = *raw.Advice
	}
	if s := bytes.TrimSpace(raw.Score); len(s) > 0 && string(s) != "null" {
		var str string
		if err := json.Unmarshal(s, &str); err == nil {
			d.Score = str
		} else {
			d.Score = string(s)
		}
	}
	return d, nil
}
