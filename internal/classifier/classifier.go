package classifier

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xaenox/report-bot/internal/models"
)

// SummaryIntent is a request to summarize a period. DateInfo is the raw date
// fragment ("昨天", "02-09", "上周", "1月", ...) left for date resolution.
type SummaryIntent struct {
	Period   models.Period `json:"type"`
	DateInfo string        `json:"date_info"`
}

func (s SummaryIntent) Found() bool { return s.Period.Valid() }

// Policy holds the hand-tuned keyword lists. The query/report split is a
// heuristic with no correctness bound, so it is kept configurable.
type Policy struct {
	SyncKeywords []string
	QueryWords   []string
	ReportWords  []string
	// A query-looking text longer than this that contains a digit is treated
	// as report content, e.g. "1. 查看了文档 2. ...".
	DigitOverrideLen int
}

func DefaultPolicy() Policy {
	return Policy{
		SyncKeywords:     []string{"同步日报", "立即运行", "手动同步", "运行同步", "sync reports"},
		QueryWords:       []string{"查询", "查看", "看看", "找一下", "搜索"},
		ReportWords:      []string{"完成", "计划", "做了", "待办", "今日", "明日", "思考", "逻辑", "实现"},
		DigitOverrideLen: 15,
	}
}

var (
	dailyRe       = regexp.MustCompile(`(日总结|今日总结|今天总结|昨天总结|前天总结|\d{1,2}-\d{1,2}总结)`)
	dailyDateRe   = regexp.MustCompile(`(\d{1,2}-\d{1,2}|昨天|今天|今日|前天)`)
	weeklyRe      = regexp.MustCompile(`(?i)(周总结|本周总结|上周总结|一周总结|周报总结|week\s*summary)`)
	monthlyRe     = regexp.MustCompile(`(?i)(月总结|本月总结|上月总结|\d+月总结|month\s*summary)`)
	monthlyDateRe = regexp.MustCompile(`(\d+月|上月|本月)`)
)

// KeywordClassifier is the fast, model-free path of intent detection
type KeywordClassifier struct {
	policy Policy
}

func NewKeywordClassifier(policy Policy) *KeywordClassifier {
	return &KeywordClassifier{policy: policy}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func (c *KeywordClassifier) IsSyncTrigger(text string) bool {
	return containsAny(text, c.policy.SyncKeywords)
}

// MatchSummary checks daily, weekly and monthly patterns in that order.
func (c *KeywordClassifier) MatchSummary(text string) (SummaryIntent, bool) {
	switch {
	case dailyRe.MatchString(text):
		date := "今天"
		if m := dailyDateRe.FindStringSubmatch(text); m != nil {
			date = m[1]
		}
		return SummaryIntent{Period: models.PeriodDaily, DateInfo: date}, true

	case weeklyRe.MatchString(text):
		date := "本周"
		if strings.Contains(text, "上周") || strings.Contains(strings.ToLower(text), "last week") {
			date = "上周"
		}
		return SummaryIntent{Period: models.PeriodWeekly, DateInfo: date}, true

	case monthlyRe.MatchString(text):
		date := "本月"
		if m := monthlyDateRe.FindStringSubmatch(text); m != nil {
			date = m[1]
		}
		return SummaryIntent{Period: models.PeriodMonthly, DateInfo: date}, true
	}
	return SummaryIntent{Period: models.PeriodNone}, false
}

// IsQuery decides between looking up history and authoring a new report.
func (c *KeywordClassifier) IsQuery(text string) bool {
	query := containsAny(text, c.policy.QueryWords)
	report := containsAny(text, c.policy.ReportWords)

	if query && utf8.RuneCountInString(text) > c.policy.DigitOverrideLen && strings.IndexFunc(text, unicode.IsDigit) >= 0 {
		query = false
	}
	return query && !report
}
