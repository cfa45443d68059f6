package classifier

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/llm"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/prompts"
)

const maxClarifyQuestions = 3

// Clarification is the model's verdict on whether a prompt needs more detail.
type Clarification struct {
	Needed    bool
	Questions []string
	Reason    string
}

type ImageIntent string

const (
	ImageIntentGenerate  ImageIntent = "GEN_IMAGE"
	ImageIntentForceText ImageIntent = "FORCE_TEXT"
	ImageIntentOther     ImageIntent = "OTHER"
)

// GPTClassifier asks the model when keywords are not enough. Every method
// degrades to a safe default instead of returning an error.
type GPTClassifier struct {
	gen     llm.Generator
	prompts *prompts.Engine
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

func NewGPTClassifier(gen llm.Generator, engine *prompts.Engine, loc *time.Location, logger *zap.Logger) *GPTClassifier {
	if loc == nil {
		loc = time.Local
	}
	return &GPTClassifier{
		gen:     gen,
		prompts: engine,
		loc:     loc,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the time source
func (c *GPTClassifier) WithClock(now func() time.Time) *GPTClassifier {
	c.now = now
	return c
}

func (c *GPTClassifier) today() time.Time {
	return c.now().In(c.loc)
}

func (c *GPTClassifier) ask(ctx context.Context, id prompts.ID, vars prompts.Vars, temperature float32, maxTokens int) (string, bool) {
	prompt, err := c.prompts.Render(id, vars)
	if err != nil {
		c.logger.Error("Failed to render prompt", zap.String("template", string(id)), zap.Error(err))
		return "", false
	}
	resp, err := c.gen.Complete(ctx, llm.Request{
		Messages:    []llm.Message{llm.User(prompt)},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		c.logger.Error("Failed to get model response", zap.String("template", string(id)), zap.Error(err))
		return "", false
	}
	return strings.TrimSpace(resp), true
}

// SummaryIntent is the slow path behind KeywordClassifier.MatchSummary.
func (c *GPTClassifier) SummaryIntent(ctx context.Context, text string) SummaryIntent {
	none := SummaryIntent{Period: models.PeriodNone}
	resp, ok := c.ask(ctx, prompts.SummaryIntentRecognition, prompts.Vars{
		"user_input":   text,
		"current_date": c.today().Format(time.DateOnly),
	}, 0.1, 200)
	if !ok {
		return none
	}

	var intent SummaryIntent
	if err := json.Unmarshal([]byte(llm.ExtractJSONObject(resp)), &intent); err != nil {
		c.logger.Warn("Failed to parse summary intent", zap.Error(err), zap.String("response", resp))
		return none
	}
	if !intent.Period.Valid() {
		return none
	}
	return intent
}

// CheckClarification returns Needed=false on any failure so the caller
// proceeds straight to optimization.
func (c *GPTClassifier) CheckClarification(ctx context.Context, text string) Clarification {
	resp, ok := c.ask(ctx, prompts.ClarificationCheck, prompts.Vars{"original_prompt": text}, 0.5, 500)
	if !ok || strings.Contains(resp, "NO_QUESTIONS") {
		return Clarification{}
	}

	var parsed struct {
		Questions []string `json:"questions"`
		Reason    string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSONObject(resp)), &parsed); err != nil {
		c.logger.Warn("Failed to parse clarification", zap.Error(err), zap.String("response", resp))
		return Clarification{}
	}

	questions := make([]string, 0, len(parsed.Questions))
	for _, q := range parsed.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return Clarification{}
	}
	if len(questions) > maxClarifyQuestions {
		questions = questions[:maxClarifyQuestions]
	}
	return Clarification{Needed: true, Questions: questions, Reason: parsed.Reason}
}

// ImageModeIntent classifies text sent in image mode without a picture.
func (c *GPTClassifier) ImageModeIntent(ctx context.Context, text string) ImageIntent {
	resp, ok := c.ask(ctx, prompts.ImageModeIntent, prompts.Vars{"user_input": text}, 0.1, 20)
	if !ok {
		return ImageIntentOther
	}
	upper := strings.ToUpper(resp)
	switch {
	case strings.Contains(upper, string(ImageIntentForceText)):
		return ImageIntentForceText
	case strings.Contains(upper, string(ImageIntentGenerate)):
		return ImageIntentGenerate
	}
	return ImageIntentOther
}

// ReportDateRange resolves the period of a history lookup. Anything the
// model cannot answer becomes today.
func (c *GPTClassifier) ReportDateRange(ctx context.Context, text string) models.DateRange {
	today := c.today()
	fallback := dayRange(today, today)

	resp, ok := c.ask(ctx, prompts.ReportIntentRecognition, prompts.Vars{
		"user_input":   text,
		"current_date": today.Format(time.DateOnly),
	}, 0.1, 100)
	if !ok {
		return fallback
	}

	var parsed struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSONObject(resp)), &parsed); err != nil {
		c.logger.Warn("Failed to parse date range", zap.Error(err), zap.String("response", resp))
		return fallback
	}
	start, err := time.ParseInLocation(time.DateOnly, parsed.StartDate, c.loc)
	if err != nil {
		return fallback
	}
	end, err := time.ParseInLocation(time.DateOnly, parsed.EndDate, c.loc)
	if err != nil || end.Before(start) {
		end = start
	}
	return dayRange(start, end)
}

func dayRange(start, end time.Time) models.DateRange {
	loc := start.Location()
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	e := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, int(time.Second-time.Millisecond), loc)

	label := s.Format(time.DateOnly)
	if !s.Equal(time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)) {
		label += " 至 " + e.Format(time.DateOnly)
	}
	return models.DateRange{Start: s, End: e, Label: label}
}
