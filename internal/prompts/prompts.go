package prompts

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

//go:embed templates/*.md
var templateFS embed.FS

type ID string

const (
	Analytical               ID = "analytical"
	UserProfessional         ID = "user_professional"
	UserBasic                ID = "user_basic"
	Iterate                  ID = "iterate"
	ClarificationCheck       ID = "clarification_check"
	OptimizeWithContext      ID = "optimize_with_context"
	ImageOptimization        ID = "image_optimization"
	ImageAnalysis            ID = "image_analysis"
	ImageModeIntent          ID = "image_mode_intent"
	ImageWithContext         ID = "image_with_context"
	ImageTextOnly            ID = "image_text_only"
	ReportIntentRecognition  ID = "report_intent_recognition"
	ReportOptimization       ID = "report_optimization"
	ReportDiagnosis          ID = "report_diagnosis"
	WeeklyRecursiveSummary   ID = "weekly_recursive_summary"
	SummaryIntentRecognition ID = "summary_intent_recognition"
	DailySummary             ID = "daily_summary"
	MonthlySummary           ID = "monthly_summary"
	DailyCompress            ID = "daily_compress"
)

var (
	ErrUnknownTemplate = errors.New("unknown prompt template")
	ErrMissingVar      = errors.New("missing template variable")
)

var placeholderRe = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

// Vars maps placeholder names to their values
type Vars map[string]string

type template struct {
	text         string
	placeholders []string
}

// Engine renders {{name}} placeholders in the embedded templates.
type Engine struct {
	templates map[ID]template
}

func New() (*Engine, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	e := &Engine{templates: make(map[ID]template, len(entries))}
	for _, entry := range entries {
		raw, err := templateFS.ReadFile(path.Join("templates", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		id := ID(strings.TrimSuffix(entry.Name(), ".md"))
		e.templates[id] = parse(string(raw))
	}
	return e, nil
}

// MustNew panics if the embedded templates cannot be read.
func MustNew() *Engine {
	e, err := New()
	if err != nil {
		panic(err)
	}
	return e
}

func parse(text string) template {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return template{text: text, placeholders: names}
}

// Placeholders lists the variable names a template expects.
func (e *Engine) Placeholders(id ID) ([]string, error) {
	t, ok := e.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	return append([]string(nil), t.placeholders...), nil
}

// Render substitutes every placeholder of id. Values are inserted verbatim,
// so braces inside user text are never re-expanded.
func (e *Engine) Render(id ID, vars Vars) (string, error) {
	t, ok := e.templates[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}

	pairs := make([]string, 0, len(t.placeholders)*2)
	var missing []string
	for _, name := range t.placeholders {
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		pairs = append(pairs, "{{"+name+"}}", v)
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s needs %s", ErrMissingVar, id, strings.Join(missing, ", "))
	}
	if len(pairs) == 0 {
		return t.text, nil
	}
	return strings.NewReplacer(pairs...).Replace(t.text), nil
}
