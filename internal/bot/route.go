package bot

import (
	"strings"

	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/classifier"
	"github.com/xaenox/report-bot/internal/session"
)

type RouteKind int

const (
	RouteIgnore RouteKind = iota
	RouteImageAnalysis
	RouteImageMismatch
	RouteSearch
	RouteReportSync
	RouteReportSummary
	// RouteReportQuery and RouteReportAuthor still get the model's summary
	// intent check before they run.
	RouteReportQuery
	RouteReportAuthor
	RouteImageWithContext
	RouteImageText
	RouteClarificationAnswer
	RouteOptimize
)

var routeNames = map[RouteKind]string{
	RouteIgnore:              "ignore",
	RouteImageAnalysis:       "image_analysis",
	RouteImageMismatch:       "image_mismatch",
	RouteSearch:              "search",
	RouteReportSync:          "report_sync",
	RouteReportSummary:       "report_summary",
	RouteReportQuery:         "report_query",
	RouteReportAuthor:        "report_author",
	RouteImageWithContext:    "image_with_context",
	RouteImageText:           "image_text",
	RouteClarificationAnswer: "clarification_answer",
	RouteOptimize:            "optimize",
}

func (k RouteKind) String() string { return routeNames[k] }

// Route is the decision for one inbound message.
type Route struct {
	Kind    RouteKind
	Text    string
	Summary classifier.SummaryIntent
}

// Decide picks the handler for a message given the live session view. It
// never calls the model; the first matching rule wins. Callers handle the
// no-mode case before calling.
func Decide(v session.View, ev chat.Event, kw *classifier.KeywordClassifier) Route {
	if ev.MessageType == chat.MessageImage {
		if v.Mode == session.ModeImage {
			return Route{Kind: RouteImageAnalysis}
		}
		return Route{Kind: RouteImageMismatch}
	}

	text := strings.TrimSpace(ev.Text)
	if ev.MessageType != chat.MessageText || text == "" {
		return Route{Kind: RouteIgnore}
	}
	r := Route{Text: text}

	switch v.Mode {
	case session.ModeSearch:
		r.Kind = RouteSearch

	case session.ModeReport:
		if kw.IsSyncTrigger(text) {
			r.Kind = RouteReportSync
			break
		}
		if intent, ok := kw.MatchSummary(text); ok {
			r.Kind, r.Summary = RouteReportSummary, intent
			break
		}
		r.Kind = RouteReportAuthor
		if kw.IsQuery(text) {
			r.Kind = RouteReportQuery
		}

	case session.ModeImage:
		r.Kind = RouteImageText
		if v.ImageDesc != "" {
			r.Kind = RouteImageWithContext
		}

	default:
		r.Kind = RouteOptimize
		if v.Clarification != "" {
			r.Kind = RouteClarificationAnswer
		}
	}
	return r
}
