package session

import "time"

type EventType int

const (
	EventModeSelected EventType = iota + 1
	EventMessageSeen
	EventImageAnalyzed
	EventPendingTextHeld
	EventPendingTextConsumed
	EventClarificationRequested
	EventClarificationAnswered
	EventResultProduced
)

// Event drives a transition. Text carries the payload for the event types
// that have one (image description, pending text, clarification prompt,
// optimized result). Kind is the optimize type of a clarification.
type Event struct {
	Type EventType
	Mode Mode
	Text string
	Kind string
}

func ModeSelected(m Mode) Event         { return Event{Type: EventModeSelected, Mode: m} }
func MessageSeen() Event                { return Event{Type: EventMessageSeen} }
func ImageAnalyzed(desc string) Event   { return Event{Type: EventImageAnalyzed, Text: desc} }
func PendingTextHeld(text string) Event { return Event{Type: EventPendingTextHeld, Text: text} }
func PendingTextConsumed() Event        { return Event{Type: EventPendingTextConsumed} }
func ClarificationAnswered() Event      { return Event{Type: EventClarificationAnswered} }
func ResultProduced(text string) Event  { return Event{Type: EventResultProduced, Text: text} }

func ClarificationRequested(prompt, kind string) Event {
	return Event{Type: EventClarificationRequested, Text: prompt, Kind: kind}
}

// Action tells the caller what the transition asks for.
type Action int

const (
	ActionNone Action = iota
	ActionShowModeCard
	ActionRejectUnknownMode
	ActionPromptModeSelection
)

// Apply is the transition function. It never mutates its input.
func Apply(s State, ev Event, now time.Time, ttl time.Duration) (State, Action) {
	s = s.prune(now)
	exp := now.Add(ttl)

	switch ev.Type {
	case EventModeSelected:
		if !ev.Mode.Valid() {
			return s, ActionRejectUnknownMode
		}
		s.Mode, s.ModeExpiresAt = ev.Mode, exp
		s.ImageDesc = Slot{}
		s.Clarification, s.ClarificationKind = Slot{}, ""
		s.LastResult = Slot{}
		return s, ActionShowModeCard

	case EventMessageSeen:
		if s.Mode == ModeNone {
			return s, ActionPromptModeSelection
		}
		s.ModeExpiresAt = exp
		return s, ActionNone

	case EventImageAnalyzed:
		s.ImageDesc = slot(ev.Text, exp)
	case EventPendingTextHeld:
		s.PendingText = slot(ev.Text, exp)
	case EventPendingTextConsumed:
		s.PendingText = Slot{}
	case EventClarificationRequested:
		s.Clarification, s.ClarificationKind = slot(ev.Text, exp), ev.Kind
	case EventClarificationAnswered:
		s.Clarification, s.ClarificationKind = Slot{}, ""
	case EventResultProduced:
		s.LastResult = slot(ev.Text, exp)
	}
	return s, ActionNone
}

func slot(v string, exp time.Time) Slot {
	if v == "" {
		return Slot{}
	}
	return Slot{Value: v, ExpiresAt: exp}
}
