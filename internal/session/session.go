// Package session keeps per-user conversational state.
//
// A State is a plain value. Apply is a pure transition function; every field
// carries its own expiry and View hides anything that has lapsed, so callers
// never depend on a backing store expiring keys for them.
package session

import "time"

const DefaultTTL = 10 * time.Minute

type Mode string

const (
	ModeNone   Mode = ""
	ModeBasic  Mode = "basic"
	ModeImage  Mode = "image"
	ModeSearch Mode = "search"
	ModeReport Mode = "report"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeBasic, ModeImage, ModeSearch, ModeReport:
		return true
	}
	return false
}

// Slot is a value with an expiry. The zero Slot is empty.
type Slot struct {
	Value     string
	ExpiresAt time.Time
}

func (s Slot) get(now time.Time) (string, bool) {
	if s.Value == "" || !now.Before(s.ExpiresAt) {
		return "", false
	}
	return s.Value, true
}

type State struct {
	Mode              Mode
	ModeExpiresAt     time.Time
	ImageDesc         Slot
	PendingText       Slot
	Clarification     Slot
	// ClarificationKind is the optimize type of the pending clarification
	// and lives and dies with it.
	ClarificationKind string
	LastResult        Slot
}

// View is the live part of a State at a given instant.
type View struct {
	Mode              Mode
	ImageDesc         string
	PendingText       string
	Clarification     string
	ClarificationKind string
	// LastResult is the latest optimized prompt, the base for a revision.
	LastResult        string
}

func (v View) HasMode() bool { return v.Mode != ModeNone }

func (s State) View(now time.Time) View {
	var v View
	if s.Mode != ModeNone && now.Before(s.ModeExpiresAt) {
		v.Mode = s.Mode
	}
	v.ImageDesc, _ = s.ImageDesc.get(now)
	v.PendingText, _ = s.PendingText.get(now)
	if c, ok := s.Clarification.get(now); ok {
		v.Clarification, v.ClarificationKind = c, s.ClarificationKind
	}
	v.LastResult, _ = s.LastResult.get(now)
	return v
}

// Expired reports whether nothing in the state is live anymore.
func (s State) Expired(now time.Time) bool {
	return s.View(now) == View{}
}

// prune drops lapsed fields so a stored state only carries live data
func (s State) prune(now time.Time) State {
	v := s.View(now)
	if v.Mode == ModeNone {
		s.Mode, s.ModeExpiresAt = ModeNone, time.Time{}
	}
	if v.ImageDesc == "" {
		s.ImageDesc = Slot{}
	}
	if v.PendingText == "" {
		s.PendingText = Slot{}
	}
	if v.Clarification == "" {
		s.Clarification, s.ClarificationKind = Slot{}, ""
	}
	if v.LastResult == "" {
		s.LastResult = Slot{}
	}
	return s
}
