// Package chat is the boundary between the router and a messaging platform.
package chat

import (
	"context"
	"errors"
)

// Menu keys delivered by EventMenu.
const (
	MenuBasic  = "MENU_BASIC_MODE"
	MenuImage  = "MENU_IMAGE_MODE"
	MenuSearch = "MENU_SEARCH_MODE"
	MenuReport = "MENU_REPORT_MODE"
)

type Color string

const (
	ColorBlue   Color = "blue"
	ColorWathet Color = "wathet"
	ColorGreen  Color = "green"
	ColorOrange Color = "orange"
	ColorPurple Color = "purple"
	ColorRed    Color = "red"
)

// Card is a titled rich message that can be edited in place after sending.
// Body is lightweight markdown (**bold**, lists, > quotes).
type Card struct {
	Title string
	Body  string
	Note  string
	Color Color
}

var ErrNoFile = errors.New("file not found")

// ChatIO is what the router needs from a messaging platform. Callers treat
// every failure as non-fatal.
type ChatIO interface {
	SendText(ctx context.Context, userID, text string) error
	// SendCard returns a handle for UpdateCard.
	SendCard(ctx context.Context, userID string, card Card) (string, error)
	UpdateCard(ctx context.Context, messageID string, card Card) error
	FileContent(ctx context.Context, messageID, fileKey string) ([]byte, error)
}

type EventType int

const (
	EventMessage EventType = iota
	EventMenu
	EventEntered
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageOther MessageType = "other"
)

// Event is a decoded inbound platform event.
type Event struct {
	Type      EventType
	UserID    string
	UserName  string
	MessageID string

	// EventMessage
	MessageType MessageType
	Text        string
	FileKey     string

	// EventMenu
	MenuKey string
}
