// Package chattest provides an in-memory chat.ChatIO that records traffic.
package chattest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xaenox/report-bot/internal/chat"
)

type SentCard struct {
	UserID    string
	MessageID string
	Card      chat.Card
}

type Text struct {
	UserID string
	Text   string
}

// Recorder implements chat.ChatIO. Files maps file keys to content.
type Recorder struct {
	mu      sync.Mutex
	texts   []Text
	cards   []SentCard
	latest  map[string]chat.Card
	edits   map[string]int
	Files   map[string][]byte
	SendErr error
	EditErr error
	seq     int
}

func New() *Recorder {
	return &Recorder{
		latest: make(map[string]chat.Card),
		edits:  make(map[string]int),
		Files:  make(map[string][]byte),
	}
}

func (r *Recorder) SendText(ctx context.Context, userID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	r.texts = append(r.texts, Text{UserID: userID, Text: text})
	return nil
}

func (r *Recorder) SendCard(ctx context.Context, userID string, card chat.Card) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return "", r.SendErr
	}
	r.seq++
	id := fmt.Sprintf("msg-%d", r.seq)
	r.cards = append(r.cards, SentCard{UserID: userID, MessageID: id, Card: card})
	r.latest[id] = card
	return id, nil
}

func (r *Recorder) UpdateCard(ctx context.Context, messageID string, card chat.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits[messageID]++
	if r.EditErr != nil {
		return r.EditErr
	}
	r.latest[messageID] = card
	return nil
}

func (r *Recorder) FileContent(ctx context.Context, messageID, fileKey string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.Files[fileKey]
	if !ok {
		return nil, chat.ErrNoFile
	}
	return data, nil
}

func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	for i, t := range r.texts {
		out[i] = t.Text
	}
	return out
}

func (r *Recorder) LastText() string {
	texts := r.Texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// Cards returns sent cards as first sent.
func (r *Recorder) Cards() []SentCard {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentCard(nil), r.cards...)
}

// Final returns the current state of a card after all edits.
func (r *Recorder) Final(messageID string) chat.Card {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest[messageID]
}

// LastCard returns the final state of the most recently sent card.
func (r *Recorder) LastCard() (chat.Card, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cards) == 0 {
		return chat.Card{}, false
	}
	return r.latest[r.cards[len(r.cards)-1].MessageID], true
}

func (r *Recorder) Edits(messageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.edits[messageID]
}

// Transcript joins every text and final card body, for loose assertions.
func (r *Recorder) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, t := range r.texts {
		b.WriteString(t.Text + "\n")
	}
	for _, c := range r.cards {
		card := r.latest[c.MessageID]
		b.WriteString(card.Title + "\n" + card.Body + "\n")
	}
	return b.String()
}
