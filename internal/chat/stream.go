package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// RenderFunc builds the card for the text accumulated so far.
type RenderFunc func(content string, finished bool) Card

// CardStream relays a model stream into one card, editing it whenever at
// least Every characters have arrived since the previous edit. Update
// failures are logged and never stop the stream.
type CardStream struct {
	ctx       context.Context
	io        ChatIO
	messageID string
	render    RenderFunc
	every     int
	logger    *zap.Logger

	buf     strings.Builder
	runes   int
	updated int
	updates int
}

func NewCardStream(ctx context.Context, io ChatIO, messageID string, every int, render RenderFunc, logger *zap.Logger) *CardStream {
	if every <= 0 {
		every = 1
	}
	return &CardStream{
		ctx:       ctx,
		io:        io,
		messageID: messageID,
		render:    render,
		every:     every,
		logger:    logger,
	}
}

// Write has the llm.ChunkFunc signature.
func (s *CardStream) Write(chunk string) error {
	s.buf.WriteString(chunk)
	s.runes += utf8.RuneCountInString(chunk)
	if s.runes-s.updated >= s.every {
		s.push(s.render(s.buf.String(), false))
		s.updated = s.runes
	}
	return nil
}

func (s *CardStream) Content() string { return s.buf.String() }

// Updates counts the edits sent, final ones included.
func (s *CardStream) Updates() int { return s.updates }

// Finish renders the accumulated text as finished.
func (s *CardStream) Finish() {
	s.push(s.render(s.buf.String(), true))
}

// Replace ends the stream with an arbitrary card.
func (s *CardStream) Replace(card Card) {
	s.push(card)
}

func (s *CardStream) push(card Card) {
	s.updates++
	if err := s.io.UpdateCard(s.ctx, s.messageID, card); err != nil {
		s.logger.Warn("Failed to update card",
			zap.String("message_id", s.messageID),
			zap.Error(err))
	}
}
