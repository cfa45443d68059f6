package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultTemperature float32 = 0.7
	DefaultMaxTokens           = 2000
)

var ErrEmptyResponse = errors.New("model returned no choices")

type Message struct {
	Role    string
	Content string
}

func User(content string) Message   { return Message{Role: RoleUser, Content: content} }
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// Request is a text completion. Zero Temperature or MaxTokens fall back to
// the client defaults; an empty Model uses the configured text model.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	Model       string
}

// ImageRequest pairs one image with an instruction for the vision model.
type ImageRequest struct {
	Prompt      string
	Image       []byte
	Temperature float32
	MaxTokens   int
}

// ChunkFunc receives streamed text as it arrives. A non-nil error stops the
// stream and is returned to the caller.
type ChunkFunc func(chunk string) error

type Generator interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onChunk ChunkFunc) (string, error)
	CompleteImage(ctx context.Context, req ImageRequest) (string, error)
	StreamImage(ctx context.Context, req ImageRequest, onChunk ChunkFunc) (string, error)
}
