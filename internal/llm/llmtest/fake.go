// Package llmtest provides a scripted llm.Generator for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/xaenox/report-bot/internal/llm"
)

// Fake answers every call with Respond. Streams are cut into ChunkSize rune
// pieces (default 7).
type Fake struct {
	Respond   func(prompt string) (string, error)
	ChunkSize int

	mu       sync.Mutex
	requests []llm.Request
	images   []llm.ImageRequest
}

func New(respond func(prompt string) (string, error)) *Fake {
	return &Fake{Respond: respond}
}

// Reply returns a Fake that always answers text.
func Reply(text string) *Fake {
	return New(func(string) (string, error) { return text, nil })
}

func lastUser(req llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func (f *Fake) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.Respond(lastUser(req))
}

func (f *Fake) Stream(ctx context.Context, req llm.Request, onChunk llm.ChunkFunc) (string, error) {
	text, err := f.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return text, f.emit(text, onChunk)
}

func (f *Fake) CompleteImage(ctx context.Context, req llm.ImageRequest) (string, error) {
	f.mu.Lock()
	f.images = append(f.images, req)
	f.mu.Unlock()
	return f.Respond(req.Prompt)
}

func (f *Fake) StreamImage(ctx context.Context, req llm.ImageRequest, onChunk llm.ChunkFunc) (string, error) {
	text, err := f.CompleteImage(ctx, req)
	if err != nil {
		return "", err
	}
	return text, f.emit(text, onChunk)
}

func (f *Fake) emit(text string, onChunk llm.ChunkFunc) error {
	if onChunk == nil {
		return nil
	}
	size := f.ChunkSize
	if size <= 0 {
		size = 7
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		if err := onChunk(string(runes[i:end])); err != nil {
			return err
		}
	}
	return nil
}

// Requests returns the text requests seen so far.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

func (f *Fake) ImageRequests() []llm.ImageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ImageRequest(nil), f.images...)
}

// CountContaining counts text requests whose last user message contains s.
func (f *Fake) CountContaining(s string) int {
	n := 0
	for _, r := range f.Requests() {
		if strings.Contains(lastUser(r), s) {
			n++
		}
	}
	return n
}
