package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	MaxTokens   int
	Temperature float64
}

// OpenAIClient talks to any OpenAI compatible chat completion endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	visionModel string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

func NewOpenAIClient(cfg Config, logger *zap.Logger) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	c := &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.temperature <= 0 {
		c.temperature = DefaultTemperature
	}
	if c.visionModel == "" {
		c.visionModel = c.model
	}
	return c
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	r := c.chatRequest(req)
	c.logger.Debug("Calling LLM", zap.String("model", r.Model), zap.Int("max_tokens", r.MaxTokens))
	return c.complete(ctx, r)
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (string, error) {
	r := c.chatRequest(req)
	c.logger.Debug("Calling LLM stream", zap.String("model", r.Model), zap.Int("max_tokens", r.MaxTokens))
	return c.stream(ctx, r, onChunk)
}

func (c *OpenAIClient) CompleteImage(ctx context.Context, req ImageRequest) (string, error) {
	r := c.imageRequest(req)
	c.logger.Debug("Calling vision LLM", zap.String("model", r.Model), zap.Int("image_bytes", len(req.Image)))
	return c.complete(ctx, r)
}

func (c *OpenAIClient) StreamImage(ctx context.Context, req ImageRequest, onChunk ChunkFunc) (string, error) {
	r := c.imageRequest(req)
	c.logger.Debug("Calling vision LLM stream", zap.String("model", r.Model), zap.Int("image_bytes", len(req.Image)))
	return c.stream(ctx, r, onChunk)
}

func (c *OpenAIClient) complete(ctx context.Context, r openai.ChatCompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, r)
	if err != nil {
		c.logger.Error("LLM call failed", zap.Error(err), zap.String("model", r.Model))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) stream(ctx context.Context, r openai.ChatCompletionRequest, onChunk ChunkFunc) (string, error) {
	r.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		c.logger.Error("LLM stream call failed", zap.Error(err), zap.String("model", r.Model))
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			c.logger.Error("LLM stream interrupted", zap.Error(err), zap.Int("received", full.Len()))
			return full.String(), fmt.Errorf("receive completion stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}

		chunk := resp.Choices[0].Delta.Content
		full.WriteString(chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return full.String(), err
			}
		}
	}
}

func (c *OpenAIClient) chatRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   c.tokens(req.MaxTokens),
		Temperature: c.temp(req.Temperature),
	}
}

func (c *OpenAIClient) imageRequest(req ImageRequest) openai.ChatCompletionRequest {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(req.Image)
	return openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailAuto},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: req.Prompt,
					},
				},
			},
		},
		MaxTokens:   c.tokens(req.MaxTokens),
		Temperature: c.temp(req.Temperature),
	}
}

func (c *OpenAIClient) tokens(n int) int {
	if n > 0 {
		return n
	}
	return c.maxTokens
}

func (c *OpenAIClient) temp(t float32) float32 {
	if t > 0 {
		return t
	}
	return c.temperature
}
