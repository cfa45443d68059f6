// Package optimizer turns user text into optimized prompts by rendering the
// matching template and streaming it through the generator.
package optimizer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/llm"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/prompts"
	"github.com/xaenox/report-bot/internal/storage"
)

const systemPrompt = "You are a helpful assistant specialized in prompt engineering."

// Request describes one optimization.
//
// Context holds the user's answer to clarification questions. System and
// professional requests fold it into their own template; every other type
// switches to the context template. Feedback is only read for OptimizeIterate
// and Prompt is then the previous result being revised.
// History is extra background for OptimizeReport (the author's earlier reports).
type Request struct {
	UserID   string
	Prompt   string
	Type     models.OptimizeType
	Context  string
	Feedback string
	History  string
}

type Optimizer struct {
	gen     llm.Generator
	prompts *prompts.Engine
	logs    storage.PromptLogStore
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

// New builds an Optimizer. logs may be nil.
func New(gen llm.Generator, engine *prompts.Engine, logs storage.PromptLogStore, loc *time.Location, logger *zap.Logger) *Optimizer {
	if loc == nil {
		loc = time.Local
	}
	return &Optimizer{
		gen:     gen,
		prompts: engine,
		logs:    logs,
		loc:     loc,
		now:     time.Now,
		logger:  logger,
	}
}

func (o *Optimizer) WithClock(now func() time.Time) *Optimizer {
	o.now = now
	return o
}

func (o *Optimizer) render(req Request) (string, error) {
	original := req.Prompt
	if req.Context != "" {
		switch req.Type {
		case models.OptimizeSystem, models.OptimizeUserProfessional:
			original += "\n\n【补充信息】：\n" + req.Context
		default:
			return o.prompts.Render(prompts.OptimizeWithContext, prompts.Vars{
				"original_prompt":       req.Prompt,
				"clarification_context": req.Context,
			})
		}
	}

	switch req.Type {
	case models.OptimizeSystem:
		return o.prompts.Render(prompts.Analytical, prompts.Vars{"original_prompt": original})
	case models.OptimizeUserProfessional:
		return o.prompts.Render(prompts.UserProfessional, prompts.Vars{"original_prompt": original})
	case models.OptimizeIterate:
		return o.prompts.Render(prompts.Iterate, prompts.Vars{
			"previous_prompt": req.Prompt,
			"user_feedback":   req.Feedback,
		})
	case models.OptimizeImage:
		return o.prompts.Render(prompts.ImageOptimization, prompts.Vars{"original_prompt": req.Prompt})
	case models.OptimizeReport:
		input := req.Prompt
		if req.History != "" {
			input += "\n\n【昨日汇报参考】：\n" + req.History
		}
		return o.prompts.Render(prompts.ReportOptimization, prompts.Vars{
			"user_input":   input,
			"current_date": o.now().In(o.loc).Format(time.DateOnly),
		})
	}
	return o.prompts.Render(prompts.UserBasic, prompts.Vars{"original_prompt": req.Prompt})
}

// Stream runs one optimization, passing chunks to onChunk, and returns the
// full text. A completed result is logged to the prompt log store.
func (o *Optimizer) Stream(ctx context.Context, req Request, onChunk llm.ChunkFunc) (string, error) {
	prompt, err := o.render(req)
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", req.Type, err)
	}

	text, err := o.gen.Stream(ctx, llm.Request{
		Messages: []llm.Message{llm.System(systemPrompt), llm.User(prompt)},
	}, onChunk)
	if err != nil {
		return text, fmt.Errorf("optimize %s: %w", req.Type, err)
	}

	o.saveLog(ctx, req, text)
	return text, nil
}

// StreamWithImage optimizes an instruction against a held image description.
func (o *Optimizer) StreamWithImage(ctx context.Context, userID, instruction, imageDesc string, onChunk llm.ChunkFunc) (string, error) {
	combined, err := o.prompts.Render(prompts.ImageWithContext, prompts.Vars{
		"image_description": imageDesc,
		"user_instruction":  instruction,
	})
	if err != nil {
		return "", err
	}
	return o.Stream(ctx, Request{UserID: userID, Prompt: combined, Type: models.OptimizeImage}, onChunk)
}

// StreamTextOnlyImage builds an image prompt from a text description alone.
func (o *Optimizer) StreamTextOnlyImage(ctx context.Context, userID, instruction string, onChunk llm.ChunkFunc) (string, error) {
	combined, err := o.prompts.Render(prompts.ImageTextOnly, prompts.Vars{"user_instruction": instruction})
	if err != nil {
		return "", err
	}
	return o.Stream(ctx, Request{UserID: userID, Prompt: combined, Type: models.OptimizeImage}, onChunk)
}

// AnalyzeImageStream describes a picture with the vision model.
func (o *Optimizer) AnalyzeImageStream(ctx context.Context, image []byte, onChunk llm.ChunkFunc) (string, error) {
	prompt, err := o.prompts.Render(prompts.ImageAnalysis, nil)
	if err != nil {
		return "", err
	}
	text, err := o.gen.StreamImage(ctx, llm.ImageRequest{Prompt: prompt, Image: image}, onChunk)
	if err != nil {
		return text, fmt.Errorf("analyze image: %w", err)
	}
	return text, nil
}

func (o *Optimizer) saveLog(ctx context.Context, req Request, optimized string) {
	if o.logs == nil {
		return
	}
	typ := req.Type
	if typ == "" {
		typ = models.OptimizeUserBasic
	}
	err := o.logs.SavePromptLog(ctx, &models.PromptLog{
		UserID:          req.UserID,
		OriginalPrompt:  req.Prompt,
		OptimizedPrompt: optimized,
		OptimizeType:    typ,
		CreatedAt:       o.now(),
	})
	if err != nil {
		o.logger.Warn("Failed to save prompt log", zap.String("user_id", req.UserID), zap.Error(err))
	}
}
