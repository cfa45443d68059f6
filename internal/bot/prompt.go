package bot

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/classifier"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/optimizer"
	"github.com/xaenox/report-bot/internal/session"
)

const (
	kindBasic = "基础模式"
	kindImage = "图片模式"

	// shorter texts are not worth holding for a later "直接优化"
	minPendingRunes = 6
)

// prefixes pick the template for a basic-mode message. Checked in order.
var prefixes = []struct {
	text string
	typ  models.OptimizeType
}{
	{"sys:", models.OptimizeSystem},
	{"系统:", models.OptimizeSystem},
	{"pro:", models.OptimizeUserProfessional},
	{"专业:", models.OptimizeUserProfessional},
	{"iterate:", models.OptimizeIterate},
	{"改:", models.OptimizeIterate},
}

func (b *Bot) analyzeImage(ctx context.Context, ev chat.Event) {
	id, err := b.io.SendCard(ctx, ev.UserID, chat.ImageAnalysisCard("", false))
	if err != nil {
		b.logger.Error("Failed to send card", zap.Error(err), zap.String("user_id", ev.UserID))
		b.reply(ctx, ev.UserID, msgCardFailed)
		return
	}

	data, err := b.io.FileContent(ctx, ev.MessageID, ev.FileKey)
	if err != nil || len(data) == 0 {
		if err == nil {
			err = chat.ErrNoFile
		}
		b.logger.Error("Failed to download image",
			zap.Error(err),
			zap.String("user_id", ev.UserID),
			zap.String("file_key", ev.FileKey))
		b.reply(ctx, ev.UserID, msgImageDownload)
		return
	}

	s := chat.NewCardStream(ctx, b.io, id, imageEvery, chat.ImageAnalysisCard, b.logger)
	desc, err := b.optimizer.AnalyzeImageStream(ctx, data, s.Write)
	if err != nil {
		b.logger.Error("Error processing image", zap.Error(err), zap.String("user_id", ev.UserID))
		b.reply(ctx, ev.UserID, msgImageFailed)
		return
	}
	s.Finish()
	b.sessions.Dispatch(ctx, ev.UserID, session.ImageAnalyzed(desc))
}

func (b *Bot) optimizeWithImage(ctx context.Context, userID, text, imageDesc string) {
	b.streamOptimization(ctx, userID, "[基于图片] "+text, kindImage, func(onChunk func(string) error) (string, error) {
		return b.optimizer.StreamWithImage(ctx, userID, text, imageDesc, onChunk)
	})
}

func (b *Bot) optimizeTextOnlyImage(ctx context.Context, userID, text string) {
	b.streamOptimization(ctx, userID, "[图片模式-纯文字] "+text, kindImage, func(onChunk func(string) error) (string, error) {
		return b.optimizer.StreamTextOnlyImage(ctx, userID, text, onChunk)
	})
}

// handleImageText serves text sent in image mode when no picture is held.
func (b *Bot) handleImageText(ctx context.Context, userID, text, pending string) {
	switch b.classifier.ImageModeIntent(ctx, text) {
	case classifier.ImageIntentGenerate:
		b.optimizeTextOnlyImage(ctx, userID, text)

	case classifier.ImageIntentForceText:
		if pending == "" {
			b.reply(ctx, userID, msgNeedDescription)
			return
		}
		b.sessions.Dispatch(ctx, userID, session.PendingTextConsumed())
		b.optimizeTextOnlyImage(ctx, userID, pending)

	default:
		if utf8.RuneCountInString(text) >= minPendingRunes {
			b.sessions.Dispatch(ctx, userID, session.PendingTextHeld(text))
		}
		b.reply(ctx, userID, msgSendPicture)
	}
}

func (b *Bot) answerClarification(ctx context.Context, userID, answer, original, kind string) {
	b.reply(ctx, userID, msgClarifyReceived)
	b.sessions.Dispatch(ctx, userID, session.ClarificationAnswered())

	typ := models.OptimizeType(kind)
	if typ == "" {
		typ = models.OptimizeUserBasic
	}
	b.runOptimize(ctx, userID, original, optimizer.Request{
		UserID:  userID,
		Prompt:  original,
		Type:    typ,
		Context: answer,
	})
}

// splitPrefix strips a template marker such as "sys:" or "改:" and reports
// the optimize type it selects.
func splitPrefix(text string) (string, models.OptimizeType) {
	for _, p := range prefixes {
		if rest, ok := trimPrefixFold(text, p.text); ok {
			return strings.TrimSpace(rest), p.typ
		}
	}
	return text, models.OptimizeUserBasic
}

// optimize serves a basic-mode message. last is the previous result, the
// base of a "改:" revision.
func (b *Bot) optimize(ctx context.Context, userID, text, last string) {
	input, typ := splitPrefix(text)
	if input == "" {
		b.reply(ctx, userID, msgOptimizeFailed)
		return
	}

	if typ == models.OptimizeIterate {
		if last == "" {
			b.reply(ctx, userID, msgNothingToRevise)
			return
		}
		b.runOptimize(ctx, userID, "[修改意见] "+input, optimizer.Request{
			UserID:   userID,
			Prompt:   last,
			Feedback: input,
			Type:     typ,
		})
		return
	}

	clar := b.classifier.CheckClarification(ctx, input)
	if clar.Needed {
		b.sessions.Dispatch(ctx, userID, session.ClarificationRequested(input, string(typ)))
		if _, err := b.io.SendCard(ctx, userID, chat.ClarificationCard(clar.Questions, clar.Reason)); err != nil {
			b.logger.Error("Failed to send clarification card", zap.Error(err), zap.String("user_id", userID))
		}
		return
	}

	b.runOptimize(ctx, userID, input, optimizer.Request{UserID: userID, Prompt: input, Type: typ})
}

// runOptimize streams a basic-mode optimization and keeps the result for a
// later revision.
func (b *Bot) runOptimize(ctx context.Context, userID, original string, req optimizer.Request) {
	out, ok := b.streamOptimization(ctx, userID, original, kindBasic, func(onChunk func(string) error) (string, error) {
		out, err := b.optimizer.Stream(ctx, req, onChunk)
		if errors.Is(err, context.Canceled) {
			b.logger.Warn("Optimization cancelled", zap.String("user_id", userID))
		}
		return out, err
	})
	if ok && strings.TrimSpace(out) != "" {
		b.sessions.Dispatch(ctx, userID, session.ResultProduced(out))
	}
}
