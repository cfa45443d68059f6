package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/spawner"
)

const (
	codeOK          = 0
	codeEmptyBody   = 4000
	codeInvalidBody = 4001

	maxWebhookBytes = 1 << 20
	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// webhook acknowledges an update and hands it to the spawner. The response
// never waits for the event to be processed.
func (s *Server) webhook(c *gin.Context) {
	if s.opts.WebhookSecret != "" && c.GetHeader(secretHeader) != s.opts.WebhookSecret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "Invalid secret token"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidBody, "message": "Failed to read request body"})
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeEmptyBody, "message": "Empty request body"})
		return
	}

	ev, ok, err := chat.DecodeUpdate(body)
	if err != nil {
		s.logger.Warn("Malformed webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidBody, "message": "Invalid request body"})
		return
	}
	if ok {
		s.dispatch(ev)
	}
	c.JSON(http.StatusOK, gin.H{"code": codeOK, "message": "ok"})
}

func (s *Server) dispatch(ev chat.Event) {
	_, err := s.deps.Spawner.Spawn("chat_event", func(ctx context.Context) error {
		s.deps.Handle(ctx, ev)
		return nil
	})
	if errors.Is(err, spawner.ErrSaturated) {
		s.logger.Warn("Dropped chat event",
			zap.String("user_id", ev.UserID),
			zap.String("message_id", ev.MessageID))
	}
}

type intakeField struct {
	Name  string `json:"name" binding:"required"`
	Value string `json:"value"`
}

type intakeRequest struct {
	SubmitterID   string        `json:"submitter_id"`
	SubmitterName string        `json:"submitter_name"`
	CommitTime    time.Time     `json:"commit_time"`
	RuleName      string        `json:"rule_name" binding:"required"`
	Fields        []intakeField `json:"fields" binding:"required,min=1,dive"`
}

// intake stores one submitted report form and registers its submitter.
func (s *Server) intake(c *gin.Context) {
	var req intakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.SubmitterID = strings.TrimSpace(req.SubmitterID)
	req.SubmitterName = strings.TrimSpace(req.SubmitterName)
	if req.SubmitterID == "" && req.SubmitterName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "submitter_id or submitter_name is required"})
		return
	}
	if req.CommitTime.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commit_time is required"})
		return
	}

	raw := &models.RawReport{
		SubmitterID:   req.SubmitterID,
		SubmitterName: req.SubmitterName,
		RuleName:      req.RuleName,
		CommitTime:    req.CommitTime,
		Fields:        make([]models.FormField, len(req.Fields)),
	}
	for i, f := range req.Fields {
		raw.Fields[i] = models.FormField{Name: f.Name, Value: f.Value}
	}

	ctx := c.Request.Context()
	if err := s.deps.Reports.SaveRawReport(ctx, raw); err != nil {
		s.logger.Error("Failed to save raw report", zap.Error(err), zap.String("submitter", req.SubmitterName))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save report"})
		return
	}

	if raw.SubmitterID != "" && s.deps.Users != nil {
		if err := s.deps.Users.UpdateUser(ctx, &models.User{ID: raw.SubmitterID, Name: raw.SubmitterName}); err != nil {
			s.logger.Warn("Failed to update user", zap.Error(err), zap.String("user_id", raw.SubmitterID))
		}
	}

	s.logger.Info("Report received",
		zap.Int64("id", raw.ID),
		zap.String("submitter", raw.SubmitterName),
		zap.String("client", c.GetString(subjectKey)))
	c.JSON(http.StatusCreated, gin.H{"id": raw.ID})
}
