// Package server exposes the Telegram webhook, the report intake API and a
// health check over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/spawner"
	"github.com/xaenox/report-bot/internal/storage"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Addr string
	// WebhookSecret, when set, must match the
	// X-Telegram-Bot-Api-Secret-Token header.
	WebhookSecret string
	// JWTSecret signs intake tokens. Empty disables /api.
	JWTSecret    string
	AllowOrigins []string
}

// EventHandler processes one decoded chat event.
type EventHandler func(ctx context.Context, ev chat.Event)

type Deps struct {
	Spawner *spawner.Spawner
	Handle  EventHandler
	Reports storage.RawReportSink
	Users   storage.UserDirectory
	Logger  *zap.Logger
}

type Server struct {
	opts    Options
	deps    Deps
	engine  *gin.Engine
	logger  *zap.Logger
	httpSrv *http.Server
}

func New(opts Options, d Deps) *Server {
	s := &Server{opts: opts, deps: d, logger: d.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(d.Logger))

	r.GET("/healthz", s.health)
	r.POST("/webhook/telegram", s.webhook)

	if opts.JWTSecret != "" {
		origins := opts.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		api := r.Group("/api",
			cors.New(cors.Config{
				AllowOrigins: origins,
				AllowMethods: []string{"GET", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
				MaxAge:       12 * time.Hour,
			}),
			jwtAuth([]byte(opts.JWTSecret)))
		api.POST("/reports", s.intake)
	} else {
		d.Logger.Warn("Intake API disabled: no JWT secret configured")
	}

	s.engine = r
	return s
}

// Handler is the routed gin engine.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("addr", s.opts.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
