package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/report-bot/internal/bot"
	"github.com/xaenox/report-bot/internal/chat"
	"github.com/xaenox/report-bot/internal/models"
	"github.com/xaenox/report-bot/internal/report"
	"github.com/xaenox/report-bot/internal/scheduler"
	"github.com/xaenox/report-bot/internal/server"
	"github.com/xaenox/report-bot/internal/session"
	"github.com/xaenox/report-bot/internal/spawner"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the HTTP server and the nightly scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.logger
	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required to serve")
	}

	tg, err := chat.NewTelegram(cfg.Telegram.Token, log)
	if err != nil {
		return err
	}
	if err := tg.RegisterCommands(); err != nil {
		log.Warn("Failed to register commands", zap.Error(err))
	}
	if err := tg.SetWebhook(cfg.Telegram.WebhookURL); err != nil {
		return err
	}

	sessions := session.NewMemoryStore()
	keywords, gpt := a.classifiers()
	b := bot.New(bot.Deps{
		Sessions:   session.NewManager(sessions, cfg.Session.TTL, log),
		Keywords:   keywords,
		Classifier: gpt,
		Optimizer:  a.optimizer(),
		Pipeline:   a.pipeline,
		Aggregator: a.aggregator,
		Reports:    a.store,
		Users:      a.store,
		Chat:       tg,
		Location:   a.loc,
		Logger:     log,
	})

	tasks := spawner.New(ctx, cfg.Spawner, log)
	srv := server.New(server.Options{
		Addr:          cfg.Server.Addr,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		JWTSecret:     cfg.Intake.JWTSecret,
		AllowOrigins:  cfg.Server.AllowOrigins,
	}, server.Deps{
		Spawner: tasks,
		Handle:  b.Dispatch,
		Reports: a.store,
		Users:   a.store,
		Logger:  log,
	})

	g, gctx := errgroup.WithContext(ctx)
	sweeperDone := sessions.StartSweeper(gctx, cfg.Session.SweepInterval, log)
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.Telegram.WebhookURL == "" {
		g.Go(func() error {
			log.Info("Receiving updates by long polling")
			return tg.Poll(gctx, func(ev chat.Event) {
				if _, err := tasks.Spawn("chat_event", func(ctx context.Context) error {
					b.Dispatch(ctx, ev)
					return nil
				}); err != nil {
					log.Warn("Dropped chat event", zap.Error(err), zap.String("user_id", ev.UserID))
				}
			})
		})
	}

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler.Spec, a.loc, a.pipeline, a.aggregator, log)
		if err != nil {
			return err
		}
		if err := sched.Start(gctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	err = g.Wait()
	log.Info("Shutting down, waiting for running tasks", zap.Int("in_flight", tasks.InFlight()))
	tasks.Wait()
	<-sweeperDone
	return err
}

func newSyncCmd(configPath *string) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile recent raw reports into diagnosed records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive, got %d", hours)
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Reconcile(cmd.Context(), hours)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched %d, collapsed %d, written %d, skipped %d, failed %d, deleted %d\n",
				res.Fetched, res.Collapsed, res.Written, res.Skipped, res.Failed, res.Deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "look-back window in hours")
	return cmd
}

func newSummarizeCmd(configPath *string) *cobra.Command {
	var kind, date string
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Write daily, weekly or monthly summaries for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			period := models.Period(kind)
			if !period.Valid() {
				return fmt.Errorf("--kind must be daily, weekly or monthly, got %q", kind)
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rng, _ := report.ResolveRange(period, date, time.Now().In(a.loc))
			n, err := a.aggregator.Summarize(cmd.Context(), rng, period)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d summaries saved\n", period.Label(), rng.Label, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(models.PeriodDaily), "daily, weekly or monthly")
	cmd.Flags().StringVar(&date, "date", "", "date hint such as 昨天, 上周, 上月, 3月 or 03-05")
	return cmd
}
