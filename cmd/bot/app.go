package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/report-bot/internal/classifier"
	"github.com/xaenox/report-bot/internal/llm"
	"github.com/xaenox/report-bot/internal/optimizer"
	"github.com/xaenox/report-bot/internal/prompts"
	"github.com/xaenox/report-bot/internal/report"
	"github.com/xaenox/report-bot/internal/storage"
	"github.com/xaenox/report-bot/pkg/config"
	"github.com/xaenox/report-bot/pkg/logger"
)

// app holds the components every command needs.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	loc        *time.Location
	store      storage.Storage
	gen        llm.Generator
	prompts    *prompts.Engine
	pipeline   *report.Pipeline
	aggregator *report.Aggregator
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	loc, err := cfg.Report.Location()
	if err != nil {
		return nil, err
	}

	var store storage.Storage
	if cfg.Database.UseInMemory {
		log.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		log.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, log)
		if err != nil {
			_ = log.Sync()
			return nil, fmt.Errorf("init storage: %w", err)
		}
	}

	engine, err := prompts.New()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	gen := llm.NewOpenAIClient(llm.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		VisionModel: cfg.OpenAI.VisionModel,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
	}, log)

	deps := report.Deps{
		Source:   store,
		Store:    store,
		Users:    store,
		Gen:      gen,
		Prompts:  engine,
		Location: loc,
		Logger:   log,
	}

	return &app{
		cfg:        cfg,
		logger:     log,
		loc:        loc,
		store:      store,
		gen:        gen,
		prompts:    engine,
		pipeline:   report.NewPipeline(deps),
		aggregator: report.NewAggregator(deps, cfg.Report.CompressLimit),
	}, nil
}

func (a *app) classifiers() (*classifier.KeywordClassifier, *classifier.GPTClassifier) {
	return classifier.NewKeywordClassifier(classifier.DefaultPolicy()),
		classifier.NewGPTClassifier(a.gen, a.prompts, a.loc, a.logger)
}

func (a *app) optimizer() *optimizer.Optimizer {
	return optimizer.New(a.gen, a.prompts, a.store, a.loc, a.logger)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}
