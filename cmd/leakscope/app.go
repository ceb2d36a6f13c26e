package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/leakscope/internal/cache"
	"github.com/miradorstack/leakscope/internal/config"
	"github.com/miradorstack/leakscope/internal/engine"
	"github.com/miradorstack/leakscope/internal/extractors"
	"github.com/miradorstack/leakscope/internal/metrics"
	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/patterns"
	"github.com/miradorstack/leakscope/internal/repo"
	"github.com/miradorstack/leakscope/internal/services"
	"github.com/miradorstack/leakscope/internal/tree"
	"github.com/miradorstack/leakscope/internal/utils"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	cache   cache.Provider
	store   *repo.SQLStore
	service *services.RiskService
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, os.Stderr)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, cache: newCacheProvider(cfg.Cache, logger)}

	store, err := repo.OpenSQLStore(cfg.Storage.DSN, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	set, err := patterns.Build(cfg.Patterns.PackPath, cfg.Patterns.Inline)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build patterns: %w", err)
	}
	matcher := patterns.NewMatcher(set, cfg.Detection.Filter(), patterns.WithMaxMatchLength(cfg.Detection.MaxMatchLength))

	extractor, err := extractors.NewFeatureExtractor(cfg.Features)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("feature extractor: %w", err)
	}

	active := &tree.ActiveModel{}
	if err := loadModel(cfg.ML.ModelPath, active, logger); err != nil {
		a.Close()
		return nil, err
	}

	source, err := repo.NewGitHubSource(repo.GitHubConfig{
		Token:         cfg.GitHub.Token,
		BaseURL:       cfg.GitHub.BaseURL,
		Timeout:       cfg.GitHub.Timeout,
		RateLimitWait: cfg.GitHub.RateLimitWait,
		CacheTTL:      cfg.Cache.CommitTTL,
	}, nil, a.cache, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("github source: %w", err)
	}

	pipeline := engine.NewPipeline(logger, matcher, extractor, active, engine.NewRiskAggregator(cfg.Risk))
	scanner := engine.NewScanner(logger, source, pipeline, store, engine.ScannerConfig{Workers: cfg.Scan.Workers})
	trainer := engine.NewTrainer(logger, store, store, active, engine.TrainerConfig{
		Params:    cfg.ML.Params,
		TestRatio: cfg.ML.TestRatio,
		Seed:      cfg.ML.Seed,
		ModelPath: cfg.ML.ModelPath,
	})

	a.service = services.NewRiskService(logger, scanner, pipeline, trainer, store, services.Options{
		DefaultMaxCommits: cfg.Scan.MaxCommits,
		ScanTimeout:       cfg.Scan.Timeout,
		Locks:             a.cache,
		LockTTL:           cfg.Scan.Timeout,
	})
	return a, nil
}

// Close releases the store and cache connections.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", slog.Any("error", err))
		}
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

func newCacheProvider(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Addr == "" {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("valkey cache unavailable; using in-process cache", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}

// loadModel publishes the persisted model, if any. A model built for another feature
// schema is still loaded; the pipeline then scores with the matcher alone and warns.
func loadModel(path string, active *tree.ActiveModel, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	model, err := tree.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no trained model yet", slog.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if model.Schema != models.FeatureSchema {
		logger.Warn("model feature schema differs from extractor; retrain required",
			slog.String("model_schema", model.Schema),
			slog.String("extractor_schema", models.FeatureSchema),
		)
	}
	active.Store(model)
	metrics.SetModelActive(true)
	logger.Info("model loaded", slog.String("model_id", model.ID), slog.String("path", path))
	return nil
}
