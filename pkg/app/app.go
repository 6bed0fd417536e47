// Package app wires configuration into the research pipeline. Both binaries
// build their dependencies through it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

const userAgent = "deep-research/1.0 (+https://github.com/mikeboe/deep-research)"

// App holds the long-lived components built from a Config.
type App struct {
	Config   *config.Config
	Model    llm.Model
	Engine   *research.Engine
	Composer *research.Composer
	DB       *database.PostgresDB
	Logger   *slog.Logger
}

// NewLogger builds the process logger from the configured level and format.
// Records carry the request id of their context when there is one.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(server.NewRequestIDHandler(h))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the model, search provider and research engine for cfg.
// The caller must Close the result.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	model, err := llm.New(ctx, llm.Options{
		Provider:      cfg.LLMProvider,
		Model:         cfg.LLMModel,
		GoogleAPIKey:  cfg.GoogleAPIKey,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	store, err := a.cacheStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Model = llm.WithCache(model, store)
	logger.Info("LLM ready", "model", a.Model.Name(), "cached", store != nil)

	provider, err := NewProvider(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	trimmer := splitter.NewTrimmer(nil)
	planner := &research.LLMPlanner{Model: a.Model, Logger: logger}
	distiller := &research.LLMDistiller{
		Model:           a.Model,
		Trimmer:         trimmer,
		ItemTokenBudget: cfg.ItemTokenBudget,
		Timeout:         cfg.DistillTimeout,
		Logger:          logger,
	}
	a.Engine = research.NewEngine(planner, distiller, provider, research.Options{
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		SearchLimit:      cfg.SearchLimit,
		Logger:           logger,
	})
	a.Composer = &research.Composer{
		Model:       a.Model,
		Trimmer:     trimmer,
		ContextSize: cfg.ContextSize,
		Logger:      logger,
	}
	return a, nil
}

// cacheStore picks Postgres when DATABASE_URL is set, then the file cache,
// then no cache at all.
func (a *App) cacheStore(ctx context.Context) (cache.Store, error) {
	switch {
	case a.Config.DatabaseURL != "":
		db, err := a.Database(ctx)
		if err != nil {
			return nil, err
		}
		return cache.NewPostgres(db), nil
	case a.Config.CacheDir != "":
		return &cache.File{Dir: a.Config.CacheDir, StrictPerms: true}, nil
	default:
		return nil, nil
	}
}

// Database connects to DATABASE_URL once and ensures the schema exists.
func (a *App) Database(ctx context.Context) (*database.PostgresDB, error) {
	if a.DB != nil {
		return a.DB, nil
	}
	db, err := database.NewPostgresDB(ctx, a.Config.DatabaseURL, database.DefaultMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	a.DB = db
	return db, nil
}

// NewProvider returns the search backend named by cfg.SearchProvider.
func NewProvider(cfg *config.Config, logger *slog.Logger) (search.Provider, error) {
	switch cfg.SearchProvider {
	case "watercrawl", "":
		return search.NewWaterCrawl(cfg.WaterCrawlURL), nil
	case "searxng":
		s := &search.SearxNG{BaseURL: cfg.SearxURL, APIKey: cfg.SearxKey, UserAgent: userAgent}
		if cfg.FetchContent {
			s.Fetcher = search.NewFetcher(userAgent)
		}
		return s, nil
	case "arxiv":
		a := search.NewArxiv()
		a.Logger = logger
		return a, nil
	case "file":
		return &search.FileProvider{Path: cfg.SearchFile}, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.SearchProvider)
	}
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}
