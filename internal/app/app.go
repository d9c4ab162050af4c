// Package app assembles the conversation core from configuration so every
// front-end binary wires it the same way.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/agribot/internal/agent"
	"github.com/ashureev/agribot/internal/config"
	"github.com/ashureev/agribot/internal/dispatch"
	"github.com/ashureev/agribot/internal/session"
	"github.com/ashureev/agribot/internal/store"
	"github.com/ashureev/agribot/internal/weather"
)

// App holds the long-lived components shared by the front-ends.
type App struct {
	Config     *config.Config
	Store      store.Repository
	Sessions   *session.Manager
	Provider   weather.Provider
	Engine     agent.Engine
	Dispatcher *dispatch.Dispatcher
}

// New builds the full stack. Both external credentials are required.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	repo, sessions, err := OpenSessions(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	provider, err := NewProvider(cfg, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	engine, err := NewEngine(cfg, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	d, err := dispatch.New(dispatch.Options{
		Provider: provider,
		Engine:   engine,
		Sessions: sessions,
		Deadline: cfg.ChatTimeout,
		Logger:   logger,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	logger.Info("conversation core ready",
		"store", cfg.Store.Driver,
		"model", cfg.Engine.Model,
		"deadline", cfg.ChatTimeout)

	return &App{
		Config:     cfg,
		Store:      repo,
		Sessions:   sessions,
		Provider:   provider,
		Engine:     engine,
		Dispatcher: d,
	}, nil
}

// OpenSessions opens the configured store and a session manager over it.
// It needs no external credentials.
func OpenSessions(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Repository, *session.Manager, error) {
	repo, err := store.New(ctx, store.Options{
		Driver:   store.Driver(cfg.Store.Driver),
		DBPath:   cfg.Store.DBPath,
		RedisURL: cfg.Store.RedisURL,
		RedisTTL: cfg.Store.SessionTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return repo, session.NewManager(repo, cfg.DefaultLocation, logger.With("component", "session")), nil
}

// NewProvider builds the forecast provider from cfg.
func NewProvider(cfg *config.Config, logger *slog.Logger) (*weather.OpenWeatherMap, error) {
	p, err := weather.NewOpenWeatherMap(weather.Config{
		APIKey:   cfg.Weather.APIKey,
		BaseURL:  cfg.Weather.BaseURL,
		Units:    cfg.Weather.Units,
		Location: cfg.Location(),
	}, logger.With("component", "weather"))
	if err != nil {
		return nil, fmt.Errorf("create weather provider: %w", err)
	}
	return p, nil
}

// NewEngine builds the conversational engine from cfg.
func NewEngine(cfg *config.Config, logger *slog.Logger) (*agent.OpenAIEngine, error) {
	e, err := agent.NewOpenAIEngine(agent.Config{
		APIKey:      cfg.Engine.APIKey,
		BaseURL:     cfg.Engine.BaseURL,
		Model:       cfg.Engine.Model,
		Temperature: float32(cfg.Engine.Temperature),
		TopP:        float32(cfg.Engine.TopP),
		MaxTokens:   cfg.Engine.MaxTokens,
	}, logger.With("component", "engine"))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return e, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
