package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/RashikaKarki/learnforge-cli/internal/api"
	"github.com/RashikaKarki/learnforge-cli/internal/auth"
	"github.com/RashikaKarki/learnforge-cli/internal/config"
	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
	"github.com/RashikaKarki/learnforge-cli/internal/sched"
	"github.com/RashikaKarki/learnforge-cli/internal/store"
)

// App is the process-wide dependency graph: one config, one local
// cache, one HTTP gateway, one auth manager. Each command builds it on
// entry and closes it on exit.
type App struct {
	Config *config.Config
	Store  store.Repository
	Client *api.Client
	Auth   *auth.Manager
}

func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogger(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	repo, err := store.NewSQLite(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("local cache unavailable: %w", err)
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout)
	creds := auth.NewFileStore(cfg.CredentialsPath())
	manager := auth.NewManager(client, creds, repo, sched.NewWall(), cfg.RefreshInterval)
	manager.SetNotifier(func(ev auth.Event) {
		if ev.Warning != "" {
			fmt.Fprintln(os.Stderr, color.YellowString("! %s", ev.Warning))
		}
	})

	slog.Debug("app initialized", "api", cfg.APIBaseURL, "data_dir", cfg.DataDir)
	return &App{Config: cfg, Store: repo, Client: client, Auth: manager}, nil
}

// Close stops background refresh work and releases the cache handle.
func (a *App) Close() {
	a.Auth.Close()
	if err := a.Store.Close(); err != nil {
		slog.Error("failed to close local cache", "error", err)
	}
}

// requireSession resumes the stored session or explains how to get one.
func requireSession(ctx context.Context, app *App) error {
	found, err := app.Auth.Resume(ctx)
	if !found {
		if err != nil {
			return err
		}
		return apperrors.New(apperrors.KindClient, "not signed in - run 'learnforge login' first")
	}
	if apperrors.IsKind(err, apperrors.KindAuthExpired) {
		return apperrors.New(apperrors.KindAuthExpired, "session expired - run 'learnforge login' to sign in again")
	}
	return err
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.IsDevelopment()}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
