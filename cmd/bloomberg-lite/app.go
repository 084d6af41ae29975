package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"bloomberg-lite/config"
	"bloomberg-lite/connector"
	"bloomberg-lite/fetch"
	"bloomberg-lite/hn"
	"bloomberg-lite/notify"
	"bloomberg-lite/pipeline"
	"bloomberg-lite/render"
	"bloomberg-lite/storage"
)

// app holds the wired components for one process.
type app struct {
	cfg       config.Config
	catalog   config.Catalog
	store     *storage.Store
	generator *render.Generator
	runner    *pipeline.Runner
}

// newApp loads configuration and wires every component.
func newApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	catalog, err := config.LoadCatalog(cfg.MetricsFile, cfg.FeedsFile)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	slog.Info("catalog loaded", "metrics", len(catalog.Metrics), "feeds", len(catalog.Feeds))

	creds, err := config.LoadCredentials(cfg.EnvFile)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	httpClient := fetch.New(fetch.Config{Timeout: cfg.FetchTimeout(), UserAgent: cfg.UserAgent})
	registry := connector.NewRegistry(connector.Options{
		HTTP:        httpClient,
		HN:          hn.NewClient(httpClient),
		Credentials: creds,
		ItemWorkers: cfg.ItemWorkers,
	})

	generator := render.NewGenerator(catalog, store, render.Config{
		OutputDir:       cfg.OutputDir,
		SparklinePoints: cfg.SparklinePoints,
	})

	notifier := newNotifier(cfg, creds)

	runner := pipeline.NewRunner(catalog, registry, store, generator, notifier, pipeline.Config{
		Retention: cfg.StoryRetention(),
	})

	return &app{
		cfg:       cfg,
		catalog:   catalog,
		store:     store,
		generator: generator,
		runner:    runner,
	}, nil
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist, and applies the log level.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("config file not found, using defaults", "path", path)
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	setupLogger(cfg.LogLevel)
	slog.Info("config loaded", "db_path", cfg.DBPath, "output_dir", cfg.OutputDir, "schedule", cfg.Schedule)
	return cfg, nil
}

// openStore creates the database directory if needed and opens the store.
func openStore(dbPath string) (*storage.Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	store, err := storage.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	slog.Info("storage initialized", "db_path", dbPath)
	return store, nil
}

// newNotifier returns a Telegram notifier, or a disabled one when the token
// or chat id is missing or the token is rejected.
func newNotifier(cfg config.Config, creds config.Credentials) *notify.Notifier {
	ncfg := notify.Config{ChatID: cfg.Telegram.ChatID, DashboardURL: cfg.Telegram.DashboardURL}
	if creds.TelegramToken == "" || cfg.Telegram.ChatID == 0 {
		slog.Info("telegram notifications disabled")
		return notify.New(nil, ncfg)
	}
	sender, err := notify.NewTelegramSender(creds.TelegramToken, "", &http.Client{Timeout: cfg.FetchTimeout()})
	if err != nil {
		slog.Warn("telegram notifications disabled", "error", err)
		return notify.New(nil, ncfg)
	}
	slog.Info("telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	return notify.New(sender, ncfg)
}

// Close releases the store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("closing storage", "error", err)
	}
}
