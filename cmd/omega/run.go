package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/omega/internal/bot"
	"github.com/edgard/omega/internal/bot/tasks"
	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/database"
	"github.com/edgard/omega/internal/llm"
	"github.com/edgard/omega/internal/logger"
	"github.com/edgard/omega/internal/platform/discord"
	"github.com/edgard/omega/internal/platform/telegram"
)

// run initializes every component (config, logger, llm gateway, platforms,
// scheduler), blocks until ctx is cancelled or a component fails, and returns
// an exit code (0 for success, 1 for failure).
func run(ctx context.Context, configPath string) int {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	gateway, err := llm.New(ctx, cfg.AI, log)
	if err != nil {
		log.Error("Failed to initialize LLM gateway", "provider", cfg.AI.Provider, "error", err)
		return 1
	}

	clock := clockwork.NewRealClock()
	var (
		platforms []*bot.Platform
		store     database.Store
	)

	if cfg.Telegram.Enabled {
		db, err := database.NewDB(cfg.Database.Path)
		if err != nil {
			log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
			return 1
		}
		defer database.CloseDB(db) // Ensure DB is closed on function exit
		store = database.NewStore(db, log)

		p, err := newTelegramPlatform(ctx, cfg, store, gateway, clock, log)
		if err != nil {
			log.Error("Failed to set up Telegram", "error", err)
			return 1
		}
		platforms = append(platforms, p)
	}

	if cfg.Discord.Enabled {
		p, err := newDiscordPlatform(ctx, cfg, gateway, clock, log)
		if err != nil {
			log.Error("Failed to set up Discord", "error", err)
			return 1
		}
		platforms = append(platforms, p)
	}

	if len(platforms) == 0 {
		log.Error("No platform enabled, set discord.enabled or telegram.enabled")
		return 1
	}

	sweepers := make([]tasks.Sweeper, 0, len(platforms))
	for _, p := range platforms {
		sweepers = append(sweepers, p.Responders)
	}
	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:   log,
		Store:    store,
		Sweepers: sweepers,
		Clock:    clock,
		Config:   cfg,
	})
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, taskMap)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, sched, platforms...)

	log.Info("Starting bot...")
	runErr := app.Run(ctx) // Run blocks until context is cancelled or an error occurs
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	return 0
}

func newTelegramPlatform(
	ctx context.Context,
	cfg *config.Config,
	store database.Store,
	gateway llm.Gateway,
	clock clockwork.Clock,
	log *slog.Logger,
) (*bot.Platform, error) {
	queue := chat.NewQueue()

	// Updates are only delivered after Start, by which time adapter is set.
	var adapter *telegram.Adapter
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			adapter.HandleUpdate(ctx, b, update)
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		return nil, err
	}

	self, err := tg.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	log.Info("Retrieved bot info", "bot_id", self.ID, "bot_username", self.Username)

	adapter = telegram.New(tg, *self, store, queue, cfg.Telegram, cfg.Adventure, log)
	if err := telegram.RegisterHandlers(tg, log, adapter.Commands()); err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}

	run := func(ctx context.Context) error {
		tg.Start(ctx) // blocks until ctx is done
		return nil
	}
	return bot.NewPlatform(ctx, adapter, queue, gateway, cfg, clock, log, run, nil), nil
}

func newDiscordPlatform(
	ctx context.Context,
	cfg *config.Config,
	gateway llm.Gateway,
	clock clockwork.Clock,
	log *slog.Logger,
) (*bot.Platform, error) {
	queue := chat.NewQueue()
	client, err := discord.NewClient(cfg.Discord, cfg.Adventure, queue, log)
	if err != nil {
		return nil, err
	}
	return bot.NewPlatform(ctx, client.Adapter(), queue, gateway, cfg, clock, log, client.Run, client.Ready()), nil
}
