// Package bot wires the platform adapters, the orchestration core and the
// scheduler together and manages their lifecycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/omega/internal/adventure"
	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/llm"
	"github.com/edgard/omega/internal/responder"
)

// Platform is one connected chat platform with its own event queue,
// session registry and responders.
type Platform struct {
	Adapter    chat.Platform
	Queue      *chat.Queue
	Registry   *adventure.Registry
	Responders *responder.Manager
	Router     *Router

	// Run drives the platform connection until ctx is done.
	Run func(ctx context.Context) error
	// Ready is closed once the adapter can list surfaces. Nil means ready.
	Ready <-chan struct{}
}

// NewPlatform builds the orchestration core for adapter. Events must be
// published to queue.
func NewPlatform(
	ctx context.Context,
	adapter chat.Platform,
	queue *chat.Queue,
	gateway llm.Gateway,
	cfg *config.Config,
	clock clockwork.Clock,
	logger *slog.Logger,
	run func(ctx context.Context) error,
	ready <-chan struct{},
) *Platform {
	log := logger.With("platform", adapter.Name())
	registry := adventure.NewRegistry(adapter, gateway, cfg.Adventure, log)
	responders := responder.NewManager(ctx, cfg.Responder, cfg.NPCs, cfg.Bot.Name, gateway, adapter, clock, log)
	return &Platform{
		Adapter:    adapter,
		Queue:      queue,
		Registry:   registry,
		Responders: responders,
		Router:     NewRouter(registry, responders, log),
		Run:        run,
		Ready:      ready,
	}
}

// Bot represents the main bot application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	platforms []*Platform
	scheduler *Scheduler
}

// NewBot creates a bot over the given platforms.
func NewBot(logger *slog.Logger, scheduler *Scheduler, platforms ...*Platform) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		platforms: platforms,
		scheduler: scheduler,
	}
}

// Run starts every platform, its dispatcher and the scheduler, and blocks
// until ctx is cancelled or a component fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...", "platforms", len(b.platforms))

	g, gCtx := errgroup.WithContext(ctx)

	for _, p := range b.platforms {
		name := p.Adapter.Name()

		g.Go(func() error {
			b.logger.Info("Starting platform listener...", "platform", name)
			if err := p.Run(gCtx); err != nil {
				return fmt.Errorf("%s listener failed: %w", name, err)
			}
			b.logger.Info("Platform listener stopped.", "platform", name)

			if gCtx.Err() == nil {
				return fmt.Errorf("%s listener stopped unexpectedly", name)
			}
			return nil
		})

		g.Go(func() error {
			return b.dispatch(gCtx, p)
		})
	}

	if b.scheduler != nil {
		g.Go(func() error {
			b.logger.Info("Starting scheduler...")
			if err := b.scheduler.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			b.logger.Info("Shutdown signal received, stopping scheduler...")
			if err := b.scheduler.Stop(); err != nil {
				b.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	for _, p := range b.platforms {
		p.Queue.Close()
		p.Responders.Stop()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// dispatch restores the platform's sessions once it is ready, then consumes
// its queue until ctx is done.
func (b *Bot) dispatch(ctx context.Context, p *Platform) error {
	log := b.logger.With("platform", p.Adapter.Name())

	if p.Ready != nil {
		select {
		case <-ctx.Done():
			return nil
		case <-p.Ready:
		}
	}

	n, err := p.Registry.Restore(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to restore sessions", "error", err)
	} else {
		log.InfoContext(ctx, "Sessions restored", "count", n)
	}

	log.Info("Dispatcher running")
	if err := p.Queue.Run(ctx, p.Router.Handle); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s dispatcher failed: %w", p.Adapter.Name(), err)
	}
	log.Info("Dispatcher stopped")
	return nil
}
