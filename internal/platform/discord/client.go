package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
)

// Client owns the gateway connection behind an Adapter.
type Client struct {
	session  *discordgo.Session
	adapter  *Adapter
	guildIDs []string
	ready    chan struct{}
	log      *slog.Logger
}

// NewClient authenticates with token and wires an adapter publishing to
// publisher. The gateway is not opened until Run.
func NewClient(cfg config.DiscordConfig, adv config.AdventureConfig, publisher chat.Publisher, log *slog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	// Handlers run in gateway order so the event queue sees messages in order.
	session.SyncEvents = true

	self, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("fetch discord bot identity: %w", err)
	}

	adapter := New(NewSessionAPI(session), self.ID, publisher, adv, log)
	session.AddHandler(adapter.HandleMessageCreate)
	session.AddHandler(adapter.HandleChannelDelete)
	session.AddHandler(adapter.HandleInteraction)

	return &Client{
		session:  session,
		adapter:  adapter,
		guildIDs: cfg.GuildIDs,
		ready:    make(chan struct{}),
		log:      log.With("component", "discord_client"),
	}, nil
}

// Adapter returns the platform adapter.
func (c *Client) Adapter() *Adapter { return c.adapter }

// Ready is closed once the gateway is open and guild state is available.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Run opens the gateway, registers the slash command and blocks until ctx
// is done.
func (c *Client) Run(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer func() {
		if err := c.session.Close(); err != nil {
			c.log.Warn("Error closing discord session", "error", err)
		}
	}()
	c.log.InfoContext(ctx, "Discord gateway connected", "bot_id", c.adapter.selfID)

	guilds := c.guildIDs
	if len(guilds) == 0 {
		guilds = []string{""}
	}
	for _, guildID := range guilds {
		if _, err := c.session.ApplicationCommandCreate(c.adapter.selfID, guildID, c.adapter.Command()); err != nil {
			return fmt.Errorf("register slash command in guild %q: %w", guildID, err)
		}
	}

	close(c.ready)

	<-ctx.Done()
	c.log.Info("Discord gateway closing")
	return nil
}
