// Package discord adapts Discord guilds to the chat platform model. Text
// channels are surfaces; adventure sessions get a private channel whose topic
// carries the session metadata.
package discord

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/text"
)

const (
	maxMessageLength = 2000
	// maxTopicLength bounds a channel topic, and so the metadata string.
	maxTopicLength  = 1024
	historyPageSize = 100
)

// Adapter implements chat.Platform for Discord.
type Adapter struct {
	api       API
	selfID    string
	publisher chat.Publisher
	cfg       config.AdventureConfig
	log       *slog.Logger
}

// New returns an adapter acting as the bot user selfID.
func New(api API, selfID string, publisher chat.Publisher, cfg config.AdventureConfig, log *slog.Logger) *Adapter {
	return &Adapter{
		api:       api,
		selfID:    selfID,
		publisher: publisher,
		cfg:       cfg,
		log:       log.With("component", "discord_adapter"),
	}
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) SelfID() chat.UserID { return chat.UserID(a.selfID) }

// SendText sends content, chunked to the message limit. The gateway echoes
// the bot's own messages, so nothing is published here.
func (a *Adapter) SendText(ctx context.Context, surface chat.SurfaceID, content string) error {
	for _, chunk := range text.Chunk(content, maxMessageLength) {
		if _, err := a.api.SendMessage(ctx, string(surface), chunk); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s", chat.ErrSurfaceNotFound, surface)
			}
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// CreateSessionSurface creates a text channel visible only to owner and the
// bot, in the category of origin.
func (a *Adapter) CreateSessionSurface(ctx context.Context, owner chat.User, origin chat.SurfaceID, metadata string) (chat.SurfaceID, error) {
	if len(metadata) > maxTopicLength {
		return "", fmt.Errorf("metadata is %d bytes, channel topics hold %d", len(metadata), maxTopicLength)
	}
	parent, err := a.api.Channel(ctx, string(origin))
	if err != nil {
		return "", fmt.Errorf("look up origin channel %s: %w", origin, err)
	}
	if parent.GuildID == "" {
		return "", fmt.Errorf("origin channel %s is not in a guild", origin)
	}

	member := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory)
	ch, err := a.api.CreateChannel(ctx, parent.GuildID, discordgo.GuildChannelCreateData{
		Name:     a.cfg.SurfaceName,
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    metadata,
		ParentID: parent.ParentID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			// The @everyone role shares the guild's id.
			{ID: parent.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
			{ID: string(owner.ID), Type: discordgo.PermissionOverwriteTypeMember, Allow: member},
			{ID: a.selfID, Type: discordgo.PermissionOverwriteTypeMember, Allow: member | discordgo.PermissionManageChannels},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create session channel: %w", err)
	}

	a.log.InfoContext(ctx, "Session channel created", "channel_id", ch.ID, "guild_id", parent.GuildID, "owner", owner.ID)
	return chat.SurfaceID(ch.ID), nil
}

func (a *Adapter) DeleteSurface(ctx context.Context, surface chat.SurfaceID) error {
	if err := a.api.DeleteChannel(ctx, string(surface)); err != nil {
		if isNotFound(err) {
			return chat.ErrSurfaceNotFound
		}
		return fmt.Errorf("delete channel %s: %w", surface, err)
	}
	return nil
}

// ReadMetadata returns the channel topic.
func (a *Adapter) ReadMetadata(ctx context.Context, surface chat.SurfaceID) (string, error) {
	ch, err := a.api.Channel(ctx, string(surface))
	if err != nil {
		if isNotFound(err) {
			return "", chat.ErrSurfaceNotFound
		}
		return "", fmt.Errorf("read channel %s: %w", surface, err)
	}
	return ch.Topic, nil
}

// WriteMetadata replaces the channel topic.
func (a *Adapter) WriteMetadata(ctx context.Context, surface chat.SurfaceID, value string) error {
	if len(value) > maxTopicLength {
		return fmt.Errorf("metadata is %d bytes, channel topics hold %d", len(value), maxTopicLength)
	}
	if err := a.api.SetTopic(ctx, string(surface), value); err != nil {
		if isNotFound(err) {
			return chat.ErrSurfaceNotFound
		}
		return fmt.Errorf("set topic of %s: %w", surface, err)
	}
	return nil
}

// MessagesFrom fetches the anchor message, then pages forward through the
// channel. Each page is sorted oldest first by snowflake.
func (a *Adapter) MessagesFrom(ctx context.Context, surface chat.SurfaceID, anchor chat.MessageID) iter.Seq2[[]chat.Message, error] {
	return func(yield func([]chat.Message, error) bool) {
		channelID := string(surface)
		after := "0"

		if anchor != "" {
			m, err := a.api.Message(ctx, channelID, string(anchor))
			if err != nil && !isNotFound(err) {
				yield(nil, fmt.Errorf("fetch anchor %s: %w", anchor, err))
				return
			}
			if m != nil && err == nil {
				if !yield([]chat.Message{a.convert(m, nil)}, nil) {
					return
				}
			}
			after = string(anchor)
		}

		for {
			msgs, err := a.api.MessagesAfter(ctx, channelID, after, historyPageSize)
			if err != nil {
				yield(nil, fmt.Errorf("fetch messages after %s: %w", after, err))
				return
			}
			if len(msgs) == 0 {
				return
			}
			slices.SortFunc(msgs, func(x, y *discordgo.Message) int { return compareSnowflakes(x.ID, y.ID) })

			page := make([]chat.Message, len(msgs))
			for i, m := range msgs {
				page[i] = a.convert(m, nil)
			}
			if !yield(page, nil) || len(msgs) < historyPageSize {
				return
			}
			after = msgs[len(msgs)-1].ID
		}
	}
}

// ListSurfaces returns every guild text channel the bot can see.
func (a *Adapter) ListSurfaces(ctx context.Context) ([]chat.SurfaceID, error) {
	channels, err := a.api.TextChannels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]chat.SurfaceID, len(channels))
	for i, ch := range channels {
		ids[i] = chat.SurfaceID(ch.ID)
	}
	return ids, nil
}

func (a *Adapter) convert(m *discordgo.Message, member *discordgo.Member) chat.Message {
	out := chat.Message{
		ID:        chat.MessageID(m.ID),
		SurfaceID: chat.SurfaceID(m.ChannelID),
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = chat.UserID(m.Author.ID)
		out.AuthorName = displayName(m.Author, member)
		out.IsSelf = m.Author.ID == a.selfID
	}
	for _, u := range m.Mentions {
		out.Participants = append(out.Participants, chat.Participant{
			ID:            chat.UserID(u.ID),
			DisplayName:   displayName(u, nil),
			MentionTokens: []string{"<@" + u.ID + ">", "<@!" + u.ID + ">"},
		})
	}
	return out
}

func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// compareSnowflakes orders Discord ids numerically.
func compareSnowflakes(x, y string) int {
	a, errA := strconv.ParseUint(x, 10, 64)
	b, errB := strconv.ParseUint(y, 10, 64)
	if errA != nil || errB != nil {
		return cmp.Compare(x, y)
	}
	return cmp.Compare(a, b)
}
