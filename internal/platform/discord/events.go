package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/edgard/omega/internal/chat"
)

// HandleMessageCreate publishes every guild message, the bot's own included.
func (a *Adapter) HandleMessageCreate(_ *discordgo.Session, ev *discordgo.MessageCreate) {
	if ev.Message == nil || ev.Author == nil || ev.GuildID == "" {
		return
	}
	if ev.Author.Bot && ev.Author.ID != a.selfID {
		return
	}

	m := a.convert(ev.Message, ev.Member)
	var name string
	if ch, err := a.api.Channel(context.Background(), ev.ChannelID); err == nil {
		name = ch.Name
	}
	a.publisher.Publish(chat.MessageEvent{Message: m, SurfaceName: name})
}

// HandleChannelDelete reports channels removed outside of the bot.
func (a *Adapter) HandleChannelDelete(_ *discordgo.Session, ev *discordgo.ChannelDelete) {
	if ev.Channel == nil {
		return
	}
	a.publisher.Publish(chat.SurfaceDeletedEvent{SurfaceID: chat.SurfaceID(ev.ID)})
}

// HandleInteraction answers the adventure slash command ephemerally and
// publishes a StartAdventureEvent for the issuer.
func (a *Adapter) HandleInteraction(_ *discordgo.Session, ev *discordgo.InteractionCreate) {
	if ev.Interaction == nil || ev.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if ev.ApplicationCommandData().Name != a.cfg.Command {
		return
	}

	var user *discordgo.User
	var member *discordgo.Member
	switch {
	case ev.Member != nil && ev.Member.User != nil:
		user, member = ev.Member.User, ev.Member
	case ev.User != nil:
		user = ev.User
	default:
		return
	}

	ctx := context.Background()
	if err := a.api.RespondEphemeral(ctx, ev.Interaction, a.cfg.CommandReply); err != nil {
		a.log.ErrorContext(ctx, "Failed to acknowledge command", "command", a.cfg.Command, "error", err)
	}
	if ev.GuildID == "" {
		a.log.InfoContext(ctx, "Adventure requested outside a guild", "user_id", user.ID)
		return
	}

	a.log.InfoContext(ctx, "Adventure requested", "user_id", user.ID, "channel_id", ev.ChannelID)
	a.publisher.Publish(chat.StartAdventureEvent{
		Owner:  chat.User{ID: chat.UserID(user.ID), Name: displayName(user, member)},
		Origin: chat.SurfaceID(ev.ChannelID),
	})
}

// Command is the slash command definition of the adventure command.
func (a *Adapter) Command() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        a.cfg.Command,
		Description: a.cfg.CommandDescription,
	}
}
