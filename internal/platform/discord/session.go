package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// API is the subset of the Discord REST API the adapter calls.
type API interface {
	SendMessage(ctx context.Context, channelID, content string) (*discordgo.Message, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	SetTopic(ctx context.Context, channelID, topic string) error
	Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	// MessagesAfter returns up to limit messages posted after afterID, in any order.
	MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]*discordgo.Message, error)
	// TextChannels lists the text channels of every guild the bot is in.
	TextChannels(ctx context.Context) ([]*discordgo.Channel, error)
	RespondEphemeral(ctx context.Context, interaction *discordgo.Interaction, content string) error
}

// sessionAPI implements API on a connected *discordgo.Session.
type sessionAPI struct {
	s *discordgo.Session
}

// NewSessionAPI wraps a discordgo session.
func NewSessionAPI(s *discordgo.Session) API {
	return sessionAPI{s: s}
}

func (a sessionAPI) SendMessage(ctx context.Context, channelID, content string) (*discordgo.Message, error) {
	return a.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
}

func (a sessionAPI) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if ch, err := a.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return a.s.Channel(channelID, discordgo.WithContext(ctx))
}

func (a sessionAPI) CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	return a.s.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
}

func (a sessionAPI) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := a.s.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return err
}

func (a sessionAPI) SetTopic(ctx context.Context, channelID, topic string) error {
	_, err := a.s.ChannelEdit(channelID, &discordgo.ChannelEdit{Topic: topic}, discordgo.WithContext(ctx))
	return err
}

func (a sessionAPI) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	return a.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
}

func (a sessionAPI) MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]*discordgo.Message, error) {
	return a.s.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
}

func (a sessionAPI) TextChannels(ctx context.Context) ([]*discordgo.Channel, error) {
	var out []*discordgo.Channel
	for _, g := range a.s.State.Guilds {
		channels, err := a.s.GuildChannels(g.ID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list channels of guild %s: %w", g.ID, err)
		}
		for _, ch := range channels {
			if ch.Type == discordgo.ChannelTypeGuildText {
				out = append(out, ch)
			}
		}
	}
	return out, nil
}

func (a sessionAPI) RespondEphemeral(ctx context.Context, interaction *discordgo.Interaction, content string) error {
	return a.s.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
}

// isNotFound reports a 404 from the REST API.
func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
