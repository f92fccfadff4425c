package telegram

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/database"
)

// RegisteredHandler is a command handler with its match rules.
type RegisteredHandler struct {
	HandlerType bot.HandlerType
	Pattern     string
	Handler     bot.HandlerFunc
	Middleware  []bot.Middleware
	MatchType   bot.MatchType
}

// Commands returns the adapter's command handlers keyed by command.
func (a *Adapter) Commands() map[string]RegisteredHandler {
	adventure := CommandName(a.advCfg.Command)
	return map[string]RegisteredHandler{
		"/start": {
			HandlerType: bot.HandlerTypeMessageText,
			Pattern:     "start",
			Handler:     a.replyHandler("start", a.tgCfg.Messages.Welcome),
			MatchType:   bot.MatchTypeCommandStartOnly,
		},
		"/help": {
			HandlerType: bot.HandlerTypeMessageText,
			Pattern:     "help",
			Handler:     a.replyHandler("help", a.tgCfg.Messages.Help),
			MatchType:   bot.MatchTypeCommandStartOnly,
		},
		"/" + adventure: {
			HandlerType: bot.HandlerTypeMessageText,
			Pattern:     adventure,
			Handler:     a.HandleStartAdventure,
			MatchType:   bot.MatchTypeCommandStartOnly,
		},
	}
}

// CommandName turns a configured command ("start-adventure") into a valid
// Telegram command ("start_adventure").
func CommandName(command string) string {
	return strings.ToLower(strings.ReplaceAll(command, "-", "_"))
}

func (a *Adapter) replyHandler(name, reply string) bot.HandlerFunc {
	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		log := a.log.With("handler", name)
		msg := update.Message
		if msg == nil || msg.From == nil {
			log.WarnContext(ctx, "Command received update with nil message or sender", "update_id", update.ID)
			return
		}

		log.InfoContext(ctx, "Handling command", "chat_id", msg.Chat.ID, "user_id", msg.From.ID)
		a.reply(ctx, msg, reply)
	}
}

// HandleStartAdventure acknowledges the command in place and publishes a
// StartAdventureEvent for the issuer.
func (a *Adapter) HandleStartAdventure(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := a.log.With("handler", "start_adventure")
	msg := update.Message
	if msg == nil || msg.From == nil {
		log.WarnContext(ctx, "Command received update with nil message or sender", "update_id", update.ID)
		return
	}
	if msg.Chat.Type != models.ChatTypeSupergroup || !msg.Chat.IsForum {
		log.InfoContext(ctx, "Adventure requested outside a forum supergroup", "chat_id", msg.Chat.ID)
		a.reply(ctx, msg, "Adventures need a group with topics enabled.")
		return
	}

	a.rememberParticipant(ctx, msg)
	a.reply(ctx, msg, a.advCfg.CommandReply)

	owner := chat.User{ID: userID(msg.From.ID), Name: displayName(*msg.From)}
	log.InfoContext(ctx, "Adventure requested", "chat_id", msg.Chat.ID, "user_id", msg.From.ID)
	a.publisher.Publish(chat.StartAdventureEvent{Owner: owner, Origin: SurfaceID(msg.Chat.ID, 0)})
}

// HandleUpdate is the default handler: it records the surface, the sender
// and the message, then publishes a MessageEvent for text messages.
func (a *Adapter) HandleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if msg.From.ID == a.self.ID {
		return
	}

	surface := surfaceOf(msg)
	a.rememberSurface(ctx, surface, msg)
	a.rememberParticipant(ctx, msg)

	if msg.Text == "" {
		a.log.DebugContext(ctx, "Ignoring message without text", "surface", surface, "message_id", msg.ID)
		return
	}
	a.observe(ctx, surface, msg, false)
}

func (a *Adapter) reply(ctx context.Context, msg *models.Message, textValue string) {
	params := &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: textValue}
	if msg.IsTopicMessage {
		params.MessageThreadID = msg.MessageThreadID
	}
	if _, err := a.api.SendMessage(ctx, params); err != nil {
		a.log.ErrorContext(ctx, "Failed to send reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (a *Adapter) rememberSurface(ctx context.Context, surface chat.SurfaceID, msg *models.Message) {
	_, threadID, _ := ParseSurfaceID(surface)
	name := msg.Chat.Title
	if threadID != 0 {
		name = ""
		if msg.ForumTopicCreated != nil {
			name = msg.ForumTopicCreated.Name
		}
	}
	row := &database.Surface{ID: string(surface), ChatID: msg.Chat.ID, ThreadID: threadID, Name: name}
	if err := a.store.SaveSurface(ctx, row); err != nil {
		a.log.WarnContext(ctx, "Failed to record surface", "surface", surface, "error", err)
	}
}

func (a *Adapter) rememberParticipant(ctx context.Context, msg *models.Message) {
	if msg.From.IsBot {
		return
	}
	p := &database.Participant{
		ChatID:      msg.Chat.ID,
		UserID:      msg.From.ID,
		DisplayName: displayName(*msg.From),
		Username:    msg.From.Username,
	}
	if err := a.store.SaveParticipant(ctx, p); err != nil {
		a.log.WarnContext(ctx, "Failed to record participant", "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "error", err)
	}
}

// surfaceOf maps a message to its chat, or to its forum topic.
func surfaceOf(msg *models.Message) chat.SurfaceID {
	var threadID int64
	if msg.IsTopicMessage {
		threadID = int64(msg.MessageThreadID)
	}
	return SurfaceID(msg.Chat.ID, threadID)
}
