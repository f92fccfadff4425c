// Package telegram adapts a Telegram supergroup to the chat platform model.
// Plain chats and forum topics are surfaces; adventure sessions live in forum
// topics created by the bot. The Bot API has no history endpoint, so every
// message the adapter sees or sends is logged to the SQLite store and replayed
// from there.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/database"
	"github.com/edgard/omega/internal/text"
)

const (
	// maxMessageLength is the Bot API limit for message text.
	maxMessageLength = 4096
	maxTopicName     = 128
	historyPageSize  = 100
)

// API is the subset of *bot.Bot the adapter calls.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	CreateForumTopic(ctx context.Context, params *bot.CreateForumTopicParams) (*models.ForumTopic, error)
	DeleteForumTopic(ctx context.Context, params *bot.DeleteForumTopicParams) (bool, error)
}

// Adapter implements chat.Platform on top of the Bot API and the store.
type Adapter struct {
	api       API
	self      models.User
	store     database.Store
	publisher chat.Publisher
	tgCfg     config.TelegramConfig
	advCfg    config.AdventureConfig
	log       *slog.Logger
}

// New returns an adapter for the bot account self. Inbound events and the
// echoes of the adapter's own sends are published to publisher.
func New(api API, self models.User, store database.Store, publisher chat.Publisher, tgCfg config.TelegramConfig, advCfg config.AdventureConfig, log *slog.Logger) *Adapter {
	return &Adapter{
		api:       api,
		self:      self,
		store:     store,
		publisher: publisher,
		tgCfg:     tgCfg,
		advCfg:    advCfg,
		log:       log.With("component", "telegram_adapter"),
	}
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) SelfID() chat.UserID { return userID(a.self.ID) }

// SendText sends text, split to the message size limit, and echoes each sent
// message back as a MessageEvent.
func (a *Adapter) SendText(ctx context.Context, surface chat.SurfaceID, content string) error {
	chatID, threadID, err := ParseSurfaceID(surface)
	if err != nil {
		return err
	}

	for _, part := range text.Chunk(content, maxMessageLength) {
		sent, err := a.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:          chatID,
			MessageThreadID: int(threadID),
			Text:            part,
		})
		if err != nil {
			if isThreadNotFound(err) {
				a.log.WarnContext(ctx, "Topic no longer exists", "surface", surface)
				a.publisher.Publish(chat.SurfaceDeletedEvent{SurfaceID: surface})
				return fmt.Errorf("%w: %s", chat.ErrSurfaceNotFound, surface)
			}
			return fmt.Errorf("failed to send message to %s: %w", surface, err)
		}
		a.observe(ctx, surface, sent, true)
	}
	return nil
}

// CreateSessionSurface opens a forum topic in origin's chat.
func (a *Adapter) CreateSessionSurface(ctx context.Context, owner chat.User, origin chat.SurfaceID, metadata string) (chat.SurfaceID, error) {
	chatID, _, err := ParseSurfaceID(origin)
	if err != nil {
		return "", err
	}
	ownerID, err := strconv.ParseInt(string(owner.ID), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram user id %q: %w", owner.ID, err)
	}

	name := topicName(a.advCfg.SurfaceName, owner.Name)
	topic, err := a.api.CreateForumTopic(ctx, &bot.CreateForumTopicParams{ChatID: chatID, Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to create forum topic in chat %d: %w", chatID, err)
	}

	surface := SurfaceID(chatID, int64(topic.MessageThreadID))
	row := &database.Surface{
		ID:       string(surface),
		ChatID:   chatID,
		ThreadID: int64(topic.MessageThreadID),
		Name:     topic.Name,
		OwnerID:  ownerID,
		Metadata: metadata,
	}
	if err := a.store.SaveSurface(ctx, row); err != nil {
		if _, delErr := a.api.DeleteForumTopic(ctx, &bot.DeleteForumTopicParams{ChatID: chatID, MessageThreadID: topic.MessageThreadID}); delErr != nil {
			a.log.ErrorContext(ctx, "Failed to remove orphaned topic", "surface", surface, "error", delErr)
		}
		return "", err
	}

	a.log.InfoContext(ctx, "Session topic created", "surface", surface, "owner", owner.ID, "name", name)
	return surface, nil
}

// DeleteSurface deletes a forum topic and forgets its log.
func (a *Adapter) DeleteSurface(ctx context.Context, surface chat.SurfaceID) error {
	chatID, threadID, err := ParseSurfaceID(surface)
	if err != nil {
		return err
	}
	if threadID == 0 {
		return fmt.Errorf("refusing to delete chat %d: only topics are session surfaces", chatID)
	}

	_, apiErr := a.api.DeleteForumTopic(ctx, &bot.DeleteForumTopicParams{ChatID: chatID, MessageThreadID: int(threadID)})
	if apiErr != nil && !isThreadNotFound(apiErr) {
		return fmt.Errorf("failed to delete topic %s: %w", surface, apiErr)
	}

	if err := a.store.DeleteSurface(ctx, string(surface)); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return chat.ErrSurfaceNotFound
		}
		return err
	}
	if apiErr != nil {
		return chat.ErrSurfaceNotFound
	}
	return nil
}

func (a *Adapter) ReadMetadata(ctx context.Context, surface chat.SurfaceID) (string, error) {
	row, err := a.store.GetSurface(ctx, string(surface))
	if errors.Is(err, database.ErrNotFound) {
		return "", chat.ErrSurfaceNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Metadata, nil
}

func (a *Adapter) WriteMetadata(ctx context.Context, surface chat.SurfaceID, value string) error {
	err := a.store.SetSurfaceMetadata(ctx, string(surface), value)
	if errors.Is(err, database.ErrNotFound) {
		return chat.ErrSurfaceNotFound
	}
	return err
}

// MessagesFrom pages through the logged history of a surface. Telegram message
// ids grow monotonically within a chat, so they order the log.
func (a *Adapter) MessagesFrom(ctx context.Context, surface chat.SurfaceID, anchor chat.MessageID) iter.Seq2[[]chat.Message, error] {
	return func(yield func([]chat.Message, error) bool) {
		var from int64
		if anchor != "" {
			id, err := strconv.ParseInt(string(anchor), 10, 64)
			if err != nil {
				yield(nil, fmt.Errorf("invalid telegram message id %q: %w", anchor, err))
				return
			}
			from = id
		}

		for {
			rows, err := a.store.GetMessagesFrom(ctx, string(surface), from, historyPageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(rows) == 0 {
				return
			}

			page := make([]chat.Message, len(rows))
			for i, row := range rows {
				page[i] = fromRow(row)
			}
			if !yield(page, nil) || len(rows) < historyPageSize {
				return
			}
			from = rows[len(rows)-1].MessageID + 1
		}
	}
}

func (a *Adapter) ListSurfaces(ctx context.Context) ([]chat.SurfaceID, error) {
	rows, err := a.store.ListSurfaces(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]chat.SurfaceID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, chat.SurfaceID(row.ID))
	}
	return ids, nil
}

// observe logs a message and publishes it. It returns the published message.
func (a *Adapter) observe(ctx context.Context, surface chat.SurfaceID, msg *models.Message, self bool) chat.Message {
	author := a.self
	if !self && msg.From != nil {
		author = *msg.From
	}
	row := database.Message{
		SurfaceID:  string(surface),
		MessageID:  int64(msg.ID),
		UserID:     author.ID,
		AuthorName: displayName(author),
		IsSelf:     self,
		Content:    msg.Text,
		Timestamp:  time.Unix(int64(msg.Date), 0).UTC(),
	}
	if err := a.store.SaveMessage(ctx, &row); err != nil {
		a.log.ErrorContext(ctx, "Failed to log message", "surface", surface, "message_id", msg.ID, "error", err)
	}

	m := fromRow(row)
	if !self {
		m.Participants = a.participants(ctx, msg.Chat.ID)
	}
	a.publisher.Publish(chat.MessageEvent{Message: m, SurfaceName: a.surfaceName(ctx, surface)})
	return m
}

func (a *Adapter) participants(ctx context.Context, chatID int64) []chat.Participant {
	rows, err := a.store.GetParticipants(ctx, chatID)
	if err != nil {
		a.log.WarnContext(ctx, "Failed to load participants", "chat_id", chatID, "error", err)
		return nil
	}
	out := make([]chat.Participant, 0, len(rows))
	for _, p := range rows {
		if p.Username == "" {
			continue
		}
		out = append(out, chat.Participant{
			ID:            userID(p.UserID),
			DisplayName:   p.DisplayName,
			MentionTokens: []string{"@" + p.Username},
		})
	}
	return out
}

func (a *Adapter) surfaceName(ctx context.Context, surface chat.SurfaceID) string {
	row, err := a.store.GetSurface(ctx, string(surface))
	if err != nil {
		return ""
	}
	return row.Name
}

func fromRow(row database.Message) chat.Message {
	return chat.Message{
		ID:         chat.MessageID(strconv.FormatInt(row.MessageID, 10)),
		SurfaceID:  chat.SurfaceID(row.SurfaceID),
		AuthorID:   userID(row.UserID),
		AuthorName: row.AuthorName,
		IsSelf:     row.IsSelf,
		Content:    row.Content,
		CreatedAt:  row.Timestamp,
	}
}

// SurfaceID formats the surface of a chat or, for threadID > 0, of a topic.
func SurfaceID(chatID, threadID int64) chat.SurfaceID {
	return chat.SurfaceID(strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(threadID, 10))
}

// ParseSurfaceID is the inverse of SurfaceID.
func ParseSurfaceID(surface chat.SurfaceID) (chatID, threadID int64, err error) {
	c, t, ok := strings.Cut(string(surface), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid telegram surface %q", surface)
	}
	if chatID, err = strconv.ParseInt(c, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid telegram surface %q: %w", surface, err)
	}
	if threadID, err = strconv.ParseInt(t, 10, 64); err != nil || threadID < 0 {
		return 0, 0, fmt.Errorf("invalid telegram surface %q", surface)
	}
	return chatID, threadID, nil
}

func userID(id int64) chat.UserID { return chat.UserID(strconv.FormatInt(id, 10)) }

func displayName(u models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func topicName(base, owner string) string {
	name := base
	if owner != "" {
		name = base + " - " + owner
	}
	if r := []rune(name); len(r) > maxTopicName {
		name = string(r[:maxTopicName])
	}
	return name
}

func isThreadNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "thread not found") || strings.Contains(msg, "topic_id_invalid")
}
