package telegram_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/database"
	"github.com/edgard/omega/internal/platform/telegram"
)

const groupID int64 = -1001

var self = models.User{ID: 999, IsBot: true, FirstName: "Omega", Username: "omega_bot"}

type fakeAPI struct {
	mu        sync.Mutex
	nextID    int
	nextTopic int
	sent      []*bot.SendMessageParams
	created   []*bot.CreateForumTopicParams
	deleted   []*bot.DeleteForumTopicParams
	sendErr   error
	deleteErr error
}

func (f *fakeAPI) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, p)
	f.nextID++
	return &models.Message{
		ID:              1000 + f.nextID,
		MessageThreadID: p.MessageThreadID,
		IsTopicMessage:  p.MessageThreadID != 0,
		Chat:            models.Chat{ID: p.ChatID.(int64)},
		From:            &self,
		Date:            1700000000,
		Text:            p.Text,
	}, nil
}

func (f *fakeAPI) CreateForumTopic(_ context.Context, p *bot.CreateForumTopicParams) (*models.ForumTopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	f.nextTopic++
	return &models.ForumTopic{MessageThreadID: 50 + f.nextTopic, Name: p.Name}, nil
}

func (f *fakeAPI) DeleteForumTopic(_ context.Context, p *bot.DeleteForumTopicParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, p)
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	return true, nil
}

type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) Publish(ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) messages() []chat.MessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chat.MessageEvent
	for _, ev := range r.events {
		if me, ok := ev.(chat.MessageEvent); ok {
			out = append(out, me)
		}
	}
	return out
}

type fixture struct {
	api     *fakeAPI
	events  *recorder
	store   database.Store
	adapter *telegram.Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "tg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{api: &fakeAPI{}, events: &recorder{}, store: database.NewStore(db, log)}
	f.adapter = telegram.New(f.api, self, f.store, f.events,
		config.TelegramConfig{Messages: config.TelegramMessages{Welcome: "hello", Help: "help text"}},
		config.AdventureConfig{Command: "start-adventure", SurfaceName: "the-great-adventure", CommandReply: "Have fun!"},
		log)
	return f
}

func groupMessage(id int, from models.User, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   id,
		From: &from,
		Chat: models.Chat{ID: groupID, Type: models.ChatTypeSupergroup, Title: "Tavern", IsForum: true},
		Date: 1700000000 + id,
		Text: text,
	}}
}

func TestSurfaceID_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		chatID, threadID int64
	}{
		{groupID, 0},
		{groupID, 77},
		{42, 0},
	}
	for _, tt := range tests {
		c, th, err := telegram.ParseSurfaceID(telegram.SurfaceID(tt.chatID, tt.threadID))
		require.NoError(t, err)
		assert.Equal(t, tt.chatID, c)
		assert.Equal(t, tt.threadID, th)
	}

	for _, bad := range []chat.SurfaceID{"", "abc", "1", "1:x", "x:1", "1:-3"} {
		_, _, err := telegram.ParseSurfaceID(bad)
		assert.Error(t, err, "surface %q", bad)
	}
}

func TestCommandName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "start_adventure", telegram.CommandName("start-adventure"))
	assert.Equal(t, "play", telegram.CommandName("Play"))
}

func TestAdapter_HandleUpdatePublishesMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	ann := models.User{ID: 1, FirstName: "Ann", LastName: "Lee", Username: "ann"}
	bob := models.User{ID: 2, FirstName: "Bob"}

	f.adapter.HandleUpdate(ctx, nil, groupMessage(10, ann, "hi all"))
	f.adapter.HandleUpdate(ctx, nil, groupMessage(11, bob, "hey @ann"))

	msgs := f.events.messages()
	require.Len(t, msgs, 2)

	got := msgs[1]
	assert.Equal(t, "Tavern", got.SurfaceName)
	assert.Equal(t, telegram.SurfaceID(groupID, 0), got.Message.SurfaceID)
	assert.Equal(t, chat.MessageID("11"), got.Message.ID)
	assert.Equal(t, chat.UserID("2"), got.Message.AuthorID)
	assert.Equal(t, "Bob", got.Message.AuthorName)
	assert.False(t, got.Message.IsSelf)
	assert.Contains(t, got.Message.Participants, chat.Participant{ID: "1", DisplayName: "Ann Lee", MentionTokens: []string{"@ann"}})
}

func TestAdapter_HandleUpdateIgnoresServiceAndSelfMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	f.adapter.HandleUpdate(ctx, nil, &models.Update{})
	f.adapter.HandleUpdate(ctx, nil, groupMessage(5, self, "echo"))
	f.adapter.HandleUpdate(ctx, nil, groupMessage(6, models.User{ID: 3, FirstName: "Cy"}, ""))

	assert.Empty(t, f.events.messages())
}

func TestAdapter_SendTextEchoesAndLogs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	surface := telegram.SurfaceID(groupID, 0)

	require.NoError(t, f.adapter.SendText(ctx, surface, "Hello there"))

	msgs := f.events.messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Message.IsSelf)
	assert.Equal(t, chat.UserID("999"), msgs[0].Message.AuthorID)
	assert.Equal(t, "Hello there", msgs[0].Message.Content)

	var replayed []chat.Message
	for page, err := range f.adapter.MessagesFrom(ctx, surface, "") {
		require.NoError(t, err)
		replayed = append(replayed, page...)
	}
	require.Len(t, replayed, 1)
	assert.Equal(t, msgs[0].Message.ID, replayed[0].ID)
	assert.True(t, replayed[0].IsSelf)
}

func TestAdapter_SendTextToDeletedTopic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.api.sendErr = errors.New("bad request, Bad Request: message thread not found")
	surface := telegram.SurfaceID(groupID, 7)

	err := f.adapter.SendText(context.Background(), surface, "anyone?")
	require.ErrorIs(t, err, chat.ErrSurfaceNotFound)
	assert.Contains(t, f.events.events, chat.Event(chat.SurfaceDeletedEvent{SurfaceID: surface}))
}

func TestAdapter_SessionSurfaceLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	owner := chat.User{ID: "1", Name: "Ann"}

	surface, err := f.adapter.CreateSessionSurface(ctx, owner, telegram.SurfaceID(groupID, 0), "kind: adventure")
	require.NoError(t, err)
	assert.Equal(t, telegram.SurfaceID(groupID, 51), surface)
	require.Len(t, f.api.created, 1)
	assert.Equal(t, "the-great-adventure - Ann", f.api.created[0].Name)

	meta, err := f.adapter.ReadMetadata(ctx, surface)
	require.NoError(t, err)
	assert.Equal(t, "kind: adventure", meta)

	require.NoError(t, f.adapter.WriteMetadata(ctx, surface, "kind: adventure\nversion: 1"))
	meta, err = f.adapter.ReadMetadata(ctx, surface)
	require.NoError(t, err)
	assert.Equal(t, "kind: adventure\nversion: 1", meta)

	ids, err := f.adapter.ListSurfaces(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, surface)

	require.NoError(t, f.adapter.DeleteSurface(ctx, surface))
	_, err = f.adapter.ReadMetadata(ctx, surface)
	require.ErrorIs(t, err, chat.ErrSurfaceNotFound)
	require.ErrorIs(t, f.adapter.WriteMetadata(ctx, surface, "x"), chat.ErrSurfaceNotFound)
	require.ErrorIs(t, f.adapter.DeleteSurface(ctx, surface), chat.ErrSurfaceNotFound)
}

func TestAdapter_DeleteSurfaceRefusesChats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.Error(t, f.adapter.DeleteSurface(context.Background(), telegram.SurfaceID(groupID, 0)))
	assert.Empty(t, f.api.deleted)
}

func TestAdapter_DeleteSurfaceAlreadyGone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	surface, err := f.adapter.CreateSessionSurface(ctx, chat.User{ID: "1", Name: "Ann"}, telegram.SurfaceID(groupID, 0), "m")
	require.NoError(t, err)

	f.api.deleteErr = errors.New("Bad Request: message thread not found")
	require.ErrorIs(t, f.adapter.DeleteSurface(ctx, surface), chat.ErrSurfaceNotFound)
	_, err = f.adapter.ReadMetadata(ctx, surface)
	require.ErrorIs(t, err, chat.ErrSurfaceNotFound)
}

func TestAdapter_MessagesFromAnchorAcrossPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	ann := models.User{ID: 1, FirstName: "Ann"}

	for id := 1; id <= 250; id++ {
		f.adapter.HandleUpdate(ctx, nil, groupMessage(id, ann, "line"))
	}

	var pages, total int
	var first, last chat.MessageID
	for page, err := range f.adapter.MessagesFrom(ctx, telegram.SurfaceID(groupID, 0), "120") {
		require.NoError(t, err)
		if pages == 0 {
			first = page[0].ID
		}
		last = page[len(page)-1].ID
		pages++
		total += len(page)
	}
	assert.Equal(t, 2, pages)
	assert.Equal(t, 131, total)
	assert.Equal(t, chat.MessageID("120"), first)
	assert.Equal(t, chat.MessageID("250"), last)

	for _, err := range f.adapter.MessagesFrom(ctx, telegram.SurfaceID(groupID, 0), "abc") {
		require.Error(t, err)
	}
}

func TestAdapter_StartAdventureCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	ann := models.User{ID: 1, FirstName: "Ann"}

	f.adapter.HandleStartAdventure(ctx, nil, groupMessage(3, ann, "/start_adventure"))

	require.Len(t, f.api.sent, 1)
	assert.Equal(t, "Have fun!", f.api.sent[0].Text)
	assert.Contains(t, f.events.events, chat.Event(chat.StartAdventureEvent{
		Owner:  chat.User{ID: "1", Name: "Ann"},
		Origin: telegram.SurfaceID(groupID, 0),
	}))
}

func TestAdapter_StartAdventureNeedsForum(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	update := groupMessage(3, models.User{ID: 1, FirstName: "Ann"}, "/start_adventure")
	update.Message.Chat.IsForum = false

	f.adapter.HandleStartAdventure(context.Background(), nil, update)
	assert.Empty(t, f.events.events)
	require.Len(t, f.api.sent, 1)
}

func TestAdapter_Commands(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cmds := f.adapter.Commands()
	require.Contains(t, cmds, "/start_adventure")
	require.Contains(t, cmds, "/help")

	cmds["/help"].Handler(context.Background(), nil, groupMessage(4, models.User{ID: 1, FirstName: "Ann"}, "/help"))
	require.Len(t, f.api.sent, 1)
	assert.Equal(t, "help text", f.api.sent[0].Text)
}
