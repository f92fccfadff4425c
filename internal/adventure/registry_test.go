package adventure_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/omega/internal/adventure"
	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/chat/chattest"
	"github.com/edgard/omega/internal/llm/llmtest"
	"github.com/edgard/omega/internal/metadata"
)

func TestRegistry_StartWritesInitialMetadata(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	surface := h.start()

	rec := h.record(surface)
	assert.Equal(t, metadata.KindAdventure, rec.Kind)
	assert.Equal(t, player.ID, rec.OwnerID)
	assert.False(t, rec.HasCharacter())
	assert.Empty(t, rec.AnchorMessageID)

	got, ok := h.registry.SurfaceOf(player.ID)
	require.True(t, ok)
	assert.Equal(t, surface, got)
}

func TestRegistry_SingleSessionPerUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := h.start()
	second := h.start()

	assert.NotEqual(t, first, second)
	assert.False(t, h.platform.Exists(first), "previous surface is deleted")
	assert.True(t, h.platform.Exists(second))
	assert.Equal(t, 1, h.registry.Len())

	got, ok := h.registry.SurfaceOf(player.ID)
	require.True(t, ok)
	assert.Equal(t, second, got)

	handled, err := h.registry.Route(h.ctx, chat.Message{SurfaceID: first, AuthorID: player.ID, Content: "late"})
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestRegistry_StartKeepsSessionWhenDeleteFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := h.start()

	h.platform.SetFailure(func(p *chattest.Platform) { p.DeleteErr = errors.New("forbidden") })
	_, err := h.registry.Start(h.ctx, player, "lobby")
	require.Error(t, err)

	got, ok := h.registry.SurfaceOf(player.ID)
	require.True(t, ok)
	assert.Equal(t, first, got)
	assert.Equal(t, 1, h.registry.Len())
}

func TestRegistry_StartToleratesAlreadyDeletedSurface(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := h.start()
	require.NoError(t, h.platform.DeleteSurface(h.ctx, first))

	second, err := h.registry.Start(h.ctx, player, "lobby")
	require.NoError(t, err)
	assert.Equal(t, 1, h.registry.Len())
	assert.True(t, h.platform.Exists(second))
}

func TestRegistry_StartCreateFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.SetFailure(func(p *chattest.Platform) { p.CreateErr = errors.New("no permission") })

	_, err := h.registry.Start(h.ctx, player, "lobby")
	require.Error(t, err)
	assert.Equal(t, 0, h.registry.Len())
}

func TestRegistry_RouteDropsNonOwnerMessages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	surface := h.start()
	before := len(h.session(surface).Buffer())

	_, err := h.say(surface, intruder, "let me in")
	require.NoError(t, err)
	assert.Len(t, h.session(surface).Buffer(), before)
	assert.Equal(t, 0, h.gateway.Calls())
}

func TestRegistry_RouteIgnoresOtherSurfaces(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	handled, err := h.registry.Route(h.ctx, chat.Message{SurfaceID: "general", AuthorID: player.ID})
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestRegistry_Forget(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	surface := h.start()

	h.registry.Forget(surface)
	assert.Equal(t, 0, h.registry.Len())
	_, ok := h.registry.SurfaceOf(player.ID)
	assert.False(t, ok)

	h.registry.Forget("unknown")
}

func TestRegistry_RestoreMatchesUninterruptedSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		llmtest.Text("Who are you?"),
		character("Tor, a dwarf miner."),
		llmtest.Text("The mine is dark.\n\nSomething moves."),
		llmtest.Text("A rat."),
		llmtest.Text("It flees."),
	)
	surface := h.start()
	for _, line := range []string{"a dwarf", "Tor the miner", "I light a torch", "I kick it"} {
		_, err := h.say(surface, player, line)
		require.NoError(t, err)
	}
	live := h.session(surface)
	require.Equal(t, adventure.Playing, live.Phase())

	// Noise the restore must skip.
	h.platform.AddSurface("general", "Just a channel topic")
	h.platform.AddSurface("broken", "kind: [adventure")

	restarted := adventure.NewRegistry(h.platform, llmtest.New(), adventureConfig(), discardLogger())
	n, err := restarted.Restore(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, ok := restarted.Session(surface)
	require.True(t, ok)
	assert.Equal(t, adventure.Playing, s.Phase())
	assert.Equal(t, "Tor, a dwarf miner.", s.Character())
	assert.Equal(t, ids(live.Buffer()), ids(s.Buffer()))

	got, ok := restarted.SurfaceOf(player.ID)
	require.True(t, ok)
	assert.Equal(t, surface, got)
}

func TestRegistry_RestoreFiltersNonOwnerHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := metadata.New(player.ID).WithCharacter("A thief.", "")
	encoded, err := metadata.Encode(rec)
	require.NoError(t, err)
	h.platform.AddSurface("s-restore", encoded)

	h.platform.Post("s-restore", player, "one")
	h.platform.Post("s-restore", intruder, "spam")
	h.platform.Post("s-restore", chat.User{ID: chattest.SelfID, Name: "Bot"}, "two")
	h.platform.Post("s-restore", player, "three")

	n, err := h.registry.Restore(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	s := h.session("s-restore")
	var contents []string
	for _, m := range s.Buffer() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)
}

func TestRegistry_RestoreFromAnchor(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddSurface("s-anchor", "")
	h.platform.Post("s-anchor", player, "old")
	anchor := h.platform.Post("s-anchor", player, "new")
	h.platform.Post("s-anchor", player, "newer")

	encoded, err := metadata.Encode(metadata.New(player.ID).WithCharacter("A cleric.", anchor.ID))
	require.NoError(t, err)
	require.NoError(t, h.platform.WriteMetadata(h.ctx, "s-anchor", encoded))

	_, err = h.registry.Restore(h.ctx)
	require.NoError(t, err)

	buf := h.session("s-anchor").Buffer()
	require.Len(t, buf, 2)
	assert.Equal(t, anchor.ID, buf[0].ID)
}

func TestRegistry_RestoreIgnoresQueuedCopiesOfReplayedMessages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, llmtest.Text("Onward."))
	encoded, err := metadata.Encode(metadata.New(player.ID).WithCharacter("A scout.", ""))
	require.NoError(t, err)
	h.platform.AddSurface("s-live", encoded)
	one := h.platform.Post("s-live", player, "one")
	// Arrived while the gateway was connecting: read by the replay and
	// still waiting in the event queue.
	two := h.platform.Post("s-live", player, "two")

	_, err = h.registry.Restore(h.ctx)
	require.NoError(t, err)

	handled, err := h.registry.Route(h.ctx, two)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 0, h.gateway.Calls(), "a replayed message does not run a turn twice")
	assert.Equal(t, []chat.MessageID{one.ID, two.ID}, ids(h.session("s-live").Buffer()))

	three, err := h.say("s-live", player, "three")
	require.NoError(t, err)
	require.Equal(t, 1, h.gateway.Calls())
	assert.Len(t, h.gateway.Requests()[0].Messages, 4, "system prompt plus each message once")
	assert.Equal(t, three.ID, h.session("s-live").Buffer()[2].ID)
}

func TestRegistry_ConcurrentStartsForOneOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var wg sync.WaitGroup
	surfaces := make([]chat.SurfaceID, 2)
	errs := make([]error, 2)
	for i := range surfaces {
		wg.Add(1)
		go func() {
			defer wg.Done()
			surfaces[i], errs[i] = h.registry.Start(h.ctx, player, "lobby")
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, surfaces[0], surfaces[1])

	assert.Equal(t, 1, h.registry.Len())
	kept, ok := h.registry.SurfaceOf(player.ID)
	require.True(t, ok)
	assert.Contains(t, surfaces, kept)

	live := 0
	for _, s := range surfaces {
		if h.platform.Exists(s) {
			live++
		}
	}
	assert.Equal(t, 1, live, "the earlier surface is deleted by the later start")
	assert.True(t, h.platform.Exists(kept))
}

func TestRegistry_RestoreSkipsDuplicateOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	encoded, err := metadata.Encode(metadata.New(player.ID).WithCharacter("A.", ""))
	require.NoError(t, err)
	h.platform.AddSurface("s-a", encoded)
	h.platform.AddSurface("s-b", encoded)

	n, err := h.registry.Restore(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.registry.Len())

	got, ok := h.registry.SurfaceOf(player.ID)
	require.True(t, ok)
	assert.Equal(t, chat.SurfaceID("s-a"), got)
}

func TestRegistry_RestoreListFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.SetFailure(func(p *chattest.Platform) { p.ListErr = errors.New("offline") })

	_, err := h.registry.Restore(h.ctx)
	require.Error(t, err)
}

func TestRegistry_RestoredSessionPinsAnchorOnFirstTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, llmtest.Text("Welcome back."))
	encoded, err := metadata.Encode(metadata.New(player.ID).WithCharacter("A ranger.", ""))
	require.NoError(t, err)
	h.platform.AddSurface("s-pin", encoded)
	first := h.platform.Post("s-pin", player, "earlier")

	_, err = h.registry.Restore(h.ctx)
	require.NoError(t, err)

	_, err = h.say("s-pin", player, "I am back")
	require.NoError(t, err)
	assert.Equal(t, first.ID, h.record("s-pin").AnchorMessageID)
	assert.Equal(t, []string{"Welcome back."}, h.platform.SentTo("s-pin"))
}
