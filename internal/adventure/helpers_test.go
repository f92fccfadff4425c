package adventure_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgard/omega/internal/adventure"
	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/chat/chattest"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/llm"
	"github.com/edgard/omega/internal/llm/llmtest"
	"github.com/edgard/omega/internal/metadata"
)

var (
	player   = chat.User{ID: "u1", Name: "Lia"}
	intruder = chat.User{ID: "u2", Name: "Mallory"}
)

func adventureConfig() config.AdventureConfig {
	return config.AdventureConfig{
		Command:                 "start-adventure",
		SurfaceName:             "the-great-adventure",
		CommandReply:            "Have fun!",
		Welcome:                 []string{"Welcome!", "Describe your character."},
		CharacterReady:          "Very well, let us begin.",
		CreationInstruction:     "CREATE",
		IntroductionInstruction: "INTRO",
		PlayInstruction:         "PLAY",
	}
}

// echoes collects the platform's self messages until the test pumps them,
// the way a dispatcher sees them after the current handler returns.
type echoes struct {
	mu     sync.Mutex
	events []chat.Event
}

func (e *echoes) Publish(ev chat.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *echoes) drain() []chat.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.events
	e.events = nil
	return out
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	platform *chattest.Platform
	echo     *echoes
	gateway  *llmtest.Gateway
	registry *adventure.Registry
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, steps ...llmtest.Step) *harness {
	t.Helper()

	platform := chattest.New(nil)
	echo := &echoes{}
	platform.Echo = echo
	gateway := llmtest.New(steps...)

	return &harness{
		t:        t,
		ctx:      context.Background(),
		platform: platform,
		echo:     echo,
		gateway:  gateway,
		registry: adventure.NewRegistry(platform, gateway, adventureConfig(), discardLogger()),
	}
}

// pump routes pending self messages until none are left.
func (h *harness) pump() {
	h.t.Helper()
	for {
		events := h.echo.drain()
		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			if me, ok := ev.(chat.MessageEvent); ok {
				_, err := h.registry.Route(h.ctx, me.Message)
				require.NoError(h.t, err)
			}
		}
	}
}

func (h *harness) start() chat.SurfaceID {
	h.t.Helper()
	surface, err := h.registry.Start(h.ctx, player, "lobby")
	require.NoError(h.t, err)
	h.pump()
	return surface
}

// say posts a message and routes it, returning the turn error.
func (h *harness) say(surface chat.SurfaceID, who chat.User, content string) (chat.Message, error) {
	h.t.Helper()
	m := h.platform.Post(surface, who, content)
	handled, err := h.registry.Route(h.ctx, m)
	require.True(h.t, handled)
	h.pump()
	return m, err
}

func (h *harness) session(surface chat.SurfaceID) *adventure.Session {
	h.t.Helper()
	s, ok := h.registry.Session(surface)
	require.True(h.t, ok)
	return s
}

func (h *harness) record(surface chat.SurfaceID) metadata.Record {
	h.t.Helper()
	raw, ok := h.platform.Metadata(surface)
	require.True(h.t, ok)
	rec, err := metadata.Decode(raw)
	require.NoError(h.t, err)
	return rec
}

func ids(msgs []chat.Message) []chat.MessageID {
	out := make([]chat.MessageID, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func character(desc string) llmtest.Step {
	s := llmtest.Structured(map[string]string{"character_description": desc})
	s.Match = llmtest.HasTool("create_character")
	return s
}

func systemPrompt(r llm.Request) string {
	if len(r.Messages) == 0 || r.Messages[0].Role != llm.RoleSystem {
		return ""
	}
	return r.Messages[0].Content
}
