package responder_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/chat/chattest"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/llm"
	"github.com/edgard/omega/internal/llm/llmtest"
	"github.com/edgard/omega/internal/responder"
)

func newManager(t *testing.T, cfg config.ResponderConfig, npcs []config.NPCConfig, gw *llmtest.Gateway) (*responder.Manager, *clockwork.FakeClock, *chattest.Platform) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(t0)
	platform := chattest.New(clock.Now)
	ctx, cancel := context.WithCancel(context.Background())
	m := responder.NewManager(ctx, cfg, npcs, "Omega", gw, platform, clock, discardLogger())
	t.Cleanup(func() {
		m.Stop()
		cancel()
	})
	return m, clock, platform
}

func responderConfig() config.ResponderConfig {
	return config.ResponderConfig{
		Enabled:              true,
		QuietPeriod:          quiet,
		MaxAge:               maxAge,
		Instruction:          "Chat naturally.",
		ValidatorInstruction: judgePrompt,
		Affirmative:          "yes",
	}
}

func event(clock clockwork.Clock, id chat.SurfaceID, name, content string) chat.MessageEvent {
	return chat.MessageEvent{
		SurfaceName: name,
		Message: chat.Message{
			ID:         chat.MessageID(content),
			SurfaceID:  id,
			AuthorID:   "u1",
			AuthorName: "Alice",
			Content:    content,
			CreatedAt:  clock.Now(),
		},
	}
}

func TestManager_NPCChannelSkipsValidation(t *testing.T) {
	t.Parallel()

	gw := llmtest.New(generate("Welcome to the forge."))
	npcs := []config.NPCConfig{{Channel: "la-forge", Name: "Brom", Instruction: "You are Brom the blacksmith."}}
	m, clock, platform := newManager(t, responderConfig(), npcs, gw)

	m.OnMessage(event(clock, "c1", "la-forge", "hello smith"))
	clock.Advance(quiet)

	require.Eventually(t, func() bool { return len(platform.Sent()) == 1 }, waitFor, tick)
	assert.Equal(t, 1, gw.Calls())

	system := gw.Requests()[0].Messages[0].Content
	assert.Contains(t, system, "Your name is Brom.")
	assert.Contains(t, system, "You are Brom the blacksmith.")
}

func TestManager_GroupChannelIsValidated(t *testing.T) {
	t.Parallel()

	gw := llmtest.New(generate("Sure"), judge("yes"))
	m, clock, platform := newManager(t, responderConfig(), nil, gw)

	m.OnMessage(event(clock, "c2", "general", "hi all"))
	clock.Advance(quiet)

	require.Eventually(t, func() bool { return len(platform.Sent()) == 1 }, waitFor, tick)
	assert.Equal(t, 2, gw.Calls())
}

func TestManager_ChannelSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*config.ResponderConfig)
		surface  chat.SurfaceID
		surfName string
		tracked  bool
	}{
		{name: "Enabled without allowlist", surface: "c1", surfName: "general", tracked: true},
		{name: "Disabled", mutate: func(c *config.ResponderConfig) { c.Enabled = false }, surface: "c1", surfName: "general"},
		{name: "Allowlisted by name", mutate: func(c *config.ResponderConfig) { c.Channels = []string{"general"} }, surface: "c1", surfName: "general", tracked: true},
		{name: "Allowlisted by id", mutate: func(c *config.ResponderConfig) { c.Channels = []string{"c1"} }, surface: "c1", tracked: true},
		{name: "Not allowlisted", mutate: func(c *config.ResponderConfig) { c.Channels = []string{"other"} }, surface: "c1", surfName: "general"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := responderConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			m, clock, _ := newManager(t, cfg, nil, llmtest.New())
			m.OnMessage(event(clock, tt.surface, tt.surfName, "hello"))

			want := 0
			if tt.tracked {
				want = 1
			}
			assert.Equal(t, want, m.Len())
		})
	}
}

func TestManager_NPCWorksWhenGroupResponderDisabled(t *testing.T) {
	t.Parallel()

	cfg := responderConfig()
	cfg.Enabled = false
	npcs := []config.NPCConfig{{Channel: "apothicairerie", Instruction: "You sell potions."}}
	m, clock, _ := newManager(t, cfg, npcs, llmtest.New())

	m.OnMessage(event(clock, "c9", "apothicairerie", "a potion please"))
	assert.Equal(t, 1, m.Len())
}

func TestManager_SweepDropsIdleResponders(t *testing.T) {
	t.Parallel()

	gw := llmtest.New().WithFallback(llmtest.Step{Match: isGeneration, Result: llm.Result{Text: "x"}})
	m, clock, _ := newManager(t, responderConfig(), nil, gw)

	m.OnMessage(event(clock, "c1", "general", "old"))
	assert.Equal(t, 1, m.Len())

	// Still within max age: kept.
	assert.Equal(t, 0, m.Sweep(clock.Now().Add(time.Hour)))
	assert.Equal(t, 1, m.Len())

	m.Forget("c1")
	assert.Equal(t, 0, m.Len())

	m.OnMessage(event(clock, "c2", "general", "old"))
	clock.Advance(quiet)
	require.Eventually(t, func() bool { return gw.Calls() >= 1 }, waitFor, tick)

	assert.Equal(t, 1, m.Sweep(clock.Now().Add(25*time.Hour)))
	assert.Equal(t, 0, m.Len())
}
