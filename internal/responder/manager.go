package responder

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/llm"
)

// Manager routes channel messages to per-channel Responders, creating them
// on first use. Channels named after an NPC get that NPC's persona without
// validation; other channels get the bot's own validated persona when the
// group responder is enabled for them.
type Manager struct {
	ctx     context.Context
	cfg     config.ResponderConfig
	botName string
	npcs    map[string]config.NPCConfig
	gateway llm.Gateway
	sender  chat.Sender
	clock   clockwork.Clock
	log     *slog.Logger

	mu         sync.Mutex
	responders map[chat.SurfaceID]*Responder
}

// NewManager returns a Manager sending through sender.
func NewManager(
	ctx context.Context,
	cfg config.ResponderConfig,
	npcs []config.NPCConfig,
	botName string,
	gateway llm.Gateway,
	sender chat.Sender,
	clock clockwork.Clock,
	log *slog.Logger,
) *Manager {
	byChannel := make(map[string]config.NPCConfig, len(npcs))
	for _, n := range npcs {
		byChannel[n.Channel] = n
	}
	return &Manager{
		ctx:        ctx,
		cfg:        cfg,
		botName:    botName,
		npcs:       byChannel,
		gateway:    gateway,
		sender:     sender,
		clock:      clock,
		log:        log.With("component", "responder_manager"),
		responders: make(map[chat.SurfaceID]*Responder),
	}
}

// OnMessage hands ev to its channel's Responder. Messages from channels that
// have no persona are ignored.
func (m *Manager) OnMessage(ev chat.MessageEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.responders[ev.Message.SurfaceID]
	if !ok {
		profile, ok := m.profileFor(ev.Message.SurfaceID, ev.SurfaceName)
		if !ok {
			return
		}
		r = New(m.ctx, ev.Message.SurfaceID, profile, m.timing(), m.gateway, m.sender, m.clock, m.log)
		m.responders[ev.Message.SurfaceID] = r
		m.log.Debug("Responder created", "surface", ev.Message.SurfaceID, "surface_name", ev.SurfaceName, "speaker", profile.Speaker)
	}
	r.OnMessage(ev.Message)
}

func (m *Manager) timing() Timing {
	return Timing{QuietPeriod: m.cfg.QuietPeriod, MaxAge: m.cfg.MaxAge}
}

func (m *Manager) profileFor(id chat.SurfaceID, name string) (Profile, bool) {
	if npc, ok := m.npcs[name]; ok && name != "" {
		speaker := npc.Name
		if speaker == "" {
			speaker = m.botName
		}
		return Profile{Speaker: speaker, Instruction: npc.Instruction}, true
	}
	if !m.cfg.Enabled {
		return Profile{}, false
	}
	if len(m.cfg.Channels) > 0 &&
		!slices.Contains(m.cfg.Channels, string(id)) &&
		(name == "" || !slices.Contains(m.cfg.Channels, name)) {
		return Profile{}, false
	}
	return Profile{
		Speaker:              m.botName,
		Instruction:          m.cfg.Instruction,
		ValidatorInstruction: m.cfg.ValidatorInstruction,
		Affirmative:          m.cfg.Affirmative,
	}, true
}

// Forget drops the Responder of a deleted channel.
func (m *Manager) Forget(id chat.SurfaceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.responders[id]; ok {
		r.Stop()
		delete(m.responders, id)
	}
}

// Sweep prunes every buffer and drops Responders that are empty and have
// seen no message for the max age. It returns the number dropped.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	idleSince := now.Add(-m.cfg.MaxAge)
	dropped := 0
	for id, r := range m.responders {
		if r.sweep(now, idleSince) {
			r.Stop()
			delete(m.responders, id)
			dropped++
		}
	}
	if dropped > 0 {
		m.log.Info("Dropped idle responders", "dropped", dropped, "remaining", len(m.responders))
	}
	return dropped
}

// Len reports how many channels currently have a Responder.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responders)
}

// Stop cancels every pending timer.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.responders {
		r.Stop()
		delete(m.responders, id)
	}
}
