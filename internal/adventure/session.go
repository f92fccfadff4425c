// Package adventure runs role-play sessions on dedicated surfaces. A Session
// walks the player through character creation, an opening scene and free
// play; the Registry owns sessions, enforces one per user and rebuilds them
// from surface metadata and history after a restart.
package adventure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/llm"
	"github.com/edgard/omega/internal/metadata"
	"github.com/edgard/omega/internal/text"
)

// ErrNoCharacter is returned when the model called the character tool
// without a description.
var ErrNoCharacter = errors.New("character tool called without a description")

type phaseHandler func(s *Session, ctx context.Context) error

// handlers holds one turn handler per phase.
var handlers = map[Phase]phaseHandler{
	CreatingCharacter: (*Session).turnCreating,
	Introducing:       (*Session).turnIntroducing,
	Playing:           (*Session).turnPlaying,
}

// Session is a single player's adventure on one surface.
type Session struct {
	surface  chat.SurfaceID
	owner    chat.UserID
	platform chat.Platform
	gateway  llm.Gateway
	cfg      config.AdventureConfig
	log      *slog.Logger

	mu        sync.Mutex
	phase     Phase
	character string
	buffer    []chat.Message
	// persisted is the last record successfully written to the surface.
	persisted metadata.Record
	// pinned is set once the metadata anchor points at the first message
	// buffered after character creation.
	pinned bool
	// replayed holds ids read from history at restore that may still be
	// queued as live events.
	replayed map[chat.MessageID]struct{}
}

func newSession(surface chat.SurfaceID, record metadata.Record, phase Phase, platform chat.Platform, gateway llm.Gateway, cfg config.AdventureConfig, log *slog.Logger) *Session {
	s := &Session{
		surface:   surface,
		owner:     record.OwnerID,
		platform:  platform,
		gateway:   gateway,
		cfg:       cfg,
		log:       log.With("component", "adventure_session", "surface", string(surface), "owner", string(record.OwnerID)),
		phase:     phase,
		persisted: record,
	}
	if record.CharacterDescription != nil {
		s.character = *record.CharacterDescription
	}
	return s
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Character returns the stored character description.
func (s *Session) Character() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.character
}

// Owner returns the owning user.
func (s *Session) Owner() chat.UserID { return s.owner }

// Buffer returns a copy of the buffered transcript.
func (s *Session) Buffer() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// Handle appends m and, when it comes from the owner, runs the current
// phase's turn. Messages already replayed from history are skipped. The bot's own messages are context only. A failed turn
// keeps the phase and the buffer, so the next owner message retries it.
func (s *Session) Handle(ctx context.Context, m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.replayed[m.ID]; ok {
		delete(s.replayed, m.ID)
		s.log.DebugContext(ctx, "Skipping message already replayed from history", "message_id", string(m.ID))
		return nil
	}

	s.buffer = append(s.buffer, m)
	if s.phase != CreatingCharacter && !s.pinned {
		s.pin(ctx)
	}
	if m.IsSelf || m.AuthorID != s.owner {
		return nil
	}

	if err := handlers[s.phase](s, ctx); err != nil {
		return fmt.Errorf("%s turn failed: %w", s.phase, err)
	}
	return nil
}

// replay appends a historical message without running a turn.
func (s *Session) replay(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replayed == nil {
		s.replayed = make(map[chat.MessageID]struct{})
	}
	s.replayed[m.ID] = struct{}{}
	s.buffer = append(s.buffer, m)
}

func (s *Session) transition(to Phase) error {
	if !CanTransition(s.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
	}
	s.log.Info("Session phase changed", "from", s.phase.String(), "to", to.String())
	s.phase = to
	return nil
}

func (s *Session) turnCreating(ctx context.Context) error {
	msgs := append([]llm.Message{llm.System(s.cfg.CreationInstruction)}, s.transcript()...)
	res, err := s.gateway.Generate(ctx, llm.Request{Messages: msgs, Tool: characterTool})
	if err != nil {
		return err
	}

	if !res.IsStructured() {
		s.send(ctx, res.Text)
		return nil
	}

	description := strings.TrimSpace(res.Structured[characterField])
	if description == "" {
		return ErrNoCharacter
	}
	s.character = description
	// Re-anchored on the first message buffered after this turn. Until then
	// the trigger is the closest known id to the new transcript.
	s.persist(ctx, s.persisted.WithCharacter(description, s.buffer[len(s.buffer)-1].ID))

	if err := s.platform.SendText(ctx, s.surface, s.cfg.CharacterReady); err != nil {
		s.log.ErrorContext(ctx, "Failed to send character acknowledgement", "error", err)
	}
	if err := s.transition(Introducing); err != nil {
		return err
	}
	clear(s.buffer)
	s.buffer = s.buffer[:0]

	return s.turnIntroducing(ctx)
}

func (s *Session) turnIntroducing(ctx context.Context) error {
	res, err := s.gateway.Generate(ctx, llm.Request{Messages: []llm.Message{
		llm.System(s.cfg.IntroductionInstruction + characterSection + s.character),
	}})
	if err != nil {
		return err
	}
	s.send(ctx, res.Text)
	return s.transition(Playing)
}

func (s *Session) turnPlaying(ctx context.Context) error {
	msgs := append([]llm.Message{llm.System(s.cfg.PlayInstruction + characterSection + s.character)}, s.transcript()...)
	res, err := s.gateway.Generate(ctx, llm.Request{Messages: msgs})
	if err != nil {
		return err
	}
	s.send(ctx, res.Text)
	return nil
}

// pin anchors the metadata at the first buffered message, retrying on every
// message until the write succeeds.
func (s *Session) pin(ctx context.Context) {
	want := s.persisted.WithCharacter(s.character, s.buffer[0].ID)
	s.pinned = want.Equal(s.persisted) || s.persist(ctx, want)
}

// persist writes record to the surface and reports success. Failures are
// logged only: the turn goes on and the next pin check retries.
func (s *Session) persist(ctx context.Context, record metadata.Record) bool {
	encoded, err := metadata.Encode(record)
	if err == nil {
		err = s.platform.WriteMetadata(ctx, s.surface, encoded)
	}
	if err != nil {
		s.log.WarnContext(ctx, "Failed to persist session metadata", "error", err)
		return false
	}
	s.persisted = record
	s.log.DebugContext(ctx, "Session metadata persisted", "anchor", string(record.AnchorMessageID))
	return true
}

func (s *Session) transcript() []llm.Message {
	out := make([]llm.Message, 0, len(s.buffer))
	for _, m := range s.buffer {
		if m.IsSelf {
			out = append(out, llm.Assistant(m.Content))
			continue
		}
		out = append(out, llm.User(m.AuthorName, text.ReplaceMentions(m.Content, m.Participants)))
	}
	return out
}

func (s *Session) send(ctx context.Context, reply string) {
	for _, seg := range text.SplitParagraphs(text.CleanReply(reply)) {
		if err := s.platform.SendText(ctx, s.surface, seg); err != nil {
			s.log.ErrorContext(ctx, "Failed to send session reply", "error", err)
			return
		}
	}
}
