package adventure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/llm"
	"github.com/edgard/omega/internal/metadata"
)

// Registry owns the sessions of one platform, keyed by surface, with at
// most one session per owner.
type Registry struct {
	platform chat.Platform
	gateway  llm.Gateway
	cfg      config.AdventureConfig
	log      *slog.Logger

	// mu guards both maps and is held across the whole replace sequence of Start.
	mu       sync.Mutex
	sessions map[chat.SurfaceID]*Session
	owners   map[chat.UserID]chat.SurfaceID
}

// NewRegistry returns an empty registry.
func NewRegistry(platform chat.Platform, gateway llm.Gateway, cfg config.AdventureConfig, log *slog.Logger) *Registry {
	return &Registry{
		platform: platform,
		gateway:  gateway,
		cfg:      cfg,
		log:      log.With("component", "adventure_registry", "platform", platform.Name()),
		sessions: make(map[chat.SurfaceID]*Session),
		owners:   make(map[chat.UserID]chat.SurfaceID),
	}
}

// Start replaces owner's current session, if any, with a new one on a fresh
// surface next to origin, and greets the player there.
func (r *Registry) Start(ctx context.Context, owner chat.User, origin chat.SurfaceID) (chat.SurfaceID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.owners[owner.ID]; ok {
		if err := r.platform.DeleteSurface(ctx, old); err != nil && !errors.Is(err, chat.ErrSurfaceNotFound) {
			return "", fmt.Errorf("failed to delete previous session surface %s: %w", old, err)
		}
		delete(r.sessions, old)
		delete(r.owners, owner.ID)
		r.log.InfoContext(ctx, "Previous session removed", "owner", owner.ID, "surface", old)
	}

	record := metadata.New(owner.ID)
	encoded, err := metadata.Encode(record)
	if err != nil {
		return "", err
	}
	surface, err := r.platform.CreateSessionSurface(ctx, owner, origin, encoded)
	if err != nil {
		return "", fmt.Errorf("failed to create session surface: %w", err)
	}

	r.sessions[surface] = newSession(surface, record, CreatingCharacter, r.platform, r.gateway, r.cfg, r.log)
	r.owners[owner.ID] = surface
	r.log.InfoContext(ctx, "Session started", "owner", owner.ID, "owner_name", owner.Name, "surface", surface)

	for _, line := range r.cfg.Welcome {
		if err := r.platform.SendText(ctx, surface, line); err != nil {
			r.log.ErrorContext(ctx, "Failed to send welcome message", "surface", surface, "error", err)
			break
		}
	}
	return surface, nil
}

// Route delivers m to the session of its surface. It reports false when the
// surface is not a session surface. Messages from anyone other than the
// owner or the bot are dropped.
func (r *Registry) Route(ctx context.Context, m chat.Message) (bool, error) {
	s := r.lookup(m.SurfaceID)
	if s == nil {
		return false, nil
	}
	if !r.admissible(s, m) {
		r.log.WarnContext(ctx, "Dropping message from non-owner in session surface",
			"surface", m.SurfaceID, "author", m.AuthorID, "owner", s.Owner())
		return true, nil
	}
	return true, s.Handle(ctx, m)
}

func (r *Registry) admissible(s *Session, m chat.Message) bool {
	return m.IsSelf || m.AuthorID == r.platform.SelfID() || m.AuthorID == s.Owner()
}

func (r *Registry) lookup(surface chat.SurfaceID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[surface]
}

// Forget drops the session of a surface deleted outside of the bot.
func (r *Registry) Forget(surface chat.SurfaceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[surface]
	if !ok {
		return
	}
	delete(r.sessions, surface)
	if r.owners[s.Owner()] == surface {
		delete(r.owners, s.Owner())
	}
	r.log.Info("Session forgotten", "surface", surface, "owner", s.Owner())
}

// Restore rebuilds sessions from every surface whose metadata describes one.
// Restored sessions resume in Playing with their buffer replayed from the
// anchor. It returns the number of sessions restored; per-surface failures
// are logged and skipped.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	surfaces, err := r.platform.ListSurfaces(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list surfaces: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, surface := range surfaces {
		if _, ok := r.sessions[surface]; ok {
			continue
		}

		raw, err := r.platform.ReadMetadata(ctx, surface)
		if err != nil {
			r.log.WarnContext(ctx, "Failed to read surface metadata", "surface", surface, "error", err)
			continue
		}
		record, err := metadata.Decode(raw)
		if err != nil {
			continue
		}

		if existing, dup := r.owners[record.OwnerID]; dup {
			r.log.WarnContext(ctx, "Owner already has a session, skipping surface",
				"owner", record.OwnerID, "surface", surface, "kept", existing)
			continue
		}
		if !record.HasCharacter() {
			r.log.WarnContext(ctx, "Restoring session without a character", "surface", surface)
		}

		s := newSession(surface, record, Playing, r.platform, r.gateway, r.cfg, r.log)
		replayed, err := r.replay(ctx, s, record.AnchorMessageID)
		if err != nil {
			r.log.WarnContext(ctx, "History replay incomplete", "surface", surface, "replayed", replayed, "error", err)
		}

		r.sessions[surface] = s
		r.owners[record.OwnerID] = surface
		restored++
		r.log.InfoContext(ctx, "Session restored", "surface", surface, "owner", record.OwnerID, "replayed", replayed)
	}
	return restored, nil
}

func (r *Registry) replay(ctx context.Context, s *Session, anchor chat.MessageID) (int, error) {
	n := 0
	for page, err := range r.platform.MessagesFrom(ctx, s.surface, anchor) {
		if err != nil {
			return n, err
		}
		for _, m := range page {
			if r.admissible(s, m) {
				s.replay(m)
				n++
			}
		}
	}
	return n, nil
}

// Session returns the session of a surface.
func (r *Registry) Session(surface chat.SurfaceID) (*Session, bool) {
	s := r.lookup(surface)
	return s, s != nil
}

// SurfaceOf returns the surface of owner's session.
func (r *Registry) SurfaceOf(owner chat.UserID) (chat.SurfaceID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	surface, ok := r.owners[owner]
	return surface, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
