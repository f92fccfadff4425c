// Package chattest provides an in-memory chat.Platform for tests.
package chattest

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/edgard/omega/internal/chat"
)

// SelfID is the bot's user id on the fake platform.
const SelfID chat.UserID = "bot"

// Sent is one outbound message.
type Sent struct {
	Surface chat.SurfaceID
	Text    string
}

type surface struct {
	owner    chat.UserID
	metadata string
	history  []chat.Message
}

// Platform is a thread-safe in-memory chat platform. Outbound messages are
// recorded in the surface history as self messages and, when Echo is set,
// published back as events the way a real adapter observes its own sends.
type Platform struct {
	mu       sync.Mutex
	surfaces map[chat.SurfaceID]*surface
	sent     []Sent
	nextID   int
	now      func() time.Time

	// PageSize bounds MessagesFrom pages. Zero means 2.
	PageSize int
	// Echo receives a MessageEvent for every sent message.
	Echo chat.Publisher

	// Failure injection. A non-nil error is returned by the matching call.
	SendErr          error
	CreateErr        error
	DeleteErr        error
	WriteMetadataErr error
	ListErr          error
}

// New returns an empty platform whose message timestamps come from now.
// A nil now uses time.Now.
func New(now func() time.Time) *Platform {
	if now == nil {
		now = time.Now
	}
	return &Platform{surfaces: make(map[chat.SurfaceID]*surface), now: now}
}

func (p *Platform) Name() string        { return "test" }
func (p *Platform) SelfID() chat.UserID { return SelfID }

func (p *Platform) newIDLocked(prefix string) string {
	p.nextID++
	return fmt.Sprintf("%s%03d", prefix, p.nextID)
}

// AddSurface registers a surface with the given metadata.
func (p *Platform) AddSurface(id chat.SurfaceID, metadata string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.surfaces[id] = &surface{metadata: metadata}
}

// Post appends a message from author to a surface's history and returns it.
func (p *Platform) Post(id chat.SurfaceID, author chat.User, content string) chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appendLocked(id, author.ID, author.Name, content, author.ID == SelfID)
}

func (p *Platform) appendLocked(id chat.SurfaceID, authorID chat.UserID, authorName, content string, self bool) chat.Message {
	s, ok := p.surfaces[id]
	if !ok {
		s = &surface{}
		p.surfaces[id] = s
	}
	m := chat.Message{
		ID:         chat.MessageID(p.newIDLocked("m")),
		SurfaceID:  id,
		AuthorID:   authorID,
		AuthorName: authorName,
		IsSelf:     self,
		Content:    content,
		CreatedAt:  p.now(),
	}
	s.history = append(s.history, m)
	return m
}

func (p *Platform) SendText(_ context.Context, id chat.SurfaceID, text string) error {
	p.mu.Lock()
	if p.SendErr != nil {
		p.mu.Unlock()
		return p.SendErr
	}
	p.sent = append(p.sent, Sent{Surface: id, Text: text})
	m := p.appendLocked(id, SelfID, "Bot", text, true)
	echo := p.Echo
	p.mu.Unlock()

	if echo != nil {
		echo.Publish(chat.MessageEvent{Message: m})
	}
	return nil
}

func (p *Platform) CreateSessionSurface(_ context.Context, owner chat.User, _ chat.SurfaceID, metadata string) (chat.SurfaceID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return "", p.CreateErr
	}
	id := chat.SurfaceID(p.newIDLocked("s"))
	p.surfaces[id] = &surface{owner: owner.ID, metadata: metadata}
	return id, nil
}

func (p *Platform) DeleteSurface(_ context.Context, id chat.SurfaceID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	if _, ok := p.surfaces[id]; !ok {
		return chat.ErrSurfaceNotFound
	}
	delete(p.surfaces, id)
	return nil
}

func (p *Platform) ReadMetadata(_ context.Context, id chat.SurfaceID) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.surfaces[id]
	if !ok {
		return "", chat.ErrSurfaceNotFound
	}
	return s.metadata, nil
}

func (p *Platform) WriteMetadata(_ context.Context, id chat.SurfaceID, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteMetadataErr != nil {
		return p.WriteMetadataErr
	}
	s, ok := p.surfaces[id]
	if !ok {
		return chat.ErrSurfaceNotFound
	}
	s.metadata = value
	return nil
}

func (p *Platform) MessagesFrom(_ context.Context, id chat.SurfaceID, anchor chat.MessageID) iter.Seq2[[]chat.Message, error] {
	return func(yield func([]chat.Message, error) bool) {
		p.mu.Lock()
		s, ok := p.surfaces[id]
		var history []chat.Message
		if ok {
			history = slices.Clone(s.history)
		}
		size := p.PageSize
		p.mu.Unlock()

		if !ok {
			yield(nil, chat.ErrSurfaceNotFound)
			return
		}
		if size <= 0 {
			size = 2
		}

		start := 0
		if anchor != "" {
			start = slices.IndexFunc(history, func(m chat.Message) bool { return m.ID == anchor })
			if start < 0 {
				return
			}
		}
		for chunk := range slices.Chunk(history[start:], size) {
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func (p *Platform) ListSurfaces(context.Context) ([]chat.SurfaceID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	ids := make([]chat.SurfaceID, 0, len(p.surfaces))
	for id := range p.surfaces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Sent returns every outbound message so far.
func (p *Platform) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// SentTo returns the texts sent to one surface, in order.
func (p *Platform) SentTo(id chat.SurfaceID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, s := range p.sent {
		if s.Surface == id {
			out = append(out, s.Text)
		}
	}
	return out
}

// Metadata returns a surface's metadata and whether the surface exists.
func (p *Platform) Metadata(id chat.SurfaceID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.surfaces[id]
	if !ok {
		return "", false
	}
	return s.metadata, true
}

// Exists reports whether a surface exists.
func (p *Platform) Exists(id chat.SurfaceID) bool {
	_, ok := p.Metadata(id)
	return ok
}

// SetFailure updates an injected error under the platform lock.
func (p *Platform) SetFailure(set func(p *Platform)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set(p)
}

var _ chat.Platform = (*Platform)(nil)

// Participant builds a chat.Participant.
func Participant(id chat.UserID, name string, tokens ...string) chat.Participant {
	return chat.Participant{ID: id, DisplayName: name, MentionTokens: tokens}
}
