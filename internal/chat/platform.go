package chat

import (
	"context"
	"errors"
	"iter"
)

// ErrSurfaceNotFound is returned by adapters when a surface no longer exists.
var ErrSurfaceNotFound = errors.New("surface not found")

// Sender delivers text to a surface. Delivery failures are the adapter's concern;
// callers log them and move on.
type Sender interface {
	SendText(ctx context.Context, surface SurfaceID, text string) error
}

// SurfaceManager creates and removes dedicated session surfaces.
type SurfaceManager interface {
	// CreateSessionSurface opens a private surface for owner, next to origin
	// (the surface the command was issued from), with metadata already attached.
	CreateSessionSurface(ctx context.Context, owner User, origin SurfaceID, metadata string) (SurfaceID, error)
	DeleteSurface(ctx context.Context, surface SurfaceID) error
}

// MetadataStore reads and writes the short string attached to a surface.
// An empty string means no metadata is present.
type MetadataStore interface {
	ReadMetadata(ctx context.Context, surface SurfaceID) (string, error)
	WriteMetadata(ctx context.Context, surface SurfaceID, value string) error
}

// HistoryPager replays a surface's history.
type HistoryPager interface {
	// MessagesFrom yields pages of messages starting at anchor (inclusive),
	// oldest first, both within and across pages. An empty anchor starts at the
	// beginning of the surface. Iteration stops at the first error.
	MessagesFrom(ctx context.Context, surface SurfaceID, anchor MessageID) iter.Seq2[[]Message, error]
}

// SurfaceLister enumerates every surface the bot can see that may carry metadata.
type SurfaceLister interface {
	ListSurfaces(ctx context.Context) ([]SurfaceID, error)
}

// Platform bundles every collaborator the orchestration core needs from a chat platform.
type Platform interface {
	Sender
	SurfaceManager
	MetadataStore
	HistoryPager
	SurfaceLister

	// Name is a short identifier used in logs ("discord", "telegram").
	Name() string
	// SelfID is the bot's own account on the platform.
	SelfID() UserID
}
