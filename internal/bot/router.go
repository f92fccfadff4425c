package bot

import (
	"context"
	"log/slog"

	"github.com/edgard/omega/internal/adventure"
	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/responder"
)

// Router dispatches one platform's events. Messages on session surfaces go
// to the adventure registry; every other message goes to the responders.
type Router struct {
	registry   *adventure.Registry
	responders *responder.Manager
	log        *slog.Logger
}

// NewRouter returns a router over registry and responders.
func NewRouter(registry *adventure.Registry, responders *responder.Manager, log *slog.Logger) *Router {
	return &Router{
		registry:   registry,
		responders: responders,
		log:        log.With("component", "router"),
	}
}

// Handle processes a single event. Errors are logged and scoped to the
// event's surface.
func (r *Router) Handle(ctx context.Context, ev chat.Event) {
	switch ev := ev.(type) {
	case chat.MessageEvent:
		handled, err := r.registry.Route(ctx, ev.Message)
		if err != nil {
			r.log.ErrorContext(ctx, "Session turn failed",
				"surface", ev.Message.SurfaceID, "message_id", ev.Message.ID, "error", err)
		}
		if handled {
			return
		}
		r.responders.OnMessage(ev)

	case chat.StartAdventureEvent:
		if _, err := r.registry.Start(ctx, ev.Owner, ev.Origin); err != nil {
			r.log.ErrorContext(ctx, "Failed to start adventure",
				"owner", ev.Owner.ID, "origin", ev.Origin, "error", err)
		}

	case chat.SurfaceDeletedEvent:
		r.registry.Forget(ev.SurfaceID)
		r.responders.Forget(ev.SurfaceID)

	default:
		r.log.WarnContext(ctx, "Unhandled event type", "event", ev)
	}
}
