package chat

// Event is an inbound notification from a platform adapter.
type Event interface {
	isEvent()
}

// MessageEvent is delivered for every new message the bot can see,
// including its own.
type MessageEvent struct {
	Message     Message
	SurfaceName string // human-readable channel name, when the platform has one
}

// StartAdventureEvent is the owner-scoped "start adventure" command.
type StartAdventureEvent struct {
	Owner  User
	Origin SurfaceID
}

// SurfaceDeletedEvent reports that a surface was removed outside of the bot.
type SurfaceDeletedEvent struct {
	SurfaceID SurfaceID
}

func (MessageEvent) isEvent()        {}
func (StartAdventureEvent) isEvent() {}
func (SurfaceDeletedEvent) isEvent() {}

// Publisher accepts inbound events from an adapter.
type Publisher interface {
	Publish(ev Event)
}
