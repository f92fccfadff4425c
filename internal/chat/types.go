// Package chat defines the platform-neutral conversation model shared by the
// orchestration core and the platform adapters: messages, participants,
// inbound events and the collaborator interfaces the core calls out to.
package chat

import "time"

// SurfaceID identifies a conversation surface (channel, thread or forum topic).
// It is opaque to the core and stable for the lifetime of the surface.
type SurfaceID string

// MessageID identifies a single message within a platform.
type MessageID string

// UserID identifies a platform account.
type UserID string

// Participant is a user visible on a surface, along with the raw tokens the
// platform uses to mention them inside message text (e.g. "<@123>" or "@alice").
type Participant struct {
	ID            UserID
	DisplayName   string
	MentionTokens []string
}

// Message is an immutable record of a message observed on a surface.
// Buffers hold Message values and never modify them.
type Message struct {
	ID         MessageID
	SurfaceID  SurfaceID
	AuthorID   UserID
	AuthorName string
	IsSelf     bool // authored by this bot
	Content    string
	CreatedAt  time.Time

	// Participants are the users the adapter could resolve for this message,
	// used to turn mention tokens into display names before prompting.
	Participants []Participant
}

// User is the minimal identity of a command issuer.
type User struct {
	ID   UserID
	Name string
}
