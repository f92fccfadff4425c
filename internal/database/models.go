package database

import "time"

// Surface is a Telegram chat or forum topic the bot has seen.
// ID is "<chat_id>:<thread_id>", thread 0 being the chat itself.
type Surface struct {
	ID        string    `db:"id"`
	ChatID    int64     `db:"chat_id"`
	ThreadID  int64     `db:"thread_id"`
	Name      string    `db:"name"`
	OwnerID   int64     `db:"owner_id"`
	Metadata  string    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Message is one logged message of a surface, the bot's own included.
type Message struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	SurfaceID  string    `db:"surface_id"`
	MessageID  int64     `db:"message_id"`
	UserID     int64     `db:"user_id"`
	AuthorName string    `db:"author_name"`
	IsSelf     bool      `db:"is_self"`
	Content    string    `db:"content"`
	Timestamp  time.Time `db:"timestamp"`
}

// Participant is a user seen in a chat, used to resolve @username mentions.
type Participant struct {
	ChatID      int64     `db:"chat_id"`
	UserID      int64     `db:"user_id"`
	DisplayName string    `db:"display_name"`
	Username    string    `db:"username"`
	UpdatedAt   time.Time `db:"updated_at"`
}
