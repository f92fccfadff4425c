package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a surface does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveSurface records a surface. An existing row keeps its owner and
	// metadata; its name is refreshed when one is given.
	SaveSurface(ctx context.Context, surface *Surface) error
	// GetSurface returns a surface or ErrNotFound.
	GetSurface(ctx context.Context, id string) (*Surface, error)
	// ListSurfaces returns every known surface ordered by creation.
	ListSurfaces(ctx context.Context) ([]Surface, error)
	// SetSurfaceMetadata replaces a surface's metadata string.
	SetSurfaceMetadata(ctx context.Context, id, metadata string) error
	// DeleteSurface removes a surface and its message log.
	DeleteSurface(ctx context.Context, id string) error

	// SaveMessage logs a message. Saving the same message twice is a no-op.
	SaveMessage(ctx context.Context, message *Message) error
	// GetMessagesFrom returns up to limit messages of a surface whose
	// Telegram message id is at least fromMessageID, oldest first.
	GetMessagesFrom(ctx context.Context, surfaceID string, fromMessageID int64, limit int) ([]Message, error)
	// PruneMessages deletes messages older than before, except those of
	// surfaces carrying metadata. It returns the number of rows removed.
	PruneMessages(ctx context.Context, before time.Time) (int64, error)

	// SaveParticipant inserts or refreshes a participant.
	SaveParticipant(ctx context.Context, participant *Participant) error
	// GetParticipants returns the participants seen in a chat.
	GetParticipants(ctx context.Context, chatID int64) ([]Participant, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) SaveSurface(ctx context.Context, surface *Surface) error {
	if surface == nil || surface.ID == "" {
		return errors.New("surface must have an id")
	}
	if surface.ChatID == 0 {
		return errors.New("surface must have a non-zero chat_id")
	}

	now := s.now()
	surface.CreatedAt = now
	surface.UpdatedAt = now

	query := `
        INSERT INTO surfaces (id, chat_id, thread_id, name, owner_id, metadata, created_at, updated_at)
        VALUES (:id, :chat_id, :thread_id, :name, :owner_id, :metadata, :created_at, :updated_at)
        ON CONFLICT(id) DO UPDATE SET
            name = CASE WHEN excluded.name != '' THEN excluded.name ELSE surfaces.name END,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, surface); err != nil {
		s.logger.ErrorContext(ctx, "Error saving surface", "surface_id", surface.ID, "error", err)
		return fmt.Errorf("failed to save surface %s: %w", surface.ID, err)
	}
	return nil
}

func (s *sqlxStore) GetSurface(ctx context.Context, id string) (*Surface, error) {
	var surface Surface
	err := s.db.GetContext(ctx, &surface, `SELECT * FROM surfaces WHERE id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("surface %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get surface %s: %w", id, err)
	}
	return &surface, nil
}

func (s *sqlxStore) ListSurfaces(ctx context.Context) ([]Surface, error) {
	surfaces := []Surface{}
	if err := s.db.SelectContext(ctx, &surfaces, `SELECT * FROM surfaces ORDER BY created_at, id;`); err != nil {
		return nil, fmt.Errorf("failed to list surfaces: %w", err)
	}
	return surfaces, nil
}

func (s *sqlxStore) SetSurfaceMetadata(ctx context.Context, id, metadata string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE surfaces SET metadata = ?, updated_at = ? WHERE id = ?;`, metadata, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to set metadata of surface %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *sqlxStore) DeleteSurface(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE surface_id = ?;`, id); err != nil {
		return fmt.Errorf("failed to delete messages of surface %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM surfaces WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete surface %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit surface deletion: %w", err)
	}
	s.logger.DebugContext(ctx, "Surface deleted", "surface_id", id)
	return nil
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return errors.New("cannot save nil message")
	}
	if message.SurfaceID == "" {
		return errors.New("message must have a surface_id")
	}
	if message.Timestamp.IsZero() {
		return errors.New("message must have a non-zero timestamp")
	}
	message.CreatedAt = s.now()

	query := `
        INSERT INTO messages (surface_id, message_id, user_id, author_name, is_self, content, timestamp, created_at)
        VALUES (:surface_id, :message_id, :user_id, :author_name, :is_self, :content, :timestamp, :created_at)
        ON CONFLICT(surface_id, message_id) DO NOTHING;
    `
	res, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "surface_id", message.SurfaceID, "message_id", message.MessageID, "error", err)
		return fmt.Errorf("failed to save message %d in %s: %w", message.MessageID, message.SurfaceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		if id, err := res.LastInsertId(); err == nil {
			message.ID = uint(id)
		}
	}
	return nil
}

func (s *sqlxStore) GetMessagesFrom(ctx context.Context, surfaceID string, fromMessageID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}
	messages := []Message{}
	query := `
        SELECT * FROM messages
        WHERE surface_id = ? AND message_id >= ?
        ORDER BY message_id ASC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &messages, query, surfaceID, fromMessageID, limit); err != nil {
		return nil, fmt.Errorf("failed to get messages of surface %s: %w", surfaceID, err)
	}
	return messages, nil
}

func (s *sqlxStore) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	query := `
        DELETE FROM messages
        WHERE timestamp < ?
          AND surface_id NOT IN (SELECT id FROM surfaces WHERE metadata != '');
    `
	res, err := s.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned messages: %w", err)
	}
	return n, nil
}

func (s *sqlxStore) SaveParticipant(ctx context.Context, participant *Participant) error {
	if participant == nil || participant.ChatID == 0 || participant.UserID == 0 {
		return errors.New("participant must have a chat_id and a user_id")
	}
	participant.UpdatedAt = s.now()

	query := `
        INSERT INTO participants (chat_id, user_id, display_name, username, updated_at)
        VALUES (:chat_id, :user_id, :display_name, :username, :updated_at)
        ON CONFLICT(chat_id, user_id) DO UPDATE SET
            display_name = excluded.display_name,
            username = excluded.username,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, participant); err != nil {
		return fmt.Errorf("failed to save participant %d in chat %d: %w", participant.UserID, participant.ChatID, err)
	}
	return nil
}

func (s *sqlxStore) GetParticipants(ctx context.Context, chatID int64) ([]Participant, error) {
	participants := []Participant{}
	err := s.db.SelectContext(ctx, &participants,
		`SELECT * FROM participants WHERE chat_id = ? ORDER BY user_id;`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants of chat %d: %w", chatID, err)
	}
	return participants, nil
}

// RunSQLMaintenance optimizes and vacuums the database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "PRAGMA optimize failed", "error", err)
	}

	// VACUUM cannot run inside a transaction.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("surface %s: %w", id, ErrNotFound)
	}
	return nil
}
