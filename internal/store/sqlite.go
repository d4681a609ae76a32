// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them,
	// foreign_keys in particular is per-connection.
	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id              TEXT PRIMARY KEY,
			participant_key TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_participant_key
			ON threads(participant_key);

		CREATE INDEX IF NOT EXISTS idx_threads_updated
			ON threads(updated_at DESC);

		CREATE TABLE IF NOT EXISTS thread_participants (
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			actor_id  TEXT NOT NULL,

			PRIMARY KEY (thread_id, actor_id)
		);

		CREATE INDEX IF NOT EXISTS idx_thread_participants_actor
			ON thread_participants(actor_id);

		CREATE TABLE IF NOT EXISTS messages (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id      TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			sender_id      TEXT NOT NULL,
			sender_name    TEXT NOT NULL DEFAULT '',
			content        TEXT NOT NULL,
			attachment_url TEXT,
			reply_to_id    INTEGER REFERENCES messages(id) ON DELETE SET NULL,
			created_at     TEXT NOT NULL,
			is_delivered   INTEGER NOT NULL DEFAULT 0,
			delivered_at   TEXT,
			is_read        INTEGER NOT NULL DEFAULT 0,
			read_at        TEXT,
			is_edited      INTEGER NOT NULL DEFAULT 0,

			CHECK (is_read = 0 OR is_delivered = 1)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_created
			ON messages(thread_id, created_at, id);

		CREATE INDEX IF NOT EXISTS idx_messages_reply_to
			ON messages(reply_to_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateThread creates a new thread and its participant rows in one transaction.
// If a thread for the same participant set already exists, it returns
// ErrDuplicateThread. Fewer than two distinct participants is ErrInvalidOperation.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	participants := NormalizeParticipants(thread.Participants...)
	if len(participants) < 2 {
		return ErrInvalidOperation
	}
	if thread.ID == "" {
		thread.ID = uuid.New().String()
	}
	thread.Participants = participants
	thread.ParticipantKey = ParticipantKey(participants...)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, participant_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`,
		thread.ID,
		thread.ParticipantKey,
		formatTime(thread.CreatedAt),
		formatTime(thread.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}

	for _, actorID := range participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO thread_participants (thread_id, actor_id) VALUES (?, ?)`,
			thread.ID, actorID,
		); err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("committing thread: %w", err)
	}

	s.logger.Debug("created thread", "id", thread.ID, "participants", len(participants))
	return nil
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant_key, created_at, updated_at
		FROM threads
		WHERE id = ?
	`, id)
	return s.scanThreadRow(ctx, row)
}

// GetThreadByParticipants retrieves a thread by its canonical participant key.
// This uses the idx_threads_participant_key index for efficient lookups.
// Returns ErrNotFound if no thread exists for the given participant set.
func (s *SQLiteStore) GetThreadByParticipants(ctx context.Context, participantKey string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant_key, created_at, updated_at
		FROM threads
		WHERE participant_key = ?
	`, participantKey)
	return s.scanThreadRow(ctx, row)
}

func (s *SQLiteStore) scanThreadRow(ctx context.Context, row *sql.Row) (*Thread, error) {
	var thread Thread
	var createdAtStr, updatedAtStr string

	err := row.Scan(&thread.ID, &thread.ParticipantKey, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	if thread.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if thread.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if thread.Participants, err = s.loadParticipants(ctx, thread.ID); err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, threadID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id FROM thread_participants
		WHERE thread_id = ?
		ORDER BY actor_id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participants: %w", err)
	}
	return participants, nil
}

// ListThreadsForActor retrieves the actor's threads ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListThreadsForActor(ctx context.Context, actorID string, limit int) ([]*Thread, error) {
	threads, err := s.queryThreads(ctx, `
		SELECT t.id, t.participant_key, t.created_at, t.updated_at
		FROM threads t
		JOIN thread_participants p ON p.thread_id = t.id
		WHERE p.actor_id = ?
		ORDER BY t.updated_at DESC, t.id
		LIMIT ?
	`, actorID, clampLimit(limit))
	if err != nil {
		return nil, err
	}

	for _, thread := range threads {
		if thread.Participants, err = s.loadParticipants(ctx, thread.ID); err != nil {
			return nil, err
		}
	}
	return threads, nil
}

// queryThreads scans thread rows without participants; the rows are closed
// before returning so participants can be loaded on the same pool.
func (s *SQLiteStore) queryThreads(ctx context.Context, query string, args ...any) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var thread Thread
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(&thread.ID, &thread.ParticipantKey, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		if thread.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if thread.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		threads = append(threads, &thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}
	return threads, nil
}

// IsParticipant reports whether actorID is a participant of threadID.
// A missing thread is reported as false, not as an error.
func (s *SQLiteStore) IsParticipant(ctx context.Context, threadID, actorID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM thread_participants
		WHERE thread_id = ? AND actor_id = ?
	`, threadID, actorID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying participant: %w", err)
	}
	return true, nil
}

// TouchThread bumps updated_at for a thread.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`,
		formatTime(at), threadID,
	)
	if err != nil {
		return fmt.Errorf("touching thread: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage saves a message and assigns its ID.
// Returns ErrNotFound if the thread doesn't exist. A ReplyToID that does not
// name a message in the same thread is dropped rather than rejected.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, msg.ThreadID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying thread: %w", err)
	}

	msg.ReplyTo = nil
	if msg.ReplyToID != nil {
		var snap ReplySnapshot
		err := tx.QueryRowContext(ctx, `
			SELECT id, content, sender_id, sender_name
			FROM messages
			WHERE id = ? AND thread_id = ?
		`, *msg.ReplyToID, msg.ThreadID).Scan(&snap.ID, &snap.Content, &snap.SenderID, &snap.SenderName)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			msg.ReplyToID = nil
		case err != nil:
			return fmt.Errorf("resolving reply target: %w", err)
		default:
			msg.ReplyTo = &snap
		}
	}

	var attachment sql.NullString
	if msg.AttachmentURL != "" {
		attachment = sql.NullString{String: msg.AttachmentURL, Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, sender_id, sender_name, content, attachment_url, reply_to_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ThreadID,
		msg.SenderID,
		msg.SenderName,
		msg.Content,
		attachment,
		msg.ReplyToID,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting message id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	msg.ID = id
	msg.Delivered, msg.DeliveredAt = false, nil
	msg.Read, msg.ReadAt = false, nil
	msg.Edited = false

	s.logger.Debug("created message", "id", id, "thread_id", msg.ThreadID)
	return nil
}

const selectMessage = `
	SELECT m.id, m.thread_id, m.sender_id, m.sender_name, m.content,
	       m.attachment_url, m.reply_to_id, m.created_at,
	       m.is_delivered, m.delivered_at, m.is_read, m.read_at, m.is_edited,
	       r.id, r.content, r.sender_id, r.sender_name
	FROM messages m
	LEFT JOIN messages r ON r.id = m.reply_to_id AND r.thread_id = m.thread_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg                     Message
		attachment              sql.NullString
		replyToID               sql.NullInt64
		createdAtStr            string
		deliveredAt, readAt     sql.NullString
		replyID                 sql.NullInt64
		replyContent, replySID  sql.NullString
		replySName              sql.NullString
		delivered, read, edited bool
	)

	if err := row.Scan(
		&msg.ID, &msg.ThreadID, &msg.SenderID, &msg.SenderName, &msg.Content,
		&attachment, &replyToID, &createdAtStr,
		&delivered, &deliveredAt, &read, &readAt, &edited,
		&replyID, &replyContent, &replySID, &replySName,
	); err != nil {
		return nil, err
	}

	var err error
	if msg.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if msg.DeliveredAt, err = parseNullTime(deliveredAt); err != nil {
		return nil, fmt.Errorf("parsing delivered_at: %w", err)
	}
	if msg.ReadAt, err = parseNullTime(readAt); err != nil {
		return nil, fmt.Errorf("parsing read_at: %w", err)
	}

	msg.AttachmentURL = attachment.String
	msg.Delivered, msg.Read, msg.Edited = delivered, read, edited

	// A reply link whose target is gone reads as no reply.
	if replyToID.Valid && replyID.Valid {
		id := replyToID.Int64
		msg.ReplyToID = &id
		msg.ReplyTo = &ReplySnapshot{
			ID:         replyID.Int64,
			Content:    replyContent.String,
			SenderID:   replySID.String,
			SenderName: replySName.String,
		}
	}

	return &msg, nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, selectMessage+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// GetThreadMessages retrieves the most recent messages for a thread,
// returned in thread order (created_at, then id).
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) GetThreadMessages(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessage+`
		WHERE m.thread_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, threadID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	// Reverse into ascending order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkDelivered flags every undelivered message in the thread not sent by
// excludingSender. Returns the number of messages changed.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, threadID, excludingSender string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_delivered = 1, delivered_at = ?
		WHERE thread_id = ? AND sender_id <> ? AND is_delivered = 0
	`, formatTime(at), threadID, excludingSender)
	if err != nil {
		return 0, fmt.Errorf("marking delivered: %w", err)
	}
	return result.RowsAffected()
}

// markReadSet sets read and back-fills delivered with the same timestamp.
// SQLite evaluates every SET expression against the pre-update row.
const markReadSet = `
	SET is_read = 1,
	    read_at = ?1,
	    delivered_at = CASE WHEN is_delivered = 1 THEN delivered_at ELSE ?1 END,
	    is_delivered = 1
`

// MarkRead flags a single message read by reader. Returns false when the
// message doesn't exist in the thread, was sent by reader, or is already read.
func (s *SQLiteStore) MarkRead(ctx context.Context, threadID string, messageID int64, reader string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages`+markReadSet+`
		WHERE id = ?2 AND thread_id = ?3 AND sender_id <> ?4 AND is_read = 0
	`, formatTime(at), messageID, threadID, reader)
	if err != nil {
		return false, fmt.Errorf("marking read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkThreadRead flags every unread message in the thread not sent by reader.
func (s *SQLiteStore) MarkThreadRead(ctx context.Context, threadID, reader string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages`+markReadSet+`
		WHERE thread_id = ?2 AND sender_id <> ?3 AND is_read = 0
	`, formatTime(at), threadID, reader)
	if err != nil {
		return 0, fmt.Errorf("marking thread read: %w", err)
	}
	return result.RowsAffected()
}

// UpdateMessageContent replaces the content of a message owned by sender and
// sets the edited flag. Returns false if no such message exists.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, threadID string, messageID int64, sender, content string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET content = ?, is_edited = 1
		WHERE id = ? AND thread_id = ? AND sender_id = ?
	`, content, messageID, threadID, sender)
	if err != nil {
		return false, fmt.Errorf("updating message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteMessage removes a message owned by sender. Replies pointing at it are
// nulled by the foreign key. Returns false if no such message exists.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, threadID string, messageID int64, sender string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE id = ? AND thread_id = ? AND sender_id = ?
	`, messageID, threadID, sender)
	if err != nil {
		return false, fmt.Errorf("deleting message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("deleted message", "id", messageID, "thread_id", threadID)
	}
	return n > 0, nil
}
