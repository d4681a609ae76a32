// ABOUTME: Message lifecycle service: create, delivery and read marking, edit, delete
// ABOUTME: Record first, then notify; callers publish the resulting events

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/tandem/internal/store"
)

// CreateParams describes a new message.
type CreateParams struct {
	ThreadID      string
	SenderID      string
	SenderName    string
	Content       string
	AttachmentURL string
	ReplyToID     *int64
}

// Messages applies message state transitions. Callers must have passed the
// Guard for the thread first.
type Messages struct {
	store    store.Store
	registry *Registry
	now      func() time.Time
	logger   *slog.Logger
}

// NewMessages creates a Messages service. Pass nil logger for default.
func NewMessages(s store.Store, registry *Registry, logger *slog.Logger) *Messages {
	if logger == nil {
		logger = slog.Default()
	}
	return &Messages{
		store:    s,
		registry: registry,
		now:      time.Now,
		logger:   logger.With("component", "messages"),
	}
}

// Create persists a message and touches its thread. A reply target that is
// missing or belongs to another thread is dropped, not an error. Returns
// store.ErrNotFound when the thread does not exist.
func (m *Messages) Create(ctx context.Context, p CreateParams) (*store.Message, error) {
	msg := &store.Message{
		ThreadID:      p.ThreadID,
		SenderID:      p.SenderID,
		SenderName:    p.SenderName,
		Content:       p.Content,
		AttachmentURL: p.AttachmentURL,
		ReplyToID:     p.ReplyToID,
		CreatedAt:     m.now(),
	}
	if err := m.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	if err := m.registry.Touch(ctx, p.ThreadID); err != nil {
		// The message is recorded; a stale updated_at only affects list order.
		m.logger.Warn("failed to touch thread",
			"thread_id", p.ThreadID,
			"message_id", msg.ID,
			"error", err)
	}

	m.logger.Debug("message recorded",
		"thread_id", msg.ThreadID,
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"reply_to", msg.ReplyToID != nil)

	return msg, nil
}

// MarkDelivered flags every undelivered message in the thread not sent by
// excludingSender. Re-running it is a no-op.
func (m *Messages) MarkDelivered(ctx context.Context, threadID, excludingSender string) (int64, error) {
	n, err := m.store.MarkDelivered(ctx, threadID, excludingSender, m.now())
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	return n, nil
}

// MarkRead flags one message read by actor, back-filling delivery. It is a
// silent no-op when the message is missing, already read, or sent by actor.
func (m *Messages) MarkRead(ctx context.Context, threadID string, messageID int64, actor string) (bool, error) {
	changed, err := m.store.MarkRead(ctx, threadID, messageID, actor, m.now())
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	return changed, nil
}

// MarkThreadRead flags every message in the thread not sent by reader as read.
func (m *Messages) MarkThreadRead(ctx context.Context, threadID, reader string) (int64, error) {
	n, err := m.store.MarkThreadRead(ctx, threadID, reader, m.now())
	if err != nil {
		return 0, fmt.Errorf("mark thread read: %w", err)
	}
	return n, nil
}

// Edit replaces the content of actor's own message. It returns false when
// the message is missing, not owned by actor, or content is empty.
func (m *Messages) Edit(ctx context.Context, threadID string, messageID int64, actor, content string) (bool, error) {
	if content == "" {
		return false, nil
	}
	ok, err := m.store.UpdateMessageContent(ctx, threadID, messageID, actor, content)
	if err != nil {
		return false, fmt.Errorf("edit message: %w", err)
	}
	if !ok {
		m.logger.Debug("edit denied",
			"thread_id", threadID,
			"message_id", messageID,
			"actor", actor)
		return false, nil
	}
	m.touch(ctx, threadID)
	return true, nil
}

// Delete removes actor's own message. It returns false when the message is
// missing or not owned by actor.
func (m *Messages) Delete(ctx context.Context, threadID string, messageID int64, actor string) (bool, error) {
	ok, err := m.store.DeleteMessage(ctx, threadID, messageID, actor)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	if !ok {
		m.logger.Debug("delete denied",
			"thread_id", threadID,
			"message_id", messageID,
			"actor", actor)
		return false, nil
	}
	m.touch(ctx, threadID)
	return true, nil
}

// History returns the most recent messages in thread order.
func (m *Messages) History(ctx context.Context, threadID string, limit int) ([]*store.Message, error) {
	msgs, err := m.store.GetThreadMessages(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

func (m *Messages) touch(ctx context.Context, threadID string) {
	if err := m.registry.Touch(ctx, threadID); err != nil {
		m.logger.Warn("failed to touch thread", "thread_id", threadID, "error", err)
	}
}
