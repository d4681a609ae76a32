// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
// It mirrors SQLiteStore semantics, including per-row atomic status updates
// and reply links that read as empty once their target is deleted.
type MockStore struct {
	mu          sync.RWMutex
	threads     map[string]*Thread // keyed by thread ID
	threadIndex map[string]string  // keyed by participant key -> thread ID
	messages    map[int64]*Message // keyed by message ID
	byThread    map[string][]int64 // thread ID -> message IDs in creation order
	nextID      int64

	// FailWith, when set, is returned by every method. Used to simulate an
	// unavailable store.
	FailWith error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		threads:     make(map[string]*Thread),
		threadIndex: make(map[string]string),
		messages:    make(map[int64]*Message),
		byThread:    make(map[string][]int64),
	}
}

// SetFailure makes every subsequent call return err (nil to clear).
func (m *MockStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWith = err
}

func copyThread(t *Thread) *Thread {
	c := *t
	c.Participants = append([]string(nil), t.Participants...)
	return &c
}

// CreateThread stores a new thread.
func (m *MockStore) CreateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	participants := NormalizeParticipants(thread.Participants...)
	if len(participants) < 2 {
		return ErrInvalidOperation
	}
	key := ParticipantKey(participants...)
	if _, exists := m.threadIndex[key]; exists {
		return ErrDuplicateThread
	}
	if thread.ID == "" {
		thread.ID = uuid.New().String()
	}
	thread.Participants = participants
	thread.ParticipantKey = key

	m.threads[thread.ID] = copyThread(thread)
	m.threadIndex[key] = thread.ID
	return nil
}

// GetThread retrieves a thread by ID.
func (m *MockStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyThread(t), nil
}

// GetThreadByParticipants retrieves a thread by participant key.
func (m *MockStore) GetThreadByParticipants(ctx context.Context, participantKey string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	id, ok := m.threadIndex[participantKey]
	if !ok {
		return nil, ErrNotFound
	}
	return copyThread(m.threads[id]), nil
}

// ListThreadsForActor retrieves the actor's threads ordered by most recent activity.
func (m *MockStore) ListThreadsForActor(ctx context.Context, actorID string, limit int) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var threads []*Thread
	for _, t := range m.threads {
		if t.HasParticipant(actorID) {
			threads = append(threads, copyThread(t))
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].UpdatedAt.Equal(threads[j].UpdatedAt) {
			return threads[i].ID < threads[j].ID
		}
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})

	if limit = clampLimit(limit); len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// IsParticipant reports whether actorID is a participant of threadID.
func (m *MockStore) IsParticipant(ctx context.Context, threadID, actorID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return false, m.FailWith
	}

	t, ok := m.threads[threadID]
	if !ok {
		return false, nil
	}
	return t.HasParticipant(actorID), nil
}

// TouchThread bumps updated_at for a thread.
func (m *MockStore) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	t.UpdatedAt = at
	return nil
}

// CreateMessage stores a message and assigns its ID.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	if _, ok := m.threads[msg.ThreadID]; !ok {
		return ErrNotFound
	}

	msg.ReplyTo = nil
	if msg.ReplyToID != nil {
		target, ok := m.messages[*msg.ReplyToID]
		if ok && target.ThreadID == msg.ThreadID {
			msg.ReplyTo = snapshotOf(target)
		} else {
			msg.ReplyToID = nil
		}
	}

	m.nextID++
	msg.ID = m.nextID
	msg.Delivered, msg.DeliveredAt = false, nil
	msg.Read, msg.ReadAt = false, nil
	msg.Edited = false

	stored := *msg
	stored.ReplyTo = nil
	m.messages[msg.ID] = &stored
	m.byThread[msg.ThreadID] = append(m.byThread[msg.ThreadID], msg.ID)
	return nil
}

func snapshotOf(msg *Message) *ReplySnapshot {
	return &ReplySnapshot{
		ID:         msg.ID,
		Content:    msg.Content,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
	}
}

// resolveLocked returns a copy of msg with its reply link resolved against
// current state. Must be called with mu held.
func (m *MockStore) resolveLocked(msg *Message) *Message {
	c := *msg
	c.ReplyTo = nil
	if c.ReplyToID != nil {
		if target, ok := m.messages[*c.ReplyToID]; ok {
			c.ReplyTo = snapshotOf(target)
		} else {
			c.ReplyToID = nil
		}
	}
	return &c
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.resolveLocked(msg), nil
}

// GetThreadMessages retrieves the most recent messages for a thread in thread order.
func (m *MockStore) GetThreadMessages(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var messages []*Message
	for _, id := range m.byThread[threadID] {
		if msg, ok := m.messages[id]; ok {
			messages = append(messages, m.resolveLocked(msg))
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	if limit = clampLimit(limit); len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// MarkDelivered flags undelivered messages not sent by excludingSender.
func (m *MockStore) MarkDelivered(ctx context.Context, threadID, excludingSender string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}

	var n int64
	for _, id := range m.byThread[threadID] {
		msg, ok := m.messages[id]
		if !ok || msg.SenderID == excludingSender || msg.Delivered {
			continue
		}
		ts := at
		msg.Delivered, msg.DeliveredAt = true, &ts
		n++
	}
	return n, nil
}

// markReadLocked applies the read transition. Must be called with mu held.
func markReadLocked(msg *Message, at time.Time) {
	ts := at
	msg.Read, msg.ReadAt = true, &ts
	if !msg.Delivered {
		msg.Delivered, msg.DeliveredAt = true, &ts
	}
}

// MarkRead flags a single message read by reader.
func (m *MockStore) MarkRead(ctx context.Context, threadID string, messageID int64, reader string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return false, m.FailWith
	}

	msg, ok := m.messages[messageID]
	if !ok || msg.ThreadID != threadID || msg.SenderID == reader || msg.Read {
		return false, nil
	}
	markReadLocked(msg, at)
	return true, nil
}

// MarkThreadRead flags every unread message in the thread not sent by reader.
func (m *MockStore) MarkThreadRead(ctx context.Context, threadID, reader string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}

	var n int64
	for _, id := range m.byThread[threadID] {
		msg, ok := m.messages[id]
		if !ok || msg.SenderID == reader || msg.Read {
			continue
		}
		markReadLocked(msg, at)
		n++
	}
	return n, nil
}

// UpdateMessageContent replaces the content of a message owned by sender.
func (m *MockStore) UpdateMessageContent(ctx context.Context, threadID string, messageID int64, sender, content string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return false, m.FailWith
	}

	msg, ok := m.messages[messageID]
	if !ok || msg.ThreadID != threadID || msg.SenderID != sender {
		return false, nil
	}
	msg.Content = content
	msg.Edited = true
	return true, nil
}

// DeleteMessage removes a message owned by sender.
func (m *MockStore) DeleteMessage(ctx context.Context, threadID string, messageID int64, sender string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return false, m.FailWith
	}

	msg, ok := m.messages[messageID]
	if !ok || msg.ThreadID != threadID || msg.SenderID != sender {
		return false, nil
	}
	delete(m.messages, messageID)

	ids := m.byThread[threadID]
	for i, id := range ids {
		if id == messageID {
			m.byThread[threadID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

// Ping reports the configured failure, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FailWith
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// ErrMockUnavailable is a convenience error for simulating storage outages.
var ErrMockUnavailable = errors.New("mock store unavailable")
