// ABOUTME: Store interface and data types for tandem persistence
// ABOUTME: Defines Thread, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread whose participant
// set already has a thread
var ErrDuplicateThread = errors.New("thread already exists")

// ErrInvalidOperation is returned for requests that can never succeed,
// such as a thread with fewer than two distinct participants
var ErrInvalidOperation = errors.New("invalid operation")

// Thread represents a conversation scoped to a fixed participant set
type Thread struct {
	ID             string
	ParticipantKey string   // canonical, order-independent key of Participants
	Participants   []string // actor IDs, sorted
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasParticipant reports whether actorID belongs to the thread.
func (t *Thread) HasParticipant(actorID string) bool {
	return lo.Contains(t.Participants, actorID)
}

// ReplySnapshot is the resolved view of a reply-target at read time.
type ReplySnapshot struct {
	ID         int64
	Content    string
	SenderID   string
	SenderName string
}

// Message represents a single chat message within a thread
type Message struct {
	ID            int64 // assigned by the store, increases in creation order
	ThreadID      string
	SenderID      string
	SenderName    string
	Content       string
	AttachmentURL string
	ReplyToID     *int64
	ReplyTo       *ReplySnapshot // resolved on read; nil when absent or deleted
	CreatedAt     time.Time

	Delivered   bool
	DeliveredAt *time.Time
	Read        bool
	ReadAt      *time.Time
	Edited      bool
}

// Store defines the interface for thread and message persistence.
//
// Mutating message methods are atomic per row: preconditions (sender,
// existence, flag state) are evaluated inside the same statement that applies
// the change, so concurrent callers resolve deterministically.
type Store interface {
	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	GetThreadByParticipants(ctx context.Context, participantKey string) (*Thread, error)
	ListThreadsForActor(ctx context.Context, actorID string, limit int) ([]*Thread, error)
	IsParticipant(ctx context.Context, threadID, actorID string) (bool, error)
	TouchThread(ctx context.Context, threadID string, at time.Time) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	GetThreadMessages(ctx context.Context, threadID string, limit int) ([]*Message, error)
	MarkDelivered(ctx context.Context, threadID, excludingSender string, at time.Time) (int64, error)
	MarkRead(ctx context.Context, threadID string, messageID int64, reader string, at time.Time) (bool, error)
	MarkThreadRead(ctx context.Context, threadID, reader string, at time.Time) (int64, error)
	UpdateMessageContent(ctx context.Context, threadID string, messageID int64, sender, content string) (bool, error)
	DeleteMessage(ctx context.Context, threadID string, messageID int64, sender string) (bool, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// ParticipantKey returns the canonical key for an unordered participant set.
// Duplicates collapse, so {a, a} and {a} share a key.
func ParticipantKey(actorIDs ...string) string {
	return strings.Join(NormalizeParticipants(actorIDs...), "\x1f")
}

// NormalizeParticipants returns the sorted, de-duplicated participant list.
func NormalizeParticipants(actorIDs ...string) []string {
	out := lo.Uniq(actorIDs)
	sort.Strings(out)
	return out
}

// clampLimit applies the default and maximum list sizes used by the store.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
