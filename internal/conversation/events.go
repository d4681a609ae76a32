// ABOUTME: Outbound event types fanned out to every session attached to a thread
// ABOUTME: One concrete struct per event kind, tagged by a JSON "type" field

package conversation

import (
	"encoding/json"
	"time"

	"github.com/2389/tandem/internal/store"
)

// EventType tags an outbound event on the wire.
type EventType string

const (
	EventMessageCreated EventType = "message_created"
	EventTypingState    EventType = "typing_state"
	EventMessageStatus  EventType = "message_status"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
)

// StatusRead is the only status currently carried by MessageStatus.
const StatusRead = "read"

// clockLayout is the short timestamp shown next to a message.
const clockLayout = "15:04"

// ClockTime formats t as the short UTC clock time clients show next to a
// message, so it agrees with the full created_at timestamp on any host.
func ClockTime(t time.Time) string {
	return t.UTC().Format(clockLayout)
}

// Event is a single outbound notification for a thread group.
// The set of implementations is closed: MessageCreated, TypingState,
// MessageStatus, MessageEdited and MessageDeleted.
type Event interface {
	Kind() EventType
}

// ReplyPreview is the snapshot of a reply target embedded in MessageCreated.
type ReplyPreview struct {
	ID       int64  `json:"id"`
	Content  string `json:"content"`
	Sender   string `json:"sender"`
	SenderID string `json:"sender_id"`
}

// MessageCreated announces a newly persisted message.
type MessageCreated struct {
	Type          EventType       `json:"type"`
	Message       string          `json:"message"`
	Sender        string          `json:"sender"`
	SenderID      string          `json:"sender_id"`
	MessageID     int64           `json:"message_id"`
	TempID        json.RawMessage `json:"temp_id"`
	AttachmentURL *string         `json:"attachment_url"`
	Timestamp     string          `json:"timestamp"`
	CreatedAt     string          `json:"created_at"`
	IsDelivered   bool            `json:"is_delivered"`
	IsRead        bool            `json:"is_read"`
	ReplyTo       *ReplyPreview   `json:"reply_to"`
}

// TypingState reports whether an actor is composing a message.
type TypingState struct {
	Type     EventType `json:"type"`
	Username string    `json:"username"`
	UserID   string    `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
}

// MessageStatus reports a status transition for a message.
type MessageStatus struct {
	Type      EventType `json:"type"`
	MessageID int64     `json:"message_id"`
	Status    string    `json:"status"`
}

// MessageEdited carries the replacement content of an edited message.
type MessageEdited struct {
	Type      EventType `json:"type"`
	MessageID int64     `json:"message_id"`
	Message   string    `json:"message"`
}

// MessageDeleted announces that a message was removed.
type MessageDeleted struct {
	Type      EventType `json:"type"`
	MessageID int64     `json:"message_id"`
}

func (*MessageCreated) Kind() EventType { return EventMessageCreated }
func (*TypingState) Kind() EventType    { return EventTypingState }
func (*MessageStatus) Kind() EventType  { return EventMessageStatus }
func (*MessageEdited) Kind() EventType  { return EventMessageEdited }
func (*MessageDeleted) Kind() EventType { return EventMessageDeleted }

// NewMessageCreated builds the creation event for msg. tempID is echoed
// back untouched; a nil or empty tempID is sent as JSON null.
func NewMessageCreated(msg *store.Message, tempID json.RawMessage) *MessageCreated {
	if len(tempID) == 0 {
		tempID = json.RawMessage("null")
	}
	ev := &MessageCreated{
		Type:        EventMessageCreated,
		Message:     msg.Content,
		Sender:      msg.SenderName,
		SenderID:    msg.SenderID,
		MessageID:   msg.ID,
		TempID:      tempID,
		Timestamp:   ClockTime(msg.CreatedAt),
		CreatedAt:   msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		IsDelivered: msg.Delivered,
		IsRead:      msg.Read,
	}
	if msg.AttachmentURL != "" {
		url := msg.AttachmentURL
		ev.AttachmentURL = &url
	}
	if msg.ReplyTo != nil {
		ev.ReplyTo = &ReplyPreview{
			ID:       msg.ReplyTo.ID,
			Content:  msg.ReplyTo.Content,
			Sender:   msg.ReplyTo.SenderName,
			SenderID: msg.ReplyTo.SenderID,
		}
	}
	return ev
}

// NewTypingState builds a typing indicator event.
func NewTypingState(actorID, name string, typing bool) *TypingState {
	return &TypingState{Type: EventTypingState, Username: name, UserID: actorID, IsTyping: typing}
}

// NewMessageRead builds the read status event for a message.
func NewMessageRead(messageID int64) *MessageStatus {
	return &MessageStatus{Type: EventMessageStatus, MessageID: messageID, Status: StatusRead}
}

// NewMessageEdited builds the edit event for a message.
func NewMessageEdited(messageID int64, content string) *MessageEdited {
	return &MessageEdited{Type: EventMessageEdited, MessageID: messageID, Message: content}
}

// NewMessageDeleted builds the deletion event for a message.
func NewMessageDeleted(messageID int64) *MessageDeleted {
	return &MessageDeleted{Type: EventMessageDeleted, MessageID: messageID}
}
