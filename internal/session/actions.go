// ABOUTME: Inbound session actions decoded from client frames into a closed set of variants
// ABOUTME: Each variant is validated before dispatch; unknown or malformed frames are rejected

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Inbound action tags.
const (
	ActionMessage       = "message"
	ActionTyping        = "typing"
	ActionReadReceipt   = "read_receipt"
	ActionEditMessage   = "edit_message"
	ActionDeleteMessage = "delete_message"
)

var (
	// ErrUnknownAction is returned for frames whose action tag is not recognized.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMalformedAction is returned for frames that are not valid JSON or
	// fail validation for their action.
	ErrMalformedAction = errors.New("malformed action")
)

var validate = validator.New()

// Action is one decoded inbound action. The implementations are
// SendMessage, Typing, ReadReceipt, EditMessage and DeleteMessage.
type Action interface {
	Name() string
}

// SendMessage asks to persist and broadcast a new message.
type SendMessage struct {
	Content   string `validate:"required"`
	ReplyToID *int64
	TempID    json.RawMessage
}

// Typing reports the sender's composing state.
type Typing struct {
	IsTyping bool
}

// ReadReceipt marks one message read by the sender.
type ReadReceipt struct {
	MessageID int64 `validate:"gt=0"`
}

// EditMessage replaces the content of the sender's own message.
type EditMessage struct {
	MessageID int64  `validate:"gt=0"`
	Content   string `validate:"required"`
}

// DeleteMessage removes the sender's own message.
type DeleteMessage struct {
	MessageID int64 `validate:"gt=0"`
}

func (*SendMessage) Name() string   { return ActionMessage }
func (*Typing) Name() string        { return ActionTyping }
func (*ReadReceipt) Name() string   { return ActionReadReceipt }
func (*EditMessage) Name() string   { return ActionEditMessage }
func (*DeleteMessage) Name() string { return ActionDeleteMessage }

// envelope is the raw inbound frame shared by every action.
type envelope struct {
	Action    string          `json:"action"`
	Message   string          `json:"message"`
	ReplyToID flexID          `json:"reply_to_id"`
	TempID    json.RawMessage `json:"temp_id"`
	MessageID flexID          `json:"message_id"`
	IsTyping  bool            `json:"is_typing"`
}

// flexID accepts a message id sent as a JSON number or a numeric string.
// Anything else leaves it unset rather than failing the whole frame.
type flexID struct {
	value int64
	ok    bool
}

func (f *flexID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = flexID{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		*f = flexID{}
		return nil
	}
	*f = flexID{value: v, ok: true}
	return nil
}

func (f flexID) ptr() *int64 {
	if !f.ok {
		return nil
	}
	v := f.value
	return &v
}

// DecodeAction parses one inbound frame. Errors wrap ErrUnknownAction or
// ErrMalformedAction.
func DecodeAction(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAction, err)
	}

	var action Action
	switch env.Action {
	case ActionMessage:
		action = &SendMessage{Content: env.Message, ReplyToID: env.ReplyToID.ptr(), TempID: env.TempID}
	case ActionTyping:
		action = &Typing{IsTyping: env.IsTyping}
	case ActionReadReceipt:
		action = &ReadReceipt{MessageID: env.MessageID.value}
	case ActionEditMessage:
		action = &EditMessage{MessageID: env.MessageID.value, Content: env.Message}
	case ActionDeleteMessage:
		action = &DeleteMessage{MessageID: env.MessageID.value}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}

	if err := validate.Struct(action); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedAction, env.Action, err)
	}
	return action, nil
}
