// Package conversation holds the live conversation core: thread identity,
// membership checks, message state transitions and fan-out to connected
// sessions.
//
// # Components
//
//   - Registry: resolves or creates the single thread for a participant
//     pair and tracks last activity. First contact for a pair is serialized
//     by a keyed in-process lock; across processes the store's unique
//     participant key decides, and the loser re-reads the winner's row.
//   - Guard: membership checks. Unknown threads and non-members produce
//     the same ErrForbidden.
//   - Messages: create (with reply resolution), delivery and read marking,
//     edit and delete restricted to the sender. Denials return false, never
//     an error.
//   - Broadcaster: per-thread groups of subscriptions with buffered
//     channels. Publish never blocks; a subscriber whose buffer is full is
//     evicted and its channel closed.
//
// # Events
//
// Outbound notifications are a closed set of structs implementing Event:
//
//   - MessageCreated: message_created
//   - TypingState: typing_state
//   - MessageStatus: message_status
//   - MessageEdited: message_edited
//   - MessageDeleted: message_deleted
//
// Each carries its tag in a "type" field so it can be written to a client
// as-is.
//
// # Usage
//
//	registry := conversation.NewRegistry(st, logger)
//	guard := conversation.NewGuard(st)
//	messages := conversation.NewMessages(st, registry, logger)
//	broadcaster := conversation.NewBroadcaster(64, logger)
//	defer broadcaster.Close()
//
//	msg, err := messages.Create(ctx, conversation.CreateParams{...})
//	broadcaster.Publish(msg.ThreadID, conversation.NewMessageCreated(msg, tempID), "")
package conversation
