// Package store provides persistent storage for tandem using SQLite.
//
// # Data Models
//
//   - Thread: a conversation scoped to a fixed, sorted participant set. The
//     canonical ParticipantKey carries a UNIQUE index so at most one thread
//     exists per unordered set.
//   - Message: one chat message with delivery, read and edit flags and an
//     optional reply link to an earlier message in the same thread.
//
// # Status transitions
//
// Status flags only move from false to true. Marking a message read also
// marks it delivered, reusing the read timestamp when delivery was not yet
// recorded. Every transition is a single UPDATE whose WHERE clause holds the
// precondition (sender, thread, flag state), so concurrent callers resolve
// against committed state.
//
// Reply links use ON DELETE SET NULL. A reply whose target was deleted reads
// back with ReplyToID and ReplyTo both nil.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Writes use BEGIN IMMEDIATE so a read-then-write transaction never
// upgrades its lock mid-flight.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateThread: a thread for the participant set already exists
//   - ErrInvalidOperation: fewer than two distinct participants
//
// # Testing
//
// Use NewMockStore() for unit tests. It mirrors SQLiteStore semantics and
// can simulate outages with SetFailure.
package store
