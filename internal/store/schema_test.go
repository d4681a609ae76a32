// ABOUTME: Contract tests for the SQLite schema to detect breaking changes
// ABOUTME: Validates expected tables, columns, indexes and row constraints

package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tandem/internal/store"
)

// expectedSchema is the column contract per table. Removing or renaming a
// column breaks existing databases, so it must fail here first.
var expectedSchema = map[string][]string{
	"threads": {
		"id", "participant_key", "created_at", "updated_at",
	},
	"thread_participants": {
		"thread_id", "actor_id",
	},
	"messages": {
		"id", "thread_id", "sender_id", "sender_name",
		"content", "attachment_url", "reply_to_id", "created_at",
		"is_delivered", "delivered_at", "is_read", "read_at", "is_edited",
	},
}

func setupSchemaDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "schema_test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	// The store owns its pool; inspect through a separate handle.
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
		s.Close()
	})
	return db
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

func TestSchemaSurface(t *testing.T) {
	db := setupSchemaDB(t)

	for table, expected := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			actual, err := tableColumns(t.Context(), db, table)
			require.NoError(t, err)
			require.NotEmpty(t, actual, "table %s should exist", table)

			for _, col := range expected {
				assert.True(t, actual[col], "column %s.%s should exist", table, col)
			}
			for col := range actual {
				if !slices.Contains(expected, col) {
					t.Logf("INFO: extra column %s.%s not in contract", table, col)
				}
			}
		})
	}
}

func TestSchemaHasIndexes(t *testing.T) {
	db := setupSchemaDB(t)

	rows, err := db.QueryContext(t.Context(), "SELECT name FROM sqlite_master WHERE type='index'")
	require.NoError(t, err)
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes = append(indexes, name)
	}
	require.NoError(t, rows.Err())

	for _, idx := range []string{
		"idx_threads_participant_key",
		"idx_threads_updated",
		"idx_thread_participants_actor",
		"idx_messages_thread_created",
		"idx_messages_reply_to",
	} {
		assert.Contains(t, indexes, idx)
	}
}

func TestSchemaRejectsReadWithoutDelivered(t *testing.T) {
	db := setupSchemaDB(t)
	ctx := t.Context()

	// Plain connections leave foreign keys off, so no thread row is needed.
	_, err := db.ExecContext(ctx, `INSERT INTO messages (thread_id, sender_id, content, created_at, is_delivered, is_read)
		VALUES ('t', 'alice', 'hi', '2026-01-01T00:00:00Z', 0, 1)`)
	assert.Error(t, err, "read implies delivered")
}

func TestSchemaRejectsDuplicateParticipantKey(t *testing.T) {
	db := setupSchemaDB(t)
	ctx := t.Context()

	insert := `INSERT INTO threads (id, participant_key, created_at, updated_at)
		VALUES (?, 'alice|bob', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`
	_, err := db.ExecContext(ctx, insert, "t1")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "t2")
	assert.Error(t, err)
}
