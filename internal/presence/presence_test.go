package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackerContract exercises behavior every Tracker must share.
func trackerContract(t *testing.T, tr Tracker) {
	ctx := t.Context()
	thread := "thread-" + uuid.NewString()

	online, err := tr.Online(ctx, thread)
	require.NoError(t, err)
	assert.Empty(t, online)

	require.NoError(t, tr.Join(ctx, thread, "bob", "s2"))
	require.NoError(t, tr.Join(ctx, thread, "alice", "s1"))
	require.NoError(t, tr.Join(ctx, thread, "alice", "s3"))

	online, err = tr.Online(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, online, "actors are distinct and sorted")

	require.NoError(t, tr.Leave(ctx, thread, "alice", "s1"))
	online, err = tr.Online(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, online, "alice still has s3")

	require.NoError(t, tr.Leave(ctx, thread, "alice", "s3"))
	require.NoError(t, tr.Leave(ctx, thread, "alice", "s3"), "leaving twice is harmless")
	online, err = tr.Online(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, online)

	other, err := tr.Online(ctx, "thread-"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryTracker(t *testing.T) {
	tr := NewMemoryTracker()
	defer tr.Close()
	trackerContract(t, tr)
}

func TestMemoryTracker_LeaveCollectsThread(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, "t1", "alice", "s1"))
	require.NoError(t, tr.Leave(ctx, "t1", "alice", "s1"))

	tr.mu.RLock()
	defer tr.mu.RUnlock()
	assert.Empty(t, tr.threads)
}

// redisTestAddr returns a Redis address for integration tests, skipping
// when none is configured.
func redisTestAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("TANDEM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TANDEM_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestRedisTracker(t *testing.T) {
	client, err := DialRedis(t.Context(), redisTestAddr(t), "", 0)
	require.NoError(t, err)

	tr := NewRedisTracker(client, "tandem-test:"+uuid.NewString()+":", time.Minute)
	defer tr.Close()
	trackerContract(t, tr)
}

func TestRedisTracker_EntriesExpire(t *testing.T) {
	client, err := DialRedis(t.Context(), redisTestAddr(t), "", 0)
	require.NoError(t, err)

	tr := NewRedisTracker(client, "tandem-test:"+uuid.NewString()+":", time.Minute)
	defer tr.Close()

	now := time.Now()
	tr.now = func() time.Time { return now }
	require.NoError(t, tr.Join(t.Context(), "t1", "alice", "s1"))

	now = now.Add(2 * time.Minute)
	online, err := tr.Online(t.Context(), "t1")
	require.NoError(t, err)
	assert.Empty(t, online, "entries not refreshed within ttl age out")
}

func TestDialRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	_, err := DialRedis(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
