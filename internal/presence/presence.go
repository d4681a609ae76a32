// ABOUTME: Presence tracking: which actors currently have a live session attached to a thread
// ABOUTME: In-memory tracker for single-process deployments; Redis tracker shares state across gateways

package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Tracker records live session attachments per thread.
type Tracker interface {
	// Join records that sessionID of actorID is attached to threadID. Calling
	// it again refreshes the entry.
	Join(ctx context.Context, threadID, actorID, sessionID string) error
	// Leave removes the attachment. Unknown sessions are ignored.
	Leave(ctx context.Context, threadID, actorID, sessionID string) error
	// Online returns the distinct actor IDs attached to threadID, sorted.
	Online(ctx context.Context, threadID string) ([]string, error)
	Close() error
}

// MemoryTracker keeps presence in process memory.
type MemoryTracker struct {
	mu      sync.RWMutex
	threads map[string]map[string]string // threadID -> sessionID -> actorID
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{threads: make(map[string]map[string]string)}
}

func (m *MemoryTracker) Join(ctx context.Context, threadID, actorID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.threads[threadID]
	if !ok {
		sessions = make(map[string]string)
		m.threads[threadID] = sessions
	}
	sessions[sessionID] = actorID
	return nil
}

func (m *MemoryTracker) Leave(ctx context.Context, threadID, actorID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.threads[threadID]
	if !ok {
		return nil
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.threads, threadID)
	}
	return nil
}

func (m *MemoryTracker) Online(ctx context.Context, threadID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actors := lo.Uniq(lo.Values(m.threads[threadID]))
	sort.Strings(actors)
	return actors, nil
}

func (m *MemoryTracker) Close() error {
	return nil
}
