// ABOUTME: ThreadRegistry resolves or creates the unique thread for a participant pair
// ABOUTME: Serializes first contact per pair in-process and relies on the store's unique key across processes

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/tandem/internal/store"
)

// Registry owns thread identity and last-activity metadata.
type Registry struct {
	store  store.Store
	locks  *keyedMutex
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates a Registry. Pass nil logger for default.
func NewRegistry(s store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		locks:  newKeyedMutex(),
		now:    time.Now,
		logger: logger.With("component", "registry"),
	}
}

// GetOrCreate returns the thread whose participants are exactly
// {actorA, actorB}, creating it on first contact. It fails with
// store.ErrInvalidOperation when both actors are the same.
func (r *Registry) GetOrCreate(ctx context.Context, actorA, actorB string) (*store.Thread, error) {
	if actorA == "" || actorB == "" || actorA == actorB {
		return nil, store.ErrInvalidOperation
	}

	key := store.ParticipantKey(actorA, actorB)
	unlock := r.locks.lock(key)
	defer unlock()

	thread, err := r.store.GetThreadByParticipants(ctx, key)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup thread: %w", err)
	}

	now := r.now()
	thread = &store.Thread{
		Participants: []string{actorA, actorB},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = r.store.CreateThread(ctx, thread)
	if errors.Is(err, store.ErrDuplicateThread) {
		// Another process won the race; its row is authoritative.
		return r.store.GetThreadByParticipants(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	r.logger.Info("thread created",
		"thread_id", thread.ID,
		"participants", thread.Participants)

	return thread, nil
}

// Get returns a thread by ID.
func (r *Registry) Get(ctx context.Context, threadID string) (*store.Thread, error) {
	return r.store.GetThread(ctx, threadID)
}

// Touch bumps the thread's last-activity timestamp to now.
func (r *Registry) Touch(ctx context.Context, threadID string) error {
	return r.store.TouchThread(ctx, threadID, r.now())
}

// List returns the actor's threads, most recently active first.
func (r *Registry) List(ctx context.Context, actorID string, limit int) ([]*store.Thread, error) {
	return r.store.ListThreadsForActor(ctx, actorID, limit)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
