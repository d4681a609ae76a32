// ABOUTME: In-memory fan-out broadcaster for live thread groups
// ABOUTME: Delivers events to every session subscribed to a thread without blocking on slow readers

package conversation

import (
	"errors"
	"log/slog"
	"sync"
)

const (
	// DefaultSubscriberBuffer is the channel buffer for each subscriber.
	DefaultSubscriberBuffer = 64
)

// ErrBroadcasterClosed is returned by Subscribe after Close.
var ErrBroadcasterClosed = errors.New("broadcaster closed")

// Observer is notified of broadcaster activity. Calls happen while the
// thread group is locked so they observe publish order; implementations must
// not block.
type Observer interface {
	EventPublished(threadID string, event Event, recipients int)
	SubscriberEvicted(threadID, sessionID string)
}

// Subscription is one session's membership in a thread group. The channel
// returned by Events is closed when the subscription ends, either through
// Unsubscribe, eviction, or broadcaster shutdown.
type Subscription struct {
	SessionID string
	ThreadID  string

	ch      chan Event
	evicted bool
}

// Events returns the channel carrying this subscription's events.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Evicted reports whether the subscription was dropped because its buffer
// filled up. Only meaningful after Events has been closed.
func (s *Subscription) Evicted() bool {
	return s.evicted
}

type group struct {
	mu   sync.Mutex
	subs map[string]*Subscription // sessionID -> subscription
}

// Broadcaster maintains, per thread, the set of live subscriptions and fans
// events out to them.
//
// Publish never waits on a subscriber. A subscriber whose buffer is full is
// evicted: its channel is closed and it is removed from the group. Events
// published to one thread reach every subscriber in the same order.
type Broadcaster struct {
	mu        sync.RWMutex
	groups    map[string]*group        // threadID -> group
	sessions  map[string]*Subscription // sessionID -> current subscription
	observers []Observer
	buffer    int
	closed    bool
	logger    *slog.Logger
}

// NewBroadcaster creates a broadcaster. bufferSize <= 0 selects
// DefaultSubscriberBuffer. Pass nil logger for default.
func NewBroadcaster(bufferSize int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		groups:   make(map[string]*group),
		sessions: make(map[string]*Subscription),
		buffer:   bufferSize,
		logger:   logger.With("component", "broadcaster"),
	}
}

// AddObserver registers an observer. Call before the broadcaster is in use.
func (b *Broadcaster) AddObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Subscribe adds sessionID to the thread's group. A session belongs to at
// most one group: an existing subscription for sessionID is ended first.
func (b *Broadcaster) Subscribe(threadID, sessionID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBroadcasterClosed
	}

	if prev, ok := b.sessions[sessionID]; ok {
		b.removeLocked(prev)
	}

	g, ok := b.groups[threadID]
	if !ok {
		g = &group{subs: make(map[string]*Subscription)}
		b.groups[threadID] = g
	}

	sub := &Subscription{
		SessionID: sessionID,
		ThreadID:  threadID,
		ch:        make(chan Event, b.buffer),
	}

	g.mu.Lock()
	g.subs[sessionID] = sub
	g.mu.Unlock()
	b.sessions[sessionID] = sub

	b.logger.Debug("subscriber added",
		"thread_id", threadID,
		"session_id", sessionID)

	return sub, nil
}

// Unsubscribe removes sessionID from the thread's group and closes its
// channel. It is a no-op when the session is not subscribed to threadID.
func (b *Broadcaster) Unsubscribe(threadID, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.sessions[sessionID]
	if !ok || sub.ThreadID != threadID {
		return
	}
	b.removeLocked(sub)

	b.logger.Debug("subscriber removed",
		"thread_id", threadID,
		"session_id", sessionID)
}

// removeLocked detaches sub and garbage-collects its group when empty.
// b.mu must be held for writing.
func (b *Broadcaster) removeLocked(sub *Subscription) {
	if cur, ok := b.sessions[sub.SessionID]; ok && cur == sub {
		delete(b.sessions, sub.SessionID)
	}

	g, ok := b.groups[sub.ThreadID]
	if !ok {
		return
	}

	g.mu.Lock()
	if cur, ok := g.subs[sub.SessionID]; ok && cur == sub {
		delete(g.subs, sub.SessionID)
		close(sub.ch)
	}
	empty := len(g.subs) == 0
	g.mu.Unlock()

	if empty {
		delete(b.groups, sub.ThreadID)
	}
}

// Publish delivers event to every subscriber of threadID except
// excludeSessionID (empty to include everyone). It returns the number of
// subscribers that received the event.
func (b *Broadcaster) Publish(threadID string, event Event, excludeSessionID string) int {
	b.mu.RLock()
	g, ok := b.groups[threadID]
	if !ok {
		observers := b.observers
		b.mu.RUnlock()
		for _, o := range observers {
			o.EventPublished(threadID, event, 0)
		}
		return 0
	}
	// Lock the group before releasing b.mu so it cannot be collected in between.
	g.mu.Lock()
	observers := b.observers
	b.mu.RUnlock()

	delivered := 0
	var evicted []*Subscription
	for id, sub := range g.subs {
		if excludeSessionID != "" && id == excludeSessionID {
			continue
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			sub.evicted = true
			delete(g.subs, id)
			close(sub.ch)
			evicted = append(evicted, sub)
		}
	}

	for _, o := range observers {
		o.EventPublished(threadID, event, delivered)
		for _, sub := range evicted {
			o.SubscriberEvicted(threadID, sub.SessionID)
		}
	}
	g.mu.Unlock()

	for _, sub := range evicted {
		b.logger.Warn("evicted slow subscriber",
			"thread_id", threadID,
			"session_id", sub.SessionID,
			"event", event.Kind())
		b.forget(sub)
	}

	return delivered
}

// forget drops an evicted subscription from the session index and
// collects its group if nothing else joined meanwhile.
func (b *Broadcaster) forget(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Members returns the session IDs currently subscribed to threadID.
func (b *Broadcaster) Members(threadID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	g, ok := b.groups[threadID]
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.subs))
	for id := range g.subs {
		ids = append(ids, id)
	}
	return ids
}

// Groups returns the number of threads with at least one subscriber.
func (b *Broadcaster) Groups() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for threadID, g := range b.groups {
		g.mu.Lock()
		for id, sub := range g.subs {
			close(sub.ch)
			delete(g.subs, id)
		}
		g.mu.Unlock()
		delete(b.groups, threadID)
	}
	clear(b.sessions)
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
