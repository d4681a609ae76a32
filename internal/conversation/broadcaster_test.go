// ABOUTME: Tests for the thread-group Broadcaster
// ABOUTME: Covers fan-out, exclusion, ordering, eviction of slow subscribers, cleanup and concurrency

package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription %s closed", sub.SessionID)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("subscription %s timed out", sub.SessionID)
		return nil
	}
}

func assertNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %T for %s", ev, sub.SessionID)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func assertClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("subscription %s not closed", sub.SessionID)
		}
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	published []EventType
	evicted   []string
}

func (r *recordingObserver) EventPublished(threadID string, event Event, recipients int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, event.Kind())
}

func (r *recordingObserver) SubscriberEvicted(threadID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, sessionID)
}

func TestBroadcaster_FanOutToGroup(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	s1, err := b.Subscribe("thread-1", "s1")
	require.NoError(t, err)
	s2, err := b.Subscribe("thread-1", "s2")
	require.NoError(t, err)

	n := b.Publish("thread-1", NewMessageDeleted(7), "")
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscription{s1, s2} {
		ev := receive(t, sub)
		require.IsType(t, &MessageDeleted{}, ev)
		assert.Equal(t, int64(7), ev.(*MessageDeleted).MessageID)
	}
}

func TestBroadcaster_ThreadsAreIsolated(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	s1, _ := b.Subscribe("thread-1", "s1")
	s2, _ := b.Subscribe("thread-2", "s2")

	b.Publish("thread-1", NewMessageRead(1), "")

	receive(t, s1)
	assertNothing(t, s2)
}

func TestBroadcaster_ExcludeSkipsOriginator(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	s1, _ := b.Subscribe("thread-1", "s1")
	s2, _ := b.Subscribe("thread-1", "s2")

	n := b.Publish("thread-1", NewTypingState("alice", "Alice", true), "s1")
	assert.Equal(t, 1, n)

	assertNothing(t, s1)
	receive(t, s2)
}

func TestBroadcaster_PublishOrderIsPreserved(t *testing.T) {
	b := NewBroadcaster(256, nil)
	defer b.Close()

	s1, _ := b.Subscribe("thread-1", "s1")
	s2, _ := b.Subscribe("thread-1", "s2")

	for i := range 100 {
		b.Publish("thread-1", NewMessageDeleted(int64(i)), "")
	}

	for _, sub := range []*Subscription{s1, s2} {
		for i := range 100 {
			ev := receive(t, sub)
			assert.Equal(t, int64(i), ev.(*MessageDeleted).MessageID)
		}
	}
}

func TestBroadcaster_ConcurrentPublishersAgreeOnOrder(t *testing.T) {
	b := NewBroadcaster(1024, nil)
	defer b.Close()

	s1, _ := b.Subscribe("thread-1", "s1")
	s2, _ := b.Subscribe("thread-1", "s2")

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Go(func() {
			for i := range 50 {
				b.Publish("thread-1", NewMessageDeleted(int64(p*1000+i)), "")
			}
		})
	}
	wg.Wait()

	for range 200 {
		a := receive(t, s1).(*MessageDeleted)
		c := receive(t, s2).(*MessageDeleted)
		require.Equal(t, a.MessageID, c.MessageID, "recipients observed different orders")
	}
}

func TestBroadcaster_NoBacklogForLateSubscribers(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	early, _ := b.Subscribe("thread-1", "early")
	b.Publish("thread-1", NewMessageDeleted(1), "")

	late, _ := b.Subscribe("thread-1", "late")
	b.Publish("thread-1", NewMessageDeleted(2), "")

	assert.Equal(t, int64(1), receive(t, early).(*MessageDeleted).MessageID)
	assert.Equal(t, int64(2), receive(t, early).(*MessageDeleted).MessageID)
	assert.Equal(t, int64(2), receive(t, late).(*MessageDeleted).MessageID)
	assertNothing(t, late)
}

func TestBroadcaster_SlowConsumerIsEvicted(t *testing.T) {
	obs := &recordingObserver{}
	b := NewBroadcaster(4, nil)
	b.AddObserver(obs)
	defer b.Close()

	slow, _ := b.Subscribe("thread-1", "slow")
	fast, _ := b.Subscribe("thread-1", "fast")

	received := 0
	for i := range 10 {
		b.Publish("thread-1", NewMessageDeleted(int64(i)), "")
		receive(t, fast)
		received++
	}

	assert.Equal(t, 10, received, "fast consumer unaffected by the slow one")
	assertClosed(t, slow)
	assert.True(t, slow.Evicted())
	assert.False(t, fast.Evicted())
	assert.Equal(t, []string{"fast"}, b.Members("thread-1"))

	obs.mu.Lock()
	assert.Equal(t, []string{"slow"}, obs.evicted)
	assert.Len(t, obs.published, 10)
	obs.mu.Unlock()
}

func TestBroadcaster_UnsubscribeClosesAndCollectsGroup(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	sub, _ := b.Subscribe("thread-1", "s1")
	assert.Equal(t, 1, b.Groups())

	b.Unsubscribe("thread-1", "s1")
	assertClosed(t, sub)
	assert.False(t, sub.Evicted())
	assert.Zero(t, b.Groups(), "empty group is garbage-collected")

	// Safe to repeat and to publish afterwards.
	b.Unsubscribe("thread-1", "s1")
	b.Unsubscribe("thread-9", "nobody")
	assert.Zero(t, b.Publish("thread-1", NewMessageDeleted(1), ""))
}

func TestBroadcaster_UnsubscribeWrongThreadIsNoop(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	sub, _ := b.Subscribe("thread-1", "s1")
	b.Unsubscribe("thread-2", "s1")

	b.Publish("thread-1", NewMessageDeleted(1), "")
	receive(t, sub)
}

func TestBroadcaster_SessionBelongsToOneGroup(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	first, _ := b.Subscribe("thread-1", "s1")
	second, _ := b.Subscribe("thread-2", "s1")

	assertClosed(t, first)
	assert.Empty(t, b.Members("thread-1"))
	assert.Equal(t, []string{"s1"}, b.Members("thread-2"))

	b.Publish("thread-2", NewMessageDeleted(3), "")
	receive(t, second)

	// The stale subscription's thread no longer owns the session.
	b.Unsubscribe("thread-1", "s1")
	assert.Equal(t, []string{"s1"}, b.Members("thread-2"))
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBroadcaster(0, nil)

	s1, _ := b.Subscribe("thread-1", "s1")
	s2, _ := b.Subscribe("thread-2", "s2")

	b.Close()

	assertClosed(t, s1)
	assertClosed(t, s2)

	_, err := b.Subscribe("thread-1", "s3")
	assert.ErrorIs(t, err, ErrBroadcasterClosed)
	assert.Zero(t, b.Publish("thread-1", NewMessageDeleted(1), ""))
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Go(func() {
			id := fmt.Sprintf("s%d", i)
			sub, err := b.Subscribe("thread-concurrent", id)
			if err != nil {
				return
			}
			defer b.Unsubscribe("thread-concurrent", id)
			for range 5 {
				select {
				case <-sub.Events():
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish("thread-concurrent", NewMessageDeleted(1), "")
			}
		})
	}

	wg.Wait()
	assert.Zero(t, b.Groups())
}
