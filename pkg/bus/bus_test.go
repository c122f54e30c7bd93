package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(NewEvent(EventPeerVerified, map[string]any{"node_id": "n1"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, EventPeerVerified, ev.Type)
	assert.Equal(t, "n1", ev.Payload["node_id"])
}

func TestPerSubscriberOrderingPreserved(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		b.Publish(NewEvent(EventTaskUpdate, map[string]any{"seq": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		ev, ok := sub.Next(ctx)
		require.True(t, ok)
		assert.Equal(t, i, ev.Payload["seq"])
	}
}

func TestOverflowDropsOldestNotNewest(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	// Publish capacity+10 events; the oldest 10 should be dropped, and the
	// buffer should still hold the most recent `capacity` events in order.
	total := capacity + 10
	for i := 0; i < total; i++ {
		b.Publish(NewEvent(EventTaskUpdate, map[string]any{"seq": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, 10, ev.Payload["seq"], "oldest surviving event should be #10, the first 10 were dropped")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Unsubscribe()

	assert.Equal(t, 0, b.SubscriberCount())
	b.Publish(NewEvent(EventTaskUpdate, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := sub.Next(ctx)
	assert.False(t, ok)
}
