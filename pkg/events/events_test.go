package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:    EventModuleIsolated,
		Message: "module isolated after threshold",
	})

	select {
	case event := <-sub:
		assert.Equal(t, EventModuleIsolated, event.Type)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerSubscriberCount(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	require.Equal(t, 0, broker.SubscriberCount())

	s1 := broker.Subscribe()
	s2 := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Unsubscribe(s1)
	assert.Equal(t, 1, broker.SubscriberCount())
	broker.Unsubscribe(s2)
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and further events are skipped.
	_ = broker.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			broker.Publish(&Event{Type: EventHeartbeat})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
