package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventHeartbeat          EventType = "clock.heartbeat"
	EventTickDelayed        EventType = "clock.tick_delayed"
	EventPulseEmitted       EventType = "sync.pulse_emitted"
	EventPulseWindowClosed  EventType = "sync.window_closed"
	EventSyncMissed         EventType = "sync.missed"
	EventStaleAck           EventType = "sync.stale_ack"
	EventAlertRaised        EventType = "alert.raised"
	EventModuleRegistered   EventType = "module.registered"
	EventModuleDeregistered EventType = "module.deregistered"
	EventModuleDegraded     EventType = "module.degraded"
	EventModuleIsolated     EventType = "module.isolated"
	EventModuleRecovering   EventType = "module.recovering"
	EventModuleRecovered    EventType = "module.recovered"
	EventWorkerRegistered   EventType = "worker.registered"
	EventWorkerDrifting     EventType = "worker.drifting"
	EventWorkerSunsetBegin  EventType = "worker.sunset_pending"
	EventWorkerRetired      EventType = "worker.retired"
	EventPredicateQueued    EventType = "predicate.queued"
	EventPredicateBroadcast EventType = "predicate.broadcast"
	EventPredicateAcked     EventType = "predicate.acked"
)

// Event represents an engine event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. A slow subscriber is
// skipped, never blocks the engine's loops.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
