// Package events provides in-process event fan-out and real-time delivery
// to WebSocket clients. Events are fire-and-forget: there is no replay and
// no persistence, and a subscriber that cannot keep up is dropped.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic taxonomy. Every event's Type is one of these; subscribers filter on
// them, with "all" as a wildcard.
const (
	TopicSystem    = "system_event"
	TopicAgent     = "agent_event"
	TopicTask      = "task_event"
	TopicExecution = "execution_event"
	TopicWorkflow  = "workflow_event"

	// TagAll subscribes to every topic.
	TagAll = "all"
)

// Event type sub-discriminators carried in EventType.
const (
	EventTypeCreated   = "created"
	EventTypeUpdated   = "updated"
	EventTypeDeleted   = "deleted"
	EventTypeStarted   = "started"
	EventTypePaused    = "paused"
	EventTypeResumed   = "resumed"
	EventTypeAborted   = "aborted"
	EventTypeCompleted = "completed"
	EventTypeFailed    = "failed"
)

// Event is the broadcast envelope delivered to every subscriber and, as
// JSON, to WebSocket clients.
type Event struct {
	Type            string         `json:"type"` // topic
	EventType       string         `json:"event_type"`
	Timestamp       string         `json:"timestamp"` // RFC3339Nano
	BroadcastID     string         `json:"broadcast_id"`
	ServerTimestamp string         `json:"server_timestamp"` // RFC3339Nano
	Payload         map[string]any `json:"payload"`
}

// New builds an event envelope with fresh identity and timestamps.
func New(topic, eventType string, payload map[string]any) Event {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return Event{
		Type:            topic,
		EventType:       eventType,
		Timestamp:       now,
		BroadcastID:     uuid.New().String(),
		ServerTimestamp: now,
		Payload:         payload,
	}
}

// subscriptionBuffer is the one-event buffer each subscription owns. A
// subscriber that has not drained it by the next publish is dropped.
const subscriptionBuffer = 1

// Subscription is a live handle onto the bus. Events arrive on Events()
// until the subscription is closed, either by the caller or by the bus
// after a failed delivery.
type Subscription struct {
	id   string
	tags map[string]bool
	ch   chan Event

	closeOnce sync.Once
	bus       *Bus
}

// Events returns the receive channel. It is closed when the subscription
// ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.closeOnce.Do(func() { close(s.ch) })
}

func (s *Subscription) wants(topic string) bool {
	return s.tags[TagAll] || s.tags[topic]
}

// Bus is the in-process broadcaster. One instance serves the whole process.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		logger: logger.With("component", "event_bus"),
	}
}

// Subscribe registers a subscriber for the given filter tags. With no tags
// the subscription receives everything, as if it had passed "all".
func (b *Bus) Subscribe(tags ...string) *Subscription {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	if len(tagSet) == 0 {
		tagSet[TagAll] = true
	}

	sub := &Subscription{
		id:   uuid.New().String(),
		tags: tagSet,
		ch:   make(chan Event, subscriptionBuffer),
		bus:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every subscription whose tags include the
// event's topic. Delivery is non-blocking: a subscriber with a full buffer
// is closed and removed.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(evt.Type) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		default:
			b.logger.Warn("Dropping slow event subscriber",
				"subscription_id", sub.id, "topic", evt.Type)
			sub.Close()
		}
	}
}

// Close shuts the bus down, closing every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
}

// SubscriberCount reports live subscriptions. Used by the system surface
// and by tests to poll instead of sleeping.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.id)
}
