// Package eventbus provides an in-memory publish/subscribe bus for interview
// lifecycle events. Publishers fire-and-forget; each subscriber gets its own
// buffered channel and owns the consumption loop. Events are not persisted.
package eventbus

import "sync"

// Well-known topics.
const (
	TopicInterviewStarted   = "interview.started"
	TopicInterviewPaused    = "interview.paused"
	TopicInterviewResumed   = "interview.resumed"
	TopicInterviewCompleted = "interview.completed"
	TopicSessionConnected   = "session.connected"
	TopicSessionClosed      = "session.closed"
)

// Event is a single published message.
type Event struct {
	Topic   string
	Payload any
}

// EventBus publishes events to topic subscribers.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(topic string) <-chan Event
}

const subscriberBuffer = 100

// Bus is the in-memory EventBus implementation.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe registers a subscriber for topic and returns its channel. The
// caller must keep draining it; a full buffer loses subsequent events.
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers the event to every subscriber of topic without blocking.
// Subscribers whose buffer is full miss the event.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload}
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
