package eventbus

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := New()
	a := bus.Subscribe(TopicInterviewCompleted)
	b := bus.Subscribe(TopicInterviewCompleted)

	bus.Publish(TopicInterviewCompleted, "iv-123")

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case evt := <-ch:
			if evt.Topic != TopicInterviewCompleted || evt.Payload != "iv-123" {
				t.Errorf("subscriber %s got %+v", name, evt)
			}
		case <-time.After(time.Second):
			t.Errorf("subscriber %s got no event", name)
		}
	}
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	t.Parallel()

	bus := New()
	ch := bus.Subscribe(TopicInterviewPaused)

	bus.Publish(TopicInterviewCompleted, "iv-123")

	select {
	case evt := <-ch:
		t.Errorf("got event %+v on unrelated topic", evt)
	default:
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	t.Parallel()

	bus := New()
	done := make(chan struct{})
	go func() {
		bus.Publish(TopicSessionClosed, "iv-123")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	bus := New()
	ch := bus.Subscribe(TopicSessionConnected)

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(TopicSessionConnected, i)
	}
	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", got, subscriberBuffer)
	}
}
