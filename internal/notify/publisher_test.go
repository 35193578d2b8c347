package notify

import (
	"context"
	"testing"
	"time"
)

func TestPublisherDeliversToSubscribers(t *testing.T) {
	publisher := NewPublisher[string](context.Background(), PublisherOptions{Name: "test"})
	defer publisher.Close()

	ch, cancel := publisher.Subscribe()
	defer cancel()

	publisher.Publish("hello")

	select {
	case got := <-ch:
		if got != "hello" {
			t.Fatalf("unexpected notification %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("notification never arrived")
	}
}

func TestPublisherFilteredSubscription(t *testing.T) {
	publisher := NewPublisher[int](context.Background(), PublisherOptions{})
	defer publisher.Close()

	evens, cancel := publisher.SubscribeFiltered(func(n int) bool { return n%2 == 0 })
	defer cancel()

	for i := 1; i <= 4; i++ {
		publisher.Publish(i)
	}

	got := []int{<-evens, <-evens}
	if got[0] != 2 || got[1] != 4 {
		t.Fatalf("unexpected filtered values: %v", got)
	}
}

func TestPublisherDropsWhenSubscriberFull(t *testing.T) {
	publisher := NewPublisher[int](context.Background(), PublisherOptions{SubscriberBufferSize: 1})
	defer publisher.Close()

	_, cancel := publisher.Subscribe()
	defer cancel()

	publisher.Publish(1)
	publisher.Publish(2)

	published, dropped := publisher.Counts()
	if published != 2 {
		t.Fatalf("expected 2 published, got %d", published)
	}
	if dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
}

func TestPublishSurvivesConcurrentCancel(t *testing.T) {
	publisher := NewPublisher[int](context.Background(), PublisherOptions{SubscriberBufferSize: 1})
	defer publisher.Close()

	// Subscribers cancelling mid-publish close their channel between the
	// snapshot and the send; the publish must shrug that off, never panic.
	stop := make(chan struct{})
	published := make(chan struct{})
	go func() {
		defer close(published)
		for {
			select {
			case <-stop:
				return
			default:
				publisher.Publish(1)
			}
		}
	}()

	for i := 0; i < 500; i++ {
		_, cancel := publisher.Subscribe()
		cancel()
	}

	close(stop)
	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatalf("publisher wedged")
	}
	if publisher.SubscriberCount() != 0 {
		t.Fatalf("expected no live subscribers, got %d", publisher.SubscriberCount())
	}
}

func TestPublisherHistory(t *testing.T) {
	publisher := NewPublisher[int](context.Background(), PublisherOptions{HistorySize: 2})
	defer publisher.Close()

	for i := 1; i <= 3; i++ {
		publisher.Publish(i)
	}

	history := publisher.History()
	if len(history) != 2 || history[0] != 2 || history[1] != 3 {
		t.Fatalf("unexpected history: %v", history)
	}
}

func TestPublisherClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	publisher := NewPublisher[int](ctx, PublisherOptions{})

	ch, unsub := publisher.Subscribe()
	defer unsub()
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber channel never closed")
	}
	if publisher.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers after close")
	}
}
