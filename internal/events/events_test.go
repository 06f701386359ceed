package events_test

import (
	"testing"
	"time"

	"github.com/webants/webants/internal/events"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := events.NewBus(4)
	sub := bus.Subscribe()

	bus.Publish("spider_opened", map[string]any{"seed_count": 3})

	select {
	case evt := <-sub:
		if evt.Name != events.SpiderOpened {
			t.Errorf("Name = %v, want %v", evt.Name, events.SpiderOpened)
		}
		if evt.Attrs["seed_count"] != 3 {
			t.Errorf("Attrs[seed_count] = %v, want 3", evt.Attrs["seed_count"])
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the published event")
	}
}

func TestBus_FansOutToMultipleSubscribers(t *testing.T) {
	bus := events.NewBus(4)
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish("request_dropped", map[string]any{"reason": "circuit_open"})

	for _, ch := range []<-chan events.Event{a, b} {
		select {
		case evt := <-ch:
			if evt.Name != events.RequestDropped {
				t.Errorf("Name = %v, want %v", evt.Name, events.RequestDropped)
			}
		case <-time.After(time.Second):
			t.Fatal("a subscriber missed the fan-out")
		}
	}
}

func TestBus_FullSubscriberBufferDropsWithoutBlocking(t *testing.T) {
	bus := events.NewBus(1)
	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		bus.Publish("item_scraped", nil)
		bus.Publish("item_scraped", nil) // buffer already full; must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	<-sub // drain the one event that made it through
}

func TestBus_PublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	bus := events.NewBus(4)
	bus.Publish("spider_idle", map[string]any{})
}
