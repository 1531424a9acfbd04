package server

import (
	"testing"
	"time"
)

func TestEventBroadcaster_SubscribeReplaysLastEvent(t *testing.T) {
	eb := NewEventBroadcaster()

	eb.Broadcast(ProgressEvent{JobID: "job", State: StateRunning, Iteration: 4, Cost: 0.25})

	ch := eb.Subscribe("job")
	defer eb.Unsubscribe("job", ch)

	select {
	case ev := <-ch:
		if ev.Iteration != 4 || ev.Cost != 0.25 {
			t.Errorf("Unexpected replayed event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Last event was not replayed")
	}
}

func TestEventBroadcaster_Broadcast(t *testing.T) {
	eb := NewEventBroadcaster()

	a := eb.Subscribe("job")
	b := eb.Subscribe("job")
	other := eb.Subscribe("other")

	eb.Broadcast(ProgressEvent{JobID: "job", Iteration: 1})

	for name, ch := range map[string]chan ProgressEvent{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Iteration != 1 {
				t.Errorf("Client %s got iteration %d, want 1", name, ev.Iteration)
			}
		case <-time.After(time.Second):
			t.Errorf("Client %s received nothing", name)
		}
	}

	select {
	case ev := <-other:
		t.Errorf("Client of another job received %+v", ev)
	default:
	}
}

func TestEventBroadcaster_FullChannelDoesNotBlock(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job")
	defer eb.Unsubscribe("job", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			eb.Broadcast(ProgressEvent{JobID: "job", Iteration: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}
}

func TestEventBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job")

	eb.Unsubscribe("job", ch)
	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after unsubscribe")
	}

	// A second unsubscribe must not close twice
	eb.Unsubscribe("job", ch)
}

func TestEventBroadcaster_CleanupJob(t *testing.T) {
	eb := NewEventBroadcaster()
	eb.Broadcast(ProgressEvent{JobID: "job", Iteration: 7})
	ch := eb.Subscribe("job")
	<-ch // replay

	eb.CleanupJob("job")
	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after cleanup")
	}

	fresh := eb.Subscribe("job")
	defer eb.Unsubscribe("job", fresh)
	select {
	case ev := <-fresh:
		t.Errorf("Cleanup should drop the cached event, got %+v", ev)
	default:
	}
}
