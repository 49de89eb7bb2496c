package bus

import (
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(id string) EventHandler {
		return func(ev Event) {
			mu.Lock()
			got[id] = append(got[id], ev.Name)
			mu.Unlock()
		}
	}
	b.Subscribe("a", record("a"))
	b.Subscribe("b", record("b"))

	b.Broadcast(Event{Name: "session-status"})
	b.Broadcast(Event{Name: "message-received"})

	waitFor(t, "both subscribers to see both events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["a"]) == 2 && len(got["b"]) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if got["a"][0] != "session-status" || got["a"][1] != "message-received" {
		t.Errorf("subscriber a order = %v", got["a"])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var count int
	b.Subscribe("a", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Broadcast(Event{Name: "first"})
	waitFor(t, "first delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	b.Unsubscribe("a")
	b.Broadcast(Event{Name: "second"})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("delivery after unsubscribe: count = %d", count)
	}
}

func TestResubscribeReplacesHandler(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var first, second int
	b.Subscribe("a", func(Event) { mu.Lock(); first++; mu.Unlock() })
	b.Subscribe("a", func(Event) { mu.Lock(); second++; mu.Unlock() })

	b.Broadcast(Event{Name: "ev"})

	waitFor(t, "replacement handler delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return second == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if first != 0 {
		t.Errorf("replaced handler still received events: %d", first)
	}
}

func TestSlowSubscriberDoesNotBlockBroadcast(t *testing.T) {
	b := New()
	defer b.Close()

	block := make(chan struct{})
	b.Subscribe("slow", func(Event) { <-block })

	done := make(chan struct{})
	go func() {
		// First event parks the drain goroutine; the rest must overflow
		// the queue without ever blocking the publisher.
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Broadcast(Event{Name: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	close(block)
}
