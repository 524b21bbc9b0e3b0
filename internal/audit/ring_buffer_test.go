package audit

import (
	"sync"
	"testing"
)

func event(kind string) Event {
	return Event{ID: kind, Kind: kind}
}

func TestRingCollector_TryAdd_DropNewest(t *testing.T) {
	rc := NewRingCollector(2)

	if !rc.TryAdd(event("one")) || !rc.TryAdd(event("two")) {
		t.Fatal("expected adds to succeed while buffer has space")
	}
	if !rc.IsFull() {
		t.Error("expected buffer to be full with 2 events")
	}

	// Newest events are dropped once the buffer is full.
	if rc.TryAdd(event("three")) {
		t.Error("expected third TryAdd to fail (buffer full)")
	}
	if rc.Dropped() != 1 {
		t.Errorf("expected dropped count 1, got %d", rc.Dropped())
	}

	events := rc.PopAll()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for i, want := range []string{"one", "two"} {
		if events[i].Kind != want {
			t.Errorf("expected event %q at position %d, got %q", want, i, events[i].Kind)
		}
	}

	// Buffer should be empty now.
	if rc.Len() != 0 {
		t.Errorf("expected length 0 after PopAll, got %d", rc.Len())
	}
	if got := rc.PopAll(); got != nil {
		t.Errorf("expected nil for second PopAll, got %v", got)
	}
}

func TestRingCollector_ZeroCapacity(t *testing.T) {
	rc := NewRingCollector(0)

	if rc.TryAdd(event("one")) {
		t.Error("expected TryAdd to fail with zero capacity")
	}
	if rc.Dropped() != 1 {
		t.Errorf("expected dropped count 1, got %d", rc.Dropped())
	}
	if events := rc.PopAll(); events != nil {
		t.Errorf("expected nil events, got %v", events)
	}
}

func TestRingCollector_Notify(t *testing.T) {
	rc := NewRingCollector(4)

	select {
	case <-rc.Notify():
		t.Fatal("notify fired before any event")
	default:
	}

	rc.TryAdd(event("one"))
	select {
	case <-rc.Notify():
	default:
		t.Fatal("notify did not fire after an event")
	}
}

func TestRingCollector_Concurrent(t *testing.T) {
	rc := NewRingCollector(1000)
	var wg sync.WaitGroup

	numGoroutines := 10
	eventsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				rc.TryAdd(event("concurrent"))
			}
		}()
	}

	wg.Wait()

	events := rc.PopAll()
	if len(events) != numGoroutines*eventsPerGoroutine {
		t.Errorf("expected %d events, got %d", numGoroutines*eventsPerGoroutine, len(events))
	}
	if rc.Dropped() != 0 {
		t.Errorf("expected no dropped events, got %d", rc.Dropped())
	}
}
