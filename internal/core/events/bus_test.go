package events

import (
	"sync"
	"testing"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

func logEvent(msg string) Event {
	return LogEvent{Record: models.LogRecord{Message: msg, Level: models.LevelInfo}}
}

func collect(sub *Subscription) []string {
	var got []string
	for e := range sub.Events() {
		got = append(got, e.(LogEvent).Record.Message)
	}
	return got
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	want := []string{"a", "b", "c", "d"}
	for _, m := range want {
		bus.Publish(logEvent(m))
	}
	bus.Close()

	got := collect(sub)
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBusSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe() // never read until the end

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Publish(logEvent("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a stalled subscriber")
	}

	bus.Close()
	if n := len(collect(slow)); n != 10000 {
		t.Errorf("slow subscriber got %d events, want 10000", n)
	}
}

func TestBusIndependentBacklogs(t *testing.T) {
	bus := NewBus()
	first := bus.Subscribe()
	bus.Publish(logEvent("early"))
	second := bus.Subscribe()
	bus.Publish(logEvent("late"))
	bus.Close()

	var wg sync.WaitGroup
	var firstGot, secondGot []string
	wg.Add(2)
	go func() { defer wg.Done(); firstGot = collect(first) }()
	go func() { defer wg.Done(); secondGot = collect(second) }()
	wg.Wait()

	if len(firstGot) != 2 {
		t.Errorf("first subscriber got %v, want [early late]", firstGot)
	}
	if len(secondGot) != 1 || secondGot[0] != "late" {
		t.Errorf("second subscriber got %v, want [late]", secondGot)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Publish(logEvent("a"))
	sub.Unsubscribe()
	bus.Publish(logEvent("b"))

	for range sub.Events() {
		// drained or closed, must terminate
	}
	bus.Close()
	bus.Wait()
}

func TestBusSubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()
	sub := bus.Subscribe()
	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel for subscription after Close")
	}
	bus.Publish(logEvent("dropped"))
}
