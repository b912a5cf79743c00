package transport

import (
	"testing"

	"github.com/coursedrop/coursedrop/internal/model"
)

func TestFakeDeliversEventsForCurrentAttempt(t *testing.T) {
	ft := NewFake()
	events := make(chan Event, 8)

	ft.Start(Request{ItemID: "a", Attempt: 1}, events)
	ft.Progress("a", 40)
	ft.Complete("a")

	ev := <-events
	if ev.Kind != EventProgress || ev.Percent != 40 || ev.Attempt != 1 {
		t.Fatalf("unexpected progress event: %+v", ev)
	}
	ev = <-events
	if ev.Kind != EventCompleted || ev.ItemID != "a" {
		t.Fatalf("unexpected completion event: %+v", ev)
	}
}

func TestFakeAbortSilencesTransfer(t *testing.T) {
	ft := NewFake()
	events := make(chan Event, 8)

	handle := ft.Start(Request{ItemID: "a", Attempt: 1}, events)
	handle.Abort()

	ft.Progress("a", 10)
	ft.Fail("a", model.FailureNetwork, "late failure")

	select {
	case ev := <-events:
		t.Fatalf("expected no events after abort, got %+v", ev)
	default:
	}
	if ft.AbortCount() != 1 {
		t.Fatalf("expected 1 recorded abort, got %d", ft.AbortCount())
	}
}
