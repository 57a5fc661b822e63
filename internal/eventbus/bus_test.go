package eventbus

import (
	"testing"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

func TestBusSubscribeReceivesOrderedReplayThenLive(t *testing.T) {
	bus := New(time.Hour)
	defer bus.Complete()

	bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta, Delta: "a"})
	bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta, Delta: "b"})

	events, unsub := bus.Subscribe(4)
	defer unsub()

	bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta, Delta: "c"})

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, (<-events).Delta)
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("event %d: got %q, want %q (got=%v)", i, got[i], w, got)
		}
	}
}

func TestBusEventsAreNonDecreasing(t *testing.T) {
	bus := New(time.Hour)
	defer bus.Complete()

	var prev models.TaskEventID
	for i := 0; i < 50; i++ {
		ev := bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta})
		if i > 0 && ev.ID.Compare(prev) <= 0 {
			t.Fatalf("event ID did not increase: prev=%v next=%v", prev, ev.ID)
		}
		prev = ev.ID
	}
}

func TestBusCompleteClosesSubscribers(t *testing.T) {
	bus := New(time.Hour)
	events, _ := bus.Subscribe(1)

	bus.Complete()

	if _, ok := <-events; ok {
		t.Fatal("expected channel closed after Complete")
	}

	// Emit after Complete is a no-op and must not panic.
	bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta})
}

func TestBusHeartbeatFiresOnQuiet(t *testing.T) {
	bus := New(20 * time.Millisecond)
	defer bus.Complete()

	events, unsub := bus.Subscribe(4)
	defer unsub()

	select {
	case ev := <-events:
		if ev.Type != models.TaskEventHeartbeat {
			t.Fatalf("expected heartbeat event, got %v", ev.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for heartbeat")
	}
}

func TestBusHeartbeatResetsOnRealEvent(t *testing.T) {
	bus := New(60 * time.Millisecond)
	defer bus.Complete()

	events, unsub := bus.Subscribe(8)
	defer unsub()

	// Keep emitting real events faster than the interval; no heartbeat
	// should appear among them.
	for i := 0; i < 5; i++ {
		bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta})
		time.Sleep(20 * time.Millisecond)
	}

	for i := 0; i < 5; i++ {
		ev := <-events
		if ev.Type == models.TaskEventHeartbeat {
			t.Fatal("did not expect heartbeat while events keep resetting the timer")
		}
	}
}

func TestBusResumeFiltersReplayBacklog(t *testing.T) {
	bus := New(time.Hour)
	defer bus.Complete()

	e1 := bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta})
	e2 := bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta})
	e3 := bus.Emit(models.TaskEvent{Type: models.TaskEventToolUsePendingApproval})
	e4 := bus.Emit(models.TaskEvent{Type: models.TaskEventTextDelta})

	events, unsub := bus.Resume(&e1.ID, 4)
	defer unsub()

	got := []models.TaskEvent{<-events, <-events}
	if got[0].ID != e2.ID || got[1].ID != e4.ID {
		t.Fatalf("expected {e2, e4}, got %+v (e3=%v)", got, e3.ID)
	}

	select {
	case extra := <-events:
		t.Fatalf("expected no further buffered events, got %+v", extra)
	default:
	}
}

func TestFilterForResumeExactScenario(t *testing.T) {
	e1 := models.TaskEventID{TimestampMs: 1, Sequence: 0}
	e2 := models.TaskEventID{TimestampMs: 1, Sequence: 1}
	e3 := models.TaskEventID{TimestampMs: 1, Sequence: 2}
	e4 := models.TaskEventID{TimestampMs: 1, Sequence: 3}

	events := []models.TaskEvent{
		{ID: e1, Type: models.TaskEventTextDelta},
		{ID: e2, Type: models.TaskEventTextDelta},
		{ID: e3, Type: models.TaskEventToolUsePendingApproval},
		{ID: e4, Type: models.TaskEventTextDelta},
	}

	out := FilterForResume(events, &e1, &e4)
	if len(out) != 2 || out[0].ID != e2 || out[1].ID != e4 {
		t.Fatalf("expected {e2, e4}, got %+v", out)
	}
}
