package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Deliver(context.Context, Event) error {
	f.calls++
	return errors.New("unreachable")
}

func TestBusDeliversToAllSinks(t *testing.T) {
	rec := &Recorder{}
	bad := &failingSink{}
	bus := NewBus(4, nil, bad, rec)

	done := make(chan struct{})
	go func() {
		bus.Run(context.Background())
		close(done)
	}()

	score := 77
	bus.Publish(Event{Type: CandidateCreated, TenantID: "t1", CandidateID: "c1"})
	bus.Publish(Event{Type: ScoreUpserted, TenantID: "t1", CandidateID: "c1", RoleID: "r1", Score: &score})
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not drain after Close")
	}

	got := rec.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].OccurredAt.IsZero() {
		t.Fatal("OccurredAt should be stamped on publish")
	}
	if len(rec.OfType(ScoreUpserted)) != 1 || *rec.OfType(ScoreUpserted)[0].Score != 77 {
		t.Fatalf("unexpected score events: %+v", rec.OfType(ScoreUpserted))
	}
	if bad.calls != 2 {
		t.Fatalf("a failing sink must not stop delivery, calls=%d", bad.calls)
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(1, nil)
	bus.Publish(Event{Type: CandidateCreated})
	bus.Publish(Event{Type: CandidateCreated})
	bus.Publish(Event{Type: CandidateCreated})

	if bus.Dropped() != 2 {
		t.Fatalf("expected 2 dropped events, got %d", bus.Dropped())
	}

	bus.Close()
	bus.Publish(Event{Type: CandidateCreated})
	bus.Close()
}
