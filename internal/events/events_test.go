package events

import (
	"context"
	"testing"
	"time"

	"annotcore/pkg/domain"
)

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus()
	var seen []domain.Action
	bus.Subscribe(func(e Event) { seen = append(seen, e.Action) })
	bus.Subscribe(nil)

	for _, action := range []domain.Action{domain.ActionCreate, domain.ActionRead, domain.ActionDelete} {
		err := bus.Publish(context.Background(), Event{
			Action:     action,
			Annotation: domain.Annotation{ID: "a1"},
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 events, got %d", len(seen))
	}
	if seen[0] != domain.ActionCreate || seen[2] != domain.ActionDelete {
		t.Fatalf("events out of order: %v", seen)
	}
}

func TestNopBus(t *testing.T) {
	if err := (NopBus{}).Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("nop bus should never fail: %v", err)
	}
}

func TestRedisBusVerifiesConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewRedisBus(ctx, RedisConfig{Addr: "127.0.0.1:1", DB: 3}); err == nil {
		t.Fatalf("unreachable redis must fail construction")
	}
}
