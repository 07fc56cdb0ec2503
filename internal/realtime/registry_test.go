package realtime

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistry_DispatchInRegistrationOrder(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var order []int
	r.Add("ch", func(json.RawMessage) { order = append(order, 1) })
	r.Add("ch", func(json.RawMessage) { order = append(order, 2) })

	r.Dispatch("ch", json.RawMessage(`{}`))
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected dispatch order [1 2], got %v", order)
	}
}

func TestRegistry_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var second int
	r.Add("ch", func(json.RawMessage) { panic("boom") })
	r.Add("ch", func(json.RawMessage) { second++ })

	r.Dispatch("ch", json.RawMessage(`{}`))
	if second != 1 {
		t.Fatalf("expected second handler to run once, got %d", second)
	}
}

func TestRegistry_RemovingLastHandlerDropsReplayEntry(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	remove1 := r.Add("ch", func(json.RawMessage) {})
	remove2 := r.Add("ch", func(json.RawMessage) {})
	r.MarkSubscribed("ch")

	remove1()
	if got := r.Channels(); len(got) != 1 || got[0] != "ch" {
		t.Fatalf("expected replay set to keep ch, got %v", got)
	}

	remove2()
	if got := r.Channels(); len(got) != 0 {
		t.Fatalf("expected empty replay set, got %v", got)
	}
	if n := r.HandlerCount("ch"); n != 0 {
		t.Fatalf("expected 0 handlers, got %d", n)
	}
}

func TestRegistry_SubscriptionIndependentOfHandlers(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	// Wire interest never requires handler presence.
	r.MarkSubscribed("ch")
	if got := r.Channels(); len(got) != 1 {
		t.Fatalf("expected replay entry without handlers, got %v", got)
	}

	r.Dispatch("ch", json.RawMessage(`{}`))
}

func TestRegistry_DisposerIsIdempotent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	remove := r.Add("ch", func(json.RawMessage) {})
	r.Add("ch", func(json.RawMessage) {})

	remove()
	remove()
	if n := r.HandlerCount("ch"); n != 1 {
		t.Fatalf("expected 1 handler after double dispose, got %d", n)
	}
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Add("a", func(json.RawMessage) {})
	r.MarkSubscribed("a")
	r.MarkSubscribed("b")

	r.Reset()
	if got := r.Channels(); len(got) != 0 {
		t.Fatalf("expected empty replay set after reset, got %v", got)
	}
	if n := r.HandlerCount("a"); n != 0 {
		t.Fatalf("expected no handlers after reset, got %d", n)
	}
}
