package tap

import (
	"context"
	"testing"

	"slotd/internal/slot"
)

func passAll(Event) Verdict { return Pass }

func TestSimulatedStartStop(t *testing.T) {
	s := NewSimulated(passAll)

	if !func() bool { ok, _ := s.Available(); return ok }() {
		t.Fatal("simulated tap should always be available")
	}
	if s.IsRunning() {
		t.Fatal("should not be running before Start")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("should be running after Start")
	}

	if err := s.Start(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("second Start: got %v, want ErrAlreadyRunning", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Fatal("should not be running after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSimulatedInjectDeliversEvents(t *testing.T) {
	s := NewSimulated(passAll)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := Event{Type: KeyDown, Key: Key{Kind: KeySlot, Slot: slot.J, Code: 38}, Flags: FlagCommand}
	if v := s.Inject(want); v != Pass {
		t.Fatalf("verdict: got %v, want Pass", v)
	}
	s.Stop()

	got, ok := <-s.Events()
	if !ok {
		t.Fatal("events channel closed before delivery")
	}
	if got != want {
		t.Fatalf("event: got %+v, want %+v", got, want)
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("events channel should be closed after Stop")
	}
}

func TestSimulatedClassifierVerdict(t *testing.T) {
	consumeSlots := func(e Event) Verdict {
		if e.Type == KeyDown && e.Key.Kind == KeySlot {
			return Consume
		}
		return Pass
	}
	s := NewSimulated(consumeSlots)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if v := s.Inject(Event{Type: KeyDown, Key: Key{Kind: KeySlot, Slot: slot.K}}); v != Consume {
		t.Fatalf("slot key down: got %v, want Consume", v)
	}
	if v := s.Inject(Event{Type: KeyUp, Key: Key{Kind: KeySlot, Slot: slot.K}}); v != Pass {
		t.Fatalf("slot key up: got %v, want Pass", v)
	}
	if v := s.Inject(Event{Type: KeyDown, Key: Key{Kind: KeyOther, Code: 12}}); v != Pass {
		t.Fatalf("other key: got %v, want Pass", v)
	}
}

func TestSimulatedInjectBeforeStart(t *testing.T) {
	s := NewSimulated(func(Event) Verdict { return Consume })
	if v := s.Inject(Event{Type: KeyDown, Key: Key{Kind: KeyEscape}}); v != Pass {
		t.Fatalf("inject before start: got %v, want Pass", v)
	}
}

func TestDroppedOnFullChannel(t *testing.T) {
	s := NewSimulated(passAll)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// Fill the buffer without draining, then overflow it.
	for i := 0; i < eventBuffer+5; i++ {
		s.Inject(Event{Type: KeyDown, Key: Key{Kind: KeyOther, Code: uint16(i)}})
	}
	if got := s.Dropped(); got != 5 {
		t.Fatalf("dropped: got %d, want 5", got)
	}
}

func TestKeyString(t *testing.T) {
	cases := []struct {
		key  Key
		want string
	}{
		{Key{Kind: KeySlot, Slot: slot.J}, "slot J"},
		{Key{Kind: KeySlot, Slot: slot.O}, "slot O"},
		{Key{Kind: KeyEscape}, "Esc"},
		{Key{Kind: KeyC}, "C"},
		{Key{Kind: KeyV}, "V"},
		{Key{Kind: KeyOther, Code: 12}, "keycode 12"},
	}
	for _, tc := range cases {
		if got := tc.key.String(); got != tc.want {
			t.Errorf("String(%+v): got %q, want %q", tc.key, got, tc.want)
		}
	}
}
