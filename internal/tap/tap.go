// Package tap subscribes to the global low-level keyboard stream.
//
// The tap sits below application dispatch. On every key event it asks an
// installed classifier whether to consume the event (withhold it from the
// rest of the system) or pass it through untouched. The classifier must be
// non-blocking: on macOS it runs inside the CGEventTap callback, and a slow
// callback gets the tap disabled by the OS.
//
// Platform support:
//   - macOS: CGEventTap (requires Accessibility permission); selective
//     consumption fully supported.
//   - Linux: /dev/input/event* readers (requires input group or root);
//     listen-only, consume verdicts are advisory.
//   - other: not available.
package tap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"slotd/internal/slot"
)

// ErrNotAvailable is returned when keyboard interception isn't available.
var ErrNotAvailable = errors.New("keyboard interception not available on this platform")

// ErrPermissionDenied is returned when permissions are insufficient.
var ErrPermissionDenied = errors.New("insufficient permissions for keyboard interception")

// ErrAlreadyRunning is returned when Start is called while already running.
var ErrAlreadyRunning = errors.New("tap already running")

// Flags is the active modifier mask. Bit positions follow the macOS
// CGEventFlags layout; the Linux reader maps onto the same bits.
type Flags uint64

const (
	FlagShift   Flags = 1 << 17
	FlagControl Flags = 1 << 18
	FlagOption  Flags = 1 << 19
	FlagCommand Flags = 1 << 20
)

// KeyKind classifies a logical key.
type KeyKind int

const (
	KeyOther KeyKind = iota
	KeySlot
	KeyEscape
	KeyC
	KeyV
)

// Key is the logical identity of a keyboard key, independent of platform
// keycodes.
type Key struct {
	Kind KeyKind
	Slot slot.ID // valid when Kind == KeySlot
	Code uint16  // raw platform keycode, kept for logging
}

func (k Key) String() string {
	switch k.Kind {
	case KeySlot:
		return "slot " + k.Slot.Label()
	case KeyEscape:
		return "Esc"
	case KeyC:
		return "C"
	case KeyV:
		return "V"
	default:
		return "keycode " + itoa(k.Code)
	}
}

func itoa(n uint16) string {
	if n == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// EventType is the kind of keyboard event.
type EventType int

const (
	KeyDown EventType = iota
	KeyUp
	FlagsChanged
)

// Event is one keyboard event from the global stream.
type Event struct {
	Type  EventType
	Key   Key
	Flags Flags
}

// Verdict is the classifier's decision for one event.
type Verdict int

const (
	// Pass delivers the event to the application layer unaltered.
	Pass Verdict = iota
	// Consume withholds the event from the application layer.
	Consume
)

// Classifier decides consume versus pass for each event. It must not block.
type Classifier func(Event) Verdict

// Tap is the platform keyboard interception capability.
type Tap interface {
	// Start begins intercepting. The classifier runs on the interception
	// path; events additionally flow out on Events.
	Start(ctx context.Context) error

	// Stop stops intercepting and closes the event channel.
	Stop() error

	// Events returns the stream of observed events, in arrival order.
	Events() <-chan Event

	// Available reports whether interception can work on this platform
	// with current permissions, with a human-readable explanation.
	Available() (bool, string)
}

// New creates a Tap for the current platform with the given classifier.
func New(classify Classifier) Tap {
	return newPlatformTap(classify)
}

// BaseTap provides common state for platform implementations.
type BaseTap struct {
	mu       sync.RWMutex
	running  bool
	classify Classifier
	events   chan Event
	dropped  atomic.Uint64
}

const eventBuffer = 128

func (b *BaseTap) init(classify Classifier) {
	b.classify = classify
	b.events = make(chan Event, eventBuffer)
}

// Events returns the event channel.
func (b *BaseTap) Events() <-chan Event {
	return b.events
}

// emit classifies the event and forwards it on the channel. The channel is
// never allowed to block the interception path; on overflow the event is
// dropped and counted.
func (b *BaseTap) emit(e Event) Verdict {
	v := Pass
	if b.classify != nil {
		v = b.classify(e)
	}
	select {
	case b.events <- e:
	default:
		b.dropped.Add(1)
	}
	return v
}

// Dropped returns the number of events dropped due to a full channel.
func (b *BaseTap) Dropped() uint64 {
	return b.dropped.Load()
}

// SetRunning sets the running state.
func (b *BaseTap) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = running
}

// IsRunning returns the running state.
func (b *BaseTap) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Simulated is a tap for testing that doesn't hook the real keyboard.
type Simulated struct {
	BaseTap
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSimulated creates a tap for testing.
func NewSimulated(classify Classifier) *Simulated {
	s := &Simulated{}
	s.init(classify)
	return s
}

// Start begins the simulated tap.
func (s *Simulated) Start(ctx context.Context) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.SetRunning(true)
	return nil
}

// Stop stops the simulated tap.
func (s *Simulated) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.SetRunning(false)
	close(s.events)
	return nil
}

// Inject feeds a synthetic event through the tap and returns the verdict
// the classifier produced, as the real interception layer would see it.
func (s *Simulated) Inject(e Event) Verdict {
	if !s.IsRunning() {
		return Pass
	}
	return s.emit(e)
}

// Available returns true (simulated is always available).
func (s *Simulated) Available() (bool, string) {
	return true, "simulated tap (for testing)"
}
