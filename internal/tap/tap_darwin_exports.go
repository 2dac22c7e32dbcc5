//go:build darwin

package tap

import "C"

// goTapHandle is called from the CGEventTap callback for every keyboard
// event. It must stay fast: it classifies against the current mode and
// forwards the event on a buffered channel, never blocking.
//
//export goTapHandle
func goTapHandle(eventType C.int, keycode C.longlong, flags C.ulonglong) C.int {
	activeMu.RLock()
	t := activeTap
	activeMu.RUnlock()
	if t == nil {
		return 0
	}

	var et EventType
	switch eventType {
	case 1:
		et = KeyDown
	case 2:
		et = KeyUp
	case 3:
		et = FlagsChanged
	default:
		return 0
	}

	e := Event{
		Type:  et,
		Key:   keycodeToKey(uint16(keycode)),
		Flags: Flags(flags),
	}
	if t.emit(e) == Consume {
		return 1
	}
	return 0
}
