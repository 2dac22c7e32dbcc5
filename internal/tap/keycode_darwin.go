//go:build darwin

package tap

import "slotd/internal/slot"

// macOS virtual key codes (Carbon layout).
const (
	vkAnsiC  = 8
	vkAnsiV  = 9
	vkAnsiJ  = 38
	vkAnsiK  = 40
	vkAnsiL  = 37
	vkAnsiU  = 32
	vkAnsiI  = 34
	vkAnsiO  = 31
	vkEscape = 53
)

// keycodeToKey converts a raw macOS keycode to a logical Key.
func keycodeToKey(code uint16) Key {
	switch code {
	case vkAnsiJ:
		return Key{Kind: KeySlot, Slot: slot.J, Code: code}
	case vkAnsiK:
		return Key{Kind: KeySlot, Slot: slot.K, Code: code}
	case vkAnsiL:
		return Key{Kind: KeySlot, Slot: slot.L, Code: code}
	case vkAnsiU:
		return Key{Kind: KeySlot, Slot: slot.U, Code: code}
	case vkAnsiI:
		return Key{Kind: KeySlot, Slot: slot.I, Code: code}
	case vkAnsiO:
		return Key{Kind: KeySlot, Slot: slot.O, Code: code}
	case vkEscape:
		return Key{Kind: KeyEscape, Code: code}
	case vkAnsiC:
		return Key{Kind: KeyC, Code: code}
	case vkAnsiV:
		return Key{Kind: KeyV, Code: code}
	default:
		return Key{Kind: KeyOther, Code: code}
	}
}
