// Package slot defines the six fixed clipboard slot identifiers.
//
// Each slot is addressed either by its letter (the key the user presses
// during a selection window) or by its chooser index 1-6 (the number the
// overlay process reports when a slot is clicked). The mapping is a fixed
// bijection: J=1, K=2, L=3, U=4, I=5, O=6.
package slot

import "fmt"

// ID identifies one of the six slots.
type ID int

const (
	J ID = iota + 1
	K
	L
	U
	I
	O
)

// Count is the number of slots. Slots are never created or destroyed.
const Count = 6

// All returns the six slot IDs in chooser order.
func All() []ID {
	return []ID{J, K, L, U, I, O}
}

// Label returns the letter identifier used in logs and as the store key.
func (id ID) Label() string {
	switch id {
	case J:
		return "J"
	case K:
		return "K"
	case L:
		return "L"
	case U:
		return "U"
	case I:
		return "I"
	case O:
		return "O"
	}
	return "?"
}

// Index returns the chooser index 1-6.
func (id ID) Index() int {
	return int(id)
}

// Valid reports whether id is one of the six slots.
func (id ID) Valid() bool {
	return id >= J && id <= O
}

func (id ID) String() string {
	return id.Label()
}

// FromIndex maps a chooser index 1-6 to a slot ID.
func FromIndex(n int) (ID, error) {
	if n < 1 || n > Count {
		return 0, fmt.Errorf("slot index out of range: %d", n)
	}
	return ID(n), nil
}

// FromLabel maps a letter identifier to a slot ID.
func FromLabel(label string) (ID, error) {
	for _, id := range All() {
		if id.Label() == label {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown slot label: %q", label)
}
