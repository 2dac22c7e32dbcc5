package session

import (
	"fmt"
	"sync"

	"slotd/internal/logging"
	"slotd/internal/slot"
	"slotd/internal/store"
)

// Slots holds the six payloads. The in-memory map is authoritative for the
// running process; the store, when present, mirrors it durably. When the
// store is nil (database unavailable at startup) slots still work but do not
// survive a restart.
type Slots struct {
	mu  sync.Mutex
	mem map[slot.ID]string
	db  *store.Store
	log *logging.Logger
}

// NewSlots builds the slot set, seeding the in-memory contents from the
// store when one is available. db may be nil.
func NewSlots(db *store.Store, log *logging.Logger) *Slots {
	if log == nil {
		log = logging.Default()
	}
	s := &Slots{
		mem: make(map[slot.ID]string, slot.Count),
		db:  db,
		log: log,
	}
	if db != nil {
		saved, err := db.LoadAll()
		if err != nil {
			log.Warn("failed to load saved slots", "error", err)
		} else {
			for id, text := range saved {
				s.mem[id] = text
			}
		}
	}
	return s
}

// Get returns the payload for a slot and whether it is non-empty.
func (s *Slots) Get(id slot.ID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.mem[id]
	return text, ok && text != ""
}

// Set replaces a slot's payload. The in-memory copy always updates; the
// durable write is retried once and a persistent failure is returned so the
// caller can report the commit as degraded.
func (s *Slots) Set(id slot.ID, text string) error {
	s.mu.Lock()
	s.mem[id] = text
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return nil
	}
	if err := db.Set(id, text); err != nil {
		s.log.Warn("slot write failed, retrying", "slot", id.Label(), "error", err)
		if err := db.Set(id, text); err != nil {
			return fmt.Errorf("persist slot %s: %w", id.Label(), err)
		}
	}
	return nil
}
