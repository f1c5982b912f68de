package bot

import (
	"sync"

	"nobat/internal/booking"
)

// holdRegistry keeps at most one reservation hold per chat. Holds are
// in-process only; a restart drops them, which just means the user picks a
// slot again.
type holdRegistry struct {
	mu    sync.Mutex
	holds map[int64]*booking.Hold
}

func newHoldRegistry() *holdRegistry {
	return &holdRegistry{holds: make(map[int64]*booking.Hold)}
}

func (r *holdRegistry) get(chatID int64) *booking.Hold {
	r.mu.Lock()
	defer r.mu.Unlock()
	hold := r.holds[chatID]
	if hold == nil {
		hold = booking.NewHold()
		r.holds[chatID] = hold
	}
	return hold
}

func (r *holdRegistry) cancel(chatID int64) {
	r.mu.Lock()
	hold := r.holds[chatID]
	r.mu.Unlock()
	if hold != nil {
		hold.Cancel()
	}
}
