package booking

import (
	"sync"
	"time"
)

// Hold is the client-side reservation hold: a single cancelable countdown
// started when a slot is picked. On expiry the tentative choice is dropped
// and the user has to pick again. At most one countdown is active per Hold;
// starting a new one always cancels the previous one first.
type Hold struct {
	mu   sync.Mutex
	done chan struct{}
}

// NewHold returns an idle hold.
func NewHold() *Hold {
	return &Hold{}
}

// Start begins a countdown of the given duration. onTick, when non-nil, is
// called once per second with the remaining time; onExpire is called exactly
// once at the deadline unless the hold is canceled first.
func (h *Hold) Start(d time.Duration, onTick func(remaining time.Duration), onExpire func()) {
	h.Cancel()

	h.mu.Lock()
	done := make(chan struct{})
	h.done = done
	h.mu.Unlock()

	deadline := time.Now().Add(d)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		expiry := time.NewTimer(d)
		defer expiry.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if onTick != nil {
					remaining := time.Until(deadline)
					if remaining < 0 {
						remaining = 0
					}
					onTick(remaining.Round(time.Second))
				}
			case <-expiry.C:
				h.mu.Lock()
				if h.done != done {
					// Canceled or restarted between the timer firing and
					// this goroutine taking the lock.
					h.mu.Unlock()
					return
				}
				h.done = nil
				h.mu.Unlock()
				if onExpire != nil {
					onExpire()
				}
				return
			}
		}
	}()
}

// Cancel stops the countdown, if any. Both the tick loop and the expiry
// callback are disarmed, so a canceled hold never fires.
func (h *Hold) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		close(h.done)
		h.done = nil
	}
}

// Active reports whether a countdown is currently running.
func (h *Hold) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done != nil
}
