package presence

import (
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/models"
	"sync"
)

// Indicator is the receiving side: it tracks whether the peer is typing.
// A "typing" signal without a follow-up expires on its own after config.TypingExpiry,
// so a lost "stopped" never leaves the indicator stuck.
type Indicator struct {
	clk      clock.Clock
	selfID   string
	onChange func(bool)

	mu     sync.Mutex
	typing bool
	expiry clock.Timer
	gen    uint64
}

// NewIndicator creates an indicator that ignores signals from selfID.
// onChange, if set, is called outside the lock whenever the state flips.
func NewIndicator(clk clock.Clock, selfID string, onChange func(bool)) *Indicator {
	return &Indicator{clk: clk, selfID: selfID, onChange: onChange}
}

// Apply folds a received signal into the state.
func (i *Indicator) Apply(sig models.TypingSignal) {
	if sig.UserID == i.selfID {
		return
	}
	if sig.IsTyping {
		i.arm()
		return
	}
	i.set(false)
}

// Typing reports the current state.
func (i *Indicator) Typing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.typing
}

// Reset clears the state and cancels the expiry timer without notifying.
func (i *Indicator) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopLocked()
	i.typing = false
}

func (i *Indicator) arm() {
	i.mu.Lock()
	i.stopLocked()
	gen := i.gen
	i.expiry = i.clk.AfterFunc(config.TypingExpiry, func() { i.expire(gen) })
	changed := !i.typing
	i.typing = true
	i.mu.Unlock()

	if changed {
		i.notify(true)
	}
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	// A newer signal re-armed the timer after this one fired.
	if gen != i.gen {
		i.mu.Unlock()
		return
	}
	i.expiry = nil
	changed := i.typing
	i.typing = false
	i.mu.Unlock()

	if changed {
		i.notify(false)
	}
}

func (i *Indicator) set(typing bool) {
	i.mu.Lock()
	i.stopLocked()
	changed := i.typing != typing
	i.typing = typing
	i.mu.Unlock()

	if changed {
		i.notify(typing)
	}
}

func (i *Indicator) stopLocked() {
	i.gen++
	if i.expiry != nil {
		i.expiry.Stop()
		i.expiry = nil
	}
}

func (i *Indicator) notify(typing bool) {
	if i.onChange != nil {
		i.onChange(typing)
	}
}
