package presence

import (
	"context"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/metrics"
	"sparkchat/backend/internal/models"
	"sync"

	"github.com/rs/zerolog/log"
)

// Debouncer is the sending side of the typing signal. Every keystroke publishes
// "typing" and pushes back the idle timer that publishes "stopped".
type Debouncer struct {
	ctx      context.Context
	b        Broadcaster
	clk      clock.Clock
	threadID string
	userID   string

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

// NewDebouncer binds a debouncer to the thread context; publishes stop once ctx is done.
func NewDebouncer(ctx context.Context, b Broadcaster, clk clock.Clock, threadID, userID string) *Debouncer {
	return &Debouncer{ctx: ctx, b: b, clk: clk, threadID: threadID, userID: userID}
}

// Keystroke reports local input activity.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clk.AfterFunc(config.TypingIdleTimeout, func() { d.publish(false) })
	d.mu.Unlock()

	d.publish(true)
}

// Clear publishes "stopped" right away and drops the idle timer.
func (d *Debouncer) Clear() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.publish(false)
}

// Stop cancels the idle timer without publishing. Further calls are no-ops.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) publish(typing bool) {
	if d.ctx.Err() != nil {
		return
	}
	sig := models.TypingSignal{
		ThreadID:  d.threadID,
		UserID:    d.userID,
		IsTyping:  typing,
		EmittedAt: d.clk.Now(),
	}
	if err := d.b.PublishTyping(d.ctx, sig); err != nil {
		log.Warn().Err(err).Str("thread", d.threadID).Str("user", d.userID).Msg("typing publish failed")
		return
	}
	metrics.TypingSignals.WithLabelValues("published").Inc()
}
