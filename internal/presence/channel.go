package presence

import (
	"context"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/metrics"
	"sync"
)

// Channel is the typing presence of one open thread: outgoing debounce plus
// the incoming indicator fed from the thread's broadcast.
type Channel struct {
	debouncer *Debouncer
	indicator *Indicator
	sub       Subscription
	done      chan struct{}
	once      sync.Once
}

// Open subscribes to the thread's typing stream. onChange receives indicator flips.
func Open(ctx context.Context, b Broadcaster, clk clock.Clock, threadID, userID string, onChange func(bool)) (*Channel, error) {
	sub, err := b.SubscribeTyping(ctx, threadID)
	if err != nil {
		return nil, err
	}
	c := &Channel{
		debouncer: NewDebouncer(ctx, b, clk, threadID, userID),
		indicator: NewIndicator(clk, userID, onChange),
		sub:       sub,
		done:      make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

func (c *Channel) pump() {
	defer close(c.done)
	for sig := range c.sub.Signals() {
		metrics.TypingSignals.WithLabelValues("received").Inc()
		c.indicator.Apply(sig)
	}
}

func (c *Channel) Keystroke() { c.debouncer.Keystroke() }

func (c *Channel) Clear() { c.debouncer.Clear() }

// PeerTyping reports whether the other participant is typing.
func (c *Channel) PeerTyping() bool { return c.indicator.Typing() }

// Close tears the channel down and waits for the pump to exit.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.debouncer.Stop()
		_ = c.sub.Close()
		<-c.done
		c.indicator.Reset()
	})
}
