package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const subscriptionBuffer = 256

// Broker fans events out to filtered subscriptions. Publish never blocks:
// a subscriber whose buffer is full loses the event and is sent a resync as
// soon as it has room again, whether or not anything else is published.
type Broker struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*brokerSubscription
}

type brokerSubscription struct {
	broker *Broker
	id     uint64
	filter Filter
	ch     chan Event
	once   sync.Once
	done   chan struct{}
	wg     sync.WaitGroup

	// Guarded by broker.mu. While lagged, events are dropped and missed
	// records that at least one was dropped since the last resync went out.
	lagged bool
	missed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*brokerSubscription)}
}

func (b *Broker) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &brokerSubscription{
		broker: b,
		id:     b.nextID,
		filter: filter,
		ch:     make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Publish delivers ev to every matching subscription.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.filter.Matches(ev) {
			sub.deliver(ev)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every open subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*brokerSubscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.closeChannel()
	}
}

// deliver is called with the broker lock held.
func (s *brokerSubscription) deliver(ev Event) {
	if s.lagged {
		s.missed = true
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.lagged = true
		s.wg.Add(1)
		go s.resyncWhenDrained()
		log.Warn().Uint64("subscription", s.id).Str("table", string(ev.Table)).Msg("subscriber lagging, event dropped")
	}
}

// resyncWhenDrained waits for room in the buffer and queues a resync. Events
// dropped after the resync was queued are not covered by it, so it goes round
// again until a resync lands with nothing missed behind it.
func (s *brokerSubscription) resyncWhenDrained() {
	defer s.wg.Done()
	for {
		s.broker.mu.Lock()
		s.missed = false
		s.broker.mu.Unlock()

		select {
		case s.ch <- Event{Op: OpResync}:
		case <-s.done:
			return
		}

		s.broker.mu.Lock()
		again := s.missed
		if !again {
			s.lagged = false
		}
		s.broker.mu.Unlock()
		if !again {
			return
		}
	}
}

func (s *brokerSubscription) Events() <-chan Event { return s.ch }

func (s *brokerSubscription) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s.id)
	s.broker.mu.Unlock()
	s.closeChannel()
	return nil
}

// closeChannel stops a pending resync before closing ch, so nothing sends on a closed channel.
func (s *brokerSubscription) closeChannel() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		close(s.ch)
	})
}
