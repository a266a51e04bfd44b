package storage

import (
	"context"
	"encoding/json"
	"sparkchat/backend/internal/models"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func typingChannel(threadID string) string { return "typing:" + threadID }

func callChannel(userID string) string { return "calls:" + userID }

// PublishTyping broadcasts a typing signal to everyone watching the thread.
func (s *Service) PublishTyping(ctx context.Context, sig models.TypingSignal) error {
	return s.publishJSON(ctx, typingChannel(sig.ThreadID), sig)
}

// PublishCallInvite hands a call invite to the signaling side listening on the callee's channel.
func (s *Service) PublishCallInvite(ctx context.Context, invite models.CallInvite) error {
	return s.publishJSON(ctx, callChannel(invite.PeerID), invite)
}

func (s *Service) publishJSON(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.Redis.Publish(ctx, channel, payload).Err(); err != nil {
		return transportErr("publish "+channel, err)
	}
	return nil
}

// TypingSubscription streams decoded typing signals of one thread.
type TypingSubscription struct {
	pubsub *redis.PubSub
	ch     chan models.TypingSignal
	done   chan struct{}
	once   sync.Once
}

// SubscribeTyping listens on the thread's typing channel until Close is called or ctx ends.
func (s *Service) SubscribeTyping(ctx context.Context, threadID string) (*TypingSubscription, error) {
	pubsub := s.Redis.Subscribe(ctx, typingChannel(threadID))
	// Receive blocks until the subscription is confirmed by the server.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, transportErr("subscribe typing", err)
	}

	sub := &TypingSubscription{
		pubsub: pubsub,
		ch:     make(chan models.TypingSignal, 16),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

func (t *TypingSubscription) pump() {
	defer close(t.ch)
	for msg := range t.pubsub.Channel() {
		var sig models.TypingSignal
		if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed typing signal")
			continue
		}
		select {
		case t.ch <- sig:
		case <-t.done:
			return
		default:
			// Typing is fire-and-forget; a slow reader just misses a keystroke.
		}
	}
}

func (t *TypingSubscription) Signals() <-chan models.TypingSignal { return t.ch }

func (t *TypingSubscription) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.pubsub.Close()
	})
	return err
}
