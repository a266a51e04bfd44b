// Package presence carries the live typing signal of an open thread.
package presence

import (
	"context"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/storage"
)

// Broadcaster publishes and observes typing signals of a thread.
type Broadcaster interface {
	PublishTyping(ctx context.Context, sig models.TypingSignal) error
	SubscribeTyping(ctx context.Context, threadID string) (Subscription, error)
}

// Subscription is an open typing stream. Signals is closed after Close.
type Subscription interface {
	Signals() <-chan models.TypingSignal
	Close() error
}

// RedisBroadcaster routes typing signals through Redis pub/sub.
type RedisBroadcaster struct {
	Store *storage.Service
}

func NewRedisBroadcaster(store *storage.Service) *RedisBroadcaster {
	return &RedisBroadcaster{Store: store}
}

func (r *RedisBroadcaster) PublishTyping(ctx context.Context, sig models.TypingSignal) error {
	return r.Store.PublishTyping(ctx, sig)
}

func (r *RedisBroadcaster) SubscribeTyping(ctx context.Context, threadID string) (Subscription, error) {
	sub, err := r.Store.SubscribeTyping(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
