// Package calls hands call invites to the signaling service.
package calls

import (
	"context"
	"fmt"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/models"
)

// Publisher is the Redis side of the invite handoff.
type Publisher interface {
	PublishCallInvite(ctx context.Context, invite models.CallInvite) error
}

// RedisSignaler publishes invites on the callee's calls:<user> channel.
// Everything past the invite (SDP, ICE, media) belongs to the signaling service.
type RedisSignaler struct {
	pub   Publisher
	clock clock.Clock
}

func NewRedisSignaler(pub Publisher, clk clock.Clock) *RedisSignaler {
	return &RedisSignaler{pub: pub, clock: clk}
}

func (s *RedisSignaler) StartCall(ctx context.Context, callerID, peerID string, callType models.CallType) error {
	if callType != models.CallAudio && callType != models.CallVideo {
		return fmt.Errorf("%w: unknown call type %q", models.ErrValidation, callType)
	}
	return s.pub.PublishCallInvite(ctx, models.CallInvite{
		CallerID:  callerID,
		PeerID:    peerID,
		Type:      callType,
		CreatedAt: s.clock.Now(),
	})
}
