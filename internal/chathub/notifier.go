package chathub

import (
	"context"
	"sparkchat/backend/internal/conversation"

	"github.com/rs/zerolog/log"
)

// OfflineNotifier forwards notifications only to users without a live connection;
// connected users already receive the message over their websocket.
type OfflineNotifier struct {
	Hub  *ManagerService
	Next conversation.Notifier
}

func NewOfflineNotifier(hub *ManagerService, next conversation.Notifier) *OfflineNotifier {
	return &OfflineNotifier{Hub: hub, Next: next}
}

func (n *OfflineNotifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) error {
	if n.Next == nil {
		return nil
	}
	if n.Hub.IsOnline(userID) {
		log.Debug().Str("user", userID).Msg("recipient online, notification skipped")
		return nil
	}
	return n.Next.Notify(ctx, userID, title, body, data)
}
