package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/storage"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const listenerPing = 90 * time.Second

// PGFeed turns Postgres NOTIFY payloads (see storage.Migrate) into Events.
// Postgres has no per-listener filtering, so filters are applied by the embedded Broker.
type PGFeed struct {
	*Broker
	listener *pq.Listener
}

// NewPGFeed opens a LISTEN connection for both change channels.
func NewPGFeed(dsn string) (*PGFeed, error) {
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("pq listener event")
		}
	})
	for _, ch := range []string{storage.MessageChannel, storage.ReactionChannel} {
		if err := listener.Listen(ch); err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("%w: listen %s: %v", models.ErrTransport, ch, err)
		}
	}
	return &PGFeed{Broker: NewBroker(), listener: listener}, nil
}

// Run dispatches notifications until ctx is cancelled.
func (f *PGFeed) Run(ctx context.Context) {
	log.Info().Msg("realtime feed started")
	ticker := time.NewTicker(listenerPing)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-f.listener.Notify:
			if n == nil {
				// pq sends nil after re-establishing the connection: notifications may be lost.
				f.Publish(Event{Op: OpResync})
				continue
			}
			ev, err := decodeNotification(n.Channel, n.Extra)
			if err != nil {
				log.Warn().Err(err).Str("channel", n.Channel).Msg("dropping undecodable notification")
				continue
			}
			f.Publish(ev)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("pq listener ping failed")
				}
			}()
		}
	}
}

// Close stops listening and closes every subscription.
func (f *PGFeed) Close() error {
	f.Broker.Close()
	return f.listener.Close()
}

type messagePayload struct {
	Op  Op              `json:"op"`
	Row *models.Message `json:"row"`
}

type reactionPayload struct {
	Op        Op     `json:"op"`
	MessageID string `json:"message_id"`
}

func decodeNotification(channel, payload string) (Event, error) {
	switch channel {
	case storage.MessageChannel:
		var p messagePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return Event{}, err
		}
		if p.Row == nil || p.Row.ID == "" {
			return Event{}, fmt.Errorf("message notification without row")
		}
		return Event{Table: TableMessages, Op: p.Op, Message: p.Row}, nil
	case storage.ReactionChannel:
		var p reactionPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return Event{}, err
		}
		return Event{Table: TableReactions, Op: p.Op, MessageID: p.MessageID}, nil
	default:
		return Event{}, fmt.Errorf("unknown channel %q", channel)
	}
}
