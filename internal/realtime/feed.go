// Package realtime delivers row-change events of the message store to in-process subscribers.
package realtime

import (
	"context"
	"sparkchat/backend/internal/models"
)

// Table names the stream an event came from.
type Table string

const (
	TableMessages  Table = "messages"
	TableReactions Table = "reactions"
)

// Op is the row operation behind an event.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	// OpResync tells subscribers that events may have been lost (reconnect, overflow)
	// and state should be reloaded from the store.
	OpResync Op = "RESYNC"
)

// Event is one change notification.
type Event struct {
	Table     Table           `json:"table"`
	Op        Op              `json:"op"`
	Message   *models.Message `json:"message,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
}

// Filter selects the events a subscription receives. Empty fields match anything.
type Filter struct {
	Table      Table
	SenderID   string
	ReceiverID string
}

// Matches reports whether ev passes the filter. Resync events pass every filter.
func (f Filter) Matches(ev Event) bool {
	if ev.Op == OpResync {
		return true
	}
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if ev.Table != TableMessages || ev.Message == nil {
		return f.SenderID == "" && f.ReceiverID == ""
	}
	if f.SenderID != "" && ev.Message.SenderID != f.SenderID {
		return false
	}
	if f.ReceiverID != "" && ev.Message.ReceiverID != f.ReceiverID {
		return false
	}
	return true
}

// Subscription is an open event stream. Events is closed after Close.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Feed opens filtered subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
}
