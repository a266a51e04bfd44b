package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reaction is one emoji applied by one user to one message.
// The composite unique index enforces at most one row per (message, user, emoji).
type Reaction struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID string    `gorm:"type:uuid;not null;uniqueIndex:uq_reaction_triple,priority:1" json:"message_id"`
	UserID    string    `gorm:"type:text;not null;uniqueIndex:uq_reaction_triple,priority:2" json:"user_id"`
	Emoji     string    `gorm:"type:text;not null;uniqueIndex:uq_reaction_triple,priority:3" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Reaction) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// ReactionGroup is the aggregated view of one emoji on one message.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}
