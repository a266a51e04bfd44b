package models

import (
	"fmt"
	"sparkchat/backend/internal/config"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is a single row of a two-party thread.
// JSON tags follow the column names so realtime payloads produced by row_to_json decode
// straight into this struct.
type Message struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	SenderID   string    `gorm:"type:text;not null;index:idx_msg_pair,priority:1" json:"sender_id"`
	ReceiverID string    `gorm:"type:text;not null;index:idx_msg_pair,priority:2;index:idx_msg_unread,priority:1" json:"receiver_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`

	Read   bool       `gorm:"not null;default:false;index:idx_msg_unread,priority:2" json:"read"`
	ReadAt *time.Time `json:"read_at"`

	// DeletedAt is a plain nullable column, not gorm.DeletedAt: rows are never hidden from queries.
	DeletedAt          *time.Time `json:"deleted_at"`
	DeletedBy          *string    `gorm:"type:text" json:"deleted_by"`
	DeletedForEveryone bool       `gorm:"not null;default:false" json:"deleted_for_everyone"`
}

// BeforeCreate assigns a UUID when the caller did not set one.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// ThreadID returns the canonical key of the thread this message belongs to.
func (m *Message) ThreadID() string {
	return ThreadID(m.SenderID, m.ReceiverID)
}

// BelongsTo reports whether the message was exchanged between a and b, in either direction.
func (m *Message) BelongsTo(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// IsParticipant reports whether userID is the sender or the receiver.
func (m *Message) IsParticipant(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// IsTombstone reports whether the message was deleted for both parties.
func (m *Message) IsTombstone() bool {
	return m.DeletedForEveryone
}

// HiddenFor reports whether the viewer removed the message from their own feed.
func (m *Message) HiddenFor(viewer string) bool {
	return !m.DeletedForEveryone && m.DeletedAt != nil && m.DeletedBy != nil && *m.DeletedBy == viewer
}

// CanDeleteForEveryone checks authorship and the retraction window at the given instant.
// The window is inclusive: exactly config.DeleteForEveryoneWindow after creation is still allowed.
func (m *Message) CanDeleteForEveryone(caller string, now time.Time) error {
	if m.DeletedForEveryone {
		return fmt.Errorf("%w: message already deleted for everyone", ErrPermissionDenied)
	}
	if m.SenderID != caller {
		return fmt.Errorf("%w: only the sender can delete for everyone", ErrPermissionDenied)
	}
	if now.Sub(m.CreatedAt) > config.DeleteForEveryoneWindow {
		return fmt.Errorf("%w: delete window of %s has passed", ErrPermissionDenied, config.DeleteForEveryoneWindow)
	}
	return nil
}

// MarkRead flips the read flag together with its timestamp.
func (m *Message) MarkRead(at time.Time) {
	if m.Read {
		return
	}
	m.Read = true
	m.ReadAt = &at
}

// Validate checks the row-level invariants.
func (m *Message) Validate() error {
	if m.Read != (m.ReadAt != nil) {
		return fmt.Errorf("%w: read and read_at disagree", ErrValidation)
	}
	if m.DeletedForEveryone && m.DeletedAt == nil {
		return fmt.Errorf("%w: deleted_for_everyone without deleted_at", ErrValidation)
	}
	if m.SenderID == "" || m.ReceiverID == "" || m.SenderID == m.ReceiverID {
		return fmt.Errorf("%w: message needs two distinct participants", ErrValidation)
	}
	return nil
}

// ThreadID builds the key for the unordered pair {a, b}.
func ThreadID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// ThreadParticipants splits a thread key back into its two users.
func ThreadParticipants(threadID string) (string, string, bool) {
	a, b, ok := strings.Cut(threadID, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
