package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tier is the subscription level used by the quota checks.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// User holds the few profile fields the conversation engine needs.
type User struct {
	ID         string `gorm:"primaryKey" json:"id"`
	TelegramID int64  `gorm:"index" json:"-"` // 0 when the user has not linked a chat
	Language   string `gorm:"type:text;default:'en'" json:"language"`
	Tier       Tier   `gorm:"type:text;default:'free'" json:"tier"`
}

// BeforeCreate is a GORM hook that generates a UUID for the user if the ID is not yet set.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// Like is one directed expression of interest. Two users are mutually matched
// when both directions exist.
type Like struct {
	LikerID   string    `gorm:"primaryKey;type:text" json:"liker_id"`
	LikedID   string    `gorm:"primaryKey;type:text;index" json:"liked_id"`
	CreatedAt time.Time `json:"created_at"`
}
