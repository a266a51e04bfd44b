package storage

import (
	"context"
	"errors"
	"fmt"
	"sparkchat/backend/internal/models"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Storage is everything the conversation engine and its collaborators persist.
// The Postgres tables are the only writer of message state; Redis carries the
// ephemeral parts (typing, counters, call invites).
type Storage interface {
	// Users & matching
	SaveUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	LinkTelegram(ctx context.Context, userID string, telegramID int64) error
	UpdateUserLanguage(ctx context.Context, userID, lang string) error
	UpdateUserTier(ctx context.Context, userID string, tier models.Tier) error
	SaveLike(ctx context.Context, like *models.Like) error
	DeleteLike(ctx context.Context, likerID, likedID string) error
	HasLike(ctx context.Context, likerID, likedID string) (bool, error)

	// Messages
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	GetThreadMessages(ctx context.Context, a, b string) ([]models.Message, error)
	MarkThreadRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error)
	DeleteMessageForSelf(ctx context.Context, id, callerID string, at time.Time) error
	DeleteMessageForEveryone(ctx context.Context, id, callerID string, at time.Time) error
	CountUnread(ctx context.Context, receiverID string) (map[string]int64, error)

	// Reactions
	GetThreadReactions(ctx context.Context, a, b string) ([]models.Reaction, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)

	// Ephemeral
	IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// transportErr wraps a driver error so callers can classify it as a transport failure.
func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrTransport, op, err)
}

// SaveUser upserts a user row.
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	if err := s.DB.WithContext(ctx).Save(user).Error; err != nil {
		return transportErr("save user", err)
	}
	return nil
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	if err != nil {
		return nil, transportErr("get user", err)
	}
	return &user, nil
}

func (s *Service) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: telegram chat %d", models.ErrNotFound, telegramID)
	}
	if err != nil {
		return nil, transportErr("get user by telegram id", err)
	}
	return &user, nil
}

// LinkTelegram stores the Telegram chat id used for push notifications.
func (s *Service) LinkTelegram(ctx context.Context, userID string, telegramID int64) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("telegram_id", telegramID)
	if res.Error != nil {
		return transportErr("link telegram", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	return nil
}

func (s *Service) UpdateUserLanguage(ctx context.Context, userID, lang string) error {
	return s.updateUser(ctx, userID, "language", lang)
}

func (s *Service) UpdateUserTier(ctx context.Context, userID string, tier models.Tier) error {
	return s.updateUser(ctx, userID, "tier", tier)
}

func (s *Service) updateUser(ctx context.Context, userID, column string, value interface{}) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update(column, value)
	if res.Error != nil {
		return transportErr("update user "+column, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	return nil
}

func (s *Service) SaveLike(ctx context.Context, like *models.Like) error {
	if err := s.DB.WithContext(ctx).Save(like).Error; err != nil {
		return transportErr("save like", err)
	}
	return nil
}

func (s *Service) DeleteLike(ctx context.Context, likerID, likedID string) error {
	err := s.DB.WithContext(ctx).
		Where("liker_id = ? AND liked_id = ?", likerID, likedID).
		Delete(&models.Like{}).Error
	if err != nil {
		return transportErr("delete like", err)
	}
	return nil
}

func (s *Service) HasLike(ctx context.Context, likerID, likedID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Like{}).
		Where("liker_id = ? AND liked_id = ?", likerID, likedID).
		Count(&count).Error
	if err != nil {
		return false, transportErr("check like", err)
	}
	return count > 0, nil
}

// IncrementCounter bumps a Redis counter and starts its expiry on first use.
func (s *Service) IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.Redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, transportErr("increment counter", err)
	}
	return incr.Val(), nil
}
