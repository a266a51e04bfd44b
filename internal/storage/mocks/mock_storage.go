// Package mocks provides a testify mock of storage.Storage.
package mocks

import (
	"context"
	"sparkchat/backend/internal/models"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a mock implementation of the storage.Storage interface.
type MockStorage struct {
	mock.Mock
}

// User operations
func (m *MockStorage) SaveUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockStorage) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) UpdateUserLanguage(ctx context.Context, userID, lang string) error {
	args := m.Called(ctx, userID, lang)
	return args.Error(0)
}

func (m *MockStorage) UpdateUserTier(ctx context.Context, userID string, tier models.Tier) error {
	args := m.Called(ctx, userID, tier)
	return args.Error(0)
}

func (m *MockStorage) LinkTelegram(ctx context.Context, userID string, telegramID int64) error {
	args := m.Called(ctx, userID, telegramID)
	return args.Error(0)
}

func (m *MockStorage) SaveLike(ctx context.Context, like *models.Like) error {
	args := m.Called(ctx, like)
	return args.Error(0)
}

func (m *MockStorage) DeleteLike(ctx context.Context, likerID, likedID string) error {
	args := m.Called(ctx, likerID, likedID)
	return args.Error(0)
}

func (m *MockStorage) HasLike(ctx context.Context, likerID, likedID string) (bool, error) {
	args := m.Called(ctx, likerID, likedID)
	return args.Bool(0), args.Error(1)
}

// Message operations
func (m *MockStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStorage) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) GetThreadMessages(ctx context.Context, a, b string) ([]models.Message, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) MarkThreadRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error) {
	args := m.Called(ctx, readerID, senderID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) DeleteMessageForSelf(ctx context.Context, id, callerID string, at time.Time) error {
	args := m.Called(ctx, id, callerID, at)
	return args.Error(0)
}

func (m *MockStorage) DeleteMessageForEveryone(ctx context.Context, id, callerID string, at time.Time) error {
	args := m.Called(ctx, id, callerID, at)
	return args.Error(0)
}

func (m *MockStorage) CountUnread(ctx context.Context, receiverID string) (map[string]int64, error) {
	args := m.Called(ctx, receiverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

// Reaction operations
func (m *MockStorage) GetThreadReactions(ctx context.Context, a, b string) ([]models.Reaction, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reaction), args.Error(1)
}

func (m *MockStorage) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

// Ephemeral
func (m *MockStorage) IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, key, ttl)
	return args.Get(0).(int64), args.Error(1)
}
