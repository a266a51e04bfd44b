package quota_test

import (
	"context"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/quota"
	"sparkchat/backend/internal/storage/mocks"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)

func TestCheckMessageQuota_FreeTierLimit(t *testing.T) {
	storageMock := new(mocks.MockStorage)
	svc := quota.NewQuotaService(storageMock, clock.NewManual(day))

	storageMock.On("GetUserByID", mock.Anything, "alice").Return(&models.User{ID: "alice", Tier: models.TierFree}, nil)
	storageMock.On("IncrementCounter", mock.Anything, "quota:msg:alice:2025-03-01", config.QuotaWindow).
		Return(int64(config.FreeDailyMessages), nil).Once()
	storageMock.On("IncrementCounter", mock.Anything, "quota:msg:alice:2025-03-01", config.QuotaWindow).
		Return(int64(config.FreeDailyMessages+1), nil).Once()

	ok, err := svc.CheckMessageQuota(context.Background(), "alice", "alice:bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CheckMessageQuota(context.Background(), "alice", "alice:bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckMediaQuota_PremiumUnlimited(t *testing.T) {
	storageMock := new(mocks.MockStorage)
	svc := quota.NewQuotaService(storageMock, clock.NewManual(day))
	storageMock.On("GetUserByID", mock.Anything, "bob").Return(&models.User{ID: "bob", Tier: models.TierPremium}, nil)

	ok, err := svc.CheckMediaQuota(context.Background(), "bob", models.KindVoice, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	storageMock.AssertNotCalled(t, "IncrementCounter", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckMediaQuota_UnknownUserIsFree(t *testing.T) {
	storageMock := new(mocks.MockStorage)
	svc := quota.NewQuotaService(storageMock, clock.NewManual(day))
	storageMock.On("GetUserByID", mock.Anything, "ghost").Return(nil, models.ErrNotFound)
	storageMock.On("IncrementCounter", mock.Anything, "quota:media:ghost:2025-03-01", config.QuotaWindow).Return(int64(1), nil)

	ok, err := svc.CheckMediaQuota(context.Background(), "ghost", models.KindImage, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.CheckMediaQuota(context.Background(), "ghost", models.KindText, "alice")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCheck_StorageFailure(t *testing.T) {
	storageMock := new(mocks.MockStorage)
	svc := quota.NewQuotaService(storageMock, clock.NewManual(day))
	storageMock.On("GetUserByID", mock.Anything, "alice").Return(nil, models.ErrTransport)

	_, err := svc.CheckMessageQuota(context.Background(), "alice", "alice:bob")
	assert.ErrorIs(t, err, models.ErrTransport)
}
