// Package quota enforces the daily sending allowance of free-tier users.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// Service counts sends per user and UTC day in Redis. Premium users are unlimited.
// Every allowed check consumes one unit.
type Service struct {
	Storage storage.Storage
	Clock   clock.Clock
}

func NewQuotaService(s storage.Storage, clk clock.Clock) *Service {
	return &Service{Storage: s, Clock: clk}
}

func (q *Service) CheckMessageQuota(ctx context.Context, userID, threadID string) (bool, error) {
	return q.check(ctx, userID, "msg", config.FreeDailyMessages)
}

func (q *Service) CheckMediaQuota(ctx context.Context, userID string, kind models.ContentKind, peerID string) (bool, error) {
	if !kind.IsAttachment() {
		return false, fmt.Errorf("%w: %s is not a media kind", models.ErrValidation, kind)
	}
	return q.check(ctx, userID, "media", config.FreeDailyMedia)
}

func (q *Service) check(ctx context.Context, userID, bucket string, limit int64) (bool, error) {
	tier, err := q.tier(ctx, userID)
	if err != nil {
		return false, err
	}
	if tier == models.TierPremium {
		return true, nil
	}

	key := fmt.Sprintf("quota:%s:%s:%s", bucket, userID, q.Clock.Now().UTC().Format("2006-01-02"))
	n, err := q.Storage.IncrementCounter(ctx, key, config.QuotaWindow)
	if err != nil {
		return false, err
	}
	if n > limit {
		log.Info().Str("user", userID).Str("bucket", bucket).Int64("count", n).Msg("quota exhausted")
		return false, nil
	}
	return true, nil
}

// tier treats users without a profile row as free.
func (q *Service) tier(ctx context.Context, userID string) (models.Tier, error) {
	user, err := q.Storage.GetUserByID(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	return user.Tier, nil
}
