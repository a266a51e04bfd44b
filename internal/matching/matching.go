// Package matching decides who may message whom.
package matching

import (
	"context"
	"fmt"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/storage"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service answers whether two users like each other.
// Two users are mutually matched iff both directed likes exist.
type Service struct {
	Storage storage.Storage
}

func NewMatchingService(s storage.Storage) *Service {
	return &Service{Storage: s}
}

// IsMutuallyMatched checks both directions concurrently.
func (m *Service) IsMutuallyMatched(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	var ab, ba bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ab, err = m.Storage.HasLike(gctx, a, b)
		return err
	})
	g.Go(func() (err error) {
		ba, err = m.Storage.HasLike(gctx, b, a)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}
	return ab && ba, nil
}

// Like records liker -> liked and reports whether it completed a match.
func (m *Service) Like(ctx context.Context, likerID, likedID string) (bool, error) {
	if likerID == "" || likedID == "" || likerID == likedID {
		return false, fmt.Errorf("%w: cannot like yourself", models.ErrValidation)
	}
	like := &models.Like{LikerID: likerID, LikedID: likedID, CreatedAt: time.Now()}
	if err := m.Storage.SaveLike(ctx, like); err != nil {
		return false, err
	}
	matched, err := m.Storage.HasLike(ctx, likedID, likerID)
	if err != nil {
		return false, err
	}
	if matched {
		log.Info().Str("user", likerID).Str("peer", likedID).Msg("mutual match")
	}
	return matched, nil
}

// Unlike removes liker -> liked, which dissolves the match if there was one.
func (m *Service) Unlike(ctx context.Context, likerID, likedID string) error {
	return m.Storage.DeleteLike(ctx, likerID, likedID)
}
