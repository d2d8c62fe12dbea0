package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banhang/backend/internal/domain"
	"banhang/backend/internal/promotion"
	"banhang/backend/internal/store/memory"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) ExpireStale(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(time.UTC, "every tuesday", &countingSweeper{})
	require.Error(t, err)
}

func TestRunFiresSweep(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := New(time.UTC, "@every 1s", sweeper)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.GreaterOrEqual(t, sweeper.calls.Load(), int32(1))
}

func TestSweepPromotionsDeactivatesExpired(t *testing.T) {
	repo := memory.New()
	now := time.Now().UTC()
	repo.PutPromotion(domain.Promotion{
		ID: 1, Code: "TET2026", Name: "Tet", Type: domain.PromotionFixedAmount,
		StartsAt: now.AddDate(0, -2, 0), EndsAt: now.AddDate(0, 0, -1),
		Value: decimal.NewFromInt(20000), Status: domain.PromotionActive,
	})
	repo.PutPromotion(domain.Promotion{
		ID: 2, Code: "HE2026", Name: "He", Type: domain.PromotionPercentage,
		StartsAt: now.AddDate(0, 0, -1), EndsAt: now.AddDate(0, 1, 0),
		Value: decimal.NewFromInt(5), Status: domain.PromotionActive,
	})

	s, err := New(nil, "@daily", promotion.NewEngine(repo))
	require.NoError(t, err)
	s.SweepPromotions()

	expired, err := repo.GetPromotionByCode(context.Background(), "TET2026")
	require.NoError(t, err)
	assert.Equal(t, domain.PromotionInactive, expired.Status)

	live, err := repo.GetPromotionByCode(context.Background(), "HE2026")
	require.NoError(t, err)
	assert.Equal(t, domain.PromotionActive, live.Status)
}
