package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/store/memory"
)

var testNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func basePromotion(id int64, code string, typ domain.PromotionType) domain.Promotion {
	return domain.Promotion{
		ID:       id,
		Code:     code,
		Name:     code + " promo",
		Type:     typ,
		StartsAt: testNow.AddDate(0, -1, 0),
		EndsAt:   testNow.AddDate(0, 1, 0),
		Status:   domain.PromotionActive,
	}
}

func newTestEngine(promos ...domain.Promotion) (*Engine, *memory.Store) {
	repo := memory.New()
	for _, p := range promos {
		repo.PutPromotion(p)
	}
	return NewEngine(repo).WithClock(func() time.Time { return testNow }), repo
}

func TestPercentageDiscount(t *testing.T) {
	p := basePromotion(1, "P10", domain.PromotionPercentage)
	p.Value = d(10)
	engine, _ := newTestEngine(p)

	applied, err := engine.ApplyByCode(context.Background(), "P10", 1, nil, d(100000))
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.True(t, applied.DiscountAmount.Equal(d(10000)))
	assert.True(t, applied.FinalAmount.Equal(d(90000)))
	assert.Equal(t, "P10 promo [P10]: 10% off -10000", applied.Description)
}

func TestPercentageRoundsHalfUp(t *testing.T) {
	p := basePromotion(1, "P5", domain.PromotionPercentage)
	p.Value = d(5)
	got := Calculate(p, nil, decimal.RequireFromString("10.1"))
	assert.Equal(t, "0.51", got.StringFixed(2))
}

func TestFixedAmountCappedAtCartTotal(t *testing.T) {
	p := basePromotion(2, "F50", domain.PromotionFixedAmount)
	p.Value = d(50000)
	engine, _ := newTestEngine(p)

	applied, err := engine.ApplyByCode(context.Background(), "F50", 1, nil, d(30000))
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.True(t, applied.DiscountAmount.Equal(d(30000)))
	assert.True(t, applied.FinalAmount.IsZero())
}

func TestBuyXGetY(t *testing.T) {
	p := basePromotion(3, "B2G1", domain.PromotionBuyXGetY)
	p.BuyQuantity = 2
	p.GetQuantity = 1
	lines := []domain.PromotionLine{{ProductID: 10, Quantity: 5, UnitPrice: d(1000)}}

	assert.True(t, Calculate(p, lines, d(5000)).Equal(d(2000)))

	p.GetQuantity = 5
	assert.True(t, Calculate(p, lines, d(5000)).Equal(d(3000)), "free units never exceed quantity beyond buyX")

	p.BuyQuantity = 0
	assert.True(t, Calculate(p, lines, d(5000)).IsZero())
}

func TestBOGO(t *testing.T) {
	p := basePromotion(4, "BOGO", domain.PromotionBOGO)
	p.ProductIDs = []int64{10}
	lines := []domain.PromotionLine{
		{ProductID: 10, Quantity: 5, UnitPrice: d(2000)},
		{ProductID: 11, Quantity: 4, UnitPrice: d(9000)},
	}
	assert.True(t, Calculate(p, lines, d(46000)).Equal(d(4000)))
}

func TestBundleRequiresAllProducts(t *testing.T) {
	p := basePromotion(5, "COMBO", domain.PromotionBundle)
	p.Value = d(45000)
	p.ProductIDs = []int64{1, 3}
	engine, _ := newTestEngine(p)
	ctx := context.Background()

	full := []domain.PromotionLine{
		{ProductID: 1, Quantity: 1, UnitPrice: d(29000)},
		{ProductID: 3, Quantity: 1, UnitPrice: d(25000)},
	}
	applied, err := engine.ApplyByCode(ctx, "COMBO", 1, full, d(54000))
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.True(t, applied.DiscountAmount.Equal(d(9000)))

	partial := full[:1]
	applied, err = engine.ApplyByCode(ctx, "COMBO", 1, partial, d(29000))
	require.NoError(t, err)
	assert.Nil(t, applied)

	p.ProductIDs = nil
	assert.True(t, Calculate(p, full, d(54000)).IsZero())
}

func TestMaxDiscountCap(t *testing.T) {
	p := basePromotion(6, "CAP", domain.PromotionPercentage)
	p.Value = d(50)
	p.MaxDiscount = decimal.NewNullDecimal(d(20000))
	engine, _ := newTestEngine(p)

	applied, err := engine.ApplyByCode(context.Background(), "CAP", 1, nil, d(100000))
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.True(t, applied.DiscountAmount.Equal(d(20000)))
}

func TestValidationOrder(t *testing.T) {
	branch := int64(2)
	limit := 3

	cases := []struct {
		name   string
		mutate func(p *domain.Promotion)
		total  int64
		code   string
	}{
		{"inactive beats window", func(p *domain.Promotion) {
			p.Status = domain.PromotionInactive
			p.EndsAt = testNow.AddDate(0, 0, -1)
		}, 100, apperror.CodePromotionInactive},
		{"window beats branch", func(p *domain.Promotion) {
			p.StartsAt = testNow.Add(time.Hour)
			p.BranchID = &branch
		}, 100, apperror.CodePromotionOutOfWindow},
		{"branch beats usage", func(p *domain.Promotion) {
			p.BranchID = &branch
			p.UsageLimit = &limit
			p.UsageCount = 3
		}, 100, apperror.CodePromotionBranch},
		{"usage beats minimum", func(p *domain.Promotion) {
			p.UsageLimit = &limit
			p.UsageCount = 3
			p.MinOrderAmount = decimal.NewNullDecimal(d(1000))
		}, 100, apperror.CodePromotionExhausted},
		{"minimum", func(p *domain.Promotion) {
			p.MinOrderAmount = decimal.NewNullDecimal(d(1000))
		}, 999, apperror.CodePromotionMinAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := basePromotion(7, "ORDER", domain.PromotionFixedAmount)
			p.Value = d(10)
			tc.mutate(&p)
			engine, _ := newTestEngine(p)

			_, err := engine.ApplyByCode(context.Background(), "ORDER", 1, nil, d(tc.total))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperror.ErrConflict)
			assert.True(t, apperror.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func TestUnknownCodeIsNotFound(t *testing.T) {
	engine, _ := newTestEngine()
	_, err := engine.ApplyByCode(context.Background(), "NOPE", 1, nil, d(100))
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestIneligibleCartIsNotApplicable(t *testing.T) {
	p := basePromotion(8, "ONLY10", domain.PromotionPercentage)
	p.Value = d(10)
	p.ProductIDs = []int64{10}
	engine, _ := newTestEngine(p)

	applied, err := engine.ApplyByCode(context.Background(), "ONLY10", 1,
		[]domain.PromotionLine{{ProductID: 11, Quantity: 1, UnitPrice: d(5000)}}, d(5000))
	require.NoError(t, err)
	assert.Nil(t, applied)
}

func TestZeroDiscountIsNotApplicable(t *testing.T) {
	p := basePromotion(9, "B3G1", domain.PromotionBuyXGetY)
	p.BuyQuantity = 3
	p.GetQuantity = 1
	engine, _ := newTestEngine(p)

	applied, err := engine.ApplyByCode(context.Background(), "B3G1", 1,
		[]domain.PromotionLine{{ProductID: 1, Quantity: 2, UnitPrice: d(5000)}}, d(10000))
	require.NoError(t, err)
	assert.Nil(t, applied)

	_, ok := engine.TryApply(context.Background(), "B3G1", 1,
		[]domain.PromotionLine{{ProductID: 1, Quantity: 2, UnitPrice: d(5000)}}, d(10000))
	assert.False(t, ok)
}

func TestTryApplySwallowsRejections(t *testing.T) {
	p := basePromotion(10, "OLD", domain.PromotionPercentage)
	p.Status = domain.PromotionInactive
	engine, _ := newTestEngine(p)

	_, ok := engine.TryApply(context.Background(), "OLD", 1, nil, d(100))
	assert.False(t, ok)
	_, ok = engine.TryApply(context.Background(), "MISSING", 1, nil, d(100))
	assert.False(t, ok)
	_, ok = engine.TryApply(context.Background(), "  ", 1, nil, d(100))
	assert.False(t, ok)
}

func TestRecheckFollowsCurrentState(t *testing.T) {
	limit := 1
	p := basePromotion(13, "ONCE", domain.PromotionFixedAmount)
	p.Value = d(5000)
	p.UsageLimit = &limit
	engine, repo := newTestEngine(p)
	ctx := context.Background()

	require.NoError(t, engine.Recheck(ctx, "ONCE", 1, d(30000)))

	require.NoError(t, engine.IncrementUsage(ctx, []int64{13}))
	err := engine.Recheck(ctx, "ONCE", 1, d(30000))
	assert.True(t, apperror.HasCode(err, apperror.CodePromotionExhausted))

	p.UsageLimit = nil
	p.Status = domain.PromotionInactive
	repo.PutPromotion(p)
	err = engine.Recheck(ctx, "ONCE", 1, d(30000))
	assert.True(t, apperror.HasCode(err, apperror.CodePromotionInactive))

	err = engine.Recheck(ctx, "GONE", 1, d(30000))
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestIncrementUsageDedupesAndRespectsCap(t *testing.T) {
	limit := 2
	p := basePromotion(11, "TWICE", domain.PromotionPercentage)
	p.UsageLimit = &limit
	engine, repo := newTestEngine(p)
	ctx := context.Background()

	require.NoError(t, engine.IncrementUsage(ctx, []int64{11, 11, 0}))
	got, err := repo.GetPromotionByCode(ctx, "TWICE")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)

	require.NoError(t, engine.IncrementUsage(ctx, []int64{11}))
	require.NoError(t, engine.IncrementUsage(ctx, []int64{11}))
	got, _ = repo.GetPromotionByCode(ctx, "TWICE")
	assert.Equal(t, 2, got.UsageCount)
}

func TestExpireStale(t *testing.T) {
	p := basePromotion(12, "ENDED", domain.PromotionPercentage)
	p.EndsAt = testNow.Add(-time.Minute)
	engine, repo := newTestEngine(p)

	n, err := engine.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ := repo.GetPromotionByCode(context.Background(), "ENDED")
	assert.Equal(t, domain.PromotionInactive, got.Status)
}
