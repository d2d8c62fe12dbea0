package promotion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
)

type Lookup interface {
	GetPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error)
}

type Store interface {
	Lookup
	IncrementPromotionUsage(ctx context.Context, promotionIDs []int64) error
	ExpirePromotions(ctx context.Context, at time.Time) (int, error)
}

type Engine struct {
	repo   Store
	lookup Lookup
	now    func() time.Time
	log    *zap.Logger
}

func NewEngine(repo Store) *Engine {
	return &Engine{
		repo:   repo,
		lookup: repo,
		now:    func() time.Time { return time.Now().UTC() },
		log:    zap.L().Named("promotion"),
	}
}

// WithClock returns a copy of the engine that reads time from now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	dup := *e
	dup.now = now
	return &dup
}

// Within returns a copy of the engine whose promotion lookups go through
// lookup, typically the unit of work the caller is already inside.
func (e *Engine) Within(lookup Lookup) *Engine {
	dup := *e
	dup.lookup = lookup
	return &dup
}

// ApplyByCode validates the promotion against the cart and computes its
// discount. A nil result with a nil error means the promotion does not apply.
func (e *Engine) ApplyByCode(ctx context.Context, code string, branchID int64, lines []domain.PromotionLine, cartTotal decimal.Decimal) (*domain.AppliedPromotion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.Validation("", "promotion code is required")
	}

	promo, err := e.lookup.GetPromotionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := Validate(*promo, branchID, cartTotal, e.now()); err != nil {
		return nil, err
	}
	if !hasEligibleLine(*promo, lines) {
		return nil, nil
	}

	discount := Calculate(*promo, lines, cartTotal)
	if promo.MaxDiscount.Valid && discount.GreaterThan(promo.MaxDiscount.Decimal) {
		discount = promo.MaxDiscount.Decimal
	}
	if discount.GreaterThan(cartTotal) {
		discount = cartTotal
	}
	if !discount.IsPositive() {
		return nil, nil
	}

	return &domain.AppliedPromotion{
		PromotionID:    promo.ID,
		Code:           promo.Code,
		Name:           promo.Name,
		Type:           promo.Type,
		DiscountAmount: discount,
		OriginalAmount: cartTotal,
		FinalAmount:    cartTotal.Sub(discount),
		Description:    Describe(*promo, discount),
	}, nil
}

// Recheck reports whether the promotion behind code is still applicable to a
// cart of cartTotal. It does not recompute the discount.
func (e *Engine) Recheck(ctx context.Context, code string, branchID int64, cartTotal decimal.Decimal) error {
	promo, err := e.lookup.GetPromotionByCode(ctx, code)
	if err != nil {
		return err
	}
	return Validate(*promo, branchID, cartTotal, e.now())
}

// TryApply is the best-effort form of ApplyByCode: any rejection or failure is
// logged and reported as "no promotion".
func (e *Engine) TryApply(ctx context.Context, code string, branchID int64, lines []domain.PromotionLine, cartTotal decimal.Decimal) (domain.AppliedPromotion, bool) {
	if strings.TrimSpace(code) == "" {
		return domain.AppliedPromotion{}, false
	}

	applied, err := e.ApplyByCode(ctx, code, branchID, lines, cartTotal)
	if err != nil {
		if appErr, ok := apperror.As(err); ok {
			e.log.Info("promotion rejected", zap.String("code", code), zap.String("reason", appErr.Code), zap.String("detail", appErr.Message))
		} else {
			e.log.Warn("promotion lookup failed", zap.String("code", code), zap.Error(err))
		}
		return domain.AppliedPromotion{}, false
	}
	if applied == nil {
		e.log.Info("promotion not applicable to cart", zap.String("code", code), zap.String("total", cartTotal.String()))
		return domain.AppliedPromotion{}, false
	}
	return *applied, true
}

// IncrementUsage counts one use per distinct promotion. Call it only after the
// enclosing invoice has been committed.
func (e *Engine) IncrementUsage(ctx context.Context, promotionIDs []int64) error {
	seen := make(map[int64]struct{}, len(promotionIDs))
	ids := make([]int64, 0, len(promotionIDs))
	for _, id := range promotionIDs {
		if id < 1 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	return e.repo.IncrementPromotionUsage(ctx, ids)
}

// ExpireStale deactivates ACTIVE promotions whose window has closed.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	return e.repo.ExpirePromotions(ctx, e.now())
}

// Validate applies the business checks in order and returns the first failure.
func Validate(p domain.Promotion, branchID int64, cartTotal decimal.Decimal, now time.Time) error {
	if p.Status != domain.PromotionActive {
		return apperror.Conflict(apperror.CodePromotionInactive, "promotion %s is not active", p.Code)
	}
	if now.Before(p.StartsAt) || now.After(p.EndsAt) {
		return apperror.Conflict(apperror.CodePromotionOutOfWindow, "promotion %s is valid from %s to %s",
			p.Code, p.StartsAt.Format(time.DateOnly), p.EndsAt.Format(time.DateOnly))
	}
	if p.BranchID != nil && *p.BranchID != branchID {
		return apperror.Conflict(apperror.CodePromotionBranch, "promotion %s does not apply to branch %d", p.Code, branchID)
	}
	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return apperror.Conflict(apperror.CodePromotionExhausted, "promotion %s has reached its usage limit", p.Code)
	}
	if p.MinOrderAmount.Valid && cartTotal.LessThan(p.MinOrderAmount.Decimal) {
		return apperror.Conflict(apperror.CodePromotionMinAmount, "promotion %s requires a minimum order of %s", p.Code, p.MinOrderAmount.Decimal.String())
	}
	return nil
}

// Calculate returns the raw discount for p before the max-discount cap.
func Calculate(p domain.Promotion, lines []domain.PromotionLine, cartTotal decimal.Decimal) decimal.Decimal {
	switch p.Type {
	case domain.PromotionPercentage:
		return percentage(p, cartTotal)
	case domain.PromotionFixedAmount:
		return fixedAmount(p, cartTotal)
	case domain.PromotionBOGO:
		return buyXGetY(p, lines, 1, 1)
	case domain.PromotionBuyXGetY:
		return buyXGetY(p, lines, p.BuyQuantity, p.GetQuantity)
	case domain.PromotionBundle:
		return bundle(p, lines)
	default:
		return decimal.Zero
	}
}

func percentage(p domain.Promotion, cartTotal decimal.Decimal) decimal.Decimal {
	return cartTotal.Mul(p.Value).Div(decimal.NewFromInt(100)).Round(2)
}

func fixedAmount(p domain.Promotion, cartTotal decimal.Decimal) decimal.Decimal {
	return decimal.Min(p.Value, cartTotal)
}

// buyXGetY grants getY free units per buyX bought, never more free units than
// were purchased beyond the first buyX. BOGO is buyX=1, getY=1, which gives
// floor(quantity/2) free units.
func buyXGetY(p domain.Promotion, lines []domain.PromotionLine, buyX int, getY int) decimal.Decimal {
	if buyX <= 0 || getY <= 0 {
		return decimal.Zero
	}

	discount := decimal.Zero
	for _, line := range lines {
		if !isEligible(p, line.ProductID) || line.Quantity < buyX {
			continue
		}
		var free int
		if p.Type == domain.PromotionBOGO {
			free = line.Quantity / 2
		} else {
			sets := line.Quantity / buyX
			free = min(sets*getY, line.Quantity-buyX)
		}
		discount = discount.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(free))))
	}
	return discount
}

func bundle(p domain.Promotion, lines []domain.PromotionLine) decimal.Decimal {
	if len(p.ProductIDs) == 0 {
		return decimal.Zero
	}

	present := make(map[int64]decimal.Decimal, len(lines))
	for _, line := range lines {
		if line.Quantity > 0 {
			present[line.ProductID] = present[line.ProductID].Add(line.Total())
		}
	}

	sum := decimal.Zero
	for _, id := range p.ProductIDs {
		total, ok := present[id]
		if !ok {
			return decimal.Zero
		}
		sum = sum.Add(total)
	}

	discount := sum.Sub(p.Value)
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

func Describe(p domain.Promotion, discount decimal.Decimal) string {
	var label string
	switch p.Type {
	case domain.PromotionPercentage:
		label = fmt.Sprintf("%s%% off", p.Value.String())
	case domain.PromotionFixedAmount:
		label = fmt.Sprintf("%s off", p.Value.String())
	case domain.PromotionBOGO:
		label = "buy 1 get 1"
	case domain.PromotionBuyXGetY:
		label = fmt.Sprintf("buy %d get %d", p.BuyQuantity, p.GetQuantity)
	case domain.PromotionBundle:
		label = fmt.Sprintf("bundle at %s", p.Value.String())
	default:
		label = string(p.Type)
	}
	return fmt.Sprintf("%s [%s]: %s -%s", p.Name, p.Code, label, discount.String())
}

func hasEligibleLine(p domain.Promotion, lines []domain.PromotionLine) bool {
	if len(p.ProductIDs) == 0 {
		return true
	}
	for _, line := range lines {
		if isEligible(p, line.ProductID) {
			return true
		}
	}
	return false
}

func isEligible(p domain.Promotion, productID int64) bool {
	if len(p.ProductIDs) == 0 {
		return true
	}
	for _, id := range p.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}
