package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/cache"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/payment"
	"banhang/backend/internal/promotion"
	"banhang/backend/internal/store"
)

const (
	invoiceCodePrefix  = "HD"
	promoNoteMarker    = "KM: "
	promoNoteSeparator = " | "
)

var pointsDivisor = decimal.NewFromInt(1000)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type PaymentGateway interface {
	Initiate(ctx context.Context, req payment.Request) (payment.Result, error)
}

type Service struct {
	repo       store.Repository
	promotions *promotion.Engine
	payments   PaymentGateway
	cache      cache.InvoiceCache
	cacheTTL   time.Duration
	generation atomic.Uint64
	flights    singleflight.Group
	now        func() time.Time
	log        *zap.Logger
}

func New(repo store.Repository, promotions *promotion.Engine, invoiceCache cache.InvoiceCache, cacheTTL time.Duration) *Service {
	if invoiceCache == nil {
		invoiceCache = cache.NoopInvoiceCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	return &Service{
		repo:       repo,
		promotions: promotions,
		cache:      invoiceCache,
		cacheTTL:   cacheTTL,
		now:        func() time.Time { return time.Now().UTC() },
		log:        zap.L().Named("service"),
	}
}

func (s *Service) SetPaymentGateway(gw PaymentGateway) {
	s.payments = gw
}

// pricedCart is a validated cart with unit prices snapshotted from the
// product master.
type pricedCart struct {
	lines      []domain.InvoiceLine
	promoLines []domain.PromotionLine
	gross      decimal.Decimal
}

// normalizeItems merges duplicate products, keeping first-seen order.
func normalizeItems(items []domain.CartItem) ([]domain.CartItem, error) {
	if len(items) == 0 {
		return nil, apperror.Validation(apperror.CodeEmptyCart, "cart is empty")
	}

	index := make(map[int64]int, len(items))
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if item.ProductID < 1 {
			return nil, apperror.Validation("", "product_id is required")
		}
		if item.Quantity < 1 {
			return nil, apperror.Validation(apperror.CodeInvalidQuantity, "quantity for product %d must be positive", item.ProductID)
		}
		note := strings.TrimSpace(item.Note)
		if i, seen := index[item.ProductID]; seen {
			out[i].Quantity += item.Quantity
			if out[i].Note == "" {
				out[i].Note = note
			}
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity, Note: note})
	}
	return out, nil
}

func priceCart(ctx context.Context, tx store.Tx, items []domain.CartItem) (pricedCart, error) {
	cart := pricedCart{
		lines:      make([]domain.InvoiceLine, 0, len(items)),
		promoLines: make([]domain.PromotionLine, 0, len(items)),
		gross:      decimal.Zero,
	}
	for _, item := range items {
		product, err := tx.GetProductForUpdate(ctx, item.ProductID)
		if err != nil {
			return pricedCart{}, err
		}
		if !product.Active {
			return pricedCart{}, apperror.Conflict("", "product %s is not for sale", product.Code)
		}
		if item.Quantity > product.Stock {
			return pricedCart{}, insufficientProduct(product, item.Quantity)
		}

		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		cart.lines = append(cart.lines, domain.InvoiceLine{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
			LineTotal: lineTotal,
			Note:      item.Note,
		})
		cart.promoLines = append(cart.promoLines, domain.PromotionLine{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		cart.gross = cart.gross.Add(lineTotal)
	}
	return cart, nil
}

// checkStock verifies every line against current on-hand before any
// decrement is made.
func checkStock(ctx context.Context, tx store.Tx, lines []domain.InvoiceLine) error {
	required := make(map[int64]int, len(lines))
	for _, line := range lines {
		required[line.ProductID] += line.Quantity
	}
	for _, line := range lines {
		product, err := tx.GetProductForUpdate(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if need := required[line.ProductID]; need > product.Stock {
			return insufficientProduct(product, need)
		}
	}
	return nil
}

func decrementStock(ctx context.Context, tx store.Tx, lines []domain.InvoiceLine) error {
	for _, line := range lines {
		if _, err := tx.AdjustProductStock(ctx, line.ProductID, -line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// totals returns the discount total and the net total floored at zero.
func totals(gross decimal.Decimal, manual decimal.Decimal, promo decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	discount := manual.Add(promo)
	net := gross.Sub(discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return discount, net
}

// LoyaltyPoints is one point per 1000 of net total, rounded half up.
func LoyaltyPoints(net decimal.Decimal) decimal.Decimal {
	if !net.IsPositive() {
		return decimal.Zero
	}
	return net.Div(pointsDivisor).Round(0)
}

func (s *Service) applyPromotion(ctx context.Context, tx store.Tx, code string, branchID int64, cart pricedCart) (domain.AppliedPromotion, bool) {
	if s.promotions == nil {
		return domain.AppliedPromotion{}, false
	}
	return s.promotions.Within(tx).TryApply(ctx, code, branchID, cart.promoLines, cart.gross)
}

// keepPromotion rechecks the promotion recorded on a held invoice. When it no
// longer applies the invoice is repriced without it.
func (s *Service) keepPromotion(ctx context.Context, tx store.Tx, invoice *domain.Invoice) {
	if invoice.PromotionID == nil || s.promotions == nil {
		return
	}
	err := s.promotions.Within(tx).Recheck(ctx, invoice.PromotionCode, invoice.BranchID, invoice.GrossTotal)
	if err == nil {
		return
	}
	s.log.Warn("held promotion dropped at completion",
		zap.Int64("invoice_id", invoice.ID),
		zap.String("code", invoice.PromotionCode),
		zap.Error(err),
	)
	invoice.Note = baseNote(invoice)
	invoice.DiscountTotal, invoice.NetTotal = totals(invoice.GrossTotal, invoice.ManualDiscount, decimal.Zero)
	withPromotion(invoice, domain.AppliedPromotion{}, false)
}

// withPromotion records applied on invoice and tags the note with it.
// invoice.Note must not already carry a tag.
func withPromotion(invoice *domain.Invoice, applied domain.AppliedPromotion, ok bool) {
	invoice.PromotionID = nil
	invoice.PromotionCode = ""
	if !ok {
		return
	}
	id := applied.PromotionID
	invoice.PromotionID = &id
	invoice.PromotionCode = applied.Code
	tag := promoNoteMarker + applied.Description
	if invoice.Note == "" {
		invoice.Note = tag
		return
	}
	invoice.Note = invoice.Note + promoNoteSeparator + tag
}

// baseNote is the invoice note without the tag withPromotion appended.
// Text the cashier typed is kept even when it contains the marker.
func baseNote(invoice *domain.Invoice) string {
	note := invoice.Note
	if invoice.PromotionID == nil {
		return note
	}
	if i := strings.LastIndex(note, promoNoteSeparator+promoNoteMarker); i >= 0 {
		return note[:i]
	}
	if strings.HasPrefix(note, promoNoteMarker) {
		return ""
	}
	return note
}

func (s *Service) afterWrite(ctx context.Context, action string, invoice *domain.Invoice, usedPromotions ...int64) {
	if len(usedPromotions) > 0 && s.promotions != nil {
		if err := s.promotions.IncrementUsage(ctx, usedPromotions); err != nil {
			s.log.Warn("promotion usage not recorded", zap.Int64("invoice_id", invoice.ID), zap.Int64s("promotion_ids", usedPromotions), zap.Error(err))
		}
	}
	s.invalidate(ctx)
	s.logAudit(ctx, action, invoice)
}

func (s *Service) invalidate(ctx context.Context) {
	s.generation.Add(1)
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.log.Warn("invoice cache invalidation failed", zap.Error(err))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, invoice *domain.Invoice) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	s.log.Info("invoice "+action,
		zap.String("actor", actor.Username),
		zap.String("role", actor.Role),
		zap.Int64("invoice_id", invoice.ID),
		zap.String("code", invoice.Code),
		zap.String("status", string(invoice.Status)),
		zap.String("net_total", invoice.NetTotal.String()),
	)
}

func requireStatus(invoice *domain.Invoice, want domain.InvoiceStatus) error {
	if invoice.Status != want {
		return apperror.Conflict(apperror.CodeInvalidStatus, "invoice %s is %s, expected %s", invoice.Code, invoice.Status, want)
	}
	return nil
}

func validateManualDiscount(discount decimal.Decimal) error {
	if discount.IsNegative() {
		return apperror.Validation("", "manual discount must not be negative")
	}
	return nil
}

func validateParties(employeeID int64, branchID int64) error {
	if employeeID < 1 {
		return apperror.Validation("", "employee_id is required")
	}
	if branchID < 1 {
		return apperror.Validation("", "branch_id is required")
	}
	return nil
}

func insufficientProduct(product *domain.Product, need int) error {
	return apperror.Conflict(apperror.CodeInsufficientStock, "product %s: need %d, have %d", product.Code, need, product.Stock)
}
