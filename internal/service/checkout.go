package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/payment"
	"banhang/backend/internal/store"
	"banhang/backend/internal/xid"
)

type PaymentRequest struct {
	ReturnURL string `json:"return_url,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Invoice, error) {
	items, err := normalizeItems(req.Items)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := validateParties(req.EmployeeID, req.BranchID); err != nil {
		return domain.Invoice{}, err
	}
	if !req.PaymentMethod.Valid() {
		return domain.Invoice{}, apperror.Validation(apperror.CodeInvalidPayment, "unsupported payment method %q", req.PaymentMethod)
	}
	if err := validateManualDiscount(req.ManualDiscount); err != nil {
		return domain.Invoice{}, err
	}

	var created *domain.Invoice
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if req.CustomerID != nil {
			if _, err := tx.GetCustomerForUpdate(ctx, *req.CustomerID); err != nil {
				return err
			}
		}
		cart, err := priceCart(ctx, tx, items)
		if err != nil {
			return err
		}
		applied, ok := s.applyPromotion(ctx, tx, req.PromoCode, req.BranchID, cart)
		discount, net := totals(cart.gross, req.ManualDiscount, applied.DiscountAmount)
		points := LoyaltyPoints(net)

		if err := decrementStock(ctx, tx, cart.lines); err != nil {
			return err
		}
		if req.CustomerID != nil && points.IsPositive() {
			if _, err := tx.AdjustCustomerPoints(ctx, *req.CustomerID, points); err != nil {
				return err
			}
		}

		now := s.now()
		invoice := domain.Invoice{
			ID:             xid.NextID(),
			Code:           xid.Code(invoiceCodePrefix, now),
			CustomerID:     req.CustomerID,
			EmployeeID:     req.EmployeeID,
			BranchID:       req.BranchID,
			CreatedAt:      now,
			UpdatedAt:      now,
			CompletedAt:    &now,
			GrossTotal:     cart.gross,
			ManualDiscount: req.ManualDiscount,
			DiscountTotal:  discount,
			NetTotal:       net,
			PaymentMethod:  req.PaymentMethod,
			LoyaltyPoints:  points,
			Note:           strings.TrimSpace(req.Note),
			Status:         domain.InvoiceCompleted,
			Lines:          cart.lines,
		}
		withPromotion(&invoice, applied, ok)

		created, err = tx.CreateInvoice(ctx, invoice)
		return err
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.afterWrite(ctx, "checkout", created, promotionIDs(created)...)
	return *created, nil
}

func (s *Service) HoldBill(ctx context.Context, req domain.HoldRequest) (domain.Invoice, error) {
	items, err := normalizeItems(req.Items)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := validateParties(req.EmployeeID, req.BranchID); err != nil {
		return domain.Invoice{}, err
	}
	if err := validateManualDiscount(req.ManualDiscount); err != nil {
		return domain.Invoice{}, err
	}

	var created *domain.Invoice
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if req.CustomerID != nil {
			if _, err := tx.GetCustomer(ctx, *req.CustomerID); err != nil {
				return err
			}
		}
		cart, err := priceCart(ctx, tx, items)
		if err != nil {
			return err
		}
		applied, ok := s.applyPromotion(ctx, tx, req.PromoCode, req.BranchID, cart)
		discount, net := totals(cart.gross, req.ManualDiscount, applied.DiscountAmount)

		now := s.now()
		invoice := domain.Invoice{
			ID:             xid.NextID(),
			Code:           xid.Code(invoiceCodePrefix, now),
			CustomerID:     req.CustomerID,
			EmployeeID:     req.EmployeeID,
			BranchID:       req.BranchID,
			CreatedAt:      now,
			UpdatedAt:      now,
			GrossTotal:     cart.gross,
			ManualDiscount: req.ManualDiscount,
			DiscountTotal:  discount,
			NetTotal:       net,
			LoyaltyPoints:  decimal.Zero,
			Note:           strings.TrimSpace(req.Note),
			Status:         domain.InvoicePending,
			Lines:          cart.lines,
		}
		withPromotion(&invoice, applied, ok)

		created, err = tx.CreateInvoice(ctx, invoice)
		return err
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.afterWrite(ctx, "held", created)
	return *created, nil
}

func (s *Service) ResumePendingInvoice(ctx context.Context, id int64) (domain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := requireStatus(invoice, domain.InvoicePending); err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) UpdatePendingInvoice(ctx context.Context, id int64, req domain.UpdatePendingRequest) (domain.Invoice, error) {
	items, err := normalizeItems(req.Items)
	if err != nil {
		return domain.Invoice{}, err
	}
	if req.ManualDiscount != nil {
		if err := validateManualDiscount(*req.ManualDiscount); err != nil {
			return domain.Invoice{}, err
		}
	}

	var updated *domain.Invoice
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		invoice, err := tx.FindInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := requireStatus(invoice, domain.InvoicePending); err != nil {
			return err
		}

		manual := invoice.ManualDiscount
		if req.ManualDiscount != nil {
			manual = *req.ManualDiscount
		}
		code := invoice.PromotionCode
		if req.PromoCode != nil {
			code = strings.TrimSpace(*req.PromoCode)
		}
		note := baseNote(invoice)
		if req.Note != nil {
			note = strings.TrimSpace(*req.Note)
		}

		cart, err := priceCart(ctx, tx, items)
		if err != nil {
			return err
		}
		applied, ok := s.applyPromotion(ctx, tx, code, invoice.BranchID, cart)
		discount, net := totals(cart.gross, manual, applied.DiscountAmount)

		invoice.Lines = cart.lines
		invoice.GrossTotal = cart.gross
		invoice.ManualDiscount = manual
		invoice.DiscountTotal = discount
		invoice.NetTotal = net
		invoice.LoyaltyPoints = decimal.Zero
		invoice.Note = note
		invoice.UpdatedAt = s.now()
		withPromotion(invoice, applied, ok)

		updated, err = tx.UpdateInvoice(ctx, *invoice)
		return err
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.afterWrite(ctx, "updated", updated)
	return *updated, nil
}

func (s *Service) CancelPendingInvoice(ctx context.Context, id int64) (domain.Invoice, error) {
	var cancelled *domain.Invoice
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		invoice, err := tx.FindInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := requireStatus(invoice, domain.InvoicePending); err != nil {
			return err
		}

		now := s.now()
		invoice.Status = domain.InvoiceCancelled
		invoice.CancelledAt = &now
		invoice.UpdatedAt = now

		cancelled, err = tx.UpdateInvoice(ctx, *invoice)
		return err
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.afterWrite(ctx, "pending cancelled", cancelled)
	return *cancelled, nil
}

func (s *Service) CompletePendingInvoice(ctx context.Context, id int64, method domain.PaymentMethod) (domain.Invoice, error) {
	if !method.Valid() {
		return domain.Invoice{}, apperror.Validation(apperror.CodeInvalidPayment, "unsupported payment method %q", method)
	}

	var completed *domain.Invoice
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		invoice, err := tx.FindInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := requireStatus(invoice, domain.InvoicePending); err != nil {
			return err
		}
		if len(invoice.Lines) == 0 {
			return apperror.Validation(apperror.CodeEmptyCart, "invoice %s has no lines", invoice.Code)
		}
		if invoice.CustomerID != nil {
			if _, err := tx.GetCustomerForUpdate(ctx, *invoice.CustomerID); err != nil {
				return err
			}
		}
		if err := checkStock(ctx, tx, invoice.Lines); err != nil {
			return err
		}
		s.keepPromotion(ctx, tx, invoice)

		points := LoyaltyPoints(invoice.NetTotal)
		if err := decrementStock(ctx, tx, invoice.Lines); err != nil {
			return err
		}
		if invoice.CustomerID != nil && points.IsPositive() {
			if _, err := tx.AdjustCustomerPoints(ctx, *invoice.CustomerID, points); err != nil {
				return err
			}
		}

		now := s.now()
		invoice.PaymentMethod = method
		invoice.LoyaltyPoints = points
		invoice.Status = domain.InvoiceCompleted
		invoice.CompletedAt = &now
		invoice.UpdatedAt = now

		completed, err = tx.UpdateInvoice(ctx, *invoice)
		return err
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.afterWrite(ctx, "completed", completed, promotionIDs(completed)...)
	return *completed, nil
}

// CancelInvoice voids a sale and takes back the points it earned. Product
// stock is left as is.
func (s *Service) CancelInvoice(ctx context.Context, id int64) (domain.Invoice, error) {
	var cancelled *domain.Invoice
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		invoice, err := tx.FindInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if invoice.Status == domain.InvoiceCancelled {
			return apperror.Conflict(apperror.CodeAlreadyCancelled, "invoice %s is already cancelled", invoice.Code)
		}

		if invoice.CustomerID != nil && invoice.LoyaltyPoints.IsPositive() {
			if _, err := tx.AdjustCustomerPoints(ctx, *invoice.CustomerID, invoice.LoyaltyPoints.Neg()); err != nil {
				return err
			}
		}

		now := s.now()
		invoice.Status = domain.InvoiceCancelled
		invoice.CancelledAt = &now
		invoice.UpdatedAt = now

		cancelled, err = tx.UpdateInvoice(ctx, *invoice)
		return err
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.afterWrite(ctx, "cancelled", cancelled)
	return *cancelled, nil
}

// PreviewPromotion prices items from the product master and evaluates code
// against them without the best-effort fallback, so rejections reach the
// caller. A nil result means the promotion does not apply to this cart.
func (s *Service) PreviewPromotion(ctx context.Context, code string, branchID int64, items []domain.CartItem) (*domain.AppliedPromotion, error) {
	if s.promotions == nil {
		return nil, errors.New("promotion engine not configured")
	}
	normalized, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.PromotionLine, 0, len(normalized))
	total := decimal.Zero
	for _, item := range normalized {
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		line := domain.PromotionLine{ProductID: product.ID, Quantity: item.Quantity, UnitPrice: product.Price}
		lines = append(lines, line)
		total = total.Add(line.Total())
	}
	return s.promotions.ApplyByCode(ctx, code, branchID, lines, total)
}

// InitiatePayment asks the configured gateway to collect a completed
// invoice's net total with the invoice's own payment method.
func (s *Service) InitiatePayment(ctx context.Context, id int64, req PaymentRequest) (payment.Result, error) {
	if s.payments == nil {
		return payment.Result{}, errors.New("payment gateway not configured")
	}

	invoice, err := s.repo.FindInvoiceByID(ctx, id)
	if err != nil {
		return payment.Result{}, err
	}
	if err := requireStatus(invoice, domain.InvoiceCompleted); err != nil {
		return payment.Result{}, err
	}

	result, err := s.payments.Initiate(ctx, payment.Request{
		InvoiceID:   invoice.ID,
		InvoiceCode: invoice.Code,
		Method:      invoice.PaymentMethod,
		Amount:      invoice.NetTotal,
		ReturnURL:   req.ReturnURL,
		ClientIP:    req.ClientIP,
	})
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrUnsupportedMethod):
		return payment.Result{}, apperror.Validation(apperror.CodeInvalidPayment, "no gateway handles %s", invoice.PaymentMethod)
	case errors.Is(err, payment.ErrInvalidAmount):
		return payment.Result{}, apperror.Validation("", "invoice %s has nothing to collect", invoice.Code)
	case errors.Is(err, payment.ErrGatewayMisconfigured):
		return payment.Result{}, apperror.Conflict(apperror.CodeGatewayUnavailable, "payment gateway for %s is not configured", invoice.PaymentMethod)
	default:
		return payment.Result{}, errors.Wrapf(err, "initiate payment for invoice %s", invoice.Code)
	}

	s.log.Info("payment initiated",
		zap.String("invoice", invoice.Code),
		zap.String("method", string(invoice.PaymentMethod)),
		zap.String("status", string(result.Status)),
		zap.String("gateway_tx", result.GatewayTransactionID),
	)
	return result, nil
}

func promotionIDs(invoice *domain.Invoice) []int64 {
	if invoice.PromotionID == nil {
		return nil
	}
	return []int64{*invoice.PromotionID}
}
