package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"banhang/backend/internal/domain"
)

var (
	ErrInvalidAmount        = errors.New("invalid payment amount")
	ErrUnsupportedMethod    = errors.New("payment method not supported by any gateway")
	ErrGatewayMisconfigured = errors.New("payment gateway is not configured")
)

type Status string

const (
	StatusCompleted             Status = "COMPLETED"
	StatusPending               Status = "PENDING"
	StatusFailed                Status = "FAILED"
	StatusPendingReconciliation Status = "PENDING_RECONCILIATION"
)

type Request struct {
	InvoiceID   int64                `json:"invoice_id"`
	InvoiceCode string               `json:"invoice_code"`
	Method      domain.PaymentMethod `json:"method"`
	Amount      decimal.Decimal      `json:"amount"`
	Description string               `json:"description,omitempty"`
	ReturnURL   string               `json:"return_url,omitempty"`
	ClientIP    string               `json:"client_ip,omitempty"`
}

type Result struct {
	Status               Status `json:"status"`
	GatewayTransactionID string `json:"gateway_transaction_id"`
	RedirectURL          string `json:"redirect_url,omitempty"`
	QRCode               string `json:"qr_code,omitempty"`
}

// Gateway moves money for an invoice. Redirect-based gateways return PENDING
// and settle out of band.
type Gateway interface {
	Name() string
	Supports(method domain.PaymentMethod) bool
	Initiate(ctx context.Context, req Request) (Result, error)
}

// Router dispatches each request to the first gateway supporting its method.
type Router struct {
	gateways []Gateway
}

func NewRouter(gateways ...Gateway) *Router {
	return &Router{gateways: gateways}
}

func (r *Router) Initiate(ctx context.Context, req Request) (Result, error) {
	if !req.Amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	for _, gw := range r.gateways {
		if gw.Supports(req.Method) {
			res, err := gw.Initiate(ctx, req)
			if err != nil {
				return Result{}, fmt.Errorf("%s: %w", gw.Name(), err)
			}
			return res, nil
		}
	}
	return Result{}, ErrUnsupportedMethod
}
