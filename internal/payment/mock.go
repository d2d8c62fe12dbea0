package payment

import (
	"context"
	"fmt"

	"banhang/backend/internal/domain"
	"banhang/backend/internal/xid"
)

// MockGateway settles cash and card immediately and answers transfers and
// e-wallets with a QR payload to be reconciled later.
type MockGateway struct{}

func (MockGateway) Name() string {
	return "mock"
}

func (MockGateway) Supports(method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentBankTransfer, domain.PaymentEWallet:
		return true
	}
	return false
}

func (MockGateway) Initiate(_ context.Context, req Request) (Result, error) {
	txID := xid.New("mock")
	switch req.Method {
	case domain.PaymentCash, domain.PaymentCard:
		return Result{Status: StatusCompleted, GatewayTransactionID: txID}, nil
	case domain.PaymentBankTransfer, domain.PaymentEWallet:
		return Result{
			Status:               StatusPending,
			GatewayTransactionID: txID,
			QRCode:               fmt.Sprintf("PAY|%s|%s|%s", req.InvoiceCode, req.Amount.StringFixed(0), txID),
		}, nil
	default:
		return Result{Status: StatusFailed, GatewayTransactionID: txID}, ErrUnsupportedMethod
	}
}
