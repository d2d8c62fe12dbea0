package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/pagination"
)

var (
	ErrNotFound           = apperror.ErrNotFound
	ErrInsufficientStock  = &apperror.Error{Kind: apperror.KindConflict, Code: apperror.CodeInsufficientStock}
	ErrInvalidTransaction = apperror.ErrValidation
	ErrStaleSnapshot      = &apperror.Error{Kind: apperror.KindConflict, Code: apperror.CodeStaleSnapshot}
)

type Reader interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetIngredient(ctx context.Context, id int64) (*domain.Ingredient, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	GetPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error)
	FindInvoiceByID(ctx context.Context, id int64) (*domain.Invoice, error)
	FindStockTransaction(ctx context.Context, id int64) (*domain.StockTransaction, error)
	StockVoucherExists(ctx context.Context, voucher string) (bool, error)
}

// Tx is one unit of work. Ingredient stock has no direct setter: it changes
// only together with a ledger entry written or removed in the same call.
type Tx interface {
	Reader

	GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error)
	// AdjustProductStock applies delta and returns the new on-hand value. It
	// fails with ErrInsufficientStock instead of going below zero.
	AdjustProductStock(ctx context.Context, id int64, delta int) (int, error)

	GetIngredientForUpdate(ctx context.Context, id int64) (*domain.Ingredient, error)
	// RecordIngredientMovement sets on-hand to entry.QuantityAfter and appends
	// entry. It fails with ErrStaleSnapshot when on-hand no longer equals
	// entry.QuantityBefore.
	RecordIngredientMovement(ctx context.Context, entry domain.StockTransaction) (*domain.StockTransaction, error)
	// RevertIngredientMovement sets on-hand to restored and removes the entry.
	RevertIngredientMovement(ctx context.Context, entryID int64, restored int) error

	GetCustomerForUpdate(ctx context.Context, id int64) (*domain.Customer, error)
	// AdjustCustomerPoints adds delta to the balance, flooring at zero, and
	// returns the new balance.
	AdjustCustomerPoints(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)

	FindInvoiceForUpdate(ctx context.Context, id int64) (*domain.Invoice, error)
	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	// UpdateInvoice rewrites header fields and replaces the line collection.
	UpdateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
}

type Repository interface {
	Reader

	// Atomic runs fn in one unit of work. Any error from fn rolls back every
	// write fn made through tx.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error)
	ListStockTransactions(ctx context.Context, filter domain.StockFilter, page pagination.Params) ([]domain.StockTransaction, int64, error)

	// IncrementPromotionUsage bumps each counter by one without passing its cap.
	IncrementPromotionUsage(ctx context.Context, promotionIDs []int64) error
	ExpirePromotions(ctx context.Context, at time.Time) (int, error)
}
