package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	EmployeeID int64  `json:"employee_id"`
	BranchID   int64  `json:"branch_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
}

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoiceCompleted InvoiceStatus = "COMPLETED"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentCard         PaymentMethod = "CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentVNPay        PaymentMethod = "VNPAY"
	PaymentEWallet      PaymentMethod = "E_WALLET"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentBankTransfer, PaymentVNPay, PaymentEWallet:
		return true
	}
	return false
}

type Invoice struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	EmployeeID     int64           `json:"employee_id"`
	BranchID       int64           `json:"branch_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	GrossTotal     decimal.Decimal `json:"gross_total"`
	ManualDiscount decimal.Decimal `json:"manual_discount"`
	DiscountTotal  decimal.Decimal `json:"discount_total"`
	NetTotal       decimal.Decimal `json:"net_total"`
	PaymentMethod  PaymentMethod   `json:"payment_method,omitempty"`
	LoyaltyPoints  decimal.Decimal `json:"loyalty_points"`
	Note           string          `json:"note,omitempty"`
	Status         InvoiceStatus   `json:"status"`
	PromotionID    *int64          `json:"promotion_id,omitempty"`
	PromotionCode  string          `json:"promotion_code,omitempty"`
	Lines          []InvoiceLine   `json:"lines"`
}

type InvoiceLine struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Note      string          `json:"note,omitempty"`
}

type Customer struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone,omitempty"`
	LoyaltyPoints decimal.Decimal `json:"loyalty_points"`
}

type Product struct {
	ID     int64           `json:"id"`
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Active bool            `json:"active"`
}

type Ingredient struct {
	ID    int64  `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Unit  string `json:"unit"`
	Stock int    `json:"stock"`
}

type StockKind string

const (
	StockReceive StockKind = "RECEIVE"
	StockIssue   StockKind = "ISSUE"
	StockAdjust  StockKind = "ADJUST"
)

func (k StockKind) Valid() bool {
	return k == StockReceive || k == StockIssue || k == StockAdjust
}

// StockTransaction is one immutable ingredient movement. For ADJUST, Quantity
// holds the new absolute on-hand value.
type StockTransaction struct {
	ID             int64     `json:"id"`
	Voucher        string    `json:"voucher"`
	IngredientID   int64     `json:"ingredient_id"`
	CreatedAt      time.Time `json:"created_at"`
	Kind           StockKind `json:"kind"`
	Quantity       int       `json:"quantity"`
	QuantityBefore int       `json:"quantity_before"`
	QuantityAfter  int       `json:"quantity_after"`
	EmployeeID     int64     `json:"employee_id"`
	Note           string    `json:"note,omitempty"`
}

type PromotionType string

const (
	PromotionPercentage  PromotionType = "PERCENTAGE"
	PromotionFixedAmount PromotionType = "FIXED_AMOUNT"
	PromotionBOGO        PromotionType = "BOGO"
	PromotionBundle      PromotionType = "BUNDLE"
	PromotionBuyXGetY    PromotionType = "BUY_X_GET_Y"
)

type PromotionStatus string

const (
	PromotionActive   PromotionStatus = "ACTIVE"
	PromotionInactive PromotionStatus = "INACTIVE"
)

// Promotion.Value is the rate for PERCENTAGE, the amount for FIXED_AMOUNT and
// the bundle price for BUNDLE. BuyQuantity and GetQuantity drive BUY_X_GET_Y.
type Promotion struct {
	ID             int64               `json:"id"`
	Code           string              `json:"code"`
	Name           string              `json:"name"`
	Type           PromotionType       `json:"type"`
	BranchID       *int64              `json:"branch_id,omitempty"`
	StartsAt       time.Time           `json:"starts_at"`
	EndsAt         time.Time           `json:"ends_at"`
	Value          decimal.Decimal     `json:"value"`
	MinOrderAmount decimal.NullDecimal `json:"min_order_amount"`
	MaxDiscount    decimal.NullDecimal `json:"max_discount"`
	BuyQuantity    int                 `json:"buy_quantity"`
	GetQuantity    int                 `json:"get_quantity"`
	UsageLimit     *int                `json:"usage_limit,omitempty"`
	UsageCount     int                 `json:"usage_count"`
	Status         PromotionStatus     `json:"status"`
	ProductIDs     []int64             `json:"product_ids,omitempty"`
}

type AppliedPromotion struct {
	PromotionID    int64           `json:"promotion_id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           PromotionType   `json:"type"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	Description    string          `json:"description"`
}

type CartItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Note      string `json:"note,omitempty"`
}

// PromotionLine is a priced cart line as seen by the promotion engine.
type PromotionLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l PromotionLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type CheckoutRequest struct {
	Items          []CartItem      `json:"items"`
	EmployeeID     int64           `json:"employee_id"`
	BranchID       int64           `json:"branch_id"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	ManualDiscount decimal.Decimal `json:"manual_discount"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	PromoCode      string          `json:"promo_code,omitempty"`
	Note           string          `json:"note,omitempty"`
}

type HoldRequest struct {
	Items          []CartItem      `json:"items"`
	EmployeeID     int64           `json:"employee_id"`
	BranchID       int64           `json:"branch_id"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	ManualDiscount decimal.Decimal `json:"manual_discount"`
	PromoCode      string          `json:"promo_code,omitempty"`
	Note           string          `json:"note,omitempty"`
}

// UpdatePendingRequest replaces the lines of a held bill. Nil pointers keep the
// stored value.
type UpdatePendingRequest struct {
	Items          []CartItem       `json:"items"`
	ManualDiscount *decimal.Decimal `json:"manual_discount,omitempty"`
	PromoCode      *string          `json:"promo_code,omitempty"`
	Note           *string          `json:"note,omitempty"`
}

type CompletePendingRequest struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
}

type InvoiceFilter struct {
	From       *time.Time
	To         *time.Time
	Status     InvoiceStatus
	BranchID   *int64
	CustomerID *int64
}

type MovementRequest struct {
	IngredientID int64  `json:"ingredient_id"`
	Quantity     int    `json:"quantity"`
	EmployeeID   int64  `json:"employee_id"`
	Voucher      string `json:"voucher,omitempty"`
	Note         string `json:"note,omitempty"`
}

type AdjustRequest struct {
	IngredientID int64  `json:"ingredient_id"`
	NewQuantity  int    `json:"new_quantity"`
	EmployeeID   int64  `json:"employee_id"`
	Voucher      string `json:"voucher,omitempty"`
	Note         string `json:"note,omitempty"`
}

type BatchItem struct {
	IngredientID int64  `json:"ingredient_id"`
	Quantity     int    `json:"quantity"`
	Note         string `json:"note,omitempty"`
}

type BatchRequest struct {
	EmployeeID  int64       `json:"employee_id"`
	Items       []BatchItem `json:"items"`
	NotePrefix  string      `json:"note_prefix,omitempty"`
	VoucherBase string      `json:"voucher_base,omitempty"`
}

type StockFilter struct {
	IngredientID *int64
	Kind         StockKind
}

type ReversalResult struct {
	Reversed      StockTransaction `json:"reversed"`
	QuantityNow   int              `json:"quantity_now"`
	Clamped       bool             `json:"clamped"`
	ClampedAmount int              `json:"clamped_amount,omitempty"`
}
