package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindValidation Kind = "VALIDATION"
	KindConflict   Kind = "CONFLICT"
)

// Stable business codes returned to callers in {code, message} bodies.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeValidation           = "VALIDATION"
	CodeConflict             = "CONFLICT"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeAlreadyCancelled     = "ALREADY_CANCELLED"
	CodeEmptyCart            = "EMPTY_CART"
	CodeInvalidQuantity      = "INVALID_QUANTITY"
	CodeInvalidDateRange     = "INVALID_DATE_RANGE"
	CodeInvalidPayment       = "INVALID_PAYMENT_METHOD"
	CodePromotionInactive    = "PROMOTION_INACTIVE"
	CodePromotionOutOfWindow = "PROMOTION_OUT_OF_WINDOW"
	CodePromotionBranch      = "PROMOTION_WRONG_BRANCH"
	CodePromotionExhausted   = "PROMOTION_EXHAUSTED"
	CodePromotionMinAmount   = "PROMOTION_MIN_AMOUNT"
	CodeDuplicateVoucher     = "DUPLICATE_VOUCHER"
	CodeVoucherExhausted     = "VOUCHER_EXHAUSTED"
	CodeStaleSnapshot        = "STALE_SNAPSHOT"
	CodeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
)

// Error is a business or validation failure that is safe to show to the caller.
type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Kind, and additionally on Code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

func (e *Error) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrValidation = &Error{Kind: KindValidation}
	ErrConflict   = &Error{Kind: KindConflict}
)

func NotFound(resource string, id any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %v not found", resource, id)}
}

func Validation(code string, format string, args ...any) *Error {
	if code == "" {
		code = CodeValidation
	}
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Conflict(code string, format string, args ...any) *Error {
	if code == "" {
		code = CodeConflict
	}
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given business code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
