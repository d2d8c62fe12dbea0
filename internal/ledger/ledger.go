package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/pagination"
	"banhang/backend/internal/store"
	"banhang/backend/internal/xid"
)

// MaxVoucherAttempts bounds how many codes are tried for one ledger entry
// before the whole request is rejected.
const MaxVoucherAttempts = 10

var voucherPrefix = map[domain.StockKind]string{
	domain.StockReceive: "RCV",
	domain.StockIssue:   "ISS",
	domain.StockAdjust:  "ADJ",
}

type Service struct {
	repo store.Repository
	now  func() time.Time
	log  *zap.Logger
}

func New(repo store.Repository) *Service {
	return &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
		log:  zap.L().Named("ledger"),
	}
}

type movement struct {
	kind         domain.StockKind
	ingredientID int64
	quantity     int
	employeeID   int64
	voucher      string
	note         string
}

func (s *Service) Receive(ctx context.Context, req domain.MovementRequest) (domain.StockTransaction, error) {
	if err := validateMovement(req.IngredientID, req.Quantity, req.EmployeeID, false); err != nil {
		return domain.StockTransaction{}, err
	}
	return s.single(ctx, movement{
		kind: domain.StockReceive, ingredientID: req.IngredientID, quantity: req.Quantity,
		employeeID: req.EmployeeID, voucher: req.Voucher, note: req.Note,
	})
}

func (s *Service) Issue(ctx context.Context, req domain.MovementRequest) (domain.StockTransaction, error) {
	if err := validateMovement(req.IngredientID, req.Quantity, req.EmployeeID, false); err != nil {
		return domain.StockTransaction{}, err
	}
	return s.single(ctx, movement{
		kind: domain.StockIssue, ingredientID: req.IngredientID, quantity: req.Quantity,
		employeeID: req.EmployeeID, voucher: req.Voucher, note: req.Note,
	})
}

func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (domain.StockTransaction, error) {
	if err := validateMovement(req.IngredientID, req.NewQuantity, req.EmployeeID, true); err != nil {
		return domain.StockTransaction{}, err
	}
	return s.single(ctx, movement{
		kind: domain.StockAdjust, ingredientID: req.IngredientID, quantity: req.NewQuantity,
		employeeID: req.EmployeeID, voucher: req.Voucher, note: req.Note,
	})
}

func (s *Service) BatchReceive(ctx context.Context, req domain.BatchRequest) ([]domain.StockTransaction, error) {
	return s.batch(ctx, domain.StockReceive, req)
}

func (s *Service) BatchIssue(ctx context.Context, req domain.BatchRequest) ([]domain.StockTransaction, error) {
	return s.batch(ctx, domain.StockIssue, req)
}

// Reverse undoes the effect of one ledger entry and removes it. A RECEIVE
// whose quantity has since been partly consumed floors the ingredient at zero.
func (s *Service) Reverse(ctx context.Context, transactionID int64) (domain.ReversalResult, error) {
	var result domain.ReversalResult
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		entry, err := tx.FindStockTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		ing, err := tx.GetIngredientForUpdate(ctx, entry.IngredientID)
		if err != nil {
			return err
		}

		restored, clamped := reversedQuantity(*entry, ing.Stock)
		if err := tx.RevertIngredientMovement(ctx, entry.ID, restored); err != nil {
			return err
		}

		result = domain.ReversalResult{Reversed: *entry, QuantityNow: restored}
		if clamped > 0 {
			result.Clamped = true
			result.ClampedAmount = clamped
		}
		return nil
	})
	if err != nil {
		return domain.ReversalResult{}, err
	}

	if result.Clamped {
		s.log.Warn("reversal clamped at zero",
			zap.String("voucher", result.Reversed.Voucher),
			zap.Int64("ingredient_id", result.Reversed.IngredientID),
			zap.Int("received", result.Reversed.Quantity),
			zap.Int("shortfall", result.ClampedAmount),
		)
	}
	return result, nil
}

func (s *Service) History(ctx context.Context, filter domain.StockFilter, page pagination.Params) (pagination.Result[domain.StockTransaction], error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return pagination.Result[domain.StockTransaction]{}, apperror.Validation("", "unknown stock kind %q", filter.Kind)
	}
	page.Validate()

	items, total, err := s.repo.ListStockTransactions(ctx, filter, page)
	if err != nil {
		return pagination.Result[domain.StockTransaction]{}, err
	}
	return pagination.NewResult(items, page, total), nil
}

func (s *Service) single(ctx context.Context, m movement) (domain.StockTransaction, error) {
	var created domain.StockTransaction
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		voucher, err := s.resolveVoucher(ctx, tx, m.kind, m.voucher)
		if err != nil {
			return err
		}
		m.voucher = voucher

		ing, err := tx.GetIngredientForUpdate(ctx, m.ingredientID)
		if err != nil {
			return err
		}
		entry, err := s.apply(ctx, tx, ing, m)
		if err != nil {
			return err
		}
		created = *entry
		return nil
	})
	if err != nil {
		return domain.StockTransaction{}, err
	}
	return created, nil
}

func (s *Service) batch(ctx context.Context, kind domain.StockKind, req domain.BatchRequest) ([]domain.StockTransaction, error) {
	if len(req.Items) == 0 {
		return nil, apperror.Validation(apperror.CodeEmptyCart, "batch has no items")
	}
	for i, item := range req.Items {
		if err := validateMovement(item.IngredientID, item.Quantity, req.EmployeeID, false); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
	}

	created := make([]domain.StockTransaction, 0, len(req.Items))
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		// Every item is checked before the first write.
		ingredients := make(map[int64]*domain.Ingredient, len(req.Items))
		required := make(map[int64]int, len(req.Items))
		for _, item := range req.Items {
			if _, seen := ingredients[item.IngredientID]; !seen {
				ing, err := tx.GetIngredientForUpdate(ctx, item.IngredientID)
				if err != nil {
					return err
				}
				ingredients[item.IngredientID] = ing
			}
			required[item.IngredientID] += item.Quantity
		}
		if kind == domain.StockIssue {
			for _, item := range req.Items {
				ing := ingredients[item.IngredientID]
				if need := required[item.IngredientID]; need > ing.Stock {
					return insufficient(ing, need)
				}
			}
		}

		base := strings.TrimSpace(req.VoucherBase)
		derive := base != "" || len(req.Items) > 1
		if derive && base == "" {
			base = xid.Code(voucherPrefix[kind], s.now())
		}

		for i, item := range req.Items {
			var voucher string
			var err error
			if derive {
				voucher, err = s.derivedVoucher(ctx, tx, base, i+1)
			} else {
				voucher, err = s.resolveVoucher(ctx, tx, kind, "")
			}
			if err != nil {
				return err
			}

			ing, err := tx.GetIngredientForUpdate(ctx, item.IngredientID)
			if err != nil {
				return err
			}
			entry, err := s.apply(ctx, tx, ing, movement{
				kind:         kind,
				ingredientID: item.IngredientID,
				quantity:     item.Quantity,
				employeeID:   req.EmployeeID,
				voucher:      voucher,
				note:         joinNote(req.NotePrefix, item.Note),
			})
			if err != nil {
				return err
			}
			created = append(created, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) apply(ctx context.Context, tx store.Tx, ing *domain.Ingredient, m movement) (*domain.StockTransaction, error) {
	before := ing.Stock
	after := before
	switch m.kind {
	case domain.StockReceive:
		after = before + m.quantity
	case domain.StockIssue:
		if m.quantity > before {
			return nil, insufficient(ing, m.quantity)
		}
		after = before - m.quantity
	case domain.StockAdjust:
		after = m.quantity
	default:
		return nil, apperror.Validation("", "unknown stock kind %q", m.kind)
	}

	return tx.RecordIngredientMovement(ctx, domain.StockTransaction{
		Voucher:        m.voucher,
		IngredientID:   ing.ID,
		CreatedAt:      s.now(),
		Kind:           m.kind,
		Quantity:       m.quantity,
		QuantityBefore: before,
		QuantityAfter:  after,
		EmployeeID:     m.employeeID,
		Note:           m.note,
	})
}

func (s *Service) resolveVoucher(ctx context.Context, tx store.Tx, kind domain.StockKind, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		taken, err := tx.StockVoucherExists(ctx, requested)
		if err != nil {
			return "", err
		}
		if taken {
			return "", apperror.Conflict(apperror.CodeDuplicateVoucher, "voucher %s already exists", requested)
		}
		return requested, nil
	}

	for attempt := 0; attempt < MaxVoucherAttempts; attempt++ {
		candidate := xid.Code(voucherPrefix[kind], s.now())
		taken, err := tx.StockVoucherExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apperror.Conflict(apperror.CodeVoucherExhausted, "could not allocate a %s voucher after %d attempts", kind, MaxVoucherAttempts)
}

// derivedVoucher returns base-index, or base-index-XXXX when that is taken.
func (s *Service) derivedVoucher(ctx context.Context, tx store.Tx, base string, index int) (string, error) {
	derived := fmt.Sprintf("%s-%d", base, index)
	candidate := derived
	for attempt := 0; attempt < MaxVoucherAttempts; attempt++ {
		taken, err := tx.StockVoucherExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%s", derived, xid.Suffix(4))
	}
	return "", apperror.Conflict(apperror.CodeVoucherExhausted, "voucher %s is still in use after %d attempts", derived, MaxVoucherAttempts)
}

// reversedQuantity returns the on-hand value after undoing entry, and how far
// below zero the raw result would have gone.
func reversedQuantity(entry domain.StockTransaction, current int) (int, int) {
	switch entry.Kind {
	case domain.StockReceive:
		restored := current - entry.Quantity
		if restored < 0 {
			return 0, -restored
		}
		return restored, 0
	case domain.StockIssue:
		return current + entry.Quantity, 0
	default:
		return entry.QuantityBefore, 0
	}
}

func validateMovement(ingredientID int64, quantity int, employeeID int64, allowZero bool) error {
	if ingredientID < 1 {
		return apperror.Validation("", "ingredient_id is required")
	}
	if employeeID < 1 {
		return apperror.Validation("", "employee_id is required")
	}
	if quantity < 0 || (quantity == 0 && !allowZero) {
		return apperror.Validation(apperror.CodeInvalidQuantity, "quantity must be positive, got %d", quantity)
	}
	return nil
}

func insufficient(ing *domain.Ingredient, need int) error {
	return apperror.Conflict(apperror.CodeInsufficientStock, "ingredient %s: need %d %s, have %d", ing.Code, need, ing.Unit, ing.Stock)
}

func joinNote(prefix string, note string) string {
	prefix = strings.TrimSpace(prefix)
	note = strings.TrimSpace(note)
	switch {
	case prefix == "":
		return note
	case note == "":
		return prefix
	default:
		return prefix + " " + note
	}
}
