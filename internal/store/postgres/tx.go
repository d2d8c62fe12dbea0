package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/store"
	"banhang/backend/internal/xid"
)

// txn is one serializable transaction. Rows read "for update" stay locked
// until commit or rollback.
type txn struct {
	reader
	tx *sql.Tx
}

// GetPromotionByCode runs under a savepoint so a failed lookup leaves the
// transaction usable for the rest of the checkout.
func (t *txn) GetPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	var promo *domain.Promotion
	err := t.savepoint(ctx, "promotion_lookup", func() error {
		var err error
		promo, err = t.reader.GetPromotionByCode(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return promo, nil
}

// savepoint rolls back only the statements fn ran when fn fails.
func (t *txn) savepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT `+name); err != nil {
		return errors.Wrapf(err, "savepoint %s", name)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT `+name); rbErr != nil {
			return errors.Wrapf(rbErr, "rollback to savepoint %s after %v", name, err)
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT `+name); err != nil {
		return errors.Wrapf(err, "release savepoint %s", name)
	}
	return nil
}

func (t *txn) GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	return t.product(ctx, productColumns+` WHERE id = $1 FOR UPDATE`, id)
}

func (t *txn) AdjustProductStock(ctx context.Context, id int64, delta int) (int, error) {
	var stock int
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock
	`, id, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(err, "adjust stock of product %d", id)
	}

	current, err := t.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	return current.Stock, store.ErrInsufficientStock
}

func (t *txn) GetIngredientForUpdate(ctx context.Context, id int64) (*domain.Ingredient, error) {
	return t.ingredient(ctx, ingredientColumns+` WHERE id = $1 FOR UPDATE`, id)
}

func (t *txn) RecordIngredientMovement(ctx context.Context, entry domain.StockTransaction) (*domain.StockTransaction, error) {
	if entry.QuantityAfter < 0 || entry.Voucher == "" {
		return nil, store.ErrInvalidTransaction
	}
	if entry.ID == 0 {
		entry.ID = xid.NextID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE ingredients
		SET stock = $3, updated_at = now()
		WHERE id = $1 AND stock = $2
	`, entry.IngredientID, entry.QuantityBefore, entry.QuantityAfter)
	if err != nil {
		return nil, errors.Wrapf(err, "update stock of ingredient %d", entry.IngredientID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := t.GetIngredient(ctx, entry.IngredientID); err != nil {
			return nil, err
		}
		return nil, store.ErrStaleSnapshot
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO stock_transactions (
			id, voucher, ingredient_id, created_at, kind, quantity,
			quantity_before, quantity_after, employee_id, note
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.Voucher, entry.IngredientID, entry.CreatedAt, string(entry.Kind), entry.Quantity,
		entry.QuantityBefore, entry.QuantityAfter, entry.EmployeeID, nullIfEmpty(entry.Note))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict(apperror.CodeDuplicateVoucher, "voucher %s already exists", entry.Voucher)
		}
		return nil, errors.Wrap(err, "insert stock transaction")
	}

	created := entry
	return &created, nil
}

func (t *txn) RevertIngredientMovement(ctx context.Context, entryID int64, restored int) error {
	if restored < 0 {
		return store.ErrInvalidTransaction
	}

	var ingredientID int64
	err := t.tx.QueryRowContext(ctx, `
		DELETE FROM stock_transactions
		WHERE id = $1
		RETURNING ingredient_id
	`, entryID).Scan(&ingredientID)
	if err != nil {
		return notFound(err, "stock transaction", entryID)
	}

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE ingredients
		SET stock = $2, updated_at = now()
		WHERE id = $1
	`, ingredientID, restored); err != nil {
		return errors.Wrapf(err, "restore stock of ingredient %d", ingredientID)
	}
	return nil
}

func (t *txn) GetCustomerForUpdate(ctx context.Context, id int64) (*domain.Customer, error) {
	return t.customer(ctx, customerColumns+` WHERE id = $1 FOR UPDATE`, id)
}

func (t *txn) AdjustCustomerPoints(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE customers
		SET loyalty_points = greatest(loyalty_points + $2, 0)
		WHERE id = $1
		RETURNING loyalty_points
	`, id, delta).Scan(&balance)
	if err != nil {
		return decimal.Zero, notFound(err, "customer", id)
	}
	return balance, nil
}

func (t *txn) FindInvoiceForUpdate(ctx context.Context, id int64) (*domain.Invoice, error) {
	return t.invoice(ctx, invoiceColumns+` WHERE id = $1 FOR UPDATE`, id)
}

func (t *txn) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.ID == 0 {
		invoice.ID = xid.NextID()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, code, customer_id, employee_id, branch_id, created_at, updated_at,
			completed_at, cancelled_at, gross_total, manual_discount, discount_total,
			net_total, payment_method, loyalty_points, note, status, promotion_id, promotion_code
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, invoice.ID, invoice.Code, nullInt64(invoice.CustomerID), invoice.EmployeeID, invoice.BranchID,
		invoice.CreatedAt, invoice.UpdatedAt, nullTime(invoice.CompletedAt), nullTime(invoice.CancelledAt),
		invoice.GrossTotal, invoice.ManualDiscount, invoice.DiscountTotal, invoice.NetTotal,
		nullIfEmpty(string(invoice.PaymentMethod)), invoice.LoyaltyPoints, nullIfEmpty(invoice.Note),
		string(invoice.Status), nullInt64(invoice.PromotionID), nullIfEmpty(invoice.PromotionCode))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("", "invoice %s already exists", invoice.Code)
		}
		return nil, errors.Wrap(err, "insert invoice")
	}

	lines, err := t.insertLines(ctx, invoice.ID, invoice.Lines)
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines
	return &invoice, nil
}

func (t *txn) UpdateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE invoices
		SET customer_id = $2, updated_at = $3, completed_at = $4, cancelled_at = $5,
			gross_total = $6, manual_discount = $7, discount_total = $8, net_total = $9,
			payment_method = $10, loyalty_points = $11, note = $12, status = $13,
			promotion_id = $14, promotion_code = $15
		WHERE id = $1
	`, invoice.ID, nullInt64(invoice.CustomerID), invoice.UpdatedAt, nullTime(invoice.CompletedAt),
		nullTime(invoice.CancelledAt), invoice.GrossTotal, invoice.ManualDiscount, invoice.DiscountTotal,
		invoice.NetTotal, nullIfEmpty(string(invoice.PaymentMethod)), invoice.LoyaltyPoints,
		nullIfEmpty(invoice.Note), string(invoice.Status), nullInt64(invoice.PromotionID),
		nullIfEmpty(invoice.PromotionCode))
	if err != nil {
		return nil, errors.Wrap(err, "update invoice")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, apperror.NotFound("invoice", invoice.ID)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, invoice.ID); err != nil {
		return nil, errors.Wrap(err, "replace invoice lines")
	}
	lines, err := t.insertLines(ctx, invoice.ID, invoice.Lines)
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines
	return &invoice, nil
}

func (t *txn) insertLines(ctx context.Context, invoiceID int64, lines []domain.InvoiceLine) ([]domain.InvoiceLine, error) {
	out := make([]domain.InvoiceLine, len(lines))
	for i, line := range lines {
		line.ID = xid.NextID()
		line.InvoiceID = invoiceID
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO invoice_lines (id, invoice_id, line_no, product_id, quantity, unit_price, line_total, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, line.ID, invoiceID, i+1, line.ProductID, line.Quantity, line.UnitPrice, line.LineTotal, nullIfEmpty(line.Note)); err != nil {
			return nil, errors.Wrapf(err, "insert line %d of invoice %d", i+1, invoiceID)
		}
		out[i] = line
	}
	return out, nil
}
