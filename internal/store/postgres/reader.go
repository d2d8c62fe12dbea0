package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"banhang/backend/internal/domain"
)

const (
	productColumns = `SELECT id, code, name, price, stock, active FROM products`

	ingredientColumns = `SELECT id, code, name, unit, stock FROM ingredients`

	customerColumns = `SELECT id, name, coalesce(phone, ''), loyalty_points FROM customers`

	promotionColumns = `
		SELECT id, code, name, type, branch_id, starts_at, ends_at, value,
			min_order_amount, max_discount, buy_quantity, get_quantity,
			usage_limit, usage_count, status
		FROM promotions`

	invoiceColumns = `
		SELECT id, code, customer_id, employee_id, branch_id, created_at, updated_at,
			completed_at, cancelled_at, gross_total, manual_discount, discount_total,
			net_total, coalesce(payment_method, ''), loyalty_points, coalesce(note, ''),
			status, promotion_id, coalesce(promotion_code, '')
		FROM invoices`

	stockColumns = `
		SELECT id, voucher, ingredient_id, created_at, kind, quantity,
			quantity_before, quantity_after, employee_id, coalesce(note, '')
		FROM stock_transactions`
)

type scanner interface {
	Scan(dest ...any) error
}

// reader serves the read side of both the pool and an open transaction.
type reader struct {
	q querier
}

func (r reader) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return r.product(ctx, productColumns+` WHERE id = $1`, id)
}

func (r reader) product(ctx context.Context, query string, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Stock, &p.Active)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &p, nil
}

func (r reader) GetIngredient(ctx context.Context, id int64) (*domain.Ingredient, error) {
	return r.ingredient(ctx, ingredientColumns+` WHERE id = $1`, id)
}

func (r reader) ingredient(ctx context.Context, query string, id int64) (*domain.Ingredient, error) {
	var ing domain.Ingredient
	err := r.q.QueryRowContext(ctx, query, id).Scan(&ing.ID, &ing.Code, &ing.Name, &ing.Unit, &ing.Stock)
	if err != nil {
		return nil, notFound(err, "ingredient", id)
	}
	return &ing, nil
}

func (r reader) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	return r.customer(ctx, customerColumns+` WHERE id = $1`, id)
}

func (r reader) customer(ctx context.Context, query string, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := r.q.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Phone, &c.LoyaltyPoints)
	if err != nil {
		return nil, notFound(err, "customer", id)
	}
	return &c, nil
}

func (r reader) GetPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var (
		p          domain.Promotion
		branchID   sql.NullInt64
		usageLimit sql.NullInt32
	)
	err := r.q.QueryRowContext(ctx, promotionColumns+` WHERE upper(code) = $1`, code).Scan(
		&p.ID, &p.Code, &p.Name, &p.Type, &branchID, &p.StartsAt, &p.EndsAt, &p.Value,
		&p.MinOrderAmount, &p.MaxDiscount, &p.BuyQuantity, &p.GetQuantity,
		&usageLimit, &p.UsageCount, &p.Status,
	)
	if err != nil {
		return nil, notFound(err, "promotion", code)
	}
	if branchID.Valid {
		p.BranchID = &branchID.Int64
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int32)
		p.UsageLimit = &limit
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id
		FROM promotion_products
		WHERE promotion_id = $1
		ORDER BY product_id
	`, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load promotion products")
	}
	defer rows.Close()
	for rows.Next() {
		var productID int64
		if err := rows.Scan(&productID); err != nil {
			return nil, err
		}
		p.ProductIDs = append(p.ProductIDs, productID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r reader) FindInvoiceByID(ctx context.Context, id int64) (*domain.Invoice, error) {
	return r.invoice(ctx, invoiceColumns+` WHERE id = $1`, id)
}

func (r reader) invoice(ctx context.Context, query string, id int64) (*domain.Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}
	invoices := []domain.Invoice{*inv}
	if err := r.attachLines(ctx, r.q, invoices); err != nil {
		return nil, err
	}
	return &invoices[0], nil
}

func (r reader) FindStockTransaction(ctx context.Context, id int64) (*domain.StockTransaction, error) {
	entry, err := scanStockTransaction(r.q.QueryRowContext(ctx, stockColumns+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "stock transaction", id)
	}
	return entry, nil
}

func (r reader) StockVoucherExists(ctx context.Context, voucher string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stock_transactions WHERE voucher = $1)`, voucher).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check voucher")
	}
	return exists, nil
}

func (r reader) attachLines(ctx context.Context, q querier, invoices []domain.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	ids := make([]int64, len(invoices))
	index := make(map[int64]int, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
		index[inv.ID] = i
		invoices[i].Lines = make([]domain.InvoiceLine, 0, 4)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, invoice_id, product_id, quantity, unit_price, line_total, coalesce(note, '')
		FROM invoice_lines
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, line_no
	`, ids)
	if err != nil {
		return errors.Wrap(err, "load invoice lines")
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.LineTotal, &line.Note); err != nil {
			return err
		}
		i := index[line.InvoiceID]
		invoices[i].Lines = append(invoices[i].Lines, line)
	}
	return rows.Err()
}

func scanInvoice(row scanner) (*domain.Invoice, error) {
	var (
		inv         domain.Invoice
		customerID  sql.NullInt64
		promotionID sql.NullInt64
		completedAt sql.NullTime
		cancelledAt sql.NullTime
	)
	err := row.Scan(
		&inv.ID, &inv.Code, &customerID, &inv.EmployeeID, &inv.BranchID, &inv.CreatedAt, &inv.UpdatedAt,
		&completedAt, &cancelledAt, &inv.GrossTotal, &inv.ManualDiscount, &inv.DiscountTotal,
		&inv.NetTotal, &inv.PaymentMethod, &inv.LoyaltyPoints, &inv.Note,
		&inv.Status, &promotionID, &inv.PromotionCode,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		inv.CustomerID = &customerID.Int64
	}
	if promotionID.Valid {
		inv.PromotionID = &promotionID.Int64
	}
	if completedAt.Valid {
		inv.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		inv.CancelledAt = &cancelledAt.Time
	}
	return &inv, nil
}

func scanStockTransaction(row scanner) (*domain.StockTransaction, error) {
	var entry domain.StockTransaction
	err := row.Scan(
		&entry.ID, &entry.Voucher, &entry.IngredientID, &entry.CreatedAt, &entry.Kind, &entry.Quantity,
		&entry.QuantityBefore, &entry.QuantityAfter, &entry.EmployeeID, &entry.Note,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
