package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/store"
	"banhang/backend/internal/xid"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestIngredientMovementRollsBackWithUnitOfWork(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	ingredientID := xid.NextID()
	voucher := fmt.Sprintf("IT-RCV-%d", ingredientID)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_transactions WHERE ingredient_id = $1`, ingredientID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ingredients WHERE id = $1`, ingredientID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients (id, code, name, unit, stock)
		VALUES ($1, $2, 'Ca phe IT', 'g', 100)
	`, ingredientID, fmt.Sprintf("IT-%d", ingredientID)); err != nil {
		t.Fatalf("insert ingredient: %v", err)
	}

	errAbort := errors.New("abort")
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.RecordIngredientMovement(ctx, domain.StockTransaction{
			Voucher: voucher, IngredientID: ingredientID, Kind: domain.StockReceive,
			Quantity: 20, QuantityBefore: 100, QuantityAfter: 120, EmployeeID: 1,
		}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}

	ing, err := s.GetIngredient(ctx, ingredientID)
	if err != nil {
		t.Fatalf("get ingredient: %v", err)
	}
	if ing.Stock != 100 {
		t.Fatalf("expected stock 100 after rollback, got %d", ing.Stock)
	}
	exists, err := s.StockVoucherExists(ctx, voucher)
	if err != nil {
		t.Fatalf("voucher exists: %v", err)
	}
	if exists {
		t.Fatalf("expected voucher %s to be rolled back", voucher)
	}

	err = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.RecordIngredientMovement(ctx, domain.StockTransaction{
			Voucher: voucher, IngredientID: ingredientID, Kind: domain.StockIssue,
			Quantity: 5, QuantityBefore: 90, QuantityAfter: 85, EmployeeID: 1,
		})
		return err
	})
	if !errors.Is(err, store.ErrStaleSnapshot) {
		t.Fatalf("expected stale snapshot, got %v", err)
	}
}

func TestInvoiceRoundTripAndPoints(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	productID := xid.NextID()
	customerID := xid.NextID()
	invoiceID := xid.NextID()
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, invoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, price, stock, active)
		VALUES ($1, $2, 'Banh mi IT', 25000, 3, true)
	`, productID, fmt.Sprintf("IT-%d", productID)); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, loyalty_points)
		VALUES ($1, 'Khach IT', 10)
	`, customerID); err != nil {
		t.Fatalf("insert customer: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.AdjustProductStock(ctx, productID, -2); err != nil {
			return err
		}
		if _, err := tx.AdjustCustomerPoints(ctx, customerID, decimal.NewFromInt(-50)); err != nil {
			return err
		}
		_, err := tx.CreateInvoice(ctx, domain.Invoice{
			ID: invoiceID, Code: fmt.Sprintf("HDIT-%d", invoiceID), CustomerID: &customerID,
			EmployeeID: 1, BranchID: 1, CreatedAt: now, UpdatedAt: now, CompletedAt: &now,
			GrossTotal: decimal.NewFromInt(50000), NetTotal: decimal.NewFromInt(50000),
			PaymentMethod: domain.PaymentCash, LoyaltyPoints: decimal.NewFromInt(50),
			Status: domain.InvoiceCompleted,
			Lines: []domain.InvoiceLine{{
				ProductID: productID, Quantity: 2,
				UnitPrice: decimal.NewFromInt(25000), LineTotal: decimal.NewFromInt(50000),
			}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}

	inv, err := s.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		t.Fatalf("find invoice: %v", err)
	}
	if len(inv.Lines) != 1 || inv.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines: %+v", inv.Lines)
	}
	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.LoyaltyPoints.IsZero() {
		t.Fatalf("expected points floored at 0, got %s", customer.LoyaltyPoints)
	}

	err = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.AdjustProductStock(ctx, productID, -2)
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestFailedPromotionLookupLeavesTransactionUsable(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	productID := xid.NextID()
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, price, stock, active)
		VALUES ($1, $2, 'Tra da IT', 5000, 10, true)
	`, productID, fmt.Sprintf("IT-%d", productID)); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetPromotionByCode(ctx, fmt.Sprintf("IT-NONE-%d", productID)); !errors.Is(err, apperror.ErrNotFound) {
			t.Fatalf("expected not found for unknown code, got %v", err)
		}

		pgTx, ok := tx.(*txn)
		if !ok {
			t.Fatalf("expected *txn, got %T", tx)
		}
		err := pgTx.savepoint(ctx, "promotion_lookup", func() error {
			_, err := pgTx.tx.ExecContext(ctx, `SELECT 1 / 0`)
			return err
		})
		if err == nil {
			t.Fatalf("expected division by zero to fail")
		}

		stock, err := tx.AdjustProductStock(ctx, productID, -3)
		if err != nil {
			return err
		}
		if stock != 7 {
			t.Fatalf("expected stock 7 after decrement, got %d", stock)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomic after failed lookup: %v", err)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 7 {
		t.Fatalf("expected committed stock 7, got %d", product.Stock)
	}
}
