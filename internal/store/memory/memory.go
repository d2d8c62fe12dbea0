package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/pagination"
	"banhang/backend/internal/store"
	"banhang/backend/internal/xid"
)

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*txn)(nil)
)

type Store struct {
	mu sync.RWMutex
	st state
}

type state struct {
	products        map[int64]domain.Product
	ingredients     map[int64]domain.Ingredient
	customers       map[int64]domain.Customer
	promotions      map[int64]domain.Promotion
	invoices        map[int64]domain.Invoice
	stockTxs        map[int64]domain.StockTransaction
	vouchers        map[string]int64
	promotionByCode map[string]int64
}

func New() *Store {
	return &Store{st: state{
		products:        map[int64]domain.Product{},
		ingredients:     map[int64]domain.Ingredient{},
		customers:       map[int64]domain.Customer{},
		promotions:      map[int64]domain.Promotion{},
		invoices:        map[int64]domain.Invoice{},
		stockTxs:        map[int64]domain.StockTransaction{},
		vouchers:        map[string]int64{},
		promotionByCode: map[string]int64{},
	}}
}

// NewSeeded returns a store with demo master data for local runs.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, p := range []domain.Product{
		{ID: 1, Code: "SP001", Name: "Ca phe sua da", Price: decimal.NewFromInt(29000), Stock: 200, Active: true},
		{ID: 2, Code: "SP002", Name: "Tra dao cam sa", Price: decimal.NewFromInt(35000), Stock: 150, Active: true},
		{ID: 3, Code: "SP003", Name: "Banh mi thit", Price: decimal.NewFromInt(25000), Stock: 80, Active: true},
		{ID: 4, Code: "SP004", Name: "Banh croissant", Price: decimal.NewFromInt(32000), Stock: 40, Active: true},
		{ID: 5, Code: "SP005", Name: "Nuoc suoi", Price: decimal.NewFromInt(10000), Stock: 300, Active: true},
	} {
		s.PutProduct(p)
	}

	for _, ing := range []domain.Ingredient{
		{ID: 1, Code: "NL001", Name: "Ca phe hat", Unit: "g", Stock: 5000},
		{ID: 2, Code: "NL002", Name: "Sua dac", Unit: "ml", Stock: 3000},
		{ID: 3, Code: "NL003", Name: "Dao ngam", Unit: "g", Stock: 1200},
		{ID: 4, Code: "NL004", Name: "Bot mi", Unit: "g", Stock: 8000},
	} {
		s.PutIngredient(ing)
	}

	s.PutCustomer(domain.Customer{ID: 1, Name: "Nguyen Van A", Phone: "0901000001", LoyaltyPoints: decimal.NewFromInt(100)})
	s.PutCustomer(domain.Customer{ID: 2, Name: "Tran Thi B", Phone: "0901000002", LoyaltyPoints: decimal.Zero})

	limit := 500
	s.PutPromotion(domain.Promotion{
		ID: 1, Code: "GIAM10", Name: "Giam 10%", Type: domain.PromotionPercentage,
		StartsAt: now.AddDate(0, -1, 0), EndsAt: now.AddDate(0, 3, 0),
		Value:       decimal.NewFromInt(10),
		MaxDiscount: decimal.NewNullDecimal(decimal.NewFromInt(50000)),
		UsageLimit:  &limit, Status: domain.PromotionActive,
	})
	s.PutPromotion(domain.Promotion{
		ID: 2, Code: "MUA2TANG1", Name: "Mua 2 tang 1 ca phe", Type: domain.PromotionBuyXGetY,
		StartsAt: now.AddDate(0, -1, 0), EndsAt: now.AddDate(0, 1, 0),
		BuyQuantity: 2, GetQuantity: 1, ProductIDs: []int64{1},
		Status: domain.PromotionActive,
	})
	s.PutPromotion(domain.Promotion{
		ID: 3, Code: "COMBOSANG", Name: "Combo sang", Type: domain.PromotionBundle,
		StartsAt: now.AddDate(0, -1, 0), EndsAt: now.AddDate(0, 1, 0),
		Value: decimal.NewFromInt(45000), ProductIDs: []int64{1, 3},
		Status: domain.PromotionActive,
	})

	return s
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) PutIngredient(ing domain.Ingredient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ingredients[ing.ID] = ing
}

func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[c.ID] = c
}

func (s *Store) PutPromotion(p domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.st.promotions[p.ID]; ok {
		delete(s.st.promotionByCode, normalizeCode(old.Code))
	}
	s.st.promotions[p.ID] = clonePromotion(p)
	s.st.promotionByCode[normalizeCode(p.Code)] = p.ID
}

func (s *Store) Close() error {
	return nil
}

// Atomic serializes units of work behind the write lock and restores the
// pre-call state when fn fails.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, &txn{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.product(id)
}

func (s *Store) GetIngredient(_ context.Context, id int64) (*domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ingredient(id)
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.customer(id)
}

func (s *Store) GetPromotionByCode(_ context.Context, code string) (*domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.promotionByCodeLookup(code)
}

func (s *Store) FindInvoiceByID(_ context.Context, id int64) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.invoice(id)
}

func (s *Store) FindStockTransaction(_ context.Context, id int64) (*domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.stockTransaction(id)
}

func (s *Store) StockVoucherExists(_ context.Context, voucher string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.st.vouchers[voucher]
	return ok, nil
}

func (s *Store) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Invoice, 0, 32)
	for _, inv := range s.st.invoices {
		if filter.From != nil && inv.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !inv.CreatedAt.Before(*filter.To) {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.BranchID != nil && inv.BranchID != *filter.BranchID {
			continue
		}
		if filter.CustomerID != nil && (inv.CustomerID == nil || *inv.CustomerID != *filter.CustomerID) {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListStockTransactions(_ context.Context, filter domain.StockFilter, page pagination.Params) ([]domain.StockTransaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.StockTransaction, 0, 32)
	for _, entry := range s.st.stockTxs {
		if filter.IngredientID != nil && entry.IngredientID != *filter.IngredientID {
			continue
		}
		if filter.Kind != "" && entry.Kind != filter.Kind {
			continue
		}
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := page.Offset()
	if start >= len(matched) {
		return []domain.StockTransaction{}, total, nil
	}
	end := start + page.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return slices.Clone(matched[start:end]), total, nil
}

func (s *Store) IncrementPromotionUsage(_ context.Context, promotionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range promotionIDs {
		promo, ok := s.st.promotions[id]
		if !ok {
			continue
		}
		if promo.UsageLimit != nil && promo.UsageCount >= *promo.UsageLimit {
			continue
		}
		promo.UsageCount++
		s.st.promotions[id] = promo
	}
	return nil
}

func (s *Store) ExpirePromotions(_ context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, promo := range s.st.promotions {
		if promo.Status == domain.PromotionActive && promo.EndsAt.Before(at) {
			promo.Status = domain.PromotionInactive
			s.st.promotions[id] = promo
			expired++
		}
	}
	return expired, nil
}

// txn reads and writes the shared state directly; the caller holds s.mu.
type txn struct {
	st *state
}

func (t *txn) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	return t.st.product(id)
}

func (t *txn) GetIngredient(_ context.Context, id int64) (*domain.Ingredient, error) {
	return t.st.ingredient(id)
}

func (t *txn) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	return t.st.customer(id)
}

func (t *txn) GetPromotionByCode(_ context.Context, code string) (*domain.Promotion, error) {
	return t.st.promotionByCodeLookup(code)
}

func (t *txn) FindInvoiceByID(_ context.Context, id int64) (*domain.Invoice, error) {
	return t.st.invoice(id)
}

func (t *txn) FindStockTransaction(_ context.Context, id int64) (*domain.StockTransaction, error) {
	return t.st.stockTransaction(id)
}

func (t *txn) StockVoucherExists(_ context.Context, voucher string) (bool, error) {
	_, ok := t.st.vouchers[voucher]
	return ok, nil
}

func (t *txn) GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *txn) AdjustProductStock(_ context.Context, id int64, delta int) (int, error) {
	product, ok := t.st.products[id]
	if !ok {
		return 0, apperror.NotFound("product", id)
	}
	next := product.Stock + delta
	if next < 0 {
		return product.Stock, store.ErrInsufficientStock
	}
	product.Stock = next
	t.st.products[id] = product
	return next, nil
}

func (t *txn) GetIngredientForUpdate(ctx context.Context, id int64) (*domain.Ingredient, error) {
	return t.GetIngredient(ctx, id)
}

func (t *txn) RecordIngredientMovement(_ context.Context, entry domain.StockTransaction) (*domain.StockTransaction, error) {
	ing, ok := t.st.ingredients[entry.IngredientID]
	if !ok {
		return nil, apperror.NotFound("ingredient", entry.IngredientID)
	}
	if ing.Stock != entry.QuantityBefore {
		return nil, store.ErrStaleSnapshot
	}
	if entry.QuantityAfter < 0 || entry.Voucher == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, taken := t.st.vouchers[entry.Voucher]; taken {
		return nil, apperror.Conflict(apperror.CodeDuplicateVoucher, "voucher %s already exists", entry.Voucher)
	}
	if entry.ID == 0 {
		entry.ID = xid.NextID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	ing.Stock = entry.QuantityAfter
	t.st.ingredients[ing.ID] = ing
	t.st.stockTxs[entry.ID] = entry
	t.st.vouchers[entry.Voucher] = entry.ID

	created := entry
	return &created, nil
}

func (t *txn) RevertIngredientMovement(_ context.Context, entryID int64, restored int) error {
	entry, ok := t.st.stockTxs[entryID]
	if !ok {
		return apperror.NotFound("stock transaction", entryID)
	}
	ing, ok := t.st.ingredients[entry.IngredientID]
	if !ok {
		return apperror.NotFound("ingredient", entry.IngredientID)
	}
	if restored < 0 {
		return store.ErrInvalidTransaction
	}

	ing.Stock = restored
	t.st.ingredients[ing.ID] = ing
	delete(t.st.stockTxs, entryID)
	delete(t.st.vouchers, entry.Voucher)
	return nil
}

func (t *txn) GetCustomerForUpdate(ctx context.Context, id int64) (*domain.Customer, error) {
	return t.GetCustomer(ctx, id)
}

func (t *txn) AdjustCustomerPoints(_ context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	customer, ok := t.st.customers[id]
	if !ok {
		return decimal.Zero, apperror.NotFound("customer", id)
	}
	next := customer.LoyaltyPoints.Add(delta)
	if next.IsNegative() {
		next = decimal.Zero
	}
	customer.LoyaltyPoints = next
	t.st.customers[id] = customer
	return next, nil
}

func (t *txn) FindInvoiceForUpdate(ctx context.Context, id int64) (*domain.Invoice, error) {
	return t.FindInvoiceByID(ctx, id)
}

func (t *txn) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.ID == 0 {
		invoice.ID = xid.NextID()
	}
	if _, exists := t.st.invoices[invoice.ID]; exists {
		return nil, apperror.Conflict("", "invoice %d already exists", invoice.ID)
	}
	for _, existing := range t.st.invoices {
		if existing.Code == invoice.Code {
			return nil, apperror.Conflict("", "invoice code %s already exists", invoice.Code)
		}
	}
	invoice.Lines = assignLineIDs(invoice.ID, invoice.Lines)
	t.st.invoices[invoice.ID] = cloneInvoice(invoice)
	created := cloneInvoice(invoice)
	return &created, nil
}

func (t *txn) UpdateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if _, ok := t.st.invoices[invoice.ID]; !ok {
		return nil, apperror.NotFound("invoice", invoice.ID)
	}
	invoice.Lines = assignLineIDs(invoice.ID, invoice.Lines)
	t.st.invoices[invoice.ID] = cloneInvoice(invoice)
	updated := cloneInvoice(invoice)
	return &updated, nil
}

func (st *state) product(id int64) (*domain.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return nil, apperror.NotFound("product", id)
	}
	return &p, nil
}

func (st *state) ingredient(id int64) (*domain.Ingredient, error) {
	ing, ok := st.ingredients[id]
	if !ok {
		return nil, apperror.NotFound("ingredient", id)
	}
	return &ing, nil
}

func (st *state) customer(id int64) (*domain.Customer, error) {
	c, ok := st.customers[id]
	if !ok {
		return nil, apperror.NotFound("customer", id)
	}
	return &c, nil
}

func (st *state) promotionByCodeLookup(code string) (*domain.Promotion, error) {
	id, ok := st.promotionByCode[normalizeCode(code)]
	if !ok {
		return nil, apperror.NotFound("promotion", code)
	}
	promo := clonePromotion(st.promotions[id])
	return &promo, nil
}

func (st *state) invoice(id int64) (*domain.Invoice, error) {
	inv, ok := st.invoices[id]
	if !ok {
		return nil, apperror.NotFound("invoice", id)
	}
	dup := cloneInvoice(inv)
	return &dup, nil
}

func (st *state) stockTransaction(id int64) (*domain.StockTransaction, error) {
	entry, ok := st.stockTxs[id]
	if !ok {
		return nil, apperror.NotFound("stock transaction", id)
	}
	return &entry, nil
}

func (st *state) clone() state {
	dup := state{
		products:        make(map[int64]domain.Product, len(st.products)),
		ingredients:     make(map[int64]domain.Ingredient, len(st.ingredients)),
		customers:       make(map[int64]domain.Customer, len(st.customers)),
		promotions:      make(map[int64]domain.Promotion, len(st.promotions)),
		invoices:        make(map[int64]domain.Invoice, len(st.invoices)),
		stockTxs:        make(map[int64]domain.StockTransaction, len(st.stockTxs)),
		vouchers:        make(map[string]int64, len(st.vouchers)),
		promotionByCode: make(map[string]int64, len(st.promotionByCode)),
	}
	for k, v := range st.products {
		dup.products[k] = v
	}
	for k, v := range st.ingredients {
		dup.ingredients[k] = v
	}
	for k, v := range st.customers {
		dup.customers[k] = v
	}
	for k, v := range st.promotions {
		dup.promotions[k] = clonePromotion(v)
	}
	for k, v := range st.invoices {
		dup.invoices[k] = cloneInvoice(v)
	}
	for k, v := range st.stockTxs {
		dup.stockTxs[k] = v
	}
	for k, v := range st.vouchers {
		dup.vouchers[k] = v
	}
	for k, v := range st.promotionByCode {
		dup.promotionByCode[k] = v
	}
	return dup
}

func assignLineIDs(invoiceID int64, lines []domain.InvoiceLine) []domain.InvoiceLine {
	out := make([]domain.InvoiceLine, len(lines))
	for i, line := range lines {
		if line.ID == 0 {
			line.ID = xid.NextID()
		}
		line.InvoiceID = invoiceID
		out[i] = line
	}
	return out
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	if src.CustomerID != nil {
		id := *src.CustomerID
		dup.CustomerID = &id
	}
	if src.PromotionID != nil {
		id := *src.PromotionID
		dup.PromotionID = &id
	}
	if src.CompletedAt != nil {
		at := *src.CompletedAt
		dup.CompletedAt = &at
	}
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dup.CancelledAt = &at
	}
	return dup
}

func clonePromotion(src domain.Promotion) domain.Promotion {
	dup := src
	dup.ProductIDs = slices.Clone(src.ProductIDs)
	if src.BranchID != nil {
		id := *src.BranchID
		dup.BranchID = &id
	}
	if src.UsageLimit != nil {
		limit := *src.UsageLimit
		dup.UsageLimit = &limit
	}
	return dup
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
