package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/pagination"
	"banhang/backend/internal/store"
	"banhang/backend/internal/store/memory"
)

func newTestLedger(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	repo.PutIngredient(domain.Ingredient{ID: 1, Code: "NL001", Name: "Ca phe hat", Unit: "g", Stock: 100})
	repo.PutIngredient(domain.Ingredient{ID: 2, Code: "NL002", Name: "Sua dac", Unit: "ml", Stock: 5})
	repo.PutIngredient(domain.Ingredient{ID: 3, Code: "NL003", Name: "Duong", Unit: "g", Stock: 40})
	return New(repo), repo
}

func stockOf(t *testing.T, repo *memory.Store, id int64) int {
	t.Helper()
	ing, err := repo.GetIngredient(context.Background(), id)
	require.NoError(t, err)
	return ing.Stock
}

func TestReceiveRecordsSnapshots(t *testing.T) {
	svc, repo := newTestLedger(t)

	entry, err := svc.Receive(context.Background(), domain.MovementRequest{IngredientID: 1, Quantity: 25, EmployeeID: 7, Note: "supplier A"})
	require.NoError(t, err)

	assert.Equal(t, domain.StockReceive, entry.Kind)
	assert.Equal(t, 100, entry.QuantityBefore)
	assert.Equal(t, 125, entry.QuantityAfter)
	assert.True(t, strings.HasPrefix(entry.Voucher, "RCV"))
	assert.Equal(t, 125, stockOf(t, repo, 1))
}

func TestIssueInsufficientLeavesStockUnchanged(t *testing.T) {
	svc, repo := newTestLedger(t)

	_, err := svc.Issue(context.Background(), domain.MovementRequest{IngredientID: 2, Quantity: 6, EmployeeID: 7})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, 5, stockOf(t, repo, 2))
}

func TestValidationAndNotFound(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Receive(ctx, domain.MovementRequest{IngredientID: 1, Quantity: 0, EmployeeID: 7})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.Issue(ctx, domain.MovementRequest{IngredientID: 99, Quantity: 1, EmployeeID: 7})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = svc.Adjust(ctx, domain.AdjustRequest{IngredientID: 1, NewQuantity: -1, EmployeeID: 7})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestAdjustSetsAbsoluteQuantity(t *testing.T) {
	svc, repo := newTestLedger(t)

	entry, err := svc.Adjust(context.Background(), domain.AdjustRequest{IngredientID: 1, NewQuantity: 0, EmployeeID: 7})
	require.NoError(t, err)
	assert.Equal(t, 100, entry.QuantityBefore)
	assert.Equal(t, 0, entry.QuantityAfter)
	assert.Equal(t, 0, stockOf(t, repo, 1))
}

func TestDuplicateCallerVoucherIsRejected(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Receive(ctx, domain.MovementRequest{IngredientID: 1, Quantity: 1, EmployeeID: 7, Voucher: "PN-001"})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, domain.MovementRequest{IngredientID: 1, Quantity: 1, EmployeeID: 7, Voucher: "PN-001"})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateVoucher))
}

func TestReverseIsInverse(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	received, err := svc.Receive(ctx, domain.MovementRequest{IngredientID: 1, Quantity: 30, EmployeeID: 7})
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, received.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stockOf(t, repo, 1))

	issued, err := svc.Issue(ctx, domain.MovementRequest{IngredientID: 1, Quantity: 40, EmployeeID: 7})
	require.NoError(t, err)
	res, err := svc.Reverse(ctx, issued.ID)
	require.NoError(t, err)
	assert.False(t, res.Clamped)
	assert.Equal(t, 100, stockOf(t, repo, 1))

	adjusted, err := svc.Adjust(ctx, domain.AdjustRequest{IngredientID: 1, NewQuantity: 7, EmployeeID: 7})
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, adjusted.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stockOf(t, repo, 1))

	_, err = repo.FindStockTransaction(ctx, adjusted.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReverseReceiveClampsAtZero(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	received, err := svc.Receive(ctx, domain.MovementRequest{IngredientID: 2, Quantity: 10, EmployeeID: 7})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, domain.MovementRequest{IngredientID: 2, Quantity: 12, EmployeeID: 7})
	require.NoError(t, err)

	res, err := svc.Reverse(ctx, received.ID)
	require.NoError(t, err)
	assert.True(t, res.Clamped)
	assert.Equal(t, 7, res.ClampedAmount)
	assert.Equal(t, 0, stockOf(t, repo, 2))
}

func TestLatestEntryMatchesOnHand(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Receive(ctx, domain.MovementRequest{IngredientID: 3, Quantity: 10, EmployeeID: 7})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, domain.MovementRequest{IngredientID: 3, Quantity: 15, EmployeeID: 7})
	require.NoError(t, err)
	last, err := svc.Adjust(ctx, domain.AdjustRequest{IngredientID: 3, NewQuantity: 33, EmployeeID: 7})
	require.NoError(t, err)

	ingredientID := int64(3)
	page, err := svc.History(ctx, domain.StockFilter{IngredientID: &ingredientID}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, last.ID, page.Items[0].ID)
	assert.Equal(t, stockOf(t, repo, 3), page.Items[0].QuantityAfter)

	for _, entry := range page.Items {
		switch entry.Kind {
		case domain.StockReceive:
			assert.Equal(t, entry.QuantityBefore+entry.Quantity, entry.QuantityAfter)
		case domain.StockIssue:
			assert.Equal(t, entry.QuantityBefore-entry.Quantity, entry.QuantityAfter)
		case domain.StockAdjust:
			assert.Equal(t, entry.Quantity, entry.QuantityAfter)
		}
	}
}

func TestBatchIssueIsAllOrNothing(t *testing.T) {
	svc, repo := newTestLedger(t)

	_, err := svc.BatchIssue(context.Background(), domain.BatchRequest{
		EmployeeID: 7,
		Items: []domain.BatchItem{
			{IngredientID: 1, Quantity: 10},
			{IngredientID: 2, Quantity: 50},
			{IngredientID: 3, Quantity: 10},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	assert.Equal(t, 100, stockOf(t, repo, 1))
	assert.Equal(t, 5, stockOf(t, repo, 2))
	assert.Equal(t, 40, stockOf(t, repo, 3))
}

func TestBatchIssueAggregatesDuplicateIngredients(t *testing.T) {
	svc, repo := newTestLedger(t)

	_, err := svc.BatchIssue(context.Background(), domain.BatchRequest{
		EmployeeID: 7,
		Items: []domain.BatchItem{
			{IngredientID: 2, Quantity: 3},
			{IngredientID: 2, Quantity: 3},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 5, stockOf(t, repo, 2))
}

func TestBatchReceiveDerivesVouchers(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Receive(ctx, domain.MovementRequest{IngredientID: 1, Quantity: 1, EmployeeID: 7, Voucher: "PN-7-2"})
	require.NoError(t, err)

	entries, err := svc.BatchReceive(ctx, domain.BatchRequest{
		EmployeeID:  7,
		VoucherBase: "PN-7",
		NotePrefix:  "weekly",
		Items: []domain.BatchItem{
			{IngredientID: 1, Quantity: 5, Note: "beans"},
			{IngredientID: 3, Quantity: 5},
		},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "PN-7-1", entries[0].Voucher)
	assert.True(t, strings.HasPrefix(entries[1].Voucher, "PN-7-2-"))
	assert.Equal(t, "weekly beans", entries[0].Note)
	assert.Equal(t, 106, stockOf(t, repo, 1))
	assert.Equal(t, 45, stockOf(t, repo, 3))
}

type saturatedRepo struct {
	*memory.Store
}

func (r saturatedRepo) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return r.Store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, saturatedTx{tx})
	})
}

type saturatedTx struct {
	store.Tx
}

func (saturatedTx) StockVoucherExists(context.Context, string) (bool, error) {
	return true, nil
}

func TestBatchFailsWhenVoucherRetriesExhausted(t *testing.T) {
	_, repo := newTestLedger(t)
	svc := New(saturatedRepo{repo})

	_, err := svc.BatchReceive(context.Background(), domain.BatchRequest{
		EmployeeID: 7,
		Items: []domain.BatchItem{
			{IngredientID: 1, Quantity: 5},
			{IngredientID: 3, Quantity: 5},
		},
	})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeVoucherExhausted))
	assert.Equal(t, 100, stockOf(t, repo, 1))
	assert.Equal(t, 40, stockOf(t, repo, 3))
}
