package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banhang/backend/internal/domain"
)

func TestLocalInvoiceCacheRoundTripAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewLocalInvoiceCache()

	invoices := []domain.Invoice{{ID: 1, Code: "HD1", NetTotal: decimal.NewFromInt(29000), Status: domain.InvoiceCompleted}}
	require.NoError(t, c.Set(ctx, "invoice:1", invoices, time.Minute))

	got, ok, err := c.Get(ctx, "invoice:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "HD1", got[0].Code)
	assert.True(t, got[0].NetTotal.Equal(decimal.NewFromInt(29000)))

	require.NoError(t, c.InvalidateAll(ctx))
	_, ok, err = c.Get(ctx, "invoice:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalInvoiceCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewLocalInvoiceCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []domain.Invoice{}, time.Second))
	now = now.Add(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoopInvoiceCacheNeverHits(t *testing.T) {
	ctx := context.Background()
	var c InvoiceCache = NoopInvoiceCache{}
	require.NoError(t, c.Set(ctx, "k", []domain.Invoice{{ID: 1}}, time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.InvalidateAll(ctx))
}
