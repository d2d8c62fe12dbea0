package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"banhang/backend/internal/domain"
)

// InvoiceCache holds invoice query results. Entries are never updated in
// place: every write path calls InvalidateAll.
type InvoiceCache interface {
	Get(ctx context.Context, key string) ([]domain.Invoice, bool, error)
	Set(ctx context.Context, key string, value []domain.Invoice, ttl time.Duration) error
	InvalidateAll(ctx context.Context) error
}

type NoopInvoiceCache struct{}

func (NoopInvoiceCache) Get(_ context.Context, _ string) ([]domain.Invoice, bool, error) {
	return nil, false, nil
}

func (NoopInvoiceCache) Set(_ context.Context, _ string, _ []domain.Invoice, _ time.Duration) error {
	return nil
}

func (NoopInvoiceCache) InvalidateAll(_ context.Context) error {
	return nil
}

type localEntry struct {
	payload   []byte
	expiresAt time.Time
}

// LocalInvoiceCache is an in-process cache for single-instance deployments.
type LocalInvoiceCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	now     func() time.Time
}

func NewLocalInvoiceCache() *LocalInvoiceCache {
	return &LocalInvoiceCache{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

func (c *LocalInvoiceCache) Get(_ context.Context, key string) ([]domain.Invoice, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	var out []domain.Invoice
	if err := json.Unmarshal(entry.payload, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *LocalInvoiceCache) Set(_ context.Context, key string, value []domain.Invoice, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := localEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *LocalInvoiceCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]localEntry)
	c.mu.Unlock()
	return nil
}
