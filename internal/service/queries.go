package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
)

const dayLayout = "2006-01-02"

func (s *Service) GetInvoice(ctx context.Context, id int64) (domain.Invoice, error) {
	items, err := s.cached(ctx, fmt.Sprintf("invoice:%d", id), func(ctx context.Context) ([]domain.Invoice, error) {
		invoice, err := s.repo.FindInvoiceByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return []domain.Invoice{*invoice}, nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	if len(items) == 0 {
		return domain.Invoice{}, apperror.NotFound("invoice", id)
	}
	return items[0], nil
}

// GetInvoicesByDate lists invoices created on the calendar day of day, in
// day's location.
func (s *Service) GetInvoicesByDate(ctx context.Context, day time.Time) ([]domain.Invoice, error) {
	if day.IsZero() {
		return nil, apperror.Validation(apperror.CodeInvalidDateRange, "date is required")
	}
	from := startOfDay(day)
	to := from.AddDate(0, 0, 1)
	return s.cached(ctx, "date:"+from.Format(dayLayout), func(ctx context.Context) ([]domain.Invoice, error) {
		return s.repo.ListInvoices(ctx, domain.InvoiceFilter{From: &from, To: &to})
	})
}

// GetInvoicesByDateRange lists invoices created from the start of from's day
// through the end of to's day.
func (s *Service) GetInvoicesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Invoice, error) {
	if from.IsZero() || to.IsZero() {
		return nil, apperror.Validation(apperror.CodeInvalidDateRange, "from and to are required")
	}
	start := startOfDay(from)
	end := startOfDay(to).AddDate(0, 0, 1)
	if !end.After(start) {
		return nil, apperror.Validation(apperror.CodeInvalidDateRange, "from %s is after to %s", from.Format(dayLayout), to.Format(dayLayout))
	}
	key := fmt.Sprintf("range:%s:%s", start.Format(dayLayout), to.Format(dayLayout))
	return s.cached(ctx, key, func(ctx context.Context) ([]domain.Invoice, error) {
		return s.repo.ListInvoices(ctx, domain.InvoiceFilter{From: &start, To: &end})
	})
}

// GetPendingInvoices lists held bills of a branch, or of every branch when
// branchID is zero.
func (s *Service) GetPendingInvoices(ctx context.Context, branchID int64) ([]domain.Invoice, error) {
	if branchID < 0 {
		return nil, apperror.Validation("", "branch_id must not be negative")
	}
	filter := domain.InvoiceFilter{Status: domain.InvoicePending}
	if branchID > 0 {
		filter.BranchID = &branchID
	}
	return s.cached(ctx, fmt.Sprintf("pending:%d", branchID), func(ctx context.Context) ([]domain.Invoice, error) {
		return s.repo.ListInvoices(ctx, filter)
	})
}

func (s *Service) GetInvoicesByCustomer(ctx context.Context, customerID int64) ([]domain.Invoice, error) {
	if customerID < 1 {
		return nil, apperror.Validation("", "customer_id is required")
	}
	return s.cached(ctx, fmt.Sprintf("customer:%d", customerID), func(ctx context.Context) ([]domain.Invoice, error) {
		return s.repo.ListInvoices(ctx, domain.InvoiceFilter{CustomerID: &customerID})
	})
}

// cached serves key from the invoice cache, loading it at most once per
// cache generation. A load that races with a write is returned but not
// left in the cache.
func (s *Service) cached(ctx context.Context, key string, load func(context.Context) ([]domain.Invoice, error)) ([]domain.Invoice, error) {
	items, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("invoice cache read failed", zap.String("key", key), zap.Error(err))
	}
	if err == nil && hit {
		return items, nil
	}

	generation := s.generation.Load()
	value, err, _ := s.flights.Do(fmt.Sprintf("%d/%s", generation, key), func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = []domain.Invoice{}
		}
		if s.generation.Load() != generation {
			return loaded, nil
		}
		if err := s.cache.Set(ctx, key, loaded, s.cacheTTL); err != nil {
			s.log.Warn("invoice cache write failed", zap.String("key", key), zap.Error(err))
		}
		// A write that landed during Set may have invalidated before the entry existed.
		if s.generation.Load() != generation {
			if err := s.cache.InvalidateAll(ctx); err != nil {
				s.log.Warn("invoice cache invalidation failed", zap.String("key", key), zap.Error(err))
			}
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]domain.Invoice), nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
