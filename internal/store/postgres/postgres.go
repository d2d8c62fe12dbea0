package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"banhang/backend/internal/apperror"
	"banhang/backend/internal/domain"
	"banhang/backend/internal/pagination"
	"banhang/backend/internal/store"
)

//go:embed schema.sql
var schema string

const maxSerializationRetries = 3

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*txn)(nil)
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	reader
	db  *sql.DB
	log *zap.Logger
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{reader: reader{q: db}, db: db, log: zap.L().Named("postgres")}, nil
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic runs fn in a serializable transaction, retrying it from the start
// when postgres aborts it for a serialization conflict.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxSerializationRetries; attempt++ {
		err = s.atomicOnce(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
		s.log.Debug("retrying serializable transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (s *Store) atomicOnce(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, &txn{reader: reader{q: pgTx}, tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 5)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.From != nil {
		add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		add("created_at < ?", *filter.To)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.BranchID != nil {
		add("branch_id = ?", *filter.BranchID)
	}
	if filter.CustomerID != nil {
		add("customer_id = ?", *filter.CustomerID)
	}

	query := invoiceColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 32)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachLines(ctx, s.db, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) ListStockTransactions(ctx context.Context, filter domain.StockFilter, page pagination.Params) ([]domain.StockTransaction, int64, error) {
	var ingredientID any
	if filter.IngredientID != nil {
		ingredientID = *filter.IngredientID
	}
	kind := nullIfEmpty(string(filter.Kind))

	var total int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM stock_transactions
		WHERE ($1::bigint IS NULL OR ingredient_id = $1) AND ($2::text IS NULL OR kind = $2)
	`, ingredientID, kind).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count stock transactions")
	}

	rows, err := s.db.QueryContext(ctx, stockColumns+`
		WHERE ($1::bigint IS NULL OR ingredient_id = $1) AND ($2::text IS NULL OR kind = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, ingredientID, kind, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "list stock transactions")
	}
	defer rows.Close()

	entries := make([]domain.StockTransaction, 0, page.PerPage)
	for rows.Next() {
		entry, err := scanStockTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) IncrementPromotionUsage(ctx context.Context, promotionIDs []int64) error {
	if len(promotionIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE promotions
		SET usage_count = usage_count + 1
		WHERE id = ANY($1) AND (usage_limit IS NULL OR usage_count < usage_limit)
	`, promotionIDs)
	if err != nil {
		return errors.Wrap(err, "increment promotion usage")
	}
	return nil
}

func (s *Store) ExpirePromotions(ctx context.Context, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE promotions
		SET status = $1
		WHERE status = $2 AND ends_at < $3
	`, string(domain.PromotionInactive), string(domain.PromotionActive), at)
	if err != nil {
		return 0, errors.Wrap(err, "expire promotions")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func notFound(err error, resource string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound(resource, id)
	}
	return errors.Wrapf(err, "load %s %v", resource, id)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
