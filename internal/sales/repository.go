package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigor-gym/vigor/internal/shared"
)

// Repository persists sales, payments and refunds in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("sales: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const saleColumns = `s.id, s.sale_number, s.customer_id, COALESCE(c.full_name, ''),
	s.sale_type, s.status, s.payment_status, s.subtotal, s.tax_amount,
	s.discount_amount, s.total, s.paid_amount, s.pending_amount,
	s.refund_amount, s.expires_at,
	COALESCE(s.notes, ''), s.created_by, s.created_at, s.updated_at, s.updated_by`

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(
		&s.ID, &s.SaleNumber, &s.CustomerID, &s.CustomerName,
		&s.Type, &s.Status, &s.PaymentStatus, &s.Subtotal, &s.TaxAmount,
		&s.DiscountAmount, &s.Total, &s.PaidAmount, &s.PendingAmount,
		&s.RefundAmount, &s.ExpiresAt,
		&s.Notes, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &s.UpdatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("sales: scan sale: %w", err)
	}
	return s, nil
}

func loadSale(ctx context.Context, q rowQuerier, id string, forUpdate bool) (Sale, error) {
	query := `SELECT ` + saleColumns + `
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF s`
	}
	sale, err := scanSale(q.QueryRow(ctx, query, id))
	if err != nil {
		return Sale{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price,
			tax_rate, tax_amount, total_price
		FROM sale_items WHERE sale_id = $1 ORDER BY product_name`, id)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.ProductName,
			&it.Quantity, &it.UnitPrice, &it.TaxRate, &it.TaxAmount, &it.TotalPrice); err != nil {
			return Sale{}, fmt.Errorf("sales: scan item: %w", err)
		}
		sale.Items = append(sale.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Sale{}, err
	}

	payRows, err := q.Query(ctx, `
		SELECT id, sale_id, payment_method, amount, paid_at, created_by
		FROM sale_payment_details WHERE sale_id = $1 ORDER BY paid_at`, id)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: load payments: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var p PaymentDetail
		if err := payRows.Scan(&p.ID, &p.SaleID, &p.Method, &p.Amount, &p.PaidAt, &p.CreatedBy); err != nil {
			return Sale{}, fmt.Errorf("sales: scan payment: %w", err)
		}
		sale.Payments = append(sale.Payments, p)
	}
	return sale, payRows.Err()
}

// GetSale returns one sale with its items and payments.
func (r *Repository) GetSale(ctx context.Context, id string) (Sale, error) {
	return loadSale(ctx, r.pool, id, false)
}

// ListSales returns sales matching the filter, newest first. Items and
// payments are not loaded for listings.
func (r *Repository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	where := ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND s.status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where += fmt.Sprintf(" AND s.sale_type = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales s`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sales: count: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+`
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id`+where+
		fmt.Sprintf(` ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sales: list: %w", err)
	}
	defer rows.Close()

	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// ListExpiredLayaways returns pending layaways whose pickup deadline
// passed, items included so the caller can release reservations.
func (r *Repository) ListExpiredLayaways(ctx context.Context, before string) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id FROM sales s
		WHERE s.sale_type = 'apartado' AND s.status = 'pendiente'
		AND s.expires_at IS NOT NULL AND s.expires_at < $1
		ORDER BY s.expires_at`, before)
	if err != nil {
		return nil, fmt.Errorf("sales: list expired: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Sale, 0, len(ids))
	for _, id := range ids {
		sale, err := loadSale(ctx, r.pool, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, nil
}

// GetSaleForUpdate loads one sale with items under FOR UPDATE.
func (r *txRepo) GetSaleForUpdate(ctx context.Context, id string) (Sale, error) {
	return loadSale(ctx, r.tx, id, true)
}

// CountSalesWithPrefix counts sales whose number carries the day prefix.
// An advisory lock on the prefix serializes concurrent transactions
// minting the same day's numbers; RepeatableRead alone would let two of
// them count the same N and collide.
func (r *txRepo) CountSalesWithPrefix(ctx context.Context, prefix string) (int, error) {
	if _, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, prefix); err != nil {
		return 0, fmt.Errorf("sales: lock prefix: %w", err)
	}
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM sales WHERE sale_number LIKE $1 || '%'`, prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sales: count prefix: %w", err)
	}
	return n, nil
}

// InsertSale writes the sale header.
func (r *txRepo) InsertSale(ctx context.Context, s Sale, stamp shared.AuditStamp) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO sales
			(id, sale_number, customer_id, sale_type, status, payment_status,
			 subtotal, tax_amount, discount_amount, total, paid_amount,
			 pending_amount, refund_amount, expires_at, notes,
			 created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			NULLIF($15, ''), $16, COALESCE($17, NOW()), $18, COALESCE($19, NOW()))`,
		s.ID, s.SaleNumber, s.CustomerID, s.Type, s.Status, s.PaymentStatus,
		s.Subtotal, s.TaxAmount, s.DiscountAmount, s.Total, s.PaidAmount,
		s.PendingAmount, s.RefundAmount, s.ExpiresAt, s.Notes,
		s.CreatedBy, stamp.CreatedAt, stamp.UpdatedBy, stamp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sales: insert sale: %w", err)
	}
	return nil
}

// InsertSaleItems writes the cart lines.
func (r *txRepo) InsertSaleItems(ctx context.Context, items []SaleItem) error {
	for _, it := range items {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO sale_items
				(id, sale_id, product_id, product_name, quantity, unit_price,
				 tax_rate, tax_amount, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, it.SaleID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice,
			it.TaxRate, it.TaxAmount, it.TotalPrice)
		if err != nil {
			return fmt.Errorf("sales: insert item: %w", err)
		}
	}
	return nil
}

// InsertPayment writes one collected payment.
func (r *txRepo) InsertPayment(ctx context.Context, p PaymentDetail) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO sale_payment_details (id, sale_id, payment_method, amount, paid_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.SaleID, p.Method, p.Amount, p.PaidAt, p.CreatedBy)
	if err != nil {
		return fmt.Errorf("sales: insert payment: %w", err)
	}
	return nil
}

// UpdateSale writes the mutable fields of the sale header.
func (r *txRepo) UpdateSale(ctx context.Context, s Sale, stamp shared.AuditStamp) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales
		SET status = $2, payment_status = $3, paid_amount = $4,
		    pending_amount = $5, refund_amount = $6, notes = NULLIF($7, ''),
		    updated_by = COALESCE($8, updated_by), updated_at = COALESCE($9, updated_at)
		WHERE id = $1`,
		s.ID, s.Status, s.PaymentStatus, s.PaidAmount, s.PendingAmount,
		s.RefundAmount, s.Notes, stamp.UpdatedBy, stamp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sales: update sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RefundedQuantities sums already refunded units per sale item.
func (r *txRepo) RefundedQuantities(ctx context.Context, saleID string) (map[string]int, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT ri.sale_item_id, SUM(ri.quantity)
		FROM refund_items ri
		JOIN refunds rf ON rf.id = ri.refund_id
		WHERE rf.sale_id = $1
		GROUP BY ri.sale_item_id`, saleID)
	if err != nil {
		return nil, fmt.Errorf("sales: refunded quantities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		out[itemID] = qty
	}
	return out, rows.Err()
}

// InsertRefund writes the refund header and its lines.
func (r *txRepo) InsertRefund(ctx context.Context, refund Refund) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO refunds (id, sale_id, refund_type, reason, total, created_by, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
		refund.ID, refund.SaleID, refund.Type, refund.Reason, refund.Total, refund.CreatedBy, refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("sales: insert refund: %w", err)
	}
	for _, it := range refund.Items {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO refund_items (id, refund_id, sale_item_id, product_id, quantity, amount)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, it.RefundID, it.SaleItemID, it.ProductID, it.Quantity, it.Amount)
		if err != nil {
			return fmt.Errorf("sales: insert refund item: %w", err)
		}
	}
	return nil
}

// DeleteRefund removes a refund whose ledger write failed. Only the
// compensation path calls this; refunds are otherwise immutable.
func (r *txRepo) DeleteRefund(ctx context.Context, refundID string) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM refund_items WHERE refund_id = $1`, refundID); err != nil {
		return fmt.Errorf("sales: delete refund items: %w", err)
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM refunds WHERE id = $1`, refundID); err != nil {
		return fmt.Errorf("sales: delete refund: %w", err)
	}
	return nil
}
