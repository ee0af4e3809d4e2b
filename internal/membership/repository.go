package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigor-gym/vigor/internal/shared"
)

// Repository persists memberships in PostgreSQL.
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
		return fmt.Errorf("membership: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const membershipColumns = `
	m.id, m.customer_id, m.plan_id,
	COALESCE(c.full_name, ''), COALESCE(p.name, ''),
	m.status, m.start_date, m.end_date, m.freeze_date, m.unfreeze_date,
	m.total_frozen_days, m.amount_paid, m.subtotal, m.inscription_amount,
	m.discount_amount, m.commission_rate, m.commission_amount,
	m.payment_method, COALESCE(m.notes, ''), m.created_at, m.updated_at, m.updated_by`

const membershipFrom = `
	FROM memberships m
	LEFT JOIN customers c ON c.id = m.customer_id
	LEFT JOIN plans p ON p.id = m.plan_id`

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	err := row.Scan(
		&m.ID, &m.CustomerID, &m.PlanID,
		&m.CustomerName, &m.PlanName,
		&m.Status, &m.StartDate, &m.EndDate, &m.FreezeDate, &m.UnfreezeDate,
		&m.TotalFrozenDays, &m.AmountPaid, &m.Subtotal, &m.InscriptionAmount,
		&m.DiscountAmount, &m.CommissionRate, &m.CommissionAmount,
		&m.PaymentMethod, &m.Notes, &m.CreatedAt, &m.UpdatedAt, &m.UpdatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Membership{}, ErrNotFound
	}
	if err != nil {
		return Membership{}, fmt.Errorf("membership: scan: %w", err)
	}
	return m, nil
}

// Get returns one membership with customer and plan names resolved.
func (r *Repository) Get(ctx context.Context, id string) (Membership, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+membershipColumns+membershipFrom+` WHERE m.id = $1`, id)
	return scanMembership(row)
}

// ListByIDs returns the memberships matching the given ids. Unknown ids
// are skipped, not errored.
func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]Membership, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT`+membershipColumns+membershipFrom+` WHERE m.id = ANY($1) ORDER BY m.created_at`, ids)
	if err != nil {
		return nil, fmt.Errorf("membership: list by ids: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListByStatus returns a page of memberships in the given status plus
// the total count for that status.
func (r *Repository) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Membership, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memberships WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("membership: count by status: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT`+membershipColumns+membershipFrom+`
		WHERE m.status = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("membership: list by status: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// ExpireOverdue flips active memberships whose end date has passed to
// expired and returns the affected ids.
func (r *Repository) ExpireOverdue(ctx context.Context, before string, stamp shared.AuditStamp) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE memberships
		SET status = 'expired', updated_by = $2, updated_at = COALESCE($3, NOW())
		WHERE status = 'active' AND end_date IS NOT NULL AND end_date < $1
		RETURNING id`, before, stamp.UpdatedBy, stamp.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("membership: expire overdue: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("membership: expire overdue scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetForUpdate loads one membership under FOR UPDATE so concurrent
// freeze/unfreeze of the same row serialize. Joined names are not
// needed inside the transaction and are left empty.
func (r *txRepo) GetForUpdate(ctx context.Context, id string) (Membership, error) {
	row := r.tx.QueryRow(ctx, `
		SELECT id, customer_id, plan_id, status, start_date, end_date,
		       freeze_date, unfreeze_date, total_frozen_days, amount_paid,
		       subtotal, inscription_amount, discount_amount, commission_rate,
		       commission_amount, payment_method, COALESCE(notes, ''),
		       created_at, updated_at, updated_by
		FROM memberships WHERE id = $1 FOR UPDATE`, id)

	var m Membership
	err := row.Scan(
		&m.ID, &m.CustomerID, &m.PlanID, &m.Status, &m.StartDate, &m.EndDate,
		&m.FreezeDate, &m.UnfreezeDate, &m.TotalFrozenDays, &m.AmountPaid,
		&m.Subtotal, &m.InscriptionAmount, &m.DiscountAmount, &m.CommissionRate,
		&m.CommissionAmount, &m.PaymentMethod, &m.Notes,
		&m.CreatedAt, &m.UpdatedAt, &m.UpdatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Membership{}, ErrNotFound
	}
	if err != nil {
		return Membership{}, fmt.Errorf("membership: get for update: %w", err)
	}
	return m, nil
}

// Update writes the mutable fields of one membership.
func (r *txRepo) Update(ctx context.Context, m Membership, stamp shared.AuditStamp) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE memberships
		SET status = $2, end_date = $3, freeze_date = $4, unfreeze_date = $5,
		    total_frozen_days = $6, notes = $7,
		    updated_by = COALESCE($8, updated_by), updated_at = COALESCE($9, updated_at)
		WHERE id = $1`,
		m.ID, m.Status, m.EndDate, m.FreezeDate, m.UnfreezeDate,
		m.TotalFrozenDays, m.Notes, stamp.UpdatedBy, stamp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("membership: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
