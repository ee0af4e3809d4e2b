package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigor-gym/vigor/internal/shared"
)

// Repository persists products and the movement ledger in PostgreSQL.
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
		return fmt.Errorf("inventory: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Products without an explicit tax rate fall back to the 16% IVA default.
const productColumns = `id, name, sku, COALESCE(category, ''), price, cost,
	COALESCE(tax_rate, 0.16), current_stock, reserved_stock, min_stock,
	active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.Name, &p.SKU, &p.Category, &p.Price, &p.Cost,
		&p.TaxRate, &p.CurrentStock, &p.ReservedStock, &p.MinStock, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("inventory: scan product: %w", err)
	}
	return p, nil
}

// GetProduct returns one product.
func (r *Repository) GetProduct(ctx context.Context, id string) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// ListProducts lists the catalogue ordered by name.
func (r *Repository) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("inventory: list products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

// ListLowStock lists active products at or below their minimum level.
func (r *Repository) ListLowStock(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+`
		FROM products
		WHERE active AND current_stock <= min_stock
		ORDER BY current_stock - min_stock, name`)
	if err != nil {
		return nil, fmt.Errorf("inventory: list low stock: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListMovements lists ledger rows matching the filter, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	query := `SELECT m.id, m.product_id, COALESCE(p.name, ''), m.movement_type,
		m.quantity, m.previous_stock, m.new_stock, m.unit_cost,
		COALESCE(m.reference_type, ''), COALESCE(m.reference_id, ''),
		COALESCE(m.notes, ''), m.created_by, m.created_at
		FROM inventory_movements m
		LEFT JOIN products p ON p.id = m.product_id
		WHERE 1=1`
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}
	if filter.ProductID != "" {
		add(" AND m.product_id = $%d", filter.ProductID)
	}
	if filter.Type != "" {
		add(" AND m.movement_type = $%d", filter.Type)
	}
	if filter.ReferenceID != "" {
		add(" AND m.reference_id = $%d", filter.ReferenceID)
	}
	if filter.From != "" {
		add(" AND m.created_at >= $%d::date", filter.From)
	}
	if filter.To != "" {
		add(" AND m.created_at < ($%d::date + INTERVAL '1 day')", filter.To)
	}
	add(" ORDER BY m.created_at DESC, m.id DESC LIMIT $%d", filter.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inventory: list movements: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(
			&m.ID, &m.ProductID, &m.ProductName, &m.Type,
			&m.Quantity, &m.PreviousStock, &m.NewStock, &m.UnitCost,
			&m.ReferenceType, &m.ReferenceID,
			&m.Notes, &m.CreatedBy, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("inventory: scan movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetProductForUpdate loads one product under FOR UPDATE.
func (r *txRepo) GetProductForUpdate(ctx context.Context, id string) (Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return scanProduct(row)
}

// UpdateStock writes both stock counters and the updater stamp.
func (r *txRepo) UpdateStock(ctx context.Context, productID string, current, reserved int, stamp shared.AuditStamp) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE products
		SET current_stock = $2, reserved_stock = $3,
		    updated_by = COALESCE($4, updated_by), updated_at = COALESCE($5, updated_at)
		WHERE id = $1`,
		productID, current, reserved, stamp.UpdatedBy, stamp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inventory: update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// InsertMovement appends one immutable ledger row.
func (r *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO inventory_movements
			(id, product_id, movement_type, quantity, previous_stock, new_stock,
			 unit_cost, reference_type, reference_id, notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)`,
		m.ID, m.ProductID, m.Type, m.Quantity, m.PreviousStock, m.NewStock,
		m.UnitCost, m.ReferenceType, m.ReferenceID, m.Notes, m.CreatedBy, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inventory: insert movement: %w", err)
	}
	return nil
}
