package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/vigor-gym/vigor/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]Product, error)
	ListLowStock(ctx context.Context) ([]Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// TxRepository exposes transactional operations used by the service.
// Every movement posts against a row lock on its product.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id string) (Product, error)
	UpdateStock(ctx context.Context, productID string, current, reserved int, stamp shared.AuditStamp) error
	InsertMovement(ctx context.Context, m Movement) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MovementFilter narrows a ledger listing.
type MovementFilter struct {
	ProductID   string
	Type        MovementType
	ReferenceID string
	From        string
	To          string
	Limit       int
}

// ItemRequest asks for a quantity of one product.
type ItemRequest struct {
	ProductID string
	Quantity  int
	UnitCost  float64
}

// StockShortage describes one product a request could not be covered by.
type StockShortage struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

// StockValidationError aggregates every shortage found in a request so
// the caller can report all of them at once instead of one per retry.
type StockValidationError struct {
	Shortages []StockShortage
}

func (e *StockValidationError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", s.ProductName, s.Requested, s.Available))
	}
	return "inventory: insufficient stock: " + strings.Join(parts, "; ")
}

func (e *StockValidationError) Unwrap() error { return ErrInsufficientStock }

// Service posts movements to the inventory ledger and keeps the product
// counters in step with it.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cal    *shared.Calendar
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cal *shared.Calendar, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cal: cal, logger: logger}
}

// MovementInput describes one generic movement request.
type MovementInput struct {
	ProductID     string
	Type          MovementType
	Quantity      int
	UnitCost      float64
	ReferenceType string
	ReferenceID   string
	Notes         string
}

// RecordMovement posts a single movement of any type. Quantity is the
// magnitude; the type determines the sign.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Movement, error) {
	if _, err := DirectionOf(input.Type); err != nil {
		return Movement{}, err
	}
	if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	var posted Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		posted, err = s.postMovement(ctx, tx, input)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, "inventory:"+string(input.Type), input.ProductID, map[string]any{
		"quantity":  input.Quantity,
		"reference": input.ReferenceID,
	})
	return posted, nil
}

// postMovement applies one movement inside an open transaction. Callers
// hold the transaction so composite operations stay atomic.
func (s *Service) postMovement(ctx context.Context, tx TxRepository, input MovementInput) (Movement, error) {
	dir, err := DirectionOf(input.Type)
	if err != nil {
		return Movement{}, err
	}
	if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}

	p, err := tx.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return Movement{}, err
	}

	m := Movement{
		ID:            uuid.NewString(),
		ProductID:     p.ID,
		ProductName:   p.Name,
		Type:          input.Type,
		UnitCost:      input.UnitCost,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Notes:         input.Notes,
		CreatedAt:     s.cal.Now(),
	}

	current, reserved := p.CurrentStock, p.ReservedStock
	switch dir {
	case DirectionIn:
		m.PreviousStock = current
		current += input.Quantity
		m.Quantity = input.Quantity
		m.NewStock = current
	case DirectionOut:
		m.PreviousStock = current
		next := current - input.Quantity
		if next < 0 {
			// Ledger rows never drive a counter negative; the delta
			// actually applied is what gets recorded.
			next = 0
		}
		m.Quantity = next - current
		m.NewStock = next
		current = next
	case DirectionReserve:
		available := current - reserved
		m.PreviousStock = available
		if input.Type == MovementLayawayReserve {
			if input.Quantity > available {
				return Movement{}, &StockValidationError{Shortages: []StockShortage{{
					ProductID:   p.ID,
					ProductName: p.Name,
					Requested:   input.Quantity,
					Available:   available,
				}}}
			}
			reserved += input.Quantity
			m.Quantity = -input.Quantity
		} else {
			if input.Quantity > reserved {
				return Movement{}, ErrInsufficientReservation
			}
			reserved -= input.Quantity
			m.Quantity = input.Quantity
		}
		m.NewStock = available + m.Quantity
	}

	now := s.cal.Now()
	m.CreatedBy = shared.ActorFromContext(ctx)
	stamp := shared.StampFor(ctx, "products", true, now)
	if err := tx.UpdateStock(ctx, p.ID, current, reserved, stamp); err != nil {
		return Movement{}, err
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return Movement{}, err
	}
	return m, nil
}

// ValidateAvailability checks every requested item against available
// stock and reports all shortages together.
func (s *Service) ValidateAvailability(ctx context.Context, items []ItemRequest) error {
	var shortages []StockShortage
	for _, item := range items {
		p, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if avail := p.Available(); item.Quantity > avail {
			shortages = append(shortages, StockShortage{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   item.Quantity,
				Available:   avail,
			})
		}
	}
	if len(shortages) > 0 {
		return &StockValidationError{Shortages: shortages}
	}
	return nil
}

// ProcessSale posts one direct-sale movement per item. All items commit
// or none do.
func (s *Service) ProcessSale(ctx context.Context, saleID string, items []ItemRequest) ([]Movement, error) {
	return s.postPerItem(ctx, items, func(item ItemRequest) []MovementInput {
		return []MovementInput{{
			ProductID:     item.ProductID,
			Type:          MovementDirectSale,
			Quantity:      item.Quantity,
			UnitCost:      item.UnitCost,
			ReferenceType: "sale",
			ReferenceID:   saleID,
		}}
	})
}

// ReserveLayaway holds stock for a layaway sale without shipping it.
func (s *Service) ReserveLayaway(ctx context.Context, saleID string, items []ItemRequest) ([]Movement, error) {
	return s.postPerItem(ctx, items, func(item ItemRequest) []MovementInput {
		return []MovementInput{{
			ProductID:     item.ProductID,
			Type:          MovementLayawayReserve,
			Quantity:      item.Quantity,
			UnitCost:      item.UnitCost,
			ReferenceType: "sale",
			ReferenceID:   saleID,
		}}
	})
}

// CompleteLayaway converts a reservation into a shipped sale. Each item
// produces two ledger rows, the reservation release and the sale, so
// the trail shows both halves of the handover.
func (s *Service) CompleteLayaway(ctx context.Context, saleID string, items []ItemRequest) ([]Movement, error) {
	return s.postPerItem(ctx, items, func(item ItemRequest) []MovementInput {
		return []MovementInput{
			{
				ProductID:     item.ProductID,
				Type:          MovementLayawayRelease,
				Quantity:      item.Quantity,
				ReferenceType: "sale",
				ReferenceID:   saleID,
			},
			{
				ProductID:     item.ProductID,
				Type:          MovementLayawaySale,
				Quantity:      item.Quantity,
				UnitCost:      item.UnitCost,
				ReferenceType: "sale",
				ReferenceID:   saleID,
			},
		}
	})
}

// CancelLayaway releases the reservation of a cancelled layaway.
func (s *Service) CancelLayaway(ctx context.Context, saleID string, items []ItemRequest) ([]Movement, error) {
	return s.postPerItem(ctx, items, func(item ItemRequest) []MovementInput {
		return []MovementInput{{
			ProductID:     item.ProductID,
			Type:          MovementLayawayRelease,
			Quantity:      item.Quantity,
			ReferenceType: "sale",
			ReferenceID:   saleID,
		}}
	})
}

// ProcessRefund returns refunded units to stock.
func (s *Service) ProcessRefund(ctx context.Context, refundID string, items []ItemRequest) ([]Movement, error) {
	return s.postPerItem(ctx, items, func(item ItemRequest) []MovementInput {
		return []MovementInput{{
			ProductID:     item.ProductID,
			Type:          MovementRefund,
			Quantity:      item.Quantity,
			UnitCost:      item.UnitCost,
			ReferenceType: "refund",
			ReferenceID:   refundID,
		}}
	})
}

// ReceivePurchase books received purchase-order units into stock.
func (s *Service) ReceivePurchase(ctx context.Context, purchaseID string, items []ItemRequest) ([]Movement, error) {
	return s.postPerItem(ctx, items, func(item ItemRequest) []MovementInput {
		return []MovementInput{{
			ProductID:     item.ProductID,
			Type:          MovementPurchaseReceipt,
			Quantity:      item.Quantity,
			UnitCost:      item.UnitCost,
			ReferenceType: "purchase",
			ReferenceID:   purchaseID,
		}}
	})
}

// AdjustStock posts a signed manual correction.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int, notes string) (Movement, error) {
	if delta == 0 {
		return Movement{}, ErrInvalidQuantity
	}
	typ := MovementAdjustmentUp
	qty := delta
	if delta < 0 {
		typ = MovementAdjustmentDown
		qty = -delta
	}
	return s.RecordMovement(ctx, MovementInput{
		ProductID: productID,
		Type:      typ,
		Quantity:  qty,
		Notes:     notes,
	})
}

// RecordShrinkage books lost or damaged units out of stock.
func (s *Service) RecordShrinkage(ctx context.Context, productID string, quantity int, notes string) (Movement, error) {
	return s.RecordMovement(ctx, MovementInput{
		ProductID: productID,
		Type:      MovementShrinkage,
		Quantity:  quantity,
		Notes:     notes,
	})
}

// SetInitialStock seeds a product's opening balance. The ledger row
// carries the delta from whatever was recorded before.
func (s *Service) SetInitialStock(ctx context.Context, productID string, quantity int, notes string) (Movement, error) {
	if quantity < 0 {
		return Movement{}, ErrInvalidQuantity
	}
	var posted Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		delta := quantity - p.CurrentStock
		if delta == 0 {
			return fmt.Errorf("stock already at %d: %w", quantity, shared.ErrPrecondition)
		}
		m := Movement{
			ID:            uuid.NewString(),
			ProductID:     p.ID,
			ProductName:   p.Name,
			Type:          MovementInitialStock,
			Quantity:      delta,
			PreviousStock: p.CurrentStock,
			NewStock:      quantity,
			Notes:         notes,
			CreatedBy:     shared.ActorFromContext(ctx),
			CreatedAt:     s.cal.Now(),
		}
		stamp := shared.StampFor(ctx, "products", true, s.cal.Now())
		if err := tx.UpdateStock(ctx, p.ID, quantity, p.ReservedStock, stamp); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, m); err != nil {
			return err
		}
		posted = m
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, "inventory:"+string(MovementInitialStock), productID, map[string]any{"quantity": quantity})
	return posted, nil
}

// Transfer moves units between storage locations using OUT + IN rows in
// one transaction. Reserved units never travel.
func (s *Service) Transfer(ctx context.Context, productID string, quantity int, from, to, notes string) (Movement, Movement, error) {
	if quantity <= 0 {
		return Movement{}, Movement{}, ErrInvalidQuantity
	}
	if from == to {
		return Movement{}, Movement{}, fmt.Errorf("source and target location must differ: %w", shared.ErrPrecondition)
	}
	var out, in Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if quantity > p.Available() {
			return &StockValidationError{Shortages: []StockShortage{{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   quantity,
				Available:   p.Available(),
			}}}
		}
		out, err = s.postMovement(ctx, tx, MovementInput{
			ProductID: productID,
			Type:      MovementTransferOut,
			Quantity:  quantity,
			Notes:     fmt.Sprintf("Transfer to %s. %s", to, notes),
		})
		if err != nil {
			return err
		}
		in, err = s.postMovement(ctx, tx, MovementInput{
			ProductID: productID,
			Type:      MovementTransferIn,
			Quantity:  quantity,
			Notes:     fmt.Sprintf("Transfer from %s. %s", from, notes),
		})
		return err
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	s.recordAudit(ctx, "inventory:transfer", productID, map[string]any{
		"quantity": quantity,
		"from":     from,
		"to":       to,
	})
	return out, in, nil
}

// Product returns one product with live counters.
func (s *Service) Product(ctx context.Context, id string) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// Products lists the catalogue.
func (s *Service) Products(ctx context.Context, activeOnly bool) ([]Product, error) {
	return s.repo.ListProducts(ctx, activeOnly)
}

// LowStock lists active products at or below their minimum level.
func (s *Service) LowStock(ctx context.Context) ([]Product, error) {
	return s.repo.ListLowStock(ctx)
}

// Movements lists ledger rows matching the filter, newest first.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// postPerItem posts the expansion of every item inside one transaction.
func (s *Service) postPerItem(ctx context.Context, items []ItemRequest, expand func(ItemRequest) []MovementInput) ([]Movement, error) {
	if len(items) == 0 {
		return nil, errors.New("inventory: no items")
	}
	var posted []Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, item := range items {
			for _, input := range expand(item) {
				m, err := s.postMovement(ctx, tx, input)
				if err != nil {
					return err
				}
				posted = append(posted, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(posted) > 0 {
		first := posted[0]
		s.recordAudit(ctx, "inventory:"+string(first.Type), first.ReferenceID, map[string]any{
			"movements": len(posted),
		})
	}
	return posted, nil
}

func (s *Service) recordAudit(ctx context.Context, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "inventory_movements",
		EntityID: id,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
