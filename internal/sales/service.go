package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/vigor-gym/vigor/internal/inventory"
	"github.com/vigor-gym/vigor/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id string) (Sale, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error)
	ListExpiredLayaways(ctx context.Context, before string) ([]Sale, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetSaleForUpdate(ctx context.Context, id string) (Sale, error)
	CountSalesWithPrefix(ctx context.Context, prefix string) (int, error)
	InsertSale(ctx context.Context, sale Sale, stamp shared.AuditStamp) error
	InsertSaleItems(ctx context.Context, items []SaleItem) error
	InsertPayment(ctx context.Context, payment PaymentDetail) error
	UpdateSale(ctx context.Context, sale Sale, stamp shared.AuditStamp) error
	RefundedQuantities(ctx context.Context, saleID string) (map[string]int, error)
	InsertRefund(ctx context.Context, refund Refund) error
	DeleteRefund(ctx context.Context, refundID string) error
}

// InventoryPort is the slice of the inventory service a sale needs.
// *inventory.Service satisfies it directly.
type InventoryPort interface {
	Product(ctx context.Context, id string) (inventory.Product, error)
	ValidateAvailability(ctx context.Context, items []inventory.ItemRequest) error
	ProcessSale(ctx context.Context, saleID string, items []inventory.ItemRequest) ([]inventory.Movement, error)
	ReserveLayaway(ctx context.Context, saleID string, items []inventory.ItemRequest) ([]inventory.Movement, error)
	CompleteLayaway(ctx context.Context, saleID string, items []inventory.ItemRequest) ([]inventory.Movement, error)
	CancelLayaway(ctx context.Context, saleID string, items []inventory.ItemRequest) ([]inventory.Movement, error)
	ProcessRefund(ctx context.Context, refundID string, items []inventory.ItemRequest) ([]inventory.Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ListFilter narrows a sale listing.
type ListFilter struct {
	Status Status
	Type   SaleType
	Limit  int
	Offset int
}

// Config holds layaway business parameters.
type Config struct {
	// DepositPercent is the default layaway deposit as a fraction of the
	// total, used when the request does not name an amount.
	DepositPercent float64
	// ExpiryDays is how long a layaway stays claimable.
	ExpiryDays int
}

func (c Config) withDefaults() Config {
	if c.DepositPercent <= 0 || c.DepositPercent > 1 {
		c.DepositPercent = 0.5
	}
	if c.ExpiryDays <= 0 {
		c.ExpiryDays = 30
	}
	return c
}

// moneyEpsilon absorbs float drift when comparing currency amounts.
const moneyEpsilon = 0.005

// Service creates sales and keeps the inventory ledger in step with
// them. Sale rows and ledger rows live in different transaction scopes,
// so every create runs as sale-first with a compensating cancellation
// when the ledger write fails.
type Service struct {
	repo   RepositoryPort
	inv    InventoryPort
	audit  AuditPort
	cal    *shared.Calendar
	cfg    Config
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, cal *shared.Calendar, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inv: inv, audit: audit, cal: cal, cfg: cfg.withDefaults(), logger: logger}
}

// SaleItemInput is one requested cart line.
type SaleItemInput struct {
	ProductID string
	Quantity  int
}

// CreateSaleInput describes a new sale of either type.
type CreateSaleInput struct {
	CustomerID     *string
	Items          []SaleItemInput
	DiscountAmount float64
	PaymentMethod  string
	Notes          string
	// DepositAmount applies to layaways only; zero means the configured
	// default percentage.
	DepositAmount float64
}

// CreateDirectSale records a counter sale, collects full payment and
// deducts stock.
func (s *Service) CreateDirectSale(ctx context.Context, input CreateSaleInput) (Sale, error) {
	sale, items, err := s.buildSale(ctx, input, SaleDirect)
	if err != nil {
		return Sale{}, err
	}
	sale.Status = StatusCompleted
	sale.PaidAmount = sale.Total
	sale.PendingAmount = 0
	sale.PaymentStatus = PaymentPaid

	if err := s.persistNewSale(ctx, &sale, input.PaymentMethod, sale.Total); err != nil {
		return Sale{}, err
	}

	if _, err := s.inv.ProcessSale(ctx, sale.ID, items); err != nil {
		s.compensateCancel(ctx, sale.ID, "Stock deduction failed, sale voided.")
		return Sale{}, fmt.Errorf("sales: deduct stock: %w", err)
	}

	s.recordAudit(ctx, "sales:create_direct", sale.ID, map[string]any{
		"sale_number": sale.SaleNumber,
		"total":       sale.Total,
	})
	return s.repo.GetSale(ctx, sale.ID)
}

// CreateLayawaySale records a layaway, collects the deposit and
// reserves stock until pickup or expiry.
func (s *Service) CreateLayawaySale(ctx context.Context, input CreateSaleInput) (Sale, error) {
	sale, items, err := s.buildSale(ctx, input, SaleLayaway)
	if err != nil {
		return Sale{}, err
	}

	deposit := input.DepositAmount
	if deposit == 0 {
		deposit = roundMoney(sale.Total * s.cfg.DepositPercent)
	}
	if deposit < 0 || deposit > sale.Total+moneyEpsilon {
		return Sale{}, ErrInvalidDeposit
	}

	expires, err := s.cal.AddDays(s.cal.Today(), s.cfg.ExpiryDays)
	if err != nil {
		return Sale{}, err
	}
	sale.Status = StatusPending
	sale.PaidAmount = deposit
	sale.PendingAmount = roundMoney(sale.Total - deposit)
	sale.PaymentStatus = paymentStatusFor(deposit, sale.Total)
	sale.ExpiresAt = &expires

	if err := s.persistNewSale(ctx, &sale, input.PaymentMethod, deposit); err != nil {
		return Sale{}, err
	}

	if _, err := s.inv.ReserveLayaway(ctx, sale.ID, items); err != nil {
		s.compensateCancel(ctx, sale.ID, "Stock reservation failed, layaway voided.")
		return Sale{}, fmt.Errorf("sales: reserve stock: %w", err)
	}

	s.recordAudit(ctx, "sales:create_layaway", sale.ID, map[string]any{
		"sale_number": sale.SaleNumber,
		"total":       sale.Total,
		"deposit":     deposit,
		"expires_at":  expires,
	})
	return s.repo.GetSale(ctx, sale.ID)
}

// AddLayawayPayment collects a partial payment against a pending
// layaway.
func (s *Service) AddLayawayPayment(ctx context.Context, saleID string, amount float64, method string) (Sale, error) {
	if amount <= 0 {
		return Sale{}, ErrInvalidAmount
	}
	var updated Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Type != SaleLayaway {
			return ErrNotLayaway
		}
		if sale.Status != StatusPending {
			return ErrNotPending
		}
		if amount > sale.PendingAmount+moneyEpsilon {
			return ErrOverpayment
		}

		sale.PaidAmount = roundMoney(sale.PaidAmount + amount)
		sale.PendingAmount = roundMoney(sale.Total - sale.PaidAmount)
		if sale.PendingAmount < moneyEpsilon {
			sale.PendingAmount = 0
		}
		sale.PaymentStatus = paymentStatusFor(sale.PaidAmount, sale.Total)

		now := s.cal.Now()
		if err := tx.InsertPayment(ctx, PaymentDetail{
			ID:        uuid.NewString(),
			SaleID:    sale.ID,
			Method:    method,
			Amount:    amount,
			PaidAt:    now,
			CreatedBy: shared.ActorFromContext(ctx),
		}); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, sale, shared.StampFor(ctx, "sales", true, now)); err != nil {
			return err
		}
		updated = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, "sales:layaway_payment", saleID, map[string]any{
		"amount":  amount,
		"pending": updated.PendingAmount,
	})
	return updated, nil
}

// CompleteLayaway hands over a fully paid layaway, converting the
// reservation into a sale in the ledger.
func (s *Service) CompleteLayaway(ctx context.Context, saleID string) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Type != SaleLayaway {
			return ErrNotLayaway
		}
		if sale.Status != StatusPending {
			return ErrNotPending
		}
		if sale.PendingAmount > moneyEpsilon {
			return ErrPendingBalance
		}
		sale.Status = StatusCompleted
		return tx.UpdateSale(ctx, sale, shared.StampFor(ctx, "sales", true, s.cal.Now()))
	})
	if err != nil {
		return Sale{}, err
	}

	if _, err := s.inv.CompleteLayaway(ctx, sale.ID, itemRequests(sale.Items)); err != nil {
		s.revertStatus(ctx, sale.ID, StatusPending)
		return Sale{}, fmt.Errorf("sales: hand over stock: %w", err)
	}

	s.recordAudit(ctx, "sales:complete_layaway", sale.ID, map[string]any{"sale_number": sale.SaleNumber})
	return s.repo.GetSale(ctx, sale.ID)
}

// CancelLayaway voids a pending layaway and releases its reservation.
// The collected deposit stays on record; refunds are a separate step.
func (s *Service) CancelLayaway(ctx context.Context, saleID, reason string) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Type != SaleLayaway {
			return ErrNotLayaway
		}
		if sale.Status != StatusPending {
			return ErrNotPending
		}
		sale.Status = StatusCancelled
		if reason != "" {
			sale.Notes = appendNote(sale.Notes, "Cancelled: "+reason)
		}
		return tx.UpdateSale(ctx, sale, shared.StampFor(ctx, "sales", true, s.cal.Now()))
	})
	if err != nil {
		return Sale{}, err
	}

	if _, err := s.inv.CancelLayaway(ctx, sale.ID, itemRequests(sale.Items)); err != nil {
		s.revertStatus(ctx, sale.ID, StatusPending)
		return Sale{}, fmt.Errorf("sales: release reservation: %w", err)
	}

	s.recordAudit(ctx, "sales:cancel_layaway", sale.ID, map[string]any{"reason": reason})
	return s.repo.GetSale(ctx, sale.ID)
}

// RefundItemInput asks to return a quantity of one sold line.
type RefundItemInput struct {
	SaleItemID string
	Quantity   int
}

// ProcessRefund returns sold units to stock, records the refund and
// moves the sale to refunded once every sold unit has come back. A
// partial refund leaves the sale completed so the rest stays
// refundable.
func (s *Service) ProcessRefund(ctx context.Context, saleID string, items []RefundItemInput, reason string) (Refund, error) {
	if len(items) == 0 {
		return Refund{}, ErrNoItems
	}
	var refund Refund
	var prior Sale
	var ledgerItems []inventory.ItemRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusCompleted {
			return ErrNotCompleted
		}
		prior = sale

		soldByID := make(map[string]SaleItem, len(sale.Items))
		for _, it := range sale.Items {
			soldByID[it.ID] = it
		}
		refunded, err := tx.RefundedQuantities(ctx, saleID)
		if err != nil {
			return err
		}

		refund = Refund{
			ID:        uuid.NewString(),
			SaleID:    saleID,
			Reason:    reason,
			CreatedBy: shared.ActorFromContext(ctx),
			CreatedAt: s.cal.Now(),
		}
		ledgerItems = ledgerItems[:0]
		for _, req := range items {
			sold, ok := soldByID[req.SaleItemID]
			if !ok {
				return fmt.Errorf("sales: sale item %s: %w", req.SaleItemID, shared.ErrNotFound)
			}
			if req.Quantity <= 0 {
				return ErrInvalidAmount
			}
			if req.Quantity > sold.Quantity-refunded[sold.ID] {
				return ErrRefundExceedsSold
			}
			amount := roundMoney(sold.UnitPrice * float64(req.Quantity))
			refund.Items = append(refund.Items, RefundItem{
				ID:         uuid.NewString(),
				RefundID:   refund.ID,
				SaleItemID: sold.ID,
				ProductID:  sold.ProductID,
				Quantity:   req.Quantity,
				Amount:     amount,
			})
			refund.Total = roundMoney(refund.Total + amount)
			refunded[sold.ID] += req.Quantity
			ledgerItems = append(ledgerItems, inventory.ItemRequest{
				ProductID: sold.ProductID,
				Quantity:  req.Quantity,
				UnitCost:  sold.UnitPrice,
			})
		}

		refund.Type = RefundPartial
		if allRefunded(sale.Items, refunded) {
			refund.Type = RefundFull
			sale.Status = StatusRefunded
			sale.PaymentStatus = PaymentRefunded
		}
		sale.RefundAmount = roundMoney(sale.RefundAmount + refund.Total)

		if err := tx.InsertRefund(ctx, refund); err != nil {
			return err
		}
		return tx.UpdateSale(ctx, sale, shared.StampFor(ctx, "sales", true, s.cal.Now()))
	})
	if err != nil {
		return Refund{}, err
	}

	if _, err := s.inv.ProcessRefund(ctx, refund.ID, ledgerItems); err != nil {
		s.compensateRefund(ctx, refund.ID, prior)
		return Refund{}, fmt.Errorf("sales: restock refund: %w", err)
	}

	s.recordAudit(ctx, "sales:refund", saleID, map[string]any{
		"refund_id":   refund.ID,
		"refund_type": refund.Type,
		"total":       refund.Total,
	})
	return refund, nil
}

// allRefunded reports whether every sold unit has been returned.
func allRefunded(items []SaleItem, refunded map[string]int) bool {
	for _, it := range items {
		if refunded[it.ID] < it.Quantity {
			return false
		}
	}
	return true
}

// ExpireOverdueLayaways voids pending layaways past their pickup
// deadline and releases their reservations. Run nightly; one bad sale
// never blocks the rest.
func (s *Service) ExpireOverdueLayaways(ctx context.Context) (int, error) {
	today := s.cal.Today()
	overdue, err := s.repo.ListExpiredLayaways(ctx, today)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sale := range overdue {
		if err := s.expireOne(ctx, sale); err != nil {
			s.logger.Warn("expire layaway failed",
				slog.String("sale_id", sale.ID), slog.Any("error", err))
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, sale Sale) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetSaleForUpdate(ctx, sale.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return ErrNotPending
		}
		current.Status = StatusExpired
		return tx.UpdateSale(ctx, current, shared.StampFor(ctx, "sales", true, s.cal.Now()))
	})
	if err != nil {
		return err
	}

	if _, err := s.inv.CancelLayaway(ctx, sale.ID, itemRequests(sale.Items)); err != nil {
		s.revertStatus(ctx, sale.ID, StatusPending)
		return fmt.Errorf("sales: release expired reservation: %w", err)
	}

	s.recordAudit(ctx, "sales:expire_layaway", sale.ID, map[string]any{"sale_number": sale.SaleNumber})
	return nil
}

// Get returns one sale with its items and payments.
func (s *Service) Get(ctx context.Context, id string) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// List returns sales matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.repo.ListSales(ctx, filter)
}

// buildSale validates the cart and prices it from the catalogue.
func (s *Service) buildSale(ctx context.Context, input CreateSaleInput, typ SaleType) (Sale, []inventory.ItemRequest, error) {
	if len(input.Items) == 0 {
		return Sale{}, nil, ErrNoItems
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return Sale{}, nil, ErrInvalidAmount
		}
	}

	requests := make([]inventory.ItemRequest, 0, len(input.Items))
	for _, item := range input.Items {
		requests = append(requests, inventory.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.inv.ValidateAvailability(ctx, requests); err != nil {
		return Sale{}, nil, err
	}

	saleID := uuid.NewString()
	sale := Sale{
		ID:             saleID,
		CustomerID:     input.CustomerID,
		Type:           typ,
		DiscountAmount: input.DiscountAmount,
		Notes:          input.Notes,
		CreatedBy:      shared.ActorFromContext(ctx),
		CreatedAt:      s.cal.Now(),
	}
	for i, item := range input.Items {
		p, err := s.inv.Product(ctx, item.ProductID)
		if err != nil {
			return Sale{}, nil, err
		}
		line := SaleItem{
			ID:          uuid.NewString(),
			SaleID:      saleID,
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			UnitPrice:   p.Price,
			TaxRate:     p.TaxRate,
			TotalPrice:  roundMoney(p.Price * float64(item.Quantity)),
		}
		line.TaxAmount = roundMoney(line.TotalPrice * line.TaxRate)
		sale.Items = append(sale.Items, line)
		sale.Subtotal = roundMoney(sale.Subtotal + line.TotalPrice)
		sale.TaxAmount = roundMoney(sale.TaxAmount + line.TaxAmount)
		requests[i].UnitCost = p.Cost
	}
	if input.DiscountAmount < 0 || input.DiscountAmount > sale.Subtotal {
		return Sale{}, nil, fmt.Errorf("sales: discount exceeds subtotal: %w", shared.ErrPrecondition)
	}
	sale.Total = roundMoney(sale.Subtotal + sale.TaxAmount - input.DiscountAmount)
	return sale, requests, nil
}

// persistNewSale writes the sale, its items, its sale number and the
// opening payment in one transaction.
func (s *Service) persistNewSale(ctx context.Context, sale *Sale, method string, payment float64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		prefix := strings.ReplaceAll(s.cal.Today(), "-", "")
		seq, err := tx.CountSalesWithPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		sale.SaleNumber = fmt.Sprintf("%s%04d", prefix, seq+1)

		now := s.cal.Now()
		if err := tx.InsertSale(ctx, *sale, shared.StampFor(ctx, "sales", false, now)); err != nil {
			return err
		}
		if err := tx.InsertSaleItems(ctx, sale.Items); err != nil {
			return err
		}
		if payment > 0 {
			return tx.InsertPayment(ctx, PaymentDetail{
				ID:        uuid.NewString(),
				SaleID:    sale.ID,
				Method:    method,
				Amount:    payment,
				PaidAt:    now,
				CreatedBy: sale.CreatedBy,
			})
		}
		return nil
	})
}

// compensateCancel voids a sale whose ledger write failed after the
// sale row committed.
func (s *Service) compensateCancel(ctx context.Context, saleID, note string) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		sale.Status = StatusCancelled
		sale.Notes = appendNote(sale.Notes, note)
		return tx.UpdateSale(ctx, sale, shared.StampFor(ctx, "sales", true, s.cal.Now()))
	})
	if err != nil {
		s.logger.Error("compensating cancellation failed",
			slog.String("sale_id", saleID), slog.Any("error", err))
	}
}

func (s *Service) revertStatus(ctx context.Context, saleID string, status Status) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		sale.Status = status
		return tx.UpdateSale(ctx, sale, shared.StampFor(ctx, "sales", true, s.cal.Now()))
	})
	if err != nil {
		s.logger.Error("status revert failed",
			slog.String("sale_id", saleID), slog.Any("error", err))
	}
}

// compensateRefund removes a refund whose ledger write failed and puts
// the sale back the way it was before the refund mutated it.
func (s *Service) compensateRefund(ctx context.Context, refundID string, prior Sale) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteRefund(ctx, refundID); err != nil {
			return err
		}
		sale, err := tx.GetSaleForUpdate(ctx, prior.ID)
		if err != nil {
			return err
		}
		sale.Status = prior.Status
		sale.PaymentStatus = prior.PaymentStatus
		sale.RefundAmount = prior.RefundAmount
		return tx.UpdateSale(ctx, sale, shared.StampFor(ctx, "sales", true, s.cal.Now()))
	})
	if err != nil {
		s.logger.Error("refund compensation failed",
			slog.String("refund_id", refundID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "sales",
		EntityID: id,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func itemRequests(items []SaleItem) []inventory.ItemRequest {
	out := make([]inventory.ItemRequest, 0, len(items))
	for _, it := range items {
		out = append(out, inventory.ItemRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitCost:  it.UnitPrice,
		})
	}
	return out
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func roundMoney(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
