package sales

import (
	"fmt"
	"time"

	"github.com/vigor-gym/vigor/internal/shared"
)

// SaleType distinguishes a counter sale from a layaway. Like the
// inventory ledger, persisted enum values keep the historical Spanish
// vocabulary.
type SaleType string

const (
	SaleDirect  SaleType = "directa"
	SaleLayaway SaleType = "apartado"
)

// Status is the sale lifecycle state.
type Status string

const (
	StatusCompleted Status = "completada"
	StatusPending   Status = "pendiente"
	StatusCancelled Status = "cancelada"
	StatusExpired   Status = "vencida"
	// StatusRefunded marks a sale whose every sold unit came back. A
	// partially refunded sale stays completed.
	StatusRefunded Status = "reembolsada"
)

// PaymentStatus summarises how much of the total has been collected.
type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "pagado"
	PaymentPartial  PaymentStatus = "parcial"
	PaymentPending  PaymentStatus = "pendiente"
	PaymentRefunded PaymentStatus = "reembolsado"
)

// RefundType records whether a refund returned the whole sale or part
// of it.
type RefundType string

const (
	RefundFull    RefundType = "total"
	RefundPartial RefundType = "parcial"
)

// Sale is one checkout, direct or layaway. Money fields are derived at
// creation and only PaidAmount/PendingAmount move afterwards.
type Sale struct {
	ID             string          `json:"id" db:"id"`
	SaleNumber     string          `json:"sale_number" db:"sale_number"`
	CustomerID     *string         `json:"customer_id,omitempty" db:"customer_id"`
	CustomerName   string          `json:"customer_name,omitempty" db:"customer_name"`
	Type           SaleType        `json:"sale_type" db:"sale_type"`
	Status         Status          `json:"status" db:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status" db:"payment_status"`
	Subtotal       float64         `json:"subtotal" db:"subtotal"`
	TaxAmount      float64         `json:"tax_amount" db:"tax_amount"`
	DiscountAmount float64         `json:"discount_amount" db:"discount_amount"`
	Total          float64         `json:"total" db:"total"`
	PaidAmount     float64         `json:"paid_amount" db:"paid_amount"`
	PendingAmount  float64         `json:"pending_amount" db:"pending_amount"`
	RefundAmount   float64         `json:"refund_amount" db:"refund_amount"`
	// ExpiresAt is the layaway pickup deadline as a civil date; nil for
	// direct sales.
	ExpiresAt *string         `json:"expires_at,omitempty" db:"expires_at"`
	Notes     string          `json:"notes,omitempty" db:"notes"`
	Items     []SaleItem      `json:"items,omitempty"`
	Payments  []PaymentDetail `json:"payments,omitempty"`
	CreatedBy string          `json:"created_by" db:"created_by"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
	UpdatedBy *string         `json:"updated_by,omitempty" db:"updated_by"`
}

// SaleItem is one line of a sale. Immutable after insert.
type SaleItem struct {
	ID          string  `json:"id" db:"id"`
	SaleID      string  `json:"sale_id" db:"sale_id"`
	ProductID   string  `json:"product_id" db:"product_id"`
	ProductName string  `json:"product_name" db:"product_name"`
	Quantity    int     `json:"quantity" db:"quantity"`
	UnitPrice   float64 `json:"unit_price" db:"unit_price"`
	TaxRate     float64 `json:"tax_rate" db:"tax_rate"`
	TaxAmount   float64 `json:"tax_amount" db:"tax_amount"`
	TotalPrice  float64 `json:"total_price" db:"total_price"`
}

// PaymentDetail is one collected payment against a sale.
type PaymentDetail struct {
	ID        string    `json:"id" db:"id"`
	SaleID    string    `json:"sale_id" db:"sale_id"`
	Method    string    `json:"payment_method" db:"payment_method"`
	Amount    float64   `json:"amount" db:"amount"`
	PaidAt    time.Time `json:"paid_at" db:"paid_at"`
	CreatedBy string    `json:"created_by" db:"created_by"`
}

// Refund reverses part or all of a completed sale.
type Refund struct {
	ID        string       `json:"id" db:"id"`
	SaleID    string       `json:"sale_id" db:"sale_id"`
	Type      RefundType   `json:"refund_type" db:"refund_type"`
	Reason    string       `json:"reason" db:"reason"`
	Total     float64      `json:"total" db:"total"`
	Items     []RefundItem `json:"items"`
	CreatedBy string       `json:"created_by" db:"created_by"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// RefundItem is one returned line.
type RefundItem struct {
	ID         string  `json:"id" db:"id"`
	RefundID   string  `json:"refund_id" db:"refund_id"`
	SaleItemID string  `json:"sale_item_id" db:"sale_item_id"`
	ProductID  string  `json:"product_id" db:"product_id"`
	Quantity   int     `json:"quantity" db:"quantity"`
	Amount     float64 `json:"amount" db:"amount"`
}

var (
	// ErrNotFound indicates the sale does not exist.
	ErrNotFound = fmt.Errorf("sales: sale %w", shared.ErrNotFound)
	// ErrNotLayaway rejects a layaway operation against a direct sale.
	ErrNotLayaway = fmt.Errorf("sales: not a layaway sale: %w", shared.ErrPrecondition)
	// ErrNotPending rejects mutating a sale that already left the pending state.
	ErrNotPending = fmt.Errorf("sales: sale is not pending: %w", shared.ErrPrecondition)
	// ErrNotCompleted rejects refunding a sale that was never completed.
	ErrNotCompleted = fmt.Errorf("sales: sale is not completed: %w", shared.ErrPrecondition)
	// ErrPendingBalance rejects completing a layaway that still owes money.
	ErrPendingBalance = fmt.Errorf("sales: outstanding balance must be paid first: %w", shared.ErrPrecondition)
	// ErrInvalidAmount rejects a non-positive payment amount.
	ErrInvalidAmount = fmt.Errorf("sales: amount must be positive: %w", shared.ErrPrecondition)
	// ErrOverpayment rejects a payment larger than the outstanding balance.
	ErrOverpayment = fmt.Errorf("sales: payment exceeds pending amount: %w", shared.ErrPrecondition)
	// ErrInvalidDeposit rejects a layaway deposit outside (0, total].
	ErrInvalidDeposit = fmt.Errorf("sales: invalid deposit amount: %w", shared.ErrPrecondition)
	// ErrRefundExceedsSold rejects returning more units than were sold.
	ErrRefundExceedsSold = fmt.Errorf("sales: refund exceeds sold quantity: %w", shared.ErrPrecondition)
	// ErrNoItems rejects a sale with an empty cart.
	ErrNoItems = fmt.Errorf("sales: at least one item is required: %w", shared.ErrPrecondition)
)

// paymentStatusFor derives the payment state from the amounts.
func paymentStatusFor(paid, total float64) PaymentStatus {
	switch {
	case paid >= total:
		return PaymentPaid
	case paid > 0:
		return PaymentPartial
	default:
		return PaymentPending
	}
}
