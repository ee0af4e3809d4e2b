package membership

import (
	"fmt"
	"time"

	"github.com/vigor-gym/vigor/internal/shared"
)

// Status enumerates membership lifecycle states.
type Status string

const (
	StatusActive    Status = "active"
	StatusFrozen    Status = "frozen"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Membership is one customer's subscription instance. Civil dates are
// stored as YYYY-MM-DD strings in the business timezone; EndDate is nil
// for open-ended plans. Rows are never deleted, status moves to
// cancelled/expired instead.
type Membership struct {
	ID                string     `json:"id" db:"id"`
	CustomerID        string     `json:"customer_id" db:"customer_id"`
	PlanID            string     `json:"plan_id" db:"plan_id"`
	CustomerName      string     `json:"customer_name,omitempty" db:"customer_name"`
	PlanName          string     `json:"plan_name,omitempty" db:"plan_name"`
	Status            Status     `json:"status" db:"status"`
	StartDate         string     `json:"start_date" db:"start_date"`
	EndDate           *string    `json:"end_date,omitempty" db:"end_date"`
	FreezeDate        *string    `json:"freeze_date,omitempty" db:"freeze_date"`
	UnfreezeDate      *string    `json:"unfreeze_date,omitempty" db:"unfreeze_date"`
	TotalFrozenDays   int        `json:"total_frozen_days" db:"total_frozen_days"`
	AmountPaid        float64    `json:"amount_paid" db:"amount_paid"`
	Subtotal          float64    `json:"subtotal" db:"subtotal"`
	InscriptionAmount float64    `json:"inscription_amount" db:"inscription_amount"`
	DiscountAmount    float64    `json:"discount_amount" db:"discount_amount"`
	CommissionRate    float64    `json:"commission_rate" db:"commission_rate"`
	CommissionAmount  float64    `json:"commission_amount" db:"commission_amount"`
	PaymentMethod     string     `json:"payment_method" db:"payment_method"`
	Notes             string     `json:"notes" db:"notes"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	UpdatedBy         *string    `json:"updated_by,omitempty" db:"updated_by"`
}

// Mode distinguishes how a freeze or unfreeze was triggered. Manual
// operations carry an explicit day count (freeze) or apply no credit
// (unfreeze); automatic ones defer the credit to reactivation time.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

var (
	// ErrNotFound indicates the membership does not exist.
	ErrNotFound = fmt.Errorf("membership: %w", shared.ErrNotFound)
	// ErrNotActive rejects freezing a membership that is not active.
	ErrNotActive = fmt.Errorf("only active memberships can be frozen: %w", shared.ErrPrecondition)
	// ErrNotFrozen rejects unfreezing a membership that is not frozen.
	ErrNotFrozen = fmt.Errorf("only frozen memberships can be reactivated: %w", shared.ErrPrecondition)
	// ErrNoFreezeDate rejects an automatic unfreeze when no freeze date was recorded.
	ErrNoFreezeDate = fmt.Errorf("no freeze date recorded: %w", shared.ErrPrecondition)
	// ErrInvalidFreezeDays rejects a manual freeze with a non-positive day count.
	ErrInvalidFreezeDays = fmt.Errorf("freeze days must be positive: %w", shared.ErrPrecondition)
)

// CanFreeze reports whether the membership satisfies the freeze
// precondition, with a reason when it does not.
func (m Membership) CanFreeze() (bool, error) {
	if m.Status != StatusActive {
		return false, ErrNotActive
	}
	return true, nil
}

// CanUnfreeze reports whether the membership satisfies the unfreeze
// precondition for the given mode.
func (m Membership) CanUnfreeze(mode Mode) (bool, error) {
	if m.Status != StatusFrozen {
		return false, ErrNotFrozen
	}
	if mode == ModeAuto && m.FreezeDate == nil {
		return false, ErrNoFreezeDate
	}
	return true, nil
}
